package mount

import (
	"fmt"
	"strings"

	"golang.org/x/sys/unix"
)

const (
	bind   = unix.MS_BIND | unix.MS_NOSUID | unix.MS_PRIVATE
	roBind = bind | unix.MS_RDONLY
	mFlag  = unix.MS_NOSUID | unix.MS_NODEV
)

// Builder collects mounts in order
type Builder struct {
	Mounts []Mount
}

// NewBuilder creates new mount builder instance
func NewBuilder() *Builder {
	return &Builder{}
}

// WithBind adds a bind mount to builder
func (b *Builder) WithBind(source, target string, readonly bool) *Builder {
	var flags uintptr = bind
	if readonly {
		flags = roBind
	}
	b.Mounts = append(b.Mounts, Mount{
		Source: source,
		Target: target,
		Flags:  flags,
	})
	return b
}

// WithTmpfs add a tmpfs mount to builder
func (b *Builder) WithTmpfs(target, data string) *Builder {
	b.Mounts = append(b.Mounts, Mount{
		Source: "tmpfs",
		Target: target,
		FsType: "tmpfs",
		Flags:  mFlag,
		Data:   data,
	})
	return b
}

// WithBindSpec parses "source:target[:ro|rw]" and adds the bind mount
func (b *Builder) WithBindSpec(spec string) error {
	parts := strings.Split(spec, ":")
	readonly := false
	switch len(parts) {
	case 2:
	case 3:
		switch parts[2] {
		case "ro":
			readonly = true
		case "rw":
		default:
			return fmt.Errorf("mount: invalid bind option %q", parts[2])
		}
	default:
		return fmt.Errorf("mount: invalid bind spec %q", spec)
	}
	if parts[0] == "" || parts[1] == "" {
		return fmt.Errorf("mount: invalid bind spec %q", spec)
	}
	b.WithBind(parts[0], parts[1], readonly)
	return nil
}

func (b Builder) String() string {
	var sb strings.Builder
	sb.WriteString("Mounts: ")
	for i, m := range b.Mounts {
		sb.WriteString(m.String())
		if i != len(b.Mounts)-1 {
			sb.WriteString(", ")
		}
	}
	return sb.String()
}
