// Package mount describes mount points and performs them on the host side
// (the caller's mount namespace).
package mount

import (
	"fmt"
	"os"
	"path/filepath"
	"syscall"

	securejoin "github.com/cyphar/filepath-securejoin"
)

// Mount defines syscall for mount points
type Mount struct {
	Source, Target, FsType, Data string
	Flags                        uintptr
}

// IsBindMount returns if it is a bind mount
func (m Mount) IsBindMount() bool {
	return m.Flags&syscall.MS_BIND == syscall.MS_BIND
}

// IsReadOnly returns if it is a readonly mount
func (m Mount) IsReadOnly() bool {
	return m.Flags&syscall.MS_RDONLY == syscall.MS_RDONLY
}

// IsTmpFs returns if it is a tmpfs mount
func (m Mount) IsTmpFs() bool {
	return m.FsType == "tmpfs"
}

// Mount calls mount syscall, the target directory is created if not exists.
// A bind mount of a regular file creates an empty file as target.
func (m Mount) Mount() error {
	if err := ensureMountTargetExists(m.Source, m.Target, m.IsBindMount()); err != nil {
		return err
	}
	if err := syscall.Mount(m.Source, m.Target, m.FsType, m.Flags, m.Data); err != nil {
		return fmt.Errorf("mount: %v: %w", m, err)
	}
	// Read-only bind mount need to be remounted
	const bindRo = syscall.MS_BIND | syscall.MS_RDONLY
	if m.Flags&bindRo == bindRo {
		if err := syscall.Mount("", m.Target, m.FsType, m.Flags|syscall.MS_REMOUNT, m.Data); err != nil {
			return fmt.Errorf("mount: remount %v: %w", m, err)
		}
	}
	return nil
}

// MountAt performs the mount with Target resolved under root. Symlinks in
// Target are resolved as if root was the file system root, so the mount never
// lands outside of root.
func (m Mount) MountAt(root string) error {
	target, err := securejoin.SecureJoin(root, m.Target)
	if err != nil {
		return fmt.Errorf("mount: resolve %q under %q: %w", m.Target, root, err)
	}
	m.Target = target
	return m.Mount()
}

func ensureMountTargetExists(source, target string, bind bool) error {
	if bind {
		fi, err := os.Stat(source)
		if err != nil {
			return err
		}
		if !fi.IsDir() {
			if err := os.MkdirAll(filepath.Dir(target), 0755); err != nil {
				return err
			}
			f, err := os.OpenFile(target, os.O_CREATE|os.O_RDONLY, 0644)
			if err != nil {
				return err
			}
			return f.Close()
		}
	}
	return os.MkdirAll(target, 0755)
}

func (m Mount) String() string {
	flag := "rw"
	if m.IsReadOnly() {
		flag = "ro"
	}
	switch {
	case m.IsBindMount():
		return fmt.Sprintf("bind[%s:%s:%s]", m.Source, m.Target, flag)

	case m.IsTmpFs():
		return fmt.Sprintf("tmpfs[%s]", m.Target)

	case m.FsType == "proc":
		return fmt.Sprintf("proc[%s]", flag)

	default:
		return fmt.Sprintf("mount[%s,%s:%s:%x,%s]", m.FsType, m.Source, m.Target, m.Flags, m.Data)
	}
}
