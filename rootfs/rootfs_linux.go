// Package rootfs allocates ram disk backed root directories for containers.
package rootfs

import (
	"errors"
	"fmt"
	"os"
	"strconv"

	"github.com/containerd/errdefs"
	mobymount "github.com/moby/sys/mount"
	"github.com/moby/sys/mountinfo"

	"github.com/criyle/go-rootbox/pkg/mount"
	"github.com/criyle/go-rootbox/runner"
)

// DefaultSize is the ram disk size when none is given
const DefaultSize = 64 << 20

// Provisioner creates tmpfs mount points under BaseDir
type Provisioner struct {
	// BaseDir holds the mount points, default os.TempDir()
	BaseDir string
}

// Provision creates a directory and mounts a tmpfs bounded to size on it.
// The mount belongs to the caller's mount namespace and is reclaimed by
// the OS with that namespace.
func (p *Provisioner) Provision(size runner.Size) (string, error) {
	if size == 0 {
		size = DefaultSize
	}
	base := p.BaseDir
	if base == "" {
		base = os.TempDir()
	}
	if err := os.MkdirAll(base, 0755); err != nil {
		return "", fmt.Errorf("rootfs: failed to create base dir: %w", err)
	}
	dir, err := os.MkdirTemp(base, "rootfs-")
	if err != nil {
		return "", fmt.Errorf("rootfs: failed to create mount point: %w", err)
	}

	data := "size=" + strconv.FormatUint(size.Byte(), 10) + ",mode=0755"
	m := mount.NewBuilder().WithTmpfs(dir, data).Mounts[0]
	if err := m.Mount(); err != nil {
		os.Remove(dir)
		return "", fmt.Errorf("rootfs: failed to mount %v: %w", m, err)
	}

	mounted, err := mountinfo.Mounted(dir)
	if err != nil || !mounted {
		mobymount.Unmount(dir)
		os.Remove(dir)
		if err == nil {
			err = errdefs.ErrInternal.WithMessage("tmpfs not visible in mountinfo")
		}
		return "", fmt.Errorf("rootfs: %s: %w", dir, err)
	}
	return dir, nil
}

// Release unmounts and removes a mount point returned by Provision
func (p *Provisioner) Release(dir string) error {
	if err := mobymount.Unmount(dir); err != nil {
		return fmt.Errorf("rootfs: failed to unmount %s: %w", dir, err)
	}
	if err := os.Remove(dir); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("rootfs: %w", err)
	}
	return nil
}
