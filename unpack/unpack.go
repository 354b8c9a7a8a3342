// Package unpack extracts image archives into a root directory.
package unpack

import (
	"context"
	"fmt"
	"io"
	"os"

	"github.com/containerd/errdefs"
	"github.com/containerd/log"
	"github.com/moby/go-archive"
	"github.com/moby/sys/userns"
)

// Extract unpacks the tar archive at path into dest. gzip, bzip2, xz and
// zstd compressed archives are detected from their magic. Ownership is only
// restored when running as root outside of a user namespace.
func Extract(ctx context.Context, path, dest string) error {
	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return fmt.Errorf("unpack: %w: %w", errdefs.ErrNotFound, err)
		}
		return fmt.Errorf("unpack: %w", err)
	}
	defer f.Close()

	opts := tarOptions(os.Geteuid(), userns.RunningInUserNS())
	log.G(ctx).WithFields(log.Fields{
		"archive":  path,
		"dest":     dest,
		"inuserns": opts.InUserNS,
	}).Debug("extracting archive")

	if err := archive.Untar(&ctxReader{ctx: ctx, r: f}, dest, opts); err != nil {
		if ctx.Err() != nil {
			return fmt.Errorf("unpack: %s: %w", path, ctx.Err())
		}
		return fmt.Errorf("unpack: failed to extract %s: %w", path, err)
	}
	return nil
}

// tarOptions keeps the archived ownership only for real root. In a user
// namespace euid 0 is usually a single mapped id, and chown to any other id
// fails with EINVAL.
func tarOptions(euid int, inUserNS bool) *archive.TarOptions {
	return &archive.TarOptions{
		NoLchown: euid != 0 || inUserNS,
		InUserNS: inUserNS,
	}
}

// ctxReader stops reading once ctx is done
type ctxReader struct {
	ctx context.Context
	r   io.Reader
}

func (c *ctxReader) Read(p []byte) (int, error) {
	if err := c.ctx.Err(); err != nil {
		return 0, err
	}
	return c.r.Read(p)
}
