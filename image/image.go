// Package image resolves image references to local archive files.
//
// A reference is remote when it names a repository with a tag or digest
// (alpine:3.20, docker.io/library/busybox@sha256:...) and is not an existing
// local path. Remote images are fetched as flat tarballs from a static mirror
// laid out as <domain>/<path>/<tag>.tar and cached under the same layout.
package image

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"strings"

	"github.com/containerd/errdefs"
	"github.com/containerd/log"
	"github.com/distribution/reference"
	"github.com/moby/sys/atomicwriter"
	"golang.org/x/sync/singleflight"
)

// IsRemote reports whether ref should be resolved by a Resolver instead of
// being used as a local archive path
func IsRemote(ref string) bool {
	if _, err := os.Stat(ref); err == nil {
		return false
	}
	named, err := reference.ParseNormalizedNamed(ref)
	if err != nil {
		return false
	}
	_, tagged := named.(reference.Tagged)
	_, digested := named.(reference.Digested)
	return tagged || digested
}

// RelPath returns the mirror / cache relative path of a remote reference
func RelPath(ref string) (string, error) {
	named, err := reference.ParseNormalizedNamed(ref)
	if err != nil {
		return "", fmt.Errorf("image: invalid reference %q: %w: %w", ref, errdefs.ErrInvalidArgument, err)
	}
	var name string
	switch r := named.(type) {
	case reference.Digested:
		name = strings.ReplaceAll(r.Digest().String(), ":", "-")
	case reference.Tagged:
		name = r.Tag()
	default:
		return "", fmt.Errorf("image: reference %q has no tag or digest: %w", ref, errdefs.ErrInvalidArgument)
	}
	return filepath.Join(reference.Domain(named), reference.Path(named), name+".tar"), nil
}

// Resolver resolves remote references into cached archives
type Resolver struct {
	// CacheDir stores downloaded archives
	CacheDir string

	// Mirror is the base URL of the tarball mirror, empty disables download
	Mirror string

	// Client is used for download, default http.DefaultClient
	Client *http.Client

	group singleflight.Group
}

// Resolve returns a local archive path of a remote reference.
// Concurrent calls for the same reference share one download.
func (r *Resolver) Resolve(ctx context.Context, ref string) (string, error) {
	rel, err := RelPath(ref)
	if err != nil {
		return "", err
	}
	p := filepath.Join(r.CacheDir, rel)
	if fi, err := os.Stat(p); err == nil && fi.Mode().IsRegular() {
		log.G(ctx).WithField("ref", ref).Debug("image cache hit")
		return p, nil
	}

	ch := r.group.DoChan(rel, func() (any, error) {
		return p, r.download(context.WithoutCancel(ctx), ref, rel, p)
	})
	select {
	case res := <-ch:
		if res.Err != nil {
			return "", res.Err
		}
		return res.Val.(string), nil
	case <-ctx.Done():
		return "", ctx.Err()
	}
}

// Pull downloads ref into the cache even if it is cached
func (r *Resolver) Pull(ctx context.Context, ref string) (string, error) {
	rel, err := RelPath(ref)
	if err != nil {
		return "", err
	}
	p := filepath.Join(r.CacheDir, rel)
	_, err, _ = r.group.Do(rel, func() (any, error) {
		return p, r.download(ctx, ref, rel, p)
	})
	if err != nil {
		return "", err
	}
	return p, nil
}

func (r *Resolver) download(ctx context.Context, ref, rel, dest string) error {
	if r.Mirror == "" {
		return fmt.Errorf("image: %s is not cached and no mirror configured: %w", ref, errdefs.ErrNotFound)
	}
	u, err := url.JoinPath(r.Mirror, filepath.ToSlash(rel))
	if err != nil {
		return fmt.Errorf("image: invalid mirror %q: %w: %w", r.Mirror, errdefs.ErrInvalidArgument, err)
	}
	logger := log.G(ctx).WithFields(log.Fields{"ref": ref, "url": u})
	logger.Info("downloading image")

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return fmt.Errorf("image: %w", err)
	}
	client := r.Client
	if client == nil {
		client = http.DefaultClient
	}
	resp, err := client.Do(req)
	if err != nil {
		return fmt.Errorf("image: failed to download %s: %w: %w", ref, errdefs.ErrUnavailable, err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusNotFound:
		return fmt.Errorf("image: %s not found on mirror: %w", ref, errdefs.ErrNotFound)
	case resp.StatusCode != http.StatusOK:
		return fmt.Errorf("image: failed to download %s: %s: %w", ref, resp.Status, errdefs.ErrUnavailable)
	}

	if err := os.MkdirAll(filepath.Dir(dest), 0755); err != nil {
		return fmt.Errorf("image: %w", err)
	}
	w, err := atomicwriter.New(dest, 0644)
	if err != nil {
		return fmt.Errorf("image: %w", err)
	}
	n, err := io.Copy(w, resp.Body)
	if cerr := w.Close(); err == nil {
		err = cerr
	}
	if err == nil && resp.ContentLength >= 0 && n != resp.ContentLength {
		err = fmt.Errorf("short body %d of %d bytes", n, resp.ContentLength)
	}
	if err != nil {
		// the writer commits on close even if the body failed mid way
		if rerr := os.Remove(dest); rerr != nil && !errors.Is(rerr, os.ErrNotExist) {
			logger.WithError(rerr).Warn("failed to remove partial image")
		}
		return fmt.Errorf("image: failed to download %s: %w", ref, err)
	}
	logger.WithField("size", n).Info("image downloaded")
	return nil
}
