package image

import (
	"context"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/containerd/errdefs"
	"gotest.tools/v3/assert"
	is "gotest.tools/v3/assert/cmp"
	"gotest.tools/v3/fs"
)

func TestIsRemote(t *testing.T) {
	dir := fs.NewDir(t, "image", fs.WithFile("alpine:3.20", "local"))
	defer dir.Remove()

	tests := []struct {
		ref  string
		want bool
	}{
		{"alpine:3.20", true},
		{"docker.io/library/busybox:latest", true},
		{"busybox@sha256:" + sha, true},
		{"alpine-mini.tar", false},
		{"./rootfs.tar.gz", false},
		{"/abs/path.tar", false},
		{"UPPER:tag", false},
		{dir.Join("alpine:3.20"), false},
	}
	for _, tt := range tests {
		assert.Check(t, is.Equal(IsRemote(tt.ref), tt.want), tt.ref)
	}
}

const sha = "7d9c4e0a7a5c4e8e5d0e7b6a3c1f2e9d8c7b6a5f4e3d2c1b0a9f8e7d6c5b4a39"

func TestRelPath(t *testing.T) {
	p, err := RelPath("alpine:3.20")
	assert.NilError(t, err)
	assert.Check(t, is.Equal(p, "docker.io/library/alpine/3.20.tar"))

	p, err = RelPath("ghcr.io/org/tool:v1")
	assert.NilError(t, err)
	assert.Check(t, is.Equal(p, "ghcr.io/org/tool/v1.tar"))

	p, err = RelPath("busybox@sha256:" + sha)
	assert.NilError(t, err)
	assert.Check(t, is.Equal(p, "docker.io/library/busybox/sha256-"+sha+".tar"))

	_, err = RelPath("busybox")
	assert.Check(t, errdefs.IsInvalidArgument(err))
	_, err = RelPath("Not A Ref")
	assert.Check(t, errdefs.IsInvalidArgument(err))
}

func TestResolve_Cached(t *testing.T) {
	cache := t.TempDir()
	p := filepath.Join(cache, "docker.io/library/alpine/3.20.tar")
	assert.NilError(t, os.MkdirAll(filepath.Dir(p), 0755))
	assert.NilError(t, os.WriteFile(p, []byte("tar"), 0644))

	r := Resolver{CacheDir: cache}
	got, err := r.Resolve(context.Background(), "alpine:3.20")
	assert.NilError(t, err)
	assert.Check(t, is.Equal(got, p))
}

func TestResolve_NoMirror(t *testing.T) {
	r := Resolver{CacheDir: t.TempDir()}
	_, err := r.Resolve(context.Background(), "alpine:3.20")
	assert.Check(t, errdefs.IsNotFound(err))
}

func TestResolve_Download(t *testing.T) {
	var hits atomic.Int32
	release := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		hits.Add(1)
		if req.URL.Path != "/docker.io/library/alpine/3.20.tar" {
			http.NotFound(w, req)
			return
		}
		<-release
		w.Write([]byte("archive"))
	}))
	defer srv.Close()

	r := Resolver{CacheDir: t.TempDir(), Mirror: srv.URL}

	var wg sync.WaitGroup
	paths := make([]string, 4)
	errs := make([]error, 4)
	for i := range paths {
		wg.Add(1)
		go func() {
			defer wg.Done()
			paths[i], errs[i] = r.Resolve(context.Background(), "alpine:3.20")
		}()
	}
	// let the callers pile up on the same download
	for hits.Load() == 0 {
		time.Sleep(time.Millisecond)
	}
	close(release)
	wg.Wait()

	for i := range paths {
		assert.NilError(t, errs[i])
		assert.Check(t, is.Equal(paths[i], filepath.Join(r.CacheDir, "docker.io/library/alpine/3.20.tar")))
	}
	b, err := os.ReadFile(paths[0])
	assert.NilError(t, err)
	assert.Check(t, is.Equal(string(b), "archive"))

	// cached now
	_, err = r.Resolve(context.Background(), "alpine:3.20")
	assert.NilError(t, err)
	assert.Check(t, hits.Load() <= 4)

	_, err = r.Resolve(context.Background(), "alpine:missing")
	assert.Check(t, errdefs.IsNotFound(err))
}

func TestPull_Refresh(t *testing.T) {
	var body atomic.Value
	body.Store("v1")
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		w.Write([]byte(body.Load().(string)))
	}))
	defer srv.Close()

	r := Resolver{CacheDir: t.TempDir(), Mirror: srv.URL}
	p, err := r.Pull(context.Background(), "busybox:1")
	assert.NilError(t, err)

	body.Store("v2")
	_, err = r.Pull(context.Background(), "busybox:1")
	assert.NilError(t, err)
	b, err := os.ReadFile(p)
	assert.NilError(t, err)
	assert.Check(t, is.Equal(string(b), "v2"))
}

func TestResolve_ServerError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	r := Resolver{CacheDir: t.TempDir(), Mirror: srv.URL}
	_, err := r.Resolve(context.Background(), "alpine:3.20")
	assert.Check(t, errdefs.IsUnavailable(err))
	_, err = os.Stat(filepath.Join(r.CacheDir, "docker.io/library/alpine/3.20.tar"))
	assert.Check(t, os.IsNotExist(err))
}
