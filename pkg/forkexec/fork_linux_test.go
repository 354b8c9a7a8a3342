package forkexec

import (
	"errors"
	"os"
	"path/filepath"
	"syscall"
	"testing"

	"gotest.tools/v3/assert"
	is "gotest.tools/v3/assert/cmp"
	"gotest.tools/v3/skip"
)

func wait(t *testing.T, pid int) syscall.WaitStatus {
	t.Helper()
	var ws syscall.WaitStatus
	_, err := syscall.Wait4(pid, &ws, 0, nil)
	for err == syscall.EINTR {
		_, err = syscall.Wait4(pid, &ws, 0, nil)
	}
	assert.NilError(t, err)
	return ws
}

func childError(t *testing.T, err error) ChildError {
	t.Helper()
	var ce ChildError
	assert.Assert(t, errors.As(err, &ce), "expected ChildError, got %v", err)
	return ce
}

func TestFork_OK(t *testing.T) {
	t.Parallel()
	r := Runner{
		Args: []string{"/bin/sh", "-c", "exit 3"},
		Env:  []string{"PATH=/usr/bin:/bin"},
	}
	pid, err := r.Start()
	assert.NilError(t, err)
	ws := wait(t, pid)
	assert.Check(t, ws.Exited())
	assert.Check(t, is.Equal(ws.ExitStatus(), 3))
}

func TestFork_Files(t *testing.T) {
	t.Parallel()
	out, err := os.Create(filepath.Join(t.TempDir(), "out"))
	assert.NilError(t, err)
	defer out.Close()

	r := Runner{
		Args:  []string{"/bin/sh", "-c", "echo hi"},
		Files: []uintptr{^uintptr(0), out.Fd(), out.Fd()},
	}
	pid, err := r.Start()
	assert.NilError(t, err)
	assert.Check(t, is.Equal(wait(t, pid).ExitStatus(), 0))

	b, err := os.ReadFile(out.Name())
	assert.NilError(t, err)
	assert.Check(t, is.Equal(string(b), "hi\n"))
}

func TestFork_WorkDir(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()
	r := Runner{
		Args:    []string{"/bin/sh", "-c", "touch here"},
		WorkDir: dir,
	}
	pid, err := r.Start()
	assert.NilError(t, err)
	assert.Check(t, is.Equal(wait(t, pid).ExitStatus(), 0))
	_, err = os.Stat(filepath.Join(dir, "here"))
	assert.NilError(t, err)
}

func TestFork_ExecveNotExist(t *testing.T) {
	t.Parallel()
	r := Runner{
		Args: []string{"/not/exists"},
	}
	_, err := r.Start()
	ce := childError(t, err)
	assert.Check(t, is.Equal(ce.Location, LocExecve))
	assert.Check(t, is.ErrorIs(err, syscall.ENOENT))
}

func TestFork_ChdirNotExist(t *testing.T) {
	t.Parallel()
	r := Runner{
		Args:    []string{"/bin/true"},
		WorkDir: filepath.Join(t.TempDir(), "missing"),
	}
	_, err := r.Start()
	assert.Check(t, is.Equal(childError(t, err).Location, LocChdir))
}

func TestFork_SetnsBadFd(t *testing.T) {
	t.Parallel()
	r := Runner{
		Args:       []string{"/bin/true"},
		Namespaces: []Namespace{{Fd: 1 << 20, Type: syscall.CLONE_NEWUTS}},
	}
	_, err := r.Start()
	ce := childError(t, err)
	assert.Check(t, is.Equal(ce.Location, LocSetns))
	assert.Check(t, is.Equal(ce.Index, 0))
	assert.Check(t, is.Equal(ce.Err, syscall.EBADF))
}

func TestFork_Chroot(t *testing.T) {
	skip.If(t, os.Geteuid() != 0, "chroot requires root")
	t.Parallel()

	r := Runner{
		Args:   []string{"/bin/true"},
		Chroot: filepath.Join(t.TempDir(), "missing"),
	}
	_, err := r.Start()
	assert.Check(t, is.Equal(childError(t, err).Location, LocChroot))

	// empty root has no /bin/true
	r.Chroot = t.TempDir()
	_, err = r.Start()
	ce := childError(t, err)
	assert.Check(t, is.Equal(ce.Location, LocExecve))
	assert.Check(t, is.Equal(ce.Err, syscall.ENOENT))
}

func TestFork_NoArgs(t *testing.T) {
	r := Runner{}
	_, err := r.Start()
	assert.Check(t, is.ErrorIs(err, syscall.EINVAL))
}

func TestChildError_String(t *testing.T) {
	assert.Check(t, is.Equal(ChildError{Err: syscall.EPERM, Location: LocSetns}.Error(), "setns(0): operation not permitted"))
	assert.Check(t, is.Equal(ChildError{Err: syscall.ENOENT, Location: LocExecve}.Error(), "execve: no such file or directory"))
	assert.Check(t, is.Equal(ErrorLocation(100).String(), "unknown"))
}
