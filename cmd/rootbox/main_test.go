package main

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"testing"

	"gotest.tools/v3/assert"
	is "gotest.tools/v3/assert/cmp"

	"github.com/criyle/go-rootbox/container"
	"github.com/criyle/go-rootbox/namespace"
)

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	cmd := newRootCommand()
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	// keep the user's config out of the tests
	path := filepath.Join(t.TempDir(), "config.yaml")
	assert.NilError(t, os.WriteFile(path, nil, 0o644))
	cmd.SetArgs(append([]string{"--config", path}, args...))
	err := cmd.ExecuteContext(context.Background())
	return out.String(), err
}

func TestExitCode(t *testing.T) {
	assert.Check(t, is.Equal(exitCode(nil), 0))
	assert.Check(t, is.Equal(exitCode(errors.New("boom")), 1))
	assert.Check(t, is.Equal(exitCode(statusError{StatusCode: 3}), 3))
	assert.Check(t, is.Equal(exitCode(statusError{}), 1))
	assert.Check(t, is.Equal(exitCode(fmt.Errorf("%w: provisioning", container.ErrSetupFailed)), 2))
}

func TestVersion(t *testing.T) {
	out, err := execute(t, "version")
	assert.NilError(t, err)
	assert.Check(t, is.Contains(out, "rootbox version dev"))
}

func TestRun_NoCommand(t *testing.T) {
	_, err := execute(t, "run", "alpine:3.20")
	assert.Check(t, is.ErrorContains(err, "requires at least 2 arg"))

	_, err = execute(t, "run", "alpine:3.20", "--")
	assert.Check(t, is.ErrorContains(err, "no command provided"))
}

func TestConfig_Required(t *testing.T) {
	// an explicit --config must exist
	root := newRootCommand()
	root.SetOut(&bytes.Buffer{})
	root.SetArgs([]string{"--config", filepath.Join(t.TempDir(), "none.yaml"), "version"})
	err := root.Execute()
	assert.Check(t, is.ErrorContains(err, "no such file"))
}

func TestInspect_InvalidPid(t *testing.T) {
	_, err := execute(t, "inspect", "abc")
	assert.Check(t, is.ErrorContains(err, "invalid manager pid"))
}

func TestInspect_Unreachable(t *testing.T) {
	_, err := execute(t, "--state-dir", t.TempDir(), "inspect", "1")
	assert.Check(t, errors.Is(err, container.ErrManagerUnreachable))
	assert.Check(t, is.Equal(exitCode(err), 1))
}

func TestInvalidLogLevel(t *testing.T) {
	_, err := execute(t, "--log-level", "chatty", "version")
	assert.Check(t, is.ErrorContains(err, "invalid log level"))
}

func TestExecParam(t *testing.T) {
	root := &rootOptions{}
	p, err := execParam(root, &runOptions{workDir: "/"}, []string{"echo hi"})
	assert.NilError(t, err)
	assert.Check(t, is.DeepEqual(p.Args, []string{"/bin/sh", "-c", "echo hi"}))
	assert.Check(t, p.Env == nil)
	assert.Check(t, p.Seccomp == nil)

	root.config.Seccomp = true
	p, err = execParam(root, &runOptions{env: []string{"A=1"}}, []string{"/bin/echo", "hi"})
	assert.NilError(t, err)
	assert.Check(t, is.DeepEqual(p.Args, []string{"/bin/echo", "hi"}))
	assert.Check(t, is.DeepEqual(p.Env, []string{container.PathEnv, "A=1"}))
	assert.Check(t, len(p.Seccomp) > 0)
	assert.Check(t, p.Namespaces == nil)

	root.config.Namespaces = []string{"uts", "mnt"}
	p, err = execParam(root, &runOptions{}, []string{"true"})
	assert.NilError(t, err)
	assert.Check(t, is.DeepEqual(p.Namespaces, []namespace.Kind{namespace.UTS, namespace.Mount}))

	root.config.SeccompAction = "panic"
	_, err = execParam(root, &runOptions{}, []string{"true"})
	assert.Check(t, is.ErrorContains(err, "seccompAction"))
}
