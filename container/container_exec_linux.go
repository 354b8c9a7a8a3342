package container

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"sync"
	"syscall"
	"time"

	"github.com/containerd/log"
	"golang.org/x/sys/unix"

	"github.com/criyle/go-rootbox/namespace"
	"github.com/criyle/go-rootbox/pkg/forkexec"
	"github.com/criyle/go-rootbox/pkg/seccomp"
	"github.com/criyle/go-rootbox/runner"
)

// ExecParam is parameters to execve inside the container
type ExecParam struct {
	// Args holds command line arguments, Args[0] is resolved inside the container
	Args []string

	// Env specifies the environment of the process (default PathEnv)
	Env []string

	// Files specifies the stdio of the process (default the caller's 0, 1, 2)
	Files []uintptr

	// WorkDir is the working directory inside the container (default /)
	WorkDir string

	// Seccomp is loaded with no_new_privs right before execve when not empty
	Seccomp seccomp.Filter

	// Namespaces limits the manager namespaces joined (default all of them).
	// The mount namespace is always joined since the root lives there.
	Namespaces []namespace.Kind
}

// Run executes /bin/sh -c command inside the container with the caller's stdio.
// A non-zero exit is reported through the result, not as error.
func (c *Container) Run(ctx context.Context, command string) (runner.Result, error) {
	return c.Exec(ctx, ExecParam{
		Args: []string{"/bin/sh", "-c", command},
	})
}

// Exec forks a worker that joins the manager namespaces, chroots into the mount
// point and executes p.Args, then waits for it. Cancelling ctx kills the worker.
func (c *Container) Exec(ctx context.Context, p ExecParam) (runner.Result, error) {
	if len(p.Args) == 0 {
		return runnerError(fmt.Errorf("container: exec: no command provided"))
	}
	c.running.Add(1)
	defer c.running.Add(-1)

	start := time.Now()
	logger := log.G(ctx).WithFields(log.Fields{"manager": c.pid, "args": p.Args})

	mp, err := c.Info(ctx)
	if err != nil {
		return runnerError(err)
	}
	kinds := p.Namespaces
	if len(kinds) > 0 && !slices.Contains(kinds, namespace.Mount) {
		kinds = append(slices.Clone(kinds), namespace.Mount)
	}
	ns, err := namespace.Acquire(c.pid, kinds...)
	if err != nil {
		return runnerError(fmt.Errorf("%w: %w", ErrPermissionOrLookup, err))
	}
	defer ns.Close()

	r := &forkexec.Runner{
		Args:    p.Args,
		Env:     p.Env,
		Files:   p.Files,
		Chroot:  mp,
		WorkDir: p.WorkDir,
	}
	if len(r.Env) == 0 {
		r.Env = []string{PathEnv, "HOME=/"}
	}
	if len(r.Files) == 0 {
		r.Files = []uintptr{0, 1, 2}
	}
	if len(p.Seccomp) > 0 {
		r.NoNewPrivs = true
		r.Seccomp = p.Seccomp.SockFprog()
	}
	ns.Join(r)

	pid, err := r.Start()
	if err != nil {
		var ce forkexec.ChildError
		if errors.As(err, &ce) && ce.Location == forkexec.LocSetns {
			return runnerError(fmt.Errorf("%w: join %s: %w", ErrPermissionOrLookup, namespace.FormatKinds(ns.Kinds()), err))
		}
		return runnerError(fmt.Errorf("container: failed to start worker: %w", err))
	}
	setupTime := time.Since(start)
	logger.WithField("pid", pid).Debug("worker started")

	ws, rusage, err := waitWorker(ctx, pid)
	if err != nil {
		return runnerError(fmt.Errorf("container: failed to wait worker %d: %w", pid, err))
	}
	result := runner.ResultFromWait(ws, &rusage)
	result.SetUpTime = setupTime
	result.RunningTime = time.Since(start) - setupTime
	logger.WithField("result", result).Debug("worker finished")

	if cerr := ctx.Err(); cerr != nil && result.Status == runner.StatusSignalled {
		return result, fmt.Errorf("container: worker %d killed: %w", pid, cerr)
	}
	return result, nil
}

func runnerError(err error) (runner.Result, error) {
	return runner.Result{
		Status: runner.StatusRunnerError,
		Error:  err.Error(),
	}, err
}

// waitWorker reaps pid and kills it when ctx is done. The kill only happens
// while the pid is not reaped so that it never hits a reused pid.
func waitWorker(ctx context.Context, pid int) (syscall.WaitStatus, syscall.Rusage, error) {
	var (
		mu     sync.Mutex
		reaped bool
		ws     syscall.WaitStatus
		rusage syscall.Rusage
		info   unix.Siginfo
	)
	stop := context.AfterFunc(ctx, func() {
		mu.Lock()
		defer mu.Unlock()
		if !reaped {
			unix.Kill(pid, unix.SIGKILL)
		}
	})
	defer stop()

	// wait for exit without reaping
	for {
		err := unix.Waitid(unix.P_PID, pid, &info, unix.WEXITED|unix.WNOWAIT, nil)
		if err == nil {
			break
		}
		if err != unix.EINTR {
			return ws, rusage, err
		}
	}
	mu.Lock()
	reaped = true
	mu.Unlock()

	for {
		_, err := syscall.Wait4(pid, &ws, 0, &rusage)
		if err != syscall.EINTR {
			return ws, rusage, err
		}
	}
}
