package forkexec

import (
	"syscall"
	"unsafe"

	"golang.org/x/sys/unix"
)

// Start will fork, join namespaces, chroot, load seccomp and execve.
// Return pid and potential error. A failure in the child before execve
// is returned as ChildError and the child is reaped.
func (r *Runner) Start() (int, error) {
	if len(r.Args) == 0 {
		return 0, syscall.EINVAL
	}
	args, err := newChildArgs(r)
	if err != nil {
		return 0, err
	}

	// socketpair p is used to report the failure from child before execve
	// p[0] is used by parent and p[1] is used by child
	p, err := syscall.Socketpair(syscall.AF_LOCAL, syscall.SOCK_STREAM|syscall.SOCK_CLOEXEC, 0)
	if err != nil {
		return 0, err
	}

	// fork in child
	pid, err1 := forkAndExecInChild(r, args, p)

	// restore all signals
	afterFork()
	syscall.ForkLock.Unlock()

	return syncWithChild(p, int(pid), err1)
}

func syncWithChild(p [2]int, pid int, err1 syscall.Errno) (int, error) {
	var childErr ChildError

	unix.Close(p[1])

	// clone syscall failed
	if err1 != 0 {
		unix.Close(p[0])
		return 0, ChildError{Err: err1, Location: LocClone}
	}

	// if read anything mean child failed before execve (close_on_exec so
	// it returns 0 once execve succeeded)
	var (
		r1 uintptr
		e  syscall.Errno
	)
	for {
		r1, _, e = syscall.Syscall(syscall.SYS_READ, uintptr(p[0]), uintptr(unsafe.Pointer(&childErr)), unsafe.Sizeof(childErr))
		if e != syscall.EINTR {
			break
		}
	}
	unix.Close(p[0])
	if r1 == 0 && e == 0 {
		return pid, nil
	}

	handleChildFailed(pid)
	if r1 != unsafe.Sizeof(childErr) {
		return 0, syscall.EPIPE
	}
	return 0, childErr
}

func handleChildFailed(pid int) {
	var wstatus syscall.WaitStatus
	// make sure not blocked
	syscall.Kill(pid, syscall.SIGKILL)
	// child failed; wait for it to exit, to make sure the zombies don't accumulate
	_, err := syscall.Wait4(pid, &wstatus, 0, nil)
	for err == syscall.EINTR {
		_, err = syscall.Wait4(pid, &wstatus, 0, nil)
	}
}
