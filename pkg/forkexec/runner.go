package forkexec

import (
	"syscall"
)

// Namespace is an open namespace file descriptor to join with setns
type Namespace struct {
	Fd   uintptr // fd of /proc/<pid>/ns/<kind>, must be close_on_exec
	Type uintptr // CLONE_NEW* flag matching the fd
}

// Runner is the configuration including the exec path, argv, the namespaces
// to join and the new root. Steps run in the child in the following order:
//
//	setns(Namespaces[i]...)
//	chroot(Chroot)
//	chdir(WorkDir)
//	dup3(Files...)
//	prctl(PR_SET_NO_NEW_PRIVS) / seccomp(Seccomp)
//	execve(Args[0], Args, Env)
type Runner struct {
	// argv and env for execve syscall for the child process
	Args []string
	Env  []string

	// file disriptors map for new process, from 0 to len - 1
	Files []uintptr

	// namespaces joined by setns in order, user namespace should be the first
	// so that the later ones have the required capability
	Namespaces []Namespace

	// chroot changes the root directory after the namespaces are joined.
	// path is resolved in the joined mount namespace
	Chroot string

	// work path set by chdir(dir) (current working directory for child)
	// defaults to / when Chroot is set
	WorkDir string

	// seccomp syscall filter applied to child
	Seccomp *syscall.SockFprog

	// no_new_privs calls ptctl(PR_SET_NO_NEW_PRIVS) to 0 to disable calls to
	// setuid processes. It is automatically enabled when seccomp filter is provided
	NoNewPrivs bool
}
