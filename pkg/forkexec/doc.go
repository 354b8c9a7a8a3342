// Package forkexec provides interface to run a subprocess that joins existing
// namespaces, changes its root and loads an optional seccomp filter before execve.
//
// Every step between fork and execve runs as raw syscalls in the child, so the
// child is single threaded when it calls setns. That is what allows joining a
// mount namespace without cgo. A failed step is reported back to the parent as
// a ChildError with the location of the failure.
//
// seccomp requires kernel >= 3.5, setns requires kernel >= 3.8 for all namespace kinds.
// pipe2, dup3 requires kernel >= 2.6.27
package forkexec
