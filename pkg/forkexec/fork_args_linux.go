package forkexec

import (
	"syscall"
)

// childArgs holds everything the child needs, converted before fork since the
// child must not allocate
type childArgs struct {
	argv0   *byte
	argv    []*byte
	env     []*byte
	chroot  *byte // nil skips chroot
	workdir *byte // nil skips chdir

	// fd[i] becomes fd i in the child, nextfd is above all of them
	fd     []int
	nextfd int
}

func newChildArgs(r *Runner) (*childArgs, error) {
	var (
		c   childArgs
		err error
	)
	if c.argv0, err = syscall.BytePtrFromString(r.Args[0]); err != nil {
		return nil, err
	}
	if c.argv, err = syscall.SlicePtrFromStrings(r.Args); err != nil {
		return nil, err
	}
	if c.env, err = syscall.SlicePtrFromStrings(r.Env); err != nil {
		return nil, err
	}
	if c.chroot, err = bytePtrOrNil(r.Chroot); err != nil {
		return nil, err
	}

	// chroot without chdir leaves the child outside of the new root
	wd := r.WorkDir
	if wd == "" && r.Chroot != "" {
		wd = "/"
	}
	if c.workdir, err = bytePtrOrNil(wd); err != nil {
		return nil, err
	}

	c.fd = make([]int, len(r.Files))
	c.nextfd = len(r.Files)
	for i, f := range r.Files {
		c.fd[i] = int(f)
		c.nextfd = max(c.nextfd, int(f))
	}
	c.nextfd++
	return &c, nil
}

func bytePtrOrNil(s string) (*byte, error) {
	if s == "" {
		return nil, nil
	}
	return syscall.BytePtrFromString(s)
}
