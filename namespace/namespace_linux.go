// Package namespace acquires the namespaces of a running process so that a
// forked child can join them before chroot and execve.
package namespace

import (
	"errors"
	"fmt"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/containerd/errdefs"
	"github.com/vishvananda/netns"
	"golang.org/x/sys/unix"

	"github.com/criyle/go-rootbox/pkg/forkexec"
)

// Kind is a namespace kind that could be joined
type Kind int

// Kinds in join order, user namespace goes first so that the
// rest are joined with the capabilities it grants
const (
	User Kind = iota
	Mount
	UTS
	IPC
	Net
)

// All lists every kind in join order
var All = []Kind{User, Mount, UTS, IPC, Net}

var kindNames = [...]string{"user", "mnt", "uts", "ipc", "net"}

var kindFlags = [...]uintptr{unix.CLONE_NEWUSER, unix.CLONE_NEWNS, unix.CLONE_NEWUTS, unix.CLONE_NEWIPC, unix.CLONE_NEWNET}

func (k Kind) String() string {
	if k >= 0 && int(k) < len(kindNames) {
		return kindNames[k]
	}
	return "unknown"
}

// CloneFlag returns the CLONE_NEW* flag of the kind
func (k Kind) CloneFlag() uintptr {
	if k >= 0 && int(k) < len(kindFlags) {
		return kindFlags[k]
	}
	return 0
}

// ParseKind parses the /proc/<pid>/ns entry name
func ParseKind(s string) (Kind, error) {
	for i, n := range kindNames {
		if n == s || (n == "mnt" && s == "mount") || (n == "net" && s == "network") {
			return Kind(i), nil
		}
	}
	return 0, fmt.Errorf("namespace: unknown kind %q: %w", s, errdefs.ErrInvalidArgument)
}

// FormatKinds joins kinds with comma
func FormatKinds(kinds []Kind) string {
	s := make([]string, 0, len(kinds))
	for _, k := range kinds {
		s = append(s, k.String())
	}
	return strings.Join(s, ",")
}

// Set is the namespace handles of one process, ordered by kind
type Set struct {
	Pid     int
	handles []handle
}

type handle struct {
	kind Kind
	ns   netns.NsHandle
}

// procRoot is the proc mount, replaced in tests
var procRoot = "/proc"

func nsPath(pid string, k Kind) string {
	return filepath.Join(procRoot, pid, "ns", k.String())
}

// Acquire opens the namespaces of pid. Kinds the caller already shares
// with pid are skipped since joining them is either a no-op or, for the
// user namespace, rejected by the kernel. If no kinds are given, All is used.
//
// A missing process is reported as errdefs.ErrNotFound and inaccessible
// namespace handles as errdefs.ErrPermissionDenied.
func Acquire(pid int, kinds ...Kind) (*Set, error) {
	if pid <= 0 {
		return nil, fmt.Errorf("namespace: invalid pid %d: %w", pid, errdefs.ErrInvalidArgument)
	}
	if len(kinds) == 0 {
		kinds = All
	}
	s := &Set{Pid: pid}
	target := strconv.Itoa(pid)
	for _, k := range sortKinds(kinds) {
		ns, err := netns.GetFromPath(nsPath(target, k))
		if err != nil {
			s.Close()
			return nil, classify(pid, k, err)
		}
		self, err := netns.GetFromPath(nsPath("self", k))
		if err == nil {
			same := self.Equal(ns)
			self.Close()
			if same {
				ns.Close()
				continue
			}
		}
		s.handles = append(s.handles, handle{kind: k, ns: ns})
	}
	return s, nil
}

func sortKinds(kinds []Kind) []Kind {
	seen := make(map[Kind]bool, len(kinds))
	for _, k := range kinds {
		seen[k] = true
	}
	ret := make([]Kind, 0, len(kinds))
	for _, k := range All {
		if seen[k] {
			ret = append(ret, k)
		}
	}
	return ret
}

func classify(pid int, k Kind, err error) error {
	switch {
	case errors.Is(err, unix.ENOENT), errors.Is(err, unix.ESRCH):
		return fmt.Errorf("namespace: process %d %s namespace: %w: %w", pid, k, errdefs.ErrNotFound, err)
	case errors.Is(err, unix.EACCES), errors.Is(err, unix.EPERM):
		return fmt.Errorf("namespace: process %d %s namespace: %w: %w", pid, k, errdefs.ErrPermissionDenied, err)
	}
	return fmt.Errorf("namespace: process %d %s namespace: %w", pid, k, err)
}

// Kinds returns the kinds that will be joined
func (s *Set) Kinds() []Kind {
	ret := make([]Kind, 0, len(s.handles))
	for _, h := range s.handles {
		ret = append(ret, h.kind)
	}
	return ret
}

// Join schedules setns for every acquired namespace in the child of r.
// It must run before chroot and execve, which forkexec guarantees.
// Joining is irreversible for the child.
func (s *Set) Join(r *forkexec.Runner) {
	for _, h := range s.handles {
		r.Namespaces = append(r.Namespaces, forkexec.Namespace{
			Fd:   uintptr(h.ns),
			Type: h.kind.CloneFlag(),
		})
	}
}

// Close releases the namespace handles. The set must not be joined after Close.
func (s *Set) Close() error {
	var errs []error
	for i := range s.handles {
		if err := s.handles[i].ns.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	s.handles = nil
	return errors.Join(errs...)
}
