package seccomp

import (
	"fmt"
	"syscall"

	libseccomp "github.com/elastic/go-seccomp-bpf"
	"github.com/elastic/go-seccomp-bpf/arch"
	"golang.org/x/net/bpf"
)

// DefaultDeny lists syscalls that could escape or reshape the container
// from inside a worker
var DefaultDeny = []string{
	"mount", "umount2", "pivot_root", "setns", "unshare",
	"kexec_load", "reboot", "swapon", "swapoff",
	"init_module", "finit_module", "delete_module",
}

// retActionMask selects SECCOMP_RET_ACTION_FULL from a return value
const retActionMask libseccomp.Action = 0xffff0000

// Builder is used to build the filter
type Builder struct {
	// Default applies to syscalls that are not listed, default allow
	Default Action

	// Deny lists syscalls matched by Action, default errno(EPERM)
	Deny   []string
	Action Action
}

// Build builds the filter
func (b *Builder) Build() (Filter, error) {
	def, act := b.Default, b.Action
	if def == 0 {
		def = ActionAllow
	}
	if act == 0 {
		act = ActionErrno.WithReturnCode(int16(syscall.EPERM))
	}
	if err := checkNames(b.Deny); err != nil {
		return nil, err
	}

	defAction := toBPFAction(def)
	if len(b.Deny) == 0 {
		return ExportBPF([]bpf.Instruction{bpf.RetConstant{Val: uint32(defAction)}})
	}

	// the policy only accepts a bare default action, errno data is patched in
	// after assembly. trap is never produced by toBPFAction.
	placeholder := defAction
	if defAction&^retActionMask != 0 {
		placeholder = libseccomp.ActionTrap
	}
	policy := libseccomp.Policy{
		DefaultAction: placeholder,
		Syscalls: []libseccomp.SyscallGroup{{
			Names:  b.Deny,
			Action: toBPFAction(act),
		}},
	}
	insts, err := policy.Assemble()
	if err != nil {
		return nil, fmt.Errorf("seccomp: failed to assemble policy: %w", err)
	}
	if placeholder != defAction {
		for i, inst := range insts {
			if ret, ok := inst.(bpf.RetConstant); ok && ret.Val == uint32(placeholder) {
				insts[i] = bpf.RetConstant{Val: uint32(defAction)}
			}
		}
	}
	return ExportBPF(insts)
}

// ExportBPF converts the assembled instructions to the raw sock_filter format
func ExportBPF(insts []bpf.Instruction) (Filter, error) {
	raw, err := bpf.Assemble(insts)
	if err != nil {
		return nil, fmt.Errorf("seccomp: failed to assemble bpf: %w", err)
	}
	f := make(Filter, 0, len(raw))
	for _, r := range raw {
		f = append(f, syscall.SockFilter{
			Code: r.Op,
			Jt:   r.Jt,
			Jf:   r.Jf,
			K:    r.K,
		})
	}
	return f, nil
}

// checkNames verifies the names exist on the native architecture
func checkNames(names []string) error {
	info, err := arch.GetInfo("")
	if err != nil {
		return fmt.Errorf("seccomp: %w", err)
	}
	known := make(map[string]struct{}, len(info.SyscallNumbers))
	for _, n := range info.SyscallNumbers {
		known[n] = struct{}{}
	}
	for _, n := range names {
		if _, ok := known[n]; !ok {
			return fmt.Errorf("seccomp: unknown syscall %q", n)
		}
	}
	return nil
}
