package seccomp

import (
	"fmt"
	"strings"
	"syscall"

	libseccomp "github.com/elastic/go-seccomp-bpf"
)

// Action is seccomp trap action
type Action uint32

// Action defines seccomp action to the syscall
// default value 0 is invalid
const (
	ActionAllow Action = iota + 1
	ActionErrno
	ActionLog
	ActionKill
)

// WithReturnCode set the return code (errno) when action is errno
func (a Action) WithReturnCode(code int16) Action {
	return a.Action() | Action(code)<<16
}

// ReturnCode get the return code
func (a Action) ReturnCode() int16 {
	return int16(a >> 16)
}

// Action get the basic action
func (a Action) Action() Action {
	return Action(a & 0xffff)
}

func (a Action) String() string {
	switch a.Action() {
	case ActionAllow:
		return "allow"
	case ActionErrno:
		if c := a.ReturnCode(); c != 0 {
			return fmt.Sprintf("errno(%d)", c)
		}
		return "errno"
	case ActionLog:
		return "log"
	case ActionKill:
		return "kill"
	default:
		return "invalid"
	}
}

// ParseAction parses allow, errno, log and kill
func ParseAction(s string) (Action, error) {
	switch strings.ToLower(s) {
	case "allow":
		return ActionAllow, nil
	case "errno":
		return ActionErrno.WithReturnCode(int16(syscall.EPERM)), nil
	case "log":
		return ActionLog, nil
	case "kill":
		return ActionKill, nil
	}
	return 0, fmt.Errorf("seccomp: invalid action %q", s)
}

// toBPFAction convert action to go-seccomp-bpf action
func toBPFAction(a Action) libseccomp.Action {
	switch a.Action() {
	case ActionAllow:
		return libseccomp.ActionAllow
	case ActionErrno:
		// the least 16 bit of ret value is SECCOMP_RET_DATA
		return libseccomp.ActionErrno | libseccomp.Action(uint16(a.ReturnCode()))
	case ActionLog:
		return libseccomp.ActionLog
	default:
		return libseccomp.ActionKillProcess
	}
}
