package runner

import (
	"fmt"
	"syscall"
	"time"
)

// Result is the program runner result
type Result struct {
	Status            // result status
	ExitStatus int    // exit status (signal number if signalled)
	Error      string // potential detailed error message (for program runner error)

	Time   time.Duration // used user CPU time  (underlying type int64 in ns)
	Memory Size          // used user memory    (underlying type uint64 in bytes)

	// metrics for the program runner
	SetUpTime   time.Duration
	RunningTime time.Duration
}

// ResultFromWait converts wait4 status and resource usage to Result
func ResultFromWait(ws syscall.WaitStatus, rusage *syscall.Rusage) Result {
	var r Result
	if rusage != nil {
		r.Time = time.Duration(rusage.Utime.Nano())
		r.Memory = Size(rusage.Maxrss << 10) // kb
	}
	switch {
	case ws.Exited():
		r.ExitStatus = ws.ExitStatus()
		r.Status = StatusNormal
		if r.ExitStatus != 0 {
			r.Status = StatusNonzeroExitStatus
		}
	case ws.Signaled():
		r.Status = StatusSignalled
		r.ExitStatus = int(ws.Signal())
	default:
		r.Status = StatusRunnerError
		r.Error = fmt.Sprintf("unexpected wait status %#x", uint32(ws))
	}
	return r
}

// ExitCode returns the shell style exit code: the exit status, 128+signal
// when signalled and 127 for runner errors
func (r Result) ExitCode() int {
	switch r.Status {
	case StatusNormal, StatusNonzeroExitStatus:
		return r.ExitStatus
	case StatusSignalled:
		return 128 + r.ExitStatus
	default:
		return 127
	}
}

func (r Result) String() string {
	switch r.Status {
	case StatusNormal:
		return fmt.Sprintf("Result[%v %v][%v %v]", r.Time, r.Memory, r.SetUpTime, r.RunningTime)

	case StatusSignalled:
		return fmt.Sprintf("Result[Signalled(%d)][%v %v][%v %v]", r.ExitStatus, r.Time, r.Memory, r.SetUpTime, r.RunningTime)

	case StatusRunnerError:
		return fmt.Sprintf("Result[RunnerFailed(%s)][%v %v][%v %v]", r.Error, r.Time, r.Memory, r.SetUpTime, r.RunningTime)

	default:
		return fmt.Sprintf("Result[%v(%s %d)][%v %v][%v %v]", r.Status, r.Error, r.ExitStatus, r.Time, r.Memory, r.SetUpTime, r.RunningTime)
	}
}
