package runner

import (
	"syscall"
	"testing"
	"time"

	"gotest.tools/v3/assert"
	is "gotest.tools/v3/assert/cmp"
)

func TestResultFromWait(t *testing.T) {
	// exit(0)
	r := ResultFromWait(syscall.WaitStatus(0), &syscall.Rusage{Maxrss: 1024})
	assert.Check(t, is.Equal(r.Status, StatusNormal))
	assert.Check(t, is.Equal(r.ExitCode(), 0))
	assert.Check(t, is.Equal(r.Memory, Size(1<<20)))

	// exit(3)
	r = ResultFromWait(syscall.WaitStatus(3<<8), nil)
	assert.Check(t, is.Equal(r.Status, StatusNonzeroExitStatus))
	assert.Check(t, is.Equal(r.ExitStatus, 3))
	assert.Check(t, is.Equal(r.ExitCode(), 3))

	// killed by SIGKILL
	r = ResultFromWait(syscall.WaitStatus(syscall.SIGKILL), nil)
	assert.Check(t, is.Equal(r.Status, StatusSignalled))
	assert.Check(t, is.Equal(r.ExitStatus, int(syscall.SIGKILL)))
	assert.Check(t, is.Equal(r.ExitCode(), 128+9))
}

func TestResult_String(t *testing.T) {
	r := Result{Status: StatusRunnerError, Error: "setns(0): operation not permitted"}
	assert.Check(t, is.Contains(r.String(), "RunnerFailed(setns(0)"))
	assert.Check(t, is.Equal(r.ExitCode(), 127))

	r = Result{Status: StatusNonzeroExitStatus, ExitStatus: 2, Time: time.Second}
	assert.Check(t, is.Contains(r.String(), "Nonzero Exit Status"))
}

func TestStatus_String(t *testing.T) {
	assert.Check(t, is.Equal(StatusSignalled.Error(), "Signalled"))
	assert.Check(t, is.Equal(Status(-1).String(), "Invalid"))
	assert.Check(t, is.Equal(Status(100).String(), "Invalid"))
}
