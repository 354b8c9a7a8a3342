package container

import (
	"fmt"

	"github.com/prometheus/procfs"
)

// Owner identifies the process that created a container. The start time
// distinguishes a reused pid from the original creator.
type Owner struct {
	Pid       int    `json:"pid" yaml:"pid"`
	StartTime uint64 `json:"startTime" yaml:"startTime"` // clock ticks since boot
}

// CurrentOwner returns the owner token of the calling process
func CurrentOwner() (Owner, error) {
	p, err := procfs.Self()
	if err != nil {
		return Owner{}, fmt.Errorf("container: failed to read /proc/self: %w", err)
	}
	st, err := p.Stat()
	if err != nil {
		return Owner{}, fmt.Errorf("container: failed to read stat of %d: %w", p.PID, err)
	}
	return Owner{Pid: p.PID, StartTime: st.Starttime}, nil
}

// IsCurrent reports whether the calling process is o
func (o Owner) IsCurrent() bool {
	cur, err := CurrentOwner()
	return err == nil && cur == o
}
