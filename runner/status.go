package runner

// Status is the result Status
type Status int

// Result Status for program runner
const (
	StatusInvalid Status = iota // 0 not initialized
	// Normal
	StatusNormal // 1 normal

	// Runtime Error
	StatusSignalled         // 2 signalled
	StatusNonzeroExitStatus // 3 nonzero exit status

	// Programmer Runner Error
	StatusRunnerError // 4 runner error
)

var statusString = []string{
	"Invalid",
	"",
	"Signalled",
	"Nonzero Exit Status",
	"Runner Error",
}

func (t Status) String() string {
	i := int(t)
	if i >= 0 && i < len(statusString) {
		return statusString[i]
	}
	return statusString[0]
}

func (t Status) Error() string {
	return t.String()
}
