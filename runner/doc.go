// Package runner provides common types for the result of a command run
// inside a container, including Result, Size and Status.
//
// # Status
//
// Status defines the program running result status including
//
//	Normal
//	Program Error (Signalled / Nonzero Exit Status)
//	Program Runner Error
//
// # Size
//
// Size defines size in bytes, underlying type is uint64 so it
// is effective to store up to EiB of size
//
// # Result
//
// Result defines program running result including
// Status, ExitStatus, Detailed Error, Time, Memory,
// SetupTime and RunningTime (in real clock)
package runner
