package ports

import "time"

// ProcessProber checks child process liveness by probing for pid existence,
// never by talking to the process.
type ProcessProber interface {
	// Alive reports whether a process with this pid currently exists.
	Alive(pid int) bool
	// StartTime returns the OS-reported start time of the process, used to
	// guard against pid reuse between invocations.
	StartTime(pid int) (time.Time, error)
	// SameProcess reports whether the live pid is plausibly the recorded
	// process, comparing OS start time against the recorded one.
	SameProcess(pid int, recorded time.Time) bool
	// Terminate asks the process to exit gracefully.
	Terminate(pid int) error
	// Kill forcibly ends the process.
	Kill(pid int) error
}

// Clock abstracts time for deterministic tests.
type Clock interface {
	Now() time.Time
}

type SystemClock struct{}

func (SystemClock) Now() time.Time { return time.Now() }
