package domain

import (
	"errors"
	"fmt"
)

var (
	ErrSessionNotFound = errors.New("session not found")
	ErrSessionDead     = errors.New("session process no longer exists")
	ErrNotRunning      = errors.New("debugger process not running")
)

// StartupError reports a child process that exited before the session was
// usable.
type StartupError struct {
	Child string
	Err   error
}

func (e *StartupError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s failed to start: %v", e.Child, e.Err)
	}
	return fmt.Sprintf("%s failed to start", e.Child)
}

func (e *StartupError) Unwrap() error { return e.Err }

// TimeoutError reports an absolute deadline exceeded while waiting for the
// debugger prompt. Partial holds whatever output had accumulated, for
// diagnostics.
type TimeoutError struct {
	Partial string
}

func (e *TimeoutError) Error() string {
	return "timed out waiting for debugger prompt"
}

// ProtocolError reports a recognizable failure phrase emitted by the
// debugger itself.
type ProtocolError struct {
	Phrase string
	Output string
}

func (e *ProtocolError) Error() string {
	return fmt.Sprintf("debugger reported %q", e.Phrase)
}

// ClassifyError maps an execution failure onto the result taxonomy.
func ClassifyError(err error) ErrorKind {
	var timeout *TimeoutError
	var protocol *ProtocolError
	switch {
	case errors.As(err, &timeout):
		return ErrorTimeout
	case errors.As(err, &protocol):
		return ErrorProtocol
	case errors.Is(err, ErrNotRunning), errors.Is(err, ErrSessionDead):
		return ErrorNotRunning
	default:
		return ErrorUnknown
	}
}
