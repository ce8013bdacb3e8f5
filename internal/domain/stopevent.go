package domain

// StopReason tags the variant of a StopEvent.
type StopReason string

const (
	StopBreakpoint StopReason = "breakpoint"
	StopSignal     StopReason = "signal"
	StopExited     StopReason = "exited"
)

// StopEvent is an asynchronous execution stop extracted from console text.
// Exactly one reason applies; the remaining fields are populated per reason.
type StopEvent struct {
	Reason      StopReason `json:"reason"`
	Breakpoint  int        `json:"breakpoint_number,omitempty"`
	Function    string     `json:"function,omitempty"`
	Args        string     `json:"args,omitempty"`
	File        string     `json:"file,omitempty"`
	Line        int        `json:"line,omitempty"`
	Signal      string     `json:"signal,omitempty"`
	Description string     `json:"description,omitempty"`
	ExitCode    int        `json:"exit_code,omitempty"`
}
