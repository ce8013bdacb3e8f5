package domain

// ErrorKind classifies a failed command execution.
type ErrorKind string

const (
	ErrorTimeout    ErrorKind = "timeout"
	ErrorNotRunning ErrorKind = "process-not-running"
	ErrorProtocol   ErrorKind = "protocol-error"
	ErrorUnknown    ErrorKind = "unknown"
)

// RegisterSnapshot maps register names to their hexadecimal values as text.
type RegisterSnapshot map[string]string

// StackFrame is one backtrace entry, innermost first at Number 0. File and
// Line are zero-valued when the frame carries no source information.
type StackFrame struct {
	Number   int    `json:"number"`
	Address  string `json:"address"`
	Function string `json:"function"`
	Args     string `json:"args"`
	File     string `json:"file,omitempty"`
	Line     int    `json:"line,omitempty"`
}

// MemoryWord is one examined word, with its synthesized per-word address.
type MemoryWord struct {
	Address string `json:"address"`
	Value   string `json:"value"`
}

// BreakpointInfo is the descriptor echoed by the debugger when a breakpoint
// is set.
type BreakpointInfo struct {
	Number  int    `json:"number"`
	Address string `json:"address"`
	File    string `json:"file,omitempty"`
	Line    int    `json:"line,omitempty"`
}

// CommandResult packages one executed debugger command. Output is one of
// RegisterSnapshot, []StackFrame, []MemoryWord, BreakpointInfo, StopEvent
// or string; it is nil whenever Success is false, in which case ErrorKind
// and Error carry the classification.
type CommandResult struct {
	Command      string    `json:"command"`
	Success      bool      `json:"success"`
	Output       any       `json:"output,omitempty"`
	Raw          string    `json:"raw,omitempty"`
	Error        string    `json:"error,omitempty"`
	ErrorKind    ErrorKind `json:"error_type,omitempty"`
	ElapsedMS    int64     `json:"time_ms"`
	SerialOutput string    `json:"serial_output,omitempty"`
}
