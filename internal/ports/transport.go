package ports

import (
	"context"
	"time"

	"github.com/bnema/kdbg/internal/domain"
)

// Transport owns one emulator/debugger process pair and their streams.
type Transport interface {
	// ReadAvailable returns whatever debugger output is currently queued,
	// up to max bytes, without blocking. Empty string means nothing ready.
	ReadAvailable(max int) (string, error)
	// Write sends one command line (newline appended) as a single atomic
	// write.
	Write(line string) error
	// Interrupt delivers an out-of-band interrupt signal to the debugger.
	// Mutually exclusive with Write.
	Interrupt() error
	// Terminate tears both children down, gracefully first, escalating to
	// a forced kill. Idempotent.
	Terminate(ctx context.Context) error
	// Running reports whether the debugger process is still alive.
	Running() bool
	DebuggerPID() int
	EmulatorPID() int
}

// TransportFactory spawns and connects a process pair for a new session.
// The returned transport has both children running; the protocol handshake
// is the caller's job.
type TransportFactory interface {
	Open(ctx context.Context, profile domain.ModeProfile, target, serialLog, debugLog string) (Transport, error)
}

// ConsoleCursor reads the emulator's console sink incrementally. ReadNew
// returns only content that arrived since the previous ReadNew call.
type ConsoleCursor interface {
	ReadNew(max int) (string, error)
	ReadAll(max int) (string, error)
	// AwaitChange blocks until the sink grows past the cursor or wait
	// elapses, reporting whether new content is available.
	AwaitChange(wait time.Duration) bool
}

// ConsoleCursorFactory opens a cursor over a session's console sink.
type ConsoleCursorFactory interface {
	OpenCursor(path string) ConsoleCursor
}

// SymbolTable resolves the target binary's section layout and builds the
// symbol-load command for its runtime addresses.
type SymbolTable interface {
	Sections(binary string) (map[string]uint64, error)
	LoadCommand(binary string, base uint64, sections map[string]uint64) string
}
