package application

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/bnema/kdbg/internal/domain"
	"github.com/bnema/kdbg/internal/gdb"
	"github.com/bnema/kdbg/internal/ports"
)

const (
	// defaultCommandTimeout bounds ordinary prompt-terminated commands.
	defaultCommandTimeout = 30 * time.Second
	// executionTimeout bounds resume-class commands, which only complete
	// when the target stops again.
	executionTimeout = 5 * time.Minute

	rawLimit         = 2000
	serialDeltaLimit = 4096
	serialNewLimit   = 8192
	serialFullLimit  = 16384
	maxOutputLines   = 100

	// serialSettle is how long to wait for the console sink to flush when
	// the post-command delta read comes back empty.
	serialSettle = 200 * time.Millisecond
)

// resumeWords are first words of commands that resume the target, including
// the gdb abbreviations. They end on a stop event rather than on the next
// prompt.
var resumeWords = map[string]struct{}{
	"continue": {}, "cont": {}, "c": {},
	"run": {}, "r": {},
	"start": {},
}

// failurePhrases are debugger-reported errors that arrive as ordinary
// prompt-terminated output instead of a distinct channel.
var failurePhrases = []string{"Cannot ", "No symbol", "Undefined command"}

// ExecOptions adjusts one command execution.
type ExecOptions struct {
	// Timeout overrides the command-class deadline when positive.
	Timeout time.Duration
	// InterruptAfter breaks into a resumed target after this long, turning
	// an open-ended continue into a bounded one. Zero disables it. Ignored
	// for commands that do not resume the target.
	InterruptAfter time.Duration
}

// Dispatcher executes single commands against a live session: write, wait,
// clean, classify, parse, attach the console delta.
type Dispatcher struct {
	scanner *gdb.Scanner
	clock   ports.Clock
	logger  *slog.Logger
}

func NewDispatcher(scanner *gdb.Scanner, clock ports.Clock, logger *slog.Logger) *Dispatcher {
	if clock == nil {
		clock = ports.SystemClock{}
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Dispatcher{scanner: scanner, clock: clock, logger: logger}
}

// Execute runs one command to completion. At most one command per session is
// in flight; concurrent callers on the same session serialize here. The
// returned result is always well-formed: either Success with parsed output,
// or a classified failure.
func (d *Dispatcher) Execute(ctx context.Context, ls *liveSession, command string, opts ExecOptions) domain.CommandResult {
	ls.mu.Lock()
	defer ls.mu.Unlock()

	started := d.clock.Now()

	switch command {
	case "serial":
		return d.consoleResult(ls, command, started, serialFullLimit, true)
	case "serial-new":
		return d.consoleResult(ls, command, started, serialNewLimit, false)
	}

	if !ls.transport.Running() {
		return d.failure(ls, command, started, domain.ErrNotRunning)
	}

	// Catch the cursor up so the delta attached to this result starts at
	// the command boundary.
	if ls.cursor != nil {
		_, _ = ls.cursor.ReadNew(serialDeltaLimit)
	}

	wait := commandPolicy(command, opts)

	var interrupt *time.Timer
	if opts.InterruptAfter > 0 && wait.DetectStop {
		interrupt = time.AfterFunc(opts.InterruptAfter, func() {
			d.logger.Info("interrupting resumed target",
				slog.String("command", command),
				slog.Duration("after", opts.InterruptAfter))
			if err := ls.transport.Interrupt(); err != nil {
				d.logger.Warn("interrupt delivery failed", slog.Any("error", err))
			}
		})
	}

	err := ls.transport.Write(command)
	var raw string
	if err == nil {
		raw, err = d.scanner.WaitOutput(ctx, ls.transport, wait)
	}
	if interrupt != nil {
		interrupt.Stop()
	}

	if err != nil {
		result := d.failure(ls, command, started, err)
		var timeout *domain.TimeoutError
		if errors.As(err, &timeout) {
			result.Raw = clipRaw(timeout.Partial)
		}
		return result
	}

	cleaned := gdb.CleanOutput(command, raw)
	if phrase, ok := failurePhrase(cleaned); ok {
		return d.failure(ls, command, started, &domain.ProtocolError{Phrase: phrase, Output: cleaned})
	}

	output := gdb.Parse(command, cleaned)
	if wait.DetectStop {
		if event, ok := gdb.ParseStopEvent(cleaned); ok {
			output = event
		}
	}

	return domain.CommandResult{
		Command:      command,
		Success:      true,
		Output:       output,
		Raw:          clipRaw(gdb.TruncateOutput(cleaned, maxOutputLines)),
		ElapsedMS:    d.elapsedMS(started),
		SerialOutput: d.consoleDelta(ls),
	}
}

// consoleResult serves the console pseudo-commands, which read the emulator
// sink without touching the debugger.
func (d *Dispatcher) consoleResult(ls *liveSession, command string, started time.Time, limit int, full bool) domain.CommandResult {
	if ls.cursor == nil {
		return d.failure(ls, command, started, fmt.Errorf("session has no console sink"))
	}

	var text string
	var err error
	if full {
		text, err = ls.cursor.ReadAll(limit)
	} else {
		text, err = ls.cursor.ReadNew(limit)
	}
	if err != nil {
		return d.failure(ls, command, started, fmt.Errorf("read console sink: %w", err))
	}

	return domain.CommandResult{
		Command:   command,
		Success:   true,
		Output:    text,
		ElapsedMS: d.elapsedMS(started),
	}
}

func (d *Dispatcher) failure(ls *liveSession, command string, started time.Time, err error) domain.CommandResult {
	result := domain.CommandResult{
		Command:   command,
		Error:     err.Error(),
		ErrorKind: domain.ClassifyError(err),
		ElapsedMS: d.elapsedMS(started),
	}

	// The debugger's own error text is more useful than our wrapper.
	var protocol *domain.ProtocolError
	if errors.As(err, &protocol) && protocol.Output != "" {
		result.Error = protocol.Output
	}

	result.SerialOutput = d.consoleDelta(ls)
	return result
}

// consoleDelta is the console content produced during the command. The sink
// is written by another process, so an empty first read gets a short settle
// window before deciding nothing arrived.
func (d *Dispatcher) consoleDelta(ls *liveSession) string {
	if ls.cursor == nil {
		return ""
	}

	delta, err := ls.cursor.ReadNew(serialDeltaLimit)
	if err != nil {
		d.logger.Debug("console delta read", slog.Any("error", err))
		return ""
	}
	if delta == "" && ls.cursor.AwaitChange(serialSettle) {
		delta, _ = ls.cursor.ReadNew(serialDeltaLimit)
	}
	return delta
}

func (d *Dispatcher) elapsedMS(started time.Time) int64 {
	return d.clock.Now().Sub(started).Milliseconds()
}

// commandPolicy picks the wait bounds for a command: resume-class commands
// get the long deadline and stop detection, everything else completes on the
// next prompt.
func commandPolicy(command string, opts ExecOptions) gdb.WaitOptions {
	first := ""
	if fields := strings.Fields(command); len(fields) > 0 {
		first = strings.ToLower(fields[0])
	}
	_, resume := resumeWords[first]

	wait := gdb.WaitOptions{Timeout: defaultCommandTimeout, DetectStop: resume}
	if resume {
		wait.Timeout = executionTimeout
	}
	if opts.Timeout > 0 {
		wait.Timeout = opts.Timeout
	}
	return wait
}

func failurePhrase(text string) (string, bool) {
	for _, phrase := range failurePhrases {
		if strings.Contains(text, phrase) {
			return phrase, true
		}
	}
	return "", false
}

func clipRaw(raw string) string {
	if len(raw) > rawLimit {
		return raw[:rawLimit]
	}
	return raw
}
