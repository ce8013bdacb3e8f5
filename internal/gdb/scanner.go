package gdb

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/bnema/kdbg/internal/domain"
)

// Prompt is the sentinel the debugger prints when ready for the next command.
const Prompt = "(gdb)"

const (
	defaultPollInterval = 100 * time.Millisecond
	defaultIdleWindow   = 10 * time.Second
	defaultMaxBuffer    = 256 << 10
)

// ByteReader is the non-blocking read surface the scanner consumes. An empty
// string means no bytes were ready within the transport's poll interval.
type ByteReader interface {
	ReadAvailable(max int) (string, error)
}

// WaitOptions bounds one wait for command completion.
type WaitOptions struct {
	// Timeout is the absolute deadline; it always fires.
	Timeout time.Duration
	// DetectStop enables the stop-event terminal condition and the idle
	// heartbeat. Used for continue/run class commands.
	DetectStop bool
	// PollInterval is how long to sleep between empty reads.
	PollInterval time.Duration
	// IdleWindow is how long without new bytes before a heartbeat is logged.
	// Only active with DetectStop; it never ends the wait by itself.
	IdleWindow time.Duration
	// MaxBuffer caps the accumulator; beyond it the middle is dropped,
	// retaining head and tail segments.
	MaxBuffer int
}

func (o *WaitOptions) applyDefaults() {
	if o.PollInterval <= 0 {
		o.PollInterval = defaultPollInterval
	}
	if o.IdleWindow <= 0 {
		o.IdleWindow = defaultIdleWindow
	}
	if o.MaxBuffer <= 0 {
		o.MaxBuffer = defaultMaxBuffer
	}
}

// Scanner turns a stream of arbitrary-length chunks into one command's full
// output, terminated by the prompt or a stop event followed by the prompt.
type Scanner struct {
	logger *slog.Logger
}

func NewScanner(logger *slog.Logger) *Scanner {
	if logger == nil {
		logger = slog.Default()
	}
	return &Scanner{logger: logger}
}

// WaitOutput accumulates reader output until a terminal condition holds.
// Terminal conditions, in priority order:
//
//  1. DetectStop is set, a stop-event marker begins a line, and the
//     accumulator is prompt-terminated. The stop message usually precedes
//     the re-printed prompt; the combination signals a true pause.
//  2. The accumulator, right-trimmed, ends with the prompt.
//
// Exceeding Timeout returns a domain.TimeoutError carrying the partial
// accumulator for diagnostics.
func (s *Scanner) WaitOutput(ctx context.Context, r ByteReader, opts WaitOptions) (string, error) {
	opts.applyDefaults()

	var acc strings.Builder
	buffered := ""
	deadline := time.Now().Add(opts.Timeout)
	lastByteAt := time.Now()

	for {
		if err := ctx.Err(); err != nil {
			return "", fmt.Errorf("wait for prompt: %w", err)
		}
		if time.Now().After(deadline) {
			return "", &domain.TimeoutError{Partial: buffered}
		}

		chunk, err := r.ReadAvailable(4096)
		if err != nil {
			return "", fmt.Errorf("read debugger output: %w", err)
		}

		if chunk == "" {
			if opts.DetectStop && time.Since(lastByteAt) > opts.IdleWindow {
				s.logger.Debug("no debugger output while awaiting stop event",
					slog.Duration("idle", time.Since(lastByteAt)),
					slog.Int("buffered", len(buffered)))
				lastByteAt = time.Now()
			}
			time.Sleep(opts.PollInterval)
			continue
		}

		lastByteAt = time.Now()
		acc.WriteString(chunk)
		buffered = capBuffer(&acc, opts.MaxBuffer)

		if opts.DetectStop {
			if at, ok := stopMarkerLineIndex(buffered); ok && strings.Contains(buffered[at:], Prompt) {
				return buffered, nil
			}
		}
		if strings.HasSuffix(strings.TrimRight(buffered, " \t\r\n"), Prompt) {
			return buffered, nil
		}
	}
}

// capBuffer returns the builder's contents, dropping the middle once the
// accumulator outgrows max. Head and tail are retained so both the original
// command echo and the terminal prompt stay discoverable.
func capBuffer(acc *strings.Builder, max int) string {
	text := acc.String()
	if len(text) <= max {
		return text
	}

	keep := max * 2 / 5
	capped := text[:keep] + "\n... [output trimmed] ...\n" + text[len(text)-keep:]
	acc.Reset()
	acc.WriteString(capped)
	return capped
}

var stopMarkers = []string{
	"Breakpoint ",
	"Program received signal",
	"Program exited",
}

// stopMarkerLineIndex locates the first stop-event marker that begins a
// distinct line, returning the byte offset of that line. Substring search
// alone is racy: a symbol or log line could contain the trigger phrase
// mid-line, and the prompt must follow the marker before the pause is real.
func stopMarkerLineIndex(text string) (int, bool) {
	offset := 0
	for _, line := range strings.Split(text, "\n") {
		trimmed := strings.TrimSpace(line)
		for _, marker := range stopMarkers {
			if strings.HasPrefix(trimmed, marker) {
				return offset, true
			}
		}
		offset += len(line) + 1
	}
	return 0, false
}
