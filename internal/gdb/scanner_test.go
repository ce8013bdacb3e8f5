package gdb

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/bnema/kdbg/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// scriptedReader returns one chunk per ReadAvailable call, then empty strings.
type scriptedReader struct {
	chunks []string
	calls  int
	err    error
}

func (r *scriptedReader) ReadAvailable(_ int) (string, error) {
	if r.err != nil {
		return "", r.err
	}
	if r.calls >= len(r.chunks) {
		return "", nil
	}
	chunk := r.chunks[r.calls]
	r.calls++
	return chunk, nil
}

func waitOpts(timeout time.Duration, detectStop bool) WaitOptions {
	return WaitOptions{
		Timeout:      timeout,
		DetectStop:   detectStop,
		PollInterval: time.Millisecond,
	}
}

func TestWaitOutputReturnsOnPromptSuffix(t *testing.T) {
	t.Parallel()

	reader := &scriptedReader{chunks: []string{
		"rax            0x0",
		"    0\n",
		"(gdb) ",
	}}

	out, err := NewScanner(nil).WaitOutput(context.Background(), reader, waitOpts(time.Second, false))
	require.NoError(t, err)
	assert.True(t, strings.HasSuffix(strings.TrimRight(out, " \t\r\n"), Prompt))
	assert.Contains(t, out, "rax")
}

func TestWaitOutputPromptMidStreamDoesNotComplete(t *testing.T) {
	t.Parallel()

	// A prompt in the middle of the accumulator is not completion; only a
	// prompt-terminated accumulator is.
	reader := &scriptedReader{chunks: []string{
		"(gdb) partial output without terminal prompt",
	}}

	_, err := NewScanner(nil).WaitOutput(context.Background(), reader, waitOpts(50*time.Millisecond, false))

	var timeout *domain.TimeoutError
	require.ErrorAs(t, err, &timeout)
	assert.Contains(t, timeout.Partial, "partial output")
}

func TestWaitOutputStopEventBeatsDeadline(t *testing.T) {
	t.Parallel()

	reader := &scriptedReader{chunks: []string{
		"Continuing.\n",
		"Breakpoint 1, kernel_main () at kernel/src/main.rs:42\n",
		"42          let x = 1;\n(gdb) \n",
	}}

	start := time.Now()
	out, err := NewScanner(nil).WaitOutput(context.Background(), reader, waitOpts(5*time.Minute, true))
	require.NoError(t, err)
	assert.Less(t, time.Since(start), time.Second)
	assert.Contains(t, out, "Breakpoint 1,")
}

func TestWaitOutputStopMarkerMidLineIgnored(t *testing.T) {
	t.Parallel()

	// The marker must begin a line; a log line mentioning the phrase is not
	// a stop event, and without a terminal prompt the wait times out.
	reader := &scriptedReader{chunks: []string{
		"kernel log: set Breakpoint 1 handler\n",
	}}

	_, err := NewScanner(nil).WaitOutput(context.Background(), reader, waitOpts(50*time.Millisecond, true))
	var timeout *domain.TimeoutError
	require.ErrorAs(t, err, &timeout)
}

func TestWaitOutputStopMarkerWithoutPromptKeepsWaiting(t *testing.T) {
	t.Parallel()

	reader := &scriptedReader{chunks: []string{
		"Breakpoint 1, kernel_main () at kernel/src/main.rs:42\n",
	}}

	_, err := NewScanner(nil).WaitOutput(context.Background(), reader, waitOpts(50*time.Millisecond, true))
	var timeout *domain.TimeoutError
	require.ErrorAs(t, err, &timeout)
	assert.Contains(t, timeout.Partial, "Breakpoint 1,")
}

func TestWaitOutputDeadlinePreservesPartial(t *testing.T) {
	t.Parallel()

	reader := &scriptedReader{chunks: []string{"Continuing.\n"}}

	_, err := NewScanner(nil).WaitOutput(context.Background(), reader, waitOpts(30*time.Millisecond, false))

	var timeout *domain.TimeoutError
	require.ErrorAs(t, err, &timeout)
	assert.Equal(t, "Continuing.\n", timeout.Partial)
}

func TestWaitOutputReaderErrorSurfaces(t *testing.T) {
	t.Parallel()

	readErr := errors.New("pipe closed")
	reader := &scriptedReader{err: readErr}

	_, err := NewScanner(nil).WaitOutput(context.Background(), reader, waitOpts(time.Second, false))
	require.ErrorIs(t, err, readErr)
}

func TestWaitOutputContextCancellation(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := NewScanner(nil).WaitOutput(ctx, &scriptedReader{}, waitOpts(time.Second, false))
	require.ErrorIs(t, err, context.Canceled)
}

func TestCapBufferRetainsHeadAndTail(t *testing.T) {
	t.Parallel()

	var acc strings.Builder
	acc.WriteString(strings.Repeat("H", 600))
	acc.WriteString(strings.Repeat("T", 600))

	capped := capBuffer(&acc, 1000)
	assert.Less(t, len(capped), 1200)
	assert.True(t, strings.HasPrefix(capped, "H"))
	assert.True(t, strings.HasSuffix(capped, "T"))
	assert.Contains(t, capped, "output trimmed")
}
