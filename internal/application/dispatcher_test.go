package application

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bnema/kdbg/internal/domain"
	"github.com/bnema/kdbg/internal/gdb"
	"github.com/bnema/kdbg/internal/ports"
)

func newDispatcherFixture() (*Dispatcher, *fakeTransport, *fakeCursor, *liveSession) {
	logger := discardLogger()
	transport := newFakeTransport()
	// Consume the startup banner so each test starts at a quiet prompt.
	transport.pending = ""
	cursor := &fakeCursor{}

	ls := &liveSession{
		session:   domain.Session{ID: "gdb-test"},
		transport: transport,
		cursor:    cursor,
	}

	return NewDispatcher(gdb.NewScanner(logger), ports.SystemClock{}, logger), transport, cursor, ls
}

func TestCommandPolicy(t *testing.T) {
	t.Parallel()

	tests := []struct {
		command    string
		opts       ExecOptions
		timeout    time.Duration
		detectStop bool
	}{
		{command: "info registers", timeout: 30 * time.Second},
		{command: "bt", timeout: 30 * time.Second},
		{command: "continue", timeout: 5 * time.Minute, detectStop: true},
		{command: "cont", timeout: 5 * time.Minute, detectStop: true},
		{command: "c", timeout: 5 * time.Minute, detectStop: true},
		{command: "Continue", timeout: 5 * time.Minute, detectStop: true},
		{command: "  continue  ", timeout: 5 * time.Minute, detectStop: true},
		{command: "run", timeout: 5 * time.Minute, detectStop: true},
		{command: "start", timeout: 5 * time.Minute, detectStop: true},
		{command: "contx", timeout: 30 * time.Second},
		{command: "continue", opts: ExecOptions{Timeout: time.Second}, timeout: time.Second, detectStop: true},
		{command: "x/4x 0x1000", timeout: 30 * time.Second},
	}

	for _, tt := range tests {
		wait := commandPolicy(tt.command, tt.opts)
		assert.Equal(t, tt.timeout, wait.Timeout, tt.command)
		assert.Equal(t, tt.detectStop, wait.DetectStop, tt.command)
	}
}

func TestExecuteParsesBacktrace(t *testing.T) {
	t.Parallel()

	dispatcher, transport, _, ls := newDispatcherFixture()
	transport.script["bt"] = "#0  0xffffffff80001234 in kernel_main () at kernel/src/main.rs:42\n(gdb) "

	result := dispatcher.Execute(context.Background(), ls, "bt", ExecOptions{})
	require.True(t, result.Success, "error=%s", result.Error)

	frames, ok := result.Output.([]domain.StackFrame)
	require.True(t, ok, "output type %T", result.Output)
	require.Len(t, frames, 1)
	assert.Equal(t, "kernel_main", frames[0].Function)
	assert.Equal(t, 42, frames[0].Line)
}

func TestExecuteProtocolFailurePhrase(t *testing.T) {
	t.Parallel()

	dispatcher, transport, _, ls := newDispatcherFixture()
	transport.script["info registers"] = "Cannot access memory at address 0x0\n(gdb) "

	result := dispatcher.Execute(context.Background(), ls, "info registers", ExecOptions{})
	assert.False(t, result.Success)
	assert.Equal(t, domain.ErrorProtocol, result.ErrorKind)
	assert.Contains(t, result.Error, "Cannot access memory")
	assert.Nil(t, result.Output)
}

func TestExecuteMissingSymbolFails(t *testing.T) {
	t.Parallel()

	dispatcher, transport, _, ls := newDispatcherFixture()
	transport.script["break no_such_fn"] = "No symbol \"no_such_fn\" in current context.\n(gdb) "

	result := dispatcher.Execute(context.Background(), ls, "break no_such_fn", ExecOptions{})
	assert.False(t, result.Success)
	assert.Equal(t, domain.ErrorProtocol, result.ErrorKind)
}

func TestExecuteTimeoutPreservesPartialOutput(t *testing.T) {
	t.Parallel()

	dispatcher, transport, _, ls := newDispatcherFixture()
	// No prompt and no stop event: the wait can only end at the deadline.
	transport.script["continue"] = "Continuing.\n"

	result := dispatcher.Execute(context.Background(), ls, "continue", ExecOptions{Timeout: 150 * time.Millisecond})
	assert.False(t, result.Success)
	assert.Equal(t, domain.ErrorTimeout, result.ErrorKind)
	assert.Contains(t, result.Raw, "Continuing.")
}

func TestExecuteInterruptAfterBreaksIn(t *testing.T) {
	t.Parallel()

	dispatcher, transport, _, ls := newDispatcherFixture()
	transport.script["continue"] = "Continuing.\n"

	start := time.Now()
	result := dispatcher.Execute(context.Background(), ls, "continue", ExecOptions{InterruptAfter: 30 * time.Millisecond})
	elapsed := time.Since(start)

	require.True(t, result.Success, "error=%s", result.Error)
	assert.True(t, transport.wasInterrupted())
	assert.Less(t, elapsed, 5*time.Second, "interrupt must end the wait well before the deadline")

	event, ok := result.Output.(domain.StopEvent)
	require.True(t, ok, "output type %T", result.Output)
	assert.Equal(t, domain.StopSignal, event.Reason)
	assert.Equal(t, "SIGINT", event.Signal)
}

func TestExecuteStopEventCompletesResume(t *testing.T) {
	t.Parallel()

	dispatcher, transport, _, ls := newDispatcherFixture()
	transport.script["continue"] = "Continuing.\n\nBreakpoint 1, kernel_main () at kernel/src/main.rs:42\n(gdb) "

	result := dispatcher.Execute(context.Background(), ls, "continue", ExecOptions{})
	require.True(t, result.Success, "error=%s", result.Error)

	event, ok := result.Output.(domain.StopEvent)
	require.True(t, ok, "output type %T", result.Output)
	assert.Equal(t, domain.StopBreakpoint, event.Reason)
	assert.Equal(t, 1, event.Breakpoint)
	assert.Equal(t, "kernel_main", event.Function)
}

func TestExecuteNotRunning(t *testing.T) {
	t.Parallel()

	dispatcher, transport, _, ls := newDispatcherFixture()
	transport.running = false

	result := dispatcher.Execute(context.Background(), ls, "info registers", ExecOptions{})
	assert.False(t, result.Success)
	assert.Equal(t, domain.ErrorNotRunning, result.ErrorKind)
}

func TestExecuteAttachesConsoleDelta(t *testing.T) {
	t.Parallel()

	dispatcher, transport, cursor, ls := newDispatcherFixture()
	cursor.append("[boot] earlier output\n")
	transport.script["info registers"] = "rax            0x0                 0\n(gdb) "
	transport.onWrite = func(_ string) {
		cursor.append("[kernel] page fault handled\n")
	}

	result := dispatcher.Execute(context.Background(), ls, "info registers", ExecOptions{})
	require.True(t, result.Success, "error=%s", result.Error)

	assert.Equal(t, "[kernel] page fault handled\n", result.SerialOutput,
		"only console output produced during the command is attached")
}

func TestExecuteSerialReadsWholeSink(t *testing.T) {
	t.Parallel()

	dispatcher, _, cursor, ls := newDispatcherFixture()
	cursor.append("[boot] line one\n[boot] line two\n")

	result := dispatcher.Execute(context.Background(), ls, "serial", ExecOptions{})
	require.True(t, result.Success)
	assert.Equal(t, "[boot] line one\n[boot] line two\n", result.Output)
}

func TestExecuteSerialNewReadsDelta(t *testing.T) {
	t.Parallel()

	dispatcher, _, cursor, ls := newDispatcherFixture()
	cursor.append("[boot] line one\n")

	first := dispatcher.Execute(context.Background(), ls, "serial-new", ExecOptions{})
	require.True(t, first.Success)
	assert.Equal(t, "[boot] line one\n", first.Output)

	cursor.append("[boot] line two\n")
	second := dispatcher.Execute(context.Background(), ls, "serial-new", ExecOptions{})
	require.True(t, second.Success)
	assert.Equal(t, "[boot] line two\n", second.Output)
}
