package gdb

import (
	"testing"

	"github.com/bnema/kdbg/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseRegisters(t *testing.T) {
	t.Parallel()

	raw := "rax            0x0    0\n" +
		"rbx            0xffff800000010000    281474976776192\n" +
		"rip            0xffffffff80001234    0xffffffff80001234 <kernel_main+4>\n" +
		"this line does not match\n"

	got := ParseRegisters(raw)

	assert.Equal(t, domain.RegisterSnapshot{
		"rax": "0x0",
		"rbx": "0xffff800000010000",
		"rip": "0xffffffff80001234",
	}, got)
}

func TestParseRegistersDuplicateNameOverwrites(t *testing.T) {
	t.Parallel()

	got := ParseRegisters("rax 0x1 1\nrax 0x2 2\n")
	assert.Equal(t, domain.RegisterSnapshot{"rax": "0x2"}, got)
}

func TestParseRegistersRoundTrip(t *testing.T) {
	t.Parallel()

	snapshot := domain.RegisterSnapshot{
		"rax": "0x0",
		"rbx": "0xffff800000010000",
		"cs":  "0x8",
	}

	assert.Equal(t, snapshot, ParseRegisters(FormatRegisters(snapshot)))
}

func TestParseBacktraceWithSource(t *testing.T) {
	t.Parallel()

	raw := "#0  0xffffffff80001234 in kernel_main () at kernel/src/main.rs:42"

	frames := ParseBacktrace(raw)
	require.Len(t, frames, 1)
	assert.Equal(t, domain.StackFrame{
		Number:   0,
		Address:  "0xffffffff80001234",
		Function: "kernel_main",
		Args:     "",
		File:     "kernel/src/main.rs",
		Line:     42,
	}, frames[0])
}

func TestParseBacktraceMixedFrames(t *testing.T) {
	t.Parallel()

	raw := "#0  0xffffffff80001234 in kernel_main () at kernel/src/main.rs:42\n" +
		"#1  0xffffffff80001000 in _start\n" +
		"garbage line\n" +
		"#2  0xffffffff80000800 in idle_loop (cpu=0) at kernel/src/sched.rs:88\n"

	frames := ParseBacktrace(raw)
	require.Len(t, frames, 3)

	assert.Equal(t, 1, frames[1].Number)
	assert.Equal(t, "_start", frames[1].Function)
	assert.Empty(t, frames[1].File)

	assert.Equal(t, "cpu=0", frames[2].Args)
	assert.Equal(t, 88, frames[2].Line)
}

func TestParseMemorySynthesizesPerWordAddresses(t *testing.T) {
	t.Parallel()

	raw := "0xffff800000010000:    0x0000000000000000    0x0000000000000001\n" +
		"0xffff800000010010 <boot_info>:    0x00000000000000ff\n"

	words := ParseMemory(raw, 8)
	require.Len(t, words, 3)

	assert.Equal(t, domain.MemoryWord{Address: "0xffff800000010000", Value: "0x0000000000000000"}, words[0])
	assert.Equal(t, domain.MemoryWord{Address: "0xffff800000010008", Value: "0x0000000000000001"}, words[1])
	assert.Equal(t, domain.MemoryWord{Address: "0xffff800000010010", Value: "0x00000000000000ff"}, words[2])
}

func TestWordWidth(t *testing.T) {
	t.Parallel()

	tests := []struct {
		command string
		want    int
	}{
		{"x/4xg 0x1000", 8},
		{"x/4gx 0x1000", 8},
		{"x/8xw $rsp", 4},
		{"x/2xh 0x1000", 2},
		{"x/16xb 0x1000", 1},
		{"x/4x 0x1000", 8},
		{"x $pc", 8},
	}

	for _, tt := range tests {
		t.Run(tt.command, func(t *testing.T) {
			t.Parallel()
			assert.Equal(t, tt.want, WordWidth(tt.command))
		})
	}
}

func TestParseDispatchesByCommandPrefix(t *testing.T) {
	t.Parallel()

	registers := Parse("info registers", "rax            0x0    0")
	assert.IsType(t, domain.RegisterSnapshot{}, registers)

	frames := Parse("bt", "#0  0xffffffff80001234 in kernel_main () at kernel/src/main.rs:42")
	assert.IsType(t, []domain.StackFrame{}, frames)

	words := Parse("x/2xg 0x1000", "0x1000:    0x0    0x1")
	assert.IsType(t, []domain.MemoryWord{}, words)

	raw := Parse("info threads", "  Id   Target Id")
	assert.Equal(t, "  Id   Target Id", raw)
}

func TestParseBreakpointSet(t *testing.T) {
	t.Parallel()

	bp, ok := ParseBreakpointSet("Breakpoint 1 at 0xffffffff80001234: file kernel/src/main.rs, line 42.")
	require.True(t, ok)
	assert.Equal(t, domain.BreakpointInfo{
		Number:  1,
		Address: "0xffffffff80001234",
		File:    "kernel/src/main.rs",
		Line:    42,
	}, bp)

	bp, ok = ParseBreakpointSet("Breakpoint 2 at 0xffffffff80001000")
	require.True(t, ok)
	assert.Empty(t, bp.File)
	assert.Zero(t, bp.Line)

	_, ok = ParseBreakpointSet("Function \"nope\" not defined.")
	assert.False(t, ok)
}

func TestParseStopEvent(t *testing.T) {
	t.Parallel()

	event, ok := ParseStopEvent("Breakpoint 1, kernel_main () at kernel/src/main.rs:42\n42          let x = 1;")
	require.True(t, ok)
	assert.Equal(t, domain.StopBreakpoint, event.Reason)
	assert.Equal(t, 1, event.Breakpoint)
	assert.Equal(t, "kernel_main", event.Function)
	assert.Equal(t, "kernel/src/main.rs", event.File)
	assert.Equal(t, 42, event.Line)

	event, ok = ParseStopEvent("Program received signal SIGSEGV, Segmentation fault.")
	require.True(t, ok)
	assert.Equal(t, domain.StopSignal, event.Reason)
	assert.Equal(t, "SIGSEGV", event.Signal)
	assert.Equal(t, "Segmentation fault", event.Description)

	event, ok = ParseStopEvent("Program exited with code 03.")
	require.True(t, ok)
	assert.Equal(t, domain.StopExited, event.Reason)
	assert.Equal(t, 3, event.ExitCode)

	event, ok = ParseStopEvent("Program exited normally.")
	require.True(t, ok)
	assert.Zero(t, event.ExitCode)

	_, ok = ParseStopEvent("Continuing.")
	assert.False(t, ok)
}

func TestCleanOutputStripsEchoAndPrompt(t *testing.T) {
	t.Parallel()

	raw := "info registers\nrax            0x0    0\n(gdb) \n"
	assert.Equal(t, "rax            0x0    0", CleanOutput("info registers", raw))

	// Echo-less configuration.
	raw = "rax            0x0    0\n(gdb) "
	assert.Equal(t, "rax            0x0    0", CleanOutput("info registers", raw))
}

func TestTruncateOutputKeepsHeadAndTail(t *testing.T) {
	t.Parallel()

	var lines []string
	for i := 0; i < 200; i++ {
		lines = append(lines, "line")
	}
	text := ""
	for i, l := range lines {
		if i > 0 {
			text += "\n"
		}
		text += l
	}

	got := TruncateOutput(text, 100)
	assert.Contains(t, got, "lines omitted")
	assert.Less(t, len(got), len(text))

	short := "a\nb\nc"
	assert.Equal(t, short, TruncateOutput(short, 100))
}
