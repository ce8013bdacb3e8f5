package gdb

import (
	"fmt"
	"regexp"
	"sort"
	"strconv"
	"strings"

	"github.com/bnema/kdbg/internal/domain"
)

// Parse transforms one command's cleaned console text into a structured
// value, selected by command prefix. Unrecognized commands pass the text
// through unchanged. The transform is pure: malformed lines are skipped,
// never fatal.
func Parse(command, text string) any {
	cmd := strings.ToLower(strings.TrimSpace(command))

	switch {
	case strings.HasPrefix(cmd, "info reg"):
		return ParseRegisters(text)
	case strings.HasPrefix(cmd, "bt") || strings.HasPrefix(cmd, "backtrace"):
		return ParseBacktrace(text)
	case strings.HasPrefix(cmd, "x/") || strings.HasPrefix(cmd, "x "):
		return ParseMemory(text, WordWidth(command))
	case strings.HasPrefix(cmd, "break") || strings.HasPrefix(cmd, "tbreak") || strings.HasPrefix(cmd, "hbreak"):
		if bp, ok := ParseBreakpointSet(text); ok {
			return bp
		}
		return text
	default:
		return text
	}
}

var registerPattern = regexp.MustCompile(`^(\w+)\s+(0x[0-9a-fA-F]+)`)

// ParseRegisters scans "info registers" output line by line. A line matching
// <name><whitespace><hex> contributes one entry; a later duplicate name
// overwrites the earlier one.
func ParseRegisters(text string) domain.RegisterSnapshot {
	registers := domain.RegisterSnapshot{}
	for _, line := range strings.Split(text, "\n") {
		if m := registerPattern.FindStringSubmatch(strings.TrimSpace(line)); m != nil {
			registers[m[1]] = m[2]
		}
	}
	return registers
}

// FormatRegisters renders a snapshot back to the debugger's own line format,
// names sorted for stable output. ParseRegisters of the result yields the
// same snapshot.
func FormatRegisters(registers domain.RegisterSnapshot) string {
	names := make([]string, 0, len(registers))
	for name := range registers {
		names = append(names, name)
	}
	sort.Strings(names)

	var b strings.Builder
	for _, name := range names {
		fmt.Fprintf(&b, "%-15s%s\n", name, registers[name])
	}
	return b.String()
}

var (
	framePattern         = regexp.MustCompile(`#(\d+)\s+(0x[0-9a-fA-F]+)\s+in\s+(\S+)\s*\(([^)]*)\)(?:\s+at\s+([^:]+):(\d+))?`)
	frameNoSourcePattern = regexp.MustCompile(`#(\d+)\s+(0x[0-9a-fA-F]+)\s+in\s+(\S+)`)
)

// ParseBacktrace extracts ordered stack frames, innermost first. Frames
// lacking source info still parse with address and function only.
func ParseBacktrace(text string) []domain.StackFrame {
	frames := make([]domain.StackFrame, 0, 8)
	for _, line := range strings.Split(text, "\n") {
		line = strings.TrimSpace(line)

		if m := framePattern.FindStringSubmatch(line); m != nil {
			frame := domain.StackFrame{
				Number:   mustAtoi(m[1]),
				Address:  m[2],
				Function: m[3],
				Args:     m[4],
			}
			if m[5] != "" {
				frame.File = m[5]
				frame.Line = mustAtoi(m[6])
			}
			frames = append(frames, frame)
			continue
		}

		if m := frameNoSourcePattern.FindStringSubmatch(line); m != nil {
			frames = append(frames, domain.StackFrame{
				Number:   mustAtoi(m[1]),
				Address:  m[2],
				Function: m[3],
			})
		}
	}
	return frames
}

var (
	memoryLinePattern  = regexp.MustCompile(`^(0x[0-9a-fA-F]+)(?:\s+<[^>]+>)?:\s*(.*)$`)
	memoryValuePattern = regexp.MustCompile(`0x[0-9a-fA-F]+`)
	examineUnitPattern = regexp.MustCompile(`^x/\d*[a-z]*`)
)

// ParseMemory extracts examined words. The debugger coalesces several words
// onto one line; each value's address is synthesized from the line's base
// address plus index times the word width.
func ParseMemory(text string, width int) []domain.MemoryWord {
	if width <= 0 {
		width = 8
	}

	words := make([]domain.MemoryWord, 0, 8)
	for _, line := range strings.Split(text, "\n") {
		m := memoryLinePattern.FindStringSubmatch(strings.TrimSpace(line))
		if m == nil {
			continue
		}

		base, err := strconv.ParseUint(m[1][2:], 16, 64)
		if err != nil {
			continue
		}

		for i, value := range memoryValuePattern.FindAllString(m[2], -1) {
			words = append(words, domain.MemoryWord{
				Address: fmt.Sprintf("0x%x", base+uint64(i*width)),
				Value:   value,
			})
		}
	}
	return words
}

// WordWidth derives the examine unit size in bytes from an x/ command's
// format letters (b, h, w, g); 8 bytes when unspecified.
func WordWidth(command string) int {
	format := examineUnitPattern.FindString(strings.ToLower(strings.TrimSpace(command)))
	for i := len(format) - 1; i >= 0; i-- {
		switch format[i] {
		case 'b':
			return 1
		case 'h':
			return 2
		case 'w':
			return 4
		case 'g':
			return 8
		}
	}
	return 8
}

var breakpointSetPattern = regexp.MustCompile(`Breakpoint\s+(\d+)\s+at\s+(0x[0-9a-fA-F]+)(?::\s+file\s+([^,]+),\s+line\s+(\d+))?`)

// ParseBreakpointSet extracts the descriptor from breakpoint creation output.
func ParseBreakpointSet(text string) (domain.BreakpointInfo, bool) {
	m := breakpointSetPattern.FindStringSubmatch(text)
	if m == nil {
		return domain.BreakpointInfo{}, false
	}

	bp := domain.BreakpointInfo{
		Number:  mustAtoi(m[1]),
		Address: m[2],
	}
	if m[3] != "" {
		bp.File = m[3]
		bp.Line = mustAtoi(m[4])
	}
	return bp, true
}

func mustAtoi(s string) int {
	n, _ := strconv.Atoi(s)
	return n
}
