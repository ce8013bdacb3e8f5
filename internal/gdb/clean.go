package gdb

import (
	"fmt"
	"strings"
)

const truncateMaxLines = 100

// CleanOutput strips prompt lines and the verbatim command echo from one
// command's captured text. Some debugger configurations echo the command and
// some do not; both are tolerated.
func CleanOutput(command, raw string) string {
	lines := strings.Split(raw, "\n")
	kept := make([]string, 0, len(lines))

	for _, line := range lines {
		trimmed := strings.TrimSpace(line)
		if trimmed == "" || trimmed == Prompt {
			continue
		}
		if command != "" && strings.Contains(line, command) {
			continue
		}
		// Prompt glued to the front of a line when output follows a pause.
		trimmed = strings.TrimSpace(strings.TrimPrefix(trimmed, Prompt))
		if trimmed == "" {
			continue
		}
		kept = append(kept, trimmed)
	}

	return strings.Join(kept, "\n")
}

// TruncateOutput bounds large payloads while preserving both ends: the head
// usually carries the echo and first diagnostics, the tail the final state.
func TruncateOutput(text string, maxLines int) string {
	if text == "" {
		return text
	}
	if maxLines <= 0 {
		maxLines = truncateMaxLines
	}

	lines := strings.Split(text, "\n")
	if len(lines) <= maxLines {
		return text
	}

	keepTop := maxLines * 2 / 5
	keepBottom := maxLines * 2 / 5
	omitted := len(lines) - keepTop - keepBottom

	return strings.Join(lines[:keepTop], "\n") +
		fmt.Sprintf("\n\n... [%d lines omitted] ...\n\n", omitted) +
		strings.Join(lines[len(lines)-keepBottom:], "\n")
}
