package gdb

import (
	"regexp"
	"strconv"

	"github.com/bnema/kdbg/internal/domain"
)

var (
	breakpointHitPattern = regexp.MustCompile(`Breakpoint\s+(\d+),\s+(\S+)\s*\(([^)]*)\)(?:\s+at\s+([^:]+):(\d+))?`)
	signalPattern        = regexp.MustCompile(`Program received signal\s+(\S+),\s+(.+)\.`)
	exitPattern          = regexp.MustCompile(`Program exited (?:normally|with code\s+(\d+))`)
)

// ParseStopEvent extracts an asynchronous stop event from arbitrary console
// text. The three patterns are tried in order: breakpoint hit, signal,
// program exit. At most one applies.
func ParseStopEvent(text string) (domain.StopEvent, bool) {
	if m := breakpointHitPattern.FindStringSubmatch(text); m != nil {
		event := domain.StopEvent{
			Reason:     domain.StopBreakpoint,
			Breakpoint: mustAtoi(m[1]),
			Function:   m[2],
			Args:       m[3],
		}
		if m[4] != "" {
			event.File = m[4]
			event.Line = mustAtoi(m[5])
		}
		return event, true
	}

	if m := signalPattern.FindStringSubmatch(text); m != nil {
		return domain.StopEvent{
			Reason:      domain.StopSignal,
			Signal:      m[1],
			Description: m[2],
		}, true
	}

	if m := exitPattern.FindStringSubmatch(text); m != nil {
		code := 0
		if m[1] != "" {
			code, _ = strconv.Atoi(m[1])
		}
		return domain.StopEvent{Reason: domain.StopExited, ExitCode: code}, true
	}

	return domain.StopEvent{}, false
}
