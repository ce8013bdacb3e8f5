// Package sessions renders session listings for the terminal.
package sessions

import (
	"fmt"
	"math"
	"time"

	"github.com/charmbracelet/lipgloss"

	"github.com/bnema/kdbg/internal/domain"
)

type RenderOptions struct {
	Now time.Time
}

func renderView(statuses []domain.SessionStatus, opts RenderOptions, s styles) string {
	lines := []string{
		s.title.Render("Kernel Debug Sessions"),
		s.header.Render(fmt.Sprintf("sessions: %d", len(statuses))),
	}

	if len(statuses) == 0 {
		lines = append(lines, s.empty.Render("No sessions recorded."))
		return lipgloss.JoinVertical(lipgloss.Left, lines...)
	}

	for _, status := range statuses {
		lines = append(lines, s.section.Render(renderSession(status, opts, s)))
	}

	return lipgloss.JoinVertical(lipgloss.Left, lines...)
}

func renderSession(status domain.SessionStatus, opts RenderOptions, s styles) string {
	session := status.Session

	badge := s.badgeLive.Render("●")
	idStyle := s.session
	if !status.Alive() {
		badge = s.badgeDead.Render("○")
		idStyle = s.detail
	}

	head := lipgloss.JoinHorizontal(
		lipgloss.Top,
		badge,
		" ",
		idStyle.Render(string(session.ID)),
		"  ",
		s.mode.Render(string(session.Mode)),
		"  ",
		s.detail.Render(session.TargetBinary),
	)
	if note := livenessNote(status); note != "" {
		head += " " + s.warning.Render(note)
	}

	detail := s.detail.Render(fmt.Sprintf("gdb %d · qemu %d · %d commands · %s",
		session.DebuggerPID,
		session.EmulatorPID,
		session.CommandCount,
		formatUptime(session.StartedAt, opts.Now)))

	return lipgloss.JoinVertical(lipgloss.Left, head, "  "+detail)
}

func livenessNote(status domain.SessionStatus) string {
	switch {
	case status.Alive():
		return ""
	case !status.DebuggerAlive && !status.EmulatorAlive:
		return "[dead]"
	case !status.DebuggerAlive:
		return "[gdb dead]"
	default:
		return "[qemu dead]"
	}
}

func formatUptime(started, now time.Time) string {
	if started.IsZero() || now.IsZero() || now.Before(started) {
		return "uptime n/a"
	}

	up := now.Sub(started)
	switch {
	case up < time.Minute:
		return "up <1 min"
	case up < time.Hour:
		return fmt.Sprintf("up %d min", int(up.Minutes()))
	case up < 24*time.Hour:
		hours := int(math.Round(up.Hours()))
		suffix := "hours"
		if hours == 1 {
			suffix = "hour"
		}
		return fmt.Sprintf("up %d %s", hours, suffix)
	default:
		days := int(up.Hours() / 24)
		suffix := "days"
		if days == 1 {
			suffix = "day"
		}
		return fmt.Sprintf("up %d %s", days, suffix)
	}
}
