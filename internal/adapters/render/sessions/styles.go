package sessions

import "github.com/charmbracelet/lipgloss"

type styles struct {
	title     lipgloss.Style
	header    lipgloss.Style
	session   lipgloss.Style
	mode      lipgloss.Style
	detail    lipgloss.Style
	warning   lipgloss.Style
	section   lipgloss.Style
	empty     lipgloss.Style
	badgeLive lipgloss.Style
	badgeDead lipgloss.Style
}

func newStyles() styles {
	return styles{
		title:     lipgloss.NewStyle().Bold(true),
		header:    lipgloss.NewStyle().Foreground(lipgloss.Color("241")),
		session:   lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("39")),
		mode:      lipgloss.NewStyle().Foreground(lipgloss.Color("250")),
		detail:    lipgloss.NewStyle().Foreground(lipgloss.Color("245")),
		warning:   lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("203")),
		section:   lipgloss.NewStyle().MarginTop(1),
		empty:     lipgloss.NewStyle().Faint(true),
		badgeLive: lipgloss.NewStyle().Foreground(lipgloss.Color("42")),
		badgeDead: lipgloss.NewStyle().Foreground(lipgloss.Color("238")),
	}
}
