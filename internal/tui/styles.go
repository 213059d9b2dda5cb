package tui

import "github.com/charmbracelet/lipgloss"

// Stage statuses.
const (
	StatusPending = "pending"
	StatusActive  = "active"
	StatusDone    = "done"
	StatusSkipped = "skipped"
	StatusFailed  = "failed"
)

var (
	// HeaderStyle styles the title line.
	HeaderStyle = lipgloss.NewStyle().Bold(true)

	statusStyles = map[string]lipgloss.Style{
		StatusDone:    lipgloss.NewStyle().Foreground(lipgloss.Color("2")),
		StatusActive:  lipgloss.NewStyle().Foreground(lipgloss.Color("4")),
		StatusSkipped: lipgloss.NewStyle().Foreground(lipgloss.Color("3")),
		StatusFailed:  lipgloss.NewStyle().Foreground(lipgloss.Color("1")),
		StatusPending: lipgloss.NewStyle().Faint(true),
	}
)

// StatusStyle returns the lipgloss style for the given status string.
func StatusStyle(status string) lipgloss.Style {
	if s, ok := statusStyles[status]; ok {
		return s
	}
	return lipgloss.NewStyle()
}
