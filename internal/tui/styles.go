package tui

import "github.com/charmbracelet/lipgloss"

var styles = struct {
	title   lipgloss.Style
	id      lipgloss.Style
	faint   lipgloss.Style
	running lipgloss.Style
	success lipgloss.Style
	warning lipgloss.Style
	failure lipgloss.Style
}{
	title: lipgloss.NewStyle().
		Bold(true).
		Foreground(lipgloss.Color("#45B7D1")).
		BorderStyle(lipgloss.NormalBorder()).
		BorderBottom(true).
		BorderForeground(lipgloss.Color("238")),
	id:      lipgloss.NewStyle().Foreground(lipgloss.Color("205")),
	faint:   lipgloss.NewStyle().Foreground(lipgloss.Color("243")),
	running: lipgloss.NewStyle().Foreground(lipgloss.Color("39")),
	success: lipgloss.NewStyle().Foreground(lipgloss.Color("34")),
	warning: lipgloss.NewStyle().Foreground(lipgloss.Color("214")),
	failure: lipgloss.NewStyle().Foreground(lipgloss.Color("196")),
}
