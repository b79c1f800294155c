package tui

import (
	"fmt"
	"strings"

	"github.com/charmbracelet/lipgloss"

	"github.com/ShayCichocki/cascade/pkg/models"
)

// StatsView displays root graph progress and token usage.
type StatsView struct {
	counts models.StatusCounts
	width  int

	inputTokens  int64
	outputTokens int64
	cost         float64

	labelStyle    lipgloss.Style
	valueStyle    lipgloss.Style
	progressFull  lipgloss.Style
	progressEmpty lipgloss.Style
}

// NewStatsView creates a new StatsView instance.
func NewStatsView() *StatsView {
	return &StatsView{
		width: 80,

		labelStyle: lipgloss.NewStyle().
			Foreground(lipgloss.Color("245")).
			Width(12),

		valueStyle: lipgloss.NewStyle().
			Foreground(lipgloss.Color("252")).
			Bold(true),

		progressFull: lipgloss.NewStyle().
			Foreground(lipgloss.Color("34")),

		progressEmpty: lipgloss.NewStyle().
			Foreground(lipgloss.Color("240")),
	}
}

// SetWidth sets the available width.
func (s *StatsView) SetWidth(width int) {
	s.width = width
}

// SetCounts updates the root graph counts.
func (s *StatsView) SetCounts(c models.StatusCounts) {
	s.counts = c
}

// SetUsage updates token usage.
func (s *StatsView) SetUsage(input, output int64, cost float64) {
	s.inputTokens = input
	s.outputTokens = output
	s.cost = cost
}

// View renders the stats display.
func (s *StatsView) View() string {
	var b strings.Builder

	c := s.counts
	b.WriteString(s.labelStyle.Render("Root tasks"))
	b.WriteString(s.valueStyle.Render(fmt.Sprintf("%d/%d", c.Completed+c.Failed, c.Total)))
	b.WriteString(" ")
	b.WriteString(s.renderProgressBar(c.Completed+c.Failed, c.Total))
	b.WriteString("\n")

	b.WriteString(s.labelStyle.Render("Status"))
	b.WriteString(s.valueStyle.Render(fmt.Sprintf("%d running, %d pending, %d failed", c.InProgress, c.Pending, c.Failed)))
	b.WriteString("\n")

	b.WriteString(s.labelStyle.Render("Tokens"))
	b.WriteString(s.valueStyle.Render(fmt.Sprintf("%d in / %d out ($%.4f)", s.inputTokens, s.outputTokens, s.cost)))

	return b.String()
}

// renderProgressBar renders a progress bar for done out of total.
func (s *StatsView) renderProgressBar(done, total int) string {
	barWidth := 20
	if s.width > 0 && s.width < 60 {
		barWidth = 10
	}

	filled := 0
	if total > 0 {
		filled = done * barWidth / total
	}
	if filled > barWidth {
		filled = barWidth
	}

	return s.progressFull.Render(strings.Repeat("█", filled)) +
		s.progressEmpty.Render(strings.Repeat("░", barWidth-filled))
}
