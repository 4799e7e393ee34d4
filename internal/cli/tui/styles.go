package tui

import (
	"github.com/charmbracelet/lipgloss"

	"github.com/haskel/petmood/internal/runlog"
	"github.com/haskel/petmood/internal/scheduler"
)

var (
	accent = lipgloss.Color("111")
	dim    = lipgloss.Color("240")
	soft   = lipgloss.Color("245")
	text   = lipgloss.Color("252")
	good   = lipgloss.Color("78")
	warn   = lipgloss.Color("179")
	bad    = lipgloss.Color("203")
)

var (
	titleStyle         = lipgloss.NewStyle().Bold(true).Foreground(accent)
	sectionHeaderStyle = lipgloss.NewStyle().Bold(true).Foreground(accent)
	helpStyle          = lipgloss.NewStyle().Foreground(soft)
	labelStyle         = lipgloss.NewStyle().Foreground(soft)
	valueStyle         = lipgloss.NewStyle().Foreground(text)
	tableCellStyle     = lipgloss.NewStyle().Foreground(text)

	tableHeaderStyle = lipgloss.NewStyle().
				Bold(true).
				Foreground(accent).
				BorderBottom(true).
				BorderStyle(lipgloss.NormalBorder()).
				BorderForeground(dim)

	progressBarEmptyStyle = lipgloss.NewStyle().Foreground(dim)

	successStyle = lipgloss.NewStyle().Foreground(good)
	warningStyle = lipgloss.NewStyle().Foreground(warn)
	errorStyle   = lipgloss.NewStyle().Foreground(bad).Bold(true)
)

// usageColor picks the bar color for a resource usage percentage.
func usageColor(percent float64) lipgloss.Color {
	switch {
	case percent >= 85:
		return bad
	case percent >= 65:
		return warn
	default:
		return good
	}
}

func phaseStyle(p scheduler.Phase) lipgloss.Style {
	switch p {
	case scheduler.PhaseIdle:
		return helpStyle
	case scheduler.PhaseActivated:
		return successStyle
	default:
		return warningStyle
	}
}

func runStatusStyle(s runlog.Status) lipgloss.Style {
	switch s {
	case runlog.StatusSucceeded:
		return successStyle
	case runlog.StatusFailed:
		return errorStyle
	default:
		return warningStyle
	}
}
