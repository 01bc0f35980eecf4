package cmd

import (
	"github.com/charmbracelet/lipgloss"

	"github.com/Iron-Ham/dysche/internal/errors"
	"github.com/Iron-Ham/dysche/internal/partition"
)

var (
	colorPrimary = lipgloss.Color("#7C3AED")
	colorMuted   = lipgloss.Color("#6B7280")
	colorOK      = lipgloss.Color("#10B981")
	colorWarn    = lipgloss.Color("#F59E0B")
	colorError   = lipgloss.Color("#EF4444")

	titleStyle  = lipgloss.NewStyle().Bold(true).Foreground(colorPrimary)
	headerStyle = lipgloss.NewStyle().Bold(true).Foreground(colorMuted)
	labelStyle  = lipgloss.NewStyle().Foreground(colorMuted).Width(14)
	mutedStyle  = lipgloss.NewStyle().Foreground(colorMuted)
	boxStyle    = lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(colorMuted).
			Padding(0, 1)
)

func statusColor(s partition.Status) lipgloss.Color {
	switch s {
	case partition.StatusRunning:
		return colorOK
	case partition.StatusCreated, partition.StatusBooting, partition.StatusRebooting:
		return colorWarn
	case partition.StatusLost, partition.StatusInvalid:
		return colorError
	default:
		return colorMuted
	}
}

func renderStatus(s partition.Status) string {
	return lipgloss.NewStyle().Foreground(statusColor(s)).Bold(true).Render(s.String())
}

func severityColor(s errors.Severity) lipgloss.Color {
	switch {
	case s >= errors.SeverityError:
		return colorError
	case s == errors.SeverityWarning:
		return colorWarn
	default:
		return colorMuted
	}
}
