package tui

import (
	"github.com/charmbracelet/lipgloss"

	"axisverify/internal/harness"
)

// Styles for the progress view, defined using the lipgloss library.
var (
	headerStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.AdaptiveColor{Light: "#000000", Dark: "#FFFFFF"}).
			Background(lipgloss.AdaptiveColor{Light: "#D0D0D0", Dark: "#303030"}).
			Padding(0, 2)

	barFullStyle  = lipgloss.NewStyle().Foreground(lipgloss.AdaptiveColor{Light: "#007700", Dark: "#00FF00"})
	barEmptyStyle = lipgloss.NewStyle().Foreground(lipgloss.AdaptiveColor{Light: "#BBBBBB", Dark: "#444444"})

	passedStyle  = lipgloss.NewStyle().Foreground(lipgloss.AdaptiveColor{Light: "#007700", Dark: "#00FF00"})
	failedStyle  = lipgloss.NewStyle().Foreground(lipgloss.AdaptiveColor{Light: "#CC0000", Dark: "#FF5555"})
	skippedStyle = lipgloss.NewStyle().Foreground(lipgloss.AdaptiveColor{Light: "#886600", Dark: "#FFD700"})
	errorStyle   = lipgloss.NewStyle().Foreground(lipgloss.AdaptiveColor{Light: "#880088", Dark: "#FF79C6"})

	dimStyle    = lipgloss.NewStyle().Foreground(lipgloss.AdaptiveColor{Light: "#666666", Dark: "#888888"})
	statusStyle = lipgloss.NewStyle().Italic(true)
)

const (
	IconPassed  = "✅"
	IconFailed  = "❌"
	IconSkipped = "⏭"
	IconError   = "💥"
)

func resultIcon(r harness.Result) string {
	switch r {
	case harness.ResultPassed:
		return passedStyle.Render(IconPassed)
	case harness.ResultFailed:
		return failedStyle.Render(IconFailed)
	case harness.ResultSkipped:
		return skippedStyle.Render(IconSkipped)
	default:
		return errorStyle.Render(IconError)
	}
}
