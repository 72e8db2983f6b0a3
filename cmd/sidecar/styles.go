package main

import "github.com/charmbracelet/lipgloss"

var (
	colorSuccess = lipgloss.Color("#10B981")
	colorWarning = lipgloss.Color("#F59E0B")
	colorError   = lipgloss.Color("#EF4444")
	colorMuted   = lipgloss.Color("#9CA3AF")

	okStyle    = lipgloss.NewStyle().Foreground(colorSuccess).Bold(true)
	warnStyle  = lipgloss.NewStyle().Foreground(colorWarning).Bold(true)
	failStyle  = lipgloss.NewStyle().Foreground(colorError).Bold(true)
	mutedStyle = lipgloss.NewStyle().Foreground(colorMuted)
	labelStyle = lipgloss.NewStyle().Width(14)
)

// readyLabel renders a readiness state. Readiness declared by the timeout
// is shown as a warning: the backend was never observed starting.
func readyLabel(ready bool, source string) string {
	switch {
	case !ready:
		return failStyle.Render("starting")
	case source == "timeout":
		return warnStyle.Render("ready (assumed after timeout)")
	default:
		return okStyle.Render("ready") + mutedStyle.Render(" via "+source)
	}
}

func field(label, value string) string {
	return labelStyle.Render(label) + value
}
