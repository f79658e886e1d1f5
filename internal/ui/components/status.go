// Package components provides shared interface elements for the chat
// terminal: the connection status line and send-failure banners.
package components

import (
	"fmt"

	"github.com/charmbracelet/lipgloss"
)

// Connection states shown in the status line
const (
	StatusWaitingScan = "waiting-scan"
	StatusLoggingIn   = "logging-in"
	StatusOnline      = "online"
	StatusOffline     = "offline"
	StatusError       = "error"
)

var statusStyles = map[string]lipgloss.Style{
	StatusWaitingScan: lipgloss.NewStyle().Foreground(lipgloss.Color("#F9E2AF")),
	StatusLoggingIn:   lipgloss.NewStyle().Foreground(lipgloss.Color("#F9E2AF")),
	StatusOnline:      lipgloss.NewStyle().Foreground(lipgloss.Color("#A6E3A1")),
	StatusOffline:     lipgloss.NewStyle().Foreground(lipgloss.Color("#6C7086")),
	StatusError:       lipgloss.NewStyle().Foreground(lipgloss.Color("#F38BA8")),
}

var statusIcons = map[string]string{
	StatusWaitingScan: "📱",
	StatusLoggingIn:   "⏳",
	StatusOnline:      "●",
	StatusOffline:     "○",
	StatusError:       "✗",
}

// RenderStatus formats a connection status with its icon and color
func RenderStatus(status, message string) string {
	style, ok := statusStyles[status]
	if !ok {
		style = lipgloss.NewStyle()
	}
	icon, ok := statusIcons[status]
	if !ok {
		icon = "·"
	}
	return style.Render(fmt.Sprintf("%s %s", icon, message))
}

var bannerStyle = lipgloss.NewStyle().
	Bold(true).
	Foreground(lipgloss.Color("#FFFFFF")).
	Background(lipgloss.Color("#F38BA8")).
	Padding(0, 1)

// RenderBanner formats a one-shot notice (send failure, session end)
func RenderBanner(text string) string {
	return bannerStyle.Render(text)
}
