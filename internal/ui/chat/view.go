// Visual layout for the chat interface: header with connection status, the
// conversation tab strip, the scrolling message pane, and the input line.
package chat

import (
	"fmt"
	"strings"

	"github.com/charmbracelet/lipgloss"

	"github.com/webchat-console/webchat/internal/ui/components"
)

var (
	headerStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("#FFFFFF")).
			Background(lipgloss.Color("#1E6E4E")).
			Padding(0, 1)

	tabStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#6C7086")).
			Padding(0, 1)

	activeTabStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("#FFFFFF")).
			Background(lipgloss.Color("#313244")).
			Padding(0, 1)

	unreadStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("#F9E2AF"))

	messagePaneStyle = lipgloss.NewStyle().
				Border(lipgloss.NormalBorder()).
				BorderForeground(lipgloss.Color("#6C7086")).
				Padding(0, 1)

	inputStyle = lipgloss.NewStyle().
			Border(lipgloss.NormalBorder()).
			BorderForeground(lipgloss.Color("#89B4FA")).
			Padding(0, 1)

	qrPromptStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("#F9E2AF")).
			Padding(1, 2)
)

// View implements tea.Model
func (m *Model) View() string {
	var sections []string

	sections = append(sections, m.renderHeader())

	if m.qrPath != "" {
		sections = append(sections, qrPromptStyle.Render(
			fmt.Sprintf("Scan to log in: QR code saved at %s", m.qrPath)))
	}

	if m.banner != "" {
		sections = append(sections, components.RenderBanner(m.banner))
	}

	if len(m.order) > 0 {
		sections = append(sections, m.renderTabs())
	}

	sections = append(sections, m.renderMessagePane())
	sections = append(sections, inputStyle.Width(max(m.width-2, 20)).Render(m.input.View()))

	return lipgloss.JoinVertical(lipgloss.Left, sections...)
}

// renderHeader shows the account identity and connection status
func (m *Model) renderHeader() string {
	title := "webchat"
	if user := m.engine.UserName(); user != "" {
		title = "webchat · " + m.displayName(user)
	}
	status := components.RenderStatus(m.status, m.statusText)
	return headerStyle.Width(max(m.width, 20)).Render(title + "  " + status)
}

// renderTabs shows the conversation strip with unread markers
func (m *Model) renderTabs() string {
	var tabs []string
	for i, id := range m.order {
		c := m.conversations[id]
		label := c.title
		if c.unread > 0 {
			label += unreadStyle.Render(fmt.Sprintf(" (%d)", c.unread))
		}
		if i == m.activeIdx {
			tabs = append(tabs, activeTabStyle.Render(label))
		} else {
			tabs = append(tabs, tabStyle.Render(label))
		}
	}
	return lipgloss.JoinHorizontal(lipgloss.Top, tabs...)
}

// renderMessagePane shows the active conversation's scrollback tail
func (m *Model) renderMessagePane() string {
	height := m.paneHeight()
	width := max(m.width-4, 20)

	c := m.active()
	if c == nil {
		return messagePaneStyle.Width(width).Height(height).
			Render("No conversations yet. Messages appear here after login.")
	}

	lines := c.lines
	if len(lines) > height {
		lines = lines[len(lines)-height:]
	}
	return messagePaneStyle.Width(width).Height(height).
		Render(strings.Join(lines, "\n"))
}

// paneHeight derives the message pane height from the terminal size
func (m *Model) paneHeight() int {
	// header, tabs, input borders, and padding
	h := m.height - 8
	if m.banner != "" {
		h--
	}
	if m.qrPath != "" {
		h -= 3
	}
	if h < 5 {
		h = 5
	}
	return h
}
