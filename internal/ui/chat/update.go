// Event handling for the chat interface: bus pump, engine event application,
// and keyboard input.
package chat

import (
	"strings"

	tea "github.com/charmbracelet/bubbletea"

	"github.com/webchat-console/webchat/internal/interfaces"
	"github.com/webchat-console/webchat/internal/ui/components"
)

// Update implements tea.Model
func (m *Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		m.input.Width = msg.Width - 4
		return m, nil

	case tickMsg:
		m.engine.Bus().Drain(m.applyEvent)
		return m, tick()

	case engineDoneMsg:
		m.engineDone = true
		m.engineErr = msg.err
		if m.status != components.StatusError {
			m.status = components.StatusOffline
			m.statusText = "disconnected"
		}
		return m, nil

	case tea.KeyMsg:
		return m.handleKey(msg)

	case interfaces.SendResult:
		// resolve failures surface here; transport outcomes arrive on the bus
		m.applyEvent(msg)
		return m, nil
	}

	var cmd tea.Cmd
	m.input, cmd = m.input.Update(msg)
	return m, cmd
}

// applyEvent folds one engine event into display state
func (m *Model) applyEvent(ev interfaces.Event) {
	switch ev := ev.(type) {
	case interfaces.ShowVerifyImage:
		m.qrPath = ev.Path
		m.status = components.StatusWaitingScan
		m.statusText = "scan the QR code"

	case interfaces.DismissVerifyImage:
		m.qrPath = ""
		m.status = components.StatusLoggingIn
		m.statusText = "finishing login"

	case interfaces.ShowMessageBox:
		m.banner = ev.Text

	case interfaces.AddContact:
		title := ev.Contact.NickName
		if ev.Contact.RemarkName != "" {
			title = ev.Contact.RemarkName
		}
		m.ensureConversation(ev.Contact.UserName, title, false)
		if m.status != components.StatusOnline {
			m.status = components.StatusOnline
			m.statusText = "online"
		}

	case interfaces.AddGroup:
		m.ensureConversation(ev.Group.UserName, ev.Group.NickName, true)
		m.engine.UpdateChatHandle(ev.Group.UserName, ev.Group.UserName)

	case interfaces.MessageReceived:
		m.appendDelivery(ev.Delivery)

	case interfaces.AppendImageMessage:
		m.appendDelivery(ev.Delivery)

	case interfaces.RefreshChatMembers:
		// membership changes do not alter rendered history

	case interfaces.SendResult:
		if ev.Err != nil {
			m.banner = "message not delivered: " + ev.Err.Error()
		}

	case interfaces.LoginFailed:
		m.status = components.StatusError
		m.statusText = "login failed"
		m.banner = ev.Err.Error()

	case interfaces.SessionExpired:
		m.status = components.StatusOffline
		m.statusText = "session ended"
	}
}

// appendDelivery renders a delivery into its conversation
func (m *Model) appendDelivery(d interfaces.Delivery) {
	c := m.ensureConversation(d.ChatID, m.displayName(d.ChatID), d.Group)
	c.appendLine(m.renderer.RenderDelivery(d, m.displayName(d.Sender)))

	if m.active() != c {
		c.unread++
	}
	if m.status != components.StatusOnline {
		m.status = components.StatusOnline
		m.statusText = "online"
	}
}

// displayName resolves an identifier to its directory display name
func (m *Model) displayName(id string) string {
	if id == m.engine.UserName() {
		return "you"
	}
	if c, ok := m.engine.Directory().FindContact(id); ok {
		if c.RemarkName != "" {
			return c.RemarkName
		}
		if c.NickName != "" {
			return c.NickName
		}
	}
	if g, ok := m.engine.Directory().FindGroupByID(id); ok && g.NickName != "" {
		return g.NickName
	}
	return id
}

// handleKey processes keyboard input
func (m *Model) handleKey(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch msg.Type {
	case tea.KeyCtrlC, tea.KeyEsc:
		m.cancel()
		return m, tea.Quit

	case tea.KeyTab:
		if len(m.order) > 0 {
			m.activeIdx = (m.activeIdx + 1) % len(m.order)
			m.active().unread = 0
			m.banner = ""
		}
		return m, nil

	case tea.KeyShiftTab:
		if len(m.order) > 0 {
			m.activeIdx = (m.activeIdx - 1 + len(m.order)) % len(m.order)
			m.active().unread = 0
			m.banner = ""
		}
		return m, nil

	case tea.KeyEnter:
		return m, m.submitInput()
	}

	var cmd tea.Cmd
	m.input, cmd = m.input.Update(msg)
	return m, cmd
}

// submitInput sends the input line to the active conversation
func (m *Model) submitInput() tea.Cmd {
	text := strings.TrimSpace(m.input.Value())
	if text == "" {
		return nil
	}
	c := m.active()
	if c == nil {
		m.banner = "no conversation selected"
		return nil
	}
	m.input.Reset()

	engine := m.engine
	ctx := m.ctx
	chatID := c.chatID
	group := c.group
	return func() tea.Msg {
		var err error
		if group {
			var token uint32
			token, err = engine.ResolveChatToken(chatID)
			if err == nil {
				_, err = engine.SendGroupMessage(ctx, token, text)
			}
		} else {
			_, err = engine.SendDirectMessage(ctx, chatID, text)
		}
		if err != nil {
			return interfaces.SendResult{Err: err}
		}
		return nil
	}
}
