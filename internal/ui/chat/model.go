// Package chat implements the terminal chat interface: a conversation list,
// a scrolling message pane, and an input line, driven by the engine's event
// bus. The model pumps the bus on a fixed tick; a Yield marker ends a pump
// early so multi-event sequences land across ticks in order.
package chat

import (
	"context"
	"time"

	"github.com/charmbracelet/bubbles/textinput"
	tea "github.com/charmbracelet/bubbletea"

	"github.com/webchat-console/webchat/internal/app"
	"github.com/webchat-console/webchat/internal/content"
	"github.com/webchat-console/webchat/internal/logging"
	"github.com/webchat-console/webchat/internal/ui/components"
)

// pumpInterval is the bus drain cadence
const pumpInterval = 100 * time.Millisecond

// maxLinesPerChat bounds per-conversation scrollback
const maxLinesPerChat = 500

// conversation is one chat's display state
type conversation struct {
	chatID string
	title  string
	group  bool
	lines  []string
	unread int
}

// Model is the root bubbletea model
type Model struct {
	engine   *app.Engine
	renderer *content.Renderer
	logger   *logging.Logger

	ctx    context.Context
	cancel context.CancelFunc

	// conversations keyed by chat id, ordered for display
	conversations map[string]*conversation
	order         []string
	activeIdx     int

	input textinput.Model

	status     string
	statusText string
	banner     string
	qrPath     string

	width  int
	height int

	engineDone bool
	engineErr  error
}

// NewModel creates the chat model around a built engine
func NewModel(engine *app.Engine) (*Model, error) {
	renderer, err := content.NewRenderer(engine.Media())
	if err != nil {
		return nil, err
	}

	input := textinput.New()
	input.Placeholder = "type a message, Tab to switch chats"
	input.CharLimit = 2048
	input.Focus()

	ctx, cancel := context.WithCancel(context.Background())

	return &Model{
		engine:        engine,
		renderer:      renderer,
		logger:        logging.GetUILogger(),
		ctx:           ctx,
		cancel:        cancel,
		conversations: make(map[string]*conversation),
		input:         input,
		status:        components.StatusLoggingIn,
		statusText:    "connecting",
	}, nil
}

// active returns the focused conversation, nil when none exist
func (m *Model) active() *conversation {
	if len(m.order) == 0 {
		return nil
	}
	if m.activeIdx >= len(m.order) {
		m.activeIdx = len(m.order) - 1
	}
	return m.conversations[m.order[m.activeIdx]]
}

// ensureConversation returns the conversation for a chat id, creating it on
// first sight
func (m *Model) ensureConversation(chatID, title string, group bool) *conversation {
	if c, ok := m.conversations[chatID]; ok {
		if title != "" && (c.title == "" || c.title == c.chatID) {
			c.title = title
		}
		return c
	}
	if title == "" {
		title = chatID
	}
	c := &conversation{chatID: chatID, title: title, group: group}
	m.conversations[chatID] = c
	m.order = append(m.order, chatID)
	return c
}

// appendLine adds a display line with bounded scrollback
func (c *conversation) appendLine(line string) {
	c.lines = append(c.lines, line)
	if len(c.lines) > maxLinesPerChat {
		c.lines = c.lines[len(c.lines)-maxLinesPerChat:]
	}
}

// tickMsg drives the bus pump
type tickMsg time.Time

// engineDoneMsg reports the engine goroutine's exit
type engineDoneMsg struct{ err error }

// Init starts the engine goroutine and the pump
func (m *Model) Init() tea.Cmd {
	return tea.Batch(
		func() tea.Msg { return engineDoneMsg{err: m.engine.Run(m.ctx)} },
		tick(),
	)
}

func tick() tea.Cmd {
	return tea.Tick(pumpInterval, func(t time.Time) tea.Msg { return tickMsg(t) })
}
