// Package app assembles the protocol engine: session, transport, login flow,
// sync loop, and dispatcher, wired through dependency injection. The host UI
// talks to the engine through the event bus and the send/resolve methods; the
// engine never imports UI code.
package app

import (
	"context"
	"errors"
	"fmt"

	"github.com/webchat-console/webchat/internal/config"
	"github.com/webchat-console/webchat/internal/directory"
	"github.com/webchat-console/webchat/internal/dispatch"
	"github.com/webchat-console/webchat/internal/events"
	"github.com/webchat-console/webchat/internal/interfaces"
	"github.com/webchat-console/webchat/internal/logging"
	"github.com/webchat-console/webchat/internal/login"
	"github.com/webchat-console/webchat/internal/media"
	"github.com/webchat-console/webchat/internal/protocol"
	"github.com/webchat-console/webchat/internal/session"
	"github.com/webchat-console/webchat/internal/syncer"
	"github.com/webchat-console/webchat/internal/transport"
)

// ErrUnknownChat reports a send or resolve against a chat the directory has
// never seen
var ErrUnknownChat = errors.New("unknown chat")

// Engine owns one authenticated session and its supporting components
type Engine struct {
	profile    *interfaces.Profile
	configMgr  *config.Manager
	session    *session.Session
	endpoints  protocol.Endpoints
	transport  interfaces.Transport
	bus        *events.Bus
	dir        *directory.Directory
	media      *media.Store
	dispatcher *dispatch.Dispatcher
	logger     *logging.Logger
}

// New builds an engine for the given profile. configMgr may be nil when
// session persistence is not wanted.
func New(profile *interfaces.Profile, configMgr *config.Manager) (*Engine, error) {
	if profile == nil {
		return nil, fmt.Errorf("profile is required")
	}

	endpoints := protocol.Endpoints{
		LoginBase: "https://" + profile.LoginHost,
		WebBase:   "https://" + profile.WebHost,
		PushBase:  "https://" + profile.PushHost,
	}

	store, err := media.NewStore(profile.MediaDir)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize media store: %w", err)
	}

	bus := events.New()
	sess := session.New(profile.WebHost, profile.PushHost)
	dir := directory.New(bus)
	tr := transport.NewClient()

	return &Engine{
		profile:   profile,
		configMgr: configMgr,
		session:   sess,
		endpoints: endpoints,
		transport: tr,
		bus:       bus,
		dir:       dir,
		media:     store,
		dispatcher: dispatch.New(sess, endpoints, profile.EmojiHost,
			tr, bus, dir, store),
		logger: logging.GetGlobalLogger(),
	}, nil
}

// Bus exposes the event stream the host UI pumps
func (e *Engine) Bus() *events.Bus { return e.bus }

// Directory exposes the contact and group registry
func (e *Engine) Directory() *directory.Directory { return e.dir }

// Media exposes the artifact store for handle resolution
func (e *Engine) Media() *media.Store { return e.media }

// UserName returns the authenticated user's identifier, empty before login
func (e *Engine) UserName() string { return e.session.UserName() }

// Run performs the handshake (or restores a persisted session) and then
// blocks in the sync loop until the context is canceled or the server ends
// the session. Callers run it on its own goroutine and pump the bus.
func (e *Engine) Run(ctx context.Context) error {
	if !e.tryRestore() {
		flow := login.New(e.session, e.endpoints, e.transport, e.bus, e.dir, e.media)
		if err := flow.Run(ctx); err != nil {
			return err
		}
		e.persistSession()
	}

	loop := syncer.New(e.session, e.endpoints, e.transport, e.bus,
		e.dispatcher, syncer.PolicyFromSettings(e.profile.Sync))
	err := loop.Run(ctx)

	// the loop returns nil only when the server ended the session, and only
	// then is the stored snapshot stale; a quit or a transport failure leaves
	// it in place for hot relogin
	if err == nil && e.profile.PersistSession && e.configMgr != nil {
		if clearErr := e.configMgr.ClearSessionSnapshot(e.profile.Name); clearErr != nil {
			e.logger.Warn("Failed to clear session snapshot", "error", clearErr)
		}
	}
	return err
}

// tryRestore loads a persisted session snapshot when the profile opts in.
// A restore failure is not fatal, the engine falls back to a fresh login.
func (e *Engine) tryRestore() bool {
	if !e.profile.PersistSession || e.configMgr == nil {
		return false
	}
	data, err := e.configMgr.LoadSessionSnapshot(e.profile.Name)
	if err != nil {
		return false
	}
	if err := e.session.Restore(data); err != nil {
		e.logger.Warn("Stored session snapshot unusable", "error", err)
		return false
	}
	e.logger.Info("Restored persisted session", "user", e.session.UserName())
	return true
}

// persistSession stores an encrypted snapshot after a successful login when
// the profile opts in
func (e *Engine) persistSession() {
	if !e.profile.PersistSession || e.configMgr == nil {
		return
	}
	data, err := e.session.Snapshot()
	if err != nil {
		e.logger.Warn("Failed to snapshot session", "error", err)
		return
	}
	if err := e.configMgr.SaveSessionSnapshot(e.profile.Name, data); err != nil {
		e.logger.Warn("Failed to persist session snapshot", "error", err)
	}
}

// SendDirectMessage sends text to a 1:1 peer and returns the local message
// identifier the eventual SendResult will carry
func (e *Engine) SendDirectMessage(ctx context.Context, userName, text string) (string, error) {
	if protocol.IsGroupID(userName) {
		return "", fmt.Errorf("%q is a group chat, use SendGroupMessage", userName)
	}
	return e.dispatcher.SendMessage(ctx, userName, text), nil
}

// SendGroupMessage sends text to a group chat addressed by its token
func (e *Engine) SendGroupMessage(ctx context.Context, token uint32, text string) (string, error) {
	group, ok := e.dir.FindGroupByToken(token)
	if !ok {
		return "", fmt.Errorf("group token %d: %w", token, ErrUnknownChat)
	}
	return e.dispatcher.SendMessage(ctx, group.UserName, text), nil
}

// ResolveChatToken returns the token for a group chat identifier, or
// ErrUnknownChat if the directory has never seen it
func (e *Engine) ResolveChatToken(chatID string) (uint32, error) {
	token := e.dir.TokenFor(chatID)
	if token == 0 {
		return 0, fmt.Errorf("chat %q: %w", chatID, ErrUnknownChat)
	}
	return token, nil
}

// ResolveChatByName finds a group chat by display name
func (e *Engine) ResolveChatByName(name string) (interfaces.GroupChat, error) {
	group, ok := e.dir.FindGroupByName(name)
	if !ok {
		return interfaces.GroupChat{}, fmt.Errorf("chat named %q: %w", name, ErrUnknownChat)
	}
	return group, nil
}

// UpdateChatHandle records the host UI's opaque handle for a group chat
func (e *Engine) UpdateChatHandle(chatID string, handle any) bool {
	return e.dir.UpdateChatHandle(chatID, handle)
}
