package app

import (
	"context"
	"errors"
	"net/http"
	"testing"

	"github.com/webchat-console/webchat/internal/config"
	"github.com/webchat-console/webchat/internal/interfaces"
	"github.com/webchat-console/webchat/internal/protocol"
	"github.com/webchat-console/webchat/internal/session"
)

func newTestEngine(t *testing.T) *Engine {
	t.Helper()

	profile := config.DefaultProfile("test")
	profile.MediaDir = t.TempDir()

	engine, err := New(&profile, nil)
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	return engine
}

func TestNewRequiresProfile(t *testing.T) {
	if _, err := New(nil, nil); err == nil {
		t.Error("expected error for nil profile")
	}
}

func TestResolveChatTokenUnknown(t *testing.T) {
	engine := newTestEngine(t)

	if _, err := engine.ResolveChatToken("@@never-seen"); !errors.Is(err, ErrUnknownChat) {
		t.Errorf("expected ErrUnknownChat, got %v", err)
	}
}

func TestResolveChatTokenRoundTrip(t *testing.T) {
	engine := newTestEngine(t)
	engine.Directory().AddGroup(interfaces.GroupChat{UserName: "@@g1", NickName: "team"})

	token, err := engine.ResolveChatToken("@@g1")
	if err != nil {
		t.Fatalf("ResolveChatToken failed: %v", err)
	}
	if token == 0 {
		t.Fatal("token must be non-zero for a known chat")
	}

	group, err := engine.ResolveChatByName("team")
	if err != nil {
		t.Fatalf("ResolveChatByName failed: %v", err)
	}
	if group.Token != token {
		t.Errorf("token mismatch: %d vs %d", group.Token, token)
	}
}

func TestSendGroupMessageRejectsUnknownToken(t *testing.T) {
	engine := newTestEngine(t)

	if _, err := engine.SendGroupMessage(context.Background(), 12345, "hi"); !errors.Is(err, ErrUnknownChat) {
		t.Errorf("expected ErrUnknownChat, got %v", err)
	}
}

func TestSendDirectMessageRejectsGroupID(t *testing.T) {
	engine := newTestEngine(t)

	if _, err := engine.SendDirectMessage(context.Background(), "@@g1", "hi"); err == nil {
		t.Error("expected error when addressing a group as a direct peer")
	}
}

// pollTransport scripts the long-poll endpoint; everything else errors
type pollTransport struct {
	body   string
	cancel context.CancelFunc
	polls  int
}

func (p *pollTransport) GetLongPoll(ctx context.Context, url string, headers http.Header) ([]byte, error) {
	p.polls++
	if p.polls > 1 {
		p.cancel()
		return nil, ctx.Err()
	}
	if p.body == "" {
		p.cancel()
		return nil, ctx.Err()
	}
	return []byte(p.body), nil
}

func (p *pollTransport) Get(ctx context.Context, url string, headers http.Header) ([]byte, error) {
	return nil, errors.New("unexpected Get")
}

func (p *pollTransport) GetFull(ctx context.Context, url string, headers http.Header) (*interfaces.Response, error) {
	return nil, errors.New("unexpected GetFull")
}

func (p *pollTransport) Post(ctx context.Context, url string, headers http.Header, payload any) ([]byte, error) {
	return nil, errors.New("unexpected Post")
}

// newPersistedEngine builds an engine whose profile opts into session
// persistence, with a stored snapshot ready to restore
func newPersistedEngine(t *testing.T) (*Engine, *config.Manager) {
	t.Helper()

	mgr, err := config.NewManagerAt(t.TempDir())
	if err != nil {
		t.Fatalf("NewManagerAt failed: %v", err)
	}

	profile := config.DefaultProfile("test")
	profile.MediaDir = t.TempDir()
	profile.PersistSession = true

	donor := session.New(profile.WebHost, profile.PushHost)
	if err := donor.SetCredentials(protocol.LoginTokens{
		Skey: "@sk", Sid: "sid1", Uin: "12345", PassTicket: "pt1",
	}, []string{"wxsid=sid1; Path=/"}); err != nil {
		t.Fatalf("SetCredentials failed: %v", err)
	}
	donor.SetUser(protocol.UserInfo{UserName: "@me"})
	snap, err := donor.Snapshot()
	if err != nil {
		t.Fatalf("Snapshot failed: %v", err)
	}
	if err := mgr.SaveSessionSnapshot(profile.Name, snap); err != nil {
		t.Fatalf("SaveSessionSnapshot failed: %v", err)
	}

	engine, err := New(&profile, mgr)
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	return engine, mgr
}

func TestSnapshotSurvivesQuit(t *testing.T) {
	engine, mgr := newPersistedEngine(t)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	engine.transport = &pollTransport{cancel: cancel}

	err := engine.Run(ctx)
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context cancellation, got %v", err)
	}
	if engine.UserName() != "@me" {
		t.Errorf("session not restored from snapshot, user %q", engine.UserName())
	}
	if _, err := mgr.LoadSessionSnapshot("test"); err != nil {
		t.Errorf("snapshot must survive a quit for hot relogin: %v", err)
	}
}

func TestSnapshotClearedWhenServerEndsSession(t *testing.T) {
	engine, mgr := newPersistedEngine(t)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	engine.transport = &pollTransport{
		body:   `window.synccheck={retcode:"1101",selector:"0"}`,
		cancel: cancel,
	}

	if err := engine.Run(ctx); err != nil {
		t.Fatalf("server-terminated session should end cleanly, got %v", err)
	}
	if _, err := mgr.LoadSessionSnapshot("test"); err == nil {
		t.Error("snapshot must be cleared after the server ends the session")
	}
}

func TestUpdateChatHandle(t *testing.T) {
	engine := newTestEngine(t)
	engine.Directory().AddGroup(interfaces.GroupChat{UserName: "@@g1"})

	if !engine.UpdateChatHandle("@@g1", "ui-handle") {
		t.Error("handle update on known group should succeed")
	}
	if engine.UpdateChatHandle("@@missing", "x") {
		t.Error("handle update on unknown group should fail")
	}
}
