package login

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/webchat-console/webchat/internal/directory"
	"github.com/webchat-console/webchat/internal/events"
	"github.com/webchat-console/webchat/internal/interfaces"
	"github.com/webchat-console/webchat/internal/media"
	"github.com/webchat-console/webchat/internal/protocol"
	"github.com/webchat-console/webchat/internal/session"
)

// fakeTransport serves canned responses keyed by URL substring
type fakeTransport struct {
	mu        sync.Mutex
	responses map[string]*interfaces.Response
	requests  []string
}

func newFakeTransport() *fakeTransport {
	return &fakeTransport{responses: make(map[string]*interfaces.Response)}
}

func (t *fakeTransport) respond(urlPart string, resp *interfaces.Response) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.responses[urlPart] = resp
}

func (t *fakeTransport) respondBody(urlPart, body string) {
	t.respond(urlPart, &interfaces.Response{StatusCode: 200, Header: http.Header{}, Body: []byte(body)})
}

func (t *fakeTransport) lookup(url string) (*interfaces.Response, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.requests = append(t.requests, url)
	for part, resp := range t.responses {
		if strings.Contains(url, part) {
			return resp, nil
		}
	}
	return nil, fmt.Errorf("no canned response for %s", url)
}

func (t *fakeTransport) requestCount(urlPart string) int {
	t.mu.Lock()
	defer t.mu.Unlock()
	n := 0
	for _, url := range t.requests {
		if strings.Contains(url, urlPart) {
			n++
		}
	}
	return n
}

func (t *fakeTransport) Get(ctx context.Context, url string, headers http.Header) ([]byte, error) {
	resp, err := t.lookup(url)
	if err != nil {
		return nil, err
	}
	return resp.Body, nil
}

func (t *fakeTransport) GetFull(ctx context.Context, url string, headers http.Header) (*interfaces.Response, error) {
	return t.lookup(url)
}

func (t *fakeTransport) GetLongPoll(ctx context.Context, url string, headers http.Header) ([]byte, error) {
	return t.Get(ctx, url, headers)
}

func (t *fakeTransport) Post(ctx context.Context, url string, headers http.Header, payload any) ([]byte, error) {
	return t.Get(ctx, url, headers)
}

type flowHarness struct {
	flow      *Flow
	transport *fakeTransport
	bus       *events.Bus
	dir       *directory.Directory
	sess      *session.Session
}

func newFlowHarness(t *testing.T) *flowHarness {
	t.Helper()

	sess := session.New("web.test", "push.test")
	bus := events.New()
	dir := directory.New(bus)
	store, err := media.NewStore(t.TempDir())
	if err != nil {
		t.Fatalf("NewStore failed: %v", err)
	}

	transport := newFakeTransport()
	endpoints := protocol.Endpoints{
		LoginBase: "https://login.test",
		WebBase:   "https://web.test",
		PushBase:  "https://push.test",
	}

	return &flowHarness{
		flow:      New(sess, endpoints, transport, bus, dir, store),
		transport: transport,
		bus:       bus,
		dir:       dir,
		sess:      sess,
	}
}

// scriptHappyPath cans every endpoint a successful handshake touches
func (h *flowHarness) scriptHappyPath(t *testing.T) {
	t.Helper()

	h.transport.respondBody("jslogin", `window.QRLogin.code = 200; window.QRLogin.uuid = "abc-123==";`)
	h.transport.respondBody("qrcode/abc-123==", "\xff\xd8fake-jpeg")
	h.transport.respondBody("mmwebwx-bin/login?uuid=abc-123==",
		`window.code=200;window.redirect_uri="https://web.test/cgi-bin/mmwebwx-bin/webwxnewloginpage?ticket=t1";`)

	redirectHeader := http.Header{}
	redirectHeader.Add("Set-Cookie", "wxsid=sid-1; Path=/; HttpOnly")
	redirectHeader.Add("Set-Cookie", "wxuin=12345; Path=/")
	h.transport.respond("webwxnewloginpage?ticket=", &interfaces.Response{
		StatusCode: 200,
		Header:     redirectHeader,
		Body: []byte(`<error><ret>0</ret><skey>@skey1</skey><wxsid>sid-1</wxsid>` +
			`<wxuin>12345</wxuin><pass_ticket>pt-1</pass_ticket></error>`),
	})

	// the init list names the group; only the batch response has its members
	initResp, _ := json.Marshal(protocol.InitResponse{
		User:    protocol.UserInfo{UserName: "@me", NickName: "Me"},
		SyncKey: protocol.SyncKey{Count: 2, List: []protocol.SyncKeyPair{{Key: 1, Val: 10}, {Key: 2, Val: 20}}},
		ContactList: []interfaces.GroupChat{
			{UserName: "@@g1", NickName: "team"},
			{UserName: "@bob", NickName: "Bob"},
		},
	})
	h.transport.respondBody("webwxinit", string(initResp))

	batchResp, _ := json.Marshal(protocol.BatchGetContactResponse{
		ContactList: []interfaces.GroupChat{
			{UserName: "@@g1", NickName: "team",
				Members: []interfaces.Contact{{UserName: "@alice"}, {UserName: "@dave"}}},
		},
	})
	h.transport.respondBody("webwxbatchgetcontact", string(batchResp))
	h.transport.respondBody("webwxstatusnotify", `{"BaseResponse":{"Ret":0}}`)

	contacts, _ := json.Marshal(protocol.GetContactResponse{
		MemberCount: 2,
		MemberList: []interfaces.Contact{
			{UserName: "@carol", NickName: "Carol"},
			{UserName: "@bob", NickName: "Bob"},
		},
	})
	h.transport.respondBody("webwxgetcontact", string(contacts))
}

func (h *flowHarness) collect() []interfaces.Event {
	var got []interfaces.Event
	for {
		n := h.bus.Drain(func(ev interfaces.Event) { got = append(got, ev) })
		if n == 0 && h.bus.Pending() == 0 {
			return got
		}
	}
}

func TestHandshakeHappyPath(t *testing.T) {
	h := newFlowHarness(t)
	h.scriptHappyPath(t)

	if err := h.flow.Run(context.Background()); err != nil {
		t.Fatalf("handshake failed: %v", err)
	}

	if !h.sess.Authenticated() {
		t.Error("session not authenticated after handshake")
	}
	uin, sid, skey, passTicket, deviceID := h.sess.Credentials()
	if uin != "12345" || sid != "sid-1" || skey != "@skey1" || passTicket != "pt-1" {
		t.Errorf("credentials not harvested: uin=%s sid=%s skey=%s pt=%s", uin, sid, skey, passTicket)
	}
	if !strings.HasPrefix(deviceID, "e56") {
		t.Errorf("device id %q missing prefix", deviceID)
	}
	if got := h.sess.SyncKeyString(); got != "1_10|2_20" {
		t.Errorf("initial cursor not installed: %q", got)
	}
	if cookie := h.sess.BaseHeaders().Get("Cookie"); !strings.Contains(cookie, "wxsid=sid-1") {
		t.Errorf("login cookies not attached: %q", cookie)
	}
}

func TestHandshakeSeedsDirectory(t *testing.T) {
	h := newFlowHarness(t)
	h.scriptHappyPath(t)

	if err := h.flow.Run(context.Background()); err != nil {
		t.Fatalf("handshake failed: %v", err)
	}

	if n := h.transport.requestCount("webwxbatchgetcontact"); n != 1 {
		t.Errorf("expected exactly one seed group batch fetch, got %d", n)
	}

	group, ok := h.dir.FindGroupByID("@@g1")
	if !ok {
		t.Fatal("seed group not added to directory")
	}
	if group.Token == 0 {
		t.Error("group token not assigned")
	}
	// the stored record must be the batch response, not the partial init entry
	if len(group.Members) != 2 || group.Members[0].UserName != "@alice" {
		t.Errorf("full group record not fetched: %+v", group.Members)
	}
	if _, ok := h.dir.FindContact("@bob"); !ok {
		t.Error("seed contact not added to directory")
	}

	// the async roster fetch lands shortly after Run returns
	deadline := time.Now().Add(2 * time.Second)
	for {
		if _, ok := h.dir.FindContact("@carol"); ok {
			break
		}
		if time.Now().After(deadline) {
			t.Fatal("async contact fetch never landed")
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func TestHandshakeEventSequence(t *testing.T) {
	h := newFlowHarness(t)
	h.scriptHappyPath(t)

	if err := h.flow.Run(context.Background()); err != nil {
		t.Fatalf("handshake failed: %v", err)
	}

	evs := h.collect()
	var showIdx, dismissIdx = -1, -1
	groupAdds := 0
	for i, ev := range evs {
		switch e := ev.(type) {
		case interfaces.ShowVerifyImage:
			showIdx = i
			if e.Path == "" {
				t.Error("ShowVerifyImage carries no path")
			}
		case interfaces.DismissVerifyImage:
			dismissIdx = i
		case interfaces.AddGroup:
			groupAdds++
		case interfaces.LoginFailed:
			t.Errorf("unexpected LoginFailed: %+v", e)
		}
	}
	if showIdx == -1 || dismissIdx == -1 || showIdx > dismissIdx {
		t.Errorf("QR show/dismiss out of order: show=%d dismiss=%d", showIdx, dismissIdx)
	}
	if groupAdds != 1 {
		t.Errorf("expected exactly one AddGroup for the seed group, got %d", groupAdds)
	}
}

func TestScanWaitRetriesUntilConfirmed(t *testing.T) {
	h := newFlowHarness(t)
	h.scriptHappyPath(t)

	// first two polls: scanned but unconfirmed, then the redirect appears
	polls := 0
	h.transport.mu.Lock()
	delete(h.transport.responses, "mmwebwx-bin/login?uuid=abc-123==")
	h.transport.mu.Unlock()

	base := h.transport
	scripted := &scanScriptTransport{fakeTransport: base, polls: &polls}
	flow := New(h.sess, protocol.Endpoints{
		LoginBase: "https://login.test",
		WebBase:   "https://web.test",
		PushBase:  "https://push.test",
	}, scripted, h.bus, h.dir, mustStore(t))

	if err := flow.Run(context.Background()); err != nil {
		t.Fatalf("handshake failed: %v", err)
	}
	if polls < 3 {
		t.Errorf("expected at least 3 scan polls, got %d", polls)
	}
}

// scanScriptTransport overrides the scan poll with a confirm-on-third-try
// script and delegates everything else
type scanScriptTransport struct {
	*fakeTransport
	polls *int
}

func (t *scanScriptTransport) GetLongPoll(ctx context.Context, url string, headers http.Header) ([]byte, error) {
	if strings.Contains(url, "mmwebwx-bin/login?uuid=") {
		*t.polls++
		if *t.polls < 3 {
			return []byte("window.code=201;"), nil
		}
		return []byte(`window.code=200;window.redirect_uri="https://web.test/cgi-bin/mmwebwx-bin/webwxnewloginpage?ticket=t1";`), nil
	}
	return t.fakeTransport.GetLongPoll(ctx, url, headers)
}

func mustStore(t *testing.T) *media.Store {
	t.Helper()
	s, err := media.NewStore(t.TempDir())
	if err != nil {
		t.Fatalf("NewStore failed: %v", err)
	}
	return s
}

func TestFailedStageReported(t *testing.T) {
	h := newFlowHarness(t)
	// only jslogin responds, and with garbage
	h.transport.respondBody("jslogin", "<html>maintenance</html>")

	err := h.flow.Run(context.Background())
	if err == nil {
		t.Fatal("expected handshake failure")
	}

	evs := h.collect()
	if len(evs) != 1 {
		t.Fatalf("expected exactly one event, got %d: %v", len(evs), evs)
	}
	failed, ok := evs[0].(interfaces.LoginFailed)
	if !ok {
		t.Fatalf("expected LoginFailed, got %T", evs[0])
	}
	if failed.Stage != StageUUID {
		t.Errorf("failure stage = %d, want %d", failed.Stage, StageUUID)
	}
	if failed.Err == nil {
		t.Error("LoginFailed carries no error")
	}
}

func TestInitRejectionReported(t *testing.T) {
	h := newFlowHarness(t)
	h.scriptHappyPath(t)
	h.transport.respondBody("webwxinit", `{"BaseResponse":{"Ret":-1,"ErrMsg":"busy"}}`)

	err := h.flow.Run(context.Background())
	if err == nil {
		t.Fatal("expected handshake failure")
	}

	var stage int
	for _, ev := range h.collect() {
		if failed, ok := ev.(interfaces.LoginFailed); ok {
			stage = failed.Stage
		}
	}
	if stage != StageInit {
		t.Errorf("failure stage = %d, want %d", stage, StageInit)
	}
}
