package directory

import (
	"testing"

	"github.com/webchat-console/webchat/internal/events"
	"github.com/webchat-console/webchat/internal/interfaces"
)

func drainAll(b *events.Bus) []interfaces.Event {
	var out []interfaces.Event
	for {
		n := b.Drain(func(ev interfaces.Event) { out = append(out, ev) })
		if n == 0 && b.Pending() == 0 {
			return out
		}
	}
}

func TestAddContactIdempotent(t *testing.T) {
	bus := events.New()
	d := New(bus)

	c := interfaces.Contact{UserName: "@alice", NickName: "Alice"}
	if !d.AddContact(c) {
		t.Error("first insertion reported as duplicate")
	}
	// duplicate insertions, including one with changed display fields
	if d.AddContact(c) {
		t.Error("duplicate insertion reported as new")
	}
	if d.AddContact(interfaces.Contact{UserName: "@alice", NickName: "Alice Renamed"}) {
		t.Error("re-observed identifier reported as new")
	}
	if !d.AddContact(interfaces.Contact{UserName: "@bob"}) {
		t.Error("distinct identifier reported as duplicate")
	}

	notifications := 0
	for _, ev := range drainAll(bus) {
		if _, ok := ev.(interfaces.AddContact); ok {
			notifications++
		}
	}
	if notifications != 2 {
		t.Errorf("notification count = %d, want one per distinct identifier (2)", notifications)
	}

	contacts, _ := d.Counts()
	if contacts != 2 {
		t.Errorf("contact count = %d, want 2", contacts)
	}
}

func TestAddGroupAssignsStableToken(t *testing.T) {
	bus := events.New()
	d := New(bus)

	if !d.AddGroup(interfaces.GroupChat{UserName: "@@g1", NickName: "team"}) {
		t.Fatal("first group insertion failed")
	}

	g, ok := d.FindGroupByID("@@g1")
	if !ok {
		t.Fatal("group not found after insertion")
	}
	if g.Token == 0 {
		t.Error("token must be non-zero")
	}
	if g.Token != ChatToken("@@g1") {
		t.Error("token is not a stable function of the identifier")
	}

	byToken, ok := d.FindGroupByToken(g.Token)
	if !ok || byToken.UserName != "@@g1" {
		t.Errorf("token lookup returned %+v", byToken)
	}
	if d.TokenFor("@@g1") != g.Token {
		t.Error("TokenFor disagrees with stored token")
	}
	if d.TokenFor("@@unknown") != 0 {
		t.Error("unknown group must resolve to the zero token")
	}
}

func TestAddGroupIdempotent(t *testing.T) {
	bus := events.New()
	d := New(bus)

	d.AddGroup(interfaces.GroupChat{UserName: "@@g1"})
	if d.AddGroup(interfaces.GroupChat{UserName: "@@g1", NickName: "renamed"}) {
		t.Error("duplicate group reported as new")
	}

	adds := 0
	for _, ev := range drainAll(bus) {
		if _, ok := ev.(interfaces.AddGroup); ok {
			adds++
		}
	}
	if adds != 1 {
		t.Errorf("AddGroup events = %d, want 1", adds)
	}
}

func TestUpdateChatHandlePreservesMembership(t *testing.T) {
	bus := events.New()
	d := New(bus)

	d.AddGroup(interfaces.GroupChat{UserName: "@@g1", Members: []interfaces.Contact{{UserName: "@m1"}}})
	token := d.TokenFor("@@g1")

	if !d.UpdateChatHandle("@@g1", "handle-ptr") {
		t.Fatal("handle update failed for known group")
	}
	if d.UpdateChatHandle("@@missing", "x") {
		t.Error("handle update succeeded for unknown group")
	}

	g, ok := d.FindGroupByID("@@g1")
	if !ok {
		t.Fatal("group lost after handle update")
	}
	if g.Handle != "handle-ptr" {
		t.Errorf("handle = %v", g.Handle)
	}
	if g.Token != token {
		t.Error("token changed by handle update")
	}
	if members := d.Members("@@g1"); len(members) != 1 || members[0].UserName != "@m1" {
		t.Errorf("members = %+v", members)
	}
}

func TestFindGroupByName(t *testing.T) {
	bus := events.New()
	d := New(bus)
	d.AddGroup(interfaces.GroupChat{UserName: "@@g1", NickName: "friends", RemarkName: "besties"})

	for _, name := range []string{"friends", "besties", "@@g1"} {
		if _, ok := d.FindGroupByName(name); !ok {
			t.Errorf("lookup by %q failed", name)
		}
	}
	if _, ok := d.FindGroupByName("nope"); ok {
		t.Error("lookup of unknown name succeeded")
	}
}
