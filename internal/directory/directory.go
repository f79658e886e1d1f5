// Package directory caches the contacts and group chats known to the current
// session. Entries are keyed by their stable server identifier, so re-observing
// a known peer is a no-op and mutable fields (the UI chat handle) can be
// updated without disturbing membership. First sightings are announced on the
// event bus; nothing is ever evicted for the session's lifetime.
package directory

import (
	"hash/fnv"
	"sync"

	"github.com/webchat-console/webchat/internal/interfaces"
)

// Directory is the deduplicated contact/group registry
type Directory struct {
	mu       sync.RWMutex
	contacts map[string]interfaces.Contact
	groups   map[string]*interfaces.GroupChat

	bus interfaces.EventBus
}

// New creates an empty directory that announces first sightings on bus
func New(bus interfaces.EventBus) *Directory {
	return &Directory{
		contacts: make(map[string]interfaces.Contact),
		groups:   make(map[string]*interfaces.GroupChat),
		bus:      bus,
	}
}

// ChatToken derives the numeric handle the host UI uses to address a group
// chat. The value is a stable function of the identifier and never zero
// (zero is the host's not-found sentinel).
func ChatToken(id string) uint32 {
	h := fnv.New32a()
	h.Write([]byte(id))
	t := h.Sum32()
	if t == 0 {
		t = 1
	}
	return t
}

// AddContact inserts a contact if its identifier is unknown and reports
// whether it was newly added. Only first sightings are announced.
func (d *Directory) AddContact(c interfaces.Contact) bool {
	if c.UserName == "" {
		return false
	}

	d.mu.Lock()
	_, known := d.contacts[c.UserName]
	if !known {
		d.contacts[c.UserName] = c
	}
	d.mu.Unlock()

	if known {
		return false
	}
	d.bus.Post(interfaces.AddContact{Contact: c})
	return true
}

// AddGroup inserts a group chat if its identifier is unknown, assigning its
// token, and reports whether it was newly added.
func (d *Directory) AddGroup(g interfaces.GroupChat) bool {
	if g.UserName == "" {
		return false
	}
	g.Token = ChatToken(g.UserName)

	d.mu.Lock()
	_, known := d.groups[g.UserName]
	if !known {
		stored := g
		d.groups[g.UserName] = &stored
	}
	d.mu.Unlock()

	if known {
		return false
	}
	d.bus.Post(interfaces.AddGroup{Group: g})
	return true
}

// UpdateChatHandle assigns the host UI's opaque handle to a known group.
// Entries are keyed by identifier, so the update cannot affect membership.
func (d *Directory) UpdateChatHandle(id string, handle any) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	g, ok := d.groups[id]
	if !ok {
		return false
	}
	g.Handle = handle
	return true
}

// FindContact looks up a contact by identifier
func (d *Directory) FindContact(id string) (interfaces.Contact, bool) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	c, ok := d.contacts[id]
	return c, ok
}

// FindGroupByID looks up a group chat by identifier
func (d *Directory) FindGroupByID(id string) (interfaces.GroupChat, bool) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	g, ok := d.groups[id]
	if !ok {
		return interfaces.GroupChat{}, false
	}
	return *g, true
}

// FindGroupByToken looks up a group chat by its derived numeric token
func (d *Directory) FindGroupByToken(token uint32) (interfaces.GroupChat, bool) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	for _, g := range d.groups {
		if g.Token == token {
			return *g, true
		}
	}
	return interfaces.GroupChat{}, false
}

// FindGroupByName looks up a group chat by display name or alias
func (d *Directory) FindGroupByName(name string) (interfaces.GroupChat, bool) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	for _, g := range d.groups {
		if g.NickName == name || g.RemarkName == name || g.UserName == name {
			return *g, true
		}
	}
	return interfaces.GroupChat{}, false
}

// TokenFor returns the token of a known group chat, or zero when unknown
func (d *Directory) TokenFor(id string) uint32 {
	d.mu.RLock()
	defer d.mu.RUnlock()
	if g, ok := d.groups[id]; ok {
		return g.Token
	}
	return 0
}

// Members returns the member contacts of a group chat
func (d *Directory) Members(id string) []interfaces.Contact {
	d.mu.RLock()
	defer d.mu.RUnlock()
	g, ok := d.groups[id]
	if !ok {
		return nil
	}
	return append([]interfaces.Contact(nil), g.Members...)
}

// Counts reports the current directory sizes
func (d *Directory) Counts() (contacts, groups int) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return len(d.contacts), len(d.groups)
}
