// Package interfaces defines all core interfaces required for dependency injection
// and comprehensive testability throughout the webchat protocol engine.
package interfaces

import (
	"context"
	"net/http"
)

// Profile represents a complete configuration profile for one chat account
type Profile struct {
	Name           string       `yaml:"name"`
	LoginHost      string       `yaml:"loginHost"`
	WebHost        string       `yaml:"webHost"`
	PushHost       string       `yaml:"pushHost"`
	EmojiHost      string       `yaml:"emojiHost"`
	MediaDir       string       `yaml:"mediaDir"`
	PersistSession bool         `yaml:"persistSession"`
	Sync           SyncSettings `yaml:"sync"`
}

// SyncSettings tunes the sync loop's transient-failure handling
type SyncSettings struct {
	MaxRetries    int     `yaml:"maxRetries"`
	InitialDelay  string  `yaml:"initialDelay"`
	MaxDelay      string  `yaml:"maxDelay"`
	BackoffFactor float64 `yaml:"backoffFactor"`
}

// Contact is a 1:1 peer known to the directory. Identity is UserName; the
// remaining fields are display metadata and never participate in equality.
type Contact struct {
	UserName   string `json:"UserName"`
	NickName   string `json:"NickName"`
	RemarkName string `json:"RemarkName"`
}

// GroupChat is a multi-party conversation. Token is a locally-derived numeric
// handle the host UI uses to address the chat without exposing UserName;
// Handle is an opaque UI-side pointer assigned lazily after AddGroup.
type GroupChat struct {
	UserName   string    `json:"UserName"`
	NickName   string    `json:"NickName"`
	RemarkName string    `json:"RemarkName"`
	Token      uint32    `json:"-"`
	Handle     any       `json:"-"`
	Members    []Contact `json:"MemberList"`
}

// Message is the inbound wire envelope as the sync endpoint delivers it.
// For group traffic the true sender is embedded in Content and must be
// extracted by the dispatcher.
type Message struct {
	MsgID        string `json:"MsgId"`
	MsgType      int64  `json:"MsgType"`
	FromUserName string `json:"FromUserName"`
	ToUserName   string `json:"ToUserName"`
	Content      string `json:"Content"`
	CreateTime   int64  `json:"CreateTime"`
}

// Delivery direction relative to the authenticated user
const (
	DirectionIncoming = "recv"
	DirectionOutgoing = "send"
)

// Delivery is a classified message ready for the host UI: the dispatcher has
// resolved the conversation, the true sender, and the display flags.
type Delivery struct {
	ChatID    string `json:"chatId"`    // conversation key: peer id or @@group id
	Group     bool   `json:"group"`     // group conversation vs 1:1
	Sender    string `json:"sender"`    // resolved sender id
	Text      string `json:"text"`      // content with transport markup removed
	Direction string `json:"direction"` // DirectionIncoming or DirectionOutgoing
	System    bool   `json:"system"`    // group notice without a sender prefix
	HasImage  bool   `json:"hasImage"`  // content references an image artifact
	Time      int64  `json:"time"`      // server timestamp, seconds
}

// Event is a typed notification delivered to the host UI through the bus.
// The set mirrors the host adapter boundary: implementations live in this
// package so every component can produce them without import cycles.
type Event interface{ event() }

// ShowVerifyImage asks the host to display the login QR code saved at Path.
type ShowVerifyImage struct{ Path string }

// DismissVerifyImage asks the host to close the QR dialog after a scan.
type DismissVerifyImage struct{}

// ShowMessageBox asks the host to present a one-shot notice dialog.
type ShowMessageBox struct{ Text string }

// AddContact announces a contact seen for the first time this session.
type AddContact struct{ Contact Contact }

// AddGroup announces a group chat seen for the first time this session.
type AddGroup struct{ Group GroupChat }

// MessageReceived carries a classified text message.
type MessageReceived struct {
	Delivery Delivery
	Raw      Message
}

// AppendImageMessage carries a finalized image or sticker message. Handle is
// the media store identifier of the fetched artifact.
type AppendImageMessage struct {
	Handle   int
	Delivery Delivery
	Raw      Message
}

// RefreshChatMembers asks the host to rebuild the member list of a chat.
type RefreshChatMembers struct{ ChatID string }

// SendResult reports the outcome of one outgoing message by its LocalID.
type SendResult struct {
	LocalID string
	Err     error
}

// LoginFailed surfaces a handshake failure with the stage that broke.
type LoginFailed struct {
	Stage int
	Err   error
}

// SessionExpired reports that the server terminated the session (logged in
// elsewhere); the sync loop emits it exactly once before exiting.
type SessionExpired struct{ Retcode int }

// Yield instructs the host pump to stop draining for this tick. Producers
// post it immediately before an event whose consumer-side handling may need
// to enqueue further events.
type Yield struct{}

func (ShowVerifyImage) event()    {}
func (DismissVerifyImage) event() {}
func (ShowMessageBox) event()     {}
func (AddContact) event()         {}
func (AddGroup) event()           {}
func (MessageReceived) event()    {}
func (AppendImageMessage) event() {}
func (RefreshChatMembers) event() {}
func (SendResult) event()         {}
func (LoginFailed) event()        {}
func (SessionExpired) event()     {}
func (Yield) event()              {}

// Response is a transport-level HTTP result when headers matter to the caller
// (the login redirect needs the Set-Cookie values).
type Response struct {
	StatusCode int
	Header     http.Header
	Body       []byte
}

// Transport performs HTTP exchanges with per-call header override. Cookie
// state is owned by the session and injected explicitly through the supplied
// headers, never by the transport itself.
type Transport interface {
	// Get issues a GET and returns the response body
	Get(ctx context.Context, url string, headers http.Header) ([]byte, error)

	// GetFull issues a GET and returns status, headers, and body
	GetFull(ctx context.Context, url string, headers http.Header) (*Response, error)

	// GetLongPoll issues a GET on the long-poll client, whose timeout
	// exceeds the server-side hold time
	GetLongPoll(ctx context.Context, url string, headers http.Header) ([]byte, error)

	// Post marshals payload to JSON and issues a POST, returning the body
	Post(ctx context.Context, url string, headers http.Header, payload any) ([]byte, error)
}

// EventBus is the ordered multi-producer/single-consumer channel between the
// engine and the host UI.
type EventBus interface {
	// Post enqueues an event, blocking if the consumer has fallen behind
	Post(ev Event)

	// PostYield enqueues a Yield marker followed by ev
	PostYield(ev Event)

	// Drain passes pending events to handle until the queue is empty or a
	// Yield marker is consumed, and reports how many events were handled
	Drain(handle func(Event)) int
}

// MediaStore persists fetched binary artifacts (QR codes, images, stickers)
// under per-fetch unique paths and hands out numeric handles the host UI can
// reference without touching the filesystem.
type MediaStore interface {
	// SaveQRCode writes the login QR image and returns its path
	SaveQRCode(data []byte) (string, error)

	// Add writes an artifact and registers it, returning its handle and path
	Add(name string, data []byte) (int, string, error)

	// PathFor resolves a handle to the stored file path
	PathFor(handle int) (string, bool)
}

// ConfigManager handles profile loading and persistence
type ConfigManager interface {
	// LoadProfile retrieves a profile by name, falling back to defaults
	LoadProfile(name string) (*Profile, error)

	// SaveProfile persists a profile to the configuration file
	SaveProfile(profile *Profile) error

	// GetConfigPath returns the path to the configuration file
	GetConfigPath() string
}
