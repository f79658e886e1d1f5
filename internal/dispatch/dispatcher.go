// Package dispatch turns raw sync payloads into classified deliveries for the
// host UI. It owns message classification (group vs 1:1, sender extraction,
// system notices), asynchronous media fetching, and outgoing sends.
package dispatch

import (
	"context"
	"encoding/json"
	"fmt"
	"html"
	"net/http"
	"strings"

	"golang.org/x/sync/semaphore"

	"github.com/webchat-console/webchat/internal/directory"
	"github.com/webchat-console/webchat/internal/interfaces"
	"github.com/webchat-console/webchat/internal/logging"
	"github.com/webchat-console/webchat/internal/protocol"
	"github.com/webchat-console/webchat/internal/session"
)

// DefaultMediaFetchers bounds how many media downloads run concurrently
const DefaultMediaFetchers = 4

// Dispatcher classifies inbound messages and posts the results to the event
// bus. Media bodies are fetched on a bounded worker pool so a burst of image
// messages cannot exhaust connections.
type Dispatcher struct {
	session   *session.Session
	endpoints protocol.Endpoints
	emojiHost string
	transport interfaces.Transport
	bus       interfaces.EventBus
	dir       *directory.Directory
	media     interfaces.MediaStore
	logger    *logging.Logger
	fetchSem  *semaphore.Weighted
}

// New creates a dispatcher with the default media fetch bound
func New(
	sess *session.Session,
	endpoints protocol.Endpoints,
	emojiHost string,
	transport interfaces.Transport,
	bus interfaces.EventBus,
	dir *directory.Directory,
	media interfaces.MediaStore,
) *Dispatcher {
	return &Dispatcher{
		session:   sess,
		endpoints: endpoints,
		emojiHost: emojiHost,
		transport: transport,
		bus:       bus,
		dir:       dir,
		media:     media,
		logger:    logging.GetDispatchLogger(),
		fetchSem:  semaphore.NewWeighted(DefaultMediaFetchers),
	}
}

// CheckNewMessages fetches everything past the current sync cursor and
// dispatches each message. The returned cursor always overwrites the
// session's copy before any message is processed, so a dispatch failure can
// never cause a redelivery loop. Per-message failures are logged and skipped;
// only transport and envelope errors propagate.
func (d *Dispatcher) CheckNewMessages(ctx context.Context) error {
	_, sid, skey, passTicket, _ := d.session.Credentials()
	url := d.endpoints.Sync(sid, skey, passTicket)

	body, err := d.transport.Post(ctx, url, d.session.BaseHeaders(), d.session.SyncRequest())
	if err != nil {
		return fmt.Errorf("sync fetch failed: %w", err)
	}

	var resp protocol.SyncResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return fmt.Errorf("failed to decode sync response: %w", err)
	}
	if resp.BaseResponse.Ret != 0 {
		return fmt.Errorf("sync fetch rejected: ret=%d errmsg=%q",
			resp.BaseResponse.Ret, resp.BaseResponse.ErrMsg)
	}

	d.session.SetSyncKey(resp.SyncCheckKey)

	for _, msg := range resp.AddMsgList {
		if err := d.Dispatch(ctx, msg); err != nil {
			d.logger.Warn("Skipping undeliverable message",
				"msg_id", msg.MsgID, "msg_type", msg.MsgType, "error", err)
		}
	}
	return nil
}

// Dispatch routes one inbound message by its wire type
func (d *Dispatcher) Dispatch(ctx context.Context, msg interfaces.Message) error {
	switch msg.MsgType {
	case protocol.MsgTypeInit:
		// session bootstrap echo, nothing user-visible
		return nil
	case protocol.MsgTypeImage:
		d.fetchImageAsync(ctx, msg)
		return nil
	case protocol.MsgTypeEmoji:
		if cdnURL, ok := protocol.ParseEmojiURL(msg.Content); ok {
			d.fetchEmojiAsync(ctx, msg, cdnURL)
			return nil
		}
		// stickers without a cdnurl degrade to their text content
		return d.dispatchText(ctx, msg)
	default:
		return d.dispatchText(ctx, msg)
	}
}

// dispatchText classifies a text-bearing message and posts it
func (d *Dispatcher) dispatchText(ctx context.Context, msg interfaces.Message) error {
	delivery, err := d.classify(ctx, msg)
	if err != nil {
		return err
	}
	d.bus.Post(interfaces.MessageReceived{Delivery: delivery, Raw: msg})
	return nil
}

// classify resolves the conversation, true sender, and display flags for one
// message. Group content arrives as "@sender:<br/>text"; content without the
// prefix is a system notice for that chat.
func (d *Dispatcher) classify(ctx context.Context, msg interfaces.Message) (interfaces.Delivery, error) {
	self := d.session.UserName()
	delivery := interfaces.Delivery{
		Text:     cleanContent(msg.Content),
		HasImage: protocol.HasImagePlaceholder(msg.Content),
		Time:     msg.CreateTime,
	}

	switch {
	case protocol.IsGroupID(msg.FromUserName):
		// inbound group traffic, true sender embedded in content
		delivery.ChatID = msg.FromUserName
		delivery.Group = true
		delivery.Direction = interfaces.DirectionIncoming
		if sender, text, ok := protocol.ParseGroupSender(msg.Content); ok {
			delivery.Sender = sender
			delivery.Text = cleanContent(text)
		} else {
			delivery.System = true
		}
	case protocol.IsGroupID(msg.ToUserName):
		// own message to a group echoed back by the server
		delivery.ChatID = msg.ToUserName
		delivery.Group = true
		delivery.Sender = self
		delivery.Direction = interfaces.DirectionOutgoing
	case msg.FromUserName == self:
		delivery.ChatID = msg.ToUserName
		delivery.Sender = self
		delivery.Direction = interfaces.DirectionOutgoing
	default:
		delivery.ChatID = msg.FromUserName
		delivery.Sender = msg.FromUserName
		delivery.Direction = interfaces.DirectionIncoming
	}

	if delivery.Group {
		if err := d.ensureGroupKnown(ctx, delivery.ChatID); err != nil {
			d.logger.Warn("Group lookup failed, delivering anyway",
				"chat_id", delivery.ChatID, "error", err)
		}
	}
	return delivery, nil
}

// ensureGroupKnown resolves a group chat the directory has not seen yet.
// Messages can reference groups that were inactive at login time, so the
// full record is fetched lazily on first message.
func (d *Dispatcher) ensureGroupKnown(ctx context.Context, chatID string) error {
	if _, ok := d.dir.FindGroupByID(chatID); ok {
		return nil
	}

	_, _, _, passTicket, _ := d.session.Credentials()
	url := d.endpoints.BatchGetContact(passTicket, session.TimestampMillis())
	body, err := d.transport.Post(ctx, url, d.session.BaseHeaders(),
		d.session.BatchGetContactRequest([]string{chatID}))
	if err != nil {
		return fmt.Errorf("group info fetch failed: %w", err)
	}

	var resp protocol.BatchGetContactResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return fmt.Errorf("failed to decode group info: %w", err)
	}
	for _, group := range resp.ContactList {
		if d.dir.AddGroup(group) {
			// handling may re-enqueue member lookups, so the host finishes
			// its current drain pass first
			d.bus.PostYield(interfaces.RefreshChatMembers{ChatID: group.UserName})
		}
	}
	return nil
}

// fetchImageAsync downloads a message's image on the bounded pool and posts
// the finalized delivery once the artifact is stored
func (d *Dispatcher) fetchImageAsync(ctx context.Context, msg interfaces.Message) {
	delivery, err := d.classify(ctx, msg)
	if err != nil {
		d.logger.Warn("Dropping image message", "msg_id", msg.MsgID, "error", err)
		return
	}

	_, _, skey, _, _ := d.session.Credentials()
	url := d.endpoints.MsgImg(msg.MsgID, skey)
	d.fetchArtifact(ctx, msg, delivery, url, d.session.BaseHeaders(), msg.MsgID+".jpg")
}

// fetchEmojiAsync downloads a sticker from its CDN URL. The CDN is a
// separate host, so the request carries only the Host header; session
// cookies never leave the web host.
func (d *Dispatcher) fetchEmojiAsync(ctx context.Context, msg interfaces.Message, cdnURL string) {
	delivery, err := d.classify(ctx, msg)
	if err != nil {
		d.logger.Warn("Dropping sticker message", "msg_id", msg.MsgID, "error", err)
		return
	}

	headers := http.Header{}
	headers.Set("Host", d.emojiHost)
	d.fetchArtifact(ctx, msg, delivery, cdnURL, headers, msg.MsgID+".gif")
}

// fetchArtifact runs one bounded download and posts AppendImageMessage with
// the stored handle. The Yield marker ahead of the event lets the host pump
// finish creating the conversation before the image lands in it.
func (d *Dispatcher) fetchArtifact(ctx context.Context, msg interfaces.Message, delivery interfaces.Delivery, url string, headers http.Header, name string) {
	go func() {
		logger := d.logger.WithField("msg_id", msg.MsgID)
		if err := d.fetchSem.Acquire(ctx, 1); err != nil {
			return
		}
		defer d.fetchSem.Release(1)

		data, err := d.transport.Get(ctx, url, headers)
		d.logger.LogMediaFetch(msg.MsgID, len(data), err)
		if err != nil {
			return
		}

		handle, path, err := d.media.Add(name, data)
		if err != nil {
			logger.Warn("Media store failed", "error", err)
			return
		}
		logger.Debug("Stored media artifact",
			"handle", handle, "path", path, "bytes", len(data))

		delivery.HasImage = true
		delivery.Text = protocol.ImagePlaceholder(handle)
		d.bus.PostYield(interfaces.AppendImageMessage{
			Handle:   handle,
			Delivery: delivery,
			Raw:      msg,
		})
	}()
}

// SendMessage posts one outgoing text message and reports the outcome as a
// SendResult event keyed by the returned local identifier.
func (d *Dispatcher) SendMessage(ctx context.Context, to, text string) string {
	req, localID := d.session.SendMsgRequest(to, text)
	_, _, _, passTicket, _ := d.session.Credentials()
	url := d.endpoints.SendMsg(passTicket)

	body, err := d.transport.Post(ctx, url, d.session.BaseHeaders(), req)
	if err != nil {
		d.bus.Post(interfaces.SendResult{LocalID: localID, Err: fmt.Errorf("send failed: %w", err)})
		return localID
	}

	var resp protocol.SendMsgResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		d.bus.Post(interfaces.SendResult{LocalID: localID, Err: fmt.Errorf("failed to decode send response: %w", err)})
		return localID
	}
	if resp.BaseResponse.Ret != 0 {
		d.bus.Post(interfaces.SendResult{LocalID: localID, Err: fmt.Errorf(
			"send rejected: ret=%d errmsg=%q", resp.BaseResponse.Ret, resp.BaseResponse.ErrMsg)})
		return localID
	}

	d.bus.Post(interfaces.SendResult{LocalID: localID})
	return localID
}

// cleanContent strips transport markup from message text
func cleanContent(text string) string {
	text = strings.ReplaceAll(text, "<br/>", "\n")
	return html.UnescapeString(text)
}
