// Package session maintains the single authenticated-session aggregate:
// server-issued credentials, cookies, the user's own identity, and the sync
// cursor. One instance exists per process; every component reads it through
// shared access and only the login handshake and cursor advance mutate it.
// No method performs network I/O, so no lock is ever held across a request.
package session

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/webchat-console/webchat/internal/logging"
	"github.com/webchat-console/webchat/internal/protocol"
)

// TimestampMillis returns the wall clock in milliseconds, the protocol's
// freshness nonce and client-id base.
func TimestampMillis() int64 {
	return time.Now().UnixMilli()
}

// Session is the process-wide session state. The zero credentials are empty
// until the login handshake completes; they change only on re-login. The sync
// cursor is the sole steady-state mutation.
type Session struct {
	mu     sync.RWMutex
	logger *logging.Logger

	uin        string
	uinNum     int64
	sid        string
	skey       string
	passTicket string
	deviceID   string

	cookies  []string
	user     protocol.UserInfo
	syncKeys []protocol.SyncKeyPair

	webHost  string
	pushHost string
}

// New creates an empty session. The device identifier is generated once per
// process in the provider's observed format.
func New(webHost, pushHost string) *Session {
	return &Session{
		logger:   logging.GetSessionLogger(),
		deviceID: fmt.Sprintf("e56%d", TimestampMillis()),
		webHost:  webHost,
		pushHost: pushHost,
	}
}

// SetCredentials installs the handshake result in one exclusive critical
// section; a reader can never observe a partial credential set. Cookies are
// replaced wholesale.
func (s *Session) SetCredentials(tokens protocol.LoginTokens, setCookies []string) error {
	uinNum, err := strconv.ParseInt(tokens.Uin, 10, 64)
	if err != nil {
		return fmt.Errorf("uin %q is not numeric: %w", tokens.Uin, err)
	}

	cookies := make([]string, 0, len(setCookies))
	for _, c := range setCookies {
		// keep only the name=value segment of each Set-Cookie line
		nv := strings.TrimSpace(strings.SplitN(c, ";", 2)[0])
		if nv == "" {
			continue
		}
		cookies = append(cookies, nv)
	}

	s.mu.Lock()
	s.uin = tokens.Uin
	s.uinNum = uinNum
	s.sid = tokens.Sid
	s.skey = tokens.Skey
	s.passTicket = tokens.PassTicket
	s.cookies = cookies
	s.mu.Unlock()

	s.logger.Info("Credentials installed", "cookies", len(cookies))
	return nil
}

// Credentials copies out the credential strings under shared access
func (s *Session) Credentials() (uin, sid, skey, passTicket, deviceID string) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.uin, s.sid, s.skey, s.passTicket, s.deviceID
}

// Authenticated reports whether the handshake has completed
func (s *Session) Authenticated() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.uin != "" && s.user.UserName != ""
}

// SetUser stores the authenticated user's identity record
func (s *Session) SetUser(user protocol.UserInfo) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.user = user
}

// UserName returns the authenticated user's stable identifier
func (s *Session) UserName() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.user.UserName
}

// User returns the authenticated user's identity record
func (s *Session) User() protocol.UserInfo {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.user
}

// SetSyncKey overwrites the sync cursor with the server's returned value.
// An empty list is ignored: the server omits SyncCheckKey on some responses
// and the cursor must never regress to nothing.
func (s *Session) SetSyncKey(key protocol.SyncKey) {
	if len(key.List) == 0 {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.syncKeys = append(s.syncKeys[:0:0], key.List...)
}

// SyncKeyString serializes the cursor in the poll endpoint's k_v|k_v form
func (s *Session) SyncKeyString() string {
	s.mu.RLock()
	defer s.mu.RUnlock()

	parts := make([]string, len(s.syncKeys))
	for i, kv := range s.syncKeys {
		parts[i] = fmt.Sprintf("%d_%d", kv.Key, kv.Val)
	}
	return strings.Join(parts, "|")
}

// SyncKey returns the cursor in the fetch endpoint's count+list form. Both
// encodings derive from the same backing list, in the same order.
func (s *Session) SyncKey() protocol.SyncKey {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return protocol.SyncKey{
		Count: len(s.syncKeys),
		List:  append([]protocol.SyncKeyPair(nil), s.syncKeys...),
	}
}

// BaseRequest builds the common authentication envelope. It is a pure
// function of current session state and is recomputed on every call.
func (s *Session) BaseRequest() protocol.BaseRequest {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return protocol.BaseRequest{
		Uin:      s.uinNum,
		Sid:      s.sid,
		Skey:     s.skey,
		DeviceID: s.deviceID,
	}
}

// StatusNotifyRequest builds the one-time session-activation payload
func (s *Session) StatusNotifyRequest() protocol.StatusNotifyRequest {
	name := s.UserName()
	return protocol.StatusNotifyRequest{
		BaseRequest:  s.BaseRequest(),
		Code:         3,
		FromUserName: name,
		ToUserName:   name,
		ClientMsgID:  TimestampMillis(),
	}
}

// SyncRequest builds the fetch payload carrying the current cursor
func (s *Session) SyncRequest() protocol.SyncRequest {
	return protocol.SyncRequest{
		BaseRequest: s.BaseRequest(),
		SyncKey:     s.SyncKey(),
		RR:          ^TimestampMillis(),
	}
}

// BatchGetContactRequest builds the group-info payload for a set of chat ids
func (s *Session) BatchGetContactRequest(ids []string) protocol.BatchGetContactRequest {
	list := make([]protocol.GroupQuery, len(ids))
	for i, id := range ids {
		list[i] = protocol.GroupQuery{UserName: id}
	}
	return protocol.BatchGetContactRequest{
		BaseRequest: s.BaseRequest(),
		Count:       len(ids),
		List:        list,
	}
}

// SendMsgRequest builds an outgoing text message payload and returns the
// client-generated identifier used as both LocalID and ClientMsgId.
func (s *Session) SendMsgRequest(to, content string) (protocol.SendMsgRequest, string) {
	localID := strconv.FormatInt(TimestampMillis(), 10) + protocol.LocalIDSuffix
	req := protocol.SendMsgRequest{
		BaseRequest: s.BaseRequest(),
		Msg: protocol.OutgoingMsg{
			Type:         protocol.MsgTypeText,
			Content:      content,
			FromUserName: s.UserName(),
			ToUserName:   to,
			LocalID:      localID,
			ClientMsgID:  localID,
		},
		Scene: 0,
	}
	return req, localID
}

// cookieHeader joins the stored cookies; callers hold at least a read lock
func (s *Session) cookieHeader() string {
	return strings.Join(s.cookies, "; ")
}

// BaseHeaders assembles the header set for the main web host. A fresh set is
// built per call so explicit session mutations are always picked up.
func (s *Session) BaseHeaders() http.Header {
	s.mu.RLock()
	defer s.mu.RUnlock()

	h := http.Header{}
	h.Set("Content-Type", "application/json; charset=UTF-8")
	h.Set("Accept", "application/json, text/plain, */*")
	h.Set("Host", s.webHost)
	h.Set("Referer", "https://"+s.webHost+"/?&lang=zh_CN")
	if c := s.cookieHeader(); c != "" {
		h.Set("Cookie", c)
	}
	return h
}

// SyncHeaders assembles the header set for the push subdomain used by the
// long-poll endpoint. Cookies are shared with the web host; Host, Accept,
// and Referer are overridden.
func (s *Session) SyncHeaders() http.Header {
	s.mu.RLock()
	defer s.mu.RUnlock()

	h := http.Header{}
	h.Set("Accept", "*/*")
	h.Set("Host", s.pushHost)
	h.Set("Referer", "https://"+s.pushHost+"/?&lang=zh_CN")
	if c := s.cookieHeader(); c != "" {
		h.Set("Cookie", c)
	}
	return h
}

// snapshot is the serialized session form used by opt-in persistence
type snapshot struct {
	Uin        string                 `json:"uin"`
	Sid        string                 `json:"sid"`
	Skey       string                 `json:"skey"`
	PassTicket string                 `json:"passTicket"`
	DeviceID   string                 `json:"deviceId"`
	Cookies    []string               `json:"cookies"`
	User       protocol.UserInfo      `json:"user"`
	SyncKeys   []protocol.SyncKeyPair `json:"syncKeys"`
}

// Snapshot serializes the full session state for encrypted persistence
func (s *Session) Snapshot() ([]byte, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return json.Marshal(snapshot{
		Uin:        s.uin,
		Sid:        s.sid,
		Skey:       s.skey,
		PassTicket: s.passTicket,
		DeviceID:   s.deviceID,
		Cookies:    s.cookies,
		User:       s.user,
		SyncKeys:   s.syncKeys,
	})
}

// Restore replaces the session state from a snapshot produced by Snapshot
func (s *Session) Restore(data []byte) error {
	var snap snapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		return fmt.Errorf("failed to decode session snapshot: %w", err)
	}
	uinNum, err := strconv.ParseInt(snap.Uin, 10, 64)
	if err != nil {
		return fmt.Errorf("snapshot uin %q is not numeric: %w", snap.Uin, err)
	}

	s.mu.Lock()
	s.uin = snap.Uin
	s.uinNum = uinNum
	s.sid = snap.Sid
	s.skey = snap.Skey
	s.passTicket = snap.PassTicket
	s.deviceID = snap.DeviceID
	s.cookies = snap.Cookies
	s.user = snap.User
	s.syncKeys = snap.SyncKeys
	s.mu.Unlock()

	s.logger.Info("Session state restored", "user", snap.User.UserName)
	return nil
}
