// Package protocol request and response payload structures. Field names match
// the server's JSON exactly; structs that embed BaseRequest form the
// authenticated POST envelope.
package protocol

import (
	"github.com/webchat-console/webchat/internal/interfaces"
)

// Message type discriminants observed on the wire
const (
	MsgTypeText  = 1
	MsgTypeImage = 3
	MsgTypeEmoji = 47
	MsgTypeInit  = 51
)

// Terminal sync-check return codes. Either one means the server has
// invalidated the session, typically because the account logged in elsewhere.
const (
	RetcodeLogout    = 1100
	RetcodeElsewhere = 1101
)

// GroupPrefix marks identifiers in the group-chat namespace
const GroupPrefix = "@@"

// LocalIDSuffix is appended to the millisecond timestamp to form client
// message identifiers
const LocalIDSuffix = "1234"

// BaseRequest is the common authentication block embedded in every
// authenticated POST body
type BaseRequest struct {
	Uin      int64  `json:"Uin"`
	Sid      string `json:"Sid"`
	Skey     string `json:"Skey"`
	DeviceID string `json:"DeviceID"`
}

// SyncKeyPair is one per-channel sequence counter
type SyncKeyPair struct {
	Key int64 `json:"Key"`
	Val int64 `json:"Val"`
}

// SyncKey is the structured count+list form of the sync cursor, echoed
// verbatim on the fetch endpoint
type SyncKey struct {
	Count int           `json:"Count"`
	List  []SyncKeyPair `json:"List"`
}

// BaseResponse carries the server's per-request status
type BaseResponse struct {
	Ret    int    `json:"Ret"`
	ErrMsg string `json:"ErrMsg"`
}

// UserInfo is the authenticated user's own identity record
type UserInfo struct {
	UserName   string `json:"UserName"`
	NickName   string `json:"NickName"`
	RemarkName string `json:"RemarkName"`
	Uin        int64  `json:"Uin"`
}

// InitRequest bootstraps the session after the redirect completes
type InitRequest struct {
	BaseRequest BaseRequest `json:"BaseRequest"`
}

// InitResponse returns the user's identity, the initial sync cursor, and a
// seed contact list that includes recently active group chats
type InitResponse struct {
	BaseResponse BaseResponse           `json:"BaseResponse"`
	User         UserInfo               `json:"User"`
	SyncKey      SyncKey                `json:"SyncKey"`
	ContactList  []interfaces.GroupChat `json:"ContactList"`
}

// GroupQuery names one group chat in a batch contact request
type GroupQuery struct {
	UserName   string `json:"UserName"`
	ChatRoomID string `json:"ChatRoomId"`
}

// BatchGetContactRequest fetches full info for a set of group chats
type BatchGetContactRequest struct {
	BaseRequest BaseRequest  `json:"BaseRequest"`
	Count       int          `json:"Count"`
	List        []GroupQuery `json:"List"`
}

// BatchGetContactResponse returns the resolved group records
type BatchGetContactResponse struct {
	BaseResponse BaseResponse           `json:"BaseResponse"`
	ContactList  []interfaces.GroupChat `json:"ContactList"`
}

// GetContactResponse returns the full (non-group) contact list
type GetContactResponse struct {
	BaseResponse BaseResponse         `json:"BaseResponse"`
	MemberCount  int                  `json:"MemberCount"`
	MemberList   []interfaces.Contact `json:"MemberList"`
}

// StatusNotifyRequest marks the session active server-side
type StatusNotifyRequest struct {
	BaseRequest  BaseRequest `json:"BaseRequest"`
	Code         int         `json:"Code"`
	FromUserName string      `json:"FromUserName"`
	ToUserName   string      `json:"ToUserName"`
	ClientMsgID  int64       `json:"ClientMsgId"`
}

// SyncRequest asks the fetch endpoint for everything past the current cursor.
// rr is a freshness nonce, the bitwise NOT of the millisecond timestamp.
type SyncRequest struct {
	BaseRequest BaseRequest `json:"BaseRequest"`
	SyncKey     SyncKey     `json:"SyncKey"`
	RR          int64       `json:"rr"`
}

// SyncResponse carries new messages and the advanced cursor. SyncCheckKey is
// authoritative: the session's cursor is overwritten with it wholesale.
type SyncResponse struct {
	BaseResponse BaseResponse         `json:"BaseResponse"`
	AddMsgList   []interfaces.Message `json:"AddMsgList"`
	SyncCheckKey SyncKey              `json:"SyncCheckKey"`
}

// OutgoingMsg is the message block of a send request. LocalID and ClientMsgID
// carry the same client-generated identifier.
type OutgoingMsg struct {
	Type         int    `json:"Type"`
	Content      string `json:"Content"`
	FromUserName string `json:"FromUserName"`
	ToUserName   string `json:"ToUserName"`
	LocalID      string `json:"LocalID"`
	ClientMsgID  string `json:"ClientMsgId"`
}

// SendMsgRequest posts one outgoing text message
type SendMsgRequest struct {
	BaseRequest BaseRequest `json:"BaseRequest"`
	Msg         OutgoingMsg `json:"Msg"`
	Scene       int         `json:"Scene"`
}

// SendMsgResponse acknowledges an outgoing message
type SendMsgResponse struct {
	BaseResponse BaseResponse `json:"BaseResponse"`
	MsgID        string       `json:"MsgID"`
	LocalID      string       `json:"LocalID"`
}
