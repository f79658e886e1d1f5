// Package protocol implements the browser-oriented chat wire protocol: endpoint
// URL construction, request/response payload structures, and the regex scrapers
// that pull credentials and status codes out of the server's HTML-ish bodies.
// The format is undocumented; everything here encodes observed behavior.
package protocol

import (
	"fmt"
	"net/url"
)

// AppID is the client application identifier the QR login provider expects
const AppID = "wx782c26e4c19acffb"

// Default protocol hosts
const (
	DefaultLoginHost = "login.web.wechat.com"
	DefaultWebHost   = "web.wechat.com"
	DefaultPushHost  = "webpush.web.wechat.com"
	DefaultEmojiHost = "emoji.qpic.cn"
)

// Endpoints builds the full URLs for every protocol operation. Hosts are
// configurable so tests and the mock server can point the engine anywhere.
type Endpoints struct {
	LoginBase string // e.g. "https://login.web.wechat.com"
	WebBase   string // e.g. "https://web.wechat.com"
	PushBase  string // e.g. "https://webpush.web.wechat.com"
}

// DefaultEndpoints returns the production endpoint set
func DefaultEndpoints() Endpoints {
	return Endpoints{
		LoginBase: "https://" + DefaultLoginHost,
		WebBase:   "https://" + DefaultWebHost,
		PushBase:  "https://" + DefaultPushHost,
	}
}

// JSLogin requests a fresh login UUID
func (e Endpoints) JSLogin() string {
	return fmt.Sprintf("%s/jslogin?appid=%s&redirect_uri=%s&fun=new&lang=zh_CN",
		e.LoginBase, AppID,
		url.QueryEscape(e.WebBase+"/cgi-bin/mmwebwx-bin/webwxnewloginpage"))
}

// QRCode returns the QR image URL for a login UUID
func (e Endpoints) QRCode(uuid string) string {
	return fmt.Sprintf("%s/qrcode/%s", e.LoginBase, uuid)
}

// LoginPoll polls the scan status for a login UUID. tip=1 primes the
// server-side session; tip=0 long-polls until the code is scanned.
func (e Endpoints) LoginPoll(uuid string, tip int) string {
	return fmt.Sprintf("%s/cgi-bin/mmwebwx-bin/login?uuid=%s&tip=%d", e.LoginBase, uuid, tip)
}

// NewLoginPage finalizes the redirect URI extracted from the scan response
func (e Endpoints) NewLoginPage(redirectURI string) string {
	return redirectURI + "&fun=new&version=v2"
}

// Init bootstraps the authenticated session
func (e Endpoints) Init(passTicket, skey string, ts int64) string {
	return fmt.Sprintf("%s/cgi-bin/mmwebwx-bin/webwxinit?lang=zh_CN&pass_ticket=%s&skey=%s&r=%d",
		e.WebBase, url.QueryEscape(passTicket), url.QueryEscape(skey), ts)
}

// BatchGetContact fetches full records for a batch of group chats
func (e Endpoints) BatchGetContact(passTicket string, ts int64) string {
	return fmt.Sprintf("%s/cgi-bin/mmwebwx-bin/webwxbatchgetcontact?type=ex&r=%d&pass_ticket=%s",
		e.WebBase, ts, url.QueryEscape(passTicket))
}

// GetContact fetches the full contact list
func (e Endpoints) GetContact(passTicket, skey string, ts int64) string {
	return fmt.Sprintf("%s/cgi-bin/mmwebwx-bin/webwxgetcontact?pass_ticket=%s&skey=%s&r=%d&seq=0",
		e.WebBase, url.QueryEscape(passTicket), url.QueryEscape(skey), ts)
}

// StatusNotify marks the session active server-side
func (e Endpoints) StatusNotify(passTicket string) string {
	return fmt.Sprintf("%s/cgi-bin/mmwebwx-bin/webwxstatusnotify?lang=zh_CN&pass_ticket=%s",
		e.WebBase, url.QueryEscape(passTicket))
}

// SyncCheck is the long-poll change-notification endpoint on the push
// subdomain. The two trailing timestamps are freshness nonces.
func (e Endpoints) SyncCheck(sid, uin, skey, deviceID, syncKey string, ts int64) string {
	return fmt.Sprintf("%s/cgi-bin/mmwebwx-bin/synccheck?sid=%s&uin=%s&skey=%s&deviceid=%s&synckey=%s&r=%d&_=%d",
		e.PushBase, url.QueryEscape(sid), url.QueryEscape(uin), url.QueryEscape(skey),
		url.QueryEscape(deviceID), url.QueryEscape(syncKey), ts, ts)
}

// Sync fetches the new-message payload after a positive sync check
func (e Endpoints) Sync(sid, skey, passTicket string) string {
	return fmt.Sprintf("%s/cgi-bin/mmwebwx-bin/webwxsync?sid=%s&skey=%s&pass_ticket=%s",
		e.WebBase, url.QueryEscape(sid), url.QueryEscape(skey), url.QueryEscape(passTicket))
}

// SendMsg posts an outgoing message
func (e Endpoints) SendMsg(passTicket string) string {
	return fmt.Sprintf("%s/cgi-bin/mmwebwx-bin/webwxsendmsg?pass_ticket=%s",
		e.WebBase, url.QueryEscape(passTicket))
}

// MsgImg retrieves the binary image attached to a message
func (e Endpoints) MsgImg(msgID, skey string) string {
	return fmt.Sprintf("%s/cgi-bin/mmwebwx-bin/webwxgetmsgimg?&MsgID=%s&skey=%s",
		e.WebBase, url.QueryEscape(msgID), url.QueryEscape(skey))
}
