// Package protocol response scrapers. The login and sync-check endpoints
// answer with HTML-ish or pseudo-JS bodies rather than JSON; these functions
// isolate the regex scraping and return explicit errors when an expected
// pattern is absent, which always signals a handshake failure or a protocol
// change upstream.
package protocol

import (
	"errors"
	"fmt"
	"regexp"
	"strconv"
	"strings"
)

// ErrPatternNotFound reports that a response body did not contain a pattern
// the protocol requires
var ErrPatternNotFound = errors.New("expected pattern not found in response")

var (
	uuidRe        = regexp.MustCompile(`uuid\s*=\s*"([-\w=]+)"`)
	redirectRe    = regexp.MustCompile(`redirect_uri="([^"]+)"`)
	skeyRe        = regexp.MustCompile(`<skey>(.*)</skey>`)
	sidRe         = regexp.MustCompile(`<wxsid>(.*)</wxsid>`)
	uinRe         = regexp.MustCompile(`<wxuin>(.*)</wxuin>`)
	passTicketRe  = regexp.MustCompile(`<pass_ticket>(.*)</pass_ticket>`)
	syncCheckRe   = regexp.MustCompile(`retcode:"(\d+)",selector:"(\d+)"`)
	cdnURLRe      = regexp.MustCompile(`cdnurl\s*=\s*"([^"]+)"`)
	groupSenderRe = regexp.MustCompile(`(?s)^(@\w+):(?:<br/>)*(.*)$`)
)

func capture(re *regexp.Regexp, body, what string) (string, error) {
	m := re.FindStringSubmatch(body)
	if m == nil {
		return "", fmt.Errorf("%s: %w", what, ErrPatternNotFound)
	}
	return m[1], nil
}

// ParseUUID extracts the login UUID from the jslogin response
func ParseUUID(body string) (string, error) {
	return capture(uuidRe, body, "login uuid")
}

// ParseRedirectURI extracts the post-scan redirect target from the login
// poll response
func ParseRedirectURI(body string) (string, error) {
	return capture(redirectRe, body, "redirect uri")
}

// LoginTokens holds the four credential strings issued by the redirect page
type LoginTokens struct {
	Skey       string
	Sid        string
	Uin        string
	PassTicket string
}

// ParseLoginTokens extracts skey, sid, uin, and pass_ticket from the XML-ish
// new-login-page body. All four must be present.
func ParseLoginTokens(body string) (LoginTokens, error) {
	var t LoginTokens
	var err error
	if t.Skey, err = capture(skeyRe, body, "skey"); err != nil {
		return t, err
	}
	if t.Sid, err = capture(sidRe, body, "sid"); err != nil {
		return t, err
	}
	if t.Uin, err = capture(uinRe, body, "uin"); err != nil {
		return t, err
	}
	if t.PassTicket, err = capture(passTicketRe, body, "pass_ticket"); err != nil {
		return t, err
	}
	return t, nil
}

// ParseSyncCheck extracts retcode and selector from a sync-check body.
// Absence of the pattern is a fatal protocol error, not a transient one.
func ParseSyncCheck(body string) (retcode, selector int, err error) {
	m := syncCheckRe.FindStringSubmatch(body)
	if m == nil {
		return 0, 0, fmt.Errorf("sync check status: %w", ErrPatternNotFound)
	}
	retcode, _ = strconv.Atoi(m[1])
	selector, _ = strconv.Atoi(m[2])
	return retcode, selector, nil
}

// ParseEmojiURL extracts the sticker CDN URL embedded in an emoji message's
// content. ok is false when the content carries no cdnurl attribute, in which
// case the message falls back to plain-text handling.
func ParseEmojiURL(content string) (string, bool) {
	m := cdnURLRe.FindStringSubmatch(content)
	if m == nil {
		return "", false
	}
	return m[1], true
}

// ParseGroupSender splits a group message's content into the true sender and
// the remaining text. Group payloads arrive as "@sender:<br/>text"; content
// without the prefix is a system notice for that chat and ok is false.
func ParseGroupSender(content string) (sender, text string, ok bool) {
	m := groupSenderRe.FindStringSubmatch(content)
	if m == nil {
		return "", "", false
	}
	return m[1], m[2], true
}

// ImagePlaceholder renders the inline marker the host UI uses to reference a
// registered media handle
func ImagePlaceholder(handle int) string {
	return fmt.Sprintf(`<IMG ID="%d">`, handle)
}

// HasImagePlaceholder reports whether message content references an inline
// image artifact
func HasImagePlaceholder(content string) bool {
	return strings.Contains(content, "<IMG ID=")
}

// IsGroupID reports whether an identifier belongs to the group-chat namespace
func IsGroupID(id string) bool {
	return strings.HasPrefix(id, GroupPrefix)
}
