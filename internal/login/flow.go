// Package login drives the QR handshake: obtain a login UUID, show the QR
// code, wait for the scan, follow the redirect to harvest credentials, and
// bootstrap the session. Each stage failure is reported with the stage that
// broke so the host can tell a network problem from a protocol change.
package login

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/webchat-console/webchat/internal/directory"
	"github.com/webchat-console/webchat/internal/interfaces"
	"github.com/webchat-console/webchat/internal/logging"
	"github.com/webchat-console/webchat/internal/protocol"
	"github.com/webchat-console/webchat/internal/session"
)

// Handshake stages, reported in LoginFailed events
const (
	StageUUID = iota + 1
	StageQRCode
	StageScanWait
	StageRedirect
	StageInit
	StageStatusNotify
	StageContacts
)

// scanPollInterval paces re-polls when the server answers without a redirect
const scanPollInterval = 2 * time.Second

// Flow is one login attempt. A Flow is single-use; create a fresh one to
// log in again.
type Flow struct {
	session   *session.Session
	endpoints protocol.Endpoints
	transport interfaces.Transport
	bus       interfaces.EventBus
	dir       *directory.Directory
	media     interfaces.MediaStore
	logger    *logging.Logger
}

// New creates a login flow
func New(
	sess *session.Session,
	endpoints protocol.Endpoints,
	tr interfaces.Transport,
	bus interfaces.EventBus,
	dir *directory.Directory,
	media interfaces.MediaStore,
) *Flow {
	return &Flow{
		session:   sess,
		endpoints: endpoints,
		transport: tr,
		bus:       bus,
		dir:       dir,
		media:     media,
		logger:    logging.GetLoginLogger(),
	}
}

// Run performs the full handshake. On success the session holds credentials,
// identity, and the initial sync cursor, and the directory is seeded with
// the init contact list. Failures are posted as LoginFailed before returning.
func (f *Flow) Run(ctx context.Context) error {
	f.logger.LogHandshakeStage(StageUUID, "uuid")
	uuid, err := f.fetchUUID(ctx)
	if err != nil {
		return f.fail(StageUUID, err)
	}

	f.logger.LogHandshakeStage(StageQRCode, "qrcode")
	if err := f.showQRCode(ctx, uuid); err != nil {
		return f.fail(StageQRCode, err)
	}

	f.logger.LogHandshakeStage(StageScanWait, "scan-wait")
	redirect, err := f.waitForScan(ctx, uuid)
	if err != nil {
		f.bus.Post(interfaces.DismissVerifyImage{})
		return f.fail(StageScanWait, err)
	}
	f.bus.Post(interfaces.DismissVerifyImage{})

	f.logger.LogHandshakeStage(StageRedirect, "redirect")
	if err := f.followRedirect(ctx, redirect); err != nil {
		return f.fail(StageRedirect, err)
	}

	f.logger.LogHandshakeStage(StageInit, "init")
	if err := f.initSession(ctx); err != nil {
		return f.fail(StageInit, err)
	}

	// activation failure does not block the session, the sync loop still runs
	f.logger.LogHandshakeStage(StageStatusNotify, "status-notify")
	if err := f.notifyStatus(ctx); err != nil {
		f.logger.Warn("Status notify failed, continuing", "error", err)
	}

	f.logger.LogHandshakeStage(StageContacts, "contacts")
	f.fetchContactsAsync(ctx)

	f.logger.Info("Login complete", "user", f.session.UserName())
	return nil
}

// fail posts a stage-tagged LoginFailed event and wraps the error
func (f *Flow) fail(stage int, err error) error {
	f.logger.Error("Login failed", "stage", stage, "error", err)
	f.bus.Post(interfaces.LoginFailed{Stage: stage, Err: err})
	return fmt.Errorf("login stage %d failed: %w", stage, err)
}

// fetchUUID obtains a fresh login UUID
func (f *Flow) fetchUUID(ctx context.Context) (string, error) {
	body, err := f.transport.Get(ctx, f.endpoints.JSLogin(), nil)
	if err != nil {
		return "", err
	}
	uuid, err := protocol.ParseUUID(string(body))
	if err != nil {
		return "", err
	}
	f.logger.Debug("Obtained login uuid", "uuid", uuid)
	return uuid, nil
}

// showQRCode downloads the QR image, stores it, and asks the host to show it
func (f *Flow) showQRCode(ctx context.Context, uuid string) error {
	data, err := f.transport.Get(ctx, f.endpoints.QRCode(uuid), nil)
	if err != nil {
		return err
	}
	path, err := f.media.SaveQRCode(data)
	if err != nil {
		return err
	}
	f.bus.Post(interfaces.ShowVerifyImage{Path: path})
	return nil
}

// waitForScan polls the login endpoint until the QR code is scanned and
// confirmed. The first poll primes the server-side session with tip=1;
// subsequent polls long-poll with tip=0. A body without a redirect means
// the user has not confirmed yet.
func (f *Flow) waitForScan(ctx context.Context, uuid string) (string, error) {
	tip := 1
	for {
		if err := ctx.Err(); err != nil {
			return "", err
		}

		body, err := f.transport.GetLongPoll(ctx, f.endpoints.LoginPoll(uuid, tip), nil)
		if err != nil {
			return "", err
		}
		tip = 0

		text := string(body)
		if strings.Contains(text, "window.code=200") {
			return protocol.ParseRedirectURI(text)
		}
		if strings.Contains(text, "window.code=201") {
			// scanned, waiting for confirm on the phone
			f.logger.Debug("QR code scanned, awaiting confirmation")
			continue
		}

		// 408 or an empty hold, pace the next poll
		select {
		case <-ctx.Done():
			return "", ctx.Err()
		case <-time.After(scanPollInterval):
		}
	}
}

// followRedirect finalizes the redirect page and harvests the credential
// tokens and cookies it issues
func (f *Flow) followRedirect(ctx context.Context, redirectURI string) error {
	resp, err := f.transport.GetFull(ctx, f.endpoints.NewLoginPage(redirectURI), nil)
	if err != nil {
		return err
	}

	tokens, err := protocol.ParseLoginTokens(string(resp.Body))
	if err != nil {
		return err
	}

	setCookies := resp.Header.Values("Set-Cookie")
	if err := f.session.SetCredentials(tokens, setCookies); err != nil {
		return err
	}
	f.logger.Info("Credentials acquired", "cookies", len(setCookies))
	return nil
}

// initSession bootstraps the authenticated session: own identity, initial
// sync cursor, and the seed contact list with its recently active groups
func (f *Flow) initSession(ctx context.Context) error {
	_, _, skey, passTicket, _ := f.session.Credentials()
	url := f.endpoints.Init(passTicket, skey, session.TimestampMillis())

	body, err := f.transport.Post(ctx, url, f.session.BaseHeaders(),
		protocol.InitRequest{BaseRequest: f.session.BaseRequest()})
	if err != nil {
		return err
	}

	var resp protocol.InitResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return fmt.Errorf("failed to decode init response: %w", err)
	}
	if resp.BaseResponse.Ret != 0 {
		return fmt.Errorf("init rejected: ret=%d errmsg=%q",
			resp.BaseResponse.Ret, resp.BaseResponse.ErrMsg)
	}
	if resp.User.UserName == "" {
		return fmt.Errorf("init response carries no user identity")
	}

	f.session.SetUser(resp.User)
	f.session.SetSyncKey(resp.SyncKey)
	f.seedDirectory(ctx, resp.ContactList)
	return nil
}

// seedDirectory loads the init contact list. The init entries for group
// chats are partial, so their ids are collected and the full records come
// from one batch fetch; plain entries are 1:1 contacts.
func (f *Flow) seedDirectory(ctx context.Context, list []interfaces.GroupChat) {
	var groupIDs []string
	for _, entry := range list {
		if protocol.IsGroupID(entry.UserName) {
			groupIDs = append(groupIDs, entry.UserName)
			continue
		}
		f.dir.AddContact(interfaces.Contact{
			UserName:   entry.UserName,
			NickName:   entry.NickName,
			RemarkName: entry.RemarkName,
		})
	}

	if len(groupIDs) == 0 {
		return
	}
	// a failed batch fetch is recoverable, the dispatcher resolves any
	// group lazily on its first message
	if err := f.fetchGroups(ctx, groupIDs); err != nil {
		f.logger.Warn("Seed group fetch failed", "groups", len(groupIDs), "error", err)
	}
}

// fetchGroups batch-fetches full group records and inserts them
func (f *Flow) fetchGroups(ctx context.Context, ids []string) error {
	_, _, _, passTicket, _ := f.session.Credentials()
	url := f.endpoints.BatchGetContact(passTicket, session.TimestampMillis())

	body, err := f.transport.Post(ctx, url, f.session.BaseHeaders(),
		f.session.BatchGetContactRequest(ids))
	if err != nil {
		return err
	}

	var resp protocol.BatchGetContactResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return fmt.Errorf("failed to decode group info: %w", err)
	}
	for _, group := range resp.ContactList {
		if f.dir.AddGroup(group) {
			f.bus.PostYield(interfaces.RefreshChatMembers{ChatID: group.UserName})
		}
	}
	return nil
}

// notifyStatus marks the session active server-side
func (f *Flow) notifyStatus(ctx context.Context) error {
	_, _, _, passTicket, _ := f.session.Credentials()
	url := f.endpoints.StatusNotify(passTicket)

	body, err := f.transport.Post(ctx, url, f.session.BaseHeaders(), f.session.StatusNotifyRequest())
	if err != nil {
		return err
	}

	var resp struct {
		BaseResponse protocol.BaseResponse `json:"BaseResponse"`
	}
	if err := json.Unmarshal(body, &resp); err != nil {
		return fmt.Errorf("failed to decode status notify response: %w", err)
	}
	if resp.BaseResponse.Ret != 0 {
		return fmt.Errorf("status notify rejected: ret=%d", resp.BaseResponse.Ret)
	}
	return nil
}

// fetchContactsAsync loads the full 1:1 contact list in the background so a
// large roster never delays the first sync poll. The directory announces
// each first sighting on the bus as it lands.
func (f *Flow) fetchContactsAsync(ctx context.Context) {
	go func() {
		_, _, skey, passTicket, _ := f.session.Credentials()
		url := f.endpoints.GetContact(passTicket, skey, session.TimestampMillis())

		body, err := f.transport.Get(ctx, url, f.session.BaseHeaders())
		if err != nil {
			f.logger.Warn("Contact list fetch failed", "error", err)
			return
		}

		var resp protocol.GetContactResponse
		if err := json.Unmarshal(body, &resp); err != nil {
			f.logger.Warn("Contact list decode failed", "error", err)
			return
		}

		added := 0
		for _, c := range resp.MemberList {
			if protocol.IsGroupID(c.UserName) {
				f.dir.AddGroup(interfaces.GroupChat{
					UserName:   c.UserName,
					NickName:   c.NickName,
					RemarkName: c.RemarkName,
				})
				continue
			}
			if f.dir.AddContact(c) {
				added++
			}
		}
		f.logger.Info("Contact list loaded", "total", resp.MemberCount, "added", added)
	}()
}
