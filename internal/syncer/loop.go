// Package syncer runs the steady-state change-notification loop: long-poll
// the push endpoint, decode the retcode/selector pair, and hand message
// fetching to the dispatcher. Transient transport failures are retried with
// bounded exponential backoff; terminal retcodes end the loop after exactly
// one user-visible notice.
package syncer

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/webchat-console/webchat/internal/interfaces"
	"github.com/webchat-console/webchat/internal/logging"
	"github.com/webchat-console/webchat/internal/protocol"
	"github.com/webchat-console/webchat/internal/session"
	"github.com/webchat-console/webchat/internal/transport"
)

// Loop states
const (
	StatePolling    = "POLLING"
	StateTerminated = "TERMINATED"
)

// RetryPolicy defines backoff behavior for transient poll failures
type RetryPolicy struct {
	MaxAttempts   int
	InitialDelay  time.Duration
	MaxDelay      time.Duration
	BackoffFactor float64
}

// DefaultRetryPolicy matches the default profile's sync settings
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		MaxAttempts:   5,
		InitialDelay:  time.Second,
		MaxDelay:      30 * time.Second,
		BackoffFactor: 2.0,
	}
}

// PolicyFromSettings builds a RetryPolicy from profile sync settings,
// falling back to defaults for unparseable values
func PolicyFromSettings(s interfaces.SyncSettings) RetryPolicy {
	policy := DefaultRetryPolicy()
	if s.MaxRetries > 0 {
		policy.MaxAttempts = s.MaxRetries
	}
	if d, err := time.ParseDuration(s.InitialDelay); err == nil && d > 0 {
		policy.InitialDelay = d
	}
	if d, err := time.ParseDuration(s.MaxDelay); err == nil && d > 0 {
		policy.MaxDelay = d
	}
	if s.BackoffFactor >= 1.0 {
		policy.BackoffFactor = s.BackoffFactor
	}
	return policy
}

// delayFor computes the backoff delay for a zero-based attempt number
func (p RetryPolicy) delayFor(attempt int) time.Duration {
	delay := p.InitialDelay
	for i := 0; i < attempt; i++ {
		delay = time.Duration(float64(delay) * p.BackoffFactor)
		if delay >= p.MaxDelay {
			return p.MaxDelay
		}
	}
	if delay > p.MaxDelay {
		return p.MaxDelay
	}
	return delay
}

// Fetcher pulls and dispatches new messages after a positive poll
type Fetcher interface {
	CheckNewMessages(ctx context.Context) error
}

// Loop is the sync-check poller. One Loop runs per authenticated session.
type Loop struct {
	session   *session.Session
	endpoints protocol.Endpoints
	transport interfaces.Transport
	bus       interfaces.EventBus
	fetcher   Fetcher
	policy    RetryPolicy
	logger    *logging.Logger

	state string
}

// New creates a sync loop
func New(
	sess *session.Session,
	endpoints protocol.Endpoints,
	tr interfaces.Transport,
	bus interfaces.EventBus,
	fetcher Fetcher,
	policy RetryPolicy,
) *Loop {
	return &Loop{
		session:   sess,
		endpoints: endpoints,
		transport: tr,
		bus:       bus,
		fetcher:   fetcher,
		policy:    policy,
		logger:    logging.GetSyncLogger(),
		state:     StatePolling,
	}
}

// State returns the loop's last observed state
func (l *Loop) State() string { return l.state }

// Run polls until the context is canceled, the server terminates the
// session, or the retry budget for consecutive transient failures runs out.
// The push-subdomain headers are assembled once per Run; credentials cannot
// change while a session is live.
func (l *Loop) Run(ctx context.Context) error {
	headers := l.session.SyncHeaders()
	failures := 0

	for {
		if err := ctx.Err(); err != nil {
			l.state = StateTerminated
			return err
		}

		retcode, selector, err := l.pollOnce(ctx, headers)
		if err != nil {
			if ctx.Err() != nil {
				l.state = StateTerminated
				return ctx.Err()
			}
			if transport.IsRetryable(err) && failures < l.policy.MaxAttempts {
				delay := l.policy.delayFor(failures)
				failures++
				l.logger.Warn("Sync poll failed, backing off",
					"attempt", failures, "max_attempts", l.policy.MaxAttempts,
					"delay", delay.String(), "error", err)
				if !sleepCtx(ctx, delay) {
					l.state = StateTerminated
					return ctx.Err()
				}
				continue
			}
			l.state = StateTerminated
			l.bus.Post(interfaces.ShowMessageBox{Text: "Connection to chat server lost."})
			return fmt.Errorf("sync poll failed permanently: %w", err)
		}

		switch {
		case retcode == protocol.RetcodeLogout || retcode == protocol.RetcodeElsewhere:
			l.state = StateTerminated
			l.logger.Info("Server terminated the session", "retcode", retcode)
			l.bus.Post(interfaces.SessionExpired{Retcode: retcode})
			l.bus.Post(interfaces.ShowMessageBox{Text: "Logged in from another device. This session has ended."})
			return nil
		case retcode != 0:
			// only the logout codes end the session; anything else still
			// carries a usable selector
			l.logger.Warn("Unexpected sync check retcode", "retcode", retcode, "selector", selector)
		}

		failures = 0

		if selector == 0 {
			// long poll timed out with nothing new
			continue
		}

		l.logger.Debug("Changes available", "selector", selector)
		if err := l.fetcher.CheckNewMessages(ctx); err != nil {
			if ctx.Err() != nil {
				l.state = StateTerminated
				return ctx.Err()
			}
			if transport.IsRetryable(err) && failures < l.policy.MaxAttempts {
				delay := l.policy.delayFor(failures)
				failures++
				l.logger.Warn("Message fetch failed, backing off",
					"attempt", failures, "delay", delay.String(), "error", err)
				if !sleepCtx(ctx, delay) {
					l.state = StateTerminated
					return ctx.Err()
				}
				continue
			}
			l.state = StateTerminated
			l.bus.Post(interfaces.ShowMessageBox{Text: "Connection to chat server lost."})
			return fmt.Errorf("message fetch failed permanently: %w", err)
		}
	}
}

// pollOnce issues one long-poll sync check and decodes its status pair
func (l *Loop) pollOnce(ctx context.Context, headers http.Header) (retcode, selector int, err error) {
	uin, sid, skey, _, deviceID := l.session.Credentials()
	ts := session.TimestampMillis()
	url := l.endpoints.SyncCheck(sid, uin, skey, deviceID, l.session.SyncKeyString(), ts)

	start := time.Now()
	body, err := l.transport.GetLongPoll(ctx, url, headers)
	if err != nil {
		return 0, 0, err
	}
	retcode, selector, err = protocol.ParseSyncCheck(string(body))
	if err == nil {
		l.logger.LogSyncTick(retcode, selector, time.Since(start))
	}
	return retcode, selector, err
}

// sleepCtx sleeps for d unless the context is canceled first
func sleepCtx(ctx context.Context, d time.Duration) bool {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-timer.C:
		return true
	}
}
