// Package transport implements the HTTP adapter the protocol engine talks
// through. It is a thin GET/POST wrapper with per-call header override and
// explicit cookie injection; cookie state belongs to the session, never to
// the transport. Errors are classified so callers can tell transient network
// failures (retryable with backoff) apart from protocol-level failures.
package transport

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/webchat-console/webchat/internal/interfaces"
	"github.com/webchat-console/webchat/internal/logging"
)

// HTTP timeout configurations. The long-poll client's timeout must exceed
// the server-side hold time of the sync-check endpoint (observed around 25s)
// and the scan-wait login endpoint, which can hold for minutes.
const (
	DefaultRequestTimeout  = 30 * time.Second
	DefaultLongPollTimeout = 5 * time.Minute
)

// Client implements interfaces.Transport over two http.Clients: one with a
// request-scale timeout and one for long-poll calls.
type Client struct {
	httpClient     *http.Client
	longPollClient *http.Client
	logger         *logging.Logger

	mutex sync.Mutex
	stats Statistics
}

// Statistics tracks communication metrics for diagnostics
type Statistics struct {
	TotalRequests      int
	SuccessfulRequests int
	FailedRequests     int
	LastRequestTime    time.Time
}

// NewClient creates a transport with secure defaults
func NewClient() *Client {
	base := &http.Transport{
		MaxIdleConns:        10,
		IdleConnTimeout:     30 * time.Second,
		MaxIdleConnsPerHost: 2,
	}
	return &Client{
		httpClient: &http.Client{
			Timeout:   DefaultRequestTimeout,
			Transport: base,
		},
		longPollClient: &http.Client{
			Timeout:   DefaultLongPollTimeout,
			Transport: base,
		},
		logger: logging.GetTransportLogger(),
	}
}

// Error type discriminants
const (
	ErrorTypeNetwork = "network" // transport-level failure
	ErrorTypeHTTP    = "http"    // non-2xx status
)

// Error classifies a failed exchange
type Error struct {
	Type       string
	Message    string
	StatusCode int
	Timeout    bool
	Underlying error
}

// Error implements the error interface
func (e *Error) Error() string { return e.Message }

// Unwrap provides access to the underlying error
func (e *Error) Unwrap() error { return e.Underlying }

// IsRetryable reports whether retrying the exchange might succeed. Network
// errors and server-side statuses are transient; client-side statuses are not.
func (e *Error) IsRetryable() bool {
	switch e.Type {
	case ErrorTypeNetwork:
		return true
	case ErrorTypeHTTP:
		return e.StatusCode == http.StatusTooManyRequests || e.StatusCode >= 500
	default:
		return false
	}
}

// IsRetryable reports whether err is a transport error worth retrying
func IsRetryable(err error) bool {
	var te *Error
	return errors.As(err, &te) && te.IsRetryable()
}

// Get issues a GET and returns the response body
func (c *Client) Get(ctx context.Context, url string, headers http.Header) ([]byte, error) {
	resp, err := c.do(ctx, c.httpClient, http.MethodGet, url, headers, nil)
	if err != nil {
		return nil, err
	}
	return resp.Body, nil
}

// GetFull issues a GET and returns status, headers, and body. The login
// redirect uses this to capture Set-Cookie values.
func (c *Client) GetFull(ctx context.Context, url string, headers http.Header) (*interfaces.Response, error) {
	return c.do(ctx, c.httpClient, http.MethodGet, url, headers, nil)
}

// GetLongPoll issues a GET on the long-poll client
func (c *Client) GetLongPoll(ctx context.Context, url string, headers http.Header) ([]byte, error) {
	resp, err := c.do(ctx, c.longPollClient, http.MethodGet, url, headers, nil)
	if err != nil {
		return nil, err
	}
	return resp.Body, nil
}

// Post marshals payload to JSON and issues a POST, returning the body
func (c *Client) Post(ctx context.Context, url string, headers http.Header, payload any) ([]byte, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request payload: %w", err)
	}
	resp, err := c.do(ctx, c.httpClient, http.MethodPost, url, headers, body)
	if err != nil {
		return nil, err
	}
	return resp.Body, nil
}

// do executes one exchange with classification and statistics
func (c *Client) do(ctx context.Context, hc *http.Client, method, url string, headers http.Header, body []byte) (*interfaces.Response, error) {
	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}

	req, err := http.NewRequestWithContext(ctx, method, url, reader)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	applyHeaders(req, headers)

	start := time.Now()
	resp, err := hc.Do(req)
	duration := time.Since(start)
	c.updateStatistics(err == nil)

	if err != nil {
		return nil, c.wrapNetworkError(method, url, err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, c.wrapNetworkError(method, url, err)
	}

	c.logger.LogHTTPRequest(method, url, resp.StatusCode, duration)

	if resp.StatusCode >= 400 {
		return nil, &Error{
			Type:       ErrorTypeHTTP,
			Message:    fmt.Sprintf("%s %s: HTTP %d %s", method, url, resp.StatusCode, resp.Status),
			StatusCode: resp.StatusCode,
		}
	}

	return &interfaces.Response{
		StatusCode: resp.StatusCode,
		Header:     resp.Header,
		Body:       data,
	}, nil
}

// applyHeaders copies the caller's header set onto the request. A "Host"
// entry must go through req.Host; net/http ignores it in the header map.
func applyHeaders(req *http.Request, headers http.Header) {
	for key, values := range headers {
		if http.CanonicalHeaderKey(key) == "Host" {
			if len(values) > 0 {
				req.Host = values[0]
			}
			continue
		}
		for _, v := range values {
			req.Header.Add(key, v)
		}
	}
}

// wrapNetworkError classifies transport-level failures, flagging timeouts
func (c *Client) wrapNetworkError(method, url string, err error) error {
	var netErr net.Error
	timeout := errors.As(err, &netErr) && netErr.Timeout()
	return &Error{
		Type:       ErrorTypeNetwork,
		Message:    fmt.Sprintf("%s %s failed: %v", method, url, err),
		Timeout:    timeout,
		Underlying: err,
	}
}

// updateStatistics records the outcome of one exchange
func (c *Client) updateStatistics(success bool) {
	c.mutex.Lock()
	defer c.mutex.Unlock()
	c.stats.TotalRequests++
	c.stats.LastRequestTime = time.Now()
	if success {
		c.stats.SuccessfulRequests++
	} else {
		c.stats.FailedRequests++
	}
}

// GetStatistics returns a copy of the current statistics
func (c *Client) GetStatistics() Statistics {
	c.mutex.Lock()
	defer c.mutex.Unlock()
	return c.stats
}
