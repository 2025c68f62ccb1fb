package lightclient

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/roach88/ledgerkv/internal/ledger"
)

// HTTPError is a non-2xx response from the light client.
type HTTPError struct {
	Method     string
	URL        string
	StatusCode int
	Body       string
}

func (e *HTTPError) Error() string {
	return fmt.Sprintf("%s %s: status %d: %s", e.Method, e.URL, e.StatusCode, e.Body)
}

// retryable reports whether the request may succeed later. 404 is returned
// for heights the light client has not verified yet.
func (e *HTTPError) retryable() bool {
	switch {
	case e.StatusCode >= 500:
		return true
	case e.StatusCode == http.StatusNotFound, e.StatusCode == http.StatusTooManyRequests:
		return true
	default:
		return false
	}
}

// Status is the subset of /v2/status the store needs.
type Status struct {
	Latest uint64
	AppID  ledger.AppID
	HasApp bool
}

// Client is a ledger.Client backed by a light client's HTTP API.
//
// Thread-safety: Client is safe for concurrent use.
type Client struct {
	endpoint string
	http     *http.Client
	logger   *slog.Logger

	mu     sync.Mutex
	appID  ledger.AppID
	hasApp bool
}

var _ ledger.Client = (*Client)(nil)

// Option configures a Client.
type Option func(*Client)

// WithHTTPClient replaces the HTTP client. Default: a client with a 30s
// timeout.
func WithHTTPClient(h *http.Client) Option {
	return func(c *Client) {
		c.http = h
	}
}

// WithLogger sets the logger. Default: slog.Default().
func WithLogger(l *slog.Logger) Option {
	return func(c *Client) {
		c.logger = l
	}
}

// New creates a client for the light client at endpoint
// (e.g. "http://127.0.0.1:7007").
func New(endpoint string, opts ...Option) *Client {
	c := &Client{
		endpoint: strings.TrimRight(endpoint, "/"),
		http:     &http.Client{Timeout: 30 * time.Second},
		logger:   slog.Default(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Status queries /v2/status. The reported app id is remembered.
func (c *Client) Status(ctx context.Context) (Status, error) {
	var resp statusResponse
	if err := c.do(ctx, http.MethodGet, "/v2/status", nil, &resp); err != nil {
		return Status{}, fmt.Errorf("status: %w", err)
	}
	st := Status{Latest: resp.Blocks.Latest}
	if resp.AppID != nil {
		st.AppID = ledger.AppID(*resp.AppID)
		st.HasApp = true
		c.mu.Lock()
		c.appID, c.hasApp = st.AppID, true
		c.mu.Unlock()
	}
	return st, nil
}

// LatestHeight implements ledger.Client.
func (c *Client) LatestHeight(ctx context.Context) (uint64, error) {
	st, err := c.Status(ctx)
	if err != nil {
		return 0, err
	}
	return st.Latest, nil
}

// Fetch implements ledger.Client.
func (c *Client) Fetch(ctx context.Context, height uint64, appID ledger.AppID) ([][]byte, error) {
	if err := c.checkApp(ctx, appID); err != nil {
		return nil, &ledger.FetchError{Height: height, AppID: appID, Err: err}
	}

	var resp blockDataResponse
	path := fmt.Sprintf("/v2/blocks/%d/data?fields=data", height)
	if err := c.do(ctx, http.MethodGet, path, nil, &resp); err != nil {
		return nil, &ledger.FetchError{Height: height, AppID: appID, Err: err}
	}

	blobs := make([][]byte, 0, len(resp.DataTransactions))
	for _, tx := range resp.DataTransactions {
		blobs = append(blobs, tx.Data)
	}
	return blobs, nil
}

// Submit implements ledger.Client.
func (c *Client) Submit(ctx context.Context, appID ledger.AppID, data []byte) (uint64, error) {
	if err := c.checkApp(ctx, appID); err != nil {
		return 0, &ledger.SubmitError{AppID: appID, Err: err}
	}

	var resp submitResponse
	if err := c.do(ctx, http.MethodPost, "/v2/submit", submitRequest{Data: data}, &resp); err != nil {
		return 0, &ledger.SubmitError{AppID: appID, Err: err}
	}
	c.logger.Debug("blob submitted", "app_id", appID, "height", resp.BlockNumber, "bytes", len(data))
	return resp.BlockNumber, nil
}

// checkApp rejects app ids the light client was not started with. A node that
// does not report its app id accepts any.
func (c *Client) checkApp(ctx context.Context, appID ledger.AppID) error {
	c.mu.Lock()
	known, has := c.appID, c.hasApp
	c.mu.Unlock()

	if !has {
		st, err := c.Status(ctx)
		if err != nil {
			return err
		}
		if !st.HasApp {
			return nil
		}
		known = st.AppID
	}
	if known != appID {
		return ledger.Permanent(fmt.Errorf("light client serves app %d, not %d", known, appID))
	}
	return nil
}

func (c *Client) do(ctx context.Context, method, path string, body, reply any) error {
	var reader io.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			return ledger.Permanent(fmt.Errorf("encode request: %w", err))
		}
		reader = bytes.NewReader(payload)
	}

	url := c.endpoint + path
	req, err := http.NewRequestWithContext(ctx, method, url, reader)
	if err != nil {
		return ledger.Permanent(err)
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("read response: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		herr := &HTTPError{Method: method, URL: url, StatusCode: resp.StatusCode, Body: strings.TrimSpace(string(raw))}
		if !herr.retryable() {
			return ledger.Permanent(herr)
		}
		return herr
	}
	if err := json.Unmarshal(raw, reply); err != nil {
		return fmt.Errorf("decode response from %s: %w", url, err)
	}
	return nil
}

// IsHTTPError returns true if err is or wraps an *HTTPError.
func IsHTTPError(err error) bool {
	var he *HTTPError
	return errors.As(err, &he)
}
