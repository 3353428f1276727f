// Package sdk is a Go client for the HTTP state backend protocol.
package sdk

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/hashicorp/go-retryablehttp"
)

var (
	ErrNotFound     = errors.New("no state stored at path")
	ErrUnauthorized = errors.New("state backend requires auth")
	ErrForbidden    = errors.New("state backend rejected credentials")
)

// LockedError is returned by Lock when another client holds the lock.
type LockedError struct {
	// Holder is the lock record currently stored, as returned by the server.
	Holder []byte
}

func (e *LockedError) Error() string {
	return fmt.Sprintf("state already locked: %s", e.Holder)
}

// StatusError carries an unexpected response.
type StatusError struct {
	Method string
	Path   string
	Code   int
	Body   string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("%s %s: unexpected HTTP response code %d: %s", e.Method, e.Path, e.Code, e.Body)
}

// Options mirrors the server's protocol configuration plus retry tuning.
type Options struct {
	Username string
	Password string

	UpdateMethod string // default POST
	LockMethod   string // default LOCK
	UnlockMethod string // default UNLOCK
	LockSuffix   string
	UnlockSuffix string

	RetryMax     int // 0 means 2, negative disables retries
	RetryWaitMin time.Duration
	RetryWaitMax time.Duration
	Logger       *slog.Logger
}

// Client is the state backend SDK client
type Client struct {
	baseURL string
	opts    Options
	http    *retryablehttp.Client
}

// NewClient creates a new client. Requests are retried on connection errors
// and 5xx responses, never on 4xx.
func NewClient(baseURL string, opts Options) *Client {
	if opts.UpdateMethod == "" {
		opts.UpdateMethod = http.MethodPost
	}
	if opts.LockMethod == "" {
		opts.LockMethod = "LOCK"
	}
	if opts.UnlockMethod == "" {
		opts.UnlockMethod = "UNLOCK"
	}

	rc := retryablehttp.NewClient()
	rc.RetryMax = 2
	if opts.RetryMax > 0 {
		rc.RetryMax = opts.RetryMax
	} else if opts.RetryMax < 0 {
		rc.RetryMax = 0
	}
	if opts.RetryWaitMin > 0 {
		rc.RetryWaitMin = opts.RetryWaitMin
	}
	if opts.RetryWaitMax > 0 {
		rc.RetryWaitMax = opts.RetryWaitMax
	}
	rc.CheckRetry = retryServerErrors
	// hand back the final response instead of a generic "giving up" error
	rc.ErrorHandler = retryablehttp.PassthroughErrorHandler
	rc.Logger = nil
	if opts.Logger != nil {
		rc.Logger = opts.Logger
	}

	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		opts:    opts,
		http:    rc,
	}
}

// retryServerErrors is retryablehttp's default policy minus its 429 retry.
func retryServerErrors(ctx context.Context, resp *http.Response, err error) (bool, error) {
	if err == nil && resp != nil && resp.StatusCode < http.StatusInternalServerError {
		return false, nil
	}
	return retryablehttp.DefaultRetryPolicy(ctx, resp, err)
}

// NewClientWithHTTPClient creates a new client with a custom retrying HTTP client
func NewClientWithHTTPClient(baseURL string, opts Options, httpClient *retryablehttp.Client) *Client {
	c := NewClient(baseURL, opts)
	c.http = httpClient
	return c
}

func (c *Client) do(ctx context.Context, method, path string, data []byte) (int, []byte, error) {
	var body interface{}
	if len(data) > 0 {
		body = data
	}

	req, err := retryablehttp.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return 0, nil, fmt.Errorf("failed to make %s request: %w", method, err)
	}
	if c.opts.Username != "" {
		req.SetBasicAuth(c.opts.Username, c.opts.Password)
	}
	if len(data) > 0 {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return 0, nil, fmt.Errorf("failed to %s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return resp.StatusCode, nil, fmt.Errorf("failed to read response: %w", err)
	}

	switch resp.StatusCode {
	case http.StatusUnauthorized:
		return resp.StatusCode, respBody, ErrUnauthorized
	case http.StatusForbidden:
		return resp.StatusCode, respBody, ErrForbidden
	}
	return resp.StatusCode, respBody, nil
}

func unexpected(method, path string, code int, body []byte) error {
	return &StatusError{Method: method, Path: path, Code: code, Body: string(body)}
}

// GetState returns ErrNotFound when nothing is stored at path.
func (c *Client) GetState(ctx context.Context, path string) ([]byte, error) {
	code, body, err := c.do(ctx, http.MethodGet, path, nil)
	if err != nil {
		return nil, err
	}
	switch code {
	case http.StatusOK:
		if len(body) == 0 {
			return nil, ErrNotFound
		}
		return body, nil
	case http.StatusNotFound, http.StatusNoContent:
		return nil, ErrNotFound
	default:
		return nil, unexpected(http.MethodGet, path, code, body)
	}
}

func (c *Client) PutState(ctx context.Context, path string, data []byte) error {
	code, body, err := c.do(ctx, c.opts.UpdateMethod, path, data)
	if err != nil {
		return err
	}
	switch code {
	case http.StatusOK, http.StatusCreated, http.StatusNoContent:
		return nil
	default:
		return unexpected(c.opts.UpdateMethod, path, code, body)
	}
}

func (c *Client) DeleteState(ctx context.Context, path string) error {
	code, body, err := c.do(ctx, http.MethodDelete, path, nil)
	if err != nil {
		return err
	}
	if code != http.StatusOK && code != http.StatusNoContent {
		return unexpected(http.MethodDelete, path, code, body)
	}
	return nil
}

// Lock acquires the lock on path with info as the lock record. When the path
// is already locked the error is a *LockedError carrying the holder's record.
func (c *Client) Lock(ctx context.Context, path string, info []byte) ([]byte, error) {
	code, body, err := c.do(ctx, c.opts.LockMethod, path+c.opts.LockSuffix, info)
	if err != nil {
		return nil, err
	}
	switch code {
	case http.StatusOK:
		return body, nil
	case http.StatusLocked, http.StatusConflict:
		return nil, &LockedError{Holder: body}
	default:
		return nil, unexpected(c.opts.LockMethod, path, code, body)
	}
}

func (c *Client) Unlock(ctx context.Context, path string, info []byte) error {
	code, body, err := c.do(ctx, c.opts.UnlockMethod, path+c.opts.UnlockSuffix, info)
	if err != nil {
		return err
	}
	if code != http.StatusOK {
		return unexpected(c.opts.UnlockMethod, path, code, body)
	}
	return nil
}
