// Package rest implements the request/response boundary with the livefeed
// server: baseline snapshot loading, notification mutations, task and profile
// fetches, and the chatbot Q&A endpoint.
package rest

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"
)

const defaultHTTPTimeout = 15 * time.Second

// ErrUnauthenticated reports a rejected bearer token; not retried.
var ErrUnauthenticated = errors.New("unauthenticated")

// Client is the authenticated HTTP client for the livefeed REST API.
type Client struct {
	baseURL  string
	token    string
	deviceID string
	http     *http.Client
	log      *zap.Logger

	sessionFile string
	sessionOnce sync.Once
	sessionID   string
}

// Option configures a Client.
type Option func(*Client)

// WithLogger attaches a structured logger.
func WithLogger(log *zap.Logger) Option {
	return func(c *Client) {
		if log != nil {
			c.log = log
		}
	}
}

// WithHTTPClient replaces the underlying HTTP client (used by tests).
func WithHTTPClient(h *http.Client) Option {
	return func(c *Client) {
		if h != nil {
			c.http = h
		}
	}
}

// WithDeviceID attaches a stable device identifier to every request.
func WithDeviceID(id string) Option {
	return func(c *Client) { c.deviceID = id }
}

// WithSessionFile sets the path used to persist the chatbot session id.
func WithSessionFile(path string) Option {
	return func(c *Client) { c.sessionFile = path }
}

// New creates a REST client for the given base URL and bearer token.
//
// The client expects a URL without a trailing slash, because request paths
// are joined as `baseURL + "/v1/..."`.
func New(baseURL, token string, opts ...Option) *Client {
	c := &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		token:   token,
		http:    &http.Client{Timeout: defaultHTTPTimeout},
		log:     zap.NewNop(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

func (c *Client) getJSON(ctx context.Context, path string, out any) error {
	return c.doJSON(ctx, http.MethodGet, path, nil, out)
}

func (c *Client) postJSON(ctx context.Context, path string, body, out any) error {
	return c.doJSON(ctx, http.MethodPost, path, body, out)
}

func (c *Client) deleteJSON(ctx context.Context, path string) error {
	return c.doJSON(ctx, http.MethodDelete, path, nil, nil)
}

func (c *Client) doJSON(ctx context.Context, method, path string, body, out any) error {
	var reader io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("marshal request: %w", err)
		}
		reader = bytes.NewReader(raw)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+c.token)
	if c.deviceID != "" {
		req.Header.Set("X-Livefeed-Device", c.deviceID)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("%s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		return fmt.Errorf("%s %s: %w", method, path, ErrUnauthenticated)
	case resp.StatusCode < 200 || resp.StatusCode >= 300:
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 256))
		return fmt.Errorf("%s %s: unexpected status %d: %s", method, path, resp.StatusCode, strings.TrimSpace(string(snippet)))
	}

	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("%s %s: decode response: %w", method, path, err)
	}
	return nil
}
