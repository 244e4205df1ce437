// Package remote is the REST client for the ledger backend.
package remote

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"thebox/internal/core"
	"thebox/internal/log"
)

const maxBodyBytes = 1 << 20

// TokenSource supplies bearer tokens and recovers from 401s.
// *session.Manager satisfies it.
type TokenSource interface {
	AccessToken() string
	Refresh(ctx context.Context) (string, error)
	Logout(ctx context.Context) error
}

type Client struct {
	baseURL string
	http    *http.Client
	logger  *log.Logger

	mu     sync.RWMutex
	tokens TokenSource
}

type response struct {
	status int
	body   []byte
}

func New(baseURL string, timeout time.Duration, logger *log.Logger) *Client {
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		http:    &http.Client{Timeout: timeout},
		logger:  logger.WithComponent(log.ComponentRemote),
	}
}

// Bind attaches the token source used for bearer requests. The session
// manager itself authenticates through this client, hence the late binding.
func (c *Client) Bind(ts TokenSource) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.tokens = ts
}

func (c *Client) tokenSource() TokenSource {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.tokens
}

func (c *Client) send(ctx context.Context, op, method, path string, query url.Values, in any, token string) (response, error) {
	var body io.Reader
	if in != nil {
		b, err := json.Marshal(in)
		if err != nil {
			return response{}, fmt.Errorf("encode %s request: %w", op, err)
		}
		body = bytes.NewReader(b)
	}

	target := c.baseURL + path
	if len(query) > 0 {
		target += "?" + query.Encode()
	}
	req, err := http.NewRequestWithContext(ctx, method, target, body)
	if err != nil {
		return response{}, fmt.Errorf("build %s request: %w", op, err)
	}
	req.Header.Set("Accept", "application/json")
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	start := time.Now()
	resp, err := c.http.Do(req)
	if err != nil {
		c.logger.WarnContext(ctx, "Request failed",
			log.FieldOperation, op, log.FieldMethod, method, log.FieldPath, path, log.FieldError, err)
		return response{}, &core.NetworkError{Op: op, Err: err}
	}
	defer resp.Body.Close()

	b, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		return response{}, &core.NetworkError{Op: op, Status: resp.StatusCode, Err: err}
	}
	c.logger.DebugContext(ctx, "Request completed",
		log.NewFields().WithOperation(op).WithHTTP(method, path, resp.StatusCode, time.Since(start).Milliseconds()).ToSlice()...)
	return response{status: resp.StatusCode, body: b}, nil
}

// doAuthed sends a bearer request. A 401 triggers exactly one refresh and
// exactly one retry; a second 401 ends the session.
func (c *Client) doAuthed(ctx context.Context, op, method, path string, query url.Values, in any) (response, error) {
	ts := c.tokenSource()
	if ts == nil {
		return response{}, core.ErrNotAuthenticated
	}
	token := ts.AccessToken()
	if token == "" {
		return response{}, core.ErrNotAuthenticated
	}

	resp, err := c.send(ctx, op, method, path, query, in, token)
	if err != nil || resp.status != http.StatusUnauthorized {
		return resp, err
	}

	c.logger.DebugContext(ctx, "Access token rejected, refreshing", log.FieldOperation, op)
	token, err = ts.Refresh(ctx)
	if err != nil {
		return response{}, err
	}

	resp, err = c.send(ctx, op, method, path, query, in, token)
	if err != nil {
		return response{}, err
	}
	if resp.status == http.StatusUnauthorized {
		c.logger.WarnContext(ctx, "Refreshed token rejected, ending session", log.FieldOperation, op)
		_ = ts.Logout(ctx)
		return response{}, core.NewAuthError(core.AuthRefreshInvalid, errorMessage(resp.body))
	}
	return resp, nil
}

func decode(op string, resp response, out any) error {
	if err := json.Unmarshal(resp.body, out); err != nil {
		return &core.NetworkError{Op: op, Status: resp.status, Err: fmt.Errorf("decode response: %w", err)}
	}
	return nil
}

func isSuccess(status int) bool {
	return status >= 200 && status < 300
}

// statusError maps non-2xx responses that carry no operation specific meaning.
func statusError(op string, resp response) error {
	msg := errorMessage(resp.body)
	switch resp.status {
	case http.StatusBadRequest:
		return &core.ValidationError{Field: "request", Reason: msg}
	case http.StatusUnauthorized:
		return core.NewAuthError(core.AuthTokenExpired, msg)
	case http.StatusForbidden:
		return fmt.Errorf("%s: %w: %s", op, core.ErrForbidden, msg)
	case http.StatusNotFound:
		return fmt.Errorf("%s: %w: %s", op, core.ErrNotFound, msg)
	default:
		return &core.NetworkError{Op: op, Status: resp.status, Err: errors.New(msg)}
	}
}

func errorMessage(body []byte) string {
	var eb errorBody
	if err := json.Unmarshal(body, &eb); err == nil && eb.Error != "" {
		if eb.Message != "" {
			return eb.Error + ": " + eb.Message
		}
		return eb.Error
	}
	s := strings.TrimSpace(string(body))
	if s == "" {
		return "empty response"
	}
	if len(s) > 200 {
		s = s[:200]
	}
	return s
}
