// Package session exposes the authenticated trade-session capability. How
// the session came to be (login flow, captcha, credential exchange) is not
// this process's business: it receives a live cookie and validation token
// and treats every broker endpoint as an opaque URL.
package session

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// Session is the capability the account layer consumes.
type Session interface {
	// Post submits a form to a broker path relative to the session domain
	// and returns the raw response body.
	Post(ctx context.Context, path string, form url.Values) ([]byte, error)
	// PostJSON submits a JSON body (batch trade endpoints).
	PostJSON(ctx context.Context, path string, body any) ([]byte, error)
	// Valid reports whether the session still carries a usable token.
	Valid() bool
	// ValidateKey is the per-session token broker endpoints require.
	ValidateKey() string
}

// Envelope is the common {Status, Message, Data} broker response shape.
// Status 0 means success; Data varies per endpoint.
type Envelope struct {
	Status  int             `json:"Status"`
	Message string          `json:"Message"`
	Data    json.RawMessage `json:"Data"`
}

// Decode unmarshals a broker response body and rejects non-zero statuses.
func Decode(body []byte) (Envelope, error) {
	var env Envelope
	if err := json.Unmarshal(body, &env); err != nil {
		return env, fmt.Errorf("decode broker response: %w", err)
	}
	if env.Status != 0 {
		return env, fmt.Errorf("broker status %d: %s", env.Status, env.Message)
	}
	return env, nil
}

// JoinURL joins a server base and a path without doubling slashes.
func JoinURL(srv, path string) string {
	switch {
	case strings.HasSuffix(srv, "/") && strings.HasPrefix(path, "/"):
		return srv + path[1:]
	case strings.HasSuffix(srv, "/") || strings.HasPrefix(path, "/"):
		return srv + path
	}
	return srv + "/" + path
}

// HTTPSession is the live implementation over a pre-authenticated cookie.
type HTTPSession struct {
	Domain string
	Key    string
	Cookie string
	Client *http.Client
}

type Config struct {
	Domain      string
	ValidateKey string
	Cookie      string
	TimeoutMs   int
}

func New(cfg Config) *HTTPSession {
	if cfg.TimeoutMs <= 0 {
		cfg.TimeoutMs = 10000
	}
	return &HTTPSession{
		Domain: cfg.Domain,
		Key:    cfg.ValidateKey,
		Cookie: cfg.Cookie,
		Client: &http.Client{Timeout: time.Duration(cfg.TimeoutMs) * time.Millisecond},
	}
}

func (s *HTTPSession) Valid() bool {
	return s.Key != "" && s.Cookie != ""
}

func (s *HTTPSession) ValidateKey() string {
	return s.Key
}

func (s *HTTPSession) Post(ctx context.Context, path string, form url.Values) ([]byte, error) {
	var body io.Reader
	if form != nil {
		body = strings.NewReader(form.Encode())
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, JoinURL(s.Domain, path), body)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	return s.do(req)
}

func (s *HTTPSession) PostJSON(ctx context.Context, path string, payload any) ([]byte, error) {
	b, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, JoinURL(s.Domain, path), strings.NewReader(string(b)))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	return s.do(req)
}

func (s *HTTPSession) do(req *http.Request) ([]byte, error) {
	req.Header.Set("Cookie", s.Cookie)
	resp, err := s.Client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	b, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("%s: status %d", req.URL.Path, resp.StatusCode)
	}
	return b, nil
}
