// Package mirror talks to the external bookkeeping service: it pushes
// normalized deals for durable record-keeping and pulls the watch-list and
// tracking-account bindings used to bootstrap holdings. Delivery is
// best-effort by design: a fixed attempt budget, no durable outbox, and
// deduplication left to the mirror's own sid/date/side key.
package mirror

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/qixiao/emtrader/internal/ledger"
	"github.com/qixiao/emtrader/internal/observ"
	"github.com/qixiao/emtrader/internal/quotes"
	"github.com/qixiao/emtrader/internal/session"
)

type Config struct {
	Server     string
	Email      string
	Password   string
	MaxRetries int
}

type Client struct {
	server     string
	authHeader string
	maxRetries int
	http       *http.Client
}

// New builds a client; with no server configured every method degrades to a
// logged no-op so the engine keeps running without a mirror.
func New(cfg Config) *Client {
	if cfg.MaxRetries <= 0 {
		cfg.MaxRetries = 3
	}
	c := &Client{
		server:     cfg.Server,
		maxRetries: cfg.MaxRetries,
		http:       &http.Client{Timeout: 15 * time.Second},
	}
	if cfg.Email != "" {
		cred := base64.StdEncoding.EncodeToString([]byte(cfg.Email + ":" + cfg.Password))
		c.authHeader = "Basic " + cred
	}
	return c
}

func (c *Client) Configured() bool {
	return c != nil && c.server != "" && c.authHeader != ""
}

// UploadDeals pushes one batch of normalized deals attributed to an account
// keyword. Codes are prefixed with their market-exchange code before
// transmission. The whole batch is retried up to the attempt budget with no
// backoff; after exhaustion it is dropped with a final error log.
func (c *Client) UploadDeals(ctx context.Context, acc string, deals []ledger.Deal) error {
	if len(deals) == 0 {
		return nil
	}
	if !c.Configured() {
		observ.Log("upload_deals_skipped", map[string]any{"acc": acc, "reason": "mirror not configured"})
		return nil
	}

	wire := make([]ledger.Deal, len(deals))
	copy(wire, deals)
	for i := range wire {
		if wire[i].Code != "" {
			wire[i].Code = quotes.MarketCode(wire[i].Code) + wire[i].Code
		}
	}
	payload, err := json.Marshal(wire)
	if err != nil {
		return err
	}

	batch := uuid.NewString()
	form := url.Values{
		"act":  {"deals"},
		"acc":  {acc},
		"data": {string(payload)},
	}
	observ.Log("upload_deals", map[string]any{"acc": acc, "batch": batch, "count": len(wire)})

	for attempt := 1; attempt <= c.maxRetries; attempt++ {
		observ.IncCounter("mirror_upload_attempts_total", map[string]string{"acc": acc})
		err = c.postForm(ctx, "stock", form)
		if err == nil {
			observ.Log("upload_deals_ok", map[string]any{"acc": acc, "batch": batch})
			return nil
		}
		observ.Log("upload_deals_error", map[string]any{"acc": acc, "batch": batch, "attempt": attempt, "err": err.Error()})
	}
	observ.IncCounter("mirror_upload_dropped_total", map[string]string{"acc": acc})
	observ.Log("upload_deals_failed", map[string]any{"acc": acc, "batch": batch, "attempts": c.maxRetries})
	return fmt.Errorf("upload deals for %s: dropped after %d attempts: %w", acc, c.maxRetries, err)
}

// Watchings pulls the watch-list bootstrap for one account: a map of
// security code to strategy metadata plus lot histories.
func (c *Client) Watchings(ctx context.Context, acc string) (map[string]*ledger.StrategyGroup, error) {
	if !c.Configured() {
		observ.Log("watchings_skipped", map[string]any{"acc": acc, "reason": "mirror not configured"})
		return nil, nil
	}
	body, err := c.get(ctx, "stock?act=watchings&acc="+url.QueryEscape(acc))
	if err != nil {
		return nil, err
	}
	var out map[string]*ledger.StrategyGroup
	if err := json.Unmarshal(body, &out); err != nil {
		return nil, fmt.Errorf("decode watchings: %w", err)
	}
	return out, nil
}

// Binding describes one upstream account binding; non-realcash entries
// become tracking accounts.
type Binding struct {
	Name     string `json:"name"`
	Username string `json:"username"`
	RealCash bool   `json:"realcash"`
}

// Keyword derives the tracking-account keyword for a binding.
func (b Binding) Keyword() string {
	if b.Name != "" {
		return b.Name
	}
	if i := strings.Index(b.Username, "."); i >= 0 {
		return b.Username[i+1:]
	}
	return b.Username
}

func (c *Client) TrackBindings(ctx context.Context) ([]Binding, error) {
	if !c.Configured() {
		return nil, nil
	}
	body, err := c.get(ctx, "userbind?onlystock=1")
	if err != nil {
		return nil, err
	}
	var out []Binding
	if err := json.Unmarshal(body, &out); err != nil {
		return nil, fmt.Errorf("decode bindings: %w", err)
	}
	return out, nil
}

// TradingDates returns the most recent n trading dates, oldest first.
func (c *Client) TradingDates(ctx context.Context, n int) ([]string, error) {
	if !c.Configured() {
		return nil, fmt.Errorf("mirror not configured")
	}
	body, err := c.get(ctx, "api/tradingdates?len="+strconv.Itoa(n))
	if err != nil {
		return nil, err
	}
	var out []string
	if err := json.Unmarshal(body, &out); err != nil {
		return nil, fmt.Errorf("decode trading dates: %w", err)
	}
	return out, nil
}

func (c *Client) get(ctx context.Context, path string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, session.JoinURL(c.server, path), nil)
	if err != nil {
		return nil, err
	}
	if c.authHeader != "" {
		req.Header.Set("Authorization", c.authHeader)
	}
	return c.do(req)
}

func (c *Client) postForm(ctx context.Context, path string, form url.Values) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, session.JoinURL(c.server, path), strings.NewReader(form.Encode()))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	if c.authHeader != "" {
		req.Header.Set("Authorization", c.authHeader)
	}
	_, err = c.do(req)
	return err
}

func (c *Client) do(req *http.Request) ([]byte, error) {
	resp, err := c.http.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	b, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("%s: status %d: %s", req.URL.Path, resp.StatusCode, strings.TrimSpace(string(b)))
	}
	return b, nil
}
