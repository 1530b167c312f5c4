// Package quotes is the price-lookup collaborator: a thin snapshot client
// over the public quote endpoint with rate limiting and a short TTL cache.
package quotes

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	gocache "github.com/patrickmn/go-cache"
	"github.com/shopspring/decimal"
	"golang.org/x/time/rate"
)

// Snapshot is the normalized quote the trading paths consume.
type Snapshot struct {
	Code      string
	Name      string
	Price     decimal.Decimal
	Bid       decimal.Decimal // best-5 bid, or a synthetic band price on a locked book
	Ask       decimal.Decimal // best-5 ask, same fallback
	LimitUp   decimal.Decimal
	LimitDown decimal.Decimal
}

// BuyPrice is the price used when a buy order carries no explicit price:
// ask side, falling back to the daily limit ceiling.
func (s *Snapshot) BuyPrice() decimal.Decimal {
	if s.Ask.IsPositive() {
		return s.Ask
	}
	return s.LimitUp
}

// SellPrice mirrors BuyPrice on the bid side.
func (s *Snapshot) SellPrice() decimal.Decimal {
	if s.Bid.IsPositive() {
		return s.Bid
	}
	return s.LimitDown
}

// Source is what the account layer depends on.
type Source interface {
	Quote(ctx context.Context, code string) (*Snapshot, error)
}

type Config struct {
	BaseURL            string
	RateLimitPerMinute int
	CacheTTLSeconds    int
	TimeoutMs          int
}

type Client struct {
	base    string
	http    *http.Client
	limiter *rate.Limiter
	cache   *gocache.Cache
}

func New(cfg Config) *Client {
	if cfg.RateLimitPerMinute <= 0 {
		cfg.RateLimitPerMinute = 120
	}
	if cfg.CacheTTLSeconds <= 0 {
		cfg.CacheTTLSeconds = 3
	}
	if cfg.TimeoutMs <= 0 {
		cfg.TimeoutMs = 5000
	}
	ttl := time.Duration(cfg.CacheTTLSeconds) * time.Second
	return &Client{
		base:    cfg.BaseURL,
		http:    &http.Client{Timeout: time.Duration(cfg.TimeoutMs) * time.Millisecond},
		limiter: rate.NewLimiter(rate.Limit(float64(cfg.RateLimitPerMinute)/60), 1),
		cache:   gocache.New(ttl, 2*ttl),
	}
}

// raw snapshot payload; every numeric arrives as a string
type rawSnapshot struct {
	Name          string `json:"name"`
	TopPrice      string `json:"topprice"`
	BottomPrice   string `json:"bottomprice"`
	RealtimeQuote struct {
		CurrentPrice string `json:"currentPrice"`
	} `json:"realtimequote"`
	FiveQuote struct {
		Buy1  string `json:"buy1"`
		Sale1 string `json:"sale1"`
		Buy5  string `json:"buy5"`
		Sale5 string `json:"sale5"`
	} `json:"fivequote"`
}

func safeDec(s string) decimal.Decimal {
	d, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Zero
	}
	return d
}

func (c *Client) Quote(ctx context.Context, code string) (*Snapshot, error) {
	if cached, ok := c.cache.Get(code); ok {
		return cached.(*Snapshot), nil
	}
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.base+"?id="+url.QueryEscape(code), nil)
	if err != nil {
		return nil, err
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("quote %s: %w", code, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("quote %s: status %d", code, resp.StatusCode)
	}
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}

	var raw rawSnapshot
	if err := json.Unmarshal(body, &raw); err != nil {
		return nil, fmt.Errorf("quote %s: %w", code, err)
	}

	snap := &Snapshot{
		Code:      code,
		Name:      raw.Name,
		Price:     safeDec(raw.RealtimeQuote.CurrentPrice),
		Bid:       safeDec(raw.FiveQuote.Buy5),
		Ask:       safeDec(raw.FiveQuote.Sale5),
		LimitUp:   safeDec(raw.TopPrice),
		LimitDown: safeDec(raw.BottomPrice),
	}
	// a locked book (limit board) reports identical best bid/ask; quote a
	// synthetic ±3% band clamped to the daily limits instead
	if raw.FiveQuote.Sale1 == raw.FiveQuote.Buy1 {
		snap.Ask = decimal.Min(snap.Price.Mul(decimal.RequireFromString("1.03")), snap.LimitUp)
		snap.Bid = decimal.Max(snap.Price.Mul(decimal.RequireFromString("0.97")), snap.LimitDown)
	}

	c.cache.SetDefault(code, snap)
	return snap, nil
}
