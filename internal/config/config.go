package config

import (
	"os"

	"gopkg.in/yaml.v3"
)

type Trade struct {
	Port              int    `yaml:"port"`
	PurchaseNewStocks bool   `yaml:"purchase_new_stocks"`
	EnableCredit      bool   `yaml:"enable_credit"`
	FundCode          string `yaml:"fund_code"`  // pre-close cash sweep target
	RepoCode          string `yaml:"repo_code"`  // bond reverse-repo code
}

type Broker struct {
	Domain      string `yaml:"domain"`
	ValidateKey string `yaml:"validate_key"` // per-session token, usually from env
	Cookie      string `yaml:"cookie"`       // authenticated session cookie, usually from env
	TimeoutMs   int    `yaml:"timeout_ms"`
}

type Mirror struct {
	Server     string `yaml:"server"`
	Email      string `yaml:"email"`
	Password   string `yaml:"password"` // usually from env
	MaxRetries int    `yaml:"max_retries"`
}

type Quotes struct {
	BaseURL            string `yaml:"base_url"`
	RateLimitPerMinute int    `yaml:"rate_limit_per_minute"`
	CacheTTLSeconds    int    `yaml:"cache_ttl_seconds"`
	TimeoutMs          int    `yaml:"timeout_ms"`
}

type Sched struct {
	PollMinMs  int    `yaml:"poll_min_ms"`
	PollMaxMs  int    `yaml:"poll_max_ms"`
	MarketOpen string `yaml:"market_open"`
	PollUntil  string `yaml:"poll_until"`
}

type Root struct {
	Trade  Trade  `yaml:"trade"`
	Broker Broker `yaml:"broker"`
	Mirror Mirror `yaml:"mirror"`
	Quotes Quotes `yaml:"quotes"`
	Sched  Sched  `yaml:"sched"`
}

func Load(path string) (Root, error) {
	var c Root
	b, err := os.ReadFile(path)
	if err != nil {
		return c, err
	}
	if err := yaml.Unmarshal(b, &c); err != nil {
		return c, err
	}

	if c.Trade.Port == 0 {
		c.Trade.Port = 5888
	}
	if c.Trade.FundCode == "" {
		c.Trade.FundCode = "511880"
	}
	if c.Trade.RepoCode == "" {
		c.Trade.RepoCode = "204001"
	}
	if c.Broker.TimeoutMs == 0 {
		c.Broker.TimeoutMs = 10000
	}
	if c.Mirror.MaxRetries == 0 {
		c.Mirror.MaxRetries = 3
	}
	if c.Quotes.BaseURL == "" {
		c.Quotes.BaseURL = "https://hsmarketwg.eastmoney.com/api/SHSZQuoteSnapshot"
	}
	if c.Quotes.RateLimitPerMinute == 0 {
		c.Quotes.RateLimitPerMinute = 120
	}
	if c.Quotes.CacheTTLSeconds == 0 {
		c.Quotes.CacheTTLSeconds = 3
	}
	if c.Quotes.TimeoutMs == 0 {
		c.Quotes.TimeoutMs = 5000
	}
	if c.Sched.PollMinMs == 0 {
		c.Sched.PollMinMs = 2000
	}
	if c.Sched.PollMaxMs == 0 {
		c.Sched.PollMaxMs = 120000
	}
	if c.Sched.MarketOpen == "" {
		c.Sched.MarketOpen = "9:30"
	}
	if c.Sched.PollUntil == "" {
		c.Sched.PollUntil = "14:57"
	}

	// Env wins for secrets so the YAML file can be committed.
	if v := os.Getenv("EMTRADER_COOKIE"); v != "" {
		c.Broker.Cookie = v
	}
	if v := os.Getenv("EMTRADER_VALIDATE_KEY"); v != "" {
		c.Broker.ValidateKey = v
	}
	if v := os.Getenv("EMTRADER_MIRROR_PASSWORD"); v != "" {
		c.Mirror.Password = v
	}

	return c, nil
}
