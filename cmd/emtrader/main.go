package main

import (
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"

	"github.com/joho/godotenv"

	"github.com/qixiao/emtrader/internal/account"
	"github.com/qixiao/emtrader/internal/config"
	"github.com/qixiao/emtrader/internal/mirror"
	"github.com/qixiao/emtrader/internal/observ"
	"github.com/qixiao/emtrader/internal/quotes"
	"github.com/qixiao/emtrader/internal/sched"
	"github.com/qixiao/emtrader/internal/server"
	"github.com/qixiao/emtrader/internal/session"
)

func main() {
	var cfgPath string
	var envPath string
	flag.StringVar(&cfgPath, "config", "config/config.yaml", "config path")
	flag.StringVar(&envPath, "env", ".env", "env file with session and mirror secrets")
	flag.Parse()

	// secrets come from the env file when present; config.Load reads them
	// from the environment
	if err := godotenv.Load(envPath); err != nil && !os.IsNotExist(err) {
		log.Printf("load %s: %v", envPath, err)
	}

	cfg, err := config.Load(cfgPath)
	if err != nil {
		log.Fatalf("load config: %v (did you copy config.example.yaml?)", err)
	}

	sess := session.New(session.Config{
		Domain:      cfg.Broker.Domain,
		ValidateKey: cfg.Broker.ValidateKey,
		Cookie:      cfg.Broker.Cookie,
		TimeoutMs:   cfg.Broker.TimeoutMs,
	})
	if !sess.Valid() {
		log.Printf("session credentials not set; engine will refuse to start until provided")
	}

	quoteClient := quotes.New(quotes.Config{
		BaseURL:            cfg.Quotes.BaseURL,
		RateLimitPerMinute: cfg.Quotes.RateLimitPerMinute,
		CacheTTLSeconds:    cfg.Quotes.CacheTTLSeconds,
		TimeoutMs:          cfg.Quotes.TimeoutMs,
	})
	mirrorClient := mirror.New(mirror.Config{
		Server:     cfg.Mirror.Server,
		Email:      cfg.Mirror.Email,
		Password:   cfg.Mirror.Password,
		MaxRetries: cfg.Mirror.MaxRetries,
	})
	reg := account.NewRegistry(account.Config{
		Session:      sess,
		Mirror:       mirrorClient,
		Quotes:       quoteClient,
		EnableCredit: cfg.Trade.EnableCredit,
		FundCode:     cfg.Trade.FundCode,
		RepoCode:     cfg.Trade.RepoCode,
	})

	app := server.New(cfg, sess, reg, sched.NewHub(nil))
	app.Schedule()

	observ.Log("startup", map[string]any{
		"port":          cfg.Trade.Port,
		"enable_credit": cfg.Trade.EnableCredit,
		"mirror":        mirrorClient.Configured(),
	})

	addr := fmt.Sprintf(":%d", cfg.Trade.Port)
	if err := http.ListenAndServe(addr, app.Router()); err != nil {
		log.Fatalf("listen %s: %v", addr, err)
	}
}
