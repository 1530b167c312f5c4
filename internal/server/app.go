// Package server is the REST façade over the trading engine: a chi router
// for status, manual start, account inspection and trade submission, plus
// the trade-window scheduling that starts the engine automatically.
package server

import (
	"context"
	"math/rand"
	"strconv"
	"sync"
	"time"

	"github.com/qixiao/emtrader/internal/account"
	"github.com/qixiao/emtrader/internal/config"
	"github.com/qixiao/emtrader/internal/observ"
	"github.com/qixiao/emtrader/internal/sched"
	"github.com/qixiao/emtrader/internal/session"
)

// startTimer tracks one pending auto-start alarm and its window end.
type startTimer struct {
	id  int
	end string
}

// App ties the registry, session and scheduler together behind the HTTP
// surface.
type App struct {
	mu      sync.Mutex
	running bool
	status  string

	cfg   config.Root
	sess  session.Session
	reg   *account.Registry
	hub   *sched.Hub
	clock func() time.Time

	startTimers []startTimer
	pollCancel  context.CancelFunc
}

func New(cfg config.Root, sess session.Session, reg *account.Registry, hub *sched.Hub) *App {
	return &App{
		cfg:   cfg,
		sess:  sess,
		reg:   reg,
		hub:   hub,
		clock: time.Now,
	}
}

// Schedule arms the auto-start alarms for the two trading windows. Nothing
// is scheduled after the close; a window whose start has passed but whose
// end is still ahead fires immediately through the hub's catch-up path.
func (app *App) Schedule() {
	if d, err := app.hub.DelayUntil("15:00"); err == nil && d <= 0 {
		observ.Log("schedule_skipped", map[string]any{"reason": "market closed"})
		return
	}
	windows := [][2]string{{"9:12", "11:30"}, {"12:45", "15:0"}}
	for _, w := range windows {
		w := w
		id, ok := app.hub.AddTimer("auto_start", func() { app.start(context.Background()) }, w[0], w[1])
		if ok {
			app.mu.Lock()
			app.startTimers = append(app.startTimers, startTimer{id: id, end: w[1]})
			app.mu.Unlock()
		}
	}
}

// cancelPendingStarts drops auto-start alarms whose window ends within the
// next three hours; a manual start already covers them.
func (app *App) cancelPendingStarts() {
	app.mu.Lock()
	timers := append([]startTimer(nil), app.startTimers...)
	app.mu.Unlock()
	for _, t := range timers {
		if d, err := app.hub.DelayUntil(t.end); err == nil && d < 3*time.Hour {
			app.hub.Cancel(t.id)
		}
	}
}

// start validates the session and brings the engine up. Safe to call more
// than once; a second start while running only refreshes state.
func (app *App) start(ctx context.Context) bool {
	app.mu.Lock()
	app.running = true
	app.mu.Unlock()
	if !app.sess.Valid() {
		app.setStatus("start error")
		observ.Log("start_failed", map[string]any{"reason": "session invalid"})
		return false
	}
	app.onSessionReady(ctx)
	return true
}

func (app *App) setStatus(s string) {
	app.mu.Lock()
	app.status = s
	app.mu.Unlock()
}

// onSessionReady loads accounts and assets, arms the daily alarms and
// launches the reconciliation poller.
func (app *App) onSessionReady(ctx context.Context) {
	app.setStatus("success")
	if err := app.reg.LoadAccounts(ctx); err != nil {
		observ.Log("load_accounts_error", map[string]any{"err": err.Error()})
	}
	if a := app.reg.Cash(); a != nil {
		if err := a.LoadAssets(ctx); err != nil {
			observ.Log("load_assets_error", map[string]any{"acc": a.Keyword(), "err": err.Error()})
		}
	}
	if a := app.reg.Collateral(); a != nil {
		if err := a.LoadAssets(ctx); err != nil {
			observ.Log("load_assets_error", map[string]any{"acc": a.Keyword(), "err": err.Error()})
		}
	}
	if err := app.reg.InitTrackAccounts(ctx); err != nil {
		observ.Log("init_track_error", map[string]any{"err": err.Error()})
	}
	app.setupAlarms()
	app.startPoller()
}

// newIssueTime spreads the subscription pass over the mid-morning session
// so it never lands on the same second every day.
func newIssueTime() string {
	if rand.Intn(2) == 0 {
		return "9:" + strconv.Itoa(40+rand.Intn(20))
	}
	return "10:" + strconv.Itoa(rand.Intn(41))
}

func (app *App) setupAlarms() {
	app.hub.AddTimer("daily_purchases", func() {
		ctx := context.Background()
		if app.cfg.Trade.PurchaseNewStocks {
			if err := app.reg.BuyNewStocks(ctx); err != nil {
				observ.Log("buy_new_stocks_error", map[string]any{"err": err.Error()})
			}
		}
		if err := app.reg.BuyNewBonds(ctx); err != nil {
			observ.Log("buy_new_bonds_error", map[string]any{"err": err.Error()})
		}
	}, newIssueTime(), "")

	app.hub.AddTimer("pre_close", func() {
		app.reg.PreClose(context.Background())
	}, "14:59:48", "")

	app.hub.AddTimer("settle", app.settle, "15:01", "")
}

// settle runs the post-close reconciliation; Mondays additionally push the
// weekly history and funds-flow batches to the mirror.
func (app *App) settle() {
	ctx := context.Background()
	app.reg.Settle(ctx)
	if app.clock().Weekday() == time.Monday {
		app.reg.UploadWeekly(ctx)
	}
	app.onTradeClosed()
}

func (app *App) onTradeClosed() {
	app.mu.Lock()
	app.running = false
	app.status = "closed"
	cancel := app.pollCancel
	app.pollCancel = nil
	app.mu.Unlock()
	if cancel != nil {
		cancel()
	}
	observ.Log("trade_closed", nil)
}

// startPoller launches the reconciliation loop from now until the
// configured cutoff.
func (app *App) startPoller() {
	untilDelay, err := app.hub.DelayUntil(app.cfg.Sched.PollUntil)
	if err != nil || untilDelay <= 0 {
		observ.Log("poller_skipped", map[string]any{"until": app.cfg.Sched.PollUntil})
		return
	}

	app.mu.Lock()
	if app.pollCancel != nil {
		app.mu.Unlock()
		return
	}
	ctx, cancel := context.WithCancel(context.Background())
	app.pollCancel = cancel
	app.mu.Unlock()

	p := sched.Poller{
		Min:   time.Duration(app.cfg.Sched.PollMinMs) * time.Millisecond,
		Max:   time.Duration(app.cfg.Sched.PollMaxMs) * time.Millisecond,
		Check: app.reg.ReconcileOnce,
	}
	go p.Run(ctx, app.clock().Add(untilDelay))
}
