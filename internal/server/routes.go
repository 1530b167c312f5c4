package server

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/shopspring/decimal"

	"github.com/qixiao/emtrader/internal/ledger"
	"github.com/qixiao/emtrader/internal/observ"
)

// Router builds the HTTP surface.
func (app *App) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)

	r.Get("/status", app.handleStatus)
	r.Get("/start", app.handleStart)
	r.Get("/stocks", app.handleStocks)
	r.Get("/deals", app.handleDeals)
	r.Get("/rzrq", app.handleRZRQ)
	r.Post("/trade", app.handleTrade)
	r.Method(http.MethodGet, "/metrics", observ.Handler())
	r.Method(http.MethodGet, "/healthz", observ.Health())
	return r
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func (app *App) handleStatus(w http.ResponseWriter, r *http.Request) {
	app.mu.Lock()
	running := app.running
	app.mu.Unlock()
	status := "stopped"
	if running {
		status = "ok"
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": status})
}

// handleStart starts the engine manually and cancels any auto-start alarms
// this window would still fire.
func (app *App) handleStart(w http.ResponseWriter, r *http.Request) {
	if !app.start(r.Context()) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "start error"})
		return
	}
	app.cancelPendingStarts()
	writeJSON(w, http.StatusOK, map[string]string{"status": "started"})
}

func (app *App) handleStocks(w http.ResponseWriter, r *http.Request) {
	acc := r.URL.Query().Get("acc")
	a, ok := app.reg.Get(acc)
	if !ok {
		http.Error(w, "unknown account", http.StatusNotFound)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"stocks": a.HoldingsSnapshot()})
}

func (app *App) handleDeals(w http.ResponseWriter, r *http.Request) {
	acc := r.URL.Query().Get("acc")
	a, ok := app.reg.Get(acc)
	if !ok {
		http.Error(w, "unknown account", http.StatusNotFound)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"deals": a.PendingSnapshot()})
}

func (app *App) handleRZRQ(w http.ResponseWriter, r *http.Request) {
	app.mu.Lock()
	running := app.running
	app.mu.Unlock()
	if !running {
		writeJSON(w, http.StatusOK, false)
		return
	}
	writeJSON(w, http.StatusOK, app.reg.CheckRZRQ(r.Context(), r.URL.Query().Get("code")))
}

type tradeRequest struct {
	Code       string                `json:"code"`
	Action     string                `json:"action"` // "B" or "S"
	Price      decimal.Decimal       `json:"price"`
	Count      int                   `json:"quantity"`
	Account    string                `json:"account"`
	Strategies *ledger.StrategyGroup `json:"strategies,omitempty"`
}

func (app *App) handleTrade(w http.ResponseWriter, r *http.Request) {
	var req tradeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	if req.Account == "" {
		req.Account = "normal"
	}

	var err error
	switch req.Action {
	case "B", "buy":
		err = app.reg.BuyStock(r.Context(), req.Code, req.Price, req.Count, req.Account, req.Strategies)
	case "S", "sell":
		err = app.reg.SellStock(r.Context(), req.Code, req.Price, req.Count, req.Account)
	default:
		http.Error(w, "trade type not found", http.StatusNotFound)
		return
	}
	if err != nil {
		observ.Log("trade_request_error", map[string]any{"code": req.Code, "err": err.Error()})
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"message": "Success"})
}
