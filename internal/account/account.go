// Package account holds the per-account state managers and the registry
// that routes trading and reconciliation operations between them. Each
// account serializes its mutating entry points behind one mutex; broker,
// quote and mirror calls never run under it. The pattern everywhere is
// snapshot under lock, release, do the network round-trip, re-acquire to
// fold the result in.
package account

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"github.com/qixiao/emtrader/internal/broker"
	"github.com/qixiao/emtrader/internal/ledger"
	"github.com/qixiao/emtrader/internal/mirror"
	"github.com/qixiao/emtrader/internal/observ"
	"github.com/qixiao/emtrader/internal/quotes"
	"github.com/qixiao/emtrader/internal/session"
)

// Kind selects the account variant.
type Kind int

const (
	// KindCash is the plain cash account; it owns cash positions and
	// sweeps idle cash into reverse repo before the close.
	KindCash Kind = iota
	// KindCollateral is the margin collateral account; pure assets are
	// computed net of liabilities.
	KindCollateral
	// KindCredit places financed orders but never owns positions; all
	// bookkeeping delegates to the collateral account.
	KindCredit
	// KindTracking is a local paper account that bypasses the broker
	// session entirely.
	KindTracking
)

// endpoints are the broker paths one variant talks to. The validate key is
// appended at call time.
type endpoints struct {
	orders    string
	hisDeals  string
	fundsFlow string
	count     string
	trade     string
	dateFmt   string
}

var cashEndpoints = endpoints{
	orders:    "Search/GetOrdersData",
	hisDeals:  "Search/GetHisDealData",
	fundsFlow: "Search/GetFundsFlow",
	count:     "Trade/GetAllNeedTradeInfo",
	trade:     "Trade/SubmitTradeV2",
	dateFmt:   "2006-01-02",
}

var marginEndpoints = endpoints{
	orders:    "MarginSearch/GetOrdersData",
	hisDeals:  "MarginSearch/queryCreditHisMatchV2",
	fundsFlow: "MarginSearch/queryCreditLogAssetV2",
	count:     "MarginTrade/GetKyzjAndKml",
	trade:     "MarginTrade/SubmitTradeV2",
	dateFmt:   "20060102",
}

// TransferHandler receives broker-confirmed collateral transfer orders; the
// registry implements it across the cash and collateral accounts.
type TransferHandler interface {
	CreateTransferDeals(ctx context.Context, order broker.RawOrder) error
}

// Account is one account's state manager.
type Account struct {
	mu sync.Mutex

	kind     Kind
	keyword  string
	fundCode string
	ep       endpoints

	// margin trade-type codes; empty for the cash account
	buyJylx, sellJylx string

	// delegation target for bookkeeping; nil means self
	holdAcc *Account

	pureAssets     decimal.Decimal
	availableMoney decimal.Decimal
	holdings       []*ledger.Holding
	// locally submitted orders not yet confirmed by the broker
	pending []ledger.Deal
	// next synthetic order id, tracking accounts only
	nextSID int64

	sess      session.Session
	mirror    *mirror.Client
	quotes    quotes.Source
	transfers TransferHandler
	clock     func() time.Time

	// collateral pushes the derived credit line here
	onCreditAvail func(decimal.Decimal)
}

// Deps are the collaborators every account shares.
type Deps struct {
	Session  session.Session
	Mirror   *mirror.Client
	Quotes   quotes.Source
	FundCode string
	Clock    func() time.Time
}

func newAccount(kind Kind, keyword string, ep endpoints, d Deps) *Account {
	clock := d.Clock
	if clock == nil {
		clock = time.Now
	}
	return &Account{
		kind:     kind,
		keyword:  keyword,
		fundCode: d.FundCode,
		ep:       ep,
		sess:     d.Session,
		mirror:   d.Mirror,
		quotes:   d.Quotes,
		clock:    clock,
	}
}

// NewCashAccount builds the plain cash account.
func NewCashAccount(d Deps) *Account {
	return newAccount(KindCash, "normal", cashEndpoints, d)
}

// NewCollateralAccount builds the margin collateral account.
func NewCollateralAccount(d Deps) *Account {
	a := newAccount(KindCollateral, "collat", marginEndpoints, d)
	a.buyJylx, a.sellJylx = "6", "7"
	return a
}

// NewCreditAccount builds the financed-order account. It trades through the
// margin endpoints with its own trade-type codes but keeps no state of its
// own: holdings live on the collateral account.
func NewCreditAccount(collateral *Account, d Deps) *Account {
	a := newAccount(KindCredit, "credit", marginEndpoints, d)
	a.buyJylx, a.sellJylx = "a", "A"
	a.holdAcc = collateral
	return a
}

// NewTrackingAccount builds a paper account. The synthetic order id seed is
// derived from the date so ids from different days never collide.
func NewTrackingAccount(keyword string, d Deps) *Account {
	a := newAccount(KindTracking, keyword, endpoints{}, d)
	a.availableMoney = decimal.New(1, 10)
	day, _ := strconv.ParseInt(a.clock().Format("20060102"), 10, 64)
	a.nextSID = (day % 1000000) * 1000
	return a
}

func (a *Account) Keyword() string { return a.keyword }
func (a *Account) Kind() Kind      { return a.kind }

// HoldAccount is where this account's positions are booked.
func (a *Account) HoldAccount() *Account {
	if a.holdAcc != nil {
		return a.holdAcc
	}
	return a
}

func (a *Account) AvailableMoney() decimal.Decimal {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.availableMoney
}

func (a *Account) SetAvailableMoney(v decimal.Decimal) {
	a.mu.Lock()
	a.availableMoney = v
	a.mu.Unlock()
}

func (a *Account) PureAssets() decimal.Decimal {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.pureAssets
}

// PendingOrders is the count of locally submitted orders the broker has not
// confirmed yet; the reconciliation poller uses it as its activity signal.
func (a *Account) PendingOrders() int {
	h := a.HoldAccount()
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.pending)
}

// PendingSnapshot returns a copy of the unconfirmed local orders.
func (a *Account) PendingSnapshot() []ledger.Deal {
	h := a.HoldAccount()
	h.mu.Lock()
	defer h.mu.Unlock()
	return append([]ledger.Deal(nil), h.pending...)
}

// HoldingsSnapshot returns a deep copy safe to marshal outside the lock.
func (a *Account) HoldingsSnapshot() []ledger.Holding {
	h := a.HoldAccount()
	h.mu.Lock()
	defer h.mu.Unlock()
	out := make([]ledger.Holding, 0, len(h.holdings))
	for _, s := range h.holdings {
		c := *s
		c.Lots = append([]ledger.Lot(nil), s.Lots...)
		c.LotsFull = append([]ledger.Lot(nil), s.LotsFull...)
		out = append(out, c)
	}
	return out
}

// holding finds the record for code; callers hold the lock.
func (a *Account) holding(code string) *ledger.Holding {
	for _, h := range a.holdings {
		if h.Code == code {
			return h
		}
	}
	return nil
}

// addWatch folds watch-list metadata into the holding for code, creating it
// when absent; callers hold the lock.
func (a *Account) addWatch(code string, sg *ledger.StrategyGroup) {
	if h := a.holding(code); h != nil {
		h.ApplyWatch(sg)
		return
	}
	a.holdings = append(a.holdings, ledger.NewHoldingFromWatch(code, sg))
}

// AddWatch is the locked entry point used by the registry when a buy request
// carries fresh strategy metadata.
func (a *Account) AddWatch(code string, sg *ledger.StrategyGroup) {
	a.mu.Lock()
	a.addWatch(code, sg)
	a.mu.Unlock()
}

// extendLots records newly observed lots for code; callers hold the lock.
// A code never seen before gets a fresh holding seeded from the lots.
func (a *Account) extendLots(code string, lots []ledger.Lot) {
	h := a.holding(code)
	if h == nil {
		a.addWatch(code, &ledger.StrategyGroup{Lots: lots, LotsFull: lots})
		return
	}
	h.ExtendLots(lots)
}

// LoadWatchings pulls this account's watch list from the mirror and folds it
// into the holdings.
func (a *Account) LoadWatchings(ctx context.Context) error {
	if a.kind == KindCredit {
		return nil
	}
	watchings, err := a.mirror.Watchings(ctx, a.keyword)
	if err != nil {
		return fmt.Errorf("load watchings %s: %w", a.keyword, err)
	}
	if len(watchings) == 0 {
		observ.Log("watchings_empty", map[string]any{"acc": a.keyword})
		return nil
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	for code, sg := range watchings {
		// mirror keys may carry a market prefix
		if len(code) > 6 {
			code = code[len(code)-6:]
		}
		a.addWatch(code, sg)
	}
	return nil
}

// LoadAssets refreshes balances and positions from the variant's asset
// endpoints. The credit account's available money is pushed by the
// collateral loader; tracking accounts have nothing to load.
func (a *Account) LoadAssets(ctx context.Context) error {
	switch a.kind {
	case KindCash:
		return a.loadCashAssets(ctx)
	case KindCollateral:
		return a.loadMarginAssets(ctx)
	}
	return nil
}

// rawAssetPos is the cash asset endpoint's combined shape.
type rawAssetPos struct {
	broker.RawAssets
	Positions []broker.RawPosition `json:"positions"`
}

func (a *Account) loadCashAssets(ctx context.Context) error {
	body, err := a.sess.Post(ctx, a.path("Com/queryAssetAndPositionV1"), pageForm("1000"))
	if err != nil {
		return fmt.Errorf("query assets %s: %w", a.keyword, err)
	}
	env, err := session.Decode(body)
	if err != nil {
		return fmt.Errorf("query assets %s: %w", a.keyword, err)
	}
	var data []rawAssetPos
	if err := json.Unmarshal(env.Data, &data); err != nil || len(data) == 0 {
		return fmt.Errorf("query assets %s: bad payload", a.keyword)
	}

	a.mu.Lock()
	defer a.mu.Unlock()
	a.pureAssets = data[0].Zzc.Decimal
	a.availableMoney = data[0].Kyzj.Decimal
	a.applyPositions(data[0].Positions)
	return nil
}

func (a *Account) loadMarginAssets(ctx context.Context) error {
	assets, err := a.fetchMarginAssets(ctx)
	if err != nil {
		return err
	}

	body, err := a.sess.Post(ctx, a.path("MarginSearch/GetStockList"), nil)
	if err != nil {
		return fmt.Errorf("query positions %s: %w", a.keyword, err)
	}
	env, err := session.Decode(body)
	if err != nil {
		return fmt.Errorf("query positions %s: %w", a.keyword, err)
	}
	var positions []broker.RawPosition
	if err := json.Unmarshal(env.Data, &positions); err != nil {
		return fmt.Errorf("query positions %s: %w", a.keyword, err)
	}

	a.mu.Lock()
	a.pureAssets = assets.Zzc.Decimal.Sub(assets.Zfz.Decimal)
	a.availableMoney = assets.Zjkys.Decimal
	a.applyPositions(positions)
	cb := a.onCreditAvail
	a.mu.Unlock()
	if cb != nil {
		cb(assets.Bzjkys.Decimal)
	}
	return nil
}

func (a *Account) fetchMarginAssets(ctx context.Context) (*broker.RawAssets, error) {
	body, err := a.sess.Post(ctx, a.path("MarginSearch/GetRzrqAssets"), formValues("hblx", "RMB"))
	if err != nil {
		return nil, fmt.Errorf("query margin assets: %w", err)
	}
	env, err := session.Decode(body)
	if err != nil {
		return nil, fmt.Errorf("query margin assets: %w", err)
	}
	var assets broker.RawAssets
	if err := json.Unmarshal(env.Data, &assets); err != nil {
		return nil, fmt.Errorf("query margin assets: %w", err)
	}
	return &assets, nil
}

// applyPositions takes broker position rows verbatim over existing count and
// price fields; strategies and lot histories are untouched. Callers hold the
// lock.
func (a *Account) applyPositions(rows []broker.RawPosition) {
	now := a.clock()
	for _, p := range rows {
		pos := broker.ParsePosition(p, now)
		if h := a.holding(pos.Code); h != nil {
			h.Name = pos.Name
			h.HoldCount = pos.HoldCount
			h.AvailableCount = pos.AvailableCount
			h.HoldCost = pos.HoldCost
			h.LatestPrice = pos.LatestPrice
			continue
		}
		a.holdings = append(a.holdings, pos)
	}
}

func (a *Account) path(p string) string {
	return p + "?validatekey=" + a.sess.ValidateKey()
}
