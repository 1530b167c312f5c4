package account

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/qixiao/emtrader/internal/broker"
	"github.com/qixiao/emtrader/internal/ledger"
	"github.com/qixiao/emtrader/internal/mirror"
	"github.com/qixiao/emtrader/internal/observ"
	"github.com/qixiao/emtrader/internal/quotes"
	"github.com/qixiao/emtrader/internal/session"
)

// Registry owns the account instances and routes operations that span more
// than one of them: keyword dispatch, transfer synthesis, pre-close duties
// and the batch purchase passes.
type Registry struct {
	sess         session.Session
	mirror       *mirror.Client
	quotes       quotes.Source
	clock        func() time.Time
	enableCredit bool
	fundCode     string
	repoCode     string

	cash       *Account
	collateral *Account
	credit     *Account
	tracks     []*Account
	accounts   map[string]*Account
}

type Config struct {
	Session      session.Session
	Mirror       *mirror.Client
	Quotes       quotes.Source
	EnableCredit bool
	FundCode     string
	RepoCode     string
	Clock        func() time.Time
}

func NewRegistry(cfg Config) *Registry {
	clock := cfg.Clock
	if clock == nil {
		clock = time.Now
	}
	return &Registry{
		sess:         cfg.Session,
		mirror:       cfg.Mirror,
		quotes:       cfg.Quotes,
		clock:        clock,
		enableCredit: cfg.EnableCredit,
		fundCode:     cfg.FundCode,
		repoCode:     cfg.RepoCode,
		accounts:     map[string]*Account{},
	}
}

func (r *Registry) deps() Deps {
	return Deps{Session: r.sess, Mirror: r.mirror, Quotes: r.quotes, FundCode: r.fundCode, Clock: r.clock}
}

// LoadAccounts builds the broker-backed accounts and pulls their watch
// lists. The credit account shares the collateral account's holdings and
// receives its credit line from the collateral asset loader.
func (r *Registry) LoadAccounts(ctx context.Context) error {
	r.cash = NewCashAccount(r.deps())
	r.cash.transfers = r
	r.accounts[r.cash.keyword] = r.cash
	if err := r.cash.LoadWatchings(ctx); err != nil {
		observ.Log("load_watchings_error", map[string]any{"acc": r.cash.keyword, "err": err.Error()})
	}

	if !r.enableCredit {
		return nil
	}
	r.collateral = NewCollateralAccount(r.deps())
	r.collateral.transfers = r
	r.credit = NewCreditAccount(r.collateral, r.deps())
	r.collateral.onCreditAvail = r.credit.SetAvailableMoney
	r.accounts[r.collateral.keyword] = r.collateral
	r.accounts[r.credit.keyword] = r.credit
	if err := r.collateral.LoadWatchings(ctx); err != nil {
		observ.Log("load_watchings_error", map[string]any{"acc": r.collateral.keyword, "err": err.Error()})
	}
	return nil
}

// InitTrackAccounts builds a paper account for every non-realcash binding
// the mirror reports.
func (r *Registry) InitTrackAccounts(ctx context.Context) error {
	bindings, err := r.mirror.TrackBindings(ctx)
	if err != nil {
		return fmt.Errorf("init track accounts: %w", err)
	}
	for _, b := range bindings {
		if b.RealCash {
			observ.Log("track_skip_realcash", map[string]any{"name": b.Name})
			continue
		}
		t := NewTrackingAccount(b.Keyword(), r.deps())
		r.tracks = append(r.tracks, t)
		r.accounts[t.keyword] = t
		if err := t.LoadWatchings(ctx); err != nil {
			observ.Log("load_watchings_error", map[string]any{"acc": t.keyword, "err": err.Error()})
		}
	}
	return nil
}

// Get returns the account registered for keyword.
func (r *Registry) Get(keyword string) (*Account, bool) {
	a, ok := r.accounts[keyword]
	return a, ok
}

func (r *Registry) Cash() *Account       { return r.cash }
func (r *Registry) Collateral() *Account { return r.collateral }

// BuyStock routes a buy to the keyword's account. A zero count is sized
// from the holding's strategy budget, clamped to available money with one
// lot of headroom.
func (r *Registry) BuyStock(ctx context.Context, code string, price decimal.Decimal, count int, keyword string, strategies *ledger.StrategyGroup) error {
	acct, ok := r.accounts[keyword]
	if !ok {
		return fmt.Errorf("buy %s: unknown account %s", code, keyword)
	}
	hold := acct.HoldAccount()
	if strategies != nil {
		hold.AddWatch(code, strategies)
	}

	if count == 0 {
		amount, ok := hold.StrategyAmount(code)
		if !ok {
			return fmt.Errorf("buy %s %s: no count and no strategy budget", keyword, code)
		}
		count = quotes.CalcBuyCount(amount, price)
		avail := acct.AvailableMoney()
		if price.Mul(decimal.NewFromInt(int64(count))).GreaterThan(avail) {
			count = quotes.CalcBuyCount(avail, price)
			if price.Mul(decimal.NewFromInt(int64(count))).GreaterThan(avail) {
				count -= 100
			}
		}
		if count <= 0 {
			return fmt.Errorf("buy %s %s: no affordable count, available %s", keyword, code, avail)
		}
	}
	return acct.Trade(ctx, code, price, count, ledger.SideBuy)
}

// SellStock routes a sell to the keyword's account.
func (r *Registry) SellStock(ctx context.Context, code string, price decimal.Decimal, count int, keyword string) error {
	acct, ok := r.accounts[keyword]
	if !ok {
		return fmt.Errorf("sell %s: unknown account %s", code, keyword)
	}
	return acct.Trade(ctx, code, price, count, ledger.SideSell)
}

// StrategyAmount reports the strategy budget for code, defaulting when the
// planner left it unset.
func (a *Account) StrategyAmount(code string) (decimal.Decimal, bool) {
	a.mu.Lock()
	defer a.mu.Unlock()
	h := a.holding(code)
	if h == nil || h.Strategies == nil {
		return decimal.Zero, false
	}
	if h.Strategies.Amount.IsPositive() {
		return h.Strategies.Amount, true
	}
	return decimal.NewFromInt(10000), true
}

// CreateTransferDeals books a broker-confirmed collateral transfer on both
// sides: the source account gets a sell lot and the destination a buy lot,
// sharing the order id and date, and each account uploads its own half.
func (r *Registry) CreateTransferDeals(ctx context.Context, order broker.RawOrder) error {
	if r.cash == nil || r.collateral == nil {
		return fmt.Errorf("transfer %s: both cash and collateral accounts required", order.Code)
	}
	code := order.Code
	if code == "" {
		// transfer confirmations sometimes leave Zqdm empty and carry the
		// code, dotted, in the order price field
		code = strings.ReplaceAll(string(order.Wtjg), ".", "")
	}
	if code == "" {
		return fmt.Errorf("transfer: order without code, sid %s", order.SID)
	}
	date := r.clock().Format("2006-01-02")
	sell := ledger.Lot{Code: code, Side: ledger.SideSell, Price: order.Price.Decimal, Count: int(order.Count), Date: date, SID: order.SID}
	buy := sell
	buy.Side = ledger.SideBuy

	var src, dst *Account
	switch order.Desc {
	case broker.DescTransferOut:
		src, dst = r.collateral, r.cash
	case broker.DescTransferIn:
		src, dst = r.cash, r.collateral
	default:
		return fmt.Errorf("transfer %s: unexpected description %s", code, order.Desc)
	}
	if err := src.recordTransfer(ctx, sell); err != nil {
		return err
	}
	return dst.recordTransfer(ctx, buy)
}

func (a *Account) recordTransfer(ctx context.Context, lot ledger.Lot) error {
	a.mu.Lock()
	a.extendLots(lot.Code, []ledger.Lot{lot})
	a.mu.Unlock()
	return a.mirror.UploadDeals(ctx, a.keyword, ledger.LotsToDeals([]ledger.Lot{lot}))
}

// batTrade is one row of the batch-trade submission payload.
type batTrade struct {
	StockCode string          `json:"StockCode"`
	StockName string          `json:"StockName"`
	Price     json.RawMessage `json:"Price"`
	Amount    int             `json:"Amount"`
	TradeType string          `json:"TradeType"`
	Market    json.RawMessage `json:"Market"`
}

func (r *Registry) submitBatch(ctx context.Context, what string, batch []batTrade) error {
	if len(batch) == 0 {
		observ.Log(what+"_empty", nil)
		return nil
	}
	observ.Log(what, map[string]any{"count": len(batch)})
	body, err := r.sess.PostJSON(ctx, r.cash.path("Trade/SubmitBatTradeV2"), batch)
	if err != nil {
		return fmt.Errorf("%s: %w", what, err)
	}
	env, err := session.Decode(body)
	if err != nil {
		return fmt.Errorf("%s: %w", what, err)
	}
	observ.Log(what+"_ok", map[string]any{"message": env.Message})
	return nil
}

// BuyNewStocks subscribes to every purchasable new issue priced under 100.
func (r *Registry) BuyNewStocks(ctx context.Context) error {
	body, err := r.sess.Post(ctx, r.cash.path("Trade/GetCanBuyNewStockListV3"), nil)
	if err != nil {
		return fmt.Errorf("new stock list: %w", err)
	}
	var list struct {
		NewStockList []struct {
			Sgdm   string          `json:"Sgdm"`
			Zqmc   string          `json:"Zqmc"`
			Fxj    broker.Money    `json:"Fxj"`
			Ksgsx  broker.Count    `json:"Ksgsx"`
			Market json.RawMessage `json:"Market"`
		} `json:"NewStockList"`
	}
	if err := json.Unmarshal(body, &list); err != nil {
		return fmt.Errorf("new stock list: %w", err)
	}

	var batch []batTrade
	for _, stk := range list.NewStockList {
		if stk.Fxj.Decimal.GreaterThanOrEqual(decimal.NewFromInt(100)) || stk.Ksgsx <= 0 {
			continue
		}
		batch = append(batch, batTrade{
			StockCode: stk.Sgdm,
			StockName: stk.Zqmc,
			Price:     json.RawMessage(`"` + stk.Fxj.Decimal.String() + `"`),
			Amount:    int(stk.Ksgsx),
			TradeType: string(ledger.SideBuy),
			Market:    stk.Market,
		})
	}
	return r.submitBatch(ctx, "buy_new_stocks", batch)
}

// BuyNewBonds subscribes to today's convertible bond issues.
func (r *Registry) BuyNewBonds(ctx context.Context) error {
	body, err := r.sess.Post(ctx, r.cash.path("Trade/GetConvertibleBondListV2"), nil)
	if err != nil {
		return fmt.Errorf("new bond list: %w", err)
	}
	env, err := session.Decode(body)
	if err != nil {
		return fmt.Errorf("new bond list: %w", err)
	}
	var bonds []struct {
		SubCode   string          `json:"SUBCODE"`
		SubName   string          `json:"SUBNAME"`
		ParValue  json.RawMessage `json:"PARVALUE"`
		LimitBuy  broker.Count    `json:"LIMITBUYVOL"`
		Market    json.RawMessage `json:"Market"`
		ExIsToday bool            `json:"ExIsToday"`
	}
	if err := json.Unmarshal(env.Data, &bonds); err != nil {
		return fmt.Errorf("new bond list: %w", err)
	}

	var batch []batTrade
	for _, b := range bonds {
		if !b.ExIsToday {
			continue
		}
		batch = append(batch, batTrade{
			StockCode: b.SubCode,
			StockName: b.SubName,
			Price:     b.ParValue,
			Amount:    int(b.LimitBuy),
			TradeType: string(ledger.SideBuy),
			Market:    b.Market,
		})
	}
	return r.submitBatch(ctx, "buy_new_bonds", batch)
}

// BuyBondRepurchase sweeps idle cash into reverse repo: probe the operable
// amount, then lend the full count at the bid (band floor on an empty book).
func (r *Registry) BuyBondRepurchase(ctx context.Context, code string) error {
	snap, err := r.quotes.Quote(ctx, code)
	if err != nil {
		return fmt.Errorf("bond repurchase %s: %w", code, err)
	}

	form := formValues("stockCode", code, "price", snap.Price.String(), "tradeType", "0S")
	body, err := r.sess.Post(ctx, r.cash.path("Com/GetCanOperateAmount"), form)
	if err != nil {
		return fmt.Errorf("bond repurchase %s: %w", code, err)
	}
	env, err := session.Decode(body)
	if err != nil {
		return fmt.Errorf("bond repurchase %s: %w", code, err)
	}
	var data []struct {
		Kczsl broker.Money `json:"Kczsl"`
	}
	if err := json.Unmarshal(env.Data, &data); err != nil || len(data) == 0 || !data[0].Kczsl.Decimal.IsPositive() {
		observ.Log("bond_repurchase_skipped", map[string]any{"code": code, "reason": "no operable amount"})
		return nil
	}

	price := snap.SellPrice()
	count := data[0].Kczsl.Decimal
	observ.Log("bond_repurchase", map[string]any{"code": code, "price": price.String(), "count": count.String()})
	form = formValues("zqdm", code, "rqjg", price.String(), "rqsl", count.String())
	body, err = r.sess.Post(ctx, r.cash.path("BondRepurchase/SecuritiesLendingRepurchaseTrade"), form)
	if err != nil {
		return fmt.Errorf("bond repurchase %s: %w", code, err)
	}
	if _, err := session.Decode(body); err != nil {
		return fmt.Errorf("bond repurchase %s: %w", code, err)
	}
	observ.Log("bond_repurchase_ok", map[string]any{"code": code})
	return nil
}

// RepayMarginLoan pays down financing debt plus interest from the usable
// margin balance.
func (r *Registry) RepayMarginLoan(ctx context.Context) error {
	if r.collateral == nil {
		return nil
	}
	assets, err := r.collateral.fetchMarginAssets(ctx)
	if err != nil {
		return fmt.Errorf("repay margin loan: %w", err)
	}

	total := assets.Rzfzhj.Decimal.Add(assets.Rqxf.Decimal)
	usable := assets.Zjkys.Decimal
	if !total.IsPositive() || usable.LessThan(decimal.NewFromInt(1)) {
		observ.Log("repay_skipped", map[string]any{"debt": total.String(), "usable": usable.String()})
		return nil
	}

	pay := total
	if total.Sub(usable).GreaterThan(decimal.RequireFromString("0.15")) {
		pay = usable.Sub(decimal.RequireFromString("0.2"))
		day := r.clock().Day()
		if day > 25 || day < 5 {
			// interest posts across the month boundary; leave double
			// headroom for the financing interest so the debit clears
			pay = pay.Sub(assets.Rzxf.Decimal).Sub(assets.Rqxf.Decimal).Sub(assets.Rzxf.Decimal)
		}
	}
	pay = pay.Round(2)
	if !pay.IsPositive() {
		observ.Log("repay_skipped", map[string]any{"amount": pay.String()})
		return nil
	}

	form := formValues("hbdm", "RMB", "hkje", pay.String(), "bzxx", "")
	body, err := r.sess.Post(ctx, r.collateral.path("MarginTrade/submitZjhk"), form)
	if err != nil {
		return fmt.Errorf("repay margin loan: %w", err)
	}
	env, err := session.Decode(body)
	if err != nil {
		return fmt.Errorf("repay margin loan: %w", err)
	}
	var data []struct {
		Sjhkje broker.Money `json:"Sjhkje"`
	}
	repaid := pay.String()
	if json.Unmarshal(env.Data, &data) == nil && len(data) > 0 {
		repaid = data[0].Sjhkje.Decimal.String()
	}
	observ.Log("repay_ok", map[string]any{"amount": repaid})
	return nil
}

// CheckRZRQ probes whether a code is margin-tradable through the credit
// account's count endpoint.
func (r *Registry) CheckRZRQ(ctx context.Context, code string) bool {
	if r.credit == nil {
		return false
	}
	snap, err := r.quotes.Quote(ctx, code)
	if err != nil {
		observ.Log("rzrq_check_error", map[string]any{"code": code, "err": err.Error()})
		return false
	}
	body, err := r.sess.Post(ctx, r.credit.path(r.credit.ep.count), r.credit.countForm(code, snap.Price, ledger.SideBuy))
	if err != nil {
		observ.Log("rzrq_check_error", map[string]any{"code": code, "err": err.Error()})
		return false
	}
	var env struct {
		Status int `json:"Status"`
	}
	if err := json.Unmarshal(body, &env); err != nil {
		return false
	}
	return env.Status != -1
}

// weeklySince resolves the start date for the weekly history upload: the
// most recent Monday from the mirror's trading calendar, or 15 days back
// when the calendar is unreachable.
func (r *Registry) weeklySince(ctx context.Context) time.Time {
	now := r.clock()
	today := now.Format("2006-01-02")
	dates, err := r.mirror.TradingDates(ctx, 30)
	if err != nil || len(dates) == 0 {
		return now.AddDate(0, 0, -15)
	}
	pick := dates[0]
	for i := len(dates) - 1; i >= 0; i-- {
		if dates[i] == today {
			continue
		}
		d, err := time.Parse("2006-01-02", dates[i])
		if err != nil {
			continue
		}
		if d.Weekday() == time.Monday {
			pick = dates[i]
			break
		}
	}
	since, err := time.Parse("2006-01-02", pick)
	if err != nil {
		return now.AddDate(0, 0, -15)
	}
	return since
}

// UploadWeekly pushes history trades and settlement rows since the last
// Monday for the broker-backed accounts.
func (r *Registry) UploadWeekly(ctx context.Context) {
	since := r.weeklySince(ctx)
	observ.Log("upload_weekly", map[string]any{"since": since.Format("2006-01-02")})
	for _, a := range []*Account{r.cash, r.collateral} {
		if a == nil {
			continue
		}
		if err := a.LoadHisDeals(ctx, since); err != nil {
			observ.Log("upload_weekly_error", map[string]any{"acc": a.keyword, "err": err.Error()})
		}
		if err := a.LoadOtherDeals(ctx, since); err != nil {
			observ.Log("upload_weekly_error", map[string]any{"acc": a.keyword, "err": err.Error()})
		}
	}
}

// PreClose runs the 14:59:48 duties: sweep idle cash into reverse repo, pay
// down margin debt and park the collateral remainder in the money fund.
func (r *Registry) PreClose(ctx context.Context) {
	if r.cash != nil {
		if err := r.BuyBondRepurchase(ctx, r.repoCode); err != nil {
			observ.Log("preclose_error", map[string]any{"acc": r.cash.keyword, "err": err.Error()})
		}
	}
	if r.collateral != nil {
		if err := r.RepayMarginLoan(ctx); err != nil {
			observ.Log("preclose_error", map[string]any{"acc": r.collateral.keyword, "err": err.Error()})
		}
		if err := r.collateral.Trade(ctx, r.fundCode, decimal.Zero, 1, ledger.SideBuy); err != nil {
			observ.Log("preclose_error", map[string]any{"acc": r.collateral.keyword, "err": err.Error()})
		}
	}
}

// Settle runs the post-close reconciliation for the broker-backed accounts.
func (r *Registry) Settle(ctx context.Context) {
	for _, a := range []*Account{r.cash, r.collateral} {
		if a == nil {
			continue
		}
		if err := a.LoadDeals(ctx); err != nil {
			observ.Log("settle_error", map[string]any{"acc": a.keyword, "err": err.Error()})
		}
	}
}

// ReconcileOnce runs one reconciliation pass over every account and reports
// whether local orders are still awaiting broker confirmation.
func (r *Registry) ReconcileOnce(ctx context.Context) bool {
	started := time.Now()
	defer func() { observ.RecordDuration("reconcile_pass", time.Since(started), nil) }()
	active := false
	for _, a := range r.accounts {
		if a.kind == KindCredit {
			continue
		}
		if err := a.LoadDeals(ctx); err != nil {
			observ.Log("reconcile_error", map[string]any{"acc": a.keyword, "err": err.Error()})
		}
		if a.PendingOrders() > 0 {
			active = true
		}
	}
	return active
}
