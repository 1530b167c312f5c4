package account

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"strconv"

	"github.com/shopspring/decimal"

	"github.com/qixiao/emtrader/internal/broker"
	"github.com/qixiao/emtrader/internal/ledger"
	"github.com/qixiao/emtrader/internal/observ"
	"github.com/qixiao/emtrader/internal/quotes"
	"github.com/qixiao/emtrader/internal/session"
)

// tradeMarkets maps exchange codes to the trade API's market parameter.
var tradeMarkets = map[string]string{"SZ": "SA", "SH": "HA", "BJ": "B"}

func (a *Account) jylx(side ledger.Side) string {
	if side == ledger.SideBuy {
		return a.buyJylx
	}
	return a.sellJylx
}

// countForm is the payload for the transactable-amount probe.
func (a *Account) countForm(code string, price decimal.Decimal, side ledger.Side) url.Values {
	fd := formValues(
		"stockCode", code,
		"price", price.String(),
		"tradeType", string(side),
		"market", tradeMarkets[quotes.MarketCode(code)],
		"stockName", "",
		"gddm", "",
	)
	if a.buyJylx != "" {
		fd.Set("xyjylx", a.jylx(side))
		fd.Set("moneyType", "RMB")
	}
	return fd
}

// tradeForm is the order-submission payload. BJ orders carry a "0" prefix on
// the trade type.
func (a *Account) tradeForm(code string, price decimal.Decimal, count int, side ledger.Side) url.Values {
	mkt := quotes.MarketCode(code)
	tradeType := string(side)
	if mkt == "BJ" {
		tradeType = "0" + tradeType
	}
	fd := formValues(
		"stockCode", code,
		"price", price.String(),
		"amount", strconv.Itoa(count),
		"tradeType", tradeType,
		"market", tradeMarkets[mkt],
	)
	if a.buyJylx != "" {
		fd.Set("stockName", "")
		fd.Set("xyjylx", a.jylx(side))
	} else {
		fd.Set("zqmc", "")
	}
	return fd
}

// FetchAvailableCount probes the broker for the maximum transactable count
// at the given price. Failures report zero; the caller treats that as
// nothing tradable.
func (a *Account) FetchAvailableCount(ctx context.Context, code string, price decimal.Decimal, side ledger.Side) int {
	body, err := a.sess.Post(ctx, a.path(a.ep.count), a.countForm(code, price, side))
	if err != nil {
		return 0
	}
	env, err := session.Decode(body)
	if err != nil {
		return 0
	}
	var data struct {
		Kmml broker.Count `json:"Kmml"`
	}
	if err := json.Unmarshal(env.Data, &data); err != nil {
		return 0
	}
	return int(data.Kmml)
}

// Trade submits one order. A zero price resolves from the live quote (ask
// side for buys, bid side for sells, band edge when the book is empty). A
// count below 10 is a divisor: the transactable maximum is split into that
// many lot-aligned parts. Tracking accounts settle locally instead.
func (a *Account) Trade(ctx context.Context, code string, price decimal.Decimal, count int, side ledger.Side) error {
	if a.kind == KindTracking {
		return a.tradeLocal(code, price, count, side)
	}

	if side == ledger.SideBuy {
		a.mu.Lock()
		avail := a.availableMoney
		a.mu.Unlock()
		if avail.LessThan(decimal.NewFromInt(1000)) {
			// one refresh before giving up; balances may be stale
			if err := a.LoadAssets(ctx); err != nil {
				observ.Log("load_assets_error", map[string]any{"acc": a.keyword, "err": err.Error()})
			}
			a.mu.Lock()
			avail = a.availableMoney
			a.mu.Unlock()
			if avail.LessThan(decimal.NewFromInt(1000)) {
				return fmt.Errorf("trade %s %s: money not enough, available %s", a.keyword, code, avail)
			}
		}
	}

	if count < 1 {
		return fmt.Errorf("trade %s %s: invalid count %d", a.keyword, code, count)
	}

	if price.IsZero() {
		snap, err := a.quotes.Quote(ctx, code)
		if err != nil {
			return fmt.Errorf("trade %s %s: %w", a.keyword, code, err)
		}
		if side == ledger.SideBuy {
			price = snap.BuyPrice()
		} else {
			price = snap.SellPrice()
		}
	}

	final := count
	if count < 10 {
		max := a.FetchAvailableCount(ctx, code, price, side)
		final = (max / 100 / count) * 100
		if final < 100 {
			return fmt.Errorf("trade %s %s: invalid count %d (max %d, divisor %d)", a.keyword, code, final, max, count)
		}
	}

	body, err := a.sess.Post(ctx, a.path(a.ep.trade), a.tradeForm(code, price, final, side))
	if err != nil {
		observ.IncCounter("trade_errors_total", map[string]string{"acc": a.keyword})
		return fmt.Errorf("submit trade %s %s: %w", a.keyword, code, err)
	}
	env, err := session.Decode(body)
	if err != nil {
		observ.IncCounter("trade_errors_total", map[string]string{"acc": a.keyword})
		return fmt.Errorf("submit trade %s %s: %w", a.keyword, code, err)
	}
	var data []struct {
		Wtbh string `json:"Wtbh"`
	}
	if err := json.Unmarshal(env.Data, &data); err != nil || len(data) == 0 {
		observ.IncCounter("trade_errors_total", map[string]string{"acc": a.keyword})
		return fmt.Errorf("submit trade %s %s: empty response", a.keyword, code)
	}

	cost := price.Mul(decimal.NewFromInt(int64(final)))
	a.mu.Lock()
	if side == ledger.SideBuy {
		a.availableMoney = a.availableMoney.Sub(cost)
	} else {
		a.availableMoney = a.availableMoney.Add(cost)
	}
	a.mu.Unlock()

	rec := ledger.Deal{
		Code:  code,
		Price: price,
		Count: count,
		SID:   data[0].Wtbh,
		Kind:  string(side),
		Time:  a.clock().Format("2006-01-02 15:04:05"),
	}
	hold := a.HoldAccount()
	hold.mu.Lock()
	hold.pending = append(hold.pending, rec)
	hold.mu.Unlock()

	observ.IncCounter("trade_submits_total", map[string]string{"acc": a.keyword})
	observ.Log("trade_submitted", map[string]any{
		"acc": a.keyword, "code": code, "side": string(side),
		"price": price.String(), "count": final, "sid": data[0].Wtbh,
	})
	return nil
}

// tradeLocal settles a tracking-account order immediately: no session, a
// synthetic order id, and instant position effect. A repeated submission
// with the same code, side, price and count is rejected as a duplicate.
func (a *Account) tradeLocal(code string, price decimal.Decimal, count int, side ledger.Side) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	h := a.holding(code)
	if h == nil {
		if side == ledger.SideSell {
			return fmt.Errorf("trade %s %s: sell without holding", a.keyword, code)
		}
		a.addWatch(code, &ledger.StrategyGroup{})
		h = a.holding(code)
	}

	for _, p := range a.pending {
		if p.Code == code && p.Kind == string(side) && p.Price.Equal(price) && p.Count == count {
			return fmt.Errorf("trade %s %s: duplicate record %s %s x%d", a.keyword, code, side, price, count)
		}
	}

	if side == ledger.SideSell {
		if h.HoldCount < count {
			return fmt.Errorf("trade %s %s: sell %d over holding %d", a.keyword, code, count, h.HoldCount)
		}
		h.HoldCount -= count
	} else {
		h.HoldCount += count
	}

	a.pending = append(a.pending, ledger.Deal{
		Code:  code,
		Price: price,
		Count: count,
		SID:   strconv.FormatInt(a.nextSID, 10),
		Kind:  string(side),
		Time:  a.clock().Format("2006-01-02 15:04:05"),
	})
	a.nextSID++
	observ.IncCounter("trade_submits_total", map[string]string{"acc": a.keyword})
	return nil
}
