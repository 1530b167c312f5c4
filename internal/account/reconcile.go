package account

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"time"

	"github.com/qixiao/emtrader/internal/broker"
	"github.com/qixiao/emtrader/internal/ledger"
	"github.com/qixiao/emtrader/internal/observ"
	"github.com/qixiao/emtrader/internal/session"
)

// pageSize is the broker's batch size for paginated queries.
const pageSize = 20

func formValues(kv ...string) url.Values {
	v := url.Values{}
	for i := 0; i+1 < len(kv); i += 2 {
		v.Set(kv[i], kv[i+1])
	}
	return v
}

func pageForm(qqhs string) url.Values {
	return formValues("qqhs", qqhs, "dwc", "")
}

// fetchPaged walks a cursor-paginated broker endpoint. The cursor rides on
// the last row of each page; an empty cursor or a short page ends the walk.
// Rows collected before a failure are still returned.
func fetchPaged[T any](ctx context.Context, a *Account, path string, form url.Values, cursor func(T) string) ([]T, error) {
	var rows []T
	for {
		body, err := a.sess.Post(ctx, path, form)
		if err != nil {
			return rows, fmt.Errorf("fetch %s: %w", a.keyword, err)
		}
		env, err := session.Decode(body)
		if err != nil {
			return rows, fmt.Errorf("fetch %s: %w", a.keyword, err)
		}
		var page []T
		if len(env.Data) > 0 {
			if err := json.Unmarshal(env.Data, &page); err != nil {
				return rows, fmt.Errorf("fetch %s: %w", a.keyword, err)
			}
		}
		if len(page) == 0 {
			return rows, nil
		}
		rows = append(rows, page...)
		last := cursor(page[len(page)-1])
		if last == "" || len(page) < pageSize {
			return rows, nil
		}
		form.Set("dwc", last)
	}
}

func orderCursor(o broker.RawOrder) string    { return o.Cursor }
func flowCursor(f broker.RawFundsFlow) string { return f.Cursor }

// CheckOrders pulls today's orders, classifies them and folds confirmed
// deals into the holdings. Matched local pending orders are retired;
// broker-confirmed transfers are handed to the registry. Tracking accounts
// replay their own records instead of asking the broker.
func (a *Account) CheckOrders(ctx context.Context) (map[string][]ledger.Deal, error) {
	if a.kind == KindTracking {
		return a.checkLocalOrders(), nil
	}
	if a.kind == KindCredit {
		return nil, nil
	}

	rows, err := fetchPaged(ctx, a, a.path(a.ep.orders), pageForm("20"), orderCursor)
	if err != nil {
		observ.Log("check_orders_error", map[string]any{"acc": a.keyword, "err": err.Error()})
	}
	cl := broker.Classifier{Account: a.keyword, Now: a.clock}
	res := cl.Classify(rows)

	hold := a.HoldAccount()
	hold.mu.Lock()
	for code, deals := range res.Deals {
		for _, d := range deals {
			hold.retirePending(code, d.Kind, d.SID)
		}
		hold.extendLots(code, ledger.DealsToLots(deals))
	}
	hold.mu.Unlock()

	for _, order := range res.Transfers {
		if a.transfers == nil {
			observ.Log("transfer_unhandled", map[string]any{"acc": a.keyword, "code": order.Code})
			continue
		}
		if err := a.transfers.CreateTransferDeals(ctx, order); err != nil {
			observ.Log("transfer_error", map[string]any{"acc": a.keyword, "code": order.Code, "err": err.Error()})
		}
	}
	return res.Deals, nil
}

// checkLocalOrders replays the tracking account's own records; the lot-history
// gate in ExtendLots makes the replay idempotent.
func (a *Account) checkLocalOrders() map[string][]ledger.Deal {
	a.mu.Lock()
	defer a.mu.Unlock()
	deals := map[string][]ledger.Deal{}
	for _, d := range a.pending {
		if d.Code == "" {
			continue
		}
		deals[d.Code] = append(deals[d.Code], d)
	}
	for code, ds := range deals {
		a.extendLots(code, ledger.DealsToLots(ds))
	}
	return deals
}

// retirePending drops the local record matching a confirmed deal; callers
// hold the lock.
func (a *Account) retirePending(code, kind, sid string) {
	for i, p := range a.pending {
		if p.Code == code && p.Kind == kind && p.SID == sid {
			a.pending = append(a.pending[:i], a.pending[i+1:]...)
			return
		}
	}
}

// ArchiveDeals runs FIFO archiving for each code. An oversell aborts that
// code only, leaving its holding untouched.
func (a *Account) ArchiveDeals(codes []string) {
	hold := a.HoldAccount()
	hold.mu.Lock()
	defer hold.mu.Unlock()
	for _, code := range codes {
		h := hold.holding(code)
		if h == nil {
			continue
		}
		if err := h.ArchiveLots(); err != nil {
			if errors.Is(err, ledger.ErrOversell) {
				observ.IncCounter("archive_aborts_total", map[string]string{"acc": hold.keyword})
				observ.Log("archive_abort", map[string]any{"acc": hold.keyword, "code": code})
				continue
			}
			observ.Log("archive_error", map[string]any{"acc": hold.keyword, "code": code, "err": err.Error()})
		}
	}
}

// LoadDeals is the daily reconciliation pass: confirm, archive, upload.
func (a *Account) LoadDeals(ctx context.Context) error {
	if a.kind == KindCredit {
		return nil
	}
	deals, err := a.CheckOrders(ctx)
	if err != nil {
		return err
	}
	codes := make([]string, 0, len(deals))
	var flat []ledger.Deal
	for code, ds := range deals {
		codes = append(codes, code)
		flat = append(flat, ds...)
	}
	a.ArchiveDeals(codes)
	return a.mirror.UploadDeals(ctx, a.keyword, flat)
}

// historyWindows splits [since, now] into the broker's maximum query spans.
func historyWindows(since, now time.Time, layout string) [][2]string {
	var sections [][2]string
	for {
		end := since.AddDate(0, 0, 89)
		clamped := end
		if clamped.After(now) {
			clamped = now
		}
		sections = append(sections, [2]string{since.Format(layout), clamped.Format(layout)})
		if end.After(now) {
			return sections
		}
		since = end.AddDate(0, 0, 1)
	}
}

func fetchHistory[T any](ctx context.Context, a *Account, path string, since time.Time, cursor func(T) string) []T {
	var rows []T
	for _, w := range historyWindows(since, a.clock(), a.ep.dateFmt) {
		form := pageForm("20")
		form.Set("st", w[0])
		form.Set("et", w[1])
		part, err := fetchPaged(ctx, a, path, form, cursor)
		if err != nil {
			observ.Log("fetch_history_error", map[string]any{"acc": a.keyword, "st": w[0], "et": w[1], "err": err.Error()})
		}
		rows = append(rows, part...)
	}
	return rows
}

// LoadHisDeals pulls filled trades since the given date and pushes them to
// the mirror.
func (a *Account) LoadHisDeals(ctx context.Context, since time.Time) error {
	if a.kind == KindCredit || a.kind == KindTracking {
		return nil
	}
	rows := fetchHistory(ctx, a, a.path(a.ep.hisDeals), since, orderCursor)
	cl := broker.Classifier{Account: a.keyword, Now: a.clock}
	return a.mirror.UploadDeals(ctx, a.keyword, cl.NormalizeHistory(rows))
}

// LoadOtherDeals pulls non-trade settlement rows since the given date,
// classifies them and pushes both batches to the mirror. Rows without a
// security code go up as their own batch.
func (a *Account) LoadOtherDeals(ctx context.Context, since time.Time) error {
	if a.kind == KindCredit || a.kind == KindTracking {
		return nil
	}
	rows := fetchHistory(ctx, a, a.path(a.ep.fundsFlow), since, flowCursor)
	cl := broker.Classifier{Account: a.keyword, Now: a.clock}
	res := cl.ClassifyFundsFlows(rows)
	if err := a.mirror.UploadDeals(ctx, a.keyword, res.Deals); err != nil {
		return err
	}
	if len(res.NoCode) > 0 {
		observ.Log("deals_no_code", map[string]any{"acc": a.keyword, "count": len(res.NoCode)})
		return a.mirror.UploadDeals(ctx, a.keyword, res.NoCode)
	}
	return nil
}
