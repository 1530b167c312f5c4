package account

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/qixiao/emtrader/internal/broker"
	"github.com/qixiao/emtrader/internal/ledger"
	"github.com/qixiao/emtrader/internal/mirror"
)

func newTestRegistry(clock func() time.Time) *Registry {
	r := NewRegistry(Config{
		Mirror:       mirror.New(mirror.Config{}),
		EnableCredit: true,
		FundCode:     "511880",
		RepoCode:     "204001",
		Clock:        clock,
	})
	r.cash = NewCashAccount(r.deps())
	r.collateral = NewCollateralAccount(r.deps())
	r.credit = NewCreditAccount(r.collateral, r.deps())
	r.accounts = map[string]*Account{
		"normal": r.cash, "collat": r.collateral, "credit": r.credit,
	}
	return r
}

func TestTransferOutSymmetry(t *testing.T) {
	r := newTestRegistry(fixedClock(10))
	order := broker.RawOrder{
		Code:   "600000",
		Desc:   broker.DescTransferOut,
		Status: broker.StatusConfirmed,
		SID:    "900001",
		Count:  300,
	}
	order.Price.Decimal = dec("7.50")
	if err := r.CreateTransferDeals(context.Background(), order); err != nil {
		t.Fatal(err)
	}

	ch := r.cash.holding("600000")
	if ch == nil || len(ch.Lots) != 1 || ch.Lots[0].Side != ledger.SideBuy {
		t.Fatalf("cash side not a buy lot: %+v", ch)
	}
	coll := r.collateral.holding("600000")
	if coll == nil || len(coll.Lots) != 1 || coll.Lots[0].Side != ledger.SideSell {
		t.Fatalf("collateral side not a sell lot: %+v", coll)
	}
	if ch.Lots[0].SID != coll.Lots[0].SID || ch.Lots[0].Date != coll.Lots[0].Date {
		t.Fatal("transfer halves must share sid and date")
	}

	// the confirmation row may be observed again; both sides stay single
	if err := r.CreateTransferDeals(context.Background(), order); err != nil {
		t.Fatal(err)
	}
	if len(r.cash.holding("600000").LotsFull) != 1 || len(r.collateral.holding("600000").LotsFull) != 1 {
		t.Fatal("transfer replay duplicated lots")
	}
}

func TestTransferInSymmetry(t *testing.T) {
	r := newTestRegistry(fixedClock(10))
	order := broker.RawOrder{Code: "000001", Desc: broker.DescTransferIn, SID: "900002", Count: 100}
	if err := r.CreateTransferDeals(context.Background(), order); err != nil {
		t.Fatal(err)
	}
	if got := r.cash.holding("000001").Lots[0].Side; got != ledger.SideSell {
		t.Fatalf("cash side = %s, want S", got)
	}
	if got := r.collateral.holding("000001").Lots[0].Side; got != ledger.SideBuy {
		t.Fatalf("collateral side = %s, want B", got)
	}
}

func TestTransferCodeFromOrderPrice(t *testing.T) {
	r := newTestRegistry(fixedClock(10))
	order := broker.RawOrder{
		Desc:   broker.DescTransferOut,
		Status: broker.StatusConfirmed,
		SID:    "900003",
		Count:  100,
		Wtjg:   "600.000",
	}
	if err := r.CreateTransferDeals(context.Background(), order); err != nil {
		t.Fatal(err)
	}
	if h := r.cash.holding("600000"); h == nil || len(h.Lots) != 1 {
		t.Fatalf("dotted order-price code not resolved: %+v", h)
	}

	if err := r.CreateTransferDeals(context.Background(), broker.RawOrder{Desc: broker.DescTransferOut, SID: "900004"}); err == nil {
		t.Fatal("transfer with no code anywhere accepted")
	}
}

func TestApplyPositionsConvergence(t *testing.T) {
	row := broker.RawPosition{Code: "600000", Name: "浦发银行", Hold: 300, Avail: 100}

	early := NewCashAccount(Deps{Mirror: mirror.New(mirror.Config{}), Clock: fixedClock(10)})
	early.mu.Lock()
	early.applyPositions([]broker.RawPosition{row})
	early.mu.Unlock()
	if h := early.holding("600000"); h.AvailableCount != 100 {
		t.Fatalf("before close available = %d, want 100", h.AvailableCount)
	}

	late := NewCashAccount(Deps{Mirror: mirror.New(mirror.Config{}), Clock: fixedClock(15)})
	late.mu.Lock()
	late.applyPositions([]broker.RawPosition{row})
	late.mu.Unlock()
	if h := late.holding("600000"); h.AvailableCount != 300 {
		t.Fatalf("after close available = %d, want 300", h.AvailableCount)
	}
}

func TestApplyPositionsKeepsStrategies(t *testing.T) {
	a := NewCashAccount(Deps{Mirror: mirror.New(mirror.Config{}), Clock: fixedClock(10)})
	a.AddWatch("600000", &ledger.StrategyGroup{Amount: dec("20000")})
	a.mu.Lock()
	a.applyPositions([]broker.RawPosition{{Code: "600000", Name: "浦发银行", Hold: 200, Avail: 200}})
	a.mu.Unlock()
	h := a.holding("600000")
	if h.HoldCount != 200 || h.Name != "浦发银行" {
		t.Fatalf("position fields not applied: %+v", h)
	}
	if h.Strategies == nil || !h.Strategies.Amount.Equal(dec("20000")) {
		t.Fatal("strategy metadata lost on position refresh")
	}
}

func TestHistoryWindows(t *testing.T) {
	since := time.Date(2025, 1, 1, 0, 0, 0, 0, time.Local)
	now := time.Date(2025, 5, 1, 10, 0, 0, 0, time.Local)
	w := historyWindows(since, now, "2006-01-02")
	if len(w) != 2 {
		t.Fatalf("windows = %d, want 2", len(w))
	}
	if w[0][0] != "2025-01-01" || w[0][1] != "2025-03-31" {
		t.Fatalf("first window = %v", w[0])
	}
	if w[1][0] != "2025-04-01" || w[1][1] != "2025-05-01" {
		t.Fatalf("second window = %v", w[1])
	}

	short := historyWindows(time.Date(2025, 4, 20, 0, 0, 0, 0, time.Local), now, "20060102")
	if len(short) != 1 || short[0][0] != "20250420" || short[0][1] != "20250501" {
		t.Fatalf("short window = %v", short)
	}
}

func TestWeeklySince(t *testing.T) {
	// 2025-03-10 is a Monday; the calendar lists it before "today"
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		w.Write([]byte(`["2025-03-06","2025-03-07","2025-03-10","2025-03-11","2025-03-12"]`))
	}))
	defer srv.Close()

	clock := func() time.Time { return time.Date(2025, 3, 12, 9, 0, 0, 0, time.Local) }
	r := NewRegistry(Config{
		Mirror: mirror.New(mirror.Config{Server: srv.URL, Email: "a@b.c", Password: "pw"}),
		Clock:  clock,
	})
	if got := r.weeklySince(context.Background()).Format("2006-01-02"); got != "2025-03-10" {
		t.Fatalf("weekly since = %s, want 2025-03-10", got)
	}

	// unreachable calendar falls back to 15 days
	r2 := NewRegistry(Config{Mirror: mirror.New(mirror.Config{}), Clock: clock})
	if got := r2.weeklySince(context.Background()).Format("2006-01-02"); got != "2025-02-25" {
		t.Fatalf("fallback since = %s, want 2025-02-25", got)
	}
}
