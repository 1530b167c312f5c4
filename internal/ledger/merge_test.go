package ledger

import (
	"encoding/json"
	"testing"

	"github.com/shopspring/decimal"
)

func TestMergeLots_Idempotent(t *testing.T) {
	existing := []Lot{buy("B1", 100, "10.0")}
	in := []Lot{buy("B1", 100, "10.0"), buy("B2", 200, "12.0"), sell("S1", 50, "11.0")}

	once, added := MergeLots(existing, in)
	if added != 2 {
		t.Fatalf("want 2 added, got %d", added)
	}
	twice, added := MergeLots(once, in)
	if added != 0 {
		t.Fatalf("second merge added %d lots", added)
	}
	if len(twice) != 3 {
		t.Fatalf("want 3 lots, got %v", twice)
	}
	// order preserved: existing first, incoming appended in incoming order
	if twice[0].SID != "B1" || twice[1].SID != "B2" || twice[2].SID != "S1" {
		t.Fatalf("merge reordered lots: %v", twice)
	}
}

func TestMergeLots_SameSIDDifferentSideKept(t *testing.T) {
	// a position transfer produces one sell and one buy sharing sid/date;
	// both must survive a merge
	s := sell("T1", 100, "10.0")
	b := buy("T1", 100, "10.0")
	out, added := MergeLots([]Lot{s}, []Lot{b})
	if added != 1 || len(out) != 2 {
		t.Fatalf("want both sides kept, got %v", out)
	}
}

func rawStrategy(t *testing.T, key string) json.RawMessage {
	t.Helper()
	b, err := json.Marshal(map[string]any{"key": key, "enabled": true})
	if err != nil {
		t.Fatal(err)
	}
	return b
}

func TestMergeStrategies_ByBusinessKey(t *testing.T) {
	dst := &StrategyGroup{
		Strategies: map[string]json.RawMessage{
			"0": rawStrategy(t, "StrategyBuyZTBoard"),
			"2": rawStrategy(t, "StrategySellELS"),
		},
		Amount: decimal.NewFromInt(5000),
	}
	in := StrategyGroup{
		Strategies: map[string]json.RawMessage{
			"0": rawStrategy(t, "StrategySellELS"), // duplicate business key
			"1": rawStrategy(t, "StrategyGridEarn"),
		},
		Amount: decimal.NewFromInt(8000),
	}

	MergeStrategies(dst, in)

	if len(dst.Strategies) != 3 {
		t.Fatalf("want 3 entries, got %v", dst.Strategies)
	}
	// new entry appended above the highest slot in use
	if _, ok := dst.Strategies["3"]; !ok {
		t.Fatalf("want new entry at slot 3, got %v", dst.Strategies)
	}
	if !dst.Amount.Equal(decimal.NewFromInt(8000)) {
		t.Fatalf("amount not overwritten: %s", dst.Amount)
	}

	// merging again must not duplicate
	MergeStrategies(dst, in)
	if len(dst.Strategies) != 3 {
		t.Fatalf("re-merge duplicated entries: %v", dst.Strategies)
	}
}

func TestApplyWatch_ReplacesWhenNoPosition(t *testing.T) {
	h := &Holding{Code: "600000", HoldCount: 0, Strategies: &StrategyGroup{
		Strategies: map[string]json.RawMessage{"0": rawStrategy(t, "old")},
	}}
	in := &StrategyGroup{
		Strategies: map[string]json.RawMessage{"0": rawStrategy(t, "new")},
		Lots:       []Lot{buy("B1", 100, "10.0")},
		LotsFull:   []Lot{buy("B1", 100, "10.0")},
	}
	h.ApplyWatch(in)
	if h.Strategies != in {
		t.Fatal("want wholesale replacement of strategies")
	}
	if len(h.Lots) != 1 || len(h.LotsFull) != 1 {
		t.Fatalf("want lots replaced, got %v / %v", h.Lots, h.LotsFull)
	}
}

func TestApplyWatch_MergesWhenHolding(t *testing.T) {
	h := &Holding{Code: "600000", HoldCount: 100,
		Strategies: &StrategyGroup{Strategies: map[string]json.RawMessage{"0": rawStrategy(t, "keep")}},
		Lots:       []Lot{buy("B1", 100, "10.0")},
		LotsFull:   []Lot{buy("B1", 100, "10.0")},
	}
	in := &StrategyGroup{
		Strategies: map[string]json.RawMessage{"0": rawStrategy(t, "add")},
		Lots:       []Lot{buy("B2", 200, "12.0")},
		LotsFull:   []Lot{buy("B2", 200, "12.0")},
	}
	h.ApplyWatch(in)
	if len(h.Strategies.Strategies) != 2 {
		t.Fatalf("want merged strategies, got %v", h.Strategies.Strategies)
	}
	if len(h.Lots) != 2 || len(h.LotsFull) != 2 {
		t.Fatalf("want merged lots, got %v", h.Lots)
	}
}

func TestNewHoldingFromWatch_SeedsCountsFromBuyLots(t *testing.T) {
	sg := &StrategyGroup{Lots: []Lot{buy("B1", 100, "10.0"), buy("B2", 200, "12.0"), sell("S1", 50, "11.0")}}
	h := NewHoldingFromWatch("600000", sg)
	if h.HoldCount != 300 || h.AvailableCount != 300 {
		t.Fatalf("want 300/300 from buy lots, got %d/%d", h.HoldCount, h.AvailableCount)
	}
}

func TestExtendLots_FullHistoryGatesOpenList(t *testing.T) {
	h := &Holding{Code: "600000",
		// B1 was archived away: gone from the open list, still in history
		Lots:     nil,
		LotsFull: []Lot{buy("B1", 100, "10.0")},
	}
	// re-observing the same broker row must not resurrect it
	h.ExtendLots([]Lot{buy("B1", 100, "10.0")})
	if len(h.Lots) != 0 {
		t.Fatalf("archived lot resurrected: %v", h.Lots)
	}
	// a genuinely new row lands in both lists
	h.ExtendLots([]Lot{buy("B2", 200, "12.0")})
	if len(h.Lots) != 1 || len(h.LotsFull) != 2 {
		t.Fatalf("new lot not recorded: open=%v full=%v", h.Lots, h.LotsFull)
	}
}
