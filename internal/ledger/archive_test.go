package ledger

import (
	"errors"
	"testing"

	"github.com/shopspring/decimal"
)

func buy(sid string, count int, price string) Lot {
	return Lot{Code: "600000", Side: SideBuy, Price: decimal.RequireFromString(price), Count: count, Date: "2025-01-15", SID: sid}
}

func sell(sid string, count int, price string) Lot {
	return Lot{Code: "600000", Side: SideSell, Price: decimal.RequireFromString(price), Count: count, Date: "2025-01-15", SID: sid}
}

func TestArchive_ConsumesCheapestFirst(t *testing.T) {
	lots := []Lot{buy("B1", 100, "10.0"), buy("B2", 200, "12.0"), sell("S1", 150, "11.0")}

	out, err := Archive(lots)
	if err != nil {
		t.Fatalf("archive: %v", err)
	}
	if len(out) != 1 {
		t.Fatalf("want 1 surviving lot, got %d: %v", len(out), out)
	}
	if out[0].Count != 150 || !out[0].Price.Equal(decimal.RequireFromString("12.0")) {
		t.Fatalf("want 150@12.0, got %d@%s", out[0].Count, out[0].Price)
	}
}

func TestArchive_ExactCountMatchRemovesWholeLot(t *testing.T) {
	lots := []Lot{buy("B1", 100, "10.0"), buy("B2", 200, "12.0"), sell("S1", 100, "11.0")}

	out, err := Archive(lots)
	if err != nil {
		t.Fatalf("archive: %v", err)
	}
	if len(out) != 1 || out[0].SID != "B2" || out[0].Count != 200 {
		t.Fatalf("want whole B1 removed, got %v", out)
	}
}

// Among several equal-count candidates the first in list order is taken,
// regardless of price or date.
func TestArchive_ExactMatchTieBreakIsListOrder(t *testing.T) {
	lots := []Lot{buy("B1", 100, "12.0"), buy("B2", 100, "10.0"), sell("S1", 100, "11.0")}

	out, err := Archive(lots)
	if err != nil {
		t.Fatalf("archive: %v", err)
	}
	// Buys are price-sorted before matching, so B2 (cheaper) is first in list
	// order and gets consumed even though B1 appeared first in the input.
	if len(out) != 1 || out[0].SID != "B1" {
		t.Fatalf("want B1 surviving, got %v", out)
	}
}

func TestArchive_OversellLeavesInputUntouched(t *testing.T) {
	lots := []Lot{buy("B1", 100, "10.0"), sell("S1", 200, "11.0")}

	out, err := Archive(lots)
	if !errors.Is(err, ErrOversell) {
		t.Fatalf("want ErrOversell, got %v (out=%v)", err, out)
	}
	if lots[0].Count != 100 || lots[1].Count != 200 {
		t.Fatalf("input mutated on abort: %v", lots)
	}
}

func TestArchive_MultipleSellsPartialConsumption(t *testing.T) {
	lots := []Lot{
		buy("B1", 300, "10.0"),
		buy("B2", 200, "9.5"),
		sell("S1", 200, "11.0"), // exact match removes B2
		sell("S2", 100, "11.5"), // partial from B1
	}

	out, err := Archive(lots)
	if err != nil {
		t.Fatalf("archive: %v", err)
	}
	if len(out) != 1 || out[0].SID != "B1" || out[0].Count != 200 {
		t.Fatalf("want B1 with 200 left, got %v", out)
	}
}

func TestHolding_ArchiveLotsRefreshesCounts(t *testing.T) {
	h := &Holding{Code: "600000", Lots: []Lot{buy("B1", 100, "10.0"), buy("B2", 200, "12.0"), sell("S1", 150, "11.0")}}
	if err := h.ArchiveLots(); err != nil {
		t.Fatalf("archive: %v", err)
	}
	if h.HoldCount != 150 || h.AvailableCount != 150 {
		t.Fatalf("want counts 150/150, got %d/%d", h.HoldCount, h.AvailableCount)
	}
}

func TestHolding_ArchiveLotsOversellKeepsState(t *testing.T) {
	h := &Holding{Code: "600000", HoldCount: 100, AvailableCount: 100,
		Lots: []Lot{buy("B1", 100, "10.0"), sell("S1", 200, "11.0")}}
	if err := h.ArchiveLots(); !errors.Is(err, ErrOversell) {
		t.Fatalf("want ErrOversell, got %v", err)
	}
	if len(h.Lots) != 2 || h.HoldCount != 100 {
		t.Fatalf("holding mutated on abort: %+v", h)
	}
}
