package ledger

import (
	"github.com/shopspring/decimal"
)

// Holding is the position record for one security within one account. Lots
// holds the open, still-matchable lots; LotsFull is the append-only full
// history and is never pruned.
type Holding struct {
	Code           string          `json:"code"`
	Name           string          `json:"name"`
	HoldCount      int             `json:"holdCount"`
	AvailableCount int             `json:"availableCount"`
	HoldCost       decimal.Decimal `json:"holdCost,omitempty"`
	LatestPrice    decimal.Decimal `json:"latestPrice,omitempty"`
	Strategies     *StrategyGroup  `json:"strategies,omitempty"`
	Lots           []Lot           `json:"buydetail"`
	LotsFull       []Lot           `json:"buydetail_full"`
}

// NewHoldingFromWatch bootstraps a holding from watch-list metadata, seeding
// counts from the incoming buy lots. The asset-sync bootstrap path is
// different: it takes broker-reported counts verbatim (see account package).
func NewHoldingFromWatch(code string, sg *StrategyGroup) *Holding {
	h := &Holding{Code: code, Strategies: sg}
	if sg != nil {
		h.Lots = sg.Lots
		h.LotsFull = sg.LotsFull
		h.HoldCount = SumBuyCounts(sg.Lots)
		h.AvailableCount = h.HoldCount
	}
	return h
}

// ApplyWatch folds inbound watch-list metadata into the holding. With no open
// position or no existing metadata the inbound group replaces everything it
// carries; otherwise strategies merge by business key and lots merge by
// identity key.
func (h *Holding) ApplyWatch(sg *StrategyGroup) {
	if sg == nil {
		return
	}
	if h.HoldCount == 0 || h.Strategies == nil {
		h.Strategies = sg
		if sg.Lots != nil {
			h.Lots = sg.Lots
		}
		if sg.LotsFull != nil {
			h.LotsFull = sg.LotsFull
		}
		return
	}
	MergeStrategies(h.Strategies, *sg)
	if sg.Lots != nil {
		h.Lots, _ = MergeLots(h.Lots, sg.Lots)
	}
	if sg.LotsFull != nil {
		h.LotsFull, _ = MergeLots(h.LotsFull, sg.LotsFull)
	}
}

// ExtendLots records newly observed lots. The full history is the
// deduplication gate: lots already present there (archived ones included)
// are not re-added to the open list, which is what makes repeated polls of
// the same broker rows idempotent.
func (h *Holding) ExtendLots(in []Lot) {
	full, added := MergeLots(h.LotsFull, in)
	h.LotsFull = full
	if added == 0 {
		return
	}
	h.Lots, _ = MergeLots(h.Lots, in)
}

// ArchiveLots runs FIFO archiving over the open lots and refreshes the
// derived counts. On ErrOversell the holding is left exactly as it was.
func (h *Holding) ArchiveLots() error {
	remaining, err := Archive(h.Lots)
	if err != nil {
		return err
	}
	h.Lots = remaining
	h.HoldCount = SumBuyCounts(remaining)
	h.AvailableCount = h.HoldCount
	return nil
}
