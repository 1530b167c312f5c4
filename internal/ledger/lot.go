package ledger

import (
	"github.com/shopspring/decimal"
)

// Side is the broker-normalized direction of a lot or deal.
type Side string

const (
	SideBuy  Side = "B"
	SideSell Side = "S"
)

// Non-trade deal kinds produced by the funds-flow classifier. Anything else
// that is neither a Side nor one of these is a free-form transfer label
// carried through to the mirror verbatim.
const (
	KindTax            = "扣税"
	KindMarginInterest = "融资利息"
)

// Lot is a single buy or sell record, the atomic unit archiving operates on.
// The (SID, Date, Side) triple is its identity: merges deduplicate on it.
type Lot struct {
	Code  string          `json:"code"`
	Side  Side            `json:"type"`
	Price decimal.Decimal `json:"price"`
	Count int             `json:"count"`
	Date  string          `json:"date"`
	SID   string          `json:"sid"`
}

// Key returns the deduplication key for merges.
func (l Lot) Key() string {
	return l.SID + "|" + l.Date + "|" + string(l.Side)
}

// Deal is a normalized broker event in mirror wire shape. Kind is "B"/"S"
// for trades, or a settlement label (KindTax, KindMarginInterest, free-form)
// for non-trade rows.
type Deal struct {
	Time  string          `json:"time"`
	SID   string          `json:"sid"`
	Code  string          `json:"code"`
	Kind  string          `json:"tradeType"`
	Price decimal.Decimal `json:"price"`
	Count int             `json:"count"`
	Fee   decimal.Decimal `json:"fee"`
	FeeYh decimal.Decimal `json:"feeYh"`
	FeeGh decimal.Decimal `json:"feeGh"`
}

// DealsToLots converts confirmed trade deals into lots for the holding ledger.
func DealsToLots(deals []Deal) []Lot {
	lots := make([]Lot, 0, len(deals))
	for _, d := range deals {
		lots = append(lots, Lot{
			Code:  d.Code,
			Side:  Side(d.Kind),
			Price: d.Price,
			Count: d.Count,
			Date:  d.Time,
			SID:   d.SID,
		})
	}
	return lots
}

// LotsToDeals is the inverse mapping, used when synthesized lots (position
// transfers) must be pushed to the mirror.
func LotsToDeals(lots []Lot) []Deal {
	deals := make([]Deal, 0, len(lots))
	for _, l := range lots {
		deals = append(deals, Deal{
			Time:  l.Date,
			SID:   l.SID,
			Code:  l.Code,
			Kind:  string(l.Side),
			Price: l.Price,
			Count: l.Count,
		})
	}
	return deals
}

// SumBuyCounts totals the share count across buy lots.
func SumBuyCounts(lots []Lot) int {
	n := 0
	for _, l := range lots {
		if l.Side == SideBuy {
			n += l.Count
		}
	}
	return n
}
