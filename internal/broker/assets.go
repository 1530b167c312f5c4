package broker

import (
	"time"

	"github.com/qixiao/emtrader/internal/ledger"
)

// RawAssets is the balance summary returned by the asset endpoints. The cash
// and margin variants populate different subsets of these fields.
type RawAssets struct {
	Zzc    Money `json:"Zzc"`    // total assets
	Kyzj   Money `json:"Kyzj"`   // available money (cash account)
	Zfz    Money `json:"Zfz"`    // total liabilities (margin)
	Zjkys  Money `json:"Zjkys"`  // usable money (margin)
	Bzjkys Money `json:"Bzjkys"` // usable margin deposit (credit line)
	Rzfzhj Money `json:"Rzfzhj"` // financing debt total
	Rqxf   Money `json:"Rqxf"`   // lending interest
	Rzxf   Money `json:"Rzxf"`   // financing interest
}

// RawPosition is one position row from the asset/position endpoints.
type RawPosition struct {
	Code  string `json:"Zqdm"`
	Name  string `json:"Zqmc"`
	Hold  Count  `json:"Zqsl"`
	Avail Count  `json:"Kysl"`
	Cost  Money  `json:"Cbjg"`
	Last  Money  `json:"Zxjg"`
}

// ParsePosition converts a broker position row into holding fields, taking
// the broker counts verbatim. After the close a lagging available count is
// converged up to the hold count: the T+1 lock has no meaning once the
// session is over.
func ParsePosition(p RawPosition, now time.Time) *ledger.Holding {
	hold, avail := int(p.Hold), int(p.Avail)
	if hold != avail && now.Hour() >= sessionCutoffHour {
		avail = hold
	}
	last := p.Last.Decimal
	if last.IsZero() {
		last = p.Cost.Decimal
	}
	return &ledger.Holding{
		Code:           p.Code,
		Name:           p.Name,
		HoldCount:      hold,
		AvailableCount: avail,
		HoldCost:       p.Cost.Decimal,
		LatestPrice:    last,
	}
}
