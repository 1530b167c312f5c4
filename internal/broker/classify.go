package broker

import (
	"time"

	"github.com/qixiao/emtrader/internal/ledger"
	"github.com/qixiao/emtrader/internal/observ"
)

// SideFromDesc maps a broker trade description to a normalized side.
// Margin-lending (融券) rows are deliberately unmapped; anything else
// outside the vocabulary classifies as unknown.
func SideFromDesc(desc string) (ledger.Side, bool) {
	switch desc {
	case "证券卖出", "担保品划出":
		return ledger.SideSell, true
	case "证券买入", "担保品划入", "配售申购", "配股缴款", "网上认购":
		return ledger.SideBuy, true
	}
	return "", false
}

// sessionCutoff is the market close; partially-filled orders only become
// archivable once it has passed, since earlier they may still receive fills.
const sessionCutoffHour = 15

// Result groups classified order rows by disposition.
type Result struct {
	// Deals holds archivable normalized deals keyed by security code.
	Deals map[string][]ledger.Deal
	// Transfers are broker-confirmed position transfers between the cash
	// and collateral accounts; they bypass the normal archiving path.
	Transfers []RawOrder
	// Deferred are rows that may still change (mid-fill before the cutoff).
	Deferred []RawOrder
}

// Classifier turns raw order rows into dispositions for one account.
type Classifier struct {
	Account string
	Now     func() time.Time
}

func (c Classifier) now() time.Time {
	if c.Now != nil {
		return c.Now()
	}
	return time.Now()
}

// Classify maps each raw order row to archive/ignore/defer/transfer.
func (c Classifier) Classify(rows []RawOrder) Result {
	now := c.now()
	date := now.Format("2006-01-02")
	afterCutoff := now.Hour() >= sessionCutoffHour

	res := Result{Deals: map[string][]ledger.Deal{}}
	for _, d := range rows {
		side, hasSide := SideFromDesc(d.Desc)
		terminal := d.Status == StatusFilled || d.Status == StatusCancelled ||
			d.Status == StatusRejected || d.Status == StatusPartCancelled ||
			(d.Status == StatusPartFilled && afterCutoff)

		switch {
		case terminal && hasSide:
			if d.Count == 0 {
				observ.Log("order_ignored", map[string]any{"acc": c.Account, "desc": d.Desc, "name": d.Name})
				continue
			}
			res.Deals[d.Code] = append(res.Deals[d.Code], ledger.Deal{
				Code:  d.Code,
				Price: d.Price.Decimal,
				Count: int(d.Count),
				SID:   d.SID,
				Kind:  string(side),
				Time:  date,
			})
			observ.IncCounter("deals_classified_total", map[string]string{"acc": c.Account})
		case d.Status == StatusSubmitted && d.Desc == DescNewIssue:
			// new-issue subscriptions settle out-of-band
			observ.Log("order_ignored", map[string]any{"acc": c.Account, "desc": d.Desc, "name": d.Name})
		case (d.Status == StatusSubmitted || d.Status == StatusPartFilled) && hasSide:
			observ.Log("order_incomplete", map[string]any{"acc": c.Account, "name": d.Name, "status": d.Status, "desc": d.Desc})
			observ.IncCounter("deals_deferred_total", map[string]string{"acc": c.Account})
			res.Deferred = append(res.Deferred, d)
		case d.Status == StatusConfirmed && (d.Desc == DescTransferIn || d.Desc == DescTransferOut):
			res.Transfers = append(res.Transfers, d)
		default:
			observ.Log("order_unknown", map[string]any{"acc": c.Account, "desc": d.Desc, "status": d.Status, "code": d.Code})
			observ.IncCounter("deals_dropped_total", map[string]string{"acc": c.Account})
		}
	}
	return res
}

// NormalizeHistory converts history-deal rows into normalized deals with
// full timestamps and fee components. Rows with no side mapping, no code or
// a zero count are dropped with a log entry.
func (c Classifier) NormalizeHistory(rows []RawOrder) []ledger.Deal {
	deals := make([]ledger.Deal, 0, len(rows))
	for _, d := range rows {
		side, ok := SideFromDesc(d.Desc)
		if !ok {
			observ.Log("hisdeal_unknown_type", map[string]any{"acc": c.Account, "desc": d.Desc, "code": d.Code})
			continue
		}
		if d.Code == "" {
			continue
		}
		if d.Count == 0 {
			observ.Log("hisdeal_invalid_count", map[string]any{"acc": c.Account, "code": d.Code, "sid": d.SID})
			continue
		}
		deals = append(deals, ledger.Deal{
			Time:  DealTime(d.Date, d.Time),
			SID:   d.SID,
			Code:  d.Code,
			Kind:  string(side),
			Price: d.Price.Decimal,
			Count: int(d.Count),
			Fee:   d.Fee.Decimal,
			FeeYh: d.FeeYh.Decimal,
			FeeGh: d.FeeGh.Decimal,
		})
	}
	return deals
}

// DealTime joins the broker's 8-digit date and 6-digit time fields into
// "2006-01-02 15:04:05". 8-char times carry trailing centiseconds and are
// truncated; anything else malformed collapses to a dateline at 00:00.
func DealTime(rq, sj string) string {
	if len(rq) != 8 {
		return rq + " 00:00"
	}
	d := rq[0:4] + "-" + rq[4:6] + "-" + rq[6:8]
	if len(sj) == 8 {
		sj = sj[:6]
	}
	if len(sj) != 6 {
		return d + " 00:00"
	}
	return d + " " + sj[0:2] + ":" + sj[2:4] + ":" + sj[4:6]
}
