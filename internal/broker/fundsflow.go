package broker

import (
	"strings"

	"github.com/qixiao/emtrader/internal/ledger"
	"github.com/qixiao/emtrader/internal/observ"
)

// Funds-flow rows covered by the regular trade sync, skipped here.
var flowIgnored = map[string]bool{
	"融资买入": true, "融资借入": true, "偿还融资负债本金": true,
	"担保品卖出": true, "担保品买入": true, "担保物转入": true, "担保物转出": true,
	"融券回购": true, "融券购回": true, "证券卖出": true, "证券买入": true,
	"配股权证": true, "配股缴款": true,
}

// Rows that move shares in or out without being exchange trades.
var flowBuys = map[string]bool{"红股入账": true, "配股入帐": true, "股份转入": true}
var flowSells = map[string]bool{"股份转出": true}

// Rows labeled by their business meaning rather than a side.
var flowOther = map[string]bool{
	"配售缴款": true, "新股入帐": true, "股息红利差异扣税": true,
	"偿还融资利息": true, "偿还融资逾期利息": true, "红利入账": true,
	"银行转证券": true, "证券转银行": true, "利息归本": true,
}

// Rows expressing a monetary total instead of a per-share price.
var flowMonetary = map[string]bool{
	"股息红利差异扣税": true, "偿还融资利息": true, "偿还融资逾期利息": true,
	"红利入账": true, "银行转证券": true, "证券转银行": true, "利息归本": true,
}

// FlowResult separates regular settlement deals from rows that carry no
// security code (account-level money movements), which are uploaded as
// their own batch.
type FlowResult struct {
	Deals  []ledger.Deal
	NoCode []ledger.Deal
}

// ClassifyFundsFlows maps non-trade broker rows (dividends, rights issues,
// tax withholding, margin interest, bank transfers) to normalized deals.
// Margin-interest rows with an identical timestamp are summed into one deal;
// that merge rule applies to this kind only.
func (c Classifier) ClassifyFundsFlows(rows []RawFundsFlow) FlowResult {
	var res FlowResult
	var interest []ledger.Deal
	for _, d := range rows {
		if flowIgnored[d.Desc] {
			continue
		}

		var kind string
		switch {
		case flowBuys[d.Desc]:
			kind = string(ledger.SideBuy)
		case flowSells[d.Desc]:
			kind = string(ledger.SideSell)
		case flowOther[d.Desc]:
			observ.Log("fundsflow_other", map[string]any{"acc": c.Account, "desc": d.Desc, "code": d.Code})
			kind = d.Desc
			switch d.Desc {
			case "股息红利差异扣税":
				kind = ledger.KindTax
			case "偿还融资利息", "偿还融资逾期利息":
				kind = ledger.KindMarginInterest
			}
		default:
			observ.Log("fundsflow_unknown", map[string]any{"acc": c.Account, "desc": d.Desc, "code": d.Code})
			observ.IncCounter("deals_dropped_total", map[string]string{"acc": c.Account})
			continue
		}

		rq := d.OccurDate
		if rq == "" || rq == "0" {
			rq = d.BizDate
		}
		sj := d.OccurTime
		if sj == "" || sj == "0" {
			sj = d.MatchTime
		}
		dltime := DealTime(rq, sj)
		// dividend rows stamped at midnight really settle after hours
		if d.Desc == "红利入账" && strings.HasSuffix(dltime, " 00:00") {
			dltime = DealTime(rq, "150000")
		}

		count := int(d.Count)
		price := d.Price.Decimal
		if flowMonetary[d.Desc] {
			count = 1
			price = d.Amount.Decimal
		}

		if d.Desc == "配股入帐" && d.SID == "" {
			continue
		}

		drec := ledger.Deal{
			Time: dltime, SID: d.SID, Code: d.Code, Kind: kind,
			Price: price, Count: count,
			Fee: d.Fee.Decimal, FeeYh: d.FeeYh.Decimal, FeeGh: d.FeeGh.Decimal,
		}

		if d.Code == "" {
			if drec.Count == 0 {
				drec.Count = 1
			}
			res.NoCode = append(res.NoCode, drec)
			continue
		}

		if kind == ledger.KindMarginInterest {
			interest = append(interest, drec)
		} else {
			res.Deals = append(res.Deals, drec)
		}
	}

	if len(interest) > 0 {
		res.Deals = append(res.Deals, mergeInterest(interest)...)
	}
	return res
}

// mergeInterest sums margin-interest deals sharing an exact timestamp.
// Equality is on the raw timestamp string; rows a second apart stay separate.
func mergeInterest(deals []ledger.Deal) []ledger.Deal {
	idx := map[string]int{}
	out := make([]ledger.Deal, 0, len(deals))
	for _, d := range deals {
		if i, ok := idx[d.Time]; ok {
			out[i].Price = out[i].Price.Add(d.Price)
			continue
		}
		idx[d.Time] = len(out)
		out = append(out, d)
	}
	return out
}
