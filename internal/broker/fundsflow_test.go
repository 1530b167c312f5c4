package broker

import (
	"testing"

	"github.com/qixiao/emtrader/internal/ledger"
	"github.com/shopspring/decimal"
)

func TestClassifyFundsFlows_MonetaryRows(t *testing.T) {
	c := Classifier{Account: "normal"}
	rows := []RawFundsFlow{
		{Desc: "股息红利差异扣税", Code: "600000", BizDate: "20250110", MatchTime: "101500",
			Count: 500, Price: money("0.1"), Amount: money("23.45"), SID: "F1"},
	}
	res := c.ClassifyFundsFlows(rows)
	if len(res.Deals) != 1 {
		t.Fatalf("want 1 deal, got %v", res.Deals)
	}
	d := res.Deals[0]
	if d.Kind != ledger.KindTax {
		t.Fatalf("want tax kind, got %q", d.Kind)
	}
	// monetary rows force count=1 and carry the total as the price
	if d.Count != 1 || !d.Price.Equal(decimal.RequireFromString("23.45")) {
		t.Fatalf("monetary normalization wrong: %+v", d)
	}
}

func TestClassifyFundsFlows_DividendMidnightRestamped(t *testing.T) {
	c := Classifier{Account: "normal"}
	rows := []RawFundsFlow{
		{Desc: "红利入账", Code: "600000", OccurDate: "20250110", OccurTime: "0", MatchTime: "0",
			Amount: money("120.00"), SID: "F2"},
	}
	res := c.ClassifyFundsFlows(rows)
	if len(res.Deals) != 1 {
		t.Fatalf("want 1 deal, got %v", res.Deals)
	}
	if res.Deals[0].Time != "2025-01-10 15:00:00" {
		t.Fatalf("want after-hours restamp, got %q", res.Deals[0].Time)
	}
}

func TestClassifyFundsFlows_MarginInterestMergedByExactTimestamp(t *testing.T) {
	c := Classifier{Account: "collat"}
	rows := []RawFundsFlow{
		{Desc: "偿还融资利息", Code: "600000", BizDate: "20250110", MatchTime: "150000", Amount: money("1.10"), SID: "F3"},
		{Desc: "偿还融资逾期利息", Code: "600000", BizDate: "20250110", MatchTime: "150000", Amount: money("0.40"), SID: "F4"},
		// one second later: stays separate
		{Desc: "偿还融资利息", Code: "600000", BizDate: "20250110", MatchTime: "150001", Amount: money("2.00"), SID: "F5"},
	}
	res := c.ClassifyFundsFlows(rows)
	if len(res.Deals) != 2 {
		t.Fatalf("want 2 merged deals, got %v", res.Deals)
	}
	if !res.Deals[0].Price.Equal(decimal.RequireFromString("1.50")) {
		t.Fatalf("want summed 1.50, got %s", res.Deals[0].Price)
	}
	if res.Deals[0].Kind != ledger.KindMarginInterest {
		t.Fatalf("want margin-interest kind, got %q", res.Deals[0].Kind)
	}
}

func TestClassifyFundsFlows_NoCodeSeparated(t *testing.T) {
	c := Classifier{Account: "normal"}
	rows := []RawFundsFlow{
		{Desc: "银行转证券", BizDate: "20250110", MatchTime: "093000", Amount: money("50000"), SID: "F6"},
	}
	res := c.ClassifyFundsFlows(rows)
	if len(res.Deals) != 0 || len(res.NoCode) != 1 {
		t.Fatalf("no-code row not separated: %+v", res)
	}
	if res.NoCode[0].Count != 1 {
		t.Fatalf("zero count should default to 1, got %d", res.NoCode[0].Count)
	}
}

func TestClassifyFundsFlows_IgnoredAndUnknownDropped(t *testing.T) {
	c := Classifier{Account: "collat"}
	rows := []RawFundsFlow{
		{Desc: "融资买入", Code: "600000", BizDate: "20250110", MatchTime: "093000", Count: 100, Price: money("10")},
		{Desc: "没见过的业务", Code: "600000", BizDate: "20250110", MatchTime: "093000", Count: 100, Price: money("10")},
	}
	res := c.ClassifyFundsFlows(rows)
	if len(res.Deals) != 0 || len(res.NoCode) != 0 {
		t.Fatalf("ignored/unknown rows leaked: %+v", res)
	}
}

func TestClassifyFundsFlows_RightsIssueWithoutSIDSkipped(t *testing.T) {
	c := Classifier{Account: "normal"}
	rows := []RawFundsFlow{
		{Desc: "配股入帐", Code: "600000", BizDate: "20250110", MatchTime: "093000", Count: 100, Price: money("5.0"), SID: ""},
	}
	res := c.ClassifyFundsFlows(rows)
	if len(res.Deals) != 0 {
		t.Fatalf("sid-less rights issue row should be skipped: %+v", res.Deals)
	}
}
