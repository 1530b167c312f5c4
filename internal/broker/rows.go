// Package broker models the raw order rows returned by the brokerage
// endpoints and classifies them into normalized deals. Field names follow
// the broker's own JSON keys; everything downstream uses ledger types.
package broker

import (
	"bytes"
	"strconv"

	"github.com/shopspring/decimal"
)

// Order statuses as reported by the broker.
const (
	StatusFilled        = "已成"
	StatusCancelled     = "已撤"
	StatusRejected      = "废单"
	StatusPartCancelled = "部撤"
	StatusPartFilled    = "部成"
	StatusSubmitted     = "已报"
	StatusConfirmed     = "已确认"
)

// Trade descriptions the order classifier cares about beyond the side
// vocabulary.
const (
	DescTransferIn  = "担保品划入"
	DescTransferOut = "担保品划出"
	DescNewIssue    = "配售申购"
)

// Count tolerates both quoted and bare numbers, which the broker mixes
// freely across endpoints.
type Count int

func (c *Count) UnmarshalJSON(b []byte) error {
	s := string(bytes.Trim(b, `"`))
	if s == "" || s == "null" {
		*c = 0
		return nil
	}
	f, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return err
	}
	*c = Count(int(f))
	return nil
}

// Money is a decimal that tolerates quoted, bare and empty values.
type Money struct {
	decimal.Decimal
}

func (m *Money) UnmarshalJSON(b []byte) error {
	s := bytes.Trim(b, `"`)
	if len(s) == 0 || string(s) == "null" {
		m.Decimal = decimal.Zero
		return nil
	}
	return m.Decimal.UnmarshalJSON(s)
}

// Text keeps a field's value as sent, quoted or bare.
type Text string

func (t *Text) UnmarshalJSON(b []byte) error {
	s := string(bytes.Trim(b, `"`))
	if s == "null" {
		s = ""
	}
	*t = Text(s)
	return nil
}

// RawOrder is one row from the order or history-deal endpoints.
type RawOrder struct {
	Code   string `json:"Zqdm"` // security code
	Name   string `json:"Zqmc"` // display name
	Desc   string `json:"Mmsm"` // trade description
	Status string `json:"Wtzt"` // order status
	Price  Money  `json:"Cjjg"` // filled price
	Count  Count  `json:"Cjsl"` // filled count
	Wtjg   Text   `json:"Wtjg"` // order price; transfer rows carry the dotted code here
	SID    string `json:"Wtbh"` // broker order id
	Date   string `json:"Cjrq"` // fill date, yyyymmdd (history rows)
	Time   string `json:"Cjsj"` // fill time, hhmmss (history rows)
	Fee    Money  `json:"Sxf"`  // commission
	FeeYh  Money  `json:"Yhs"`  // stamp tax
	FeeGh  Money  `json:"Ghf"`  // transfer fee
	Cursor string `json:"Dwc"`  // pagination cursor
}

// RawFundsFlow is one row from the funds-flow (non-trade settlement)
// endpoints.
type RawFundsFlow struct {
	Desc      string `json:"Ywsm"` // business description
	Code      string `json:"Zqdm"`
	OccurDate string `json:"Fsrq"` // settlement date, "0" when absent
	BizDate   string `json:"Ywrq"` // business date fallback
	OccurTime string `json:"Fssj"` // settlement time, "0" when absent
	MatchTime string `json:"Cjsj"` // match time fallback
	Count     Count  `json:"Cjsl"`
	Price     Money  `json:"Cjjg"`
	Amount    Money  `json:"Fsje"` // monetary total for per-account rows
	SID       string `json:"Htbh"` // contract id
	Fee       Money  `json:"Sxf"`
	FeeYh     Money  `json:"Yhs"`
	FeeGh     Money  `json:"Ghf"`
	Cursor    string `json:"Dwc"`
}
