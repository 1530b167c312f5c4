package quotes

import (
	"strings"

	"github.com/shopspring/decimal"
)

var bjHeads = []string{"4", "8", "92"}
var shHeads = []string{"5", "6", "7", "9", "110", "113", "118", "132", "204"}

// MarketCode resolves the exchange code (SH/SZ/BJ) for a 6-digit security
// code from its prefix.
func MarketCode(code string) string {
	for _, h := range bjHeads {
		if strings.HasPrefix(code, h) {
			return "BJ"
		}
	}
	for _, h := range shHeads {
		if strings.HasPrefix(code, h) {
			return "SH"
		}
	}
	return "SZ"
}

// CalcBuyCount converts a money budget into a share count rounded to the
// nearest exchange lot of 100, never below one lot.
func CalcBuyCount(amount, price decimal.Decimal) int {
	if price.IsZero() {
		return 0
	}
	hundred := decimal.NewFromInt(100)
	lotPrice := price.Mul(hundred)
	ct := amount.Div(lotPrice)
	floor := ct.Floor().IntPart()
	ceil := ct.Ceil().IntPart()
	lowGap := amount.Sub(lotPrice.Mul(decimal.NewFromInt(floor)))
	highGap := lotPrice.Mul(decimal.NewFromInt(ceil)).Sub(amount)
	if lowGap.GreaterThan(highGap) {
		return int(100 * ceil)
	}
	if ct.GreaterThan(decimal.NewFromInt(1)) {
		return int(100 * floor)
	}
	return 100
}
