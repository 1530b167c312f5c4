package ledger

import (
	"encoding/json"
	"sort"
	"strconv"

	"github.com/shopspring/decimal"
)

// MergeLots appends lots from in whose (SID, Date, Side) key is not already
// present in dst. Existing order is preserved and new entries keep incoming
// order, so merging the same list twice is a no-op. Returns the merged list
// and the number of lots appended.
func MergeLots(dst []Lot, in []Lot) ([]Lot, int) {
	seen := make(map[string]struct{}, len(dst))
	for _, l := range dst {
		seen[l.Key()] = struct{}{}
	}
	added := 0
	for _, l := range in {
		if _, ok := seen[l.Key()]; ok {
			continue
		}
		dst = append(dst, l)
		seen[l.Key()] = struct{}{}
		added++
	}
	return dst, added
}

// StrategyGroup is policy metadata owned by an external planner. The engine
// only interprets the Amount budget and the nested lot lists; individual
// strategy entries stay opaque except for their business key.
type StrategyGroup struct {
	Strategies map[string]json.RawMessage `json:"strategies,omitempty"`
	Amount     decimal.Decimal            `json:"amount,omitempty"`
	Lots       []Lot                      `json:"buydetail,omitempty"`
	LotsFull   []Lot                      `json:"buydetail_full,omitempty"`
}

func strategyKey(raw json.RawMessage) string {
	var e struct {
		Key string `json:"key"`
	}
	if err := json.Unmarshal(raw, &e); err != nil {
		return ""
	}
	return e.Key
}

// MergeStrategies folds the entries of in into dst. Entries are matched by
// business key, not numeric slot: inbound entries with an unseen key get the
// next free slot above the highest index in use. The Amount budget always
// takes the inbound value.
func MergeStrategies(dst *StrategyGroup, in StrategyGroup) {
	if dst.Strategies == nil {
		dst.Strategies = map[string]json.RawMessage{}
	}
	maxID := 0
	exists := make(map[string]struct{}, len(dst.Strategies))
	for k, v := range dst.Strategies {
		if id, err := strconv.Atoi(k); err == nil && id > maxID {
			maxID = id
		}
		exists[strategyKey(v)] = struct{}{}
	}
	for _, k := range sortedSlots(in.Strategies) {
		v := in.Strategies[k]
		if _, ok := exists[strategyKey(v)]; ok {
			continue
		}
		maxID++
		dst.Strategies[strconv.Itoa(maxID)] = v
		exists[strategyKey(v)] = struct{}{}
	}
	if !dst.Amount.Equal(in.Amount) {
		dst.Amount = in.Amount
	}
}

// sortedSlots orders numeric slot keys so merges assign new slots
// deterministically.
func sortedSlots(m map[string]json.RawMessage) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool {
		a, erra := strconv.Atoi(keys[i])
		b, errb := strconv.Atoi(keys[j])
		if erra == nil && errb == nil {
			return a < b
		}
		return keys[i] < keys[j]
	})
	return keys
}
