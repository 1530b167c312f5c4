package ledger

import (
	"errors"
	"sort"
)

// ErrOversell reports that sell lots could not be fully consumed by the open
// buy lots. It usually means broker fills have not been observed yet, so the
// caller must leave the lot list alone and surface the condition.
var ErrOversell = errors.New("sell count exceeds open buy lots")

// Archive applies sell lots against buy lots and returns the surviving buy
// lots. Buy lots are consumed cheapest-first; that tie-break decides which
// cost basis survives, so it is fixed. For each sell, a buy lot of exactly
// equal count is removed whole before any partial consumption happens; among
// several equal-count candidates the first in list order wins.
//
// On ErrOversell the input slice is left untouched: all bookkeeping happens
// on copies and results are only produced on success.
func Archive(lots []Lot) ([]Lot, error) {
	buys := make([]Lot, 0, len(lots))
	sells := make([]Lot, 0)
	for _, l := range lots {
		switch l.Side {
		case SideBuy:
			buys = append(buys, l)
		case SideSell:
			sells = append(sells, l)
		}
	}
	sort.SliceStable(buys, func(i, j int) bool {
		return buys[i].Price.LessThan(buys[j].Price)
	})

	for _, s := range sells {
		if i := indexByCount(buys, s.Count); i >= 0 {
			buys = append(buys[:i], buys[i+1:]...)
			continue
		}
		remaining := s.Count
		for i := range buys {
			if buys[i].Count > remaining {
				buys[i].Count -= remaining
				remaining = 0
				break
			}
			remaining -= buys[i].Count
			buys[i].Count = 0
		}
		if remaining > 0 {
			return nil, ErrOversell
		}
	}

	out := make([]Lot, 0, len(buys))
	for _, b := range buys {
		if b.Count > 0 {
			out = append(out, b)
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Date < out[j].Date })
	return out, nil
}

func indexByCount(lots []Lot, count int) int {
	for i, l := range lots {
		if l.Count == count {
			return i
		}
	}
	return -1
}
