package sched

import (
	"context"
	"time"

	"github.com/qixiao/emtrader/internal/observ"
)

// Poller drives the reconciliation loop. Check does one pass and reports
// whether local orders are still awaiting confirmation; while it keeps
// reporting idle the interval doubles up to Max, and any activity snaps it
// back to Min.
type Poller struct {
	Min   time.Duration
	Max   time.Duration
	Check func(ctx context.Context) bool
}

// Next is the interval to wait after a pass. Pure so the backoff sequence
// is testable on its own.
func (p Poller) Next(current time.Duration, active bool) time.Duration {
	if active {
		return p.Min
	}
	next := current * 2
	if next > p.Max {
		next = p.Max
	}
	return next
}

// Run polls until the deadline or context cancellation.
func (p Poller) Run(ctx context.Context, until time.Time) {
	interval := p.Min
	for {
		if time.Now().After(until) {
			observ.Log("poller_done", map[string]any{"until": until.Format("15:04:05")})
			return
		}
		active := p.Check(ctx)
		observ.IncCounter("poll_cycles_total", nil)
		interval = p.Next(interval, active)
		observ.SetGauge("poll_interval_ms", float64(interval.Milliseconds()), nil)
		select {
		case <-ctx.Done():
			return
		case <-time.After(interval):
		}
	}
}
