// Package sched provides wall-clock alarms and the adaptive reconciliation
// poller. Alarms are one-shot timers aimed at a time of day; the poller is a
// loop whose interval backs off while nothing is happening.
package sched

import (
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/qixiao/emtrader/internal/observ"
)

// Hub schedules one-shot callbacks at wall-clock times today.
type Hub struct {
	mu     sync.Mutex
	timers map[int]*time.Timer
	lastID int
	clock  func() time.Time
}

func NewHub(clock func() time.Time) *Hub {
	if clock == nil {
		clock = time.Now
	}
	return &Hub{timers: map[int]*time.Timer{}, clock: clock}
}

// DelayUntil is the duration from now to the given "H:M" or "H:M:S" time
// today; negative when the time has passed.
func (h *Hub) DelayUntil(daytime string) (time.Duration, error) {
	parts := strings.Split(daytime, ":")
	if len(parts) < 1 || len(parts) > 3 {
		return 0, fmt.Errorf("bad daytime %q", daytime)
	}
	nums := make([]int, 3)
	for i, p := range parts {
		n, err := strconv.Atoi(p)
		if err != nil {
			return 0, fmt.Errorf("bad daytime %q: %w", daytime, err)
		}
		nums[i] = n
	}
	now := h.clock()
	target := time.Date(now.Year(), now.Month(), now.Day(), nums[0], nums[1], nums[2], 0, now.Location())
	return target.Sub(now), nil
}

// catchUpDelay fires an alarm whose target just passed but whose window is
// still open.
const catchUpDelay = 100 * time.Millisecond

// AddTimer schedules fn at target ("H:M[:S]") today. A target already in
// the past is only scheduled when end is non-empty and still ahead, in
// which case fn fires after a short catch-up delay. Returns the timer id
// and whether anything was scheduled.
func (h *Hub) AddTimer(name string, fn func(), target, end string) (int, bool) {
	delay, err := h.DelayUntil(target)
	if err != nil {
		observ.Log("timer_bad_target", map[string]any{"name": name, "target": target, "err": err.Error()})
		return 0, false
	}
	if delay < 0 {
		if end == "" {
			return 0, false
		}
		endDelay, err := h.DelayUntil(end)
		if err != nil || endDelay < 0 {
			return 0, false
		}
		delay = catchUpDelay
	}

	h.mu.Lock()
	h.lastID++
	id := h.lastID
	h.timers[id] = time.AfterFunc(delay, func() {
		h.mu.Lock()
		delete(h.timers, id)
		h.mu.Unlock()
		fn()
	})
	h.mu.Unlock()
	observ.Log("timer_set", map[string]any{"name": name, "target": target, "id": id})
	return id, true
}

// Cancel stops a pending timer; a no-op once it has fired.
func (h *Hub) Cancel(id int) {
	h.mu.Lock()
	t, ok := h.timers[id]
	if ok {
		delete(h.timers, id)
	}
	h.mu.Unlock()
	if ok {
		t.Stop()
	}
}
