package stats

import (
	"sync"
	"time"

	"github.com/feedrelay/feedrelay/internal/engine"
)

// Cycle describes one completed poll attempt, successful or not.
type Cycle struct {
	Start    time.Time
	Duration time.Duration
	Err      error
	engine.Summary
}

// Totals accumulate across every cycle since the node started.
type Totals struct {
	Lines      int64 `json:"lines"`
	Skipped    int64 `json:"skipped"`
	Updates    int64 `json:"updates"`
	Suppressed int64 `json:"suppressed"`
	Withdraws  int64 `json:"withdraws"`
}

// Status is a point-in-time view of a feed's polling health.
type Status struct {
	State               string     `json:"state"`
	Cycles              int64      `json:"cycles"`
	Failures            int64      `json:"failures"`
	ConsecutiveFailures int64      `json:"consecutive_failures"`
	Indicators          int64      `json:"indicators"`
	Replayed            int64      `json:"replayed,omitempty"`
	LastCycleStart      *time.Time `json:"last_cycle_start,omitempty"`
	LastCycleSeconds    float64    `json:"last_cycle_seconds,omitempty"`
	LastSuccess         *time.Time `json:"last_success,omitempty"`
	LastError           string     `json:"last_error,omitempty"`
	Totals              Totals     `json:"totals"`
}

// Tracker accumulates cycle outcomes for one feed.
type Tracker struct {
	mu         sync.Mutex
	interval   time.Duration
	retryLimit int
	now        func() time.Time

	cycles       int64
	failures     int64
	consecutive  int64
	indicators   int64
	replayed     int64
	lastStart    time.Time
	lastDuration time.Duration
	lastSuccess  time.Time
	lastError    string
	totals       Totals
}

// NewTracker returns a tracker for a feed polled at the given interval
// with the given retry budget per interval.
func NewTracker(interval time.Duration, retryLimit int) *Tracker {
	return &Tracker{interval: interval, retryLimit: retryLimit, now: time.Now}
}

// Record folds one cycle outcome into the running counters.
func (t *Tracker) Record(c Cycle) {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.cycles++
	t.lastStart = c.Start
	t.lastDuration = c.Duration
	t.totals.Lines += int64(c.Lines)
	t.totals.Skipped += int64(c.Skipped)
	t.totals.Updates += int64(c.Updates)
	t.totals.Suppressed += int64(c.Suppressed)
	t.totals.Withdraws += int64(c.Withdraws)

	if c.Err != nil {
		t.failures++
		t.consecutive++
		t.lastError = c.Err.Error()
		return
	}
	t.consecutive = 0
	t.lastError = ""
	t.lastSuccess = c.Start
	t.indicators = c.Indicators
}

// RecordReplay notes how many stored records were replayed at startup.
// The replay walks the whole store, so it doubles as the indicator
// count until the first cycle lands.
func (t *Tracker) RecordReplay(n int) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.replayed = int64(n)
	t.indicators = int64(n)
}

// Snapshot derives the current status. State is computed at read time
// so a feed with no recent success ages into stale without a cycle.
func (t *Tracker) Snapshot() Status {
	t.mu.Lock()
	defer t.mu.Unlock()

	s := Status{
		State:               t.state(),
		Cycles:              t.cycles,
		Failures:            t.failures,
		ConsecutiveFailures: t.consecutive,
		Indicators:          t.indicators,
		Replayed:            t.replayed,
		LastError:           t.lastError,
		Totals:              t.totals,
	}
	if !t.lastStart.IsZero() {
		ts := t.lastStart
		s.LastCycleStart = &ts
		s.LastCycleSeconds = t.lastDuration.Seconds()
	}
	if !t.lastSuccess.IsZero() {
		ts := t.lastSuccess
		s.LastSuccess = &ts
	}
	return s
}
