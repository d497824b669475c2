package stats

// Feed health states, from least to most alarming.
const (
	StatePending  = "pending"
	StateOK       = "ok"
	StateDegraded = "degraded"
	StateStale    = "stale"
	StateFailing  = "failing"
)

// state derives health from the counters. Callers hold t.mu.
//
// A feed is failing once it has burned through its retry budget,
// stale when its last success is older than two intervals, and
// degraded while a retry burst is still in progress.
func (t *Tracker) state() string {
	if t.cycles == 0 {
		return StatePending
	}
	if t.consecutive >= max(int64(t.retryLimit), 1) {
		return StateFailing
	}
	if !t.lastSuccess.IsZero() && t.interval > 0 && t.now().Sub(t.lastSuccess) > 2*t.interval {
		return StateStale
	}
	if t.consecutive > 0 {
		return StateDegraded
	}
	return StateOK
}
