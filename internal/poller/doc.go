// Package poller schedules reconciliation cycles for a feed: startup
// replay, a small start jitter, fixed-interval polling with a bounded
// retry burst on failure, and prompt cancellation on stop.
package poller
