package api

import (
	"fmt"

	"github.com/feedrelay/feedrelay/internal/node"
	"github.com/feedrelay/feedrelay/internal/stats"
)

// DiagnosticHint is one human-readable insight about a feed's health.
// Key is stable and machine-readable; Detail is written like an operator
// explaining the problem in plain English.
type DiagnosticHint struct {
	// Key is a stable machine-readable identifier (used for dedup/ordering).
	Key string `json:"key"`
	// Level is "ok" | "info" | "warning" | "critical"
	Level string `json:"level"`
	// Title is a short label (≤ 5 words).
	Title string `json:"title"`
	// Detail is the full explanation.
	Detail string `json:"detail"`
	// Value is an optional numeric value associated with this hint.
	Value *float64 `json:"value,omitempty"`
}

// computeDiagnostics derives diagnostic hints from a feed snapshot.
// Diagnostics are ordered: critical first, then warnings, then info.
func computeDiagnostics(s node.Status) []DiagnosticHint {
	var hints []DiagnosticHint

	// ── Fetch failing ────────────────────────────────────────────────────────
	if s.Stats.State == stats.StateFailing {
		v := float64(s.Stats.ConsecutiveFailures)
		detail := fmt.Sprintf(
			"The last %d fetch attempts against %s all failed; the retry budget "+
				"for the current cycle is exhausted and the poller is waiting for the "+
				"next interval. The most recent error was: \"%s\". "+
				"Check that the URL is reachable and that the upstream is serving. "+
				"Indicators already in the local store keep being served, and nothing "+
				"is withdrawn while fetches fail, so downstream consumers see the last "+
				"good snapshot rather than an empty feed.",
			s.Stats.ConsecutiveFailures, s.URL, s.Stats.LastError,
		)
		hints = append(hints, DiagnosticHint{
			Key:    "fetch_failing",
			Level:  "critical",
			Title:  "Can't fetch feed",
			Detail: detail,
			Value:  &v,
		})
		hints = append(hints, certHints(s)...)
		return hints // further health hints would just restate the outage
	}

	// ── Warming up (no completed cycle yet) ──────────────────────────────────
	if s.Stats.State == stats.StatePending {
		hints = append(hints, DiagnosticHint{
			Key:   "warming_up",
			Level: "info",
			Title: "Warming up",
			Detail: fmt.Sprintf(
				"This feed has not completed a poll cycle yet. The first fetch starts "+
					"shortly after the node comes up (a small random delay spreads feeds "+
					"out), and after that the feed refreshes every %d seconds. "+
					"No action needed.",
				s.IntervalSeconds,
			),
		})
		return hints
	}

	// ── Retry burst in progress ──────────────────────────────────────────────
	if s.Stats.State == stats.StateDegraded {
		v := float64(s.Stats.ConsecutiveFailures)
		hints = append(hints, DiagnosticHint{
			Key:   "fetch_retrying",
			Level: "warning",
			Title: "Fetch errors, retrying",
			Detail: fmt.Sprintf(
				"The last fetch attempt failed (\"%s\") and the poller is retrying "+
					"with a short randomized delay. This is often a transient upstream "+
					"blip and clears on its own. If the retry budget runs out the feed "+
					"flips to failing, so watch whether the failure count keeps climbing.",
				s.Stats.LastError,
			),
			Value: &v,
		})
	}

	// ── Stale data ───────────────────────────────────────────────────────────
	if s.Stats.State == stats.StateStale {
		detail := fmt.Sprintf(
			"The last successful fetch is older than two polling intervals "+
				"(the feed refreshes every %d seconds). Indicators are still served "+
				"from the store but they no longer reflect the upstream list. "+
				"Recent cycles have been failing intermittently; check the fetch "+
				"error below and the upstream's availability.",
			s.IntervalSeconds,
		)
		if s.Stats.LastError != "" {
			detail += fmt.Sprintf(" Last error: \"%s\".", s.Stats.LastError)
		}
		hints = append(hints, DiagnosticHint{
			Key:    "stale_data",
			Level:  "warning",
			Title:  "Data going stale",
			Detail: detail,
		})
	}

	// ── Empty feed after a successful cycle ──────────────────────────────────
	if s.Stats.State == stats.StateOK && s.Stats.Cycles > 0 && s.Stats.Indicators == 0 {
		hints = append(hints, DiagnosticHint{
			Key:   "empty_feed",
			Level: "warning",
			Title: "Feed is empty",
			Detail: "Fetches are succeeding but every line is being skipped, so the " +
				"store holds zero indicators. Usually this means the parser " +
				"configuration doesn't match the feed format: check the comment " +
				"character (cchar), the split character and the field position " +
				"against a sample of the raw feed body. A feed that is genuinely " +
				"empty upstream would also look like this.",
		})
	}

	// ── Cycle overrunning the interval ───────────────────────────────────────
	if s.IntervalSeconds > 0 && s.Stats.LastCycleSeconds > float64(s.IntervalSeconds) {
		v := s.Stats.LastCycleSeconds
		hints = append(hints, DiagnosticHint{
			Key:   "slow_cycle",
			Level: "warning",
			Title: "Cycle slower than interval",
			Detail: fmt.Sprintf(
				"The last poll cycle took %.1f seconds but the polling interval is "+
					"only %d seconds, so cycles are starting late. The poller skips "+
					"the missed slots rather than piling them up, but the feed is "+
					"effectively refreshing slower than configured. Either raise the "+
					"interval or look into why the fetch and reconcile are slow "+
					"(large feed body, slow upstream, slow disk).",
				s.Stats.LastCycleSeconds, s.IntervalSeconds,
			),
			Value: &v,
		})
	}

	// ── TLS certificate ──────────────────────────────────────────────────────
	hints = append(hints, certHints(s)...)

	// ── All clear ────────────────────────────────────────────────────────────
	if len(hints) == 0 && s.Stats.State == stats.StateOK {
		v := float64(s.Stats.Indicators)
		hints = append(hints, DiagnosticHint{
			Key:   "healthy",
			Level: "ok",
			Title: "All clear",
			Detail: fmt.Sprintf(
				"This feed is polling normally and currently serves %d indicators. "+
					"Fetches succeed, cycles finish inside the interval, and peers "+
					"receive updates as they happen. A sudden drop in the indicator "+
					"count can signal an upstream format change even while fetches "+
					"keep succeeding, so keep an eye on the trend.",
				s.Stats.Indicators,
			),
			Value: &v,
		})
	}

	return hints
}

// certHints returns hints about the feed endpoint's TLS certificate, if
// one was probed.
func certHints(s node.Status) []DiagnosticHint {
	if s.Cert == nil {
		return nil
	}
	var hints []DiagnosticHint

	switch s.Cert.Status {
	case "expired":
		hints = append(hints, DiagnosticHint{
			Key:   "cert_expired",
			Level: "critical",
			Title: "Certificate expired",
			Detail: fmt.Sprintf(
				"The TLS certificate on %s expired on %s. Fetches verify "+
					"certificates as usual, so they will fail until the upstream "+
					"renews it. There is nothing to fix on this node; contact the "+
					"feed operator or switch to a mirror.",
				s.Cert.Endpoint, s.Cert.NotAfter,
			),
		})
	case "expiring":
		v := float64(s.Cert.DaysLeft)
		hints = append(hints, DiagnosticHint{
			Key:   "cert_expiring",
			Level: "warning",
			Title: fmt.Sprintf("Certificate expires in %dd", s.Cert.DaysLeft),
			Detail: fmt.Sprintf(
				"The TLS certificate on %s expires on %s (%d days from now). "+
					"If the upstream doesn't renew it in time, fetches will start "+
					"failing with certificate errors. Worth flagging to the feed "+
					"operator before it becomes an outage.",
				s.Cert.Endpoint, s.Cert.NotAfter, s.Cert.DaysLeft,
			),
			Value: &v,
		})
	case "unreachable":
		hints = append(hints, DiagnosticHint{
			Key:   "cert_unreachable",
			Level: "info",
			Title: "Cert probe failed",
			Detail: fmt.Sprintf(
				"The background TLS probe could not connect to %s to inspect its "+
					"certificate. The probe is independent of feed fetches, so this "+
					"alone doesn't mean polling is broken, but if fetches are also "+
					"failing the host is likely down.",
				s.Cert.Endpoint,
			),
		})
	}

	return hints
}
