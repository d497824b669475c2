package api

import "github.com/feedrelay/feedrelay/internal/node"

// StatusResponse is the payload for GET /api/v1/status.
type StatusResponse struct {
	Feeds         int            `json:"feeds"`
	Running       int            `json:"running"`
	Indicators    int64          `json:"indicators"`
	Peers         int            `json:"peers"`
	ActiveAlerts  int            `json:"active_alerts"`
	States        map[string]int `json:"states"`
	UptimeSeconds float64        `json:"uptime_seconds"`
}

// FeedResponse is one feed entry in GET /api/v1/feeds or
// GET /api/v1/feeds/{feed}.
type FeedResponse struct {
	node.Status
	Diagnostics []DiagnosticHint `json:"diagnostics"`
}

// LengthResponse is the payload for GET /api/v1/feeds/{feed}/length.
type LengthResponse struct {
	Feed   string `json:"feed"`
	Length int64  `json:"length"`
}

// IndicatorEntry is one indicator with its stored attributes.
type IndicatorEntry struct {
	Indicator string         `json:"indicator"`
	Value     map[string]any `json:"value"`
}

// IndicatorsResponse is the payload for GET /api/v1/feeds/{feed}/indicators.
type IndicatorsResponse struct {
	Feed       string           `json:"feed"`
	Index      string           `json:"index"`
	Count      int              `json:"count"`
	Truncated  bool             `json:"truncated"`
	Indicators []IndicatorEntry `json:"indicators"`
}

// errorResponse is a generic JSON error body.
type errorResponse struct {
	Error string `json:"error"`
}
