// Package api implements the HTTP management API for a feed node.
//
// New(registry, watcher, auth, log) returns an http.Handler that serves:
//
//	GET /api/v1/status                        — totals across all feeds
//	GET /api/v1/feeds                         — all feeds ([]FeedResponse)
//	GET /api/v1/feeds/{feed}                  — single feed; 404 if unknown
//	GET /api/v1/feeds/{feed}/length           — stored indicator count
//	GET /api/v1/feeds/{feed}/indicators       — page of records in stamp order
//	GET /api/v1/feeds/{feed}/indicators/{key} — single record; key may contain "/"
//	GET /api/v1/alerts                        — firing and recently resolved alerts
//	GET /metrics                              — Prometheus text exposition
//	    /ws/feeds/{feed}                      — WebSocket event stream + RPC
//
// All REST endpoints respond with Content-Type: application/json and
// return 405 for non-GET methods. Every request passes through the
// access-log middleware and, when configured, API-key authentication.
//
// JSON types are defined in types.go, per-feed health hints in
// diagnostics.go.
package api
