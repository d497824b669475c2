package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/mux"

	"github.com/feedrelay/feedrelay/internal/config"
	"github.com/feedrelay/feedrelay/internal/node"
	"github.com/feedrelay/feedrelay/internal/store"
	"github.com/feedrelay/feedrelay/internal/watch"
	"github.com/feedrelay/feedrelay/pkg/wire"
)

const (
	defaultPageSize = 100
	maxPageSize     = 1000
)

// Handler is the HTTP handler for the management API, the metrics
// exposition, and the per-feed WebSocket endpoints.
type Handler struct {
	reg     *node.Registry
	watcher *watch.Engine
	log     *slog.Logger
	router  *mux.Router
	started time.Time
}

// New creates a Handler over the node registry and registers all routes.
// The watcher may be nil, in which case /api/v1/alerts serves an empty
// list.
func New(reg *node.Registry, watcher *watch.Engine, auth config.AuthConfig, log *slog.Logger) http.Handler {
	h := &Handler{reg: reg, watcher: watcher, log: log, router: mux.NewRouter(), started: time.Now()}

	h.router.Use(AccessLog(log))
	h.router.Use(APIKey(auth.Mode, auth.EffectiveHeader(), auth.Key()))

	h.router.Methods(http.MethodGet).Path("/api/v1/status").HandlerFunc(h.status)
	h.router.Methods(http.MethodGet).Path("/api/v1/feeds").HandlerFunc(h.listFeeds)
	h.router.Methods(http.MethodGet).Path("/api/v1/feeds/{feed}").HandlerFunc(h.getFeed)
	h.router.Methods(http.MethodGet).Path("/api/v1/feeds/{feed}/length").HandlerFunc(h.feedLength)
	h.router.Methods(http.MethodGet).Path("/api/v1/feeds/{feed}/indicators").HandlerFunc(h.feedIndicators)
	h.router.Methods(http.MethodGet).Path("/api/v1/feeds/{feed}/indicators/{key:.+}").HandlerFunc(h.feedIndicator)
	h.router.Methods(http.MethodGet).Path("/api/v1/alerts").HandlerFunc(h.alerts)
	h.router.Methods(http.MethodGet).Path("/metrics").HandlerFunc(h.metrics)
	h.router.Path("/ws/feeds/{feed}").HandlerFunc(h.serveWS)

	return h
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	h.router.ServeHTTP(w, r)
}

// --- route handlers ---------------------------------------------------------

// status returns GET /api/v1/status — totals across all feeds.
func (h *Handler) status(w http.ResponseWriter, r *http.Request) {
	nodes := h.reg.List()
	resp := StatusResponse{
		Feeds:         len(nodes),
		States:        make(map[string]int),
		UptimeSeconds: time.Since(h.started).Seconds(),
	}

	for _, n := range nodes {
		s := n.Stats()
		resp.Indicators += s.Indicators
		resp.Peers += n.Hub().Count()
		resp.States[s.State]++
		if n.Running() {
			resp.Running++
		}
	}
	if h.watcher != nil {
		resp.ActiveAlerts = len(h.watcher.Active())
	}
	jsonResp(w, http.StatusOK, resp)
}

// listFeeds returns GET /api/v1/feeds — every feed with diagnostics.
func (h *Handler) listFeeds(w http.ResponseWriter, r *http.Request) {
	nodes := h.reg.List()
	out := make([]FeedResponse, 0, len(nodes))
	for _, n := range nodes {
		s := n.Status(r.Context())
		out = append(out, FeedResponse{Status: s, Diagnostics: computeDiagnostics(s)})
	}
	jsonResp(w, http.StatusOK, out)
}

// getFeed returns GET /api/v1/feeds/{feed} — a single feed.
func (h *Handler) getFeed(w http.ResponseWriter, r *http.Request) {
	n, ok := h.reg.Get(mux.Vars(r)["feed"])
	if !ok {
		jsonErr(w, http.StatusNotFound, "feed not found")
		return
	}
	s := n.Status(r.Context())
	jsonResp(w, http.StatusOK, FeedResponse{Status: s, Diagnostics: computeDiagnostics(s)})
}

// feedLength returns GET /api/v1/feeds/{feed}/length — the stored
// indicator count.
func (h *Handler) feedLength(w http.ResponseWriter, r *http.Request) {
	n, ok := h.reg.Get(mux.Vars(r)["feed"])
	if !ok {
		jsonErr(w, http.StatusNotFound, "feed not found")
		return
	}
	count, err := n.Store().Count()
	if err != nil {
		jsonErr(w, http.StatusInternalServerError, err.Error())
		return
	}
	jsonResp(w, http.StatusOK, LengthResponse{Feed: n.Name(), Length: count})
}

// feedIndicators returns GET /api/v1/feeds/{feed}/indicators — a page
// of stored records in ascending stamp order, optionally bounded by
// ?from= and ?to= (half-open, milliseconds).
func (h *Handler) feedIndicators(w http.ResponseWriter, r *http.Request) {
	n, ok := h.reg.Get(mux.Vars(r)["feed"])
	if !ok {
		jsonErr(w, http.StatusNotFound, "feed not found")
		return
	}

	q := r.URL.Query()
	index := q.Get("index")
	if index == "" {
		index = wire.IndexUpdated
	}

	from, err := parseBound(q.Get("from"))
	if err != nil {
		jsonErr(w, http.StatusBadRequest, "invalid from")
		return
	}
	to, err := parseBound(q.Get("to"))
	if err != nil {
		jsonErr(w, http.StatusBadRequest, "invalid to")
		return
	}

	limit := defaultPageSize
	if raw := q.Get("limit"); raw != "" {
		v, err := strconv.Atoi(raw)
		if err != nil || v < 1 {
			jsonErr(w, http.StatusBadRequest, "invalid limit")
			return
		}
		limit = min(v, maxPageSize)
	}

	out := IndicatorsResponse{
		Feed:       n.Name(),
		Index:      index,
		Indicators: make([]IndicatorEntry, 0, min(limit, 64)),
	}
	for entry, err := range n.Store().Query(index, from, to, true) {
		if err != nil {
			if errors.Is(err, store.ErrUnknownIndex) {
				jsonErr(w, http.StatusBadRequest, fmt.Sprintf("unknown index %q", index))
			} else {
				jsonErr(w, http.StatusInternalServerError, err.Error())
			}
			return
		}
		if len(out.Indicators) >= limit {
			out.Truncated = true
			break
		}
		out.Indicators = append(out.Indicators, IndicatorEntry{Indicator: entry.Key, Value: entry.Value})
	}
	out.Count = len(out.Indicators)
	jsonResp(w, http.StatusOK, out)
}

// feedIndicator returns GET /api/v1/feeds/{feed}/indicators/{key} — a
// single stored record. The key pattern admits slashes so CIDR
// indicators resolve.
func (h *Handler) feedIndicator(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	n, ok := h.reg.Get(vars["feed"])
	if !ok {
		jsonErr(w, http.StatusNotFound, "feed not found")
		return
	}
	value, found, err := n.Store().Get(vars["key"])
	if err != nil {
		jsonErr(w, http.StatusInternalServerError, err.Error())
		return
	}
	if !found {
		jsonErr(w, http.StatusNotFound, "indicator not found")
		return
	}
	jsonResp(w, http.StatusOK, IndicatorEntry{Indicator: vars["key"], Value: value})
}

// alerts returns GET /api/v1/alerts — firing and recently resolved
// alerts.
func (h *Handler) alerts(w http.ResponseWriter, r *http.Request) {
	if h.watcher == nil {
		jsonResp(w, http.StatusOK, []*watch.Alert{})
		return
	}
	jsonResp(w, http.StatusOK, h.watcher.Active())
}

// serveWS hands /ws/feeds/{feed} over to that feed's hub.
func (h *Handler) serveWS(w http.ResponseWriter, r *http.Request) {
	n, ok := h.reg.Get(mux.Vars(r)["feed"])
	if !ok {
		jsonErr(w, http.StatusNotFound, "feed not found")
		return
	}
	n.Hub().ServeHTTP(w, r)
}

// --- helpers ----------------------------------------------------------------

func jsonResp(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(v) //nolint:errcheck
}

func jsonErr(w http.ResponseWriter, code int, msg string) {
	jsonResp(w, code, errorResponse{Error: msg})
}

// parseBound parses an optional millisecond bound query parameter.
func parseBound(raw string) (*int64, error) {
	if raw == "" {
		return nil, nil
	}
	v, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return nil, err
	}
	return &v, nil
}
