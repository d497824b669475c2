package api_test

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/feedrelay/feedrelay/internal/api"
	"github.com/feedrelay/feedrelay/internal/config"
	"github.com/feedrelay/feedrelay/internal/node"
	"github.com/feedrelay/feedrelay/pkg/wire"
)

// --- test helpers -----------------------------------------------------------

func testLogger() *slog.Logger {
	return slog.New(slog.DiscardHandler)
}

// testFeed uses a plain-HTTP URL so status requests never probe TLS.
func testFeed(name string) config.Feed {
	return config.Feed{
		Name:            name,
		SourceName:      name + ".src",
		URL:             "http://feeds.example.test/" + name + ".txt",
		IntervalSecs:    3600,
		PollTimeoutSecs: 5,
		NumRetries:      2,
	}
}

// newNode builds an unstarted node backed by a temp store. Tests seed
// the store directly instead of polling.
func newNode(t *testing.T, name string) *node.Node {
	t.Helper()
	n, err := node.New(testFeed(name), t.TempDir(), nil, nil, testLogger())
	if err != nil {
		t.Fatalf("node.New: %v", err)
	}
	t.Cleanup(func() { n.Close() }) //nolint:errcheck
	return n
}

func newHandler(t *testing.T, nodes ...*node.Node) http.Handler {
	t.Helper()
	reg := node.NewRegistry()
	for _, n := range nodes {
		reg.Add(n)
	}
	return api.New(reg, nil, config.AuthConfig{}, testLogger())
}

func seed(t *testing.T, n *node.Node, key string, updated int64) {
	t.Helper()
	err := n.Store().Put(key, map[string]any{
		"type":             "IPv4",
		wire.AttrSources:   []string{n.Name() + ".src"},
		wire.AttrUpdated:   updated,
		wire.AttrFirstSeen: updated,
		wire.AttrLastSeen:  updated,
	})
	if err != nil {
		t.Fatalf("seed %s: %v", key, err)
	}
}

func get(t *testing.T, h http.Handler, path string) *httptest.ResponseRecorder {
	t.Helper()
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, path, nil))
	return rr
}

func decode(t *testing.T, rr *httptest.ResponseRecorder, v any) {
	t.Helper()
	if err := json.NewDecoder(rr.Body).Decode(v); err != nil {
		t.Fatalf("decode JSON: %v (body: %s)", err, rr.Body.String())
	}
}

// --- /api/v1/status ---------------------------------------------------------

func TestStatus_Aggregates(t *testing.T) {
	a := newNode(t, "drop")
	b := newNode(t, "edrop")
	seed(t, a, "198.51.100.7", 100)
	h := newHandler(t, a, b)

	rr := get(t, h, "/api/v1/status")
	if rr.Code != http.StatusOK {
		t.Fatalf("status: got %d, want 200", rr.Code)
	}
	var resp map[string]any
	decode(t, rr, &resp)

	if resp["feeds"].(float64) != 2 {
		t.Errorf("feeds: got %v, want 2", resp["feeds"])
	}
	if resp["running"].(float64) != 0 {
		t.Errorf("running: got %v, want 0", resp["running"])
	}
	states := resp["states"].(map[string]any)
	if states["pending"].(float64) != 2 {
		t.Errorf("states.pending: got %v, want 2", states["pending"])
	}
	if resp["active_alerts"].(float64) != 0 {
		t.Errorf("active_alerts: got %v, want 0", resp["active_alerts"])
	}
	if up, ok := resp["uptime_seconds"].(float64); !ok || up < 0 {
		t.Errorf("uptime_seconds: got %v, want non-negative number", resp["uptime_seconds"])
	}
}

func TestStatus_MethodNotAllowed(t *testing.T) {
	h := newHandler(t, newNode(t, "drop"))
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, httptest.NewRequest(http.MethodPost, "/api/v1/status", nil))
	if rr.Code != http.StatusMethodNotAllowed {
		t.Errorf("status: got %d, want 405", rr.Code)
	}
}

// --- /api/v1/feeds ----------------------------------------------------------

func TestListFeeds(t *testing.T) {
	a := newNode(t, "drop")
	b := newNode(t, "edrop")
	h := newHandler(t, a, b)

	rr := get(t, h, "/api/v1/feeds")
	if rr.Code != http.StatusOK {
		t.Fatalf("status: got %d, want 200", rr.Code)
	}
	var resp []map[string]any
	decode(t, rr, &resp)
	if len(resp) != 2 {
		t.Fatalf("feeds: got %d, want 2", len(resp))
	}
	if resp[0]["name"] != "drop" {
		t.Errorf("name: got %v, want drop", resp[0]["name"])
	}
	stats := resp[0]["stats"].(map[string]any)
	if stats["state"] != "pending" {
		t.Errorf("state: got %v, want pending", stats["state"])
	}
	hints := resp[0]["diagnostics"].([]any)
	if len(hints) == 0 {
		t.Fatal("diagnostics: empty, want warming_up hint")
	}
	if hints[0].(map[string]any)["key"] != "warming_up" {
		t.Errorf("diagnostics[0].key: got %v, want warming_up", hints[0].(map[string]any)["key"])
	}
}

func TestGetFeed_Found(t *testing.T) {
	h := newHandler(t, newNode(t, "drop"))

	rr := get(t, h, "/api/v1/feeds/drop")
	if rr.Code != http.StatusOK {
		t.Fatalf("status: got %d, want 200 (body: %s)", rr.Code, rr.Body.String())
	}
	var resp map[string]any
	decode(t, rr, &resp)
	if resp["name"] != "drop" {
		t.Errorf("name: got %v", resp["name"])
	}
	if resp["source"] != "drop.src" {
		t.Errorf("source: got %v", resp["source"])
	}
	if resp["interval_seconds"].(float64) != 3600 {
		t.Errorf("interval_seconds: got %v, want 3600", resp["interval_seconds"])
	}
	if resp["running"] != false {
		t.Errorf("running: got %v, want false", resp["running"])
	}
}

func TestGetFeed_NotFound(t *testing.T) {
	h := newHandler(t, newNode(t, "drop"))
	rr := get(t, h, "/api/v1/feeds/does-not-exist")
	if rr.Code != http.StatusNotFound {
		t.Errorf("status: got %d, want 404", rr.Code)
	}
	var resp map[string]any
	decode(t, rr, &resp)
	if resp["error"] != "feed not found" {
		t.Errorf("error: got %v", resp["error"])
	}
}

// --- /api/v1/feeds/{feed}/length --------------------------------------------

func TestFeedLength(t *testing.T) {
	n := newNode(t, "drop")
	seed(t, n, "198.51.100.7", 100)
	seed(t, n, "203.0.113.9", 200)
	seed(t, n, "192.0.2.1", 300)
	h := newHandler(t, n)

	rr := get(t, h, "/api/v1/feeds/drop/length")
	if rr.Code != http.StatusOK {
		t.Fatalf("status: got %d, want 200", rr.Code)
	}
	var resp map[string]any
	decode(t, rr, &resp)
	if resp["feed"] != "drop" {
		t.Errorf("feed: got %v", resp["feed"])
	}
	if resp["length"].(float64) != 3 {
		t.Errorf("length: got %v, want 3", resp["length"])
	}
}

func TestFeedLength_NotFound(t *testing.T) {
	h := newHandler(t, newNode(t, "drop"))
	rr := get(t, h, "/api/v1/feeds/nope/length")
	if rr.Code != http.StatusNotFound {
		t.Errorf("status: got %d, want 404", rr.Code)
	}
}

// --- /api/v1/feeds/{feed}/indicators ----------------------------------------

func TestIndicators_StampOrder(t *testing.T) {
	n := newNode(t, "drop")
	seed(t, n, "c", 300)
	seed(t, n, "a", 100)
	seed(t, n, "b", 200)
	h := newHandler(t, n)

	rr := get(t, h, "/api/v1/feeds/drop/indicators")
	if rr.Code != http.StatusOK {
		t.Fatalf("status: got %d, want 200 (body: %s)", rr.Code, rr.Body.String())
	}
	var resp map[string]any
	decode(t, rr, &resp)
	if resp["index"] != "_updated" {
		t.Errorf("index: got %v, want _updated", resp["index"])
	}
	if resp["count"].(float64) != 3 {
		t.Errorf("count: got %v, want 3", resp["count"])
	}
	if resp["truncated"] != false {
		t.Errorf("truncated: got %v, want false", resp["truncated"])
	}
	items := resp["indicators"].([]any)
	var keys []string
	for _, it := range items {
		keys = append(keys, it.(map[string]any)["indicator"].(string))
	}
	want := []string{"a", "b", "c"}
	for i, k := range want {
		if keys[i] != k {
			t.Errorf("indicators[%d]: got %q, want %q", i, keys[i], k)
		}
	}
}

func TestIndicators_LimitTruncates(t *testing.T) {
	n := newNode(t, "drop")
	for i := range 5 {
		seed(t, n, string(rune('a'+i)), int64(100*(i+1)))
	}
	h := newHandler(t, n)

	rr := get(t, h, "/api/v1/feeds/drop/indicators?limit=2")
	var resp map[string]any
	decode(t, rr, &resp)
	if resp["count"].(float64) != 2 {
		t.Errorf("count: got %v, want 2", resp["count"])
	}
	if resp["truncated"] != true {
		t.Errorf("truncated: got %v, want true", resp["truncated"])
	}
	items := resp["indicators"].([]any)
	if items[0].(map[string]any)["indicator"] != "a" {
		t.Errorf("indicators[0]: got %v, want a", items[0].(map[string]any)["indicator"])
	}
}

func TestIndicators_HalfOpenRange(t *testing.T) {
	n := newNode(t, "drop")
	seed(t, n, "a", 100)
	seed(t, n, "b", 200)
	seed(t, n, "c", 300)
	h := newHandler(t, n)

	// from is inclusive, to is exclusive: only b qualifies.
	rr := get(t, h, "/api/v1/feeds/drop/indicators?from=200&to=300")
	var resp map[string]any
	decode(t, rr, &resp)
	if resp["count"].(float64) != 1 {
		t.Fatalf("count: got %v, want 1 (body: %s)", resp["count"], rr.Body.String())
	}
	items := resp["indicators"].([]any)
	if items[0].(map[string]any)["indicator"] != "b" {
		t.Errorf("indicators[0]: got %v, want b", items[0].(map[string]any)["indicator"])
	}
}

func TestIndicators_UnknownIndex(t *testing.T) {
	n := newNode(t, "drop")
	seed(t, n, "a", 100)
	h := newHandler(t, n)

	rr := get(t, h, "/api/v1/feeds/drop/indicators?index=first_seen")
	if rr.Code != http.StatusBadRequest {
		t.Fatalf("status: got %d, want 400", rr.Code)
	}
	var resp map[string]any
	decode(t, rr, &resp)
	if !strings.Contains(resp["error"].(string), "unknown index") {
		t.Errorf("error: got %v, want unknown index message", resp["error"])
	}
}

func TestIndicators_BadParams(t *testing.T) {
	h := newHandler(t, newNode(t, "drop"))
	for _, path := range []string{
		"/api/v1/feeds/drop/indicators?limit=zero",
		"/api/v1/feeds/drop/indicators?limit=-1",
		"/api/v1/feeds/drop/indicators?from=yesterday",
		"/api/v1/feeds/drop/indicators?to=later",
	} {
		rr := get(t, h, path)
		if rr.Code != http.StatusBadRequest {
			t.Errorf("%s: got %d, want 400", path, rr.Code)
		}
	}
}

// --- /api/v1/feeds/{feed}/indicators/{key} ----------------------------------

func TestIndicator_Found(t *testing.T) {
	n := newNode(t, "drop")
	seed(t, n, "198.51.100.7", 100)
	h := newHandler(t, n)

	rr := get(t, h, "/api/v1/feeds/drop/indicators/198.51.100.7")
	if rr.Code != http.StatusOK {
		t.Fatalf("status: got %d, want 200 (body: %s)", rr.Code, rr.Body.String())
	}
	var resp map[string]any
	decode(t, rr, &resp)
	if resp["indicator"] != "198.51.100.7" {
		t.Errorf("indicator: got %v", resp["indicator"])
	}
	value := resp["value"].(map[string]any)
	if value["type"] != "IPv4" {
		t.Errorf("value.type: got %v, want IPv4", value["type"])
	}
	if value["_updated"].(float64) != 100 {
		t.Errorf("value._updated: got %v, want 100", value["_updated"])
	}
}

func TestIndicator_CIDRKeyWithSlash(t *testing.T) {
	n := newNode(t, "drop")
	seed(t, n, "203.0.113.0/24", 100)
	h := newHandler(t, n)

	rr := get(t, h, "/api/v1/feeds/drop/indicators/203.0.113.0/24")
	if rr.Code != http.StatusOK {
		t.Fatalf("status: got %d, want 200 (body: %s)", rr.Code, rr.Body.String())
	}
	var resp map[string]any
	decode(t, rr, &resp)
	if resp["indicator"] != "203.0.113.0/24" {
		t.Errorf("indicator: got %v, want 203.0.113.0/24", resp["indicator"])
	}
}

func TestIndicator_NotFound(t *testing.T) {
	n := newNode(t, "drop")
	seed(t, n, "a", 100)
	h := newHandler(t, n)

	rr := get(t, h, "/api/v1/feeds/drop/indicators/198.51.100.99")
	if rr.Code != http.StatusNotFound {
		t.Errorf("status: got %d, want 404", rr.Code)
	}
	var resp map[string]any
	decode(t, rr, &resp)
	if resp["error"] != "indicator not found" {
		t.Errorf("error: got %v", resp["error"])
	}
}

// --- /api/v1/alerts ---------------------------------------------------------

func TestAlerts_ReturnsEmptyArray(t *testing.T) {
	h := newHandler(t, newNode(t, "drop"))
	rr := get(t, h, "/api/v1/alerts")

	if rr.Code != http.StatusOK {
		t.Fatalf("status: got %d, want 200", rr.Code)
	}
	var resp []any
	decode(t, rr, &resp)
	if resp == nil {
		t.Error("alerts: got null, want []")
	}
	if len(resp) != 0 {
		t.Errorf("alerts: got %d items, want 0", len(resp))
	}
}

// --- /metrics ---------------------------------------------------------------

func TestMetrics_Exposition(t *testing.T) {
	n := newNode(t, "drop")
	seed(t, n, "a", 100)
	h := newHandler(t, n)

	rr := get(t, h, "/metrics")
	if rr.Code != http.StatusOK {
		t.Fatalf("status: got %d, want 200", rr.Code)
	}
	if ct := rr.Header().Get("Content-Type"); !strings.Contains(ct, "text/plain") {
		t.Errorf("Content-Type: got %q, want text/plain exposition", ct)
	}
	body := rr.Body.String()
	for _, want := range []string{
		"# TYPE feedrelay_indicators gauge",
		"# TYPE feedrelay_poll_cycles_total counter",
		`feedrelay_poll_cycles_total{feed="drop"} 0`,
		`feedrelay_peers_connected{feed="drop"} 0`,
	} {
		if !strings.Contains(body, want) {
			t.Errorf("exposition missing %q\nbody:\n%s", want, body)
		}
	}
}

// --- authentication ---------------------------------------------------------

func TestAPIKey_Enforced(t *testing.T) {
	t.Setenv("RELAY_TEST_API_KEY", "sekrit")
	reg := node.NewRegistry()
	reg.Add(newNode(t, "drop"))
	auth := config.AuthConfig{Mode: "apikey", KeyEnv: "RELAY_TEST_API_KEY"}
	h := api.New(reg, nil, auth, testLogger())

	rr := get(t, h, "/api/v1/status")
	if rr.Code != http.StatusUnauthorized {
		t.Fatalf("no key: got %d, want 401", rr.Code)
	}

	req := httptest.NewRequest(http.MethodGet, "/api/v1/status", nil)
	req.Header.Set("x-api-key", "sekrit")
	rr = httptest.NewRecorder()
	h.ServeHTTP(rr, req)
	if rr.Code != http.StatusOK {
		t.Errorf("with key: got %d, want 200", rr.Code)
	}

	req = httptest.NewRequest(http.MethodGet, "/api/v1/status", nil)
	req.Header.Set("x-api-key", "wrong")
	rr = httptest.NewRecorder()
	h.ServeHTTP(rr, req)
	if rr.Code != http.StatusUnauthorized {
		t.Errorf("wrong key: got %d, want 401", rr.Code)
	}
}

func TestAPIKey_DisabledModePassesThrough(t *testing.T) {
	t.Setenv("RELAY_TEST_API_KEY", "sekrit")
	reg := node.NewRegistry()
	reg.Add(newNode(t, "drop"))
	auth := config.AuthConfig{Mode: "none", KeyEnv: "RELAY_TEST_API_KEY"}
	h := api.New(reg, nil, auth, testLogger())

	rr := get(t, h, "/api/v1/status")
	if rr.Code != http.StatusOK {
		t.Errorf("status: got %d, want 200", rr.Code)
	}
}

// --- /ws/feeds/{feed} -------------------------------------------------------

func TestWS_UnknownFeed(t *testing.T) {
	h := newHandler(t, newNode(t, "drop"))
	rr := get(t, h, "/ws/feeds/nope")
	if rr.Code != http.StatusNotFound {
		t.Errorf("status: got %d, want 404", rr.Code)
	}
}

func TestWS_RequiresUpgrade(t *testing.T) {
	h := newHandler(t, newNode(t, "drop"))
	rr := get(t, h, "/ws/feeds/drop")
	if rr.Code != http.StatusBadRequest {
		t.Errorf("status: got %d, want 400 for non-upgrade request", rr.Code)
	}
}

// --- Content-Type -----------------------------------------------------------

func TestContentTypeJSON(t *testing.T) {
	n := newNode(t, "drop")
	h := newHandler(t, n)
	for _, path := range []string{
		"/api/v1/status",
		"/api/v1/feeds",
		"/api/v1/feeds/drop",
		"/api/v1/feeds/drop/length",
		"/api/v1/feeds/drop/indicators",
		"/api/v1/alerts",
	} {
		rr := get(t, h, path)
		ct := rr.Header().Get("Content-Type")
		if ct != "application/json" {
			t.Errorf("%s Content-Type: got %q, want application/json", path, ct)
		}
	}
}
