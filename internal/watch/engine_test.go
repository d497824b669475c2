package watch

import (
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/feedrelay/feedrelay/internal/config"
)

var t0 = time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)

func testLogger() *slog.Logger {
	return slog.New(slog.DiscardHandler)
}

func newTestEngine(rules []config.WatchRule, hooks []config.WebhookConfig) (*Engine, *time.Time) {
	e := New(config.WatchesConfig{Rules: rules, Webhooks: hooks}, testLogger())
	clock := t0
	e.now = func() time.Time { return clock }
	return e, &clock
}

func failingRule() config.WatchRule {
	return config.WatchRule{
		Name:      "feed-failing",
		Condition: "consecutive_failures >= 3",
		Severity:  "critical",
	}
}

func TestEngine_FireAndResolve(t *testing.T) {
	e, _ := newTestEngine([]config.WatchRule{failingRule()}, nil)

	e.Evaluate(Sample{Feed: "drop", ConsecutiveFailures: 3})

	active := e.Active()
	if len(active) != 1 {
		t.Fatalf("active: got %d, want 1", len(active))
	}
	a := active[0]
	if a.State != "firing" || a.Feed != "drop" || a.Severity != "critical" {
		t.Errorf("alert: %+v", a)
	}
	if a.Value != 3 {
		t.Errorf("value: got %v, want 3", a.Value)
	}
	if !strings.Contains(a.Message, "feed-failing") {
		t.Errorf("message: %q", a.Message)
	}

	e.Evaluate(Sample{Feed: "drop", ConsecutiveFailures: 0})

	active = e.Active()
	if len(active) != 1 {
		t.Fatalf("active after resolve: got %d, want 1", len(active))
	}
	if active[0].State != "resolved" || active[0].ResolvedAt == nil {
		t.Errorf("alert not resolved: %+v", active[0])
	}
}

func TestEngine_CooldownSuppressesRefires(t *testing.T) {
	e, clock := newTestEngine([]config.WatchRule{failingRule()}, nil)

	e.Evaluate(Sample{Feed: "drop", ConsecutiveFailures: 3})
	firstID := e.Active()[0].ID

	// Still inside the default 15m cooldown.
	*clock = t0.Add(time.Minute)
	e.Evaluate(Sample{Feed: "drop", ConsecutiveFailures: 4})
	if got := e.Active(); len(got) != 1 || got[0].ID != firstID {
		t.Fatalf("alert replaced inside cooldown: %+v", got)
	}

	*clock = t0.Add(16 * time.Minute)
	e.Evaluate(Sample{Feed: "drop", ConsecutiveFailures: 5})
	got := e.Active()
	if len(got) != 1 || got[0].ID == firstID {
		t.Fatalf("alert not refired after cooldown: %+v", got)
	}
}

func TestEngine_RulesArePerFeed(t *testing.T) {
	e, _ := newTestEngine([]config.WatchRule{failingRule()}, nil)

	e.Evaluate(Sample{Feed: "drop", ConsecutiveFailures: 3})
	e.Evaluate(Sample{Feed: "edrop", ConsecutiveFailures: 3})

	if got := e.Active(); len(got) != 2 {
		t.Fatalf("active: got %d, want 2", len(got))
	}
}

func TestEngine_ResolvedAlertsAgeOut(t *testing.T) {
	e, clock := newTestEngine([]config.WatchRule{failingRule()}, nil)

	e.Evaluate(Sample{Feed: "drop", ConsecutiveFailures: 3})
	e.Evaluate(Sample{Feed: "drop", ConsecutiveFailures: 0})

	*clock = t0.Add(2 * time.Hour)
	if got := e.Active(); len(got) != 0 {
		t.Errorf("active after two hours: got %d, want 0", len(got))
	}
}

func TestEngine_NoRulesIsNoOp(t *testing.T) {
	e, _ := newTestEngine(nil, nil)
	e.Evaluate(Sample{Feed: "drop", ConsecutiveFailures: 100})
	if got := e.Active(); len(got) != 0 {
		t.Errorf("active: got %d, want 0", len(got))
	}
}

func TestEngine_WebhookDelivery(t *testing.T) {
	var mu sync.Mutex
	var bodies []string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		mu.Lock()
		bodies = append(bodies, string(body))
		mu.Unlock()
	}))
	defer srv.Close()

	t.Setenv("WATCH_TEST_WEBHOOK", srv.URL)
	hooks := []config.WebhookConfig{{Type: "http", URLEnv: "WATCH_TEST_WEBHOOK"}}
	e, _ := newTestEngine([]config.WatchRule{failingRule()}, hooks)

	e.Evaluate(Sample{Feed: "drop", ConsecutiveFailures: 3})

	deadline := time.Now().Add(3 * time.Second)
	for {
		mu.Lock()
		n := len(bodies)
		mu.Unlock()
		if n >= 1 {
			break
		}
		if time.Now().After(deadline) {
			t.Fatal("webhook never delivered")
		}
		time.Sleep(5 * time.Millisecond)
	}

	mu.Lock()
	defer mu.Unlock()
	if !strings.Contains(bodies[0], `"alert"`) || !strings.Contains(bodies[0], "feed-failing") {
		t.Errorf("payload: %s", bodies[0])
	}
}

func TestEngine_SlackPayloadShape(t *testing.T) {
	var mu sync.Mutex
	var bodies []string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		mu.Lock()
		bodies = append(bodies, string(body))
		mu.Unlock()
	}))
	defer srv.Close()

	t.Setenv("WATCH_TEST_SLACK", srv.URL)
	hooks := []config.WebhookConfig{{Type: "slack", URLEnv: "WATCH_TEST_SLACK"}}
	e, _ := newTestEngine([]config.WatchRule{failingRule()}, hooks)

	e.Evaluate(Sample{Feed: "drop", ConsecutiveFailures: 3})

	deadline := time.Now().Add(3 * time.Second)
	for {
		mu.Lock()
		n := len(bodies)
		mu.Unlock()
		if n >= 1 {
			break
		}
		if time.Now().After(deadline) {
			t.Fatal("webhook never delivered")
		}
		time.Sleep(5 * time.Millisecond)
	}

	mu.Lock()
	defer mu.Unlock()
	if !strings.Contains(bodies[0], `"text"`) || !strings.Contains(bodies[0], "[CRITICAL]") {
		t.Errorf("payload: %s", bodies[0])
	}
}
