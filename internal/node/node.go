package node

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"
	"sync"
	"time"

	"github.com/feedrelay/feedrelay/internal/config"
	"github.com/feedrelay/feedrelay/internal/engine"
	"github.com/feedrelay/feedrelay/internal/hub"
	"github.com/feedrelay/feedrelay/internal/poller"
	"github.com/feedrelay/feedrelay/internal/stats"
	"github.com/feedrelay/feedrelay/internal/store"
	"github.com/feedrelay/feedrelay/internal/watch"
	"github.com/feedrelay/feedrelay/pkg/wire"
)

// Node owns everything one feed needs: its store, its WebSocket hub,
// its reconciliation engine, and the poller that drives them.
type Node struct {
	cfg     config.Feed
	log     *slog.Logger
	store   *store.Store
	hub     *hub.Hub
	poller  *poller.Poller
	tracker *stats.Tracker
	watcher *watch.Engine
	certs   *watch.Prober

	mu        sync.Mutex
	hubCancel context.CancelFunc
}

// Status is the external view of one node, served by the HTTP API.
type Status struct {
	Name            string            `json:"name"`
	Source          string            `json:"source"`
	URL             string            `json:"url"`
	IntervalSeconds int               `json:"interval_seconds"`
	Running         bool              `json:"running"`
	Peers           int               `json:"peers"`
	Stats           stats.Status      `json:"stats"`
	Cert            *watch.CertStatus `json:"cert,omitempty"`
}

// New opens the feed's store under stateDir and assembles the node.
// The watcher and certs prober may be shared across nodes; either may
// be nil.
func New(cfg config.Feed, stateDir string, watcher *watch.Engine, certs *watch.Prober, log *slog.Logger) (*Node, error) {
	st, err := store.Open(filepath.Join(stateDir, cfg.Name+".db"), log)
	if err != nil {
		return nil, fmt.Errorf("open store for feed %s: %w", cfg.Name, err)
	}
	if err := st.CreateIndex(wire.IndexUpdated); err != nil {
		st.Close() //nolint:errcheck
		return nil, fmt.Errorf("create index for feed %s: %w", cfg.Name, err)
	}

	n := &Node{
		cfg:     cfg,
		log:     log,
		store:   st,
		tracker: stats.NewTracker(cfg.Interval(), cfg.NumRetries),
		watcher: watcher,
		certs:   certs,
	}
	n.hub = hub.New(cfg.Name, st, log)
	rec := engine.New(cfg, st, n.hub, log)
	n.poller = poller.New(cfg, rec, log)
	n.poller.AfterCycle = n.onCycle
	n.poller.AfterReplay = n.tracker.RecordReplay
	return n, nil
}

// Start brings the hub up and begins polling. Starting a running node
// is a no-op.
func (n *Node) Start() {
	n.mu.Lock()
	if n.hubCancel == nil {
		ctx, cancel := context.WithCancel(context.Background())
		n.hubCancel = cancel
		go n.hub.Run(ctx)
	}
	n.mu.Unlock()

	n.poller.Start()
}

// Stop halts polling, cancelling any in-flight fetch, and disconnects
// all peers. The store stays open; Start brings the node back.
func (n *Node) Stop() {
	n.poller.Stop()

	n.mu.Lock()
	if n.hubCancel != nil {
		n.hubCancel()
		n.hubCancel = nil
	}
	n.mu.Unlock()
}

// Close releases the node's store. Call after Stop.
func (n *Node) Close() error {
	return n.store.Close()
}

func (n *Node) Name() string        { return n.cfg.Name }
func (n *Node) Hub() *hub.Hub       { return n.hub }
func (n *Node) Store() *store.Store { return n.store }
func (n *Node) Running() bool       { return n.poller.Running() }

// Stats returns the node's polling counters without touching the
// certificate prober.
func (n *Node) Stats() stats.Status { return n.tracker.Snapshot() }

// Status assembles the node's external view. The certificate status
// comes from the prober's cache and may dial the endpoint when cold.
func (n *Node) Status(ctx context.Context) Status {
	s := Status{
		Name:            n.cfg.Name,
		Source:          n.cfg.SourceName,
		URL:             n.cfg.URL,
		IntervalSeconds: n.cfg.IntervalSecs,
		Running:         n.poller.Running(),
		Peers:           n.hub.Count(),
		Stats:           n.tracker.Snapshot(),
	}
	if n.certs != nil {
		s.Cert = n.certs.Status(ctx, n.cfg.URL)
	}
	return s
}

// onCycle folds a cycle outcome into the tracker and hands the watcher
// a fresh sample.
func (n *Node) onCycle(c stats.Cycle) {
	n.tracker.Record(c)
	if n.watcher == nil {
		return
	}

	s := n.tracker.Snapshot()
	sample := watch.Sample{
		Feed:                n.cfg.Name,
		State:               s.State,
		Indicators:          s.Indicators,
		ConsecutiveFailures: s.ConsecutiveFailures,
	}
	if s.LastSuccess != nil {
		sample.CycleAge = time.Since(*s.LastSuccess)
	}
	if n.certs != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		sample.Cert = n.certs.Status(ctx, n.cfg.URL)
		cancel()
	}
	n.watcher.Evaluate(sample)
}
