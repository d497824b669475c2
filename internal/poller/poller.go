package poller

import (
	"context"
	"log/slog"
	"math/rand"
	"sync"
	"time"

	"github.com/feedrelay/feedrelay/internal/config"
	"github.com/feedrelay/feedrelay/internal/engine"
	"github.com/feedrelay/feedrelay/internal/stats"
)

// Cycler is the slice of the reconciliation engine the poller drives.
type Cycler interface {
	RunCycle(ctx context.Context) (engine.Summary, error)
	Resync(ctx context.Context) (int, error)
	Count() (int64, error)
}

// Poller runs reconciliation cycles on a fixed interval until stopped.
//
// A failed cycle is retried after a short random pause, up to the
// feed's retry budget; only then does the poller settle back into the
// regular interval. Stop cancels any fetch still in flight, so shutdown
// never waits out a slow feed.
type Poller struct {
	cfg config.Feed
	rec Cycler
	log *slog.Logger

	// AfterCycle and AfterReplay, when set before Start, observe every
	// cycle outcome and the startup replay.
	AfterCycle  func(stats.Cycle)
	AfterReplay func(n int)

	interval    time.Duration
	now         func() time.Time
	startJitter func() time.Duration
	retryJitter func() time.Duration

	mu      sync.Mutex
	running bool
	cancel  context.CancelFunc
	done    chan struct{}
	seq     int64
	active  map[int64]context.CancelFunc
}

func New(cfg config.Feed, rec Cycler, log *slog.Logger) *Poller {
	return &Poller{
		cfg:      cfg,
		rec:      rec,
		log:      log,
		interval: cfg.Interval(),
		now:      time.Now,
		startJitter: func() time.Duration {
			return time.Duration(rand.Float64() * 2 * float64(time.Second))
		},
		retryJitter: func() time.Duration {
			return time.Duration(1+rand.Intn(5)) * time.Second
		},
		active: make(map[int64]context.CancelFunc),
	}
}

// Start launches the polling loop. Starting a running poller is a no-op.
func (p *Poller) Start() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.running {
		return
	}
	ctx, cancel := context.WithCancel(context.Background())
	p.cancel = cancel
	p.done = make(chan struct{})
	p.running = true
	p.log.Info("poller starting",
		"feed", p.cfg.Name, "url", p.cfg.URL, "interval", p.interval)
	go p.run(ctx, p.done)
}

// Stop cancels any in-flight fetch, stops the loop, and waits for it to
// exit. Stopping a stopped poller is a no-op.
func (p *Poller) Stop() {
	p.mu.Lock()
	if !p.running {
		p.mu.Unlock()
		return
	}
	p.running = false
	for _, cancel := range p.active {
		cancel()
	}
	cancel, done := p.cancel, p.done
	p.mu.Unlock()

	cancel()
	<-done

	if count, err := p.rec.Count(); err == nil {
		p.log.Info("poller stopped", "feed", p.cfg.Name, "indicators", count)
	} else {
		p.log.Warn("poller stopped, count unavailable", "feed", p.cfg.Name, "error", err)
	}
}

// Running reports whether Start has been called without a matching Stop.
func (p *Poller) Running() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.running
}

func (p *Poller) run(ctx context.Context, done chan struct{}) {
	defer close(done)

	p.resync(ctx)

	if !sleepFor(ctx, p.startJitter()) {
		return
	}

	tryn := 0
	for {
		cycleStart := p.now()
		cctx, release := p.trackedContext(ctx)
		sum, err := p.rec.RunCycle(cctx)
		release()
		elapsed := p.now().Sub(cycleStart)

		if ctx.Err() != nil {
			return
		}

		if p.AfterCycle != nil {
			p.AfterCycle(stats.Cycle{Start: cycleStart, Duration: elapsed, Err: err, Summary: sum})
		}

		if err != nil {
			tryn++
			if tryn < p.cfg.NumRetries {
				delay := p.retryJitter()
				p.log.Warn("cycle failed, retrying",
					"feed", p.cfg.Name, "try", tryn, "delay", delay, "error", err)
				if !sleepFor(ctx, delay) {
					return
				}
				continue
			}
			p.log.Error("cycle failed, retries exhausted",
				"feed", p.cfg.Name, "tries", tryn, "error", err)
			tryn = 0
		} else {
			tryn = 0
			p.log.Info("cycle complete",
				"feed", p.cfg.Name,
				"duration", elapsed,
				"updates", sum.Updates,
				"withdraws", sum.Withdraws,
				"indicators", sum.Indicators)
		}

		if !sleepFor(ctx, p.nextDelay(p.now().Sub(cycleStart))) {
			return
		}
	}
}

// resync replays surviving records before the first fetch so consumers
// that connect early see the state a previous run left behind.
func (p *Poller) resync(ctx context.Context) {
	count, err := p.rec.Count()
	if err != nil {
		p.log.Warn("resync count", "feed", p.cfg.Name, "error", err)
		return
	}
	if count == 0 {
		return
	}
	n, err := p.rec.Resync(ctx)
	if err != nil {
		if ctx.Err() == nil {
			p.log.Warn("resync failed", "feed", p.cfg.Name, "replayed", n, "error", err)
		}
		return
	}
	p.log.Info("resynced stored indicators", "feed", p.cfg.Name, "replayed", n)
	if p.AfterReplay != nil {
		p.AfterReplay(n)
	}
}

// nextDelay returns how long to sleep so cycles stay aligned to the
// interval. A cycle that overran skips the intervals it consumed.
func (p *Poller) nextDelay(elapsed time.Duration) time.Duration {
	remaining := p.interval - elapsed
	for remaining < 0 {
		p.log.Warn("cycle overran the polling interval",
			"feed", p.cfg.Name, "interval", p.interval, "behind", -remaining)
		remaining += p.interval
	}
	return remaining
}

// trackedContext derives a cancellable child context that Stop can
// cancel while a fetch is still in flight.
func (p *Poller) trackedContext(parent context.Context) (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(parent)
	p.mu.Lock()
	p.seq++
	id := p.seq
	p.active[id] = cancel
	p.mu.Unlock()
	return ctx, func() {
		p.mu.Lock()
		delete(p.active, id)
		p.mu.Unlock()
		cancel()
	}
}

// sleepFor sleeps up to d, returning false when ctx ends first.
func sleepFor(ctx context.Context, d time.Duration) bool {
	if d <= 0 {
		return ctx.Err() == nil
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}
