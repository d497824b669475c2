package engine

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/feedrelay/feedrelay/internal/config"
	"github.com/feedrelay/feedrelay/internal/feed"
	"github.com/feedrelay/feedrelay/internal/store"
	"github.com/feedrelay/feedrelay/pkg/wire"
)

// Emitter receives the update and withdraw events produced while
// reconciling. The hub implements this to fan events out to peers.
type Emitter interface {
	EmitUpdate(indicator string, value map[string]any)
	EmitWithdraw(indicator string, value map[string]any)
}

// Summary describes a single reconciliation cycle.
type Summary struct {
	Lines      int
	Skipped    int
	Updates    int
	Suppressed int
	Withdraws  int
	Indicators int64
}

// Reconciler turns one fetched snapshot of a feed into store mutations
// and events: fresh sightings are upserted and announced, records the
// snapshot no longer carries are deleted and withdrawn.
type Reconciler struct {
	cfg     config.Feed
	store   *store.Store
	emitter Emitter
	log     *slog.Logger

	fetcher   *feed.Fetcher
	normalize *feed.Normalizer
	transform feed.Transformer
	compare   Comparer
	now       func() time.Time
}

func New(cfg config.Feed, st *store.Store, em Emitter, log *slog.Logger) *Reconciler {
	return &Reconciler{
		cfg:       cfg,
		store:     st,
		emitter:   em,
		log:       log,
		fetcher:   feed.NewFetcher(cfg, log),
		normalize: feed.NewNormalizer(cfg),
		transform: feed.NewStaticTransformer(cfg.Attributes),
		compare:   UnchangedComparer{},
		now:       time.Now,
	}
}

// RunCycle fetches the feed once and reconciles the store against it.
// The cycle boundary is captured before the fetch starts: any record
// not refreshed by this cycle keeps an older stamp and is swept.
func (r *Reconciler) RunCycle(ctx context.Context) (Summary, error) {
	var sum Summary
	cycleStart := r.now().UnixMilli()

	body, err := r.fetcher.Fetch(ctx)
	if err != nil {
		return sum, fmt.Errorf("fetch %s: %w", r.cfg.URL, err)
	}
	defer body.Close() //nolint:errcheck

	for body.Scan() {
		sum.Lines++
		token, ok := r.normalize.Normalize(body.Text())
		if !ok {
			sum.Skipped++
			continue
		}
		indicator, attrs, ok := r.transform.Transform(token)
		if !ok {
			sum.Skipped++
			continue
		}
		if err := r.apply(indicator, attrs, &sum); err != nil {
			return sum, err
		}
	}
	if err := body.Err(); err != nil {
		return sum, fmt.Errorf("read %s: %w", r.cfg.URL, err)
	}

	withdrawn, err := r.sweep(cycleStart)
	sum.Withdraws = withdrawn
	if err != nil {
		return sum, err
	}

	count, err := r.store.Count()
	if err != nil {
		return sum, fmt.Errorf("count indicators: %w", err)
	}
	sum.Indicators = count

	r.log.Debug("cycle reconciled",
		"feed", r.cfg.Name,
		"lines", sum.Lines,
		"updates", sum.Updates,
		"withdraws", sum.Withdraws,
		"indicators", sum.Indicators)
	return sum, nil
}

// apply upserts one sighting. The record is stamped with a single clock
// read so _updated and last_seen always agree; first_seen survives from
// the previous record when there is one.
func (r *Reconciler) apply(indicator string, attrs map[string]any, sum *Summary) error {
	prev, found, err := r.store.Get(indicator)
	if err != nil {
		return fmt.Errorf("get %q: %w", indicator, err)
	}

	now := r.now().UnixMilli()
	value := attrs
	if value == nil {
		value = make(map[string]any, 4)
	}
	value[wire.AttrSources] = []string{r.cfg.SourceName}
	value[wire.AttrUpdated] = now
	value[wire.AttrLastSeen] = now
	value[wire.AttrFirstSeen] = now
	if found {
		if fs, ok := prev[wire.AttrFirstSeen]; ok {
			value[wire.AttrFirstSeen] = fs
		}
	}

	if err := r.store.Put(indicator, value); err != nil {
		return fmt.Errorf("put %q: %w", indicator, err)
	}

	if found && !r.cfg.ForceUpdates && r.compare.Equal(prev, value) {
		sum.Suppressed++
		return nil
	}
	sum.Updates++
	r.emitter.EmitUpdate(indicator, value)
	return nil
}

// sweep withdraws every record whose stamp predates the cycle. Keys are
// collected first so no cursor is open while rows are deleted; each
// withdraw is emitted only after its delete lands, so a failed sweep
// leaves the remainder stamped stale for the retry to pick up.
func (r *Reconciler) sweep(cycleStart int64) (int, error) {
	cutoff := cycleStart - 1

	var stale []string
	for entry, err := range r.store.Query(wire.IndexUpdated, nil, &cutoff, false) {
		if err != nil {
			return 0, fmt.Errorf("scan stale indicators: %w", err)
		}
		stale = append(stale, entry.Key)
	}

	withdrawn := 0
	for _, key := range stale {
		if err := r.store.Delete(key); err != nil {
			return withdrawn, fmt.Errorf("delete %q: %w", key, err)
		}
		r.emitter.EmitWithdraw(key, map[string]any{
			wire.AttrSources: []string{r.cfg.SourceName},
		})
		withdrawn++
	}
	return withdrawn, nil
}

// Count reports how many indicators the store currently holds.
func (r *Reconciler) Count() (int64, error) {
	return r.store.Count()
}

// Resync replays every stored record as an update event, oldest stamp
// first, so downstream consumers rebuild state written by a previous
// run before polling resumes.
func (r *Reconciler) Resync(ctx context.Context) (int, error) {
	n := 0
	for entry, err := range r.store.Query(wire.IndexUpdated, nil, nil, true) {
		if err != nil {
			return n, fmt.Errorf("replay stored indicators: %w", err)
		}
		if err := ctx.Err(); err != nil {
			return n, err
		}
		r.emitter.EmitUpdate(entry.Key, entry.Value)
		n++
	}
	return n, nil
}
