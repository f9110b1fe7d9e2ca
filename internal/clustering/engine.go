package clustering

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/mihasm/news-globe/internal/logging"
	"github.com/mihasm/news-globe/internal/store"
)

const (
	// DefaultPassLimit caps how many unassigned items a single pass
	// processes.
	DefaultPassLimit = 10000

	// DefaultCleanupHorizon is the default retention for inactive
	// clusters.
	DefaultCleanupHorizon = 7 * 24 * time.Hour
)

// PassStats summarises one clustering pass for logging and the admin CLI.
type PassStats struct {
	Scanned  int
	Assigned int
	Created  int
	Stale    int
}

// Engine is the Clustering Engine's run loop: it owns the in-memory
// Index exclusively and drives the Matcher over unassigned
// items on a timer, with periodic index refresh and cluster cleanup.
type Engine struct {
	index    *Index
	matcher  *Matcher
	clusters *store.ClusterStore
	items    *store.ItemStore

	passLimit    int
	snapshotPath string
	now          func() time.Time
	log          *slog.Logger
}

// NewEngine wires an Engine over the given stores. extractor may be nil
// (a RuleBasedExtractor is used); logger may be nil (logging disabled).
func NewEngine(clusters *store.ClusterStore, items *store.ItemStore, extractor EntityExtractor, log *slog.Logger) *Engine {
	if extractor == nil {
		extractor = NewRuleBasedExtractor()
	}
	if log == nil {
		log = logging.Discard()
	}
	idx := NewIndex(clusters, items, extractor, nil)
	return &Engine{
		index:    idx,
		matcher:  NewMatcher(idx, extractor, nil),
		clusters: clusters,
		items:    items,

		passLimit: DefaultPassLimit,
		now:       time.Now,
		log:       log.With("component", "clustering"),
	}
}

// WithPassLimit overrides the per-pass safety limit. Returns e for chaining.
func (e *Engine) WithPassLimit(n int) *Engine {
	if n > 0 {
		e.passLimit = n
	}
	return e
}

// WithSnapshotPath enables warm-start snapshots of the index at path.
func (e *Engine) WithSnapshotPath(path string) *Engine {
	e.snapshotPath = path
	return e
}

// WithClock overrides the engine's notion of "now", for tests. The
// index and matcher share the same clock.
func (e *Engine) WithClock(now func() time.Time) *Engine {
	e.now = now
	e.index.now = now
	e.matcher.now = now
	return e
}

// Index exposes the engine's index for introspection (entry count on
// the stats surface). Callers must not mutate entries.
func (e *Engine) Index() *Index { return e.index }

// Refresh forces an index rebuild from the Cluster Store and, when a
// snapshot path is configured, persists the rebuilt index for the next
// warm start.
func (e *Engine) Refresh(ctx context.Context) error {
	if err := e.index.Refresh(ctx); err != nil {
		return err
	}
	if e.snapshotPath != "" {
		if err := e.index.SaveSnapshot(e.snapshotPath); err != nil {
			e.log.Warn("saving index snapshot failed", "path", e.snapshotPath, "error", err)
		}
	}
	return nil
}

// WarmStart loads a previously saved index snapshot, if one exists.
// A missing or unreadable snapshot is not an error — the index simply
// starts cold and fills on the first Refresh.
func (e *Engine) WarmStart() {
	if e.snapshotPath == "" {
		return
	}
	n, err := e.index.LoadSnapshot(e.snapshotPath)
	if err != nil {
		e.log.Warn("loading index snapshot failed", "path", e.snapshotPath, "error", err)
		return
	}
	if n > 0 {
		e.log.Info("index warm-started from snapshot", "entries", n)
	}
}

// RunPass scans up to passLimit unassigned items and assigns each to a
// cluster (or creates one). A stale index entry — the cluster was
// deleted between index read and persist — is dropped and the item left
// unassigned for the next pass.
func (e *Engine) RunPass(ctx context.Context) (PassStats, error) {
	var stats PassStats

	if e.index.LastRefresh().IsZero() {
		if err := e.Refresh(ctx); err != nil {
			return stats, err
		}
	}

	unassigned, err := e.items.Unassigned(ctx, e.passLimit)
	if err != nil {
		return stats, fmt.Errorf("load unassigned items: %w", err)
	}

	for _, item := range unassigned {
		if err := ctx.Err(); err != nil {
			return stats, err
		}
		stats.Scanned++

		res, err := e.matcher.MatchOrCreate(ctx, item, e.clusters, e.items)
		if err != nil {
			if errors.Is(err, sql.ErrNoRows) && res.ClusterID != uuid.Nil {
				e.index.Remove(res.ClusterID)
				if derr := e.items.DetachCluster(ctx, res.ClusterID); derr != nil {
					return stats, derr
				}
				stats.Stale++
				continue
			}
			return stats, err
		}

		if res.Created {
			stats.Created++
		} else {
			stats.Assigned++
		}
	}

	if stats.Scanned > 0 {
		e.log.Info("clustering pass complete",
			"scanned", stats.Scanned,
			"assigned", stats.Assigned,
			"created", stats.Created,
			"stale", stats.Stale,
			"index_size", e.index.Len(),
		)
	}
	return stats, nil
}

// Cleanup deletes clusters whose last_seen_at is older than horizon,
// detaching members first so they re-cluster on the next pass.
// Returns the number of clusters removed.
func (e *Engine) Cleanup(ctx context.Context, horizon time.Duration) (int, error) {
	if horizon <= 0 {
		horizon = DefaultCleanupHorizon
	}
	cutoff := e.now().Add(-horizon)

	removed, err := e.clusters.DeleteOlderThan(ctx, cutoff, e.items)
	if err != nil {
		return 0, err
	}
	for _, id := range removed {
		e.index.Remove(id)
	}
	if len(removed) > 0 {
		e.log.Info("cluster cleanup complete", "removed", len(removed), "horizon", horizon.String())
	}
	return len(removed), nil
}
