package clustering

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/mihasm/news-globe/internal/store"
)

const (
	// DefaultActivityWindow is the refresh lookback: only clusters
	// active this recently are indexed.
	DefaultActivityWindow = 72 * time.Hour
	// DefaultClusterCap bounds how many clusters one refresh loads.
	DefaultClusterCap = 5000
	// DefaultRefreshInterval is how often the index reloads from the store.
	DefaultRefreshInterval = 5 * time.Minute
	// PrefilterCandidateCap avoids pathological fan-out on very common
	// features.
	PrefilterCandidateCap = 2500
)

// IndexEntry is one cluster's cached features plus the metadata the
// matcher's time-decay and gating steps need.
type IndexEntry struct {
	ClusterID  uuid.UUID
	LastSeenAt time.Time
	Features   Features
}

// Index is the in-memory Cluster Index, owned exclusively by the
// Clustering worker; nothing else mutates it. It refreshes from the
// Cluster Store on a timer or on demand.
type Index struct {
	mu         sync.RWMutex
	entries    map[uuid.UUID]*IndexEntry
	extractor  EntityExtractor
	clusters   *store.ClusterStore
	items      *store.ItemStore
	window     time.Duration
	cap        int
	now        func() time.Time
	lastRefresh time.Time
}

// NewIndex constructs an empty index backed by clusters/items.
func NewIndex(clusters *store.ClusterStore, items *store.ItemStore, extractor EntityExtractor, now func() time.Time) *Index {
	if now == nil {
		now = time.Now
	}
	return &Index{
		entries:   make(map[uuid.UUID]*IndexEntry),
		extractor: extractor,
		clusters:  clusters,
		items:     items,
		window:    DefaultActivityWindow,
		cap:       DefaultClusterCap,
		now:       now,
	}
}

// Refresh reloads every cluster whose last_seen_at is within the
// activity window (capped), replacing the in-memory entry set.
func (idx *Index) Refresh(ctx context.Context) error {
	since := idx.now().Add(-idx.window)
	recent, err := idx.clusters.RecentSince(ctx, since, idx.cap)
	if err != nil {
		return fmt.Errorf("refresh cluster index: %w", err)
	}

	entries := make(map[uuid.UUID]*IndexEntry, len(recent))
	for _, c := range recent {
		text, err := idx.representativeText(ctx, c)
		if err != nil {
			return err
		}
		entries[c.ID] = &IndexEntry{
			ClusterID:  c.ID,
			LastSeenAt: c.LastSeenAt,
			Features:   BuildFeatures(idx.extractor, text),
		}
	}

	idx.mu.Lock()
	idx.entries = entries
	idx.lastRefresh = idx.now()
	idx.mu.Unlock()
	return nil
}

// representativeText prefers the cluster's own Title, falling back to
// its newest member's concatenated title+body.
func (idx *Index) representativeText(ctx context.Context, c store.Cluster) (string, error) {
	if c.Title != "" {
		return c.Title, nil
	}
	text, err := idx.clusters.NewestMemberText(ctx, c.ID, idx.items)
	if err != nil {
		return "", fmt.Errorf("representative text for %s: %w", c.ID, err)
	}
	return text, nil
}

// AddOrUpdate inserts or replaces a single entry — used right after a
// new cluster is created mid-batch so subsequent items in the same
// batch can match against it without waiting for the next refresh.
func (idx *Index) AddOrUpdate(entry *IndexEntry) {
	idx.mu.Lock()
	defer idx.mu.Unlock()
	idx.entries[entry.ClusterID] = entry
}

// Remove drops the entry for id. Used when a persist step discovers
// the cluster was deleted between index read and write: the stale
// entry goes away and the item is retried on a later pass.
func (idx *Index) Remove(id uuid.UUID) {
	idx.mu.Lock()
	defer idx.mu.Unlock()
	delete(idx.entries, id)
}

// Get returns the entry for id, if present.
func (idx *Index) Get(id uuid.UUID) (*IndexEntry, bool) {
	idx.mu.RLock()
	defer idx.mu.RUnlock()
	e, ok := idx.entries[id]
	return e, ok
}

// Entries returns a shallow copy of the current entry set. The engine
// uses it to snapshot the index for warm starts.
func (idx *Index) Entries() []*IndexEntry {
	idx.mu.RLock()
	defer idx.mu.RUnlock()
	return idx.all()
}

// LastRefresh reports when Refresh last completed; zero if never.
func (idx *Index) LastRefresh() time.Time {
	idx.mu.RLock()
	defer idx.mu.RUnlock()
	return idx.lastRefresh
}

// Len returns the number of entries currently held.
func (idx *Index) Len() int {
	idx.mu.RLock()
	defer idx.mu.RUnlock()
	return len(idx.entries)
}

// Candidates returns the prefiltered candidate set for an item's
// flattened feature set: entries sharing at least one
// {label=value} with flat, or the full index if flat is empty,
// hard-capped at PrefilterCandidateCap.
func (idx *Index) Candidates(flat map[string]bool) []*IndexEntry {
	idx.mu.RLock()
	defer idx.mu.RUnlock()

	if len(flat) == 0 {
		return idx.capped(idx.all())
	}

	var out []*IndexEntry
	for _, e := range idx.entries {
		if sharesAnyFeature(flat, e.Features.Flat) {
			out = append(out, e)
			if len(out) >= PrefilterCandidateCap {
				break
			}
		}
	}
	return out
}

func (idx *Index) all() []*IndexEntry {
	out := make([]*IndexEntry, 0, len(idx.entries))
	for _, e := range idx.entries {
		out = append(out, e)
	}
	return out
}

func (idx *Index) capped(entries []*IndexEntry) []*IndexEntry {
	if len(entries) <= PrefilterCandidateCap {
		return entries
	}
	return entries[:PrefilterCandidateCap]
}

func sharesAnyFeature(a, b map[string]bool) bool {
	small, large := a, b
	if len(a) > len(b) {
		small, large = b, a
	}
	for k := range small {
		if large[k] {
			return true
		}
	}
	return false
}
