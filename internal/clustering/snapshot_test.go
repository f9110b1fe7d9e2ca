package clustering

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/mihasm/news-globe/internal/store"
)

func TestIndex_SnapshotRoundTripDropsAgedEntries(t *testing.T) {
	db, err := store.Open(":memory:")
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	defer db.Close()

	now := time.Unix(1700100000, 0).UTC()
	clock := func() time.Time { return now }
	extractor := NewRuleBasedExtractor()
	idx := NewIndex(db.Clusters(clock), db.Items(), extractor, clock)

	freshID := uuid.New()
	idx.AddOrUpdate(&IndexEntry{
		ClusterID:  freshID,
		LastSeenAt: now.Add(-time.Hour),
		Features:   BuildFeatures(extractor, "Magnitude 6.2 earthquake shakes Tokyo"),
	})
	agedID := uuid.New()
	idx.AddOrUpdate(&IndexEntry{
		ClusterID:  agedID,
		LastSeenAt: now.Add(-100 * time.Hour),
		Features:   BuildFeatures(extractor, "Story from last week"),
	})

	path := filepath.Join(t.TempDir(), "index.snap.gz")
	if err := idx.SaveSnapshot(path); err != nil {
		t.Fatalf("save: %v", err)
	}

	restored := NewIndex(db.Clusters(clock), db.Items(), extractor, clock)
	n, err := restored.LoadSnapshot(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if n != 1 {
		t.Fatalf("loaded %d entries, want 1 (aged entry dropped)", n)
	}

	got, ok := restored.Get(freshID)
	if !ok {
		t.Fatal("fresh entry missing after reload")
	}
	want, _ := idx.Get(freshID)
	if got.Features.Canon != want.Features.Canon {
		t.Fatalf("canon changed across snapshot: %q != %q", got.Features.Canon, want.Features.Canon)
	}
	if len(got.Features.NGram) != len(want.Features.NGram) {
		t.Fatalf("ngram vector size changed across snapshot: %d != %d", len(got.Features.NGram), len(want.Features.NGram))
	}
	if _, ok := restored.Get(agedID); ok {
		t.Fatal("aged entry should not survive the reload")
	}
}

func TestIndex_LoadSnapshotMissingFileIsNotAnError(t *testing.T) {
	db, err := store.Open(":memory:")
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	defer db.Close()

	idx := NewIndex(db.Clusters(nil), db.Items(), NewRuleBasedExtractor(), nil)
	n, err := idx.LoadSnapshot(filepath.Join(t.TempDir(), "nope.gz"))
	if err != nil {
		t.Fatalf("load missing snapshot: %v", err)
	}
	if n != 0 {
		t.Fatalf("loaded %d entries from a missing file", n)
	}
}
