package clustering

import (
	"context"
	"testing"
	"time"

	"github.com/mihasm/news-globe/internal/record"
	"github.com/mihasm/news-globe/internal/store"
)

func newTestEnv(t *testing.T) (*store.DB, *Matcher) {
	t.Helper()
	db, err := store.Open(":memory:")
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { db.Close() })

	now := func() time.Time { return time.Unix(1700000000, 0).UTC() }
	clusters := db.Clusters(now)
	items := db.Items()
	idx := NewIndex(clusters, items, NewRuleBasedExtractor(), now)
	m := NewMatcher(idx, NewRuleBasedExtractor(), now)
	return db, m
}

func ingest(ctx context.Context, t *testing.T, db *store.DB, source record.Source, sourceID, title string, at time.Time) store.NormalizedItem {
	t.Helper()
	item := store.NormalizedItem{
		Source: source, SourceID: sourceID, CollectedAt: at, PublishedAt: &at, Title: title,
	}
	id, _, err := db.Items().Upsert(ctx, item)
	if err != nil {
		t.Fatalf("upsert item: %v", err)
	}
	item.ID = id
	return item
}

func TestMatcher_FirstItemCreatesCluster(t *testing.T) {
	db, m := newTestEnv(t)
	ctx := context.Background()

	item := ingest(ctx, t, db, record.SourceRSS, "u1", "Earthquake strikes Tokyo, dozens injured", time.Unix(1700000000, 0).UTC())

	res, err := m.MatchOrCreate(ctx, item, db.Clusters(nil), db.Items())
	if err != nil {
		t.Fatalf("match: %v", err)
	}
	if !res.Created {
		t.Fatalf("expected first item to create a cluster, got %+v", res)
	}

	n, _ := db.Clusters(nil).Count(ctx)
	if n != 1 {
		t.Fatalf("cluster count = %d, want 1", n)
	}
}

func TestMatcher_NearDuplicateMergesIntoSameCluster(t *testing.T) {
	db, m := newTestEnv(t)
	ctx := context.Background()
	clusters := db.Clusters(nil)
	items := db.Items()

	first := ingest(ctx, t, db, record.SourceRSS, "u1", "Earthquake strikes Tokyo, dozens injured", time.Unix(1700000000, 0).UTC())
	res1, err := m.MatchOrCreate(ctx, first, clusters, items)
	if err != nil {
		t.Fatalf("match 1: %v", err)
	}

	second := ingest(ctx, t, db, record.SourceTelegram, "u2", "Earthquake strikes Tokyo, dozens injured", time.Unix(1700000100, 0).UTC())
	res2, err := m.MatchOrCreate(ctx, second, clusters, items)
	if err != nil {
		t.Fatalf("match 2: %v", err)
	}

	if res2.Created {
		t.Fatalf("expected a near-identical repost to merge, got new cluster")
	}
	if res2.ClusterID != res1.ClusterID {
		t.Fatalf("cluster mismatch: %v vs %v", res1.ClusterID, res2.ClusterID)
	}
	if res2.Reason != ReasonNearDuplicate {
		t.Fatalf("reason = %q, want %q", res2.Reason, ReasonNearDuplicate)
	}

	c, err := clusters.Get(ctx, res1.ClusterID)
	if err != nil {
		t.Fatalf("get cluster: %v", err)
	}
	if c.ItemCount != 2 {
		t.Fatalf("item_count = %d, want 2", c.ItemCount)
	}
}

func TestMatcher_SharedOrgDifferentWordingMerges(t *testing.T) {
	db, m := newTestEnv(t)
	ctx := context.Background()
	clusters := db.Clusters(nil)
	items := db.Items()

	first := ingest(ctx, t, db, record.SourceRSS, "u1",
		"United Nations warns of famine risk as ceasefire talks stall", time.Unix(1700000000, 0).UTC())
	if _, err := m.MatchOrCreate(ctx, first, clusters, items); err != nil {
		t.Fatalf("match 1: %v", err)
	}

	second := ingest(ctx, t, db, record.SourceGDELT, "u2",
		"United Nations officials warn of famine risk as ceasefire talks continue to stall", time.Unix(1700000200, 0).UTC())
	res2, err := m.MatchOrCreate(ctx, second, clusters, items)
	if err != nil {
		t.Fatalf("match 2: %v", err)
	}
	if res2.Created {
		t.Fatalf("expected shared ORG + topical overlap to merge, got a new cluster")
	}
}

func TestMatcher_SharedCountryAloneDoesNotMerge(t *testing.T) {
	db, m := newTestEnv(t)
	ctx := context.Background()
	clusters := db.Clusters(nil)
	items := db.Items()

	first := ingest(ctx, t, db, record.SourceRSS, "u1",
		"Tokyo hosts international technology trade fair", time.Unix(1700000000, 0).UTC())
	if _, err := m.MatchOrCreate(ctx, first, clusters, items); err != nil {
		t.Fatalf("match 1: %v", err)
	}

	second := ingest(ctx, t, db, record.SourceGDELT, "u2",
		"Tokyo subway workers announce unrelated labor strike", time.Unix(1700000300, 0).UTC())
	res2, err := m.MatchOrCreate(ctx, second, clusters, items)
	if err != nil {
		t.Fatalf("match 2: %v", err)
	}
	if !res2.Created {
		t.Fatalf("expected two unrelated stories sharing only GPE=tokyo to stay separate, merged into %v", res2.ClusterID)
	}
}

func TestMatcher_UnrelatedStoriesStaySeparate(t *testing.T) {
	db, m := newTestEnv(t)
	ctx := context.Background()
	clusters := db.Clusters(nil)
	items := db.Items()

	first := ingest(ctx, t, db, record.SourceRSS, "u1", "Earthquake strikes Tokyo, dozens injured", time.Unix(1700000000, 0).UTC())
	if _, err := m.MatchOrCreate(ctx, first, clusters, items); err != nil {
		t.Fatalf("match 1: %v", err)
	}

	second := ingest(ctx, t, db, record.SourceUSGS, "u2", "Local bakery in Paris wins national pastry award", time.Unix(1700000400, 0).UTC())
	res2, err := m.MatchOrCreate(ctx, second, clusters, items)
	if err != nil {
		t.Fatalf("match 2: %v", err)
	}
	if !res2.Created {
		t.Fatalf("expected unrelated stories to create separate clusters")
	}

	n, _ := clusters.Count(ctx)
	if n != 2 {
		t.Fatalf("cluster count = %d, want 2", n)
	}
}

func TestMatcher_NewClusterTitleConcatenatesTitleAndBody(t *testing.T) {
	db, m := newTestEnv(t)
	ctx := context.Background()
	clusters := db.Clusters(nil)
	items := db.Items()
	at := time.Unix(1700000000, 0).UTC()

	item := store.NormalizedItem{
		Source: record.SourceRSS, SourceID: "u1", CollectedAt: at, PublishedAt: &at,
		Title: "Earthquake strikes Tokyo",
		Text:  "Dozens injured after a magnitude 6.2 tremor.",
	}
	id, _, err := items.Upsert(ctx, item)
	if err != nil {
		t.Fatalf("upsert: %v", err)
	}
	item.ID = id

	res, err := m.MatchOrCreate(ctx, item, clusters, items)
	if err != nil {
		t.Fatalf("match: %v", err)
	}
	if !res.Created {
		t.Fatal("expected a new cluster")
	}

	c, err := clusters.Get(ctx, res.ClusterID)
	if err != nil {
		t.Fatalf("get cluster: %v", err)
	}
	want := "Earthquake strikes Tokyo Dozens injured after a magnitude 6.2 tremor."
	if c.Title != want {
		t.Fatalf("cluster title = %q, want %q", c.Title, want)
	}
}

func TestMatcher_NewClusterTitleFallsBackWhenItemHasNoText(t *testing.T) {
	db, m := newTestEnv(t)
	ctx := context.Background()
	clusters := db.Clusters(nil)
	items := db.Items()
	at := time.Unix(1700000000, 0).UTC()

	item := store.NormalizedItem{
		Source: record.SourceADSB, SourceID: "icao-1", CollectedAt: at, PublishedAt: &at,
	}
	id, _, err := items.Upsert(ctx, item)
	if err != nil {
		t.Fatalf("upsert: %v", err)
	}
	item.ID = id

	res, err := m.MatchOrCreate(ctx, item, clusters, items)
	if err != nil {
		t.Fatalf("match: %v", err)
	}
	c, err := clusters.Get(ctx, res.ClusterID)
	if err != nil {
		t.Fatalf("get cluster: %v", err)
	}
	if c.Title != "No title" {
		t.Fatalf("cluster title = %q, want \"No title\"", c.Title)
	}
}
