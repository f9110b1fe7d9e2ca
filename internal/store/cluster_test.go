package store

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/mihasm/news-globe/internal/record"
)

func newTestUUID() uuid.UUID { return uuid.New() }

func fixedClock(t time.Time) func() time.Time {
	return func() time.Time { return t }
}

func TestClusterStore_CreateAndGet(t *testing.T) {
	db := newTestDB(t)
	clusters := db.Clusters(fixedClock(time.Unix(1700000000, 0)))
	ctx := context.Background()

	id := newTestUUID()
	lat, lon := 10.0, 20.0
	c := Cluster{
		ID:                         id,
		Title:                      "earthquake near region",
		RepresentativeLat:          &lat,
		RepresentativeLon:          &lon,
		RepresentativeLocationName: "Region",
		ItemCount:                  1,
		FirstSeenAt:                time.Unix(1700000000, 0).UTC(),
		LastSeenAt:                 time.Unix(1700000000, 0).UTC(),
	}
	if err := clusters.Create(ctx, c); err != nil {
		t.Fatalf("create: %v", err)
	}

	got, err := clusters.Get(ctx, id)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.Title != c.Title || got.ItemCount != 1 {
		t.Fatalf("got = %+v", got)
	}
	if got.RepresentativeLat == nil || *got.RepresentativeLat != lat {
		t.Fatalf("representative lat = %v", got.RepresentativeLat)
	}
}

func TestClusterStore_RecentSinceRespectsWindowAndCap(t *testing.T) {
	db := newTestDB(t)
	clusters := db.Clusters(fixedClock(time.Unix(1700100000, 0)))
	ctx := context.Background()

	old := Cluster{
		ID:          newTestUUID(),
		FirstSeenAt: time.Unix(1, 0).UTC(),
		LastSeenAt:  time.Unix(1, 0).UTC(),
	}
	recent := Cluster{
		ID:          newTestUUID(),
		FirstSeenAt: time.Unix(1700090000, 0).UTC(),
		LastSeenAt:  time.Unix(1700090000, 0).UTC(),
	}
	clusters.Create(ctx, old)
	clusters.Create(ctx, recent)

	got, err := clusters.RecentSince(ctx, time.Unix(1700000000, 0).UTC(), 5000)
	if err != nil {
		t.Fatalf("recent since: %v", err)
	}
	if len(got) != 1 || got[0].ID != recent.ID {
		t.Fatalf("expected only the recent cluster, got %+v", got)
	}

	capped, err := clusters.RecentSince(ctx, time.Unix(0, 0).UTC(), 1)
	if err != nil {
		t.Fatalf("recent since capped: %v", err)
	}
	if len(capped) != 1 {
		t.Fatalf("expected cap to limit results to 1, got %d", len(capped))
	}
}

func TestClusterStore_RecalculateStats(t *testing.T) {
	db := newTestDB(t)
	now := time.Unix(1700200000, 0).UTC()
	clusters := db.Clusters(fixedClock(now))
	items := db.Items()
	ctx := context.Background()

	clusterID := newTestUUID()
	if err := clusters.Create(ctx, Cluster{ID: clusterID, FirstSeenAt: now, LastSeenAt: now}); err != nil {
		t.Fatalf("create cluster: %v", err)
	}

	lat1, lon1 := 10.0, 10.0
	lat2, lon2 := 20.0, 30.0
	item1 := sampleItem(record.SourceUSGS, "m1")
	item1.Lat, item1.Lon = &lat1, &lon1
	item1.LocationName = "Alpha"
	item1.CollectedAt = time.Unix(1700000000, 0).UTC()

	item2 := sampleItem(record.SourceGDACS, "m2")
	item2.Lat, item2.Lon = &lat2, &lon2
	item2.LocationName = "Alpha"
	item2.CollectedAt = time.Unix(1700100000, 0).UTC()

	id1, _, _ := items.Upsert(ctx, item1)
	id2, _, _ := items.Upsert(ctx, item2)
	items.SetClusterID(ctx, id1, clusterID)
	items.SetClusterID(ctx, id2, clusterID)

	if err := clusters.RecalculateStats(ctx, clusterID, items); err != nil {
		t.Fatalf("recalculate stats: %v", err)
	}

	got, err := clusters.Get(ctx, clusterID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.ItemCount != 2 {
		t.Fatalf("item_count = %d, want 2", got.ItemCount)
	}
	if got.RepresentativeLat == nil || *got.RepresentativeLat != 15.0 {
		t.Fatalf("representative lat = %v, want mean 15.0", got.RepresentativeLat)
	}
	if got.RepresentativeLocationName != "Alpha" {
		t.Fatalf("representative location = %q, want Alpha", got.RepresentativeLocationName)
	}
	if !got.FirstSeenAt.Equal(item1.CollectedAt) {
		t.Fatalf("first_seen_at = %v, want %v", got.FirstSeenAt, item1.CollectedAt)
	}
	if !got.LastSeenAt.Equal(item2.CollectedAt) {
		t.Fatalf("last_seen_at = %v, want %v", got.LastSeenAt, item2.CollectedAt)
	}
}

func TestClusterStore_DeleteOlderThanDetachesMembers(t *testing.T) {
	db := newTestDB(t)
	clusters := db.Clusters(fixedClock(time.Unix(1700300000, 0)))
	items := db.Items()
	ctx := context.Background()

	staleID := newTestUUID()
	clusters.Create(ctx, Cluster{
		ID:          staleID,
		FirstSeenAt: time.Unix(1, 0).UTC(),
		LastSeenAt:  time.Unix(1, 0).UTC(),
	})
	id, _, _ := items.Upsert(ctx, sampleItem(record.SourceRSS, "stale-member"))
	items.SetClusterID(ctx, id, staleID)

	freshID := newTestUUID()
	clusters.Create(ctx, Cluster{
		ID:          freshID,
		FirstSeenAt: time.Unix(1700290000, 0).UTC(),
		LastSeenAt:  time.Unix(1700290000, 0).UTC(),
	})

	deleted, err := clusters.DeleteOlderThan(ctx, time.Unix(1700000000, 0).UTC(), items)
	if err != nil {
		t.Fatalf("delete older than: %v", err)
	}
	if len(deleted) != 1 || deleted[0] != staleID {
		t.Fatalf("deleted = %v, want [%v]", deleted, staleID)
	}

	if _, err := clusters.Get(ctx, staleID); err == nil {
		t.Fatal("expected stale cluster to be gone")
	}
	if _, err := clusters.Get(ctx, freshID); err != nil {
		t.Fatalf("expected fresh cluster to survive: %v", err)
	}

	unassigned, err := items.Unassigned(ctx, 10)
	if err != nil {
		t.Fatalf("unassigned: %v", err)
	}
	if len(unassigned) != 1 || unassigned[0].ID != id {
		t.Fatalf("expected former member to be detached and unassigned, got %+v", unassigned)
	}
}

func TestClusterStore_DeleteAll(t *testing.T) {
	db := newTestDB(t)
	clusters := db.Clusters(nil)
	items := db.Items()
	ctx := context.Background()

	clusters.Create(ctx, Cluster{ID: newTestUUID(), FirstSeenAt: time.Now(), LastSeenAt: time.Now()})
	items.Upsert(ctx, sampleItem(record.SourceRSS, "x"))

	if err := clusters.DeleteAll(ctx); err != nil {
		t.Fatalf("delete all: %v", err)
	}

	n, _ := items.Count(ctx)
	m, _ := clusters.Count(ctx)
	if n != 0 || m != 0 {
		t.Fatalf("after delete all: items=%d clusters=%d, want 0,0", n, m)
	}
}
