package ingestion

import (
	"context"
	"testing"
	"time"

	"github.com/mihasm/news-globe/internal/clustering"
	"github.com/mihasm/news-globe/internal/gazetteer"
	"github.com/mihasm/news-globe/internal/intake"
	"github.com/mihasm/news-globe/internal/record"
	"github.com/mihasm/news-globe/internal/store"
)

// stubResolver resolves any surface to a fixed candidate, or nil if the
// surface is in misses.
type stubResolver struct {
	misses map[string]bool
}

func (r *stubResolver) Resolve(_ context.Context, surface, _ string) (*gazetteer.Candidate, error) {
	if r.misses[surface] {
		return nil, nil
	}
	return &gazetteer.Candidate{Name: surface, Lat: 35.0, Lon: 139.0}, nil
}

func newTestPipeline(t *testing.T, resolver gazetteer.Resolver) (*Pipeline, *intake.Queue, *store.DB) {
	t.Helper()
	db, err := store.Open(":memory:")
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { db.Close() })

	q := intake.New()
	p := New(q, db.Items(), resolver, clustering.NewRuleBasedExtractor(), nil)
	return p, q, db
}

func validRecord(source record.Source, sourceID, title string, collectedAt int64, publishedAt string) record.IngestionRecord {
	return record.IngestionRecord{
		Source:      source,
		SourceID:    sourceID,
		CollectedAt: collectedAt,
		Title:       title,
		PublishedAt: publishedAt,
	}
}

func TestPipeline_DropsInvalidRecords(t *testing.T) {
	p, q, _ := newTestPipeline(t, &stubResolver{})
	q.Push([]record.IngestionRecord{
		{Source: "", SourceID: "x", CollectedAt: 1700000000},
	})

	if err := p.RunOnce(context.Background()); err != nil {
		t.Fatalf("run once: %v", err)
	}
	if p.Stats.ValidationErrors != 1 {
		t.Fatalf("validation_errors = %d, want 1", p.Stats.ValidationErrors)
	}
	if p.Stats.Inserted != 0 {
		t.Fatalf("inserted = %d, want 0", p.Stats.Inserted)
	}
}

func TestPipeline_IntraBatchDuplicateIsDroppedNotInserted(t *testing.T) {
	p, q, _ := newTestPipeline(t, &stubResolver{})
	lat, lon := 35.0, 139.0
	rec := record.IngestionRecord{
		Source: record.SourceRSS, SourceID: "dup-1", CollectedAt: 1700000000,
		PublishedAt: "2024-01-01T00:00:00Z", Lat: &lat, Lon: &lon,
	}
	q.Push([]record.IngestionRecord{rec, rec})

	if err := p.RunOnce(context.Background()); err != nil {
		t.Fatalf("run once: %v", err)
	}
	if p.Stats.Inserted != 1 {
		t.Fatalf("inserted = %d, want 1", p.Stats.Inserted)
	}
	if p.Stats.SkippedDuplicates != 1 {
		t.Fatalf("skipped_duplicates = %d, want 1", p.Stats.SkippedDuplicates)
	}
}

func TestPipeline_StoreDuplicateIsSkipped(t *testing.T) {
	p, q, db := newTestPipeline(t, &stubResolver{})
	lat, lon := 35.0, 139.0
	existing := store.NormalizedItem{
		Source: record.SourceUSGS, SourceID: "eq-1", CollectedAt: time.Unix(1700000000, 0).UTC(),
		Lat: &lat, Lon: &lon,
	}
	if _, _, err := db.Items().Upsert(context.Background(), existing); err != nil {
		t.Fatalf("seed item: %v", err)
	}

	q.Push([]record.IngestionRecord{
		{Source: record.SourceUSGS, SourceID: "eq-1", CollectedAt: 1700000100, PublishedAt: "2024-01-01T00:00:00Z", Lat: &lat, Lon: &lon},
	})
	if err := p.RunOnce(context.Background()); err != nil {
		t.Fatalf("run once: %v", err)
	}
	if p.Stats.SkippedDuplicates != 1 {
		t.Fatalf("skipped_duplicates = %d, want 1", p.Stats.SkippedDuplicates)
	}
	if p.Stats.Inserted != 0 {
		t.Fatalf("inserted = %d, want 0", p.Stats.Inserted)
	}
}

func TestPipeline_SkipsRecordsWithoutCoordinates(t *testing.T) {
	p, q, _ := newTestPipeline(t, nil)
	q.Push([]record.IngestionRecord{
		validRecord(record.SourceRSS, "no-coords", "some story with no place mentioned at all", 1700000000, "2024-01-01T00:00:00Z"),
	})

	if err := p.RunOnce(context.Background()); err != nil {
		t.Fatalf("run once: %v", err)
	}
	if p.Stats.NoLocationData != 1 {
		t.Fatalf("no_location_data = %d, want 1", p.Stats.NoLocationData)
	}
	if p.Stats.Inserted != 0 {
		t.Fatalf("inserted = %d, want 0", p.Stats.Inserted)
	}
}

func TestPipeline_SkipsRecordsWithoutPublishedAt(t *testing.T) {
	lat, lon := 35.0, 139.0
	p, q, _ := newTestPipeline(t, &stubResolver{})
	q.Push([]record.IngestionRecord{
		{Source: record.SourceRSS, SourceID: "x", CollectedAt: 1700000000, Lat: &lat, Lon: &lon},
	})

	if err := p.RunOnce(context.Background()); err != nil {
		t.Fatalf("run once: %v", err)
	}
	if p.Stats.MissingPublishedAt != 1 {
		t.Fatalf("missing_published_at = %d, want 1", p.Stats.MissingPublishedAt)
	}
}

func TestPipeline_InvalidPublishedAtIsCounted(t *testing.T) {
	lat, lon := 35.0, 139.0
	p, q, _ := newTestPipeline(t, &stubResolver{})
	q.Push([]record.IngestionRecord{
		{Source: record.SourceRSS, SourceID: "x", CollectedAt: 1700000000, PublishedAt: "not-a-date", Lat: &lat, Lon: &lon},
	})

	if err := p.RunOnce(context.Background()); err != nil {
		t.Fatalf("run once: %v", err)
	}
	if p.Stats.InvalidPublishedAt != 1 {
		t.Fatalf("invalid_published_at = %d, want 1", p.Stats.InvalidPublishedAt)
	}
}

func TestPipeline_IgnoresEMSCMastodonRelays(t *testing.T) {
	lat, lon := 35.0, 139.0
	p, q, _ := newTestPipeline(t, &stubResolver{})
	q.Push([]record.IngestionRecord{
		{Source: record.SourceMastodon, SourceID: "emsc-bot-12345", CollectedAt: 1700000000, PublishedAt: "2024-01-01T00:00:00Z", Lat: &lat, Lon: &lon},
	})

	if err := p.RunOnce(context.Background()); err != nil {
		t.Fatalf("run once: %v", err)
	}
	if p.Stats.Ignored != 1 {
		t.Fatalf("ignored = %d, want 1", p.Stats.Ignored)
	}
	if p.Stats.Inserted != 0 {
		t.Fatalf("inserted = %d, want 0", p.Stats.Inserted)
	}
}

func TestPipeline_LocationEnrichmentResolvesCoordinatesFromTitle(t *testing.T) {
	p, q, db := newTestPipeline(t, &stubResolver{})
	q.Push([]record.IngestionRecord{
		validRecord(record.SourceRSS, "eq-1", "Earthquake strikes Tokyo, dozens injured", 1700000000, "2024-01-01T00:00:00Z"),
	})

	if err := p.RunOnce(context.Background()); err != nil {
		t.Fatalf("run once: %v", err)
	}
	if p.Stats.LocationNERAttempted != 1 {
		t.Fatalf("location_ner_attempted = %d, want 1", p.Stats.LocationNERAttempted)
	}
	if p.Stats.LocationResolved != 1 {
		t.Fatalf("location_resolved = %d, want 1", p.Stats.LocationResolved)
	}
	if p.Stats.Inserted != 1 {
		t.Fatalf("inserted = %d, want 1", p.Stats.Inserted)
	}

	n, err := db.Items().Count(context.Background())
	if err != nil {
		t.Fatalf("count: %v", err)
	}
	if n != 1 {
		t.Fatalf("item count = %d, want 1", n)
	}
}

func TestPipeline_LocationEnrichmentMissResultsInNoLocationData(t *testing.T) {
	p, q, _ := newTestPipeline(t, &stubResolver{misses: map[string]bool{"Tokyo": true}})
	q.Push([]record.IngestionRecord{
		validRecord(record.SourceRSS, "eq-1", "Earthquake strikes Tokyo, dozens injured", 1700000000, "2024-01-01T00:00:00Z"),
	})

	if err := p.RunOnce(context.Background()); err != nil {
		t.Fatalf("run once: %v", err)
	}
	if p.Stats.LocationNERFound != 1 {
		t.Fatalf("location_ner_found = %d, want 1", p.Stats.LocationNERFound)
	}
	if p.Stats.LocationResolved != 0 {
		t.Fatalf("location_resolved = %d, want 0", p.Stats.LocationResolved)
	}
	if p.Stats.NoLocationData != 1 {
		t.Fatalf("no_location_data = %d, want 1", p.Stats.NoLocationData)
	}
}

func TestPipeline_RecordWithExplicitCoordinatesSkipsEnrichment(t *testing.T) {
	lat, lon := 1.0, 2.0
	p, q, db := newTestPipeline(t, &stubResolver{})
	q.Push([]record.IngestionRecord{
		{Source: record.SourceUSGS, SourceID: "eq-1", CollectedAt: 1700000000, PublishedAt: "2024-01-01T00:00:00Z", Lat: &lat, Lon: &lon},
	})

	if err := p.RunOnce(context.Background()); err != nil {
		t.Fatalf("run once: %v", err)
	}
	if p.Stats.LocationNERAttempted != 0 {
		t.Fatalf("location_ner_attempted = %d, want 0 (record already had coordinates)", p.Stats.LocationNERAttempted)
	}

	items, err := db.Items().Unassigned(context.Background(), 10)
	if err != nil {
		t.Fatalf("unassigned: %v", err)
	}
	if len(items) != 1 || items[0].Lat == nil || *items[0].Lat != 1.0 {
		t.Fatalf("items = %+v, want explicit coordinates preserved", items)
	}
}

func TestPipeline_EmptyQueueIsANoop(t *testing.T) {
	p, _, _ := newTestPipeline(t, &stubResolver{})
	if err := p.RunOnce(context.Background()); err != nil {
		t.Fatalf("run once on empty queue: %v", err)
	}
	if p.Stats.Processed != 0 {
		t.Fatalf("processed = %d, want 0", p.Stats.Processed)
	}
}

func TestPipeline_BatchSizeLimitsDrainAndRequeuesOverflow(t *testing.T) {
	lat, lon := 35.0, 139.0
	p, q, _ := newTestPipeline(t, &stubResolver{})
	p.WithBatchSize(1)

	q.Push([]record.IngestionRecord{
		{Source: record.SourceRSS, SourceID: "a", CollectedAt: 1700000000, PublishedAt: "2024-01-01T00:00:00Z", Lat: &lat, Lon: &lon},
		{Source: record.SourceRSS, SourceID: "b", CollectedAt: 1700000000, PublishedAt: "2024-01-01T00:00:00Z", Lat: &lat, Lon: &lon},
	})

	if err := p.RunOnce(context.Background()); err != nil {
		t.Fatalf("run once: %v", err)
	}
	if p.Stats.Processed != 1 {
		t.Fatalf("processed = %d, want 1 (batch size 1)", p.Stats.Processed)
	}
	if q.Size() != 1 {
		t.Fatalf("queue size after drain = %d, want 1 (overflow requeued)", q.Size())
	}
}
