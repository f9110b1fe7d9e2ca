// Package ingestion implements the Ingestion Pipeline: it drains the
// Intake Queue on a fixed interval, runs each batch through five fixed
// steps — validate, intra-batch dedup, store dedup, location
// enrichment, persist — and exposes cumulative Stats for
// observability.
package ingestion

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"github.com/mihasm/news-globe/internal/clustering"
	"github.com/mihasm/news-globe/internal/gazetteer"
	"github.com/mihasm/news-globe/internal/intake"
	"github.com/mihasm/news-globe/internal/record"
	"github.com/mihasm/news-globe/internal/store"
)

// DefaultBatchSize is the default number of records the pipeline drains
// from the queue per run when the caller does not override it.
const DefaultBatchSize = 200

// maxLocationCandidates bounds how many extracted place names a single
// record's enrichment step will try against the gazetteer; the first
// non-empty resolution wins.
const maxLocationCandidates = 5

// minCandidateLen drops extracted place surfaces too short to be a
// plausible location name.
const minCandidateLen = 3

// locationStoplist filters extracted GPE/LOC surfaces that are common
// capitalization artifacts rather than real place names.
var locationStoplist = map[string]bool{
	"the": true, "here": true, "there": true, "unknown": true,
	"online": true, "internet": true, "today": true, "yesterday": true,
	"breaking": true, "update": true, "live": true, "world": true,
}

// ignoredSourceIDSubstrings maps a source to substrings that mark a
// record as a re-broadcast to be silently ignored rather than stored:
// mastodon relays of EMSC earthquake bot posts, which USGS/GDACS
// already cover.
var ignoredSourceIDSubstrings = map[record.Source]string{
	record.SourceMastodon: "emsc",
}

// Pipeline drains the Intake Queue and persists validated, deduplicated,
// location-enriched records into the Item Store.
type Pipeline struct {
	queue     *intake.Queue
	items     *store.ItemStore
	resolver  gazetteer.Resolver
	extractor clustering.EntityExtractor

	batchSize int
	now       func() time.Time
	log       *slog.Logger

	Stats Stats
}

// New builds a Pipeline. resolver may be nil, in which case location
// enrichment is skipped entirely (every coordinate-less record is
// counted under NoLocationData at persist time).
func New(queue *intake.Queue, items *store.ItemStore, resolver gazetteer.Resolver, extractor clustering.EntityExtractor, log *slog.Logger) *Pipeline {
	if extractor == nil {
		extractor = clustering.NewRuleBasedExtractor()
	}
	return &Pipeline{
		queue:     queue,
		items:     items,
		resolver:  resolver,
		extractor: extractor,
		batchSize: DefaultBatchSize,
		now:       time.Now,
		log:       log,
	}
}

// WithBatchSize overrides the default batch size. Returns p for chaining.
func (p *Pipeline) WithBatchSize(n int) *Pipeline {
	if n > 0 {
		p.batchSize = n
	}
	return p
}

// WithClock overrides the pipeline's notion of "now", for tests.
func (p *Pipeline) WithClock(now func() time.Time) *Pipeline {
	p.now = now
	return p
}

// RunOnce drains up to one batch from the queue and processes it in
// fixed order. A nil error means the batch (which may be empty) was
// fully processed; a non-nil error means a database failure interrupted
// persistence and the caller should sleep and retry.
func (p *Pipeline) RunOnce(ctx context.Context) error {
	batch := p.drainBatch()
	if len(batch) == 0 {
		return nil
	}

	for range batch {
		p.Stats.incProcessed()
	}

	valid := p.validate(batch)
	deduped := p.dropIntraBatchDuplicates(valid)
	survivors, err := p.dropStoreDuplicates(ctx, deduped)
	if err != nil {
		p.Stats.incUnknownError()
		return fmt.Errorf("store dedup: %w", err)
	}

	for i := range survivors {
		p.enrichLocation(ctx, &survivors[i])
	}

	for _, rec := range survivors {
		if err := p.persist(ctx, rec); err != nil {
			p.Stats.incUnknownError()
			return fmt.Errorf("persist record (source=%s source_id=%s): %w", rec.Source, rec.SourceID, err)
		}
	}

	if p.log != nil {
		p.log.Info("ingestion batch complete", statsLogValue(p.Stats.Snapshot())...)
	}

	return nil
}

// drainBatch pulls at most batchSize records off the queue. The queue is
// consume-on-read, so any records beyond batchSize are pushed back for
// the next run.
func (p *Pipeline) drainBatch() []record.IngestionRecord {
	all := p.queue.GetRawItems()
	if len(all) <= p.batchSize {
		return all
	}
	overflow := append([]record.IngestionRecord(nil), all[p.batchSize:]...)
	p.queue.Push(overflow)
	return all[:p.batchSize]
}

// validate drops records that fail record.Validate (step 1).
func (p *Pipeline) validate(batch []record.IngestionRecord) []record.IngestionRecord {
	out := make([]record.IngestionRecord, 0, len(batch))
	for _, rec := range batch {
		if problems := record.Validate(rec); len(problems) > 0 {
			p.Stats.incValidationErrors()
			if p.log != nil {
				p.log.Debug("dropping invalid record", "source", rec.Source, "source_id", rec.SourceID, "problems", problems)
			}
			continue
		}
		out = append(out, rec)
	}
	return out
}

// dropIntraBatchDuplicates keeps only the first occurrence of each
// (source, source_id) pair within the batch (step 2).
func (p *Pipeline) dropIntraBatchDuplicates(batch []record.IngestionRecord) []record.IngestionRecord {
	seen := make(map[string]bool, len(batch))
	out := make([]record.IngestionRecord, 0, len(batch))
	for _, rec := range batch {
		key := string(rec.Source) + "|" + rec.SourceID
		if seen[key] {
			p.Stats.incSkippedDuplicates()
			continue
		}
		seen[key] = true
		out = append(out, rec)
	}
	return out
}

// dropStoreDuplicates groups survivors by source and issues one
// existence query per source group, dropping records already persisted
// (step 3).
func (p *Pipeline) dropStoreDuplicates(ctx context.Context, batch []record.IngestionRecord) ([]record.IngestionRecord, error) {
	bySource := make(map[record.Source][]string)
	for _, rec := range batch {
		bySource[rec.Source] = append(bySource[rec.Source], rec.SourceID)
	}

	existing := make(map[string]bool)
	for source, ids := range bySource {
		found, err := p.items.ExistingSourceIDs(ctx, source, ids)
		if err != nil {
			return nil, err
		}
		for id := range found {
			existing[string(source)+"|"+id] = true
		}
	}

	out := make([]record.IngestionRecord, 0, len(batch))
	for _, rec := range batch {
		if existing[string(rec.Source)+"|"+rec.SourceID] {
			p.Stats.incSkippedDuplicates()
			continue
		}
		out = append(out, rec)
	}
	return out, nil
}

// enrichLocation fills in LocationName/Lat/Lon for records that have
// content to extract a place name from but no coordinates of their own
// (step 4). It mutates rec in place; failures simply leave rec without
// coordinates for the persist step to count.
func (p *Pipeline) enrichLocation(ctx context.Context, rec *record.IngestionRecord) {
	if rec.Lat != nil && rec.Lon != nil {
		return
	}
	if p.resolver == nil {
		return
	}
	text := strings.TrimSpace(rec.Title + " " + rec.Text)
	if text == "" {
		return
	}

	p.Stats.incLocationNERAttempted()

	candidates := p.locationCandidates(text)
	if len(candidates) == 0 {
		return
	}
	p.Stats.incLocationNERFound()

	for i, surface := range candidates {
		if i >= maxLocationCandidates {
			break
		}
		cand, err := p.resolver.Resolve(ctx, surface, "")
		if err != nil {
			if p.log != nil {
				p.log.Warn("gazetteer resolve failed", "surface", surface, "error", err)
			}
			continue
		}
		if cand == nil {
			continue
		}
		rec.LocationName = cand.Name
		lat, lon := cand.Lat, cand.Lon
		rec.Lat = &lat
		rec.Lon = &lon
		p.Stats.incLocationResolved()
		return
	}
}

// locationCandidates extracts GPE entity surfaces from text, filters
// out short/stoplisted/all-lowercase-single-token noise, and
// case-insensitively dedupes while preserving first-seen order.
func (p *Pipeline) locationCandidates(text string) []string {
	entities := p.extractor.Extract(text)
	raw := append([]string(nil), entities[clustering.LabelGPE]...)

	seen := make(map[string]bool, len(raw))
	out := make([]string, 0, len(raw))
	for _, surface := range raw {
		trimmed := strings.TrimSpace(surface)
		if len(trimmed) < minCandidateLen {
			continue
		}
		lower := strings.ToLower(trimmed)
		if locationStoplist[lower] {
			continue
		}
		if !strings.Contains(trimmed, " ") && trimmed == lower {
			// a single all-lowercase token is never a genuine
			// capitalized place-name extraction; it slipped in via a
			// structured/semantic extractor bucket instead.
			continue
		}
		if seen[lower] {
			continue
		}
		seen[lower] = true
		out = append(out, trimmed)
	}
	return out
}

// persist applies the final filtering rules and upserts survivors into
// the Item Store (step 5).
func (p *Pipeline) persist(ctx context.Context, rec record.IngestionRecord) error {
	if substr, ok := ignoredSourceIDSubstrings[rec.Source]; ok && strings.Contains(strings.ToLower(rec.SourceID), substr) {
		p.Stats.incIgnored()
		return nil
	}

	if rec.Lat == nil || rec.Lon == nil {
		p.Stats.incNoLocationData()
		return nil
	}

	if rec.PublishedAt == "" {
		p.Stats.incMissingPublishedAt()
		return nil
	}

	collectedAt, err := parseCollectedAt(rec.CollectedAt)
	if err != nil {
		p.Stats.incInvalidCollectedAt()
		return nil
	}

	publishedAt, err := parsePublishedAt(rec.PublishedAt)
	if err != nil {
		p.Stats.incInvalidPublishedAt()
		return nil
	}

	item := store.NormalizedItem{
		Source:       rec.Source,
		SourceID:     rec.SourceID,
		CollectedAt:  collectedAt,
		PublishedAt:  &publishedAt,
		Title:        rec.Title,
		Text:         rec.Text,
		URL:          rec.URL,
		Author:       rec.Author,
		MediaURLs:    rec.MediaURLs,
		Entities:     rec.Entities,
		LocationName: rec.LocationName,
		Lat:          rec.Lat,
		Lon:          rec.Lon,
		Raw:          rec.Raw,
	}

	_, result, err := p.items.Upsert(ctx, item)
	if err != nil {
		return err
	}
	switch result {
	case store.Inserted:
		p.Stats.incInserted()
	case store.Duplicate:
		p.Stats.incSkippedDuplicates()
	}
	return nil
}

// parseCollectedAt converts the record's unix-seconds CollectedAt into a
// UTC time.Time. record.Validate already rejects non-positive values,
// but the pipeline re-checks at persist time.
func parseCollectedAt(unixSeconds int64) (time.Time, error) {
	if unixSeconds <= 0 {
		return time.Time{}, fmt.Errorf("collected_at must be positive, got %d", unixSeconds)
	}
	return time.Unix(unixSeconds, 0).UTC(), nil
}

// parsePublishedAt parses an ISO-8601 published_at, defaulting to UTC
// when the timestamp carries no zone offset (the last two layouts).
func parsePublishedAt(s string) (time.Time, error) {
	for _, layout := range []string{time.RFC3339, time.RFC3339Nano, "2006-01-02T15:04:05", "2006-01-02"} {
		if t, err := time.Parse(layout, s); err == nil {
			return t.UTC(), nil
		}
	}
	return time.Time{}, fmt.Errorf("unparseable published_at %q", s)
}

// statsLogValue renders a snapshot into slog attrs, used by callers that
// want a single structured log line per batch.
func statsLogValue(s Stats) []any {
	return []any{
		"processed", strconv.FormatInt(s.Processed, 10),
		"inserted", strconv.FormatInt(s.Inserted, 10),
		"skipped_duplicates", strconv.FormatInt(s.SkippedDuplicates, 10),
		"validation_errors", strconv.FormatInt(s.ValidationErrors, 10),
		"no_location_data", strconv.FormatInt(s.NoLocationData, 10),
		"missing_published_at", strconv.FormatInt(s.MissingPublishedAt, 10),
		"invalid_collected_at", strconv.FormatInt(s.InvalidCollectedAt, 10),
		"invalid_published_at", strconv.FormatInt(s.InvalidPublishedAt, 10),
		"ignored", strconv.FormatInt(s.Ignored, 10),
		"location_ner_attempted", strconv.FormatInt(s.LocationNERAttempted, 10),
		"location_ner_found", strconv.FormatInt(s.LocationNERFound, 10),
		"location_resolved", strconv.FormatInt(s.LocationResolved, 10),
		"unknown_error", strconv.FormatInt(s.UnknownError, 10),
	}
}
