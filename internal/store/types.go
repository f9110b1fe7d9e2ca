// Package store implements the persisted side of the data model: the Item
// Store (one row per NormalizedItem, unique on (source, source_id)) and the
// Cluster Store (one row per Cluster, keyed by UUID). Both are backed by
// SQLite (modernc.org/sqlite, pure Go, no cgo): an embedded database is
// plenty for small, single-writer stores.
package store

import (
	"time"

	"github.com/google/uuid"

	"github.com/mihasm/news-globe/internal/record"
)

// NormalizedItem is the persisted, normalized form of an IngestionRecord.
// (Source, SourceID) is UNIQUE. ClusterID is nullable: nil until the
// Clustering Engine assigns it, and nil again if DetachCluster clears it
// when its cluster is removed.
type NormalizedItem struct {
	ID          int64
	Source      record.Source
	SourceID    string
	CollectedAt time.Time // ingest time
	PublishedAt *time.Time // event time; preferred over CollectedAt for ordering when present

	Title     string
	Text      string
	URL       string
	Author    string
	MediaURLs []string
	Entities  map[string]string

	LocationName string
	Lat          *float64
	Lon          *float64

	Raw string

	ClusterID *uuid.UUID
}

// PreferredTime returns PublishedAt when present, otherwise CollectedAt.
// Event time always wins over ingest time when ordering items.
func (n NormalizedItem) PreferredTime() time.Time {
	if n.PublishedAt != nil {
		return *n.PublishedAt
	}
	return n.CollectedAt
}

// HasCoordinates reports whether the item carries a resolved location.
func (n NormalizedItem) HasCoordinates() bool {
	return n.Lat != nil && n.Lon != nil
}

// Cluster is a persisted event cluster: a group of NormalizedItems judged
// to represent the same real-world story.
type Cluster struct {
	ID uuid.UUID

	Title   string
	Summary string
	Tags    []string

	RepresentativeLat          *float64
	RepresentativeLon          *float64
	RepresentativeLocationName string

	ItemCount int

	FirstSeenAt time.Time
	LastSeenAt  time.Time
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// UpsertResult distinguishes the two outcomes of Item Store upsert.
type UpsertResult int

const (
	// Inserted means the record was new and a row was created.
	Inserted UpsertResult = iota
	// Duplicate means (source, source_id) already existed; no row was written.
	Duplicate
)
