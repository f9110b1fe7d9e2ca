package store

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/vmihailenco/msgpack/v5"

	"github.com/mihasm/news-globe/internal/record"
)

// ItemStore is the Item Store: one row per NormalizedItem, unique on
// (source, source_id).
type ItemStore struct {
	db *sql.DB
}

// Upsert inserts item if (source, source_id) is new, otherwise leaves the
// existing row untouched. The distinction between Inserted and Duplicate
// is how the Ingestion Pipeline counts its per-batch stats.
func (s *ItemStore) Upsert(ctx context.Context, item NormalizedItem) (int64, UpsertResult, error) {
	mediaBlob, err := msgpack.Marshal(item.MediaURLs)
	if err != nil {
		return 0, 0, fmt.Errorf("marshal media_urls: %w", err)
	}
	entitiesBlob, err := msgpack.Marshal(item.Entities)
	if err != nil {
		return 0, 0, fmt.Errorf("marshal entities: %w", err)
	}

	var publishedAt *int64
	if item.PublishedAt != nil {
		v := item.PublishedAt.Unix()
		publishedAt = &v
	}

	res, err := s.db.ExecContext(ctx, `
		INSERT INTO items
			(source, source_id, collected_at, published_at, title, text, url,
			 author, media_urls, entities, location_name, lat, lon, raw, cluster_id)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(source, source_id) DO NOTHING
	`,
		string(item.Source), item.SourceID, item.CollectedAt.Unix(), publishedAt,
		item.Title, item.Text, item.URL, item.Author, mediaBlob, entitiesBlob,
		item.LocationName, item.Lat, item.Lon, item.Raw, clusterIDOrNil(item.ClusterID),
	)
	if err != nil {
		return 0, 0, fmt.Errorf("upsert item: %w", err)
	}

	affected, err := res.RowsAffected()
	if err != nil {
		return 0, 0, fmt.Errorf("rows affected: %w", err)
	}
	if affected == 0 {
		existing, err := s.getID(ctx, item.Source, item.SourceID)
		if err != nil {
			return 0, 0, err
		}
		return existing, Duplicate, nil
	}

	id, err := res.LastInsertId()
	if err != nil {
		return 0, 0, fmt.Errorf("last insert id: %w", err)
	}
	return id, Inserted, nil
}

func (s *ItemStore) getID(ctx context.Context, source record.Source, sourceID string) (int64, error) {
	var id int64
	err := s.db.QueryRowContext(ctx,
		`SELECT id FROM items WHERE source = ? AND source_id = ?`,
		string(source), sourceID,
	).Scan(&id)
	if err != nil {
		return 0, fmt.Errorf("lookup existing item: %w", err)
	}
	return id, nil
}

// ExistingSourceIDs returns the subset of sourceIDs already present for
// source, used by the pipeline's store-level dedup step before
// attempting each upsert.
func (s *ItemStore) ExistingSourceIDs(ctx context.Context, source record.Source, sourceIDs []string) (map[string]bool, error) {
	out := make(map[string]bool, len(sourceIDs))
	if len(sourceIDs) == 0 {
		return out, nil
	}

	placeholders := make([]string, len(sourceIDs))
	args := make([]any, 0, len(sourceIDs)+1)
	args = append(args, string(source))
	for i, id := range sourceIDs {
		placeholders[i] = "?"
		args = append(args, id)
	}

	query := fmt.Sprintf(
		`SELECT source_id FROM items WHERE source = ? AND source_id IN (%s)`,
		strings.Join(placeholders, ","),
	)
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("existing source ids: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scan source id: %w", err)
		}
		out[id] = true
	}
	return out, rows.Err()
}

// Unassigned returns up to limit items with no cluster yet, oldest first,
// for the Clustering Engine to consume.
func (s *ItemStore) Unassigned(ctx context.Context, limit int) ([]NormalizedItem, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, source, source_id, collected_at, published_at, title, text, url,
		       author, media_urls, entities, location_name, lat, lon, raw, cluster_id
		FROM items
		WHERE cluster_id IS NULL
		ORDER BY COALESCE(published_at, collected_at) ASC
		LIMIT ?
	`, limit)
	if err != nil {
		return nil, fmt.Errorf("query unassigned items: %w", err)
	}
	defer rows.Close()
	return scanItems(rows)
}

// SetClusterID assigns itemID to clusterID. It does not check the
// item's current cluster_id; the engine calls it on items returned by
// Unassigned, so an item is reassigned only after DetachCluster.
func (s *ItemStore) SetClusterID(ctx context.Context, itemID int64, clusterID uuid.UUID) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE items SET cluster_id = ? WHERE id = ?`,
		clusterID.String(), itemID,
	)
	if err != nil {
		return fmt.Errorf("assign cluster: %w", err)
	}
	return nil
}

// MembersOf returns every item assigned to clusterID, newest first.
func (s *ItemStore) MembersOf(ctx context.Context, clusterID uuid.UUID) ([]NormalizedItem, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, source, source_id, collected_at, published_at, title, text, url,
		       author, media_urls, entities, location_name, lat, lon, raw, cluster_id
		FROM items
		WHERE cluster_id = ?
		ORDER BY COALESCE(published_at, collected_at) DESC
	`, clusterID.String())
	if err != nil {
		return nil, fmt.Errorf("query cluster members: %w", err)
	}
	defer rows.Close()
	return scanItems(rows)
}

// DetachCluster clears cluster_id on every item assigned to clusterID,
// the first half of the cleanup-by-horizon operation: items
// outlive the cluster they once belonged to, they simply become
// unassigned again rather than being deleted.
func (s *ItemStore) DetachCluster(ctx context.Context, clusterID uuid.UUID) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE items SET cluster_id = NULL WHERE cluster_id = ?`,
		clusterID.String(),
	)
	if err != nil {
		return fmt.Errorf("detach cluster members: %w", err)
	}
	return nil
}

// Count returns the total number of stored items.
func (s *ItemStore) Count(ctx context.Context) (int, error) {
	var n int
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM items`).Scan(&n); err != nil {
		return 0, fmt.Errorf("count items: %w", err)
	}
	return n, nil
}

// ClusteredCount returns how many items have been assigned a cluster.
func (s *ItemStore) ClusteredCount(ctx context.Context) (int, error) {
	var n int
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM items WHERE cluster_id IS NOT NULL`).Scan(&n); err != nil {
		return 0, fmt.Errorf("count clustered items: %w", err)
	}
	return n, nil
}

func scanItems(rows *sql.Rows) ([]NormalizedItem, error) {
	var out []NormalizedItem
	for rows.Next() {
		var (
			it                   NormalizedItem
			source               string
			collectedAtUnix      int64
			publishedAtUnix      sql.NullInt64
			mediaBlob, entBlob   []byte
			lat, lon             sql.NullFloat64
			clusterID            sql.NullString
		)
		if err := rows.Scan(
			&it.ID, &source, &it.SourceID, &collectedAtUnix, &publishedAtUnix,
			&it.Title, &it.Text, &it.URL, &it.Author, &mediaBlob, &entBlob,
			&it.LocationName, &lat, &lon, &it.Raw, &clusterID,
		); err != nil {
			return nil, fmt.Errorf("scan item: %w", err)
		}

		it.Source = record.Source(source)
		it.CollectedAt = time.Unix(collectedAtUnix, 0).UTC()
		if publishedAtUnix.Valid {
			t := time.Unix(publishedAtUnix.Int64, 0).UTC()
			it.PublishedAt = &t
		}
		if len(mediaBlob) > 0 {
			if err := msgpack.Unmarshal(mediaBlob, &it.MediaURLs); err != nil {
				return nil, fmt.Errorf("unmarshal media_urls: %w", err)
			}
		}
		if len(entBlob) > 0 {
			if err := msgpack.Unmarshal(entBlob, &it.Entities); err != nil {
				return nil, fmt.Errorf("unmarshal entities: %w", err)
			}
		}
		if lat.Valid {
			v := lat.Float64
			it.Lat = &v
		}
		if lon.Valid {
			v := lon.Float64
			it.Lon = &v
		}
		if clusterID.Valid {
			id, err := uuid.Parse(clusterID.String)
			if err != nil {
				return nil, fmt.Errorf("parse cluster id: %w", err)
			}
			it.ClusterID = &id
		}

		out = append(out, it)
	}
	return out, rows.Err()
}

func clusterIDOrNil(id *uuid.UUID) any {
	if id == nil {
		return nil
	}
	return id.String()
}
