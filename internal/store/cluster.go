package store

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/vmihailenco/msgpack/v5"
)

// ClusterStore is the Cluster Store: one row per Cluster, keyed by UUID.
type ClusterStore struct {
	db  *sql.DB
	now func() time.Time
}

// Create inserts a brand-new cluster, seeded from its first member.
func (s *ClusterStore) Create(ctx context.Context, c Cluster) error {
	tagsBlob, err := msgpack.Marshal(c.Tags)
	if err != nil {
		return fmt.Errorf("marshal tags: %w", err)
	}

	now := s.now().Unix()
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO clusters
			(id, title, summary, tags, representative_lat, representative_lon,
			 representative_location_name, item_count, first_seen_at, last_seen_at,
			 created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`,
		c.ID.String(), c.Title, c.Summary, tagsBlob,
		c.RepresentativeLat, c.RepresentativeLon, c.RepresentativeLocationName,
		c.ItemCount, c.FirstSeenAt.Unix(), c.LastSeenAt.Unix(), now, now,
	)
	if err != nil {
		return fmt.Errorf("create cluster: %w", err)
	}
	return nil
}

// Get fetches a single cluster by id.
func (s *ClusterStore) Get(ctx context.Context, id uuid.UUID) (Cluster, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, title, summary, tags, representative_lat, representative_lon,
		       representative_location_name, item_count, first_seen_at, last_seen_at,
		       created_at, updated_at
		FROM clusters WHERE id = ?
	`, id.String())
	return scanCluster(row)
}

// RecentSince returns up to cap clusters last seen at or after since,
// most recently seen first. This backs the Clustering Engine's periodic
// index refresh and the read-side cluster listing.
func (s *ClusterStore) RecentSince(ctx context.Context, since time.Time, cap int) ([]Cluster, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, title, summary, tags, representative_lat, representative_lon,
		       representative_location_name, item_count, first_seen_at, last_seen_at,
		       created_at, updated_at
		FROM clusters
		WHERE last_seen_at >= ?
		ORDER BY last_seen_at DESC
		LIMIT ?
	`, since.Unix(), cap)
	if err != nil {
		return nil, fmt.Errorf("query recent clusters: %w", err)
	}
	defer rows.Close()

	var out []Cluster
	for rows.Next() {
		c, err := scanClusterRows(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

// RecalculateStats recomputes item_count, first/last_seen_at and the
// representative coordinates/location name of clusterID from its current
// members: representative coordinates are the mean of
// member coordinates, representative_location_name is the most common
// non-empty member location name, first/last_seen_at are the min/max of
// COALESCE(published_at, collected_at) across members.
func (s *ClusterStore) RecalculateStats(ctx context.Context, clusterID uuid.UUID, items *ItemStore) error {
	members, err := items.MembersOf(ctx, clusterID)
	if err != nil {
		return err
	}
	if len(members) == 0 {
		return nil
	}

	var (
		latSum, lonSum float64
		coordCount     int
		first, last    time.Time
		locationCounts = make(map[string]int)
	)

	for i, m := range members {
		t := m.PreferredTime()
		if i == 0 || t.Before(first) {
			first = t
		}
		if i == 0 || t.After(last) {
			last = t
		}
		if m.HasCoordinates() {
			latSum += *m.Lat
			lonSum += *m.Lon
			coordCount++
		}
		if m.LocationName != "" {
			locationCounts[m.LocationName]++
		}
	}

	var repLat, repLon *float64
	if coordCount > 0 {
		lat := latSum / float64(coordCount)
		lon := lonSum / float64(coordCount)
		repLat, repLon = &lat, &lon
	}

	var repLocation string
	best := 0
	for name, count := range locationCounts {
		if count > best {
			repLocation, best = name, count
		}
	}

	_, err = s.db.ExecContext(ctx, `
		UPDATE clusters
		SET item_count = ?, first_seen_at = ?, last_seen_at = ?,
		    representative_lat = ?, representative_lon = ?,
		    representative_location_name = ?, updated_at = ?
		WHERE id = ?
	`,
		len(members), first.Unix(), last.Unix(), repLat, repLon, repLocation,
		s.now().Unix(), clusterID.String(),
	)
	if err != nil {
		return fmt.Errorf("recalculate cluster stats: %w", err)
	}
	return nil
}

// NewestMemberText returns the newest member's concatenated title+body
// for clusterID, used as the cluster's representative text when it has
// no Title of its own.
func (s *ClusterStore) NewestMemberText(ctx context.Context, clusterID uuid.UUID, items *ItemStore) (string, error) {
	members, err := items.MembersOf(ctx, clusterID)
	if err != nil {
		return "", err
	}
	if len(members) == 0 {
		return "", nil
	}
	newest := members[0]
	return strings.TrimSpace(newest.Title + " " + newest.Text), nil
}

// DeleteOlderThan detaches and deletes every cluster whose last_seen_at
// is before horizon, returning the deleted IDs. Members are detached
// (cluster_id set NULL) rather than deleted: items outlive the cleanup
// horizon, only clusters are pruned.
func (s *ClusterStore) DeleteOlderThan(ctx context.Context, horizon time.Time, items *ItemStore) ([]uuid.UUID, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id FROM clusters WHERE last_seen_at < ?`, horizon.Unix(),
	)
	if err != nil {
		return nil, fmt.Errorf("query stale clusters: %w", err)
	}
	var ids []uuid.UUID
	for rows.Next() {
		var raw string
		if err := rows.Scan(&raw); err != nil {
			rows.Close()
			return nil, fmt.Errorf("scan stale cluster id: %w", err)
		}
		id, err := uuid.Parse(raw)
		if err != nil {
			rows.Close()
			return nil, fmt.Errorf("parse stale cluster id: %w", err)
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		rows.Close()
		return nil, err
	}
	rows.Close()

	for _, id := range ids {
		if err := items.DetachCluster(ctx, id); err != nil {
			return nil, err
		}
		if _, err := s.db.ExecContext(ctx, `DELETE FROM clusters WHERE id = ?`, id.String()); err != nil {
			return nil, fmt.Errorf("delete stale cluster: %w", err)
		}
	}
	return ids, nil
}

// Count returns the total number of stored clusters.
func (s *ClusterStore) Count(ctx context.Context) (int, error) {
	var n int
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM clusters`).Scan(&n); err != nil {
		return 0, fmt.Errorf("count clusters: %w", err)
	}
	return n, nil
}

// DeleteAll removes every item and cluster, backing the administrative
// delete-all operation.
func (s *ClusterStore) DeleteAll(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM items`); err != nil {
		return fmt.Errorf("delete all items: %w", err)
	}
	if _, err := s.db.ExecContext(ctx, `DELETE FROM clusters`); err != nil {
		return fmt.Errorf("delete all clusters: %w", err)
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanCluster(row *sql.Row) (Cluster, error) {
	return scanClusterGeneric(row)
}

func scanClusterRows(rows *sql.Rows) (Cluster, error) {
	return scanClusterGeneric(rows)
}

func scanClusterGeneric(row rowScanner) (Cluster, error) {
	var (
		c                       Cluster
		id                      string
		tagsBlob                []byte
		repLat, repLon          sql.NullFloat64
		firstSeen, lastSeen     int64
		createdAt, updatedAt    int64
	)
	if err := row.Scan(
		&id, &c.Title, &c.Summary, &tagsBlob, &repLat, &repLon,
		&c.RepresentativeLocationName, &c.ItemCount, &firstSeen, &lastSeen,
		&createdAt, &updatedAt,
	); err != nil {
		return Cluster{}, fmt.Errorf("scan cluster: %w", err)
	}

	parsed, err := uuid.Parse(id)
	if err != nil {
		return Cluster{}, fmt.Errorf("parse cluster id: %w", err)
	}
	c.ID = parsed
	c.FirstSeenAt = time.Unix(firstSeen, 0).UTC()
	c.LastSeenAt = time.Unix(lastSeen, 0).UTC()
	c.CreatedAt = time.Unix(createdAt, 0).UTC()
	c.UpdatedAt = time.Unix(updatedAt, 0).UTC()
	if repLat.Valid {
		v := repLat.Float64
		c.RepresentativeLat = &v
	}
	if repLon.Valid {
		v := repLon.Float64
		c.RepresentativeLon = &v
	}
	if len(tagsBlob) > 0 {
		if err := msgpack.Unmarshal(tagsBlob, &c.Tags); err != nil {
			return Cluster{}, fmt.Errorf("unmarshal tags: %w", err)
		}
	}
	return c, nil
}
