// Package api is a reference read-side handler over the Item and
// Cluster Stores: GET /clusters (GeoJSON), GET /stats, DELETE
// /delete-all. The production read API lives elsewhere; this handler
// honors its documented contract so the store layer can be exercised
// end to end.
package api

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/mihasm/news-globe/internal/logging"
	"github.com/mihasm/news-globe/internal/store"
)

const (
	// DefaultClusterLimit and MaxClusterLimit bound GET /clusters.
	DefaultClusterLimit = 2000
	MaxClusterLimit     = 5000

	// defaultSince is the lookback used when no since parameter is given.
	defaultSince = 24 * time.Hour
)

// Server serves the read-side endpoints.
type Server struct {
	items    *store.ItemStore
	clusters *store.ClusterStore
	now      func() time.Time
	logger   *slog.Logger
}

// NewServer builds a read-side server over the stores.
func NewServer(items *store.ItemStore, clusters *store.ClusterStore, logger *slog.Logger) *Server {
	return &Server{
		items:    items,
		clusters: clusters,
		now:      time.Now,
		logger:   logging.Default(logger).With("component", "api"),
	}
}

// WithClock overrides the server's notion of "now", for tests.
func (s *Server) WithClock(now func() time.Time) *Server {
	s.now = now
	return s
}

// Handler returns the http.Handler for the read-side surface.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /clusters", s.handleClusters)
	mux.HandleFunc("GET /stats", s.handleStats)
	mux.HandleFunc("DELETE /delete-all", s.handleDeleteAll)
	return s.corsMiddleware(mux)
}

func (s *Server) corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, DELETE, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type")
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// feature is one cluster rendered as a GeoJSON Feature.
type feature struct {
	Type       string         `json:"type"`
	Geometry   *geometry      `json:"geometry"`
	Properties map[string]any `json:"properties"`
}

type geometry struct {
	Type        string    `json:"type"`
	Coordinates []float64 `json:"coordinates"` // [lon, lat]
}

type featureCollection struct {
	Type     string    `json:"type"`
	Features []feature `json:"features"`
}

func (s *Server) handleClusters(w http.ResponseWriter, r *http.Request) {
	since, err := s.parseSince(r.URL.Query().Get("since"))
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	limit, err := parseLimit(r.URL.Query().Get("limit"))
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	clusters, err := s.clusters.RecentSince(r.Context(), since, limit)
	if err != nil {
		s.logger.Error("listing clusters failed", "error", err)
		writeError(w, http.StatusInternalServerError, "listing clusters failed")
		return
	}

	fc := featureCollection{Type: "FeatureCollection", Features: make([]feature, 0, len(clusters))}
	for _, c := range clusters {
		members, err := s.items.MembersOf(r.Context(), c.ID)
		if err != nil {
			s.logger.Error("listing cluster members failed", "cluster_id", c.ID, "error", err)
			writeError(w, http.StatusInternalServerError, "listing cluster members failed")
			return
		}
		fc.Features = append(fc.Features, clusterFeature(c, members))
	}

	writeJSON(w, http.StatusOK, fc)
}

func clusterFeature(c store.Cluster, members []store.NormalizedItem) feature {
	var geom *geometry
	if c.RepresentativeLat != nil && c.RepresentativeLon != nil {
		geom = &geometry{Type: "Point", Coordinates: []float64{*c.RepresentativeLon, *c.RepresentativeLat}}
	}

	items := make([]map[string]any, 0, len(members))
	for _, m := range members {
		entry := map[string]any{
			"id":        m.ID,
			"source":    m.Source,
			"source_id": m.SourceID,
			"title":     m.Title,
			"url":       m.URL,
		}
		if m.PublishedAt != nil {
			entry["published_at"] = m.PublishedAt.UTC().Format(time.RFC3339)
		}
		items = append(items, entry)
	}

	return feature{
		Type:     "Feature",
		Geometry: geom,
		Properties: map[string]any{
			"cluster_id":                   c.ID.String(),
			"item_count":                   c.ItemCount,
			"title":                        c.Title,
			"summary":                      c.Summary,
			"representative_location_name": c.RepresentativeLocationName,
			"representative_lat":           c.RepresentativeLat,
			"representative_lon":           c.RepresentativeLon,
			"first_seen_at":                c.FirstSeenAt.UTC().Format(time.RFC3339),
			"last_seen_at":                 c.LastSeenAt.UTC().Format(time.RFC3339),
			"items":                        items,
		},
	}
}

func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	items, err := s.items.Count(ctx)
	if err != nil {
		s.logger.Error("counting items failed", "error", err)
		writeError(w, http.StatusInternalServerError, "counting items failed")
		return
	}
	clustered, err := s.items.ClusteredCount(ctx)
	if err != nil {
		s.logger.Error("counting clustered items failed", "error", err)
		writeError(w, http.StatusInternalServerError, "counting clustered items failed")
		return
	}
	clusters, err := s.clusters.Count(ctx)
	if err != nil {
		s.logger.Error("counting clusters failed", "error", err)
		writeError(w, http.StatusInternalServerError, "counting clusters failed")
		return
	}
	writeJSON(w, http.StatusOK, map[string]int{
		"items":           items,
		"clustered_items": clustered,
		"clusters":        clusters,
	})
}

func (s *Server) handleDeleteAll(w http.ResponseWriter, r *http.Request) {
	if err := s.clusters.DeleteAll(r.Context()); err != nil {
		s.logger.Error("delete-all failed", "error", err)
		writeError(w, http.StatusInternalServerError, "delete-all failed")
		return
	}
	s.logger.Info("all items and clusters deleted")
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// parseSince accepts "<N>h", "<N>d", or ISO-8601; empty uses the default
// 24h lookback.
func (s *Server) parseSince(raw string) (time.Time, error) {
	now := s.now()
	if raw == "" {
		return now.Add(-defaultSince), nil
	}

	if n, unit, ok := relativeSince(raw); ok {
		switch unit {
		case 'h':
			return now.Add(-time.Duration(n) * time.Hour), nil
		case 'd':
			return now.Add(-time.Duration(n) * 24 * time.Hour), nil
		}
	}

	ts, err := time.Parse(time.RFC3339, raw)
	if err != nil {
		return time.Time{}, fmt.Errorf("since must be <N>h, <N>d or ISO-8601, got %q", raw)
	}
	return ts, nil
}

func relativeSince(raw string) (int, byte, bool) {
	if len(raw) < 2 {
		return 0, 0, false
	}
	unit := raw[len(raw)-1]
	if unit != 'h' && unit != 'd' {
		return 0, 0, false
	}
	n, err := strconv.Atoi(strings.TrimSuffix(raw, string(unit)))
	if err != nil || n <= 0 {
		return 0, 0, false
	}
	return n, unit, true
}

func parseLimit(raw string) (int, error) {
	if raw == "" {
		return DefaultClusterLimit, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n <= 0 {
		return 0, fmt.Errorf("limit must be a positive integer, got %q", raw)
	}
	if n > MaxClusterLimit {
		n = MaxClusterLimit
	}
	return n, nil
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// writeError renders {error: msg}; raw internals never cross the wire.
func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
