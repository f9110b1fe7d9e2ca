package gazetteer

import (
	"context"
	"database/sql"
	"fmt"
	"math"
	"strings"

	_ "modernc.org/sqlite"
)

// placeRow mirrors the `places` table, a minimal GeoNames-shaped
// gazetteer: one row per name an entity is known by.
type placeRow struct {
	name           string
	preferredName  bool
	lat, lon       float64
	featureClass   string // "A" admin/country, "P" populated place
	featureCode    string // e.g. "PCLI", "PPLC", "PPLA", "PPLA2"
	population     int64
	countryCode    string
	adminQualifier string // extra tokens beyond the bare place name, e.g. "Province"
}

// featureIntentKeywords map a surface token to a feature class the
// caller is explicitly asking for ("Tokyo city" -> "P"), overriding the
// default single-token country-preference rule.
var featureIntentKeywords = map[string]string{
	"city":     "P",
	"town":     "P",
	"village":  "P",
	"province": "A",
	"region":   "A",
	"state":    "A",
	"county":   "A",
	"district": "A",
}

// administrativeQualifiers are tokens that make a surface string a
// strict subset of an official name purely by omitting an
// administrative suffix, not by naming a different place.
var administrativeQualifiers = map[string]bool{
	"province": true,
	"region":   true,
	"state":    true,
	"county":   true,
	"district": true,
	"prefecture": true,
	"oblast":   true,
}

// SQLiteResolver implements Resolver against a local places table,
// for deployments with no geocoding service to call.
type SQLiteResolver struct {
	db    *sql.DB
	cache *queryCache
}

// NewSQLiteResolver opens (or creates) the gazetteer database at path
// and, if cachePath is non-empty, loads a prior query cache snapshot.
func NewSQLiteResolver(path, cachePath string) (*SQLiteResolver, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open gazetteer db: %w", err)
	}
	db.SetMaxOpenConns(1)

	if _, err := db.Exec(`
		CREATE TABLE IF NOT EXISTS places (
			name            TEXT NOT NULL,
			preferred_name  INTEGER NOT NULL DEFAULT 0,
			lat             REAL NOT NULL,
			lon             REAL NOT NULL,
			feature_class   TEXT NOT NULL,
			feature_code    TEXT NOT NULL,
			population      INTEGER NOT NULL DEFAULT 0,
			country_code    TEXT NOT NULL DEFAULT '',
			admin_qualifier TEXT NOT NULL DEFAULT ''
		);
		CREATE INDEX IF NOT EXISTS idx_places_name ON places(name);
	`); err != nil {
		db.Close()
		return nil, fmt.Errorf("apply gazetteer schema: %w", err)
	}

	var cache *queryCache
	if cachePath != "" {
		cache, err = loadQueryCache(cachePath)
		if err != nil {
			db.Close()
			return nil, fmt.Errorf("load gazetteer cache: %w", err)
		}
	} else {
		cache = newQueryCache()
	}

	return &SQLiteResolver{db: db, cache: cache}, nil
}

// Close closes the underlying database connection.
func (r *SQLiteResolver) Close() error { return r.db.Close() }

// SaveCache snapshots the query cache to path, gzip-compressed.
func (r *SQLiteResolver) SaveCache(path string) error { return r.cache.save(path) }

// InsertPlace adds a row to the gazetteer, for seeding/tests.
func (r *SQLiteResolver) InsertPlace(ctx context.Context, p placeRow) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO places (name, preferred_name, lat, lon, feature_class,
			feature_code, population, country_code, admin_qualifier)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, p.name, p.preferredName, p.lat, p.lon, p.featureClass, p.featureCode,
		p.population, p.countryCode, p.adminQualifier)
	return err
}

// Resolve implements Resolver against the local places table, scoring
// every candidate sharing the surface name and returning the best.
func (r *SQLiteResolver) Resolve(ctx context.Context, surface, countryHint string) (*Candidate, error) {
	if cand, ok := r.cache.get(surface, countryHint); ok {
		return cand, nil
	}

	tokens := strings.Fields(strings.ToLower(surface))
	rows, err := r.db.QueryContext(ctx, `
		SELECT name, preferred_name, lat, lon, feature_class, feature_code,
		       population, country_code, admin_qualifier
		FROM places WHERE name = ? COLLATE NOCASE
	`, strings.TrimSpace(surface))
	if err != nil {
		return nil, fmt.Errorf("query places: %w", err)
	}
	defer rows.Close()

	var candidates []placeRow
	for rows.Next() {
		var p placeRow
		var preferred int
		if err := rows.Scan(&p.name, &preferred, &p.lat, &p.lon, &p.featureClass,
			&p.featureCode, &p.population, &p.countryCode, &p.adminQualifier); err != nil {
			return nil, fmt.Errorf("scan place: %w", err)
		}
		p.preferredName = preferred != 0
		candidates = append(candidates, p)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	if len(candidates) == 0 {
		r.cache.put(surface, countryHint, nil)
		return nil, nil
	}

	best, bestScore := candidates[0], math.Inf(-1)
	for _, p := range candidates {
		s := scoreCandidate(p, tokens, countryHint)
		if s > bestScore {
			best, bestScore = p, s
		}
	}

	cand := &Candidate{
		Name: best.name, Lat: best.lat, Lon: best.lon,
		FeatureClass: best.featureClass, FeatureCode: best.featureCode,
		Population: best.population, CountryCode: best.countryCode,
	}
	r.cache.put(surface, countryHint, cand)
	return cand, nil
}

// scoreCandidate ranks one candidate row against the surface: a
// population prior plus name, feature-class and country adjustments.
func scoreCandidate(p placeRow, surfaceTokens []string, countryHint string) float64 {
	var score float64

	if p.population > 0 {
		score += math.Log10(float64(p.population))
	}

	if p.preferredName {
		score += 0.35
	}

	if len([]rune(p.name)) <= 3 {
		score -= 0.6
	}

	score += 0.05 * float64(len(surfaceTokens))

	wantFeature := ""
	for _, tok := range surfaceTokens {
		if fc, ok := featureIntentKeywords[tok]; ok {
			wantFeature = fc
			break
		}
	}
	isCountryLevel := p.featureClass == "A" && strings.HasPrefix(p.featureCode, "PCL")
	switch {
	case wantFeature != "":
		if p.featureClass == wantFeature {
			score += 0.4
		}
	case len(surfaceTokens) == 1:
		if isCountryLevel {
			score += 0.5
		} else if p.featureClass == "A" {
			score -= 0.2
		}
	default:
		if p.featureClass == "P" {
			score += 0.3
		} else if p.featureClass == "A" {
			score -= 0.3
		}
	}

	if countryHint != "" {
		if strings.EqualFold(p.countryCode, countryHint) {
			score += 2.5
		} else {
			score -= 1.5
		}
	}

	if p.adminQualifier != "" && administrativeQualifiers[strings.ToLower(p.adminQualifier)] {
		nameTokens := strings.Fields(strings.ToLower(p.name))
		if isStrictTokenSubset(surfaceTokens, nameTokens) {
			score -= 0.25
		}
	}

	return score
}

// isStrictTokenSubset reports whether every token in subset appears in
// superset and superset has at least one extra token.
func isStrictTokenSubset(subset, superset []string) bool {
	if len(subset) >= len(superset) {
		return false
	}
	have := make(map[string]bool, len(superset))
	for _, t := range superset {
		have[t] = true
	}
	for _, t := range subset {
		if !have[t] {
			return false
		}
	}
	return true
}
