// Package gazetteer resolves free-text place names ("Tokyo", "near
// Gaza") to coordinates for the Ingestion Pipeline's location
// enrichment step. Two implementations share one interface: an offline
// SQLite-backed resolver and a thin HTTP client for an external
// geocoding service, selected at startup by configuration.
package gazetteer

import "context"

// Candidate is a single gazetteer match.
type Candidate struct {
	Name         string
	Lat          float64
	Lon          float64
	FeatureClass string // e.g. "A" (admin/country), "P" (populated place)
	FeatureCode  string // e.g. "PCLI", "PPLC", "PPLA"
	Population   int64
	CountryCode  string
}

// Resolver maps a surface string (optionally with a country hint
// inferred from context) to its best-scoring candidate. It returns
// (nil, nil) when nothing matches — that is not an error.
type Resolver interface {
	Resolve(ctx context.Context, surface string, countryHint string) (*Candidate, error)
}
