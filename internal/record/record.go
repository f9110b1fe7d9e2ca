// Package record defines the canonical IngestionRecord schema produced by
// every connector and validated before it enters the pipeline.
//
// Validation is pure and side-effect-free: Validate returns a list of
// human-readable problems, and an empty list means the record is valid.
// Running Validate twice on the same record always yields the same result.
package record

import "fmt"

// Source identifies which upstream a record came from.
type Source string

// Recognised sources. Connectors must use one of these values.
const (
	SourceGDELT     Source = "gdelt"
	SourceTelegram  Source = "telegram"
	SourceMastodon  Source = "mastodon"
	SourceADSB      Source = "adsb"
	SourceAIS       Source = "ais"
	SourceRSS       Source = "rss"
	SourceGDACS     Source = "gdacs"
	SourceUSGS      Source = "usgs"
)

// allowedSources is the set Validate checks Source against.
var allowedSources = map[Source]bool{
	SourceGDELT:    true,
	SourceTelegram: true,
	SourceMastodon: true,
	SourceADSB:     true,
	SourceAIS:      true,
	SourceRSS:      true,
	SourceGDACS:    true,
	SourceUSGS:     true,
}

// IngestionRecord is the canonical record type every connector produces.
// (source, source_id) is unique only in conjunction with each other — two
// different sources may reuse the same source_id.
type IngestionRecord struct {
	Source      Source `json:"source"`
	SourceID    string `json:"source_id"`
	CollectedAt int64  `json:"collected_at"` // unix seconds, strictly positive

	// Optional content.
	Title       string   `json:"title,omitempty"`
	Text        string   `json:"text,omitempty"`
	URL         string   `json:"url,omitempty"`
	Author      string   `json:"author,omitempty"`
	MediaURLs   []string `json:"media_urls,omitempty"`
	PublishedAt string   `json:"published_at,omitempty"` // ISO-8601, empty if unknown

	// Optional structured.
	Entities     map[string]string `json:"entities,omitempty"`
	LocationName string            `json:"location_name,omitempty"`
	Lat          *float64          `json:"lat,omitempty"`
	Lon          *float64          `json:"lon,omitempty"`

	// Raw is the original payload, kept opaque for debugging.
	Raw string `json:"raw,omitempty"`
}

// Validate checks required fields and coordinate ranges. It returns a list
// of human-readable problems; an empty (non-nil or nil) slice means the
// record is valid. Validate never mutates r and never performs I/O.
func Validate(r IngestionRecord) []string {
	var errs []string

	if r.Source == "" {
		errs = append(errs, "source is required")
	} else if !allowedSources[r.Source] {
		errs = append(errs, fmt.Sprintf("source %q is not a recognised source", r.Source))
	}

	if r.SourceID == "" {
		errs = append(errs, "source_id is required")
	}

	if r.CollectedAt <= 0 {
		errs = append(errs, "collected_at must be a positive unix timestamp")
	}

	if errs2 := validateCoordinates(r.Lat, r.Lon); len(errs2) > 0 {
		errs = append(errs, errs2...)
	}

	return errs
}

// validateCoordinates enforces the IngestionRecord invariant: if Lat is
// present then Lon must be present too, and both in their valid WGS84
// ranges. Neither present is valid (coordinates are optional).
func validateCoordinates(lat, lon *float64) []string {
	var errs []string

	if lat == nil && lon == nil {
		return nil
	}
	if lat == nil || lon == nil {
		return []string{"lat and lon must both be present or both absent"}
	}

	if *lat < -90 || *lat > 90 {
		errs = append(errs, fmt.Sprintf("lat %v out of range [-90,90]", *lat))
	}
	if *lon < -180 || *lon > 180 {
		errs = append(errs, fmt.Sprintf("lon %v out of range [-180,180]", *lon))
	}

	return errs
}

// Valid reports whether r passes Validate with no errors. Convenience
// wrapper for call sites that only need a boolean.
func Valid(r IngestionRecord) bool {
	return len(Validate(r)) == 0
}
