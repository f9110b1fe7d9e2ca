package connector

import (
	"context"
	"encoding/json"
	"fmt"
	"iter"
	"time"

	"github.com/mihasm/news-globe/internal/record"
)

const gdacsGeoJSONFeed = "https://www.gdacs.org/contentdata/xml/gdacs.geojson"

type gdacsProperties struct {
	EventID     string `json:"eventid"`
	EventType   string `json:"eventtype"`
	AlertLevel  string `json:"alertlevel"`
	EventName   string `json:"eventname"`
	Country     string `json:"country"`
	FromDate    string `json:"fromdate"`
	URL         struct {
		Report string `json:"report"`
	} `json:"url"`
}

// GDACS polls the GDACS multi-hazard GeoJSON feed.
type GDACS struct {
	httpconnector
}

// NewGDACS builds a GDACS connector.
func NewGDACS(timeout time.Duration) *GDACS {
	return &GDACS{
		httpconnector: newHTTPConnector(string(record.SourceGDACS), map[string]string{"feed": "geojson"}, timeout, 1),
	}
}

// Fetch polls the GDACS GeoJSON feed and yields one record per hazard event.
func (g *GDACS) Fetch(ctx context.Context) iter.Seq2[record.IngestionRecord, error] {
	return func(yield func(record.IngestionRecord, error) bool) {
		resp, err := g.get(ctx, gdacsGeoJSONFeed)
		if err != nil {
			yield(record.IngestionRecord{}, err)
			return
		}
		defer resp.Body.Close()

		var fc geoJSONFeatureCollection
		if err := json.NewDecoder(resp.Body).Decode(&fc); err != nil {
			yield(record.IngestionRecord{}, fmt.Errorf("decode gdacs response: %w", err))
			return
		}

		now := time.Now().Unix()
		for _, f := range fc.Features {
			var props gdacsProperties
			if err := json.Unmarshal(f.Properties, &props); err != nil {
				if !yield(record.IngestionRecord{}, fmt.Errorf("decode gdacs feature %s: %w", f.ID, err)) {
					return
				}
				continue
			}

			sourceID := props.EventID
			if sourceID == "" {
				sourceID = f.ID
			}

			rec := record.IngestionRecord{
				Source:      record.SourceGDACS,
				SourceID:    sourceID,
				CollectedAt: now,
				Title:       props.EventName,
				URL:         props.URL.Report,
				PublishedAt: parseGDACSDate(props.FromDate),
				Entities: map[string]string{
					"event_type":  props.EventType,
					"alert_level": props.AlertLevel,
				},
				LocationName: props.Country,
			}
			if f.Geometry.Type == "Point" && len(f.Geometry.Coordinates) >= 2 {
				lon, lat := f.Geometry.Coordinates[0], f.Geometry.Coordinates[1]
				rec.Lat, rec.Lon = &lat, &lon
			}

			if !yield(rec, nil) {
				return
			}
		}
	}
}

func parseGDACSDate(s string) string {
	if s == "" {
		return ""
	}
	for _, layout := range []string{time.RFC3339, "2006-01-02T15:04:05"} {
		if t, err := time.Parse(layout, s); err == nil {
			return t.UTC().Format(time.RFC3339)
		}
	}
	return ""
}
