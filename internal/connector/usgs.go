package connector

import (
	"context"
	"encoding/json"
	"fmt"
	"iter"
	"time"

	"github.com/mihasm/news-globe/internal/record"
)

// usgsFeeds maps a friendly feed name to its GeoJSON URL, mirroring the
// handful of summary feeds USGS publishes.
var usgsFeeds = map[string]string{
	"all_hour":         "https://earthquake.usgs.gov/earthquakes/feed/v1.0/summary/all_hour.geojson",
	"all_day":          "https://earthquake.usgs.gov/earthquakes/feed/v1.0/summary/all_day.geojson",
	"significant_hour": "https://earthquake.usgs.gov/earthquakes/feed/v1.0/summary/significant_hour.geojson",
	"significant_day":  "https://earthquake.usgs.gov/earthquakes/feed/v1.0/summary/significant_day.geojson",
}

const defaultUSGSFeed = "significant_hour"

type geoJSONFeatureCollection struct {
	Features []geoJSONFeature `json:"features"`
}

type geoJSONFeature struct {
	ID         string          `json:"id"`
	Properties json.RawMessage `json:"properties"`
	Geometry   struct {
		Type        string    `json:"type"`
		Coordinates []float64 `json:"coordinates"`
	} `json:"geometry"`
}

type usgsProperties struct {
	Code  string  `json:"code"`
	Mag   *float64 `json:"mag"`
	Place string  `json:"place"`
	URL   string  `json:"url"`
	Time  int64   `json:"time"` // milliseconds since epoch
	Sig   int     `json:"sig"`
}

// USGS polls a single USGS earthquake GeoJSON summary feed.
type USGS struct {
	httpconnector
	feedURL string
}

// NewUSGS builds a USGS connector for the named feed (see usgsFeeds);
// an unrecognised name falls back to defaultUSGSFeed.
func NewUSGS(feedName string, timeout time.Duration) *USGS {
	url, ok := usgsFeeds[feedName]
	if !ok {
		feedName = defaultUSGSFeed
		url = usgsFeeds[defaultUSGSFeed]
	}
	return &USGS{
		httpconnector: newHTTPConnector(string(record.SourceUSGS), map[string]string{"feed": feedName}, timeout, 1),
		feedURL:       url,
	}
}

// Fetch polls the configured feed and yields one record per earthquake.
func (u *USGS) Fetch(ctx context.Context) iter.Seq2[record.IngestionRecord, error] {
	return func(yield func(record.IngestionRecord, error) bool) {
		resp, err := u.get(ctx, u.feedURL)
		if err != nil {
			yield(record.IngestionRecord{}, err)
			return
		}
		defer resp.Body.Close()

		var fc geoJSONFeatureCollection
		if err := json.NewDecoder(resp.Body).Decode(&fc); err != nil {
			yield(record.IngestionRecord{}, fmt.Errorf("decode usgs response: %w", err))
			return
		}

		now := time.Now().Unix()
		for _, f := range fc.Features {
			var props usgsProperties
			if err := json.Unmarshal(f.Properties, &props); err != nil {
				if !yield(record.IngestionRecord{}, fmt.Errorf("decode usgs feature %s: %w", f.ID, err)) {
					return
				}
				continue
			}

			sourceID := props.Code
			if sourceID == "" {
				sourceID = f.ID
			}

			rec := record.IngestionRecord{
				Source:      record.SourceUSGS,
				SourceID:    sourceID,
				CollectedAt: now,
				Title:       usgsTitle(props),
				URL:         props.URL,
				PublishedAt: msToRFC3339(props.Time),
				Entities:    map[string]string{"significance": fmt.Sprintf("%d", props.Sig)},
			}
			if props.Mag != nil {
				rec.Entities["magnitude"] = fmt.Sprintf("%.1f", *props.Mag)
			}
			if f.Geometry.Type == "Point" && len(f.Geometry.Coordinates) >= 2 {
				lon, lat := f.Geometry.Coordinates[0], f.Geometry.Coordinates[1]
				rec.Lat, rec.Lon = &lat, &lon
				rec.LocationName = props.Place
			}

			if !yield(rec, nil) {
				return
			}
		}
	}
}

func usgsTitle(props usgsProperties) string {
	if props.Mag != nil {
		return fmt.Sprintf("M%.1f - %s", *props.Mag, props.Place)
	}
	return props.Place
}

func msToRFC3339(ms int64) string {
	if ms <= 0 {
		return ""
	}
	return time.UnixMilli(ms).UTC().Format(time.RFC3339)
}
