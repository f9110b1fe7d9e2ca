package connector

import (
	"context"
	"encoding/json"
	"fmt"
	"iter"
	"net/url"
	"strconv"
	"time"

	"github.com/mihasm/news-globe/internal/record"
)

const gdeltDocEndpoint = "https://api.gdeltproject.org/api/v2/doc/doc"

type gdeltArticle struct {
	URL         string `json:"url"`
	Title       string `json:"title"`
	SeenDate    string `json:"seendate"`
	SourceCountry string `json:"sourcecountry"`
	Domain      string `json:"domain"`
	Language    string `json:"language"`
	SocialImage string `json:"socialimage"`
}

type gdeltResponse struct {
	Articles []gdeltArticle `json:"articles"`
}

// GDELT polls the GDELT DOC 2.0 API for articles matching a fixed query.
type GDELT struct {
	httpconnector
	endpoint   string
	query      string
	maxRecords int
	sort       string
}

// NewGDELT builds a GDELT connector. query follows GDELT's boolean query
// syntax; maxRecords caps the articles fetched per call (GDELT's own
// ceiling is 250).
func NewGDELT(query string, maxRecords int, timeout time.Duration) *GDELT {
	if maxRecords <= 0 {
		maxRecords = 50
	}
	return &GDELT{
		httpconnector: newHTTPConnector(string(record.SourceGDELT), map[string]string{
			"query":       query,
			"max_records": strconv.Itoa(maxRecords),
		}, timeout, 1),
		endpoint:   gdeltDocEndpoint,
		query:      query,
		maxRecords: maxRecords,
		sort:       "datedesc",
	}
}

// Fetch issues one DOC API request and yields one record per article.
func (g *GDELT) Fetch(ctx context.Context) iter.Seq2[record.IngestionRecord, error] {
	return func(yield func(record.IngestionRecord, error) bool) {
		q := url.Values{}
		q.Set("query", g.query)
		q.Set("mode", "ArtList")
		q.Set("format", "json")
		q.Set("maxrecords", strconv.Itoa(g.maxRecords))
		q.Set("sort", g.sort)

		resp, err := g.get(ctx, g.endpoint+"?"+q.Encode())
		if err != nil {
			yield(record.IngestionRecord{}, err)
			return
		}
		defer resp.Body.Close()

		var parsed gdeltResponse
		if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
			yield(record.IngestionRecord{}, fmt.Errorf("decode gdelt response: %w", err))
			return
		}

		now := time.Now().Unix()
		for _, a := range parsed.Articles {
			if a.URL == "" {
				continue
			}
			var mediaURLs []string
			if a.SocialImage != "" {
				mediaURLs = []string{a.SocialImage}
			}
			rec := record.IngestionRecord{
				Source:      record.SourceGDELT,
				SourceID:    a.URL,
				CollectedAt: now,
				Title:       a.Title,
				URL:         a.URL,
				MediaURLs:   mediaURLs,
				PublishedAt: parseGDELTDate(a.SeenDate),
				Entities: map[string]string{
					"domain":         a.Domain,
					"language":       a.Language,
					"source_country": a.SourceCountry,
				},
			}
			if !yield(rec, nil) {
				return
			}
		}
	}
}

// gdeltDateLayout is GDELT's seendate format: "20240102T150405Z".
const gdeltDateLayout = "20060102T150405Z"

func parseGDELTDate(s string) string {
	if s == "" {
		return ""
	}
	t, err := time.Parse(gdeltDateLayout, s)
	if err != nil {
		return ""
	}
	return t.UTC().Format(time.RFC3339)
}
