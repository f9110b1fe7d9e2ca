package connector

import (
	"context"
	"encoding/json"
	"fmt"
	"iter"
	"strings"
	"time"

	"github.com/theory/jsonpath"

	"github.com/mihasm/news-globe/internal/record"
)

type mastodonStatus struct {
	ID         string `json:"id"`
	CreatedAt  string `json:"created_at"`
	Content    string `json:"content"`
	URL        string `json:"url"`
	Account    struct {
		Username    string `json:"username"`
		DisplayName string `json:"display_name"`
	} `json:"account"`
	MediaAttachments []struct {
		URL string `json:"url"`
	} `json:"media_attachments"`
	Tags []struct {
		Name string `json:"name"`
	} `json:"tags"`
}

// Mastodon polls a single instance's public timeline endpoint.
// Raw-payload fields outside the canonical schema (application name,
// visibility, reblog depth, etc.) are pulled into Entities via
// configurable JSONPath expressions, keeping "dynamic attribute access
// on raw payloads" out of the core record type.
type Mastodon struct {
	httpconnector
	timelineURL  string
	entityPaths  map[string]*jsonpath.Path
}

// MastodonConfig configures a Mastodon connector.
type MastodonConfig struct {
	// InstanceBaseURL, e.g. "https://mastodon.social".
	InstanceBaseURL string
	// Tag restricts the timeline to a hashtag; empty polls the public
	// local timeline.
	Tag string
	// EntityPaths maps an Entities key to a JSONPath expression
	// evaluated against each raw status payload.
	EntityPaths map[string]string
	Timeout     time.Duration
}

// NewMastodon builds a Mastodon connector from cfg. JSONPath expressions
// that fail to parse are skipped (logged by the caller, not here — this
// package has no logger of its own, matching the other connectors).
func NewMastodon(cfg MastodonConfig) *Mastodon {
	timelineURL := strings.TrimRight(cfg.InstanceBaseURL, "/") + "/api/v1/timelines/public?local=true&limit=40"
	if cfg.Tag != "" {
		timelineURL = fmt.Sprintf("%s/api/v1/timelines/tag/%s?limit=40", strings.TrimRight(cfg.InstanceBaseURL, "/"), cfg.Tag)
	}

	paths := make(map[string]*jsonpath.Path, len(cfg.EntityPaths))
	for key, expr := range cfg.EntityPaths {
		if p, err := jsonpath.Parse(expr); err == nil {
			paths[key] = p
		}
	}

	return &Mastodon{
		httpconnector: newHTTPConnector(string(record.SourceMastodon), map[string]string{
			"instance": cfg.InstanceBaseURL,
			"tag":      cfg.Tag,
		}, cfg.Timeout, 1),
		timelineURL: timelineURL,
		entityPaths: paths,
	}
}

// Fetch polls the configured timeline and yields one record per status.
func (m *Mastodon) Fetch(ctx context.Context) iter.Seq2[record.IngestionRecord, error] {
	return func(yield func(record.IngestionRecord, error) bool) {
		resp, err := m.get(ctx, m.timelineURL)
		if err != nil {
			yield(record.IngestionRecord{}, err)
			return
		}
		defer resp.Body.Close()

		var raw []json.RawMessage
		if err := json.NewDecoder(resp.Body).Decode(&raw); err != nil {
			yield(record.IngestionRecord{}, fmt.Errorf("decode mastodon response: %w", err))
			return
		}

		now := time.Now().Unix()
		for _, rawStatus := range raw {
			var status mastodonStatus
			if err := json.Unmarshal(rawStatus, &status); err != nil {
				if !yield(record.IngestionRecord{}, fmt.Errorf("decode mastodon status: %w", err)) {
					return
				}
				continue
			}

			var mediaURLs []string
			for _, a := range status.MediaAttachments {
				mediaURLs = append(mediaURLs, a.URL)
			}

			rec := record.IngestionRecord{
				Source:      record.SourceMastodon,
				SourceID:    status.ID,
				CollectedAt: now,
				Text:        stripHTML(status.Content),
				URL:         status.URL,
				Author:      status.Account.Username,
				MediaURLs:   mediaURLs,
				PublishedAt: status.CreatedAt,
				Entities:    m.extractEntities(rawStatus),
			}
			if !yield(rec, nil) {
				return
			}
		}
	}
}

// extractEntities evaluates each configured JSONPath against the raw
// status payload and records the first match's string form, if any.
func (m *Mastodon) extractEntities(rawStatus json.RawMessage) map[string]string {
	if len(m.entityPaths) == 0 {
		return nil
	}
	var data any
	if err := json.Unmarshal(rawStatus, &data); err != nil {
		return nil
	}

	out := make(map[string]string, len(m.entityPaths))
	for key, path := range m.entityPaths {
		matches := path.Select(data)
		if len(matches) == 0 {
			continue
		}
		out[key] = fmt.Sprintf("%v", matches[0])
	}
	if len(out) == 0 {
		return nil
	}
	return out
}

// stripHTML does a minimal tag strip of Mastodon's HTML-formatted
// status content. Good enough for clustering/entity-extraction text,
// which tolerates stray punctuation far better than missing paragraphs.
func stripHTML(s string) string {
	var b strings.Builder
	inTag := false
	for _, r := range s {
		switch {
		case r == '<':
			inTag = true
		case r == '>':
			inTag = false
		case !inTag:
			b.WriteRune(r)
		}
	}
	return strings.Join(strings.Fields(b.String()), " ")
}
