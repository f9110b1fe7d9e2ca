package connector

import (
	"context"
	"encoding/xml"
	"fmt"
	"io"
	"iter"
	"strconv"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/mihasm/news-globe/internal/record"
)

// rssFeed is the minimal RSS 2.0 shape this connector needs; the
// <item> layout is simple enough for stdlib encoding/xml.
type rssFeed struct {
	XMLName xml.Name  `xml:"rss"`
	Channel rssChannel `xml:"channel"`
}

type rssChannel struct {
	Items []rssItem `xml:"item"`
}

type rssItem struct {
	Title       string `xml:"title"`
	Link        string `xml:"link"`
	GUID        string `xml:"guid"`
	Description string `xml:"description"`
	PubDate     string `xml:"pubDate"`
	Author      string `xml:"author"`
}

// RSS polls a fixed set of feed URLs concurrently, bounded by a
// configurable fan-out, and yields one record per <item>.
type RSS struct {
	httpconnector
	feeds []string
}

// NewRSS builds an RSS connector. feeds is the list of feed URLs to
// poll every Fetch call; fanOut bounds concurrent feed requests
// (0 = defaultFanOut).
func NewRSS(feeds []string, fanOut int, timeout time.Duration) *RSS {
	cfg := map[string]string{
		"feed_count": strconv.Itoa(len(feeds)),
		"fan_out":    strconv.Itoa(fanOutOrDefault(fanOut)),
	}
	return &RSS{
		httpconnector: newHTTPConnector(string(record.SourceRSS), cfg, timeout, fanOut),
		feeds:         feeds,
	}
}

func fanOutOrDefault(n int) int {
	if n <= 0 {
		return defaultFanOut
	}
	return n
}

// Fetch polls every configured feed concurrently (bounded by fan_out)
// and yields each parsed item as it completes.
func (r *RSS) Fetch(ctx context.Context) iter.Seq2[record.IngestionRecord, error] {
	return func(yield func(record.IngestionRecord, error) bool) {
		results := make(chan fetchResult)
		g, gctx := errgroup.WithContext(ctx)
		g.SetLimit(r.fanOut)

		go func() {
			for _, feedURL := range r.feeds {
				feedURL := feedURL
				g.Go(func() error {
					return r.fetchOne(gctx, feedURL, results)
				})
			}
			g.Wait()
			close(results)
		}()

		for res := range results {
			if !yield(res.rec, res.err) {
				return
			}
		}
	}
}

// fetchOne fetches and parses a single feed, sending one fetchResult per
// item (or one error result on failure) onto results. Never returns an
// error itself — per-feed failures are reported as stream items so one
// bad feed never aborts the whole fan-out.
func (r *RSS) fetchOne(ctx context.Context, feedURL string, results chan<- fetchResult) error {
	resp, err := r.get(ctx, feedURL)
	if err != nil {
		select {
		case results <- fetchResult{err: err}:
		case <-ctx.Done():
		}
		return nil
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		select {
		case results <- fetchResult{err: fmt.Errorf("read %s: %w", feedURL, err)}:
		case <-ctx.Done():
		}
		return nil
	}

	var feed rssFeed
	if err := xml.Unmarshal(body, &feed); err != nil {
		select {
		case results <- fetchResult{err: fmt.Errorf("parse %s: %w", feedURL, err)}:
		case <-ctx.Done():
		}
		return nil
	}

	now := time.Now().Unix()
	for _, item := range feed.Channel.Items {
		rec := record.IngestionRecord{
			Source:      record.SourceRSS,
			SourceID:    rssItemID(item),
			CollectedAt: now,
			Title:       strings.TrimSpace(item.Title),
			Text:        strings.TrimSpace(item.Description),
			URL:         item.Link,
			Author:      item.Author,
			PublishedAt: parseRSSDate(item.PubDate),
		}
		select {
		case results <- fetchResult{rec: rec}:
		case <-ctx.Done():
			return nil
		}
	}
	return nil
}

// rssItemID picks the most stable identifier available: guid, then link.
func rssItemID(item rssItem) string {
	if item.GUID != "" {
		return item.GUID
	}
	return item.Link
}

// rssDateLayouts are the pubDate formats seen across real-world feeds,
// tried in order; RFC1123Z (RSS 2.0's documented format) first.
var rssDateLayouts = []string{
	time.RFC1123Z,
	time.RFC1123,
	time.RFC3339,
}

// parseRSSDate normalises a feed's pubDate to ISO-8601 UTC, or returns
// "" if unparseable (the Ingestion Pipeline counts that as
// invalid/missing published_at, not a connector-level failure).
func parseRSSDate(s string) string {
	s = strings.TrimSpace(s)
	if s == "" {
		return ""
	}
	for _, layout := range rssDateLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t.UTC().Format(time.RFC3339)
		}
	}
	return ""
}
