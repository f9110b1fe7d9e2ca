// Package intake implements the Intake Queue: the sole hand-off point
// between the Supervisor's connectors and the Ingestion Pipeline.
//
// The queue is the only synchronisation point between those two
// components. It is bounded only by memory; producers never block and
// consumers receive whatever is present at the moment of the call. No
// item returned by Get is ever returned again.
package intake

import (
	"fmt"
	"sync"

	"github.com/mihasm/news-globe/internal/record"
)

// ConfigKey identifies a persistent, read-without-consume configuration
// value stored alongside the raw item queue.
type ConfigKey string

// Recognised persistent config keys. Queue.SetConfig rejects any other key.
const (
	ConfigTweetSources  ConfigKey = "tweet_sources"
	ConfigSearchQueries ConfigKey = "search_queries"
)

// Health is the shape returned by Queue.Health.
type Health struct {
	Status            string `json:"status"`
	RawItemsQueueSize int    `json:"raw_items_queue_size"`
}

// Queue is the process-local hand-off store between the supervisor's
// workers and the ingestion pipeline. Safe for concurrent use; a single
// mutex serialises every operation, which is sufficient at the scale
// this system runs at.
type Queue struct {
	mu sync.Mutex

	rawItems []record.IngestionRecord

	tweetSources  map[string]bool
	searchQueries []string
}

// New creates an empty Queue.
func New() *Queue {
	return &Queue{
		tweetSources: make(map[string]bool),
	}
}

// Push appends every item in batch atomically and returns the new queue
// size. Producers (connectors, via the Supervisor) never block on Push.
func (q *Queue) Push(batch []record.IngestionRecord) int {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.rawItems = append(q.rawItems, batch...)
	return len(q.rawItems)
}

// GetRawItems returns the entire current queue and clears it atomically.
// Consume-on-read: a subsequent call returns an empty slice until more
// items are pushed.
func (q *Queue) GetRawItems() []record.IngestionRecord {
	q.mu.Lock()
	defer q.mu.Unlock()
	if len(q.rawItems) == 0 {
		return nil
	}
	items := q.rawItems
	q.rawItems = nil
	return items
}

// Size returns the current number of items waiting in the raw item queue,
// without consuming them.
func (q *Queue) Size() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.rawItems)
}

// Health reports the queue's current status for the /get/health endpoint.
func (q *Queue) Health() Health {
	return Health{Status: "ok", RawItemsQueueSize: q.Size()}
}

// SetTweetSources replaces the stored tweet_sources map. Last-writer-wins.
func (q *Queue) SetTweetSources(v map[string]bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	cp := make(map[string]bool, len(v))
	for k, b := range v {
		cp[k] = b
	}
	q.tweetSources = cp
}

// TweetSources returns the current tweet_sources map without consuming it.
func (q *Queue) TweetSources() map[string]bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	cp := make(map[string]bool, len(q.tweetSources))
	for k, b := range q.tweetSources {
		cp[k] = b
	}
	return cp
}

// SetSearchQueries replaces the stored search_queries list. Last-writer-wins.
func (q *Queue) SetSearchQueries(v []string) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.searchQueries = append([]string(nil), v...)
}

// SearchQueries returns the current search_queries list without consuming it.
func (q *Queue) SearchQueries() []string {
	q.mu.Lock()
	defer q.mu.Unlock()
	return append([]string(nil), q.searchQueries...)
}

// ErrUnknownConfigKey is returned by SetConfig for any key other than the
// recognised ConfigKey constants.
var ErrUnknownConfigKey = fmt.Errorf("unknown config key")

// SetConfig is the generic entry point used by the HTTP POST handler: it
// dispatches to SetTweetSources or SetSearchQueries based on key, type
// asserting value into the expected shape.
func (q *Queue) SetConfig(key ConfigKey, value any) error {
	switch key {
	case ConfigTweetSources:
		m, ok := value.(map[string]bool)
		if !ok {
			return fmt.Errorf("tweet_sources value must be an object of string to bool")
		}
		q.SetTweetSources(m)
		return nil
	case ConfigSearchQueries:
		l, ok := value.([]string)
		if !ok {
			return fmt.Errorf("search_queries value must be an array of strings")
		}
		q.SetSearchQueries(l)
		return nil
	default:
		return fmt.Errorf("%w: %s", ErrUnknownConfigKey, key)
	}
}
