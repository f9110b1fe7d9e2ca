package gazetteer

import (
	"bytes"
	"encoding/json"
	"io"
	"os"
	"strings"
	"sync"

	"github.com/klauspost/compress/gzip"
)

// cacheKey normalises a query the same way for every backend:
// lowercased and trimmed, so "Tokyo", " tokyo", "TOKYO " all share one
// cache entry.
func cacheKey(surface, countryHint string) string {
	return strings.ToLower(strings.TrimSpace(surface)) + "|" + strings.ToLower(strings.TrimSpace(countryHint))
}

// queryCache is the small local KV shared by both resolver backends.
// It is snapshotted to disk gzip-compressed, reusing the same
// compression choice as the cluster index snapshot instead of adding a
// second library for the same concern.
type queryCache struct {
	mu      sync.RWMutex
	entries map[string]*Candidate // nil value means "resolved to nothing", cached too
}

func newQueryCache() *queryCache {
	return &queryCache{entries: make(map[string]*Candidate)}
}

func (c *queryCache) get(surface, countryHint string) (*Candidate, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	v, ok := c.entries[cacheKey(surface, countryHint)]
	return v, ok
}

func (c *queryCache) put(surface, countryHint string, cand *Candidate) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries[cacheKey(surface, countryHint)] = cand
}

// cacheSnapshot is the on-disk, gzip-compressed JSON form of queryCache.
type cacheSnapshot struct {
	Entries map[string]*Candidate `json:"entries"`
}

// save gzip-compresses and writes the cache to path.
func (c *queryCache) save(path string) error {
	c.mu.RLock()
	snap := cacheSnapshot{Entries: c.entries}
	c.mu.RUnlock()

	var buf bytes.Buffer
	gw := gzip.NewWriter(&buf)
	if err := json.NewEncoder(gw).Encode(snap); err != nil {
		gw.Close()
		return err
	}
	if err := gw.Close(); err != nil {
		return err
	}
	return os.WriteFile(path, buf.Bytes(), 0o644)
}

// loadQueryCache reads a gzip-compressed cache snapshot from path. A missing
// file is not an error; the cache simply starts empty.
func loadQueryCache(path string) (*queryCache, error) {
	c := newQueryCache()

	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return c, nil
		}
		return nil, err
	}
	defer f.Close()

	gr, err := gzip.NewReader(f)
	if err != nil {
		return nil, err
	}
	defer gr.Close()

	var snap cacheSnapshot
	raw, err := io.ReadAll(gr)
	if err != nil {
		return nil, err
	}
	if err := json.Unmarshal(raw, &snap); err != nil {
		return nil, err
	}
	if snap.Entries != nil {
		c.entries = snap.Entries
	}
	return c, nil
}
