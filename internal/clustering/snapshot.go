package clustering

import (
	"bytes"
	"encoding/json"
	"io"
	"os"
	"time"

	"github.com/google/uuid"
	"github.com/klauspost/compress/gzip"
)

// snapshotEntry is the on-disk form of one IndexEntry. Features
// serialise as-is; the n-gram hash is fixed and non-salted, so vectors
// written by one process are valid in the next.
type snapshotEntry struct {
	ClusterID  uuid.UUID `json:"cluster_id"`
	LastSeenAt int64     `json:"last_seen_at"`
	Features   Features  `json:"features"`
}

// indexSnapshot is the gzip-compressed JSON envelope the index writes
// for warm starts after a restart.
type indexSnapshot struct {
	SavedAt int64           `json:"saved_at"`
	Entries []snapshotEntry `json:"entries"`
}

// SaveSnapshot writes the current entry set to path, gzip-compressed.
func (idx *Index) SaveSnapshot(path string) error {
	entries := idx.Entries()

	snap := indexSnapshot{
		SavedAt: idx.now().Unix(),
		Entries: make([]snapshotEntry, 0, len(entries)),
	}
	for _, e := range entries {
		snap.Entries = append(snap.Entries, snapshotEntry{
			ClusterID:  e.ClusterID,
			LastSeenAt: e.LastSeenAt.Unix(),
			Features:   e.Features,
		})
	}

	var buf bytes.Buffer
	gw := gzip.NewWriter(&buf)
	if err := json.NewEncoder(gw).Encode(snap); err != nil {
		gw.Close()
		return err
	}
	if err := gw.Close(); err != nil {
		return err
	}

	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, buf.Bytes(), 0o644); err != nil {
		return err
	}
	return os.Rename(tmp, path)
}

// LoadSnapshot replaces the index's entries with a snapshot previously
// written by SaveSnapshot, dropping entries that have aged out of the
// activity window. Returns the number of entries loaded. A missing file
// is not an error; the index simply stays empty.
func (idx *Index) LoadSnapshot(path string) (int, error) {
	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return 0, nil
		}
		return 0, err
	}
	defer f.Close()

	gr, err := gzip.NewReader(f)
	if err != nil {
		return 0, err
	}
	defer gr.Close()

	raw, err := io.ReadAll(gr)
	if err != nil {
		return 0, err
	}
	var snap indexSnapshot
	if err := json.Unmarshal(raw, &snap); err != nil {
		return 0, err
	}

	cutoff := idx.now().Add(-idx.window)
	entries := make(map[uuid.UUID]*IndexEntry, len(snap.Entries))
	for _, se := range snap.Entries {
		lastSeen := time.Unix(se.LastSeenAt, 0).UTC()
		if lastSeen.Before(cutoff) {
			continue
		}
		entries[se.ClusterID] = &IndexEntry{
			ClusterID:  se.ClusterID,
			LastSeenAt: lastSeen,
			Features:   se.Features,
		}
	}

	idx.mu.Lock()
	idx.entries = entries
	idx.mu.Unlock()
	return len(entries), nil
}
