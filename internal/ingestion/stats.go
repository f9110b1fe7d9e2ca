package ingestion

import "sync/atomic"

// Stats is the pipeline's cumulative observability surface. All fields
// are safe for concurrent increment; Snapshot copies each counter with
// its own atomic load, so the copy is not taken under one lock.
type Stats struct {
	Processed           int64
	Inserted            int64
	SkippedDuplicates   int64
	ValidationErrors    int64
	NoLocationData      int64
	MissingPublishedAt  int64
	InvalidCollectedAt  int64
	InvalidPublishedAt  int64
	Ignored             int64
	LocationNERAttempted int64
	LocationNERFound    int64
	LocationResolved    int64
	UnknownError        int64
}

func (s *Stats) incProcessed()            { atomic.AddInt64(&s.Processed, 1) }
func (s *Stats) incInserted()             { atomic.AddInt64(&s.Inserted, 1) }
func (s *Stats) incSkippedDuplicates()    { atomic.AddInt64(&s.SkippedDuplicates, 1) }
func (s *Stats) incValidationErrors()     { atomic.AddInt64(&s.ValidationErrors, 1) }
func (s *Stats) incNoLocationData()       { atomic.AddInt64(&s.NoLocationData, 1) }
func (s *Stats) incMissingPublishedAt()   { atomic.AddInt64(&s.MissingPublishedAt, 1) }
func (s *Stats) incInvalidCollectedAt()   { atomic.AddInt64(&s.InvalidCollectedAt, 1) }
func (s *Stats) incInvalidPublishedAt()   { atomic.AddInt64(&s.InvalidPublishedAt, 1) }
func (s *Stats) incIgnored()              { atomic.AddInt64(&s.Ignored, 1) }
func (s *Stats) incLocationNERAttempted() { atomic.AddInt64(&s.LocationNERAttempted, 1) }
func (s *Stats) incLocationNERFound()     { atomic.AddInt64(&s.LocationNERFound, 1) }
func (s *Stats) incLocationResolved()     { atomic.AddInt64(&s.LocationResolved, 1) }
func (s *Stats) incUnknownError()         { atomic.AddInt64(&s.UnknownError, 1) }

// Snapshot returns a copy of the current counters.
func (s *Stats) Snapshot() Stats {
	return Stats{
		Processed:            atomic.LoadInt64(&s.Processed),
		Inserted:             atomic.LoadInt64(&s.Inserted),
		SkippedDuplicates:    atomic.LoadInt64(&s.SkippedDuplicates),
		ValidationErrors:     atomic.LoadInt64(&s.ValidationErrors),
		NoLocationData:       atomic.LoadInt64(&s.NoLocationData),
		MissingPublishedAt:   atomic.LoadInt64(&s.MissingPublishedAt),
		InvalidCollectedAt:   atomic.LoadInt64(&s.InvalidCollectedAt),
		InvalidPublishedAt:   atomic.LoadInt64(&s.InvalidPublishedAt),
		Ignored:              atomic.LoadInt64(&s.Ignored),
		LocationNERAttempted: atomic.LoadInt64(&s.LocationNERAttempted),
		LocationNERFound:     atomic.LoadInt64(&s.LocationNERFound),
		LocationResolved:     atomic.LoadInt64(&s.LocationResolved),
		UnknownError:         atomic.LoadInt64(&s.UnknownError),
	}
}
