package supervisor

import "sync/atomic"

// ConnectorStats tracks per-connector metrics using atomic counters.
// Safe for concurrent reads (from the stats surface) and writes (from
// the worker cycle).
type ConnectorStats struct {
	Cycles              atomic.Int64
	Fetched             atomic.Int64
	Pushed              atomic.Int64
	Errors              atomic.Int64
	ConsecutiveFailures atomic.Int64
}

// StatsSnapshot is a copy of one connector's counters. Snapshot loads
// each counter separately, so the copy is not taken atomically as a whole.
type StatsSnapshot struct {
	Cycles              int64 `json:"cycles"`
	Fetched             int64 `json:"fetched"`
	Pushed              int64 `json:"pushed"`
	Errors              int64 `json:"errors"`
	ConsecutiveFailures int64 `json:"consecutive_failures"`
}

// Snapshot copies the counters.
func (s *ConnectorStats) Snapshot() StatsSnapshot {
	return StatsSnapshot{
		Cycles:              s.Cycles.Load(),
		Fetched:             s.Fetched.Load(),
		Pushed:              s.Pushed.Load(),
		Errors:              s.Errors.Load(),
		ConsecutiveFailures: s.ConsecutiveFailures.Load(),
	}
}
