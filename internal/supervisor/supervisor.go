// Package supervisor runs one worker per enabled connector on its own
// interval, restarts failed workers with capped backoff, and pushes
// every fetched batch into the Intake Queue. It owns the supervisor
// state file ({schedules, connector_states}, last-writer-wins).
package supervisor

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/go-co-op/gocron/v2"

	"github.com/mihasm/news-globe/internal/connector"
	"github.com/mihasm/news-globe/internal/intake"
	"github.com/mihasm/news-globe/internal/logging"
	"github.com/mihasm/news-globe/internal/record"
)

const (
	// heartbeatInterval is the supervision loop cadence.
	heartbeatInterval = 10 * time.Second

	// maxErrorBackoff caps the post-error sleep: min(interval, 300s).
	maxErrorBackoff = 300 * time.Second

	// statsLogEvery controls how often the heartbeat emits a stats line.
	statsLogEvery = 6
)

var (
	// ErrAlreadyRunning is returned when Start is called twice.
	ErrAlreadyRunning = errors.New("supervisor already running")
	// ErrNotRunning is returned when Stop is called on a stopped supervisor.
	ErrNotRunning = errors.New("supervisor not running")
	// ErrUnknownConnector is returned for operations on an unregistered name.
	ErrUnknownConnector = errors.New("unknown connector")
)

// Supervisor schedules connectors via a shared gocron scheduler: one
// job per enabled connector plus a heartbeat job that respawns dead
// workers and persists state.
type Supervisor struct {
	mu sync.RWMutex

	queue *intake.Queue
	store *StateStore

	scheduler gocron.Scheduler

	connectors      map[string]connector.Connector
	schedules       map[string]Schedule
	jobs            map[string]gocron.Job
	dead            map[string]bool
	stats           map[string]*ConnectorStats
	connectorStates map[string]json.RawMessage

	running   bool
	ctx       context.Context
	cancel    context.CancelFunc
	stopWatch func()

	heartbeat atomic.Int64
	ticks     atomic.Int64

	now    func() time.Time
	logger *slog.Logger
}

// New builds a Supervisor over queue, persisting to store. store may be
// nil (state is neither loaded nor saved); logger may be nil.
func New(queue *intake.Queue, store *StateStore, logger *slog.Logger) (*Supervisor, error) {
	if logger == nil {
		logger = logging.Discard()
	}
	sched, err := gocron.NewScheduler()
	if err != nil {
		return nil, fmt.Errorf("create scheduler: %w", err)
	}
	return &Supervisor{
		queue:           queue,
		store:           store,
		scheduler:       sched,
		connectors:      make(map[string]connector.Connector),
		schedules:       make(map[string]Schedule),
		jobs:            make(map[string]gocron.Job),
		dead:            make(map[string]bool),
		stats:           make(map[string]*ConnectorStats),
		connectorStates: make(map[string]json.RawMessage),
		now:             time.Now,
		logger:          logger.With("component", "supervisor"),
	}, nil
}

// Register adds a connector with its default schedule. Must be called
// before Start; a persisted schedule for the same name overrides sched.
func (s *Supervisor) Register(c connector.Connector, sched Schedule) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.running {
		return ErrAlreadyRunning
	}
	name := c.Name()
	if _, exists := s.connectors[name]; exists {
		return fmt.Errorf("connector already registered: %s", name)
	}
	s.connectors[name] = c
	s.schedules[name] = sched
	s.stats[name] = &ConnectorStats{}
	return nil
}

// Start loads persisted state, spawns one job per enabled connector
// plus the heartbeat job, and begins watching the state file for
// operator edits. Start returns immediately; use Stop to shut down.
func (s *Supervisor) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.running {
		return ErrAlreadyRunning
	}

	if s.store != nil {
		st, err := s.store.Load()
		if err != nil {
			// Failure to load is non-fatal; start from registered defaults.
			s.logger.Warn("loading supervisor state failed", "path", s.store.Path(), "error", err)
		} else if st != nil {
			s.applyStateLocked(st)
		}
	}

	ctx, cancel := context.WithCancel(ctx)
	s.ctx = ctx
	s.cancel = cancel
	s.running = true

	s.logger.Info("starting supervisor", "connectors", len(s.connectors))

	for name := range s.connectors {
		if s.schedules[name].Enabled {
			s.spawnLocked(name)
		}
	}

	if _, err := s.scheduler.NewJob(
		gocron.DurationJob(heartbeatInterval),
		gocron.NewTask(s.heartbeatTick),
		gocron.WithName("heartbeat"),
		gocron.WithSingletonMode(gocron.LimitModeReschedule),
	); err != nil {
		cancel()
		s.running = false
		return fmt.Errorf("create heartbeat job: %w", err)
	}

	s.scheduler.Start()

	if s.store != nil {
		// Write the file up front so the watch has something to attach to.
		st := &State{Schedules: make(map[string]Schedule, len(s.schedules)), ConnectorStates: s.connectorStates}
		for name, sched := range s.schedules {
			st.Schedules[name] = sched
		}
		if err := s.store.Save(st); err != nil {
			s.logger.Warn("persisting supervisor state failed", "error", err)
		}
		stop, err := s.store.Watch(s.onStateFileChange)
		if err != nil {
			s.logger.Warn("state file watch unavailable", "error", err)
		} else {
			s.stopWatch = stop
		}
	}

	return nil
}

// Stop cancels every worker, waits for in-flight cycles to finish, and
// flushes state to disk.
func (s *Supervisor) Stop() error {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return ErrNotRunning
	}
	stopWatch := s.stopWatch
	cancel := s.cancel
	s.stopWatch = nil
	s.mu.Unlock()

	if stopWatch != nil {
		stopWatch()
	}
	cancel()

	// Shutdown waits for running jobs to complete.
	if err := s.scheduler.Shutdown(); err != nil {
		s.logger.Warn("scheduler shutdown", "error", err)
	}

	s.mu.Lock()
	s.running = false
	s.ctx = nil
	s.cancel = nil
	s.jobs = make(map[string]gocron.Job)
	s.mu.Unlock()

	s.persistState()
	s.logger.Info("supervisor stopped")
	return nil
}

// applyStateLocked merges persisted schedules and cursors over the
// registered defaults, last-writer-wins. Caller holds s.mu.
func (s *Supervisor) applyStateLocked(st *State) {
	for name, sched := range st.Schedules {
		s.schedules[name] = sched
	}
	for name, raw := range st.ConnectorStates {
		s.connectorStates[name] = raw
	}
}

// spawnLocked creates the gocron job for name. Caller holds s.mu.
func (s *Supervisor) spawnLocked(name string) {
	sched := s.schedules[name]
	job, err := s.scheduler.NewJob(
		gocron.DurationJob(sched.Interval()),
		gocron.NewTask(s.runCycle, name),
		gocron.WithName(name),
		gocron.WithSingletonMode(gocron.LimitModeReschedule),
		gocron.WithStartAt(gocron.WithStartImmediately()),
	)
	if err != nil {
		s.logger.Error("spawning worker failed", "connector", name, "error", err)
		return
	}
	s.jobs[name] = job
	delete(s.dead, name)
	s.logger.Info("worker started", "connector", name, "interval", sched.Interval().String())
}

// despawnLocked removes the gocron job for name. Caller holds s.mu.
func (s *Supervisor) despawnLocked(name string) {
	job, ok := s.jobs[name]
	if !ok {
		return
	}
	if err := s.scheduler.RemoveJob(job.ID()); err != nil {
		s.logger.Warn("removing worker job failed", "connector", name, "error", err)
	}
	delete(s.jobs, name)
}

// runCycle is one worker iteration: fetch, push, and on error back off
// (capped) without ever letting a connector failure escape.
func (s *Supervisor) runCycle(name string) {
	defer func() {
		if r := recover(); r != nil {
			// A panicking connector marks its worker dead; the next
			// heartbeat respawns it.
			s.logger.Error("worker panicked", "connector", name, "panic", r)
			s.mu.Lock()
			s.despawnLocked(name)
			s.dead[name] = true
			if st := s.stats[name]; st != nil {
				st.Errors.Add(1)
				st.ConsecutiveFailures.Add(1)
			}
			s.mu.Unlock()
		}
	}()

	s.mu.RLock()
	c := s.connectors[name]
	st := s.stats[name]
	sched := s.schedules[name]
	ctx := s.ctx
	s.mu.RUnlock()
	if c == nil || st == nil || ctx == nil || ctx.Err() != nil {
		return
	}

	st.Cycles.Add(1)

	var batch []record.IngestionRecord
	var fetchErr error
	for rec, err := range c.Fetch(ctx) {
		if err != nil {
			fetchErr = err
			break
		}
		batch = append(batch, rec)
	}

	if len(batch) > 0 {
		size := s.queue.Push(batch)
		st.Fetched.Add(int64(len(batch)))
		st.Pushed.Add(int64(len(batch)))
		s.logger.Debug("batch pushed", "connector", name, "records", len(batch), "queue_size", size)
	}

	if fetchErr != nil {
		st.Errors.Add(1)
		failures := st.ConsecutiveFailures.Add(1)
		backoff := sched.Interval()
		if backoff > maxErrorBackoff {
			backoff = maxErrorBackoff
		}
		s.logger.Warn("fetch failed",
			"connector", name,
			"error", fetchErr,
			"consecutive_failures", failures,
			"backoff", backoff.String(),
		)
		// Capped backoff inside the cycle; singleton mode keeps the
		// next scheduled run from overlapping this sleep.
		select {
		case <-ctx.Done():
		case <-time.After(backoff):
		}
		return
	}

	st.ConsecutiveFailures.Store(0)
}

// heartbeatTick is the supervision loop: update the heartbeat, respawn
// dead workers, persist state, and periodically emit stats.
func (s *Supervisor) heartbeatTick() {
	s.heartbeat.Store(s.now().Unix())

	s.mu.Lock()
	for name := range s.connectors {
		if !s.schedules[name].Enabled {
			continue
		}
		if _, alive := s.jobs[name]; !alive {
			s.logger.Info("respawning worker", "connector", name)
			s.spawnLocked(name)
		}
	}
	s.mu.Unlock()

	s.persistState()

	if s.ticks.Add(1)%statsLogEvery == 0 {
		s.logStats()
	}
}

// onStateFileChange applies an operator edit to the state file: updated
// intervals and enabled flags take effect without a restart.
func (s *Supervisor) onStateFileChange(st *State) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.running {
		return
	}

	for name, sched := range st.Schedules {
		prev, known := s.schedules[name]
		s.schedules[name] = sched
		if _, registered := s.connectors[name]; !registered {
			continue
		}
		_, alive := s.jobs[name]
		switch {
		case sched.Enabled && !alive:
			s.spawnLocked(name)
		case !sched.Enabled && alive:
			s.despawnLocked(name)
			s.logger.Info("worker disabled", "connector", name)
		case sched.Enabled && alive && known && prev.IntervalSeconds != sched.IntervalSeconds:
			s.despawnLocked(name)
			s.spawnLocked(name)
		}
	}
	for name, raw := range st.ConnectorStates {
		s.connectorStates[name] = raw
	}
}

// persistState writes {schedules, connector_states} to the state file.
// Failure to save is logged, never fatal.
func (s *Supervisor) persistState() {
	if s.store == nil {
		return
	}
	s.mu.RLock()
	st := &State{
		Schedules:       make(map[string]Schedule, len(s.schedules)),
		ConnectorStates: make(map[string]json.RawMessage, len(s.connectorStates)),
	}
	for name, sched := range s.schedules {
		st.Schedules[name] = sched
	}
	for name, raw := range s.connectorStates {
		st.ConnectorStates[name] = raw
	}
	s.mu.RUnlock()

	if err := s.store.Save(st); err != nil {
		s.logger.Warn("persisting supervisor state failed", "error", err)
	}
}

func (s *Supervisor) logStats() {
	for name, snap := range s.Stats() {
		s.logger.Info("connector stats",
			"connector", name,
			"cycles", snap.Cycles,
			"fetched", snap.Fetched,
			"pushed", snap.Pushed,
			"errors", snap.Errors,
		)
	}
}

// Heartbeat reports when the supervision loop last ran; zero if never.
func (s *Supervisor) Heartbeat() time.Time {
	ts := s.heartbeat.Load()
	if ts == 0 {
		return time.Time{}
	}
	return time.Unix(ts, 0).UTC()
}

// Stats returns a snapshot of every connector's counters.
func (s *Supervisor) Stats() map[string]StatsSnapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make(map[string]StatsSnapshot, len(s.stats))
	for name, st := range s.stats {
		out[name] = st.Snapshot()
	}
	return out
}

// Schedules returns a copy of the current schedule table.
func (s *Supervisor) Schedules() map[string]Schedule {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make(map[string]Schedule, len(s.schedules))
	for name, sched := range s.schedules {
		out[name] = sched
	}
	return out
}

// ConnectorState returns the opaque persisted cursor for name.
func (s *Supervisor) ConnectorState(name string) (json.RawMessage, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	raw, ok := s.connectorStates[name]
	return raw, ok
}

// SetConnectorState stores an opaque cursor for name; it is flushed on
// the next heartbeat.
func (s *Supervisor) SetConnectorState(name string, raw json.RawMessage) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.connectors[name]; !ok {
		return fmt.Errorf("%w: %s", ErrUnknownConnector, name)
	}
	s.connectorStates[name] = raw
	return nil
}
