package supervisor

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/bmatcuk/doublestar/v4"
	"github.com/fsnotify/fsnotify"
)

const currentStateVersion = 1

// Schedule is one connector's run configuration.
type Schedule struct {
	IntervalSeconds int               `json:"interval_seconds"`
	Enabled         bool              `json:"enabled"`
	Config          map[string]string `json:"config,omitempty"`
}

// Interval returns the schedule's run interval, defaulting to 60s when
// unset or nonsensical.
func (s Schedule) Interval() time.Duration {
	if s.IntervalSeconds <= 0 {
		return 60 * time.Second
	}
	return time.Duration(s.IntervalSeconds) * time.Second
}

// State is the supervisor's persisted state: per-connector schedules and
// opaque per-connector cursors. Both are last-writer-wins.
type State struct {
	Schedules       map[string]Schedule        `json:"schedules"`
	ConnectorStates map[string]json.RawMessage `json:"connector_states,omitempty"`
}

// stateEnvelope is the versioned on-disk format, mirroring the config
// file store's envelope shape.
type stateEnvelope struct {
	Version int    `json:"version"`
	State   *State `json:"state"`
}

// StateStore persists supervisor state as a small JSON file. Writes are
// atomic via temp file + rename with round-trip validation.
type StateStore struct {
	path string
}

// NewStateStore creates a store over path. The file need not exist yet.
func NewStateStore(path string) *StateStore {
	return &StateStore{path: path}
}

// Path returns the backing file's path.
func (s *StateStore) Path() string { return s.path }

// Load reads the state from disk. A missing file returns (nil, nil):
// failure to load is non-fatal and the supervisor starts from defaults.
func (s *StateStore) Load() (*State, error) {
	data, err := os.ReadFile(s.path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("read state file: %w", err)
	}

	var env stateEnvelope
	if err := json.Unmarshal(data, &env); err != nil {
		return nil, fmt.Errorf("parse state file: %w", err)
	}
	if env.Version > currentStateVersion {
		return nil, fmt.Errorf("state file version %d is newer than supported version %d", env.Version, currentStateVersion)
	}
	return env.State, nil
}

// Save atomically writes the state to disk.
func (s *StateStore) Save(st *State) error {
	dir := filepath.Dir(s.path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create state directory: %w", err)
	}

	env := stateEnvelope{Version: currentStateVersion, State: st}
	data, err := json.Marshal(env)
	if err != nil {
		return fmt.Errorf("marshal state: %w", err)
	}

	tmp := s.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("write temp state file: %w", err)
	}

	check, err := os.ReadFile(tmp)
	if err != nil {
		os.Remove(tmp)
		return fmt.Errorf("read-back temp state file: %w", err)
	}
	var verify stateEnvelope
	if err := json.Unmarshal(check, &verify); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("round-trip validation failed: %w", err)
	}

	if err := os.Rename(tmp, s.path); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("rename state file: %w", err)
	}
	return nil
}

// Watch invokes onChange with the freshly loaded state every time the
// backing file is rewritten, so an operator edit to the schedule file is
// picked up without a restart. Returns a stop function. The file must
// exist before watching.
func (s *StateStore) Watch(onChange func(*State)) (func(), error) {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("create watcher: %w", err)
	}
	if err := w.Add(s.path); err != nil {
		_ = w.Close()
		return nil, fmt.Errorf("watch %q: %w", s.path, err)
	}

	done := make(chan struct{})
	go func() {
		defer close(done)
		for {
			select {
			case ev, ok := <-w.Events:
				if !ok {
					return
				}
				if ev.Op&(fsnotify.Write|fsnotify.Create) != 0 {
					if st, err := s.Load(); err == nil && st != nil {
						onChange(st)
					}
				}
			case _, ok := <-w.Errors:
				if !ok {
					return
				}
			}
		}
	}()

	return func() {
		_ = w.Close()
		<-done
	}, nil
}

// fragment is the shape of one conf.d schedule file: a bare schedules
// map, so operators can drop one file per connector.
type fragment struct {
	Schedules map[string]Schedule `json:"schedules"`
}

// LoadScheduleFragments merges schedule fragment files matching the
// doublestar pattern (e.g. "conf.d/**/*.json") over base, in sorted
// path order, last writer wins. base may be nil.
func LoadScheduleFragments(pattern string, base map[string]Schedule) (map[string]Schedule, error) {
	merged := make(map[string]Schedule, len(base))
	for name, sched := range base {
		merged[name] = sched
	}

	matches, err := doublestar.FilepathGlob(pattern)
	if err != nil {
		return nil, fmt.Errorf("glob %q: %w", pattern, err)
	}
	sort.Strings(matches)

	for _, path := range matches {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read schedule fragment %q: %w", path, err)
		}
		var frag fragment
		if err := json.Unmarshal(data, &frag); err != nil {
			return nil, fmt.Errorf("parse schedule fragment %q: %w", path, err)
		}
		for name, sched := range frag.Schedules {
			merged[name] = sched
		}
	}
	return merged, nil
}
