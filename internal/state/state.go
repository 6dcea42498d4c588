package state

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math"
)

// ErrCorrupt is returned alongside a fresh default state when the persisted
// state could not be decoded. Callers are expected to carry on with the
// default rather than fail the run.
var ErrCorrupt = errors.New("state is corrupt")

// Scope separates job keyed from group keyed retry state so a job and a
// group that share a name never collide.
type Scope string

const (
	ScopeJob   Scope = "job"
	ScopeGroup Scope = "group"
)

// EntityState is the retry bookkeeping for one job or group
type EntityState struct {
	Tries         int   `json:"tries"`
	LastExecution int64 `json:"last_execution"` // unix seconds
}

// UnmarshalJSON accepts fractional timestamps as written by older state files
func (e *EntityState) UnmarshalJSON(data []byte) error {
	var raw struct {
		Tries         json.Number `json:"tries"`
		LastExecution json.Number `json:"last_execution"`
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}

	tries, err := numberToInt(raw.Tries)
	if err != nil {
		return fmt.Errorf("tries: %w", err)
	}
	last, err := numberToInt(raw.LastExecution)
	if err != nil {
		return fmt.Errorf("last_execution: %w", err)
	}
	if tries < 0 {
		return fmt.Errorf("tries: negative value %d", tries)
	}

	e.Tries = int(tries)
	e.LastExecution = last
	return nil
}

func numberToInt(n json.Number) (int64, error) {
	if n == "" {
		return 0, nil
	}
	if i, err := n.Int64(); err == nil {
		return i, nil
	}
	f, err := n.Float64()
	if err != nil {
		return 0, err
	}
	return int64(math.Round(f)), nil
}

// RunState is everything carried from one run to the next
type RunState struct {
	Jobs          map[string]EntityState `json:"jobs"`
	Groups        map[string]EntityState `json:"groups"`
	ConfigHash    string                 `json:"config_hash"`
	LastRun       int64                  `json:"last_run"`
	LastDiscovery int64                  `json:"last_discovery"`
}

// New returns the state of a watcher that has never run
func New() *RunState {
	return &RunState{
		Jobs:   make(map[string]EntityState),
		Groups: make(map[string]EntityState),
	}
}

func (s *RunState) table(scope Scope) map[string]EntityState {
	if scope == ScopeGroup {
		if s.Groups == nil {
			s.Groups = make(map[string]EntityState)
		}
		return s.Groups
	}
	if s.Jobs == nil {
		s.Jobs = make(map[string]EntityState)
	}
	return s.Jobs
}

// Get returns the state for key, or the zero state when absent
func (s *RunState) Get(scope Scope, key string) (EntityState, bool) {
	e, ok := s.table(scope)[key]
	return e, ok
}

// Put stores the state for key
func (s *RunState) Put(scope Scope, key string, e EntityState) {
	s.table(scope)[key] = e
}

// Delete removes the state for key and reports whether there was one
func (s *RunState) Delete(scope Scope, key string) bool {
	t := s.table(scope)
	if _, ok := t[key]; !ok {
		return false
	}
	delete(t, key)
	return true
}

// Clone returns a deep copy
func (s *RunState) Clone() *RunState {
	c := &RunState{
		Jobs:          make(map[string]EntityState, len(s.Jobs)),
		Groups:        make(map[string]EntityState, len(s.Groups)),
		ConfigHash:    s.ConfigHash,
		LastRun:       s.LastRun,
		LastDiscovery: s.LastDiscovery,
	}
	for k, v := range s.Jobs {
		c.Jobs[k] = v
	}
	for k, v := range s.Groups {
		c.Groups[k] = v
	}
	return c
}

// Store persists RunState between runs
type Store interface {
	// Load returns the persisted state. A missing state yields New() and no
	// error. Unreadable or corrupt state yields New() and an error wrapping
	// ErrCorrupt.
	Load(ctx context.Context) (*RunState, error)
	Save(ctx context.Context, s *RunState) error
	Close() error
}

// Open returns the store for backend. location is a file path for the file
// and sqlite backends, a DSN for postgres and an address or URL for redis.
func Open(backend, location string) (Store, error) {
	switch backend {
	case "", "file":
		return NewFileStore(&FileConfig{Path: location, EnableSync: true}), nil
	case "sqlite":
		return NewSQLiteStore(location)
	case "postgres":
		return NewPostgresStore(location)
	case "redis":
		return NewRedisStore(location)
	default:
		return nil, fmt.Errorf("unknown state backend %q", backend)
	}
}
