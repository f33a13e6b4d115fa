// Package run keeps deployment run records, persisted as JSON.
package run

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/lithammer/shortuuid/v4"

	"github.com/reviewapps-dev/azdeploy/internal/deploy"
)

var ErrNotFound = errors.New("run not found")

type Store struct {
	mu        sync.RWMutex
	runs      map[string]*Record
	statePath string // path to runs.json for persistence
	now       func() time.Time
}

func NewStore(statePath string) *Store {
	s := &Store{
		runs:      make(map[string]*Record),
		statePath: statePath,
		now:       time.Now,
	}
	if statePath != "" {
		s.load()
	}
	return s
}

// Create registers a new idle run for target and returns a copy of it.
func (s *Store) Create(target, appName string) *Record {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := s.now()
	r := &Record{
		ID:        shortuuid.New(),
		Target:    target,
		AppName:   appName,
		State:     deploy.StateIdle,
		CreatedAt: now,
		UpdatedAt: now,
	}
	s.runs[r.ID] = r
	s.persistLocked()
	return r.clone()
}

func (s *Store) Get(id string) (*Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	r, ok := s.runs[id]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrNotFound, id)
	}
	return r.clone(), nil
}

// List returns all runs, newest first, without their logs.
func (s *Store) List() []*Record {
	s.mu.RLock()
	defer s.mu.RUnlock()
	result := make([]*Record, 0, len(s.runs))
	for _, r := range s.runs {
		cp := r.clone()
		cp.Log = nil
		result = append(result, cp)
	}
	sort.Slice(result, func(i, j int) bool {
		return result[i].CreatedAt.After(result[j].CreatedAt)
	})
	return result
}

func (s *Store) Count() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.runs)
}

func (s *Store) Delete(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.runs[id]; !ok {
		return fmt.Errorf("%w: %q", ErrNotFound, id)
	}
	delete(s.runs, id)
	s.persistLocked()
	return nil
}

func (s *Store) UpdateState(id string, state deploy.State) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.runs[id]
	if !ok {
		return fmt.Errorf("%w: %q", ErrNotFound, id)
	}
	r.State = state
	r.UpdatedAt = s.now()
	s.persistLocked()
	return nil
}

// Finish records the terminal outcome of a run.
func (s *Store) Finish(id string, o *deploy.Outcome) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.runs[id]
	if !ok {
		return fmt.Errorf("%w: %q", ErrNotFound, id)
	}
	now := s.now()
	r.State = o.State
	r.FailedIn = o.FailedIn
	r.Hostname = o.Hostname
	r.URL = o.URL
	r.Commit = o.Commit
	r.ReleaseDir = o.ReleaseDir
	r.Error = ""
	if o.Err != nil {
		r.Error = o.Err.Error()
	}
	r.UpdatedAt = now
	r.FinishedAt = &now
	s.persistLocked()
	return nil
}

func (s *Store) AppendLog(id string, line string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if r, ok := s.runs[id]; ok {
		r.Log = append(r.Log, line)
	}
	// Persisted with the next state change.
}

// load reads persisted state from disk. Runs that never reached a terminal
// state were interrupted by a restart and are marked failed.
func (s *Store) load() {
	data, err := os.ReadFile(s.statePath)
	if err != nil {
		if !os.IsNotExist(err) {
			slog.Warn("store: load", "path", s.statePath, "err", err)
		}
		return
	}

	var runs map[string]*Record
	if err := json.Unmarshal(data, &runs); err != nil {
		slog.Warn("store: parse", "path", s.statePath, "err", err)
		return
	}

	for _, r := range runs {
		if !r.State.Terminal() {
			r.FailedIn = r.State
			r.State = deploy.StateFailed
			r.Error = "interrupted"
		}
	}
	s.runs = runs
	slog.Info("store: loaded runs", "count", len(runs), "path", s.statePath)
}

// persistLocked writes current state to disk. Must be called with mu held.
func (s *Store) persistLocked() {
	if s.statePath == "" {
		return
	}

	data, err := json.MarshalIndent(s.runs, "", "  ")
	if err != nil {
		slog.Warn("store: marshal", "err", err)
		return
	}

	// Write atomically via temp file
	dir := filepath.Dir(s.statePath)
	tmp, err := os.CreateTemp(dir, "runs-*.json")
	if err != nil {
		slog.Warn("store: create temp", "err", err)
		return
	}

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		slog.Warn("store: write temp", "err", err)
		return
	}
	tmp.Close()

	if err := os.Rename(tmp.Name(), s.statePath); err != nil {
		os.Remove(tmp.Name())
		slog.Warn("store: rename", "err", err)
	}
}
