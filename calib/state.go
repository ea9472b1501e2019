package calib

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"
)

// ResultStore tracks the latest check run for the HTTP endpoints.
// It doubles as a Reporter so a run in progress is visible while it executes.
type ResultStore struct {
	mu        sync.RWMutex
	latest    *BatchResult
	running   bool
	progress  []ImageResult
	started   time.Time
	lastError string
	cachePath string // path to a JSON cache of the latest result; empty disables persistence
}

// NewResultStore creates an empty store
func NewResultStore() *ResultStore {
	return &ResultStore{}
}

// NewResultStoreWithCache creates a store that persists the latest result to
// cachePath and loads it on creation if present
func NewResultStoreWithCache(cachePath string) *ResultStore {
	rs := &ResultStore{cachePath: cachePath}
	if cachePath != "" {
		if res, err := LoadBatchResult(cachePath); err == nil {
			rs.latest = res
		}
	}
	return rs
}

// TryStart marks a run as started. It returns false if one is already running.
func (rs *ResultStore) TryStart() bool {
	rs.mu.Lock()
	defer rs.mu.Unlock()
	if rs.running {
		return false
	}
	rs.running = true
	rs.progress = nil
	rs.started = time.Now()
	return true
}

// ReportProgress records an image of the run in progress
func (rs *ResultStore) ReportProgress(imageIndex int, result ImageResult) {
	rs.mu.Lock()
	defer rs.mu.Unlock()
	rs.progress = append(rs.progress, result)
}

// Finish ends the current run. A nil result keeps the previous one and
// records err instead.
func (rs *ResultStore) Finish(res *BatchResult, err error) error {
	rs.mu.Lock()
	rs.running = false
	rs.progress = nil
	if err != nil {
		rs.lastError = err.Error()
	} else {
		rs.lastError = ""
	}
	if res != nil {
		rs.latest = res
	}
	cachePath := rs.cachePath
	rs.mu.Unlock()

	if res != nil && cachePath != "" {
		return SaveBatchResult(res, cachePath)
	}
	return nil
}

// Latest returns the most recent completed run, or nil
func (rs *ResultStore) Latest() *BatchResult {
	rs.mu.RLock()
	defer rs.mu.RUnlock()
	return rs.latest
}

// HasResult reports whether a completed run is available
func (rs *ResultStore) HasResult() bool {
	return rs.Latest() != nil
}

// Status describes the store for the health endpoint
type Status struct {
	Running    bool      `json:"running"`
	Started    time.Time `json:"started,omitempty"`
	Progress   int       `json:"progress"`
	HasResult  bool      `json:"hasResult"`
	LastError  string    `json:"lastError,omitempty"`
	LastFinish time.Time `json:"lastFinish,omitempty"`
}

// Status returns a snapshot of the store
func (rs *ResultStore) Status() Status {
	rs.mu.RLock()
	defer rs.mu.RUnlock()
	st := Status{
		Running:   rs.running,
		Progress:  len(rs.progress),
		HasResult: rs.latest != nil,
		LastError: rs.lastError,
	}
	if rs.running {
		st.Started = rs.started
	}
	if rs.latest != nil {
		st.LastFinish = rs.latest.Finished
	}
	return st
}

// Progress returns a copy of the images checked so far in the current run
func (rs *ResultStore) Progress() []ImageResult {
	rs.mu.RLock()
	defer rs.mu.RUnlock()
	out := make([]ImageResult, len(rs.progress))
	copy(out, rs.progress)
	return out
}

// SaveBatchResult writes a batch result as JSON
func SaveBatchResult(res *BatchResult, path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("creating result directory: %w", err)
	}
	data, err := json.MarshalIndent(res, "", "  ")
	if err != nil {
		return fmt.Errorf("marshaling result: %w", err)
	}
	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("writing result: %w", err)
	}
	return nil
}

// LoadBatchResult reads a batch result written by SaveBatchResult
func LoadBatchResult(path string) (*BatchResult, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading result: %w", err)
	}
	var res BatchResult
	if err := json.Unmarshal(data, &res); err != nil {
		return nil, fmt.Errorf("parsing result: %w", err)
	}
	return &res, nil
}
