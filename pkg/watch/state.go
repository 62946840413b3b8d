package watch

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"jw-notices/pkg/utils"
)

const stateFileName = "watch_state.json"

// RunState is the outcome of the last scheduled sync of one portal
type RunState struct {
	LastRunTime    time.Time `json:"last_run_time"`
	LastRunSuccess bool      `json:"last_run_success"`
	LastRunID      string    `json:"last_run_id,omitempty"`
	NoticesListed  int       `json:"notices_listed"`
	DetailsFetched int       `json:"details_fetched"`
	DetailFailures int       `json:"detail_failures"`
	Cursor         string    `json:"cursor,omitempty"`
	ErrorMessage   string    `json:"error_message,omitempty"`
}

// WatchState is the content of watch_state.json, keyed by portal base URL
type WatchState struct {
	Portals   map[string]RunState `json:"portals"`
	UpdatedAt time.Time           `json:"updated_at"`
}

// StateManager loads and persists watch_state.json
type StateManager struct {
	stateDir  string
	statePath string
	state     WatchState
	mu        sync.RWMutex
}

// NewStateManager creates a state manager for stateDir
func NewStateManager(stateDir string) *StateManager {
	return &StateManager{
		stateDir:  stateDir,
		statePath: filepath.Join(stateDir, stateFileName),
		state:     WatchState{Portals: make(map[string]RunState)},
	}
}

// Path returns the state file location
func (m *StateManager) Path() string {
	return m.statePath
}

// Load reads the state file. A missing file is an empty state.
func (m *StateManager) Load() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	data, err := os.ReadFile(m.statePath)
	if errors.Is(err, os.ErrNotExist) {
		m.state = WatchState{Portals: make(map[string]RunState)}
		return nil
	}
	if err != nil {
		return fmt.Errorf("%w: read watch state: %w", utils.ErrFilesystem, err)
	}

	var loaded WatchState
	if err := json.Unmarshal(data, &loaded); err != nil {
		return fmt.Errorf("%w: JSON decode of watch state: %v", utils.ErrParsing, err)
	}
	if loaded.Portals == nil {
		loaded.Portals = make(map[string]RunState)
	}
	m.state = loaded
	return nil
}

// Save writes the state file through a temporary file and rename
func (m *StateManager) Save() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.state.UpdatedAt = time.Now()
	if err := os.MkdirAll(m.stateDir, 0755); err != nil {
		return fmt.Errorf("%w: create state directory: %w", utils.ErrFilesystem, err)
	}

	data, err := json.MarshalIndent(m.state, "", "  ")
	if err != nil {
		return fmt.Errorf("%w: JSON encode watch state: %w", utils.ErrParsing, err)
	}

	tmp := m.statePath + ".tmp"
	if err := os.WriteFile(tmp, data, 0644); err != nil {
		return fmt.Errorf("%w: write watch state: %w", utils.ErrFilesystem, err)
	}
	if err := os.Rename(tmp, m.statePath); err != nil {
		return fmt.Errorf("%w: replace watch state: %w", utils.ErrFilesystem, err)
	}
	return nil
}

// Get returns the last run of portal
func (m *StateManager) Get(portal string) (RunState, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	st, ok := m.state.Portals[portal]
	return st, ok
}

// Record replaces the last run of portal
func (m *StateManager) Record(portal string, st RunState) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.state.Portals[portal] = st
}

// NextRunTime returns when portal is next due; a portal never run is due now
func (m *StateManager) NextRunTime(portal string, interval time.Duration, now time.Time) time.Time {
	m.mu.RLock()
	defer m.mu.RUnlock()

	st, ok := m.state.Portals[portal]
	if !ok {
		return now
	}
	return st.LastRunTime.Add(interval)
}

// ShouldRun reports whether portal is due at now
func (m *StateManager) ShouldRun(portal string, interval time.Duration, now time.Time) bool {
	return !m.NextRunTime(portal, interval, now).After(now)
}
