package docflow

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
)

// StateStore persists pipeline state between runs so an interrupted session
// can resume.
type StateStore interface {
	// SaveState writes the current state of a session.
	SaveState(ctx context.Context, state *State) error

	// LoadState returns the saved state for a session, or nil if none
	// exists.
	LoadState(ctx context.Context, sessionID string) (*State, error)

	// DeleteState removes the saved state for a session.
	DeleteState(ctx context.Context, sessionID string) error
}

// FileStateStore is a file-based implementation that persists state to disk,
// one JSON file per session.
type FileStateStore struct {
	dataDir string
}

// NewFileStateStore creates a file-based state store rooted at dataDir.
func NewFileStateStore(dataDir string) (*FileStateStore, error) {
	if dataDir == "" {
		return nil, fmt.Errorf("data directory is required")
	}
	if err := os.MkdirAll(dataDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create data directory %s: %w", dataDir, err)
	}
	return &FileStateStore{dataDir: dataDir}, nil
}

func (s *FileStateStore) statePath(sessionID string) string {
	return filepath.Join(s.dataDir, sessionID+".json")
}

// SaveState writes the state as indented JSON.
func (s *FileStateStore) SaveState(ctx context.Context, state *State) error {
	if state.SessionID == "" {
		return fmt.Errorf("state has no session id")
	}
	data, err := json.MarshalIndent(state, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal state: %w", err)
	}
	if err := os.WriteFile(s.statePath(state.SessionID), data, 0644); err != nil {
		return fmt.Errorf("failed to write state file: %w", err)
	}
	return nil
}

// LoadState reads the saved state for a session. A missing file is not an
// error; it returns nil, nil.
func (s *FileStateStore) LoadState(ctx context.Context, sessionID string) (*State, error) {
	data, err := os.ReadFile(s.statePath(sessionID))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to read state file: %w", err)
	}
	var state State
	if err := json.Unmarshal(data, &state); err != nil {
		return nil, fmt.Errorf("failed to unmarshal state: %w", err)
	}
	return &state, nil
}

// DeleteState removes the saved state for a session.
func (s *FileStateStore) DeleteState(ctx context.Context, sessionID string) error {
	if err := os.Remove(s.statePath(sessionID)); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("failed to delete state file: %w", err)
	}
	return nil
}

// NullStateStore is a no-op implementation.
type NullStateStore struct{}

func NewNullStateStore() *NullStateStore {
	return &NullStateStore{}
}

func (s *NullStateStore) SaveState(ctx context.Context, state *State) error {
	return nil
}

func (s *NullStateStore) LoadState(ctx context.Context, sessionID string) (*State, error) {
	return nil, nil
}

func (s *NullStateStore) DeleteState(ctx context.Context, sessionID string) error {
	return nil
}
