package state

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/ducminhle1904/pyramid-bot/internal/logger"
	"github.com/ducminhle1904/pyramid-bot/internal/pyramid"
)

// stateVersion guards against loading snapshots written by an
// incompatible build.
const stateVersion = "1"

// Store persists pyramid snapshots to disk as JSON. Persistence is
// advisory only: the exchange remains the source of truth and
// reconciliation re-seeds state on restart, so save failures are logged
// and never block trading.
type Store struct {
	dir  string
	log  *logger.Logger
	mu   sync.Mutex
	path string
}

type stateFile struct {
	Version   string             `json:"version"`
	SavedAt   time.Time          `json:"saved_at"`
	Positions []pyramid.Snapshot `json:"positions"`
}

// NewStore creates a snapshot store under dir.
func NewStore(dir string, log *logger.Logger) (*Store, error) {
	if dir == "" {
		dir = "state"
	}
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create state directory: %w", err)
	}
	return &Store{
		dir:  dir,
		log:  log,
		path: filepath.Join(dir, "pyramid_state.json"),
	}, nil
}

// SaveAsync writes the snapshots in the background. Fire-and-forget by
// design.
func (s *Store) SaveAsync(snapshots []pyramid.Snapshot) {
	go func() {
		if err := s.Save(snapshots); err != nil {
			s.log.LogError("state save", err)
		}
	}()
}

// Save writes the snapshots atomically via a temp file rename.
func (s *Store) Save(snapshots []pyramid.Snapshot) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	payload := stateFile{
		Version:   stateVersion,
		SavedAt:   time.Now(),
		Positions: snapshots,
	}
	data, err := json.MarshalIndent(payload, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode state: %w", err)
	}

	tmp := s.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0644); err != nil {
		return fmt.Errorf("failed to write state file: %w", err)
	}
	if err := os.Rename(tmp, s.path); err != nil {
		return fmt.Errorf("failed to replace state file: %w", err)
	}
	return nil
}

// Load reads the last saved snapshots. A missing file returns an empty
// slice.
func (s *Store) Load() ([]pyramid.Snapshot, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	data, err := os.ReadFile(s.path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to read state file: %w", err)
	}

	var payload stateFile
	if err := json.Unmarshal(data, &payload); err != nil {
		return nil, fmt.Errorf("failed to decode state file: %w", err)
	}
	if payload.Version != stateVersion {
		return nil, fmt.Errorf("state file version %q not supported", payload.Version)
	}
	return payload.Positions, nil
}

// Path returns the snapshot file location.
func (s *Store) Path() string {
	return s.path
}
