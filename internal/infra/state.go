package infra

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"

	"github.com/BurntSushi/toml"

	"github.com/eliteGoblin/focusd/power_mon/internal/domain"
)

// FileStateStore implements domain.StateStore using a small TOML file.
type FileStateStore struct {
	path string
}

// NewFileStateStore creates a state store at path.
func NewFileStateStore(path string) *FileStateStore {
	return &FileStateStore{path: path}
}

// Path returns the state file path.
func (s *FileStateStore) Path() string {
	return s.path
}

// Load reads the pause state. A missing file means active.
func (s *FileStateStore) Load() (domain.PauseState, error) {
	var state domain.PauseState

	data, err := os.ReadFile(s.path)
	if err != nil {
		if os.IsNotExist(err) {
			return state, nil
		}
		return state, fmt.Errorf("failed to read state file: %w", err)
	}

	if _, err := toml.Decode(string(data), &state); err != nil {
		return domain.PauseState{}, fmt.Errorf("failed to parse state file: %w", err)
	}
	return state, nil
}

// Save writes the pause state atomically (temp file + fsync + rename).
func (s *FileStateStore) Save(state domain.PauseState) error {
	var buf bytes.Buffer
	if err := toml.NewEncoder(&buf).Encode(state); err != nil {
		return fmt.Errorf("failed to serialize state: %w", err)
	}

	dir := filepath.Dir(s.path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create state directory: %w", err)
	}

	if err := writeFileAtomic(s.path, buf.Bytes(), 0644); err != nil {
		return fmt.Errorf("failed to save state: %w", err)
	}
	return nil
}

// Ensure FileStateStore implements domain.StateStore.
var _ domain.StateStore = (*FileStateStore)(nil)
