package killswitch

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"
)

// FileStore persists kill-switch state to a YAML file. Used by the actor
// process, which has no database.
type FileStore struct {
	path string
}

type fileState struct {
	Active bool      `yaml:"active"`
	Since  time.Time `yaml:"since,omitempty"`
}

// NewFileStore creates a store backed by the given file path.
func NewFileStore(path string) *FileStore {
	return &FileStore{path: path}
}

// LoadKillSwitch reads the persisted state. A missing file means inactive.
func (s *FileStore) LoadKillSwitch(_ context.Context) (bool, time.Time, error) {
	data, err := os.ReadFile(s.path)
	if err != nil {
		if os.IsNotExist(err) {
			return false, time.Time{}, nil
		}
		return false, time.Time{}, fmt.Errorf("read kill switch file: %w", err)
	}
	var st fileState
	if err := yaml.Unmarshal(data, &st); err != nil {
		return false, time.Time{}, fmt.Errorf("parse kill switch file: %w", err)
	}
	return st.Active, st.Since, nil
}

// SaveKillSwitch writes the state atomically via a temp file rename.
func (s *FileStore) SaveKillSwitch(_ context.Context, active bool, since time.Time) error {
	if err := os.MkdirAll(filepath.Dir(s.path), 0o755); err != nil {
		return err
	}
	out, err := yaml.Marshal(fileState{Active: active, Since: since})
	if err != nil {
		return fmt.Errorf("marshal kill switch state: %w", err)
	}
	tmp := s.path + ".tmp"
	if err := os.WriteFile(tmp, out, 0o644); err != nil {
		return err
	}
	return os.Rename(tmp, s.path)
}
