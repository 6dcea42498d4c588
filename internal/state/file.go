package state

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
)

// FileConfig configures the JSON file store
type FileConfig struct {
	Path       string // Path to state file
	EnableSync bool   // Use fsync for durability
}

// FileStore keeps RunState in a single JSON document
type FileStore struct {
	path       string
	enableSync bool
}

// NewFileStore creates a new file backed store
func NewFileStore(config *FileConfig) *FileStore {
	return &FileStore{
		path:       config.Path,
		enableSync: config.EnableSync,
	}
}

// Path returns the state file location
func (fs *FileStore) Path() string {
	return fs.path
}

// Load implements Store
func (fs *FileStore) Load(ctx context.Context) (*RunState, error) {
	data, err := os.ReadFile(fs.path)
	if os.IsNotExist(err) {
		// No existing state, start fresh
		return New(), nil
	}
	if err != nil {
		return New(), fmt.Errorf("%w: failed to read state file: %v", ErrCorrupt, err)
	}

	return decodeState(data)
}

// decodeState parses a JSON state document
func decodeState(data []byte) (*RunState, error) {
	s := New()
	if err := json.Unmarshal(data, s); err != nil {
		return New(), fmt.Errorf("%w: failed to parse state: %v", ErrCorrupt, err)
	}
	// A document of "null" maps leaves nil maps behind
	if s.Jobs == nil {
		s.Jobs = make(map[string]EntityState)
	}
	if s.Groups == nil {
		s.Groups = make(map[string]EntityState)
	}
	return s, nil
}

// Save writes the state atomically: temp file, optional fsync, rename
func (fs *FileStore) Save(ctx context.Context, s *RunState) error {
	dir := filepath.Dir(fs.path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create state directory: %w", err)
	}

	data, err := json.MarshalIndent(s, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal state: %w", err)
	}

	tempPath := fs.path + ".tmp"
	f, err := os.OpenFile(tempPath, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0644)
	if err != nil {
		return fmt.Errorf("failed to write temp state file: %w", err)
	}
	if _, err := f.Write(data); err != nil {
		f.Close()
		return fmt.Errorf("failed to write temp state file: %w", err)
	}
	if fs.enableSync {
		if err := f.Sync(); err != nil {
			f.Close()
			return fmt.Errorf("failed to sync temp file: %w", err)
		}
	}
	if err := f.Close(); err != nil {
		return fmt.Errorf("failed to close temp file: %w", err)
	}

	if err := os.Rename(tempPath, fs.path); err != nil {
		return fmt.Errorf("failed to rename temp file: %w", err)
	}
	return nil
}

// Close implements Store
func (fs *FileStore) Close() error {
	return nil
}
