package session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
)

const (
	sessionFileName = "session.json"
	filePerms       = 0600 // Owner read/write only
)

type fileData struct {
	Version int     `json:"version"`
	Session *Record `json:"session,omitempty"`
}

// FileStore keeps the record in a JSON file under the data directory
type FileStore struct {
	mu       sync.Mutex
	filePath string
}

// NewFileStore creates a file store in dataDir
func NewFileStore(dataDir string) (*FileStore, error) {
	if err := os.MkdirAll(dataDir, 0700); err != nil {
		return nil, fmt.Errorf("failed to create data directory: %w", err)
	}
	return &FileStore{filePath: filepath.Join(dataDir, sessionFileName)}, nil
}

// Load reads the saved record
func (s *FileStore) Load(_ context.Context) (Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	data, err := os.ReadFile(s.filePath)
	if errors.Is(err, os.ErrNotExist) {
		return Record{}, ErrNoRecord
	}
	if err != nil {
		return Record{}, fmt.Errorf("failed to read session file: %w", err)
	}

	var fd fileData
	if err := json.Unmarshal(data, &fd); err != nil {
		return Record{}, fmt.Errorf("failed to parse session file: %w", err)
	}
	if fd.Session == nil || fd.Session.Address == "" {
		return Record{}, ErrNoRecord
	}
	return *fd.Session, nil
}

// Save replaces the saved record
func (s *FileStore) Save(_ context.Context, rec Record) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.write(fileData{Version: 1, Session: &rec})
}

// Clear removes the saved record
func (s *FileStore) Clear(_ context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := os.Remove(s.filePath); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("failed to remove session file: %w", err)
	}
	return nil
}

// write stores the file with secure permissions via temp file and rename
func (s *FileStore) write(fd fileData) error {
	data, err := json.MarshalIndent(fd, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal session: %w", err)
	}

	tmpPath := s.filePath + ".tmp"
	if err := os.WriteFile(tmpPath, data, filePerms); err != nil {
		return fmt.Errorf("failed to write session file: %w", err)
	}

	if err := os.Rename(tmpPath, s.filePath); err != nil {
		_ = os.Remove(tmpPath) // Best-effort cleanup of temp file
		return fmt.Errorf("failed to save session file: %w", err)
	}
	return nil
}
