package marker

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/natefinch/atomic"
)

const markerFileName = "last_seen_event_id"

// FileStore persists the last-seen event id as a single file in the profile
// directory. One marker per profile; every browsing context of the profile
// reads and writes the same file.
type FileStore struct {
	path string
	mu   sync.Mutex
}

// NewFileStore creates the profile directory if needed and returns a store
// backed by it.
func NewFileStore(profileDir string) (*FileStore, error) {
	if err := os.MkdirAll(profileDir, 0o700); err != nil {
		return nil, fmt.Errorf("create profile dir: %w", err)
	}
	return &FileStore{path: filepath.Join(profileDir, markerFileName)}, nil
}

// Read returns the stored event id, or "" when no marker has been written.
func (s *FileStore) Read() (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	data, err := os.ReadFile(s.path)
	if err != nil {
		if os.IsNotExist(err) {
			return "", nil
		}
		return "", fmt.Errorf("read marker: %w", err)
	}
	return strings.TrimSpace(string(data)), nil
}

// Write replaces the marker atomically, so a crash mid-write never leaves a
// torn value behind.
func (s *FileStore) Write(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := atomic.WriteFile(s.path, strings.NewReader(id)); err != nil {
		return fmt.Errorf("write marker: %w", err)
	}
	return nil
}
