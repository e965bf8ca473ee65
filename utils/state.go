// utils/state.go
package utils

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"
)

const (
	lastSyncFile     = "last_sync"
	lastShutdownFile = "last_shutdown"
)

// StateStore persists process-lifetime markers between runs: the last
// successful sync and the last clean shutdown. Both are lower bounds for
// "what changed since we last looked" queries; a missing file reads as the
// zero time, meaning "since the beginning of time".
type StateStore struct {
	Dir string
}

func NewStateStore(dir string) (*StateStore, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("creating state dir %s: %w", dir, err)
	}
	return &StateStore{Dir: dir}, nil
}

func (s *StateStore) LastSync() (time.Time, error) {
	return s.read(lastSyncFile)
}

func (s *StateStore) SetLastSync(t time.Time) error {
	return s.write(lastSyncFile, t)
}

func (s *StateStore) LastShutdown() (time.Time, error) {
	return s.read(lastShutdownFile)
}

func (s *StateStore) SetLastShutdown(t time.Time) error {
	return s.write(lastShutdownFile, t)
}

func (s *StateStore) read(name string) (time.Time, error) {
	data, err := os.ReadFile(filepath.Join(s.Dir, name))
	if errors.Is(err, os.ErrNotExist) {
		return time.Time{}, nil
	}
	if err != nil {
		return time.Time{}, err
	}
	t, err := time.Parse(time.RFC3339, strings.TrimSpace(string(data)))
	if err != nil {
		return time.Time{}, fmt.Errorf("parsing %s marker: %w", name, err)
	}
	return t, nil
}

func (s *StateStore) write(name string, t time.Time) error {
	return os.WriteFile(filepath.Join(s.Dir, name), []byte(t.UTC().Format(time.RFC3339)+"\n"), 0o644)
}
