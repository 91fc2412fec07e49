package storage

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"
)

// FileCursorStore keeps sync cursors in a single JSON file, written atomically
// via tmp+rename. Suited to single-box runs and tests; production deployments
// use the Postgres store.
type FileCursorStore struct {
	path string

	mu sync.Mutex
}

type cursorFile struct {
	Cursors   map[string]uint64 `json:"cursors"`
	UpdatedAt string            `json:"updated_at"`
}

func NewFileCursorStore(path string) *FileCursorStore {
	return &FileCursorStore{path: path}
}

// LoadCursor returns the last processed block for a source key.
func (s *FileCursorStore) LoadCursor(_ context.Context, sourceKey string) (uint64, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	contents, err := s.read()
	if err != nil {
		return 0, false, err
	}
	block, ok := contents.Cursors[sourceKey]
	return block, ok, nil
}

// SaveCursor upserts the last processed block for a source key.
func (s *FileCursorStore) SaveCursor(_ context.Context, sourceKey string, lastProcessedBlock uint64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	contents, err := s.read()
	if err != nil {
		return err
	}
	contents.Cursors[sourceKey] = lastProcessedBlock
	contents.UpdatedAt = time.Now().UTC().Format(time.RFC3339Nano)

	dir := filepath.Dir(s.path)
	if dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create cursor dir: %w", err)
		}
	}

	data, err := json.Marshal(contents)
	if err != nil {
		return fmt.Errorf("marshal cursors: %w", err)
	}

	tmpPath := s.path + ".tmp"
	if err := os.WriteFile(tmpPath, data, 0o644); err != nil {
		return fmt.Errorf("write cursors tmp: %w", err)
	}
	if err := os.Rename(tmpPath, s.path); err != nil {
		return fmt.Errorf("rename cursors: %w", err)
	}
	return nil
}

func (s *FileCursorStore) read() (cursorFile, error) {
	contents := cursorFile{Cursors: make(map[string]uint64)}

	data, err := os.ReadFile(s.path)
	if err != nil {
		if os.IsNotExist(err) {
			return contents, nil
		}
		return contents, fmt.Errorf("read cursors: %w", err)
	}
	if err := json.Unmarshal(data, &contents); err != nil {
		return contents, fmt.Errorf("parse cursors: %w", err)
	}
	if contents.Cursors == nil {
		contents.Cursors = make(map[string]uint64)
	}
	return contents, nil
}
