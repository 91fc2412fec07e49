package storage

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"defiscope/internal/model"
)

// FilePoolStore keeps discovered pool metadata in a single JSON file, written
// atomically via tmp+rename. The file-backed companion of FileCursorStore so
// non-Postgres runs keep the entity set across invocations.
type FilePoolStore struct {
	path string

	mu sync.Mutex
}

type poolFile struct {
	Pools     map[string]model.PoolMetadata `json:"pools"`
	UpdatedAt string                        `json:"updated_at"`
}

func NewFilePoolStore(path string) *FilePoolStore {
	return &FilePoolStore{path: path}
}

// UpsertPools merges pools into the file by natural key.
func (s *FilePoolStore) UpsertPools(_ context.Context, pools []model.PoolMetadata) error {
	if len(pools) == 0 {
		return nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	contents, err := s.read()
	if err != nil {
		return err
	}
	for _, pool := range pools {
		contents.Pools[pool.Key()] = pool
	}
	contents.UpdatedAt = time.Now().UTC().Format(time.RFC3339Nano)

	dir := filepath.Dir(s.path)
	if dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create pool dir: %w", err)
		}
	}

	data, err := json.Marshal(contents)
	if err != nil {
		return fmt.Errorf("marshal pools: %w", err)
	}

	tmpPath := s.path + ".tmp"
	if err := os.WriteFile(tmpPath, data, 0o644); err != nil {
		return fmt.Errorf("write pools tmp: %w", err)
	}
	if err := os.Rename(tmpPath, s.path); err != nil {
		return fmt.Errorf("rename pools: %w", err)
	}
	return nil
}

// LoadPools returns the stored pools for one chain and protocol.
func (s *FilePoolStore) LoadPools(_ context.Context, chain, protocol string) ([]model.PoolMetadata, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	contents, err := s.read()
	if err != nil {
		return nil, err
	}

	out := make([]model.PoolMetadata, 0)
	for _, pool := range contents.Pools {
		if pool.Chain == chain && pool.Protocol == protocol {
			out = append(out, pool)
		}
	}
	return out, nil
}

func (s *FilePoolStore) read() (poolFile, error) {
	contents := poolFile{Pools: make(map[string]model.PoolMetadata)}

	data, err := os.ReadFile(s.path)
	if err != nil {
		if os.IsNotExist(err) {
			return contents, nil
		}
		return contents, fmt.Errorf("read pools: %w", err)
	}
	if err := json.Unmarshal(data, &contents); err != nil {
		return contents, fmt.Errorf("parse pools: %w", err)
	}
	if contents.Pools == nil {
		contents.Pools = make(map[string]model.PoolMetadata)
	}
	return contents, nil
}
