package storage

import (
	"context"
	"sync"

	"defiscope/internal/model"
)

// MemoryStore is an in-memory EntityStore, CursorStore, and SnapshotSink.
type MemoryStore struct {
	mu        sync.RWMutex
	pools     map[string]model.PoolMetadata
	cursors   map[string]uint64
	snapshots []model.PoolTimeframeSnapshot
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		pools:   make(map[string]model.PoolMetadata),
		cursors: make(map[string]uint64),
	}
}

func (s *MemoryStore) UpsertPools(_ context.Context, pools []model.PoolMetadata) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, pool := range pools {
		s.pools[pool.Key()] = pool
	}
	return nil
}

func (s *MemoryStore) LoadPools(_ context.Context, chain, protocol string) ([]model.PoolMetadata, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]model.PoolMetadata, 0)
	for _, pool := range s.pools {
		if pool.Chain == chain && pool.Protocol == protocol {
			out = append(out, pool)
		}
	}
	return out, nil
}

func (s *MemoryStore) LoadCursor(_ context.Context, sourceKey string) (uint64, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	block, ok := s.cursors[sourceKey]
	return block, ok, nil
}

func (s *MemoryStore) SaveCursor(_ context.Context, sourceKey string, lastProcessedBlock uint64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cursors[sourceKey] = lastProcessedBlock
	return nil
}

func (s *MemoryStore) PutSnapshots(_ context.Context, snapshots []model.PoolTimeframeSnapshot) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.snapshots = append(s.snapshots, snapshots...)
	return nil
}

// PoolCount reports the number of stored pools.
func (s *MemoryStore) PoolCount() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.pools)
}
