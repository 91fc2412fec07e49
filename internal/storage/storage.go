package storage

import (
	"context"

	"defiscope/internal/model"
)

// EntityStore persists discovered pool metadata. Upserts are keyed by the
// pool's natural identity, so retried writes converge.
type EntityStore interface {
	UpsertPools(ctx context.Context, pools []model.PoolMetadata) error
	LoadPools(ctx context.Context, chain, protocol string) ([]model.PoolMetadata, error)
}

// CursorStore persists sync progress per source key.
type CursorStore interface {
	LoadCursor(ctx context.Context, sourceKey string) (uint64, bool, error)
	SaveCursor(ctx context.Context, sourceKey string, lastProcessedBlock uint64) error
}

// SnapshotSink receives computed timeframe snapshots.
type SnapshotSink interface {
	PutSnapshots(ctx context.Context, snapshots []model.PoolTimeframeSnapshot) error
}
