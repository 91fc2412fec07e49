package storage

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"defiscope/internal/model"
)

// JsonlSnapshotSink appends timeframe snapshots to a JSONL file.
type JsonlSnapshotSink struct {
	path string
	mu   sync.Mutex
}

func NewJsonlSnapshotSink(path string) *JsonlSnapshotSink {
	return &JsonlSnapshotSink{path: path}
}

// PutSnapshots appends a batch of snapshots as JSON lines.
func (s *JsonlSnapshotSink) PutSnapshots(_ context.Context, snapshots []model.PoolTimeframeSnapshot) error {
	if len(snapshots) == 0 {
		return nil
	}

	dir := filepath.Dir(s.path)
	if dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create output dir: %w", err)
		}
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	file, err := os.OpenFile(s.path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return fmt.Errorf("open output file: %w", err)
	}
	defer file.Close()

	writer := bufio.NewWriter(file)
	for _, snapshot := range snapshots {
		line, err := json.Marshal(snapshot)
		if err != nil {
			return fmt.Errorf("marshal snapshot: %w", err)
		}
		if _, err := writer.Write(line); err != nil {
			return fmt.Errorf("write snapshot: %w", err)
		}
		if err := writer.WriteByte('\n'); err != nil {
			return fmt.Errorf("write newline: %w", err)
		}
	}

	if err := writer.Flush(); err != nil {
		return fmt.Errorf("flush output: %w", err)
	}

	return nil
}
