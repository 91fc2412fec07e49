package chain

import (
	"context"
	"fmt"
	"testing"
)

// linearTimestamps maps block n to timestamp n*10 for blocks up to latest.
func linearTimestamps(latest uint64) func(context.Context, uint64) (uint64, error) {
	return func(_ context.Context, number uint64) (uint64, error) {
		if number == 0 || number > latest {
			return 0, fmt.Errorf("block %d out of range", number)
		}
		return number * 10, nil
	}
}

func TestSearchBlockByTimestamp(t *testing.T) {
	got, err := SearchBlockByTimestamp(context.Background(), 35, 10, linearTimestamps(10))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got != 3 {
		t.Fatalf("block mismatch: %d", got)
	}
}

func TestSearchBlockByTimestampExactHit(t *testing.T) {
	got, err := SearchBlockByTimestamp(context.Background(), 70, 10, linearTimestamps(10))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got != 7 {
		t.Fatalf("block mismatch: %d", got)
	}
}

func TestSearchBlockByTimestampAfterHead(t *testing.T) {
	got, err := SearchBlockByTimestamp(context.Background(), 1_000_000, 10, linearTimestamps(10))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got != 10 {
		t.Fatalf("block mismatch: %d", got)
	}
}

func TestSearchBlockByTimestampBeforeGenesis(t *testing.T) {
	if _, err := SearchBlockByTimestamp(context.Background(), 5, 10, linearTimestamps(10)); err == nil {
		t.Fatalf("expected error for timestamp before the first block")
	}
}

func TestSearchBlockByTimestampPropagatesReadError(t *testing.T) {
	failing := func(context.Context, uint64) (uint64, error) {
		return 0, fmt.Errorf("rpc down")
	}
	if _, err := SearchBlockByTimestamp(context.Background(), 35, 10, failing); err == nil {
		t.Fatalf("expected error from failing timestamp read")
	}
}
