package chain

import (
	"context"
	"fmt"
	"testing"
	"time"
)

func TestWithRetryEventuallySucceeds(t *testing.T) {
	attempts := 0
	err := WithRetry(context.Background(), 3, time.Millisecond, func(context.Context) error {
		attempts++
		if attempts < 3 {
			return fmt.Errorf("transient")
		}
		return nil
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if attempts != 3 {
		t.Fatalf("attempts mismatch: %d", attempts)
	}
}

func TestWithRetryExhausted(t *testing.T) {
	attempts := 0
	err := WithRetry(context.Background(), 2, time.Millisecond, func(context.Context) error {
		attempts++
		return fmt.Errorf("always failing")
	})
	if err == nil {
		t.Fatalf("expected error after exhausting retries")
	}
	if attempts != 3 {
		t.Fatalf("attempts mismatch: %d", attempts)
	}
}

func TestWithRetryStopsOnCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())

	attempts := 0
	err := WithRetry(ctx, 10, 10*time.Millisecond, func(context.Context) error {
		attempts++
		cancel()
		return fmt.Errorf("failing")
	})
	if err != context.Canceled {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
	if attempts != 1 {
		t.Fatalf("attempts mismatch: %d", attempts)
	}
}
