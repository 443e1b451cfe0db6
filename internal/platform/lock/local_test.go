package lock

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestLocalLockIsExclusivePerKey(t *testing.T) {
	l := NewLocal(20 * time.Millisecond)
	ctx := context.Background()

	lease, err := l.Acquire(ctx, "campaign-a")
	if err != nil {
		t.Fatalf("Acquire: %v", err)
	}
	if _, err := l.Acquire(ctx, "campaign-a"); !errors.Is(err, ErrNotAcquired) {
		t.Fatalf("expected ErrNotAcquired while held, got %v", err)
	}

	other, err := l.Acquire(ctx, "campaign-b")
	if err != nil {
		t.Fatalf("independent key should not block: %v", err)
	}
	_ = other.Release(ctx)

	if err := lease.Release(ctx); err != nil {
		t.Fatalf("Release: %v", err)
	}
	if err := lease.Release(ctx); err != nil {
		t.Fatalf("second Release should be a no-op: %v", err)
	}
	again, err := l.Acquire(ctx, "campaign-a")
	if err != nil {
		t.Fatalf("re-acquire after release: %v", err)
	}
	_ = again.Release(ctx)
}

func TestLocalLockHonorsContext(t *testing.T) {
	l := NewLocal(0)
	lease, err := l.Acquire(context.Background(), "k")
	if err != nil {
		t.Fatalf("Acquire: %v", err)
	}
	defer lease.Release(context.Background())

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	if _, err := l.Acquire(ctx, "k"); !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("expected deadline exceeded, got %v", err)
	}
}
