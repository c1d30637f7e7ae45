package keeper

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestLocalLockerExclusive(t *testing.T) {
	locker := NewLocalLocker()
	ctx := context.Background()
	release, err := locker.Acquire(ctx, "a", time.Minute)
	if err != nil {
		t.Fatalf("acquire: %v", err)
	}
	if _, err := locker.Acquire(ctx, "a", time.Minute); !errors.Is(err, ErrLockHeld) {
		t.Fatalf("expected ErrLockHeld, got %v", err)
	}
	if _, err := locker.Acquire(ctx, "b", time.Minute); err != nil {
		t.Fatalf("independent key: %v", err)
	}
	release()
	release()
	if _, err := locker.Acquire(ctx, "a", time.Minute); err != nil {
		t.Fatalf("reacquire after release: %v", err)
	}
}

func TestLocalLockerExpiredLeaseTakenOver(t *testing.T) {
	locker := NewLocalLocker()
	now := time.Unix(1_000, 0)
	locker.clock = func() time.Time { return now }
	ctx := context.Background()
	staleRelease, err := locker.Acquire(ctx, "a", time.Second)
	if err != nil {
		t.Fatalf("acquire: %v", err)
	}
	now = now.Add(2 * time.Second)
	if _, err := locker.Acquire(ctx, "a", time.Minute); err != nil {
		t.Fatalf("expected takeover of expired lease, got %v", err)
	}
	staleRelease()
	if _, err := locker.Acquire(ctx, "a", time.Minute); !errors.Is(err, ErrLockHeld) {
		t.Fatalf("stale release must not free the new lease, got %v", err)
	}
}
