package lease

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	miniredis "github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

func newTestManager(t *testing.T) (*Manager, *miniredis.Miniredis) {
	t.Helper()
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("miniredis: %v", err)
	}
	t.Cleanup(mr.Close)
	return NewManager(redis.NewClient(&redis.Options{Addr: mr.Addr()})), mr
}

func TestAcquireIsExclusive(t *testing.T) {
	ctx := context.Background()
	m, _ := newTestManager(t)

	ok, err := m.Acquire(ctx, 1, "runner-a", time.Minute)
	if err != nil || !ok {
		t.Fatalf("expected first acquire to win, got ok=%v err=%v", ok, err)
	}
	ok, _ = m.Acquire(ctx, 1, "runner-b", time.Minute)
	if ok {
		t.Fatalf("expected second acquire to lose while lease is live")
	}

	// A different item is independent.
	ok, _ = m.Acquire(ctx, 2, "runner-b", time.Minute)
	if !ok {
		t.Fatalf("expected acquire on another item to win")
	}
}

func TestAcquireSingleWinnerUnderContention(t *testing.T) {
	ctx := context.Background()
	m, _ := newTestManager(t)

	var wins int64
	var wg sync.WaitGroup
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			ok, err := m.Acquire(ctx, 42, string(rune('a'+n)), time.Minute)
			if err == nil && ok {
				atomic.AddInt64(&wins, 1)
			}
		}(i)
	}
	wg.Wait()

	if wins != 1 {
		t.Fatalf("expected exactly one winner, got %d", wins)
	}
}

func TestRenewRequiresOwnership(t *testing.T) {
	ctx := context.Background()
	m, _ := newTestManager(t)

	if ok, _ := m.Acquire(ctx, 1, "runner-a", time.Minute); !ok {
		t.Fatalf("acquire failed")
	}

	ok, err := m.Renew(ctx, 1, "runner-a", 2*time.Minute)
	if err != nil || !ok {
		t.Fatalf("owner renew should succeed, got ok=%v err=%v", ok, err)
	}
	ok, _ = m.Renew(ctx, 1, "runner-b", 2*time.Minute)
	if ok {
		t.Fatalf("non-owner renew should fail")
	}
}

func TestExpiredLeaseIsAbsent(t *testing.T) {
	ctx := context.Background()
	m, mr := newTestManager(t)

	if ok, _ := m.Acquire(ctx, 1, "runner-a", 50*time.Millisecond); !ok {
		t.Fatalf("acquire failed")
	}
	mr.FastForward(100 * time.Millisecond)

	// Expired lease no longer blocks a new owner, and the old owner cannot
	// renew its way back in.
	if ok, _ := m.Renew(ctx, 1, "runner-a", time.Minute); ok {
		t.Fatalf("renew after expiry should fail")
	}
	ok, err := m.Acquire(ctx, 1, "runner-b", time.Minute)
	if err != nil || !ok {
		t.Fatalf("expected acquire after expiry to win, got ok=%v err=%v", ok, err)
	}
}

func TestReleaseOnlyByOwner(t *testing.T) {
	ctx := context.Background()
	m, _ := newTestManager(t)

	if ok, _ := m.Acquire(ctx, 1, "runner-a", time.Minute); !ok {
		t.Fatalf("acquire failed")
	}

	// A stale release from another runner must not free the lease.
	if err := m.Release(ctx, 1, "runner-b"); err != nil {
		t.Fatalf("release by non-owner should be a no-op, got %v", err)
	}
	holder, err := m.Holder(ctx, 1)
	if err != nil || holder != "runner-a" {
		t.Fatalf("expected runner-a to still hold lease, got %q err=%v", holder, err)
	}

	if err := m.Release(ctx, 1, "runner-a"); err != nil {
		t.Fatalf("owner release: %v", err)
	}
	holder, _ = m.Holder(ctx, 1)
	if holder != "" {
		t.Fatalf("expected no holder after release, got %q", holder)
	}
}
