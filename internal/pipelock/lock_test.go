package pipelock

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"

	"lookbook/internal/domain"
	"lookbook/internal/kv"
)

func newLocker(t *testing.T, ttl time.Duration) (*Locker, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return New(kv.New(client, "lookbook"), Options{TTL: ttl}), mr
}

func TestAcquireRejectsSecondHolder(t *testing.T) {
	l, mr := newLocker(t, time.Minute)
	ctx := context.Background()

	lease, err := l.Acquire(ctx, "job-1", 0)
	if err != nil {
		t.Fatalf("first acquire: %v", err)
	}
	if !strings.HasPrefix(lease.Token, "started_at_") {
		t.Fatalf("token = %q, want started_at_ prefix", lease.Token)
	}
	if got, _ := mr.Get("lookbook:lock:job-1:0"); got != lease.Token {
		t.Fatalf("stored token = %q, want %q", got, lease.Token)
	}
	if _, err := l.Acquire(ctx, "job-1", 0); !errors.Is(err, domain.ErrDuplicateExecution) {
		t.Fatalf("second acquire err = %v, want ErrDuplicateExecution", err)
	}
	if _, err := l.Acquire(ctx, "job-1", 1); err != nil {
		t.Fatalf("other index must be independent: %v", err)
	}
}

func TestReleaseAllowsReacquire(t *testing.T) {
	l, _ := newLocker(t, time.Minute)
	ctx := context.Background()

	lease, err := l.Acquire(ctx, "job-1", 2)
	if err != nil {
		t.Fatalf("acquire: %v", err)
	}
	if err := lease.Release(ctx); err != nil {
		t.Fatalf("release: %v", err)
	}
	if err := lease.Release(ctx); err != nil {
		t.Fatalf("second release: %v", err)
	}
	if _, err := l.Acquire(ctx, "job-1", 2); err != nil {
		t.Fatalf("reacquire after release: %v", err)
	}
}

func TestReleaseLeavesForeignLeaseAlone(t *testing.T) {
	l, mr := newLocker(t, time.Second)
	ctx := context.Background()

	stale, err := l.Acquire(ctx, "job-1", 0)
	if err != nil {
		t.Fatalf("acquire: %v", err)
	}
	mr.FastForward(2 * time.Second)

	fresh, err := l.Acquire(ctx, "job-1", 0)
	if err != nil {
		t.Fatalf("acquire after expiry: %v", err)
	}
	if err := stale.Release(ctx); err != nil {
		t.Fatalf("stale release: %v", err)
	}
	token, held, err := l.Holder(ctx, "job-1", 0)
	if err != nil {
		t.Fatalf("holder: %v", err)
	}
	if !held || token != fresh.Token {
		t.Fatalf("holder = %q (held=%v), want fresh token %q", token, held, fresh.Token)
	}
}

func TestListReportsOutstandingLeases(t *testing.T) {
	l, _ := newLocker(t, time.Minute)
	ctx := context.Background()

	if _, err := l.Acquire(ctx, "job-a", 0); err != nil {
		t.Fatalf("acquire: %v", err)
	}
	if _, err := l.Acquire(ctx, "job-b", 3); err != nil {
		t.Fatalf("acquire: %v", err)
	}
	held, err := l.List(ctx)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(held) != 2 {
		t.Fatalf("len(held) = %d, want 2", len(held))
	}
	seen := map[string]int{}
	for _, h := range held {
		seen[h.JobID] = h.Index
		if h.Remaining <= 0 {
			t.Fatalf("remaining for %s = %s, want positive", h.JobID, h.Remaining)
		}
	}
	if seen["job-a"] != 0 || seen["job-b"] != 3 {
		t.Fatalf("unexpected leases: %#v", seen)
	}
}

func TestExtendRenewsOnlyOwnLease(t *testing.T) {
	l, mr := newLocker(t, time.Minute)
	ctx := context.Background()

	lease, err := l.Acquire(ctx, "job-1", 0)
	if err != nil {
		t.Fatalf("acquire: %v", err)
	}
	mr.FastForward(50 * time.Second)
	if err := lease.Extend(ctx); err != nil {
		t.Fatalf("extend: %v", err)
	}
	if ttl := mr.TTL("lookbook:lock:job-1:0"); ttl != time.Minute {
		t.Fatalf("ttl after extend = %s, want 1m", ttl)
	}

	mr.FastForward(2 * time.Minute)
	if _, err := l.Acquire(ctx, "job-1", 0); err != nil {
		t.Fatalf("acquire after expiry: %v", err)
	}
	if err := lease.Extend(ctx); !errors.Is(err, ErrLeaseLost) {
		t.Fatalf("extend of taken lease err = %v, want ErrLeaseLost", err)
	}
}

func TestKeepAliveExtendsUntilStopped(t *testing.T) {
	l, mr := newLocker(t, time.Minute)
	ctx := context.Background()
	key := "lookbook:lock:job-1:0"

	lease, err := l.Acquire(ctx, "job-1", 0)
	if err != nil {
		t.Fatalf("acquire: %v", err)
	}
	mr.SetTTL(key, time.Second)
	stop := lease.KeepAlive(ctx, 5*time.Millisecond)

	deadline := time.Now().Add(2 * time.Second)
	for mr.TTL(key) <= time.Second {
		if time.Now().After(deadline) {
			stop()
			t.Fatalf("lease was not extended, ttl = %s", mr.TTL(key))
		}
		time.Sleep(5 * time.Millisecond)
	}
	stop()

	mr.SetTTL(key, time.Second)
	time.Sleep(30 * time.Millisecond)
	if ttl := mr.TTL(key); ttl != time.Second {
		t.Fatalf("ttl changed after stop: %s", ttl)
	}
	if err := lease.Release(ctx); err != nil {
		t.Fatalf("release: %v", err)
	}
}
