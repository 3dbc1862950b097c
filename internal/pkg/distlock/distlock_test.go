package distlock

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

func newTestRedis(t *testing.T) *redis.Client {
	t.Helper()
	mr := miniredis.RunT(t)
	return redis.NewClient(&redis.Options{Addr: mr.Addr()})
}

func TestRedisLockExclusion(t *testing.T) {
	client := newTestRedis(t)
	ctx := context.Background()

	a := NewRedisLock(client, "campaign:abc", time.Minute)
	b := NewRedisLock(client, "campaign:abc", time.Minute)

	ok, err := a.Acquire(ctx)
	if err != nil || !ok {
		t.Fatalf("first acquire failed: ok=%v err=%v", ok, err)
	}

	ok, err = b.Acquire(ctx)
	if err != nil {
		t.Fatalf("second acquire error: %v", err)
	}
	if ok {
		t.Fatal("second acquire should be blocked while lock is held")
	}

	if err := a.Release(ctx); err != nil {
		t.Fatalf("release: %v", err)
	}

	ok, err = b.Acquire(ctx)
	if err != nil || !ok {
		t.Fatalf("acquire after release failed: ok=%v err=%v", ok, err)
	}
}

func TestRedisLockReleaseNotOwned(t *testing.T) {
	client := newTestRedis(t)
	ctx := context.Background()

	a := NewRedisLock(client, "campaign:xyz", time.Minute)
	b := NewRedisLock(client, "campaign:xyz", time.Minute)

	if ok, _ := a.Acquire(ctx); !ok {
		t.Fatal("acquire failed")
	}

	// b never acquired; releasing must not free a's lock
	if err := b.Release(ctx); err != nil {
		t.Fatalf("release by non-owner errored: %v", err)
	}

	c := NewRedisLock(client, "campaign:xyz", time.Minute)
	if ok, _ := c.Acquire(ctx); ok {
		t.Fatal("lock was freed by a non-owner release")
	}
}

func TestWithLock(t *testing.T) {
	client := newTestRedis(t)
	ctx := context.Background()

	held := NewRedisLock(client, "campaign:held", time.Minute)
	if ok, _ := held.Acquire(ctx); !ok {
		t.Fatal("setup acquire failed")
	}

	ran := false
	ok, err := WithLock(ctx, NewRedisLock(client, "campaign:held", time.Minute), func(ctx context.Context) error {
		ran = true
		return nil
	})
	if err != nil {
		t.Fatalf("WithLock: %v", err)
	}
	if ok || ran {
		t.Fatal("WithLock ran fn while the lock was held elsewhere")
	}

	ok, err = WithLock(ctx, NewRedisLock(client, "campaign:free", time.Minute), func(ctx context.Context) error {
		ran = true
		return nil
	})
	if err != nil || !ok || !ran {
		t.Fatalf("WithLock on free lock: ok=%v ran=%v err=%v", ok, ran, err)
	}

	// fn returned, lock must be released
	if ok, _ := NewRedisLock(client, "campaign:free", time.Minute).Acquire(ctx); !ok {
		t.Fatal("lock not released after WithLock returned")
	}
}
