package locking

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

func TestKeyedMutexSerialisesSameKey(t *testing.T) {
	locker := NewKeyedMutex()
	ctx := context.Background()

	var active, maxActive int32
	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			lease, err := locker.Acquire(ctx, "order-1")
			if err != nil {
				t.Errorf("Acquire: %v", err)
				return
			}
			now := atomic.AddInt32(&active, 1)
			for {
				prev := atomic.LoadInt32(&maxActive)
				if now <= prev || atomic.CompareAndSwapInt32(&maxActive, prev, now) {
					break
				}
			}
			time.Sleep(time.Millisecond)
			atomic.AddInt32(&active, -1)
			_ = lease.Release(ctx)
		}()
	}
	wg.Wait()

	if maxActive != 1 {
		t.Fatalf("expected at most one holder, saw %d", maxActive)
	}
	if len(locker.slots) != 0 {
		t.Fatalf("expected idle slots to be dropped, have %d", len(locker.slots))
	}
}

func TestKeyedMutexHonoursContext(t *testing.T) {
	locker := NewKeyedMutex()
	lease, err := locker.Acquire(context.Background(), "k")
	if err != nil {
		t.Fatalf("Acquire: %v", err)
	}
	defer lease.Release(context.Background())

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	if _, err := locker.Acquire(ctx, "k"); !errors.Is(err, ErrLockTimeout) {
		t.Fatalf("expected ErrLockTimeout, got %v", err)
	}
	other, err := locker.Acquire(context.Background(), "other")
	if err != nil {
		t.Fatalf("different keys must not block: %v", err)
	}
	_ = other.Release(context.Background())
}

func newRedisLocker(t *testing.T, opts ...RedisOption) (*RedisLocker, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	locker, err := NewRedisLocker(client, opts...)
	if err != nil {
		t.Fatalf("NewRedisLocker: %v", err)
	}
	return locker, mr
}

func TestRedisLockerExclusive(t *testing.T) {
	locker, mr := newRedisLocker(t, WithLockWait(100*time.Millisecond))
	ctx := context.Background()

	lease, err := locker.Acquire(ctx, "order-1")
	if err != nil {
		t.Fatalf("Acquire: %v", err)
	}
	if !mr.Exists("mediashop:lock:order-1") {
		t.Fatalf("expected lock key to be set")
	}

	if _, err := locker.Acquire(ctx, "order-1"); !errors.Is(err, ErrLockTimeout) {
		t.Fatalf("expected ErrLockTimeout while held, got %v", err)
	}

	if err := lease.Release(ctx); err != nil {
		t.Fatalf("Release: %v", err)
	}
	again, err := locker.Acquire(ctx, "order-1")
	if err != nil {
		t.Fatalf("Acquire after release: %v", err)
	}
	_ = again.Release(ctx)
}

func TestRedisLeaseDoesNotReleaseForeignLock(t *testing.T) {
	locker, mr := newRedisLocker(t, WithLockTTL(time.Second))
	ctx := context.Background()

	lease, err := locker.Acquire(ctx, "order-2")
	if err != nil {
		t.Fatalf("Acquire: %v", err)
	}
	mr.FastForward(2 * time.Second)
	if err := mr.Set("mediashop:lock:order-2", "someone-else"); err != nil {
		t.Fatalf("seed foreign lock: %v", err)
	}

	if err := lease.Release(ctx); !errors.Is(err, ErrLeaseLost) {
		t.Fatalf("expected ErrLeaseLost, got %v", err)
	}
	if got, _ := mr.Get("mediashop:lock:order-2"); got != "someone-else" {
		t.Fatalf("foreign lock must survive, got %q", got)
	}
}
