package locking

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/oklog/ulid/v2"
	"github.com/redis/go-redis/v9"
)

const (
	defaultRedisLockTTL   = 30 * time.Second
	defaultRedisLockWait  = 5 * time.Second
	defaultRedisRetryStep = 25 * time.Millisecond
	maxRedisRetryStep     = 250 * time.Millisecond
)

// releaseScript deletes the key only while it still holds our token, so an expired lease never
// removes a lock that another instance has taken over.
var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

// ErrLeaseLost is returned by Release when the lease expired before it was released.
var ErrLeaseLost = errors.New("locking: lease expired before release")

// RedisOption customises a RedisLocker.
type RedisOption func(*RedisLocker)

// WithLockTTL bounds how long a lease survives a crashed holder.
func WithLockTTL(ttl time.Duration) RedisOption {
	return func(l *RedisLocker) {
		if ttl > 0 {
			l.ttl = ttl
		}
	}
}

// WithLockWait bounds how long Acquire polls before giving up.
func WithLockWait(wait time.Duration) RedisOption {
	return func(l *RedisLocker) {
		if wait > 0 {
			l.wait = wait
		}
	}
}

// WithKeyPrefix namespaces lock keys.
func WithKeyPrefix(prefix string) RedisOption {
	return func(l *RedisLocker) {
		l.prefix = strings.TrimSpace(prefix)
	}
}

// RedisLocker implements Locker with SET NX PX and a token checked release.
type RedisLocker struct {
	client redis.UniversalClient
	prefix string
	ttl    time.Duration
	wait   time.Duration
	token  func() string
}

// NewRedisLocker wraps client.
func NewRedisLocker(client redis.UniversalClient, opts ...RedisOption) (*RedisLocker, error) {
	if client == nil {
		return nil, errors.New("locking: redis client is required")
	}
	l := &RedisLocker{
		client: client,
		prefix: "mediashop:lock",
		ttl:    defaultRedisLockTTL,
		wait:   defaultRedisLockWait,
		token:  func() string { return ulid.Make().String() },
	}
	for _, opt := range opts {
		if opt != nil {
			opt(l)
		}
	}
	return l, nil
}

// Acquire polls with capped exponential backoff until the key is set or the wait expires.
func (l *RedisLocker) Acquire(ctx context.Context, key string) (Lease, error) {
	fullKey := l.key(key)
	token := l.token()

	waitCtx, cancel := context.WithTimeout(ctx, l.wait)
	defer cancel()

	step := defaultRedisRetryStep
	for {
		ok, err := l.client.SetNX(waitCtx, fullKey, token, l.ttl).Result()
		if err != nil && !errors.Is(err, context.DeadlineExceeded) && !errors.Is(err, context.Canceled) {
			return nil, fmt.Errorf("locking: acquire %s: %w", fullKey, err)
		}
		if ok {
			return &redisLease{client: l.client, key: fullKey, token: token}, nil
		}

		timer := time.NewTimer(step)
		select {
		case <-waitCtx.Done():
			timer.Stop()
			return nil, fmt.Errorf("%w: %s", ErrLockTimeout, fullKey)
		case <-timer.C:
		}
		step *= 2
		if step > maxRedisRetryStep {
			step = maxRedisRetryStep
		}
	}
}

func (l *RedisLocker) key(key string) string {
	if l.prefix == "" {
		return key
	}
	return l.prefix + ":" + key
}

type redisLease struct {
	client redis.UniversalClient
	key    string
	token  string
}

func (l *redisLease) Release(ctx context.Context) error {
	deleted, err := releaseScript.Run(ctx, l.client, []string{l.key}, l.token).Int64()
	if err != nil {
		return fmt.Errorf("locking: release %s: %w", l.key, err)
	}
	if deleted == 0 {
		return ErrLeaseLost
	}
	return nil
}
