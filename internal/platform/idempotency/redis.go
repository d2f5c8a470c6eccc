package idempotency

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
)

// completeScript overwrites the record only while it is absent or still bound to the same
// fingerprint, so a late completion never clobbers a key reused after expiry.
var completeScript = redis.NewScript(`
local current = redis.call("GET", KEYS[1])
if current then
	local decoded = cjson.decode(current)
	if decoded["fingerprint"] ~= ARGV[1] then
		return 0
	end
end
redis.call("SET", KEYS[1], ARGV[2], "PX", ARGV[3])
return 1
`)

var releaseScript = redis.NewScript(`
local current = redis.call("GET", KEYS[1])
if current and cjson.decode(current)["fingerprint"] == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

// RedisStore keeps records as JSON strings with a native expiry, so no cleanup job is needed.
type RedisStore struct {
	client redis.UniversalClient
	prefix string
}

// NewRedisStore wraps client. Keys are namespaced under prefix.
func NewRedisStore(client redis.UniversalClient, prefix string) *RedisStore {
	prefix = strings.TrimSpace(prefix)
	if prefix == "" {
		prefix = "mediashop"
	}
	return &RedisStore{client: client, prefix: prefix + ":idem"}
}

func (s *RedisStore) Reserve(ctx context.Context, key, fingerprint string, now time.Time, ttl time.Duration) (Reservation, error) {
	ttl = normalizeTTL(ttl)
	record := pendingRecord(key, fingerprint, now.UTC(), ttl)
	payload, err := json.Marshal(record)
	if err != nil {
		return Reservation{}, err
	}

	redisKey := s.key(key)
	ok, err := s.client.SetNX(ctx, redisKey, payload, ttl).Result()
	if err != nil {
		return Reservation{}, fmt.Errorf("idempotency: reserve: %w", err)
	}
	if ok {
		return Reservation{State: ReservationStateNew, Record: record}, nil
	}

	raw, err := s.client.Get(ctx, redisKey).Bytes()
	if errors.Is(err, redis.Nil) {
		// Expired between SETNX and GET.
		return s.Reserve(ctx, key, fingerprint, now, ttl)
	}
	if err != nil {
		return Reservation{}, fmt.Errorf("idempotency: load: %w", err)
	}
	var existing Record
	if err := json.Unmarshal(raw, &existing); err != nil {
		return Reservation{}, fmt.Errorf("idempotency: decode: %w", err)
	}
	return classify(existing, fingerprint)
}

func (s *RedisStore) Complete(ctx context.Context, key, fingerprint string, resp Response, now time.Time, ttl time.Duration) error {
	ttl = normalizeTTL(ttl)
	record := completeRecord(Record{}, key, fingerprint, resp, now.UTC(), ttl)
	payload, err := json.Marshal(record)
	if err != nil {
		return err
	}
	written, err := completeScript.Run(ctx, s.client, []string{s.key(key)}, fingerprint, payload, ttl.Milliseconds()).Int64()
	if err != nil {
		return fmt.Errorf("idempotency: complete: %w", err)
	}
	if written == 0 {
		return ErrFingerprintMismatch
	}
	return nil
}

func (s *RedisStore) Release(ctx context.Context, key, fingerprint string) error {
	if err := releaseScript.Run(ctx, s.client, []string{s.key(key)}, fingerprint).Err(); err != nil && !errors.Is(err, redis.Nil) {
		return fmt.Errorf("idempotency: release: %w", err)
	}
	return nil
}

func (s *RedisStore) key(key string) string {
	return s.prefix + ":" + documentID(key)
}
