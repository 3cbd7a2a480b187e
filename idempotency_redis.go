package mailstrom

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	redis "github.com/redis/go-redis/v9"
)

const redisIdemKeyFormat = "%s:idem:%s"

type redisIdemRecord struct {
	CreatedAt time.Time   `json:"created_at"`
	Completed bool        `json:"completed"`
	Outcome   SendOutcome `json:"outcome"`
}

// RedisIdempotencyStore keeps idempotency records in Redis, letting record
// TTLs ride on Redis key expiry. It is a single-instance store, not a
// coordination layer: concurrent processes sharing one namespace get
// best-effort deduplication only. The client is owned by the caller.
type RedisIdempotencyStore struct {
	client    *redis.Client
	namespace string
	ttl       time.Duration
}

// NewRedisIdempotencyStore creates a Redis-backed store under the given key
// namespace.
func NewRedisIdempotencyStore(client *redis.Client, namespace string, ttl time.Duration) *RedisIdempotencyStore {
	if namespace == "" {
		namespace = "mailstrom"
	}
	if ttl <= 0 {
		ttl = 5 * time.Minute
	}
	return &RedisIdempotencyStore{client: client, namespace: namespace, ttl: ttl}
}

func (s *RedisIdempotencyStore) key(id string) string {
	return fmt.Sprintf(redisIdemKeyFormat, s.namespace, id)
}

// IsDuplicate implements IdempotencyStore. Redis errors are treated as
// cache misses: a degraded cache must not block sends.
func (s *RedisIdempotencyStore) IsDuplicate(ctx context.Context, id string) bool {
	n, err := s.client.Exists(ctx, s.key(id)).Result()
	return err == nil && n > 0
}

// CachedOutcome implements IdempotencyStore.
func (s *RedisIdempotencyStore) CachedOutcome(ctx context.Context, id string) (SendOutcome, bool) {
	raw, err := s.client.Get(ctx, s.key(id)).Result()
	if err != nil {
		return SendOutcome{}, false
	}
	var rec redisIdemRecord
	if err := json.Unmarshal([]byte(raw), &rec); err != nil || !rec.Completed {
		return SendOutcome{}, false
	}
	return rec.Outcome, true
}

// MarkInProgress implements IdempotencyStore.
func (s *RedisIdempotencyStore) MarkInProgress(ctx context.Context, id string) {
	raw, err := json.Marshal(redisIdemRecord{CreatedAt: time.Now()})
	if err != nil {
		return
	}
	s.client.Set(ctx, s.key(id), raw, s.ttl)
}

// MarkCompleted implements IdempotencyStore. The remaining key TTL is
// preserved so completion does not extend the record's life.
func (s *RedisIdempotencyStore) MarkCompleted(ctx context.Context, id string, outcome SendOutcome) {
	key := s.key(id)
	remaining, err := s.client.TTL(ctx, key).Result()
	if err != nil || remaining <= 0 {
		return
	}
	raw, err := json.Marshal(redisIdemRecord{CreatedAt: time.Now(), Completed: true, Outcome: outcome})
	if err != nil {
		return
	}
	s.client.Set(ctx, key, raw, remaining)
}

// Remove implements IdempotencyStore.
func (s *RedisIdempotencyStore) Remove(ctx context.Context, id string) {
	s.client.Del(ctx, s.key(id))
}

// Len implements IdempotencyStore. It scans the namespace; intended for
// stats reporting, not hot paths.
func (s *RedisIdempotencyStore) Len(ctx context.Context) int {
	var (
		cursor uint64
		total  int
	)
	pattern := fmt.Sprintf(redisIdemKeyFormat, s.namespace, "*")
	for {
		keys, next, err := s.client.Scan(ctx, cursor, pattern, 100).Result()
		if err != nil {
			return total
		}
		total += len(keys)
		if next == 0 {
			return total
		}
		cursor = next
	}
}

// Clear implements IdempotencyStore.
func (s *RedisIdempotencyStore) Clear(ctx context.Context) {
	var cursor uint64
	pattern := fmt.Sprintf(redisIdemKeyFormat, s.namespace, "*")
	for {
		keys, next, err := s.client.Scan(ctx, cursor, pattern, 100).Result()
		if err != nil {
			return
		}
		if len(keys) > 0 {
			s.client.Del(ctx, keys...)
		}
		if next == 0 {
			return
		}
		cursor = next
	}
}

// Close implements IdempotencyStore. The Redis client is caller-owned.
func (s *RedisIdempotencyStore) Close() error { return nil }
