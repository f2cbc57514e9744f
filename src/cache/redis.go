package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/stake-plus/mememo/src/clock"
)

// DefaultKeyPrefix namespaces cache keys in a shared Redis.
const DefaultKeyPrefix = "mememo:cache:"

// RedisStore keeps entries in Redis. Values carry their own expiry so the
// clock decides liveness; the native TTL only lets Redis reclaim memory.
type RedisStore struct {
	rdb    redis.UniversalClient
	prefix string
	clock  clock.Clock
}

// NewRedisStore wraps rdb. An empty prefix uses DefaultKeyPrefix.
func NewRedisStore(rdb redis.UniversalClient, prefix string, c clock.Clock) *RedisStore {
	if prefix == "" {
		prefix = DefaultKeyPrefix
	}
	return &RedisStore{rdb: rdb, prefix: prefix, clock: clock.OrReal(c)}
}

func (s *RedisStore) Get(ctx context.Context, key string) (string, bool, error) {
	raw, err := s.rdb.Get(ctx, s.prefix+key).Bytes()
	if errors.Is(err, redis.Nil) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("%w: get %s: %v", ErrStoreUnavailable, key, err)
	}
	var e Entry
	if err := json.Unmarshal(raw, &e); err != nil {
		// Corrupt entries are treated as misses and dropped.
		_ = s.rdb.Del(ctx, s.prefix+key).Err()
		return "", false, nil
	}
	if !e.Live(s.clock.Now()) {
		return "", false, nil
	}
	return e.Value, true, nil
}

func (s *RedisStore) Put(ctx context.Context, key, value string, ttl time.Duration) error {
	if ttl <= 0 {
		return nil
	}
	now := s.clock.Now()
	raw, err := json.Marshal(Entry{Key: key, Value: value, StoredAt: now, ExpiresAt: now.Add(ttl)})
	if err != nil {
		return fmt.Errorf("cache: encode %s: %w", key, err)
	}
	if err := s.rdb.Set(ctx, s.prefix+key, raw, ttl).Err(); err != nil {
		return fmt.Errorf("%w: put %s: %v", ErrStoreUnavailable, key, err)
	}
	return nil
}

func (s *RedisStore) Invalidate(ctx context.Context, key string) error {
	if err := s.rdb.Del(ctx, s.prefix+key).Err(); err != nil {
		return fmt.Errorf("%w: invalidate %s: %v", ErrStoreUnavailable, key, err)
	}
	return nil
}

func (s *RedisStore) InvalidateService(ctx context.Context, service string) (int, error) {
	n := 0
	err := s.scan(ctx, globEscape(s.prefix+servicePrefix(service))+"*", func(keys []string) error {
		var stale []string
		for _, k := range keys {
			if ServiceOf(k[len(s.prefix):]) == service {
				stale = append(stale, k)
			}
		}
		if len(stale) == 0 {
			return nil
		}
		deleted, err := s.rdb.Del(ctx, stale...).Result()
		n += int(deleted)
		return err
	})
	if err != nil {
		return n, fmt.Errorf("%w: invalidate service %s: %v", ErrStoreUnavailable, service, err)
	}
	return n, nil
}

// Sweep deletes entries whose embedded expiry has passed but whose Redis TTL
// has not, which happens when the clock runs ahead of the server.
func (s *RedisStore) Sweep(ctx context.Context, now time.Time) (int, error) {
	n := 0
	err := s.scan(ctx, globEscape(s.prefix)+"*", func(keys []string) error {
		vals, err := s.rdb.MGet(ctx, keys...).Result()
		if err != nil {
			return err
		}
		var stale []string
		for i, v := range vals {
			str, ok := v.(string)
			if !ok {
				continue
			}
			var e Entry
			if json.Unmarshal([]byte(str), &e) != nil || !e.Live(now) {
				stale = append(stale, keys[i])
			}
		}
		if len(stale) == 0 {
			return nil
		}
		deleted, err := s.rdb.Del(ctx, stale...).Result()
		n += int(deleted)
		return err
	})
	if err != nil {
		return n, fmt.Errorf("%w: sweep: %v", ErrStoreUnavailable, err)
	}
	return n, nil
}

func (s *RedisStore) scan(ctx context.Context, match string, fn func([]string) error) error {
	var cursor uint64
	for {
		keys, next, err := s.rdb.Scan(ctx, cursor, match, 200).Result()
		if err != nil {
			return err
		}
		if len(keys) > 0 {
			if err := fn(keys); err != nil {
				return err
			}
		}
		if next == 0 {
			return nil
		}
		cursor = next
	}
}
