package ratelimit

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// ErrContention is returned when an optimistic update keeps losing races.
var ErrContention = errors.New("rate limit update contention")

const defaultMaxRetries = 16

// RedisStore keeps one JSON record per key and updates it inside a
// WATCH/MULTI transaction. Keys carry a TTL covering the window or block,
// whichever ends later, so Redis performs the sweeping.
type RedisStore struct {
	redis      redis.UniversalClient
	prefix     string
	maxRetries int
	now        func() time.Time
}

// NewRedisStore returns a RedisStore. now may be nil.
func NewRedisStore(client redis.UniversalClient, prefix string, now func() time.Time) *RedisStore {
	if prefix == "" {
		prefix = "rl"
	}
	if now == nil {
		now = time.Now
	}
	return &RedisStore{redis: client, prefix: prefix, maxRetries: defaultMaxRetries, now: now}
}

func (s *RedisStore) key(k string) string { return s.prefix + ":" + k }

func (s *RedisStore) Update(ctx context.Context, key string, fn func(*Record)) error {
	k := s.key(key)

	txf := func(tx *redis.Tx) error {
		var rec Record
		raw, err := tx.Get(ctx, k).Bytes()
		switch {
		case errors.Is(err, redis.Nil):
		case err != nil:
			return err
		default:
			if err := json.Unmarshal(raw, &rec); err != nil {
				rec = Record{}
			}
		}

		fn(&rec)

		data, err := json.Marshal(rec)
		if err != nil {
			return err
		}
		ttl := rec.expiry().Sub(s.now())
		if ttl < time.Millisecond {
			ttl = time.Millisecond
		}

		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Set(ctx, k, data, ttl)
			return nil
		})
		return err
	}

	for attempt := 0; attempt < s.maxRetries; attempt++ {
		err := s.redis.Watch(ctx, txf, k)
		if err == nil {
			return nil
		}
		if errors.Is(err, redis.TxFailedErr) {
			continue
		}
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	return ErrContention
}

// Get returns the stored record for key.
func (s *RedisStore) Get(ctx context.Context, key string) (Record, bool, error) {
	raw, err := s.redis.Get(ctx, s.key(key)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return Record{}, false, nil
		}
		return Record{}, false, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	var rec Record
	if err := json.Unmarshal(raw, &rec); err != nil {
		return Record{}, false, fmt.Errorf("decode rate limit record: %w", err)
	}
	return rec, true, nil
}

// Sweep is a no-op; keys expire through their TTL.
func (s *RedisStore) Sweep(context.Context) (int, error) { return 0, nil }
