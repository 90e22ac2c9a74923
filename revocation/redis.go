package revocation

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
)

// Token records live in a hash at <prefix>:t:<tokenID> with fields uid, exp
// (unix ms), rat (revoked-at unix ms) and rsn. The key TTL is the remaining
// token lifetime, so Redis expires records on its own. <prefix>:u:<userID> is
// a set of the user's token ids.

const recordScript = `
if redis.call("EXISTS", KEYS[1]) == 1 then
  return 0
end
redis.call("HSET", KEYS[1], "uid", ARGV[1], "exp", ARGV[2])
redis.call("PEXPIRE", KEYS[1], ARGV[3])
redis.call("SADD", KEYS[2], ARGV[4])
if redis.call("PTTL", KEYS[2]) < tonumber(ARGV[3]) then
  redis.call("PEXPIRE", KEYS[2], ARGV[3])
end
return 1
`

const revokeScript = `
if redis.call("HGET", KEYS[1], "rat") then
  return 0
end
if redis.call("EXISTS", KEYS[1]) == 0 then
  redis.call("HSET", KEYS[1], "exp", tostring(tonumber(ARGV[1]) + tonumber(ARGV[3])))
  redis.call("PEXPIRE", KEYS[1], ARGV[3])
end
redis.call("HSET", KEYS[1], "rat", ARGV[1], "rsn", ARGV[2])
return 1
`

const revokeAllScript = `
local ids = redis.call("SMEMBERS", KEYS[1])
local n = 0
for _, id in ipairs(ids) do
  local key = ARGV[1] .. id
  if redis.call("EXISTS", key) == 1 then
    if not redis.call("HGET", key, "rat") then
      redis.call("HSET", key, "rat", ARGV[2], "rsn", ARGV[3])
      n = n + 1
    end
  else
    redis.call("SREM", KEYS[1], id)
  end
end
return n
`

var (
	recordLua    = redis.NewScript(recordScript)
	revokeLua    = redis.NewScript(revokeScript)
	revokeAllLua = redis.NewScript(revokeAllScript)
)

// RedisStore is a durable Store backed by Redis. Every mutation is a single
// Lua script, so concurrent revocations of one id serialize inside Redis.
type RedisStore struct {
	redis  redis.UniversalClient
	prefix string
	opts   Options
}

// NewRedisStore returns a RedisStore using prefix as its key namespace.
func NewRedisStore(client redis.UniversalClient, prefix string, opts Options) *RedisStore {
	if prefix == "" {
		prefix = "rv"
	}
	return &RedisStore{redis: client, prefix: prefix, opts: opts.withDefaults()}
}

func (s *RedisStore) tokenPrefix() string { return s.prefix + ":t:" }

func (s *RedisStore) tokenKey(tokenID string) string { return s.tokenPrefix() + tokenID }

func (s *RedisStore) userKey(userID string) string { return s.prefix + ":u:" + userID }

func (s *RedisStore) Record(ctx context.Context, userID, tokenID string, expiresAt time.Time) error {
	ttl := expiresAt.Sub(s.opts.Now())
	if ttl <= 0 {
		return nil
	}
	_, err := recordLua.Run(ctx, s.redis,
		[]string{s.tokenKey(tokenID), s.userKey(userID)},
		userID,
		expiresAt.UnixMilli(),
		ttl.Milliseconds(),
		tokenID,
	).Result()
	if err != nil {
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	return nil
}

func (s *RedisStore) Revoke(ctx context.Context, tokenID string, reason Reason) (bool, error) {
	res, err := revokeLua.Run(ctx, s.redis,
		[]string{s.tokenKey(tokenID)},
		s.opts.Now().UnixMilli(),
		string(reason),
		s.opts.Retention.Milliseconds(),
	).Int64()
	if err != nil {
		return false, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	return res == 1, nil
}

func (s *RedisStore) IsRevoked(ctx context.Context, tokenID string) (bool, error) {
	err := s.redis.HGet(ctx, s.tokenKey(tokenID), "rat").Err()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return false, nil
		}
		return false, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	return true, nil
}

func (s *RedisStore) RevokeAll(ctx context.Context, userID string, reason Reason) (int, error) {
	n, err := revokeAllLua.Run(ctx, s.redis,
		[]string{s.userKey(userID)},
		s.tokenPrefix(),
		s.opts.Now().UnixMilli(),
		string(reason),
	).Int64()
	if err != nil {
		return 0, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	return int(n), nil
}

// Lookup returns the record for tokenID.
func (s *RedisStore) Lookup(ctx context.Context, tokenID string) (Record, error) {
	fields, err := s.redis.HGetAll(ctx, s.tokenKey(tokenID)).Result()
	if err != nil {
		return Record{}, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	if len(fields) == 0 {
		return Record{}, ErrNotFound
	}
	rec := Record{TokenID: tokenID, UserID: fields["uid"], Reason: Reason(fields["rsn"])}
	if ms, err := strconv.ParseInt(fields["exp"], 10, 64); err == nil {
		rec.ExpiresAt = time.UnixMilli(ms)
	}
	if ms, err := strconv.ParseInt(fields["rat"], 10, 64); err == nil {
		rec.RevokedAt = time.UnixMilli(ms)
	}
	return rec, nil
}

// Cleanup removes user index entries whose token record has already expired.
// Token records themselves expire through their key TTL.
func (s *RedisStore) Cleanup(ctx context.Context) (int, error) {
	removed := 0
	iter := s.redis.Scan(ctx, 0, s.prefix+":u:*", int64(s.opts.CleanupChunk)).Iterator()
	for iter.Next(ctx) {
		userKey := iter.Val()
		ids, err := s.redis.SMembers(ctx, userKey).Result()
		if err != nil {
			return removed, fmt.Errorf("%w: %v", ErrUnavailable, err)
		}
		if len(ids) == 0 {
			continue
		}

		pipe := s.redis.Pipeline()
		exists := make([]*redis.IntCmd, len(ids))
		for i, id := range ids {
			exists[i] = pipe.Exists(ctx, s.tokenKey(id))
		}
		if _, err := pipe.Exec(ctx); err != nil {
			return removed, fmt.Errorf("%w: %v", ErrUnavailable, err)
		}

		stale := make([]interface{}, 0)
		for i, cmd := range exists {
			if cmd.Val() == 0 {
				stale = append(stale, ids[i])
			}
		}
		if len(stale) == 0 {
			continue
		}
		n, err := s.redis.SRem(ctx, userKey, stale...).Result()
		if err != nil {
			return removed, fmt.Errorf("%w: %v", ErrUnavailable, err)
		}
		removed += int(n)
	}
	if err := iter.Err(); err != nil {
		return removed, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	return removed, nil
}
