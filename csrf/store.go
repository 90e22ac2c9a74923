package csrf

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

// ErrUnavailable wraps backend failures.
var ErrUnavailable = errors.New("csrf store unavailable")

// Record is the server-side copy of a token.
type Record struct {
	UserID    string
	ExpiresAt time.Time
}

// Store persists tokens keyed by their value.
type Store interface {
	Save(ctx context.Context, token string, rec Record) error
	Get(ctx context.Context, token string) (Record, bool, error)
	// DeleteUser removes every token bound to userID.
	DeleteUser(ctx context.Context, userID string) (int, error)
}

// MemoryStore keeps tokens in process memory.
type MemoryStore struct {
	mu     sync.RWMutex
	tokens map[string]Record
	byUser map[string]map[string]struct{}
	now    func() time.Time
}

// NewMemoryStore returns an empty MemoryStore. now may be nil.
func NewMemoryStore(now func() time.Time) *MemoryStore {
	if now == nil {
		now = time.Now
	}
	return &MemoryStore{
		tokens: make(map[string]Record),
		byUser: make(map[string]map[string]struct{}),
		now:    now,
	}
}

func (s *MemoryStore) Save(_ context.Context, token string, rec Record) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.tokens[token] = rec
	ids, ok := s.byUser[rec.UserID]
	if !ok {
		ids = make(map[string]struct{})
		s.byUser[rec.UserID] = ids
	}
	ids[token] = struct{}{}
	return nil
}

func (s *MemoryStore) Get(_ context.Context, token string) (Record, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rec, ok := s.tokens[token]
	return rec, ok, nil
}

func (s *MemoryStore) DeleteUser(_ context.Context, userID string) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	n := 0
	for token := range s.byUser[userID] {
		delete(s.tokens, token)
		n++
	}
	delete(s.byUser, userID)
	return n, nil
}

// Sweep removes expired tokens.
func (s *MemoryStore) Sweep(ctx context.Context) (int, error) {
	now := s.now()

	s.mu.RLock()
	expired := make([]string, 0)
	for token, rec := range s.tokens {
		if !now.Before(rec.ExpiresAt) {
			expired = append(expired, token)
		}
	}
	s.mu.RUnlock()

	if err := ctx.Err(); err != nil {
		return 0, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	removed := 0
	for _, token := range expired {
		rec, ok := s.tokens[token]
		if !ok || now.Before(rec.ExpiresAt) {
			continue
		}
		delete(s.tokens, token)
		if ids, ok := s.byUser[rec.UserID]; ok {
			delete(ids, token)
			if len(ids) == 0 {
				delete(s.byUser, rec.UserID)
			}
		}
		removed++
	}
	return removed, nil
}

const deleteUserScript = `
local tokens = redis.call("SMEMBERS", KEYS[1])
local n = 0
for _, t in ipairs(tokens) do
  n = n + redis.call("DEL", ARGV[1] .. t)
end
redis.call("DEL", KEYS[1])
return n
`

var deleteUserLua = redis.NewScript(deleteUserScript)

// RedisStore keeps each token in a hash with a TTL, plus a per-user set.
type RedisStore struct {
	redis  redis.UniversalClient
	prefix string
	now    func() time.Time
}

// NewRedisStore returns a RedisStore. now may be nil.
func NewRedisStore(client redis.UniversalClient, prefix string, now func() time.Time) *RedisStore {
	if prefix == "" {
		prefix = "csrf"
	}
	if now == nil {
		now = time.Now
	}
	return &RedisStore{redis: client, prefix: prefix, now: now}
}

func (s *RedisStore) tokenPrefix() string { return s.prefix + ":t:" }

func (s *RedisStore) userKey(userID string) string { return s.prefix + ":u:" + userID }

func (s *RedisStore) Save(ctx context.Context, token string, rec Record) error {
	ttl := rec.ExpiresAt.Sub(s.now())
	if ttl <= 0 {
		return nil
	}
	key := s.tokenPrefix() + token
	userKey := s.userKey(rec.UserID)

	_, err := s.redis.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.HSet(ctx, key, "uid", rec.UserID, "exp", rec.ExpiresAt.UnixMilli())
		pipe.PExpire(ctx, key, ttl)
		pipe.SAdd(ctx, userKey, token)
		pipe.PExpire(ctx, userKey, ttl)
		return nil
	})
	if err != nil {
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	return nil
}

func (s *RedisStore) Get(ctx context.Context, token string) (Record, bool, error) {
	fields, err := s.redis.HGetAll(ctx, s.tokenPrefix()+token).Result()
	if err != nil {
		return Record{}, false, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	if len(fields) == 0 {
		return Record{}, false, nil
	}
	ms, err := strconv.ParseInt(fields["exp"], 10, 64)
	if err != nil {
		return Record{}, false, nil
	}
	return Record{UserID: fields["uid"], ExpiresAt: time.UnixMilli(ms)}, true, nil
}

func (s *RedisStore) DeleteUser(ctx context.Context, userID string) (int, error) {
	n, err := deleteUserLua.Run(ctx, s.redis, []string{s.userKey(userID)}, s.tokenPrefix()).Int64()
	if err != nil {
		return 0, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	return int(n), nil
}
