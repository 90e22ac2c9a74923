package ratelimit

import (
	"context"
	"errors"
	"hash/fnv"
	"sync"
	"time"
)

// ErrUnavailable wraps backend failures.
var ErrUnavailable = errors.New("rate limit store unavailable")

// Store applies read-modify-write updates to records atomically per key.
type Store interface {
	// Update loads the record for key (zero if absent), passes it to fn and
	// saves the result. fn may run more than once if the backend retries.
	Update(ctx context.Context, key string, fn func(*Record)) error
	// Sweep drops expired, unblocked records and returns how many were removed.
	Sweep(ctx context.Context) (int, error)
}

const defaultShards = 32

type shard struct {
	mu      sync.Mutex
	records map[string]*Record
}

// MemoryStore is a sharded in-process Store. Each update holds only the lock
// of the key's shard.
type MemoryStore struct {
	shards []*shard
	now    func() time.Time
}

// NewMemoryStore returns a MemoryStore with the given number of shards. A
// non-positive count uses the default. now may be nil.
func NewMemoryStore(shards int, now func() time.Time) *MemoryStore {
	if shards <= 0 {
		shards = defaultShards
	}
	if now == nil {
		now = time.Now
	}
	s := &MemoryStore{shards: make([]*shard, shards), now: now}
	for i := range s.shards {
		s.shards[i] = &shard{records: make(map[string]*Record)}
	}
	return s
}

func (s *MemoryStore) shardFor(key string) *shard {
	h := fnv.New32a()
	_, _ = h.Write([]byte(key))
	return s.shards[h.Sum32()%uint32(len(s.shards))]
}

func (s *MemoryStore) Update(_ context.Context, key string, fn func(*Record)) error {
	sh := s.shardFor(key)
	sh.mu.Lock()
	defer sh.mu.Unlock()

	rec, ok := sh.records[key]
	if !ok {
		rec = &Record{}
		sh.records[key] = rec
	}
	fn(rec)
	return nil
}

// Get returns a copy of the record for key.
func (s *MemoryStore) Get(key string) (Record, bool) {
	sh := s.shardFor(key)
	sh.mu.Lock()
	defer sh.mu.Unlock()

	rec, ok := sh.records[key]
	if !ok {
		return Record{}, false
	}
	return *rec, true
}

// Len returns the number of live records.
func (s *MemoryStore) Len() int {
	n := 0
	for _, sh := range s.shards {
		sh.mu.Lock()
		n += len(sh.records)
		sh.mu.Unlock()
	}
	return n
}

// Sweep visits one shard at a time.
func (s *MemoryStore) Sweep(ctx context.Context) (int, error) {
	removed := 0
	for _, sh := range s.shards {
		if err := ctx.Err(); err != nil {
			return removed, err
		}
		now := s.now()
		sh.mu.Lock()
		for key, rec := range sh.records {
			if rec.Expired(now) {
				delete(sh.records, key)
				removed++
			}
		}
		sh.mu.Unlock()
	}
	return removed, nil
}
