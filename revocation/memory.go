package revocation

import (
	"context"
	"sync"
	"time"
)

// MemoryStore is an ephemeral Store. Its state is lost on restart, so it only
// suits development, tests and single-process deployments that accept that.
type MemoryStore struct {
	opts Options

	mu      sync.RWMutex
	records map[string]*Record
	byUser  map[string]map[string]struct{}
}

// NewMemoryStore returns an empty MemoryStore.
func NewMemoryStore(opts Options) *MemoryStore {
	return &MemoryStore{
		opts:    opts.withDefaults(),
		records: make(map[string]*Record),
		byUser:  make(map[string]map[string]struct{}),
	}
}

func (s *MemoryStore) Record(_ context.Context, userID, tokenID string, expiresAt time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.records[tokenID]; ok {
		return nil
	}
	s.records[tokenID] = &Record{TokenID: tokenID, UserID: userID, ExpiresAt: expiresAt}
	s.index(userID, tokenID)
	return nil
}

func (s *MemoryStore) index(userID, tokenID string) {
	if userID == "" {
		return
	}
	ids, ok := s.byUser[userID]
	if !ok {
		ids = make(map[string]struct{})
		s.byUser[userID] = ids
	}
	ids[tokenID] = struct{}{}
}

func (s *MemoryStore) Revoke(_ context.Context, tokenID string, reason Reason) (bool, error) {
	now := s.opts.Now()

	s.mu.Lock()
	defer s.mu.Unlock()

	rec, ok := s.records[tokenID]
	if !ok {
		s.records[tokenID] = &Record{
			TokenID:   tokenID,
			ExpiresAt: now.Add(s.opts.Retention),
			RevokedAt: now,
			Reason:    reason,
		}
		return true, nil
	}
	if rec.Revoked() {
		return false, nil
	}
	rec.RevokedAt = now
	rec.Reason = reason
	return true, nil
}

func (s *MemoryStore) IsRevoked(_ context.Context, tokenID string) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rec, ok := s.records[tokenID]
	return ok && rec.Revoked(), nil
}

func (s *MemoryStore) RevokeAll(_ context.Context, userID string, reason Reason) (int, error) {
	now := s.opts.Now()

	s.mu.Lock()
	defer s.mu.Unlock()

	n := 0
	for id := range s.byUser[userID] {
		rec, ok := s.records[id]
		if !ok || rec.Revoked() {
			continue
		}
		rec.RevokedAt = now
		rec.Reason = reason
		n++
	}
	return n, nil
}

// Lookup returns a copy of the record for tokenID.
func (s *MemoryStore) Lookup(_ context.Context, tokenID string) (Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rec, ok := s.records[tokenID]
	if !ok {
		return Record{}, ErrNotFound
	}
	return *rec, nil
}

// Len returns the number of stored records.
func (s *MemoryStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.records)
}

// Cleanup snapshots the expired ids under a read lock, then deletes them in
// chunks, re-checking each one under the write lock.
func (s *MemoryStore) Cleanup(ctx context.Context) (int, error) {
	now := s.opts.Now()

	s.mu.RLock()
	expired := make([]string, 0)
	for id, rec := range s.records {
		if !now.Before(rec.ExpiresAt) {
			expired = append(expired, id)
		}
	}
	s.mu.RUnlock()

	removed := 0
	for start := 0; start < len(expired); start += s.opts.CleanupChunk {
		if err := ctx.Err(); err != nil {
			return removed, err
		}
		end := min(start+s.opts.CleanupChunk, len(expired))

		s.mu.Lock()
		for _, id := range expired[start:end] {
			rec, ok := s.records[id]
			if !ok || now.Before(rec.ExpiresAt) {
				continue
			}
			delete(s.records, id)
			if ids, ok := s.byUser[rec.UserID]; ok {
				delete(ids, id)
				if len(ids) == 0 {
					delete(s.byUser, rec.UserID)
				}
			}
			removed++
		}
		s.mu.Unlock()
	}
	return removed, nil
}
