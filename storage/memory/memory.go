// Package memory is an in-process storage collaborator. It implements
// goGuard.UserStore and revocation.Repository and is meant for tests,
// development and single-instance deployments.
package memory

import (
	"context"
	"strings"
	"sync"
	"time"

	goGuard "github.com/MrEthical07/goGuard"
	"github.com/MrEthical07/goGuard/revocation"
)

// Store keeps users and token metadata in maps guarded by one mutex.
type Store struct {
	mu sync.RWMutex

	users      map[string]goGuard.UserRecord
	byUsername map[string]string
	byEmail    map[string]string

	tokens map[string]revocation.Record
}

var (
	_ goGuard.UserStore     = (*Store)(nil)
	_ revocation.Repository = (*Store)(nil)
)

func New() *Store {
	return &Store{
		users:      make(map[string]goGuard.UserRecord),
		byUsername: make(map[string]string),
		byEmail:    make(map[string]string),
		tokens:     make(map[string]revocation.Record),
	}
}

func fold(s string) string { return strings.ToLower(strings.TrimSpace(s)) }

func cloneUser(u goGuard.UserRecord) goGuard.UserRecord {
	u.Roles = append([]string(nil), u.Roles...)
	return u
}

func (s *Store) GetUserByUsername(_ context.Context, username string) (goGuard.UserRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	id, ok := s.byUsername[fold(username)]
	if !ok {
		return goGuard.UserRecord{}, goGuard.ErrUserNotFound
	}
	return cloneUser(s.users[id]), nil
}

func (s *Store) GetUserByEmail(_ context.Context, email string) (goGuard.UserRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	id, ok := s.byEmail[fold(email)]
	if !ok {
		return goGuard.UserRecord{}, goGuard.ErrUserNotFound
	}
	return cloneUser(s.users[id]), nil
}

func (s *Store) GetUser(_ context.Context, id string) (goGuard.UserRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	u, ok := s.users[id]
	if !ok {
		return goGuard.UserRecord{}, goGuard.ErrUserNotFound
	}
	return cloneUser(u), nil
}

// CreateUser inserts u. Username and email uniqueness is case-insensitive.
func (s *Store) CreateUser(_ context.Context, u goGuard.UserRecord) (goGuard.UserRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	uname, email := fold(u.Username), fold(u.Email)
	if _, taken := s.byUsername[uname]; taken {
		return goGuard.UserRecord{}, goGuard.ErrUsernameTaken
	}
	if _, taken := s.byEmail[email]; taken {
		return goGuard.UserRecord{}, goGuard.ErrEmailTaken
	}

	u = cloneUser(u)
	s.users[u.ID] = u
	s.byUsername[uname] = u.ID
	s.byEmail[email] = u.ID
	return cloneUser(u), nil
}

func (s *Store) UpdatePasswordHash(_ context.Context, id, hash string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	u, ok := s.users[id]
	if !ok {
		return goGuard.ErrUserNotFound
	}
	u.PasswordHash = hash
	s.users[id] = u
	return nil
}

// StoreTokenMetadata inserts rec unless the id is already known.
func (s *Store) StoreTokenMetadata(_ context.Context, rec revocation.Record) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.tokens[rec.TokenID]; ok {
		return nil
	}
	s.tokens[rec.TokenID] = rec
	return nil
}

func (s *Store) GetTokenByID(_ context.Context, tokenID string) (revocation.Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	rec, ok := s.tokens[tokenID]
	if !ok {
		return revocation.Record{}, revocation.ErrNotFound
	}
	return rec, nil
}

func (s *Store) RevokeToken(_ context.Context, tokenID string, reason revocation.Reason, at, retainUntil time.Time) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.tokens[tokenID]
	if !ok {
		s.tokens[tokenID] = revocation.Record{
			TokenID:   tokenID,
			ExpiresAt: retainUntil,
			RevokedAt: at,
			Reason:    reason,
		}
		return true, nil
	}
	if rec.Revoked() {
		return false, nil
	}
	rec.RevokedAt = at
	rec.Reason = reason
	s.tokens[tokenID] = rec
	return true, nil
}

func (s *Store) RevokeUserTokens(_ context.Context, userID string, reason revocation.Reason, at time.Time) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for id, rec := range s.tokens {
		if rec.UserID != userID || rec.Revoked() {
			continue
		}
		rec.RevokedAt = at
		rec.Reason = reason
		s.tokens[id] = rec
		n++
	}
	return n, nil
}

// DeleteExpiredTokens removes every record whose ExpiresAt is not after before.
func (s *Store) DeleteExpiredTokens(_ context.Context, before time.Time) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for id, rec := range s.tokens {
		if !rec.ExpiresAt.After(before) {
			delete(s.tokens, id)
			n++
		}
	}
	return n, nil
}

// Len reports the number of users and token records.
func (s *Store) Len() (users, tokens int) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.users), len(s.tokens)
}
