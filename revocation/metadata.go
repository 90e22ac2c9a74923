package revocation

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// Repository is the token-metadata half of the storage collaborator. A
// database implementation must make RevokeToken a conditional update that
// only succeeds while the row is still active.
type Repository interface {
	StoreTokenMetadata(ctx context.Context, rec Record) error
	// GetTokenByID returns ErrNotFound for unknown ids.
	GetTokenByID(ctx context.Context, tokenID string) (Record, error)
	// RevokeToken revokes tokenID, inserting a row that expires at
	// retainUntil if the id is unknown. It returns false when the token was
	// already revoked.
	RevokeToken(ctx context.Context, tokenID string, reason Reason, at, retainUntil time.Time) (bool, error)
	RevokeUserTokens(ctx context.Context, userID string, reason Reason, at time.Time) (int, error)
	DeleteExpiredTokens(ctx context.Context, before time.Time) (int, error)
}

// MetadataStore is a durable Store delegating to a Repository.
type MetadataStore struct {
	repo Repository
	opts Options
}

// NewMetadataStore returns a Store over repo.
func NewMetadataStore(repo Repository, opts Options) *MetadataStore {
	return &MetadataStore{repo: repo, opts: opts.withDefaults()}
}

func (s *MetadataStore) Record(ctx context.Context, userID, tokenID string, expiresAt time.Time) error {
	if err := s.repo.StoreTokenMetadata(ctx, Record{TokenID: tokenID, UserID: userID, ExpiresAt: expiresAt}); err != nil {
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	return nil
}

func (s *MetadataStore) Revoke(ctx context.Context, tokenID string, reason Reason) (bool, error) {
	now := s.opts.Now()
	ok, err := s.repo.RevokeToken(ctx, tokenID, reason, now, now.Add(s.opts.Retention))
	if err != nil {
		return false, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	return ok, nil
}

func (s *MetadataStore) IsRevoked(ctx context.Context, tokenID string) (bool, error) {
	rec, err := s.repo.GetTokenByID(ctx, tokenID)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return false, nil
		}
		return false, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	return rec.Revoked(), nil
}

func (s *MetadataStore) RevokeAll(ctx context.Context, userID string, reason Reason) (int, error) {
	n, err := s.repo.RevokeUserTokens(ctx, userID, reason, s.opts.Now())
	if err != nil {
		return 0, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	return n, nil
}

func (s *MetadataStore) Cleanup(ctx context.Context) (int, error) {
	n, err := s.repo.DeleteExpiredTokens(ctx, s.opts.Now())
	if err != nil {
		return 0, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	return n, nil
}
