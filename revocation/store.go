package revocation

import (
	"context"
	"errors"
	"time"
)

// Reason records why a token was revoked.
type Reason string

// Revocation reasons.
const (
	ReasonLogout         Reason = "logout"
	ReasonRotation       Reason = "rotation"
	ReasonAdmin          Reason = "admin"
	ReasonPasswordChange Reason = "password_change"
	ReasonReuse          Reason = "reuse"
)

var (
	// ErrUnavailable wraps backend failures.
	ErrUnavailable = errors.New("revocation store unavailable")
	// ErrNotFound is returned by lookups of an unknown token id.
	ErrNotFound = errors.New("token not found")
)

// Record is the stored metadata of one token. The token itself is never
// stored. A zero RevokedAt means the token is active.
type Record struct {
	TokenID   string
	UserID    string
	ExpiresAt time.Time
	RevokedAt time.Time
	Reason    Reason
}

// Revoked reports whether the record has been revoked.
func (r Record) Revoked() bool { return !r.RevokedAt.IsZero() }

// Store is the revocation contract shared by every backend.
//
// Revocation is monotonic: once IsRevoked returns true for an id it keeps
// returning true until the record is purged by Cleanup after the token's
// natural expiry.
type Store interface {
	// Record registers an issued token. Recording an id that is already known
	// is a no-op and never clears a revocation.
	Record(ctx context.Context, userID, tokenID string, expiresAt time.Time) error
	// Revoke marks tokenID revoked. It returns true only for the call that
	// moved the token from active or unknown to revoked.
	Revoke(ctx context.Context, tokenID string, reason Reason) (bool, error)
	IsRevoked(ctx context.Context, tokenID string) (bool, error)
	// RevokeAll revokes every active token of userID and returns how many
	// were revoked by this call.
	RevokeAll(ctx context.Context, userID string, reason Reason) (int, error)
	// Cleanup purges records past their natural expiry.
	Cleanup(ctx context.Context) (int, error)
}

// Options tunes a backend.
type Options struct {
	// Retention bounds how long a revocation of an unrecorded id is kept.
	// It should be at least the refresh token TTL.
	Retention time.Duration
	// CleanupChunk is the number of records examined per lock acquisition
	// during MemoryStore cleanup.
	CleanupChunk int
	Now          func() time.Time
}

const (
	defaultRetention    = 7 * 24 * time.Hour
	defaultCleanupChunk = 512
)

func (o Options) withDefaults() Options {
	if o.Retention <= 0 {
		o.Retention = defaultRetention
	}
	if o.CleanupChunk <= 0 {
		o.CleanupChunk = defaultCleanupChunk
	}
	if o.Now == nil {
		o.Now = time.Now
	}
	return o
}
