package postgres

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	goGuard "github.com/MrEthical07/goGuard"
	"github.com/MrEthical07/goGuard/revocation"
)

var (
	_ goGuard.UserStore     = (*Store)(nil)
	_ revocation.Repository = (*Store)(nil)
)

// Store keeps users and token metadata in Postgres.
type Store struct {
	db *DB
}

func NewStore(db *DB) *Store { return &Store{db: db} }

const (
	uniqueViolation = "23505"

	usernameIndex = "users_username_uidx"
	emailIndex    = "users_email_uidx"
)

const (
	qUserInsert = `
INSERT INTO users (id, username, email, password_hash, roles, created_at)
VALUES ($1, $2, $3, $4, $5, $6)
RETURNING id, username, email, password_hash, roles, created_at;`

	qUserByID = `
SELECT id, username, email, password_hash, roles, created_at
FROM users
WHERE id = $1;`

	qUserByUsername = `
SELECT id, username, email, password_hash, roles, created_at
FROM users
WHERE LOWER(username) = LOWER($1);`

	qUserByEmail = `
SELECT id, username, email, password_hash, roles, created_at
FROM users
WHERE LOWER(email) = LOWER($1);`

	qUserSetHash = `
UPDATE users
SET password_hash = $2,
    updated_at    = NOW()
WHERE id = $1;`
)

const (
	qTokenInsert = `
INSERT INTO token_metadata (token_id, user_id, expires_at)
VALUES ($1, $2, $3)
ON CONFLICT (token_id) DO NOTHING;`

	qTokenByID = `
SELECT token_id, user_id, expires_at, revoked_at, reason
FROM token_metadata
WHERE token_id = $1;`

	// A row is returned only when the statement inserted an unknown id or
	// moved an active row to revoked.
	qTokenRevoke = `
INSERT INTO token_metadata (token_id, expires_at, revoked_at, reason)
VALUES ($1, $4, $3, $2)
ON CONFLICT (token_id) DO UPDATE
SET revoked_at = EXCLUDED.revoked_at,
    reason     = EXCLUDED.reason
WHERE token_metadata.revoked_at IS NULL
RETURNING token_id;`

	qTokenRevokeUser = `
UPDATE token_metadata
SET revoked_at = $3,
    reason     = $2
WHERE user_id = $1 AND revoked_at IS NULL;`

	qTokenDeleteExpired = `DELETE FROM token_metadata WHERE expires_at <= $1;`
)

func scanUser(row pgx.Row, u *goGuard.UserRecord) error {
	if err := row.Scan(&u.ID, &u.Username, &u.Email, &u.PasswordHash, &u.Roles, &u.CreatedAt); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return goGuard.ErrUserNotFound
		}
		return fmt.Errorf("scan user: %w", err)
	}
	return nil
}

func (s *Store) getUser(ctx context.Context, query, arg string) (goGuard.UserRecord, error) {
	ctx, cancel := s.db.withTimeout(ctx)
	defer cancel()

	var u goGuard.UserRecord
	if err := scanUser(s.db.Pool.QueryRow(ctx, query, arg), &u); err != nil {
		return goGuard.UserRecord{}, err
	}
	return u, nil
}

func (s *Store) GetUser(ctx context.Context, id string) (goGuard.UserRecord, error) {
	return s.getUser(ctx, qUserByID, id)
}

func (s *Store) GetUserByUsername(ctx context.Context, username string) (goGuard.UserRecord, error) {
	return s.getUser(ctx, qUserByUsername, username)
}

func (s *Store) GetUserByEmail(ctx context.Context, email string) (goGuard.UserRecord, error) {
	return s.getUser(ctx, qUserByEmail, email)
}

func (s *Store) CreateUser(ctx context.Context, u goGuard.UserRecord) (goGuard.UserRecord, error) {
	ctx, cancel := s.db.withTimeout(ctx)
	defer cancel()

	roles := u.Roles
	if roles == nil {
		roles = []string{}
	}
	var out goGuard.UserRecord
	err := scanUser(s.db.Pool.QueryRow(ctx, qUserInsert, u.ID, u.Username, u.Email, u.PasswordHash, roles, u.CreatedAt), &out)
	if err != nil {
		if dup := duplicateError(err); dup != nil {
			return goGuard.UserRecord{}, dup
		}
		return goGuard.UserRecord{}, fmt.Errorf("user insert: %w", err)
	}
	return out, nil
}

// duplicateError maps a unique violation to the matching goGuard error.
func duplicateError(err error) error {
	var pgErr *pgconn.PgError
	if !errors.As(err, &pgErr) || pgErr.Code != uniqueViolation {
		return nil
	}
	switch {
	case pgErr.ConstraintName == emailIndex:
		return goGuard.ErrEmailTaken
	case pgErr.ConstraintName == usernameIndex, strings.Contains(pgErr.ConstraintName, "pkey"):
		return goGuard.ErrUsernameTaken
	default:
		return fmt.Errorf("%w: %s", goGuard.ErrUsernameTaken, pgErr.ConstraintName)
	}
}

func (s *Store) UpdatePasswordHash(ctx context.Context, id, hash string) error {
	ctx, cancel := s.db.withTimeout(ctx)
	defer cancel()

	cmd, err := s.db.Pool.Exec(ctx, qUserSetHash, id, hash)
	if err != nil {
		return fmt.Errorf("update password hash: %w", err)
	}
	if cmd.RowsAffected() == 0 {
		return goGuard.ErrUserNotFound
	}
	return nil
}

func (s *Store) StoreTokenMetadata(ctx context.Context, rec revocation.Record) error {
	ctx, cancel := s.db.withTimeout(ctx)
	defer cancel()

	if _, err := s.db.Pool.Exec(ctx, qTokenInsert, rec.TokenID, rec.UserID, rec.ExpiresAt); err != nil {
		return fmt.Errorf("token insert: %w", err)
	}
	return nil
}

func (s *Store) GetTokenByID(ctx context.Context, tokenID string) (revocation.Record, error) {
	ctx, cancel := s.db.withTimeout(ctx)
	defer cancel()

	var (
		rec       revocation.Record
		revokedAt *time.Time
		reason    string
	)
	err := s.db.Pool.QueryRow(ctx, qTokenByID, tokenID).
		Scan(&rec.TokenID, &rec.UserID, &rec.ExpiresAt, &revokedAt, &reason)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return revocation.Record{}, revocation.ErrNotFound
		}
		return revocation.Record{}, fmt.Errorf("token lookup: %w", err)
	}
	if revokedAt != nil {
		rec.RevokedAt = *revokedAt
	}
	rec.Reason = revocation.Reason(reason)
	return rec, nil
}

func (s *Store) RevokeToken(ctx context.Context, tokenID string, reason revocation.Reason, at, retainUntil time.Time) (bool, error) {
	ctx, cancel := s.db.withTimeout(ctx)
	defer cancel()

	var id string
	err := s.db.Pool.QueryRow(ctx, qTokenRevoke, tokenID, string(reason), at, retainUntil).Scan(&id)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return false, nil
		}
		return false, fmt.Errorf("token revoke: %w", err)
	}
	return true, nil
}

func (s *Store) RevokeUserTokens(ctx context.Context, userID string, reason revocation.Reason, at time.Time) (int, error) {
	ctx, cancel := s.db.withTimeout(ctx)
	defer cancel()

	cmd, err := s.db.Pool.Exec(ctx, qTokenRevokeUser, userID, string(reason), at)
	if err != nil {
		return 0, fmt.Errorf("revoke user tokens: %w", err)
	}
	return int(cmd.RowsAffected()), nil
}

func (s *Store) DeleteExpiredTokens(ctx context.Context, before time.Time) (int, error) {
	ctx, cancel := s.db.withTimeout(ctx)
	defer cancel()

	cmd, err := s.db.Pool.Exec(ctx, qTokenDeleteExpired, before)
	if err != nil {
		return 0, fmt.Errorf("delete expired tokens: %w", err)
	}
	return int(cmd.RowsAffected()), nil
}
