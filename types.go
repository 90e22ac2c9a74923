package goGuard

import (
	"context"
	"time"
)

// UserRecord is a stored user including its password hash.
type UserRecord struct {
	ID           string
	Username     string
	Email        string
	PasswordHash string
	Roles        []string
	CreatedAt    time.Time
}

// User is a UserRecord without the password hash. It is the only user shape
// the Engine hands back to callers.
type User struct {
	ID        string    `json:"id"`
	Username  string    `json:"username"`
	Email     string    `json:"email"`
	Roles     []string  `json:"roles"`
	CreatedAt time.Time `json:"createdAt"`
}

// Public strips the password hash.
func (u UserRecord) Public() User {
	return User{
		ID:        u.ID,
		Username:  u.Username,
		Email:     u.Email,
		Roles:     append([]string(nil), u.Roles...),
		CreatedAt: u.CreatedAt,
	}
}

// UserStore is the user half of the storage collaborator.
//
// Lookups return ErrUserNotFound for unknown users. CreateUser returns
// ErrUsernameTaken or ErrEmailTaken when a unique key is already in use.
type UserStore interface {
	GetUserByUsername(ctx context.Context, username string) (UserRecord, error)
	GetUserByEmail(ctx context.Context, email string) (UserRecord, error)
	GetUser(ctx context.Context, id string) (UserRecord, error)
	CreateUser(ctx context.Context, u UserRecord) (UserRecord, error)
	UpdatePasswordHash(ctx context.Context, id, hash string) error
}

// RegisterInput is the payload of Engine.Register.
type RegisterInput struct {
	Username string   `json:"username" validate:"required,min=3,max=64,alphanum"`
	Email    string   `json:"email" validate:"required,email,max=254"`
	Password string   `json:"password" validate:"required,min=8,max=128"`
	Roles    []string `json:"-" validate:"omitempty,dive,required,max=64"`
}

// TokenPair is an access token with its refresh token.
type TokenPair struct {
	AccessToken      string    `json:"accessToken"`
	RefreshToken     string    `json:"-"`
	TokenType        string    `json:"tokenType"`
	AccessExpiresAt  time.Time `json:"accessExpiresAt"`
	RefreshExpiresAt time.Time `json:"-"`
}

// LoginResult is returned by a successful Login.
type LoginResult struct {
	TokenPair
	User User `json:"user"`
}

// Principal is the authenticated caller behind a valid access token.
type Principal struct {
	UserID    string
	Roles     []string
	TokenID   string
	ExpiresAt time.Time
}

// HasRole reports whether the principal carries role.
func (p *Principal) HasRole(role string) bool {
	if p == nil {
		return false
	}
	for _, r := range p.Roles {
		if r == role {
			return true
		}
	}
	return false
}
