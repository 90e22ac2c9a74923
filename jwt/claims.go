package jwt

import (
	"errors"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// TokenType is the type tag carried in the "typ" claim.
type TokenType string

const (
	// TypeAccess tags short-lived access tokens.
	TypeAccess TokenType = "access"
	// TypeRefresh tags long-lived refresh tokens.
	TypeRefresh TokenType = "refresh"
)

// Common holds the registered claims shared by both token types.
type Common struct {
	Subject   string
	ID        string
	Issuer    string
	Audience  []string
	IssuedAt  time.Time
	ExpiresAt time.Time
}

// AccessClaims is the decoded form of an access token.
type AccessClaims struct {
	Common
	Roles []string
}

// RefreshClaims is the decoded form of a refresh token. FamilyID links the
// chain of tokens produced by rotating one login.
type RefreshClaims struct {
	Common
	FamilyID string
}

// Token is implemented only by *AccessClaims and *RefreshClaims.
type Token interface {
	Type() TokenType
	Claims() Common
	token()
}

// Type returns TypeAccess.
func (c *AccessClaims) Type() TokenType { return TypeAccess }

// Claims returns the registered claims.
func (c *AccessClaims) Claims() Common { return c.Common }

func (c *AccessClaims) token() {}

// Type returns TypeRefresh.
func (c *RefreshClaims) Type() TokenType { return TypeRefresh }

// Claims returns the registered claims.
func (c *RefreshClaims) Claims() Common { return c.Common }

func (c *RefreshClaims) token() {}

// wireClaims is the JSON shape on the wire. It is never returned to callers;
// decode turns it into a Token or rejects it.
type wireClaims struct {
	Type     TokenType `json:"typ"`
	Roles    []string  `json:"roles,omitempty"`
	FamilyID string    `json:"fid,omitempty"`
	jwt.RegisteredClaims
}

var (
	errUnknownType   = errors.New("unknown token type")
	errMissingSub    = errors.New("missing subject")
	errMissingJTI    = errors.New("missing token id")
	errAccessFamily  = errors.New("access token carries a family id")
	errRefreshRoles  = errors.New("refresh token carries roles")
	errRefreshFamily = errors.New("refresh token missing family id")
)

func decode(w *wireClaims) (Token, error) {
	if w.Subject == "" {
		return nil, errMissingSub
	}
	if w.ID == "" {
		return nil, errMissingJTI
	}

	common := Common{
		Subject:  w.Subject,
		ID:       w.ID,
		Issuer:   w.Issuer,
		Audience: []string(w.Audience),
	}
	if w.IssuedAt != nil {
		common.IssuedAt = w.IssuedAt.Time
	}
	if w.ExpiresAt != nil {
		common.ExpiresAt = w.ExpiresAt.Time
	}

	switch w.Type {
	case TypeAccess:
		if w.FamilyID != "" {
			return nil, errAccessFamily
		}
		return &AccessClaims{Common: common, Roles: w.Roles}, nil
	case TypeRefresh:
		if len(w.Roles) > 0 {
			return nil, errRefreshRoles
		}
		if w.FamilyID == "" {
			return nil, errRefreshFamily
		}
		return &RefreshClaims{Common: common, FamilyID: w.FamilyID}, nil
	default:
		return nil, errUnknownType
	}
}

func encode(t Token) *wireClaims {
	c := t.Claims()
	w := &wireClaims{
		Type: t.Type(),
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   c.Subject,
			ID:        c.ID,
			Issuer:    c.Issuer,
			IssuedAt:  jwt.NewNumericDate(c.IssuedAt),
			ExpiresAt: jwt.NewNumericDate(c.ExpiresAt),
		},
	}
	if len(c.Audience) > 0 {
		w.Audience = jwt.ClaimStrings(c.Audience)
	}
	switch v := t.(type) {
	case *AccessClaims:
		w.Roles = v.Roles
	case *RefreshClaims:
		w.FamilyID = v.FamilyID
	}
	return w
}
