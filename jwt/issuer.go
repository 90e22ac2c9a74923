package jwt

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

var (
	// ErrTokenExpired is returned for a well-formed token past its expiry.
	ErrTokenExpired = errors.New("token expired")
	// ErrTokenInvalid is returned for a token with a bad signature or shape,
	// or of the wrong type for the verifying call.
	ErrTokenInvalid = errors.New("token invalid")
)

// Config configures an [Issuer].
//
// RefreshPrivateKey and RefreshPublicKey are optional. When both are empty the
// access key pair also signs refresh tokens. Rotating any key invalidates every
// token signed with it.
type Config struct {
	AccessTTL     time.Duration
	RefreshTTL    time.Duration
	SigningMethod SigningMethod
	PrivateKey    []byte
	PublicKey     []byte
	KeyID         string
	VerifyKeys    map[string][]byte

	RefreshPrivateKey []byte
	RefreshPublicKey  []byte

	Issuer       string
	Audience     string
	Leeway       time.Duration
	MaxFutureIAT time.Duration

	// Now overrides the clock. Nil means time.Now.
	Now func() time.Time
}

// AccessInput is the payload of a new access token.
type AccessInput struct {
	UserID string
	Roles  []string
}

// RefreshInput is the payload of a new refresh token. An empty FamilyID starts
// a new family.
type RefreshInput struct {
	UserID   string
	FamilyID string
}

// Issuer signs and verifies tokens. It is immutable after construction and
// safe for concurrent use.
type Issuer struct {
	cfg     Config
	access  *keySet
	refresh *keySet
	now     func() time.Time
}

// NewIssuer validates cfg, parses the keys and returns an Issuer.
func NewIssuer(cfg Config) (*Issuer, error) {
	if cfg.AccessTTL <= 0 || cfg.RefreshTTL <= 0 {
		return nil, errors.New("invalid TTL configuration")
	}
	if cfg.RefreshTTL < cfg.AccessTTL {
		return nil, errors.New("refresh TTL must not be shorter than access TTL")
	}
	if cfg.Leeway < 0 || cfg.Leeway > 2*time.Minute {
		return nil, errors.New("invalid leeway configuration")
	}
	if cfg.MaxFutureIAT == 0 {
		cfg.MaxFutureIAT = 10 * time.Minute
	}
	if cfg.MaxFutureIAT < 0 || cfg.MaxFutureIAT > 24*time.Hour {
		return nil, errors.New("invalid MaxFutureIAT configuration")
	}

	access, err := newKeySet(cfg.SigningMethod, cfg.PrivateKey, cfg.PublicKey, cfg.KeyID, cfg.VerifyKeys)
	if err != nil {
		return nil, err
	}
	refresh := access
	if len(cfg.RefreshPrivateKey) > 0 || len(cfg.RefreshPublicKey) > 0 {
		refresh, err = newKeySet(cfg.SigningMethod, cfg.RefreshPrivateKey, cfg.RefreshPublicKey, "", nil)
		if err != nil {
			return nil, fmt.Errorf("refresh key: %w", err)
		}
	}

	now := cfg.Now
	if now == nil {
		now = time.Now
	}

	return &Issuer{cfg: cfg, access: access, refresh: refresh, now: now}, nil
}

// AccessTTL returns the configured access token lifetime.
func (i *Issuer) AccessTTL() time.Duration { return i.cfg.AccessTTL }

// RefreshTTL returns the configured refresh token lifetime.
func (i *Issuer) RefreshTTL() time.Duration { return i.cfg.RefreshTTL }

func (i *Issuer) common(subject string, ttl time.Duration) Common {
	now := i.now().Truncate(time.Second)
	c := Common{
		Subject:   subject,
		ID:        uuid.NewString(),
		Issuer:    i.cfg.Issuer,
		IssuedAt:  now,
		ExpiresAt: now.Add(ttl),
	}
	if i.cfg.Audience != "" {
		c.Audience = []string{i.cfg.Audience}
	}
	return c
}

// IssueAccess signs a new access token with a fresh token id.
func (i *Issuer) IssueAccess(in AccessInput) (string, *AccessClaims, error) {
	if in.UserID == "" {
		return "", nil, errors.New("access token requires a user id")
	}
	claims := &AccessClaims{Common: i.common(in.UserID, i.cfg.AccessTTL), Roles: in.Roles}
	signed, err := i.access.signedString(encode(claims))
	if err != nil {
		return "", nil, err
	}
	return signed, claims, nil
}

// IssueRefresh signs a new refresh token. The returned claims carry the family
// id, freshly generated when in.FamilyID is empty.
func (i *Issuer) IssueRefresh(in RefreshInput) (string, *RefreshClaims, error) {
	if in.UserID == "" {
		return "", nil, errors.New("refresh token requires a user id")
	}
	family := in.FamilyID
	if family == "" {
		family = uuid.NewString()
	}
	claims := &RefreshClaims{Common: i.common(in.UserID, i.cfg.RefreshTTL), FamilyID: family}
	signed, err := i.refresh.signedString(encode(claims))
	if err != nil {
		return "", nil, err
	}
	return signed, claims, nil
}

// VerifyAccess checks signature, expiry, issuer, audience and type of an
// access token.
func (i *Issuer) VerifyAccess(token string) (*AccessClaims, error) {
	t, err := i.parse(i.access, token)
	if err != nil {
		return nil, err
	}
	claims, ok := t.(*AccessClaims)
	if !ok {
		return nil, fmt.Errorf("%w: expected access token, got %s", ErrTokenInvalid, t.Type())
	}
	return claims, nil
}

// VerifyRefresh checks signature, expiry, issuer, audience and type of a
// refresh token.
func (i *Issuer) VerifyRefresh(token string) (*RefreshClaims, error) {
	t, err := i.parse(i.refresh, token)
	if err != nil {
		return nil, err
	}
	claims, ok := t.(*RefreshClaims)
	if !ok {
		return nil, fmt.Errorf("%w: expected refresh token, got %s", ErrTokenInvalid, t.Type())
	}
	return claims, nil
}

func (i *Issuer) parse(ks *keySet, token string) (Token, error) {
	if token == "" {
		return nil, fmt.Errorf("%w: empty token", ErrTokenInvalid)
	}

	options := []jwt.ParserOption{
		jwt.WithValidMethods([]string{ks.method.Alg()}),
		jwt.WithExpirationRequired(),
		jwt.WithIssuedAt(),
		jwt.WithTimeFunc(i.now),
	}
	if i.cfg.Leeway > 0 {
		options = append(options, jwt.WithLeeway(i.cfg.Leeway))
	}
	if i.cfg.Issuer != "" {
		options = append(options, jwt.WithIssuer(i.cfg.Issuer))
	}
	if i.cfg.Audience != "" {
		options = append(options, jwt.WithAudience(i.cfg.Audience))
	}

	w := &wireClaims{}
	parsed, err := jwt.NewParser(options...).ParseWithClaims(token, w, ks.keyFunc)
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return nil, ErrTokenExpired
		}
		return nil, fmt.Errorf("%w: %v", ErrTokenInvalid, err)
	}
	if !parsed.Valid {
		return nil, ErrTokenInvalid
	}
	if w.IssuedAt != nil && w.IssuedAt.Time.After(i.now().Add(i.cfg.MaxFutureIAT)) {
		return nil, fmt.Errorf("%w: iat too far in the future", ErrTokenInvalid)
	}

	t, err := decode(w)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrTokenInvalid, err)
	}
	return t, nil
}
