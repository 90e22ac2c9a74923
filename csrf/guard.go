package csrf

import (
	"context"
	"crypto/rand"
	"crypto/subtle"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"
)

const (
	// CookieName is the cookie carrying the token.
	CookieName = "X-CSRF-Token"
	// HeaderName is the request and response header carrying the token.
	HeaderName = "X-CSRF-Token"

	defaultTTL        = 24 * time.Hour
	defaultTokenBytes = 32
)

var (
	// ErrCSRF is matched by every verification failure.
	ErrCSRF = errors.New("csrf validation failed")

	ErrMissingToken  = fmt.Errorf("%w: missing token", ErrCSRF)
	ErrTokenMismatch = fmt.Errorf("%w: header and cookie differ", ErrCSRF)
	ErrInvalidToken  = fmt.Errorf("%w: unknown token", ErrCSRF)
	ErrExpiredToken  = fmt.Errorf("%w: expired token", ErrCSRF)
)

// Config tunes a Guard.
type Config struct {
	TTL        time.Duration
	Secure     bool
	CookiePath string
	Domain     string
	TokenBytes int
	Now        func() time.Time
}

// Guard issues and verifies tokens.
type Guard struct {
	store Store
	cfg   Config
}

// NewGuard returns a Guard over store.
func NewGuard(store Store, cfg Config) *Guard {
	if cfg.TTL <= 0 {
		cfg.TTL = defaultTTL
	}
	if cfg.TokenBytes < 16 {
		cfg.TokenBytes = defaultTokenBytes
	}
	if cfg.CookiePath == "" {
		cfg.CookiePath = "/"
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	return &Guard{store: store, cfg: cfg}
}

// TTL returns the token lifetime.
func (g *Guard) TTL() time.Duration { return g.cfg.TTL }

// Issue creates and stores a new token bound to userID.
func (g *Guard) Issue(ctx context.Context, userID string) (string, error) {
	if userID == "" {
		return "", errors.New("csrf: issue requires a user id")
	}
	buf := make([]byte, g.cfg.TokenBytes)
	if _, err := io.ReadFull(rand.Reader, buf); err != nil {
		return "", fmt.Errorf("csrf: read random: %w", err)
	}
	token := base64.RawURLEncoding.EncodeToString(buf)

	rec := Record{UserID: userID, ExpiresAt: g.cfg.Now().Add(g.cfg.TTL)}
	if err := g.store.Save(ctx, token, rec); err != nil {
		return "", err
	}
	return token, nil
}

// Regenerate invalidates every token of userID and issues a new one.
func (g *Guard) Regenerate(ctx context.Context, userID string) (string, error) {
	if _, err := g.store.DeleteUser(ctx, userID); err != nil {
		return "", err
	}
	return g.Issue(ctx, userID)
}

// Revoke invalidates every token of userID.
func (g *Guard) Revoke(ctx context.Context, userID string) error {
	_, err := g.store.DeleteUser(ctx, userID)
	return err
}

// Exempt reports whether method is never checked.
func Exempt(method string) bool {
	switch method {
	case http.MethodGet, http.MethodHead, http.MethodOptions:
		return true
	default:
		return false
	}
}

// Verify checks r on behalf of userID. Safe methods and unauthenticated
// requests (empty userID) always pass. Failures wrap ErrCSRF; any other error
// comes from the store.
func (g *Guard) Verify(r *http.Request, userID string) error {
	if Exempt(r.Method) || userID == "" {
		return nil
	}

	header := r.Header.Get(HeaderName)
	cookie, err := r.Cookie(CookieName)
	if header == "" || err != nil || cookie.Value == "" {
		return ErrMissingToken
	}
	if subtle.ConstantTimeCompare([]byte(header), []byte(cookie.Value)) != 1 {
		return ErrTokenMismatch
	}

	rec, ok, err := g.store.Get(r.Context(), header)
	if err != nil {
		return err
	}
	if !ok {
		return ErrInvalidToken
	}
	if subtle.ConstantTimeCompare([]byte(rec.UserID), []byte(userID)) != 1 {
		return ErrInvalidToken
	}
	if !g.cfg.Now().Before(rec.ExpiresAt) {
		return ErrExpiredToken
	}
	return nil
}

// Attach sets the token cookie and mirrors the token in the response header.
func (g *Guard) Attach(w http.ResponseWriter, token string) {
	http.SetCookie(w, &http.Cookie{
		Name:     CookieName,
		Value:    token,
		Path:     g.cfg.CookiePath,
		Domain:   g.cfg.Domain,
		MaxAge:   int(g.cfg.TTL.Seconds()),
		HttpOnly: true,
		Secure:   g.cfg.Secure,
		SameSite: http.SameSiteStrictMode,
	})
	w.Header().Set(HeaderName, token)
}

// Clear expires the token cookie on the client.
func (g *Guard) Clear(w http.ResponseWriter) {
	http.SetCookie(w, &http.Cookie{
		Name:     CookieName,
		Value:    "",
		Path:     g.cfg.CookiePath,
		Domain:   g.cfg.Domain,
		MaxAge:   -1,
		HttpOnly: true,
		Secure:   g.cfg.Secure,
		SameSite: http.SameSiteStrictMode,
	})
}

// Sweep removes expired tokens when the store needs explicit sweeping.
func (g *Guard) Sweep(ctx context.Context) (int, error) {
	if s, ok := g.store.(interface {
		Sweep(context.Context) (int, error)
	}); ok {
		return s.Sweep(ctx)
	}
	return 0, nil
}
