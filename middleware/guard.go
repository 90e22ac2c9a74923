package middleware

import (
	"context"
	"net"
	"net/http"
	"strings"

	"go.uber.org/zap"

	goGuard "github.com/MrEthical07/goGuard"
	"github.com/MrEthical07/goGuard/csrf"
	"github.com/MrEthical07/goGuard/ratelimit"
)

// Middleware wraps an http.Handler.
type Middleware = func(http.Handler) http.Handler

// Chain wraps h so that mws run in the order given: mws[0] sees the request
// first.
func Chain(h http.Handler, mws ...Middleware) http.Handler {
	for i := len(mws) - 1; i >= 0; i-- {
		h = mws[i](h)
	}
	return h
}

type principalContextKey struct{}

// PrincipalFromContext returns the principal stored by Authenticate.
func PrincipalFromContext(ctx context.Context) (*goGuard.Principal, bool) {
	p, ok := ctx.Value(principalContextKey{}).(*goGuard.Principal)
	return p, ok && p != nil
}

func withPrincipal(ctx context.Context, p *goGuard.Principal) context.Context {
	return context.WithValue(ctx, principalContextKey{}, p)
}

// Guard builds the HTTP middleware around an Engine.
type Guard struct {
	engine     *goGuard.Engine
	log        *zap.Logger
	trustProxy bool
}

type Option func(*Guard)

// WithLogger overrides the engine logger.
func WithLogger(l *zap.Logger) Option {
	return func(g *Guard) {
		if l != nil {
			g.log = l
		}
	}
}

// WithTrustProxy makes ClientIP honour X-Forwarded-For and X-Real-IP. Enable
// only behind a proxy that overwrites those headers.
func WithTrustProxy(trust bool) Option {
	return func(g *Guard) { g.trustProxy = trust }
}

func New(engine *goGuard.Engine, opts ...Option) *Guard {
	g := &Guard{engine: engine, log: zap.NewNop()}
	if engine != nil {
		g.log = engine.Logger()
	}
	for _, opt := range opts {
		opt(g)
	}
	g.log = g.log.Named("middleware")
	return g
}

// Protect is the standard pipeline: client IP, IP limit, authentication,
// user limit and CSRF, in that order.
func (g *Guard) Protect() Middleware {
	return func(next http.Handler) http.Handler {
		return Chain(next,
			g.Recover(),
			g.ClientIP(),
			g.RateLimitIP(),
			g.Authenticate(),
			g.RateLimitUser(),
			g.CSRF(),
		)
	}
}

// Public is the pipeline for session entry and exit routes: client IP, IP
// limit and lenient identification. It applies no CSRF check.
func (g *Guard) Public() Middleware {
	return func(next http.Handler) http.Handler {
		return Chain(next,
			g.Recover(),
			g.ClientIP(),
			g.RateLimitIP(),
			g.Identify(),
		)
	}
}

// ClientIP stores the caller address and user agent in the request context
// for rate limiting and audit events.
func (g *Guard) ClientIP() Middleware {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx := goGuard.WithClientIP(r.Context(), clientIP(r, g.trustProxy))
			ctx = goGuard.WithUserAgent(ctx, r.UserAgent())
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

func clientIP(r *http.Request, trustProxy bool) string {
	if trustProxy {
		if xff := strings.TrimSpace(r.Header.Get("X-Forwarded-For")); xff != "" {
			first, _, _ := strings.Cut(xff, ",")
			if ip := strings.TrimSpace(first); ip != "" {
				return ip
			}
		}
		if ip := strings.TrimSpace(r.Header.Get("X-Real-IP")); ip != "" {
			return ip
		}
	}
	if host, _, err := net.SplitHostPort(r.RemoteAddr); err == nil {
		return host
	}
	if r.RemoteAddr != "" {
		return r.RemoteAddr
	}
	return "unknown"
}

func requestIP(r *http.Request, trustProxy bool) string {
	if ip := goGuard.ClientIPFromContext(r.Context()); ip != "" {
		return ip
	}
	return clientIP(r, trustProxy)
}

// subject names the counter a check touched. An empty key skips the check.
type subject struct {
	scope string
	key   string
}

type check func(ctx context.Context, r *http.Request) (subject, ratelimit.Decision, error)

// limit runs c and rejects the request with 429 when the decision says so.
func (g *Guard) limit(c check) Middleware {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if g.engine == nil || g.engine.RateLimiter() == nil {
				next.ServeHTTP(w, r)
				return
			}
			sub, d, err := c(r.Context(), r)
			if g.enforce(w, r, sub, d, err) {
				next.ServeHTTP(w, r)
			}
		})
	}
}

// enforce writes the rate-limit headers and reports whether the request may
// continue. On rejection the error response has been written. Store failures
// let the request through.
func (g *Guard) enforce(w http.ResponseWriter, r *http.Request, sub subject, d ratelimit.Decision, err error) bool {
	if sub.key == "" {
		return true
	}
	if err != nil {
		g.log.Warn("rate limit check failed", zap.String("scope", sub.scope), zap.Error(err))
		return true
	}

	ratelimit.WriteHeaders(w.Header(), d)
	if d.Outcome != ratelimit.Allowed {
		g.engine.RecordRateLimit(r.Context(), sub.scope, sub.key, d)
	}
	if !d.Allowed() {
		g.WriteError(w, r, d.Err())
		return false
	}
	return true
}

// AllowEndpoint counts one request to endpoint by identifier from inside a
// handler, for keys only known after the body is read. It returns false once
// the rejection has been written.
func (g *Guard) AllowEndpoint(w http.ResponseWriter, r *http.Request, endpoint, identifier string) bool {
	if g.engine == nil || g.engine.RateLimiter() == nil || identifier == "" {
		return true
	}
	d, err := g.engine.RateLimiter().CheckEndpoint(r.Context(), endpoint, identifier)
	return g.enforce(w, r, subject{"endpoint:" + strings.ToLower(endpoint), identifier}, d, err)
}

// RateLimitIP limits requests per client IP.
func (g *Guard) RateLimitIP() Middleware {
	return g.limit(func(ctx context.Context, r *http.Request) (subject, ratelimit.Decision, error) {
		ip := requestIP(r, g.trustProxy)
		d, err := g.engine.RateLimiter().CheckIP(ctx, ip)
		return subject{"ip", ip}, d, err
	})
}

// RateLimitUser limits requests per authenticated user. Anonymous requests
// pass untouched.
func (g *Guard) RateLimitUser() Middleware {
	return g.limit(func(ctx context.Context, r *http.Request) (subject, ratelimit.Decision, error) {
		p, ok := PrincipalFromContext(ctx)
		if !ok {
			return subject{}, ratelimit.Decision{}, nil
		}
		d, err := g.engine.RateLimiter().CheckUser(ctx, p.UserID)
		return subject{"user", p.UserID}, d, err
	})
}

// RateLimitEndpoint limits requests to endpoint per identifier. A nil
// identify keys on the authenticated user, then the client IP.
func (g *Guard) RateLimitEndpoint(endpoint string, identify func(*http.Request) string) Middleware {
	return g.limit(func(ctx context.Context, r *http.Request) (subject, ratelimit.Decision, error) {
		id := ""
		if identify != nil {
			id = identify(r)
		}
		if id == "" {
			if p, ok := PrincipalFromContext(ctx); ok {
				id = p.UserID
			} else {
				id = requestIP(r, g.trustProxy)
			}
		}
		d, err := g.engine.RateLimiter().CheckEndpoint(ctx, endpoint, id)
		return subject{"endpoint:" + strings.ToLower(endpoint), id}, d, err
	})
}

// Authenticate validates a bearer access token when one is presented and
// stores the principal in the request context. Requests without an
// Authorization header continue anonymously; a bad token is rejected.
func (g *Guard) Authenticate() Middleware {
	return g.authenticate(true)
}

// Identify is the lenient form of Authenticate for routes that must work
// with a stale session, such as login, refresh and logout. A bearer that does
// not validate is dropped and the request continues anonymously.
func (g *Guard) Identify() Middleware {
	return g.authenticate(false)
}

func (g *Guard) authenticate(strict bool) Middleware {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			header := r.Header.Get("Authorization")
			if header == "" {
				next.ServeHTTP(w, r)
				return
			}
			if g.engine == nil {
				if strict {
					g.WriteError(w, r, goGuard.ErrEngineNotReady)
					return
				}
				next.ServeHTTP(w, r)
				return
			}

			p, err := g.principal(r, header)
			switch {
			case err == nil:
				next.ServeHTTP(w, r.WithContext(withPrincipal(r.Context(), p)))
			case strict:
				g.WriteError(w, r, err)
			default:
				g.log.Debug("ignoring unverified bearer", zap.String("path", r.URL.Path), zap.Error(err))
				next.ServeHTTP(w, r)
			}
		})
	}
}

func (g *Guard) principal(r *http.Request, header string) (*goGuard.Principal, error) {
	token, ok := bearerToken(header)
	if !ok {
		return nil, goGuard.ErrUnauthorized
	}
	return g.engine.ValidateAccess(r.Context(), token)
}

// RequireAuth rejects requests that Authenticate left anonymous.
func (g *Guard) RequireAuth() Middleware {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if _, ok := PrincipalFromContext(r.Context()); !ok {
				g.WriteError(w, r, goGuard.ErrUnauthorized)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// RequireRole rejects principals without role. Anonymous requests get 401.
func (g *Guard) RequireRole(role string) Middleware {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			p, ok := PrincipalFromContext(r.Context())
			if !ok {
				g.WriteError(w, r, goGuard.ErrUnauthorized)
				return
			}
			if !p.HasRole(role) {
				g.WriteError(w, r, goGuard.ErrPermissionDenied)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// CSRF enforces the double-submit token on state-changing requests of
// authenticated callers.
func (g *Guard) CSRF() Middleware {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if g.engine == nil || g.engine.CSRF() == nil || csrf.Exempt(r.Method) {
				next.ServeHTTP(w, r)
				return
			}
			p, ok := PrincipalFromContext(r.Context())
			if !ok {
				next.ServeHTTP(w, r)
				return
			}
			if err := g.engine.CSRF().Verify(r, p.UserID); err != nil {
				g.engine.RecordCSRFFailure(r.Context(), p.UserID, err)
				g.WriteError(w, r, err)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

func bearerToken(value string) (string, bool) {
	const bearer = "Bearer "
	if len(value) < len(bearer) || !strings.EqualFold(value[:len(bearer)], bearer) {
		return "", false
	}

	token := strings.TrimSpace(value[len(bearer):])
	if token == "" {
		return "", false
	}

	return token, true
}
