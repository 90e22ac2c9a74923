// Package ginguard exposes the goGuard HTTP guards as gin handlers.
package ginguard

import (
	"net/http"

	"github.com/gin-gonic/gin"

	goGuard "github.com/MrEthical07/goGuard"
	"github.com/MrEthical07/goGuard/middleware"
)

// Guard mirrors middleware.Guard for gin routers.
type Guard struct {
	http *middleware.Guard
}

func New(engine *goGuard.Engine, opts ...middleware.Option) *Guard {
	return &Guard{http: middleware.New(engine, opts...)}
}

// Wrap converts a net/http middleware into a gin handler. The chain is
// aborted when m does not call its next handler.
func Wrap(m middleware.Middleware) gin.HandlerFunc {
	return func(c *gin.Context) {
		passed := false
		m(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			passed = true
			c.Request = r
			c.Next()
		})).ServeHTTP(c.Writer, c.Request)
		if !passed {
			c.Abort()
		}
	}
}

// Principal returns the caller stored by Authenticate.
func Principal(c *gin.Context) (*goGuard.Principal, bool) {
	return middleware.PrincipalFromContext(c.Request.Context())
}

func (g *Guard) Recover() gin.HandlerFunc       { return Wrap(g.http.Recover()) }
func (g *Guard) ClientIP() gin.HandlerFunc      { return Wrap(g.http.ClientIP()) }
func (g *Guard) RateLimitIP() gin.HandlerFunc   { return Wrap(g.http.RateLimitIP()) }
func (g *Guard) RateLimitUser() gin.HandlerFunc { return Wrap(g.http.RateLimitUser()) }
func (g *Guard) Authenticate() gin.HandlerFunc  { return Wrap(g.http.Authenticate()) }
func (g *Guard) RequireAuth() gin.HandlerFunc   { return Wrap(g.http.RequireAuth()) }
func (g *Guard) CSRF() gin.HandlerFunc          { return Wrap(g.http.CSRF()) }
func (g *Guard) Identify() gin.HandlerFunc      { return Wrap(g.http.Identify()) }
func (g *Guard) Protect() gin.HandlerFunc       { return Wrap(g.http.Protect()) }
func (g *Guard) Public() gin.HandlerFunc        { return Wrap(g.http.Public()) }

func (g *Guard) RequireRole(role string) gin.HandlerFunc {
	return Wrap(g.http.RequireRole(role))
}

// RateLimitEndpoint limits requests to endpoint, keyed by the authenticated
// user or the client IP.
func (g *Guard) RateLimitEndpoint(endpoint string) gin.HandlerFunc {
	return Wrap(g.http.RateLimitEndpoint(endpoint, nil))
}

// AllowEndpoint counts one request to endpoint by identifier and aborts the
// chain when it is rejected.
func (g *Guard) AllowEndpoint(c *gin.Context, endpoint, identifier string) bool {
	if g.http.AllowEndpoint(c.Writer, c.Request, endpoint, identifier) {
		return true
	}
	c.Abort()
	return false
}

// Abort writes err as an error response and stops the chain.
func (g *Guard) Abort(c *gin.Context, err error) {
	g.http.WriteError(c.Writer, c.Request, err)
	c.Abort()
}
