package main

import (
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	goGuard "github.com/MrEthical07/goGuard"
	"github.com/MrEthical07/goGuard/adapters/ginguard"
	"github.com/MrEthical07/goGuard/csrf"
	"github.com/MrEthical07/goGuard/internal/config"
	"github.com/MrEthical07/goGuard/middleware"
	"github.com/MrEthical07/goGuard/revocation"
)

const refreshCookiePath = "/auth"

type handlers struct {
	engine *goGuard.Engine
	guard  *ginguard.Guard
	cfg    goGuard.Config
	log    *zap.Logger
}

func newRouter(engine *goGuard.Engine, cfg *config.Config, l *zap.Logger) *gin.Engine {
	if cfg.App.Env == goGuard.EnvProduction {
		gin.SetMode(gin.ReleaseMode)
	}

	h := &handlers{
		engine: engine,
		guard:  ginguard.New(engine, middleware.WithLogger(l), middleware.WithTrustProxy(cfg.Server.TrustProxy)),
		cfg:    engine.Config(),
		log:    l.Named("http"),
	}

	r := gin.New()
	if len(cfg.Server.CORSOrigins) > 0 {
		cc := cors.DefaultConfig()
		cc.AllowOrigins = cfg.Server.CORSOrigins
		cc.AllowCredentials = true
		cc.AllowHeaders = []string{"Origin", "Content-Type", "Accept", "Authorization", csrf.HeaderName}
		cc.ExposeHeaders = []string{
			csrf.HeaderName,
			"X-RateLimit-Limit", "X-RateLimit-Remaining", "X-RateLimit-Reset", "Retry-After",
		}
		r.Use(cors.New(cc))
	}

	// Session entry and exit must keep working with an expired or revoked
	// access token still attached.
	public := r.Group("/auth", h.guard.Public())
	{
		public.POST("/register", h.register)
		public.POST("/login", h.login)
		public.POST("/refresh", h.refresh)
		public.POST("/logout", h.logout)
	}

	private := r.Group("/auth", h.guard.Protect(), h.guard.RequireAuth())
	{
		private.POST("/logout-all", h.logoutAll)
		private.POST("/password", h.changePassword)
		private.GET("/me", h.me)
		private.GET("/csrf", h.csrfToken)
	}
	return r
}

func invalidBody(err error) error {
	return fmt.Errorf("%w: %v", goGuard.ErrValidation, err)
}

func clientIP(c *gin.Context) string {
	return goGuard.ClientIPFromContext(c.Request.Context())
}

type registerRequest struct {
	Username string `json:"username"`
	Email    string `json:"email"`
	Password string `json:"password"`
}

func (h *handlers) register(c *gin.Context) {
	if !h.guard.AllowEndpoint(c, "register", clientIP(c)) {
		return
	}
	var req registerRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.guard.Abort(c, invalidBody(err))
		return
	}
	user, err := h.engine.Register(c.Request.Context(), goGuard.RegisterInput{
		Username: req.Username,
		Email:    req.Email,
		Password: req.Password,
	})
	if err != nil {
		h.guard.Abort(c, err)
		return
	}
	c.JSON(http.StatusCreated, gin.H{"user": user})
}

type loginRequest struct {
	Username string `json:"username" binding:"required"`
	Password string `json:"password" binding:"required"`
}

func (h *handlers) login(c *gin.Context) {
	var req loginRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.guard.Abort(c, invalidBody(err))
		return
	}
	if !h.guard.AllowEndpoint(c, "login", req.Username) {
		return
	}

	res, err := h.engine.Login(c.Request.Context(), req.Username, req.Password)
	if err != nil {
		h.guard.Abort(c, err)
		return
	}
	h.setRefreshCookie(c, res.RefreshToken, res.RefreshExpiresAt)
	if g := h.engine.CSRF(); g != nil {
		token, err := g.Regenerate(c.Request.Context(), res.User.ID)
		if err != nil {
			h.guard.Abort(c, err)
			return
		}
		g.Attach(c.Writer, token)
	}
	c.JSON(http.StatusOK, res)
}

type refreshRequest struct {
	RefreshToken string `json:"refreshToken"`
}

// refreshToken reads the cookie first, then an optional JSON body for
// clients that cannot hold cookies.
func (h *handlers) refreshToken(c *gin.Context) string {
	if v, err := c.Cookie(h.cfg.Security.RefreshCookieName); err == nil && v != "" {
		return v
	}
	var req refreshRequest
	if c.Request.ContentLength != 0 && c.ShouldBindJSON(&req) == nil {
		return req.RefreshToken
	}
	return ""
}

func (h *handlers) refresh(c *gin.Context) {
	if !h.guard.AllowEndpoint(c, "refresh", clientIP(c)) {
		return
	}
	token := h.refreshToken(c)
	if token == "" {
		h.guard.Abort(c, goGuard.ErrRefreshInvalid)
		return
	}
	pair, err := h.engine.Refresh(c.Request.Context(), token)
	if err != nil {
		h.clearRefreshCookie(c)
		h.guard.Abort(c, err)
		return
	}
	h.setRefreshCookie(c, pair.RefreshToken, pair.RefreshExpiresAt)
	c.JSON(http.StatusOK, pair)
}

func (h *handlers) logout(c *gin.Context) {
	_ = h.engine.Logout(c.Request.Context(), h.refreshToken(c))
	if p, ok := ginguard.Principal(c); ok {
		h.endSession(c, p, revocation.ReasonLogout)
		if g := h.engine.CSRF(); g != nil {
			if err := g.Revoke(c.Request.Context(), p.UserID); err != nil {
				h.log.Warn("csrf revoke failed", zap.Error(err))
			}
		}
	} else {
		h.clearCookies(c)
	}
	c.Status(http.StatusNoContent)
}

// endSession revokes the caller's access token and clears the refresh and
// CSRF cookies. Revoking the access token is best effort.
func (h *handlers) endSession(c *gin.Context, p *goGuard.Principal, reason revocation.Reason) {
	if _, err := h.engine.RevokeToken(c.Request.Context(), p.TokenID, reason); err != nil {
		h.log.Warn("access token revoke failed", zap.String("user_id", p.UserID), zap.Error(err))
	}
	h.clearCookies(c)
}

func (h *handlers) clearCookies(c *gin.Context) {
	h.clearRefreshCookie(c)
	if g := h.engine.CSRF(); g != nil {
		g.Clear(c.Writer)
	}
}

func (h *handlers) logoutAll(c *gin.Context) {
	p, _ := ginguard.Principal(c)
	n, err := h.engine.RevokeAllUserTokens(c.Request.Context(), p.UserID, revocation.ReasonLogout)
	if err != nil {
		h.guard.Abort(c, err)
		return
	}
	h.endSession(c, p, revocation.ReasonLogout)
	c.JSON(http.StatusOK, gin.H{"revoked": n})
}

type changePasswordRequest struct {
	OldPassword string `json:"oldPassword" binding:"required"`
	NewPassword string `json:"newPassword" binding:"required"`
}

func (h *handlers) changePassword(c *gin.Context) {
	p, _ := ginguard.Principal(c)
	if !h.guard.AllowEndpoint(c, "password-change", p.UserID) {
		return
	}
	var req changePasswordRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.guard.Abort(c, invalidBody(err))
		return
	}
	if err := h.engine.ChangePassword(c.Request.Context(), p.UserID, req.OldPassword, req.NewPassword); err != nil {
		h.guard.Abort(c, err)
		return
	}
	h.endSession(c, p, revocation.ReasonPasswordChange)
	c.Status(http.StatusNoContent)
}

func (h *handlers) me(c *gin.Context) {
	p, _ := ginguard.Principal(c)
	c.JSON(http.StatusOK, gin.H{
		"id":        p.UserID,
		"roles":     p.Roles,
		"expiresAt": p.ExpiresAt,
	})
}

func (h *handlers) csrfToken(c *gin.Context) {
	g := h.engine.CSRF()
	if g == nil {
		h.guard.Abort(c, errors.New("csrf protection disabled"))
		return
	}
	p, _ := ginguard.Principal(c)
	token, err := g.Regenerate(c.Request.Context(), p.UserID)
	if err != nil {
		h.guard.Abort(c, err)
		return
	}
	g.Attach(c.Writer, token)
	c.JSON(http.StatusOK, gin.H{"csrfToken": token})
}

func (h *handlers) setRefreshCookie(c *gin.Context, token string, expires time.Time) {
	http.SetCookie(c.Writer, &http.Cookie{
		Name:     h.cfg.Security.RefreshCookieName,
		Value:    token,
		Path:     refreshCookiePath,
		Domain:   h.cfg.CSRF.CookieDomain,
		Expires:  expires,
		MaxAge:   int(time.Until(expires).Seconds()),
		HttpOnly: true,
		Secure:   h.cfg.CSRF.SecureCookie,
		SameSite: http.SameSiteStrictMode,
	})
}

func (h *handlers) clearRefreshCookie(c *gin.Context) {
	http.SetCookie(c.Writer, &http.Cookie{
		Name:     h.cfg.Security.RefreshCookieName,
		Value:    "",
		Path:     refreshCookiePath,
		Domain:   h.cfg.CSRF.CookieDomain,
		MaxAge:   -1,
		HttpOnly: true,
		Secure:   h.cfg.CSRF.SecureCookie,
		SameSite: http.SameSiteStrictMode,
	})
}
