package ginguard_test

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	goGuard "github.com/MrEthical07/goGuard"
	"github.com/MrEthical07/goGuard/adapters/ginguard"
	"github.com/MrEthical07/goGuard/middleware"
	"github.com/MrEthical07/goGuard/storage/memory"
)

func newRouter(t *testing.T) (*gin.Engine, *goGuard.Engine, *ginguard.Guard) {
	t.Helper()
	gin.SetMode(gin.TestMode)

	cfg := goGuard.TestConfig()
	cfg.JWT.PrivateKey = bytes.Repeat([]byte("g"), 32)
	engine, err := goGuard.New().WithConfig(cfg).WithUserStore(memory.New()).Build()
	require.NoError(t, err)
	t.Cleanup(engine.Close)

	guard := ginguard.New(engine)
	r := gin.New()
	r.Use(guard.Protect())
	r.GET("/me", guard.RequireAuth(), func(c *gin.Context) {
		p, _ := ginguard.Principal(c)
		c.JSON(http.StatusOK, gin.H{"id": p.UserID})
	})
	r.GET("/admin", guard.RequireRole("admin"), func(c *gin.Context) {
		c.Status(http.StatusNoContent)
	})
	r.POST("/fail", func(c *gin.Context) {
		guard.Abort(c, errors.New("disk full"))
	})
	return r, engine, guard
}

func accessToken(t *testing.T, engine *goGuard.Engine) (string, string) {
	t.Helper()
	ctx := context.Background()
	_, err := engine.Register(ctx, goGuard.RegisterInput{
		Username: "frank",
		Email:    "frank@example.com",
		Password: "Tr1cky-Passw0rd!",
	})
	require.NoError(t, err)
	res, err := engine.Login(ctx, "frank", "Tr1cky-Passw0rd!")
	require.NoError(t, err)
	return res.AccessToken, res.User.ID
}

func TestProtectedRoute(t *testing.T) {
	r, engine, _ := newRouter(t)
	token, userID := accessToken(t, engine)

	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/me", nil))
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	var body middleware.ErrorBody
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "AUTHENTICATION_FAILED", body.Code)

	req := httptest.NewRequest(http.MethodGet, "/me", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	rec = httptest.NewRecorder()
	r.ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"id":"`+userID+`"}`, rec.Body.String())
	assert.NotEmpty(t, rec.Header().Get("X-RateLimit-Limit"))

	req = httptest.NewRequest(http.MethodGet, "/admin", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	rec = httptest.NewRecorder()
	r.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusForbidden, rec.Code)
}

func TestAbortHidesCause(t *testing.T) {
	r, _, _ := newRouter(t)

	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/fail", nil))
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.NotContains(t, rec.Body.String(), "disk full")
}

func TestAllowEndpoint(t *testing.T) {
	gin.SetMode(gin.TestMode)
	cfg := goGuard.TestConfig()
	cfg.JWT.PrivateKey = bytes.Repeat([]byte("g"), 32)
	cfg.RateLimit.Endpoint.Limit = 1
	engine, err := goGuard.New().WithConfig(cfg).WithUserStore(memory.New()).Build()
	require.NoError(t, err)
	t.Cleanup(engine.Close)

	guard := ginguard.New(engine)
	r := gin.New()
	r.POST("/login/:user", func(c *gin.Context) {
		if !guard.AllowEndpoint(c, "login", c.Param("user")) {
			return
		}
		c.Status(http.StatusNoContent)
	})

	codes := make([]int, 0, 3)
	for _, path := range []string{"/login/gina", "/login/gina", "/login/hank"} {
		rec := httptest.NewRecorder()
		r.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, path, nil))
		codes = append(codes, rec.Code)
	}
	assert.Equal(t, []int{http.StatusNoContent, http.StatusTooManyRequests, http.StatusNoContent}, codes)
}
