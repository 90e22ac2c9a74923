package csrf

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type clock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *clock) advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

func request(method, header, cookie string) *http.Request {
	r := httptest.NewRequest(method, "/api/resource", nil)
	if header != "" {
		r.Header.Set(HeaderName, header)
	}
	if cookie != "" {
		r.AddCookie(&http.Cookie{Name: CookieName, Value: cookie})
	}
	return r
}

func guards(t *testing.T, c *clock) map[string]*Guard {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })

	cfg := Config{TTL: time.Hour, Now: c.Now}
	return map[string]*Guard{
		"memory": NewGuard(NewMemoryStore(c.Now), cfg),
		"redis":  NewGuard(NewRedisStore(rdb, "csrftest", c.Now), cfg),
	}
}

func TestVerifyAcceptsMatchingToken(t *testing.T) {
	c := &clock{now: time.Now()}
	for name, g := range guards(t, c) {
		t.Run(name, func(t *testing.T) {
			token, err := g.Issue(context.Background(), "u1")
			require.NoError(t, err)
			require.NoError(t, g.Verify(request(http.MethodPost, token, token), "u1"))
		})
	}
}

func TestVerifyRejections(t *testing.T) {
	c := &clock{now: time.Now()}
	for name, g := range guards(t, c) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			token, err := g.Issue(ctx, "u1")
			require.NoError(t, err)
			other, err := g.Issue(ctx, "u2")
			require.NoError(t, err)

			cases := []struct {
				name string
				req  *http.Request
				user string
				want error
			}{
				{"missing header", request(http.MethodPost, "", token), "u1", ErrMissingToken},
				{"missing cookie", request(http.MethodPost, token, ""), "u1", ErrMissingToken},
				{"mismatch", request(http.MethodPost, token, token+"x"), "u1", ErrTokenMismatch},
				{"unknown", request(http.MethodPut, "forged", "forged"), "u1", ErrInvalidToken},
				{"other user", request(http.MethodDelete, other, other), "u1", ErrInvalidToken},
			}
			for _, tc := range cases {
				err := g.Verify(tc.req, tc.user)
				assert.ErrorIs(t, err, tc.want, tc.name)
				assert.ErrorIs(t, err, ErrCSRF, tc.name)
			}
		})
	}
}

func TestVerifySkipsSafeMethodsAndAnonymous(t *testing.T) {
	g := NewGuard(NewMemoryStore(nil), Config{})
	for _, m := range []string{http.MethodGet, http.MethodHead, http.MethodOptions} {
		require.NoError(t, g.Verify(request(m, "", ""), "u1"), m)
	}
	require.NoError(t, g.Verify(request(http.MethodPost, "", ""), ""))
	require.ErrorIs(t, g.Verify(request(http.MethodPost, "", ""), "u1"), ErrMissingToken)
}

func TestVerifyExpired(t *testing.T) {
	c := &clock{now: time.Unix(1_700_000_000, 0)}
	g := NewGuard(NewMemoryStore(c.Now), Config{TTL: time.Minute, Now: c.Now})

	token, err := g.Issue(context.Background(), "u1")
	require.NoError(t, err)
	c.advance(2 * time.Minute)
	require.ErrorIs(t, g.Verify(request(http.MethodPost, token, token), "u1"), ErrExpiredToken)
}

func TestRegenerateInvalidatesPrevious(t *testing.T) {
	c := &clock{now: time.Now()}
	for name, g := range guards(t, c) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			old, err := g.Issue(ctx, "u1")
			require.NoError(t, err)

			fresh, err := g.Regenerate(ctx, "u1")
			require.NoError(t, err)
			require.NotEqual(t, old, fresh)

			require.ErrorIs(t, g.Verify(request(http.MethodPost, old, old), "u1"), ErrInvalidToken)
			require.NoError(t, g.Verify(request(http.MethodPost, fresh, fresh), "u1"))
		})
	}
}

func TestAttachSetsCookieAndHeader(t *testing.T) {
	g := NewGuard(NewMemoryStore(nil), Config{TTL: time.Hour, Secure: true})
	rec := httptest.NewRecorder()
	g.Attach(rec, "tok123")

	require.Equal(t, "tok123", rec.Header().Get(HeaderName))
	cookies := rec.Result().Cookies()
	require.Len(t, cookies, 1)
	ck := cookies[0]
	require.Equal(t, CookieName, ck.Name)
	require.Equal(t, "tok123", ck.Value)
	require.True(t, ck.HttpOnly)
	require.True(t, ck.Secure)
	require.Equal(t, http.SameSiteStrictMode, ck.SameSite)
	require.Equal(t, 3600, ck.MaxAge)

	rec = httptest.NewRecorder()
	g.Clear(rec)
	require.Equal(t, -1, rec.Result().Cookies()[0].MaxAge)
}

func TestMemorySweep(t *testing.T) {
	c := &clock{now: time.Unix(1_700_000_000, 0)}
	store := NewMemoryStore(c.Now)
	g := NewGuard(store, Config{TTL: time.Minute, Now: c.Now})
	ctx := context.Background()

	_, err := g.Issue(ctx, "u1")
	require.NoError(t, err)
	c.advance(30 * time.Second)
	keep, err := g.Issue(ctx, "u1")
	require.NoError(t, err)
	c.advance(45 * time.Second)

	n, err := g.Sweep(ctx)
	require.NoError(t, err)
	require.Equal(t, 1, n)

	_, ok, err := store.Get(ctx, keep)
	require.NoError(t, err)
	require.True(t, ok)
}

func TestRedisStoreUnavailable(t *testing.T) {
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })
	g := NewGuard(NewRedisStore(rdb, "", nil), Config{})
	mr.Close()

	err := g.Verify(request(http.MethodPost, "t", "t"), "u1")
	require.ErrorIs(t, err, ErrUnavailable)
	require.False(t, errors.Is(err, ErrCSRF), "backend failures are not CSRF failures")
}
