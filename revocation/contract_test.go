package revocation_test

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"

	"github.com/MrEthical07/goGuard/revocation"
	"github.com/MrEthical07/goGuard/storage/memory"
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

type harness struct {
	store   revocation.Store
	advance func(time.Duration)
}

func backends(t *testing.T) map[string]func(t *testing.T) harness {
	t.Helper()
	return map[string]func(t *testing.T) harness{
		"memory": func(t *testing.T) harness {
			c := &clock{now: time.Unix(1_700_000_000, 0)}
			s := revocation.NewMemoryStore(revocation.Options{Now: c.Now, CleanupChunk: 2})
			return harness{store: s, advance: c.advance}
		},
		"redis": func(t *testing.T) harness {
			mr := miniredis.RunT(t)
			rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
			t.Cleanup(func() { _ = rdb.Close() })

			c := &clock{now: time.Unix(1_700_000_000, 0)}
			s := revocation.NewRedisStore(rdb, "rvtest", revocation.Options{Now: c.Now})
			return harness{store: s, advance: func(d time.Duration) {
				c.advance(d)
				mr.FastForward(d)
			}}
		},
		"database": func(t *testing.T) harness {
			c := &clock{now: time.Unix(1_700_000_000, 0)}
			s := revocation.NewMetadataStore(memory.New(), revocation.Options{Now: c.Now})
			return harness{store: s, advance: c.advance}
		},
	}
}

func TestRevokeIsCompareAndSet(t *testing.T) {
	for name, mk := range backends(t) {
		t.Run(name, func(t *testing.T) {
			h := mk(t)
			ctx := context.Background()

			require.NoError(t, h.store.Record(ctx, "u1", "t1", time.Unix(1_700_000_000, 0).Add(time.Hour)))

			revoked, err := h.store.IsRevoked(ctx, "t1")
			require.NoError(t, err)
			require.False(t, revoked)

			ok, err := h.store.Revoke(ctx, "t1", revocation.ReasonRotation)
			require.NoError(t, err)
			require.True(t, ok)

			ok, err = h.store.Revoke(ctx, "t1", revocation.ReasonLogout)
			require.NoError(t, err)
			require.False(t, ok, "second revoke must report no change")

			revoked, err = h.store.IsRevoked(ctx, "t1")
			require.NoError(t, err)
			require.True(t, revoked)
		})
	}
}

func TestRevokeUnknownToken(t *testing.T) {
	for name, mk := range backends(t) {
		t.Run(name, func(t *testing.T) {
			h := mk(t)
			ctx := context.Background()

			ok, err := h.store.Revoke(ctx, "ghost", revocation.ReasonAdmin)
			require.NoError(t, err)
			require.True(t, ok)

			revoked, err := h.store.IsRevoked(ctx, "ghost")
			require.NoError(t, err)
			require.True(t, revoked)

			revoked, err = h.store.IsRevoked(ctx, "never-seen")
			require.NoError(t, err)
			require.False(t, revoked)
		})
	}
}

func TestRecordNeverClearsRevocation(t *testing.T) {
	for name, mk := range backends(t) {
		t.Run(name, func(t *testing.T) {
			h := mk(t)
			ctx := context.Background()
			exp := time.Unix(1_700_000_000, 0).Add(time.Hour)

			require.NoError(t, h.store.Record(ctx, "u1", "t1", exp))
			_, err := h.store.Revoke(ctx, "t1", revocation.ReasonLogout)
			require.NoError(t, err)
			require.NoError(t, h.store.Record(ctx, "u1", "t1", exp))

			revoked, err := h.store.IsRevoked(ctx, "t1")
			require.NoError(t, err)
			require.True(t, revoked)
		})
	}
}

func TestRevokeAll(t *testing.T) {
	for name, mk := range backends(t) {
		t.Run(name, func(t *testing.T) {
			h := mk(t)
			ctx := context.Background()
			exp := time.Unix(1_700_000_000, 0).Add(time.Hour)

			for _, id := range []string{"a1", "a2", "a3"} {
				require.NoError(t, h.store.Record(ctx, "alice", id, exp))
			}
			require.NoError(t, h.store.Record(ctx, "bob", "b1", exp))

			_, err := h.store.Revoke(ctx, "a1", revocation.ReasonLogout)
			require.NoError(t, err)

			n, err := h.store.RevokeAll(ctx, "alice", revocation.ReasonAdmin)
			require.NoError(t, err)
			require.Equal(t, 2, n)

			for _, id := range []string{"a1", "a2", "a3"} {
				revoked, err := h.store.IsRevoked(ctx, id)
				require.NoError(t, err)
				require.True(t, revoked, id)
			}
			revoked, err := h.store.IsRevoked(ctx, "b1")
			require.NoError(t, err)
			require.False(t, revoked)

			n, err = h.store.RevokeAll(ctx, "alice", revocation.ReasonAdmin)
			require.NoError(t, err)
			require.Zero(t, n)
		})
	}
}

func TestConcurrentRevokeSingleWinner(t *testing.T) {
	for name, mk := range backends(t) {
		t.Run(name, func(t *testing.T) {
			h := mk(t)
			ctx := context.Background()
			require.NoError(t, h.store.Record(ctx, "u1", "t1", time.Unix(1_700_000_000, 0).Add(time.Hour)))

			const workers = 16
			var (
				wg    sync.WaitGroup
				wins  atomic.Int32
				start = make(chan struct{})
			)
			for i := 0; i < workers; i++ {
				wg.Add(1)
				go func() {
					defer wg.Done()
					<-start
					ok, err := h.store.Revoke(ctx, "t1", revocation.ReasonRotation)
					if err == nil && ok {
						wins.Add(1)
					}
				}()
			}
			close(start)
			wg.Wait()

			require.Equal(t, int32(1), wins.Load())
		})
	}
}

func TestCleanupPurgesOnlyExpired(t *testing.T) {
	for name, mk := range backends(t) {
		t.Run(name, func(t *testing.T) {
			h := mk(t)
			ctx := context.Background()
			base := time.Unix(1_700_000_000, 0)

			require.NoError(t, h.store.Record(ctx, "u1", "short", base.Add(time.Minute)))
			require.NoError(t, h.store.Record(ctx, "u1", "long", base.Add(time.Hour)))
			_, err := h.store.Revoke(ctx, "long", revocation.ReasonLogout)
			require.NoError(t, err)

			h.advance(2 * time.Minute)

			n, err := h.store.Cleanup(ctx)
			require.NoError(t, err)
			require.Equal(t, 1, n)

			revoked, err := h.store.IsRevoked(ctx, "long")
			require.NoError(t, err)
			require.True(t, revoked, "unexpired revocation must survive cleanup")

			n, err = h.store.Cleanup(ctx)
			require.NoError(t, err)
			require.Zero(t, n)
		})
	}
}
