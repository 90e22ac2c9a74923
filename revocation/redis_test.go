package revocation

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"
)

func newRedisStore(t *testing.T) (*RedisStore, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })
	return NewRedisStore(rdb, "rv", Options{Retention: time.Hour}), mr
}

func TestRedisRecordSetsTTLAndIndex(t *testing.T) {
	s, mr := newRedisStore(t)
	ctx := context.Background()

	exp := time.Now().Add(10 * time.Minute)
	require.NoError(t, s.Record(ctx, "u1", "t1", exp))

	ttl := mr.TTL("rv:t:t1")
	require.Greater(t, ttl, 9*time.Minute)
	require.LessOrEqual(t, ttl, 10*time.Minute)

	members, err := mr.Members("rv:u:u1")
	require.NoError(t, err)
	require.Equal(t, []string{"t1"}, members)

	rec, err := s.Lookup(ctx, "t1")
	require.NoError(t, err)
	require.Equal(t, "u1", rec.UserID)
	require.Equal(t, exp.UnixMilli(), rec.ExpiresAt.UnixMilli())
	require.False(t, rec.Revoked())
}

func TestRedisRecordSkipsExpiredTokens(t *testing.T) {
	s, mr := newRedisStore(t)
	require.NoError(t, s.Record(context.Background(), "u1", "t1", time.Now().Add(-time.Second)))
	require.False(t, mr.Exists("rv:t:t1"))
}

func TestRedisRevokeStoresReason(t *testing.T) {
	s, mr := newRedisStore(t)
	ctx := context.Background()

	ok, err := s.Revoke(ctx, "ghost", ReasonReuse)
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, "reuse", mr.HGet("rv:t:ghost", "rsn"))
	require.Greater(t, mr.TTL("rv:t:ghost"), 59*time.Minute)

	rec, err := s.Lookup(ctx, "ghost")
	require.NoError(t, err)
	require.True(t, rec.Revoked())
	require.Equal(t, ReasonReuse, rec.Reason)
}

func TestRedisUnavailable(t *testing.T) {
	s, mr := newRedisStore(t)
	mr.Close()

	_, err := s.IsRevoked(context.Background(), "t1")
	require.ErrorIs(t, err, ErrUnavailable)
	_, err = s.Revoke(context.Background(), "t1", ReasonLogout)
	require.ErrorIs(t, err, ErrUnavailable)
}
