package goGuard_test

import (
	"bytes"
	"context"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"

	goGuard "github.com/MrEthical07/goGuard"
	"github.com/MrEthical07/goGuard/storage/memory"
)

const (
	alicePassword = "Sup3r-Secret!pw"
	aliceEmail    = "alice@example.com"
)

var testSecret = bytes.Repeat([]byte("k"), 32)

type testClock struct {
	mu  sync.Mutex
	now time.Time
}

func newTestClock() *testClock {
	return &testClock{now: time.Now().Truncate(time.Second)}
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *testClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

type testEngine struct {
	*goGuard.Engine
	store *memory.Store
	clock *testClock
	redis *miniredis.Miniredis
}

type engineOption func(*goGuard.Config, *goGuard.Builder)

func withBackend(name string) engineOption {
	return func(cfg *goGuard.Config, _ *goGuard.Builder) {
		cfg.Revocation.Backend = name
	}
}

func withAuditSink(sink goGuard.AuditSink) engineOption {
	return func(cfg *goGuard.Config, b *goGuard.Builder) {
		cfg.Audit.Enabled = true
		cfg.Audit.BufferSize = 64
		cfg.Audit.DropIfFull = false
		b.WithAuditSink(sink)
	}
}

func withConfig(fn func(*goGuard.Config)) engineOption {
	return func(cfg *goGuard.Config, _ *goGuard.Builder) { fn(cfg) }
}

func newTestEngine(t *testing.T, opts ...engineOption) *testEngine {
	t.Helper()

	cfg := goGuard.TestConfig()
	cfg.JWT.PrivateKey = testSecret

	te := &testEngine{store: memory.New(), clock: newTestClock()}
	b := goGuard.New().
		WithUserStore(te.store).
		WithClock(te.clock.Now)
	for _, opt := range opts {
		opt(&cfg, b)
	}

	if cfg.Revocation.Backend == goGuard.BackendRedis {
		te.redis = miniredis.RunT(t)
		rdb := redis.NewClient(&redis.Options{Addr: te.redis.Addr()})
		t.Cleanup(func() { _ = rdb.Close() })
		b.WithRedis(rdb)
	}

	engine, err := b.WithConfig(cfg).Build()
	if err != nil {
		t.Fatalf("build engine: %v", err)
	}
	t.Cleanup(engine.Close)
	te.Engine = engine
	return te
}

func (te *testEngine) registerAlice(t *testing.T) goGuard.User {
	t.Helper()
	u, err := te.Register(context.Background(), goGuard.RegisterInput{
		Username: "alice",
		Email:    aliceEmail,
		Password: alicePassword,
	})
	if err != nil {
		t.Fatalf("register alice: %v", err)
	}
	return u
}

func (te *testEngine) loginAlice(t *testing.T) *goGuard.LoginResult {
	t.Helper()
	res, err := te.Login(context.Background(), "alice", alicePassword)
	if err != nil {
		t.Fatalf("login alice: %v", err)
	}
	return res
}
