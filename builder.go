package goGuard

import (
	"errors"
	"fmt"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/MrEthical07/goGuard/csrf"
	"github.com/MrEthical07/goGuard/internal/audit"
	"github.com/MrEthical07/goGuard/internal/sweeper"
	"github.com/MrEthical07/goGuard/jwt"
	"github.com/MrEthical07/goGuard/password"
	"github.com/MrEthical07/goGuard/ratelimit"
	"github.com/MrEthical07/goGuard/revocation"
)

// Builder assembles an Engine. A Builder can be used once.
type Builder struct {
	config Config
	redis  redis.UniversalClient

	users      UserStore
	tokenRepo  revocation.Repository
	revocation revocation.Store

	auditSink AuditSink
	logger    *zap.Logger
	now       func() time.Time

	built bool
}

// New returns a Builder seeded with DevelopmentConfig.
func New() *Builder {
	return &Builder{
		config: DevelopmentConfig(),
	}
}

func (b *Builder) WithConfig(cfg Config) *Builder {
	b.config = cloneConfig(cfg)
	return b
}

// WithRedis sets the client used by every backend configured as "redis".
func (b *Builder) WithRedis(client redis.UniversalClient) *Builder {
	b.redis = client
	return b
}

// WithUserStore sets the storage collaborator. When it also implements
// revocation.Repository it backs the "database" revocation backend.
func (b *Builder) WithUserStore(users UserStore) *Builder {
	b.users = users
	return b
}

// WithTokenRepository sets the repository of the "database" revocation backend.
func (b *Builder) WithTokenRepository(repo revocation.Repository) *Builder {
	b.tokenRepo = repo
	return b
}

// WithRevocationStore overrides the configured revocation backend.
func (b *Builder) WithRevocationStore(store revocation.Store) *Builder {
	b.revocation = store
	return b
}

func (b *Builder) WithAuditSink(sink AuditSink) *Builder {
	b.auditSink = sink
	return b
}

func (b *Builder) WithLogger(log *zap.Logger) *Builder {
	b.logger = log
	return b
}

// WithClock overrides time.Now in every component.
func (b *Builder) WithClock(now func() time.Time) *Builder {
	b.now = now
	return b
}

func (b *Builder) WithMetricsEnabled(enabled bool) *Builder {
	b.config.Metrics.Enabled = enabled
	return b
}

func (b *Builder) WithLatencyHistograms(enabled bool) *Builder {
	b.config.Metrics.EnableLatencyHistograms = enabled
	return b
}

func (b *Builder) needsRedis(cfg Config) bool {
	if b.revocation == nil && cfg.Revocation.Backend == BackendRedis {
		return true
	}
	if cfg.RateLimit.Enabled && cfg.RateLimit.Backend == BackendRedis {
		return true
	}
	return cfg.CSRF.Enabled && cfg.CSRF.Backend == BackendRedis
}

// Build validates the configuration and wires every component.
func (b *Builder) Build() (*Engine, error) {
	if b.built {
		return nil, errors.New("builder already used")
	}

	cfg := cloneConfig(b.config)
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if b.users == nil {
		return nil, errors.New("user store required")
	}
	if b.redis == nil && b.needsRedis(cfg) {
		return nil, errors.New("redis client required by the configured backends")
	}

	now := b.now
	if now == nil {
		now = time.Now
	}
	log := b.logger
	if log == nil {
		log = zap.NewNop()
	}

	// -------- PASSWORDS --------
	pm, err := password.NewManager(cfg.passwordConfig())
	if err != nil {
		return nil, fmt.Errorf("password manager: %w", err)
	}
	// Unknown users are verified against this hash so both login failure
	// paths cost one hash verification.
	filler, err := password.GenerateSecurePassword(24)
	if err != nil {
		return nil, err
	}
	dummy, err := pm.Hash(filler)
	if err != nil {
		return nil, err
	}

	// -------- TOKENS --------
	issuer, err := jwt.NewIssuer(jwt.Config{
		AccessTTL:         cfg.JWT.AccessTTL,
		RefreshTTL:        cfg.JWT.RefreshTTL,
		SigningMethod:     jwt.SigningMethod(cfg.JWT.SigningMethod),
		PrivateKey:        cloneBytes(cfg.JWT.PrivateKey),
		PublicKey:         cloneBytes(cfg.JWT.PublicKey),
		KeyID:             cfg.JWT.KeyID,
		RefreshPrivateKey: cloneBytes(cfg.JWT.RefreshPrivateKey),
		RefreshPublicKey:  cloneBytes(cfg.JWT.RefreshPublicKey),
		Issuer:            cfg.JWT.Issuer,
		Audience:          cfg.JWT.Audience,
		Leeway:            cfg.JWT.Leeway,
		Now:               now,
	})
	if err != nil {
		return nil, fmt.Errorf("token issuer: %w", err)
	}

	// -------- REVOCATION --------
	revocations := b.revocation
	if revocations == nil {
		opts := revocation.Options{
			Retention:    cfg.Revocation.Retention,
			CleanupChunk: cfg.Revocation.CleanupChunk,
			Now:          now,
		}
		switch cfg.Revocation.Backend {
		case BackendMemory:
			revocations = revocation.NewMemoryStore(opts)
		case BackendRedis:
			revocations = revocation.NewRedisStore(b.redis, cfg.Revocation.RedisPrefix, opts)
		case BackendDatabase:
			repo := b.tokenRepo
			if repo == nil {
				repo, _ = b.users.(revocation.Repository)
			}
			if repo == nil {
				return nil, errors.New("database revocation backend requires a token repository")
			}
			revocations = revocation.NewMetadataStore(repo, opts)
		}
	}

	engine := &Engine{
		config:      cloneConfig(cfg),
		users:       b.users,
		passwords:   pm,
		dummyHash:   dummy,
		issuer:      issuer,
		revocations: revocations,
		validate:    newValidator(),
		metrics:     NewMetrics(cfg.Metrics),
		log:         log,
		now:         now,
	}

	// -------- RATE LIMITING --------
	if cfg.RateLimit.Enabled {
		var store ratelimit.Store
		if cfg.RateLimit.Backend == BackendRedis {
			store = ratelimit.NewRedisStore(b.redis, cfg.RateLimit.RedisPrefix, now)
		} else {
			store = ratelimit.NewMemoryStore(cfg.RateLimit.Shards, now)
		}
		limiter, err := ratelimit.New(store, ratelimit.Config{
			IP:                 ratelimit.Rule(cfg.RateLimit.IP),
			User:               ratelimit.Rule(cfg.RateLimit.User),
			Endpoint:           ratelimit.Rule(cfg.RateLimit.Endpoint),
			SensitiveEndpoints: cfg.RateLimit.SensitiveEndpoints,
			Now:                now,
		})
		if err != nil {
			return nil, fmt.Errorf("rate limiter: %w", err)
		}
		engine.limiter = limiter
	}

	// -------- CSRF --------
	if cfg.CSRF.Enabled {
		var store csrf.Store
		if cfg.CSRF.Backend == BackendRedis {
			store = csrf.NewRedisStore(b.redis, cfg.CSRF.RedisPrefix, now)
		} else {
			store = csrf.NewMemoryStore(now)
		}
		engine.csrf = csrf.NewGuard(store, csrf.Config{
			TTL:        cfg.CSRF.TTL,
			Secure:     cfg.CSRF.SecureCookie,
			CookiePath: cfg.CSRF.CookiePath,
			Domain:     cfg.CSRF.CookieDomain,
			Now:        now,
		})
	}

	// -------- AUDIT --------
	engine.audit = audit.NewDispatcher(audit.Config{
		Enabled:    cfg.Audit.Enabled,
		BufferSize: cfg.Audit.BufferSize,
		DropIfFull: cfg.Audit.DropIfFull,
	}, b.auditSink)

	// -------- SWEEPERS --------
	tasks := []sweeper.Task{
		{Name: "revocation", Interval: cfg.Revocation.CleanupInterval, Run: revocations.Cleanup},
	}
	if engine.limiter != nil {
		tasks = append(tasks, sweeper.Task{Name: "ratelimit", Interval: cfg.RateLimit.SweepInterval, Run: engine.limiter.Sweep})
	}
	if engine.csrf != nil {
		tasks = append(tasks, sweeper.Task{Name: "csrf", Interval: cfg.CSRF.SweepInterval, Run: engine.csrf.Sweep})
	}
	engine.sweeper = sweeper.New(log, engine.onSweep, tasks...)

	b.built = true
	return engine, nil
}

func newValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	v.RegisterTagNameFunc(jsonFieldName)
	return v
}
