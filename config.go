package goGuard

import (
	"errors"
	"fmt"
	"time"

	"github.com/MrEthical07/goGuard/password"
)

// Environment names accepted by ConfigFor.
const (
	EnvProduction  = "production"
	EnvDevelopment = "development"
	EnvTest        = "test"
)

// Backend names.
const (
	BackendMemory   = "memory"
	BackendRedis    = "redis"
	BackendDatabase = "database"
)

// Config is the complete Engine configuration. Start from a preset and
// override fields; Build validates the result.
type Config struct {
	Environment string
	JWT         JWTConfig
	Password    PasswordConfig
	Revocation  RevocationConfig
	RateLimit   RateLimitConfig
	CSRF        CSRFConfig
	Security    SecurityConfig
	Audit       AuditConfig
	Metrics     MetricsConfig
}

/*
====================================
JWT CONFIG
====================================
*/

// JWTConfig configures token signing. Rotating a key invalidates every token
// signed with it.
type JWTConfig struct {
	AccessTTL         time.Duration
	RefreshTTL        time.Duration
	SigningMethod     string // "hs256" (default) or "ed25519"
	PrivateKey        []byte
	PublicKey         []byte
	KeyID             string
	RefreshPrivateKey []byte
	RefreshPublicKey  []byte
	Issuer            string
	Audience          string
	Leeway            time.Duration
}

/*
====================================
PASSWORD CONFIG
====================================
*/

// PasswordConfig selects the hash algorithm and cost.
type PasswordConfig struct {
	Algorithm      string // "argon2id" (default) or "bcrypt"
	Memory         uint32 // KiB
	Time           uint32
	Parallelism    uint8
	SaltLength     uint32
	KeyLength      uint32
	BcryptCost     int
	MinScore       int
	UpgradeOnLogin bool
}

/*
====================================
REVOCATION CONFIG
====================================
*/

// RevocationConfig selects the revocation backend. Retention should cover
// RefreshTTL.
type RevocationConfig struct {
	Backend         string
	RedisPrefix     string
	Retention       time.Duration
	CleanupInterval time.Duration
	CleanupChunk    int
}

/*
====================================
RATE LIMIT CONFIG
====================================
*/

// RateRule is the limit of one keyspace.
type RateRule struct {
	Limit         int
	Window        time.Duration
	BlockDuration time.Duration
}

// RateLimitConfig configures the three keyspaces.
type RateLimitConfig struct {
	Enabled            bool
	Backend            string
	RedisPrefix        string
	Shards             int
	IP                 RateRule
	User               RateRule
	Endpoint           RateRule
	SensitiveEndpoints []string
	SweepInterval      time.Duration
}

/*
====================================
CSRF CONFIG
====================================
*/

type CSRFConfig struct {
	Enabled       bool
	Backend       string
	RedisPrefix   string
	TTL           time.Duration
	SecureCookie  bool
	CookiePath    string
	CookieDomain  string
	SweepInterval time.Duration
}

/*
====================================
SECURITY / AUDIT / METRICS
====================================
*/

// SecurityConfig holds policy switches.
type SecurityConfig struct {
	// RevokeAllOnRefreshReuse revokes every token of a user when an already
	// revoked refresh token is presented.
	RevokeAllOnRefreshReuse bool
	// RefreshCookieName names the cookie carrying the refresh token.
	RefreshCookieName string
	// DefaultRoles are assigned at registration when none are given.
	DefaultRoles []string
}

type AuditConfig struct {
	Enabled    bool
	BufferSize int
	DropIfFull bool
}

type MetricsConfig struct {
	Enabled                 bool
	EnableLatencyHistograms bool
}

// ProductionConfig returns the production preset. Signing keys are not set.
func ProductionConfig() Config {
	return Config{
		Environment: EnvProduction,
		JWT: JWTConfig{
			AccessTTL:     10 * time.Minute,
			RefreshTTL:    7 * 24 * time.Hour,
			SigningMethod: "hs256",
			Issuer:        "goguard",
			Audience:      "goguard-clients",
			Leeway:        5 * time.Second,
		},
		Password: PasswordConfig{
			Algorithm:      password.AlgorithmArgon2id,
			Memory:         64 * 1024,
			Time:           3,
			Parallelism:    2,
			SaltLength:     16,
			KeyLength:      32,
			BcryptCost:     12,
			MinScore:       3,
			UpgradeOnLogin: true,
		},
		Revocation: RevocationConfig{
			Backend:         BackendRedis,
			RedisPrefix:     "goguard:rv",
			Retention:       7 * 24 * time.Hour,
			CleanupInterval: time.Hour,
			CleanupChunk:    512,
		},
		RateLimit: RateLimitConfig{
			Enabled:       true,
			Backend:       BackendRedis,
			RedisPrefix:   "goguard:rl",
			Shards:        32,
			IP:            RateRule{Limit: 100, Window: time.Minute, BlockDuration: 15 * time.Minute},
			User:          RateRule{Limit: 60, Window: time.Minute, BlockDuration: 15 * time.Minute},
			Endpoint:      RateRule{Limit: 5, Window: time.Minute, BlockDuration: 30 * time.Minute},
			SweepInterval: 5 * time.Minute,
		},
		CSRF: CSRFConfig{
			Enabled:       true,
			Backend:       BackendRedis,
			RedisPrefix:   "goguard:csrf",
			TTL:           24 * time.Hour,
			SecureCookie:  true,
			CookiePath:    "/",
			SweepInterval: 10 * time.Minute,
		},
		Security: SecurityConfig{
			RevokeAllOnRefreshReuse: true,
			RefreshCookieName:       "refresh_token",
			DefaultRoles:            []string{"user"},
		},
		Audit: AuditConfig{
			Enabled:    true,
			BufferSize: 1024,
			DropIfFull: true,
		},
		Metrics: MetricsConfig{
			Enabled:                 true,
			EnableLatencyHistograms: true,
		},
	}
}

// DevelopmentConfig returns the development preset: in-memory backends, a
// longer access TTL, cheaper hashing and plain-HTTP cookies.
func DevelopmentConfig() Config {
	cfg := ProductionConfig()
	cfg.Environment = EnvDevelopment
	cfg.JWT.AccessTTL = 15 * time.Minute
	cfg.Password.Memory = 16 * 1024
	cfg.Password.Time = 1
	cfg.Password.BcryptCost = 10
	cfg.Revocation.Backend = BackendMemory
	cfg.Revocation.CleanupInterval = 10 * time.Minute
	cfg.RateLimit.Backend = BackendMemory
	cfg.RateLimit.IP.Limit = 1000
	cfg.RateLimit.User.Limit = 600
	cfg.RateLimit.Endpoint.Limit = 20
	cfg.CSRF.Backend = BackendMemory
	cfg.CSRF.SecureCookie = false
	return cfg
}

// TestConfig returns the preset used by tests: minimum hash cost, no
// background sweeps and no audit dispatcher.
func TestConfig() Config {
	cfg := DevelopmentConfig()
	cfg.Environment = EnvTest
	cfg.Password.Memory = 8 * 1024
	cfg.Password.Time = 1
	cfg.Password.Parallelism = 1
	cfg.Password.BcryptCost = 4
	cfg.Revocation.CleanupInterval = 0
	cfg.RateLimit.SweepInterval = 0
	cfg.CSRF.SweepInterval = 0
	cfg.Audit.Enabled = false
	return cfg
}

// ConfigFor returns the preset named by env.
func ConfigFor(env string) (Config, error) {
	switch env {
	case EnvProduction:
		return ProductionConfig(), nil
	case EnvDevelopment, "":
		return DevelopmentConfig(), nil
	case EnvTest:
		return TestConfig(), nil
	default:
		return Config{}, fmt.Errorf("unknown environment %q", env)
	}
}

func cloneConfig(cfg Config) Config {
	out := cfg
	out.JWT.PrivateKey = cloneBytes(cfg.JWT.PrivateKey)
	out.JWT.PublicKey = cloneBytes(cfg.JWT.PublicKey)
	out.JWT.RefreshPrivateKey = cloneBytes(cfg.JWT.RefreshPrivateKey)
	out.JWT.RefreshPublicKey = cloneBytes(cfg.JWT.RefreshPublicKey)
	out.RateLimit.SensitiveEndpoints = append([]string(nil), cfg.RateLimit.SensitiveEndpoints...)
	out.Security.DefaultRoles = append([]string(nil), cfg.Security.DefaultRoles...)
	return out
}

func cloneBytes(b []byte) []byte {
	if b == nil {
		return nil
	}
	out := make([]byte, len(b))
	copy(out, b)
	return out
}

func (c *Config) passwordConfig() password.Config {
	return password.Config{
		Algorithm: c.Password.Algorithm,
		Argon2: password.Argon2Params{
			Memory:      c.Password.Memory,
			Time:        c.Password.Time,
			Parallelism: c.Password.Parallelism,
			SaltLength:  c.Password.SaltLength,
			KeyLength:   c.Password.KeyLength,
		},
		BcryptCost: c.Password.BcryptCost,
	}
}

func validBackend(name string, allowDatabase bool) bool {
	switch name {
	case BackendMemory, BackendRedis:
		return true
	case BackendDatabase:
		return allowDatabase
	default:
		return false
	}
}

func (r RateRule) validate(name string) error {
	if r.Limit <= 0 {
		return fmt.Errorf("RateLimit %s Limit must be > 0", name)
	}
	if r.Window <= 0 {
		return fmt.Errorf("RateLimit %s Window must be > 0", name)
	}
	if r.BlockDuration <= 0 {
		return fmt.Errorf("RateLimit %s BlockDuration must be > 0", name)
	}
	return nil
}

// Validate checks the configuration. Key material is checked again by the
// token issuer when the Engine is built.
func (c *Config) Validate() error {
	// JWT
	if c.JWT.AccessTTL <= 0 {
		return errors.New("JWT AccessTTL must be > 0")
	}
	if c.JWT.RefreshTTL < c.JWT.AccessTTL {
		return errors.New("JWT RefreshTTL must be >= AccessTTL")
	}
	if c.JWT.SigningMethod != "ed25519" && c.JWT.SigningMethod != "hs256" {
		return errors.New("unsupported JWT signing method")
	}
	if len(c.JWT.PrivateKey) == 0 {
		return fmt.Errorf("%s requires PrivateKey", c.JWT.SigningMethod)
	}
	if c.JWT.SigningMethod == "ed25519" && len(c.JWT.PublicKey) == 0 {
		return errors.New("ed25519 requires PublicKey")
	}
	if c.JWT.Leeway < 0 || c.JWT.Leeway > 2*time.Minute {
		return errors.New("JWT Leeway must be between 0 and 2m")
	}

	// Password
	if c.Password.MinScore < 0 || c.Password.MinScore > password.MaxScore {
		return fmt.Errorf("Password MinScore must be between 0 and %d", password.MaxScore)
	}
	if c.Environment == EnvProduction && c.Password.Algorithm == password.AlgorithmArgon2id && c.Password.Memory < 64*1024 {
		return errors.New("production Password Memory must be >= 65536 KiB")
	}

	// Revocation
	if !validBackend(c.Revocation.Backend, true) {
		return fmt.Errorf("unknown Revocation Backend %q", c.Revocation.Backend)
	}
	if c.Revocation.Retention < c.JWT.RefreshTTL {
		return errors.New("Revocation Retention must be >= JWT RefreshTTL")
	}
	if c.Revocation.CleanupInterval < 0 {
		return errors.New("Revocation CleanupInterval must be >= 0")
	}

	// Rate limiting
	if c.RateLimit.Enabled {
		if !validBackend(c.RateLimit.Backend, false) {
			return fmt.Errorf("unknown RateLimit Backend %q", c.RateLimit.Backend)
		}
		if err := errors.Join(
			c.RateLimit.IP.validate("IP"),
			c.RateLimit.User.validate("User"),
			c.RateLimit.Endpoint.validate("Endpoint"),
		); err != nil {
			return err
		}
	}

	// CSRF
	if c.CSRF.Enabled {
		if !validBackend(c.CSRF.Backend, false) {
			return fmt.Errorf("unknown CSRF Backend %q", c.CSRF.Backend)
		}
		if c.CSRF.TTL <= 0 {
			return errors.New("CSRF TTL must be > 0")
		}
		if c.Environment == EnvProduction && !c.CSRF.SecureCookie {
			return errors.New("production requires secure CSRF cookies")
		}
	}

	if c.Security.RefreshCookieName == "" {
		return errors.New("Security RefreshCookieName must be set")
	}
	if c.Audit.Enabled && c.Audit.BufferSize <= 0 {
		return errors.New("Audit BufferSize must be > 0")
	}
	return nil
}
