// Package config loads the authd daemon configuration from an optional YAML
// file, a .env file and the environment.
package config

import (
	"fmt"
	"time"

	goGuard "github.com/MrEthical07/goGuard"
	"github.com/MrEthical07/goGuard/internal/obs"
	"github.com/MrEthical07/goGuard/storage/postgres"
)

type App struct {
	Name    string `mapstructure:"name"`
	Env     string `mapstructure:"env"`
	Version string `mapstructure:"version"`
}

type Server struct {
	HTTPAddr        string        `mapstructure:"http_addr"`
	MetricsAddr     string        `mapstructure:"metrics_addr"`
	ReadTimeout     time.Duration `mapstructure:"read_timeout"`
	WriteTimeout    time.Duration `mapstructure:"write_timeout"`
	IdleTimeout     time.Duration `mapstructure:"idle_timeout"`
	GracefulTimeout time.Duration `mapstructure:"graceful_timeout"`
	// TrustProxy makes the client IP come from X-Forwarded-For.
	TrustProxy bool `mapstructure:"trust_proxy"`
	// CORSOrigins enables CORS for the listed origins. Empty disables it.
	CORSOrigins []string `mapstructure:"cors_origins"`
}

type Log struct {
	Level  string `mapstructure:"level"`
	Pretty bool   `mapstructure:"pretty"`
}

type Redis struct {
	Addr     string `mapstructure:"addr"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
}

// Storage selects the user store: "memory" or "postgres".
type Storage struct {
	Driver  string          `mapstructure:"driver"`
	Migrate bool            `mapstructure:"migrate"`
	DB      postgres.Config `mapstructure:"db"`
}

type Sentry struct {
	DSN              string  `mapstructure:"dsn"`
	TracesSampleRate float64 `mapstructure:"traces_sample_rate"`
}

type Kafka struct {
	Enable  bool     `mapstructure:"enable"`
	Brokers []string `mapstructure:"brokers"`
	Topic   string   `mapstructure:"topic"`
}

// Auth overrides the goGuard preset selected by App.Env. Zero values keep the
// preset, except RevokeAllOnReuse which is always applied.
type Auth struct {
	JWTSecret         string        `mapstructure:"jwt_secret"`
	Issuer            string        `mapstructure:"issuer"`
	Audience          string        `mapstructure:"audience"`
	AccessTTL         time.Duration `mapstructure:"access_ttl"`
	RefreshTTL        time.Duration `mapstructure:"refresh_ttl"`
	PasswordAlgorithm string        `mapstructure:"password_algorithm"`
	BcryptCost        int           `mapstructure:"bcrypt_cost"`
	Argon2Time        uint32        `mapstructure:"argon2_time"`
	Argon2Memory      uint32        `mapstructure:"argon2_memory"` // KiB
	MinPasswordScore  int           `mapstructure:"min_password_score"`
	RevocationBackend string        `mapstructure:"revocation_backend"`
	RateLimitBackend  string        `mapstructure:"ratelimit_backend"`
	CSRFBackend       string        `mapstructure:"csrf_backend"`
	IPLimit           int           `mapstructure:"ip_limit"`
	UserLimit         int           `mapstructure:"user_limit"`
	EndpointLimit     int           `mapstructure:"endpoint_limit"`
	IPWindow          time.Duration `mapstructure:"ip_window"`
	UserWindow        time.Duration `mapstructure:"user_window"`
	EndpointWindow    time.Duration `mapstructure:"endpoint_window"`
	IPBlock           time.Duration `mapstructure:"ip_block"`
	UserBlock         time.Duration `mapstructure:"user_block"`
	EndpointBlock     time.Duration `mapstructure:"endpoint_block"`
	CookieDomain      string        `mapstructure:"cookie_domain"`
	RevokeAllOnReuse  bool          `mapstructure:"revoke_all_on_reuse"`
}

type Config struct {
	App     App     `mapstructure:"app"`
	Server  Server  `mapstructure:"server"`
	Log     Log     `mapstructure:"log"`
	Redis   Redis   `mapstructure:"redis"`
	Storage Storage `mapstructure:"storage"`
	Sentry  Sentry  `mapstructure:"sentry"`
	Kafka   Kafka   `mapstructure:"kafka"`
	Auth    Auth    `mapstructure:"auth"`
}

func (lc *Log) AsLoggerConfig(app App) obs.LogConfig {
	return obs.LogConfig{
		Level:  lc.Level,
		Pretty: lc.Pretty,
		App:    app.Name,
		Env:    app.Env,
		Ver:    app.Version,
	}
}

// GuardConfig returns the goGuard preset for App.Env with Auth applied.
func (c *Config) GuardConfig() (goGuard.Config, error) {
	cfg, err := goGuard.ConfigFor(c.App.Env)
	if err != nil {
		return goGuard.Config{}, err
	}
	c.Auth.apply(&cfg)
	if err := cfg.Validate(); err != nil {
		return goGuard.Config{}, fmt.Errorf("auth config: %w", err)
	}
	return cfg, nil
}

func (a *Auth) apply(cfg *goGuard.Config) {
	if a.JWTSecret != "" {
		cfg.JWT.SigningMethod = "hs256"
		cfg.JWT.PrivateKey = []byte(a.JWTSecret)
	}
	if a.Issuer != "" {
		cfg.JWT.Issuer = a.Issuer
	}
	if a.Audience != "" {
		cfg.JWT.Audience = a.Audience
	}
	if a.AccessTTL > 0 {
		cfg.JWT.AccessTTL = a.AccessTTL
	}
	if a.RefreshTTL > 0 {
		cfg.JWT.RefreshTTL = a.RefreshTTL
		if cfg.Revocation.Retention < a.RefreshTTL {
			cfg.Revocation.Retention = a.RefreshTTL
		}
	}
	if a.PasswordAlgorithm != "" {
		cfg.Password.Algorithm = a.PasswordAlgorithm
	}
	if a.BcryptCost > 0 {
		cfg.Password.BcryptCost = a.BcryptCost
	}
	if a.Argon2Time > 0 {
		cfg.Password.Time = a.Argon2Time
	}
	if a.Argon2Memory > 0 {
		cfg.Password.Memory = a.Argon2Memory
	}
	if a.MinPasswordScore > 0 {
		cfg.Password.MinScore = a.MinPasswordScore
	}
	if a.RevocationBackend != "" {
		cfg.Revocation.Backend = a.RevocationBackend
	}
	if a.RateLimitBackend != "" {
		cfg.RateLimit.Backend = a.RateLimitBackend
	}
	if a.CSRFBackend != "" {
		cfg.CSRF.Backend = a.CSRFBackend
	}
	a.applyRule(&cfg.RateLimit.IP, a.IPLimit, a.IPWindow, a.IPBlock)
	a.applyRule(&cfg.RateLimit.User, a.UserLimit, a.UserWindow, a.UserBlock)
	a.applyRule(&cfg.RateLimit.Endpoint, a.EndpointLimit, a.EndpointWindow, a.EndpointBlock)
	if a.CookieDomain != "" {
		cfg.CSRF.CookieDomain = a.CookieDomain
	}
	cfg.Security.RevokeAllOnRefreshReuse = a.RevokeAllOnReuse
}

func (a *Auth) applyRule(r *goGuard.RateRule, limit int, window, block time.Duration) {
	if limit > 0 {
		r.Limit = limit
	}
	if window > 0 {
		r.Window = window
	}
	if block > 0 {
		r.BlockDuration = block
	}
}

type ErrConfig string

func (e ErrConfig) Error() string { return string(e) }
