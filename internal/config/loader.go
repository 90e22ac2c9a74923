package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strings"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// LoadDotEnv exports the variables of the given .env files that are not
// already set. Missing files are skipped.
func LoadDotEnv(files ...string) error {
	if len(files) == 0 {
		files = []string{".env"}
	}
	for _, f := range files {
		vars, err := godotenv.Read(f)
		if err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				continue
			}
			return err
		}
		for k, v := range vars {
			if _, set := os.LookupEnv(k); set {
				continue
			}
			if err := os.Setenv(k, v); err != nil {
				return err
			}
		}
	}
	return nil
}

// Load reads the YAML file at path when given, then the environment. Keys map
// to variables by upper-casing and replacing dots: auth.jwt_secret is
// AUTH_JWT_SECRET.
func Load(path string) (*Config, error) {
	v := viper.New()
	v.SetConfigType("yaml")
	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config %s: %w", path, err)
		}
	}

	v.SetDefault("app.name", "goguard-authd")
	v.SetDefault("app.env", "development")
	v.SetDefault("app.version", "dev")

	v.SetDefault("server.http_addr", ":8080")
	v.SetDefault("server.metrics_addr", ":9100")
	v.SetDefault("server.read_timeout", "5s")
	v.SetDefault("server.write_timeout", "10s")
	v.SetDefault("server.idle_timeout", "60s")
	v.SetDefault("server.graceful_timeout", "15s")
	v.SetDefault("server.trust_proxy", false)
	v.SetDefault("server.cors_origins", []string{})

	v.SetDefault("log.level", "info")
	v.SetDefault("log.pretty", false)

	v.SetDefault("redis.addr", "")
	v.SetDefault("redis.password", "")
	v.SetDefault("redis.db", 0)

	v.SetDefault("storage.driver", "memory")
	v.SetDefault("storage.migrate", true)
	v.SetDefault("storage.db.url", "")
	v.SetDefault("storage.db.max_conns", 20)
	v.SetDefault("storage.db.min_conns", 2)
	v.SetDefault("storage.db.max_conn_lifetime", "30m")
	v.SetDefault("storage.db.max_conn_idle_time", "10m")
	v.SetDefault("storage.db.health_check_period", "30s")
	v.SetDefault("storage.db.query_timeout", "2s")

	v.SetDefault("sentry.dsn", "")
	v.SetDefault("sentry.traces_sample_rate", 0.0)

	v.SetDefault("kafka.enable", false)
	v.SetDefault("kafka.brokers", []string{})
	v.SetDefault("kafka.topic", "auth-audit")

	v.SetDefault("auth.jwt_secret", "")
	v.SetDefault("auth.issuer", "")
	v.SetDefault("auth.audience", "")
	v.SetDefault("auth.access_ttl", "0s")
	v.SetDefault("auth.refresh_ttl", "0s")
	v.SetDefault("auth.password_algorithm", "")
	v.SetDefault("auth.bcrypt_cost", 0)
	v.SetDefault("auth.argon2_time", 0)
	v.SetDefault("auth.argon2_memory", 0)
	v.SetDefault("auth.min_password_score", 0)
	v.SetDefault("auth.revocation_backend", "")
	v.SetDefault("auth.ratelimit_backend", "")
	v.SetDefault("auth.csrf_backend", "")
	v.SetDefault("auth.ip_limit", 0)
	v.SetDefault("auth.user_limit", 0)
	v.SetDefault("auth.endpoint_limit", 0)
	v.SetDefault("auth.ip_window", "0s")
	v.SetDefault("auth.user_window", "0s")
	v.SetDefault("auth.endpoint_window", "0s")
	v.SetDefault("auth.ip_block", "0s")
	v.SetDefault("auth.user_block", "0s")
	v.SetDefault("auth.endpoint_block", "0s")
	v.SetDefault("auth.cookie_domain", "")
	v.SetDefault("auth.revoke_all_on_reuse", true)

	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, err
	}

	if err := cfg.check(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) check() error {
	switch c.Storage.Driver {
	case "memory":
	case "postgres":
		if c.Storage.DB.URL == "" {
			return ErrConfig("storage.db.url is required for the postgres driver")
		}
	default:
		return ErrConfig("unknown storage.driver " + c.Storage.Driver)
	}
	if c.Kafka.Enable && len(c.Kafka.Brokers) == 0 {
		return ErrConfig("kafka.brokers is required when kafka is enabled")
	}
	return nil
}
