package ratelimit

import (
	"context"
	"errors"
	"strings"
	"time"
)

// DefaultSensitiveEndpoints block on the first window breach.
var DefaultSensitiveEndpoints = []string{"login", "register", "password-reset", "refresh"}

// Config configures a Limiter. Endpoint applies to every endpoint key;
// endpoints listed in SensitiveEndpoints use it with the sensitive policy.
type Config struct {
	IP                 Rule
	User               Rule
	Endpoint           Rule
	SensitiveEndpoints []string
	Now                func() time.Time
}

// Validate checks every rule.
func (c Config) Validate() error {
	return errors.Join(
		c.IP.validate("ip"),
		c.User.validate("user"),
		c.Endpoint.validate("endpoint"),
	)
}

// Limiter evaluates requests against the three keyspaces.
type Limiter struct {
	store     Store
	now       func() time.Time
	ip        Policy
	user      Policy
	endpoint  Policy
	sensitive Policy
	sensSet   map[string]struct{}
}

// New validates cfg and returns a Limiter over store.
func New(store Store, cfg Config) (*Limiter, error) {
	if store == nil {
		return nil, errors.New("ratelimit: nil store")
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	now := cfg.Now
	if now == nil {
		now = time.Now
	}

	endpoints := cfg.SensitiveEndpoints
	if endpoints == nil {
		endpoints = DefaultSensitiveEndpoints
	}
	sens := make(map[string]struct{}, len(endpoints))
	for _, ep := range endpoints {
		sens[strings.ToLower(ep)] = struct{}{}
	}

	return &Limiter{
		store:     store,
		now:       now,
		ip:        Standard(cfg.IP),
		user:      Standard(cfg.User),
		endpoint:  Standard(cfg.Endpoint),
		sensitive: Sensitive(cfg.Endpoint),
		sensSet:   sens,
	}, nil
}

func (l *Limiter) check(ctx context.Context, key string, p Policy) (Decision, error) {
	var d Decision
	err := l.store.Update(ctx, key, func(r *Record) {
		d = p.Evaluate(r, l.now())
	})
	if err != nil {
		return Decision{}, err
	}
	return d, nil
}

// CheckIP counts one request from ip.
func (l *Limiter) CheckIP(ctx context.Context, ip string) (Decision, error) {
	return l.check(ctx, "ip:"+ip, l.ip)
}

// CheckUser counts one request from an authenticated user.
func (l *Limiter) CheckUser(ctx context.Context, userID string) (Decision, error) {
	return l.check(ctx, "user:"+userID, l.user)
}

// CheckEndpoint counts one request to endpoint by identifier, typically a
// username or IP.
func (l *Limiter) CheckEndpoint(ctx context.Context, endpoint, identifier string) (Decision, error) {
	endpoint = strings.ToLower(endpoint)
	p := l.endpoint
	if l.IsSensitive(endpoint) {
		p = l.sensitive
	}
	return l.check(ctx, "endpoint:"+endpoint+":"+identifier, p)
}

// IsSensitive reports whether endpoint uses the block-on-first-breach policy.
func (l *Limiter) IsSensitive(endpoint string) bool {
	_, ok := l.sensSet[strings.ToLower(endpoint)]
	return ok
}

// Sweep removes expired records from the store.
func (l *Limiter) Sweep(ctx context.Context) (int, error) {
	return l.store.Sweep(ctx)
}
