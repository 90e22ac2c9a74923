package ratelimit

import (
	"errors"
	"fmt"
	"time"
)

const (
	// StandardMaxWarnings is the number of window breaches tolerated on IP and
	// user keys before a block.
	StandardMaxWarnings = 3
	// SensitiveMaxWarnings blocks sensitive endpoints on the first breach.
	SensitiveMaxWarnings = 1
)

// Outcome classifies a Decision.
type Outcome uint8

const (
	// Allowed means the request is within its window.
	Allowed Outcome = iota
	// Warned means the window is exceeded but the key is not blocked yet.
	Warned
	// Blocked means the key is blocked until Decision.ResetAt.
	Blocked
)

func (o Outcome) String() string {
	switch o {
	case Allowed:
		return "allowed"
	case Warned:
		return "warned"
	case Blocked:
		return "blocked"
	default:
		return "unknown"
	}
}

// Decision is the result of evaluating one request.
type Decision struct {
	Outcome    Outcome
	Limit      int
	Remaining  int
	ResetAt    time.Time
	RetryAfter time.Duration
}

// Allowed reports whether the request may proceed. Warned requests are
// rejected.
func (d Decision) Allowed() bool { return d.Outcome == Allowed }

// ErrRateLimited is matched by every *LimitError.
var ErrRateLimited = errors.New("rate limit exceeded")

// LimitError carries the rejecting Decision.
type LimitError struct {
	Decision Decision
}

func (e *LimitError) Error() string {
	return fmt.Sprintf("rate limit exceeded (%s, retry after %s)", e.Decision.Outcome, e.Decision.RetryAfter)
}

func (e *LimitError) Is(target error) bool { return target == ErrRateLimited }

// Err returns nil for allowed decisions and a *LimitError otherwise.
func (d Decision) Err() error {
	if d.Allowed() {
		return nil
	}
	return &LimitError{Decision: d}
}

// Rule is the configuration of one keyspace.
type Rule struct {
	Limit         int
	Window        time.Duration
	BlockDuration time.Duration
}

func (r Rule) validate(name string) error {
	if r.Limit <= 0 {
		return fmt.Errorf("%s: limit must be > 0", name)
	}
	if r.Window <= 0 {
		return fmt.Errorf("%s: window must be > 0", name)
	}
	if r.BlockDuration <= 0 {
		return fmt.Errorf("%s: block duration must be > 0", name)
	}
	return nil
}

// Policy adds escalation to a Window: each request past the limit is a
// warning, and MaxWarnings warnings within one window block the key for
// BlockDuration.
type Policy struct {
	Window        Window
	MaxWarnings   int
	BlockDuration time.Duration
}

// Standard returns the policy used for IP, user and non-sensitive endpoint keys.
func Standard(r Rule) Policy {
	return Policy{
		Window:        Window{Limit: r.Limit, Length: r.Window},
		MaxWarnings:   StandardMaxWarnings,
		BlockDuration: r.BlockDuration,
	}
}

// Sensitive returns the policy used for endpoints such as login that block on
// the first breach.
func Sensitive(r Rule) Policy {
	p := Standard(r)
	p.MaxWarnings = SensitiveMaxWarnings
	return p
}

// Evaluate applies one request at now to r and returns the decision. r is
// mutated in place.
func (p Policy) Evaluate(r *Record, now time.Time) Decision {
	if r.Blocked {
		if now.Before(r.BlockUntil) {
			return Decision{
				Outcome:    Blocked,
				Limit:      p.Window.Limit,
				ResetAt:    r.BlockUntil,
				RetryAfter: r.BlockUntil.Sub(now),
			}
		}
		r.Blocked = false
		r.BlockUntil = time.Time{}
	}

	if p.Window.Rolled(r, now) {
		r.WarningCount = 0
	}

	if !p.Window.Count(r, now) {
		return Decision{
			Outcome:   Allowed,
			Limit:     p.Window.Limit,
			Remaining: p.Window.Remaining(r),
			ResetAt:   r.WindowResetAt,
		}
	}

	r.WarningCount++
	if r.WarningCount >= max(1, p.MaxWarnings) {
		r.Blocked = true
		r.BlockUntil = now.Add(p.BlockDuration)
		return Decision{
			Outcome:    Blocked,
			Limit:      p.Window.Limit,
			ResetAt:    r.BlockUntil,
			RetryAfter: p.BlockDuration,
		}
	}

	return Decision{
		Outcome:    Warned,
		Limit:      p.Window.Limit,
		ResetAt:    r.WindowResetAt,
		RetryAfter: r.WindowResetAt.Sub(now),
	}
}
