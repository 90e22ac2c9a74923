package ratelimit

import "time"

// Record is the per-key limiter state.
type Record struct {
	Count         int       `json:"count"`
	WindowResetAt time.Time `json:"window_reset_at"`
	Blocked       bool      `json:"blocked"`
	BlockUntil    time.Time `json:"block_until,omitempty"`
	WarningCount  int       `json:"warning_count"`
}

// Expired reports whether the record carries no state that still matters at
// now: its window has elapsed and it is not blocked.
func (r *Record) Expired(now time.Time) bool {
	if r.Blocked && now.Before(r.BlockUntil) {
		return false
	}
	return !now.Before(r.WindowResetAt)
}

// expiry is the instant after which the record can be dropped.
func (r *Record) expiry() time.Time {
	if r.Blocked && r.BlockUntil.After(r.WindowResetAt) {
		return r.BlockUntil
	}
	return r.WindowResetAt
}

// Window is a fixed-window counter allowing Limit requests per Length.
type Window struct {
	Limit  int
	Length time.Duration
}

// Rolled reports whether the record's window has elapsed at now.
func (w Window) Rolled(r *Record, now time.Time) bool {
	return !now.Before(r.WindowResetAt)
}

// Count starts a new window if the current one has elapsed, counts one
// request and reports whether the limit is now exceeded.
func (w Window) Count(r *Record, now time.Time) (exceeded bool) {
	if w.Rolled(r, now) {
		r.Count = 0
		r.WindowResetAt = now.Add(w.Length)
	}
	r.Count++
	return r.Count > w.Limit
}

// Remaining returns how many requests are left in the current window.
func (w Window) Remaining(r *Record) int {
	return max(0, w.Limit-r.Count)
}
