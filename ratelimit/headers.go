package ratelimit

import (
	"math"
	"net/http"
	"strconv"
)

// Response header names.
const (
	HeaderLimit      = "X-RateLimit-Limit"
	HeaderRemaining  = "X-RateLimit-Remaining"
	HeaderReset      = "X-RateLimit-Reset"
	HeaderRetryAfter = "Retry-After"
)

// WriteHeaders sets the rate-limit headers for d on h. Retry-After is only set
// on rejected decisions and is rounded up to whole seconds.
func WriteHeaders(h http.Header, d Decision) {
	h.Set(HeaderLimit, strconv.Itoa(d.Limit))
	h.Set(HeaderRemaining, strconv.Itoa(d.Remaining))
	h.Set(HeaderReset, strconv.FormatInt(d.ResetAt.Unix(), 10))
	if d.Allowed() {
		h.Del(HeaderRetryAfter)
		return
	}
	h.Set(HeaderRetryAfter, strconv.FormatInt(int64(math.Ceil(d.RetryAfter.Seconds())), 10))
}
