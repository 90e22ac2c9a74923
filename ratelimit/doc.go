// Package ratelimit implements fixed-window request limiting with escalating
// blocks over three keyspaces: client IP, authenticated user and
// endpoint+identifier.
//
// The pieces compose bottom-up. [Window] is a pure fixed-window counter.
// [Policy] wraps a Window with warning and block escalation and produces a
// [Decision]. A [Store] applies a Policy to a [Record] atomically per key, and
// [Limiter] maps requests onto keys and policies.
package ratelimit
