// Package middleware adapts a goGuard.Engine to net/http.
//
// # Guards
//
//   - [Guard.ClientIP] records the caller address and user agent.
//   - [Guard.RateLimitIP], [Guard.RateLimitUser], [Guard.RateLimitEndpoint]
//     apply the engine rate limiter and set X-RateLimit-* headers.
//   - [Guard.Authenticate] validates an optional bearer access token.
//     [Guard.Identify] does the same but ignores a bearer that fails.
//   - [Guard.RequireAuth] and [Guard.RequireRole] reject anonymous or
//     under-privileged callers.
//   - [Guard.CSRF] enforces the double-submit token.
//   - [Guard.Protect] chains the above in the standard order.
//   - [Guard.Public] is the pipeline for login, refresh and logout routes:
//     IP limit and Identify, no CSRF.
//
// Every rejection is written by [Guard.WriteError] as {"message", "code"}
// with the status of the matching goGuard.ErrorKind.
//
// This package does not parse tokens or touch stores itself; every decision
// is delegated to the Engine.
package middleware
