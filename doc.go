// Package goGuard is an authentication engine for HTTP services: password
// hashing, JWT access and refresh tokens with rotation and reuse detection,
// token revocation, escalating rate limits and double-submit CSRF tokens.
//
// Build an [Engine] with [New]:
//
//	engine, err := goGuard.New().
//		WithConfig(goGuard.ProductionConfig()).
//		WithRedis(rdb).
//		WithUserStore(users).
//		Build()
//
// Engine methods are safe for concurrent use. Call [Engine.Start] to run the
// background sweeps and [Engine.Close] to stop them and flush audit events.
//
// Errors returned by Engine map to a fixed set of client-facing codes through
// [AsError]; the wrapped cause is never part of the client message.
//
// The middleware and adapters/ginguard packages wire the engine into
// net/http and gin.
package goGuard
