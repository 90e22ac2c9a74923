// Package jwt issues and verifies the access and refresh tokens used by goGuard.
//
// Tokens carry a type tag and are decoded into one of two claim shapes,
// [AccessClaims] or [RefreshClaims]. Anything else is rejected with
// [ErrTokenInvalid], as is a token of the wrong type for the verifying call.
// Expired tokens fail with [ErrTokenExpired].
package jwt
