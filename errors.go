package goGuard

import (
	"errors"
	"net/http"

	"github.com/MrEthical07/goGuard/csrf"
	"github.com/MrEthical07/goGuard/jwt"
	"github.com/MrEthical07/goGuard/ratelimit"
)

var (
	// ErrInvalidCredentials is returned by Login for an unknown user and for a
	// wrong password alike.
	ErrInvalidCredentials = errors.New("invalid username or password")
	// ErrRefreshInvalid is the only error Refresh returns to callers.
	ErrRefreshInvalid = errors.New("refresh token invalid")
	// ErrTokenRevoked is returned by ValidateAccess for a revoked access token.
	ErrTokenRevoked = errors.New("token revoked")
	// ErrUnauthorized means no credentials were presented.
	ErrUnauthorized = errors.New("unauthorized")
	// ErrPermissionDenied means the principal lacks a required role.
	ErrPermissionDenied = errors.New("permission denied")

	ErrUserNotFound  = errors.New("user not found")
	ErrUsernameTaken = errors.New("username already exists")
	ErrEmailTaken    = errors.New("email already exists")

	ErrValidation    = errors.New("validation failed")
	ErrWeakPassword  = errors.New("password too weak")
	ErrPasswordReuse = errors.New("new password must be different from current password")

	ErrEngineNotReady = errors.New("engine not initialized")
)

const refreshInvalidMessage = "Invalid refresh token. Please log in again."

// ErrorKind classifies errors that cross the HTTP boundary.
type ErrorKind uint8

const (
	KindServerError ErrorKind = iota
	KindAuthenticationFailed
	KindTokenExpired
	KindTokenInvalid
	KindTokenRevoked
	KindPermissionDenied
	KindValidationError
	KindRateLimitExceeded
	KindCsrfError
)

// Code returns the wire code of k.
func (k ErrorKind) Code() string {
	switch k {
	case KindAuthenticationFailed:
		return "AUTHENTICATION_FAILED"
	case KindTokenExpired:
		return "TOKEN_EXPIRED"
	case KindTokenInvalid:
		return "INVALID_TOKEN"
	case KindTokenRevoked:
		return "TOKEN_REVOKED"
	case KindPermissionDenied:
		return "PERMISSION_DENIED"
	case KindValidationError:
		return "VALIDATION_ERROR"
	case KindRateLimitExceeded:
		return "RATE_LIMIT_EXCEEDED"
	case KindCsrfError:
		return "CSRF_ERROR"
	default:
		return "SERVER_ERROR"
	}
}

// Status returns the HTTP status of k.
func (k ErrorKind) Status() int {
	switch k {
	case KindAuthenticationFailed, KindTokenExpired, KindTokenInvalid, KindTokenRevoked:
		return http.StatusUnauthorized
	case KindPermissionDenied, KindCsrfError:
		return http.StatusForbidden
	case KindValidationError:
		return http.StatusBadRequest
	case KindRateLimitExceeded:
		return http.StatusTooManyRequests
	default:
		return http.StatusInternalServerError
	}
}

// Error is a client-facing error. Message is safe to show; Err is the cause
// and is never rendered.
type Error struct {
	Kind    ErrorKind
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return e.Message + ": " + e.Err.Error()
	}
	return e.Message
}

func (e *Error) Unwrap() error { return e.Err }

// Code returns the wire code.
func (e *Error) Code() string { return e.Kind.Code() }

// Status returns the HTTP status.
func (e *Error) Status() int { return e.Kind.Status() }

// Expected reports whether the error is part of normal operation, as opposed
// to a fault that must be logged.
func (e *Error) Expected() bool { return e.Kind != KindServerError }

func validationError(message string, err error) *Error {
	if err == nil {
		err = ErrValidation
	}
	return &Error{Kind: KindValidationError, Message: message, Err: err}
}

// AsError maps err to its client-facing form. Errors it does not recognise
// become a generic server error.
func AsError(err error) *Error {
	if err == nil {
		return nil
	}
	var e *Error
	if errors.As(err, &e) {
		return e
	}

	switch {
	case errors.Is(err, ErrInvalidCredentials):
		return &Error{Kind: KindAuthenticationFailed, Message: "Invalid username or password", Err: err}
	case errors.Is(err, ErrRefreshInvalid):
		return &Error{Kind: KindTokenInvalid, Message: refreshInvalidMessage, Err: err}
	case errors.Is(err, ErrUnauthorized):
		return &Error{Kind: KindAuthenticationFailed, Message: "Authentication required", Err: err}
	case errors.Is(err, ErrTokenRevoked):
		return &Error{Kind: KindTokenRevoked, Message: "Token has been revoked", Err: err}
	case errors.Is(err, jwt.ErrTokenExpired):
		return &Error{Kind: KindTokenExpired, Message: "Token has expired", Err: err}
	case errors.Is(err, jwt.ErrTokenInvalid):
		return &Error{Kind: KindTokenInvalid, Message: "Invalid token", Err: err}
	case errors.Is(err, ErrPermissionDenied):
		return &Error{Kind: KindPermissionDenied, Message: "Permission denied", Err: err}
	case errors.Is(err, ratelimit.ErrRateLimited):
		return &Error{Kind: KindRateLimitExceeded, Message: "Too many requests, please try again later", Err: err}
	case errors.Is(err, csrf.ErrCSRF):
		return &Error{Kind: KindCsrfError, Message: "Invalid CSRF token", Err: err}
	case errors.Is(err, ErrUsernameTaken):
		return validationError("Username already exists", err)
	case errors.Is(err, ErrEmailTaken):
		return validationError("Email already exists", err)
	case errors.Is(err, ErrWeakPassword):
		return validationError("Password is too weak", err)
	case errors.Is(err, ErrPasswordReuse):
		return validationError("New password must be different from current password", err)
	case errors.Is(err, ErrValidation):
		return validationError("Invalid request", err)
	default:
		return &Error{Kind: KindServerError, Message: "Internal server error", Err: err}
	}
}
