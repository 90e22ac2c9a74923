package goGuard

import (
	"errors"
	"fmt"
	"net/http"
	"testing"

	"github.com/MrEthical07/goGuard/csrf"
	"github.com/MrEthical07/goGuard/jwt"
	"github.com/MrEthical07/goGuard/ratelimit"
)

func TestAsErrorMapping(t *testing.T) {
	tests := []struct {
		err    error
		code   string
		status int
	}{
		{ErrInvalidCredentials, "AUTHENTICATION_FAILED", http.StatusUnauthorized},
		{ErrUnauthorized, "AUTHENTICATION_FAILED", http.StatusUnauthorized},
		{ErrRefreshInvalid, "INVALID_TOKEN", http.StatusUnauthorized},
		{ErrTokenRevoked, "TOKEN_REVOKED", http.StatusUnauthorized},
		{fmt.Errorf("wrap: %w", jwt.ErrTokenExpired), "TOKEN_EXPIRED", http.StatusUnauthorized},
		{fmt.Errorf("%w: bad signature", jwt.ErrTokenInvalid), "INVALID_TOKEN", http.StatusUnauthorized},
		{ErrPermissionDenied, "PERMISSION_DENIED", http.StatusForbidden},
		{csrf.ErrTokenMismatch, "CSRF_ERROR", http.StatusForbidden},
		{(ratelimit.Decision{Outcome: ratelimit.Blocked}).Err(), "RATE_LIMIT_EXCEEDED", http.StatusTooManyRequests},
		{ErrUsernameTaken, "VALIDATION_ERROR", http.StatusBadRequest},
		{ErrPasswordReuse, "VALIDATION_ERROR", http.StatusBadRequest},
		{errors.New("connection refused"), "SERVER_ERROR", http.StatusInternalServerError},
	}
	for _, tt := range tests {
		e := AsError(tt.err)
		if e.Code() != tt.code || e.Status() != tt.status {
			t.Fatalf("%v: got %s/%d, want %s/%d", tt.err, e.Code(), e.Status(), tt.code, tt.status)
		}
		if !errors.Is(e, tt.err) {
			t.Fatalf("%v: cause lost", tt.err)
		}
	}
}

func TestAsErrorHidesInternalDetail(t *testing.T) {
	e := AsError(errors.New("pq: password authentication failed for user postgres"))
	if e.Message != "Internal server error" || e.Expected() {
		t.Fatalf("unexpected server error %+v", e)
	}
	if AsError(nil) != nil {
		t.Fatal("nil must map to nil")
	}
}

func TestAsErrorKeepsTypedErrors(t *testing.T) {
	orig := validationError("email is required", nil)
	wrapped := fmt.Errorf("register: %w", orig)
	if got := AsError(wrapped); got != orig {
		t.Fatalf("expected the original *Error, got %+v", got)
	}
	if !errors.Is(orig, ErrValidation) {
		t.Fatal("validation errors must wrap ErrValidation")
	}
}
