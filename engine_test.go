package goGuard_test

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"sync"
	"testing"
	"time"

	goGuard "github.com/MrEthical07/goGuard"
	"github.com/MrEthical07/goGuard/jwt"
	"github.com/MrEthical07/goGuard/password"
	"github.com/MrEthical07/goGuard/revocation"
)

func TestRegisterLoginRefreshFlow(t *testing.T) {
	te := newTestEngine(t)
	ctx := context.Background()

	user := te.registerAlice(t)
	if user.ID == "" || user.Username != "alice" {
		t.Fatalf("unexpected user: %+v", user)
	}
	if len(user.Roles) != 1 || user.Roles[0] != "user" {
		t.Fatalf("expected default roles, got %v", user.Roles)
	}

	res := te.loginAlice(t)
	if res.AccessToken == "" || res.RefreshToken == "" {
		t.Fatal("expected both tokens")
	}
	if res.User.ID != user.ID || res.User.Username != "alice" {
		t.Fatalf("unexpected login user: %+v", res.User)
	}

	p, err := te.ValidateAccess(ctx, res.AccessToken)
	if err != nil {
		t.Fatalf("validate: %v", err)
	}
	if p.UserID != user.ID || !p.HasRole("user") {
		t.Fatalf("unexpected principal: %+v", p)
	}

	next, err := te.Refresh(ctx, res.RefreshToken)
	if err != nil {
		t.Fatalf("first refresh: %v", err)
	}
	if next.RefreshToken == res.RefreshToken {
		t.Fatal("refresh token was not rotated")
	}

	_, err = te.Refresh(ctx, res.RefreshToken)
	if !errors.Is(err, goGuard.ErrRefreshInvalid) {
		t.Fatalf("expected ErrRefreshInvalid, got %v", err)
	}
	if msg := goGuard.AsError(err).Message; msg != "Invalid refresh token. Please log in again." {
		t.Fatalf("unexpected message %q", msg)
	}
}

func TestStoredUserNeverExposesHash(t *testing.T) {
	te := newTestEngine(t)
	u := te.registerAlice(t)

	rec, err := te.store.GetUser(context.Background(), u.ID)
	if err != nil {
		t.Fatalf("get user: %v", err)
	}
	if !strings.HasPrefix(rec.PasswordHash, "$argon2id$") {
		t.Fatalf("expected argon2id hash, got %q", rec.PasswordHash)
	}
	if strings.Contains(rec.PasswordHash, alicePassword) {
		t.Fatal("plaintext password stored")
	}
}

func TestLoginFailuresAreGeneric(t *testing.T) {
	te := newTestEngine(t)
	te.registerAlice(t)
	ctx := context.Background()

	_, unknownErr := te.Login(ctx, "mallory", alicePassword)
	_, wrongErr := te.Login(ctx, "alice", "Wrong-Password-1")

	for _, err := range []error{unknownErr, wrongErr} {
		if !errors.Is(err, goGuard.ErrInvalidCredentials) {
			t.Fatalf("expected ErrInvalidCredentials, got %v", err)
		}
	}
	a, b := goGuard.AsError(unknownErr), goGuard.AsError(wrongErr)
	if a.Message != b.Message || a.Code() != b.Code() || a.Status() != http.StatusUnauthorized {
		t.Fatalf("failures differ: %+v vs %+v", a, b)
	}
	if got := te.Metrics().Value(goGuard.MetricLoginFailure); got != 2 {
		t.Fatalf("expected 2 login failures, got %d", got)
	}
}

func TestRegisterRejectsDuplicates(t *testing.T) {
	te := newTestEngine(t)
	te.registerAlice(t)
	ctx := context.Background()

	_, err := te.Register(ctx, goGuard.RegisterInput{Username: "alice", Email: "other@example.com", Password: alicePassword})
	if !errors.Is(err, goGuard.ErrUsernameTaken) {
		t.Fatalf("expected ErrUsernameTaken, got %v", err)
	}
	if e := goGuard.AsError(err); e.Message != "Username already exists" || e.Code() != "VALIDATION_ERROR" {
		t.Fatalf("unexpected error %+v", e)
	}

	_, err = te.Register(ctx, goGuard.RegisterInput{Username: "alice2", Email: "ALICE@example.com", Password: alicePassword})
	if !errors.Is(err, goGuard.ErrEmailTaken) {
		t.Fatalf("expected ErrEmailTaken, got %v", err)
	}
	if e := goGuard.AsError(err); e.Message != "Email already exists" {
		t.Fatalf("unexpected message %q", e.Message)
	}
	if got := te.Metrics().Value(goGuard.MetricRegisterDuplicate); got != 2 {
		t.Fatalf("expected 2 duplicates, got %d", got)
	}
}

func TestRegisterValidation(t *testing.T) {
	te := newTestEngine(t)
	ctx := context.Background()

	tests := []struct {
		name string
		in   goGuard.RegisterInput
		msg  string
	}{
		{
			name: "missing username",
			in:   goGuard.RegisterInput{Email: aliceEmail, Password: alicePassword},
			msg:  "username is required",
		},
		{
			name: "bad email",
			in:   goGuard.RegisterInput{Username: "alice", Email: "not-an-email", Password: alicePassword},
			msg:  "email must be a valid email address",
		},
		{
			name: "short password",
			in:   goGuard.RegisterInput{Username: "alice", Email: aliceEmail, Password: "Ab1!"},
			msg:  "password must be at least 8 characters",
		},
		{
			name: "username charset",
			in:   goGuard.RegisterInput{Username: "al ice", Email: aliceEmail, Password: alicePassword},
			msg:  "username may only contain letters and digits",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := te.Register(ctx, tt.in)
			if !errors.Is(err, goGuard.ErrValidation) {
				t.Fatalf("expected ErrValidation, got %v", err)
			}
			e := goGuard.AsError(err)
			if e.Message != tt.msg || e.Status() != http.StatusBadRequest {
				t.Fatalf("got %q (%d), want %q", e.Message, e.Status(), tt.msg)
			}
		})
	}

	_, err := te.Register(ctx, goGuard.RegisterInput{Username: "alice", Email: aliceEmail, Password: "password123"})
	if !errors.Is(err, goGuard.ErrWeakPassword) {
		t.Fatalf("expected ErrWeakPassword, got %v", err)
	}
}

func TestRegisterKeepsExplicitRoles(t *testing.T) {
	te := newTestEngine(t)
	u, err := te.Register(context.Background(), goGuard.RegisterInput{
		Username: "root",
		Email:    "root@example.com",
		Password: alicePassword,
		Roles:    []string{"admin", "user"},
	})
	if err != nil {
		t.Fatalf("register: %v", err)
	}
	if len(u.Roles) != 2 || u.Roles[0] != "admin" {
		t.Fatalf("unexpected roles %v", u.Roles)
	}
}

func TestRefreshConcurrencySingleWinner(t *testing.T) {
	for _, backend := range []string{goGuard.BackendMemory, goGuard.BackendRedis, goGuard.BackendDatabase} {
		t.Run(backend, func(t *testing.T) {
			te := newTestEngine(t, withBackend(backend))
			te.registerAlice(t)
			refresh := te.loginAlice(t).RefreshToken

			const n = 16
			var wg sync.WaitGroup
			wg.Add(n)
			results := make(chan error, n)
			for i := 0; i < n; i++ {
				go func() {
					defer wg.Done()
					_, err := te.Refresh(context.Background(), refresh)
					results <- err
				}()
			}
			wg.Wait()
			close(results)

			success, fail := 0, 0
			for err := range results {
				switch {
				case err == nil:
					success++
				case errors.Is(err, goGuard.ErrRefreshInvalid):
					fail++
				default:
					t.Fatalf("unexpected refresh error: %v", err)
				}
			}
			if success != 1 || fail != n-1 {
				t.Fatalf("expected 1 success and %d failures, got %d and %d", n-1, success, fail)
			}
		})
	}
}

func TestRefreshReuseRevokesEveryToken(t *testing.T) {
	te := newTestEngine(t)
	te.registerAlice(t)
	ctx := context.Background()

	first := te.loginAlice(t)
	second, err := te.Refresh(ctx, first.RefreshToken)
	if err != nil {
		t.Fatalf("refresh: %v", err)
	}
	other := te.loginAlice(t)

	if _, err := te.Refresh(ctx, first.RefreshToken); !errors.Is(err, goGuard.ErrRefreshInvalid) {
		t.Fatalf("expected reuse to fail, got %v", err)
	}
	for _, tok := range []string{second.RefreshToken, other.RefreshToken} {
		if _, err := te.Refresh(ctx, tok); !errors.Is(err, goGuard.ErrRefreshInvalid) {
			t.Fatalf("expected token revoked after reuse, got %v", err)
		}
	}
	if got := te.Metrics().Value(goGuard.MetricRefreshReuseDetected); got < 1 {
		t.Fatalf("expected reuse to be counted, got %d", got)
	}
}

func TestRefreshReuseWithoutRevokeAll(t *testing.T) {
	te := newTestEngine(t, withConfig(func(c *goGuard.Config) {
		c.Security.RevokeAllOnRefreshReuse = false
	}))
	te.registerAlice(t)
	ctx := context.Background()

	first := te.loginAlice(t)
	second, err := te.Refresh(ctx, first.RefreshToken)
	if err != nil {
		t.Fatalf("refresh: %v", err)
	}
	if _, err := te.Refresh(ctx, first.RefreshToken); !errors.Is(err, goGuard.ErrRefreshInvalid) {
		t.Fatalf("expected reuse to fail, got %v", err)
	}
	if _, err := te.Refresh(ctx, second.RefreshToken); err != nil {
		t.Fatalf("successor should stay valid: %v", err)
	}
}

func TestRefreshRejectsOtherTokens(t *testing.T) {
	te := newTestEngine(t)
	te.registerAlice(t)
	res := te.loginAlice(t)
	ctx := context.Background()

	for name, tok := range map[string]string{
		"access token": res.AccessToken,
		"garbage":      "not.a.token",
		"empty":        "",
	} {
		if _, err := te.Refresh(ctx, tok); !errors.Is(err, goGuard.ErrRefreshInvalid) {
			t.Fatalf("%s: expected ErrRefreshInvalid, got %v", name, err)
		}
	}
}

func TestRefreshExpired(t *testing.T) {
	te := newTestEngine(t)
	te.registerAlice(t)
	res := te.loginAlice(t)

	te.clock.Advance(te.Config().JWT.RefreshTTL + time.Minute)
	if _, err := te.Refresh(context.Background(), res.RefreshToken); !errors.Is(err, goGuard.ErrRefreshInvalid) {
		t.Fatalf("expected ErrRefreshInvalid, got %v", err)
	}
}

func TestLogoutIsIdempotent(t *testing.T) {
	te := newTestEngine(t)
	te.registerAlice(t)
	res := te.loginAlice(t)
	ctx := context.Background()

	for i := 0; i < 2; i++ {
		if err := te.Logout(ctx, res.RefreshToken); err != nil {
			t.Fatalf("logout %d: %v", i, err)
		}
	}
	if err := te.Logout(ctx, "garbage"); err != nil {
		t.Fatalf("logout with garbage: %v", err)
	}
	if _, err := te.Refresh(ctx, res.RefreshToken); !errors.Is(err, goGuard.ErrRefreshInvalid) {
		t.Fatalf("expected refresh after logout to fail, got %v", err)
	}
}

func TestRevokeAllUserTokens(t *testing.T) {
	te := newTestEngine(t)
	u := te.registerAlice(t)
	ctx := context.Background()

	a := te.loginAlice(t)
	b := te.loginAlice(t)

	n, err := te.RevokeAllUserTokens(ctx, u.ID, revocation.ReasonAdmin)
	if err != nil {
		t.Fatalf("revoke all: %v", err)
	}
	if n != 2 {
		t.Fatalf("expected 2 revoked, got %d", n)
	}
	for _, tok := range []string{a.RefreshToken, b.RefreshToken} {
		if _, err := te.Refresh(ctx, tok); !errors.Is(err, goGuard.ErrRefreshInvalid) {
			t.Fatalf("expected ErrRefreshInvalid, got %v", err)
		}
	}

	n, err = te.RevokeAllUserTokens(ctx, u.ID, revocation.ReasonAdmin)
	if err != nil || n != 0 {
		t.Fatalf("second revoke all: n=%d err=%v", n, err)
	}
}

func TestChangePassword(t *testing.T) {
	te := newTestEngine(t)
	u := te.registerAlice(t)
	res := te.loginAlice(t)
	ctx := context.Background()
	const newPassword = "An0ther-Secret!"

	if err := te.ChangePassword(ctx, u.ID, "Wrong-Password-1", newPassword); !errors.Is(err, goGuard.ErrInvalidCredentials) {
		t.Fatalf("expected ErrInvalidCredentials, got %v", err)
	}
	if err := te.ChangePassword(ctx, u.ID, alicePassword, alicePassword); !errors.Is(err, goGuard.ErrPasswordReuse) {
		t.Fatalf("expected ErrPasswordReuse, got %v", err)
	}
	if err := te.ChangePassword(ctx, u.ID, alicePassword, "weak"); !errors.Is(err, goGuard.ErrWeakPassword) {
		t.Fatalf("expected ErrWeakPassword, got %v", err)
	}

	if err := te.ChangePassword(ctx, u.ID, alicePassword, newPassword); err != nil {
		t.Fatalf("change password: %v", err)
	}
	if _, err := te.Refresh(ctx, res.RefreshToken); !errors.Is(err, goGuard.ErrRefreshInvalid) {
		t.Fatalf("expected refresh token revoked, got %v", err)
	}
	if _, err := te.Login(ctx, "alice", alicePassword); !errors.Is(err, goGuard.ErrInvalidCredentials) {
		t.Fatalf("old password still accepted: %v", err)
	}
	if _, err := te.Login(ctx, "alice", newPassword); err != nil {
		t.Fatalf("login with new password: %v", err)
	}
}

func TestValidateAccess(t *testing.T) {
	te := newTestEngine(t)
	te.registerAlice(t)
	res := te.loginAlice(t)
	ctx := context.Background()

	p, err := te.ValidateAccess(ctx, res.AccessToken)
	if err != nil {
		t.Fatalf("validate: %v", err)
	}

	if _, err := te.ValidateAccess(ctx, res.RefreshToken); !errors.Is(err, jwt.ErrTokenInvalid) {
		t.Fatalf("refresh token accepted as access: %v", err)
	}
	if _, err := te.ValidateAccess(ctx, "garbage"); !errors.Is(err, jwt.ErrTokenInvalid) {
		t.Fatalf("expected ErrTokenInvalid, got %v", err)
	}

	ok, err := te.RevokeToken(ctx, p.TokenID, revocation.ReasonLogout)
	if err != nil || !ok {
		t.Fatalf("revoke access: ok=%v err=%v", ok, err)
	}
	_, err = te.ValidateAccess(ctx, res.AccessToken)
	if !errors.Is(err, goGuard.ErrTokenRevoked) {
		t.Fatalf("expected ErrTokenRevoked, got %v", err)
	}
	if goGuard.AsError(err).Code() != "TOKEN_REVOKED" {
		t.Fatalf("unexpected code %s", goGuard.AsError(err).Code())
	}
}

func TestValidateAccessExpired(t *testing.T) {
	te := newTestEngine(t)
	te.registerAlice(t)
	res := te.loginAlice(t)

	te.clock.Advance(te.Config().JWT.AccessTTL + time.Minute)
	_, err := te.ValidateAccess(context.Background(), res.AccessToken)
	if !errors.Is(err, jwt.ErrTokenExpired) {
		t.Fatalf("expected ErrTokenExpired, got %v", err)
	}
	if e := goGuard.AsError(err); e.Code() != "TOKEN_EXPIRED" || e.Status() != http.StatusUnauthorized {
		t.Fatalf("unexpected mapping %+v", e)
	}
}

func TestLoginUpgradesStaleHash(t *testing.T) {
	te := newTestEngine(t)
	ctx := context.Background()

	legacy, err := password.NewManager(password.Config{Algorithm: password.AlgorithmBcrypt, BcryptCost: 4})
	if err != nil {
		t.Fatalf("bcrypt manager: %v", err)
	}
	hash, err := legacy.Hash(alicePassword)
	if err != nil {
		t.Fatalf("hash: %v", err)
	}
	if _, err := te.store.CreateUser(ctx, goGuard.UserRecord{
		ID: "legacy-1", Username: "alice", Email: aliceEmail, PasswordHash: hash,
	}); err != nil {
		t.Fatalf("create: %v", err)
	}

	te.loginAlice(t)

	rec, err := te.store.GetUser(ctx, "legacy-1")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if !strings.HasPrefix(rec.PasswordHash, "$argon2id$") {
		t.Fatalf("hash not upgraded: %q", rec.PasswordHash)
	}
	if got := te.Metrics().Value(goGuard.MetricPasswordRehash); got != 1 {
		t.Fatalf("expected one rehash, got %d", got)
	}
	te.loginAlice(t)
}

func TestAuditEvents(t *testing.T) {
	sink := goGuard.NewChannelSink(16)
	te := newTestEngine(t, withAuditSink(sink))
	te.registerAlice(t)

	ctx := goGuard.WithUserAgent(goGuard.WithClientIP(context.Background(), "203.0.113.9"), "test-agent")
	if _, err := te.Login(ctx, "alice", "Wrong-Password-1"); err == nil {
		t.Fatal("expected login failure")
	}
	te.Close()

	var failure *goGuard.AuditEvent
	for {
		select {
		case ev := <-sink.Events():
			if ev.EventType == "login_failure" {
				failure = &ev
			}
			continue
		default:
		}
		break
	}
	if failure == nil {
		t.Fatal("login failure not audited")
	}
	if failure.IP != "203.0.113.9" || failure.UserAgent != "test-agent" || failure.Success {
		t.Fatalf("unexpected event %+v", failure)
	}
	if failure.Error != "invalid_credentials" || failure.Metadata["reason"] != "password_mismatch" {
		t.Fatalf("unexpected event %+v", failure)
	}
}
