package goGuard

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"

	"github.com/MrEthical07/goGuard/csrf"
	"github.com/MrEthical07/goGuard/internal/audit"
	"github.com/MrEthical07/goGuard/internal/sweeper"
	"github.com/MrEthical07/goGuard/jwt"
	"github.com/MrEthical07/goGuard/password"
	"github.com/MrEthical07/goGuard/ratelimit"
	"github.com/MrEthical07/goGuard/revocation"
)

// Engine is the authentication service. It is immutable after Build and safe
// for concurrent use.
type Engine struct {
	config      Config
	users       UserStore
	passwords   *password.Manager
	dummyHash   string
	issuer      *jwt.Issuer
	revocations revocation.Store
	limiter     *ratelimit.Limiter
	csrf        *csrf.Guard
	validate    *validator.Validate
	audit       *audit.Dispatcher
	metrics     *Metrics
	sweeper     *sweeper.Runner
	log         *zap.Logger
	now         func() time.Time
}

// Start launches the background sweepers. They stop when ctx is done or
// Close is called.
func (e *Engine) Start(ctx context.Context) {
	if e == nil || e.sweeper == nil {
		return
	}
	e.sweeper.Start(ctx)
}

// Close stops the sweepers and drains the audit dispatcher.
func (e *Engine) Close() {
	if e == nil {
		return
	}
	if e.sweeper != nil {
		e.sweeper.Stop()
	}
	if e.audit != nil {
		e.audit.Close()
	}
}

// Config returns a copy of the configuration the Engine was built with.
func (e *Engine) Config() Config { return cloneConfig(e.config) }

// RateLimiter returns the limiter, or nil when rate limiting is disabled.
func (e *Engine) RateLimiter() *ratelimit.Limiter { return e.limiter }

// CSRF returns the CSRF guard, or nil when CSRF protection is disabled.
func (e *Engine) CSRF() *csrf.Guard { return e.csrf }

// Metrics returns the engine counters.
func (e *Engine) Metrics() *Metrics { return e.metrics }

// Logger returns the engine logger.
func (e *Engine) Logger() *zap.Logger { return e.log }

// AuditDropped returns the number of audit events lost to backpressure.
func (e *Engine) AuditDropped() uint64 {
	if e == nil || e.audit == nil {
		return 0
	}
	return e.audit.Dropped()
}

// MetricsSnapshot copies every counter.
func (e *Engine) MetricsSnapshot() MetricsSnapshot {
	if e == nil || e.metrics == nil {
		return MetricsSnapshot{
			Counters:   map[MetricID]uint64{},
			Histograms: map[MetricID][]uint64{},
		}
	}
	return e.metrics.Snapshot()
}

func (e *Engine) metricInc(id MetricID) {
	if e == nil || e.metrics == nil {
		return
	}
	e.metrics.Inc(id)
}

func (e *Engine) onSweep(task string, removed int, err error) {
	if err != nil {
		e.metricInc(MetricCleanupFailure)
		return
	}
	if task == "revocation" && removed > 0 {
		e.metrics.Add(MetricRevocationPurged, uint64(removed))
	}
}

// Login verifies username and password and issues a token pair in a new
// family. An unknown user and a wrong password both yield
// ErrInvalidCredentials after one hash verification.
func (e *Engine) Login(ctx context.Context, username, plain string) (*LoginResult, error) {
	if e == nil || e.passwords == nil {
		return nil, ErrEngineNotReady
	}

	user, err := e.users.GetUserByUsername(ctx, username)
	if err != nil {
		if !errors.Is(err, ErrUserNotFound) {
			return nil, fmt.Errorf("login: lookup user: %w", err)
		}
		_, _ = e.passwords.Verify(plain, e.dummyHash)
		e.loginFailed(ctx, "", username, "user_not_found")
		return nil, ErrInvalidCredentials
	}

	ok, err := e.passwords.Verify(plain, user.PasswordHash)
	if err != nil {
		e.log.Error("stored password hash unreadable", zap.String("user_id", user.ID), zap.Error(err))
		e.loginFailed(ctx, user.ID, username, "hash_unreadable")
		return nil, ErrInvalidCredentials
	}
	if !ok {
		e.loginFailed(ctx, user.ID, username, "password_mismatch")
		return nil, ErrInvalidCredentials
	}

	if e.config.Password.UpgradeOnLogin {
		e.upgradeHash(ctx, user, plain)
	}

	pair, refresh, err := e.issuePair(ctx, user, "")
	if err != nil {
		e.metricInc(MetricLoginFailure)
		return nil, fmt.Errorf("login: %w", err)
	}

	e.metricInc(MetricLoginSuccess)
	e.emitAudit(ctx, auditEventLoginSuccess, true, user.ID, refresh.ID, refresh.FamilyID, nil, nil)
	return &LoginResult{TokenPair: *pair, User: user.Public()}, nil
}

func (e *Engine) loginFailed(ctx context.Context, userID, username, reason string) {
	e.metricInc(MetricLoginFailure)
	e.emitAudit(ctx, auditEventLoginFailure, false, userID, "", "", ErrInvalidCredentials, func() map[string]string {
		return map[string]string{
			"identifier": username,
			"reason":     reason,
		}
	})
}

// upgradeHash re-hashes plain with the current parameters. It never fails the
// login that triggered it.
func (e *Engine) upgradeHash(ctx context.Context, user UserRecord, plain string) {
	stale, err := e.passwords.NeedsRehash(user.PasswordHash)
	if err != nil || !stale {
		return
	}
	upgraded, err := e.passwords.Hash(plain)
	if err != nil {
		e.log.Warn("password rehash failed", zap.String("user_id", user.ID), zap.Error(err))
		return
	}
	if err := e.users.UpdatePasswordHash(ctx, user.ID, upgraded); err != nil {
		e.log.Warn("password rehash not stored", zap.String("user_id", user.ID), zap.Error(err))
		return
	}
	e.metricInc(MetricPasswordRehash)
}

// issuePair signs an access and a refresh token and records the refresh
// token. An empty familyID starts a new family.
func (e *Engine) issuePair(ctx context.Context, user UserRecord, familyID string) (*TokenPair, *jwt.RefreshClaims, error) {
	access, ac, err := e.issuer.IssueAccess(jwt.AccessInput{UserID: user.ID, Roles: user.Roles})
	if err != nil {
		return nil, nil, err
	}
	refresh, rc, err := e.issuer.IssueRefresh(jwt.RefreshInput{UserID: user.ID, FamilyID: familyID})
	if err != nil {
		return nil, nil, err
	}
	if err := e.revocations.Record(ctx, user.ID, rc.ID, rc.ExpiresAt); err != nil {
		return nil, nil, fmt.Errorf("record refresh token: %w", err)
	}
	return &TokenPair{
		AccessToken:      access,
		RefreshToken:     refresh,
		TokenType:        "Bearer",
		AccessExpiresAt:  ac.ExpiresAt,
		RefreshExpiresAt: rc.ExpiresAt,
	}, rc, nil
}

// Refresh rotates a refresh token: the presented token is revoked and a new
// pair in the same family is issued. Every failure returns ErrRefreshInvalid.
//
// Presenting a token that is already revoked is treated as reuse of a stolen
// token; with Security.RevokeAllOnRefreshReuse every token of the user is
// revoked. When two calls race on one token, the revocation compare-and-set
// lets exactly one of them through.
func (e *Engine) Refresh(ctx context.Context, token string) (*TokenPair, error) {
	if e == nil || e.issuer == nil {
		return nil, ErrEngineNotReady
	}

	claims, err := e.issuer.VerifyRefresh(token)
	if err != nil {
		return nil, e.refreshFailed(ctx, nil, "verify_failed", err)
	}

	revoked, err := e.revocations.IsRevoked(ctx, claims.ID)
	if err != nil {
		return nil, e.refreshFailed(ctx, claims, "store_unavailable", err)
	}
	if revoked {
		e.refreshReused(ctx, claims)
		return nil, ErrRefreshInvalid
	}

	user, err := e.users.GetUser(ctx, claims.Subject)
	if err != nil {
		return nil, e.refreshFailed(ctx, claims, "user_lookup_failed", err)
	}

	won, err := e.revocations.Revoke(ctx, claims.ID, revocation.ReasonRotation)
	if err != nil {
		return nil, e.refreshFailed(ctx, claims, "store_unavailable", err)
	}
	if !won {
		return nil, e.refreshFailed(ctx, claims, "concurrent_rotation", nil)
	}

	pair, next, err := e.issuePair(ctx, user, claims.FamilyID)
	if err != nil {
		return nil, e.refreshFailed(ctx, claims, "issue_failed", err)
	}

	e.metricInc(MetricRefreshSuccess)
	e.emitAudit(ctx, auditEventRefreshSuccess, true, user.ID, next.ID, next.FamilyID, nil, func() map[string]string {
		return map[string]string{"previous_token_id": claims.ID}
	})
	return pair, nil
}

func (e *Engine) refreshFailed(ctx context.Context, claims *jwt.RefreshClaims, reason string, cause error) error {
	var userID, tokenID, familyID string
	if claims != nil {
		userID, tokenID, familyID = claims.Subject, claims.ID, claims.FamilyID
	}
	if errors.Is(cause, revocation.ErrUnavailable) {
		e.log.Error("refresh failed", zap.String("reason", reason), zap.Error(cause))
	} else {
		e.log.Debug("refresh rejected", zap.String("reason", reason), zap.Error(cause))
	}

	e.metricInc(MetricRefreshFailure)
	e.emitAudit(ctx, auditEventRefreshInvalid, false, userID, tokenID, familyID, ErrRefreshInvalid, func() map[string]string {
		return map[string]string{"reason": reason}
	})
	return ErrRefreshInvalid
}

func (e *Engine) refreshReused(ctx context.Context, claims *jwt.RefreshClaims) {
	e.metricInc(MetricRefreshFailure)
	e.metricInc(MetricRefreshReuseDetected)

	revoked := 0
	if e.config.Security.RevokeAllOnRefreshReuse {
		n, err := e.revocations.RevokeAll(ctx, claims.Subject, revocation.ReasonReuse)
		if err != nil {
			e.log.Error("revoke after refresh reuse failed", zap.String("user_id", claims.Subject), zap.Error(err))
		}
		revoked = n
		e.metrics.Add(MetricTokensRevoked, uint64(n))
	}
	e.log.Warn("refresh token reuse detected",
		zap.String("user_id", claims.Subject),
		zap.String("family_id", claims.FamilyID),
		zap.Int("revoked", revoked),
	)
	e.emitAudit(ctx, auditEventRefreshReuseDetected, false, claims.Subject, claims.ID, claims.FamilyID, ErrRefreshInvalid, func() map[string]string {
		return map[string]string{"revoked": fmt.Sprint(revoked)}
	})
}

// Logout revokes a refresh token. It always succeeds: a token that does not
// verify is already unusable, and store failures are only logged.
func (e *Engine) Logout(ctx context.Context, token string) error {
	if e == nil || e.issuer == nil {
		return nil
	}
	claims, err := e.issuer.VerifyRefresh(token)
	if err != nil {
		e.emitAudit(ctx, auditEventLogout, true, "", "", "", nil, func() map[string]string {
			return map[string]string{"reason": "token_not_verified"}
		})
		return nil
	}

	if _, err := e.revocations.Revoke(ctx, claims.ID, revocation.ReasonLogout); err != nil {
		e.log.Warn("logout revoke failed", zap.String("user_id", claims.Subject), zap.Error(err))
	}
	e.metricInc(MetricLogout)
	e.emitAudit(ctx, auditEventLogout, true, claims.Subject, claims.ID, claims.FamilyID, nil, nil)
	return nil
}

// RevokeToken revokes one token id, typically the access token of the caller
// at logout. It reports whether this call performed the revocation.
func (e *Engine) RevokeToken(ctx context.Context, tokenID string, reason revocation.Reason) (bool, error) {
	if tokenID == "" {
		return false, nil
	}
	return e.revocations.Revoke(ctx, tokenID, reason)
}

// RevokeAllUserTokens revokes every recorded token of userID and drops its
// CSRF tokens. It returns the number of tokens revoked by this call.
func (e *Engine) RevokeAllUserTokens(ctx context.Context, userID string, reason revocation.Reason) (int, error) {
	if userID == "" {
		return 0, validationError("User id is required", nil)
	}
	n, err := e.revocations.RevokeAll(ctx, userID, reason)
	if err != nil {
		return 0, fmt.Errorf("revoke all: %w", err)
	}
	if e.csrf != nil {
		if err := e.csrf.Revoke(ctx, userID); err != nil {
			e.log.Warn("csrf revoke failed", zap.String("user_id", userID), zap.Error(err))
		}
	}

	e.metricInc(MetricRevokeAll)
	e.metrics.Add(MetricTokensRevoked, uint64(n))
	e.emitAudit(ctx, auditEventRevokeAll, true, userID, "", "", nil, func() map[string]string {
		return map[string]string{
			"reason":  string(reason),
			"revoked": fmt.Sprint(n),
		}
	})
	return n, nil
}

// ValidateAccess verifies an access token and checks that its id has not
// been revoked.
func (e *Engine) ValidateAccess(ctx context.Context, token string) (*Principal, error) {
	if e == nil || e.issuer == nil {
		return nil, ErrEngineNotReady
	}
	if e.metrics.LatencyEnabled() {
		start := time.Now()
		defer func() { e.metrics.Observe(MetricValidateLatency, time.Since(start)) }()
	}

	claims, err := e.issuer.VerifyAccess(token)
	if err != nil {
		e.metricInc(MetricValidateFailure)
		return nil, err
	}
	revoked, err := e.revocations.IsRevoked(ctx, claims.ID)
	if err != nil {
		e.metricInc(MetricValidateFailure)
		return nil, fmt.Errorf("validate: %w", err)
	}
	if revoked {
		e.metricInc(MetricValidateFailure)
		return nil, ErrTokenRevoked
	}

	e.metricInc(MetricValidateSuccess)
	return &Principal{
		UserID:    claims.Subject,
		Roles:     append([]string(nil), claims.Roles...),
		TokenID:   claims.ID,
		ExpiresAt: claims.ExpiresAt,
	}, nil
}
