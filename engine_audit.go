package goGuard

import (
	"context"
	"errors"

	"github.com/MrEthical07/goGuard/csrf"
	"github.com/MrEthical07/goGuard/jwt"
	"github.com/MrEthical07/goGuard/ratelimit"
	"github.com/MrEthical07/goGuard/revocation"
)

const (
	auditEventRegisterSuccess          = "register_success"
	auditEventRegisterFailure          = "register_failure"
	auditEventRegisterDuplicate        = "register_duplicate"
	auditEventLoginSuccess             = "login_success"
	auditEventLoginFailure             = "login_failure"
	auditEventRefreshSuccess           = "refresh_success"
	auditEventRefreshInvalid           = "refresh_invalid"
	auditEventRefreshReuseDetected     = "refresh_reuse_detected"
	auditEventLogout                   = "logout"
	auditEventRevokeAll                = "revoke_all"
	auditEventPasswordChangeSuccess    = "password_change_success"
	auditEventPasswordChangeInvalidOld = "password_change_invalid_old"
	auditEventPasswordChangeReuse      = "password_change_reuse_attempt"
	auditEventRateLimitTriggered       = "rate_limit_triggered"
	auditEventCSRFRejected             = "csrf_rejected"
)

// AuditErrorCode is the stable error label carried by audit events.
type AuditErrorCode string

const (
	auditErrUnauthorized       AuditErrorCode = "unauthorized"
	auditErrInvalidCredentials AuditErrorCode = "invalid_credentials"
	auditErrRefreshInvalid     AuditErrorCode = "refresh_invalid"
	auditErrTokenExpired       AuditErrorCode = "token_expired"
	auditErrInvalidToken       AuditErrorCode = "invalid_token"
	auditErrTokenRevoked       AuditErrorCode = "token_revoked"
	auditErrRateLimited        AuditErrorCode = "rate_limited"
	auditErrCSRF               AuditErrorCode = "csrf"
	auditErrDuplicate          AuditErrorCode = "duplicate"
	auditErrValidation         AuditErrorCode = "validation"
	auditErrPasswordReuse      AuditErrorCode = "password_reuse"
	auditErrUnavailable        AuditErrorCode = "backend_unavailable"
	auditErrInternal           AuditErrorCode = "internal_error"
)

func (e *Engine) emitAudit(
	ctx context.Context,
	eventType string,
	success bool,
	userID string,
	tokenID string,
	familyID string,
	err error,
	metadataBuilder func() map[string]string,
) {
	if e == nil || e.audit == nil {
		return
	}

	var metadata map[string]string
	if metadataBuilder != nil {
		metadata = metadataBuilder()
	}

	event := AuditEvent{
		Timestamp: e.now().UTC(),
		EventType: eventType,
		UserID:    userID,
		TokenID:   tokenID,
		FamilyID:  familyID,
		IP:        ClientIPFromContext(ctx),
		UserAgent: userAgentFromContext(ctx),
		Success:   success,
		Metadata:  metadata,
	}
	if code := auditErrorCode(err); code != "" {
		event.Error = string(code)
	}

	e.audit.Emit(ctx, event)
}

// RecordRateLimit counts a rejected request and audits it. The HTTP layer
// calls it for every non-allowed decision.
func (e *Engine) RecordRateLimit(ctx context.Context, scope, key string, d ratelimit.Decision) {
	e.metricInc(MetricRateLimitHit)
	if d.Outcome == ratelimit.Blocked {
		e.metricInc(MetricRateLimitBlocked)
	}
	e.emitAudit(ctx, auditEventRateLimitTriggered, false, "", "", "", ratelimit.ErrRateLimited, func() map[string]string {
		return map[string]string{
			"scope":   scope,
			"key":     key,
			"outcome": d.Outcome.String(),
		}
	})
}

// RecordCSRFFailure counts a rejected CSRF check and audits it.
func (e *Engine) RecordCSRFFailure(ctx context.Context, userID string, err error) {
	e.metricInc(MetricCSRFFailure)
	e.emitAudit(ctx, auditEventCSRFRejected, false, userID, "", "", err, func() map[string]string {
		return map[string]string{"detail": err.Error()}
	})
}

func auditErrorCode(err error) AuditErrorCode {
	if err == nil {
		return ""
	}

	switch {
	case errors.Is(err, ErrUnauthorized):
		return auditErrUnauthorized
	case errors.Is(err, ErrInvalidCredentials):
		return auditErrInvalidCredentials
	case errors.Is(err, ErrRefreshInvalid):
		return auditErrRefreshInvalid
	case errors.Is(err, ErrTokenRevoked):
		return auditErrTokenRevoked
	case errors.Is(err, jwt.ErrTokenExpired):
		return auditErrTokenExpired
	case errors.Is(err, jwt.ErrTokenInvalid):
		return auditErrInvalidToken
	case errors.Is(err, ratelimit.ErrRateLimited):
		return auditErrRateLimited
	case errors.Is(err, csrf.ErrCSRF):
		return auditErrCSRF
	case errors.Is(err, ErrUsernameTaken), errors.Is(err, ErrEmailTaken):
		return auditErrDuplicate
	case errors.Is(err, ErrPasswordReuse):
		return auditErrPasswordReuse
	case errors.Is(err, ErrValidation), errors.Is(err, ErrWeakPassword):
		return auditErrValidation
	case errors.Is(err, revocation.ErrUnavailable),
		errors.Is(err, ratelimit.ErrUnavailable),
		errors.Is(err, csrf.ErrUnavailable):
		return auditErrUnavailable
	default:
		return auditErrInternal
	}
}
