package internaldefs

import (
	goGuard "github.com/MrEthical07/goGuard"
)

// CounterDef names one engine counter for export.
type CounterDef struct {
	ID   goGuard.MetricID
	Name string
	Help string
}

// HistogramDef names one engine histogram for export.
type HistogramDef struct {
	ID   goGuard.MetricID
	Name string
	Help string
}

var CounterDefs = []CounterDef{
	{ID: goGuard.MetricRegisterSuccess, Name: "goguard_register_success_total", Help: "Successful registrations."},
	{ID: goGuard.MetricRegisterDuplicate, Name: "goguard_register_duplicate_total", Help: "Registrations rejected for a taken username or email."},
	{ID: goGuard.MetricRegisterRejected, Name: "goguard_register_rejected_total", Help: "Registrations rejected by input validation."},
	{ID: goGuard.MetricLoginSuccess, Name: "goguard_login_success_total", Help: "Successful logins."},
	{ID: goGuard.MetricLoginFailure, Name: "goguard_login_failure_total", Help: "Failed logins."},
	{ID: goGuard.MetricPasswordRehash, Name: "goguard_password_rehash_total", Help: "Password hashes upgraded at login."},
	{ID: goGuard.MetricRefreshSuccess, Name: "goguard_refresh_success_total", Help: "Successful token refreshes."},
	{ID: goGuard.MetricRefreshFailure, Name: "goguard_refresh_failure_total", Help: "Failed token refreshes."},
	{ID: goGuard.MetricRefreshReuseDetected, Name: "goguard_refresh_reuse_detected_total", Help: "Revoked refresh tokens presented again."},
	{ID: goGuard.MetricLogout, Name: "goguard_logout_total", Help: "Logouts."},
	{ID: goGuard.MetricRevokeAll, Name: "goguard_revoke_all_total", Help: "Revoke-all operations."},
	{ID: goGuard.MetricTokensRevoked, Name: "goguard_tokens_revoked_total", Help: "Tokens revoked by revoke-all operations."},
	{ID: goGuard.MetricPasswordChangeSuccess, Name: "goguard_password_change_success_total", Help: "Successful password changes."},
	{ID: goGuard.MetricPasswordChangeInvalidOld, Name: "goguard_password_change_invalid_old_total", Help: "Password changes with a wrong current password."},
	{ID: goGuard.MetricPasswordChangeReuseRejected, Name: "goguard_password_change_reuse_rejected_total", Help: "Password changes rejected for reusing the current password."},
	{ID: goGuard.MetricValidateSuccess, Name: "goguard_validate_success_total", Help: "Accepted access tokens."},
	{ID: goGuard.MetricValidateFailure, Name: "goguard_validate_failure_total", Help: "Rejected access tokens."},
	{ID: goGuard.MetricRateLimitHit, Name: "goguard_rate_limit_hit_total", Help: "Requests over a rate limit."},
	{ID: goGuard.MetricRateLimitBlocked, Name: "goguard_rate_limit_blocked_total", Help: "Requests rejected by a rate-limit block."},
	{ID: goGuard.MetricCSRFFailure, Name: "goguard_csrf_failure_total", Help: "Requests rejected by CSRF verification."},
	{ID: goGuard.MetricRevocationPurged, Name: "goguard_revocation_purged_total", Help: "Expired revocation records removed by cleanup."},
	{ID: goGuard.MetricCleanupFailure, Name: "goguard_cleanup_failure_total", Help: "Failed background cleanup runs."},
}

var HistogramDefs = []HistogramDef{
	{ID: goGuard.MetricValidateLatency, Name: "goguard_validate_latency_seconds", Help: "Access token validation latency."},
}

// AuditDropped names the dispatcher drop counter.
const (
	AuditDroppedName = "goguard_audit_dropped_total"
	AuditDroppedHelp = "Audit events dropped because the dispatcher buffer was full."
)

// HistogramBuckets are the finite upper bounds, in seconds, of the engine
// latency buckets. The eighth bucket is +Inf.
var HistogramBuckets = [7]float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5}

// HistogramBoundSuffix names each bucket for exporters without native
// histogram bounds.
var HistogramBoundSuffix = [8]string{
	"0_005",
	"0_01",
	"0_025",
	"0_05",
	"0_1",
	"0_25",
	"0_5",
	"inf",
}

// CumulativeBuckets turns per-bucket counts into cumulative counts. Missing
// buckets count as zero.
func CumulativeBuckets(raw []uint64) [8]uint64 {
	var out [8]uint64
	var running uint64
	for i := 0; i < len(out); i++ {
		if i < len(raw) {
			running += raw[i]
		}
		out[i] = running
	}
	return out
}
