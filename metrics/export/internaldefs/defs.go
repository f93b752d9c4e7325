package internaldefs

import (
	goMFA "github.com/MrEthical07/goMFA"
)

// CounterDef names one engine counter for exporters.
type CounterDef struct {
	ID   goMFA.MetricID
	Name string
	Help string
}

// HistogramDef names one engine histogram for exporters.
type HistogramDef struct {
	ID   goMFA.MetricID
	Name string
	Help string
}

// AuditDroppedName is the counter exported from Engine.AuditDropped.
const AuditDroppedName = "mfa_audit_dropped_total"

// AuditDroppedHelp describes AuditDroppedName.
const AuditDroppedHelp = "Dropped audit events due to dispatcher backpressure."

// CounterDefs lists every exported counter in display order.
var CounterDefs = []CounterDef{
	{ID: goMFA.MetricTOTPSetupStarted, Name: "mfa_totp_setup_started_total", Help: "TOTP enrolments started."},
	{ID: goMFA.MetricTOTPEnabled, Name: "mfa_totp_enabled_total", Help: "TOTP enrolments confirmed."},
	{ID: goMFA.MetricTOTPSuccess, Name: "mfa_totp_success_total", Help: "Successful TOTP verifications."},
	{ID: goMFA.MetricTOTPFailure, Name: "mfa_totp_failure_total", Help: "Failed TOTP verifications."},
	{ID: goMFA.MetricTOTPReplay, Name: "mfa_totp_replay_total", Help: "TOTP codes rejected as replays."},
	{ID: goMFA.MetricTOTPLockout, Name: "mfa_totp_lockout_total", Help: "TOTP verifications refused by lockout."},
	{ID: goMFA.MetricTOTPDisabled, Name: "mfa_totp_disabled_total", Help: "TOTP secrets removed."},
	{ID: goMFA.MetricSMSSent, Name: "mfa_sms_sent_total", Help: "SMS codes delivered."},
	{ID: goMFA.MetricEmailSent, Name: "mfa_email_sent_total", Help: "Email codes delivered."},
	{ID: goMFA.MetricCodeDeliveryFailed, Name: "mfa_code_delivery_failed_total", Help: "One-time code deliveries that failed."},
	{ID: goMFA.MetricCodeVerified, Name: "mfa_code_verified_total", Help: "One-time codes verified."},
	{ID: goMFA.MetricCodeFailed, Name: "mfa_code_failed_total", Help: "One-time code verifications that failed."},
	{ID: goMFA.MetricCodeExpired, Name: "mfa_code_expired_total", Help: "One-time code verifications against an expired code."},
	{ID: goMFA.MetricCodeAttemptsExceeded, Name: "mfa_code_attempts_exceeded_total", Help: "One-time code verifications after the attempt budget was spent."},
	{ID: goMFA.MetricBackupGenerated, Name: "mfa_backup_generated_total", Help: "Backup code batches generated."},
	{ID: goMFA.MetricBackupUsed, Name: "mfa_backup_used_total", Help: "Backup codes consumed."},
	{ID: goMFA.MetricBackupFailed, Name: "mfa_backup_failed_total", Help: "Failed backup code verifications."},
	{ID: goMFA.MetricBackupLow, Name: "mfa_backup_low_total", Help: "Verifications that left a user at or below the low-codes threshold."},
	{ID: goMFA.MetricOriginAllowed, Name: "mfa_origin_allowed_total", Help: "Origin checks that allowed the request."},
	{ID: goMFA.MetricOriginDenied, Name: "mfa_origin_denied_total", Help: "Origin checks that denied the request."},
	{ID: goMFA.MetricRateLimitHit, Name: "mfa_rate_limit_hit_total", Help: "Requests refused by a send or guess limiter."},
	{ID: goMFA.MetricStorageError, Name: "mfa_storage_error_total", Help: "Store or Redis operations that failed."},
}

// HistogramDefs lists every exported histogram.
var HistogramDefs = []HistogramDef{
	{ID: goMFA.MetricVerifyLatency, Name: "mfa_verify_latency_seconds", Help: "Verification latency histogram."},
}

// HistogramBounds are the upper bounds, in seconds, of the engine's eight
// latency buckets.
var HistogramBounds = []string{
	"0.005",
	"0.025",
	"0.05",
	"0.1",
	"0.25",
	"0.5",
	"1",
	"+Inf",
}

// HistogramBoundValues mirrors HistogramBounds without the +Inf bucket.
var HistogramBoundValues = []float64{0.005, 0.025, 0.05, 0.1, 0.25, 0.5, 1}

// NormalizeBuckets copies raw into a fixed eight-bucket array, padding with zeros.
func NormalizeBuckets(raw []uint64) [8]uint64 {
	var out [8]uint64
	for i := 0; i < len(out) && i < len(raw); i++ {
		out[i] = raw[i]
	}
	return out
}

// CumulativeBuckets converts per-bucket counts to running totals.
func CumulativeBuckets(raw [8]uint64) [8]uint64 {
	var out [8]uint64
	var running uint64
	for i := 0; i < len(raw); i++ {
		running += raw[i]
		out[i] = running
	}
	return out
}
