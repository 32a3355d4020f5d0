// Package internaldefs holds the shared metric name/help definitions used
// by every exporter, so Prometheus and OTel output stay aligned.
package internaldefs

import "github.com/authforge/identity/internal/metrics"

// CounterDef names one exported counter.
type CounterDef struct {
	ID   metrics.MetricID
	Name string
	Help string
}

// CounterDefs lists every exported counter in a stable order.
var CounterDefs = []CounterDef{
	{metrics.MetricRegisterSuccess, "identity_register_success_total", "Successful registrations."},
	{metrics.MetricRegisterConflict, "identity_register_conflict_total", "Registrations rejected for duplicate email or username."},
	{metrics.MetricRegisterInvalid, "identity_register_invalid_total", "Registrations rejected by validation."},
	{metrics.MetricLoginSuccess, "identity_login_success_total", "Successful logins."},
	{metrics.MetricLoginFailure, "identity_login_failure_total", "Rejected login attempts."},
	{metrics.MetricLockoutTriggered, "identity_lockout_triggered_total", "Automatic lockouts cascaded from repeated failures."},
	{metrics.MetricTwoFactorRequired, "identity_two_factor_required_total", "Logins deferred to a two-factor challenge."},
	{metrics.MetricTwoFactorSuccess, "identity_two_factor_success_total", "Completed two-factor challenges."},
	{metrics.MetricTwoFactorFailure, "identity_two_factor_failure_total", "Failed two-factor challenges."},
	{metrics.MetricCodeIssued, "identity_code_issued_total", "One-time codes issued."},
	{metrics.MetricCodeValidated, "identity_code_validated_total", "One-time codes accepted."},
	{metrics.MetricCodeRejected, "identity_code_rejected_total", "One-time codes rejected."},
	{metrics.MetricRefreshSuccess, "identity_refresh_success_total", "Successful refresh token rotations."},
	{metrics.MetricRefreshFailure, "identity_refresh_failure_total", "Rejected refresh attempts."},
	{metrics.MetricRefreshReuseDetected, "identity_refresh_reuse_detected_total", "Refresh attempts presenting an already-rotated token."},
	{metrics.MetricLogout, "identity_logout_total", "Logouts."},
	{metrics.MetricEmailVerified, "identity_email_verified_total", "Email verifications completed."},
	{metrics.MetricPhoneVerified, "identity_phone_verified_total", "Phone verifications completed."},
	{metrics.MetricPasswordChanged, "identity_password_changed_total", "Password changes."},
	{metrics.MetricPasswordResetRequest, "identity_password_reset_request_total", "Password reset codes requested."},
	{metrics.MetricPasswordResetSuccess, "identity_password_reset_success_total", "Password resets completed."},
	{metrics.MetricPasswordResetFailure, "identity_password_reset_failure_total", "Password resets rejected."},
	{metrics.MetricAccountLocked, "identity_account_locked_total", "Administrative locks applied."},
	{metrics.MetricAccountUnlocked, "identity_account_unlocked_total", "Accounts unlocked."},
	{metrics.MetricAccountSuspended, "identity_account_suspended_total", "Accounts suspended."},
	{metrics.MetricEventsDispatched, "identity_events_dispatched_total", "Domain events delivered to all subscribers."},
	{metrics.MetricEventDispatchFailure, "identity_event_dispatch_failure_total", "Dispatch rounds aborted by a subscriber error."},
}

// ValidateLatencyName is the exported histogram name for access-token
// validation latency.
const ValidateLatencyName = "identity_validate_latency_us"

// ValidateLatencyHelp describes the validation latency histogram.
const ValidateLatencyHelp = "Access token validation latency in microseconds."
