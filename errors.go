package goMFA

import (
	"errors"
	"fmt"
	"time"
)

var (
	// ErrValidation reports malformed input: a code, phone number, email
	// address or CIDR that cannot be used.
	ErrValidation = errors.New("validation failed")
	// ErrNotFound reports a missing pending code, secret or range.
	ErrNotFound = errors.New("not found")
	// ErrExpired reports a one-time code whose TTL elapsed.
	ErrExpired = errors.New("code expired")
	// ErrAttemptsExceeded reports a one-time code whose attempt budget is spent.
	ErrAttemptsExceeded = errors.New("attempts exceeded")
	// ErrLockedOut reports a factor under timed lockout.
	ErrLockedOut = errors.New("locked out")
	// ErrRateLimited reports a refused send. See [RateLimitError].
	ErrRateLimited = errors.New("rate limited")
	// ErrDelivery reports a notifier failure or timeout.
	ErrDelivery = errors.New("delivery failed")
	// ErrConflict reports a state conflict such as re-enabling a verified factor.
	ErrConflict = errors.New("conflict")
	// ErrStorage reports a persistence fault.
	ErrStorage = errors.New("storage failure")

	// ErrCodeInvalid reports a well-formed code that did not verify.
	ErrCodeInvalid = errors.New("code invalid")
	// ErrCodeReplayed reports a TOTP code for an already accepted time step.
	ErrCodeReplayed = errors.New("code replayed")
	// ErrOriginDenied reports an origin rejected by network ranges.
	ErrOriginDenied = errors.New("origin denied")
	// ErrAssertionInvalid reports a step-up token that failed parsing or
	// signature, expiry or audience checks.
	ErrAssertionInvalid = errors.New("assertion invalid")

	// ErrFactorDisabled reports a factor switched off in configuration.
	ErrFactorDisabled = errors.New("factor disabled")
	// ErrEngineNotReady is returned by methods on a nil or unbuilt engine.
	ErrEngineNotReady = errors.New("engine not ready")

	// ErrAlreadyEnabled reports TOTP setup for a user with a verified secret.
	ErrAlreadyEnabled = fmt.Errorf("%w: factor already enabled", ErrConflict)
)

// ValidationError names the rejected field.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return "invalid " + e.Field + ": " + e.Reason
}

func (e *ValidationError) Unwrap() error { return ErrValidation }

func invalid(field, reason string) error {
	return &ValidationError{Field: field, Reason: reason}
}

// RateLimitError carries the wait until the oldest send in the window ages out.
type RateLimitError struct {
	RetryAfter time.Duration
}

func (e *RateLimitError) Error() string {
	return fmt.Sprintf("rate limited: retry after %s", e.RetryAfter.Round(time.Second))
}

func (e *RateLimitError) Unwrap() error { return ErrRateLimited }

// LockoutError carries the instant the lock lapses.
type LockoutError struct {
	Until time.Time
}

func (e *LockoutError) Error() string {
	return "locked out until " + e.Until.UTC().Format(time.RFC3339)
}

func (e *LockoutError) Unwrap() error { return ErrLockedOut }

// InvalidCodeError is a failed comparison. AttemptsRemaining is -1 when the
// factor has no attempt budget (backup codes).
type InvalidCodeError struct {
	AttemptsRemaining int
}

func (e *InvalidCodeError) Error() string {
	if e.AttemptsRemaining < 0 {
		return ErrCodeInvalid.Error()
	}
	return fmt.Sprintf("%s: %d attempts remaining", ErrCodeInvalid, e.AttemptsRemaining)
}

func (e *InvalidCodeError) Unwrap() error { return ErrCodeInvalid }

// AlreadyHasCodesError is returned by backup-code generation when unused
// codes exist and regeneration was not requested.
type AlreadyHasCodesError struct {
	Count int
}

func (e *AlreadyHasCodesError) Error() string {
	return fmt.Sprintf("user already has %d unused backup codes", e.Count)
}

func (e *AlreadyHasCodesError) Unwrap() error { return ErrConflict }

// DeliveryError wraps the notifier failure.
type DeliveryError struct {
	Provider string
	Err      error
}

func (e *DeliveryError) Error() string {
	return "delivery via " + e.Provider + " failed: " + e.Err.Error()
}

// Unwrap exposes both ErrDelivery and the provider error.
func (e *DeliveryError) Unwrap() []error { return []error{ErrDelivery, e.Err} }

func storageErr(err error) error {
	return fmt.Errorf("%w: %v", ErrStorage, err)
}
