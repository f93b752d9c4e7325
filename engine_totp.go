package goMFA

import (
	"context"
	"errors"
	"strconv"
	"time"

	"github.com/MrEthical07/goMFA/internal/limiters"
	"github.com/MrEthical07/goMFA/internal/otp"
	"github.com/MrEthical07/goMFA/internal/secretbox"
	"github.com/MrEthical07/goMFA/store"
)

// BeginTOTPSetup stores an unverified secret for userID and returns it with
// its provisioning URI. An existing unverified secret is overwritten. It
// fails with ErrAlreadyEnabled when a verified secret exists.
//
// secretBase32 is optional; when empty a 160-bit secret is drawn from the
// engine's random source. accountName labels the URI and defaults to userID.
func (e *Engine) BeginTOTPSetup(ctx context.Context, userID, accountName, secretBase32 string) (*TOTPSetup, error) {
	if err := e.ready(); err != nil {
		return nil, err
	}
	setup, err := e.beginTOTPSetup(ctx, userID, accountName, secretBase32)
	if err != nil {
		e.emitAudit(ctx, auditEventTOTPSetupFailed, FactorTOTP, false, userID, err, nil)
		return nil, err
	}

	e.metricInc(MetricTOTPSetupStarted)
	e.emitAudit(ctx, auditEventTOTPSetupRequested, FactorTOTP, true, userID, nil, nil)
	return setup, nil
}

func (e *Engine) beginTOTPSetup(ctx context.Context, userID, accountName, secretBase32 string) (*TOTPSetup, error) {
	if !e.config.TOTP.Enabled {
		return nil, ErrFactorDisabled
	}
	if userID == "" {
		return nil, invalid("user_id", "must not be empty")
	}

	var (
		raw []byte
		err error
	)
	if secretBase32 != "" {
		raw, err = otp.DecodeSecret(secretBase32)
		if err != nil {
			return nil, invalid("secret", err.Error())
		}
	} else {
		raw, _, err = otp.GenerateSecret(e.random)
		if err != nil {
			return nil, err
		}
	}
	encoded := otp.EncodeSecret(raw)

	stored, err := e.sealSecret(userID, raw)
	if err != nil {
		return nil, err
	}

	now := e.now()
	var conflict bool
	err = e.store.InTx(ctx, func(tx store.Tx) error {
		existing, err := tx.GetTOTPSecret(ctx, userID)
		switch {
		case err == nil && existing.Verified:
			conflict = true
			return nil
		case err != nil && !errors.Is(err, store.ErrNotFound):
			return err
		}
		return tx.PutTOTPSecret(ctx, &store.TOTPSecret{
			UserID:    userID,
			Secret:    stored,
			CreatedAt: now,
			UpdatedAt: now,
		})
	})
	if err != nil {
		return nil, e.storageFault("totp_begin", err)
	}
	if conflict {
		return nil, ErrAlreadyEnabled
	}

	if accountName == "" {
		accountName = userID
	}
	return &TOTPSetup{
		Secret:          encoded,
		ProvisioningURI: otp.ProvisioningURI(e.config.TOTP.Issuer, accountName, encoded, e.otpParams),
	}, nil
}

// ConfirmTOTPSetup verifies code against the pending secret and marks it
// verified. Failures count toward lockout exactly as in VerifyTOTP.
func (e *Engine) ConfirmTOTPSetup(ctx context.Context, userID, code string) (*VerifyResult, error) {
	return e.verifyTOTP(ctx, userID, code, true)
}

// VerifyTOTP checks code against the user's verified secret.
//
// The candidate is accepted for the current step and Skew steps either side.
// A step at or below the last accepted one is rejected with ErrCodeReplayed
// even when the code matches. Lockout.Threshold consecutive failures lock the
// factor for Lockout.Duration; the lock clears on the first check after it
// lapses. Malformed input and replays do not count as failures.
func (e *Engine) VerifyTOTP(ctx context.Context, userID, code string) (*VerifyResult, error) {
	return e.verifyTOTP(ctx, userID, code, false)
}

func (e *Engine) verifyTOTP(ctx context.Context, userID, code string, confirm bool) (*VerifyResult, error) {
	if err := e.ready(); err != nil {
		return nil, err
	}
	defer e.observeVerify(time.Now())

	failEvent := auditEventTOTPFailure
	if confirm {
		failEvent = auditEventTOTPSetupFailed
	}

	counter, err := e.checkTOTP(ctx, userID, code, confirm)
	if err != nil {
		event := failEvent
		switch {
		case errors.Is(err, ErrCodeReplayed):
			e.metricInc(MetricTOTPReplay)
			event = auditEventTOTPReplay
		case errors.Is(err, ErrLockedOut):
			e.metricInc(MetricTOTPLockout)
			event = auditEventTOTPLocked
		default:
			e.metricInc(MetricTOTPFailure)
		}
		e.emitAudit(ctx, event, FactorTOTP, false, userID, err, func() map[string]string {
			var lockErr *LockoutError
			if errors.As(err, &lockErr) {
				return map[string]string{"locked_until": lockErr.Until.Format(time.RFC3339)}
			}
			var invalidErr *InvalidCodeError
			if errors.As(err, &invalidErr) {
				return map[string]string{"attempts_remaining": strconv.Itoa(invalidErr.AttemptsRemaining)}
			}
			return nil
		})
		return nil, err
	}

	event := auditEventTOTPSuccess
	if confirm {
		event = auditEventTOTPEnabled
		e.metricInc(MetricTOTPEnabled)
	} else {
		e.metricInc(MetricTOTPSuccess)
	}
	e.emitAudit(ctx, event, FactorTOTP, true, userID, nil, func() map[string]string {
		return map[string]string{"counter": strconv.FormatInt(counter, 10)}
	})

	return e.verified(FactorTOTP, userID, 0)
}

// checkTOTP runs the whole read-check-write sequence in one transaction.
// Outcomes that must persist (failure counts, lockout) are carried out of the
// closure in result so the transaction still commits.
func (e *Engine) checkTOTP(ctx context.Context, userID, code string, confirm bool) (int64, error) {
	if !e.config.TOTP.Enabled {
		return 0, ErrFactorDisabled
	}
	if userID == "" {
		return 0, invalid("user_id", "must not be empty")
	}
	normalized, ok := otp.NormalizeCode(code, e.otpParams.Digits)
	if !ok {
		return 0, invalid("code", "must be "+strconv.Itoa(e.otpParams.Digits)+" digits")
	}

	now := e.now()
	var (
		result  error
		counter int64
	)
	err := e.store.InTx(ctx, func(tx store.Tx) error {
		rec, err := tx.GetTOTPSecret(ctx, userID)
		if errors.Is(err, store.ErrNotFound) {
			result = ErrNotFound
			return nil
		}
		if err != nil {
			return err
		}
		if confirm && rec.Verified {
			result = ErrAlreadyEnabled
			return nil
		}
		if !confirm && !rec.Verified {
			result = ErrNotFound
			return nil
		}

		state := limiters.LockoutState{FailedAttempts: rec.FailedAttempts, LockedUntil: rec.LockoutUntil}
		locked, next, cleared := e.totpLockout.Locked(state, now)
		if locked {
			result = &LockoutError{Until: *rec.LockoutUntil}
			return nil
		}
		if cleared {
			if err := tx.ClearTOTPLockout(ctx, userID, now); err != nil {
				return err
			}
			state = next
		}

		secret, err := e.openSecret(userID, rec.Secret)
		if err != nil {
			return err
		}
		matched, found, err := otp.Match(secret, normalized, now, e.otpParams)
		if err != nil {
			return err
		}

		if found {
			if matched <= rec.LastCounter {
				result = ErrCodeReplayed
				return nil
			}
			advanced, err := tx.AdvanceTOTPCounter(ctx, userID, matched, now)
			if err != nil {
				return err
			}
			if !advanced {
				result = ErrCodeReplayed
				return nil
			}
			if confirm {
				if err := tx.MarkTOTPVerified(ctx, userID, now); err != nil {
					return err
				}
			}
			counter = matched
			return nil
		}

		failures, err := tx.IncrementTOTPFailures(ctx, userID, now)
		if err != nil {
			return err
		}
		state.FailedAttempts = failures - 1
		state, lockedNow := e.totpLockout.Fail(state, now)
		if lockedNow {
			if err := tx.SetTOTPLockout(ctx, userID, *state.LockedUntil, now); err != nil {
				return err
			}
			result = &LockoutError{Until: *state.LockedUntil}
			return nil
		}
		result = &InvalidCodeError{AttemptsRemaining: e.totpLockout.Remaining(state)}
		return nil
	})
	if err != nil {
		return 0, e.storageFault("totp_verify", err)
	}
	return counter, result
}

// DisableTOTP deletes the user's secret, verified or not.
func (e *Engine) DisableTOTP(ctx context.Context, userID string) error {
	if err := e.ready(); err != nil {
		return err
	}
	if userID == "" {
		return invalid("user_id", "must not be empty")
	}

	deleted, err := e.store.DeleteTOTPSecret(ctx, userID)
	if err != nil {
		err = e.storageFault("totp_disable", err)
	} else if !deleted {
		err = ErrNotFound
	}
	if err != nil {
		e.emitAudit(ctx, auditEventTOTPDisabled, FactorTOTP, false, userID, err, nil)
		return err
	}

	e.metricInc(MetricTOTPDisabled)
	e.emitAudit(ctx, auditEventTOTPDisabled, FactorTOTP, true, userID, nil, nil)
	return nil
}

func (e *Engine) totpStatus(ctx context.Context, userID string) (*FactorStatus, error) {
	rec, err := e.store.GetTOTPSecret(ctx, userID)
	if errors.Is(err, store.ErrNotFound) {
		return &FactorStatus{Factor: FactorTOTP}, nil
	}
	if err != nil {
		return nil, e.storageFault("totp_status", err)
	}

	state := limiters.LockoutState{FailedAttempts: rec.FailedAttempts, LockedUntil: rec.LockoutUntil}
	locked, next, _ := e.totpLockout.Locked(state, e.now())
	out := &FactorStatus{
		Factor:    FactorTOTP,
		HasActive: rec.Verified,
		Remaining: e.totpLockout.Remaining(next),
	}
	if locked {
		until := *rec.LockoutUntil
		out.LockedUntil = &until
		out.Remaining = 0
	}
	return out, nil
}

// sealSecret returns the stored form of raw: sealed when an encryption key
// is configured, Base32 otherwise. The user ID is bound as associated data so
// a sealed secret cannot be moved to another user.
func (e *Engine) sealSecret(userID string, raw []byte) (string, error) {
	if e.box == nil {
		return otp.EncodeSecret(raw), nil
	}
	return e.box.Seal(raw, userID)
}

func (e *Engine) openSecret(userID, stored string) ([]byte, error) {
	if secretbox.IsSealed(stored) {
		if e.box == nil {
			return nil, errors.New("sealed totp secret but no encryption key configured")
		}
		return e.box.Open(stored, userID)
	}
	return otp.DecodeSecret(stored)
}
