package goMFA

import (
	"context"
	"errors"
	"strconv"
	"time"

	"github.com/MrEthical07/goMFA/hashing"
	"github.com/MrEthical07/goMFA/internal/backupcode"
	"github.com/MrEthical07/goMFA/store"
	"github.com/google/uuid"
)

// GenerateBackupCodes issues a new batch and returns it in display form
// (XXXX-XXXX). This is the only time the plaintext is observable.
//
// When the user still has unused codes and regenerate is false it fails with
// *AlreadyHasCodesError. Otherwise every existing code, used or not, is
// replaced in one transaction.
func (e *Engine) GenerateBackupCodes(ctx context.Context, userID string, regenerate bool) ([]string, error) {
	if err := e.ready(); err != nil {
		return nil, err
	}

	codes, err := e.generateBackupCodes(ctx, userID, regenerate)
	if err != nil {
		e.emitAudit(ctx, auditEventBackupGenerateFail, FactorBackup, false, userID, err, func() map[string]string {
			var existing *AlreadyHasCodesError
			if errors.As(err, &existing) {
				return map[string]string{"unused": strconv.Itoa(existing.Count)}
			}
			return nil
		})
		return nil, err
	}

	e.metricInc(MetricBackupGenerated)
	e.emitAudit(ctx, auditEventBackupGenerated, FactorBackup, true, userID, nil, func() map[string]string {
		return map[string]string{
			"count":       strconv.Itoa(len(codes)),
			"regenerated": strconv.FormatBool(regenerate),
		}
	})
	return codes, nil
}

func (e *Engine) generateBackupCodes(ctx context.Context, userID string, regenerate bool) ([]string, error) {
	cfg := e.config.BackupCodes
	if !cfg.Enabled {
		return nil, ErrFactorDisabled
	}
	if userID == "" {
		return nil, invalid("user_id", "must not be empty")
	}

	// Refuse before hashing; the transaction below re-checks.
	if !regenerate {
		n, err := e.store.CountUnusedBackupCodes(ctx, userID)
		if err != nil {
			return nil, e.storageFault("backup_count", err)
		}
		if n > 0 {
			return nil, &AlreadyHasCodesError{Count: n}
		}
	}

	now := e.now()
	display := make([]string, 0, cfg.Count)
	records := make([]store.BackupCode, 0, cfg.Count)
	seen := make(map[string]struct{}, cfg.Count)
	for len(records) < cfg.Count {
		raw, err := backupcode.New(e.random, cfg.Length)
		if err != nil {
			return nil, err
		}
		if _, dup := seen[raw]; dup {
			continue
		}
		seen[raw] = struct{}{}

		hash, err := e.hasher.Hash(raw)
		if err != nil {
			return nil, err
		}
		records = append(records, store.BackupCode{
			ID:        uuid.NewString(),
			UserID:    userID,
			CodeHash:  hash,
			CreatedAt: now,
		})
		display = append(display, backupcode.Format(raw))
	}

	var conflict error
	err := e.store.InTx(ctx, func(tx store.Tx) error {
		n, err := tx.CountUnusedBackupCodes(ctx, userID)
		if err != nil {
			return err
		}
		if n > 0 && !regenerate {
			conflict = &AlreadyHasCodesError{Count: n}
			return nil
		}
		if _, err := tx.DeleteBackupCodes(ctx, userID); err != nil {
			return err
		}
		return tx.InsertBackupCodes(ctx, records)
	})
	if err != nil {
		return nil, e.storageFault("backup_generate", err)
	}
	if conflict != nil {
		return nil, conflict
	}
	return display, nil
}

// VerifyBackupCode consumes one unused code. Separators, whitespace and case
// are ignored. The code is marked used with the request origin from
// [WithClientIP]; a concurrent second use of the same code fails.
//
// When the unused count drops to BackupCodes.LowThreshold or below, an extra
// backup_codes_low audit event is emitted.
func (e *Engine) VerifyBackupCode(ctx context.Context, userID, code string) (*VerifyResult, error) {
	if err := e.ready(); err != nil {
		return nil, err
	}
	defer e.observeVerify(time.Now())

	remaining, err := e.consumeBackupCode(ctx, userID, code)
	if err != nil {
		var rateErr *RateLimitError
		if errors.As(err, &rateErr) {
			e.metricInc(MetricRateLimitHit)
		} else {
			e.metricInc(MetricBackupFailed)
		}
		e.emitAudit(ctx, auditEventBackupFailed, FactorBackup, false, userID, err, nil)
		return nil, err
	}

	e.metricInc(MetricBackupUsed)
	e.emitAudit(ctx, auditEventBackupUsed, FactorBackup, true, userID, nil, func() map[string]string {
		return map[string]string{"remaining": strconv.Itoa(remaining)}
	})
	if remaining <= e.config.BackupCodes.LowThreshold {
		e.metricInc(MetricBackupLow)
		e.emitAudit(ctx, auditEventBackupLow, FactorBackup, true, userID, nil, func() map[string]string {
			return map[string]string{"remaining": strconv.Itoa(remaining)}
		})
	}
	return e.verified(FactorBackup, userID, remaining)
}

func (e *Engine) consumeBackupCode(ctx context.Context, userID, code string) (int, error) {
	cfg := e.config.BackupCodes
	if !cfg.Enabled {
		return 0, ErrFactorDisabled
	}
	if userID == "" {
		return 0, invalid("user_id", "must not be empty")
	}
	canonical := backupcode.Canonicalize(code)
	if !backupcode.Valid(canonical, cfg.Length) {
		return 0, invalid("code", "malformed backup code")
	}

	wait, err := e.backupLimiter.Wait(ctx, userID)
	if err != nil {
		return 0, e.storageFault("backup_throttle", err)
	}
	if wait > 0 {
		return 0, &RateLimitError{RetryAfter: wait}
	}

	codes, err := e.store.ListUnusedBackupCodes(ctx, userID)
	if err != nil {
		return 0, e.storageFault("backup_list", err)
	}
	if len(codes) == 0 {
		return 0, ErrNotFound
	}

	for _, c := range codes {
		ok, err := e.hasher.Verify(canonical, c.CodeHash)
		if err != nil {
			return 0, e.storageFault("backup_compare", err)
		}
		if !ok {
			continue
		}

		marked, err := e.store.MarkBackupCodeUsed(ctx, c.ID, e.now(), clientIPFromContext(ctx))
		if err != nil {
			return 0, e.storageFault("backup_mark_used", err)
		}
		if !marked {
			break
		}
		if err := e.backupLimiter.Reset(ctx, userID); err != nil {
			// The code is already spent; a stale window only delays later guesses.
			e.storageFault("backup_throttle_reset", err)
		}

		remaining, err := e.store.CountUnusedBackupCodes(ctx, userID)
		if err != nil {
			return 0, e.storageFault("backup_count", err)
		}
		return remaining, nil
	}

	if _, err := e.backupLimiter.RecordFailure(ctx, userID); err != nil {
		e.storageFault("backup_throttle", err)
	}
	return 0, &InvalidCodeError{AttemptsRemaining: -1}
}

// DeleteBackupCodes removes every code, used or unused, and returns how many
// were removed.
func (e *Engine) DeleteBackupCodes(ctx context.Context, userID string) (int, error) {
	if err := e.ready(); err != nil {
		return 0, err
	}
	if userID == "" {
		return 0, invalid("user_id", "must not be empty")
	}

	n, err := e.store.DeleteBackupCodes(ctx, userID)
	if err != nil {
		err = e.storageFault("backup_delete", err)
		e.emitAudit(ctx, auditEventBackupDeleted, FactorBackup, false, userID, err, nil)
		return 0, err
	}

	e.emitAudit(ctx, auditEventBackupDeleted, FactorBackup, true, userID, nil, func() map[string]string {
		return map[string]string{"deleted": strconv.Itoa(n)}
	})
	return n, nil
}

func (e *Engine) backupStatus(ctx context.Context, userID string) (*FactorStatus, error) {
	codes, err := e.store.ListUnusedBackupCodes(ctx, userID)
	if err != nil {
		return nil, e.storageFault("backup_status", err)
	}
	return &FactorStatus{
		Factor:      FactorBackup,
		HasActive:   len(codes) > 0,
		Remaining:   len(codes),
		StaleHashes: e.staleBackupHashes(codes),
	}, nil
}

// staleBackupHashes counts codes the configured hasher would no longer
// produce. Hashes it cannot parse count as stale.
func (e *Engine) staleBackupHashes(codes []store.BackupCode) int {
	up, ok := e.hasher.(hashing.Upgrader)
	if !ok {
		return 0
	}
	stale := 0
	for _, c := range codes {
		if needs, err := up.NeedsUpgrade(c.CodeHash); err != nil || needs {
			stale++
		}
	}
	return stale
}
