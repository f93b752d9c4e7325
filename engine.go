package goMFA

import (
	"context"
	"io"
	"time"

	"github.com/MrEthical07/goMFA/assertion"
	"github.com/MrEthical07/goMFA/hashing"
	"github.com/MrEthical07/goMFA/internal/audit"
	"github.com/MrEthical07/goMFA/internal/limiters"
	"github.com/MrEthical07/goMFA/internal/otp"
	"github.com/MrEthical07/goMFA/internal/secretbox"
	"github.com/MrEthical07/goMFA/notify"
	"github.com/MrEthical07/goMFA/store"
	"go.uber.org/zap"
)

// Engine verifies second factors. It is safe for concurrent use once built;
// all per-code exclusivity is enforced by compare-and-swap writes in the
// store, so two concurrent verifications of one code never both succeed.
type Engine struct {
	config    Config
	store     store.Store
	clock     Clock
	random    io.Reader
	hasher    hashing.Hasher
	notifiers *notify.Registry
	logger    *zap.Logger
	metrics   *Metrics

	audit      AuditSink
	dispatcher *audit.Dispatcher

	otpParams   otp.Params
	totpLockout limiters.LockoutTracker
	box         *secretbox.Box

	smsLimiter    *limiters.SendLimiter
	emailLimiter  *limiters.SendLimiter
	backupLimiter *limiters.BackupCodeLimiter

	signer *assertion.Signer
}

// Close flushes the async audit dispatcher. It does not close the store.
func (e *Engine) Close() {
	if e == nil {
		return
	}
	if e.dispatcher != nil {
		e.dispatcher.Close()
	}
}

// AuditDropped reports events discarded by a full async dispatcher.
func (e *Engine) AuditDropped() uint64 {
	if e == nil || e.dispatcher == nil {
		return 0
	}
	return e.dispatcher.Dropped()
}

// MetricsSnapshot returns a copy of every counter.
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

func (e *Engine) observeVerify(start time.Time) {
	if e.metrics.LatencyEnabled() {
		e.metrics.Observe(MetricVerifyLatency, time.Since(start))
	}
}

func (e *Engine) now() time.Time {
	return e.clock.Now().UTC()
}

func (e *Engine) ready() error {
	if e == nil || e.store == nil {
		return ErrEngineNotReady
	}
	return nil
}

func (e *Engine) storageFault(op string, err error) error {
	e.metricInc(MetricStorageError)
	e.logger.Error("storage operation failed", zap.String("op", op), zap.Error(err))
	return storageErr(err)
}

// Issue dispatches issuance by factor: SMS and email send a code, backup
// generates a batch, TOTP begins setup. The network factor has nothing to
// issue.
func (e *Engine) Issue(ctx context.Context, req IssueRequest) (*IssueResult, error) {
	if err := e.ready(); err != nil {
		return nil, err
	}

	switch req.Factor {
	case FactorSMS, FactorEmail:
		res, err := e.sendCode(ctx, req.Factor, req.UserID, req.Destination)
		if err != nil {
			return nil, err
		}
		return &IssueResult{Factor: req.Factor, CodeID: res.CodeID, ExpiresAt: res.ExpiresAt}, nil
	case FactorBackup:
		codes, err := e.GenerateBackupCodes(ctx, req.UserID, req.Regenerate)
		if err != nil {
			return nil, err
		}
		return &IssueResult{Factor: req.Factor, BackupCodes: codes}, nil
	case FactorTOTP:
		setup, err := e.BeginTOTPSetup(ctx, req.UserID, req.AccountName, req.Secret)
		if err != nil {
			return nil, err
		}
		return &IssueResult{Factor: req.Factor, Setup: setup}, nil
	default:
		return nil, e.rejectFactor(ctx, "issue", req.Factor, req.UserID,
			invalid("factor", "cannot issue for "+string(req.Factor)))
	}
}

// Verify dispatches verification by factor. For FactorNetwork the code is the
// origin IP and a denial is returned as ErrOriginDenied.
func (e *Engine) Verify(ctx context.Context, req VerifyRequest) (*VerifyResult, error) {
	if err := e.ready(); err != nil {
		return nil, err
	}

	switch req.Factor {
	case FactorTOTP:
		return e.VerifyTOTP(ctx, req.UserID, req.Code)
	case FactorSMS, FactorEmail:
		return e.verifyCode(ctx, req.Factor, req.UserID, req.Code)
	case FactorBackup:
		return e.VerifyBackupCode(ctx, req.UserID, req.Code)
	case FactorNetwork:
		decision, err := e.CheckOrigin(ctx, req.UserID, req.Code)
		if err != nil {
			return nil, err
		}
		if !decision.Allowed {
			return nil, &originDeniedError{reason: decision.Reason}
		}
		return &VerifyResult{OK: true, Factor: FactorNetwork}, nil
	default:
		return nil, e.rejectFactor(ctx, "verify", req.Factor, req.UserID,
			invalid("factor", "unknown factor "+string(req.Factor)))
	}
}

// rejectFactor audits a dispatch the engine has no handler for and returns err.
func (e *Engine) rejectFactor(ctx context.Context, op string, factor Factor, userID string, err error) error {
	name := string(factor)
	if len(name) > 32 {
		name = name[:32]
	}
	e.emitAudit(ctx, auditEventRequestRejected, Factor(name), false, userID, err, func() map[string]string {
		return map[string]string{"operation": op}
	})
	return err
}

// Status reports the user's state for one factor.
func (e *Engine) Status(ctx context.Context, userID string, factor Factor) (*FactorStatus, error) {
	if err := e.ready(); err != nil {
		return nil, err
	}
	if userID == "" && factor != FactorNetwork {
		return nil, invalid("user_id", "must not be empty")
	}

	switch factor {
	case FactorTOTP:
		return e.totpStatus(ctx, userID)
	case FactorSMS, FactorEmail:
		return e.codeStatus(ctx, factor, userID)
	case FactorBackup:
		return e.backupStatus(ctx, userID)
	case FactorNetwork:
		ranges, err := e.store.ListNetworkRanges(ctx, true)
		if err != nil {
			return nil, e.storageFault("list_ranges", err)
		}
		return &FactorStatus{
			Factor:    FactorNetwork,
			HasActive: e.config.Network.Enabled && len(ranges) > 0,
			Remaining: len(ranges),
		}, nil
	default:
		return nil, invalid("factor", "unknown factor "+string(factor))
	}
}

type originDeniedError struct {
	reason string
}

func (e *originDeniedError) Error() string { return "origin denied: " + e.reason }

func (e *originDeniedError) Unwrap() error { return ErrOriginDenied }
