package goMFA

import (
	"context"
	"errors"

	"github.com/google/uuid"
)

const (
	auditEventTOTPSetupRequested  = "totp_setup_requested"
	auditEventTOTPEnabled         = "totp_enabled"
	auditEventTOTPSetupFailed     = "totp_setup_failed"
	auditEventTOTPSuccess         = "totp_success"
	auditEventTOTPFailure         = "totp_failure"
	auditEventTOTPReplay          = "totp_replay"
	auditEventTOTPLocked          = "totp_locked"
	auditEventTOTPDisabled        = "totp_disabled"
	auditEventCodeSent            = "code_sent"
	auditEventCodeSendFailed      = "code_send_failed"
	auditEventCodeSendRateLimited = "code_send_rate_limited"
	auditEventCodeVerified        = "code_verified"
	auditEventCodeFailed          = "code_failed"
	auditEventBackupGenerated     = "backup_codes_generated"
	auditEventBackupGenerateFail  = "backup_codes_generate_failed"
	auditEventBackupUsed          = "backup_code_used"
	auditEventBackupFailed        = "backup_code_failed"
	auditEventBackupLow           = "backup_codes_low"
	auditEventBackupDeleted       = "backup_codes_deleted"
	auditEventOriginAllowed       = "origin_allowed"
	auditEventOriginDenied        = "origin_denied"
	auditEventRangeAdded          = "range_added"
	auditEventRangeRemoved        = "range_removed"
	auditEventRangeToggled        = "range_toggled"
	auditEventRangeChangeFailed   = "range_change_failed"
	auditEventRequestRejected     = "request_rejected"
)

// AuditErrorCode is the stable error label written to AuditEvent.Error.
type AuditErrorCode string

const (
	auditErrValidation       AuditErrorCode = "validation"
	auditErrNotFound         AuditErrorCode = "not_found"
	auditErrExpired          AuditErrorCode = "expired"
	auditErrAttemptsExceeded AuditErrorCode = "attempts_exceeded"
	auditErrLockedOut        AuditErrorCode = "locked_out"
	auditErrRateLimited      AuditErrorCode = "rate_limited"
	auditErrDelivery         AuditErrorCode = "delivery_failed"
	auditErrConflict         AuditErrorCode = "conflict"
	auditErrStorage          AuditErrorCode = "storage"
	auditErrCodeInvalid      AuditErrorCode = "code_invalid"
	auditErrCodeReplayed     AuditErrorCode = "code_replayed"
	auditErrOriginDenied     AuditErrorCode = "origin_denied"
	auditErrFactorDisabled   AuditErrorCode = "factor_disabled"
	auditErrInternal         AuditErrorCode = "internal_error"
)

func (e *Engine) emitAudit(
	ctx context.Context,
	eventType string,
	factor Factor,
	success bool,
	userID string,
	err error,
	detailBuilder func() map[string]string,
) {
	if e == nil || e.audit == nil {
		return
	}

	var detail map[string]string
	if detailBuilder != nil {
		detail = detailBuilder()
	}

	event := AuditEvent{
		ID:        uuid.NewString(),
		Timestamp: e.now(),
		Event:     eventType,
		Factor:    string(factor),
		UserID:    userID,
		Origin:    clientIPFromContext(ctx),
		UserAgent: userAgentFromContext(ctx),
		Success:   success,
		Detail:    detail,
	}
	if code := auditErrorCode(err); code != "" {
		event.Error = string(code)
	}

	e.audit.Emit(ctx, event)
}

func auditErrorCode(err error) AuditErrorCode {
	if err == nil {
		return ""
	}

	switch {
	case errors.Is(err, ErrValidation):
		return auditErrValidation
	case errors.Is(err, ErrNotFound):
		return auditErrNotFound
	case errors.Is(err, ErrExpired):
		return auditErrExpired
	case errors.Is(err, ErrAttemptsExceeded):
		return auditErrAttemptsExceeded
	case errors.Is(err, ErrLockedOut):
		return auditErrLockedOut
	case errors.Is(err, ErrRateLimited):
		return auditErrRateLimited
	case errors.Is(err, ErrDelivery):
		return auditErrDelivery
	case errors.Is(err, ErrConflict):
		return auditErrConflict
	case errors.Is(err, ErrStorage):
		return auditErrStorage
	case errors.Is(err, ErrCodeReplayed):
		return auditErrCodeReplayed
	case errors.Is(err, ErrCodeInvalid):
		return auditErrCodeInvalid
	case errors.Is(err, ErrOriginDenied):
		return auditErrOriginDenied
	case errors.Is(err, ErrFactorDisabled):
		return auditErrFactorDisabled
	default:
		return auditErrInternal
	}
}
