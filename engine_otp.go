package goMFA

import (
	"context"
	"errors"
	"fmt"
	"net/mail"
	"regexp"
	"strconv"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/MrEthical07/goMFA/internal/limiters"
	"github.com/MrEthical07/goMFA/internal/otp"
	"github.com/MrEthical07/goMFA/internal/randutil"
	"github.com/MrEthical07/goMFA/notify"
	"github.com/MrEthical07/goMFA/store"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

var e164Pattern = regexp.MustCompile(`^\+[1-9][0-9]{6,14}$`)

// SendSMSCode issues a numeric code to an E.164 phone number. Numbers without
// a leading '+' are prefixed with SMS.DefaultCountryCode when configured.
func (e *Engine) SendSMSCode(ctx context.Context, userID, phone string) (*SendResult, error) {
	return e.sendCode(ctx, FactorSMS, userID, phone)
}

// SendEmailCode issues a numeric code to an email address.
func (e *Engine) SendEmailCode(ctx context.Context, userID, address string) (*SendResult, error) {
	return e.sendCode(ctx, FactorEmail, userID, address)
}

// VerifySMSCode checks code against the user's newest pending SMS code.
func (e *Engine) VerifySMSCode(ctx context.Context, userID, code string) (*VerifyResult, error) {
	return e.verifyCode(ctx, FactorSMS, userID, code)
}

// VerifyEmailCode checks code against the user's newest pending email code.
func (e *Engine) VerifyEmailCode(ctx context.Context, userID, code string) (*VerifyResult, error) {
	return e.verifyCode(ctx, FactorEmail, userID, code)
}

func (e *Engine) channelConfig(factor Factor) OTPChannelConfig {
	if factor == FactorEmail {
		return e.config.Email
	}
	return e.config.SMS
}

func (e *Engine) sendLimiter(factor Factor) *limiters.SendLimiter {
	if factor == FactorEmail {
		return e.emailLimiter
	}
	return e.smsLimiter
}

func (e *Engine) sendCode(ctx context.Context, factor Factor, userID, destination string) (*SendResult, error) {
	if err := e.ready(); err != nil {
		return nil, err
	}

	masked := ""
	res, err := e.issueCode(ctx, factor, userID, destination, &masked)
	if err != nil {
		event := auditEventCodeSendFailed
		var rateErr *RateLimitError
		if errors.As(err, &rateErr) {
			event = auditEventCodeSendRateLimited
			e.metricInc(MetricRateLimitHit)
		}
		e.emitAudit(ctx, event, factor, false, userID, err, func() map[string]string {
			detail := map[string]string{}
			if masked != "" {
				detail["destination"] = masked
			}
			if rateErr != nil {
				detail["retry_after"] = rateErr.RetryAfter.Round(time.Second).String()
			}
			return detail
		})
		return nil, err
	}

	if factor == FactorEmail {
		e.metricInc(MetricEmailSent)
	} else {
		e.metricInc(MetricSMSSent)
	}
	e.emitAudit(ctx, auditEventCodeSent, factor, true, userID, nil, func() map[string]string {
		return map[string]string{
			"destination": res.MaskedDestination,
			"code_id":     res.CodeID,
			"expires_at":  res.ExpiresAt.Format(time.RFC3339),
		}
	})
	return res, nil
}

func (e *Engine) issueCode(ctx context.Context, factor Factor, userID, destination string, masked *string) (*SendResult, error) {
	cfg := e.channelConfig(factor)
	channel, _ := factor.channel()
	if !cfg.Enabled {
		return nil, ErrFactorDisabled
	}
	if userID == "" {
		return nil, invalid("user_id", "must not be empty")
	}

	var (
		dest string
		err  error
	)
	if factor == FactorEmail {
		dest, err = normalizeEmail(destination)
		if err == nil {
			*masked = maskEmail(dest)
		}
	} else {
		dest, err = normalizePhone(destination, cfg.DefaultCountryCode)
		if err == nil {
			*masked = maskPhone(dest)
		}
	}
	if err != nil {
		return nil, err
	}

	now := e.now()
	codeID := uuid.NewString()

	if limiter := e.sendLimiter(factor); limiter != nil {
		retry, err := limiter.Reserve(ctx, userID, codeID, now)
		if errors.Is(err, limiters.ErrSendRateLimited) {
			return nil, &RateLimitError{RetryAfter: retry}
		}
		if err != nil {
			return nil, e.storageFault("send_window", err)
		}
	}

	code, err := randutil.NumericCode(e.random, cfg.Digits)
	if err != nil {
		return nil, err
	}
	hash, err := e.hasher.Hash(code)
	if err != nil {
		return nil, err
	}

	record := &store.OneTimeCode{
		ID:          codeID,
		UserID:      userID,
		Channel:     channel,
		CodeHash:    hash,
		Destination: *masked,
		CreatedAt:   now,
		ExpiresAt:   now.Add(cfg.TTL),
	}

	countInStore := e.config.RateLimit.Backend == RateLimitStore && cfg.SendLimit > 0
	var rateErr error
	err = e.store.InTx(ctx, func(tx store.Tx) error {
		if countInStore {
			if err := tx.LockSendWindow(ctx, userID, channel); err != nil {
				return err
			}
			n, oldest, err := tx.CountOneTimeCodesSince(ctx, userID, channel, now.Add(-cfg.SendWindow))
			if err != nil {
				return err
			}
			if n >= cfg.SendLimit {
				rateErr = &RateLimitError{RetryAfter: retryAfter(oldest, cfg.SendWindow, now)}
				return nil
			}
		}
		if _, err := tx.InvalidateOneTimeCodes(ctx, userID, channel); err != nil {
			return err
		}
		return tx.InsertOneTimeCode(ctx, record)
	})
	if err != nil {
		return nil, e.storageFault("code_issue", err)
	}
	if rateErr != nil {
		return nil, rateErr
	}

	if err := e.deliver(ctx, cfg, notify.Message{
		Channel: string(channel),
		UserID:  userID,
		To:      dest,
		Subject: cfg.Subject,
		Body:    fmt.Sprintf(cfg.MessageTemplate, code),
		Code:    code,
	}); err != nil {
		// The send still counts toward the window; only this code is withdrawn.
		if _, invErr := e.store.InvalidateOneTimeCode(context.WithoutCancel(ctx), codeID); invErr != nil {
			e.storageFault("code_invalidate", invErr)
		}
		return nil, err
	}

	return &SendResult{
		CodeID:            codeID,
		ExpiresAt:         record.ExpiresAt,
		MaskedDestination: *masked,
	}, nil
}

func (e *Engine) deliver(ctx context.Context, cfg OTPChannelConfig, msg notify.Message) error {
	n, err := e.notifiers.Get(cfg.Provider)
	if err != nil {
		e.metricInc(MetricCodeDeliveryFailed)
		return &DeliveryError{Provider: cfg.Provider, Err: err}
	}

	ctx, cancel := context.WithTimeout(ctx, e.config.Delivery.Timeout)
	defer cancel()

	if err := n.Send(ctx, msg); err != nil {
		e.metricInc(MetricCodeDeliveryFailed)
		e.logger.Error("code delivery failed",
			zap.String("provider", cfg.Provider),
			zap.String("channel", msg.Channel),
			zap.String("user_id", msg.UserID),
			zap.Error(err),
		)
		return &DeliveryError{Provider: cfg.Provider, Err: err}
	}
	return nil
}

func (e *Engine) verifyCode(ctx context.Context, factor Factor, userID, code string) (*VerifyResult, error) {
	if err := e.ready(); err != nil {
		return nil, err
	}
	defer e.observeVerify(time.Now())

	codeID, err := e.checkCode(ctx, factor, userID, code)
	if err != nil {
		switch {
		case errors.Is(err, ErrExpired):
			e.metricInc(MetricCodeExpired)
		case errors.Is(err, ErrAttemptsExceeded):
			e.metricInc(MetricCodeAttemptsExceeded)
		default:
			e.metricInc(MetricCodeFailed)
		}
		e.emitAudit(ctx, auditEventCodeFailed, factor, false, userID, err, func() map[string]string {
			detail := map[string]string{}
			if codeID != "" {
				detail["code_id"] = codeID
			}
			var invalidErr *InvalidCodeError
			if errors.As(err, &invalidErr) {
				detail["attempts_remaining"] = strconv.Itoa(invalidErr.AttemptsRemaining)
			}
			return detail
		})
		return nil, err
	}

	e.metricInc(MetricCodeVerified)
	e.emitAudit(ctx, auditEventCodeVerified, factor, true, userID, nil, func() map[string]string {
		return map[string]string{"code_id": codeID}
	})
	return e.verified(factor, userID, 0)
}

// checkCode reserves an attempt before comparing, so at most MaxAttempts
// comparisons ever run against one code regardless of concurrency, and only
// one caller can flip it to verified.
func (e *Engine) checkCode(ctx context.Context, factor Factor, userID, code string) (string, error) {
	cfg := e.channelConfig(factor)
	channel, _ := factor.channel()
	if !cfg.Enabled {
		return "", ErrFactorDisabled
	}
	if userID == "" {
		return "", invalid("user_id", "must not be empty")
	}
	normalized, ok := otp.NormalizeCode(code, cfg.Digits)
	if !ok {
		return "", invalid("code", "must be "+strconv.Itoa(cfg.Digits)+" digits")
	}

	rec, err := e.store.LatestOneTimeCode(ctx, userID, channel)
	if errors.Is(err, store.ErrNotFound) {
		return "", ErrNotFound
	}
	if err != nil {
		return "", e.storageFault("code_latest", err)
	}

	tracker := codeTracker(cfg)
	if !e.now().Before(rec.ExpiresAt) {
		return rec.ID, ErrExpired
	}
	if tracker.Exhausted(limiters.LockoutState{FailedAttempts: rec.Attempts}) {
		return rec.ID, ErrAttemptsExceeded
	}

	attempts, reserved, err := e.store.ReserveOneTimeCodeAttempt(ctx, rec.ID, cfg.MaxAttempts)
	if err != nil {
		return rec.ID, e.storageFault("code_reserve", err)
	}
	if !reserved {
		return rec.ID, ErrAttemptsExceeded
	}

	match, err := e.hasher.Verify(normalized, rec.CodeHash)
	if err != nil {
		return rec.ID, e.storageFault("code_compare", err)
	}
	if !match {
		return rec.ID, &InvalidCodeError{
			AttemptsRemaining: tracker.Remaining(limiters.LockoutState{FailedAttempts: attempts}),
		}
	}

	marked, err := e.store.MarkOneTimeCodeVerified(ctx, rec.ID)
	if err != nil {
		return rec.ID, e.storageFault("code_mark_verified", err)
	}
	if !marked {
		return rec.ID, ErrNotFound
	}
	return rec.ID, nil
}

func (e *Engine) codeStatus(ctx context.Context, factor Factor, userID string) (*FactorStatus, error) {
	cfg := e.channelConfig(factor)
	channel, _ := factor.channel()
	now := e.now()
	out := &FactorStatus{Factor: factor}

	rec, err := e.store.LatestOneTimeCode(ctx, userID, channel)
	switch {
	case err == nil:
		remaining := codeTracker(cfg).Remaining(limiters.LockoutState{FailedAttempts: rec.Attempts})
		if now.Before(rec.ExpiresAt) && remaining > 0 {
			out.HasActive = true
			out.Remaining = remaining
		}
	case !errors.Is(err, store.ErrNotFound):
		return nil, e.storageFault("code_status", err)
	}

	if cfg.SendLimit <= 0 {
		return out, nil
	}
	if limiter := e.sendLimiter(factor); limiter != nil {
		next, err := limiter.NextAllowed(ctx, userID, now)
		if err != nil {
			return nil, e.storageFault("send_window", err)
		}
		if !next.IsZero() {
			out.NextAllowedAt = &next
		}
		return out, nil
	}
	if e.config.RateLimit.Backend == RateLimitStore {
		n, oldest, err := e.store.CountOneTimeCodesSince(ctx, userID, channel, now.Add(-cfg.SendWindow))
		if err != nil {
			return nil, e.storageFault("code_status", err)
		}
		if n >= cfg.SendLimit {
			next := oldest.Add(cfg.SendWindow)
			out.NextAllowedAt = &next
		}
	}
	return out, nil
}

// codeTracker gates one-time codes on attempts only; they never lock, the
// code is simply spent.
func codeTracker(cfg OTPChannelConfig) limiters.LockoutTracker {
	return limiters.LockoutTracker{Threshold: cfg.MaxAttempts}
}

func retryAfter(oldest time.Time, window time.Duration, now time.Time) time.Duration {
	d := oldest.Add(window).Sub(now)
	if d < time.Second {
		d = time.Second
	}
	return d
}

func normalizePhone(raw, defaultCountryCode string) (string, error) {
	var b strings.Builder
	for _, r := range strings.TrimSpace(raw) {
		switch r {
		case ' ', '-', '.', '(', ')':
			continue
		}
		b.WriteRune(r)
	}
	phone := b.String()

	switch {
	case strings.HasPrefix(phone, "+"):
	case strings.HasPrefix(phone, "00"):
		phone = "+" + phone[2:]
	case defaultCountryCode != "":
		phone = defaultCountryCode + strings.TrimLeft(phone, "0")
	default:
		return "", invalid("phone", "must be E.164 with a leading '+'")
	}

	if !e164Pattern.MatchString(phone) {
		return "", invalid("phone", "must be E.164")
	}
	return phone, nil
}

func normalizeEmail(raw string) (string, error) {
	trimmed := strings.TrimSpace(raw)
	addr, err := mail.ParseAddress(trimmed)
	if err != nil || addr.Name != "" || addr.Address != trimmed {
		return "", invalid("email", "must be a bare address")
	}
	at := strings.LastIndexByte(addr.Address, '@')
	if at <= 0 || at == len(addr.Address)-1 {
		return "", invalid("email", "must be a bare address")
	}
	domain := strings.ToLower(addr.Address[at+1:])
	if !strings.Contains(domain, ".") || strings.HasPrefix(domain, ".") || strings.HasSuffix(domain, ".") {
		return "", invalid("email", "domain must be fully qualified")
	}
	return addr.Address[:at] + "@" + domain, nil
}

// maskPhone keeps the country prefix and the last four digits:
// +15551234567 -> +1555***4567.
func maskPhone(phone string) string {
	if len(phone) <= 9 {
		return phone[:2] + "***" + phone[len(phone)-2:]
	}
	return phone[:5] + "***" + phone[len(phone)-4:]
}

// maskEmail keeps the first character of the local part: j***@example.com.
func maskEmail(address string) string {
	at := strings.LastIndexByte(address, '@')
	if at <= 0 {
		return "***"
	}
	_, size := utf8.DecodeRuneInString(address)
	return address[:size] + "***" + address[at:]
}
