package goMFA

import "github.com/MrEthical07/goMFA/internal/security"

// SecurityReport summarises the engine's effective posture.
type SecurityReport = security.Report

// SecurityReport derives the posture report from the built configuration.
// Warnings name settings an operator should review (unsealed secrets,
// unlimited sends, weak hashing, wide TOTP skew, droppable audit).
func (e *Engine) SecurityReport() SecurityReport {
	if e == nil {
		return SecurityReport{}
	}

	channel := func(c OTPChannelConfig) security.ChannelReport {
		return security.ChannelReport{
			Enabled:     c.Enabled,
			TTL:         c.TTL,
			MaxAttempts: c.MaxAttempts,
			SendLimit:   c.SendLimit,
			SendWindow:  c.SendWindow,
		}
	}

	return security.BuildReport(security.ReportInput{
		TOTPEnabled:       e.config.TOTP.Enabled,
		TOTPSkew:          e.config.TOTP.Skew,
		TOTPSecretsSealed: e.box != nil,
		LockoutThreshold:  e.config.Lockout.Threshold,
		LockoutDuration:   e.config.Lockout.Duration,
		SMS:               channel(e.config.SMS),
		Email:             channel(e.config.Email),
		BackupEnabled:     e.config.BackupCodes.Enabled,
		BackupMaxFailures: e.config.BackupCodes.MaxFailures,
		RedisAvailable:    e.backupLimiter != nil,
		NetworkEnabled:    e.config.Network.Enabled,
		Hashing: security.HashingReport{
			Algorithm:   e.config.Hashing.Algorithm,
			Memory:      e.config.Hashing.Argon2.Memory,
			Time:        e.config.Hashing.Argon2.Time,
			Parallelism: e.config.Hashing.Argon2.Parallelism,
			BcryptCost:  e.config.Hashing.BcryptCost,
		},
		RateLimitBackend:    string(e.config.RateLimit.Backend),
		AuditAsync:          e.config.Audit.Async,
		AuditDropIfFull:     e.config.Audit.DropIfFull,
		AssertionsEnabled:   e.signer != nil,
		AssertionSigningAlg: e.config.Assertion.SigningMethod,
	})
}
