package security

import (
	"fmt"
	"time"
)

// HashingReport describes the active hasher.
type HashingReport struct {
	Algorithm   string
	Memory      uint32
	Time        uint32
	Parallelism uint8
	BcryptCost  int
}

// ChannelReport describes one one-time code channel.
type ChannelReport struct {
	Enabled     bool
	TTL         time.Duration
	MaxAttempts int
	SendLimit   int
	SendWindow  time.Duration
}

// Report is the engine posture summary.
type Report struct {
	TOTPEnabled         bool
	TOTPSkew            int
	TOTPSecretsSealed   bool
	LockoutThreshold    int
	LockoutDuration     time.Duration
	SMS                 ChannelReport
	Email               ChannelReport
	BackupEnabled       bool
	BackupThrottled     bool
	NetworkEnabled      bool
	Hashing             HashingReport
	RateLimitBackend    string
	AuditAsync          bool
	AuditMayDrop        bool
	AssertionsEnabled   bool
	AssertionSigningAlg string
	Warnings            []string
}

// ReportInput carries the settings BuildReport summarises.
type ReportInput struct {
	TOTPEnabled         bool
	TOTPSkew            int
	TOTPSecretsSealed   bool
	LockoutThreshold    int
	LockoutDuration     time.Duration
	SMS                 ChannelReport
	Email               ChannelReport
	BackupEnabled       bool
	BackupMaxFailures   int
	RedisAvailable      bool
	NetworkEnabled      bool
	Hashing             HashingReport
	RateLimitBackend    string
	AuditAsync          bool
	AuditDropIfFull     bool
	AssertionsEnabled   bool
	AssertionSigningAlg string
}

const (
	minArgon2MemoryKB = 19 * 1024
	minArgon2Time     = 2
	minBcryptCost     = 10
)

// BuildReport summarises posture and lists settings that weaken it. Warnings
// are ordered by factor and stable across calls.
func BuildReport(input ReportInput) Report {
	r := Report{
		TOTPEnabled:         input.TOTPEnabled,
		TOTPSkew:            input.TOTPSkew,
		TOTPSecretsSealed:   input.TOTPSecretsSealed,
		LockoutThreshold:    input.LockoutThreshold,
		LockoutDuration:     input.LockoutDuration,
		SMS:                 input.SMS,
		Email:               input.Email,
		BackupEnabled:       input.BackupEnabled,
		BackupThrottled:     input.BackupEnabled && input.BackupMaxFailures > 0 && input.RedisAvailable,
		NetworkEnabled:      input.NetworkEnabled,
		Hashing:             input.Hashing,
		RateLimitBackend:    input.RateLimitBackend,
		AuditAsync:          input.AuditAsync,
		AuditMayDrop:        input.AuditAsync && input.AuditDropIfFull,
		AssertionsEnabled:   input.AssertionsEnabled,
		AssertionSigningAlg: input.AssertionSigningAlg,
	}

	if input.TOTPEnabled {
		if !input.TOTPSecretsSealed {
			r.Warnings = append(r.Warnings, "totp secrets are stored unsealed; set TOTP.EncryptionKey")
		}
		if input.TOTPSkew > 1 {
			r.Warnings = append(r.Warnings, fmt.Sprintf("totp skew %d accepts codes up to %d steps away", input.TOTPSkew, input.TOTPSkew))
		}
	}
	if input.SMS.Enabled && input.SMS.SendLimit == 0 {
		r.Warnings = append(r.Warnings, "sms sends are unlimited")
	}
	if input.Email.Enabled && input.Email.SendLimit == 0 {
		r.Warnings = append(r.Warnings, "email sends are unlimited")
	}
	if input.BackupEnabled && !r.BackupThrottled {
		r.Warnings = append(r.Warnings, "backup code guesses are not throttled")
	}

	switch input.Hashing.Algorithm {
	case "bcrypt":
		if input.Hashing.BcryptCost < minBcryptCost {
			r.Warnings = append(r.Warnings, fmt.Sprintf("bcrypt cost %d is below %d", input.Hashing.BcryptCost, minBcryptCost))
		}
	default:
		if input.Hashing.Memory < minArgon2MemoryKB || input.Hashing.Time < minArgon2Time {
			r.Warnings = append(r.Warnings, "argon2id parameters are below 19 MiB / t=2")
		}
	}

	if r.AuditMayDrop {
		r.Warnings = append(r.Warnings, "audit events may be dropped when the buffer is full")
	}
	return r
}
