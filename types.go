package goMFA

import (
	"time"

	"github.com/MrEthical07/goMFA/store"
)

// Factor names a second factor. The value is used verbatim in audit events,
// metrics labels and assertion "amr" claims.
type Factor string

const (
	FactorTOTP    Factor = "totp"
	FactorSMS     Factor = "sms"
	FactorEmail   Factor = "email"
	FactorBackup  Factor = "backup"
	FactorNetwork Factor = "network"
)

func (f Factor) String() string { return string(f) }

func (f Factor) channel() (store.Channel, bool) {
	switch f {
	case FactorSMS:
		return store.ChannelSMS, true
	case FactorEmail:
		return store.ChannelEmail, true
	}
	return "", false
}

// TOTPSetup is returned by [Engine.BeginTOTPSetup]. Secret is the Base32 form
// shown to the user; it is not retrievable later.
type TOTPSetup struct {
	Secret          string
	ProvisioningURI string
}

// SendResult describes an issued SMS or email code.
type SendResult struct {
	CodeID            string
	ExpiresAt         time.Time
	MaskedDestination string
}

// VerifyResult is the outcome of a successful verification. Failures are
// reported as errors; see errors.go for the taxonomy.
type VerifyResult struct {
	OK     bool
	Factor Factor
	// RemainingCodes is the unused backup-code count after a backup verification.
	RemainingCodes int
	// Assertion is a signed step-up token when assertions are enabled.
	Assertion          string
	AssertionExpiresAt time.Time
}

// OriginDecision is the result of [Engine.CheckOrigin].
type OriginDecision struct {
	Allowed bool
	Reason  string
	// RangeID identifies the deciding range, empty when no range decided.
	RangeID string
}

// NetworkRange is the public view of a stored range.
type NetworkRange = store.NetworkRange

// RangeKind is whitelist or blacklist.
type RangeKind = store.RangeKind

const (
	RangeWhitelist = store.RangeWhitelist
	RangeBlacklist = store.RangeBlacklist
)

// IssueRequest is the generic issuance input dispatched by [Engine.Issue].
type IssueRequest struct {
	UserID string
	Factor Factor
	// Destination is the phone number or email address for SMS and email.
	Destination string
	// Regenerate replaces existing unused backup codes.
	Regenerate bool
	// AccountName labels the TOTP provisioning URI; defaults to UserID.
	AccountName string
	// Secret optionally supplies a Base32 TOTP secret.
	Secret string
}

// IssueResult carries whichever part applies to the factor.
type IssueResult struct {
	Factor      Factor
	CodeID      string
	ExpiresAt   time.Time
	BackupCodes []string
	Setup       *TOTPSetup
}

// VerifyRequest is the generic verification input dispatched by [Engine.Verify].
// For FactorNetwork, Code carries the origin IP.
type VerifyRequest struct {
	UserID string
	Factor Factor
	Code   string
}

// FactorStatus summarises a user's enrolment in one factor.
type FactorStatus struct {
	Factor    Factor
	HasActive bool
	// Remaining is unused backup codes, remaining attempts on the pending
	// one-time code, or failures left before TOTP lockout.
	Remaining     int
	NextAllowedAt *time.Time
	LockedUntil   *time.Time
	// StaleHashes counts unused backup codes hashed with settings older than
	// Config.Hashing. Regenerating the batch clears it.
	StaleHashes int
}
