// Package store defines the persisted MFA records and the transactional
// persistence contract the engine runs against.
//
// Every mutation that decides a verification outcome is a compare-and-swap:
// the write names the state it expects and reports whether it applied. Two
// concurrent callers racing on the same code therefore see exactly one
// successful swap regardless of backend.
package store

import (
	"context"
	"errors"
	"time"
)

var (
	// ErrNotFound is returned when a keyed record does not exist.
	ErrNotFound = errors.New("store: not found")
	// ErrConflict is returned when a unique constraint is violated.
	ErrConflict = errors.New("store: conflict")
)

// Channel identifies a one-time-code transport.
type Channel string

const (
	ChannelSMS   Channel = "sms"
	ChannelEmail Channel = "email"
)

// RangeKind is the effect of a network range.
type RangeKind string

const (
	RangeWhitelist RangeKind = "whitelist"
	RangeBlacklist RangeKind = "blacklist"
)

// TOTPSecret is a user's authenticator enrolment. Secret is either Base32 or a
// sealed value, never a raw byte string.
type TOTPSecret struct {
	UserID         string
	Secret         string
	Verified       bool
	LastCounter    int64
	FailedAttempts int
	LockoutUntil   *time.Time
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

// OneTimeCode is one issued SMS or email code.
type OneTimeCode struct {
	ID          string
	UserID      string
	Channel     Channel
	CodeHash    string
	Destination string
	CreatedAt   time.Time
	ExpiresAt   time.Time
	Attempts    int
	Verified    bool
	Invalidated bool
}

// BackupCode is one member of a user's batch.
type BackupCode struct {
	ID         string
	UserID     string
	CodeHash   string
	Used       bool
	UsedAt     *time.Time
	UsedOrigin string
	CreatedAt  time.Time
}

// NetworkRange is an allow or deny CIDR rule.
type NetworkRange struct {
	ID          string
	CIDR        string
	Kind        RangeKind
	Description string
	Enabled     bool
	CreatedAt   time.Time
}

// AuditEvent is an append-only audit row.
type AuditEvent struct {
	ID        string
	UserID    string
	Factor    string
	Event     string
	Detail    map[string]string
	Origin    string
	UserAgent string
	Success   bool
	Error     string
	Timestamp time.Time
}

// AuditFilter narrows ListAuditEvents. Zero fields match everything.
type AuditFilter struct {
	UserID string
	Factor string
	Since  time.Time
	Limit  int
}

// Tx is the set of operations available inside and outside a transaction.
type Tx interface {
	GetTOTPSecret(ctx context.Context, userID string) (*TOTPSecret, error)
	// PutTOTPSecret inserts or replaces the user's secret.
	PutTOTPSecret(ctx context.Context, s *TOTPSecret) error
	DeleteTOTPSecret(ctx context.Context, userID string) (bool, error)
	// AdvanceTOTPCounter sets LastCounter to counter only when counter is
	// greater than the stored value, clearing failures and lockout in the same
	// write. It reports whether the swap applied.
	AdvanceTOTPCounter(ctx context.Context, userID string, counter int64, now time.Time) (bool, error)
	// IncrementTOTPFailures adds one failure and returns the new count.
	IncrementTOTPFailures(ctx context.Context, userID string, now time.Time) (int, error)
	SetTOTPLockout(ctx context.Context, userID string, until time.Time, now time.Time) error
	ClearTOTPLockout(ctx context.Context, userID string, now time.Time) error
	MarkTOTPVerified(ctx context.Context, userID string, now time.Time) error

	InsertOneTimeCode(ctx context.Context, c *OneTimeCode) error
	// InvalidateOneTimeCodes flags every pending code of the user on channel and
	// returns how many were flagged.
	InvalidateOneTimeCodes(ctx context.Context, userID string, channel Channel) (int, error)
	// InvalidateOneTimeCode flags one pending code and reports whether it applied.
	InvalidateOneTimeCode(ctx context.Context, id string) (bool, error)
	// LockSendWindow blocks other transactions that lock the same user and
	// channel until the enclosing transaction ends. Outside a transaction it
	// returns immediately.
	LockSendWindow(ctx context.Context, userID string, channel Channel) error
	// LatestOneTimeCode returns the newest code that is neither verified nor invalidated.
	LatestOneTimeCode(ctx context.Context, userID string, channel Channel) (*OneTimeCode, error)
	// CountOneTimeCodesSince counts codes created strictly after since and
	// returns the creation time of the oldest of them.
	CountOneTimeCodesSince(ctx context.Context, userID string, channel Channel, since time.Time) (int, time.Time, error)
	// ReserveOneTimeCodeAttempt increments Attempts when it is below max and the
	// code is still pending. It returns the new count and false when nothing applied.
	ReserveOneTimeCodeAttempt(ctx context.Context, id string, max int) (int, bool, error)
	// MarkOneTimeCodeVerified flips a pending code to verified.
	MarkOneTimeCodeVerified(ctx context.Context, id string) (bool, error)

	InsertBackupCodes(ctx context.Context, codes []BackupCode) error
	// ListUnusedBackupCodes returns unused codes newest first.
	ListUnusedBackupCodes(ctx context.Context, userID string) ([]BackupCode, error)
	CountUnusedBackupCodes(ctx context.Context, userID string) (int, error)
	DeleteBackupCodes(ctx context.Context, userID string) (int, error)
	// MarkBackupCodeUsed flips an unused code to used.
	MarkBackupCodeUsed(ctx context.Context, id string, at time.Time, origin string) (bool, error)

	InsertNetworkRange(ctx context.Context, r *NetworkRange) error
	GetNetworkRange(ctx context.Context, id string) (*NetworkRange, error)
	ListNetworkRanges(ctx context.Context, enabledOnly bool) ([]NetworkRange, error)
	DeleteNetworkRange(ctx context.Context, id string) (bool, error)
	SetNetworkRangeEnabled(ctx context.Context, id string, enabled bool) (bool, error)

	AppendAuditEvent(ctx context.Context, e *AuditEvent) error
	ListAuditEvents(ctx context.Context, f AuditFilter) ([]AuditEvent, error)
}

// Store is a Tx that can also open transactions. fn's error rolls back.
type Store interface {
	Tx
	InTx(ctx context.Context, fn func(tx Tx) error) error
}
