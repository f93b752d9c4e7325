package goMFA

import (
	"errors"
	"strings"
	"time"

	"github.com/MrEthical07/goMFA/assertion"
	"github.com/MrEthical07/goMFA/hashing"
	"github.com/MrEthical07/goMFA/internal/otp"
)

// Config is the full engine configuration. Obtain a baseline with
// [DefaultConfig], adjust fields, and hand it to [Builder.WithConfig]. The
// builder clones the value, so later mutation by the caller has no effect.
type Config struct {
	TOTP        TOTPConfig
	Lockout     LockoutConfig
	SMS         OTPChannelConfig
	Email       OTPChannelConfig
	BackupCodes BackupCodeConfig
	Network     NetworkConfig
	Hashing     HashingConfig
	RateLimit   RateLimitConfig
	Delivery    DeliveryConfig
	Audit       AuditConfig
	Metrics     MetricsConfig
	Assertion   AssertionConfig
}

/*
====================================
TOTP CONFIG
====================================
*/

// TOTPConfig shapes authenticator codes and enrolment.
type TOTPConfig struct {
	Enabled   bool
	Issuer    string
	Digits    int
	Period    int
	Skew      int
	Algorithm string // "SHA1" (default), "SHA256", "SHA512"
	// EncryptionKey, when 32 bytes, seals stored secrets with
	// XChaCha20-Poly1305. Empty keeps Base32 at rest.
	EncryptionKey []byte
}

/*
====================================
LOCKOUT CONFIG
====================================
*/

// LockoutConfig applies to TOTP verification.
type LockoutConfig struct {
	Threshold int
	Duration  time.Duration
}

/*
====================================
ONE-TIME CODE CONFIG
====================================
*/

// OTPChannelConfig configures one delivery channel (SMS or email).
type OTPChannelConfig struct {
	Enabled     bool
	Provider    string
	Digits      int
	TTL         time.Duration
	MaxAttempts int
	// SendLimit caps sends per user within SendWindow. Zero is unlimited;
	// every send is still audited.
	SendLimit  int
	SendWindow time.Duration
	// MessageTemplate is a fmt string with one %s for the code.
	MessageTemplate string
	Subject         string
	// DefaultCountryCode ("+1") is prefixed to national SMS numbers. Empty
	// rejects numbers without a leading '+'.
	DefaultCountryCode string
}

/*
====================================
BACKUP CODE CONFIG
====================================
*/

// BackupCodeConfig configures static recovery codes.
type BackupCodeConfig struct {
	Enabled      bool
	Count        int
	Length       int
	LowThreshold int
	// MaxFailures and FailureCooldown enable a Redis failure throttle when a
	// client is supplied. Zero MaxFailures disables it.
	MaxFailures     int
	FailureCooldown time.Duration
}

/*
====================================
NETWORK CONFIG
====================================
*/

// NetworkConfig toggles origin restriction.
type NetworkConfig struct {
	Enabled bool
}

/*
====================================
HASHING CONFIG
====================================
*/

// HashingConfig selects the at-rest hash for codes.
type HashingConfig struct {
	Algorithm  string // "argon2id" (default) or "bcrypt"
	Argon2     hashing.Argon2Config
	BcryptCost int
}

/*
====================================
RATE LIMIT CONFIG
====================================
*/

// RateLimitBackend selects where send windows are counted.
type RateLimitBackend string

const (
	// RateLimitStore counts issued codes in the persistence store inside the
	// issuing transaction.
	RateLimitStore RateLimitBackend = "store"
	// RateLimitRedis keeps a sorted-set sliding log per user in Redis.
	RateLimitRedis RateLimitBackend = "redis"
)

// RateLimitConfig selects the send-window backend.
type RateLimitConfig struct {
	Backend RateLimitBackend
}

/*
====================================
DELIVERY CONFIG
====================================
*/

// DeliveryConfig bounds notifier calls.
type DeliveryConfig struct {
	Timeout time.Duration
}

/*
====================================
AUDIT CONFIG
====================================
*/

// AuditConfig controls how audit events reach the sink.
type AuditConfig struct {
	// Async routes events through a buffered dispatcher goroutine.
	Async      bool
	BufferSize int
	DropIfFull bool
}

/*
====================================
METRICS CONFIG
====================================
*/

// MetricsConfig controls in-process counters.
type MetricsConfig struct {
	Enabled                 bool
	EnableLatencyHistograms bool
}

/*
====================================
ASSERTION CONFIG
====================================
*/

// AssertionConfig configures step-up tokens minted after a successful
// verification.
type AssertionConfig struct {
	Enabled       bool
	TTL           time.Duration
	SigningMethod string // "hs256" or "ed25519"
	PrivateKey    []byte
	PublicKey     []byte
	Issuer        string
	Audience      string
	KeyID         string
}

/*
====================================
DEFAULT CONFIG
====================================
*/

// DefaultConfig returns the production baseline.
func DefaultConfig() Config {
	return Config{
		TOTP: TOTPConfig{
			Enabled:   true,
			Issuer:    "goMFA",
			Digits:    6,
			Period:    30,
			Skew:      1,
			Algorithm: "SHA1",
		},
		Lockout: LockoutConfig{
			Threshold: 5,
			Duration:  30 * time.Minute,
		},
		SMS: OTPChannelConfig{
			Enabled:         true,
			Provider:        "sms",
			Digits:          6,
			TTL:             600 * time.Second,
			MaxAttempts:     3,
			SendLimit:       5,
			SendWindow:      3600 * time.Second,
			MessageTemplate: "Your verification code is %s",
		},
		Email: OTPChannelConfig{
			Enabled:         true,
			Provider:        "email",
			Digits:          6,
			TTL:             600 * time.Second,
			MaxAttempts:     3,
			SendLimit:       0,
			SendWindow:      3600 * time.Second,
			MessageTemplate: "Your verification code is %s. It expires in 10 minutes.",
			Subject:         "Your verification code",
		},
		BackupCodes: BackupCodeConfig{
			Enabled:         true,
			Count:           10,
			Length:          8,
			LowThreshold:    2,
			FailureCooldown: 15 * time.Minute,
		},
		Network: NetworkConfig{
			Enabled: true,
		},
		Hashing: HashingConfig{
			Algorithm:  hashing.AlgorithmArgon2id,
			Argon2:     hashing.DefaultArgon2Config(),
			BcryptCost: 12,
		},
		RateLimit: RateLimitConfig{
			Backend: RateLimitStore,
		},
		Delivery: DeliveryConfig{
			Timeout: 10 * time.Second,
		},
		Audit: AuditConfig{
			BufferSize: 1024,
		},
		Metrics: MetricsConfig{
			Enabled: true,
		},
		Assertion: AssertionConfig{
			TTL:           5 * time.Minute,
			SigningMethod: string(assertion.MethodHS256),
			Issuer:        "goMFA",
		},
	}
}

func cloneConfig(cfg Config) Config {
	out := cfg
	out.TOTP.EncryptionKey = cloneBytes(cfg.TOTP.EncryptionKey)
	out.Assertion.PrivateKey = cloneBytes(cfg.Assertion.PrivateKey)
	out.Assertion.PublicKey = cloneBytes(cfg.Assertion.PublicKey)
	return out
}

func cloneBytes(b []byte) []byte {
	if len(b) == 0 {
		return nil
	}
	out := make([]byte, len(b))
	copy(out, b)
	return out
}

/*
====================================
VALIDATION
====================================
*/

// Validate returns the first configuration violation, or nil.
func (c *Config) Validate() error {
	// TOTP
	if c.TOTP.Enabled {
		if strings.TrimSpace(c.TOTP.Issuer) == "" {
			return errors.New("TOTP Issuer must be set")
		}
		if strings.Contains(c.TOTP.Issuer, ":") {
			return errors.New("TOTP Issuer must not contain ':'")
		}
		if c.TOTP.Digits != 6 && c.TOTP.Digits != 8 {
			return errors.New("TOTP Digits must be 6 or 8")
		}
		if c.TOTP.Period <= 0 || c.TOTP.Period > 300 {
			return errors.New("TOTP Period must be within 1..300 seconds")
		}
		if c.TOTP.Skew < 0 || c.TOTP.Skew > 3 {
			return errors.New("TOTP Skew must be within 0..3")
		}
		if !otp.ValidAlgorithm(c.TOTP.Algorithm) {
			return errors.New("TOTP Algorithm must be SHA1, SHA256 or SHA512")
		}
		if len(c.TOTP.EncryptionKey) != 0 && len(c.TOTP.EncryptionKey) != 32 {
			return errors.New("TOTP EncryptionKey must be 32 bytes")
		}
	}

	// Lockout
	if c.Lockout.Threshold <= 0 {
		return errors.New("Lockout Threshold must be > 0")
	}
	if c.Lockout.Duration <= 0 {
		return errors.New("Lockout Duration must be > 0")
	}

	// One-time codes
	if err := c.SMS.validate("SMS"); err != nil {
		return err
	}
	if err := c.Email.validate("Email"); err != nil {
		return err
	}
	if cc := c.SMS.DefaultCountryCode; cc != "" && !validCountryCode(cc) {
		return errors.New("SMS DefaultCountryCode must look like +1 .. +999")
	}

	// Backup codes
	if c.BackupCodes.Enabled {
		if c.BackupCodes.Count <= 0 || c.BackupCodes.Count > 20 {
			return errors.New("BackupCodes Count must be within 1..20")
		}
		if c.BackupCodes.Length < 8 || c.BackupCodes.Length > 16 || c.BackupCodes.Length%2 != 0 {
			return errors.New("BackupCodes Length must be an even number within 8..16")
		}
		if c.BackupCodes.LowThreshold < 0 {
			return errors.New("BackupCodes LowThreshold must be >= 0")
		}
		if c.BackupCodes.MaxFailures < 0 {
			return errors.New("BackupCodes MaxFailures must be >= 0")
		}
		if c.BackupCodes.MaxFailures > 0 && c.BackupCodes.FailureCooldown <= 0 {
			return errors.New("BackupCodes FailureCooldown must be > 0 when MaxFailures is set")
		}
	}

	// Hashing
	switch strings.ToLower(c.Hashing.Algorithm) {
	case hashing.AlgorithmArgon2id, hashing.AlgorithmBcrypt:
	default:
		return errors.New("Hashing Algorithm must be argon2id or bcrypt")
	}

	// Rate limit
	switch c.RateLimit.Backend {
	case RateLimitStore, RateLimitRedis:
	default:
		return errors.New("RateLimit Backend must be store or redis")
	}

	if c.Delivery.Timeout <= 0 {
		return errors.New("Delivery Timeout must be > 0")
	}

	// Audit
	if c.Audit.Async && c.Audit.BufferSize <= 0 {
		return errors.New("Audit BufferSize must be > 0 when Async is true")
	}

	// Assertion
	if c.Assertion.Enabled {
		if c.Assertion.TTL <= 0 || c.Assertion.TTL > time.Hour {
			return errors.New("Assertion TTL must be within (0, 1h]")
		}
		switch assertion.SigningMethod(c.Assertion.SigningMethod) {
		case assertion.MethodHS256:
			if len(c.Assertion.PrivateKey) < 32 {
				return errors.New("hs256 requires a PrivateKey of at least 32 bytes")
			}
		case assertion.MethodEd25519:
			if len(c.Assertion.PrivateKey) == 0 {
				return errors.New("ed25519 requires PrivateKey")
			}
		default:
			return errors.New("unsupported Assertion signing method")
		}
	}

	return nil
}

func (c OTPChannelConfig) validate(name string) error {
	if !c.Enabled {
		return nil
	}
	if strings.TrimSpace(c.Provider) == "" {
		return errors.New(name + " Provider must be set")
	}
	if c.Digits < 6 || c.Digits > 10 {
		return errors.New(name + " Digits must be within 6..10")
	}
	if c.TTL <= 0 || c.TTL > time.Hour {
		return errors.New(name + " TTL must be within (0, 1h]")
	}
	if c.MaxAttempts <= 0 || c.MaxAttempts > 10 {
		return errors.New(name + " MaxAttempts must be within 1..10")
	}
	if c.SendLimit < 0 {
		return errors.New(name + " SendLimit must be >= 0")
	}
	if c.SendLimit > 0 && c.SendWindow <= 0 {
		return errors.New(name + " SendWindow must be > 0 when SendLimit is set")
	}
	if strings.Count(c.MessageTemplate, "%s") != 1 {
		return errors.New(name + " MessageTemplate must contain exactly one %s")
	}
	return nil
}

func validCountryCode(cc string) bool {
	if len(cc) < 2 || len(cc) > 4 || cc[0] != '+' || cc[1] == '0' {
		return false
	}
	for i := 1; i < len(cc); i++ {
		if cc[i] < '0' || cc[i] > '9' {
			return false
		}
	}
	return true
}
