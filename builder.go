package goMFA

import (
	"errors"
	"io"

	"github.com/MrEthical07/goMFA/assertion"
	"github.com/MrEthical07/goMFA/hashing"
	"github.com/MrEthical07/goMFA/internal/audit"
	"github.com/MrEthical07/goMFA/internal/limiters"
	"github.com/MrEthical07/goMFA/internal/otp"
	"github.com/MrEthical07/goMFA/internal/secretbox"
	"github.com/MrEthical07/goMFA/notify"
	"github.com/MrEthical07/goMFA/store"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// Builder assembles an [Engine]. A Builder is single-use: the second Build
// call fails.
type Builder struct {
	config    Config
	deps      Dependencies
	notifiers *notify.Registry
	redis     redis.UniversalClient
	logger    *zap.Logger

	built bool
}

// New returns a Builder holding [DefaultConfig].
func New() *Builder {
	return &Builder{
		config:    DefaultConfig(),
		notifiers: notify.NewRegistry(),
	}
}

// WithConfig replaces the configuration with a copy of cfg.
func (b *Builder) WithConfig(cfg Config) *Builder {
	b.config = cloneConfig(cfg)
	return b
}

// WithDependencies sets every collaborator at once. Notifiers registered
// through WithNotifier are kept unless deps carries its own registry.
func (b *Builder) WithDependencies(deps Dependencies) *Builder {
	b.deps = deps
	if deps.Notifiers != nil {
		b.notifiers = deps.Notifiers
	}
	return b
}

// WithStore sets the persistence store. Required.
func (b *Builder) WithStore(s store.Store) *Builder {
	b.deps.Store = s
	return b
}

// WithClock overrides the time source. Defaults to the system clock.
func (b *Builder) WithClock(c Clock) *Builder {
	b.deps.Clock = c
	return b
}

// WithRandom sets the randomness source for secrets and codes. It must be
// cryptographically secure outside tests.
func (b *Builder) WithRandom(r io.Reader) *Builder {
	b.deps.Random = r
	return b
}

// WithHasher overrides the hasher built from Config.Hashing.
func (b *Builder) WithHasher(h hashing.Hasher) *Builder {
	b.deps.Hasher = h
	return b
}

// WithNotifier registers n under name. OTPChannelConfig.Provider selects it.
func (b *Builder) WithNotifier(name string, n notify.Notifier) *Builder {
	b.notifiers.Register(name, n)
	return b
}

// WithAuditSink sets where audit events go. Config.Audit decides whether
// delivery is synchronous or buffered.
func (b *Builder) WithAuditSink(sink AuditSink) *Builder {
	b.deps.AuditSink = sink
	return b
}

// WithLogger sets the operational logger. Nil means zap.NewNop.
func (b *Builder) WithLogger(logger *zap.Logger) *Builder {
	b.logger = logger
	return b
}

// WithRedis enables the Redis send-window backend and the backup-code
// failure throttle.
func (b *Builder) WithRedis(client redis.UniversalClient) *Builder {
	b.redis = client
	return b
}

// Build validates the configuration and wires the engine.
func (b *Builder) Build() (*Engine, error) {
	if b.built {
		return nil, errors.New("builder already used")
	}

	cfg := cloneConfig(b.config)
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	deps := b.deps
	deps.Notifiers = b.notifiers
	deps.fill()

	if deps.Store == nil {
		return nil, errors.New("store required")
	}
	if cfg.RateLimit.Backend == RateLimitRedis && b.redis == nil {
		return nil, errors.New("RateLimit Backend redis requires redis client")
	}

	logger := b.logger
	if logger == nil {
		logger = zap.NewNop()
	}

	engine := &Engine{
		config:    cfg,
		store:     deps.Store,
		clock:     deps.Clock,
		random:    deps.Random,
		notifiers: deps.Notifiers,
		logger:    logger.Named("mfa"),
		metrics:   NewMetrics(cfg.Metrics),
		otpParams: otp.Params{
			Digits:    cfg.TOTP.Digits,
			Period:    cfg.TOTP.Period,
			Skew:      cfg.TOTP.Skew,
			Algorithm: cfg.TOTP.Algorithm,
		},
		totpLockout: limiters.LockoutTracker{
			Threshold: cfg.Lockout.Threshold,
			Duration:  cfg.Lockout.Duration,
		},
	}

	// -------- HASHER --------
	if deps.Hasher != nil {
		engine.hasher = deps.Hasher
	} else {
		h, err := hashing.New(hashing.Config{
			Algorithm:  cfg.Hashing.Algorithm,
			Argon2:     cfg.Hashing.Argon2,
			BcryptCost: cfg.Hashing.BcryptCost,
		})
		if err != nil {
			return nil, err
		}
		engine.hasher = h
	}

	// -------- SECRET SEALING --------
	if len(cfg.TOTP.EncryptionKey) > 0 {
		box, err := secretbox.New(cfg.TOTP.EncryptionKey, deps.Random)
		if err != nil {
			return nil, err
		}
		engine.box = box
	}

	// -------- LIMITERS --------
	if cfg.RateLimit.Backend == RateLimitRedis {
		engine.smsLimiter = limiters.NewSendLimiter(b.redis, string(store.ChannelSMS), limiters.SendConfig{
			Limit:  cfg.SMS.SendLimit,
			Window: cfg.SMS.SendWindow,
		})
		engine.emailLimiter = limiters.NewSendLimiter(b.redis, string(store.ChannelEmail), limiters.SendConfig{
			Limit:  cfg.Email.SendLimit,
			Window: cfg.Email.SendWindow,
		})
	}
	engine.backupLimiter = limiters.NewBackupCodeLimiter(b.redis, limiters.BackupCodeConfig{
		MaxFailures: cfg.BackupCodes.MaxFailures,
		Cooldown:    cfg.BackupCodes.FailureCooldown,
	})

	// -------- ASSERTIONS --------
	if cfg.Assertion.Enabled {
		signer, err := assertion.NewSigner(assertion.Config{
			TTL:           cfg.Assertion.TTL,
			SigningMethod: assertion.SigningMethod(cfg.Assertion.SigningMethod),
			PrivateKey:    cloneBytes(cfg.Assertion.PrivateKey),
			PublicKey:     cloneBytes(cfg.Assertion.PublicKey),
			Issuer:        cfg.Assertion.Issuer,
			Audience:      cfg.Assertion.Audience,
			KeyID:         cfg.Assertion.KeyID,
		}, deps.Clock.Now)
		if err != nil {
			return nil, err
		}
		engine.signer = signer
	}

	// -------- AUDIT --------
	sink := deps.AuditSink
	if sink == nil {
		sink = NoOpSink{}
	}
	if cfg.Audit.Async {
		engine.dispatcher = audit.NewDispatcher(audit.Config{
			BufferSize: cfg.Audit.BufferSize,
			DropIfFull: cfg.Audit.DropIfFull,
		}, sink)
		engine.audit = engine.dispatcher
	} else {
		engine.audit = sink
	}

	b.built = true

	return engine, nil
}
