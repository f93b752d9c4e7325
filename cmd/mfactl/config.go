package main

import (
	"encoding/base64"
	"errors"
	"fmt"
	"strings"
	"time"

	goMFA "github.com/MrEthical07/goMFA"
	"github.com/spf13/viper"
)

// fileConfig mirrors the YAML/TOML/JSON config file. Every key can also be
// set through MFA_* environment variables, e.g. MFA_STORE_DSN.
type fileConfig struct {
	Store   storeConfig   `mapstructure:"store"`
	Redis   redisConfig   `mapstructure:"redis"`
	Log     logConfig     `mapstructure:"log"`
	Metrics metricsConfig `mapstructure:"metrics"`
	SMS     channelConfig `mapstructure:"sms"`
	Email   channelConfig `mapstructure:"email"`
	MFA     mfaConfig     `mapstructure:"mfa"`
}

type storeConfig struct {
	Driver string `mapstructure:"driver"` // sqlite, pgx or memory
	DSN    string `mapstructure:"dsn"`
}

type redisConfig struct {
	Addrs []string `mapstructure:"addrs"`
}

type logConfig struct {
	Level       string `mapstructure:"level"`
	Development bool   `mapstructure:"development"`
	File        string `mapstructure:"file"`
	MaxSizeMB   int    `mapstructure:"max_size_mb"`
	MaxBackups  int    `mapstructure:"max_backups"`
	MaxAgeDays  int    `mapstructure:"max_age_days"`
	Compress    bool   `mapstructure:"compress"`
}

type metricsConfig struct {
	Listen string `mapstructure:"listen"`
}

// channelConfig selects and configures the notifier behind one OTP channel.
type channelConfig struct {
	Notifier      string        `mapstructure:"notifier"` // mock, webhook, smtp or kafka
	RatePerSecond float64       `mapstructure:"rate_per_second"`
	Burst         int           `mapstructure:"burst"`
	WebhookURL    string        `mapstructure:"webhook_url"`
	BearerToken   string        `mapstructure:"bearer_token"`
	Timeout       time.Duration `mapstructure:"timeout"`
	SMTPHost      string        `mapstructure:"smtp_host"`
	SMTPPort      int           `mapstructure:"smtp_port"`
	SMTPUsername  string        `mapstructure:"smtp_username"`
	SMTPPassword  string        `mapstructure:"smtp_password"`
	SMTPFrom      string        `mapstructure:"smtp_from"`
	SMTPStartTLS  bool          `mapstructure:"smtp_starttls"`
	KafkaBrokers  []string      `mapstructure:"kafka_brokers"`
	KafkaTopic    string        `mapstructure:"kafka_topic"`
}

type mfaConfig struct {
	TOTP struct {
		Enabled       bool   `mapstructure:"enabled"`
		Issuer        string `mapstructure:"issuer"`
		Digits        int    `mapstructure:"digits"`
		Period        int    `mapstructure:"period"`
		Skew          int    `mapstructure:"skew"`
		Algorithm     string `mapstructure:"algorithm"`
		EncryptionKey string `mapstructure:"encryption_key"` // base64
	} `mapstructure:"totp"`
	Lockout struct {
		Threshold int           `mapstructure:"threshold"`
		Duration  time.Duration `mapstructure:"duration"`
	} `mapstructure:"lockout"`
	SMS   otpChannelConfig `mapstructure:"sms"`
	Email otpChannelConfig `mapstructure:"email"`
	Backup struct {
		Enabled         bool          `mapstructure:"enabled"`
		Count           int           `mapstructure:"count"`
		LowThreshold    int           `mapstructure:"low_threshold"`
		MaxFailures     int           `mapstructure:"max_failures"`
		FailureCooldown time.Duration `mapstructure:"failure_cooldown"`
	} `mapstructure:"backup"`
	Network struct {
		Enabled bool `mapstructure:"enabled"`
	} `mapstructure:"network"`
	Hashing struct {
		Algorithm  string `mapstructure:"algorithm"`
		BcryptCost int    `mapstructure:"bcrypt_cost"`
	} `mapstructure:"hashing"`
	RateLimitBackend string `mapstructure:"rate_limit_backend"`
	Audit            struct {
		Async      bool `mapstructure:"async"`
		BufferSize int  `mapstructure:"buffer_size"`
		DropIfFull bool `mapstructure:"drop_if_full"`
	} `mapstructure:"audit"`
	Assertion struct {
		Enabled       bool          `mapstructure:"enabled"`
		TTL           time.Duration `mapstructure:"ttl"`
		SigningMethod string        `mapstructure:"signing_method"`
		PrivateKey    string        `mapstructure:"private_key"` // base64 or PEM
		PublicKey     string        `mapstructure:"public_key"`
		Issuer        string        `mapstructure:"issuer"`
		Audience      string        `mapstructure:"audience"`
	} `mapstructure:"assertion"`
}

type otpChannelConfig struct {
	Enabled            bool          `mapstructure:"enabled"`
	TTL                time.Duration `mapstructure:"ttl"`
	MaxAttempts        int           `mapstructure:"max_attempts"`
	SendLimit          int           `mapstructure:"send_limit"`
	SendWindow         time.Duration `mapstructure:"send_window"`
	Subject            string        `mapstructure:"subject"`
	DefaultCountryCode string        `mapstructure:"default_country_code"`
}

// loadConfig reads path (or mfactl.{yaml,toml,json} from the usual places)
// and MFA_* environment overrides. A missing default file is not an error.
func loadConfig(path string) (*fileConfig, error) {
	v := viper.New()
	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("mfactl")
		v.AddConfigPath("/etc/gomfa/")
		v.AddConfigPath("$HOME/.gomfa")
		v.AddConfigPath(".")
	}
	setDefaults(v, goMFA.DefaultConfig())

	v.SetEnvPrefix("MFA")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if path != "" || !errors.As(err, &notFound) {
			return nil, fmt.Errorf("read config: %w", err)
		}
	}

	var cfg fileConfig
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}
	return &cfg, nil
}

func setDefaults(v *viper.Viper, d goMFA.Config) {
	v.SetDefault("store.driver", "sqlite")
	v.SetDefault("store.dsn", "gomfa.db")
	v.SetDefault("redis.addrs", []string{})
	v.SetDefault("log.level", "info")
	v.SetDefault("log.development", false)
	v.SetDefault("log.file", "")
	v.SetDefault("log.max_size_mb", 100)
	v.SetDefault("log.max_backups", 5)
	v.SetDefault("log.max_age_days", 30)
	v.SetDefault("log.compress", true)
	v.SetDefault("metrics.listen", "")

	for _, ch := range []string{"sms", "email"} {
		v.SetDefault(ch+".notifier", "mock")
		v.SetDefault(ch+".rate_per_second", 0.0)
		v.SetDefault(ch+".burst", 1)
		v.SetDefault(ch+".webhook_url", "")
		v.SetDefault(ch+".bearer_token", "")
		v.SetDefault(ch+".timeout", d.Delivery.Timeout)
		v.SetDefault(ch+".smtp_host", "")
		v.SetDefault(ch+".smtp_port", 587)
		v.SetDefault(ch+".smtp_username", "")
		v.SetDefault(ch+".smtp_password", "")
		v.SetDefault(ch+".smtp_from", "")
		v.SetDefault(ch+".smtp_starttls", true)
		v.SetDefault(ch+".kafka_brokers", []string{})
		v.SetDefault(ch+".kafka_topic", "mfa-"+ch)
	}

	v.SetDefault("mfa.totp.enabled", d.TOTP.Enabled)
	v.SetDefault("mfa.totp.issuer", d.TOTP.Issuer)
	v.SetDefault("mfa.totp.digits", d.TOTP.Digits)
	v.SetDefault("mfa.totp.period", d.TOTP.Period)
	v.SetDefault("mfa.totp.skew", d.TOTP.Skew)
	v.SetDefault("mfa.totp.algorithm", d.TOTP.Algorithm)
	v.SetDefault("mfa.totp.encryption_key", "")
	v.SetDefault("mfa.lockout.threshold", d.Lockout.Threshold)
	v.SetDefault("mfa.lockout.duration", d.Lockout.Duration)
	channelDefaults(v, "mfa.sms", d.SMS)
	channelDefaults(v, "mfa.email", d.Email)
	v.SetDefault("mfa.backup.enabled", d.BackupCodes.Enabled)
	v.SetDefault("mfa.backup.count", d.BackupCodes.Count)
	v.SetDefault("mfa.backup.low_threshold", d.BackupCodes.LowThreshold)
	v.SetDefault("mfa.backup.max_failures", d.BackupCodes.MaxFailures)
	v.SetDefault("mfa.backup.failure_cooldown", d.BackupCodes.FailureCooldown)
	v.SetDefault("mfa.network.enabled", d.Network.Enabled)
	v.SetDefault("mfa.hashing.algorithm", d.Hashing.Algorithm)
	v.SetDefault("mfa.hashing.bcrypt_cost", d.Hashing.BcryptCost)
	v.SetDefault("mfa.rate_limit_backend", string(d.RateLimit.Backend))
	v.SetDefault("mfa.audit.async", d.Audit.Async)
	v.SetDefault("mfa.audit.buffer_size", d.Audit.BufferSize)
	v.SetDefault("mfa.audit.drop_if_full", d.Audit.DropIfFull)
	v.SetDefault("mfa.assertion.enabled", d.Assertion.Enabled)
	v.SetDefault("mfa.assertion.ttl", d.Assertion.TTL)
	v.SetDefault("mfa.assertion.signing_method", d.Assertion.SigningMethod)
	v.SetDefault("mfa.assertion.private_key", "")
	v.SetDefault("mfa.assertion.public_key", "")
	v.SetDefault("mfa.assertion.issuer", d.Assertion.Issuer)
	v.SetDefault("mfa.assertion.audience", d.Assertion.Audience)
}

func channelDefaults(v *viper.Viper, prefix string, c goMFA.OTPChannelConfig) {
	v.SetDefault(prefix+".enabled", c.Enabled)
	v.SetDefault(prefix+".ttl", c.TTL)
	v.SetDefault(prefix+".max_attempts", c.MaxAttempts)
	v.SetDefault(prefix+".send_limit", c.SendLimit)
	v.SetDefault(prefix+".send_window", c.SendWindow)
	v.SetDefault(prefix+".subject", c.Subject)
	v.SetDefault(prefix+".default_country_code", c.DefaultCountryCode)
}

// engineConfig maps the file layout onto the engine configuration. Key
// material is base64 in the file; PEM keys are accepted verbatim.
func (c *fileConfig) engineConfig() (goMFA.Config, error) {
	cfg := goMFA.DefaultConfig()
	m := c.MFA

	cfg.TOTP.Enabled = m.TOTP.Enabled
	cfg.TOTP.Issuer = m.TOTP.Issuer
	cfg.TOTP.Digits = m.TOTP.Digits
	cfg.TOTP.Period = m.TOTP.Period
	cfg.TOTP.Skew = m.TOTP.Skew
	cfg.TOTP.Algorithm = m.TOTP.Algorithm
	key, err := decodeKey(m.TOTP.EncryptionKey)
	if err != nil {
		return cfg, fmt.Errorf("mfa.totp.encryption_key: %w", err)
	}
	cfg.TOTP.EncryptionKey = key

	cfg.Lockout.Threshold = m.Lockout.Threshold
	cfg.Lockout.Duration = m.Lockout.Duration

	m.SMS.apply(&cfg.SMS)
	m.Email.apply(&cfg.Email)

	cfg.BackupCodes.Enabled = m.Backup.Enabled
	cfg.BackupCodes.Count = m.Backup.Count
	cfg.BackupCodes.LowThreshold = m.Backup.LowThreshold
	cfg.BackupCodes.MaxFailures = m.Backup.MaxFailures
	cfg.BackupCodes.FailureCooldown = m.Backup.FailureCooldown

	cfg.Network.Enabled = m.Network.Enabled
	cfg.Hashing.Algorithm = m.Hashing.Algorithm
	cfg.Hashing.BcryptCost = m.Hashing.BcryptCost
	cfg.RateLimit.Backend = goMFA.RateLimitBackend(m.RateLimitBackend)
	cfg.Audit.Async = m.Audit.Async
	cfg.Audit.BufferSize = m.Audit.BufferSize
	cfg.Audit.DropIfFull = m.Audit.DropIfFull
	cfg.Metrics.EnableLatencyHistograms = c.Metrics.Listen != ""

	cfg.Assertion.Enabled = m.Assertion.Enabled
	cfg.Assertion.TTL = m.Assertion.TTL
	cfg.Assertion.SigningMethod = m.Assertion.SigningMethod
	cfg.Assertion.Issuer = m.Assertion.Issuer
	cfg.Assertion.Audience = m.Assertion.Audience
	if cfg.Assertion.PrivateKey, err = decodeKey(m.Assertion.PrivateKey); err != nil {
		return cfg, fmt.Errorf("mfa.assertion.private_key: %w", err)
	}
	if cfg.Assertion.PublicKey, err = decodeKey(m.Assertion.PublicKey); err != nil {
		return cfg, fmt.Errorf("mfa.assertion.public_key: %w", err)
	}

	return cfg, cfg.Validate()
}

func (o otpChannelConfig) apply(c *goMFA.OTPChannelConfig) {
	c.Enabled = o.Enabled
	c.TTL = o.TTL
	c.MaxAttempts = o.MaxAttempts
	c.SendLimit = o.SendLimit
	c.SendWindow = o.SendWindow
	c.Subject = o.Subject
	c.DefaultCountryCode = o.DefaultCountryCode
}

func decodeKey(s string) ([]byte, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil, nil
	}
	if strings.HasPrefix(s, "-----BEGIN") {
		return []byte(s), nil
	}
	return base64.StdEncoding.DecodeString(s)
}
