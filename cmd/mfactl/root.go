package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"

	goMFA "github.com/MrEthical07/goMFA"
	"github.com/MrEthical07/goMFA/notify"
	"github.com/MrEthical07/goMFA/store"
	"github.com/MrEthical07/goMFA/store/memstore"
	"github.com/MrEthical07/goMFA/store/sqlstore"
	"github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

type app struct {
	configPath  string
	storeDriver string
	dsn         string
	logLevel    string
	logFile     string
	clientIP    string
	userAgent   string

	cfg     *fileConfig
	logger  *zap.Logger
	store   store.Store
	engine  *goMFA.Engine
	mocks   map[goMFA.Factor]*notify.Mock
	closers []io.Closer

	stdin  io.Reader
	stdout io.Writer
	stderr io.Writer
}

func newRootCommand(in io.Reader, out, errOut io.Writer) *cobra.Command {
	a := &app{
		mocks:  map[goMFA.Factor]*notify.Mock{},
		stdin:  in,
		stdout: out,
		stderr: errOut,
	}

	cmd := &cobra.Command{
		Use:           "mfactl",
		Short:         "Operate the goMFA second-factor engine",
		Long:          "mfactl enrols and verifies TOTP, SMS, email and backup-code factors, manages network ranges and inspects the audit trail against a goMFA store.",
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	cmd.PersistentFlags().StringVar(&a.configPath, "config", "", "config file (default mfactl.yaml in /etc/gomfa, $HOME/.gomfa or .)")
	cmd.PersistentFlags().StringVar(&a.storeDriver, "store-driver", "", "store driver: sqlite, pgx or memory")
	cmd.PersistentFlags().StringVar(&a.dsn, "dsn", "", "store data source name")
	cmd.PersistentFlags().StringVar(&a.logLevel, "log-level", "", "log level (debug, info, warn, error)")
	cmd.PersistentFlags().StringVar(&a.logFile, "log-file", "", "write logs to a rotated file instead of stderr")
	cmd.PersistentFlags().StringVar(&a.clientIP, "client-ip", "", "origin recorded on audit events")
	cmd.PersistentFlags().StringVar(&a.userAgent, "user-agent", "mfactl", "user agent recorded on audit events")

	cmd.PersistentPreRunE = func(cmd *cobra.Command, _ []string) error {
		return a.setup(cmd.Context())
	}
	cmd.PersistentPostRunE = func(*cobra.Command, []string) error {
		return a.teardown()
	}

	cmd.AddCommand(
		newMigrateCmd(a),
		newTOTPCmd(a),
		newCodeCmd(a),
		newBackupCmd(a),
		newRangeCmd(a),
		newOriginCmd(a),
		newStatusCmd(a),
		newAuditCmd(a),
		newReportCmd(a),
		newMetricsCmd(a),
	)
	return cmd
}

func (a *app) setup(ctx context.Context) error {
	cfg, err := loadConfig(a.configPath)
	if err != nil {
		return err
	}
	if a.storeDriver != "" {
		cfg.Store.Driver = a.storeDriver
	}
	if a.dsn != "" {
		cfg.Store.DSN = a.dsn
	}
	if a.logLevel != "" {
		cfg.Log.Level = a.logLevel
	}
	if a.logFile != "" {
		cfg.Log.File = a.logFile
	}
	a.cfg = cfg

	if a.logger, err = newLogger(cfg.Log, a.stderr); err != nil {
		return err
	}

	engineCfg, err := cfg.engineConfig()
	if err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}

	switch cfg.Store.Driver {
	case "memory":
		a.store = memstore.New()
	default:
		s, err := sqlstore.Open(ctx, cfg.Store.Driver, cfg.Store.DSN)
		if err != nil {
			return err
		}
		a.store = s
		a.closers = append(a.closers, s)
	}

	b := goMFA.New().
		WithConfig(engineCfg).
		WithStore(a.store).
		WithLogger(a.logger).
		WithAuditSink(goMFA.NewStoreSink(a.store, a.logger))

	if len(cfg.Redis.Addrs) > 0 {
		client := redis.NewUniversalClient(&redis.UniversalOptions{Addrs: cfg.Redis.Addrs})
		a.closers = append(a.closers, client)
		b.WithRedis(client)
	}

	for factor, chCfg := range map[goMFA.Factor]channelConfig{
		goMFA.FactorSMS:   cfg.SMS,
		goMFA.FactorEmail: cfg.Email,
	} {
		n, closer, err := buildNotifier(string(factor), chCfg)
		if err != nil {
			return err
		}
		if closer != nil {
			a.closers = append(a.closers, closer)
		}
		if m, ok := n.(*notify.Mock); ok {
			a.mocks[factor] = m
		}
		provider := engineCfg.SMS.Provider
		if factor == goMFA.FactorEmail {
			provider = engineCfg.Email.Provider
		}
		b.WithNotifier(provider, n)
	}

	a.engine, err = b.Build()
	return err
}

func (a *app) teardown() error {
	if a.engine != nil {
		a.engine.Close()
	}
	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i].Close(); err != nil {
			errs = append(errs, err)
		}
	}
	if a.logger != nil {
		_ = a.logger.Sync()
	}
	return errors.Join(errs...)
}

// ctx attaches the audit origin flags to the command context.
func (a *app) ctx(cmd *cobra.Command) context.Context {
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	if a.clientIP != "" {
		ctx = goMFA.WithClientIP(ctx, a.clientIP)
	}
	if a.userAgent != "" {
		ctx = goMFA.WithUserAgent(ctx, a.userAgent)
	}
	return ctx
}

func (a *app) printf(format string, args ...any) {
	fmt.Fprintf(a.stdout, format, args...)
}

func main() {
	if err := newRootCommand(os.Stdin, os.Stdout, os.Stderr).Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}
