package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	goMFA "github.com/MrEthical07/goMFA"
	"github.com/MrEthical07/goMFA/hashing"
	mfaotel "github.com/MrEthical07/goMFA/metrics/export/otel"
	"github.com/MrEthical07/goMFA/notify"
	"github.com/MrEthical07/goMFA/store"
	"github.com/MrEthical07/goMFA/store/memstore"
	"github.com/MrEthical07/goMFA/store/sqlstore"
	"github.com/alicebob/miniredis/v2"
	"github.com/pquerna/otp"
	"github.com/pquerna/otp/totp"
	"github.com/redis/go-redis/v9"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"
)

const raceSecret = "JBSWY3DPEHPK3PXPJBSWY3DPEHPK3PXP"

func main() {
	var (
		workers     = flag.Int("workers", 64, "goroutines racing on each single-use code")
		backend     = flag.String("store", "sqlite", "store backend: sqlite or memory")
		dsn         = flag.String("dsn", "", "sqlite file; defaults to a temporary file")
		redisAddr   = flag.String("redis-addr", "", "redis address; if empty, REDIS_ADDR env or miniredis is used")
		sends       = flag.Int("sends", 20000, "SMS sends in the throughput phase")
		users       = flag.Int("users", 1000, "distinct users the sends are spread over")
		concurrency = flag.Int("concurrency", 128, "concurrent senders in the throughput phase")
		sendLimit   = flag.Int("send-limit", 5, "SMS sends allowed per user per window")
	)
	flag.Parse()

	if *workers <= 0 || *sends <= 0 || *users <= 0 || *concurrency <= 0 || *sendLimit <= 0 {
		fmt.Fprintln(os.Stderr, "workers, sends, users, concurrency and send-limit must be > 0")
		os.Exit(2)
	}

	ctx := context.Background()

	addr := *redisAddr
	if addr == "" {
		addr = os.Getenv("REDIS_ADDR")
	}

	var (
		cleanup func()
		client  redis.UniversalClient
	)
	if addr == "" {
		mr, err := miniredis.Run()
		if err != nil {
			fmt.Fprintf(os.Stderr, "failed to start miniredis: %v\n", err)
			os.Exit(1)
		}
		client = redis.NewUniversalClient(&redis.UniversalOptions{Addrs: []string{mr.Addr()}})
		cleanup = func() {
			_ = client.Close()
			mr.Close()
		}
		fmt.Printf("using miniredis at %s\n", mr.Addr())
	} else {
		client = redis.NewUniversalClient(&redis.UniversalOptions{Addrs: []string{addr}})
		cleanup = func() { _ = client.Close() }
		fmt.Printf("using redis at %s\n", addr)
	}
	defer cleanup()

	st, closeStore, err := openStore(ctx, *backend, *dsn)
	if err != nil {
		fmt.Fprintf(os.Stderr, "store: %v\n", err)
		os.Exit(1)
	}
	defer closeStore()

	cfg := goMFA.DefaultConfig()
	cfg.Hashing.Argon2 = hashing.Argon2Config{Memory: 8 * 1024, Time: 1, Parallelism: 1, SaltLength: 16, KeyLength: 16}
	cfg.RateLimit.Backend = goMFA.RateLimitRedis
	cfg.SMS.SendLimit = *sendLimit
	cfg.Metrics.EnableLatencyHistograms = true

	sms := notify.NewMock()
	engine, err := goMFA.New().
		WithConfig(cfg).
		WithStore(st).
		WithRedis(client).
		WithNotifier(cfg.SMS.Provider, sms).
		Build()
	if err != nil {
		fmt.Fprintf(os.Stderr, "build engine: %v\n", err)
		os.Exit(1)
	}
	defer engine.Close()

	races := []struct {
		name string
		run  func(context.Context, *goMFA.Engine, *notify.Mock, int) (int64, error)
	}{
		{"backup", raceBackupCode},
		{"totp", raceTOTPCode},
		{"sms", raceSMSCode},
	}

	fmt.Println("---- single-use races ----")
	failed := false
	for _, r := range races {
		successes, err := r.run(ctx, engine, sms, *workers)
		if err != nil {
			fmt.Fprintf(os.Stderr, "%s race setup: %v\n", r.name, err)
			os.Exit(1)
		}
		verdict := "ok"
		if successes != 1 {
			verdict = "VIOLATION"
			failed = true
		}
		fmt.Printf("%s: workers=%d successes=%d %s\n", r.name, *workers, successes, verdict)
	}

	sms.Reset()
	fmt.Println("---- send throughput ----")
	res := runSendPhase(ctx, engine, *sends, *users, *concurrency)
	printStats("sms send", res.stats)
	fmt.Printf("accepted=%d rate_limited=%d (limit %d x %d users = %d)\n",
		res.accepted, res.limited, *sendLimit, *users, *sendLimit**users)

	fmt.Println("---- engine counters ----")
	if err := printEngineCounters(ctx, engine); err != nil {
		fmt.Fprintf(os.Stderr, "collect metrics: %v\n", err)
	}

	if failed {
		os.Exit(1)
	}
}

func openStore(ctx context.Context, backend, dsn string) (store.Store, func(), error) {
	switch backend {
	case "memory":
		return memstore.New(), func() {}, nil
	case "sqlite":
		var tmp string
		if dsn == "" {
			dir, err := os.MkdirTemp("", "mfa-loadtest")
			if err != nil {
				return nil, nil, err
			}
			tmp = dir
			dsn = filepath.Join(dir, "mfa.db")
		}
		s, err := sqlstore.Open(ctx, sqlstore.DriverSQLite, dsn)
		if err != nil {
			return nil, nil, err
		}
		if err := s.Migrate(ctx); err != nil {
			_ = s.Close()
			return nil, nil, err
		}
		return s, func() {
			_ = s.Close()
			if tmp != "" {
				_ = os.RemoveAll(tmp)
			}
		}, nil
	}
	return nil, nil, fmt.Errorf("unknown store %q", backend)
}

// race releases workers goroutines at once against verify and counts the
// calls that succeeded.
func race(workers int, verify func() error) int64 {
	var (
		wg        sync.WaitGroup
		successes int64
	)
	start := make(chan struct{})
	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			<-start
			if verify() == nil {
				atomic.AddInt64(&successes, 1)
			}
		}()
	}
	close(start)
	wg.Wait()
	return successes
}

func raceBackupCode(ctx context.Context, e *goMFA.Engine, _ *notify.Mock, workers int) (int64, error) {
	codes, err := e.GenerateBackupCodes(ctx, "race-backup", true)
	if err != nil {
		return 0, err
	}
	return race(workers, func() error {
		_, err := e.VerifyBackupCode(ctx, "race-backup", codes[0])
		return err
	}), nil
}

func raceTOTPCode(ctx context.Context, e *goMFA.Engine, _ *notify.Mock, workers int) (int64, error) {
	const user = "race-totp"
	_ = e.DisableTOTP(ctx, user)
	if _, err := e.BeginTOTPSetup(ctx, user, user, raceSecret); err != nil {
		return 0, err
	}

	// Confirm with the previous step so the current one is still unused.
	now := time.Now()
	prev, err := totpCode(now.Add(-30 * time.Second))
	if err != nil {
		return 0, err
	}
	if _, err := e.ConfirmTOTPSetup(ctx, user, prev); err != nil {
		return 0, err
	}
	code, err := totpCode(now)
	if err != nil {
		return 0, err
	}
	return race(workers, func() error {
		_, err := e.VerifyTOTP(ctx, user, code)
		return err
	}), nil
}

func totpCode(at time.Time) (string, error) {
	return totp.GenerateCodeCustom(raceSecret, at, totp.ValidateOpts{
		Period:    30,
		Digits:    otp.DigitsSix,
		Algorithm: otp.AlgorithmSHA1,
	})
}

func raceSMSCode(ctx context.Context, e *goMFA.Engine, sms *notify.Mock, workers int) (int64, error) {
	const (
		user  = "race-sms"
		phone = "+15550000000"
	)
	if _, err := e.SendSMSCode(ctx, user, phone); err != nil {
		return 0, err
	}
	code, ok := sms.LastCode(phone)
	if !ok {
		return 0, errors.New("no code delivered")
	}
	return race(workers, func() error {
		_, err := e.VerifySMSCode(ctx, user, code)
		return err
	}), nil
}

type sendResult struct {
	stats    phaseStats
	accepted int64
	limited  int64
}

func runSendPhase(ctx context.Context, e *goMFA.Engine, ops, users, concurrency int) sendResult {
	var (
		wg        sync.WaitGroup
		cursor    int64
		failures  int64
		accepted  int64
		limited   int64
		latencies = make([]time.Duration, 0, ops)
		mu        sync.Mutex
	)

	start := time.Now()
	for w := 0; w < concurrency; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for {
				i := int(atomic.AddInt64(&cursor, 1)) - 1
				if i >= ops {
					return
				}
				u := i % users
				t0 := time.Now()
				_, err := e.SendSMSCode(ctx, fmt.Sprintf("load-%d", u), fmt.Sprintf("+1555%07d", u))
				d := time.Since(t0)
				switch {
				case err == nil:
					atomic.AddInt64(&accepted, 1)
				case errors.Is(err, goMFA.ErrRateLimited):
					atomic.AddInt64(&limited, 1)
				default:
					atomic.AddInt64(&failures, 1)
				}
				mu.Lock()
				latencies = append(latencies, d)
				mu.Unlock()
			}
		}()
	}
	wg.Wait()
	total := time.Since(start)
	return sendResult{
		stats:    computeStats(total, latencies, failures),
		accepted: accepted,
		limited:  limited,
	}
}

type phaseStats struct {
	total    time.Duration
	ops      int
	failures int64
	p50      time.Duration
	p95      time.Duration
	p99      time.Duration
	opsPerS  float64
}

func computeStats(total time.Duration, samples []time.Duration, failures int64) phaseStats {
	if len(samples) == 0 {
		return phaseStats{total: total}
	}
	sort.Slice(samples, func(i, j int) bool { return samples[i] < samples[j] })
	return phaseStats{
		total:    total,
		ops:      len(samples),
		failures: failures,
		p50:      percentile(samples, 50),
		p95:      percentile(samples, 95),
		p99:      percentile(samples, 99),
		opsPerS:  float64(len(samples)) / total.Seconds(),
	}
}

func percentile(samples []time.Duration, p int) time.Duration {
	if len(samples) == 0 {
		return 0
	}
	if p <= 0 {
		return samples[0]
	}
	if p >= 100 {
		return samples[len(samples)-1]
	}
	idx := (len(samples) - 1) * p / 100
	return samples[idx]
}

func printStats(name string, s phaseStats) {
	fmt.Printf("%s: ops=%d failures=%d total=%s ops/sec=%.0f p50=%s p95=%s p99=%s\n",
		name,
		s.ops,
		s.failures,
		s.total.Round(time.Millisecond),
		s.opsPerS,
		s.p50.Round(time.Microsecond),
		s.p95.Round(time.Microsecond),
		s.p99.Round(time.Microsecond),
	)
}

// printEngineCounters collects the engine's counters once through an
// OpenTelemetry manual reader and prints the non-zero ones.
func printEngineCounters(ctx context.Context, engine *goMFA.Engine) error {
	reader := sdkmetric.NewManualReader()
	provider := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
	defer func() { _ = provider.Shutdown(ctx) }()

	exp, err := mfaotel.NewOTelExporter(provider.Meter("mfa-loadtest"), engine)
	if err != nil {
		return err
	}
	defer func() { _ = exp.Close() }()

	var rm metricdata.ResourceMetrics
	if err := reader.Collect(ctx, &rm); err != nil {
		return err
	}

	var lines []string
	for _, sm := range rm.ScopeMetrics {
		for _, m := range sm.Metrics {
			sum, ok := m.Data.(metricdata.Sum[int64])
			if !ok {
				continue
			}
			for _, dp := range sum.DataPoints {
				if dp.Value != 0 {
					lines = append(lines, fmt.Sprintf("%s=%d", m.Name, dp.Value))
				}
			}
		}
	}
	sort.Strings(lines)
	for _, l := range lines {
		fmt.Println(l)
	}
	return nil
}
