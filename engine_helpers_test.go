package goMFA

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/MrEthical07/goMFA/hashing"
	"github.com/MrEthical07/goMFA/internal/otp"
	"github.com/MrEthical07/goMFA/notify"
	"github.com/MrEthical07/goMFA/store"
	"github.com/MrEthical07/goMFA/store/memstore"
	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

type fakeClock struct {
	mu sync.Mutex
	t  time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{t: time.Date(2026, 3, 14, 9, 26, 40, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *fakeClock) Set(t time.Time) {
	c.mu.Lock()
	c.t = t
	c.mu.Unlock()
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.t = c.t.Add(d)
	c.mu.Unlock()
}

type recordingSink struct {
	mu     sync.Mutex
	events []AuditEvent
}

func (s *recordingSink) Emit(_ context.Context, e AuditEvent) {
	s.mu.Lock()
	s.events = append(s.events, e)
	s.mu.Unlock()
}

func (s *recordingSink) names() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]string, len(s.events))
	for i, e := range s.events {
		out[i] = e.Event
	}
	return out
}

func (s *recordingSink) count(event string) int {
	n := 0
	for _, name := range s.names() {
		if name == event {
			n++
		}
	}
	return n
}

func (s *recordingSink) last() AuditEvent {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.events) == 0 {
		return AuditEvent{}
	}
	return s.events[len(s.events)-1]
}

type testEnv struct {
	engine *Engine
	store  store.Store
	clock  *fakeClock
	sms    *notify.Mock
	email  *notify.Mock
	audit  *recordingSink
}

func testConfig() Config {
	cfg := DefaultConfig()
	cfg.Hashing.Argon2 = hashing.Argon2Config{
		Memory:      8 * 1024,
		Time:        1,
		Parallelism: 1,
		SaltLength:  16,
		KeyLength:   16,
	}
	cfg.BackupCodes.Count = 4
	return cfg
}

func newTestEnv(t *testing.T, cfg Config, opts ...func(*Builder)) *testEnv {
	t.Helper()

	env := &testEnv{
		store: memstore.New(),
		clock: newFakeClock(),
		sms:   notify.NewMock(),
		email: notify.NewMock(),
		audit: &recordingSink{},
	}
	b := New().
		WithConfig(cfg).
		WithStore(env.store).
		WithClock(env.clock).
		WithNotifier("sms", env.sms).
		WithNotifier("email", env.email).
		WithAuditSink(env.audit)
	for _, opt := range opts {
		opt(b)
	}

	engine, err := b.Build()
	if err != nil {
		t.Fatalf("Build failed: %v", err)
	}
	t.Cleanup(engine.Close)
	env.engine = engine
	return env
}

// wrongTOTPCode returns a well-formed code that matches no step in the
// default drift window around at.
func wrongTOTPCode(t *testing.T, secret string, at time.Time) string {
	t.Helper()
	window := map[string]bool{
		totpCodeAt(t, secret, at.Add(-30*time.Second)): true,
		totpCodeAt(t, secret, at):                      true,
		totpCodeAt(t, secret, at.Add(30*time.Second)):  true,
	}
	for _, c := range []string{"000000", "111111", "222222", "333333"} {
		if !window[c] {
			return c
		}
	}
	t.Fatal("no wrong code available")
	return ""
}

// enrolTOTP runs setup and confirmation at the current fake time.
func enrolTOTP(t *testing.T, env *testEnv, userID, secret string) {
	t.Helper()
	ctx := context.Background()
	if _, err := env.engine.BeginTOTPSetup(ctx, userID, "", secret); err != nil {
		t.Fatalf("BeginTOTPSetup failed: %v", err)
	}
	if _, err := env.engine.ConfirmTOTPSetup(ctx, userID, totpCodeAt(t, secret, env.clock.Now())); err != nil {
		t.Fatalf("ConfirmTOTPSetup failed: %v", err)
	}
}

func totpCodeAt(t *testing.T, secret string, at time.Time) string {
	t.Helper()
	raw, err := otp.DecodeSecret(secret)
	if err != nil {
		t.Fatalf("DecodeSecret failed: %v", err)
	}
	code, err := otp.TOTP(raw, at, otp.Params{Digits: 6, Period: 30, Algorithm: "SHA1"})
	if err != nil {
		t.Fatalf("TOTP failed: %v", err)
	}
	return code
}

func newMiniRedis(t *testing.T) (*miniredis.Miniredis, *redis.Client) {
	t.Helper()

	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("miniredis.Run failed: %v", err)
	}
	t.Cleanup(mr.Close)

	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return mr, client
}
