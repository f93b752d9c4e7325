package goMFA

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/MrEthical07/goMFA/internal/otp"
	"github.com/MrEthical07/goMFA/notify"
	"github.com/MrEthical07/goMFA/store/memstore"
)

func newBenchmarkEngine(b *testing.B, clock Clock, sms *notify.Mock) *Engine {
	b.Helper()
	engine, err := New().
		WithConfig(testConfig()).
		WithStore(memstore.New()).
		WithClock(clock).
		WithNotifier("sms", sms).
		Build()
	if err != nil {
		b.Fatalf("Build failed: %v", err)
	}
	b.Cleanup(engine.Close)
	return engine
}

func BenchmarkVerifyTOTP(b *testing.B) {
	clock := newFakeClock()
	engine := newBenchmarkEngine(b, clock, notify.NewMock())
	ctx := context.Background()

	raw, err := otp.DecodeSecret(testSecret)
	if err != nil {
		b.Fatalf("DecodeSecret failed: %v", err)
	}
	params := otp.Params{Digits: 6, Period: 30, Algorithm: "SHA1"}
	codeAt := func(at time.Time) string {
		c, err := otp.TOTP(raw, at, params)
		if err != nil {
			b.Fatalf("TOTP failed: %v", err)
		}
		return c
	}

	if _, err := engine.BeginTOTPSetup(ctx, "u1", "", testSecret); err != nil {
		b.Fatalf("BeginTOTPSetup failed: %v", err)
	}
	if _, err := engine.ConfirmTOTPSetup(ctx, "u1", codeAt(clock.Now())); err != nil {
		b.Fatalf("ConfirmTOTPSetup failed: %v", err)
	}

	b.ReportAllocs()
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		// Each step is usable once.
		clock.Advance(30 * time.Second)
		if _, err := engine.VerifyTOTP(ctx, "u1", codeAt(clock.Now())); err != nil {
			b.Fatalf("VerifyTOTP failed: %v", err)
		}
	}
}

func BenchmarkSendAndVerifySMSCode(b *testing.B) {
	clock := newFakeClock()
	sms := notify.NewMock()
	engine := newBenchmarkEngine(b, clock, sms)
	ctx := context.Background()

	b.ReportAllocs()
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		user := fmt.Sprintf("u%d", i)
		if _, err := engine.SendSMSCode(ctx, user, testPhone); err != nil {
			b.Fatalf("SendSMSCode failed: %v", err)
		}
		code, _ := sms.LastCode(testPhone)
		if _, err := engine.VerifySMSCode(ctx, user, code); err != nil {
			b.Fatalf("VerifySMSCode failed: %v", err)
		}
	}
}

func BenchmarkCheckOrigin(b *testing.B) {
	engine := newBenchmarkEngine(b, newFakeClock(), notify.NewMock())
	ctx := context.Background()

	for i := 0; i < 32; i++ {
		if _, err := engine.AddRange(ctx, fmt.Sprintf("10.%d.0.0/16", i), RangeWhitelist, ""); err != nil {
			b.Fatalf("AddRange failed: %v", err)
		}
	}
	if _, err := engine.AddRange(ctx, "10.31.6.0/24", RangeBlacklist, ""); err != nil {
		b.Fatalf("AddRange failed: %v", err)
	}

	b.ReportAllocs()
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		if _, err := engine.CheckOrigin(ctx, "u1", "10.31.7.9"); err != nil {
			b.Fatalf("CheckOrigin failed: %v", err)
		}
	}
}
