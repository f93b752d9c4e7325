package goMFA

import (
	"context"
	"errors"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"
	"unicode/utf8"

	"github.com/MrEthical07/goMFA/notify"
	"github.com/MrEthical07/goMFA/store"
	"github.com/MrEthical07/goMFA/store/memstore"
)

const testPhone = "+15551234567"

func sentCode(t *testing.T, env *testEnv, to string) string {
	t.Helper()
	code, ok := env.sms.LastCode(to)
	if !ok {
		code, ok = env.email.LastCode(to)
	}
	if !ok {
		t.Fatalf("no code delivered to %s", to)
	}
	return code
}

// otherCode returns a well-formed code different from code.
func otherCode(code string) string {
	last := code[len(code)-1]
	if last == '9' {
		return code[:len(code)-1] + "0"
	}
	return code[:len(code)-1] + string(last+1)
}

func TestSMSCodeVerifiesOnce(t *testing.T) {
	env := newTestEnv(t, testConfig())
	ctx := context.Background()

	res, err := env.engine.SendSMSCode(ctx, "7", testPhone)
	if err != nil {
		t.Fatalf("SendSMSCode failed: %v", err)
	}
	if res.MaskedDestination != "+1555***4567" {
		t.Fatalf("unexpected mask %q", res.MaskedDestination)
	}
	if want := env.clock.Now().Add(600 * time.Second); !res.ExpiresAt.Equal(want) {
		t.Fatalf("expected expiry %v, got %v", want, res.ExpiresAt)
	}

	msgs := env.sms.Messages()
	if len(msgs) != 1 {
		t.Fatalf("expected one message, got %d", len(msgs))
	}
	code := msgs[0].Code
	if len(code) != 6 || msgs[0].Body != "Your verification code is "+code {
		t.Fatalf("unexpected message %+v", msgs[0])
	}

	out, err := env.engine.VerifySMSCode(ctx, "7", code)
	if err != nil {
		t.Fatalf("VerifySMSCode failed: %v", err)
	}
	if !out.OK || out.Factor != FactorSMS {
		t.Fatalf("unexpected result %+v", out)
	}

	if _, err := env.engine.VerifySMSCode(ctx, "7", code); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound on second verify, got %v", err)
	}

	if got := env.audit.count(auditEventCodeSent); got != 1 {
		t.Fatalf("expected 1 code_sent event, got %d", got)
	}
	if got := env.audit.count(auditEventCodeVerified); got != 1 {
		t.Fatalf("expected 1 code_verified event, got %d", got)
	}
}

func TestCodeNeverStoredInPlaintext(t *testing.T) {
	env := newTestEnv(t, testConfig())
	ctx := context.Background()

	if _, err := env.engine.SendSMSCode(ctx, "7", testPhone); err != nil {
		t.Fatalf("SendSMSCode failed: %v", err)
	}
	code := sentCode(t, env, testPhone)

	rec, err := env.store.LatestOneTimeCode(ctx, "7", store.ChannelSMS)
	if err != nil {
		t.Fatalf("LatestOneTimeCode failed: %v", err)
	}
	if strings.Contains(rec.CodeHash, code) {
		t.Fatal("code hash contains the plaintext code")
	}
	if rec.Destination != "+1555***4567" {
		t.Fatalf("stored destination must be masked, got %q", rec.Destination)
	}
}

func TestNewCodeInvalidatesPrevious(t *testing.T) {
	env := newTestEnv(t, testConfig())
	ctx := context.Background()

	if _, err := env.engine.SendSMSCode(ctx, "7", testPhone); err != nil {
		t.Fatalf("SendSMSCode failed: %v", err)
	}
	first := sentCode(t, env, testPhone)
	if _, err := env.engine.SendSMSCode(ctx, "7", testPhone); err != nil {
		t.Fatalf("SendSMSCode failed: %v", err)
	}
	second := sentCode(t, env, testPhone)

	if first != second {
		if _, err := env.engine.VerifySMSCode(ctx, "7", first); !errors.Is(err, ErrCodeInvalid) {
			t.Fatalf("expected superseded code to fail, got %v", err)
		}
	}
	if _, err := env.engine.VerifySMSCode(ctx, "7", second); err != nil {
		t.Fatalf("expected newest code to verify, got %v", err)
	}
}

func TestCodeExpires(t *testing.T) {
	env := newTestEnv(t, testConfig())
	ctx := context.Background()

	if _, err := env.engine.SendEmailCode(ctx, "7", "jane@example.com"); err != nil {
		t.Fatalf("SendEmailCode failed: %v", err)
	}
	code := sentCode(t, env, "jane@example.com")

	env.clock.Advance(600 * time.Second)
	if _, err := env.engine.VerifyEmailCode(ctx, "7", code); !errors.Is(err, ErrExpired) {
		t.Fatalf("expected ErrExpired, got %v", err)
	}
}

func TestCodeAttemptsExhausted(t *testing.T) {
	env := newTestEnv(t, testConfig())
	ctx := context.Background()

	if _, err := env.engine.SendSMSCode(ctx, "7", testPhone); err != nil {
		t.Fatalf("SendSMSCode failed: %v", err)
	}
	code := sentCode(t, env, testPhone)
	wrong := otherCode(code)

	for i := 1; i <= 3; i++ {
		_, err := env.engine.VerifySMSCode(ctx, "7", wrong)
		var invalidErr *InvalidCodeError
		if !errors.As(err, &invalidErr) {
			t.Fatalf("attempt %d: expected InvalidCodeError, got %v", i, err)
		}
		if invalidErr.AttemptsRemaining != 3-i {
			t.Fatalf("attempt %d: expected %d remaining, got %d", i, 3-i, invalidErr.AttemptsRemaining)
		}
	}

	if _, err := env.engine.VerifySMSCode(ctx, "7", code); !errors.Is(err, ErrAttemptsExceeded) {
		t.Fatalf("expected ErrAttemptsExceeded with correct code, got %v", err)
	}

	status, err := env.engine.Status(ctx, "7", FactorSMS)
	if err != nil {
		t.Fatalf("Status failed: %v", err)
	}
	if status.HasActive {
		t.Fatal("exhausted code must not be reported active")
	}
}

func TestCodeVerifyMalformedNotCounted(t *testing.T) {
	env := newTestEnv(t, testConfig())
	ctx := context.Background()

	if _, err := env.engine.SendSMSCode(ctx, "7", testPhone); err != nil {
		t.Fatalf("SendSMSCode failed: %v", err)
	}
	if _, err := env.engine.VerifySMSCode(ctx, "7", "12a456"); !errors.Is(err, ErrValidation) {
		t.Fatalf("expected ErrValidation, got %v", err)
	}
	rec, err := env.store.LatestOneTimeCode(ctx, "7", store.ChannelSMS)
	if err != nil {
		t.Fatalf("LatestOneTimeCode failed: %v", err)
	}
	if rec.Attempts != 0 {
		t.Fatalf("malformed code consumed an attempt: %d", rec.Attempts)
	}
}

func TestSendRateLimitedStoreBackend(t *testing.T) {
	env := newTestEnv(t, testConfig())
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		if _, err := env.engine.SendSMSCode(ctx, "7", testPhone); err != nil {
			t.Fatalf("send %d failed: %v", i+1, err)
		}
		env.clock.Advance(time.Minute)
	}

	_, err := env.engine.SendSMSCode(ctx, "7", testPhone)
	var rateErr *RateLimitError
	if !errors.As(err, &rateErr) {
		t.Fatalf("expected RateLimitError on 6th send, got %v", err)
	}
	if rateErr.RetryAfter != 55*time.Minute {
		t.Fatalf("expected retry after 55m, got %v", rateErr.RetryAfter)
	}
	if got := len(env.sms.Messages()); got != 5 {
		t.Fatalf("rate-limited send must not deliver, got %d messages", got)
	}
	if got := env.audit.count(auditEventCodeSendRateLimited); got != 1 {
		t.Fatalf("expected 1 rate-limited event, got %d", got)
	}

	status, err := env.engine.Status(ctx, "7", FactorSMS)
	if err != nil {
		t.Fatalf("Status failed: %v", err)
	}
	if status.NextAllowedAt == nil {
		t.Fatal("status should report the next allowed send")
	}

	env.clock.Advance(55 * time.Minute)
	if _, err := env.engine.SendSMSCode(ctx, "7", testPhone); err != nil {
		t.Fatalf("send after window moved failed: %v", err)
	}
}

func TestSendRateLimitedRedisBackend(t *testing.T) {
	_, client := newMiniRedis(t)

	cfg := testConfig()
	cfg.RateLimit.Backend = RateLimitRedis
	env := newTestEnv(t, cfg, func(b *Builder) { b.WithRedis(client) })
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		if _, err := env.engine.SendSMSCode(ctx, "7", testPhone); err != nil {
			t.Fatalf("send %d failed: %v", i+1, err)
		}
	}

	_, err := env.engine.SendSMSCode(ctx, "7", testPhone)
	var rateErr *RateLimitError
	if !errors.As(err, &rateErr) {
		t.Fatalf("expected RateLimitError on 6th send, got %v", err)
	}
	if rateErr.RetryAfter <= 0 {
		t.Fatalf("expected positive RetryAfter, got %v", rateErr.RetryAfter)
	}

	// Other users and channels have their own windows.
	if _, err := env.engine.SendSMSCode(ctx, "8", testPhone); err != nil {
		t.Fatalf("send for another user failed: %v", err)
	}
	if _, err := env.engine.SendEmailCode(ctx, "7", "jane@example.com"); err != nil {
		t.Fatalf("email send failed: %v", err)
	}
}

func TestRedisBackendRequiresClient(t *testing.T) {
	cfg := testConfig()
	cfg.RateLimit.Backend = RateLimitRedis

	_, err := New().WithConfig(cfg).WithStore(memstore.New()).Build()
	if err == nil {
		t.Fatal("expected Build to fail without a redis client")
	}
}

func TestDeliveryFailureInvalidatesCode(t *testing.T) {
	env := newTestEnv(t, testConfig())
	ctx := context.Background()
	gatewayDown := errors.New("gateway down")
	env.sms.Err = gatewayDown

	_, err := env.engine.SendSMSCode(ctx, "7", testPhone)
	var deliveryErr *DeliveryError
	if !errors.As(err, &deliveryErr) {
		t.Fatalf("expected DeliveryError, got %v", err)
	}
	if !errors.Is(err, ErrDelivery) || !errors.Is(err, gatewayDown) {
		t.Fatalf("delivery error must match ErrDelivery and the provider error: %v", err)
	}
	if deliveryErr.Provider != "sms" {
		t.Fatalf("unexpected provider %q", deliveryErr.Provider)
	}

	code := sentCode(t, env, testPhone)
	env.sms.Err = nil
	if _, err := env.engine.VerifySMSCode(ctx, "7", code); !errors.Is(err, ErrNotFound) {
		t.Fatalf("undelivered code must not verify, got %v", err)
	}

	n, _, err := env.store.CountOneTimeCodesSince(ctx, "7", store.ChannelSMS, env.clock.Now().Add(-time.Hour))
	if err != nil {
		t.Fatalf("CountOneTimeCodesSince failed: %v", err)
	}
	if n != 1 {
		t.Fatalf("failed send must still count toward the window, got %d", n)
	}
	if got := env.audit.count(auditEventCodeSendFailed); got != 1 {
		t.Fatalf("expected 1 code_send_failed event, got %d", got)
	}
}

func TestUnknownProviderIsDeliveryError(t *testing.T) {
	cfg := testConfig()
	cfg.Email.Provider = "ses"
	env := newTestEnv(t, cfg)

	_, err := env.engine.SendEmailCode(context.Background(), "7", "jane@example.com")
	if !errors.Is(err, ErrDelivery) {
		t.Fatalf("expected ErrDelivery, got %v", err)
	}
}

func TestSendRejectsBadDestination(t *testing.T) {
	env := newTestEnv(t, testConfig())
	ctx := context.Background()

	if _, err := env.engine.SendSMSCode(ctx, "7", "5551234567"); !errors.Is(err, ErrValidation) {
		t.Fatalf("expected ErrValidation for number without country code, got %v", err)
	}
	if _, err := env.engine.SendEmailCode(ctx, "7", "Jane <jane@example.com>"); !errors.Is(err, ErrValidation) {
		t.Fatalf("expected ErrValidation for display-name address, got %v", err)
	}
	if len(env.sms.Messages())+len(env.email.Messages()) != 0 {
		t.Fatal("invalid destinations must not be delivered to")
	}
}

func TestDefaultCountryCode(t *testing.T) {
	cfg := testConfig()
	cfg.SMS.DefaultCountryCode = "+44"
	env := newTestEnv(t, cfg)

	res, err := env.engine.SendSMSCode(context.Background(), "7", "07700 900123")
	if err != nil {
		t.Fatalf("SendSMSCode failed: %v", err)
	}
	if _, ok := env.sms.LastCode("+447700900123"); !ok {
		t.Fatalf("expected delivery to +447700900123, got %+v", env.sms.Messages())
	}
	if res.MaskedDestination != "+4477***0123" {
		t.Fatalf("unexpected mask %q", res.MaskedDestination)
	}
}

func TestNormalizePhone(t *testing.T) {
	tests := []struct {
		in      string
		cc      string
		want    string
		wantErr bool
	}{
		{in: "+1 (555) 123-4567", want: "+15551234567"},
		{in: "0049 30 1234567", want: "+49301234567"},
		{in: "+1.555.123.4567", want: "+15551234567"},
		{in: "030 1234567", cc: "+49", want: "+49301234567"},
		{in: "5551234567", wantErr: true},
		{in: "+0123456789", wantErr: true},
		{in: "+12345", wantErr: true},
		{in: "+1555123456789012", wantErr: true},
		{in: "+1555abc4567", wantErr: true},
	}

	for _, tt := range tests {
		got, err := normalizePhone(tt.in, tt.cc)
		if tt.wantErr {
			if !errors.Is(err, ErrValidation) {
				t.Fatalf("normalizePhone(%q): expected validation error, got %q, %v", tt.in, got, err)
			}
			continue
		}
		if err != nil || got != tt.want {
			t.Fatalf("normalizePhone(%q) = %q, %v; want %q", tt.in, got, err, tt.want)
		}
	}
}

func TestNormalizeEmail(t *testing.T) {
	tests := []struct {
		in      string
		want    string
		wantErr bool
	}{
		{in: "jane@example.com", want: "jane@example.com"},
		{in: "  Jane.Doe@Example.COM ", want: "Jane.Doe@example.com"},
		{in: "jane@localhost", wantErr: true},
		{in: "jane", wantErr: true},
		{in: "Jane <jane@example.com>", wantErr: true},
		{in: "jane@example.com.", wantErr: true},
	}

	for _, tt := range tests {
		got, err := normalizeEmail(tt.in)
		if tt.wantErr {
			if !errors.Is(err, ErrValidation) {
				t.Fatalf("normalizeEmail(%q): expected validation error, got %q, %v", tt.in, got, err)
			}
			continue
		}
		if err != nil || got != tt.want {
			t.Fatalf("normalizeEmail(%q) = %q, %v; want %q", tt.in, got, err, tt.want)
		}
	}
}

func TestMaskDestinations(t *testing.T) {
	if got := maskPhone("+15551234567"); got != "+1555***4567" {
		t.Fatalf("maskPhone = %q", got)
	}
	if got := maskPhone("+4912345"); got != "+4***45" {
		t.Fatalf("maskPhone short = %q", got)
	}
	if got := maskEmail("jane@example.com"); got != "j***@example.com" {
		t.Fatalf("maskEmail = %q", got)
	}
	if got := maskEmail("élise@example.com"); got != "é***@example.com" || !utf8.ValidString(got) {
		t.Fatalf("maskEmail multibyte = %q", got)
	}
}

func TestEmailCodeUsesSubject(t *testing.T) {
	env := newTestEnv(t, testConfig())

	res, err := env.engine.SendEmailCode(context.Background(), "7", "jane@example.com")
	if err != nil {
		t.Fatalf("SendEmailCode failed: %v", err)
	}
	if res.MaskedDestination != "j***@example.com" {
		t.Fatalf("unexpected mask %q", res.MaskedDestination)
	}
	msgs := env.email.Messages()
	if len(msgs) != 1 || msgs[0].Subject == "" || msgs[0].Channel != "email" {
		t.Fatalf("unexpected email message %+v", msgs)
	}
}

func TestConcurrentCodeVerifySucceedsOnce(t *testing.T) {
	for _, tc := range []struct {
		factor Factor
		to     string
	}{
		{FactorSMS, testPhone},
		{FactorEmail, "jane@example.com"},
	} {
		t.Run(string(tc.factor), func(t *testing.T) {
			env := newTestEnv(t, testConfig())
			ctx := context.Background()

			if _, err := env.engine.Issue(ctx, IssueRequest{UserID: "7", Factor: tc.factor, Destination: tc.to}); err != nil {
				t.Fatalf("Issue failed: %v", err)
			}
			code := sentCode(t, env, tc.to)

			const workers = 12
			var (
				wg        sync.WaitGroup
				successes atomic.Int32
				start     = make(chan struct{})
			)
			for i := 0; i < workers; i++ {
				wg.Add(1)
				go func() {
					defer wg.Done()
					<-start
					if _, err := env.engine.Verify(ctx, VerifyRequest{UserID: "7", Factor: tc.factor, Code: code}); err == nil {
						successes.Add(1)
					}
				}()
			}
			close(start)
			wg.Wait()

			if got := successes.Load(); got != 1 {
				t.Fatalf("expected exactly one success, got %d", got)
			}
			if got := env.audit.count(auditEventCodeVerified); got != 1 {
				t.Fatalf("expected 1 code_verified event, got %d", got)
			}
		})
	}
}

func TestDeliveryFailureKeepsConcurrentlyIssuedCode(t *testing.T) {
	var (
		engine *Engine
		calls  atomic.Int32
		second string
	)
	flaky := notify.NotifierFunc(func(ctx context.Context, msg notify.Message) error {
		if calls.Add(1) > 1 {
			second = msg.Code
			return nil
		}
		// Another send for the same user completes while this one fails.
		if _, err := engine.SendSMSCode(ctx, msg.UserID, msg.To); err != nil {
			t.Errorf("second send failed: %v", err)
		}
		return errors.New("gateway timeout")
	})

	env := newTestEnv(t, testConfig(), func(b *Builder) { b.WithNotifier("sms", flaky) })
	engine = env.engine
	ctx := context.Background()

	if _, err := env.engine.SendSMSCode(ctx, "7", testPhone); !errors.Is(err, ErrDelivery) {
		t.Fatalf("expected ErrDelivery, got %v", err)
	}
	if second == "" {
		t.Fatal("second code was not delivered")
	}
	if _, err := env.engine.VerifySMSCode(ctx, "7", second); err != nil {
		t.Fatalf("delivered code must survive the failed send, got %v", err)
	}
}
