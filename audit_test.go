package goMFA

import (
	"context"
	"strings"
	"testing"
	"time"
)

type gateSink struct {
	gate chan struct{}
}

func newGateSink() *gateSink {
	return &gateSink{gate: make(chan struct{})}
}

func (s *gateSink) Emit(context.Context, AuditEvent) {
	<-s.gate
}

func TestAuditNoSecretsInEvents(t *testing.T) {
	env := newTestEnv(t, testConfig())
	ctx := context.Background()

	enrolTOTP(t, env, "u1", testSecret)
	env.clock.Advance(30 * time.Second)
	totpCode := totpCodeAt(t, testSecret, env.clock.Now())
	if _, err := env.engine.VerifyTOTP(ctx, "u1", totpCode); err != nil {
		t.Fatalf("VerifyTOTP failed: %v", err)
	}

	if _, err := env.engine.SendSMSCode(ctx, "u1", testPhone); err != nil {
		t.Fatalf("SendSMSCode failed: %v", err)
	}
	smsCode := sentCode(t, env, testPhone)
	if _, err := env.engine.VerifySMSCode(ctx, "u1", otherCode(smsCode)); err == nil {
		t.Fatal("expected wrong sms code to fail")
	}
	if _, err := env.engine.VerifySMSCode(ctx, "u1", smsCode); err != nil {
		t.Fatalf("VerifySMSCode failed: %v", err)
	}

	backup, err := env.engine.GenerateBackupCodes(ctx, "u1", false)
	if err != nil {
		t.Fatalf("GenerateBackupCodes failed: %v", err)
	}
	if _, err := env.engine.VerifyBackupCode(ctx, "u1", backup[0]); err != nil {
		t.Fatalf("VerifyBackupCode failed: %v", err)
	}

	needles := append([]string{testSecret, totpCode, smsCode, testPhone}, backup...)
	for _, c := range backup {
		needles = append(needles, strings.ReplaceAll(c, "-", ""))
	}

	env.audit.mu.Lock()
	events := append([]AuditEvent(nil), env.audit.events...)
	env.audit.mu.Unlock()
	if len(events) == 0 {
		t.Fatal("expected audit events")
	}

	for _, ev := range events {
		fields := []string{ev.Error, ev.Origin, ev.UserAgent}
		for _, v := range ev.Detail {
			fields = append(fields, v)
		}
		for _, f := range fields {
			for _, needle := range needles {
				if needle != "" && strings.Contains(f, needle) {
					t.Fatalf("event %s leaks %q in %q", ev.Event, needle, f)
				}
			}
		}
	}
}

func TestAsyncAuditDropIfFullDoesNotBlock(t *testing.T) {
	cfg := testConfig()
	cfg.Audit.Async = true
	cfg.Audit.BufferSize = 1
	cfg.Audit.DropIfFull = true

	sink := newGateSink()
	env := newTestEnv(t, cfg, func(b *Builder) { b.WithAuditSink(sink) })
	t.Cleanup(func() { close(sink.gate) })
	ctx := context.Background()

	start := time.Now()
	for i := 0; i < 5; i++ {
		if _, err := env.engine.CheckOrigin(ctx, "u1", "10.0.0.1"); err != nil {
			t.Fatalf("CheckOrigin failed: %v", err)
		}
	}
	if time.Since(start) > time.Second {
		t.Fatal("operations blocked on a full audit buffer")
	}
	if env.engine.AuditDropped() == 0 {
		t.Fatal("expected dropped events to be counted")
	}
}

func TestAsyncAuditBlocksWhenNotDropping(t *testing.T) {
	cfg := testConfig()
	cfg.Audit.Async = true
	cfg.Audit.BufferSize = 1
	cfg.Audit.DropIfFull = false

	sink := newGateSink()
	env := newTestEnv(t, cfg, func(b *Builder) { b.WithAuditSink(sink) })
	ctx := context.Background()

	// One event is held by the worker and one sits in the buffer.
	for i := 0; i < 2; i++ {
		if _, err := env.engine.CheckOrigin(ctx, "u1", "10.0.0.1"); err != nil {
			t.Fatalf("CheckOrigin failed: %v", err)
		}
	}

	done := make(chan struct{})
	go func() {
		_, _ = env.engine.CheckOrigin(ctx, "u1", "10.0.0.1")
		close(done)
	}()

	select {
	case <-done:
		t.Fatal("expected emit to block while the buffer is full")
	case <-time.After(150 * time.Millisecond):
	}

	close(sink.gate)
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("blocked operation did not resume after the sink drained")
	}
	if env.engine.AuditDropped() != 0 {
		t.Fatalf("expected no drops, got %d", env.engine.AuditDropped())
	}
}
