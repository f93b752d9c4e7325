// Package storetest holds a behavioural suite every store.Store must pass.
package storetest

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/MrEthical07/goMFA/store"
	"github.com/stretchr/testify/require"
)

// Run exercises s. newStore must return an empty store per call.
func Run(t *testing.T, newStore func(t *testing.T) store.Store) {
	t.Run("TOTPSecretLifecycle", func(t *testing.T) { testTOTPSecret(t, newStore(t)) })
	t.Run("TOTPCounterIsMonotonic", func(t *testing.T) { testTOTPCounter(t, newStore(t)) })
	t.Run("OneTimeCodes", func(t *testing.T) { testOneTimeCodes(t, newStore(t)) })
	t.Run("OneTimeCodeAttemptCap", func(t *testing.T) { testAttemptCap(t, newStore(t)) })
	t.Run("BackupCodes", func(t *testing.T) { testBackupCodes(t, newStore(t)) })
	t.Run("BackupCodeSingleUseUnderRace", func(t *testing.T) { testBackupRace(t, newStore(t)) })
	t.Run("NetworkRanges", func(t *testing.T) { testRanges(t, newStore(t)) })
	t.Run("AuditEvents", func(t *testing.T) { testAudit(t, newStore(t)) })
	t.Run("TransactionRollback", func(t *testing.T) { testRollback(t, newStore(t)) })
	t.Run("AuditRollback", func(t *testing.T) { testAuditRollback(t, newStore(t)) })
	t.Run("SendWindowUnderRace", func(t *testing.T) { testSendWindowRace(t, newStore(t)) })
}

var base = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

func testTOTPSecret(t *testing.T, s store.Store) {
	ctx := context.Background()
	_, err := s.GetTOTPSecret(ctx, "42")
	require.ErrorIs(t, err, store.ErrNotFound)

	require.NoError(t, s.PutTOTPSecret(ctx, &store.TOTPSecret{
		UserID: "42", Secret: "JBSWY3DPEHPK3PXP", CreatedAt: base, UpdatedAt: base,
	}))
	rec, err := s.GetTOTPSecret(ctx, "42")
	require.NoError(t, err)
	require.Equal(t, "JBSWY3DPEHPK3PXP", rec.Secret)
	require.False(t, rec.Verified)
	require.Nil(t, rec.LockoutUntil)

	require.NoError(t, s.MarkTOTPVerified(ctx, "42", base.Add(time.Minute)))
	n, err := s.IncrementTOTPFailures(ctx, "42", base)
	require.NoError(t, err)
	require.Equal(t, 1, n)
	n, err = s.IncrementTOTPFailures(ctx, "42", base)
	require.NoError(t, err)
	require.Equal(t, 2, n)

	until := base.Add(30 * time.Minute)
	require.NoError(t, s.SetTOTPLockout(ctx, "42", until, base))
	rec, err = s.GetTOTPSecret(ctx, "42")
	require.NoError(t, err)
	require.True(t, rec.Verified)
	require.Equal(t, 2, rec.FailedAttempts)
	require.NotNil(t, rec.LockoutUntil)
	require.True(t, until.Equal(*rec.LockoutUntil))

	require.NoError(t, s.ClearTOTPLockout(ctx, "42", base))
	rec, err = s.GetTOTPSecret(ctx, "42")
	require.NoError(t, err)
	require.Nil(t, rec.LockoutUntil)
	require.Equal(t, 0, rec.FailedAttempts)

	// Put replaces an existing row.
	require.NoError(t, s.PutTOTPSecret(ctx, &store.TOTPSecret{UserID: "42", Secret: "OTHER", CreatedAt: base, UpdatedAt: base}))
	rec, err = s.GetTOTPSecret(ctx, "42")
	require.NoError(t, err)
	require.Equal(t, "OTHER", rec.Secret)
	require.False(t, rec.Verified)

	ok, err := s.DeleteTOTPSecret(ctx, "42")
	require.NoError(t, err)
	require.True(t, ok)
	ok, err = s.DeleteTOTPSecret(ctx, "42")
	require.NoError(t, err)
	require.False(t, ok)
}

func testTOTPCounter(t *testing.T, s store.Store) {
	ctx := context.Background()
	require.NoError(t, s.PutTOTPSecret(ctx, &store.TOTPSecret{UserID: "u", Secret: "S", CreatedAt: base, UpdatedAt: base}))
	_, err := s.IncrementTOTPFailures(ctx, "u", base)
	require.NoError(t, err)

	ok, err := s.AdvanceTOTPCounter(ctx, "u", 100, base)
	require.NoError(t, err)
	require.True(t, ok)
	rec, err := s.GetTOTPSecret(ctx, "u")
	require.NoError(t, err)
	require.Equal(t, int64(100), rec.LastCounter)
	require.Equal(t, 0, rec.FailedAttempts)

	for _, c := range []int64{100, 99} {
		ok, err = s.AdvanceTOTPCounter(ctx, "u", c, base)
		require.NoError(t, err)
		require.False(t, ok, "counter %d must not apply", c)
	}
	ok, err = s.AdvanceTOTPCounter(ctx, "u", 101, base)
	require.NoError(t, err)
	require.True(t, ok)
}

func newCode(id, user string, ch store.Channel, created time.Time) *store.OneTimeCode {
	return &store.OneTimeCode{
		ID: id, UserID: user, Channel: ch, CodeHash: "hash-" + id, Destination: "+15551234567",
		CreatedAt: created, ExpiresAt: created.Add(10 * time.Minute),
	}
}

func testOneTimeCodes(t *testing.T, s store.Store) {
	ctx := context.Background()
	_, err := s.LatestOneTimeCode(ctx, "7", store.ChannelSMS)
	require.ErrorIs(t, err, store.ErrNotFound)

	require.NoError(t, s.InsertOneTimeCode(ctx, newCode("a", "7", store.ChannelSMS, base)))
	require.NoError(t, s.InsertOneTimeCode(ctx, newCode("b", "7", store.ChannelSMS, base.Add(time.Minute))))
	require.NoError(t, s.InsertOneTimeCode(ctx, newCode("e", "7", store.ChannelEmail, base.Add(2*time.Minute))))

	latest, err := s.LatestOneTimeCode(ctx, "7", store.ChannelSMS)
	require.NoError(t, err)
	require.Equal(t, "b", latest.ID)
	require.Equal(t, "hash-b", latest.CodeHash)
	require.True(t, base.Add(11*time.Minute).Equal(latest.ExpiresAt))

	n, oldest, err := s.CountOneTimeCodesSince(ctx, "7", store.ChannelSMS, base.Add(-time.Hour))
	require.NoError(t, err)
	require.Equal(t, 2, n)
	require.True(t, base.Equal(oldest))
	n, _, err = s.CountOneTimeCodesSince(ctx, "7", store.ChannelSMS, base)
	require.NoError(t, err)
	require.Equal(t, 1, n)

	ok, err := s.InvalidateOneTimeCode(ctx, "b")
	require.NoError(t, err)
	require.True(t, ok)
	ok, err = s.InvalidateOneTimeCode(ctx, "b")
	require.NoError(t, err)
	require.False(t, ok)
	latest, err = s.LatestOneTimeCode(ctx, "7", store.ChannelSMS)
	require.NoError(t, err)
	require.Equal(t, "a", latest.ID)

	invalidated, err := s.InvalidateOneTimeCodes(ctx, "7", store.ChannelSMS)
	require.NoError(t, err)
	require.Equal(t, 1, invalidated)
	_, err = s.LatestOneTimeCode(ctx, "7", store.ChannelSMS)
	require.ErrorIs(t, err, store.ErrNotFound)

	// Invalidated codes still count toward the send window.
	n, _, err = s.CountOneTimeCodesSince(ctx, "7", store.ChannelSMS, base.Add(-time.Hour))
	require.NoError(t, err)
	require.Equal(t, 2, n)

	email, err := s.LatestOneTimeCode(ctx, "7", store.ChannelEmail)
	require.NoError(t, err)
	ok, err = s.MarkOneTimeCodeVerified(ctx, email.ID)
	require.NoError(t, err)
	require.True(t, ok)
	ok, err = s.MarkOneTimeCodeVerified(ctx, email.ID)
	require.NoError(t, err)
	require.False(t, ok)
	_, err = s.LatestOneTimeCode(ctx, "7", store.ChannelEmail)
	require.ErrorIs(t, err, store.ErrNotFound)

	require.Error(t, s.InsertOneTimeCode(ctx, newCode("a", "7", store.ChannelSMS, base)))
}

func testAttemptCap(t *testing.T, s store.Store) {
	ctx := context.Background()
	require.NoError(t, s.InsertOneTimeCode(ctx, newCode("c1", "7", store.ChannelSMS, base)))

	var wg sync.WaitGroup
	var reserved atomic.Int32
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, ok, err := s.ReserveOneTimeCodeAttempt(ctx, "c1", 3)
			if err == nil && ok {
				reserved.Add(1)
			}
		}()
	}
	wg.Wait()
	require.Equal(t, int32(3), reserved.Load())

	latest, err := s.LatestOneTimeCode(ctx, "7", store.ChannelSMS)
	require.NoError(t, err)
	require.Equal(t, 3, latest.Attempts)

	_, ok, err := s.ReserveOneTimeCodeAttempt(ctx, "missing", 3)
	require.NoError(t, err)
	require.False(t, ok)
}

func batch(user string, n int, created time.Time) []store.BackupCode {
	codes := make([]store.BackupCode, n)
	for i := range codes {
		codes[i] = store.BackupCode{
			ID:        fmt.Sprintf("%s-%d-%d", user, created.Unix(), i),
			UserID:    user,
			CodeHash:  fmt.Sprintf("h%d", i),
			CreatedAt: created.Add(time.Duration(i) * time.Millisecond),
		}
	}
	return codes
}

func testBackupCodes(t *testing.T, s store.Store) {
	ctx := context.Background()
	require.NoError(t, s.InsertBackupCodes(ctx, batch("u", 10, base)))
	require.NoError(t, s.InsertBackupCodes(ctx, batch("other", 2, base)))

	n, err := s.CountUnusedBackupCodes(ctx, "u")
	require.NoError(t, err)
	require.Equal(t, 10, n)

	list, err := s.ListUnusedBackupCodes(ctx, "u")
	require.NoError(t, err)
	require.Len(t, list, 10)
	require.Equal(t, "h9", list[0].CodeHash)
	require.Equal(t, "h0", list[9].CodeHash)

	at := base.Add(time.Hour)
	ok, err := s.MarkBackupCodeUsed(ctx, list[0].ID, at, "203.0.113.9")
	require.NoError(t, err)
	require.True(t, ok)
	ok, err = s.MarkBackupCodeUsed(ctx, list[0].ID, at, "203.0.113.9")
	require.NoError(t, err)
	require.False(t, ok)

	n, err = s.CountUnusedBackupCodes(ctx, "u")
	require.NoError(t, err)
	require.Equal(t, 9, n)

	deleted, err := s.DeleteBackupCodes(ctx, "u")
	require.NoError(t, err)
	require.Equal(t, 10, deleted)
	n, err = s.CountUnusedBackupCodes(ctx, "other")
	require.NoError(t, err)
	require.Equal(t, 2, n)
}

func testBackupRace(t *testing.T, s store.Store) {
	ctx := context.Background()
	codes := batch("u", 1, base)
	require.NoError(t, s.InsertBackupCodes(ctx, codes))

	var wg sync.WaitGroup
	var wins atomic.Int32
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			ok, err := s.MarkBackupCodeUsed(ctx, codes[0].ID, base, "")
			if err == nil && ok {
				wins.Add(1)
			}
		}()
	}
	wg.Wait()
	require.Equal(t, int32(1), wins.Load())
}

func testRanges(t *testing.T, s store.Store) {
	ctx := context.Background()
	require.NoError(t, s.InsertNetworkRange(ctx, &store.NetworkRange{
		ID: "r1", CIDR: "10.0.0.0/8", Kind: store.RangeWhitelist, Description: "office", Enabled: true, CreatedAt: base,
	}))
	require.NoError(t, s.InsertNetworkRange(ctx, &store.NetworkRange{
		ID: "r2", CIDR: "10.6.0.0/16", Kind: store.RangeBlacklist, Enabled: false, CreatedAt: base.Add(time.Second),
	}))

	all, err := s.ListNetworkRanges(ctx, false)
	require.NoError(t, err)
	require.Len(t, all, 2)
	require.Equal(t, "r1", all[0].ID)

	enabled, err := s.ListNetworkRanges(ctx, true)
	require.NoError(t, err)
	require.Len(t, enabled, 1)

	ok, err := s.SetNetworkRangeEnabled(ctx, "r2", true)
	require.NoError(t, err)
	require.True(t, ok)
	r2, err := s.GetNetworkRange(ctx, "r2")
	require.NoError(t, err)
	require.True(t, r2.Enabled)
	require.Equal(t, store.RangeBlacklist, r2.Kind)

	ok, err = s.DeleteNetworkRange(ctx, "r1")
	require.NoError(t, err)
	require.True(t, ok)
	_, err = s.GetNetworkRange(ctx, "r1")
	require.ErrorIs(t, err, store.ErrNotFound)
	ok, err = s.SetNetworkRangeEnabled(ctx, "r1", true)
	require.NoError(t, err)
	require.False(t, ok)
}

func testAudit(t *testing.T, s store.Store) {
	ctx := context.Background()
	for i := 0; i < 3; i++ {
		require.NoError(t, s.AppendAuditEvent(ctx, &store.AuditEvent{
			ID:        fmt.Sprintf("e%d", i),
			UserID:    "42",
			Factor:    "totp",
			Event:     "totp_verify_failed",
			Detail:    map[string]string{"attempt": fmt.Sprint(i)},
			Origin:    "198.51.100.7",
			UserAgent: "test",
			Timestamp: base.Add(time.Duration(i) * time.Minute),
		}))
	}
	require.NoError(t, s.AppendAuditEvent(ctx, &store.AuditEvent{
		ID: "n", UserID: "7", Factor: "sms", Event: "sms_sent", Success: true, Timestamp: base,
	}))

	events, err := s.ListAuditEvents(ctx, store.AuditFilter{UserID: "42", Limit: 2})
	require.NoError(t, err)
	require.Len(t, events, 2)
	require.Equal(t, "e2", events[0].ID)
	require.Equal(t, "2", events[0].Detail["attempt"])
	require.Equal(t, "198.51.100.7", events[0].Origin)

	events, err = s.ListAuditEvents(ctx, store.AuditFilter{Factor: "sms"})
	require.NoError(t, err)
	require.Len(t, events, 1)
	require.True(t, events[0].Success)

	events, err = s.ListAuditEvents(ctx, store.AuditFilter{Since: base.Add(90 * time.Second)})
	require.NoError(t, err)
	require.Len(t, events, 1)
}

func testRollback(t *testing.T, s store.Store) {
	ctx := context.Background()
	boom := errors.New("boom")
	err := s.InTx(ctx, func(tx store.Tx) error {
		if err := tx.InsertBackupCodes(ctx, batch("u", 3, base)); err != nil {
			return err
		}
		n, err := tx.CountUnusedBackupCodes(ctx, "u")
		if err != nil {
			return err
		}
		if n != 3 {
			return fmt.Errorf("expected 3 inside tx, got %d", n)
		}
		return boom
	})
	require.ErrorIs(t, err, boom)

	n, err := s.CountUnusedBackupCodes(ctx, "u")
	require.NoError(t, err)
	require.Equal(t, 0, n)

	require.NoError(t, s.InTx(ctx, func(tx store.Tx) error {
		return tx.InsertBackupCodes(ctx, batch("u", 2, base))
	}))
	n, err = s.CountUnusedBackupCodes(ctx, "u")
	require.NoError(t, err)
	require.Equal(t, 2, n)
}

func testAuditRollback(t *testing.T, s store.Store) {
	ctx := context.Background()
	event := func(id string) *store.AuditEvent {
		return &store.AuditEvent{ID: id, UserID: "7", Factor: "sms", Event: "sms_sent", Success: true, Timestamp: base}
	}
	require.NoError(t, s.AppendAuditEvent(ctx, event("kept")))

	boom := errors.New("boom")
	err := s.InTx(ctx, func(tx store.Tx) error {
		if err := tx.AppendAuditEvent(ctx, event("discarded")); err != nil {
			return err
		}
		return boom
	})
	require.ErrorIs(t, err, boom)
	require.NoError(t, s.InTx(ctx, func(tx store.Tx) error {
		return tx.AppendAuditEvent(ctx, event("committed"))
	}))

	events, err := s.ListAuditEvents(ctx, store.AuditFilter{UserID: "7"})
	require.NoError(t, err)
	ids := make([]string, 0, len(events))
	for _, e := range events {
		ids = append(ids, e.ID)
	}
	require.ElementsMatch(t, []string{"kept", "committed"}, ids)
}

// Concurrent senders count and insert in one transaction each; the window
// lock keeps the total at the limit.
func testSendWindowRace(t *testing.T, s store.Store) {
	ctx := context.Background()
	const limit = 3

	var wg sync.WaitGroup
	var issued atomic.Int32
	for i := 0; i < 12; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			inserted := false
			err := s.InTx(ctx, func(tx store.Tx) error {
				if err := tx.LockSendWindow(ctx, "7", store.ChannelSMS); err != nil {
					return err
				}
				n, _, err := tx.CountOneTimeCodesSince(ctx, "7", store.ChannelSMS, base.Add(-time.Hour))
				if err != nil {
					return err
				}
				if n >= limit {
					return nil
				}
				inserted = true
				return tx.InsertOneTimeCode(ctx, newCode(fmt.Sprintf("w%d", i), "7", store.ChannelSMS, base.Add(time.Duration(i)*time.Second)))
			})
			if err == nil && inserted {
				issued.Add(1)
			}
		}(i)
	}
	wg.Wait()

	n, _, err := s.CountOneTimeCodesSince(ctx, "7", store.ChannelSMS, base.Add(-time.Hour))
	require.NoError(t, err)
	require.LessOrEqual(t, n, limit)
	require.Equal(t, int32(n), issued.Load())
}
