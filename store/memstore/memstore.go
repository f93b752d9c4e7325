// Package memstore is an in-process store.Store.
//
// A single mutex serialises every operation. InTx holds the mutex for the
// whole callback and restores a snapshot when the callback fails, which gives
// the same all-or-nothing and compare-and-swap behaviour as the SQL store.
package memstore

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/MrEthical07/goMFA/store"
)

type data struct {
	totp   map[string]store.TOTPSecret
	codes  []store.OneTimeCode
	backup []store.BackupCode
	ranges []store.NetworkRange
	audit  []store.AuditEvent
}

func newData() *data {
	return &data{totp: make(map[string]store.TOTPSecret)}
}

// clone copies every record set except the audit log, which is append-only
// and rolled back by length.
func (d *data) clone() *data {
	c := &data{
		totp:   make(map[string]store.TOTPSecret, len(d.totp)),
		codes:  append([]store.OneTimeCode(nil), d.codes...),
		backup: append([]store.BackupCode(nil), d.backup...),
		ranges: append([]store.NetworkRange(nil), d.ranges...),
	}
	for k, v := range d.totp {
		c.totp[k] = v
	}
	return c
}

// Store is safe for concurrent use.
type Store struct {
	view
	mu sync.Mutex
	d  *data
}

var _ store.Store = (*Store)(nil)

// New returns an empty store.
func New() *Store {
	s := &Store{d: newData()}
	s.view = view{s: s}
	return s
}

// InTx runs fn under the store lock; fn's error discards every write it made.
func (s *Store) InTx(ctx context.Context, fn func(tx store.Tx) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	snapshot := s.d.clone()
	auditLen := len(s.d.audit)
	if err := fn(view{s: s, inTx: true}); err != nil {
		clear(s.d.audit[auditLen:])
		snapshot.audit = s.d.audit[:auditLen]
		s.d = snapshot
		return err
	}
	return nil
}

type view struct {
	s    *Store
	inTx bool
}

func (v view) lock() func() {
	if v.inTx {
		return func() {}
	}
	v.s.mu.Lock()
	return v.s.mu.Unlock
}

func copyTime(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	c := *t
	return &c
}

func (v view) GetTOTPSecret(_ context.Context, userID string) (*store.TOTPSecret, error) {
	defer v.lock()()
	rec, ok := v.s.d.totp[userID]
	if !ok {
		return nil, store.ErrNotFound
	}
	rec.LockoutUntil = copyTime(rec.LockoutUntil)
	return &rec, nil
}

func (v view) PutTOTPSecret(_ context.Context, s *store.TOTPSecret) error {
	defer v.lock()()
	rec := *s
	rec.LockoutUntil = copyTime(s.LockoutUntil)
	v.s.d.totp[s.UserID] = rec
	return nil
}

func (v view) DeleteTOTPSecret(_ context.Context, userID string) (bool, error) {
	defer v.lock()()
	if _, ok := v.s.d.totp[userID]; !ok {
		return false, nil
	}
	delete(v.s.d.totp, userID)
	return true, nil
}

func (v view) AdvanceTOTPCounter(_ context.Context, userID string, counter int64, now time.Time) (bool, error) {
	defer v.lock()()
	rec, ok := v.s.d.totp[userID]
	if !ok {
		return false, store.ErrNotFound
	}
	if counter <= rec.LastCounter {
		return false, nil
	}
	rec.LastCounter = counter
	rec.FailedAttempts = 0
	rec.LockoutUntil = nil
	rec.UpdatedAt = now
	v.s.d.totp[userID] = rec
	return true, nil
}

func (v view) IncrementTOTPFailures(_ context.Context, userID string, now time.Time) (int, error) {
	defer v.lock()()
	rec, ok := v.s.d.totp[userID]
	if !ok {
		return 0, store.ErrNotFound
	}
	rec.FailedAttempts++
	rec.UpdatedAt = now
	v.s.d.totp[userID] = rec
	return rec.FailedAttempts, nil
}

func (v view) SetTOTPLockout(_ context.Context, userID string, until time.Time, now time.Time) error {
	defer v.lock()()
	rec, ok := v.s.d.totp[userID]
	if !ok {
		return store.ErrNotFound
	}
	rec.LockoutUntil = &until
	rec.UpdatedAt = now
	v.s.d.totp[userID] = rec
	return nil
}

func (v view) ClearTOTPLockout(_ context.Context, userID string, now time.Time) error {
	defer v.lock()()
	rec, ok := v.s.d.totp[userID]
	if !ok {
		return store.ErrNotFound
	}
	rec.LockoutUntil = nil
	rec.FailedAttempts = 0
	rec.UpdatedAt = now
	v.s.d.totp[userID] = rec
	return nil
}

func (v view) MarkTOTPVerified(_ context.Context, userID string, now time.Time) error {
	defer v.lock()()
	rec, ok := v.s.d.totp[userID]
	if !ok {
		return store.ErrNotFound
	}
	rec.Verified = true
	rec.UpdatedAt = now
	v.s.d.totp[userID] = rec
	return nil
}

func (v view) InsertOneTimeCode(_ context.Context, c *store.OneTimeCode) error {
	defer v.lock()()
	for _, existing := range v.s.d.codes {
		if existing.ID == c.ID {
			return store.ErrConflict
		}
	}
	v.s.d.codes = append(v.s.d.codes, *c)
	return nil
}

func (v view) InvalidateOneTimeCodes(_ context.Context, userID string, channel store.Channel) (int, error) {
	defer v.lock()()
	n := 0
	for i := range v.s.d.codes {
		c := &v.s.d.codes[i]
		if c.UserID == userID && c.Channel == channel && !c.Verified && !c.Invalidated {
			c.Invalidated = true
			n++
		}
	}
	return n, nil
}

func (v view) InvalidateOneTimeCode(_ context.Context, id string) (bool, error) {
	defer v.lock()()
	for i := range v.s.d.codes {
		c := &v.s.d.codes[i]
		if c.ID == id && !c.Verified && !c.Invalidated {
			c.Invalidated = true
			return true, nil
		}
	}
	return false, nil
}

// LockSendWindow is a no-op: InTx already holds the store lock.
func (v view) LockSendWindow(context.Context, string, store.Channel) error {
	return nil
}

func (v view) LatestOneTimeCode(_ context.Context, userID string, channel store.Channel) (*store.OneTimeCode, error) {
	defer v.lock()()
	var latest *store.OneTimeCode
	for i := range v.s.d.codes {
		c := v.s.d.codes[i]
		if c.UserID != userID || c.Channel != channel || c.Verified || c.Invalidated {
			continue
		}
		if latest == nil || !c.CreatedAt.Before(latest.CreatedAt) {
			latest = &c
		}
	}
	if latest == nil {
		return nil, store.ErrNotFound
	}
	return latest, nil
}

func (v view) CountOneTimeCodesSince(_ context.Context, userID string, channel store.Channel, since time.Time) (int, time.Time, error) {
	defer v.lock()()
	n := 0
	var oldest time.Time
	for _, c := range v.s.d.codes {
		if c.UserID != userID || c.Channel != channel || !c.CreatedAt.After(since) {
			continue
		}
		n++
		if oldest.IsZero() || c.CreatedAt.Before(oldest) {
			oldest = c.CreatedAt
		}
	}
	return n, oldest, nil
}

func (v view) ReserveOneTimeCodeAttempt(_ context.Context, id string, max int) (int, bool, error) {
	defer v.lock()()
	for i := range v.s.d.codes {
		c := &v.s.d.codes[i]
		if c.ID != id {
			continue
		}
		if c.Verified || c.Invalidated || c.Attempts >= max {
			return c.Attempts, false, nil
		}
		c.Attempts++
		return c.Attempts, true, nil
	}
	return 0, false, nil
}

func (v view) MarkOneTimeCodeVerified(_ context.Context, id string) (bool, error) {
	defer v.lock()()
	for i := range v.s.d.codes {
		c := &v.s.d.codes[i]
		if c.ID != id {
			continue
		}
		if c.Verified || c.Invalidated {
			return false, nil
		}
		c.Verified = true
		return true, nil
	}
	return false, nil
}

func (v view) InsertBackupCodes(_ context.Context, codes []store.BackupCode) error {
	defer v.lock()()
	v.s.d.backup = append(v.s.d.backup, codes...)
	return nil
}

func (v view) ListUnusedBackupCodes(_ context.Context, userID string) ([]store.BackupCode, error) {
	defer v.lock()()
	var out []store.BackupCode
	for _, c := range v.s.d.backup {
		if c.UserID == userID && !c.Used {
			out = append(out, c)
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out, nil
}

func (v view) CountUnusedBackupCodes(_ context.Context, userID string) (int, error) {
	defer v.lock()()
	n := 0
	for _, c := range v.s.d.backup {
		if c.UserID == userID && !c.Used {
			n++
		}
	}
	return n, nil
}

func (v view) DeleteBackupCodes(_ context.Context, userID string) (int, error) {
	defer v.lock()()
	kept := v.s.d.backup[:0:0]
	n := 0
	for _, c := range v.s.d.backup {
		if c.UserID == userID {
			n++
			continue
		}
		kept = append(kept, c)
	}
	v.s.d.backup = kept
	return n, nil
}

func (v view) MarkBackupCodeUsed(_ context.Context, id string, at time.Time, origin string) (bool, error) {
	defer v.lock()()
	for i := range v.s.d.backup {
		c := &v.s.d.backup[i]
		if c.ID != id {
			continue
		}
		if c.Used {
			return false, nil
		}
		c.Used = true
		c.UsedAt = &at
		c.UsedOrigin = origin
		return true, nil
	}
	return false, nil
}

func (v view) InsertNetworkRange(_ context.Context, r *store.NetworkRange) error {
	defer v.lock()()
	for _, existing := range v.s.d.ranges {
		if existing.ID == r.ID {
			return store.ErrConflict
		}
	}
	v.s.d.ranges = append(v.s.d.ranges, *r)
	return nil
}

func (v view) GetNetworkRange(_ context.Context, id string) (*store.NetworkRange, error) {
	defer v.lock()()
	for _, r := range v.s.d.ranges {
		if r.ID == id {
			return &r, nil
		}
	}
	return nil, store.ErrNotFound
}

func (v view) ListNetworkRanges(_ context.Context, enabledOnly bool) ([]store.NetworkRange, error) {
	defer v.lock()()
	out := make([]store.NetworkRange, 0, len(v.s.d.ranges))
	for _, r := range v.s.d.ranges {
		if enabledOnly && !r.Enabled {
			continue
		}
		out = append(out, r)
	}
	return out, nil
}

func (v view) DeleteNetworkRange(_ context.Context, id string) (bool, error) {
	defer v.lock()()
	for i, r := range v.s.d.ranges {
		if r.ID == id {
			v.s.d.ranges = append(v.s.d.ranges[:i:i], v.s.d.ranges[i+1:]...)
			return true, nil
		}
	}
	return false, nil
}

func (v view) SetNetworkRangeEnabled(_ context.Context, id string, enabled bool) (bool, error) {
	defer v.lock()()
	for i := range v.s.d.ranges {
		if v.s.d.ranges[i].ID == id {
			v.s.d.ranges[i].Enabled = enabled
			return true, nil
		}
	}
	return false, nil
}

func (v view) AppendAuditEvent(_ context.Context, e *store.AuditEvent) error {
	defer v.lock()()
	rec := *e
	if e.Detail != nil {
		rec.Detail = make(map[string]string, len(e.Detail))
		for k, val := range e.Detail {
			rec.Detail[k] = val
		}
	}
	v.s.d.audit = append(v.s.d.audit, rec)
	return nil
}

func (v view) ListAuditEvents(_ context.Context, f store.AuditFilter) ([]store.AuditEvent, error) {
	defer v.lock()()
	var out []store.AuditEvent
	for i := len(v.s.d.audit) - 1; i >= 0; i-- {
		e := v.s.d.audit[i]
		if f.UserID != "" && e.UserID != f.UserID {
			continue
		}
		if f.Factor != "" && e.Factor != f.Factor {
			continue
		}
		if !f.Since.IsZero() && e.Timestamp.Before(f.Since) {
			continue
		}
		out = append(out, e)
		if f.Limit > 0 && len(out) >= f.Limit {
			break
		}
	}
	return out, nil
}
