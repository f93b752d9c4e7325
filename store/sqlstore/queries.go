package sqlstore

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/MrEthical07/goMFA/store"
	"github.com/jmoiron/sqlx"
)

// queries runs every store.Tx operation against either the pool or a *sqlx.Tx.
type queries struct {
	ext sqlx.ExtContext
}

func ms(t time.Time) int64 { return t.UnixMilli() }

func fromMS(v int64) time.Time { return time.UnixMilli(v).UTC() }

func nullMS(t *time.Time) sql.NullInt64 {
	if t == nil {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: t.UnixMilli(), Valid: true}
}

func fromNullMS(v sql.NullInt64) *time.Time {
	if !v.Valid {
		return nil
	}
	t := fromMS(v.Int64)
	return &t
}

func (q queries) exec(ctx context.Context, query string, args ...any) (int64, error) {
	res, err := q.ext.ExecContext(ctx, q.ext.Rebind(query), args...)
	if err != nil {
		return 0, mapErr(err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, err
	}
	return n, nil
}

func (q queries) get(ctx context.Context, dest any, query string, args ...any) error {
	return mapErr(sqlx.GetContext(ctx, q.ext, dest, q.ext.Rebind(query), args...))
}

func (q queries) sel(ctx context.Context, dest any, query string, args ...any) error {
	return mapErr(sqlx.SelectContext(ctx, q.ext, dest, q.ext.Rebind(query), args...))
}

type totpRow struct {
	UserID         string        `db:"user_id"`
	Secret         string        `db:"secret"`
	Verified       bool          `db:"verified"`
	LastCounter    int64         `db:"last_counter"`
	FailedAttempts int           `db:"failed_attempts"`
	LockoutUntil   sql.NullInt64 `db:"lockout_until"`
	CreatedAt      int64         `db:"created_at"`
	UpdatedAt      int64         `db:"updated_at"`
}

func (r totpRow) record() *store.TOTPSecret {
	return &store.TOTPSecret{
		UserID:         r.UserID,
		Secret:         r.Secret,
		Verified:       r.Verified,
		LastCounter:    r.LastCounter,
		FailedAttempts: r.FailedAttempts,
		LockoutUntil:   fromNullMS(r.LockoutUntil),
		CreatedAt:      fromMS(r.CreatedAt),
		UpdatedAt:      fromMS(r.UpdatedAt),
	}
}

func (q queries) GetTOTPSecret(ctx context.Context, userID string) (*store.TOTPSecret, error) {
	var row totpRow
	err := q.get(ctx, &row, `
		SELECT user_id, secret, verified, last_counter, failed_attempts, lockout_until, created_at, updated_at
		FROM mfa_totp_secrets WHERE user_id = ?`, userID)
	if err != nil {
		return nil, err
	}
	return row.record(), nil
}

func (q queries) PutTOTPSecret(ctx context.Context, s *store.TOTPSecret) error {
	_, err := q.exec(ctx, `
		INSERT INTO mfa_totp_secrets (user_id, secret, verified, last_counter, failed_attempts, lockout_until, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (user_id) DO UPDATE SET
			secret = excluded.secret,
			verified = excluded.verified,
			last_counter = excluded.last_counter,
			failed_attempts = excluded.failed_attempts,
			lockout_until = excluded.lockout_until,
			created_at = excluded.created_at,
			updated_at = excluded.updated_at`,
		s.UserID, s.Secret, s.Verified, s.LastCounter, s.FailedAttempts,
		nullMS(s.LockoutUntil), ms(s.CreatedAt), ms(s.UpdatedAt))
	return err
}

func (q queries) DeleteTOTPSecret(ctx context.Context, userID string) (bool, error) {
	n, err := q.exec(ctx, `DELETE FROM mfa_totp_secrets WHERE user_id = ?`, userID)
	return n > 0, err
}

func (q queries) totpExists(ctx context.Context, userID string) error {
	var one int
	return q.get(ctx, &one, `SELECT 1 FROM mfa_totp_secrets WHERE user_id = ?`, userID)
}

func (q queries) AdvanceTOTPCounter(ctx context.Context, userID string, counter int64, now time.Time) (bool, error) {
	n, err := q.exec(ctx, `
		UPDATE mfa_totp_secrets
		SET last_counter = ?, failed_attempts = 0, lockout_until = NULL, updated_at = ?
		WHERE user_id = ? AND last_counter < ?`,
		counter, ms(now), userID, counter)
	if err != nil {
		return false, err
	}
	if n == 0 {
		return false, q.totpExists(ctx, userID)
	}
	return true, nil
}

func (q queries) IncrementTOTPFailures(ctx context.Context, userID string, now time.Time) (int, error) {
	var n int
	err := q.get(ctx, &n, `
		UPDATE mfa_totp_secrets SET failed_attempts = failed_attempts + 1, updated_at = ?
		WHERE user_id = ? RETURNING failed_attempts`, ms(now), userID)
	return n, err
}

func (q queries) updateTOTP(ctx context.Context, query string, args ...any) error {
	n, err := q.exec(ctx, query, args...)
	if err != nil {
		return err
	}
	if n == 0 {
		return store.ErrNotFound
	}
	return nil
}

func (q queries) SetTOTPLockout(ctx context.Context, userID string, until time.Time, now time.Time) error {
	return q.updateTOTP(ctx, `UPDATE mfa_totp_secrets SET lockout_until = ?, updated_at = ? WHERE user_id = ?`,
		ms(until), ms(now), userID)
}

func (q queries) ClearTOTPLockout(ctx context.Context, userID string, now time.Time) error {
	return q.updateTOTP(ctx, `UPDATE mfa_totp_secrets SET lockout_until = NULL, failed_attempts = 0, updated_at = ? WHERE user_id = ?`,
		ms(now), userID)
}

func (q queries) MarkTOTPVerified(ctx context.Context, userID string, now time.Time) error {
	return q.updateTOTP(ctx, `UPDATE mfa_totp_secrets SET verified = TRUE, updated_at = ? WHERE user_id = ?`,
		ms(now), userID)
}

type codeRow struct {
	ID          string `db:"id"`
	UserID      string `db:"user_id"`
	Channel     string `db:"channel"`
	CodeHash    string `db:"code_hash"`
	Destination string `db:"destination"`
	CreatedAt   int64  `db:"created_at"`
	ExpiresAt   int64  `db:"expires_at"`
	Attempts    int    `db:"attempts"`
	Verified    bool   `db:"verified"`
	Invalidated bool   `db:"invalidated"`
}

func (q queries) InsertOneTimeCode(ctx context.Context, c *store.OneTimeCode) error {
	_, err := q.exec(ctx, `
		INSERT INTO mfa_one_time_codes (id, user_id, channel, code_hash, destination, created_at, expires_at, attempts, verified, invalidated)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		c.ID, c.UserID, string(c.Channel), c.CodeHash, c.Destination,
		ms(c.CreatedAt), ms(c.ExpiresAt), c.Attempts, c.Verified, c.Invalidated)
	return err
}

func (q queries) InvalidateOneTimeCodes(ctx context.Context, userID string, channel store.Channel) (int, error) {
	n, err := q.exec(ctx, `
		UPDATE mfa_one_time_codes SET invalidated = TRUE
		WHERE user_id = ? AND channel = ? AND verified = FALSE AND invalidated = FALSE`,
		userID, string(channel))
	return int(n), err
}

func (q queries) InvalidateOneTimeCode(ctx context.Context, id string) (bool, error) {
	n, err := q.exec(ctx, `
		UPDATE mfa_one_time_codes SET invalidated = TRUE
		WHERE id = ? AND verified = FALSE AND invalidated = FALSE`, id)
	return n == 1, err
}

// LockSendWindow takes a transaction-scoped advisory lock on Postgres. SQLite
// allows a single writer, so a second sender's insert fails instead of
// exceeding the window.
func (q queries) LockSendWindow(ctx context.Context, userID string, channel store.Channel) error {
	switch q.ext.DriverName() {
	case DriverPostgres, "postgres":
	default:
		return nil
	}
	_, err := q.ext.ExecContext(ctx,
		`SELECT pg_advisory_xact_lock(hashtext($1))`,
		"mfa_send:"+string(channel)+":"+userID)
	return mapErr(err)
}

func (q queries) LatestOneTimeCode(ctx context.Context, userID string, channel store.Channel) (*store.OneTimeCode, error) {
	var row codeRow
	err := q.get(ctx, &row, `
		SELECT id, user_id, channel, code_hash, destination, created_at, expires_at, attempts, verified, invalidated
		FROM mfa_one_time_codes
		WHERE user_id = ? AND channel = ? AND verified = FALSE AND invalidated = FALSE
		ORDER BY created_at DESC, id DESC LIMIT 1`,
		userID, string(channel))
	if err != nil {
		return nil, err
	}
	return &store.OneTimeCode{
		ID:          row.ID,
		UserID:      row.UserID,
		Channel:     store.Channel(row.Channel),
		CodeHash:    row.CodeHash,
		Destination: row.Destination,
		CreatedAt:   fromMS(row.CreatedAt),
		ExpiresAt:   fromMS(row.ExpiresAt),
		Attempts:    row.Attempts,
		Verified:    row.Verified,
		Invalidated: row.Invalidated,
	}, nil
}

func (q queries) CountOneTimeCodesSince(ctx context.Context, userID string, channel store.Channel, since time.Time) (int, time.Time, error) {
	var row struct {
		Count  int           `db:"n"`
		Oldest sql.NullInt64 `db:"oldest"`
	}
	err := q.get(ctx, &row, `
		SELECT COUNT(*) AS n, MIN(created_at) AS oldest
		FROM mfa_one_time_codes
		WHERE user_id = ? AND channel = ? AND created_at > ?`,
		userID, string(channel), ms(since))
	if err != nil {
		return 0, time.Time{}, err
	}
	if !row.Oldest.Valid {
		return row.Count, time.Time{}, nil
	}
	return row.Count, fromMS(row.Oldest.Int64), nil
}

func (q queries) ReserveOneTimeCodeAttempt(ctx context.Context, id string, max int) (int, bool, error) {
	var attempts int
	err := q.get(ctx, &attempts, `
		UPDATE mfa_one_time_codes SET attempts = attempts + 1
		WHERE id = ? AND attempts < ? AND verified = FALSE AND invalidated = FALSE
		RETURNING attempts`, id, max)
	if errors.Is(err, store.ErrNotFound) {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, err
	}
	return attempts, true, nil
}

func (q queries) MarkOneTimeCodeVerified(ctx context.Context, id string) (bool, error) {
	n, err := q.exec(ctx, `
		UPDATE mfa_one_time_codes SET verified = TRUE
		WHERE id = ? AND verified = FALSE AND invalidated = FALSE`, id)
	return n > 0, err
}

type backupRow struct {
	ID         string        `db:"id"`
	UserID     string        `db:"user_id"`
	CodeHash   string        `db:"code_hash"`
	Used       bool          `db:"used"`
	UsedAt     sql.NullInt64 `db:"used_at"`
	UsedOrigin string        `db:"used_origin"`
	CreatedAt  int64         `db:"created_at"`
}

func (q queries) InsertBackupCodes(ctx context.Context, codes []store.BackupCode) error {
	for _, c := range codes {
		if _, err := q.exec(ctx, `
			INSERT INTO mfa_backup_codes (id, user_id, code_hash, used, used_at, used_origin, created_at)
			VALUES (?, ?, ?, ?, ?, ?, ?)`,
			c.ID, c.UserID, c.CodeHash, c.Used, nullMS(c.UsedAt), c.UsedOrigin, ms(c.CreatedAt)); err != nil {
			return err
		}
	}
	return nil
}

func (q queries) ListUnusedBackupCodes(ctx context.Context, userID string) ([]store.BackupCode, error) {
	var rows []backupRow
	err := q.sel(ctx, &rows, `
		SELECT id, user_id, code_hash, used, used_at, used_origin, created_at
		FROM mfa_backup_codes WHERE user_id = ? AND used = FALSE
		ORDER BY created_at DESC, id DESC`, userID)
	if err != nil {
		return nil, err
	}
	out := make([]store.BackupCode, 0, len(rows))
	for _, r := range rows {
		out = append(out, store.BackupCode{
			ID:         r.ID,
			UserID:     r.UserID,
			CodeHash:   r.CodeHash,
			Used:       r.Used,
			UsedAt:     fromNullMS(r.UsedAt),
			UsedOrigin: r.UsedOrigin,
			CreatedAt:  fromMS(r.CreatedAt),
		})
	}
	return out, nil
}

func (q queries) CountUnusedBackupCodes(ctx context.Context, userID string) (int, error) {
	var n int
	err := q.get(ctx, &n, `SELECT COUNT(*) FROM mfa_backup_codes WHERE user_id = ? AND used = FALSE`, userID)
	return n, err
}

func (q queries) DeleteBackupCodes(ctx context.Context, userID string) (int, error) {
	n, err := q.exec(ctx, `DELETE FROM mfa_backup_codes WHERE user_id = ?`, userID)
	return int(n), err
}

func (q queries) MarkBackupCodeUsed(ctx context.Context, id string, at time.Time, origin string) (bool, error) {
	n, err := q.exec(ctx, `
		UPDATE mfa_backup_codes SET used = TRUE, used_at = ?, used_origin = ?
		WHERE id = ? AND used = FALSE`, ms(at), origin, id)
	return n > 0, err
}

type rangeRow struct {
	ID          string `db:"id"`
	CIDR        string `db:"cidr"`
	Kind        string `db:"kind"`
	Description string `db:"description"`
	Enabled     bool   `db:"enabled"`
	CreatedAt   int64  `db:"created_at"`
}

func (r rangeRow) record() store.NetworkRange {
	return store.NetworkRange{
		ID:          r.ID,
		CIDR:        r.CIDR,
		Kind:        store.RangeKind(r.Kind),
		Description: r.Description,
		Enabled:     r.Enabled,
		CreatedAt:   fromMS(r.CreatedAt),
	}
}

func (q queries) InsertNetworkRange(ctx context.Context, r *store.NetworkRange) error {
	_, err := q.exec(ctx, `
		INSERT INTO mfa_network_ranges (id, cidr, kind, description, enabled, created_at)
		VALUES (?, ?, ?, ?, ?, ?)`,
		r.ID, r.CIDR, string(r.Kind), r.Description, r.Enabled, ms(r.CreatedAt))
	return err
}

func (q queries) GetNetworkRange(ctx context.Context, id string) (*store.NetworkRange, error) {
	var row rangeRow
	if err := q.get(ctx, &row, `
		SELECT id, cidr, kind, description, enabled, created_at
		FROM mfa_network_ranges WHERE id = ?`, id); err != nil {
		return nil, err
	}
	rec := row.record()
	return &rec, nil
}

func (q queries) ListNetworkRanges(ctx context.Context, enabledOnly bool) ([]store.NetworkRange, error) {
	query := `SELECT id, cidr, kind, description, enabled, created_at FROM mfa_network_ranges`
	if enabledOnly {
		query += ` WHERE enabled = TRUE`
	}
	query += ` ORDER BY created_at, id`

	var rows []rangeRow
	if err := q.sel(ctx, &rows, query); err != nil {
		return nil, err
	}
	out := make([]store.NetworkRange, 0, len(rows))
	for _, r := range rows {
		out = append(out, r.record())
	}
	return out, nil
}

func (q queries) DeleteNetworkRange(ctx context.Context, id string) (bool, error) {
	n, err := q.exec(ctx, `DELETE FROM mfa_network_ranges WHERE id = ?`, id)
	return n > 0, err
}

func (q queries) SetNetworkRangeEnabled(ctx context.Context, id string, enabled bool) (bool, error) {
	n, err := q.exec(ctx, `UPDATE mfa_network_ranges SET enabled = ? WHERE id = ?`, enabled, id)
	return n > 0, err
}

type auditRow struct {
	ID        string `db:"id"`
	UserID    string `db:"user_id"`
	Factor    string `db:"factor"`
	Event     string `db:"event"`
	Detail    string `db:"detail"`
	Origin    string `db:"origin"`
	UserAgent string `db:"user_agent"`
	Success   bool   `db:"success"`
	Error     string `db:"error"`
	TS        int64  `db:"ts"`
}

func (q queries) AppendAuditEvent(ctx context.Context, e *store.AuditEvent) error {
	detail := "{}"
	if len(e.Detail) > 0 {
		b, err := json.Marshal(e.Detail)
		if err != nil {
			return fmt.Errorf("sqlstore: encode audit detail: %w", err)
		}
		detail = string(b)
	}
	_, err := q.exec(ctx, `
		INSERT INTO mfa_audit_events (id, user_id, factor, event, detail, origin, user_agent, success, error, ts)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		e.ID, e.UserID, e.Factor, e.Event, detail, e.Origin, e.UserAgent, e.Success, e.Error, ms(e.Timestamp))
	return err
}

func (q queries) ListAuditEvents(ctx context.Context, f store.AuditFilter) ([]store.AuditEvent, error) {
	var (
		where []string
		args  []any
	)
	if f.UserID != "" {
		where = append(where, "user_id = ?")
		args = append(args, f.UserID)
	}
	if f.Factor != "" {
		where = append(where, "factor = ?")
		args = append(args, f.Factor)
	}
	if !f.Since.IsZero() {
		where = append(where, "ts >= ?")
		args = append(args, ms(f.Since))
	}

	query := `SELECT id, user_id, factor, event, detail, origin, user_agent, success, error, ts FROM mfa_audit_events`
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += " ORDER BY ts DESC, id DESC"
	if f.Limit > 0 {
		query += fmt.Sprintf(" LIMIT %d", f.Limit)
	}

	var rows []auditRow
	if err := q.sel(ctx, &rows, query, args...); err != nil {
		return nil, err
	}
	out := make([]store.AuditEvent, 0, len(rows))
	for _, r := range rows {
		e := store.AuditEvent{
			ID:        r.ID,
			UserID:    r.UserID,
			Factor:    r.Factor,
			Event:     r.Event,
			Origin:    r.Origin,
			UserAgent: r.UserAgent,
			Success:   r.Success,
			Error:     r.Error,
			Timestamp: fromMS(r.TS),
		}
		if r.Detail != "" && r.Detail != "{}" {
			if err := json.Unmarshal([]byte(r.Detail), &e.Detail); err != nil {
				return nil, fmt.Errorf("sqlstore: decode audit detail: %w", err)
			}
		}
		out = append(out, e)
	}
	return out, nil
}
