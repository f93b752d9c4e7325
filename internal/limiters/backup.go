package limiters

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// ErrBackupCodeUnavailable wraps Redis failures of the backup-code throttle.
var ErrBackupCodeUnavailable = errors.New("backup code throttle unavailable")

// The counter expires Cooldown after the first failure of a window, so the
// key can never outlive its window.
var recordFailureLua = redis.NewScript(`
local n = redis.call('INCR', KEYS[1])
if n == 1 then
  redis.call('PEXPIRE', KEYS[1], ARGV[1])
end
return n
`)

var throttleStateLua = redis.NewScript(`
local n = tonumber(redis.call('GET', KEYS[1]) or '0')
return {n, redis.call('PTTL', KEYS[1])}
`)

// BackupCodeConfig bounds failed backup-code guesses per user.
type BackupCodeConfig struct {
	MaxFailures int
	Cooldown    time.Duration
}

// BackupCodeLimiter counts failed guesses per user in a fixed window that
// starts at the first failure.
type BackupCodeLimiter struct {
	redis redis.UniversalClient
	cfg   BackupCodeConfig
}

// NewBackupCodeLimiter returns nil (which never refuses) without a client or
// with a non-positive MaxFailures.
func NewBackupCodeLimiter(client redis.UniversalClient, cfg BackupCodeConfig) *BackupCodeLimiter {
	if client == nil || cfg.MaxFailures <= 0 {
		return nil
	}
	return &BackupCodeLimiter{redis: client, cfg: cfg}
}

func backupKey(userID string) string {
	return "mfb:" + userID
}

// Wait reports how long userID must wait before guessing again; zero means a
// guess is allowed now. The wait is rounded up to whole seconds.
func (l *BackupCodeLimiter) Wait(ctx context.Context, userID string) (time.Duration, error) {
	if l == nil {
		return 0, nil
	}
	res, err := throttleStateLua.Run(ctx, l.redis, []string{backupKey(userID)}).Int64Slice()
	if err != nil {
		return 0, fmt.Errorf("%w: %v", ErrBackupCodeUnavailable, err)
	}
	if len(res) != 2 || int(res[0]) < l.cfg.MaxFailures {
		return 0, nil
	}
	ttl := time.Duration(res[1]) * time.Millisecond
	if ttl <= 0 {
		// A counter without expiry falls back to a full cooldown.
		return l.cfg.Cooldown, nil
	}
	return (ttl + time.Second - time.Millisecond).Truncate(time.Second), nil
}

// RecordFailure counts one failed guess and returns the failures in the
// current window.
func (l *BackupCodeLimiter) RecordFailure(ctx context.Context, userID string) (int, error) {
	if l == nil {
		return 0, nil
	}
	n, err := recordFailureLua.Run(ctx, l.redis, []string{backupKey(userID)}, l.cfg.Cooldown.Milliseconds()).Int64()
	if err != nil {
		return 0, fmt.Errorf("%w: %v", ErrBackupCodeUnavailable, err)
	}
	return int(n), nil
}

// Reset clears the window after a successful guess.
func (l *BackupCodeLimiter) Reset(ctx context.Context, userID string) error {
	if l == nil {
		return nil
	}
	if err := l.redis.Del(ctx, backupKey(userID)).Err(); err != nil {
		return fmt.Errorf("%w: %v", ErrBackupCodeUnavailable, err)
	}
	return nil
}
