package ratelimit

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// Decision is the outcome of an admission check. Limit, Remaining and ResetAt
// are computed before the admit/deny branch so response headers are consistent
// in both outcomes.
type Decision struct {
	Allowed   bool
	Limit     int
	Remaining int
	// ResetAt is the unix second when the current window ends.
	ResetAt int64
	// RetryAfter is the suggested wait in seconds; only set when denied.
	RetryAfter int
	// StoreDown marks a fail-open admission: Redis was unreachable and no
	// header values were computed.
	StoreDown bool
}

// Limiter is a sliding-window-log rate limiter keyed by client identity. Each
// admitted request is recorded as a uniquely-tokened ZSET entry scored by its
// timestamp; entries older than the window are purged before counting.
//
// The purge-count-append sequence is not serialized per key, so concurrent
// admits against the same key can race slightly past the limit. That
// approximation is accepted.
type Limiter struct {
	rdb      *redis.Client
	max      int
	window   time.Duration
	failOpen bool
	logger   *zap.Logger
	now      func() time.Time
}

func New(rdb *redis.Client, max int, window time.Duration, failOpen bool, logger *zap.Logger) *Limiter {
	return &Limiter{
		rdb:      rdb,
		max:      max,
		window:   window,
		failOpen: failOpen,
		logger:   logger,
		now:      time.Now,
	}
}

// Admit checks clientID against the limiter's configured limit.
func (l *Limiter) Admit(ctx context.Context, clientID string) Decision {
	return l.admit(ctx, "rate_limit:"+clientID, l.max, l.window)
}

// AdmitN checks clientID against a route-specific limit.
func (l *Limiter) AdmitN(ctx context.Context, clientID string, max int, window time.Duration) Decision {
	return l.admit(ctx, "rate_limit:custom:"+clientID, max, window)
}

func (l *Limiter) admit(ctx context.Context, key string, max int, window time.Duration) Decision {
	now := l.now()
	nowMS := now.UnixMilli()
	windowStart := nowMS - window.Milliseconds()

	if err := l.rdb.ZRemRangeByScore(ctx, key, "0", strconv.FormatInt(windowStart, 10)).Err(); err != nil {
		return l.storeError(key, err)
	}

	count, err := l.rdb.ZCard(ctx, key).Result()
	if err != nil {
		return l.storeError(key, err)
	}

	d := Decision{
		Limit:     max,
		Remaining: remaining(max, count),
		ResetAt:   (nowMS + window.Milliseconds() + 999) / 1000,
	}

	if count >= int64(max) {
		d.RetryAfter = int((window.Milliseconds() + 999) / 1000)
		l.logger.Info("Rate limit exceeded",
			zap.String("key", key),
			zap.Int64("count", count),
			zap.Int("limit", max),
		)
		return d
	}

	token := fmt.Sprintf("%d:%s", nowMS, uuid.NewString())
	if err := l.rdb.ZAdd(ctx, key, redis.Z{Score: float64(nowMS), Member: token}).Err(); err != nil {
		return l.storeError(key, err)
	}
	// Expiry must outlive the window so stale keys clean themselves up.
	if err := l.rdb.Expire(ctx, key, window+time.Second).Err(); err != nil {
		l.logger.Warn("Failed to set rate limit key expiry",
			zap.String("key", key),
			zap.Error(err),
		)
	}

	d.Allowed = true
	return d
}

func (l *Limiter) storeError(key string, err error) Decision {
	if l.failOpen {
		// Store outage never blocks traffic; headers are skipped.
		l.logger.Warn("Rate limit store unreachable, failing open",
			zap.String("key", key),
			zap.Error(err),
		)
		return Decision{Allowed: true, StoreDown: true}
	}

	l.logger.Error("Rate limit store unreachable, failing closed",
		zap.String("key", key),
		zap.Error(err),
	)
	return Decision{StoreDown: true}
}

func remaining(max int, count int64) int {
	r := max - int(count)
	if r < 0 {
		return 0
	}
	return r
}
