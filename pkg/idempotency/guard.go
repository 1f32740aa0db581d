package idempotency

import (
	"context"
	"encoding/json"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

const (
	statusProcessing = "processing"
	statusCompleted  = "completed"
)

type record struct {
	Status    string          `json:"status"`
	CreatedAt time.Time       `json:"created_at"`
	Response  json.RawMessage `json:"response,omitempty"`
}

// Admission is the result of Begin.
type Admission struct {
	// Duplicate means the key was seen before and the request must not be
	// dispatched again.
	Duplicate bool
	// CachedResponse is the stored response body when the original request
	// already completed; nil for an in-flight duplicate.
	CachedResponse json.RawMessage
}

// Guard deduplicates requests by a client-supplied idempotency key.
//
// Admission is an atomic SetNX: of two racing requests with the same key,
// exactly one wins the processing record and proceeds. The loser is reported
// as a duplicate, with the cached response once the winner has completed.
// Store errors fail open: the request proceeds as if no key were given.
type Guard struct {
	rdb    *redis.Client
	ttl    time.Duration
	logger *zap.Logger
	now    func() time.Time
}

func New(rdb *redis.Client, ttl time.Duration, logger *zap.Logger) *Guard {
	return &Guard{
		rdb:    rdb,
		ttl:    ttl,
		logger: logger,
		now:    time.Now,
	}
}

// Begin claims key for this request. An empty key bypasses the guard.
func (g *Guard) Begin(ctx context.Context, key string) Admission {
	if key == "" {
		return Admission{}
	}

	storeKey := "idempotency:" + key
	body, err := json.Marshal(record{Status: statusProcessing, CreatedAt: g.now()})
	if err != nil {
		return Admission{}
	}

	won, err := g.rdb.SetNX(ctx, storeKey, body, g.ttl).Result()
	if err != nil {
		g.logger.Warn("Idempotency store unreachable, failing open",
			zap.String("key", key),
			zap.Error(err),
		)
		return Admission{}
	}
	if won {
		return Admission{}
	}

	raw, err := g.rdb.Get(ctx, storeKey).Bytes()
	if err != nil {
		// Record expired or store failed between SetNX and Get; let the
		// request through rather than blocking it.
		return Admission{}
	}

	var rec record
	if err := json.Unmarshal(raw, &rec); err != nil {
		g.logger.Warn("Malformed idempotency record, failing open",
			zap.String("key", key),
			zap.Error(err),
		)
		return Admission{}
	}

	if rec.Status == statusCompleted {
		g.logger.Info("Duplicate request served from idempotency cache",
			zap.String("key", key),
		)
		return Admission{Duplicate: true, CachedResponse: rec.Response}
	}

	// The original request is still in flight. Suppress the duplicate
	// dispatch; there is no response to replay yet.
	g.logger.Info("Duplicate request while original still processing",
		zap.String("key", key),
	)
	return Admission{Duplicate: true}
}

// Complete stores the response under key with a fresh TTL. All reads within
// the TTL return this exact response.
func (g *Guard) Complete(ctx context.Context, key string, response json.RawMessage) {
	if key == "" {
		return
	}

	body, err := json.Marshal(record{
		Status:    statusCompleted,
		CreatedAt: g.now(),
		Response:  response,
	})
	if err != nil {
		return
	}

	if err := g.rdb.Set(ctx, "idempotency:"+key, body, g.ttl).Err(); err != nil {
		g.logger.Warn("Failed to cache idempotency response",
			zap.String("key", key),
			zap.Error(err),
		)
	}
}
