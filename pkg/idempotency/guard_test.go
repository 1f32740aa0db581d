package idempotency

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	goredis "github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func newTestGuard(t *testing.T) (*Guard, *miniredis.Miniredis) {
	t.Helper()

	mr, err := miniredis.Run()
	require.NoError(t, err)
	t.Cleanup(mr.Close)

	rdb := goredis.NewClient(&goredis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })

	return New(rdb, 24*time.Hour, zap.NewNop()), mr
}

func TestEmptyKeyBypasses(t *testing.T) {
	g, _ := newTestGuard(t)

	a := g.Begin(context.Background(), "")
	assert.False(t, a.Duplicate)

	// Complete with an empty key is a no-op, not a panic.
	g.Complete(context.Background(), "", json.RawMessage(`{}`))
}

func TestFirstRequestProceeds(t *testing.T) {
	g, _ := newTestGuard(t)

	a := g.Begin(context.Background(), "k1")
	assert.False(t, a.Duplicate)
	assert.Nil(t, a.CachedResponse)
}

func TestCompletedReplaysSameResponse(t *testing.T) {
	g, _ := newTestGuard(t)

	require.False(t, g.Begin(context.Background(), "k1").Duplicate)
	response := json.RawMessage(`{"success":true,"message":"queued"}`)
	g.Complete(context.Background(), "k1", response)

	for i := 0; i < 3; i++ {
		a := g.Begin(context.Background(), "k1")
		assert.True(t, a.Duplicate)
		assert.JSONEq(t, string(response), string(a.CachedResponse))
	}
}

func TestInFlightDuplicateSuppressed(t *testing.T) {
	g, _ := newTestGuard(t)

	// Two requests race; only one wins the processing record.
	first := g.Begin(context.Background(), "k1")
	second := g.Begin(context.Background(), "k1")

	assert.False(t, first.Duplicate)
	assert.True(t, second.Duplicate)
	assert.Nil(t, second.CachedResponse)
}

func TestKeyExpiresAfterTTL(t *testing.T) {
	g, mr := newTestGuard(t)

	require.False(t, g.Begin(context.Background(), "k1").Duplicate)
	g.Complete(context.Background(), "k1", json.RawMessage(`{"success":true}`))

	mr.FastForward(24*time.Hour + time.Minute)

	a := g.Begin(context.Background(), "k1")
	assert.False(t, a.Duplicate)
}

func TestStoreOutageFailsOpen(t *testing.T) {
	mr, err := miniredis.Run()
	require.NoError(t, err)

	rdb := goredis.NewClient(&goredis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })

	g := New(rdb, 24*time.Hour, zap.NewNop())
	mr.Close()

	a := g.Begin(context.Background(), "k1")
	assert.False(t, a.Duplicate)

	g.Complete(context.Background(), "k1", json.RawMessage(`{}`))
}
