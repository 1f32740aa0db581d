package circuitbreaker

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var errUpstream = errors.New("upstream boom")

func testConfig() Config {
	return Config{
		Name:              "test",
		Timeout:           time.Second,
		ErrorThresholdPct: 50,
		ResetTimeout:      30 * time.Second,
		Window:            10 * time.Second,
		Buckets:           10,
		MinRequests:       4,
	}
}

type fakeClock struct {
	t time.Time
}

func (c *fakeClock) now() time.Time            { return c.t }
func (c *fakeClock) advance(d time.Duration)   { c.t = c.t.Add(d) }

func newTestBreaker(t *testing.T) (*Breaker, *fakeClock) {
	t.Helper()
	clock := &fakeClock{t: time.Unix(1_700_000_000, 0)}
	return newBreaker(testConfig(), clock.now), clock
}

func fail(ctx context.Context) error { return errUpstream }
func ok(ctx context.Context) error   { return nil }

func TestBreakerOpensAtThreshold(t *testing.T) {
	b, _ := newTestBreaker(t)

	// Two successes, two failures: 50% failure rate over 4 calls.
	require.NoError(t, b.Do(context.Background(), ok))
	require.NoError(t, b.Do(context.Background(), ok))
	require.ErrorIs(t, b.Do(context.Background(), fail), errUpstream)
	require.ErrorIs(t, b.Do(context.Background(), fail), errUpstream)

	assert.Equal(t, StateOpen, b.State())

	// While OPEN the wrapped call is never attempted.
	called := false
	err := b.Do(context.Background(), func(ctx context.Context) error {
		called = true
		return nil
	})
	assert.ErrorIs(t, err, ErrOpen)
	assert.False(t, called)
}

func TestBreakerStaysClosedBelowMinRequests(t *testing.T) {
	b, _ := newTestBreaker(t)

	require.ErrorIs(t, b.Do(context.Background(), fail), errUpstream)
	require.ErrorIs(t, b.Do(context.Background(), fail), errUpstream)

	assert.Equal(t, StateClosed, b.State())
}

func TestBreakerHalfOpenSingleProbe(t *testing.T) {
	b, clock := newTestBreaker(t)

	tripBreaker(t, b)
	clock.advance(31 * time.Second)

	// First caller becomes the probe; hold it open while a second arrives.
	release := make(chan error)
	probeStarted := make(chan struct{})
	probeDone := make(chan error, 1)
	go func() {
		probeDone <- b.Do(context.Background(), func(ctx context.Context) error {
			close(probeStarted)
			return <-release
		})
	}()

	<-probeStarted
	assert.ErrorIs(t, b.Do(context.Background(), ok), ErrOpen)

	release <- nil
	require.NoError(t, <-probeDone)
	assert.Equal(t, StateClosed, b.State())
}

func TestBreakerFailedProbeReopens(t *testing.T) {
	b, clock := newTestBreaker(t)

	tripBreaker(t, b)
	clock.advance(31 * time.Second)

	require.ErrorIs(t, b.Do(context.Background(), fail), errUpstream)
	assert.Equal(t, StateOpen, b.State())

	// The open timestamp was reset: still rejecting before another full
	// reset timeout elapses.
	clock.advance(29 * time.Second)
	assert.ErrorIs(t, b.Do(context.Background(), ok), ErrOpen)

	clock.advance(2 * time.Second)
	require.NoError(t, b.Do(context.Background(), ok))
	assert.Equal(t, StateClosed, b.State())
}

func TestBreakerSuccessfulProbeResetsWindow(t *testing.T) {
	b, clock := newTestBreaker(t)

	tripBreaker(t, b)
	clock.advance(31 * time.Second)
	require.NoError(t, b.Do(context.Background(), ok))

	snap := b.Snapshot()
	assert.Equal(t, "CLOSED", snap.State)
	assert.Equal(t, 0, snap.Failures)
	assert.Equal(t, 0, snap.ErrorRatePct)
}

func TestBreakerWindowExpiry(t *testing.T) {
	b, clock := newTestBreaker(t)

	require.ErrorIs(t, b.Do(context.Background(), fail), errUpstream)
	require.ErrorIs(t, b.Do(context.Background(), fail), errUpstream)
	require.ErrorIs(t, b.Do(context.Background(), fail), errUpstream)

	// Old failures roll out of the 10s window.
	clock.advance(11 * time.Second)
	require.NoError(t, b.Do(context.Background(), ok))
	require.ErrorIs(t, b.Do(context.Background(), fail), errUpstream)

	assert.Equal(t, StateClosed, b.State())
	snap := b.Snapshot()
	assert.Equal(t, 1, snap.Failures)
	assert.Equal(t, 1, snap.Successes)
}

func TestBreakerCallTimeout(t *testing.T) {
	cfg := testConfig()
	cfg.Timeout = 10 * time.Millisecond
	b := New(cfg)

	err := b.Do(context.Background(), func(ctx context.Context) error {
		select {
		case <-time.After(time.Second):
			return nil
		case <-ctx.Done():
			return ctx.Err()
		}
	})
	require.Error(t, err)
	assert.ErrorIs(t, err, context.DeadlineExceeded)

	snap := b.Snapshot()
	assert.Equal(t, 1, snap.Failures)
}

func TestBreakerStateChangeCallback(t *testing.T) {
	b, clock := newTestBreaker(t)

	var transitions []string
	b.OnStateChange(func(name string, from, to State) {
		transitions = append(transitions, from.String()+">"+to.String())
	})

	tripBreaker(t, b)
	clock.advance(31 * time.Second)
	require.NoError(t, b.Do(context.Background(), ok))

	assert.Equal(t, []string{"CLOSED>OPEN", "OPEN>HALF_OPEN", "HALF_OPEN>CLOSED"}, transitions)
}

func tripBreaker(t *testing.T, b *Breaker) {
	t.Helper()
	for i := 0; i < 4; i++ {
		require.ErrorIs(t, b.Do(context.Background(), fail), errUpstream)
	}
	require.Equal(t, StateOpen, b.State())
}
