package circuitbreaker

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"
)

// State is the breaker mode.
type State int

const (
	StateClosed State = iota
	StateOpen
	StateHalfOpen
)

func (s State) String() string {
	switch s {
	case StateClosed:
		return "CLOSED"
	case StateOpen:
		return "OPEN"
	case StateHalfOpen:
		return "HALF_OPEN"
	default:
		return "UNKNOWN"
	}
}

var ErrOpen = errors.New("circuit breaker is open")

type Config struct {
	Name string
	// Timeout is the per-call deadline. A call that overruns it counts as a
	// failure.
	Timeout time.Duration
	// ErrorThresholdPct opens the breaker when the failure percentage within
	// the rolling window reaches it.
	ErrorThresholdPct int
	// ResetTimeout is how long the breaker stays OPEN before allowing a
	// half-open probe.
	ResetTimeout time.Duration
	// Window and Buckets define the rolling window of fixed-size time buckets
	// used for the failure-rate calculation.
	Window  time.Duration
	Buckets int
	// MinRequests is the minimum call volume in the window before the breaker
	// may trip.
	MinRequests int
}

func DefaultConfig(name string) Config {
	return Config{
		Name:              name,
		Timeout:           5 * time.Second,
		ErrorThresholdPct: 50,
		ResetTimeout:      30 * time.Second,
		Window:            10 * time.Second,
		Buckets:           10,
		MinRequests:       5,
	}
}

type bucket struct {
	successes int
	failures  int
}

// StateChangeFunc is invoked after a state transition, outside the breaker's
// lock.
type StateChangeFunc func(name string, from, to State)

// Breaker wraps a single upstream call with a timeout, a rolling failure-rate
// window, and a CLOSED/OPEN/HALF_OPEN state machine. State is per-process and
// in-memory: each replica tracks upstream health independently.
type Breaker struct {
	cfg Config
	now func() time.Time

	mu          sync.Mutex
	state       State
	openedAt    time.Time
	probing     bool
	buckets     []bucket
	cursor      int
	bucketStart time.Time

	callbacks []StateChangeFunc
}

func New(cfg Config) *Breaker {
	return newBreaker(cfg, time.Now)
}

func newBreaker(cfg Config, now func() time.Time) *Breaker {
	if cfg.Buckets <= 0 {
		cfg.Buckets = 10
	}
	if cfg.Window <= 0 {
		cfg.Window = 10 * time.Second
	}
	if cfg.MinRequests <= 0 {
		cfg.MinRequests = 1
	}
	return &Breaker{
		cfg:         cfg,
		now:         now,
		state:       StateClosed,
		buckets:     make([]bucket, cfg.Buckets),
		bucketStart: now(),
	}
}

// OnStateChange registers a callback for state transitions. Not safe to call
// concurrently with Do; register during setup.
func (b *Breaker) OnStateChange(fn StateChangeFunc) {
	b.callbacks = append(b.callbacks, fn)
}

// Do runs fn under the breaker. It returns ErrOpen without invoking fn when
// the breaker rejects the call, otherwise fn's own error. fn receives a
// context bounded by the configured timeout; the deadline is enforced even if
// fn ignores its context.
func (b *Breaker) Do(ctx context.Context, fn func(ctx context.Context) error) error {
	if err := b.before(); err != nil {
		return err
	}

	err := b.run(ctx, fn)
	b.after(err)
	return err
}

func (b *Breaker) run(ctx context.Context, fn func(ctx context.Context) error) error {
	callCtx := ctx
	if b.cfg.Timeout > 0 {
		var cancel context.CancelFunc
		callCtx, cancel = context.WithTimeout(ctx, b.cfg.Timeout)
		defer cancel()
	}

	done := make(chan error, 1)
	go func() {
		done <- fn(callCtx)
	}()

	select {
	case err := <-done:
		return err
	case <-callCtx.Done():
		return fmt.Errorf("%s call timed out: %w", b.cfg.Name, callCtx.Err())
	}
}

func (b *Breaker) before() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.advance()

	switch b.state {
	case StateOpen:
		if b.now().Sub(b.openedAt) < b.cfg.ResetTimeout {
			return ErrOpen
		}
		b.transition(StateHalfOpen)
		b.probing = true
		return nil
	case StateHalfOpen:
		// Exactly one probe call is allowed through.
		if b.probing {
			return ErrOpen
		}
		b.probing = true
		return nil
	default:
		return nil
	}
}

func (b *Breaker) after(err error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.advance()

	if b.state == StateHalfOpen {
		b.probing = false
		if err != nil {
			// Failed probe: back to OPEN with a fresh open timestamp.
			b.openedAt = b.now()
			b.transition(StateOpen)
		} else {
			// Successful probe fully resets the window.
			b.resetWindow()
			b.transition(StateClosed)
		}
		return
	}

	if err != nil {
		b.buckets[b.cursor].failures++
	} else {
		b.buckets[b.cursor].successes++
	}

	if b.state == StateClosed && b.shouldTrip() {
		b.openedAt = b.now()
		b.transition(StateOpen)
	}
}

func (b *Breaker) shouldTrip() bool {
	successes, failures := b.totals()
	total := successes + failures
	if total < b.cfg.MinRequests {
		return false
	}
	return failures*100 >= b.cfg.ErrorThresholdPct*total
}

// advance rotates the bucket ring according to elapsed time, clearing buckets
// that have fallen out of the window.
func (b *Breaker) advance() {
	bucketLen := b.cfg.Window / time.Duration(b.cfg.Buckets)
	if bucketLen <= 0 {
		return
	}

	elapsed := b.now().Sub(b.bucketStart)
	steps := int(elapsed / bucketLen)
	if steps <= 0 {
		return
	}
	if steps >= b.cfg.Buckets {
		b.resetWindow()
		return
	}

	for i := 0; i < steps; i++ {
		b.cursor = (b.cursor + 1) % b.cfg.Buckets
		b.buckets[b.cursor] = bucket{}
	}
	b.bucketStart = b.bucketStart.Add(time.Duration(steps) * bucketLen)
}

func (b *Breaker) resetWindow() {
	for i := range b.buckets {
		b.buckets[i] = bucket{}
	}
	b.cursor = 0
	b.bucketStart = b.now()
}

func (b *Breaker) totals() (successes, failures int) {
	for _, bk := range b.buckets {
		successes += bk.successes
		failures += bk.failures
	}
	return successes, failures
}

func (b *Breaker) transition(to State) {
	from := b.state
	if from == to {
		return
	}
	b.state = to

	for _, fn := range b.callbacks {
		// Callbacks run on the calling goroutine; they must not call back
		// into the breaker.
		fn(b.cfg.Name, from, to)
	}
}

// Snapshot is a read-only view of the breaker for monitoring.
type Snapshot struct {
	Name         string `json:"name"`
	State        string `json:"state"`
	Successes    int    `json:"successes"`
	Failures     int    `json:"failures"`
	ErrorRatePct int    `json:"error_rate_pct"`
}

func (b *Breaker) Snapshot() Snapshot {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.advance()
	successes, failures := b.totals()
	total := successes + failures

	rate := 0
	if total > 0 {
		rate = failures * 100 / total
	}

	return Snapshot{
		Name:         b.cfg.Name,
		State:        b.state.String(),
		Successes:    successes,
		Failures:     failures,
		ErrorRatePct: rate,
	}
}

// State returns the current mode.
func (b *Breaker) State() State {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.advance()
	return b.state
}
