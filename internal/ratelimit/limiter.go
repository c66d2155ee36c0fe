package ratelimit

import (
	"context"
	"math"
	"sync"
	"time"
)

// tokenEpsilon absorbs float rounding in refill so a waiter woken exactly on
// time is admitted
const tokenEpsilon = 1e-9

// Limiter is implemented by rate limiters gating outbound requests.
type Limiter interface {
	Wait(ctx context.Context) error
}

// TokenBucket is a token bucket whose burst capacity equals its refill rate.
// Rates below one request per second keep a cap of one token. Tokens refill
// from elapsed wall clock time, so an idle bucket is immediately full again up
// to the cap. A new bucket holds a single token, so the first second after
// construction admits no more than rate requests.
type TokenBucket struct {
	mu       sync.Mutex
	rate     float64
	capacity float64
	tokens   float64
	last     time.Time
	now      func() time.Time
	after    func(time.Duration) (<-chan time.Time, func() bool)

	// changed is closed and replaced whenever the rate is reconfigured so
	// sleeping waiters recompute their wait against the new rate.
	changed chan struct{}
}

// NewTokenBucket constructs a limiter admitting up to rate requests per second.
func NewTokenBucket(rate float64) *TokenBucket {
	if rate <= 0 {
		panic("rate must be positive")
	}
	b := &TokenBucket{
		rate:     rate,
		capacity: capacityFor(rate),
		tokens:   1,
		now:      time.Now,
		after:    newTimer,
		changed:  make(chan struct{}),
	}
	b.last = b.now()
	return b
}

// Wait blocks until a token is available or the context is cancelled.
func (b *TokenBucket) Wait(ctx context.Context) error {
	b.mu.Lock()
	for {
		if err := ctx.Err(); err != nil {
			b.mu.Unlock()
			return err
		}

		b.refill(b.now())
		if b.tokens >= 1-tokenEpsilon {
			b.tokens--
			b.mu.Unlock()
			return nil
		}

		needed := (1 - b.tokens) / b.rate
		waitDuration := time.Duration(math.Ceil(needed * float64(time.Second)))
		if waitDuration <= 0 {
			waitDuration = time.Nanosecond
		}
		changed := b.changed

		fired, stop := b.after(waitDuration)
		b.mu.Unlock()
		select {
		case <-ctx.Done():
			stop()
			return ctx.Err()
		case <-changed:
			stop()
		case <-fired:
		}
		b.mu.Lock()
	}
}

// Acquire is an alias of Wait.
func (b *TokenBucket) Acquire(ctx context.Context) error {
	return b.Wait(ctx)
}

// SetRate reconfigures the refill rate and burst cap. Tokens accrued so far
// are kept but clamped to the new cap.
func (b *TokenBucket) SetRate(rate float64) {
	if rate <= 0 {
		return
	}
	b.mu.Lock()
	defer b.mu.Unlock()

	b.refill(b.now())
	b.rate = rate
	b.capacity = capacityFor(rate)
	if b.tokens > b.capacity {
		b.tokens = b.capacity
	}
	close(b.changed)
	b.changed = make(chan struct{})
}

// Rate returns the configured requests per second.
func (b *TokenBucket) Rate() float64 {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.rate
}

// Available returns the tokens currently in the bucket.
func (b *TokenBucket) Available() float64 {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.refill(b.now())
	return b.tokens
}

func newTimer(d time.Duration) (<-chan time.Time, func() bool) {
	t := time.NewTimer(d)
	return t.C, t.Stop
}

func capacityFor(rate float64) float64 {
	return math.Max(rate, 1)
}

func (b *TokenBucket) refill(now time.Time) {
	elapsed := now.Sub(b.last)
	if elapsed <= 0 {
		return
	}
	b.tokens += b.rate * elapsed.Seconds()
	if b.tokens > b.capacity {
		b.tokens = b.capacity
	}
	b.last = now
}
