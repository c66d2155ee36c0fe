package ratelimit

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// virtualClock advances its time by the full duration of every wait
type virtualClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *virtualClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *virtualClock) After(d time.Duration) (<-chan time.Time, func() bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
	fired := make(chan time.Time, 1)
	fired <- c.now
	return fired, func() bool { return false }
}

func (c *virtualClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

func newVirtualBucket(rate float64) (*TokenBucket, *virtualClock) {
	clock := &virtualClock{now: time.Unix(1_700_000_000, 0)}
	b := NewTokenBucket(rate)
	b.now = clock.Now
	b.after = clock.After
	b.last = clock.Now()
	return b, clock
}

func TestTokenBucketThousandAcquiresAtFifteenPerSecond(t *testing.T) {
	limiter, clock := newVirtualBucket(15)
	ctx := context.Background()

	start := clock.Now()
	admitted := make([]time.Time, 0, 1000)
	for i := 0; i < 1000; i++ {
		require.NoError(t, limiter.Acquire(ctx))
		admitted = append(admitted, clock.Now())
	}
	elapsed := clock.Now().Sub(start)

	// ceil(1000/15) - 1 = 66
	assert.GreaterOrEqual(t, elapsed, 66*time.Second)
	assert.Less(t, elapsed, 67*time.Second)

	for i := 15; i < len(admitted); i++ {
		assert.GreaterOrEqual(t, admitted[i].Sub(admitted[i-15]), time.Second,
			"more than 15 admissions within one second ending at %d", i)
	}
}

func TestTokenBucketStartsWithOneToken(t *testing.T) {
	limiter, clock := newVirtualBucket(50)
	ctx := context.Background()

	start := clock.Now()
	require.NoError(t, limiter.Wait(ctx))
	assert.Equal(t, start, clock.Now())

	require.NoError(t, limiter.Wait(ctx))
	assert.InDelta(t, float64(20*time.Millisecond), float64(clock.Now().Sub(start)), float64(time.Microsecond))
}

func TestTokenBucketBurstAfterIdle(t *testing.T) {
	limiter, clock := newVirtualBucket(15)
	ctx := context.Background()

	require.NoError(t, limiter.Wait(ctx))
	clock.Advance(10 * time.Second)

	idleEnd := clock.Now()
	for i := 0; i < 15; i++ {
		require.NoError(t, limiter.Wait(ctx))
	}
	assert.Equal(t, idleEnd, clock.Now(), "a full bucket admits the cap without waiting")

	require.NoError(t, limiter.Wait(ctx))
	assert.Greater(t, clock.Now().Sub(idleEnd), time.Duration(0))
}

func TestTokenBucketConcurrentCallersShareBudget(t *testing.T) {
	limiter := NewTokenBucket(100)
	ctx := context.Background()

	var admitted atomic.Int64
	var wg sync.WaitGroup
	start := time.Now()
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 10; j++ {
				if limiter.Wait(ctx) == nil {
					admitted.Add(1)
				}
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, int64(80), admitted.Load())
	// one immediate, 79 more at 100/s
	assert.GreaterOrEqual(t, time.Since(start), 750*time.Millisecond)
}

func TestTokenBucketRefillIsCapped(t *testing.T) {
	limiter := NewTokenBucket(15)
	base := time.Unix(1_700_000_000, 0)
	limiter.last = base
	limiter.tokens = 0

	limiter.refill(base.Add(200 * time.Millisecond))
	assert.InDelta(t, 3.0, limiter.tokens, 1e-9)

	limiter.refill(base.Add(time.Hour))
	assert.Equal(t, 15.0, limiter.tokens)
}

func TestTokenBucketContextCancel(t *testing.T) {
	limiter := NewTokenBucket(1)
	require.NoError(t, limiter.Wait(context.Background()))

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	err := limiter.Wait(ctx)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestTokenBucketSetRateWakesWaiters(t *testing.T) {
	limiter := NewTokenBucket(0.5)
	require.NoError(t, limiter.Wait(context.Background()))

	done := make(chan error, 1)
	go func() {
		done <- limiter.Wait(context.Background())
	}()

	time.Sleep(20 * time.Millisecond)
	limiter.SetRate(100)

	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(500 * time.Millisecond):
		t.Fatal("waiter did not observe the new rate")
	}
	assert.Equal(t, 100.0, limiter.Rate())
}

func TestTokenBucketSetRateClampsTokens(t *testing.T) {
	limiter, clock := newVirtualBucket(20)
	clock.Advance(time.Minute)
	assert.Equal(t, 20.0, limiter.Available())

	limiter.SetRate(5)
	assert.Equal(t, 5.0, limiter.Available())
}
