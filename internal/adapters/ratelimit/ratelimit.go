// Package ratelimit throttles calls to external data providers with token
// buckets that slow down when a provider answers with a rate limit error.
package ratelimit

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/hugo-lorenzo-mato/marketflow/internal/core"
)

// Config configures a limiter.
type Config struct {
	Burst     float64 // bucket capacity
	PerSecond float64 // tokens added per second
}

// Enabled reports whether cfg limits anything.
func (c Config) Enabled() bool { return c.PerSecond > 0 }

// Limiter is a token bucket. After a rate limit error its refill rate is
// halved, down to a tenth of the configured rate; five consecutive
// successes raise it by 10%, up to the configured rate.
type Limiter struct {
	mu         sync.Mutex
	tokens     float64
	burst      float64
	rate       float64
	minRate    float64
	maxRate    float64
	lastRefill time.Time
	okStreak   int
	now        func() time.Time
}

// New creates a limiter with a full bucket.
func New(cfg Config) *Limiter {
	burst := cfg.Burst
	if burst < 1 {
		burst = 1
	}
	l := &Limiter{
		tokens:  burst,
		burst:   burst,
		rate:    cfg.PerSecond,
		minRate: cfg.PerSecond * 0.1,
		maxRate: cfg.PerSecond,
		now:     time.Now,
	}
	l.lastRefill = l.now()
	return l
}

// Wait blocks until a token is available or ctx is done.
func (l *Limiter) Wait(ctx context.Context) error {
	for {
		l.mu.Lock()
		l.refill()
		if l.tokens >= 1 {
			l.tokens--
			l.mu.Unlock()
			return nil
		}
		wait := time.Duration((1 - l.tokens) / l.rate * float64(time.Second))
		l.mu.Unlock()

		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}
	}
}

// TryAcquire takes a token without blocking.
func (l *Limiter) TryAcquire() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.refill()
	if l.tokens >= 1 {
		l.tokens--
		return true
	}
	return false
}

// Available returns the tokens currently in the bucket.
func (l *Limiter) Available() float64 {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.refill()
	return l.tokens
}

// Rate returns the current refill rate in tokens per second.
func (l *Limiter) Rate() float64 {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.rate
}

// Observe adapts the refill rate to the result of a call.
func (l *Limiter) Observe(err error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	switch {
	case core.IsCategory(err, core.ErrCatRateLimit):
		l.refill()
		l.okStreak = 0
		l.rate = max(l.rate*0.5, l.minRate)
	case err == nil:
		l.okStreak++
		if l.okStreak >= 5 {
			l.refill()
			l.rate = min(l.rate*1.1, l.maxRate)
			l.okStreak = 0
		}
	}
}

func (l *Limiter) refill() {
	now := l.now()
	elapsed := now.Sub(l.lastRefill)
	l.lastRefill = now
	l.tokens = min(l.burst, l.tokens+elapsed.Seconds()*l.rate)
}

// call waits for a token, runs fn and feeds its error back.
func (l *Limiter) call(ctx context.Context, fn func() error) error {
	if err := l.Wait(ctx); err != nil {
		return fmt.Errorf("waiting for rate limit: %w", err)
	}
	err := fn()
	l.Observe(err)
	return err
}
