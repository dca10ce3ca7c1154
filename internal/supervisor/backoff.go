package supervisor

import (
	"context"
	"math"
	"math/rand"
	"time"
)

// Backoff computes the pause between attempts of the same agent.
type Backoff struct {
	BaseDelay    time.Duration
	MaxDelay     time.Duration
	JitterFactor float64 // 0.0 to 1.0
	Multiplier   float64 // Exponential factor
}

// DefaultBackoff returns a default backoff.
func DefaultBackoff() *Backoff {
	return &Backoff{
		BaseDelay:    time.Second,
		MaxDelay:     30 * time.Second,
		JitterFactor: 0.2,
		Multiplier:   2.0,
	}
}

// BackoffOption configures a backoff.
type BackoffOption func(*Backoff)

// WithBaseDelay sets the initial delay.
func WithBaseDelay(d time.Duration) BackoffOption {
	return func(b *Backoff) {
		b.BaseDelay = d
	}
}

// WithMaxDelay sets the maximum delay.
func WithMaxDelay(d time.Duration) BackoffOption {
	return func(b *Backoff) {
		b.MaxDelay = d
	}
}

// WithJitter sets the jitter factor.
func WithJitter(factor float64) BackoffOption {
	return func(b *Backoff) {
		b.JitterFactor = factor
	}
}

// WithMultiplier sets the exponential multiplier.
func WithMultiplier(m float64) BackoffOption {
	return func(b *Backoff) {
		b.Multiplier = m
	}
}

// NewBackoff creates a backoff from options.
func NewBackoff(opts ...BackoffOption) *Backoff {
	b := DefaultBackoff()
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// Delay returns the pause before the next attempt after failures failed
// attempts. Zero failures means no pause.
func (b *Backoff) Delay(failures int) time.Duration {
	if b == nil || failures < 1 || b.BaseDelay <= 0 {
		return 0
	}
	delay := b.delayNoJitter(failures)
	if b.JitterFactor > 0 {
		jitter := delay * b.JitterFactor
		delay += (rand.Float64()*2 - 1) * jitter
	}
	return time.Duration(delay)
}

func (b *Backoff) delayNoJitter(failures int) float64 {
	mult := b.Multiplier
	if mult < 1 {
		mult = 1
	}
	// baseDelay * multiplier^(failures-1)
	delay := float64(b.BaseDelay) * math.Pow(mult, float64(failures-1))
	if b.MaxDelay > 0 && delay > float64(b.MaxDelay) {
		delay = float64(b.MaxDelay)
	}
	return delay
}

// Wait sleeps for the delay or until ctx is done.
func (b *Backoff) Wait(ctx context.Context, failures int) error {
	delay := b.Delay(failures)
	if delay <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(delay)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
