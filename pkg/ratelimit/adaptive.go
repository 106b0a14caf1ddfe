package ratelimit

import (
	"context"
	"fmt"
	"sync"
)

// AdaptiveBucket wraps a TokenBucket whose refill rate adapts to upstream
// pushback: it backs off on 429 responses and recovers after a run of
// successes. Following the source algorithm, a rate change replaces the
// underlying bucket wholesale rather than mutating its rate in place, so an
// in-flight Acquire always sees a consistent rate/capacity pair.
type AdaptiveBucket struct {
	mu sync.Mutex

	bucket *TokenBucket

	baseRate       float64
	minRate        float64
	maxRate        float64
	backoffFactor  float64
	recoveryFactor float64
	capacity       float64

	currentRate        float64
	consecutiveSuccess int
	consecutive429     int
}

// AdaptiveConfig configures an AdaptiveBucket. Zero-valued fields fall back
// to the documented defaults.
type AdaptiveConfig struct {
	BaseRate       float64 // default 0.33
	MinRate        float64 // default 0.1
	MaxRate        float64 // default 0.5
	BackoffFactor  float64 // default 0.8
	RecoveryFactor float64 // default 1.1
	Capacity       float64 // default 1
}

// NewAdaptiveBucket constructs an adaptive bucket starting at cfg.BaseRate.
func NewAdaptiveBucket(cfg AdaptiveConfig) *AdaptiveBucket {
	if cfg.BaseRate == 0 {
		cfg.BaseRate = 0.33
	}
	if cfg.MinRate == 0 {
		cfg.MinRate = 0.1
	}
	if cfg.MaxRate == 0 {
		cfg.MaxRate = 0.5
	}
	if cfg.BackoffFactor == 0 {
		cfg.BackoffFactor = 0.8
	}
	if cfg.RecoveryFactor == 0 {
		cfg.RecoveryFactor = 1.1
	}
	if cfg.Capacity == 0 {
		cfg.Capacity = 1
	}
	return &AdaptiveBucket{
		bucket:         NewTokenBucket(cfg.BaseRate, cfg.Capacity),
		baseRate:       cfg.BaseRate,
		minRate:        cfg.MinRate,
		maxRate:        cfg.MaxRate,
		backoffFactor:  cfg.BackoffFactor,
		recoveryFactor: cfg.RecoveryFactor,
		capacity:       cfg.Capacity,
		currentRate:    cfg.BaseRate,
	}
}

// Acquire delegates to the current underlying bucket.
func (a *AdaptiveBucket) Acquire(ctx context.Context) error {
	a.mu.Lock()
	b := a.bucket
	a.mu.Unlock()
	return b.Acquire(ctx)
}

// TryAcquire delegates to the current underlying bucket.
func (a *AdaptiveBucket) TryAcquire() bool {
	a.mu.Lock()
	b := a.bucket
	a.mu.Unlock()
	return b.TryAcquire()
}

// OnSuccess records a successful call. After three consecutive successes
// the rate recovers by RecoveryFactor, clamped to MaxRate, and the
// 429-streak counter resets.
func (a *AdaptiveBucket) OnSuccess() {
	a.mu.Lock()
	defer a.mu.Unlock()

	a.consecutive429 = 0
	a.consecutiveSuccess++
	if a.consecutiveSuccess >= 3 {
		newRate := a.currentRate * a.recoveryFactor
		if newRate > a.maxRate {
			newRate = a.maxRate
		}
		a.setRateLocked(newRate)
		a.consecutiveSuccess = 0
	}
}

// OnRateLimited records an upstream 429. The rate backs off by
// BackoffFactor^consecutive429, clamped to MinRate, and the success streak
// resets. retryAfter is accepted for API symmetry with the upstream
// response but does not itself change the rate — the backoff is purely a
// function of the consecutive-429 streak, matching the source algorithm.
func (a *AdaptiveBucket) OnRateLimited(retryAfter int) {
	a.mu.Lock()
	defer a.mu.Unlock()

	a.consecutiveSuccess = 0
	a.consecutive429++

	factor := 1.0
	for i := 0; i < a.consecutive429; i++ {
		factor *= a.backoffFactor
	}
	newRate := a.currentRate * factor
	if newRate < a.minRate {
		newRate = a.minRate
	}
	a.setRateLocked(newRate)
}

// setRateLocked swaps in a fresh TokenBucket at the new rate. Must be
// called with a.mu held.
func (a *AdaptiveBucket) setRateLocked(rate float64) {
	a.currentRate = rate
	a.bucket = NewTokenBucket(rate, a.capacity)
}

// CurrentRate returns the bucket's current refill rate.
func (a *AdaptiveBucket) CurrentRate() float64 {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.currentRate
}

func (a *AdaptiveBucket) String() string {
	a.mu.Lock()
	defer a.mu.Unlock()
	return fmt.Sprintf("AdaptiveBucket(rate=%.4f, min=%.2f, max=%.2f, successStreak=%d, 429Streak=%d)",
		a.currentRate, a.minRate, a.maxRate, a.consecutiveSuccess, a.consecutive429)
}
