package ratelimit

import (
	"context"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/rescale/rescale-files/internal/logging"
)

// RateLimiter implements a token bucket rate limiter.
// It allows bursts up to maxTokens, then refills at refillRate tokens/second.
// A cooldown, set after the server answers 429, blocks all acquisitions until it ends.
type RateLimiter struct {
	tokens        float64   // Current number of tokens available
	maxTokens     float64   // Maximum bucket capacity
	refillRate    float64   // Tokens added per second
	lastRefill    time.Time // Last time tokens were refilled
	lastWarnTime  time.Time // Last time we warned user about rate limiting
	cooldownUntil time.Time
	logger        *logging.Logger
	mu            sync.Mutex
}

// NewRateLimiter creates a new rate limiter.
//
// Parameters:
//   - tokensPerSecond: Rate at which tokens are added (e.g., 3.0 for 3 tokens/second)
//   - burstSize: Maximum tokens that can accumulate (allows brief bursts)
func NewRateLimiter(tokensPerSecond float64, burstSize float64) *RateLimiter {
	return &RateLimiter{
		tokens:     burstSize, // Start with full bucket
		maxTokens:  burstSize,
		refillRate: tokensPerSecond,
		lastRefill: time.Now(),
		logger:     logging.Nop(),
	}
}

// NewUserScopeRateLimiter creates a rate limiter for Rescale's v3 API "user" scope.
//
// Bucket starts with UserScopeBurstCapacity tokens, each API call consumes
// one, and the bucket refills at UserScopeRatePerSec.
func NewUserScopeRateLimiter() *RateLimiter {
	return NewRateLimiter(UserScopeRatePerSec, UserScopeBurstCapacity)
}

// SetLogger sets where throttling warnings go.
func (rl *RateLimiter) SetLogger(logger *logging.Logger) {
	if logger == nil {
		logger = logging.Nop()
	}
	rl.mu.Lock()
	rl.logger = logger
	rl.mu.Unlock()
}

// Wait blocks until a token is available or context is cancelled.
// Returns an error if the context is cancelled before a token becomes available.
func (rl *RateLimiter) Wait(ctx context.Context) error {
	startTime := time.Now()

	if rl.CooldownRemaining() == 0 && rl.tryAcquire() {
		return nil
	}

	waitTime := rl.CooldownRemaining() + rl.timeUntilNextToken()
	if waitTime > WarnAfterWait {
		rl.mu.Lock()
		if time.Since(rl.lastWarnTime) > NotifyMinInterval {
			rl.logger.Warn().Float64("wait_seconds", waitTime.Seconds()).Msg("rate limited, waiting for API capacity")
			rl.lastWarnTime = time.Now()
		}
		rl.mu.Unlock()
	}

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		waitDuration := rl.CooldownRemaining()
		if waitDuration == 0 {
			if rl.tryAcquire() {
				if actualWait := time.Since(startTime); actualWait > 5*time.Second {
					rl.logger.Info().Float64("wait_seconds", actualWait.Seconds()).Msg("rate limit wait completed")
				}
				return nil
			}
			waitDuration = rl.timeUntilNextToken()
		}
		if waitDuration <= 0 {
			waitDuration = time.Millisecond
		}

		timer := time.NewTimer(waitDuration)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}
	}
}

// tryAcquire attempts to acquire one token without blocking.
// Returns true if a token was acquired, false otherwise.
func (rl *RateLimiter) tryAcquire() bool {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	rl.refillLocked(time.Now())

	if rl.tokens >= 1.0 {
		rl.tokens -= 1.0
		return true
	}

	return false
}

func (rl *RateLimiter) refillLocked(now time.Time) {
	elapsed := now.Sub(rl.lastRefill).Seconds()
	rl.tokens += elapsed * rl.refillRate
	if rl.tokens > rl.maxTokens {
		rl.tokens = rl.maxTokens
	}
	rl.lastRefill = now
}

// timeUntilNextToken calculates how long to wait until at least one token is available.
func (rl *RateLimiter) timeUntilNextToken() time.Duration {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	rl.refillLocked(time.Now())
	tokensNeeded := 1.0 - rl.tokens
	if tokensNeeded <= 0 {
		return 0
	}

	secondsNeeded := tokensNeeded / rl.refillRate
	return time.Duration(secondsNeeded * float64(time.Second))
}

// Available returns the tokens in the bucket right now.
func (rl *RateLimiter) Available() float64 {
	rl.mu.Lock()
	defer rl.mu.Unlock()
	rl.refillLocked(time.Now())
	return rl.tokens
}

// Drain empties the bucket. Called when the server says we're over the limit,
// since our local estimate was evidently too generous.
func (rl *RateLimiter) Drain() {
	rl.mu.Lock()
	defer rl.mu.Unlock()
	rl.tokens = 0
	rl.lastRefill = time.Now()
}

// SetCooldown blocks acquisitions for d. A shorter cooldown never shortens
// one already in effect.
func (rl *RateLimiter) SetCooldown(d time.Duration) {
	rl.mu.Lock()
	defer rl.mu.Unlock()
	until := time.Now().Add(d)
	if until.After(rl.cooldownUntil) {
		rl.cooldownUntil = until
	}
}

// CooldownRemaining returns the time left on the current cooldown, or zero.
func (rl *RateLimiter) CooldownRemaining() time.Duration {
	rl.mu.Lock()
	defer rl.mu.Unlock()
	if d := time.Until(rl.cooldownUntil); d > 0 {
		return d
	}
	return 0
}

// Throttled records a 429 response: the bucket is drained and a cooldown set
// from the Retry-After header value (seconds), falling back to DefaultCooldown.
func (rl *RateLimiter) Throttled(retryAfter string) time.Duration {
	d := ParseRetryAfter(retryAfter)
	rl.Drain()
	rl.SetCooldown(d)
	return d
}

// ParseRetryAfter converts a Retry-After header in seconds to a cooldown,
// clamped to MaxCooldown.
func ParseRetryAfter(v string) time.Duration {
	secs, err := strconv.Atoi(strings.TrimSpace(v))
	if err != nil || secs <= 0 {
		return DefaultCooldown
	}
	d := time.Duration(secs) * time.Second
	if d > MaxCooldown {
		return MaxCooldown
	}
	return d
}
