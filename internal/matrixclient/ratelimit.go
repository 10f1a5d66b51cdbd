package matrixclient

import (
	"context"
	"sync"
	"time"

	"github.com/pkg/errors"
)

// RateLimitConfig defines rate limiting configuration for Side-M operations.
type RateLimitConfig struct {
	RoomCreation TokenBucketConfig `yaml:"room_creation"`
	Messages     TokenBucketConfig `yaml:"messages"`
	Invites      TokenBucketConfig `yaml:"invites"`
	Registration TokenBucketConfig `yaml:"registration"`
	Joins        TokenBucketConfig `yaml:"joins"`
	Enabled      bool              `yaml:"enabled"`
}

// TokenBucketConfig defines token bucket algorithm parameters.
type TokenBucketConfig struct {
	Rate      float64       `yaml:"rate"`
	BurstSize int           `yaml:"burst_size"`
	Interval  time.Duration `yaml:"interval,omitempty"`
}

// TokenBucket implements a token bucket rate limiter.
type TokenBucket struct {
	mu         sync.Mutex
	rate       float64
	burstSize  int
	tokens     float64
	lastRefill time.Time
	interval   time.Duration
	lastOp     time.Time
}

// NewTokenBucket creates a new token bucket with the given configuration.
func NewTokenBucket(config TokenBucketConfig) *TokenBucket {
	return &TokenBucket{
		rate:       config.Rate,
		burstSize:  config.BurstSize,
		tokens:     float64(config.BurstSize),
		lastRefill: time.Now(),
		interval:   config.Interval,
	}
}

// Allow reports whether an operation may proceed right now, consuming a
// token if so.
func (tb *TokenBucket) Allow() bool {
	tb.mu.Lock()
	defer tb.mu.Unlock()
	allowed, _ := tb.reserveLocked()
	return allowed
}

// Wait blocks until an operation is allowed, then consumes a token.
func (tb *TokenBucket) Wait(ctx context.Context) error {
	for {
		tb.mu.Lock()
		allowed, wait := tb.reserveLocked()
		tb.mu.Unlock()
		if allowed {
			return nil
		}
		if wait <= 0 {
			continue
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(wait):
		}
	}
}

// reserveLocked decides whether a token is available under tb.mu, consuming
// one if so. When not, it reports how long the caller should wait before
// trying again. A fixed interval (minimum spacing between calls) and a
// continuous refill rate are mutually exclusive limiter shapes; interval
// wins when set.
func (tb *TokenBucket) reserveLocked() (allowed bool, wait time.Duration) {
	now := time.Now()

	if tb.interval > 0 {
		if tb.lastOp.IsZero() || now.Sub(tb.lastOp) >= tb.interval {
			tb.lastOp = now
			return true, 0
		}
		return false, tb.interval - now.Sub(tb.lastOp)
	}

	elapsed := now.Sub(tb.lastRefill)
	tb.tokens += elapsed.Seconds() * tb.rate
	if tb.tokens > float64(tb.burstSize) {
		tb.tokens = float64(tb.burstSize)
	}
	tb.lastRefill = now

	if tb.tokens >= 1.0 {
		tb.tokens--
		return true, 0
	}
	if tb.rate <= 0 {
		return false, time.Hour
	}
	return false, time.Duration((1.0 - tb.tokens) / tb.rate * float64(time.Second))
}

// DefaultRateLimitConfig returns sensible defaults, modeled on Synapse's own
// rc_* defaults but slightly more permissive since application services are
// trusted callers.
func DefaultRateLimitConfig() RateLimitConfig {
	return RateLimitConfig{
		Enabled: true,
		RoomCreation: TokenBucketConfig{
			Rate:      0.5,
			BurstSize: 5,
		},
		Messages: TokenBucketConfig{
			Rate:      5,
			BurstSize: 20,
		},
		Invites: TokenBucketConfig{
			Rate:      0.3,
			BurstSize: 10,
		},
		Registration: TokenBucketConfig{
			Rate:      1,
			BurstSize: 10,
		},
		Joins: TokenBucketConfig{
			Rate:      1,
			BurstSize: 10,
		},
	}
}

// IsRateLimitError checks if an error is a Matrix 429 rate limit error.
func IsRateLimitError(err error) bool {
	var mErr *Error
	if errors.As(err, &mErr) {
		return mErr.StatusCode == 429 || mErr.ErrCode == "M_LIMIT_EXCEEDED"
	}
	return false
}
