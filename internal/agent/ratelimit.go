package agent

import (
	"context"
	"sync"
	"time"
)

// RateLimiter is a token bucket throttling outbound model calls across all
// chats. Wait blocks until a token is available or the context ends.
type RateLimiter struct {
	mu     sync.Mutex
	tokens float64
	max    float64
	rate   float64 // tokens per second
	last   time.Time
}

func NewRateLimiter(maxBurst int, perMinute float64) *RateLimiter {
	if maxBurst <= 0 {
		maxBurst = 10
	}
	if perMinute <= 0 {
		perMinute = 30
	}
	return &RateLimiter{
		tokens: float64(maxBurst),
		max:    float64(maxBurst),
		rate:   perMinute / 60.0,
		last:   time.Now(),
	}
}

func (rl *RateLimiter) Wait(ctx context.Context) error {
	for {
		rl.mu.Lock()
		now := time.Now()
		rl.tokens += now.Sub(rl.last).Seconds() * rl.rate
		if rl.tokens > rl.max {
			rl.tokens = rl.max
		}
		rl.last = now

		if rl.tokens >= 1.0 {
			rl.tokens -= 1.0
			rl.mu.Unlock()
			return nil
		}
		wait := time.Duration((1.0 - rl.tokens) / rl.rate * float64(time.Second))
		rl.mu.Unlock()

		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}
	}
}
