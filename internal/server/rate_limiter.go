package server

import (
	"time"

	"github.com/jonboulle/clockwork"
	"golang.org/x/time/rate"

	"github.com/Tyrowin/roomchat/internal/config"
)

// rateLimiter is a per-connection token bucket: burst messages at once,
// refilled at burst tokens per interval.
type rateLimiter struct {
	limiter *rate.Limiter
	clock   clockwork.Clock
}

func newRateLimiter(cfg config.RateLimitConfig, clock clockwork.Clock) *rateLimiter {
	burst := cfg.Burst
	if burst <= 0 {
		burst = 1
	}
	interval := cfg.RefillInterval
	if interval <= 0 {
		interval = time.Second
	}
	if clock == nil {
		clock = clockwork.NewRealClock()
	}

	return &rateLimiter{
		limiter: rate.NewLimiter(rate.Limit(float64(burst)/interval.Seconds()), burst),
		clock:   clock,
	}
}

func (rl *rateLimiter) allow() bool {
	return rl.limiter.AllowN(rl.clock.Now(), 1)
}
