package api

import (
	"strconv"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

const (
	limiterIdleTTL      = 5 * time.Minute
	limiterPruneEvery   = 3 * time.Minute
	defaultAnalyzeRate  = 1.0
	defaultAnalyzeBurst = 10
)

type ownerLimiter struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// rateLimiter keeps one token bucket per owner
type rateLimiter struct {
	mu        sync.Mutex
	limiters  map[string]*ownerLimiter
	rate      rate.Limit
	burst     int
	lastPrune time.Time
	now       func() time.Time
}

func newRateLimiter(r rate.Limit, burst int) *rateLimiter {
	if r <= 0 {
		r = defaultAnalyzeRate
	}
	if burst <= 0 {
		burst = defaultAnalyzeBurst
	}
	return &rateLimiter{
		limiters:  make(map[string]*ownerLimiter),
		rate:      r,
		burst:     burst,
		lastPrune: time.Now(),
		now:       time.Now,
	}
}

// allow reports whether owner may make another request now
func (rl *rateLimiter) allow(owner string) bool {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	now := rl.now()
	if now.Sub(rl.lastPrune) > limiterPruneEvery {
		for key, l := range rl.limiters {
			if now.Sub(l.lastSeen) > limiterIdleTTL {
				delete(rl.limiters, key)
			}
		}
		rl.lastPrune = now
	}

	l, ok := rl.limiters[owner]
	if !ok {
		l = &ownerLimiter{limiter: rate.NewLimiter(rl.rate, rl.burst)}
		rl.limiters[owner] = l
	}
	l.lastSeen = now
	return l.limiter.AllowN(now, 1)
}

// retryAfter is the Retry-After header value in seconds
func (rl *rateLimiter) retryAfter() string {
	return strconv.Itoa(max(int(1.0/float64(rl.rate)), 1))
}
