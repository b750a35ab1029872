package middleware

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"golang.org/x/time/rate"

	"github.com/modelmint/backend/internal/cache"
	"github.com/modelmint/backend/internal/config"
	"github.com/modelmint/backend/pkg/logger"
	"github.com/modelmint/backend/pkg/response"
)

// EndpointLimit enforces the per-endpoint fixed window from the endpoint
// table. Authenticated requests are counted per user; unauthenticated ones
// per client IP. Counters live in the shared cache store so the budget holds
// across service instances.
//
// Runs after AuthRequired on protected routes, so a throttled request has
// already been authenticated but is rejected before any billable work.
func EndpointLimit(store cache.Store, endpoint string, cfg config.EndpointConfig) gin.HandlerFunc {
	return func(c *gin.Context) {
		var key string
		if userID := GetUserID(c); userID != 0 {
			key = cache.RateKey(userID, endpoint)
		} else {
			key = cache.RateKeyIP(c.ClientIP(), endpoint)
		}

		count, remaining, err := store.IncrWindow(c.Request.Context(), key, cfg.RateWindow)
		if err != nil {
			if errors.Is(err, cache.ErrStoreUnavailable) {
				// Rate limiting degrades open: losing the counter store should
				// not take down every endpoint with it.
				logger.Warn().Err(err).Str("endpoint", endpoint).Msg("rate-limit store unavailable; allowing request")
				c.Next()
				return
			}
			response.Error(c, err)
			c.Abort()
			return
		}

		if count > int64(cfg.RateLimit) {
			retryAfter := int(remaining / time.Second)
			if remaining%time.Second > 0 {
				retryAfter++
			}
			if retryAfter < 1 {
				retryAfter = 1
			}
			response.Error(c, response.NewRateLimited(
				fmt.Sprintf("rate limit exceeded for %s", endpoint), retryAfter))
			c.Abort()
			return
		}

		c.Next()
	}
}

// ipLimiter holds a token-bucket limiter and last-seen time per IP.
type ipLimiter struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// IPRateLimiter is a coarse per-IP throttle in front of the public auth
// routes, below the per-endpoint windows. It is process-local on purpose:
// it exists to shed abusive clients cheaply, not to enforce a shared budget.
type IPRateLimiter struct {
	mu       sync.Mutex
	limiters map[string]*ipLimiter
	rps      rate.Limit
	burst    int
}

func NewIPRateLimiter(rps float64, burst int) *IPRateLimiter {
	rl := &IPRateLimiter{
		limiters: make(map[string]*ipLimiter),
		rps:      rate.Limit(rps),
		burst:    burst,
	}
	go rl.cleanup()
	return rl
}

func (rl *IPRateLimiter) getLimiter(ip string) *rate.Limiter {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	v, exists := rl.limiters[ip]
	if !exists {
		limiter := rate.NewLimiter(rl.rps, rl.burst)
		rl.limiters[ip] = &ipLimiter{limiter: limiter, lastSeen: time.Now()}
		return limiter
	}

	v.lastSeen = time.Now()
	return v.limiter
}

// cleanup removes IP entries not seen for 5 minutes.
func (rl *IPRateLimiter) cleanup() {
	for {
		time.Sleep(3 * time.Minute)
		rl.mu.Lock()
		for ip, v := range rl.limiters {
			if time.Since(v.lastSeen) > 5*time.Minute {
				delete(rl.limiters, ip)
			}
		}
		rl.mu.Unlock()
	}
}

// Middleware returns a Gin middleware that enforces the per-IP limit.
func (rl *IPRateLimiter) Middleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		if !rl.getLimiter(c.ClientIP()).Allow() {
			response.Error(c, response.NewRateLimited("too many requests, please try again later", 1))
			c.Abort()
			return
		}
		c.Next()
	}
}
