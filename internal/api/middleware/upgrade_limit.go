package middleware

import (
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"golang.org/x/time/rate"
)

// How long a per-IP limiter may sit unused before it is dropped
const limiterRetention = 10 * time.Minute

type ipLimiter struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// UpgradeLimiter throttles WebSocket upgrade attempts per client IP with a
// token bucket. This guards the handshake path itself; the per-identity
// message rate limit inside the gateway is separate.
type UpgradeLimiter struct {
	mu       sync.Mutex
	limiters map[string]*ipLimiter
	rate     rate.Limit
	burst    int
	lastGC   time.Time
}

func NewUpgradeLimiter(perSecond float64, burst int) *UpgradeLimiter {
	return &UpgradeLimiter{
		limiters: make(map[string]*ipLimiter),
		rate:     rate.Limit(perSecond),
		burst:    burst,
	}
}

// Handler returns the gin middleware enforcing the limit
func (u *UpgradeLimiter) Handler() gin.HandlerFunc {
	return func(c *gin.Context) {
		if !u.allow(c.ClientIP()) {
			c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{
				"error": "too many connection attempts",
			})
			return
		}
		c.Next()
	}
}

func (u *UpgradeLimiter) allow(ip string) bool {
	u.mu.Lock()
	defer u.mu.Unlock()

	now := time.Now()
	l, ok := u.limiters[ip]
	if !ok {
		l = &ipLimiter{limiter: rate.NewLimiter(u.rate, u.burst)}
		u.limiters[ip] = l
	}
	l.lastSeen = now

	if now.Sub(u.lastGC) > limiterRetention {
		u.lastGC = now
		for addr, entry := range u.limiters {
			if now.Sub(entry.lastSeen) > limiterRetention {
				delete(u.limiters, addr)
			}
		}
	}

	return l.limiter.Allow()
}
