package middlewares

import (
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"golang.org/x/time/rate"
)

const limiterIdleTTL = 10 * time.Minute

type visitor struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// RateLimitMiddleware 按调用方限流：已认证用 user_id，否则用客户端 IP
func RateLimitMiddleware(rps int) gin.HandlerFunc {
	if rps <= 0 {
		rps = 20
	}
	var (
		mu       sync.Mutex
		visitors = make(map[string]*visitor)
		lastGC   = time.Now()
	)
	get := func(key string) *rate.Limiter {
		mu.Lock()
		defer mu.Unlock()
		now := time.Now()
		if now.Sub(lastGC) > limiterIdleTTL {
			for k, v := range visitors {
				if now.Sub(v.lastSeen) > limiterIdleTTL {
					delete(visitors, k)
				}
			}
			lastGC = now
		}
		v, ok := visitors[key]
		if !ok {
			v = &visitor{limiter: rate.NewLimiter(rate.Limit(rps), rps*2)}
			visitors[key] = v
		}
		v.lastSeen = now
		return v.limiter
	}

	return func(c *gin.Context) {
		key := c.GetString(ContextUserID)
		if key == "" {
			key = c.ClientIP()
		}
		if !get(key).Allow() {
			c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{"error": "too many requests"})
			return
		}
		c.Next()
	}
}
