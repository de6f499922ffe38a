package mw

import (
	"net/http"
	"sync"

	"github.com/gin-gonic/gin"
	"golang.org/x/time/rate"
)

// StudentHeader carries the calling student's id.
const StudentHeader = "X-Student-ID"

// KeyedRateLimiter stores a rate limiter per caller key.
type KeyedRateLimiter struct {
	keys map[string]*rate.Limiter
	mu   *sync.RWMutex
	r    rate.Limit
	b    int
}

// NewKeyedRateLimiter creates a new KeyedRateLimiter.
func NewKeyedRateLimiter(r rate.Limit, b int) *KeyedRateLimiter {
	return &KeyedRateLimiter{
		keys: make(map[string]*rate.Limiter),
		mu:   &sync.RWMutex{},
		r:    r,
		b:    b,
	}
}

// GetLimiter returns the rate limiter for key, creating it on first use.
func (k *KeyedRateLimiter) GetLimiter(key string) *rate.Limiter {
	k.mu.RLock()
	limiter, exists := k.keys[key]
	k.mu.RUnlock()
	if exists {
		return limiter
	}

	k.mu.Lock()
	defer k.mu.Unlock()
	if limiter, exists = k.keys[key]; !exists {
		limiter = rate.NewLimiter(k.r, k.b)
		k.keys[key] = limiter
	}
	return limiter
}

// CallerKey identifies the caller by student id when given, by client IP otherwise.
func CallerKey(c *gin.Context) string {
	if id := c.GetHeader(StudentHeader); id != "" {
		return "student:" + id
	}
	return "ip:" + c.ClientIP()
}

// RateLimiter is a middleware limiting each caller to r requests per second with burst b.
func RateLimiter(r rate.Limit, b int) gin.HandlerFunc {
	limiter := NewKeyedRateLimiter(r, b)
	return func(c *gin.Context) {
		if !limiter.GetLimiter(CallerKey(c)).Allow() {
			c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{"error": "too many requests"})
			return
		}
		c.Next()
	}
}
