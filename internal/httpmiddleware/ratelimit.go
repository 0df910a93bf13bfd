package httpmiddleware

import (
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
)

// SimpleTokenBucket is an in-memory, per-instance rate limiter. Scanners
// that bounce or retry are the main source of bursts it absorbs.
type SimpleTokenBucket struct {
	capacity int
	rate     int
	now      func() time.Time
	mu       sync.Mutex
	state    map[string]*bucket
}

type bucket struct {
	tokens int
	last   time.Time
}

// NewSimpleTokenBucket creates limiter with capacity tokens and rate per minute.
func NewSimpleTokenBucket(capacity, perMinute int) *SimpleTokenBucket {
	if capacity <= 0 {
		capacity = perMinute
	}
	return &SimpleTokenBucket{
		capacity: capacity,
		rate:     perMinute,
		now:      time.Now,
		state:    make(map[string]*bucket),
	}
}

// KeyFunc picks the bucket a request draws from.
type KeyFunc func(c *gin.Context) string

// ByPrincipal keys on the authenticated principal set by the auth
// middlewares, falling back to the client IP.
func ByPrincipal(principalKey string) KeyFunc {
	return func(c *gin.Context) string {
		if p := c.GetString(principalKey); p != "" {
			return p
		}
		if ip := c.ClientIP(); ip != "" {
			return "ip:" + ip
		}
		return "unknown"
	}
}

// GinMiddleware returns a gin handler enforcing per-key limits.
func (l *SimpleTokenBucket) GinMiddleware(key KeyFunc) gin.HandlerFunc {
	return func(c *gin.Context) {
		if !l.allow(key(c)) {
			c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{"ok": false, "error": "rate limit"})
			return
		}
		c.Next()
	}
}

func (l *SimpleTokenBucket) allow(key string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	b, ok := l.state[key]
	now := l.now()
	if !ok {
		b = &bucket{tokens: l.capacity - 1, last: now}
		l.state[key] = b
		return true
	}
	elapsed := now.Sub(b.last).Minutes()
	refill := int(elapsed * float64(l.rate))
	if refill > 0 {
		b.tokens += refill
		if b.tokens > l.capacity {
			b.tokens = l.capacity
		}
		b.last = now
	}
	if b.tokens <= 0 {
		return false
	}
	b.tokens--
	return true
}
