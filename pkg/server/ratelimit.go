package server

import (
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
)

// sweepInterval is how often idle buckets are dropped.
const sweepInterval = time.Minute

// tokenBucket is an in-memory per-client rate limiter.
type tokenBucket struct {
	capacity  int
	rate      int
	mu        sync.Mutex
	state     map[string]*bucket
	lastSweep time.Time
	now       func() time.Time
}

type bucket struct {
	tokens int
	last   time.Time
}

// newTokenBucket creates a limiter with capacity tokens refilled at perMinute.
func newTokenBucket(capacity, perMinute int) *tokenBucket {
	if capacity <= 0 {
		capacity = perMinute
	}
	return &tokenBucket{
		capacity: capacity,
		rate:     perMinute,
		state:    make(map[string]*bucket),
		now:      time.Now,
	}
}

// middleware enforces per-IP limits.
func (l *tokenBucket) middleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		ip := c.ClientIP()
		if ip == "" {
			ip = "unknown"
		}
		if !l.allow(ip) {
			c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{"message": "Too many requests, slow down"})
			return
		}
		c.Next()
	}
}

func (l *tokenBucket) allow(key string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	if l.lastSweep.IsZero() {
		l.lastSweep = now
	} else if now.Sub(l.lastSweep) >= sweepInterval {
		l.sweep(now)
	}

	b, ok := l.state[key]
	if !ok {
		l.state[key] = &bucket{tokens: l.capacity - 1, last: now}
		return true
	}

	refill := l.refill(b, now)
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

func (l *tokenBucket) refill(b *bucket, now time.Time) int {
	return int(now.Sub(b.last).Minutes() * float64(l.rate))
}

// sweep drops buckets that have refilled to capacity; a new bucket for the
// same client starts full, so forgetting them changes nothing.
func (l *tokenBucket) sweep(now time.Time) {
	for key, b := range l.state {
		if b.tokens+l.refill(b, now) >= l.capacity {
			delete(l.state, key)
		}
	}
	l.lastSweep = now
}
