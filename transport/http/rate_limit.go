package http

import (
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"golang.org/x/time/rate"
)

// Defaults for the per client limit on /auth routes
const (
	DefaultRateLimit      rate.Limit = 10
	DefaultRateLimitBurst            = 20

	rateLimitClientTTL = 10 * time.Minute
	rateLimitSweepSize = 1024
)

type rateLimitClient struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// RateLimiter hands out one token bucket per client IP
type RateLimiter struct {
	limit rate.Limit
	burst int
	now   func() time.Time

	mu      sync.Mutex
	clients map[string]*rateLimitClient
}

// NewRateLimiter creates a limiter allowing limit requests per second with
// the given burst for every client
func NewRateLimiter(limit rate.Limit, burst int) *RateLimiter {
	return &RateLimiter{
		limit:   limit,
		burst:   burst,
		now:     time.Now,
		clients: make(map[string]*rateLimitClient),
	}
}

// Allow reports whether the client may make a request now
func (l *RateLimiter) Allow(clientIP string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	if len(l.clients) >= rateLimitSweepSize {
		for ip, client := range l.clients {
			if now.Sub(client.lastSeen) > rateLimitClientTTL {
				delete(l.clients, ip)
			}
		}
	}

	client, ok := l.clients[clientIP]
	if !ok {
		client = &rateLimitClient{limiter: rate.NewLimiter(l.limit, l.burst)}
		l.clients[clientIP] = client
	}
	client.lastSeen = now

	return client.limiter.AllowN(now, 1)
}

// Middleware rejects requests over the limit with 429
func (l *RateLimiter) Middleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		if !l.Allow(c.ClientIP()) {
			abort(c, http.StatusTooManyRequests, "Too many requests")
			return
		}
		c.Next()
	}
}
