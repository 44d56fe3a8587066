package middleware

import (
	"math"
	"strconv"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"golang.org/x/time/rate"

	appErrors "github.com/noah-isme/campus-booking-api/pkg/errors"
	"github.com/noah-isme/campus-booking-api/pkg/response"
)

// RateLimiter hands out one token bucket per client IP. Idle buckets are
// dropped after ttl.
type RateLimiter struct {
	mu       sync.Mutex
	limit    rate.Limit
	burst    int
	ttl      time.Duration
	clients  map[string]*client
	lastScan time.Time
	now      func() time.Time
}

type client struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// NewRateLimiter allows perSecond requests per IP with the given burst.
func NewRateLimiter(perSecond float64, burst int) *RateLimiter {
	if perSecond <= 0 {
		perSecond = 1
	}
	if burst <= 0 {
		burst = 1
	}
	return &RateLimiter{
		limit:   rate.Limit(perSecond),
		burst:   burst,
		ttl:     10 * time.Minute,
		clients: make(map[string]*client),
		now:     time.Now,
	}
}

func (r *RateLimiter) reserve(key string) (bool, time.Duration) {
	r.mu.Lock()
	defer r.mu.Unlock()

	now := r.now()
	if now.Sub(r.lastScan) > r.ttl {
		for k, c := range r.clients {
			if now.Sub(c.lastSeen) > r.ttl {
				delete(r.clients, k)
			}
		}
		r.lastScan = now
	}

	c, ok := r.clients[key]
	if !ok {
		c = &client{limiter: rate.NewLimiter(r.limit, r.burst)}
		r.clients[key] = c
	}
	c.lastSeen = now

	res := c.limiter.ReserveN(now, 1)
	if delay := res.DelayFrom(now); delay > 0 {
		res.CancelAt(now)
		return false, delay
	}
	return true, 0
}

// Middleware rejects requests over the limit with 429 and a Retry-After header.
func (r *RateLimiter) Middleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		ok, wait := r.reserve(c.ClientIP())
		if !ok {
			seconds := int(math.Ceil(wait.Seconds()))
			c.Header("Retry-After", strconv.Itoa(seconds))
			response.Error(c, appErrors.WithDetails(appErrors.ErrTooManyRequests, "", map[string]interface{}{
				"retry_after_seconds": seconds,
			}))
			c.Abort()
			return
		}
		c.Next()
	}
}
