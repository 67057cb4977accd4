// Package middleware contains shared Gin middleware used by the HTTP layer.
//
// This file throttles API traffic with token buckets from golang.org/x/time/rate.
// Authenticated sellers get one bucket each; anonymous traffic is bucketed by
// client IP. Buckets live in process memory and idle ones are swept every few
// thousand lookups. Replays answered by IdempotencyValidator are not charged.
//
// Every limited response carries X-RateLimit-Limit and X-RateLimit-Remaining.
// A rejected request gets 429 with Retry-After set to the whole seconds until
// the bucket holds a token again.
package middleware

import (
	"math"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"golang.org/x/time/rate"
)

// Rate limit response headers.
const (
	HeaderRateLimitLimit     = "X-RateLimit-Limit"
	HeaderRateLimitRemaining = "X-RateLimit-Remaining"
	headerRetryAfter         = "Retry-After"
)

const (
	defaultIdleTTL    = 10 * time.Minute
	defaultSweepEvery = 5000
)

// keyFunc maps a request to its bucket. Keys carry a kind prefix
// ("seller:" or "ip:") which also labels the rejection metric.
type keyFunc func(*gin.Context) string

// KeyBySellerOrIP keys buckets by the seller Auth attached, falling back to
// the client IP. Query and header seller hints are ignored so an anonymous
// client cannot mint a fresh bucket per request.
func KeyBySellerOrIP() keyFunc {
	return func(c *gin.Context) string {
		if s, ok := SellerFrom(c); ok {
			return "seller:" + s
		}
		return "ip:" + c.ClientIP()
	}
}

func keyKind(key string) string {
	if kind, _, ok := strings.Cut(key, ":"); ok {
		return kind
	}
	return "other"
}

type bucket struct {
	lim      *rate.Limiter
	lastSeen time.Time
}

// RateLimiter holds one token bucket per key. Safe for concurrent use.
type RateLimiter struct {
	limit rate.Limit
	burst int
	keyFn keyFunc

	idleTTL    time.Duration
	sweepEvery uint64
	now        func() time.Time

	mu      sync.Mutex
	buckets map[string]*bucket
	lookups uint64
}

// RateLimitOption tunes a RateLimiter.
type RateLimitOption func(*RateLimiter)

// WithIdleTTL sets how long an unused bucket survives a sweep.
func WithIdleTTL(d time.Duration) RateLimitOption {
	return func(rl *RateLimiter) {
		if d > 0 {
			rl.idleTTL = d
		}
	}
}

// NewRateLimiter refills rps tokens per second into buckets of size burst.
// rps <= 0 turns limiting off; burst <= 0 is raised to 1.
func NewRateLimiter(rps float64, burst int, keyFn keyFunc, opts ...RateLimitOption) *RateLimiter {
	if burst <= 0 {
		burst = 1
	}
	if keyFn == nil {
		keyFn = KeyBySellerOrIP()
	}
	rl := &RateLimiter{
		limit:      rate.Limit(rps),
		burst:      burst,
		keyFn:      keyFn,
		idleTTL:    defaultIdleTTL,
		sweepEvery: defaultSweepEvery,
		now:        time.Now,
		buckets:    make(map[string]*bucket),
	}
	for _, o := range opts {
		o(rl)
	}
	return rl
}

// Enabled reports whether requests are actually throttled.
func (rl *RateLimiter) Enabled() bool { return rl.limit > 0 }

// limiter returns the bucket for key, sweeping idle buckets first so a stale
// entry is dropped even when it is the one being asked for.
func (rl *RateLimiter) limiter(key string, now time.Time) *rate.Limiter {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	rl.lookups++
	if rl.lookups >= rl.sweepEvery {
		for k, b := range rl.buckets {
			if now.Sub(b.lastSeen) >= rl.idleTTL {
				delete(rl.buckets, k)
			}
		}
		rl.lookups = 0
	}

	if b, ok := rl.buckets[key]; ok {
		b.lastSeen = now
		return b.lim
	}
	lim := rate.NewLimiter(rl.limit, rl.burst)
	rl.buckets[key] = &bucket{lim: lim, lastSeen: now}
	return lim
}

// IsRateBypass reports whether IdempotencyValidator flagged the request as a
// replay of a completed one.
func IsRateBypass(c *gin.Context) bool {
	v, ok := c.Get(ctxKeyRateBypass)
	if !ok {
		return false
	}
	b, _ := v.(bool)
	return b
}

// Handler enforces the limits. Rejections answer 429 too_many_requests and
// count toward dashboard_http_rate_limited_total.
func (rl *RateLimiter) Handler() gin.HandlerFunc {
	limitHdr := strconv.Itoa(rl.burst)
	return func(c *gin.Context) {
		if !rl.Enabled() || IsRateBypass(c) {
			c.Next()
			return
		}

		key := rl.keyFn(c)
		now := rl.now()
		lim := rl.limiter(key, now)

		res := lim.ReserveN(now, 1)
		wait := res.DelayFrom(now)
		c.Header(HeaderRateLimitLimit, limitHdr)

		if wait == 0 {
			c.Header(HeaderRateLimitRemaining, strconv.Itoa(remaining(lim, now)))
			c.Next()
			return
		}

		// Give the token back; the request is not going to wait for it.
		res.CancelAt(now)
		c.Header(HeaderRateLimitRemaining, "0")
		c.Header(headerRetryAfter, strconv.Itoa(retryAfterSeconds(wait)))
		httpRateLimited.WithLabelValues(keyKind(key)).Inc()
		LoggerFrom(c).Debug().Str("bucket", key).Dur("wait", wait).Msg("rate limited")
		abortJSON(c, http.StatusTooManyRequests, "too_many_requests", "rate limit exceeded")
	}
}

func remaining(lim *rate.Limiter, now time.Time) int {
	n := int(math.Floor(lim.TokensAt(now)))
	if n < 0 {
		return 0
	}
	return n
}

func retryAfterSeconds(d time.Duration) int {
	s := int(math.Ceil(d.Seconds()))
	if s < 1 {
		return 1
	}
	return s
}
