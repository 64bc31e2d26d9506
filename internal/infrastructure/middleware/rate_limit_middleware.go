package middleware

import (
	"context"
	"net"
	"net/http"
	"strings"
	"time"

	"overlaycast/pkg/cache"
	"overlaycast/pkg/config"
	"overlaycast/pkg/errors"

	"github.com/gin-gonic/gin"
	"golang.org/x/time/rate"
)

const (
	limiterIdleTTL    = 10 * time.Minute
	maxTrackedClients = 100000
)

// rateLimiterStore holds one limiter per client IP. Idle limiters expire, so
// a returning client starts with a full bucket.
type rateLimiterStore struct {
	limiters  *cache.Cache[*rate.Limiter]
	rate      rate.Limit
	burstSize int
}

func newRateLimiterStore(r rate.Limit, burst int) *rateLimiterStore {
	return &rateLimiterStore{
		limiters:  cache.New[*rate.Limiter](limiterIdleTTL, maxTrackedClients),
		rate:      r,
		burstSize: burst,
	}
}

func (s *rateLimiterStore) getLimiter(ctx context.Context, key string) *rate.Limiter {
	limiter, err := s.limiters.GetOrLoad(ctx, key, func(context.Context) (*rate.Limiter, error) {
		return rate.NewLimiter(s.rate, s.burstSize), nil
	})
	if err != nil {
		return rate.NewLimiter(s.rate, s.burstSize)
	}
	return limiter
}

// clientIP returns the first address in X-Forwarded-For, falling back to the
// host part of the remote address.
func clientIP(r *http.Request) string {
	if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		first, _, _ := strings.Cut(xff, ",")
		if ip := net.ParseIP(strings.TrimSpace(first)); ip != nil {
			return ip.String()
		}
	}

	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

// NewHTTPRateLimitMiddleware applies per-IP rate limiting and a global cap on
// concurrent requests.
func NewHTTPRateLimitMiddleware(cfg *config.Config) gin.HandlerFunc {
	if !cfg.RateLimiting.Enabled {
		return func(c *gin.Context) {
			c.Next()
		}
	}

	rps := cfg.RateLimiting.HTTP.RequestsPerSecond
	burst := cfg.RateLimiting.HTTP.Burst

	store := newRateLimiterStore(rate.Limit(rps), burst)

	var globalSem chan struct{}
	if cfg.RateLimiting.HTTP.MaxConcurrent > 0 {
		globalSem = make(chan struct{}, cfg.RateLimiting.HTTP.MaxConcurrent)
	}

	return func(c *gin.Context) {
		if globalSem != nil {
			select {
			case globalSem <- struct{}{}:
				defer func() { <-globalSem }()
			default:
				c.AbortWithStatusJSON(http.StatusServiceUnavailable, gin.H{
					"error":   string(errors.ErrCodeServiceUnavailable),
					"message": "too many concurrent requests",
				})
				return
			}
		}

		limiter := store.getLimiter(c.Request.Context(), clientIP(c.Request))
		if !limiter.Allow() {
			c.Header("Retry-After", "1")
			c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{
				"error":   string(errors.ErrCodeRateLimit),
				"message": "rate limit exceeded",
			})
			return
		}
		c.Next()
	}
}
