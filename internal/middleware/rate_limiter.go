package middleware

import (
	"net/http"

	"golang.org/x/time/rate"
)

// RateLimiterConfig configures the intake token bucket
type RateLimiterConfig struct {
	Rate  rate.Limit
	Burst int
}

// RateLimiter sheds intake load once the bucket is empty
type RateLimiter struct {
	limiter *rate.Limiter
}

// NewRateLimiter creates a limiter shared by every request it wraps
func NewRateLimiter(config RateLimiterConfig) *RateLimiter {
	return &RateLimiter{
		limiter: rate.NewLimiter(config.Rate, config.Burst),
	}
}

// Middleware rejects requests with 429 when the limit is exceeded
func (rl *RateLimiter) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !rl.limiter.Allow() {
			w.Header().Set("Content-Type", "application/json")
			w.Header().Set("Retry-After", "1")
			w.WriteHeader(http.StatusTooManyRequests)
			w.Write([]byte(`{"error":{"code":"RATE_LIMITED","message":"rate limit exceeded"}}`))
			return
		}
		next.ServeHTTP(w, r)
	})
}
