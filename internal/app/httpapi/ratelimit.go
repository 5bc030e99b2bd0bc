package httpapi

import (
	"net"
	"net/http"
	"sync"

	"golang.org/x/time/rate"
)

// rateLimiter applies a token bucket per caller, keyed by bearer token when
// present and remote host otherwise.
type rateLimiter struct {
	mu       sync.Mutex
	limiters map[string]*rate.Limiter
	rate     rate.Limit
	burst    int
}

func newRateLimiter(requestsPerSecond, burst int) *rateLimiter {
	return &rateLimiter{
		limiters: make(map[string]*rate.Limiter),
		rate:     rate.Limit(requestsPerSecond),
		burst:    burst,
	}
}

func (rl *rateLimiter) getLimiter(key string) *rate.Limiter {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	limiter, exists := rl.limiters[key]
	if !exists {
		limiter = rate.NewLimiter(rl.rate, rl.burst)
		rl.limiters[key] = limiter
	}
	return limiter
}

// wrapWithRateLimit rejects callers exceeding the configured request rate.
// A non-positive rate disables limiting.
func wrapWithRateLimit(next http.Handler, requestsPerSecond, burst int) http.Handler {
	if requestsPerSecond <= 0 {
		return next
	}
	if burst <= 0 {
		burst = requestsPerSecond
	}
	rl := newRateLimiter(requestsPerSecond, burst)

	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if openPaths[r.URL.Path] {
			next.ServeHTTP(w, r)
			return
		}

		key := r.Header.Get("Authorization")
		if key == "" {
			if host, _, err := net.SplitHostPort(r.RemoteAddr); err == nil {
				key = host
			} else {
				key = r.RemoteAddr
			}
		}

		if !rl.getLimiter(key).Allow() {
			writeError(w, http.StatusTooManyRequests, authError("rate limit exceeded"))
			return
		}
		next.ServeHTTP(w, r)
	})
}
