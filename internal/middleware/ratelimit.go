package middleware

import (
	"log"
	"net"
	"net/http"
	"strconv"

	"github.com/technosupport/camguard/internal/ratelimit"
)

// RateLimit throttles a route group per client IP. failOpen controls the
// Redis-down behavior: trigger ingest fails open (dropping a fall trigger
// is worse than losing throttling), everything else may fail closed.
func RateLimit(limiter *ratelimit.Limiter, cfg ratelimit.Config, failOpen bool) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ip, _, err := net.SplitHostPort(r.RemoteAddr)
			if err != nil {
				ip = r.RemoteAddr
			}

			decision, err := limiter.Check(r.Context(), limiter.HashIP(ip), cfg)
			if err != nil {
				if failOpen {
					next.ServeHTTP(w, r)
					return
				}
				log.Printf("ratelimit: redis unavailable, failing closed: %v", err)
				http.Error(w, "service unavailable", http.StatusServiceUnavailable)
				return
			}

			w.Header().Set("X-RateLimit-Limit", strconv.Itoa(decision.Limit))
			w.Header().Set("X-RateLimit-Remaining", strconv.Itoa(decision.Remaining))
			if !decision.Allowed {
				w.Header().Set("Retry-After", strconv.Itoa(decision.RetryAfter))
				http.Error(w, "rate limit exceeded", http.StatusTooManyRequests)
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}
