package httpapi

import (
	"net/http"

	"golang.org/x/time/rate"
)

// RateLimit returns middleware that paces requests with a shared token
// bucket. Requests wait for a token until their context ends, at which
// point they are rejected with 429. A non-positive limit disables it.
func RateLimit(limit rate.Limit, burst int) func(http.Handler) http.Handler {
	if limit <= 0 {
		return func(next http.Handler) http.Handler { return next }
	}
	if burst < 1 {
		burst = 1
	}
	limiter := rate.NewLimiter(limit, burst)

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if err := limiter.Wait(r.Context()); err != nil {
				writeJSON(w, http.StatusTooManyRequests, errorBody{Message: "rate limit: " + err.Error()})
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
