package quota

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/gili-labs/uigen/internal/metrics"
	"github.com/gili-labs/uigen/internal/protocol"
)

// UserIDFromContext extracts the user ID from the request context.
// This function type allows decoupling from the auth package.
type UserIDFromContext func(ctx context.Context) (userID int, ok bool)

// RateLimitMiddleware returns middleware that enforces a per-user request
// rate on the endpoints it wraps.
func RateLimitMiddleware(limiter *RateLimiter, rpm int, getUserID UserIDFromContext) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			userID, ok := getUserID(r.Context())
			if !ok {
				// No user context (unauthenticated request) - let it pass
				next.ServeHTTP(w, r)
				return
			}

			if !limiter.Allow(userID, rpm) {
				metrics.RecordRateLimitHit()
				retryAfter := limiter.RetryAfter(userID, rpm)
				w.Header().Set("Retry-After", strconv.Itoa(retryAfter))
				w.Header().Set("Content-Type", "application/json")
				w.WriteHeader(http.StatusTooManyRequests)
				json.NewEncoder(w).Encode(protocol.ErrorResponse{
					Error: "rate limit exceeded",
					Code:  http.StatusTooManyRequests,
				})
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}
