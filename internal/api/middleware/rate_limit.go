package middleware

import (
	"fmt"
	"net/http"
	"time"

	"github.com/ayo6706/marketplace-wallet/internal/api/problem"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/httprate"
)

// PublicRateLimiter limits unauthenticated routes per client IP.
func PublicRateLimiter(rps int) func(http.Handler) http.Handler {
	return httprate.Limit(rps, time.Second,
		httprate.WithKeyFuncs(httprate.KeyByIP),
		httprate.WithLimitHandler(limitExceeded(fmt.Sprintf("rate limit of %d req/s exceeded for this IP", rps))),
	)
}

// CallbackRateLimiter limits provider webhook deliveries per rail and source IP, so a
// noisy rail cannot starve the others.
func CallbackRateLimiter(rps int) func(http.Handler) http.Handler {
	return httprate.Limit(rps, time.Second,
		httprate.WithKeyFuncs(func(r *http.Request) (string, error) {
			return "rail:" + chi.URLParam(r, "rail"), nil
		}, httprate.KeyByIP),
		httprate.WithLimitHandler(limitExceeded(fmt.Sprintf("rate limit of %d callbacks/s exceeded for this rail", rps))),
	)
}

// AuthRateLimiter limits authenticated callers by token subject, falling back to IP.
func AuthRateLimiter(rps int) func(http.Handler) http.Handler {
	return httprate.Limit(rps, time.Second,
		httprate.WithKeyFuncs(func(r *http.Request) (string, error) {
			if subject := SubjectFromContext(r.Context()); subject != "" {
				return "sub:" + subject, nil
			}
			return httprate.KeyByIP(r)
		}),
		httprate.WithLimitHandler(limitExceeded(fmt.Sprintf("rate limit of %d req/s exceeded for this client", rps))),
	)
}

func limitExceeded(detail string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Retry-After", "1")
		problem.Write(w, r, http.StatusTooManyRequests, problem.Type("rate-limit-exceeded"),
			http.StatusText(http.StatusTooManyRequests), detail)
	}
}
