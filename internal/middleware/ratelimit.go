package middleware

import (
	"net/http"
	"time"

	"github.com/go-chi/httprate"

	"github.com/josh-kwaku/wallet-reconciler/internal/handler"
	"github.com/josh-kwaku/wallet-reconciler/internal/logging"
)

// RateLimitByIP caps requests per client IP over window and answers the
// excess with the RATE_LIMITED envelope.
func RateLimitByIP(requests int, window time.Duration) func(http.Handler) http.Handler {
	return httprate.Limit(requests, window,
		httprate.WithKeyFuncs(httprate.KeyByIP),
		httprate.WithLimitHandler(func(w http.ResponseWriter, r *http.Request) {
			logging.FromContext(r.Context()).Warn("rate limit exceeded", "path", r.URL.Path)
			handler.RespondAppError(w, handler.ErrRateLimited, nil)
		}),
	)
}
