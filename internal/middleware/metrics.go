package middleware

import (
	"net/http"
	"time"

	"github.com/josh-kwaku/wallet-reconciler/internal/metrics"
)

// Metrics records request counts and latency under route, the registered
// pattern, so path parameters do not explode label cardinality.
func Metrics(route string, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)
		metrics.RecordHTTPRequest(r.Method, route, rec.status, time.Since(start))
	})
}
