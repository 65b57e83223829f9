package middleware

import (
	"fmt"
	"net/http"
	"runtime/debug"

	"github.com/josh-kwaku/wallet-reconciler/internal/handler"
	"github.com/josh-kwaku/wallet-reconciler/internal/logging"
	"github.com/josh-kwaku/wallet-reconciler/internal/metrics"
)

// headerGuard remembers whether the handler already started its response.
type headerGuard struct {
	http.ResponseWriter
	written bool
}

func (g *headerGuard) WriteHeader(code int) {
	g.written = true
	g.ResponseWriter.WriteHeader(code)
}

func (g *headerGuard) Write(b []byte) (int, error) {
	g.written = true
	return g.ResponseWriter.Write(b)
}

// Recovery turns a handler panic into a 500 envelope. If the handler had
// already written, the partial response is left alone; appending an error
// body to it would only corrupt it.
func Recovery(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		guard := &headerGuard{ResponseWriter: w}
		defer func() {
			rec := recover()
			if rec == nil {
				return
			}
			if rec == http.ErrAbortHandler {
				panic(rec)
			}

			metrics.HTTPPanics.WithLabelValues(r.Method).Inc()
			logging.FromContext(r.Context()).Error("panic recovered",
				"method", r.Method,
				"path", r.URL.Path,
				"error", fmt.Sprint(rec),
				"response_started", guard.written,
				"stack", string(debug.Stack()),
			)
			if !guard.written {
				handler.RespondAppError(w, handler.ErrInternalError, nil)
			}
		}()
		next.ServeHTTP(guard, r)
	})
}
