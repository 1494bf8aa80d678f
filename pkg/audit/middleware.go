package audit

import (
	"net/http"
)

// Middleware binds an audit logger to every request context so handlers and the
// authorization gate can record events with FromContext.
func Middleware(logger Logger) func(http.Handler) http.Handler {
	if logger == nil {
		logger = NoOp()
	}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			next.ServeHTTP(w, r.WithContext(WithLogger(r.Context(), logger)))
		})
	}
}
