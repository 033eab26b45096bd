package middleware

import (
	"net/http"

	"gitlab.com/timkado/api/course-data-layer/internal/domain"
)

// ReadinessGate reports whether the first session bootstrap has finished.
type ReadinessGate interface {
	IsReady() bool
}

// BootstrapGateMiddleware answers 503 until gate is ready, so no caller ever
// observes a session whose login status is still unknown.
func BootstrapGateMiddleware(gate ReadinessGate, logger domain.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if !gate.IsReady() {
				logger.Debug(r.Context(), "Request rejected while bootstrapping", "path", r.URL.Path)
				w.Header().Set("Retry-After", "1")
				w.Header().Set("Content-Type", "application/json")
				w.WriteHeader(http.StatusServiceUnavailable)
				w.Write([]byte(`{"status":"bootstrapping"}`))
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
