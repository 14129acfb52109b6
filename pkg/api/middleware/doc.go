// Package middleware provides the HTTP middleware of the flashkv binding.
//
// The middleware package is organized into separate files by concern:
//
//   - recovery.go: Panic recovery middleware
//   - logging.go: Structured request logging middleware
//   - body_limit.go: Request body size limiting middleware
//   - request_id.go: Request ID generation and tracking middleware
//   - metrics.go: HTTP metrics collection middleware
//   - auth.go: Bearer token authentication middleware
//
// All middleware follows the standard pattern: func(http.Handler) http.Handler,
// so each one can be handed to chi's Router.Use.
//
// Example usage:
//
//	r := chi.NewRouter()
//	r.Use(middleware.RequestID())
//	r.Use(middleware.PanicRecovery(logger))
//	r.Use(middleware.Logging(logger, middleware.GetRequestID))
//	r.Use(middleware.Metrics(registry))
package middleware

import (
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/dd0wney/cluso-flashkv/pkg/status"
)

// writeError writes the binding's JSON error body from inside a middleware.
func writeError(w http.ResponseWriter, httpStatus int, code status.Code, msg string) {
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set(status.Header, strconv.Itoa(int(code)))
	w.WriteHeader(httpStatus)
	_ = json.NewEncoder(w).Encode(map[string]any{"code": int(code), "error": msg})
}
