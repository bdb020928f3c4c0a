package middleware

import (
	"log/slog"
	"net/http"
	"strings"
)

// NewRequestLogger creates a middleware that logs details about each incoming request.
func NewRequestLogger(logger *slog.Logger) Middleware {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			path := r.URL.Path
			// the realtime path carries a credential
			if strings.HasPrefix(path, "/ws/") {
				path = "/ws/{token}"
			}
			attrs := []any{
				slog.String("method", r.Method),
				slog.String("path", path),
			}
			if reqMeta, ok := ReqMetadataFrom(r.Context()); ok {
				attrs = append(attrs, slog.String("ip", reqMeta.IP), slog.String("requestID", reqMeta.RequestID))
			}

			logger.Info("Incoming HTTP request", attrs...)
			next.ServeHTTP(w, r)
		})
	}
}
