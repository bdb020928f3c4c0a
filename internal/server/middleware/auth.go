package middleware

import (
	"crypto/subtle"
	"log/slog"
	"net/http"
)

// InternalTokenHeader carries the shared secret of internal callers.
const InternalTokenHeader = "X-Internal-Token"

// NewInternalAuth guards the internal trigger endpoints. An empty token
// disables them entirely.
func NewInternalAuth(logger *slog.Logger, token string) Middleware {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			reqMeta, ok := ReqMetadataFrom(r.Context())
			if !ok {
				http.Error(w, "Internal Server Error", http.StatusInternalServerError)
				return
			}

			if token == "" {
				logger.Warn("Internal endpoint called but no internal token is configured", slog.String("ip", reqMeta.IP))
				http.Error(w, "Not Found", http.StatusNotFound)
				return
			}

			presented := r.Header.Get(InternalTokenHeader)
			if subtle.ConstantTimeCompare([]byte(presented), []byte(token)) != 1 {
				logger.Warn("Invalid internal token presented", slog.String("ip", reqMeta.IP))
				http.Error(w, "Unauthorized", http.StatusUnauthorized)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
