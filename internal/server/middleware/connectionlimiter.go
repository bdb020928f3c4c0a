package middleware

import (
	"log/slog"
	"net/http"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/gifmada/alertd/pkg/config"
)

// limiters idle longer than this are forgotten
const limiterIdle = 5 * time.Minute

type visitor struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// HandshakeLimiter bounds how fast one IP may open realtime connections.
type HandshakeLimiter struct {
	cfg    config.RateLimitConfig
	logger *slog.Logger

	mu        sync.Mutex
	visitors  map[string]*visitor
	lastSweep time.Time
	now       func() time.Time

	// Rejected is called for every refused handshake.
	Rejected func(r *http.Request)
}

func NewHandshakeLimiter(logger *slog.Logger, cfg config.RateLimitConfig) *HandshakeLimiter {
	return &HandshakeLimiter{
		cfg:      cfg,
		logger:   logger,
		visitors: make(map[string]*visitor),
		now:      time.Now,
	}
}

func (h *HandshakeLimiter) allow(ip string) bool {
	h.mu.Lock()
	defer h.mu.Unlock()

	now := h.now()
	if now.Sub(h.lastSweep) > limiterIdle {
		for k, v := range h.visitors {
			if now.Sub(v.lastSeen) > limiterIdle {
				delete(h.visitors, k)
			}
		}
		h.lastSweep = now
	}

	v, ok := h.visitors[ip]
	if !ok {
		burst := h.cfg.Burst
		if burst <= 0 {
			burst = 1
		}
		v = &visitor{limiter: rate.NewLimiter(rate.Limit(h.cfg.Rate), burst)}
		h.visitors[ip] = v
	}
	v.lastSeen = now
	return v.limiter.AllowN(now, 1)
}

func (h *HandshakeLimiter) Middleware() Middleware {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if h.cfg.Rate <= 0 {
				next.ServeHTTP(w, r)
				return
			}

			reqMeta, ok := ReqMetadataFrom(r.Context())
			if !ok {
				h.logger.Error("Handshake limiter could not find request metadata in context. Check middleware order.")
				http.Error(w, "Internal Server Error", http.StatusInternalServerError)
				return
			}

			if h.allow(reqMeta.IP) {
				next.ServeHTTP(w, r)
				return
			}
			h.logger.Warn("Handshake rate limit reached", slog.String("ip", reqMeta.IP))
			if h.Rejected != nil {
				h.Rejected(r)
			}
			http.Error(w, "Too Many Requests", http.StatusTooManyRequests)
		})
	}
}
