package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/coder/websocket"
	"github.com/gorilla/mux"

	"github.com/gifmada/alertd/internal/auth"
	"github.com/gifmada/alertd/internal/directory"
	"github.com/gifmada/alertd/internal/engine"
	"github.com/gifmada/alertd/internal/notify"
	"github.com/gifmada/alertd/internal/router"
	"github.com/gifmada/alertd/internal/server/middleware"
	"github.com/gifmada/alertd/internal/telemetry"
	"github.com/gifmada/alertd/pkg/config"
	"github.com/gifmada/alertd/pkg/state"
	"github.com/gifmada/alertd/pkg/transport"
)

// Deps are the collaborators built outside the server.
type Deps struct {
	Registry  state.Registry
	Directory directory.Directory
	Notifier  notify.Notifier
	Metrics   *telemetry.Metrics
	// MetricsHandler is served on /metrics when set.
	MetricsHandler http.Handler
}

type App struct {
	logger        *slog.Logger
	config        *config.Config
	registry      state.Registry
	directory     directory.Directory
	auth          *auth.Authenticator
	engine        *engine.Engine
	router        *router.Router
	notifications *notify.Dispatcher
	metrics       *telemetry.Metrics
	alertRoles    []state.Role
	accept        *websocket.AcceptOptions
	scrape        http.Handler

	mu      sync.Mutex
	closing bool
	live    map[*transport.Connection]struct{}
	wg      sync.WaitGroup

	handler http.Handler
	http    *http.Server
}

func NewApp(logger *slog.Logger, cfg *config.Config, deps Deps) (*App, error) {
	alertRoles, err := config.CompileRoles(cfg.Notify.AlertRoles)
	if err != nil {
		return nil, fmt.Errorf("notify.alertRoles: %w", err)
	}
	if deps.Metrics == nil {
		deps.Metrics = telemetry.New()
	}

	app := &App{
		logger:     logger,
		config:     cfg,
		registry:   deps.Registry,
		directory:  deps.Directory,
		metrics:    deps.Metrics,
		scrape:     deps.MetricsHandler,
		alertRoles: alertRoles,
		live:       make(map[*transport.Connection]struct{}),
		auth:       auth.New(logger, cfg.Auth.JWTSecret, deps.Directory, cfg.Auth.LookupTimeout),
		engine: engine.New(logger, deps.Registry, deps.Directory, cfg.Alerts.Policy, engine.Options{
			SendTimeout:      cfg.Alerts.SendTimeout,
			DirectoryTimeout: cfg.Alerts.DirectoryTimeout,
			Concurrency:      cfg.Alerts.Concurrency,
			AreaField:        cfg.Alerts.AreaField,
		}, deps.Metrics),
		router: router.NewRouter(logger, deps.Registry, router.Options{
			SendTimeout: cfg.Relay.SendTimeout,
			RateLimit:   cfg.Relay.RateLimit,
			Burst:       cfg.Relay.Burst,
		}, deps.Metrics),
		notifications: notify.NewDispatcher(logger, deps.Notifier, cfg.Notify.Timeout),
	}

	app.accept = &websocket.AcceptOptions{OriginPatterns: cfg.Server.OriginPatterns}
	if len(cfg.Server.OriginPatterns) == 0 {
		app.accept.InsecureSkipVerify = true
	}

	if err := app.metrics.ObservePresence(app.presenceByRole); err != nil {
		logger.Warn("Presence gauge unavailable", slog.Any("error", err))
	}

	app.handler = app.routes()
	app.http = &http.Server{
		Addr:              cfg.Server.Address,
		Handler:           app.handler,
		ReadHeaderTimeout: 10 * time.Second,
	}
	return app, nil
}

func (a *App) routes() http.Handler {
	r := mux.NewRouter()
	r.Use(
		mux.MiddlewareFunc(middleware.RequestMetadataMiddleware()),
		mux.MiddlewareFunc(middleware.NewRequestLogger(a.logger)),
	)

	limiter := middleware.NewHandshakeLimiter(a.logger, a.config.Server.HandshakeLimit)
	limiter.Rejected = func(r *http.Request) {
		a.metrics.RecordAdmission(r.Context(), "rate_limited")
	}
	realtime := middleware.Chain(http.HandlerFunc(a.handleRealtime), limiter.Middleware())
	r.Handle("/ws/{token}", realtime).Methods(http.MethodGet)
	r.Handle("/ws", realtime).Methods(http.MethodGet)

	internal := r.PathPrefix("/internal").Subrouter()
	internal.Use(mux.MiddlewareFunc(middleware.NewInternalAuth(a.logger, a.config.Server.InternalToken)))
	internal.HandleFunc("/alerts", a.handleAlert).Methods(http.MethodPost)
	internal.HandleFunc("/assignments", a.handleAssignment).Methods(http.MethodPost)
	internal.HandleFunc("/presence", a.handlePresence).Methods(http.MethodGet)

	if a.scrape != nil {
		r.Handle("/metrics", a.scrape).Methods(http.MethodGet)
	}
	return r
}

// Handler exposes the routes, e.g. for httptest.
func (a *App) Handler() http.Handler {
	return a.handler
}

// Run serves until ctx is done, then shuts down gracefully.
func (a *App) Run(ctx context.Context) error {
	errCh := make(chan error, 1)
	go func() {
		a.logger.Info("Server starting", slog.String("addr", a.http.Addr))
		if err := a.http.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return fmt.Errorf("http server: %w", err)
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), a.config.Server.ShutdownTimeout)
	defer cancel()
	return a.Shutdown(shutdownCtx)
}

// Shutdown stops accepting requests, closes every live connection with
// 1001 and waits for lifecycles and pending notifications.
func (a *App) Shutdown(ctx context.Context) error {
	a.logger.Info("Shutting down server...")
	if err := a.http.Shutdown(ctx); err != nil {
		return err
	}

	a.mu.Lock()
	a.closing = true
	live := make([]*transport.Connection, 0, len(a.live))
	for conn := range a.live {
		live = append(live, conn)
	}
	a.mu.Unlock()

	a.logger.Info("Closing all active connections...", slog.Int("count", len(live)))
	for _, conn := range live {
		go conn.Close(websocket.StatusGoingAway, "server shutting down")
	}

	// wait for all connection goroutines to finish their cleanup.
	done := make(chan struct{})
	go func() {
		a.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-ctx.Done():
		return fmt.Errorf("waiting for connections: %w", ctx.Err())
	}

	if err := a.notifications.Wait(ctx); err != nil {
		return fmt.Errorf("waiting for notifications: %w", err)
	}
	a.logger.Info("Server shut down gracefully.")
	return nil
}

func (a *App) presenceByRole() map[string]int {
	counts := make(map[string]int)
	for _, p := range a.registry.Snapshot() {
		counts[p.Identity.Role.String()]++
	}
	return counts
}
