package server

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/coder/websocket"
	"github.com/google/uuid"
	"github.com/gorilla/mux"

	"github.com/gifmada/alertd/internal/server/middleware"
	"github.com/gifmada/alertd/pkg/transport"
)

// handleRealtime runs one realtime connection from admission to
// deregistration. It returns when the connection is fully closed.
func (a *App) handleRealtime(w http.ResponseWriter, r *http.Request) {
	if !a.enter() {
		http.Error(w, "Service Unavailable", http.StatusServiceUnavailable)
		return
	}
	defer a.wg.Done()

	token := mux.Vars(r)["token"]
	if token == "" {
		token = r.URL.Query().Get("token")
	}
	connLogger := a.logger
	if reqMeta, ok := middleware.ReqMetadataFrom(r.Context()); ok {
		connLogger = connLogger.With(slog.String("remoteAddr", reqMeta.IP))
	}

	wsConn, err := websocket.Accept(w, r, a.accept)
	if err != nil {
		connLogger.Error("Failed to accept websocket connection", slog.Any("error", err))
		return
	}

	// the lifecycle outlives the request context only through Close
	conn := transport.NewConnection(
		context.WithoutCancel(r.Context()),
		wsConn,
		transport.ConnectionConfig(a.config.Transport),
		connLogger,
	)
	conn.SetState(transport.StateAuthenticating)

	identity, err := a.auth.Verify(r.Context(), token)
	if err != nil {
		a.metrics.RecordAdmission(r.Context(), "rejected")
		conn.Logger().Warn("Realtime admission refused", slog.Any("error", err))
		conn.Close(websocket.StatusPolicyViolation, "authentication failed")
		return
	}
	connLogger = conn.Logger().With(
		slog.String("userID", identity.UserID),
		slog.String("role", identity.Role.String()),
	)

	conn.SetOnMessageHandler(a.router.NewSession(identity).HandleMessage)
	conn.SetOnCloseHandler(func(id uuid.UUID, code websocket.StatusCode, reason string) {
		if a.registry.Release(identity.UserID, conn) {
			connLogger.Info("Deregistering connection due to closure", slog.String("status", code.String()))
			return
		}
		connLogger.Debug("Closed connection was no longer registered", slog.String("reason", reason))
	})

	if prev := a.registry.Register(identity, conn); prev != nil {
		connLogger.Info("Replacing previous connection", slog.String("previousConnID", prev.ID().String()))
		go prev.Close(websocket.StatusPolicyViolation, "replaced by newer connection")
	}

	if !a.track(conn) {
		conn.Close(websocket.StatusGoingAway, "server shutting down")
		return
	}
	defer a.untrack(conn)

	if !conn.Activate() {
		// replaced before it went live
		<-conn.Done()
		return
	}
	a.metrics.RecordAdmission(r.Context(), "accepted")
	connLogger.Info("User connection fully established")

	conn.Run()
	<-conn.Done()
}

// enter admits a new lifecycle unless the server is shutting down.
func (a *App) enter() bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.closing {
		return false
	}
	a.wg.Add(1)
	return true
}

func (a *App) track(conn *transport.Connection) bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.closing {
		return false
	}
	a.live[conn] = struct{}{}
	return true
}

func (a *App) untrack(conn *transport.Connection) {
	a.mu.Lock()
	defer a.mu.Unlock()
	delete(a.live, conn)
}
