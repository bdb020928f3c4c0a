package server

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/tidwall/gjson"

	"github.com/gifmada/alertd/internal/engine"
	"github.com/gifmada/alertd/internal/notify"
	"github.com/gifmada/alertd/pkg/state"
)

const maxTriggerBody = 1 << 20

type alertRequest struct {
	Incident json.RawMessage `json:"incident"`
	AreaID   int64           `json:"areaId"`
	SenderID string          `json:"senderId"`
}

type presenceResponse struct {
	Total int            `json:"total"`
	Roles map[string]int `json:"roles"`
}

// handleAlert broadcasts a panic alert to the connected recipients and
// answers with the delivery report. The e-mail follows in the background.
func (a *App) handleAlert(w http.ResponseWriter, r *http.Request) {
	var req alertRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxTriggerBody)).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if len(req.Incident) == 0 || !gjson.ValidBytes(req.Incident) || !gjson.ParseBytes(req.Incident).IsObject() {
		writeError(w, http.StatusBadRequest, "incident must be a JSON object")
		return
	}

	alert := engine.Alert{
		Incident: req.Incident,
		AreaID:   state.AreaID(req.AreaID),
		SenderID: req.SenderID,
	}
	// the broadcast finishes even if the caller goes away
	report := a.engine.Broadcast(context.WithoutCancel(r.Context()), alert)
	writeJSON(w, http.StatusOK, report)

	a.notifications.NewIncident(req.Incident, func(ctx context.Context) ([]string, error) {
		return a.directory.EmailsForRoles(ctx, a.alertRoles)
	})
}

func (a *App) handleAssignment(w http.ResponseWriter, r *http.Request) {
	var req notify.Assignment
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxTriggerBody)).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.AgentEmail == "" {
		writeError(w, http.StatusBadRequest, "agentEmail is required")
		return
	}
	a.notifications.Assignment(req)
	writeJSON(w, http.StatusAccepted, map[string]string{"status": "queued"})
}

func (a *App) handlePresence(w http.ResponseWriter, r *http.Request) {
	roles := a.presenceByRole()
	total := 0
	for _, n := range roles {
		total += n
	}
	writeJSON(w, http.StatusOK, presenceResponse{Total: total, Roles: roles})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Default().Debug("Failed to write response", slog.Any("error", err))
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
