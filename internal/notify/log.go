package notify

import (
	"context"
	"log/slog"
)

// LogNotifier records notifications instead of sending them. It is used
// when no SMTP host is configured.
type LogNotifier struct {
	logger *slog.Logger
}

func NewLogNotifier(logger *slog.Logger) *LogNotifier {
	return &LogNotifier{logger: logger.With(slog.String("component", "notify_log"))}
}

func (l *LogNotifier) NotifyNewIncident(_ context.Context, n NewIncident) error {
	l.logger.Info("Panic alert e-mail skipped, SMTP not configured",
		slog.Int64("incidentID", n.IncidentID),
		slog.Int("recipients", len(n.Recipients)),
	)
	return nil
}

func (l *LogNotifier) NotifyAssignment(_ context.Context, a Assignment) error {
	l.logger.Info("Assignment e-mail skipped, SMTP not configured",
		slog.Int64("incidentID", a.IncidentID),
		slog.String("agent", a.AgentEmail),
	)
	return nil
}
