// Package notify sends the e-mails that accompany realtime alerts. Sending
// is best effort: callers hand work to a Dispatcher and never wait on it.
package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/tidwall/gjson"
)

// NewIncident is the panic-alert e-mail sent after a broadcast.
type NewIncident struct {
	Recipients []string
	IncidentID int64
	Title      string
	Latitude   float64
	Longitude  float64
}

// Assignment tells a security agent an incident was assigned to them.
type Assignment struct {
	AgentEmail    string `json:"agentEmail"`
	IncidentID    int64  `json:"incidentId"`
	IncidentTitle string `json:"incidentTitle"`
}

type Notifier interface {
	NotifyNewIncident(ctx context.Context, n NewIncident) error
	NotifyAssignment(ctx context.Context, a Assignment) error
}

// IncidentFromPayload reads the e-mail fields out of a raw incident.
func IncidentFromPayload(incident json.RawMessage, recipients []string) NewIncident {
	fields := gjson.GetManyBytes(incident, "id", "titre", "latitude", "longitude")
	return NewIncident{
		Recipients: recipients,
		IncidentID: fields[0].Int(),
		Title:      fields[1].String(),
		Latitude:   fields[2].Float(),
		Longitude:  fields[3].Float(),
	}
}

// Dispatcher runs notifications in the background. Wait blocks until every
// started notification returned, which shutdown relies on.
type Dispatcher struct {
	logger   *slog.Logger
	notifier Notifier
	timeout  time.Duration
	wg       sync.WaitGroup
}

func NewDispatcher(logger *slog.Logger, notifier Notifier, timeout time.Duration) *Dispatcher {
	return &Dispatcher{
		logger:   logger.With(slog.String("component", "notify")),
		notifier: notifier,
		timeout:  timeout,
	}
}

// RecipientsFunc resolves e-mail addresses when the notification runs.
type RecipientsFunc func(ctx context.Context) ([]string, error)

// NewIncident mails the panic alert for incident to whoever recipients
// returns. Resolution happens in the background too.
func (d *Dispatcher) NewIncident(incident json.RawMessage, recipients RecipientsFunc) {
	d.spawn("new_incident", func(ctx context.Context) error {
		emails, err := recipients(ctx)
		if err != nil {
			return fmt.Errorf("resolve recipients: %w", err)
		}
		if len(emails) == 0 {
			d.logger.Debug("No e-mail recipients for panic alert")
			return nil
		}
		return d.notifier.NotifyNewIncident(ctx, IncidentFromPayload(incident, emails))
	})
}

func (d *Dispatcher) Assignment(a Assignment) {
	d.spawn("assignment", func(ctx context.Context) error {
		return d.notifier.NotifyAssignment(ctx, a)
	})
}

func (d *Dispatcher) spawn(kind string, fn func(ctx context.Context) error) {
	d.wg.Add(1)
	go func() {
		defer d.wg.Done()
		defer func() {
			if r := recover(); r != nil {
				d.logger.Error("Notification panicked", slog.String("kind", kind), slog.Any("panic", r))
			}
		}()

		ctx := context.Background()
		if d.timeout > 0 {
			var cancel context.CancelFunc
			ctx, cancel = context.WithTimeout(ctx, d.timeout)
			defer cancel()
		}
		if err := fn(ctx); err != nil {
			d.logger.Warn("Notification failed", slog.String("kind", kind), slog.Any("error", err))
		}
	}()
}

// Wait blocks until background notifications finish or ctx is done.
func (d *Dispatcher) Wait(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		d.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
