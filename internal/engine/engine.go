package engine

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/tidwall/gjson"
	"golang.org/x/sync/errgroup"

	"github.com/gifmada/alertd/internal/telemetry"
	"github.com/gifmada/alertd/pkg/pipeline"
	"github.com/gifmada/alertd/pkg/state"
)

const alertType = "panic_alert"

// Alert is one broadcast request.
type Alert struct {
	Incident json.RawMessage
	// AreaID is the incident's area; zero means read it from the incident.
	AreaID   state.AreaID
	SenderID string
}

// Report summarizes a broadcast. Attempted always equals the size of the
// recipient set.
type Report struct {
	MessageID string `json:"message_id"`
	AreaID    int64  `json:"area_id,omitempty"`
	Attempted int    `json:"attempted"`
	Delivered int    `json:"delivered"`
}

// Envelope is what each recipient receives.
type Envelope struct {
	Type      string          `json:"type"`
	Data      json.RawMessage `json:"data"`
	MessageID string          `json:"message_id"`
}

type Options struct {
	SendTimeout      time.Duration
	DirectoryTimeout time.Duration
	Concurrency      int
	// AreaField is the gjson path of the area id inside an incident.
	AreaField string
}

type Engine struct {
	logger    *slog.Logger
	registry  state.Registry
	directory pipeline.AreaChiefDirectory
	policy    []pipeline.Step
	opts      Options
	metrics   *telemetry.Metrics
	newID     func() string
}

func New(
	logger *slog.Logger,
	registry state.Registry,
	directory pipeline.AreaChiefDirectory,
	policy []pipeline.Step,
	opts Options,
	metrics *telemetry.Metrics,
) *Engine {
	if opts.Concurrency <= 0 {
		opts.Concurrency = 1
	}
	if metrics == nil {
		metrics = telemetry.New()
	}
	return &Engine{
		logger:    logger.With(slog.String("component", "alert_engine")),
		registry:  registry,
		directory: directory,
		policy:    policy,
		opts:      opts,
		metrics:   metrics,
		newID:     func() string { return uuid.NewString() },
	}
}

// AreaOf returns the alert's area, falling back to the incident payload.
func (e *Engine) AreaOf(alert Alert) state.AreaID {
	if alert.AreaID != 0 || e.opts.AreaField == "" {
		return alert.AreaID
	}
	v := gjson.GetBytes(alert.Incident, e.opts.AreaField)
	if !v.Exists() {
		return 0
	}
	return state.AreaID(v.Int())
}

// Recipients runs the recipient policy and removes the sender. A failing
// step is logged and contributes nobody; the other steps still count.
func (e *Engine) Recipients(ctx context.Context, alert Alert) state.UserSet {
	selectCtx := ctx
	if e.opts.DirectoryTimeout > 0 {
		var cancel context.CancelFunc
		selectCtx, cancel = context.WithTimeout(ctx, e.opts.DirectoryTimeout)
		defer cancel()
	}

	cargo := &pipeline.Cargo{
		Ctx:       selectCtx,
		Logger:    e.logger,
		Registry:  e.registry,
		Directory: e.directory,
		Incident:  alert.Incident,
		AreaID:    e.AreaOf(alert),
		SenderID:  alert.SenderID,
	}

	recipients := state.NewUserSet()
	for _, step := range e.policy {
		set, err := step.Function(cargo, step.Params...)
		if err != nil {
			e.logger.Error("Recipient selector failed, skipping it",
				slog.String("selector", step.Name),
				slog.Any("error", err),
			)
			continue
		}
		recipients.Union(set)
	}
	if alert.SenderID != "" {
		delete(recipients, alert.SenderID)
	}
	return recipients
}

// Broadcast delivers the alert to every recipient independently. Missing
// connections and failed sends lower Delivered and nothing else.
func (e *Engine) Broadcast(ctx context.Context, alert Alert) Report {
	report := Report{
		MessageID: e.newID(),
		AreaID:    int64(e.AreaOf(alert)),
	}
	logger := e.logger.With(slog.String("messageID", report.MessageID))

	msg, err := json.Marshal(Envelope{Type: alertType, Data: alert.Incident, MessageID: report.MessageID})
	if err != nil {
		logger.Error("Failed to encode alert envelope", slog.Any("error", err))
		return report
	}

	// ids are copied out of the registry here; no registry lock is held
	// while sending.
	recipients := e.Recipients(ctx, alert).Sorted()
	report.Attempted = len(recipients)
	logger.Info("Broadcasting alert", slog.Int("recipients", report.Attempted), slog.Int64("areaID", report.AreaID))

	var delivered atomic.Int64
	g := new(errgroup.Group)
	g.SetLimit(e.opts.Concurrency)
	for _, userID := range recipients {
		userID := userID
		g.Go(func() error {
			if e.deliver(ctx, logger, userID, msg) {
				delivered.Add(1)
			}
			return nil
		})
	}
	_ = g.Wait()

	report.Delivered = int(delivered.Load())
	e.metrics.RecordBroadcast(ctx, report.Attempted, report.Delivered)
	logger.Info("Alert broadcast finished",
		slog.Int("attempted", report.Attempted),
		slog.Int("delivered", report.Delivered),
	)
	return report
}

func (e *Engine) deliver(ctx context.Context, logger *slog.Logger, userID string, msg []byte) (ok bool) {
	defer func() {
		if r := recover(); r != nil {
			logger.Error("Alert send panicked", slog.String("userID", userID), slog.Any("panic", fmt.Sprint(r)))
			ok = false
		}
	}()

	p, found := e.registry.Lookup(userID)
	if !found {
		logger.Debug("Alert recipient no longer connected", slog.String("userID", userID))
		return false
	}

	sendCtx := ctx
	if e.opts.SendTimeout > 0 {
		var cancel context.CancelFunc
		sendCtx, cancel = context.WithTimeout(ctx, e.opts.SendTimeout)
		defer cancel()
	}
	if err := p.Conn.Send(sendCtx, msg); err != nil {
		logger.Warn("Alert delivery failed", slog.String("userID", userID), slog.Any("error", err))
		return false
	}
	return true
}
