package router

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/tidwall/gjson"
	"golang.org/x/time/rate"

	"github.com/gifmada/alertd/internal/telemetry"
	"github.com/gifmada/alertd/pkg/state"
)

var ErrMalformedMessage = errors.New("router: malformed message")

type Options struct {
	SendTimeout time.Duration
	// RateLimit is the inbound messages per second allowed per connection;
	// zero disables limiting.
	RateLimit float64
	Burst     int
}

// Router relays signaling messages between connected users.
type Router struct {
	logger   *slog.Logger
	registry state.Registry
	opts     Options
	metrics  *telemetry.Metrics
}

func NewRouter(logger *slog.Logger, registry state.Registry, opts Options, metrics *telemetry.Metrics) *Router {
	if metrics == nil {
		metrics = telemetry.New()
	}
	return &Router{
		logger:   logger.With(slog.String("component", "signaling_relay")),
		registry: registry,
		opts:     opts,
		metrics:  metrics,
	}
}

// ParseInbound reads a relay request. Anything but a JSON object is malformed;
// missing fields are left empty.
func ParseInbound(msg []byte) (InboundMessage, error) {
	if !gjson.ValidBytes(msg) {
		return InboundMessage{}, fmt.Errorf("%w: invalid json", ErrMalformedMessage)
	}
	root := gjson.ParseBytes(msg)
	if !root.IsObject() {
		return InboundMessage{}, fmt.Errorf("%w: expected an object", ErrMalformedMessage)
	}

	in := InboundMessage{
		Type:         root.Get("type").String(),
		TargetUserID: root.Get("targetUserId").String(),
	}
	if payload := root.Get("payload"); payload.Exists() {
		in.Payload = json.RawMessage(payload.Raw)
	}
	return in, nil
}

// Relay forwards payload from the sender to target. It never fails the
// caller; the outcome is logged and counted.
func (r *Router) Relay(ctx context.Context, from state.Identity, target, kind string, payload json.RawMessage) Outcome {
	outcome := r.relay(ctx, from, target, kind, payload)
	r.metrics.RecordRelay(ctx, outcome.String())
	return outcome
}

func (r *Router) relay(ctx context.Context, from state.Identity, target, kind string, payload json.RawMessage) Outcome {
	logger := r.logger.With(
		slog.String("from", from.UserID),
		slog.String("target", target),
		slog.String("type", kind),
	)

	p, found := r.registry.Lookup(target)
	if target == "" || !found {
		logger.Info("Relay target not connected")
		return TargetNotConnected
	}

	msg, err := json.Marshal(RelayEnvelope{
		Type:         kind,
		SenderUserID: from.UserID,
		SenderInfo:   SenderInfo{Name: from.DisplayName, Role: from.Role.String()},
		Payload:      payload,
	})
	if err != nil {
		logger.Error("Failed to encode relay envelope", slog.Any("error", err))
		return DeliveryFailed
	}

	sendCtx := ctx
	if r.opts.SendTimeout > 0 {
		var cancel context.CancelFunc
		sendCtx, cancel = context.WithTimeout(ctx, r.opts.SendTimeout)
		defer cancel()
	}
	if err := p.Conn.Send(sendCtx, msg); err != nil {
		logger.Warn("Relay delivery failed", slog.Any("error", err))
		return DeliveryFailed
	}
	logger.Debug("Message relayed")
	return Delivered
}

// Session is the inbound handler bound to one authenticated connection.
type Session struct {
	router  *Router
	from    state.Identity
	limiter *rate.Limiter
}

func (r *Router) NewSession(from state.Identity) *Session {
	s := &Session{router: r, from: from}
	if r.opts.RateLimit > 0 {
		burst := r.opts.Burst
		if burst <= 0 {
			burst = 1
		}
		s.limiter = rate.NewLimiter(rate.Limit(r.opts.RateLimit), burst)
	}
	return s
}

// HandleMessage matches transport.MessageHandler. Only a malformed message
// returns an error, which ends the connection.
func (s *Session) HandleMessage(ctx context.Context, connID uuid.UUID, msg []byte) error {
	in, err := ParseInbound(msg)
	if err != nil {
		return err
	}
	if s.limiter != nil && !s.limiter.Allow() {
		s.router.logger.Warn("Relay rate limit exceeded, dropping message",
			slog.String("from", s.from.UserID),
			slog.String("connID", connID.String()),
		)
		s.router.metrics.RecordRelay(ctx, Dropped.String())
		return nil
	}
	s.router.Relay(ctx, s.from, in.TargetUserID, in.Type, in.Payload)
	return nil
}
