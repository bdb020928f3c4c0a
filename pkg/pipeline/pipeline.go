package pipeline

import (
	"context"
	"encoding/json"
	"log/slog"

	"github.com/gifmada/alertd/pkg/state"
)

/*
 * Recipient selection is a list of steps compiled from configuration.
 * Each step names a selector registered by the engine; the broadcast
 * takes the union of what every step returns.
 */

// AreaChiefDirectory is the authoritative (stored, not live) membership
// of area chiefs.
type AreaChiefDirectory interface {
	ChiefsOf(ctx context.Context, area state.AreaID) (state.UserSet, error)
}

type Cargo struct {
	Ctx       context.Context
	Logger    *slog.Logger
	Registry  state.Registry
	Directory AreaChiefDirectory
	Incident  json.RawMessage
	AreaID    state.AreaID
	SenderID  string
}

// SelectorFunc returns a set of candidate recipients for one broadcast.
type SelectorFunc func(c *Cargo, params ...string) (state.UserSet, error)

// represents one step in a recipient policy
type Step struct {
	Name     string
	Function SelectorFunc
	Params   []string
}
