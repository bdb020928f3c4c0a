package engine

import (
	"fmt"
	"log/slog"
	"sync"

	"github.com/gifmada/alertd/pkg/pipeline"
)

// ParamValidator checks a selector's configured parameters at load time.
type ParamValidator func(params []string) error

type selectorEntry struct {
	fn       pipeline.SelectorFunc
	validate ParamValidator
}

/*
* The registry of named recipient selectors. Configuration refers to
* selectors by name; CompileRecipientPolicy resolves them through Build.
 */
type Registry struct {
	logger     *slog.Logger
	selectors  map[string]selectorEntry
	selectorMu sync.RWMutex
}

// NewRegistry creates an empty selector registry.
func NewRegistry(logger *slog.Logger) *Registry {
	return &Registry{
		selectors: make(map[string]selectorEntry),
		logger:    logger.With(slog.String("component", "selector_registry")),
	}
}

func (e *Registry) RegisterCore() {
	e.RegisterSelector("_roles", selectRoles, validateRoles)
	e.RegisterSelector("_area_chiefs", selectAreaChiefs, validateNoParams)
	e.RegisterSelector("_users", selectUsers, validateUsers)
	e.logger.Info("Registered core selectors", slog.Int("count", len(e.selectors)))
}

func (e *Registry) RegisterSelector(name string, fn pipeline.SelectorFunc, validate ParamValidator) {
	e.selectorMu.Lock()
	defer e.selectorMu.Unlock()
	if _, exists := e.selectors[name]; exists {
		panic("selector already registered: " + name)
	}
	e.selectors[name] = selectorEntry{fn: fn, validate: validate}
}

// Build returns the selector registered under name after validating params.
// Its signature matches config.SelectorProvider.
func (e *Registry) Build(name string, params []string) (pipeline.SelectorFunc, error) {
	e.selectorMu.RLock()
	entry, ok := e.selectors[name]
	e.selectorMu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("unknown selector '%s'", name)
	}
	if entry.validate != nil {
		if err := entry.validate(params); err != nil {
			return nil, err
		}
	}
	return entry.fn, nil
}
