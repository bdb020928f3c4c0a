package config

import (
	"fmt"

	"github.com/gifmada/alertd/pkg/pipeline"
)

// SelectorProvider builds the selector registered under name, validating
// its parameters.
type SelectorProvider func(name string, params []string) (pipeline.SelectorFunc, error)

// DefaultRecipients notifies the global responders plus the connected
// chiefs of the incident's area.
func DefaultRecipients() []SelectorConfig {
	return []SelectorConfig{
		{Name: "_roles", Params: []string{"LOCAL_AUTHORITY", "URBAN_SECURITY"}},
		{Name: "_area_chiefs"},
	}
}

func CompileRecipientPolicy(cfg *Config, provider SelectorProvider) error {
	selectors := cfg.Alerts.Recipients
	if len(selectors) == 0 {
		selectors = DefaultRecipients()
	}

	policy := make([]pipeline.Step, 0, len(selectors))
	for i, sel := range selectors {
		fn, err := provider(sel.Name, sel.Params)
		if err != nil {
			return fmt.Errorf("alerts.recipients[%d] '%s': %w", i, sel.Name, err)
		}
		policy = append(policy, pipeline.Step{
			Name:     sel.Name,
			Function: fn,
			Params:   sel.Params,
		})
	}
	cfg.Alerts.Recipients = selectors
	cfg.Alerts.Policy = policy
	return nil
}
