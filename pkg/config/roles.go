package config

import (
	"fmt"

	"github.com/gifmada/alertd/pkg/state"
)

// RegisterRoles installs configured role aliases. Every target must be a
// canonical or already known role name.
func RegisterRoles(aliases map[string]string) error {
	for alias, target := range aliases {
		r, ok := state.ParseRole(target)
		if !ok {
			return fmt.Errorf("role alias '%s' points at unknown role '%s'", alias, target)
		}
		state.RegisterRoleAlias(alias, r)
	}
	return nil
}

// CompileRoles resolves a list of role names.
func CompileRoles(names []string) ([]state.Role, error) {
	roles := make([]state.Role, 0, len(names))
	for _, name := range names {
		r, ok := state.ParseRole(name)
		if !ok {
			return nil, fmt.Errorf("role '%s' not found", name)
		}
		roles = append(roles, r)
	}
	return roles, nil
}
