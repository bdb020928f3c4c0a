package engine

import (
	"errors"
	"fmt"
	"log/slog"

	"github.com/gifmada/alertd/pkg/pipeline"
	"github.com/gifmada/alertd/pkg/state"
)

// _roles: every connected user holding one of the given roles.
func selectRoles(c *pipeline.Cargo, params ...string) (state.UserSet, error) {
	roles, err := parseRoles(params)
	if err != nil {
		return nil, err
	}
	return c.Registry.ConnectionsForRoles(roles...), nil
}

// _area_chiefs: chiefs of the incident's area according to the directory
// who are also connected as chiefs of that area right now.
func selectAreaChiefs(c *pipeline.Cargo, _ ...string) (state.UserSet, error) {
	if c.AreaID == 0 {
		return state.NewUserSet(), nil
	}
	connected := c.Registry.ChiefsForArea(c.AreaID)
	if len(connected) == 0 {
		return connected, nil
	}
	if c.Directory == nil {
		return nil, errors.New("no area chief directory configured")
	}
	stored, err := c.Directory.ChiefsOf(c.Ctx, c.AreaID)
	if err != nil {
		return nil, fmt.Errorf("failed to look up chiefs of area %d: %w", c.AreaID, err)
	}
	chiefs := connected.Intersect(stored)
	c.Logger.Debug("Resolved area chiefs",
		slog.Int64("areaID", int64(c.AreaID)),
		slog.Int("connected", len(connected)),
		slog.Int("stored", len(stored)),
		slog.Int("selected", len(chiefs)),
	)
	return chiefs, nil
}

// _users: a fixed list of user ids, e.g. a duty desk that always listens.
func selectUsers(_ *pipeline.Cargo, params ...string) (state.UserSet, error) {
	return state.NewUserSet(params...), nil
}

func parseRoles(names []string) ([]state.Role, error) {
	roles := make([]state.Role, 0, len(names))
	for _, name := range names {
		r, ok := state.ParseRole(name)
		if !ok {
			return nil, fmt.Errorf("unknown role '%s'", name)
		}
		roles = append(roles, r)
	}
	return roles, nil
}

func validateRoles(params []string) error {
	if len(params) == 0 {
		return errors.New("_roles requires at least 1 parameter: [role...]")
	}
	_, err := parseRoles(params)
	return err
}

func validateUsers(params []string) error {
	if len(params) == 0 {
		return errors.New("_users requires at least 1 parameter: [userID...]")
	}
	return nil
}

func validateNoParams(params []string) error {
	if len(params) != 0 {
		return errors.New("selector does not accept any parameters")
	}
	return nil
}
