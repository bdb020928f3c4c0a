package directory

import (
	"context"
	"slices"
	"strings"

	"github.com/gifmada/alertd/pkg/config"
	"github.com/gifmada/alertd/pkg/state"
)

// Static is an in-memory directory seeded from configuration. It serves
// development setups and tests that run without a database.
type Static struct {
	bySubject map[string]User
	users     []User
}

var _ Directory = (*Static)(nil)

func NewStatic(users []User) *Static {
	s := &Static{bySubject: make(map[string]User, len(users)), users: users}
	for _, u := range users {
		s.bySubject[strings.ToLower(u.Email)] = u
	}
	return s
}

func NewStaticFromConfig(cfg config.DirectoryConfig) *Static {
	users := make([]User, 0, len(cfg.Users))
	for _, u := range cfg.Users {
		users = append(users, User{
			ID:        u.ID,
			Email:     u.Email,
			Role:      u.Role,
			AreaID:    u.AreaID,
			FirstName: u.FirstName,
			LastName:  u.LastName,
			Verified:  u.Verified,
		})
	}
	return NewStatic(users)
}

func (s *Static) IdentityBySubject(_ context.Context, subject string) (User, error) {
	u, ok := s.bySubject[strings.ToLower(subject)]
	if !ok {
		return User{}, ErrNotFound
	}
	return u, nil
}

func (s *Static) ChiefsOf(_ context.Context, area state.AreaID) (state.UserSet, error) {
	out := state.NewUserSet()
	for _, u := range s.users {
		if r, ok := state.ParseRole(u.Role); ok && r == state.RoleAreaChief && state.AreaID(u.AreaID) == area {
			out.Add(u.ID)
		}
	}
	return out, nil
}

func (s *Static) EmailsForRoles(_ context.Context, roles []state.Role) ([]string, error) {
	var emails []string
	for _, u := range s.users {
		r, ok := state.ParseRole(u.Role)
		if ok && u.Verified && slices.Contains(roles, r) {
			emails = append(emails, u.Email)
		}
	}
	return emails, nil
}
