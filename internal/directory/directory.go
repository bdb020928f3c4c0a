// Package directory resolves stored user records: who a credential
// belongs to, who chiefs an area, and who should get alert e-mails.
package directory

import (
	"context"
	"errors"
	"strings"

	"github.com/gifmada/alertd/pkg/state"
)

var ErrNotFound = errors.New("directory: user not found")

// User is a stored user record. Role is the raw stored name; callers
// normalize it with state.ParseRole.
type User struct {
	ID        string
	Email     string
	Role      string
	AreaID    int64
	FirstName string
	LastName  string
	Verified  bool
}

// DisplayName is "first last", or whichever part is present.
func (u User) DisplayName() string {
	return strings.TrimSpace(u.FirstName + " " + u.LastName)
}

type Directory interface {
	IdentityBySubject(ctx context.Context, subject string) (User, error)
	ChiefsOf(ctx context.Context, area state.AreaID) (state.UserSet, error)
	EmailsForRoles(ctx context.Context, roles []state.Role) ([]string, error)
}

// storedNames expands canonical roles into every stored name they may
// appear under.
func storedNames(roles []state.Role) []string {
	var names []string
	for _, r := range roles {
		names = append(names, state.RoleAliases(r)...)
	}
	return names
}
