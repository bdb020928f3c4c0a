package directory_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gifmada/alertd/internal/directory"
	"github.com/gifmada/alertd/pkg/config"
	"github.com/gifmada/alertd/pkg/state"
)

func newStatic() *directory.Static {
	return directory.NewStaticFromConfig(config.DirectoryConfig{Users: []config.UserConfig{
		{ID: "u1", Email: "agent@example.org", Role: "SECURITE_URBAINE", Verified: true},
		{ID: "u2", Email: "mayor@example.org", Role: "AUTORITE_LOCALE", Verified: false},
		{ID: "u3", Email: "Chief7@example.org", Role: "CHEF_FOKONTANY", AreaID: 7, FirstName: "Rakoto", LastName: "Jean"},
		{ID: "u9", Email: "chief7b@example.org", Role: "AREA_CHIEF", AreaID: 7},
		{ID: "u8", Email: "chief8@example.org", Role: "CHEF_FOKONTANY", AreaID: 8},
	}})
}

func TestStaticIdentityBySubject(t *testing.T) {
	d := newStatic()

	u, err := d.IdentityBySubject(context.Background(), "chief7@example.org")
	require.NoError(t, err)
	assert.Equal(t, "u3", u.ID)
	assert.Equal(t, int64(7), u.AreaID)
	assert.Equal(t, "Rakoto Jean", u.DisplayName())

	_, err = d.IdentityBySubject(context.Background(), "ghost@example.org")
	assert.ErrorIs(t, err, directory.ErrNotFound)
}

func TestStaticChiefsOf(t *testing.T) {
	d := newStatic()

	chiefs, err := d.ChiefsOf(context.Background(), 7)
	require.NoError(t, err)
	assert.Equal(t, []string{"u3", "u9"}, chiefs.Sorted())

	chiefs, err = d.ChiefsOf(context.Background(), 99)
	require.NoError(t, err)
	assert.Empty(t, chiefs)
}

func TestStaticEmailsForRolesOnlyVerified(t *testing.T) {
	d := newStatic()

	emails, err := d.EmailsForRoles(context.Background(), []state.Role{state.RoleLocalAuthority, state.RoleUrbanSecurity})
	require.NoError(t, err)
	assert.Equal(t, []string{"agent@example.org"}, emails)
}

func TestDisplayNameWithOnePart(t *testing.T) {
	assert.Equal(t, "Rasoa", directory.User{LastName: "Rasoa"}.DisplayName())
}
