package state

import (
	"slices"
	"strings"
	"sync"
)

// Role is the closed set of user roles known to the presence layer.
type Role uint8

const (
	RoleUnknown Role = iota
	RoleLocalAuthority
	RoleUrbanSecurity
	RoleAreaChief
	RoleCitizen
	RoleAdmin
)

var roleNames = map[Role]string{
	RoleLocalAuthority: "LOCAL_AUTHORITY",
	RoleUrbanSecurity:  "URBAN_SECURITY",
	RoleAreaChief:      "AREA_CHIEF",
	RoleCitizen:        "CITIZEN",
	RoleAdmin:          "ADMIN",
}

// names used by the incident platform's user table
var builtInAliases = map[string]Role{
	"AUTORITE_LOCALE":  RoleLocalAuthority,
	"AUTORITÉ_LOCALE":  RoleLocalAuthority,
	"SECURITE_URBAINE": RoleUrbanSecurity,
	"SÉCURITÉ_URBAINE": RoleUrbanSecurity,
	"CHEF_FOKONTANY":   RoleAreaChief,
	"CITOYEN":          RoleCitizen,
}

var (
	aliasMu sync.RWMutex
	aliases = make(map[string]Role)
)

func init() {
	for r, name := range roleNames {
		aliases[name] = r
	}
	for name, r := range builtInAliases {
		aliases[name] = r
	}
}

func (r Role) String() string {
	if name, ok := roleNames[r]; ok {
		return name
	}
	return "UNKNOWN"
}

// Valid reports whether r is one of the known roles.
func (r Role) Valid() bool {
	_, ok := roleNames[r]
	return ok
}

// ParseRole normalizes a stored role name. Matching ignores case and
// surrounding spaces, and inner spaces count as underscores, so
// "Chef Fokontany" is CHEF_FOKONTANY. Unknown names yield RoleUnknown and false.
func ParseRole(name string) (Role, bool) {
	key := roleKey(name)
	aliasMu.RLock()
	defer aliasMu.RUnlock()
	r, ok := aliases[key]
	return r, ok
}

// RegisterRoleAlias maps an additional stored name onto a canonical role.
func RegisterRoleAlias(alias string, r Role) {
	aliasMu.Lock()
	defer aliasMu.Unlock()
	aliases[roleKey(alias)] = r
}

func roleKey(name string) string {
	return strings.Join(strings.Fields(strings.ToUpper(name)), "_")
}

// RoleAliases returns every registered name that maps to r, including
// its canonical name.
func RoleAliases(r Role) []string {
	aliasMu.RLock()
	defer aliasMu.RUnlock()
	names := make([]string, 0, 4)
	for name, role := range aliases {
		if role == r {
			names = append(names, name)
		}
	}
	slices.Sort(names)
	return names
}
