package state

// Registry is the process-wide presence table. Implementations must be
// safe for concurrent use and must keep the role and area indices in step
// with the by-user table.
type Registry interface {
	// Register upserts the user's presence. An existing handle for the
	// same user is replaced and returned so the caller can close it.
	Register(id Identity, conn Conn) (previous Conn)
	// Deregister removes the user from every index. Absent users are a no-op.
	Deregister(userID string)
	// Release deregisters the user only while conn is still its current
	// handle, and reports whether it did.
	Release(userID string, conn Conn) bool

	ConnectionsForRoles(roles ...Role) UserSet
	ChiefsForArea(area AreaID) UserSet
	Lookup(userID string) (*Presence, bool)

	Count() int
	// Snapshot returns a copy of every current entry.
	Snapshot() []*Presence
}
