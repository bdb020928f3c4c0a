package state

import (
	"context"
	"slices"
	"time"

	"github.com/coder/websocket"
	"github.com/google/uuid"
)

// AreaID identifies an administrative area. Zero means no area.
type AreaID int64

// Conn is the sendable side of a live connection as seen by the registry.
// The registry never owns it; whoever accepted the connection does.
type Conn interface {
	ID() uuid.UUID
	Send(ctx context.Context, msg []byte) error
	Close(code websocket.StatusCode, reason string)
}

// Identity is what the authenticator resolves a credential to.
type Identity struct {
	UserID      string
	Role        Role
	AreaID      AreaID
	DisplayName string
}

// IsAreaChief reports whether the identity belongs in the area-chief index.
func (i Identity) IsAreaChief() bool {
	return i.Role == RoleAreaChief && i.AreaID != 0
}

// Presence is a registry entry: a connected user and its current handle.
type Presence struct {
	Identity    Identity
	Conn        Conn
	ConnectedAt time.Time
}

// UserSet is a set of user ids.
type UserSet map[string]struct{}

func NewUserSet(ids ...string) UserSet {
	s := make(UserSet, len(ids))
	for _, id := range ids {
		s[id] = struct{}{}
	}
	return s
}

func (s UserSet) Add(id string) { s[id] = struct{}{} }

func (s UserSet) Has(id string) bool {
	_, ok := s[id]
	return ok
}

// Union adds every member of o to s.
func (s UserSet) Union(o UserSet) {
	for id := range o {
		s[id] = struct{}{}
	}
}

// Intersect returns a new set holding the ids present in both sets.
func (s UserSet) Intersect(o UserSet) UserSet {
	small, large := s, o
	if len(large) < len(small) {
		small, large = large, small
	}
	out := make(UserSet, len(small))
	for id := range small {
		if large.Has(id) {
			out[id] = struct{}{}
		}
	}
	return out
}

// Sorted returns the members in lexical order.
func (s UserSet) Sorted() []string {
	ids := make([]string, 0, len(s))
	for id := range s {
		ids = append(ids, id)
	}
	slices.Sort(ids)
	return ids
}
