package statemanager_test

import (
	"context"
	"io"
	"log/slog"
	"math/rand"
	"strconv"
	"sync"
	"testing"

	"github.com/coder/websocket"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gifmada/alertd/pkg/state"
	"github.com/gifmada/alertd/pkg/state/statemanager"
)

// --- Test Suite Setup ---

func newTestLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newTestManager() *statemanager.InMemoryManager {
	return statemanager.NewInMemoryManager(newTestLogger())
}

type fakeConn struct {
	id uuid.UUID
}

func newFakeConn() *fakeConn { return &fakeConn{id: uuid.New()} }

func (c *fakeConn) ID() uuid.UUID                      { return c.id }
func (c *fakeConn) Send(context.Context, []byte) error { return nil }
func (c *fakeConn) Close(websocket.StatusCode, string) {}

func identity(userID string, role state.Role, area state.AreaID) state.Identity {
	return state.Identity{UserID: userID, Role: role, AreaID: area}
}

// --- Registration ---

func TestRegistryScenario(t *testing.T) {
	m := newTestManager()
	m.Register(identity("u1", state.RoleUrbanSecurity, 0), newFakeConn())
	m.Register(identity("u2", state.RoleLocalAuthority, 0), newFakeConn())
	m.Register(identity("u3", state.RoleAreaChief, 7), newFakeConn())

	got := m.ConnectionsForRoles(state.RoleUrbanSecurity, state.RoleLocalAuthority)
	assert.Equal(t, []string{"u1", "u2"}, got.Sorted())
	assert.Equal(t, []string{"u3"}, m.ChiefsForArea(7).Sorted())
	assert.Empty(t, m.ChiefsForArea(8))
	require.NoError(t, m.CheckIndexes())

	m.Deregister("u1")
	assert.Equal(t, []string{"u2"}, m.ConnectionsForRoles(state.RoleUrbanSecurity, state.RoleLocalAuthority).Sorted())
	require.NoError(t, m.CheckIndexes())
}

func TestLookup(t *testing.T) {
	m := newTestManager()
	conn := newFakeConn()
	m.Register(identity("u1", state.RoleCitizen, 0), conn)

	p, found := m.Lookup("u1")
	require.True(t, found)
	assert.Equal(t, conn.ID(), p.Conn.ID())
	assert.Equal(t, state.RoleCitizen, p.Identity.Role)

	_, found = m.Lookup("nobody")
	assert.False(t, found)
}

func TestReconnectReplacesAndNeverDuplicates(t *testing.T) {
	m := newTestManager()
	first, second := newFakeConn(), newFakeConn()

	prev := m.Register(identity("u3", state.RoleAreaChief, 7), first)
	assert.Nil(t, prev)
	prev = m.Register(identity("u3", state.RoleAreaChief, 7), second)
	require.NotNil(t, prev)
	assert.Equal(t, first.ID(), prev.ID())

	assert.Equal(t, 1, m.Count())
	assert.Len(t, m.ConnectionsForRoles(state.RoleAreaChief), 1)
	assert.Len(t, m.ChiefsForArea(7), 1)

	p, _ := m.Lookup("u3")
	assert.Equal(t, second.ID(), p.Conn.ID())
	require.NoError(t, m.CheckIndexes())
}

func TestReconnectWithDifferentRoleMovesIndexes(t *testing.T) {
	m := newTestManager()
	m.Register(identity("u1", state.RoleAreaChief, 7), newFakeConn())
	m.Register(identity("u1", state.RoleUrbanSecurity, 0), newFakeConn())

	assert.Empty(t, m.ChiefsForArea(7))
	assert.Empty(t, m.ConnectionsForRoles(state.RoleAreaChief))
	assert.True(t, m.ConnectionsForRoles(state.RoleUrbanSecurity).Has("u1"))
	require.NoError(t, m.CheckIndexes())
}

func TestAreaChiefWithoutAreaIsNotAreaIndexed(t *testing.T) {
	m := newTestManager()
	m.Register(identity("u1", state.RoleAreaChief, 0), newFakeConn())

	assert.True(t, m.ConnectionsForRoles(state.RoleAreaChief).Has("u1"))
	assert.Empty(t, m.ChiefsForArea(0))
	require.NoError(t, m.CheckIndexes())
}

// --- Deregistration ---

func TestDeregisterIsIdempotent(t *testing.T) {
	m := newTestManager()
	m.Register(identity("u1", state.RoleLocalAuthority, 0), newFakeConn())

	m.Deregister("u1")
	m.Deregister("u1")
	m.Deregister("never-registered")

	assert.Equal(t, 0, m.Count())
	assert.Empty(t, m.ConnectionsForRoles(state.RoleLocalAuthority))
	require.NoError(t, m.CheckIndexes())
}

func TestReleaseIgnoresStaleHandle(t *testing.T) {
	m := newTestManager()
	stale, current := newFakeConn(), newFakeConn()
	m.Register(identity("u1", state.RoleUrbanSecurity, 0), stale)
	m.Register(identity("u1", state.RoleUrbanSecurity, 0), current)

	assert.False(t, m.Release("u1", stale), "stale handle must not remove its replacement")
	p, found := m.Lookup("u1")
	require.True(t, found)
	assert.Equal(t, current.ID(), p.Conn.ID())

	assert.True(t, m.Release("u1", current))
	assert.False(t, m.Release("u1", current))
	assert.Equal(t, 0, m.Count())
}

func TestUnknownRoleReadsAreEmpty(t *testing.T) {
	m := newTestManager()
	assert.Empty(t, m.ConnectionsForRoles(state.RoleUnknown, state.Role(42)))
	assert.Empty(t, m.ConnectionsForRoles())
}

func TestReadsReturnCopies(t *testing.T) {
	m := newTestManager()
	m.Register(identity("u3", state.RoleAreaChief, 7), newFakeConn())

	chiefs := m.ChiefsForArea(7)
	chiefs.Add("intruder")
	roles := m.ConnectionsForRoles(state.RoleAreaChief)
	roles.Add("intruder")

	assert.False(t, m.ChiefsForArea(7).Has("intruder"))
	assert.False(t, m.ConnectionsForRoles(state.RoleAreaChief).Has("intruder"))
	require.NoError(t, m.CheckIndexes())
}

// --- Model-based consistency ---

func TestRandomSequencesKeepIndexesConsistent(t *testing.T) {
	m := newTestManager()
	rng := rand.New(rand.NewSource(1))
	roles := []state.Role{
		state.RoleLocalAuthority, state.RoleUrbanSecurity, state.RoleAreaChief,
		state.RoleCitizen, state.RoleAdmin,
	}

	model := make(map[string]state.Identity)
	for step := 0; step < 2000; step++ {
		userID := "u" + strconv.Itoa(rng.Intn(25))
		switch rng.Intn(3) {
		case 0, 1:
			id := identity(userID, roles[rng.Intn(len(roles))], state.AreaID(rng.Intn(4)))
			m.Register(id, newFakeConn())
			model[userID] = id
		case 2:
			m.Deregister(userID)
			delete(model, userID)
		}

		require.NoError(t, m.CheckIndexes(), "step %d", step)
		require.Equal(t, len(model), m.Count(), "step %d", step)
		for _, r := range roles {
			want := state.NewUserSet()
			for uid, id := range model {
				if id.Role == r {
					want.Add(uid)
				}
			}
			require.Equal(t, want.Sorted(), m.ConnectionsForRoles(r).Sorted(), "step %d role %s", step, r)
		}
		for area := state.AreaID(1); area < 4; area++ {
			want := state.NewUserSet()
			for uid, id := range model {
				if id.IsAreaChief() && id.AreaID == area {
					want.Add(uid)
				}
			}
			require.Equal(t, want.Sorted(), m.ChiefsForArea(area).Sorted(), "step %d area %d", step, area)
		}
	}
}

func TestConcurrentRegisterDeregister(t *testing.T) {
	m := newTestManager()
	var wg sync.WaitGroup

	for i := 0; i < 100; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			userID := "user" + strconv.Itoa(i%10)
			conn := newFakeConn()
			m.Register(identity(userID, state.RoleAreaChief, state.AreaID(i%3+1)), conn)
			m.ConnectionsForRoles(state.RoleAreaChief)
			m.ChiefsForArea(state.AreaID(i%3 + 1))
			m.Lookup(userID)
			m.Release(userID, conn)
		}(i)
	}
	wg.Wait()

	require.NoError(t, m.CheckIndexes())
	assert.Equal(t, 0, m.Count())
}
