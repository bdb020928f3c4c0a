package statemanager

import (
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/gifmada/alertd/pkg/state"
)

type InMemoryManager struct {
	byUser      map[string]*state.Presence
	byRole      map[state.Role]state.UserSet
	byAreaChief map[state.AreaID]state.UserSet

	// one lock for all three indices; every operation is a handful of map
	// updates and never blocks on I/O while holding it.
	mu sync.RWMutex

	now    func() time.Time
	logger *slog.Logger
}

func NewInMemoryManager(logger *slog.Logger) *InMemoryManager {
	return &InMemoryManager{
		byUser:      make(map[string]*state.Presence),
		byRole:      make(map[state.Role]state.UserSet),
		byAreaChief: make(map[state.AreaID]state.UserSet),
		now:         time.Now,
		logger:      logger.With(slog.String("component", "presence_registry")),
	}
}

// compile-time check to ensure InMemoryManager implements Registry.
var _ state.Registry = (*InMemoryManager)(nil)

// --- Mutations ---

func (m *InMemoryManager) Register(id state.Identity, conn state.Conn) state.Conn {
	m.mu.Lock()
	defer m.mu.Unlock()

	var previous state.Conn
	if old, ok := m.byUser[id.UserID]; ok {
		m.unindex(old)
		if old.Conn != conn {
			previous = old.Conn
		}
	}

	p := &state.Presence{
		Identity:    id,
		Conn:        conn,
		ConnectedAt: m.now(),
	}
	m.byUser[id.UserID] = p
	addTo(m.byRole, id.Role, id.UserID)
	if id.IsAreaChief() {
		addTo(m.byAreaChief, id.AreaID, id.UserID)
	}

	m.logger.Debug("Presence registered",
		slog.String("userID", id.UserID),
		slog.String("role", id.Role.String()),
		slog.Int64("areaID", int64(id.AreaID)),
		slog.Bool("replaced", previous != nil),
	)
	return previous
}

func (m *InMemoryManager) Deregister(userID string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	p, ok := m.byUser[userID]
	if !ok {
		// already deregistered
		return
	}
	m.remove(p)
}

func (m *InMemoryManager) Release(userID string, conn state.Conn) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	p, ok := m.byUser[userID]
	if !ok || p.Conn != conn {
		return false
	}
	m.remove(p)
	return true
}

// remove and unindex expect m.mu to be held for writing.
func (m *InMemoryManager) remove(p *state.Presence) {
	m.unindex(p)
	delete(m.byUser, p.Identity.UserID)
	m.logger.Debug("Presence deregistered", slog.String("userID", p.Identity.UserID))
}

func (m *InMemoryManager) unindex(p *state.Presence) {
	removeFrom(m.byRole, p.Identity.Role, p.Identity.UserID)
	if p.Identity.IsAreaChief() {
		removeFrom(m.byAreaChief, p.Identity.AreaID, p.Identity.UserID)
	}
}

// --- Reads ---

func (m *InMemoryManager) ConnectionsForRoles(roles ...state.Role) state.UserSet {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make(state.UserSet)
	for _, r := range roles {
		out.Union(m.byRole[r])
	}
	return out
}

func (m *InMemoryManager) ChiefsForArea(area state.AreaID) state.UserSet {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make(state.UserSet, len(m.byAreaChief[area]))
	out.Union(m.byAreaChief[area])
	return out
}

func (m *InMemoryManager) Lookup(userID string) (*state.Presence, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	p, ok := m.byUser[userID]
	if !ok {
		return nil, false
	}
	cp := *p
	return &cp, true
}

func (m *InMemoryManager) Count() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.byUser)
}

func (m *InMemoryManager) Snapshot() []*state.Presence {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make([]*state.Presence, 0, len(m.byUser))
	for _, p := range m.byUser {
		cp := *p
		out = append(out, &cp)
	}
	return out
}

// checkIndexes verifies that the secondary indices mirror byUser exactly.
func (m *InMemoryManager) checkIndexes() error {
	m.mu.RLock()
	defer m.mu.RUnlock()

	for role, set := range m.byRole {
		for id := range set {
			p, ok := m.byUser[id]
			if !ok {
				return fmt.Errorf("role index %s holds %q with no presence", role, id)
			}
			if p.Identity.Role != role {
				return fmt.Errorf("role index %s holds %q registered as %s", role, id, p.Identity.Role)
			}
		}
	}
	for area, set := range m.byAreaChief {
		for id := range set {
			p, ok := m.byUser[id]
			if !ok {
				return fmt.Errorf("area index %d holds %q with no presence", area, id)
			}
			if !p.Identity.IsAreaChief() || p.Identity.AreaID != area {
				return fmt.Errorf("area index %d holds %q which is not its chief", area, id)
			}
		}
	}
	for id, p := range m.byUser {
		if !m.byRole[p.Identity.Role].Has(id) {
			return fmt.Errorf("presence %q missing from role index %s", id, p.Identity.Role)
		}
		areas := 0
		for _, set := range m.byAreaChief {
			if set.Has(id) {
				areas++
			}
		}
		want := 0
		if p.Identity.IsAreaChief() {
			want = 1
		}
		if areas != want {
			return fmt.Errorf("presence %q found in %d area indices, want %d", id, areas, want)
		}
	}
	return nil
}

func addTo[K comparable](index map[K]state.UserSet, key K, userID string) {
	set, ok := index[key]
	if !ok {
		set = make(state.UserSet)
		index[key] = set
	}
	set.Add(userID)
}

func removeFrom[K comparable](index map[K]state.UserSet, key K, userID string) {
	set, ok := index[key]
	if !ok {
		return
	}
	delete(set, userID)
	// drop empty buckets so the index does not grow with churn
	if len(set) == 0 {
		delete(index, key)
	}
}
