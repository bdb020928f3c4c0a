package statemanager

// CheckIndexes exposes the index consistency check to the external test package.
func (m *InMemoryManager) CheckIndexes() error { return m.checkIndexes() }
