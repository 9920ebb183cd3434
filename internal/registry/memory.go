// ABOUTME: In-memory Registry implementation for tests
// ABOUTME: Mirrors SQLiteRegistry semantics without touching disk

package registry

import (
	"context"
	"sync"

	"github.com/2389/wardlink/internal/session"
)

type memoryEntry struct {
	coordinator session.Contact
	requesters  []session.Contact
}

// MemoryRegistry is an in-memory Registry.
type MemoryRegistry struct {
	mu        sync.RWMutex
	resources map[string]*memoryEntry
}

// NewMemoryRegistry creates an empty MemoryRegistry.
func NewMemoryRegistry() *MemoryRegistry {
	return &MemoryRegistry{resources: make(map[string]*memoryEntry)}
}

func (m *MemoryRegistry) entry(resourceID string) *memoryEntry {
	e, ok := m.resources[resourceID]
	if !ok {
		e = &memoryEntry{}
		m.resources[resourceID] = e
	}
	return e
}

func (m *MemoryRegistry) AssignCoordinator(ctx context.Context, resourceID string, c session.Contact) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.entry(resourceID).coordinator = c
	return nil
}

func (m *MemoryRegistry) UnassignCoordinator(ctx context.Context, resourceID string, c session.Contact) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if e, ok := m.resources[resourceID]; ok && e.coordinator.Identity == c.Identity {
		e.coordinator = session.Contact{}
	}
	return nil
}

func (m *MemoryRegistry) AddRequester(ctx context.Context, resourceID string, c session.Contact) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	e := m.entry(resourceID)
	for _, existing := range e.requesters {
		if existing.Identity == c.Identity {
			return nil
		}
	}
	e.requesters = append(e.requesters, c)
	return nil
}

func (m *MemoryRegistry) RemoveRequester(ctx context.Context, identity string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, e := range m.resources {
		kept := e.requesters[:0]
		for _, c := range e.requesters {
			if c.Identity != identity {
				kept = append(kept, c)
			}
		}
		e.requesters = kept
	}
	return nil
}

func (m *MemoryRegistry) Coordinator(ctx context.Context, resourceID string) (session.Contact, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	e, ok := m.resources[resourceID]
	if !ok || e.coordinator.IsZero() {
		return session.Contact{}, ErrNotFound
	}
	return e.coordinator, nil
}

func (m *MemoryRegistry) Requesters(ctx context.Context, resourceID string) ([]session.Contact, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	e, ok := m.resources[resourceID]
	if !ok {
		return nil, ErrNotFound
	}
	out := make([]session.Contact, len(e.requesters))
	copy(out, e.requesters)
	return out, nil
}

func (m *MemoryRegistry) Close() error { return nil }

var (
	_ Registry = (*MemoryRegistry)(nil)
	_ Registry = (*SQLiteRegistry)(nil)
)
