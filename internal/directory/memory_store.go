package directory

import (
	"context"
	"strings"
	"sync"
	"time"
)

// MemoryStore is a mutex-guarded in-memory Store. Reads return copies.
type MemoryStore struct {
	mu     sync.RWMutex
	agents map[uint64]*Agent
	order  []uint64
	now    func() time.Time
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		agents: make(map[uint64]*Agent),
		now:    time.Now,
	}
}

var _ Store = (*MemoryStore)(nil)

func (m *MemoryStore) List(_ context.Context, f Filter) ([]*Agent, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	start := 0
	if f.After != 0 {
		for i, id := range m.order {
			if id == f.After {
				start = i + 1
				break
			}
		}
	}

	category := f.category()
	search := strings.ToLower(f.Search)
	out := make([]*Agent, 0, len(m.order)-start)
	for _, id := range m.order[start:] {
		a := m.agents[id]
		if category != "" && a.Category != category {
			continue
		}
		if search != "" && !strings.Contains(strings.ToLower(a.Name), search) &&
			!strings.Contains(strings.ToLower(a.Description), search) {
			continue
		}
		cp := *a
		out = append(out, &cp)
		if f.Limit > 0 && len(out) == f.Limit {
			break
		}
	}
	return out, nil
}

func (m *MemoryStore) Get(_ context.Context, id uint64) (*Agent, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	a, ok := m.agents[id]
	if !ok {
		return nil, ErrAgentNotFound
	}
	cp := *a
	return &cp, nil
}

func (m *MemoryStore) Add(_ context.Context, agent *Agent) error {
	if err := validate(agent); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.insertLocked(agent)
}

func (m *MemoryStore) Create(_ context.Context, agent *Agent) error {
	if agent == nil {
		return ErrInvalidAgent
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	agent.ID = m.nextIDLocked()
	if err := validate(agent); err != nil {
		return err
	}
	return m.insertLocked(agent)
}

func (m *MemoryStore) insertLocked(agent *Agent) error {
	if _, exists := m.agents[agent.ID]; exists {
		return ErrAgentExists
	}
	if agent.CreatedAt.IsZero() {
		agent.CreatedAt = m.now().UTC()
	}
	cp := *agent
	m.agents[agent.ID] = &cp
	m.order = append(m.order, agent.ID)
	return nil
}

func (m *MemoryStore) Update(_ context.Context, id uint64, patch Patch) (*Agent, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	a, ok := m.agents[id]
	if !ok {
		return nil, ErrAgentNotFound
	}
	updated := *a
	patch.apply(&updated)
	if updated.PricePerCall < 0 {
		return nil, ErrInvalidAgent
	}
	*a = updated
	return &updated, nil
}

func (m *MemoryStore) NextID(_ context.Context) (uint64, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.nextIDLocked(), nil
}

func (m *MemoryStore) nextIDLocked() uint64 {
	var highest uint64
	for id := range m.agents {
		if id > highest {
			highest = id
		}
	}
	return highest + 1
}

func (m *MemoryStore) RecordCall(_ context.Context, id uint64) (*Agent, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	a, ok := m.agents[id]
	if !ok {
		return nil, ErrAgentNotFound
	}
	a.TotalCalls++
	cp := *a
	return &cp, nil
}
