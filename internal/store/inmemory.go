package store

import (
	"context"
	"sort"
	"sync"

	"github.com/midnight-learners/generative-agents/internal/memory"
)

// InMemory is a process-local store used when no database is configured
// and in tests. Records are shared, so scores cached on them persist.
type InMemory struct {
	mu      sync.RWMutex
	byAgent map[string][]*memory.Record
	ids     map[string]bool
}

var _ memory.Storage = (*InMemory)(nil)

// NewInMemory creates an empty store.
func NewInMemory() *InMemory {
	return &InMemory{
		byAgent: make(map[string][]*memory.Record),
		ids:     make(map[string]bool),
	}
}

// Persist stores rec. Re-persisting the same id is a no-op.
func (m *InMemory) Persist(_ context.Context, rec *memory.Record) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.ids[rec.ID()] {
		m.ids[rec.ID()] = true
		m.byAgent[rec.AgentID()] = append(m.byAgent[rec.AgentID()], rec)
	}
	return rec.ID(), nil
}

// FetchByAgent returns the agent's memories created inside r, oldest first.
func (m *InMemory) FetchByAgent(_ context.Context, agentID string, r memory.TimeRange) ([]*memory.Record, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var out []*memory.Record
	for _, rec := range m.byAgent[agentID] {
		if r.Contains(rec.CreatedAt()) {
			out = append(out, rec)
		}
	}
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].CreatedAt().Before(out[j].CreatedAt())
	})
	return out, nil
}
