package orchestrator

import (
	"time"

	"github.com/midnight-learners/generative-agents/internal/memory"
)

// MemoryEvent announces a newly recorded memory on the bus.
type MemoryEvent struct {
	ID         string    `json:"id"`
	AgentID    string    `json:"agent_id"`
	Content    string    `json:"content"`
	TypeCode   int       `json:"type"`
	CreatedAt  time.Time `json:"created_at"`
	Importance *float64  `json:"importance,omitempty"`
}

// NewMemoryEvent captures rec for publishing.
func NewMemoryEvent(rec *memory.Record) *MemoryEvent {
	ev := &MemoryEvent{
		ID:        rec.ID(),
		AgentID:   rec.AgentID(),
		Content:   rec.Content(),
		TypeCode:  rec.Type().Code(),
		CreatedAt: rec.CreatedAt(),
	}
	if v, ok := rec.Importance(); ok {
		ev.Importance = &v
	}
	return ev
}

// Record rebuilds the memory record carried by the event.
func (e *MemoryEvent) Record() (*memory.Record, error) {
	typ, err := memory.FromCode(e.TypeCode)
	if err != nil {
		return nil, err
	}
	return memory.Restore(e.ID, e.AgentID, e.Content, typ, e.CreatedAt, e.Importance)
}
