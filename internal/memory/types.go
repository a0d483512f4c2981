package memory

import (
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
)

// MemoryType classifies a record in the agent's memory stream.
type MemoryType int

const (
	Observation MemoryType = 1
	Reflection  MemoryType = 2
	Plan        MemoryType = 3
)

// FromCode converts an external integer code (1, 2 or 3) to a MemoryType.
func FromCode(code int) (MemoryType, error) {
	switch MemoryType(code) {
	case Observation, Reflection, Plan:
		return MemoryType(code), nil
	default:
		return 0, fmt.Errorf("%w: %d (must be 1, 2 or 3)", ErrInvalidTypeCode, code)
	}
}

// Code returns the external integer code for t.
func (t MemoryType) Code() int { return int(t) }

func (t MemoryType) String() string {
	switch t {
	case Observation:
		return "Observation"
	case Reflection:
		return "Reflection"
	case Plan:
		return "Plan"
	default:
		return fmt.Sprintf("MemoryType(%d)", int(t))
	}
}

// Record is one unit of an agent's experience. Everything except the
// importance score is fixed at construction.
type Record struct {
	id        string
	agentID   string
	content   string
	createdAt time.Time
	typ       MemoryType

	mu         sync.RWMutex
	importance float64
	scored     bool
}

// NewRecord creates a record with a fresh id. createdAt must be supplied by
// the caller's clock; a zero time is rejected.
func NewRecord(agentID, content string, typ MemoryType, createdAt time.Time) (*Record, error) {
	return Restore(uuid.New().String(), agentID, content, typ, createdAt, nil)
}

// Restore rebuilds a previously persisted record. importance may be nil when
// the record was never scored.
func Restore(id, agentID, content string, typ MemoryType, createdAt time.Time, importance *float64) (*Record, error) {
	if content == "" {
		return nil, fmt.Errorf("%w: memory content is empty", ErrInvalidArgument)
	}
	if createdAt.IsZero() {
		return nil, fmt.Errorf("%w: memory creation time is required", ErrInvalidArgument)
	}
	if _, err := FromCode(typ.Code()); err != nil {
		return nil, err
	}
	r := &Record{
		id:        id,
		agentID:   agentID,
		content:   content,
		createdAt: createdAt,
		typ:       typ,
	}
	if importance != nil {
		r.importance = *importance
		r.scored = true
	}
	return r, nil
}

func (r *Record) ID() string           { return r.id }
func (r *Record) AgentID() string      { return r.agentID }
func (r *Record) Content() string      { return r.content }
func (r *Record) CreatedAt() time.Time { return r.createdAt }
func (r *Record) Type() MemoryType     { return r.typ }

// Importance returns the cached importance score, if one has been computed.
func (r *Record) Importance() (float64, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.importance, r.scored
}

// SetImportance attaches a score unless one is already cached. It returns the
// score now held by the record and whether this call stored it.
func (r *Record) SetImportance(score float64) (float64, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.scored {
		return r.importance, false
	}
	r.importance = score
	r.scored = true
	return score, true
}

// InvalidateImportance drops the cached score so the next scoring pass
// queries the language model again.
func (r *Record) InvalidateImportance() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.importance = 0
	r.scored = false
}

func (r *Record) String() string {
	return fmt.Sprintf("[%s] %s %s", r.typ, r.createdAt.Format("2006-01-02 15:04:05"), r.content)
}
