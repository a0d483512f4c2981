package memory

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"
)

// TimeRange bounds a storage query. A zero From or To leaves that side open.
type TimeRange struct {
	From time.Time
	To   time.Time
}

// Contains reports whether t falls inside the range, bounds included.
func (r TimeRange) Contains(t time.Time) bool {
	if !r.From.IsZero() && t.Before(r.From) {
		return false
	}
	if !r.To.IsZero() && t.After(r.To) {
		return false
	}
	return true
}

// Storage persists and loads memory records.
type Storage interface {
	Persist(ctx context.Context, rec *Record) (string, error)
	FetchByAgent(ctx context.Context, agentID string, r TimeRange) ([]*Record, error)
}

// ImportanceSaver is implemented by storage that can persist scores attached
// after a record was first written.
type ImportanceSaver interface {
	SaveImportance(ctx context.Context, id string, score float64) error
}

// Publisher announces new records, e.g. to eager importance scorers.
type Publisher interface {
	PublishMemory(ctx context.Context, rec *Record) error
}

// Stream is an agent-facing memory stream: it records new experiences and
// recalls the most useful ones.
type Stream struct {
	store     Storage
	composer  *Composer
	publisher Publisher
	logger    *zap.Logger
}

// NewStream creates a Stream over store using composer for ranking.
func NewStream(store Storage, composer *Composer, logger *zap.Logger) *Stream {
	return &Stream{store: store, composer: composer, logger: logger}
}

// SetPublisher enables eager scoring notifications for new records.
func (s *Stream) SetPublisher(p Publisher) {
	s.publisher = p
}

// Remember records a new memory created at the caller-supplied time.
func (s *Stream) Remember(ctx context.Context, agentID, content string, typ MemoryType, at time.Time) (*Record, error) {
	rec, err := NewRecord(agentID, content, typ, at)
	if err != nil {
		return nil, err
	}
	if _, err := s.store.Persist(ctx, rec); err != nil {
		return nil, fmt.Errorf("%w: persist memory: %w", ErrStorage, err)
	}

	s.logger.Info("memory recorded",
		zap.String("agent", agentID),
		zap.String("memory", rec.ID()),
		zap.Stringer("type", rec.Type()))

	if s.publisher != nil {
		if err := s.publisher.PublishMemory(ctx, rec); err != nil {
			s.logger.Warn("publish memory failed",
				zap.String("memory", rec.ID()), zap.Error(err))
		}
	}
	return rec, nil
}

// Recall loads the agent's memories in r and returns the top k at queryTime.
// Importance scores computed along the way are written back to storage when
// it supports it.
func (s *Stream) Recall(ctx context.Context, agentID string, r TimeRange, queryTime time.Time, k int, weights Weights, opts ...RetrieveOption) ([]Ranked, error) {
	records, err := s.store.FetchByAgent(ctx, agentID, r)
	if err != nil {
		return nil, fmt.Errorf("%w: fetch memories for %s: %w", ErrStorage, agentID, err)
	}

	unscored := make(map[*Record]bool)
	for _, rec := range records {
		if _, ok := rec.Importance(); !ok {
			unscored[rec] = true
		}
	}

	ranked, err := s.composer.Retrieve(ctx, records, queryTime, k, weights, opts...)
	if err != nil {
		return nil, err
	}

	s.saveScores(ctx, unscored)

	s.logger.Debug("memories recalled",
		zap.String("agent", agentID),
		zap.Int("candidates", len(records)),
		zap.Int("returned", len(ranked)))
	return ranked, nil
}

func (s *Stream) saveScores(ctx context.Context, unscored map[*Record]bool) {
	saver, ok := s.store.(ImportanceSaver)
	if !ok {
		return
	}
	for rec := range unscored {
		v, ok := rec.Importance()
		if !ok {
			continue
		}
		if err := saver.SaveImportance(ctx, rec.ID(), v); err != nil {
			s.logger.Warn("save importance failed",
				zap.String("memory", rec.ID()), zap.Error(err))
		}
	}
}
