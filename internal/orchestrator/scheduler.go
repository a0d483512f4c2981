package orchestrator

import (
	"context"
	"fmt"
	"sync"

	"go.uber.org/zap"

	"github.com/midnight-learners/generative-agents/internal/memory"
)

// EagerScoringGroup is the consumer group shared by eager scorers.
const EagerScoringGroup = "importance-scorers"

type subscriber interface {
	Subscribe(ctx context.Context, group, consumer string) (<-chan *Delivery, error)
	Ack(ctx context.Context, group string, d *Delivery) error
}

// EagerScorer scores memories as soon as they are published instead of on
// first retrieval, using a bounded goroutine pool.
type EagerScorer struct {
	bus      subscriber
	scorer   memory.ImportanceScorer
	saver    memory.ImportanceSaver
	consumer string
	pool     chan struct{} // semaphore-based pool
	logger   *zap.Logger
}

// NewEagerScorer creates a scorer that runs at most poolSize model calls at once.
// saver may be nil when scores only need to reach the shared cache.
func NewEagerScorer(bus subscriber, scorer memory.ImportanceScorer, saver memory.ImportanceSaver, consumer string, poolSize int, logger *zap.Logger) *EagerScorer {
	if poolSize <= 0 {
		poolSize = 4
	}
	return &EagerScorer{
		bus:      bus,
		scorer:   scorer,
		saver:    saver,
		consumer: consumer,
		pool:     make(chan struct{}, poolSize),
		logger:   logger,
	}
}

// Run consumes memory events until ctx is cancelled.
func (s *EagerScorer) Run(ctx context.Context) error {
	deliveries, err := s.bus.Subscribe(ctx, EagerScoringGroup, s.consumer)
	if err != nil {
		return err
	}
	s.logger.Info("eager importance scorer started",
		zap.String("consumer", s.consumer),
		zap.Int("pool", cap(s.pool)))

	var wg sync.WaitGroup
	for d := range deliveries {
		select {
		case s.pool <- struct{}{}: // acquire slot
		case <-ctx.Done():
			wg.Wait()
			return nil
		}
		wg.Add(1)
		go func(d *Delivery) {
			defer wg.Done()
			defer func() { <-s.pool }() // release slot

			if err := s.Handle(ctx, d.Event); err != nil {
				s.logger.Warn("eager scoring failed",
					zap.String("memory", d.Event.ID), zap.Error(err))
			}
			if err := s.bus.Ack(ctx, EagerScoringGroup, d); err != nil {
				s.logger.Warn("ack memory event", zap.String("memory", d.Event.ID), zap.Error(err))
			}
		}(d)
	}
	wg.Wait()
	return nil
}

// Handle scores the event's memory and saves the result. Events that already
// carry a score are skipped.
func (s *EagerScorer) Handle(ctx context.Context, ev *MemoryEvent) error {
	if ev.Importance != nil {
		return nil
	}
	rec, err := ev.Record()
	if err != nil {
		return fmt.Errorf("decode memory %s: %w", ev.ID, err)
	}
	score, err := s.scorer.Score(ctx, rec)
	if err != nil {
		return fmt.Errorf("score memory %s: %w", ev.ID, err)
	}
	if s.saver != nil {
		if err := s.saver.SaveImportance(ctx, rec.ID(), score); err != nil {
			return err
		}
	}
	s.logger.Debug("eagerly scored memory",
		zap.String("memory", ev.ID),
		zap.Float64("importance", score))
	return nil
}
