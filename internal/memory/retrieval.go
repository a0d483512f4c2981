package memory

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sort"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// DefaultConcurrency bounds parallel importance scoring during a retrieval.
const DefaultConcurrency = 8

// Weights blend the retrieval signals into one composite score.
type Weights struct {
	Recency    float64 `json:"recency"`
	Importance float64 `json:"importance"`
	Relevance  float64 `json:"relevance"`
}

// DefaultWeights returns an unweighted sum of all signals.
func DefaultWeights() Weights {
	return Weights{Recency: 1, Importance: 1, Relevance: 1}
}

func (w Weights) validate() error {
	for name, v := range map[string]float64{
		"recency":    w.Recency,
		"importance": w.Importance,
		"relevance":  w.Relevance,
	} {
		if math.IsNaN(v) || math.IsInf(v, 0) || v < 0 {
			return fmt.Errorf("%w: %s weight %v must be a finite non-negative number", ErrInvalidArgument, name, v)
		}
	}
	return nil
}

// Ranked is a retrieved record with the signals behind its composite score.
type Ranked struct {
	Record     *Record `json:"-"`
	Score      float64 `json:"score"`
	Recency    float64 `json:"recency"`
	Importance float64 `json:"importance"` // raw, on the configured scale
	Relevance  float64 `json:"relevance"`
	// Fallback is set when the importance could not be scored and the scale
	// midpoint was used instead.
	Fallback bool `json:"fallback"`
}

// ComposerConfig controls retrieval ranking.
type ComposerConfig struct {
	DecayFactor float64       // per-hour recency decay, default 0.99
	Scale       Scale         // importance range, required
	Concurrency int           // max parallel scoring calls, default 8
	Timeout     time.Duration // overall deadline per retrieval, 0 = caller's context only
}

// RetrieveOption customizes a single Retrieve call.
type RetrieveOption func(*retrieveOptions)

type retrieveOptions struct {
	relevance func(*Record) float64
}

// WithRelevance supplies a caller-computed relevance signal in [0, 1].
// Without it every record has relevance 0.
func WithRelevance(fn func(*Record) float64) RetrieveOption {
	return func(o *retrieveOptions) {
		o.relevance = fn
	}
}

// Composer ranks memory records by recency, importance and relevance.
type Composer struct {
	scorer ImportanceScorer
	cfg    ComposerConfig
	logger *zap.Logger
}

// NewComposer validates cfg and fills in defaults.
func NewComposer(scorer ImportanceScorer, cfg ComposerConfig, logger *zap.Logger) (*Composer, error) {
	if scorer == nil {
		return nil, fmt.Errorf("%w: importance scorer is required", ErrConfiguration)
	}
	if cfg.DecayFactor == 0 {
		cfg.DecayFactor = DefaultDecayFactor
	}
	if err := validateDecayFactor(cfg.DecayFactor); err != nil {
		return nil, err
	}
	if err := cfg.Scale.Validate(); err != nil {
		return nil, err
	}
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = DefaultConcurrency
	}
	return &Composer{scorer: scorer, cfg: cfg, logger: logger}, nil
}

// Retrieve returns up to k records ordered by composite score, highest first.
// Ties go to the more recently created record, then to input order.
// Records without an importance score are scored (and the score cached on
// them); a record that cannot be scored ranks with the scale midpoint.
func (c *Composer) Retrieve(ctx context.Context, records []*Record, queryTime time.Time, k int, weights Weights, opts ...RetrieveOption) ([]Ranked, error) {
	if k <= 0 {
		return nil, fmt.Errorf("%w: k must be positive, got %d", ErrInvalidArgument, k)
	}
	if err := weights.validate(); err != nil {
		return nil, err
	}
	var o retrieveOptions
	for _, opt := range opts {
		opt(&o)
	}

	ranked := make([]Ranked, len(records))
	for i, rec := range records {
		if rec == nil {
			return nil, fmt.Errorf("%w: record %d is nil", ErrInvalidArgument, i)
		}
		recency, err := Recency(rec, queryTime, c.cfg.DecayFactor)
		if err != nil {
			return nil, err
		}
		ranked[i] = Ranked{Record: rec, Recency: recency}
		if o.relevance != nil {
			rel := o.relevance(rec)
			if math.IsNaN(rel) || math.IsInf(rel, 0) {
				return nil, fmt.Errorf("%w: relevance of %s is %v", ErrInvalidArgument, rec.ID(), rel)
			}
			ranked[i].Relevance = rel
		}
	}

	if err := c.ensureImportance(ctx, ranked); err != nil {
		return nil, err
	}

	for i := range ranked {
		r := &ranked[i]
		r.Score = weights.Recency*r.Recency +
			weights.Importance*c.cfg.Scale.Normalize(r.Importance) +
			weights.Relevance*r.Relevance
	}

	sort.SliceStable(ranked, func(i, j int) bool {
		if ranked[i].Score != ranked[j].Score {
			return ranked[i].Score > ranked[j].Score
		}
		return ranked[i].Record.CreatedAt().After(ranked[j].Record.CreatedAt())
	})

	if len(ranked) > k {
		ranked = ranked[:k]
	}
	return ranked, nil
}

// ensureImportance fills in Importance for every entry, scoring uncached
// records in parallel. Only total gateway unavailability is returned as an
// error; any other per-record failure becomes a midpoint fallback.
func (c *Composer) ensureImportance(ctx context.Context, ranked []Ranked) error {
	if c.cfg.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.cfg.Timeout)
		defer cancel()
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(c.cfg.Concurrency)

	pending := 0
	for i := range ranked {
		r := &ranked[i]
		if v, ok := r.Record.Importance(); ok {
			r.Importance = v
			continue
		}
		pending++
		g.Go(func() error {
			v, err := c.scorer.Score(gctx, r.Record)
			if err == nil {
				r.Importance = v
				return nil
			}
			if errors.Is(err, ErrGatewayUnavailable) {
				return err
			}
			c.logger.Warn("importance scoring failed, using fallback",
				zap.String("memory", r.Record.ID()),
				zap.Float64("fallback", c.cfg.Scale.Midpoint()),
				zap.Error(err))
			r.Importance = c.cfg.Scale.Midpoint()
			r.Fallback = true
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return fmt.Errorf("score importance: %w", err)
	}

	if pending > 0 {
		c.logger.Debug("importance scoring complete",
			zap.Int("records", len(ranked)),
			zap.Int("scored", pending))
	}
	return nil
}
