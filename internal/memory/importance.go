package memory

import (
	"context"
	"errors"
	"fmt"
	"math"
	"regexp"
	"strconv"
	"strings"

	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"
)

// ContentPlaceholder marks where a memory's content goes in a prompt template.
const ContentPlaceholder = "{}"

// ImportancePromptKey is the template name used for importance prompts.
const ImportancePromptKey = "memory_importance"

// DefaultMaxRetries is the number of extra attempts after an unparseable reply.
const DefaultMaxRetries = 2

var importanceScoreRe = regexp.MustCompile(`<(\d+)>`)

// Response is the text returned by a language model call.
type Response struct {
	Content string
}

// Gateway is the language model the importance scorer delegates to.
// Retrying transport failures is the gateway's job.
type Gateway interface {
	Generate(ctx context.Context, prompt string) (Response, error)
}

// ImportanceScorer computes and caches a record's importance score.
type ImportanceScorer interface {
	Score(ctx context.Context, rec *Record) (float64, error)
}

// ImportanceCache is an optional shared store of scores keyed by record id,
// so several processes scoring the same stream hit the model once.
type ImportanceCache interface {
	Get(ctx context.Context, id string) (float64, bool, error)
	// Put stores score unless a value already exists and returns the value
	// that ends up stored.
	Put(ctx context.Context, id string, score float64) (float64, error)
}

// Scale is the agreed numeric range of importance scores. It has no default:
// normalization and fallbacks depend on it.
type Scale struct {
	Min float64 `json:"min"`
	Max float64 `json:"max"`
}

// Validate checks that the scale is a usable non-negative range.
func (s Scale) Validate() error {
	if math.IsNaN(s.Min) || math.IsNaN(s.Max) || math.IsInf(s.Max, 0) {
		return fmt.Errorf("%w: importance scale must be finite", ErrInvalidConfiguration)
	}
	if s.Min < 0 || s.Max <= s.Min {
		return fmt.Errorf("%w: importance scale [%v, %v] must satisfy 0 <= min < max",
			ErrInvalidConfiguration, s.Min, s.Max)
	}
	return nil
}

// Contains reports whether v lies inside the scale, bounds included.
func (s Scale) Contains(v float64) bool { return v >= s.Min && v <= s.Max }

// Midpoint is the fallback importance for records that could not be scored.
func (s Scale) Midpoint() float64 { return (s.Min + s.Max) / 2 }

// Normalize maps a score into [0, 1] by dividing by the scale maximum.
func (s Scale) Normalize(v float64) float64 { return v / s.Max }

// RenderPrompt substitutes content into a template that holds exactly one
// ContentPlaceholder.
func RenderPrompt(template, content string) (string, error) {
	if template == "" {
		return "", fmt.Errorf("%w: prompt template is empty", ErrConfiguration)
	}
	if n := strings.Count(template, ContentPlaceholder); n != 1 {
		return "", fmt.Errorf("%w: prompt template has %d %q placeholders, want 1",
			ErrConfiguration, n, ContentPlaceholder)
	}
	return strings.Replace(template, ContentPlaceholder, content, 1), nil
}

// ParseScore extracts the first run of digits wrapped in angle brackets,
// e.g. "<7>", from a model reply.
func ParseScore(text string) (float64, error) {
	m := importanceScoreRe.FindStringSubmatch(text)
	if m == nil {
		return 0, ErrScoreParse
	}
	v, err := strconv.ParseFloat(m[1], 64)
	if err != nil {
		return 0, fmt.Errorf("%w: %v", ErrScoreParse, err)
	}
	return v, nil
}

// ScorerConfig controls a PromptScorer.
type ScorerConfig struct {
	Template   string
	Scale      Scale
	MaxRetries int
}

// PromptScorer asks a language model to rate a memory and parses the
// bracketed score from its reply.
type PromptScorer struct {
	gateway Gateway
	cfg     ScorerConfig
	cache   ImportanceCache
	flight  singleflight.Group
	logger  *zap.Logger
}

var _ ImportanceScorer = (*PromptScorer)(nil)

// NewPromptScorer validates cfg and returns a scorer bound to gateway.
func NewPromptScorer(gateway Gateway, cfg ScorerConfig, logger *zap.Logger) (*PromptScorer, error) {
	if gateway == nil {
		return nil, fmt.Errorf("%w: gateway is required", ErrConfiguration)
	}
	if _, err := RenderPrompt(cfg.Template, ""); err != nil {
		return nil, err
	}
	if err := cfg.Scale.Validate(); err != nil {
		return nil, err
	}
	if cfg.MaxRetries < 0 {
		return nil, fmt.Errorf("%w: max retries %d is negative", ErrInvalidConfiguration, cfg.MaxRetries)
	}
	return &PromptScorer{gateway: gateway, cfg: cfg, logger: logger}, nil
}

// SetCache configures a shared importance cache.
func (s *PromptScorer) SetCache(c ImportanceCache) {
	s.cache = c
}

// Scale returns the configured importance range.
func (s *PromptScorer) Scale() Scale { return s.cfg.Scale }

// Score returns rec's importance, querying the model only when no score is
// cached. Concurrent calls for the same record id share one model call; each
// caller still gives up when its own ctx is done.
func (s *PromptScorer) Score(ctx context.Context, rec *Record) (float64, error) {
	if v, ok := rec.Importance(); ok {
		return v, nil
	}

	shared := context.WithoutCancel(ctx)
	ch := s.flight.DoChan(rec.ID(), func() (interface{}, error) {
		return s.score(shared, rec)
	})
	select {
	case res := <-ch:
		if res.Err != nil {
			return 0, res.Err
		}
		// The shared call scored the first caller's copy of the record.
		v, _ := rec.SetImportance(res.Val.(float64))
		return v, nil
	case <-ctx.Done():
		return 0, ctx.Err()
	}
}

func (s *PromptScorer) score(ctx context.Context, rec *Record) (float64, error) {
	if v, ok := rec.Importance(); ok {
		return v, nil
	}

	if s.cache != nil {
		v, ok, err := s.cache.Get(ctx, rec.ID())
		if err != nil {
			s.logger.Warn("importance cache lookup failed",
				zap.String("memory", rec.ID()), zap.Error(err))
		} else if ok && s.cfg.Scale.Contains(v) {
			v, _ = rec.SetImportance(v)
			return v, nil
		}
	}

	prompt, err := RenderPrompt(s.cfg.Template, rec.Content())
	if err != nil {
		return 0, err
	}

	attempts := s.cfg.MaxRetries + 1
	var last string
	for i := 1; i <= attempts; i++ {
		if err := ctx.Err(); err != nil {
			return 0, err
		}

		resp, err := s.gateway.Generate(ctx, prompt)
		if err != nil {
			var gwErr *GatewayError
			if errors.As(err, &gwErr) {
				return 0, err
			}
			return 0, &GatewayError{Err: err}
		}
		last = resp.Content

		v, err := s.parse(last)
		if err != nil {
			s.logger.Debug("unparseable importance reply",
				zap.String("memory", rec.ID()),
				zap.Int("attempt", i),
				zap.Error(err))
			continue
		}

		v, _ = rec.SetImportance(s.share(ctx, rec, v))
		s.logger.Debug("scored memory importance",
			zap.String("memory", rec.ID()),
			zap.Float64("importance", v),
			zap.Int("attempts", i))
		return v, nil
	}

	return 0, &ScoreParseError{Attempts: attempts, LastResponse: last}
}

// parse fails closed on scores outside the agreed scale.
func (s *PromptScorer) parse(text string) (float64, error) {
	v, err := ParseScore(text)
	if err != nil {
		return 0, err
	}
	if !s.cfg.Scale.Contains(v) {
		return 0, fmt.Errorf("%w: score %v outside [%v, %v]", ErrScoreParse, v, s.cfg.Scale.Min, s.cfg.Scale.Max)
	}
	return v, nil
}

// share publishes v to the shared cache and returns the value that won there.
func (s *PromptScorer) share(ctx context.Context, rec *Record, v float64) float64 {
	if s.cache == nil {
		return v
	}
	stored, err := s.cache.Put(ctx, rec.ID(), v)
	if err != nil {
		s.logger.Warn("importance cache write failed",
			zap.String("memory", rec.ID()), zap.Error(err))
		return v
	}
	if !s.cfg.Scale.Contains(stored) {
		return v
	}
	return stored
}
