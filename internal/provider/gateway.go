package provider

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/sony/gobreaker"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/midnight-learners/generative-agents/internal/memory"
)

// BreakerConfig controls the gateway circuit breaker.
type BreakerConfig struct {
	MaxFailures          uint32        // consecutive failures that open the circuit (default 5)
	Timeout              time.Duration // how long the circuit stays open (default 30s)
	HalfOpenMaxSuccesses uint32        // trial requests while half-open (default 1)
}

// GatewayConfig controls how memory prompts are sent to the router.
type GatewayConfig struct {
	AgentID     string  // routing key passed to the router
	Model       string  // empty uses the provider's default
	MaxTokens   int     // default 64, scores are short
	Temperature float64
	RateLimit   float64 // requests per second, 0 disables limiting
	Burst       int
	Breaker     BreakerConfig
}

// Gateway adapts a Router to memory.Gateway. It rate limits calls and trips
// a circuit breaker after repeated failures, at which point it reports
// memory.ErrGatewayUnavailable.
type Gateway struct {
	router  *Router
	cfg     GatewayConfig
	limiter *rate.Limiter
	breaker *gobreaker.CircuitBreaker
	logger  *zap.Logger
}

var _ memory.Gateway = (*Gateway)(nil)

// NewGateway creates a gateway over router.
func NewGateway(router *Router, cfg GatewayConfig, logger *zap.Logger) *Gateway {
	if cfg.MaxTokens == 0 {
		cfg.MaxTokens = 64
	}
	if cfg.Breaker.MaxFailures == 0 {
		cfg.Breaker.MaxFailures = 5
	}
	if cfg.Breaker.Timeout == 0 {
		cfg.Breaker.Timeout = 30 * time.Second
	}
	if cfg.Breaker.HalfOpenMaxSuccesses == 0 {
		cfg.Breaker.HalfOpenMaxSuccesses = 1
	}

	g := &Gateway{router: router, cfg: cfg, logger: logger}
	if cfg.RateLimit > 0 {
		burst := cfg.Burst
		if burst <= 0 {
			burst = 1
		}
		g.limiter = rate.NewLimiter(rate.Limit(cfg.RateLimit), burst)
	}

	g.breaker = gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        "memory-gateway",
		MaxRequests: cfg.Breaker.HalfOpenMaxSuccesses,
		Timeout:     cfg.Breaker.Timeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= cfg.Breaker.MaxFailures
		},
		// A caller giving up is not a provider failure.
		IsSuccessful: func(err error) bool {
			return err == nil || errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded)
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logger.Warn("gateway circuit state changed",
				zap.String("breaker", name),
				zap.String("from", from.String()),
				zap.String("to", to.String()))
		},
	})
	return g
}

// Generate sends prompt as a single user message and returns the reply text.
func (g *Gateway) Generate(ctx context.Context, prompt string) (memory.Response, error) {
	if g.limiter != nil {
		if err := g.limiter.Wait(ctx); err != nil {
			return memory.Response{}, &memory.GatewayError{Err: fmt.Errorf("rate limit: %w", err)}
		}
	}

	req := &ChatRequest{
		Model:       g.cfg.Model,
		Messages:    []Message{{Role: "user", Content: prompt}},
		MaxTokens:   g.cfg.MaxTokens,
		Temperature: g.cfg.Temperature,
	}
	out, err := g.breaker.Execute(func() (interface{}, error) {
		return g.router.Route(ctx, g.cfg.AgentID, req)
	})
	if err != nil {
		if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
			return memory.Response{}, &memory.GatewayError{Err: fmt.Errorf("%w: %v", memory.ErrGatewayUnavailable, err)}
		}
		return memory.Response{}, &memory.GatewayError{Err: err}
	}
	return memory.Response{Content: out.(*ChatResponse).Content}, nil
}

// State reports the breaker state, e.g. for health endpoints.
func (g *Gateway) State() string {
	return g.breaker.State().String()
}
