package provider

import (
	"context"
	"fmt"
	"sync"

	"go.uber.org/zap"
)

// Router picks a provider per agent and walks a fallback chain on failure.
type Router struct {
	providers map[string]Provider
	bindings  map[string]string   // agentID -> providerID
	fallbacks map[string][]string // agentID -> fallback provider chain
	defaults  string
	mu        sync.RWMutex
	logger    *zap.Logger
}

// NewRouter creates an empty router.
func NewRouter(logger *zap.Logger) *Router {
	return &Router{
		providers: make(map[string]Provider),
		bindings:  make(map[string]string),
		fallbacks: make(map[string][]string),
		logger:    logger,
	}
}

// Register adds a provider. The first one registered becomes the default.
func (r *Router) Register(p Provider) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.providers[p.ID()] = p
	if r.defaults == "" {
		r.defaults = p.ID()
	}
	r.logger.Info("registered provider", zap.String("id", p.ID()), zap.String("name", p.Name()))
}

// SetDefault sets the default provider.
func (r *Router) SetDefault(providerID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.defaults = providerID
}

// Bind routes an agent's requests to a specific provider.
func (r *Router) Bind(agentID, providerID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.bindings[agentID] = providerID
}

// SetFallbacks configures the providers tried after the primary fails.
func (r *Router) SetFallbacks(agentID string, providerIDs []string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.fallbacks[agentID] = providerIDs
}

// Route sends req to the agent's provider, then to its fallbacks in order.
func (r *Router) Route(ctx context.Context, agentID string, req *ChatRequest) (*ChatResponse, error) {
	r.mu.RLock()
	chain := r.chain(agentID)
	r.mu.RUnlock()

	if len(chain) == 0 {
		return nil, fmt.Errorf("no provider available for agent %q", agentID)
	}

	var err error
	for i, p := range chain {
		var resp *ChatResponse
		resp, err = p.Chat(ctx, req)
		if err == nil {
			return resp, nil
		}
		if ctx.Err() != nil {
			return nil, err
		}
		r.logger.Warn("provider failed",
			zap.String("agent", agentID),
			zap.String("provider", p.ID()),
			zap.Bool("fallback", i > 0),
			zap.Error(err))
	}
	return nil, fmt.Errorf("all providers failed for agent %q: %w", agentID, err)
}

// chain returns the primary provider followed by the agent's fallbacks.
func (r *Router) chain(agentID string) []Provider {
	var out []Provider
	primary := r.defaults
	if pid, ok := r.bindings[agentID]; ok {
		if _, ok := r.providers[pid]; ok {
			primary = pid
		}
	}
	if p, ok := r.providers[primary]; ok {
		out = append(out, p)
	}
	for _, id := range r.fallbacks[agentID] {
		if p, ok := r.providers[id]; ok && id != primary {
			out = append(out, p)
		}
	}
	return out
}

// GetProvider returns a provider by ID.
func (r *Router) GetProvider(id string) (Provider, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	p, ok := r.providers[id]
	return p, ok
}

// ListProviders returns all registered providers.
func (r *Router) ListProviders() []Provider {
	r.mu.RLock()
	defer r.mu.RUnlock()
	result := make([]Provider, 0, len(r.providers))
	for _, p := range r.providers {
		result = append(result, p)
	}
	return result
}
