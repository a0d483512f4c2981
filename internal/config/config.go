package config

import (
	"encoding/json"
	"fmt"
	"os"
	"regexp"
	"time"

	"github.com/midnight-learners/generative-agents/internal/memory"
)

// Config is the top-level configuration structure.
type Config struct {
	Server      ServerConfig     `json:"server"`
	Providers   []ProviderConfig `json:"providers"`
	Gateway     GatewayConfig    `json:"gateway"`
	Scoring     ScoringConfig    `json:"scoring"`
	Database    DatabaseConfig   `json:"database"`
	World       WorldConfig      `json:"world"`
	PromptsPath string           `json:"prompts_path"`
}

// WorldConfig drives the simulated clock that timestamps new memories.
type WorldConfig struct {
	Start        string  `json:"start"` // RFC 3339, empty starts at wall-clock time
	TickInterval string  `json:"tick_interval"`
	Speed        float64 `json:"speed"`
}

type ServerConfig struct {
	Port     int    `json:"port"`
	LogLevel string `json:"log_level"`
}

type ProviderConfig struct {
	ID       string   `json:"id"`
	Type     string   `json:"type"`
	Name     string   `json:"name"`
	Endpoint string   `json:"endpoint"`
	APIKey   string   `json:"api_key"`
	Models   []string `json:"models,omitempty"`
	Timeout  string   `json:"timeout,omitempty"`
}

// GatewayConfig controls how importance prompts reach the providers.
type GatewayConfig struct {
	AgentID            string  `json:"agent_id"`
	Model              string  `json:"model"`
	RateLimit          float64 `json:"rate_limit"`
	Burst              int     `json:"burst"`
	BreakerMaxFailures uint32  `json:"breaker_max_failures"`
	BreakerTimeout     string  `json:"breaker_timeout"`
}

// ScoringConfig holds recency, importance and ranking settings.
// The importance range has no default and must be set.
type ScoringConfig struct {
	DecayFactor   float64         `json:"decay_factor"`
	ImportanceMin float64         `json:"importance_min"`
	ImportanceMax float64         `json:"importance_max"`
	MaxRetries    *int            `json:"max_retries"`
	Concurrency   int             `json:"concurrency"`
	Timeout       string          `json:"timeout"`
	Weights       *memory.Weights `json:"weights"`
	Eager         bool            `json:"eager"`
	EagerWorkers  int             `json:"eager_workers"`
}

type DatabaseConfig struct {
	Backend  string         `json:"backend"` // "postgres", "neo4j" or "memory"
	Postgres PostgresConfig `json:"postgres"`
	Neo4j    Neo4jConfig    `json:"neo4j"`
	Redis    RedisConfig    `json:"redis"`
}

type PostgresConfig struct {
	DSN        string `json:"dsn"`
	Migrations string `json:"migrations"`
}

type Neo4jConfig struct {
	URI      string `json:"uri"`
	User     string `json:"user"`
	Password string `json:"password"`
}

type RedisConfig struct {
	URL      string `json:"url"`
	CacheTTL string `json:"cache_ttl"`
}

// envVarRe matches ${VAR} and ${VAR:default} patterns.
var envVarRe = regexp.MustCompile(`\$\{(\w+)(?::([^}]*))?\}`)

// Load reads a JSON config file, substitutes environment variable
// references and validates the result.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config %s: %w", path, err)
	}
	cfg, err := Parse(data)
	if err != nil {
		return nil, fmt.Errorf("config %s: %w", path, err)
	}
	return cfg, nil
}

// Parse decodes config data after environment substitution.
func Parse(data []byte) (*Config, error) {
	resolved := envVarRe.ReplaceAllStringFunc(string(data), func(match string) string {
		parts := envVarRe.FindStringSubmatch(match)
		if v := os.Getenv(parts[1]); v != "" {
			return v
		}
		return parts[2]
	})

	var cfg Config
	if err := json.Unmarshal([]byte(resolved), &cfg); err != nil {
		return nil, fmt.Errorf("parse: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate rejects configurations the scoring core cannot run with.
func (c *Config) Validate() error {
	if err := c.Scoring.Scale().Validate(); err != nil {
		return fmt.Errorf("scoring: %w", err)
	}
	if c.Scoring.MaxRetries != nil && *c.Scoring.MaxRetries < 0 {
		return fmt.Errorf("scoring: %w: max_retries must be >= 0", memory.ErrConfiguration)
	}
	if _, err := parseDuration(c.Scoring.Timeout); err != nil {
		return fmt.Errorf("scoring.timeout: %w", err)
	}
	if _, err := parseDuration(c.Gateway.BreakerTimeout); err != nil {
		return fmt.Errorf("gateway.breaker_timeout: %w", err)
	}
	for _, p := range c.Providers {
		if _, err := parseDuration(p.Timeout); err != nil {
			return fmt.Errorf("provider %s timeout: %w", p.ID, err)
		}
	}
	if _, err := parseDuration(c.Database.Redis.CacheTTL); err != nil {
		return fmt.Errorf("database.redis.cache_ttl: %w", err)
	}
	if c.World.Start != "" {
		if _, err := time.Parse(time.RFC3339, c.World.Start); err != nil {
			return fmt.Errorf("world.start: %w", err)
		}
	}
	if d, err := parseDuration(c.World.TickInterval); err != nil || d < 0 {
		return fmt.Errorf("%w: world.tick_interval %q", memory.ErrConfiguration, c.World.TickInterval)
	}
	if c.World.Speed < 0 {
		return fmt.Errorf("%w: world.speed must be >= 0", memory.ErrConfiguration)
	}
	switch c.Database.Backend {
	case "", "memory", "postgres", "neo4j":
	default:
		return fmt.Errorf("%w: unknown database backend %q", memory.ErrConfiguration, c.Database.Backend)
	}
	return nil
}

// Scale returns the configured importance range.
func (s ScoringConfig) Scale() memory.Scale {
	return memory.Scale{Min: s.ImportanceMin, Max: s.ImportanceMax}
}

// Retries returns max_retries, defaulting to memory.DefaultMaxRetries.
func (s ScoringConfig) Retries() int {
	if s.MaxRetries == nil {
		return memory.DefaultMaxRetries
	}
	return *s.MaxRetries
}

// TimeoutDuration returns the per-retrieval deadline, 0 when unset.
func (s ScoringConfig) TimeoutDuration() time.Duration {
	d, _ := parseDuration(s.Timeout)
	return d
}

// RankingWeights returns the configured weights or memory.DefaultWeights.
func (s ScoringConfig) RankingWeights() memory.Weights {
	if s.Weights == nil {
		return memory.DefaultWeights()
	}
	return *s.Weights
}

// BreakerTimeoutDuration returns the open-circuit duration, 0 when unset.
func (g GatewayConfig) BreakerTimeoutDuration() time.Duration {
	d, _ := parseDuration(g.BreakerTimeout)
	return d
}

// TimeoutDuration returns the HTTP timeout for the provider, 0 when unset.
func (p ProviderConfig) TimeoutDuration() time.Duration {
	d, _ := parseDuration(p.Timeout)
	return d
}

// StartTime returns the configured world start, or now when unset.
func (w WorldConfig) StartTime(now time.Time) time.Time {
	if t, err := time.Parse(time.RFC3339, w.Start); err == nil {
		return t
	}
	return now
}

// Interval returns the tick interval, default one second.
func (w WorldConfig) Interval() time.Duration {
	if d, _ := parseDuration(w.TickInterval); d > 0 {
		return d
	}
	return time.Second
}

// SpeedOrDefault returns the time multiplier, default realtime.
func (w WorldConfig) SpeedOrDefault() float64 {
	if w.Speed == 0 {
		return 1.0
	}
	return w.Speed
}

// TTL returns the importance cache entry lifetime, 0 meaning no expiry.
func (r RedisConfig) TTL() time.Duration {
	d, _ := parseDuration(r.CacheTTL)
	return d
}

func parseDuration(s string) (time.Duration, error) {
	if s == "" {
		return 0, nil
	}
	return time.ParseDuration(s)
}
