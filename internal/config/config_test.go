package config

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/midnight-learners/generative-agents/internal/memory"
)

const minimal = `{
  "scoring": {"importance_min": 1, "importance_max": 10}
}`

func TestParseDefaults(t *testing.T) {
	cfg, err := Parse([]byte(minimal))
	require.NoError(t, err)

	assert.Equal(t, memory.Scale{Min: 1, Max: 10}, cfg.Scoring.Scale())
	assert.Equal(t, memory.DefaultMaxRetries, cfg.Scoring.Retries())
	assert.Equal(t, memory.DefaultWeights(), cfg.Scoring.RankingWeights())
	assert.Zero(t, cfg.Scoring.TimeoutDuration())
	assert.Zero(t, cfg.Database.Redis.TTL())
	assert.Equal(t, time.Second, cfg.World.Interval())
	assert.Equal(t, 1.0, cfg.World.SpeedOrDefault())

	now := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	assert.Equal(t, now, cfg.World.StartTime(now))
}

func TestParseExplicitZeroRetries(t *testing.T) {
	cfg, err := Parse([]byte(`{"scoring": {"importance_min": 0, "importance_max": 1, "max_retries": 0}}`))
	require.NoError(t, err)
	assert.Equal(t, 0, cfg.Scoring.Retries())
}

func TestParseSubstitutesEnv(t *testing.T) {
	t.Setenv("GA_TEST_DSN", "postgres://u:p@db/x")
	cfg, err := Parse([]byte(`{
  "scoring": {"importance_min": 1, "importance_max": 10},
  "database": {
    "backend": "postgres",
    "postgres": {"dsn": "${GA_TEST_DSN}", "migrations": "${GA_TEST_UNSET:migrations}"}
  }
}`))
	require.NoError(t, err)
	assert.Equal(t, "postgres://u:p@db/x", cfg.Database.Postgres.DSN)
	assert.Equal(t, "migrations", cfg.Database.Postgres.Migrations)
}

func TestValidateRejects(t *testing.T) {
	cases := map[string]string{
		"missing scale":   `{}`,
		"inverted scale":  `{"scoring": {"importance_min": 10, "importance_max": 1}}`,
		"negative retry":  `{"scoring": {"importance_min": 1, "importance_max": 10, "max_retries": -1}}`,
		"bad timeout":     `{"scoring": {"importance_min": 1, "importance_max": 10, "timeout": "soon"}}`,
		"unknown backend": `{"scoring": {"importance_min": 1, "importance_max": 10}, "database": {"backend": "mongo"}}`,
		"bad world start": `{"scoring": {"importance_min": 1, "importance_max": 10}, "world": {"start": "monday"}}`,
		"bad tick":        `{"scoring": {"importance_min": 1, "importance_max": 10}, "world": {"tick_interval": "-1s"}}`,
	}
	for name, data := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := Parse([]byte(data))
			assert.Error(t, err)
		})
	}
}

func TestLoadShippedConfig(t *testing.T) {
	t.Setenv("MEMORY_BACKEND", "memory")
	t.Setenv("WORLD_START", "")
	cfg, err := Load(filepath.Join("..", "..", "configs", "genagents.json"))
	require.NoError(t, err)

	assert.Equal(t, "memory", cfg.Database.Backend)
	assert.Equal(t, 30*time.Second, cfg.Gateway.BreakerTimeoutDuration())
	assert.Equal(t, 20*time.Second, cfg.Scoring.TimeoutDuration())
	assert.Equal(t, 168*time.Hour, cfg.Database.Redis.TTL())
	assert.Equal(t, 30*time.Second, cfg.Providers[0].TimeoutDuration())
	assert.Equal(t, time.Date(2023, 2, 13, 8, 0, 0, 0, time.UTC), cfg.World.StartTime(time.Now()))
}
