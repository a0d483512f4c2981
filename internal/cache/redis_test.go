package cache

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	tcredis "github.com/testcontainers/testcontainers-go/modules/redis"
	"go.uber.org/zap"

	"github.com/midnight-learners/generative-agents/internal/memory"
)

func dialTestCache(t *testing.T, ttl time.Duration) *ImportanceCache {
	t.Helper()
	if testing.Short() {
		t.Skip("skipping Redis integration test in short mode")
	}
	ctx := context.Background()
	container, err := tcredis.Run(ctx, "redis:7-alpine")
	if err != nil {
		t.Skipf("redis container unavailable: %v", err)
	}
	t.Cleanup(func() { container.Terminate(ctx) })

	endpoint, err := container.Endpoint(ctx, "")
	require.NoError(t, err)

	c, err := Dial(ctx, "redis://"+endpoint, ttl)
	require.NoError(t, err)
	t.Cleanup(func() { c.Close() })
	return c
}

func TestImportanceCacheFirstWriteWins(t *testing.T) {
	c := dialTestCache(t, 0)
	ctx := context.Background()

	_, ok, err := c.Get(ctx, "m-1")
	require.NoError(t, err)
	assert.False(t, ok)

	v, err := c.Put(ctx, "m-1", 7)
	require.NoError(t, err)
	assert.Equal(t, 7.0, v)

	v, err = c.Put(ctx, "m-1", 3)
	require.NoError(t, err)
	assert.Equal(t, 7.0, v, "existing value must win")

	v, ok, err = c.Get(ctx, "m-1")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, 7.0, v)
}

func TestImportanceCacheTTL(t *testing.T) {
	c := dialTestCache(t, time.Second)
	ctx := context.Background()

	_, err := c.Put(ctx, "m-2", 4)
	require.NoError(t, err)

	ttl, err := c.rdb.TTL(ctx, keyPrefix+"m-2").Result()
	require.NoError(t, err)
	assert.Greater(t, ttl, time.Duration(0))
}

func TestImportanceCacheSharesScoresAcrossScorers(t *testing.T) {
	c := dialTestCache(t, 0)
	ctx := context.Background()

	rec, err := memory.NewRecord("a", "moved to a new town", memory.Observation, time.Now())
	require.NoError(t, err)

	first := newScorer(t, "<9>")
	first.SetCache(c)
	v, err := first.Score(ctx, rec)
	require.NoError(t, err)
	assert.Equal(t, 9.0, v)

	// A second process sees the same id without a cached score on its copy.
	copyRec, err := memory.Restore(rec.ID(), rec.AgentID(), rec.Content(), rec.Type(), rec.CreatedAt(), nil)
	require.NoError(t, err)
	second := newScorer(t, "<1>")
	second.SetCache(c)
	v, err = second.Score(ctx, copyRec)
	require.NoError(t, err)
	assert.Equal(t, 9.0, v)
}

type constGateway string

func (g constGateway) Generate(context.Context, string) (memory.Response, error) {
	return memory.Response{Content: string(g)}, nil
}

func newScorer(t *testing.T, reply string) *memory.PromptScorer {
	t.Helper()
	s, err := memory.NewPromptScorer(constGateway(reply), memory.ScorerConfig{
		Template: "Rate: {}",
		Scale:    memory.Scale{Min: 1, Max: 10},
	}, zap.NewNop())
	require.NoError(t, err)
	return s
}
