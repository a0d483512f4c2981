package memory

import (
	"context"
	"errors"
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func newTestComposer(t *testing.T, gw Gateway, cfg ComposerConfig) *Composer {
	t.Helper()
	if cfg.Scale == (Scale{}) {
		cfg.Scale = testScale
	}
	c, err := NewComposer(newTestScorer(t, gw, 1), cfg, zap.NewNop())
	require.NoError(t, err)
	return c
}

func scored(t *testing.T, content string, at time.Time, importance float64) *Record {
	t.Helper()
	rec := mustRecord(t, content, at)
	rec.SetImportance(importance)
	return rec
}

func contents(ranked []Ranked) []string {
	out := make([]string, len(ranked))
	for i, r := range ranked {
		out[i] = r.Record.Content()
	}
	return out
}

func TestRetrieveTopKByImportance(t *testing.T) {
	c := newTestComposer(t, &fakeGateway{}, ComposerConfig{})
	records := []*Record{
		scored(t, "b", t0, 8),
		scored(t, "c", t0, 5),
		scored(t, "a", t0, 9),
	}

	ranked, err := c.Retrieve(context.Background(), records, t0, 2, Weights{Importance: 1})
	require.NoError(t, err)

	require.Len(t, ranked, 2)
	assert.Equal(t, []string{"a", "b"}, contents(ranked))
	assert.InDelta(t, 0.9, ranked[0].Score, 1e-12)
	assert.InDelta(t, 0.8, ranked[1].Score, 1e-12)
	assert.Equal(t, 9.0, ranked[0].Importance)
}

func TestRetrieveCompositeScore(t *testing.T) {
	c := newTestComposer(t, &fakeGateway{}, ComposerConfig{})
	rec := scored(t, "x", t0, 6)

	relevance := WithRelevance(func(*Record) float64 { return 0.25 })
	ranked, err := c.Retrieve(context.Background(), []*Record{rec}, t0.Add(time.Hour), 1,
		Weights{Recency: 2, Importance: 1, Relevance: 4}, relevance)
	require.NoError(t, err)

	r := ranked[0]
	assert.InDelta(t, 0.99, r.Recency, 1e-12)
	assert.Equal(t, 0.25, r.Relevance)
	assert.InDelta(t, 2*0.99+0.6+4*0.25, r.Score, 1e-12)
	assert.False(t, r.Fallback)
}

func TestRetrieveRecencyBreaksImportanceTies(t *testing.T) {
	c := newTestComposer(t, &fakeGateway{}, ComposerConfig{})
	records := []*Record{
		scored(t, "old", t0, 5),
		scored(t, "new", t0.Add(3*time.Hour), 5),
	}

	ranked, err := c.Retrieve(context.Background(), records, t0.Add(4*time.Hour), 2, DefaultWeights())
	require.NoError(t, err)
	assert.Equal(t, []string{"new", "old"}, contents(ranked))
}

func TestRetrieveTieBreaks(t *testing.T) {
	c := newTestComposer(t, &fakeGateway{}, ComposerConfig{})

	// Equal scores: the newer record wins.
	records := []*Record{
		scored(t, "older", t0, 5),
		scored(t, "newer", t0.Add(time.Minute), 5),
	}
	ranked, err := c.Retrieve(context.Background(), records, t0.Add(time.Hour), 2, Weights{Importance: 1})
	require.NoError(t, err)
	assert.Equal(t, []string{"newer", "older"}, contents(ranked))

	// Equal scores and timestamps: input order is kept.
	records = []*Record{
		scored(t, "first", t0, 5),
		scored(t, "second", t0, 5),
		scored(t, "third", t0, 5),
	}
	ranked, err = c.Retrieve(context.Background(), records, t0, 3, Weights{Importance: 1})
	require.NoError(t, err)
	assert.Equal(t, []string{"first", "second", "third"}, contents(ranked))
}

func TestRetrieveKLargerThanInput(t *testing.T) {
	c := newTestComposer(t, &fakeGateway{}, ComposerConfig{})
	records := []*Record{scored(t, "a", t0, 2), scored(t, "b", t0, 3)}

	ranked, err := c.Retrieve(context.Background(), records, t0, 10, DefaultWeights())
	require.NoError(t, err)
	assert.Len(t, ranked, 2)

	ranked, err = c.Retrieve(context.Background(), nil, t0, 10, DefaultWeights())
	require.NoError(t, err)
	assert.Empty(t, ranked)
}

func TestRetrieveRejectsInvalidArguments(t *testing.T) {
	c := newTestComposer(t, &fakeGateway{}, ComposerConfig{})
	records := []*Record{scored(t, "a", t0, 2)}

	for _, k := range []int{0, -3} {
		_, err := c.Retrieve(context.Background(), records, t0, k, DefaultWeights())
		assert.ErrorIs(t, err, ErrInvalidArgument, "k=%d", k)
	}

	for _, w := range []Weights{
		{Recency: -1, Importance: 1},
		{Importance: math.NaN()},
		{Relevance: math.Inf(1)},
	} {
		_, err := c.Retrieve(context.Background(), records, t0, 1, w)
		assert.ErrorIs(t, err, ErrInvalidArgument, "weights %+v", w)
	}

	_, err := c.Retrieve(context.Background(), []*Record{nil}, t0, 1, DefaultWeights())
	assert.ErrorIs(t, err, ErrInvalidArgument)
}

func TestRetrieveRejectsQueryBeforeCreation(t *testing.T) {
	c := newTestComposer(t, &fakeGateway{}, ComposerConfig{})
	records := []*Record{scored(t, "future", t0.Add(time.Hour), 2)}

	_, err := c.Retrieve(context.Background(), records, t0, 1, DefaultWeights())
	assert.ErrorIs(t, err, ErrInvalidTimeOrdering)
}

func TestRetrieveScoresUncachedRecords(t *testing.T) {
	gw := &fakeGateway{byPrompt: map[string]string{
		"wedding": "<10>",
		"laundry": "<1>",
	}}
	c := newTestComposer(t, gw, ComposerConfig{})
	wedding := mustRecord(t, "went to a wedding", t0)
	laundry := mustRecord(t, "did laundry", t0)

	ranked, err := c.Retrieve(context.Background(), []*Record{laundry, wedding}, t0, 2, Weights{Importance: 1})
	require.NoError(t, err)
	assert.Equal(t, []string{"went to a wedding", "did laundry"}, contents(ranked))

	v, ok := wedding.Importance()
	assert.True(t, ok)
	assert.Equal(t, 10.0, v)
	assert.EqualValues(t, 2, gw.calls.Load())
}

func TestRetrieveFallsBackToMidpoint(t *testing.T) {
	gw := &fakeGateway{byPrompt: map[string]string{
		"confusing": "I cannot rate that",
	}}
	c := newTestComposer(t, gw, ComposerConfig{})
	bad := mustRecord(t, "a confusing memory", t0)
	good := scored(t, "good", t0, 9)
	low := scored(t, "low", t0, 2)

	ranked, err := c.Retrieve(context.Background(), []*Record{low, bad, good}, t0, 3, Weights{Importance: 1})
	require.NoError(t, err)
	require.Len(t, ranked, 3)

	assert.Equal(t, []string{"good", "a confusing memory", "low"}, contents(ranked))
	assert.True(t, ranked[1].Fallback)
	assert.Equal(t, 5.5, ranked[1].Importance)

	_, ok := bad.Importance()
	assert.False(t, ok, "fallback must not be cached")
}

func TestRetrieveFallsBackOnGatewayError(t *testing.T) {
	gw := &fakeGateway{err: errors.New("503 from provider")}
	c := newTestComposer(t, gw, ComposerConfig{})

	ranked, err := c.Retrieve(context.Background(), []*Record{mustRecord(t, "x", t0)}, t0, 1, DefaultWeights())
	require.NoError(t, err)
	assert.True(t, ranked[0].Fallback)
}

func TestRetrieveFallsBackOnDeadline(t *testing.T) {
	gw := &fakeGateway{replies: []string{"<9>"}, delay: time.Second}
	c := newTestComposer(t, gw, ComposerConfig{Timeout: 30 * time.Millisecond})
	slow := mustRecord(t, "slow", t0)
	fast := scored(t, "fast", t0, 7)

	start := time.Now()
	ranked, err := c.Retrieve(context.Background(), []*Record{slow, fast}, t0, 2, Weights{Importance: 1})
	require.NoError(t, err)
	assert.Less(t, time.Since(start), 500*time.Millisecond)

	assert.Equal(t, []string{"fast", "slow"}, contents(ranked))
	assert.True(t, ranked[1].Fallback)
}

func TestRetrieveAbortsWhenGatewayUnavailable(t *testing.T) {
	gw := &fakeGateway{err: &GatewayError{Err: ErrGatewayUnavailable}}
	c := newTestComposer(t, gw, ComposerConfig{})
	records := []*Record{mustRecord(t, "a", t0), scored(t, "b", t0, 3)}

	_, err := c.Retrieve(context.Background(), records, t0, 2, DefaultWeights())
	assert.ErrorIs(t, err, ErrGatewayUnavailable)
}

func TestRetrieveBoundsConcurrency(t *testing.T) {
	gw := &fakeGateway{replies: []string{"<5>"}, delay: 20 * time.Millisecond}
	c := newTestComposer(t, gw, ComposerConfig{Concurrency: 2})

	records := make([]*Record, 6)
	for i := range records {
		records[i] = mustRecord(t, "x", t0)
	}
	ranked, err := c.Retrieve(context.Background(), records, t0, 6, DefaultWeights())
	require.NoError(t, err)
	assert.Len(t, ranked, 6)
	assert.EqualValues(t, 6, gw.calls.Load())
}

func TestNewComposerValidates(t *testing.T) {
	s := newTestScorer(t, &fakeGateway{}, 0)
	logger := zap.NewNop()

	_, err := NewComposer(nil, ComposerConfig{Scale: testScale}, logger)
	assert.ErrorIs(t, err, ErrConfiguration)

	_, err = NewComposer(s, ComposerConfig{Scale: testScale, DecayFactor: 1.2}, logger)
	assert.ErrorIs(t, err, ErrInvalidConfiguration)

	_, err = NewComposer(s, ComposerConfig{}, logger)
	assert.ErrorIs(t, err, ErrInvalidConfiguration)
}

func TestRetrieveRejectsNonFiniteRelevance(t *testing.T) {
	c := newTestComposer(t, &fakeGateway{}, ComposerConfig{})
	records := []*Record{scored(t, "a", t0, 2), scored(t, "b", t0, 3)}

	for _, rel := range []float64{math.NaN(), math.Inf(1), math.Inf(-1)} {
		_, err := c.Retrieve(context.Background(), records, t0, 2, DefaultWeights(),
			WithRelevance(func(*Record) float64 { return rel }))
		assert.ErrorIs(t, err, ErrInvalidArgument, "relevance %v", rel)
	}
}
