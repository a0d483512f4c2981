package memory

import (
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRecency(t *testing.T) {
	rec := mustRecord(t, "x", t0)

	tests := []struct {
		name    string
		elapsed time.Duration
		want    float64
	}{
		{"at creation", 0, 1.0},
		{"one hour", time.Hour, 0.99},
		{"half hour", 30 * time.Minute, math.Sqrt(0.99)},
		{"one day", 24 * time.Hour, math.Pow(0.99, 24)},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := Recency(rec, t0.Add(tt.elapsed), DefaultDecayFactor)
			require.NoError(t, err)
			assert.InDelta(t, tt.want, got, 1e-12)
		})
	}
}

func TestRecencyOneHourAfterNewYear(t *testing.T) {
	created := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	rec := mustRecord(t, "x", created)

	got, err := Recency(rec, created.Add(time.Hour), 0.99)
	require.NoError(t, err)
	assert.Equal(t, 0.99, got)

	for _, f := range []float64{0.5, 0.99, 0.999999} {
		got, err := Recency(rec, created, f)
		require.NoError(t, err)
		assert.Equal(t, 1.0, got)
	}
}

func TestRecencyIsMonotonic(t *testing.T) {
	rec := mustRecord(t, "x", t0)

	prev := 1.0
	for h := 1; h <= 200; h += 7 {
		got, err := Recency(rec, t0.Add(time.Duration(h)*time.Hour), DefaultDecayFactor)
		require.NoError(t, err)
		assert.Less(t, got, prev)
		assert.Greater(t, got, 0.0)
		prev = got
	}
}

func TestRecencyRejectsQueryBeforeCreation(t *testing.T) {
	rec := mustRecord(t, "x", t0)

	_, err := Recency(rec, t0.Add(-time.Second), DefaultDecayFactor)
	assert.ErrorIs(t, err, ErrInvalidTimeOrdering)
}

func TestRecencyRejectsBadDecayFactor(t *testing.T) {
	rec := mustRecord(t, "x", t0)

	for _, f := range []float64{0, 1, -0.5, 1.5, math.NaN()} {
		_, err := Recency(rec, t0, f)
		assert.ErrorIs(t, err, ErrInvalidConfiguration, "decay %v", f)
	}
}
