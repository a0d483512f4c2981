package memory

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var t0 = time.Date(2023, 2, 13, 9, 0, 0, 0, time.UTC)

func mustRecord(t *testing.T, content string, at time.Time) *Record {
	t.Helper()
	rec, err := NewRecord("isabella", content, Observation, at)
	require.NoError(t, err)
	return rec
}

func TestFromCode(t *testing.T) {
	for code, want := range map[int]MemoryType{1: Observation, 2: Reflection, 3: Plan} {
		got, err := FromCode(code)
		require.NoError(t, err)
		assert.Equal(t, want, got)
		assert.Equal(t, code, got.Code())
	}

	for _, code := range []int{0, 4, -1} {
		_, err := FromCode(code)
		assert.ErrorIs(t, err, ErrInvalidTypeCode, "code %d", code)
	}
}

func TestMemoryTypeString(t *testing.T) {
	assert.Equal(t, "Observation", Observation.String())
	assert.Equal(t, "Reflection", Reflection.String())
	assert.Equal(t, "Plan", Plan.String())
}

func TestNewRecord(t *testing.T) {
	rec := mustRecord(t, "Isabella is opening the cafe", t0)

	assert.NotEmpty(t, rec.ID())
	assert.Equal(t, "isabella", rec.AgentID())
	assert.Equal(t, "Isabella is opening the cafe", rec.Content())
	assert.Equal(t, Observation, rec.Type())
	assert.True(t, rec.CreatedAt().Equal(t0))

	_, ok := rec.Importance()
	assert.False(t, ok, "new records are unscored")

	other := mustRecord(t, "Isabella is opening the cafe", t0)
	assert.NotEqual(t, rec.ID(), other.ID())
}

func TestNewRecordRejectsInvalidInput(t *testing.T) {
	_, err := NewRecord("a", "", Observation, t0)
	assert.ErrorIs(t, err, ErrInvalidArgument)

	_, err = NewRecord("a", "x", Observation, time.Time{})
	assert.ErrorIs(t, err, ErrInvalidArgument)

	_, err = NewRecord("a", "x", MemoryType(7), t0)
	assert.ErrorIs(t, err, ErrInvalidTypeCode)
}

func TestRestoreKeepsImportance(t *testing.T) {
	score := 6.0
	rec, err := Restore("m-1", "klaus", "wrote a paper", Reflection, t0, &score)
	require.NoError(t, err)

	assert.Equal(t, "m-1", rec.ID())
	v, ok := rec.Importance()
	assert.True(t, ok)
	assert.Equal(t, 6.0, v)
}

func TestSetImportanceFirstWriteWins(t *testing.T) {
	rec := mustRecord(t, "x", t0)

	v, stored := rec.SetImportance(4)
	assert.True(t, stored)
	assert.Equal(t, 4.0, v)

	v, stored = rec.SetImportance(9)
	assert.False(t, stored)
	assert.Equal(t, 4.0, v)

	rec.InvalidateImportance()
	_, ok := rec.Importance()
	assert.False(t, ok)

	v, stored = rec.SetImportance(9)
	assert.True(t, stored)
	assert.Equal(t, 9.0, v)
}

func TestSetImportanceConcurrent(t *testing.T) {
	rec := mustRecord(t, "x", t0)

	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		winners int
	)
	for i := 1; i <= 20; i++ {
		wg.Add(1)
		go func(score float64) {
			defer wg.Done()
			if _, stored := rec.SetImportance(score); stored {
				mu.Lock()
				winners++
				mu.Unlock()
			}
		}(float64(i % 10))
	}
	wg.Wait()

	assert.Equal(t, 1, winners)
}

func TestRecordString(t *testing.T) {
	rec, err := NewRecord("a", "planning a party", Plan, t0)
	require.NoError(t, err)
	assert.Equal(t, "[Plan] 2023-02-13 09:00:00 planning a party", rec.String())
}
