package memory

import (
	"fmt"
	"math"
	"time"
)

// DefaultDecayFactor is the per-hour retention rate used for recency.
const DefaultDecayFactor = 0.99

// Recency scores how recent rec is at now with exponential decay:
// decayFactor ^ elapsedHours. It is 1.0 at creation time and falls towards 0.
func Recency(rec *Record, now time.Time, decayFactor float64) (float64, error) {
	if err := validateDecayFactor(decayFactor); err != nil {
		return 0, err
	}
	elapsed := now.Sub(rec.CreatedAt())
	if elapsed < 0 {
		return 0, fmt.Errorf("%w: memory %s created at %s, queried at %s",
			ErrInvalidTimeOrdering, rec.ID(), rec.CreatedAt().Format(time.RFC3339), now.Format(time.RFC3339))
	}
	return math.Pow(decayFactor, elapsed.Hours()), nil
}

func validateDecayFactor(f float64) error {
	// NaN fails both comparisons below.
	if !(f > 0 && f < 1) {
		return fmt.Errorf("%w: decay factor %v must be in (0, 1)", ErrInvalidConfiguration, f)
	}
	return nil
}
