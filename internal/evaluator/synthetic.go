package evaluator

import (
	"context"
	"time"

	"github.com/cespare/xxhash/v2"

	"github.com/seantiz/hourglass/internal/searchspace"
)

// Synthetic scores candidates with a stable hash of their parameters and
// sleeps for Cost to simulate training. Identical candidates always get the
// same score.
type Synthetic struct {
	Cost time.Duration
}

var _ Evaluator = (*Synthetic)(nil)

// NewSynthetic returns a synthetic evaluator with the given simulated cost.
func NewSynthetic(cost time.Duration) *Synthetic {
	return &Synthetic{Cost: cost}
}

// Evaluate implements Evaluator.
func (s *Synthetic) Evaluate(ctx context.Context, c searchspace.Candidate) (Result, error) {
	if s.Cost > 0 {
		timer := time.NewTimer(s.Cost)
		defer timer.Stop()
		select {
		case <-timer.C:
		case <-ctx.Done():
			return Result{}, ctx.Err()
		}
	} else if err := ctx.Err(); err != nil {
		return Result{}, err
	}

	h := xxhash.Sum64String(c.String())
	return Result{Score: float64(h%1_000_000) / 1_000_000}, nil
}

// Info implements Evaluator.
func (s *Synthetic) Info() Info {
	return Info{
		Name:        DefaultName,
		Description: "deterministic hash-based score with simulated training cost",
		Metric:      "synthetic_accuracy",
	}
}
