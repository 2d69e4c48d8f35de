package evaluator

import (
	"context"

	"github.com/seantiz/hourglass/internal/searchspace"
)

// Evaluator is the interface that all candidate evaluators must implement.
type Evaluator interface {
	// Evaluate scores a candidate. Higher scores are better. The context
	// carries the deadline of the search phase; evaluators are expected to
	// return early once it is done.
	Evaluate(ctx context.Context, c searchspace.Candidate) (Result, error)

	// Info describes the evaluator.
	Info() Info
}

// Result holds the outcome of scoring one candidate.
type Result struct {
	Score  float64 `json:"score"`
	Detail string  `json:"detail,omitempty"`
}

// Info describes an evaluator.
type Info struct {
	Name        string `json:"name"`
	Description string `json:"description"`
	Metric      string `json:"metric"`
}
