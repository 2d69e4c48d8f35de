package evaluator_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/seantiz/hourglass/internal/evaluator"
	"github.com/seantiz/hourglass/internal/searchspace"
)

func TestSyntheticDeterministic(t *testing.T) {
	e := evaluator.NewSynthetic(0)
	c := searchspace.Candidate{Algorithm: "SVC", Params: map[string]any{"C": 1.0, "kernel": "rbf"}}

	r1, err := e.Evaluate(context.Background(), c)
	if err != nil {
		t.Fatalf("Evaluate: %v", err)
	}
	r2, err := e.Evaluate(context.Background(), c)
	if err != nil {
		t.Fatalf("Evaluate: %v", err)
	}
	if r1.Score != r2.Score {
		t.Errorf("scores differ for identical candidates: %v vs %v", r1.Score, r2.Score)
	}
	if r1.Score < 0 || r1.Score >= 1 {
		t.Errorf("score = %v, want in [0, 1)", r1.Score)
	}
}

func TestSyntheticHonorsCost(t *testing.T) {
	e := evaluator.NewSynthetic(20 * time.Millisecond)
	start := time.Now()
	if _, err := e.Evaluate(context.Background(), searchspace.Candidate{Algorithm: "GaussianNB"}); err != nil {
		t.Fatalf("Evaluate: %v", err)
	}
	if d := time.Since(start); d < 20*time.Millisecond {
		t.Errorf("Evaluate returned after %v, want >= 20ms", d)
	}
}

func TestSyntheticCancelled(t *testing.T) {
	e := evaluator.NewSynthetic(5 * time.Second)
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()

	start := time.Now()
	_, err := e.Evaluate(ctx, searchspace.Candidate{Algorithm: "GaussianNB"})
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("Evaluate error = %v, want DeadlineExceeded", err)
	}
	if d := time.Since(start); d > time.Second {
		t.Errorf("Evaluate ignored cancellation, took %v", d)
	}
}

func TestSyntheticCancelledWithoutCost(t *testing.T) {
	e := evaluator.NewSynthetic(0)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	if _, err := e.Evaluate(ctx, searchspace.Candidate{Algorithm: "GaussianNB"}); !errors.Is(err, context.Canceled) {
		t.Errorf("Evaluate error = %v, want Canceled", err)
	}
}
