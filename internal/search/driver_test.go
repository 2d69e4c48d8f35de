package search

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"

	"github.com/seantiz/hourglass/internal/evaluator"
	"github.com/seantiz/hourglass/internal/searchspace"
	"github.com/seantiz/hourglass/internal/timekeeper"
)

const driverTestSpace = `
algorithms:
  A:
    kind: classifier
    params:
      x: {range: [0, 100]}
  B:
    kind: classifier
    params:
      y: [red, green, blue]
`

// clockEvaluator advances a manual clock by step on every call and scores
// candidates by call count, so the best score is predictable.
type clockEvaluator struct {
	clock *timekeeper.ManualClock
	step  time.Duration
	err   error
	calls int
}

func (e *clockEvaluator) Evaluate(_ context.Context, _ searchspace.Candidate) (evaluator.Result, error) {
	e.calls++
	e.clock.Advance(e.step)
	if e.err != nil {
		return evaluator.Result{}, e.err
	}
	return evaluator.Result{Score: float64(e.calls%7) / 10}, nil
}

func (e *clockEvaluator) Info() evaluator.Info { return evaluator.Info{Name: "clock"} }

type fixture struct {
	clock  *timekeeper.ManualClock
	eval   *clockEvaluator
	driver *Driver
	logger *slog.Logger
}

func newFixture(t *testing.T, opts ...Option) *fixture {
	t.Helper()
	space, err := searchspace.Parse([]byte(driverTestSpace))
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	clock := timekeeper.NewManualClock(time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC))
	eval := &clockEvaluator{clock: clock, step: time.Second}
	logger := slog.New(slog.NewJSONHandler(io.Discard, nil))
	opts = append([]Option{WithClock(clock)}, opts...)
	return &fixture{
		clock:  clock,
		eval:   eval,
		driver: NewDriver(space, eval, logger, opts...),
		logger: logger,
	}
}

func (f *fixture) keeper(total time.Duration) *timekeeper.TimeKeeper {
	return timekeeper.New(total, timekeeper.WithClock(f.clock), timekeeper.WithLogger(f.logger))
}

func TestRunStopsAtSearchShareOfBudget(t *testing.T) {
	f := newFixture(t)
	k := f.keeper(100 * time.Second)

	report, err := f.driver.Run(context.Background(), k, Params{Seed: 7})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}

	if got := len(report.Evaluations); got != 90 {
		t.Errorf("evaluations = %d, want 90", got)
	}
	if report.StopReason != StopSearchLimit {
		t.Errorf("StopReason = %q, want %q", report.StopReason, StopSearchLimit)
	}

	wantPhases := []string{PhasePreprocessing, PhaseSearch, PhasePostprocess}
	if len(report.Phases) != len(wantPhases) {
		t.Fatalf("phases = %d, want %d", len(report.Phases), len(wantPhases))
	}
	for i, name := range wantPhases {
		if report.Phases[i].Name != name {
			t.Errorf("phase[%d] = %q, want %q", i, report.Phases[i].Name, name)
		}
	}
	if got := report.Phases[1].TimeLimit; got != 90*time.Second {
		t.Errorf("search limit = %v, want 90s", got)
	}
	if report.Phases[1].ExceededLimit {
		t.Error("search phase reported as exceeded; it stopped exactly at the limit")
	}

	remaining, err := k.TotalTimeRemaining()
	if err != nil {
		t.Fatalf("TotalTimeRemaining: %v", err)
	}
	if remaining != 10*time.Second {
		t.Errorf("remaining = %v, want 10s", remaining)
	}

	if report.Best == nil {
		t.Fatal("Best is nil")
	}
	if report.Best.Score != 0.6 || report.Best.Seq != 5 {
		t.Errorf("Best = seq %d score %v, want seq 5 score 0.6", report.Best.Seq, report.Best.Score)
	}
}

func TestRunMaxEvaluationsWithoutBudget(t *testing.T) {
	f := newFixture(t)
	k := f.keeper(0)

	report, err := f.driver.Run(context.Background(), k, Params{MaxEvaluations: 5})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if len(report.Evaluations) != 5 {
		t.Errorf("evaluations = %d, want 5", len(report.Evaluations))
	}
	if report.StopReason != StopMaxEvaluations {
		t.Errorf("StopReason = %q, want %q", report.StopReason, StopMaxEvaluations)
	}
	if _, ok := k.Activities()[1].TimeLimit(); ok {
		t.Error("search phase has a limit without budget or search limit")
	}
}

func TestRunSearchLimitWithoutBudget(t *testing.T) {
	f := newFixture(t)
	k := f.keeper(0)

	report, err := f.driver.Run(context.Background(), k, Params{SearchLimit: 5 * time.Second})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if len(report.Evaluations) != 5 {
		t.Errorf("evaluations = %d, want 5", len(report.Evaluations))
	}
	if report.StopReason != StopSearchLimit {
		t.Errorf("StopReason = %q, want %q", report.StopReason, StopSearchLimit)
	}
}

func TestRunSearchLimitTighterThanBudget(t *testing.T) {
	f := newFixture(t)
	k := f.keeper(time.Hour)

	report, err := f.driver.Run(context.Background(), k, Params{SearchLimit: 3 * time.Second})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if got := report.Phases[1].TimeLimit; got != 3*time.Second {
		t.Errorf("search limit = %v, want 3s", got)
	}
	if len(report.Evaluations) != 3 {
		t.Errorf("evaluations = %d, want 3", len(report.Evaluations))
	}
}

func TestRunOverrunningEvaluationExceedsLimit(t *testing.T) {
	f := newFixture(t)
	f.eval.step = 4 * time.Second
	k := f.keeper(0)

	report, err := f.driver.Run(context.Background(), k, Params{SearchLimit: 10 * time.Second})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	// 4s, 8s, 12s: the third evaluation overruns and the loop stops after it.
	if len(report.Evaluations) != 3 {
		t.Errorf("evaluations = %d, want 3", len(report.Evaluations))
	}
	if !report.Phases[1].ExceededLimit {
		t.Error("search phase not reported as exceeded")
	}
}

func TestRunValidation(t *testing.T) {
	tests := []struct {
		name   string
		total  time.Duration
		params Params
		want   error
	}{
		{"no criterion", 0, Params{}, ErrNoStoppingCriterion},
		{"negative limit", time.Minute, Params{SearchLimit: -time.Second}, ErrInvalidParams},
		{"negative cap", time.Minute, Params{MaxEvaluations: -1}, ErrInvalidParams},
		{"fraction too large", time.Minute, Params{PostprocessFraction: 1}, ErrInvalidParams},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t)
			k := f.keeper(tt.total)
			report, err := f.driver.Run(context.Background(), k, tt.params)
			if !errors.Is(err, tt.want) {
				t.Fatalf("Run error = %v, want %v", err, tt.want)
			}
			if len(report.Phases) != 0 {
				t.Errorf("phases = %d, want 0", len(report.Phases))
			}
		})
	}
}

func TestRunUnknownAlgorithm(t *testing.T) {
	f := newFixture(t)
	k := f.keeper(time.Minute)

	report, err := f.driver.Run(context.Background(), k, Params{Algorithms: []string{"Nope"}})
	if !errors.Is(err, ErrInvalidParams) {
		t.Fatalf("Run error = %v, want ErrInvalidParams", err)
	}
	if len(report.Phases) != 1 || report.Phases[0].Name != PhasePreprocessing {
		t.Errorf("phases = %+v, want only preprocessing", report.Phases)
	}
}

func TestRunRestrictsAlgorithms(t *testing.T) {
	f := newFixture(t)
	k := f.keeper(0)

	report, err := f.driver.Run(context.Background(), k, Params{Algorithms: []string{"B"}, MaxEvaluations: 10})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	for _, e := range report.Evaluations {
		if e.Candidate.Algorithm != "B" {
			t.Errorf("sampled %q, want only B", e.Candidate.Algorithm)
		}
	}
}

func TestRunCancelled(t *testing.T) {
	f := newFixture(t)
	k := f.keeper(0)

	ctx, cancel := context.WithCancel(context.Background())
	calls := 0
	f.driver.onEvaluation = func(EvaluationRecord) {
		calls++
		if calls == 3 {
			cancel()
		}
	}

	report, err := f.driver.Run(ctx, k, Params{MaxEvaluations: 100})
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("Run error = %v, want context.Canceled", err)
	}
	if len(report.Evaluations) != 3 {
		t.Errorf("evaluations = %d, want 3", len(report.Evaluations))
	}
	if _, err := k.CurrentActivityTimeElapsed(); !errors.Is(err, timekeeper.ErrRuntimeUnavailable) {
		t.Error("keeper still has a current activity after cancellation")
	}
}

func TestRunAllEvaluationsFail(t *testing.T) {
	f := newFixture(t)
	f.eval.err = errors.New("training diverged")
	k := f.keeper(0)

	report, err := f.driver.Run(context.Background(), k, Params{MaxEvaluations: 4})
	if !errors.Is(err, ErrNoResults) {
		t.Fatalf("Run error = %v, want ErrNoResults", err)
	}
	if len(report.Evaluations) != 4 {
		t.Errorf("evaluations = %d, want 4", len(report.Evaluations))
	}
	for _, e := range report.Evaluations {
		if e.Err == nil {
			t.Error("evaluation recorded without its error")
		}
	}
	if len(report.Phases) != 3 {
		t.Errorf("phases = %d, want 3", len(report.Phases))
	}
}

func TestEvaluationHookAndDurations(t *testing.T) {
	var seen []EvaluationRecord
	f := newFixture(t, WithEvaluationHook(func(r EvaluationRecord) { seen = append(seen, r) }))
	k := f.keeper(0)

	if _, err := f.driver.Run(context.Background(), k, Params{MaxEvaluations: 3}); err != nil {
		t.Fatalf("Run: %v", err)
	}
	if len(seen) != 3 {
		t.Fatalf("hook saw %d evaluations, want 3", len(seen))
	}
	for i, r := range seen {
		if r.Seq != i {
			t.Errorf("seen[%d].Seq = %d", i, r.Seq)
		}
		if r.Duration != time.Second {
			t.Errorf("seen[%d].Duration = %v, want 1s", i, r.Duration)
		}
	}
}

func TestSearchLimitExhaustedBudget(t *testing.T) {
	f := newFixture(t)
	k := f.keeper(10 * time.Second)

	if err := k.StartActivity("overrun", timekeeper.NoLimit, func(*timekeeper.Activity) error {
		f.clock.Advance(12 * time.Second)
		return nil
	}); err != nil {
		t.Fatalf("StartActivity: %v", err)
	}

	if got := searchLimit(k, Params{}); got != time.Nanosecond {
		t.Errorf("searchLimit = %v, want 1ns", got)
	}
}

func TestRunExhaustedBudgetReportsTotalBudget(t *testing.T) {
	space, err := searchspace.Parse([]byte(driverTestSpace))
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	logger := slog.New(slog.NewJSONHandler(io.Discard, nil))
	eval := &clockEvaluator{clock: timekeeper.NewManualClock(time.Now())}
	d := NewDriver(space, eval, logger)

	// On the real clock preprocessing alone uses up a 1ns budget, so the
	// search starts with a 1ns limit that has already passed as well.
	k := timekeeper.New(time.Nanosecond, timekeeper.WithLogger(logger))
	report, err := d.Run(context.Background(), k, Params{Seed: 1})
	if !errors.Is(err, ErrNoResults) {
		t.Fatalf("Run error = %v, want ErrNoResults", err)
	}
	if report.StopReason != StopTotalBudget {
		t.Errorf("StopReason = %q, want %q", report.StopReason, StopTotalBudget)
	}
	if eval.calls != 0 {
		t.Errorf("evaluator called %d times, want 0", eval.calls)
	}
}

func TestSearchLimitCustomFraction(t *testing.T) {
	f := newFixture(t)
	k := f.keeper(100 * time.Second)

	if got := searchLimit(k, Params{PostprocessFraction: 0.25}); got != 75*time.Second {
		t.Errorf("searchLimit = %v, want 75s", got)
	}
}

func TestPhaseSpans(t *testing.T) {
	sr := tracetest.NewSpanRecorder()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(sr))
	t.Cleanup(func() { _ = tp.Shutdown(context.Background()) })

	f := newFixture(t, WithTracer(tp.Tracer("test")))
	k := f.keeper(0)
	if _, err := f.driver.Run(context.Background(), k, Params{SearchLimit: 2 * time.Second}); err != nil {
		t.Fatalf("Run: %v", err)
	}

	spans := sr.Ended()
	want := []string{"phase.preprocessing", "phase.search", "phase.postprocess"}
	if len(spans) != len(want) {
		t.Fatalf("ended spans = %d, want %d", len(spans), len(want))
	}
	for i, name := range want {
		if spans[i].Name() != name {
			t.Errorf("span[%d] = %q, want %q", i, spans[i].Name(), name)
		}
	}

	var limit float64
	for _, kv := range spans[1].Attributes() {
		if kv.Key == "hourglass.time_limit_s" {
			limit = kv.Value.AsFloat64()
		}
	}
	if limit != 2 {
		t.Errorf("search span time limit = %v, want 2", limit)
	}
}
