package search

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/rand/v2"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/seantiz/hourglass/internal/evaluator"
	"github.com/seantiz/hourglass/internal/searchspace"
	"github.com/seantiz/hourglass/internal/timekeeper"
)

// Phase names, in execution order.
const (
	PhasePreprocessing = "preprocessing"
	PhaseSearch        = "search"
	PhasePostprocess   = "postprocess"
)

// Reasons the search loop stopped.
const (
	StopMaxEvaluations = "max_evaluations"
	StopSearchLimit    = "search_time_limit"
	StopTotalBudget    = "total_budget"
)

// DefaultPostprocessFraction is the share of the remaining total budget held
// back from the search phase for postprocessing.
const DefaultPostprocessFraction = 0.1

const tracerName = "github.com/seantiz/hourglass/internal/search"

var (
	// ErrNoStoppingCriterion is returned when a run has neither a total
	// budget, a search limit nor an evaluation cap.
	ErrNoStoppingCriterion = errors.New("search: no stopping criterion")

	// ErrInvalidParams is returned for out-of-range run parameters.
	ErrInvalidParams = errors.New("search: invalid parameters")

	// ErrNoResults is returned when no candidate was scored successfully.
	ErrNoResults = errors.New("search: no candidate evaluated successfully")
)

// Params configures one search run.
type Params struct {
	// Algorithms restricts sampling to these names. Empty means all.
	Algorithms []string
	// SearchLimit caps the search phase. With a total budget the tighter of
	// the two applies.
	SearchLimit time.Duration
	// MaxEvaluations caps the number of evaluations. Zero means no cap.
	MaxEvaluations int
	// Seed makes candidate sampling reproducible.
	Seed int64
	// PostprocessFraction overrides DefaultPostprocessFraction when > 0.
	PostprocessFraction float64
}

// EvaluationRecord is the outcome of scoring one candidate.
type EvaluationRecord struct {
	Seq       int
	Candidate searchspace.Candidate
	Score     float64
	Err       error
	Duration  time.Duration
	StartedAt time.Time
}

// PhaseRecord summarizes one finished activity of a run.
type PhaseRecord struct {
	Name          string
	TimeLimit     time.Duration
	Elapsed       time.Duration
	ExceededLimit bool
	StartedAt     time.Time
}

// Report is the result of a search run.
type Report struct {
	Phases      []PhaseRecord
	Evaluations []EvaluationRecord
	Best        *EvaluationRecord
	StopReason  string
}

// Option configures a Driver.
type Option func(*Driver)

// WithTracer sets the tracer used for phase spans.
func WithTracer(t trace.Tracer) Option {
	return func(d *Driver) { d.tracer = t }
}

// WithEvaluationHook registers fn to be called after every evaluation.
func WithEvaluationHook(fn func(EvaluationRecord)) Option {
	return func(d *Driver) { d.onEvaluation = fn }
}

// WithClock sets the time source for evaluation stopwatches.
func WithClock(c timekeeper.Clock) Option {
	return func(d *Driver) { d.clock = c }
}

// Driver runs searches over a space with one evaluator.
type Driver struct {
	space        *searchspace.Space
	eval         evaluator.Evaluator
	logger       *slog.Logger
	tracer       trace.Tracer
	clock        timekeeper.Clock
	onEvaluation func(EvaluationRecord)
}

// NewDriver creates a search driver.
func NewDriver(space *searchspace.Space, eval evaluator.Evaluator, logger *slog.Logger, opts ...Option) *Driver {
	d := &Driver{
		space:  space,
		eval:   eval,
		logger: logger,
		tracer: otel.Tracer(tracerName),
		clock:  timekeeper.RealClock{},
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// Validate checks p against the keeper's budget without running anything.
func Validate(keeper *timekeeper.TimeKeeper, p Params) error {
	if p.SearchLimit < 0 || p.MaxEvaluations < 0 {
		return fmt.Errorf("%w: negative search limit or evaluation cap", ErrInvalidParams)
	}
	if p.PostprocessFraction < 0 || p.PostprocessFraction >= 1 {
		return fmt.Errorf("%w: postprocess fraction %v outside [0, 1)", ErrInvalidParams, p.PostprocessFraction)
	}
	if _, ok := keeper.TotalTime(); !ok && p.SearchLimit == 0 && p.MaxEvaluations == 0 {
		return ErrNoStoppingCriterion
	}
	return nil
}

// Run executes the preprocessing, search and postprocess phases on keeper.
// The returned report is non-nil even on error and holds every phase that
// started.
func (d *Driver) Run(ctx context.Context, keeper *timekeeper.TimeKeeper, p Params) (*Report, error) {
	report := &Report{}
	defer func() { report.Phases = phaseRecords(keeper) }()

	if err := Validate(keeper, p); err != nil {
		return report, err
	}

	var algorithms []string
	err := d.phase(ctx, keeper, PhasePreprocessing, timekeeper.NoLimit, func(context.Context, *timekeeper.Activity) error {
		var err error
		algorithms, err = d.resolveAlgorithms(p.Algorithms)
		return err
	})
	if err != nil {
		return report, err
	}

	limit := searchLimit(keeper, p)
	err = d.phase(ctx, keeper, PhaseSearch, limit, func(ctx context.Context, a *timekeeper.Activity) error {
		return d.search(ctx, keeper, a, p, algorithms, report)
	})
	if err != nil {
		return report, err
	}

	err = d.phase(ctx, keeper, PhasePostprocess, timekeeper.NoLimit, func(context.Context, *timekeeper.Activity) error {
		report.Best = best(report.Evaluations)
		if report.Best == nil {
			return ErrNoResults
		}
		return nil
	})
	return report, err
}

// phase runs fn as a keeper activity wrapped in a trace span.
func (d *Driver) phase(ctx context.Context, keeper *timekeeper.TimeKeeper, name string, limit time.Duration, fn func(context.Context, *timekeeper.Activity) error) error {
	ctx, span := d.tracer.Start(ctx, "phase."+name,
		trace.WithAttributes(attribute.String("hourglass.activity", name)),
	)
	defer span.End()

	if limit > 0 {
		span.SetAttributes(attribute.Float64("hourglass.time_limit_s", limit.Seconds()))
	}

	var act *timekeeper.Activity
	err := keeper.StartActivity(name, limit, func(a *timekeeper.Activity) error {
		act = a
		return fn(ctx, a)
	})

	if act != nil {
		span.SetAttributes(
			attribute.Float64("hourglass.elapsed_s", act.Elapsed().Seconds()),
			attribute.Bool("hourglass.exceeded_limit", act.ExceededLimit()),
		)
	}
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	return err
}

func (d *Driver) resolveAlgorithms(names []string) ([]string, error) {
	if len(names) == 0 {
		return d.space.Names(), nil
	}
	for _, name := range names {
		if _, ok := d.space.Algorithm(name); !ok {
			return nil, fmt.Errorf("%w: unknown algorithm %q", ErrInvalidParams, name)
		}
	}
	return names, nil
}

// searchLimit derives the search phase's limit. With a total budget the
// search may use all but the postprocess share of what is left.
func searchLimit(keeper *timekeeper.TimeKeeper, p Params) time.Duration {
	limit := p.SearchLimit

	remaining, err := keeper.TotalTimeRemaining()
	if err != nil {
		return limit
	}

	frac := p.PostprocessFraction
	if frac == 0 {
		frac = DefaultPostprocessFraction
	}
	budget := time.Duration(float64(remaining) * (1 - frac))
	// An exhausted budget still needs a positive limit so the phase reports
	// it as exceeded instead of unlimited.
	budget = max(budget, time.Nanosecond)

	if limit == 0 || budget < limit {
		return budget
	}
	return limit
}

func (d *Driver) search(ctx context.Context, keeper *timekeeper.TimeKeeper, a *timekeeper.Activity, p Params, algorithms []string, report *Report) error {
	rng := rand.New(rand.NewPCG(uint64(p.Seed), uint64(p.Seed)^0x9e3779b97f4a7c15))

	for seq := 0; ; seq++ {
		reason, err := stopReason(ctx, keeper, a, p, seq)
		if err != nil {
			return err
		}
		if reason != "" {
			report.StopReason = reason
			d.logger.Info("search stopped",
				"reason", reason,
				"evaluations", seq,
				"elapsed_s", a.Elapsed().Seconds(),
			)
			return nil
		}

		c, err := d.space.Sample(rng, algorithms...)
		if err != nil {
			return fmt.Errorf("sample candidate: %w", err)
		}

		rec := d.evaluate(ctx, a, seq, c)
		report.Evaluations = append(report.Evaluations, rec)
		if d.onEvaluation != nil {
			d.onEvaluation(rec)
		}
	}
}

// stopReason polls every budget before the next evaluation. Context
// cancellation is returned as an error; exhausted budgets as a reason.
func stopReason(ctx context.Context, keeper *timekeeper.TimeKeeper, a *timekeeper.Activity, p Params, done int) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	if p.MaxEvaluations > 0 && done >= p.MaxEvaluations {
		return StopMaxEvaluations, nil
	}
	// An exhausted total budget also exhausts the search limit derived from
	// it, so it is checked first to report the cause.
	if remaining, err := keeper.TotalTimeRemaining(); err == nil && remaining <= 0 {
		return StopTotalBudget, nil
	}
	if a.ExceededLimit() {
		return StopSearchLimit, nil
	}
	if left, err := a.TimeLeft(); err == nil && left <= 0 {
		return StopSearchLimit, nil
	}
	return "", nil
}

func (d *Driver) evaluate(ctx context.Context, a *timekeeper.Activity, seq int, c searchspace.Candidate) EvaluationRecord {
	if left, err := a.TimeLeft(); err == nil {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, left)
		defer cancel()
	}

	// A fresh stopwatch is started and stopped once, so neither call can fail.
	sw := timekeeper.NewStopwatch(d.clock)
	_ = sw.Start()
	res, err := d.eval.Evaluate(ctx, c)
	_ = sw.Stop()

	rec := EvaluationRecord{
		Seq:       seq,
		Candidate: c,
		Duration:  sw.Elapsed(),
		StartedAt: sw.StartedAt(),
	}
	if err != nil {
		rec.Err = err
		d.logger.Debug("evaluation failed", "seq", seq, "candidate", c.String(), "error", err)
	} else {
		rec.Score = res.Score
		d.logger.Debug("evaluation", "seq", seq, "candidate", c.String(), "score", res.Score)
	}
	return rec
}

// best returns the highest-scoring successful evaluation. Ties go to the
// earliest.
func best(evals []EvaluationRecord) *EvaluationRecord {
	var top *EvaluationRecord
	for i := range evals {
		e := &evals[i]
		if e.Err != nil {
			continue
		}
		if top == nil || e.Score > top.Score {
			top = e
		}
	}
	return top
}

func phaseRecords(keeper *timekeeper.TimeKeeper) []PhaseRecord {
	acts := keeper.Activities()
	out := make([]PhaseRecord, len(acts))
	for i, a := range acts {
		limit, _ := a.TimeLimit()
		out[i] = PhaseRecord{
			Name:          a.Name(),
			TimeLimit:     limit,
			Elapsed:       a.Elapsed(),
			ExceededLimit: a.ExceededLimit(),
			StartedAt:     a.StartedAt(),
		}
	}
	return out
}
