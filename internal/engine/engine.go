package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/seantiz/hourglass/internal/evaluator"
	"github.com/seantiz/hourglass/internal/model"
	"github.com/seantiz/hourglass/internal/search"
	"github.com/seantiz/hourglass/internal/searchspace"
	"github.com/seantiz/hourglass/internal/store"
	"github.com/seantiz/hourglass/internal/timekeeper"
)

// ErrNotActive is returned when cancelling a run that is not pending or running.
var ErrNotActive = errors.New("run is not active")

// Engine orchestrates asynchronous run execution.
type Engine struct {
	store    store.Store
	registry *evaluator.Registry
	space    *searchspace.Space
	logger   *slog.Logger
	wg       sync.WaitGroup
	broker   *EventBroker

	mu      sync.Mutex
	cancels map[string]context.CancelFunc
}

// NewEngine creates a new run engine.
func NewEngine(s store.Store, reg *evaluator.Registry, space *searchspace.Space, logger *slog.Logger) *Engine {
	return &Engine{
		store:    s,
		registry: reg,
		space:    space,
		logger:   logger,
		broker:   NewEventBroker(),
		cancels:  make(map[string]context.CancelFunc),
	}
}

// Broker returns the engine's event broker for SSE subscription.
func (e *Engine) Broker() *EventBroker {
	return e.broker
}

// Space returns the search space runs sample from.
func (e *Engine) Space() *searchspace.Space {
	return e.space
}

// Registry returns the evaluator registry.
func (e *Engine) Registry() *evaluator.Registry {
	return e.registry
}

// Params converts a run's settings into search parameters and its total
// budget.
func Params(r *model.Run) (search.Params, time.Duration) {
	p := search.Params{
		Algorithms: r.Algorithms,
		Seed:       r.Seed,
	}
	if r.SearchLimitMS != nil {
		p.SearchLimit = time.Duration(*r.SearchLimitMS) * time.Millisecond
	}
	if r.MaxEvaluations != nil {
		p.MaxEvaluations = *r.MaxEvaluations
	}
	var total time.Duration
	if r.TotalTimeMS != nil {
		total = time.Duration(*r.TotalTimeMS) * time.Millisecond
	}
	return p, total
}

// Validate reports whether r could be executed: its evaluator must be
// registered, its algorithms known, and it needs a stopping criterion.
func (e *Engine) Validate(r *model.Run) error {
	if _, err := e.registry.Resolve(r.Evaluator); err != nil {
		return err
	}
	for _, name := range r.Algorithms {
		if _, ok := e.space.Algorithm(name); !ok {
			return fmt.Errorf("%w: unknown algorithm %q", search.ErrInvalidParams, name)
		}
	}
	if r.TotalTimeMS != nil && *r.TotalTimeMS < 0 {
		return fmt.Errorf("%w: negative total time", search.ErrInvalidParams)
	}
	p, total := Params(r)
	return search.Validate(timekeeper.New(total), p)
}

// Submit creates a run record and launches asynchronous execution in a
// goroutine. The run is stored with status "pending" before returning and can
// be cancelled from then on. The goroutine operates on a copy of the run to
// avoid data races with the caller.
func (e *Engine) Submit(ctx context.Context, r *model.Run) error {
	if err := e.store.CreateRun(ctx, r); err != nil {
		return fmt.Errorf("create run: %w", err)
	}

	runCtx, cancel := context.WithCancel(context.Background())
	e.mu.Lock()
	e.cancels[r.ID] = cancel
	e.mu.Unlock()

	rCopy := *r
	e.wg.Go(func() {
		defer func() {
			e.mu.Lock()
			delete(e.cancels, rCopy.ID)
			e.mu.Unlock()
			cancel()
		}()
		e.execute(runCtx, &rCopy)
	})

	return nil
}

// Cancel stops a pending or running run. The search notices at its next
// budget check and the run finishes as killed.
func (e *Engine) Cancel(id string) error {
	e.mu.Lock()
	cancel, ok := e.cancels[id]
	e.mu.Unlock()
	if !ok {
		return fmt.Errorf("%w: %s", ErrNotActive, id)
	}
	cancel()
	return nil
}

// ActiveRuns returns the number of runs submitted and not yet finished.
func (e *Engine) ActiveRuns() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.cancels)
}

// Wait blocks until all in-flight run goroutines complete.
func (e *Engine) Wait() {
	e.wg.Wait()
}

// Shutdown cancels every active run and waits for them to finish.
func (e *Engine) Shutdown() {
	e.mu.Lock()
	for _, cancel := range e.cancels {
		cancel()
	}
	e.mu.Unlock()
	e.wg.Wait()
}

// execute runs the lifecycle of one run: pending→running→completed/failed/killed.
func (e *Engine) execute(ctx context.Context, r *model.Run) {
	defer e.broker.Close(r.ID)

	if err := e.store.UpdateRunStatus(context.Background(), r.ID, model.StatusRunning); err != nil {
		e.logger.Error("failed to transition to running", "run_id", r.ID, "error", err)
		e.finish(r, model.StatusFailed, nil, nil, fmt.Sprintf("failed to start: %v", err))
		return
	}

	start := time.Now().UTC()
	emit := func(ev Event) {
		env := e.broker.Publish(r.ID, ev)
		if err := e.store.InsertEvent(context.Background(), r.ID, env.Seq, ev.Line()); err != nil {
			e.logger.Error("failed to persist event", "run_id", r.ID, "seq", env.Seq, "error", err)
		}
	}
	emit(Event{Type: EventRunStarted, Status: model.StatusRunning})

	eval, err := e.registry.Resolve(r.Evaluator)
	if err != nil {
		e.finish(r, model.StatusFailed, &start, nil, fmt.Sprintf("resolve evaluator: %v", err))
		emit(Event{Type: EventRunFinished, Status: model.StatusFailed, Error: err.Error()})
		return
	}
	evalName := r.Evaluator
	if evalName == "" {
		evalName = evaluator.DefaultName
	}

	logger := e.logger.With("run_id", r.ID)
	params, total := Params(r)

	var keeper *timekeeper.TimeKeeper
	activitySeq := 0
	hooks := timekeeper.Hooks{
		OnStart: func(a *timekeeper.Activity) {
			ev := Event{Type: EventActivityStarted, Activity: a.Name()}
			if limit, ok := a.TimeLimit(); ok {
				ev.TimeLimitS = ptr(limit.Seconds())
			}
			if remaining, err := keeper.TotalTimeRemaining(); err == nil {
				ev.RemainingS = ptr(remaining.Seconds())
			}
			emit(ev)
		},
		OnFinish: func(a *timekeeper.Activity, err error) {
			e.recordActivity(r.ID, activitySeq, a, err)
			activitySeq++

			ev := Event{
				Type:          EventActivityFinished,
				Activity:      a.Name(),
				ElapsedS:      ptr(a.Elapsed().Seconds()),
				ExceededLimit: a.ExceededLimit(),
			}
			if err != nil {
				ev.Error = err.Error()
			}
			emit(ev)
		},
	}
	keeper = timekeeper.New(total,
		timekeeper.WithLogger(logger),
		timekeeper.WithHooks(hooks),
	)

	driver := search.NewDriver(e.space, eval, logger,
		search.WithEvaluationHook(func(rec search.EvaluationRecord) {
			e.recordEvaluation(r.ID, evalName, rec)
			ev := Event{
				Type:      EventEvaluation,
				Seq:       ptr(rec.Seq),
				Candidate: rec.Candidate.String(),
			}
			if rec.Err != nil {
				ev.Error = rec.Err.Error()
			} else {
				ev.Score = ptr(rec.Score)
			}
			emit(ev)
		}),
	)

	report, err := driver.Run(ctx, keeper, params)
	r.Evaluations = len(report.Evaluations)
	if report.Best != nil {
		r.BestAlgorithm = report.Best.Candidate.Algorithm
		r.BestParams = report.Best.Candidate.ParamsJSON()
		r.BestScore = ptr(report.Best.Score)
	}

	status := model.StatusCompleted
	var errMsg string
	switch {
	case err == nil:
	case errors.Is(err, context.Canceled):
		status = model.StatusKilled
		errMsg = "run cancelled"
	default:
		status = model.StatusFailed
		errMsg = err.Error()
	}

	logger.Info("run finished",
		"status", status,
		"evaluations", r.Evaluations,
		"stop_reason", report.StopReason,
	)
	e.finish(r, status, &start, report, errMsg)
	emit(Event{Type: EventRunFinished, Status: status, Error: errMsg, Score: r.BestScore})
}

// finish writes the run's final state. startedAt may be nil if execution
// never started.
func (e *Engine) finish(r *model.Run, status string, startedAt *time.Time, report *search.Report, errMsg string) {
	now := time.Now().UTC()
	var durationMS int64
	if startedAt != nil {
		durationMS = now.Sub(*startedAt).Milliseconds()
	}

	r.Status = status
	r.Error = errMsg
	r.DurationMS = &durationMS
	r.StartedAt = startedAt
	r.FinishedAt = &now

	runsTotal.WithLabelValues(status).Inc()
	if err := e.store.UpdateRun(context.Background(), r); err != nil {
		e.logger.Error("failed to update finished run", "run_id", r.ID, "status", status, "error", err)
	}
}

func (e *Engine) recordActivity(runID string, seq int, a *timekeeper.Activity, actErr error) {
	activityDuration.WithLabelValues(a.Name()).Observe(a.Elapsed().Seconds())
	if a.ExceededLimit() {
		activityLimitExceeded.WithLabelValues(a.Name()).Inc()
	}

	rec := &model.ActivityRecord{
		RunID:         runID,
		Seq:           seq,
		Name:          a.Name(),
		ElapsedMS:     model.Millis(a.Elapsed()),
		ExceededLimit: a.ExceededLimit(),
		StartedAt:     a.StartedAt().UTC(),
	}
	if limit, ok := a.TimeLimit(); ok {
		rec.TimeLimitMS = ptr(model.Millis(limit))
	}
	if actErr != nil {
		rec.Error = actErr.Error()
	}
	if err := e.store.InsertActivity(context.Background(), rec); err != nil {
		e.logger.Error("failed to persist activity", "run_id", runID, "activity", a.Name(), "error", err)
	}
}

func (e *Engine) recordEvaluation(runID, evalName string, rec search.EvaluationRecord) {
	outcome := "ok"
	ev := &model.Evaluation{
		RunID:      runID,
		Seq:        rec.Seq,
		Algorithm:  rec.Candidate.Algorithm,
		Params:     rec.Candidate.ParamsJSON(),
		DurationMS: model.Millis(rec.Duration),
		CreatedAt:  rec.StartedAt.UTC(),
	}
	if rec.Err != nil {
		outcome = "error"
		ev.Error = rec.Err.Error()
	} else {
		ev.Score = ptr(rec.Score)
	}
	evaluationsTotal.WithLabelValues(evalName, outcome).Inc()

	if err := e.store.InsertEvaluation(context.Background(), ev); err != nil {
		e.logger.Error("failed to persist evaluation", "run_id", runID, "seq", rec.Seq, "error", err)
	}
}
