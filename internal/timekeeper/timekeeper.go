package timekeeper

import (
	"fmt"
	"log/slog"
	"sync"
	"time"
)

// NoLimit may be passed to StartActivity for an activity without a limit.
const NoLimit time.Duration = 0

// Hooks are called synchronously around every activity, outside the keeper's
// lock. Either field may be nil.
type Hooks struct {
	OnStart  func(a *Activity)
	OnFinish func(a *Activity, err error)
}

// Option configures a TimeKeeper.
type Option func(*TimeKeeper)

// WithLogger sets the logger that receives one record per finished activity.
func WithLogger(logger *slog.Logger) Option {
	return func(k *TimeKeeper) {
		if logger != nil {
			k.logger = logger
		}
	}
}

// WithClock sets the time source used by every activity's stopwatch.
func WithClock(clock Clock) Option {
	return func(k *TimeKeeper) {
		if clock != nil {
			k.clock = clock
		}
	}
}

// WithHooks installs activity lifecycle hooks.
func WithHooks(h Hooks) Option {
	return func(k *TimeKeeper) {
		k.hooks = h
	}
}

// TimeKeeper tracks a chronological, append-only sequence of activities under
// an optional total time budget. At most one activity is current at a time.
// It is safe for concurrent use, but StartActivity rejects a second activity
// while one is in progress.
type TimeKeeper struct {
	totalTime time.Duration
	clock     Clock
	logger    *slog.Logger
	hooks     Hooks

	mu         sync.Mutex
	current    *Activity
	activities []*Activity
}

// New creates a TimeKeeper with the given total budget. A totalTime of zero
// or less leaves the budget unset, and TotalTimeRemaining fails.
func New(totalTime time.Duration, opts ...Option) *TimeKeeper {
	k := &TimeKeeper{
		totalTime: totalTime,
		clock:     RealClock{},
		logger:    slog.Default(),
	}
	for _, opt := range opts {
		opt(k)
	}
	return k
}

// TotalTime returns the configured budget and whether one was set.
func (k *TimeKeeper) TotalTime() (time.Duration, bool) {
	return k.totalTime, k.totalTime > 0
}

// StartActivity runs fn as a new activity named name, with an optional limit
// (NoLimit for none). The activity is recorded as current and appended to the
// history before fn runs. Whichever way fn exits, including a panic, its
// stopwatch is stopped, the current slot is cleared and a log record is
// emitted. fn's error is returned unchanged.
func (k *TimeKeeper) StartActivity(name string, limit time.Duration, fn func(a *Activity) error) (err error) {
	if name == "" {
		return fmt.Errorf("%w: activity name is empty", ErrConfiguration)
	}
	if limit < 0 {
		return fmt.Errorf("%w: activity %q has negative time limit %s", ErrConfiguration, name, limit)
	}

	sw := NewStopwatch(k.clock)
	a := newActivity(name, sw, limit)

	k.mu.Lock()
	if k.current != nil {
		cur := k.current.name
		k.mu.Unlock()
		return fmt.Errorf("%w: cannot start %q while %q is running", ErrActivityInProgress, name, cur)
	}
	if err := sw.Start(); err != nil {
		k.mu.Unlock()
		return err
	}
	k.current = a
	k.activities = append(k.activities, a)
	k.mu.Unlock()

	defer func() {
		// Stop cannot fail here: only this scope ever stops sw.
		_ = sw.Stop()

		k.mu.Lock()
		k.current = nil
		k.mu.Unlock()

		k.logger.Info("activity finished",
			"activity", name,
			"elapsed_s", sw.Elapsed().Seconds(),
			"exceeded_limit", a.ExceededLimit(),
		)

		if k.hooks.OnFinish != nil {
			hookErr := err
			if r := recover(); r != nil {
				hookErr = fmt.Errorf("activity %q panicked: %v", name, r)
				k.hooks.OnFinish(a, hookErr)
				panic(r)
			}
			k.hooks.OnFinish(a, hookErr)
		}
	}()

	if k.hooks.OnStart != nil {
		k.hooks.OnStart(a)
	}
	return fn(a)
}

// TotalTimeRemaining returns the total budget minus the elapsed time of every
// recorded activity, including the one in progress. It fails with
// ErrConfiguration if no total budget was set.
func (k *TimeKeeper) TotalTimeRemaining() (time.Duration, error) {
	if k.totalTime <= 0 {
		return 0, fmt.Errorf("%w: total time was not set", ErrConfiguration)
	}

	k.mu.Lock()
	defer k.mu.Unlock()

	var used time.Duration
	for _, a := range k.activities {
		used += a.Elapsed()
	}
	return k.totalTime - used, nil
}

// CurrentActivityTimeElapsed returns the live elapsed time of the current
// activity. It fails with ErrRuntimeUnavailable if none is in progress.
func (k *TimeKeeper) CurrentActivityTimeElapsed() (time.Duration, error) {
	k.mu.Lock()
	defer k.mu.Unlock()

	if k.current == nil {
		return 0, ErrRuntimeUnavailable
	}
	return k.current.Elapsed(), nil
}

// CurrentActivity returns the activity in progress, if any.
func (k *TimeKeeper) CurrentActivity() (*Activity, bool) {
	k.mu.Lock()
	defer k.mu.Unlock()
	return k.current, k.current != nil
}

// Activities returns a copy of the activity history in start order.
func (k *TimeKeeper) Activities() []*Activity {
	k.mu.Lock()
	defer k.mu.Unlock()

	out := make([]*Activity, len(k.activities))
	copy(out, k.activities)
	return out
}
