package timekeeper

import (
	"fmt"
	"time"
)

// Activity is a named, timed phase with an optional time limit. It owns its
// stopwatch and is never modified after creation except through that
// stopwatch's transitions.
type Activity struct {
	name      string
	stopwatch *Stopwatch
	timeLimit time.Duration
}

func newActivity(name string, sw *Stopwatch, limit time.Duration) *Activity {
	return &Activity{name: name, stopwatch: sw, timeLimit: limit}
}

// Name returns the activity name.
func (a *Activity) Name() string {
	return a.name
}

// TimeLimit returns the configured limit and whether one was set.
func (a *Activity) TimeLimit() (time.Duration, bool) {
	return a.timeLimit, a.timeLimit > 0
}

// Elapsed returns the time measured by the activity's stopwatch.
func (a *Activity) Elapsed() time.Duration {
	return a.stopwatch.Elapsed()
}

// StartedAt returns when the activity's stopwatch was started.
func (a *Activity) StartedAt() time.Time {
	return a.stopwatch.StartedAt()
}

// Running reports whether the activity has not finished yet.
func (a *Activity) Running() bool {
	return a.stopwatch.State() == Running
}

// TimeLeft returns the limit minus elapsed time. The result is negative once
// the limit is exceeded. It fails with ErrConfiguration if no limit was set.
func (a *Activity) TimeLeft() (time.Duration, error) {
	if a.timeLimit <= 0 {
		return 0, fmt.Errorf("%w: activity %q has no time limit", ErrConfiguration, a.name)
	}
	return a.timeLimit - a.stopwatch.Elapsed(), nil
}

// ExceededLimit reports whether a limit was set and elapsed time has
// strictly surpassed it.
func (a *Activity) ExceededLimit() bool {
	if a.timeLimit <= 0 {
		return false
	}
	return a.timeLimit-a.stopwatch.Elapsed() < 0
}
