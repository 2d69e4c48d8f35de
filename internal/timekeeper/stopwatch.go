package timekeeper

import (
	"fmt"
	"sync"
	"time"
)

// State is the lifecycle state of a Stopwatch.
type State int

// Stopwatch states. Stopped is terminal.
const (
	NotStarted State = iota
	Running
	Stopped
)

func (s State) String() string {
	switch s {
	case NotStarted:
		return "not_started"
	case Running:
		return "running"
	case Stopped:
		return "stopped"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// Stopwatch measures wall-clock time for a single interval. It is single-use:
// once stopped it cannot be restarted. It is safe for concurrent use.
type Stopwatch struct {
	mu      sync.Mutex
	clock   Clock
	state   State
	start   time.Time
	elapsed time.Duration
}

// NewStopwatch creates a stopwatch reading time from clock. A nil clock
// means RealClock.
func NewStopwatch(clock Clock) *Stopwatch {
	if clock == nil {
		clock = RealClock{}
	}
	return &Stopwatch{clock: clock}
}

// Start records the start timestamp and moves the stopwatch to Running.
func (s *Stopwatch) Start() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.state != NotStarted {
		return fmt.Errorf("%w: start from %s", ErrStopwatchState, s.state)
	}
	s.start = s.clock.Now()
	s.state = Running
	return nil
}

// Stop freezes the elapsed duration and moves the stopwatch to Stopped.
func (s *Stopwatch) Stop() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.state != Running {
		return fmt.Errorf("%w: stop from %s", ErrStopwatchState, s.state)
	}
	s.elapsed = s.since()
	s.state = Stopped
	return nil
}

// Elapsed returns the live elapsed time while running, the frozen value once
// stopped, and zero before Start.
func (s *Stopwatch) Elapsed() time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()

	switch s.state {
	case Running:
		return s.since()
	case Stopped:
		return s.elapsed
	default:
		return 0
	}
}

// State reports the stopwatch's lifecycle state.
func (s *Stopwatch) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// StartedAt returns the start timestamp, or the zero time before Start.
func (s *Stopwatch) StartedAt() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.start
}

// since must be called with mu held. A clock stepping backwards never makes
// elapsed negative.
func (s *Stopwatch) since() time.Duration {
	d := s.clock.Now().Sub(s.start)
	if d < 0 {
		return 0
	}
	return d
}
