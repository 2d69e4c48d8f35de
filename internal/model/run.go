package model

import "time"

// Run status constants.
const (
	StatusPending   = "pending"
	StatusRunning   = "running"
	StatusCompleted = "completed"
	StatusFailed    = "failed"
	StatusKilled    = "killed"
)

// validTransitions maps each status to the set of statuses it may transition to.
var validTransitions = map[string]map[string]bool{
	StatusPending: {
		StatusRunning: true,
		StatusFailed:  true,
		StatusKilled:  true,
	},
	StatusRunning: {
		StatusCompleted: true,
		StatusFailed:    true,
		StatusKilled:    true,
	},
}

// ValidTransition reports whether transitioning from one status to another is allowed.
func ValidTransition(from, to string) bool {
	targets, ok := validTransitions[from]
	if !ok {
		return false
	}
	return targets[to]
}

// IsTerminal reports whether status is a final run status.
func IsTerminal(status string) bool {
	return status == StatusCompleted || status == StatusFailed || status == StatusKilled
}

// Run is one time-budgeted search over the search space.
type Run struct {
	ID             string     `json:"id"`
	Status         string     `json:"status"`
	Evaluator      string     `json:"evaluator"`
	Algorithms     []string   `json:"algorithms,omitempty"`
	TotalTimeMS    *int64     `json:"total_time_ms,omitempty"`
	SearchLimitMS  *int64     `json:"search_limit_ms,omitempty"`
	MaxEvaluations *int       `json:"max_evaluations,omitempty"`
	Seed           int64      `json:"seed"`
	Evaluations    int        `json:"evaluations"`
	BestAlgorithm  string     `json:"best_algorithm,omitempty"`
	BestParams     string     `json:"best_params,omitempty"`
	BestScore      *float64   `json:"best_score,omitempty"`
	Error          string     `json:"error,omitempty"`
	DurationMS     *int64     `json:"duration_ms,omitempty"`
	CreatedAt      time.Time  `json:"created_at"`
	StartedAt      *time.Time `json:"started_at,omitempty"`
	FinishedAt     *time.Time `json:"finished_at,omitempty"`
}

// ActivityRecord is the persisted audit entry of one timed activity.
type ActivityRecord struct {
	ID            int64     `json:"id"`
	RunID         string    `json:"run_id"`
	Seq           int       `json:"seq"`
	Name          string    `json:"name"`
	TimeLimitMS   *int64    `json:"time_limit_ms,omitempty"`
	ElapsedMS     int64     `json:"elapsed_ms"`
	ExceededLimit bool      `json:"exceeded_limit"`
	Error         string    `json:"error,omitempty"`
	StartedAt     time.Time `json:"started_at"`
}

// Evaluation is one scored candidate from the search phase.
type Evaluation struct {
	ID         int64     `json:"id"`
	RunID      string    `json:"run_id"`
	Seq        int       `json:"seq"`
	Algorithm  string    `json:"algorithm"`
	Params     string    `json:"params"`
	Score      *float64  `json:"score,omitempty"`
	DurationMS int64     `json:"duration_ms"`
	Error      string    `json:"error,omitempty"`
	CreatedAt  time.Time `json:"created_at"`
}

// Event is a single persisted progress line from a run.
type Event struct {
	ID        int64     `json:"id"`
	RunID     string    `json:"run_id"`
	Seq       int       `json:"seq"`
	Line      string    `json:"line"`
	CreatedAt time.Time `json:"created_at"`
}

// Millis converts a duration to whole milliseconds.
func Millis(d time.Duration) int64 {
	return d.Milliseconds()
}
