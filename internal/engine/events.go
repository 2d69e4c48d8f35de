package engine

import "encoding/json"

// Event types published on a run's stream.
const (
	EventRunStarted       = "run_started"
	EventActivityStarted  = "activity_started"
	EventActivityFinished = "activity_finished"
	EventEvaluation       = "evaluation"
	EventRunFinished      = "run_finished"
)

// Event is one progress record of a run. It is published and persisted as a
// single JSON line.
type Event struct {
	Type          string   `json:"type"`
	Activity      string   `json:"activity,omitempty"`
	TimeLimitS    *float64 `json:"time_limit_s,omitempty"`
	ElapsedS      *float64 `json:"elapsed_s,omitempty"`
	ExceededLimit bool     `json:"exceeded_limit,omitempty"`
	RemainingS    *float64 `json:"remaining_s,omitempty"`
	Seq           *int     `json:"seq,omitempty"`
	Candidate     string   `json:"candidate,omitempty"`
	Score         *float64 `json:"score,omitempty"`
	Status        string   `json:"status,omitempty"`
	Error         string   `json:"error,omitempty"`
}

// Line encodes e as a single JSON line.
func (e Event) Line() string {
	b, err := json.Marshal(e)
	if err != nil {
		return `{"type":"` + e.Type + `"}`
	}
	return string(b)
}

func ptr[T any](v T) *T { return &v }
