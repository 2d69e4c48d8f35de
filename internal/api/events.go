package api

import (
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/seantiz/hourglass/internal/engine"
	"github.com/seantiz/hourglass/internal/model"
)

func (s *Server) handleStreamEvents(w http.ResponseWriter, r *http.Request) {
	run := s.lookupRun(w, r)
	if run == nil {
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")

	// A finished run has nothing left to stream; history serves its events.
	if model.IsTerminal(run.Status) {
		w.WriteHeader(http.StatusOK)
		return
	}

	// Disable write timeout for long-lived SSE connections.
	rc := http.NewResponseController(w)
	if err := rc.SetWriteDeadline(time.Time{}); err != nil {
		s.logger.Error("set write deadline for SSE", "error", err)
	}

	// A client reconnecting with Last-Event-ID resumes after that event.
	// Subscribing to a run that finished after the status check returns a
	// closed channel, so the loop below exits at once.
	ch, unsub := s.engine.Broker().Subscribe(run.ID, lastEventID(r))
	defer unsub()

	eventStreamsActive.Inc()
	defer eventStreamsActive.Dec()

	w.WriteHeader(http.StatusOK)
	flusher, canFlush := w.(http.Flusher)
	if canFlush {
		flusher.Flush()
	}

	for {
		select {
		case env, ok := <-ch:
			if !ok {
				_ = writeSSEEvent(w, "done", "stream complete")
				if canFlush {
					flusher.Flush()
				}
				return
			}
			if err := writeSSEEnvelope(w, env); err != nil {
				return
			}
			if canFlush {
				flusher.Flush()
			}
		case <-r.Context().Done():
			return
		}
	}
}

// lastEventID returns the sequence number from the Last-Event-ID header, or
// -1 when absent or malformed.
func lastEventID(r *http.Request) int {
	n, err := strconv.Atoi(r.Header.Get("Last-Event-ID"))
	if err != nil || n < 0 {
		return -1
	}
	return n
}

// eventHistoryLine is a single event in the history response.
type eventHistoryLine struct {
	Seq       int    `json:"seq"`
	Line      string `json:"line"`
	CreatedAt string `json:"created_at"`
}

// eventHistoryResponse is the JSON response for GET /v1/runs/{id}/events/history.
type eventHistoryResponse struct {
	RunID  string             `json:"run_id"`
	Events []eventHistoryLine `json:"events"`
}

func (s *Server) handleGetEventHistory(w http.ResponseWriter, r *http.Request) {
	run := s.lookupRun(w, r)
	if run == nil {
		return
	}

	events, err := s.store.ListEvents(r.Context(), run.ID)
	if err != nil {
		s.logger.Error("list events", "run_id", run.ID, "error", err)
		s.writeError(w, http.StatusInternalServerError, "failed to get events")
		return
	}

	lines := make([]eventHistoryLine, len(events))
	for i, ev := range events {
		lines[i] = eventHistoryLine{
			Seq:       ev.Seq,
			Line:      ev.Line,
			CreatedAt: ev.CreatedAt.Format(time.RFC3339),
		}
	}

	s.writeJSON(w, http.StatusOK, eventHistoryResponse{
		RunID:  run.ID,
		Events: lines,
	})
}

// writeSSEEnvelope writes one run event with its sequence number as the SSE id.
func writeSSEEnvelope(w http.ResponseWriter, env engine.Envelope) error {
	_, err := fmt.Fprintf(w, "id: %d\ndata: %s\n\n", env.Seq, env.Event.Line())
	return err
}

// writeSSEEvent writes a named SSE event (event: <type>\ndata: <data>\n\n).
func writeSSEEvent(w http.ResponseWriter, eventType, data string) error {
	if _, err := fmt.Fprintf(w, "event: %s\n", eventType); err != nil {
		return err
	}
	if _, err := fmt.Fprintf(w, "data: %s\n\n", data); err != nil {
		return err
	}
	return nil
}
