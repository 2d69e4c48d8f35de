package store

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/seantiz/hourglass/internal/model"
)

func newTestStore(t *testing.T) *SQLiteStore {
	t.Helper()
	s, err := NewSQLiteStore(":memory:")
	if err != nil {
		t.Fatalf("NewSQLiteStore: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func makeTestRun() *model.Run {
	total := int64(60_000)
	maxEvals := 50
	return &model.Run{
		ID:             model.NewID(),
		Status:         model.StatusPending,
		Evaluator:      "synthetic",
		Algorithms:     []string{"GaussianNB", "BernoulliNB"},
		TotalTimeMS:    &total,
		MaxEvaluations: &maxEvals,
		Seed:           42,
		CreatedAt:      time.Now().UTC().Truncate(time.Second),
	}
}

func createRun(t *testing.T, s *SQLiteStore, r *model.Run) {
	t.Helper()
	if err := s.CreateRun(context.Background(), r); err != nil {
		t.Fatalf("CreateRun: %v", err)
	}
}

func TestPing(t *testing.T) {
	s, err := NewSQLiteStore(":memory:")
	if err != nil {
		t.Fatalf("NewSQLiteStore: %v", err)
	}
	if err := s.Ping(context.Background()); err != nil {
		t.Errorf("Ping on open store: %v", err)
	}

	s.Close()
	if err := s.Ping(context.Background()); err == nil {
		t.Error("Ping on closed store succeeded")
	}
}

func TestCreateAndGetRun(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	r := makeTestRun()
	createRun(t, s, r)

	got, err := s.GetRun(ctx, r.ID)
	if err != nil {
		t.Fatalf("GetRun: %v", err)
	}

	if got.ID != r.ID {
		t.Errorf("ID = %q, want %q", got.ID, r.ID)
	}
	if got.Status != model.StatusPending {
		t.Errorf("Status = %q, want %q", got.Status, model.StatusPending)
	}
	if got.Evaluator != "synthetic" {
		t.Errorf("Evaluator = %q, want synthetic", got.Evaluator)
	}
	if len(got.Algorithms) != 2 || got.Algorithms[0] != "GaussianNB" || got.Algorithms[1] != "BernoulliNB" {
		t.Errorf("Algorithms = %v, want [GaussianNB BernoulliNB]", got.Algorithms)
	}
	if got.TotalTimeMS == nil || *got.TotalTimeMS != 60_000 {
		t.Errorf("TotalTimeMS = %v, want 60000", got.TotalTimeMS)
	}
	if got.SearchLimitMS != nil {
		t.Errorf("SearchLimitMS = %v, want nil", *got.SearchLimitMS)
	}
	if got.MaxEvaluations == nil || *got.MaxEvaluations != 50 {
		t.Errorf("MaxEvaluations = %v, want 50", got.MaxEvaluations)
	}
	if got.Seed != 42 {
		t.Errorf("Seed = %d, want 42", got.Seed)
	}
	if got.BestScore != nil {
		t.Errorf("BestScore = %v, want nil", *got.BestScore)
	}
	if !got.CreatedAt.Equal(r.CreatedAt) {
		t.Errorf("CreatedAt = %v, want %v", got.CreatedAt, r.CreatedAt)
	}
}

func TestCreateRunWithoutAlgorithms(t *testing.T) {
	s := newTestStore(t)
	r := makeTestRun()
	r.Algorithms = nil
	createRun(t, s, r)

	got, err := s.GetRun(context.Background(), r.ID)
	if err != nil {
		t.Fatalf("GetRun: %v", err)
	}
	if got.Algorithms != nil {
		t.Errorf("Algorithms = %v, want nil", got.Algorithms)
	}
}

func TestGetRunNotFound(t *testing.T) {
	s := newTestStore(t)

	_, err := s.GetRun(context.Background(), "nonexistent")
	if err != ErrNotFound {
		t.Errorf("GetRun error = %v, want ErrNotFound", err)
	}
}

func TestListRunsPagination(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		r := makeTestRun()
		r.CreatedAt = time.Now().UTC().Add(time.Duration(i) * time.Second).Truncate(time.Second)
		createRun(t, s, r)
	}

	runs, total, err := s.ListRuns(ctx, 2, 0)
	if err != nil {
		t.Fatalf("ListRuns: %v", err)
	}
	if total != 5 {
		t.Errorf("total = %d, want 5", total)
	}
	if len(runs) != 2 {
		t.Errorf("len(runs) = %d, want 2", len(runs))
	}

	runs, _, err = s.ListRuns(ctx, 2, 4)
	if err != nil {
		t.Fatalf("ListRuns page 3: %v", err)
	}
	if len(runs) != 1 {
		t.Errorf("len(runs) page 3 = %d, want 1", len(runs))
	}
}

func TestListRunsOrdering(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	var ids []string
	for i := 0; i < 3; i++ {
		r := makeTestRun()
		r.CreatedAt = time.Date(2026, 1, 1+i, 0, 0, 0, 0, time.UTC)
		createRun(t, s, r)
		ids = append(ids, r.ID)
	}

	runs, _, err := s.ListRuns(ctx, 10, 0)
	if err != nil {
		t.Fatalf("ListRuns: %v", err)
	}
	if len(runs) != 3 {
		t.Fatalf("len(runs) = %d, want 3", len(runs))
	}
	// Newest first.
	for i, want := range []string{ids[2], ids[1], ids[0]} {
		if runs[i].ID != want {
			t.Errorf("runs[%d].ID = %q, want %q", i, runs[i].ID, want)
		}
	}
}

func TestListRunsEmpty(t *testing.T) {
	s := newTestStore(t)

	runs, total, err := s.ListRuns(context.Background(), 10, 0)
	if err != nil {
		t.Fatalf("ListRuns: %v", err)
	}
	if total != 0 {
		t.Errorf("total = %d, want 0", total)
	}
	if runs != nil {
		t.Errorf("runs = %v, want nil", runs)
	}
}

func TestUpdateRunStatusLifecycle(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	r := makeTestRun()
	createRun(t, s, r)

	if err := s.UpdateRunStatus(ctx, r.ID, model.StatusRunning); err != nil {
		t.Fatalf("pending→running: %v", err)
	}
	got, _ := s.GetRun(ctx, r.ID)
	if got.Status != model.StatusRunning {
		t.Errorf("Status = %q, want %q", got.Status, model.StatusRunning)
	}
	if got.StartedAt == nil {
		t.Error("StartedAt is nil, expected it to be set for running status")
	}
	if got.FinishedAt != nil {
		t.Error("FinishedAt set before the run finished")
	}

	if err := s.UpdateRunStatus(ctx, r.ID, model.StatusCompleted); err != nil {
		t.Fatalf("running→completed: %v", err)
	}
	got, _ = s.GetRun(ctx, r.ID)
	if got.Status != model.StatusCompleted {
		t.Errorf("Status = %q, want %q", got.Status, model.StatusCompleted)
	}
	if got.FinishedAt == nil {
		t.Error("FinishedAt is nil, expected it to be set for completed status")
	}
}

func TestUpdateRunStatusKilledSetsFinishedAt(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	r := makeTestRun()
	createRun(t, s, r)

	if err := s.UpdateRunStatus(ctx, r.ID, model.StatusKilled); err != nil {
		t.Fatalf("UpdateRunStatus: %v", err)
	}

	got, _ := s.GetRun(ctx, r.ID)
	if got.Status != model.StatusKilled {
		t.Errorf("Status = %q, want %q", got.Status, model.StatusKilled)
	}
	if got.FinishedAt == nil {
		t.Error("FinishedAt is nil, expected it to be set for killed status")
	}
}

func TestUpdateRunStatusNotFound(t *testing.T) {
	s := newTestStore(t)

	err := s.UpdateRunStatus(context.Background(), "nonexistent", model.StatusRunning)
	if err != ErrNotFound {
		t.Errorf("UpdateRunStatus error = %v, want ErrNotFound", err)
	}
}

func TestUpdateRunStatusInvalidTransition(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	tests := []struct {
		name     string
		from, to string
	}{
		{"pending→completed", model.StatusPending, model.StatusCompleted},
		{"completed→killed", model.StatusCompleted, model.StatusKilled},
		{"failed→running", model.StatusFailed, model.StatusRunning},
		{"killed→pending", model.StatusKilled, model.StatusPending},
		{"running→pending", model.StatusRunning, model.StatusPending},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			r := makeTestRun()
			r.Status = tc.from
			createRun(t, s, r)

			err := s.UpdateRunStatus(ctx, r.ID, tc.to)
			if !errors.Is(err, ErrInvalidTransition) {
				t.Errorf("got error %v, want ErrInvalidTransition", err)
			}

			got, _ := s.GetRun(ctx, r.ID)
			if got.Status != tc.from {
				t.Errorf("Status = %q after rejected transition, want %q", got.Status, tc.from)
			}
		})
	}
}

func TestUpdateRun(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	r := makeTestRun()
	createRun(t, s, r)

	now := time.Now().UTC()
	r.Status = model.StatusRunning
	r.StartedAt = &now
	if err := s.UpdateRun(ctx, r); err != nil {
		t.Fatalf("UpdateRun (running): %v", err)
	}

	score := 0.875
	durationMS := int64(1500)
	finishedAt := now.Add(1500 * time.Millisecond)
	r.Status = model.StatusCompleted
	r.Evaluations = 17
	r.BestAlgorithm = "BernoulliNB"
	r.BestParams = `{"alpha":0.1}`
	r.BestScore = &score
	r.DurationMS = &durationMS
	r.FinishedAt = &finishedAt
	if err := s.UpdateRun(ctx, r); err != nil {
		t.Fatalf("UpdateRun (completed): %v", err)
	}

	got, err := s.GetRun(ctx, r.ID)
	if err != nil {
		t.Fatalf("GetRun: %v", err)
	}
	if got.Status != model.StatusCompleted {
		t.Errorf("Status = %q, want %q", got.Status, model.StatusCompleted)
	}
	if got.Evaluations != 17 {
		t.Errorf("Evaluations = %d, want 17", got.Evaluations)
	}
	if got.BestAlgorithm != "BernoulliNB" {
		t.Errorf("BestAlgorithm = %q, want BernoulliNB", got.BestAlgorithm)
	}
	if got.BestParams != `{"alpha":0.1}` {
		t.Errorf("BestParams = %q", got.BestParams)
	}
	if got.BestScore == nil || *got.BestScore != 0.875 {
		t.Errorf("BestScore = %v, want 0.875", got.BestScore)
	}
	if got.DurationMS == nil || *got.DurationMS != 1500 {
		t.Errorf("DurationMS = %v, want 1500", got.DurationMS)
	}
	if got.StartedAt == nil {
		t.Error("StartedAt is nil")
	}
	if got.FinishedAt == nil {
		t.Error("FinishedAt is nil")
	}
}

func TestUpdateRunNotFound(t *testing.T) {
	s := newTestStore(t)

	r := makeTestRun()
	r.ID = "nonexistent"
	err := s.UpdateRun(context.Background(), r)
	if !errors.Is(err, ErrNotFound) {
		t.Errorf("got error %v, want ErrNotFound", err)
	}
}

func TestUpdateRunInvalidTransition(t *testing.T) {
	s := newTestStore(t)
	r := makeTestRun()
	createRun(t, s, r)

	r.Status = model.StatusCompleted
	err := s.UpdateRun(context.Background(), r)
	if !errors.Is(err, ErrInvalidTransition) {
		t.Errorf("got error %v, want ErrInvalidTransition", err)
	}
}

func TestActivities(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	r := makeTestRun()
	createRun(t, s, r)

	limit := int64(5000)
	start := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	records := []*model.ActivityRecord{
		{RunID: r.ID, Seq: 0, Name: "preprocessing", ElapsedMS: 12, StartedAt: start},
		{RunID: r.ID, Seq: 1, Name: "search", TimeLimitMS: &limit, ElapsedMS: 5200, ExceededLimit: true, StartedAt: start.Add(time.Second)},
		{RunID: r.ID, Seq: 2, Name: "postprocess", ElapsedMS: 3, Error: "no results", StartedAt: start.Add(7 * time.Second)},
	}
	// Insert out of order; listing sorts by seq.
	for _, i := range []int{2, 0, 1} {
		if err := s.InsertActivity(ctx, records[i]); err != nil {
			t.Fatalf("InsertActivity[%d]: %v", i, err)
		}
		if records[i].ID == 0 {
			t.Errorf("InsertActivity[%d] did not assign an ID", i)
		}
	}

	got, err := s.ListActivities(ctx, r.ID)
	if err != nil {
		t.Fatalf("ListActivities: %v", err)
	}
	if len(got) != 3 {
		t.Fatalf("len = %d, want 3", len(got))
	}
	for i, want := range []string{"preprocessing", "search", "postprocess"} {
		if got[i].Name != want {
			t.Errorf("[%d].Name = %q, want %q", i, got[i].Name, want)
		}
	}
	if got[0].TimeLimitMS != nil {
		t.Errorf("preprocessing TimeLimitMS = %v, want nil", *got[0].TimeLimitMS)
	}
	if got[1].TimeLimitMS == nil || *got[1].TimeLimitMS != 5000 {
		t.Errorf("search TimeLimitMS = %v, want 5000", got[1].TimeLimitMS)
	}
	if !got[1].ExceededLimit {
		t.Error("search ExceededLimit = false, want true")
	}
	if got[2].Error != "no results" {
		t.Errorf("postprocess Error = %q, want %q", got[2].Error, "no results")
	}
	if !got[1].StartedAt.Equal(start.Add(time.Second)) {
		t.Errorf("search StartedAt = %v", got[1].StartedAt)
	}
}

func TestActivityDuplicateSeq(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	r := makeTestRun()
	createRun(t, s, r)

	a := &model.ActivityRecord{RunID: r.ID, Seq: 0, Name: "search", StartedAt: time.Now().UTC()}
	if err := s.InsertActivity(ctx, a); err != nil {
		t.Fatalf("InsertActivity: %v", err)
	}
	if err := s.InsertActivity(ctx, &model.ActivityRecord{RunID: r.ID, Seq: 0, Name: "again", StartedAt: time.Now().UTC()}); err == nil {
		t.Error("expected error for duplicate seq")
	}
}

func TestEvaluations(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	r := makeTestRun()
	createRun(t, s, r)

	score := 0.5
	for i := 0; i < 3; i++ {
		e := &model.Evaluation{
			RunID:      r.ID,
			Seq:        i,
			Algorithm:  "GaussianNB",
			Params:     "{}",
			DurationMS: int64(10 * i),
			CreatedAt:  time.Now().UTC(),
		}
		if i == 1 {
			e.Error = "evaluation timed out"
		} else {
			e.Score = &score
		}
		if err := s.InsertEvaluation(ctx, e); err != nil {
			t.Fatalf("InsertEvaluation[%d]: %v", i, err)
		}
	}

	got, err := s.ListEvaluations(ctx, r.ID)
	if err != nil {
		t.Fatalf("ListEvaluations: %v", err)
	}
	if len(got) != 3 {
		t.Fatalf("len = %d, want 3", len(got))
	}
	for i, e := range got {
		if e.Seq != i {
			t.Errorf("[%d].Seq = %d", i, e.Seq)
		}
	}
	if got[1].Score != nil {
		t.Errorf("failed evaluation Score = %v, want nil", *got[1].Score)
	}
	if got[1].Error != "evaluation timed out" {
		t.Errorf("failed evaluation Error = %q", got[1].Error)
	}
	if got[2].Score == nil || *got[2].Score != 0.5 {
		t.Errorf("Score = %v, want 0.5", got[2].Score)
	}
	if got[2].DurationMS != 20 {
		t.Errorf("DurationMS = %d, want 20", got[2].DurationMS)
	}

	other, err := s.ListEvaluations(ctx, "other")
	if err != nil {
		t.Fatalf("ListEvaluations other: %v", err)
	}
	if len(other) != 0 {
		t.Errorf("len(other) = %d, want 0", len(other))
	}
}

func TestEvents(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	r := makeTestRun()
	createRun(t, s, r)

	for i := 0; i < 4; i++ {
		if err := s.InsertEvent(ctx, r.ID, i, fmt.Sprintf("line %d", i)); err != nil {
			t.Fatalf("InsertEvent[%d]: %v", i, err)
		}
	}

	got, err := s.ListEvents(ctx, r.ID)
	if err != nil {
		t.Fatalf("ListEvents: %v", err)
	}
	if len(got) != 4 {
		t.Fatalf("len = %d, want 4", len(got))
	}
	for i, ev := range got {
		if want := fmt.Sprintf("line %d", i); ev.Line != want {
			t.Errorf("[%d].Line = %q, want %q", i, ev.Line, want)
		}
		if ev.RunID != r.ID {
			t.Errorf("[%d].RunID = %q", i, ev.RunID)
		}
	}
}

func TestGetRunStats(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		r := makeTestRun()
		createRun(t, s, r)
		if i == 2 {
			continue
		}
		if err := s.UpdateRunStatus(ctx, r.ID, model.StatusRunning); err != nil {
			t.Fatalf("UpdateRunStatus running: %v", err)
		}
		d := int64(100 * (i + 1))
		r.Status = model.StatusCompleted
		r.Evaluations = 10
		r.DurationMS = &d
		if err := s.UpdateRun(ctx, r); err != nil {
			t.Fatalf("UpdateRun: %v", err)
		}

		limit := int64(1000)
		if err := s.InsertActivity(ctx, &model.ActivityRecord{
			RunID: r.ID, Seq: 0, Name: "search", TimeLimitMS: &limit,
			ExceededLimit: i == 0, StartedAt: time.Now().UTC(),
		}); err != nil {
			t.Fatalf("InsertActivity: %v", err)
		}
		if err := s.InsertActivity(ctx, &model.ActivityRecord{
			RunID: r.ID, Seq: 1, Name: "postprocess", StartedAt: time.Now().UTC(),
		}); err != nil {
			t.Fatalf("InsertActivity: %v", err)
		}
	}

	stats, err := s.GetRunStats(ctx)
	if err != nil {
		t.Fatalf("GetRunStats: %v", err)
	}
	if stats.Total != 3 {
		t.Errorf("Total = %d, want 3", stats.Total)
	}
	if stats.CountByStatus[model.StatusCompleted] != 2 {
		t.Errorf("completed = %d, want 2", stats.CountByStatus[model.StatusCompleted])
	}
	if stats.CountByStatus[model.StatusPending] != 1 {
		t.Errorf("pending = %d, want 1", stats.CountByStatus[model.StatusPending])
	}
	if stats.CountByEvaluator["synthetic"] != 3 {
		t.Errorf("synthetic = %d, want 3", stats.CountByEvaluator["synthetic"])
	}
	if stats.AvgDurationMS != 150 {
		t.Errorf("AvgDurationMS = %v, want 150", stats.AvgDurationMS)
	}
	if stats.TotalEvaluations != 20 {
		t.Errorf("TotalEvaluations = %d, want 20", stats.TotalEvaluations)
	}
	// Only limited activities count: one of two search phases overran.
	if stats.ExceededLimitRate != 0.5 {
		t.Errorf("ExceededLimitRate = %v, want 0.5", stats.ExceededLimitRate)
	}
}

func TestGetRunStatsEmpty(t *testing.T) {
	s := newTestStore(t)

	stats, err := s.GetRunStats(context.Background())
	if err != nil {
		t.Fatalf("GetRunStats: %v", err)
	}
	if stats.Total != 0 {
		t.Errorf("Total = %d, want 0", stats.Total)
	}
	if stats.AvgDurationMS != 0 || stats.ExceededLimitRate != 0 {
		t.Errorf("empty stats = %+v", stats)
	}
	if len(stats.CountByStatus) != 0 {
		t.Errorf("CountByStatus = %v, want empty", stats.CountByStatus)
	}
}
