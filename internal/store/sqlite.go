package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/seantiz/hourglass/internal/model"

	_ "modernc.org/sqlite"
)

var migrations = []string{
	`CREATE TABLE IF NOT EXISTS runs (
    id              TEXT PRIMARY KEY,
    status          TEXT NOT NULL,
    evaluator       TEXT NOT NULL,
    algorithms      TEXT,
    total_time_ms   INTEGER,
    search_limit_ms INTEGER,
    max_evaluations INTEGER,
    seed            INTEGER NOT NULL,
    evaluations     INTEGER NOT NULL DEFAULT 0,
    best_algorithm  TEXT,
    best_params     TEXT,
    best_score      REAL,
    error           TEXT,
    duration_ms     INTEGER,
    created_at      DATETIME NOT NULL,
    started_at      DATETIME,
    finished_at     DATETIME
)`,
	`CREATE TABLE IF NOT EXISTS activities (
    id             INTEGER PRIMARY KEY AUTOINCREMENT,
    run_id         TEXT NOT NULL REFERENCES runs(id),
    seq            INTEGER NOT NULL,
    name           TEXT NOT NULL,
    time_limit_ms  INTEGER,
    elapsed_ms     INTEGER NOT NULL,
    exceeded_limit INTEGER NOT NULL,
    error          TEXT,
    started_at     DATETIME NOT NULL,
    UNIQUE (run_id, seq)
)`,
	`CREATE TABLE IF NOT EXISTS evaluations (
    id          INTEGER PRIMARY KEY AUTOINCREMENT,
    run_id      TEXT NOT NULL REFERENCES runs(id),
    seq         INTEGER NOT NULL,
    algorithm   TEXT NOT NULL,
    params      TEXT NOT NULL,
    score       REAL,
    duration_ms INTEGER NOT NULL,
    error       TEXT,
    created_at  DATETIME NOT NULL,
    UNIQUE (run_id, seq)
)`,
	`CREATE TABLE IF NOT EXISTS events (
    id         INTEGER PRIMARY KEY AUTOINCREMENT,
    run_id     TEXT NOT NULL REFERENCES runs(id),
    seq        INTEGER NOT NULL,
    line       TEXT NOT NULL,
    created_at DATETIME NOT NULL,
    UNIQUE (run_id, seq)
)`,
}

const runColumns = `id, status, evaluator, algorithms, total_time_ms, search_limit_ms,
	max_evaluations, seed, evaluations, best_algorithm, best_params, best_score,
	error, duration_ms, created_at, started_at, finished_at`

// ErrNotFound is returned when a run is not found.
var ErrNotFound = errors.New("run not found")

// Compile-time interface satisfaction check.
var _ Store = (*SQLiteStore)(nil)

// SQLiteStore implements Store using SQLite.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLiteStore opens the SQLite database at dbPath and runs migrations.
func NewSQLiteStore(dbPath string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	// Every pooled connection to ":memory:" would get its own empty database.
	if dbPath == ":memory:" {
		db.SetMaxOpenConns(1)
	}

	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("set WAL mode: %w", err)
	}

	if _, err := db.Exec("PRAGMA busy_timeout = 5000"); err != nil {
		db.Close()
		return nil, fmt.Errorf("set busy timeout: %w", err)
	}

	for i, m := range migrations {
		if _, err := db.Exec(m); err != nil {
			db.Close()
			return nil, fmt.Errorf("run migration %d: %w", i, err)
		}
	}

	return &SQLiteStore{db: db}, nil
}

// Ping verifies the database is reachable.
func (s *SQLiteStore) Ping(ctx context.Context) error {
	if err := s.db.PingContext(ctx); err != nil {
		return fmt.Errorf("ping sqlite: %w", err)
	}
	return nil
}

// Close closes the underlying database connection.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanRun(sc rowScanner) (*model.Run, error) {
	r := &model.Run{}
	var algorithms, bestAlgorithm, bestParams, errMsg sql.NullString
	if err := sc.Scan(
		&r.ID, &r.Status, &r.Evaluator, &algorithms, &r.TotalTimeMS, &r.SearchLimitMS,
		&r.MaxEvaluations, &r.Seed, &r.Evaluations, &bestAlgorithm, &bestParams, &r.BestScore,
		&errMsg, &r.DurationMS, &r.CreatedAt, &r.StartedAt, &r.FinishedAt,
	); err != nil {
		return nil, err
	}
	if algorithms.Valid && algorithms.String != "" {
		if err := json.Unmarshal([]byte(algorithms.String), &r.Algorithms); err != nil {
			return nil, fmt.Errorf("decode algorithms: %w", err)
		}
	}
	r.BestAlgorithm = bestAlgorithm.String
	r.BestParams = bestParams.String
	r.Error = errMsg.String
	return r, nil
}

func encodeAlgorithms(names []string) (any, error) {
	if len(names) == 0 {
		return nil, nil
	}
	b, err := json.Marshal(names)
	if err != nil {
		return nil, fmt.Errorf("encode algorithms: %w", err)
	}
	return string(b), nil
}

// CreateRun inserts a new run record.
func (s *SQLiteStore) CreateRun(ctx context.Context, r *model.Run) error {
	algorithms, err := encodeAlgorithms(r.Algorithms)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO runs (`+runColumns+`) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		r.ID, r.Status, r.Evaluator, algorithms, r.TotalTimeMS, r.SearchLimitMS,
		r.MaxEvaluations, r.Seed, r.Evaluations, r.BestAlgorithm, r.BestParams, r.BestScore,
		r.Error, r.DurationMS, r.CreatedAt, r.StartedAt, r.FinishedAt,
	)
	if err != nil {
		return fmt.Errorf("insert run: %w", err)
	}
	return nil
}

// GetRun retrieves a run by ID.
func (s *SQLiteStore) GetRun(ctx context.Context, id string) (*model.Run, error) {
	r, err := scanRun(s.db.QueryRowContext(ctx,
		`SELECT `+runColumns+` FROM runs WHERE id = ?`, id,
	))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get run: %w", err)
	}
	return r, nil
}

// ListRuns returns a paginated list of runs ordered by created_at DESC,
// along with the total count of all runs.
func (s *SQLiteStore) ListRuns(ctx context.Context, limit, offset int) ([]*model.Run, int, error) {
	tx, err := s.db.BeginTx(ctx, &sql.TxOptions{ReadOnly: true})
	if err != nil {
		return nil, 0, fmt.Errorf("begin read tx: %w", err)
	}
	defer tx.Rollback()

	var total int
	if err := tx.QueryRowContext(ctx, "SELECT COUNT(*) FROM runs").Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("count runs: %w", err)
	}

	rows, err := tx.QueryContext(ctx,
		`SELECT `+runColumns+` FROM runs ORDER BY created_at DESC, id DESC LIMIT ? OFFSET ?`, limit, offset,
	)
	if err != nil {
		return nil, 0, fmt.Errorf("list runs: %w", err)
	}
	defer rows.Close()

	var runs []*model.Run
	for rows.Next() {
		r, err := scanRun(rows)
		if err != nil {
			return nil, 0, fmt.Errorf("scan run: %w", err)
		}
		runs = append(runs, r)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, fmt.Errorf("iterate runs: %w", err)
	}

	return runs, total, nil
}

// currentStatus reads a run's status inside tx.
func currentStatus(ctx context.Context, tx *sql.Tx, id string) (string, error) {
	var status string
	err := tx.QueryRowContext(ctx, "SELECT status FROM runs WHERE id = ?", id).Scan(&status)
	if errors.Is(err, sql.ErrNoRows) {
		return "", ErrNotFound
	}
	if err != nil {
		return "", fmt.Errorf("read run status: %w", err)
	}
	return status, nil
}

// UpdateRunStatus moves a run to status if the transition is allowed. Moving
// to running sets started_at; terminal statuses set finished_at.
func (s *SQLiteStore) UpdateRunStatus(ctx context.Context, id, status string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	from, err := currentStatus(ctx, tx, id)
	if err != nil {
		return err
	}
	if !model.ValidTransition(from, status) {
		return fmt.Errorf("%w: %s → %s", ErrInvalidTransition, from, status)
	}

	now := time.Now().UTC()
	switch {
	case status == model.StatusRunning:
		_, err = tx.ExecContext(ctx,
			"UPDATE runs SET status = ?, started_at = ? WHERE id = ?", status, now, id)
	case model.IsTerminal(status):
		_, err = tx.ExecContext(ctx,
			"UPDATE runs SET status = ?, finished_at = ? WHERE id = ?", status, now, id)
	default:
		_, err = tx.ExecContext(ctx,
			"UPDATE runs SET status = ? WHERE id = ?", status, id)
	}
	if err != nil {
		return fmt.Errorf("update run status: %w", err)
	}

	return tx.Commit()
}

// UpdateRun writes the outcome fields of a run whose status transition from
// the stored status is allowed.
func (s *SQLiteStore) UpdateRun(ctx context.Context, r *model.Run) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	from, err := currentStatus(ctx, tx, r.ID)
	if err != nil {
		return err
	}
	if from != r.Status && !model.ValidTransition(from, r.Status) {
		return fmt.Errorf("%w: %s → %s", ErrInvalidTransition, from, r.Status)
	}

	_, err = tx.ExecContext(ctx,
		`UPDATE runs SET status = ?, evaluations = ?, best_algorithm = ?, best_params = ?,
			best_score = ?, error = ?, duration_ms = ?,
			started_at = COALESCE(?, started_at), finished_at = COALESCE(?, finished_at)
		WHERE id = ?`,
		r.Status, r.Evaluations, r.BestAlgorithm, r.BestParams,
		r.BestScore, r.Error, r.DurationMS,
		r.StartedAt, r.FinishedAt, r.ID,
	)
	if err != nil {
		return fmt.Errorf("update run: %w", err)
	}

	return tx.Commit()
}

// GetRunStats returns aggregate statistics across all runs.
func (s *SQLiteStore) GetRunStats(ctx context.Context) (*RunStats, error) {
	tx, err := s.db.BeginTx(ctx, &sql.TxOptions{ReadOnly: true})
	if err != nil {
		return nil, fmt.Errorf("begin read tx: %w", err)
	}
	defer tx.Rollback()

	stats := &RunStats{
		CountByStatus:    make(map[string]int),
		CountByEvaluator: make(map[string]int),
	}

	var avg sql.NullFloat64
	var evals sql.NullInt64
	if err := tx.QueryRowContext(ctx,
		"SELECT COUNT(*), AVG(duration_ms), SUM(evaluations) FROM runs",
	).Scan(&stats.Total, &avg, &evals); err != nil {
		return nil, fmt.Errorf("aggregate runs: %w", err)
	}
	stats.AvgDurationMS = avg.Float64
	stats.TotalEvaluations = int(evals.Int64)

	if err := groupCounts(ctx, tx, "status", stats.CountByStatus); err != nil {
		return nil, err
	}
	if err := groupCounts(ctx, tx, "evaluator", stats.CountByEvaluator); err != nil {
		return nil, err
	}

	var rate sql.NullFloat64
	if err := tx.QueryRowContext(ctx,
		"SELECT AVG(exceeded_limit) FROM activities WHERE time_limit_ms IS NOT NULL",
	).Scan(&rate); err != nil {
		return nil, fmt.Errorf("aggregate activities: %w", err)
	}
	stats.ExceededLimitRate = rate.Float64

	return stats, nil
}

// groupCounts fills dst with run counts grouped by column, which must be a
// trusted column name.
func groupCounts(ctx context.Context, tx *sql.Tx, column string, dst map[string]int) error {
	rows, err := tx.QueryContext(ctx, "SELECT "+column+", COUNT(*) FROM runs GROUP BY "+column)
	if err != nil {
		return fmt.Errorf("count by %s: %w", column, err)
	}
	defer rows.Close()

	for rows.Next() {
		var key string
		var n int
		if err := rows.Scan(&key, &n); err != nil {
			return fmt.Errorf("scan %s count: %w", column, err)
		}
		dst[key] = n
	}
	return rows.Err()
}

// InsertActivity appends an activity record to a run's audit trail.
func (s *SQLiteStore) InsertActivity(ctx context.Context, a *model.ActivityRecord) error {
	res, err := s.db.ExecContext(ctx,
		`INSERT INTO activities (run_id, seq, name, time_limit_ms, elapsed_ms, exceeded_limit, error, started_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		a.RunID, a.Seq, a.Name, a.TimeLimitMS, a.ElapsedMS, a.ExceededLimit, a.Error, a.StartedAt,
	)
	if err != nil {
		return fmt.Errorf("insert activity: %w", err)
	}
	if id, err := res.LastInsertId(); err == nil {
		a.ID = id
	}
	return nil
}

// ListActivities returns a run's activity records in start order.
func (s *SQLiteStore) ListActivities(ctx context.Context, runID string) ([]model.ActivityRecord, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, run_id, seq, name, time_limit_ms, elapsed_ms, exceeded_limit, error, started_at
		FROM activities WHERE run_id = ? ORDER BY seq`, runID,
	)
	if err != nil {
		return nil, fmt.Errorf("list activities: %w", err)
	}
	defer rows.Close()

	var out []model.ActivityRecord
	for rows.Next() {
		var a model.ActivityRecord
		var errMsg sql.NullString
		if err := rows.Scan(&a.ID, &a.RunID, &a.Seq, &a.Name, &a.TimeLimitMS, &a.ElapsedMS,
			&a.ExceededLimit, &errMsg, &a.StartedAt); err != nil {
			return nil, fmt.Errorf("scan activity: %w", err)
		}
		a.Error = errMsg.String
		out = append(out, a)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate activities: %w", err)
	}
	return out, nil
}

// InsertEvaluation records one scored candidate of a run.
func (s *SQLiteStore) InsertEvaluation(ctx context.Context, e *model.Evaluation) error {
	res, err := s.db.ExecContext(ctx,
		`INSERT INTO evaluations (run_id, seq, algorithm, params, score, duration_ms, error, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		e.RunID, e.Seq, e.Algorithm, e.Params, e.Score, e.DurationMS, e.Error, e.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("insert evaluation: %w", err)
	}
	if id, err := res.LastInsertId(); err == nil {
		e.ID = id
	}
	return nil
}

// ListEvaluations returns a run's evaluations in sequence order.
func (s *SQLiteStore) ListEvaluations(ctx context.Context, runID string) ([]model.Evaluation, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, run_id, seq, algorithm, params, score, duration_ms, error, created_at
		FROM evaluations WHERE run_id = ? ORDER BY seq`, runID,
	)
	if err != nil {
		return nil, fmt.Errorf("list evaluations: %w", err)
	}
	defer rows.Close()

	var out []model.Evaluation
	for rows.Next() {
		var e model.Evaluation
		var errMsg sql.NullString
		if err := rows.Scan(&e.ID, &e.RunID, &e.Seq, &e.Algorithm, &e.Params, &e.Score,
			&e.DurationMS, &errMsg, &e.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan evaluation: %w", err)
		}
		e.Error = errMsg.String
		out = append(out, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate evaluations: %w", err)
	}
	return out, nil
}

// InsertEvent persists one progress line of a run.
func (s *SQLiteStore) InsertEvent(ctx context.Context, runID string, seq int, line string) error {
	_, err := s.db.ExecContext(ctx,
		"INSERT INTO events (run_id, seq, line, created_at) VALUES (?, ?, ?, ?)",
		runID, seq, line, time.Now().UTC(),
	)
	if err != nil {
		return fmt.Errorf("insert event: %w", err)
	}
	return nil
}

// ListEvents returns a run's progress lines in sequence order.
func (s *SQLiteStore) ListEvents(ctx context.Context, runID string) ([]model.Event, error) {
	rows, err := s.db.QueryContext(ctx,
		"SELECT id, run_id, seq, line, created_at FROM events WHERE run_id = ? ORDER BY seq", runID,
	)
	if err != nil {
		return nil, fmt.Errorf("list events: %w", err)
	}
	defer rows.Close()

	var out []model.Event
	for rows.Next() {
		var ev model.Event
		if err := rows.Scan(&ev.ID, &ev.RunID, &ev.Seq, &ev.Line, &ev.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan event: %w", err)
		}
		out = append(out, ev)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate events: %w", err)
	}
	return out, nil
}
