package db

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/metalagman/duet/internal/contract"
	"github.com/metalagman/duet/internal/engine"
)

// Run statuses.
const (
	StatusRunning  = "running"
	StatusFinished = "finished"
	StatusFailed   = "failed"
)

// timeFormat is fixed-width so stored timestamps sort lexically.
const timeFormat = "2006-01-02T15:04:05.000000000Z07:00"

// ErrRunNotFound is returned for an unknown run id.
var ErrRunNotFound = errors.New("run not found")

// Store provides persistence for runs, iterations and events.
type Store struct {
	db *sql.DB
}

// NewStore creates a store for run persistence.
func NewStore(db *sql.DB) *Store {
	return &Store{db: db}
}

// DB returns the underlying database handle.
func (s *Store) DB() *sql.DB {
	return s.db
}

// RunSummary is one row of the runs table.
type RunSummary struct {
	RunID        string
	CreatedAt    time.Time
	Request      string
	Status       string
	Termination  string
	Success      bool
	Iterations   int
	InputTokens  int
	OutputTokens int
	Duration     time.Duration
	Error        string
}

// IterationRow is a stored iteration record.
type IterationRow struct {
	Iteration    int
	Plan         *contract.Plan
	Fingerprint  string
	Critique     *contract.Critique
	ActorTokens  [2]int
	CriticTokens [2]int
	CreatedAt    time.Time
}

// RunDetail is a run with its final plan, iterations and events.
type RunDetail struct {
	RunSummary
	FinalPlan  *contract.Plan
	Iterations []IterationRow
	Events     []Event
}

// Event represents a timeline event for a run.
type Event struct {
	Seq      int
	Time     time.Time
	Type     string
	Message  string
	DataJSON string
}

// CreateRun inserts the run record and a run_started event.
func (s *Store) CreateRun(ctx context.Context, runID, request string) error {
	createdAt := time.Now().UTC().Format(timeFormat)
	tx, err := s.db.BeginTx(ctx, &sql.TxOptions{})
	if err != nil {
		return fmt.Errorf("begin create run: %w", err)
	}
	if _, err := tx.ExecContext(ctx, `INSERT INTO runs(run_id, created_at, request, status) VALUES(?, ?, ?, ?)`,
		runID, createdAt, request, StatusRunning); err != nil {
		_ = tx.Rollback()
		return fmt.Errorf("insert run: %w", err)
	}
	if err := s.insertEvent(ctx, tx, runID, "run_started", "run started", ""); err != nil {
		_ = tx.Rollback()
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit create run: %w", err)
	}
	return nil
}

// RecordIteration stores one evaluated plan and an iteration event.
func (s *Store) RecordIteration(ctx context.Context, runID string, rec engine.IterationRecord) error {
	planJSON, err := contract.Serialize(rec.Plan)
	if err != nil {
		return fmt.Errorf("serialize plan: %w", err)
	}
	fingerprint, err := contract.Fingerprint(rec.Plan)
	if err != nil {
		return fmt.Errorf("fingerprint plan: %w", err)
	}
	var critiqueJSON, decision string
	issues := 0
	if rec.Critique != nil {
		if critiqueJSON, err = contract.Serialize(rec.Critique); err != nil {
			return fmt.Errorf("serialize critique: %w", err)
		}
		decision = string(rec.Critique.Decision)
		issues = rec.Critique.IssueCount()
	}

	tx, err := s.db.BeginTx(ctx, &sql.TxOptions{})
	if err != nil {
		return fmt.Errorf("begin record iteration: %w", err)
	}
	if _, err := tx.ExecContext(ctx, `INSERT INTO iterations(run_id, iteration, plan_json, plan_fingerprint, critique_json, decision, issues,
		actor_input_tokens, actor_output_tokens, critic_input_tokens, critic_output_tokens, created_at)
		VALUES(?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		runID, rec.Iteration, planJSON, fingerprint, nullableString(critiqueJSON), nullableString(decision), issues,
		rec.Actor.InputTokens, rec.Actor.OutputTokens, rec.Critic.InputTokens, rec.Critic.OutputTokens,
		rec.Timestamp.UTC().Format(timeFormat)); err != nil {
		_ = tx.Rollback()
		return fmt.Errorf("insert iteration: %w", err)
	}
	data, _ := json.Marshal(map[string]any{"iteration": rec.Iteration, "decision": decision, "issues": issues})
	if err := s.insertEvent(ctx, tx, runID, "iteration", fmt.Sprintf("iteration %d: %s", rec.Iteration, decision), string(data)); err != nil {
		_ = tx.Rollback()
		return err
	}
	if _, err := tx.ExecContext(ctx, `UPDATE runs SET iterations=? WHERE run_id=?`, rec.Iteration, runID); err != nil {
		_ = tx.Rollback()
		return fmt.Errorf("update run: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit iteration: %w", err)
	}
	return nil
}

// FinishRun stores the final result of a run.
func (s *Store) FinishRun(ctx context.Context, res *engine.Result) error {
	planJSON, err := contract.Serialize(res.FinalPlan)
	if err != nil {
		return fmt.Errorf("serialize final plan: %w", err)
	}
	tx, err := s.db.BeginTx(ctx, &sql.TxOptions{})
	if err != nil {
		return fmt.Errorf("begin finish run: %w", err)
	}
	if _, err := tx.ExecContext(ctx, `UPDATE runs SET status=?, termination=?, success=?, iterations=?, input_tokens=?, output_tokens=?,
		duration_ms=?, final_plan_json=? WHERE run_id=?`,
		StatusFinished, string(res.Termination), res.Success, res.Iterations, res.InputTokens, res.OutputTokens,
		res.Duration.Milliseconds(), planJSON, res.RunID); err != nil {
		_ = tx.Rollback()
		return fmt.Errorf("update run: %w", err)
	}
	if err := s.insertEvent(ctx, tx, res.RunID, "run_finished", "run finished: "+string(res.Termination), ""); err != nil {
		_ = tx.Rollback()
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit finish run: %w", err)
	}
	return nil
}

// FailRun marks a run failed with termination "error".
func (s *Store) FailRun(ctx context.Context, runID string, runErr error) error {
	tx, err := s.db.BeginTx(ctx, &sql.TxOptions{})
	if err != nil {
		return fmt.Errorf("begin fail run: %w", err)
	}
	if _, err := tx.ExecContext(ctx, `UPDATE runs SET status=?, termination=?, success=0, error=? WHERE run_id=?`,
		StatusFailed, string(engine.TerminationError), runErr.Error(), runID); err != nil {
		_ = tx.Rollback()
		return fmt.Errorf("update run: %w", err)
	}
	if err := s.insertEvent(ctx, tx, runID, "run_failed", runErr.Error(), ""); err != nil {
		_ = tx.Rollback()
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit fail run: %w", err)
	}
	return nil
}

// AddEvent appends an event to a run's timeline.
func (s *Store) AddEvent(ctx context.Context, runID, typ, message, dataJSON string) error {
	tx, err := s.db.BeginTx(ctx, &sql.TxOptions{})
	if err != nil {
		return fmt.Errorf("begin add event: %w", err)
	}
	if err := s.insertEvent(ctx, tx, runID, typ, message, dataJSON); err != nil {
		_ = tx.Rollback()
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit event: %w", err)
	}
	return nil
}

const runColumns = `run_id, created_at, request, status, COALESCE(termination, ''), success, iterations,
	input_tokens, output_tokens, duration_ms, COALESCE(error, '')`

// ListRuns returns the most recent runs first. A limit <= 0 returns all.
func (s *Store) ListRuns(ctx context.Context, limit int) ([]RunSummary, error) {
	query := `SELECT ` + runColumns + ` FROM runs ORDER BY created_at DESC`
	args := []any{}
	if limit > 0 {
		query += ` LIMIT ?`
		args = append(args, limit)
	}
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list runs: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var out []RunSummary
	for rows.Next() {
		r, err := scanRun(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate runs: %w", err)
	}
	return out, nil
}

// GetRun loads a run with its iterations and events.
func (s *Store) GetRun(ctx context.Context, runID string) (*RunDetail, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+runColumns+`, COALESCE(final_plan_json, '') FROM runs WHERE run_id=?`, runID)
	var (
		detail   RunDetail
		planJSON string
	)
	summary, err := scanRun(row, &planJSON)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", ErrRunNotFound, runID)
	}
	if err != nil {
		return nil, err
	}
	detail.RunSummary = summary
	if planJSON != "" {
		if detail.FinalPlan, err = contract.ParsePlan(planJSON); err != nil {
			return nil, fmt.Errorf("decode final plan: %w", err)
		}
	}
	if detail.Iterations, err = s.iterations(ctx, runID); err != nil {
		return nil, err
	}
	if detail.Events, err = s.events(ctx, runID); err != nil {
		return nil, err
	}
	return &detail, nil
}

func (s *Store) iterations(ctx context.Context, runID string) ([]IterationRow, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT iteration, plan_json, plan_fingerprint, COALESCE(critique_json, ''),
		actor_input_tokens, actor_output_tokens, critic_input_tokens, critic_output_tokens, created_at
		FROM iterations WHERE run_id=? ORDER BY iteration`, runID)
	if err != nil {
		return nil, fmt.Errorf("list iterations: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var out []IterationRow
	for rows.Next() {
		var (
			it                     IterationRow
			planJSON, critiqueJSON string
			createdAt              string
		)
		if err := rows.Scan(&it.Iteration, &planJSON, &it.Fingerprint, &critiqueJSON,
			&it.ActorTokens[0], &it.ActorTokens[1], &it.CriticTokens[0], &it.CriticTokens[1], &createdAt); err != nil {
			return nil, fmt.Errorf("scan iteration: %w", err)
		}
		if it.Plan, err = contract.ParsePlan(planJSON); err != nil {
			return nil, fmt.Errorf("decode iteration %d plan: %w", it.Iteration, err)
		}
		if critiqueJSON != "" {
			if it.Critique, err = contract.ParseCritique(critiqueJSON); err != nil {
				return nil, fmt.Errorf("decode iteration %d critique: %w", it.Iteration, err)
			}
		}
		it.CreatedAt, _ = time.Parse(timeFormat, createdAt)
		out = append(out, it)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate iterations: %w", err)
	}
	return out, nil
}

func (s *Store) events(ctx context.Context, runID string) ([]Event, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT seq, ts, type, message, COALESCE(data_json, '') FROM events WHERE run_id=? ORDER BY seq`, runID)
	if err != nil {
		return nil, fmt.Errorf("list events: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var out []Event
	for rows.Next() {
		var (
			ev Event
			ts string
		)
		if err := rows.Scan(&ev.Seq, &ts, &ev.Type, &ev.Message, &ev.DataJSON); err != nil {
			return nil, fmt.Errorf("scan event: %w", err)
		}
		ev.Time, _ = time.Parse(timeFormat, ts)
		out = append(out, ev)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate events: %w", err)
	}
	return out, nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanRun(row scanner, extra ...any) (RunSummary, error) {
	var (
		r          RunSummary
		createdAt  string
		durationMS int64
	)
	dest := append([]any{&r.RunID, &createdAt, &r.Request, &r.Status, &r.Termination, &r.Success, &r.Iterations,
		&r.InputTokens, &r.OutputTokens, &durationMS, &r.Error}, extra...)
	if err := row.Scan(dest...); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return r, err
		}
		return r, fmt.Errorf("scan run: %w", err)
	}
	r.CreatedAt, _ = time.Parse(timeFormat, createdAt)
	r.Duration = time.Duration(durationMS) * time.Millisecond
	return r, nil
}

func (s *Store) insertEvent(ctx context.Context, tx *sql.Tx, runID, typ, message, dataJSON string) error {
	seq, err := s.nextSeq(ctx, tx, runID)
	if err != nil {
		return err
	}
	ts := time.Now().UTC().Format(timeFormat)
	if _, err := tx.ExecContext(ctx, `INSERT INTO events(run_id, seq, ts, type, message, data_json) VALUES(?, ?, ?, ?, ?, ?)`,
		runID, seq, ts, typ, message, nullableString(dataJSON)); err != nil {
		return fmt.Errorf("insert event: %w", err)
	}
	return nil
}

func (s *Store) nextSeq(ctx context.Context, tx *sql.Tx, runID string) (int, error) {
	var seq int
	row := tx.QueryRowContext(ctx, `SELECT COALESCE(MAX(seq), 0) FROM events WHERE run_id=?`, runID)
	if err := row.Scan(&seq); err != nil {
		return 0, fmt.Errorf("read event seq: %w", err)
	}
	return seq + 1, nil
}

func nullableString(value string) any {
	if value == "" {
		return nil
	}
	return value
}
