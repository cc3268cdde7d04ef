package documents

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// StepSpec describes one catalog entry used to pre-materialize run steps.
type StepSpec struct {
	Name     string
	TaskType string
}

// CreateRun inserts a playbook run with every step pre-materialized as
// pending, in catalog order.
func (s *Store) CreateRun(ctx context.Context, documentID, playbookID, category string, steps []StepSpec) (*PlaybookRun, error) {
	if len(steps) == 0 {
		return nil, errors.New("playbook run requires at least one step")
	}
	now := time.Now().UTC()
	runID := uuid.NewString()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin run tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	_, err = tx.ExecContext(
		ctx,
		`INSERT INTO playbook_runs (id, document_id, playbook_id, category, status, created_at)
         VALUES (?, ?, ?, ?, ?, ?)`,
		runID,
		documentID,
		playbookID,
		category,
		RunRunning,
		now.Format(time.RFC3339Nano),
	)
	if err != nil {
		return nil, fmt.Errorf("insert playbook run: %w", err)
	}

	for i, step := range steps {
		_, err = tx.ExecContext(
			ctx,
			`INSERT INTO playbook_steps (id, run_id, step_order, name, task_type, status)
             VALUES (?, ?, ?, ?, ?, ?)`,
			uuid.NewString(),
			runID,
			i+1,
			step.Name,
			step.TaskType,
			StepPending,
		)
		if err != nil {
			return nil, fmt.Errorf("insert playbook step %d: %w", i+1, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit playbook run: %w", err)
	}
	return s.GetRun(ctx, runID)
}

// StartStep marks a pending step running and records the worker identity.
func (s *Store) StartStep(ctx context.Context, stepID, workerID string) error {
	now := time.Now().UTC().Format(time.RFC3339Nano)
	res, err := s.execWithRetry(
		ctx,
		`UPDATE playbook_steps SET status = ?, worker_id = ?, started_at = ? WHERE id = ? AND status = ?`,
		StepRunning,
		workerID,
		now,
		stepID,
		StepPending,
	)
	if err != nil {
		return fmt.Errorf("start playbook step: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return fmt.Errorf("playbook step %s is not pending", stepID)
	}
	return nil
}

// CompleteStep records a step result and its terminal status.
func (s *Store) CompleteStep(ctx context.Context, stepID, resultJSON string, failed bool) error {
	status := StepSucceeded
	if failed {
		status = StepFailed
	}
	_, err := s.execWithRetry(
		ctx,
		`UPDATE playbook_steps SET status = ?, result_json = ?, completed_at = ? WHERE id = ?`,
		status,
		nullableString(resultJSON),
		time.Now().UTC().Format(time.RFC3339Nano),
		stepID,
	)
	if err != nil {
		return fmt.Errorf("complete playbook step: %w", err)
	}
	return nil
}

// CompleteRun records the run's terminal status.
func (s *Store) CompleteRun(ctx context.Context, runID string, status RunStatus) error {
	_, err := s.execWithRetry(
		ctx,
		`UPDATE playbook_runs SET status = ?, completed_at = ? WHERE id = ?`,
		status,
		time.Now().UTC().Format(time.RFC3339Nano),
		runID,
	)
	if err != nil {
		return fmt.Errorf("complete playbook run: %w", err)
	}
	return nil
}

// GetRun fetches a playbook run with its steps in catalog order.
func (s *Store) GetRun(ctx context.Context, runID string) (*PlaybookRun, error) {
	row := s.db.QueryRowContext(
		ctx,
		`SELECT id, document_id, playbook_id, category, status, created_at, completed_at
         FROM playbook_runs WHERE id = ?`,
		runID,
	)
	run, err := scanRun(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("playbook run %s: %w", runID, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("get playbook run: %w", err)
	}

	steps, err := s.stepsForRun(ctx, runID)
	if err != nil {
		return nil, err
	}
	run.Steps = steps
	return run, nil
}

// RunsForDocument returns all playbook runs for a document, oldest first.
func (s *Store) RunsForDocument(ctx context.Context, documentID string) ([]*PlaybookRun, error) {
	rows, err := s.db.QueryContext(
		ctx,
		`SELECT id, document_id, playbook_id, category, status, created_at, completed_at
         FROM playbook_runs WHERE document_id = ? ORDER BY created_at`,
		documentID,
	)
	if err != nil {
		return nil, fmt.Errorf("query playbook runs: %w", err)
	}
	defer rows.Close()

	var runs []*PlaybookRun
	for rows.Next() {
		run, err := scanRun(rows)
		if err != nil {
			return nil, err
		}
		runs = append(runs, run)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	for _, run := range runs {
		steps, err := s.stepsForRun(ctx, run.ID)
		if err != nil {
			return nil, err
		}
		run.Steps = steps
	}
	return runs, nil
}

func (s *Store) stepsForRun(ctx context.Context, runID string) ([]PlaybookStep, error) {
	rows, err := s.db.QueryContext(
		ctx,
		`SELECT id, run_id, step_order, name, task_type, status, worker_id, result_json, started_at, completed_at
         FROM playbook_steps WHERE run_id = ? ORDER BY step_order`,
		runID,
	)
	if err != nil {
		return nil, fmt.Errorf("query playbook steps: %w", err)
	}
	defer rows.Close()

	var steps []PlaybookStep
	for rows.Next() {
		var (
			step         PlaybookStep
			workerID     sql.NullString
			resultJSON   sql.NullString
			startedRaw   sql.NullString
			completedRaw sql.NullString
		)
		if err := rows.Scan(
			&step.ID,
			&step.RunID,
			&step.Order,
			&step.Name,
			&step.TaskType,
			&step.Status,
			&workerID,
			&resultJSON,
			&startedRaw,
			&completedRaw,
		); err != nil {
			return nil, err
		}
		step.WorkerID = workerID.String
		step.ResultJSON = resultJSON.String
		if startedRaw.Valid {
			if started, err := parseTimeString(startedRaw.String); err == nil {
				step.StartedAt = &started
			}
		}
		if completedRaw.Valid {
			if completed, err := parseTimeString(completedRaw.String); err == nil {
				step.CompletedAt = &completed
			}
		}
		steps = append(steps, step)
	}
	return steps, rows.Err()
}

func scanRun(scanner interface{ Scan(dest ...any) error }) (*PlaybookRun, error) {
	var (
		run          PlaybookRun
		createdRaw   string
		completedRaw sql.NullString
	)
	if err := scanner.Scan(
		&run.ID,
		&run.DocumentID,
		&run.PlaybookID,
		&run.Category,
		&run.Status,
		&createdRaw,
		&completedRaw,
	); err != nil {
		return nil, err
	}
	if created, err := parseTimeString(createdRaw); err == nil {
		run.CreatedAt = created
	}
	if completedRaw.Valid {
		if completed, err := parseTimeString(completedRaw.String); err == nil {
			run.CompletedAt = &completed
		}
	}
	return &run, nil
}
