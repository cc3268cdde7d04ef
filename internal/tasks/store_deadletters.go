package tasks

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

const deadLetterColumns = "id, task_id, name, queue_name, args_json, retries, reason, created_at, replayed_at"

// DeadLetter records a task that exhausted its retry budget and marks the
// task itself dead-lettered. The record persists as history even after replay.
func (s *Store) DeadLetter(ctx context.Context, task *Task, reason string) (*DeadLetter, error) {
	ctx = ensureContext(ctx)
	if task == nil {
		return nil, errors.New("task is required")
	}
	now := time.Now().UTC()
	record := &DeadLetter{
		ID:        uuid.New().String(),
		TaskID:    task.ID,
		Name:      task.Name,
		QueueName: task.QueueName,
		ArgsJSON:  task.ArgsJSON,
		Retries:   task.Retries,
		Reason:    reason,
		CreatedAt: now,
	}

	err := retryOnBusy(ctx, func() error {
		tx, txErr := s.db.BeginTx(ctx, nil)
		if txErr != nil {
			return fmt.Errorf("begin dead-letter tx: %w", txErr)
		}
		defer func() { _ = tx.Rollback() }()

		if _, execErr := tx.ExecContext(ctx, `INSERT INTO dead_letters (`+deadLetterColumns+`)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			record.ID,
			record.TaskID,
			record.Name,
			record.QueueName,
			nullableString(record.ArgsJSON),
			record.Retries,
			nullableString(record.Reason),
			record.CreatedAt.Format(time.RFC3339Nano),
			nil,
		); execErr != nil {
			return fmt.Errorf("insert dead letter: %w", execErr)
		}
		if _, execErr := tx.ExecContext(ctx, `UPDATE tasks
			SET status = ?, last_error = ?, next_retry_at = NULL, updated_at = ?
			WHERE id = ?`,
			string(StatusDeadLettered), nullableString(reason), now.Format(time.RFC3339Nano), task.ID,
		); execErr != nil {
			return fmt.Errorf("mark task dead-lettered: %w", execErr)
		}
		return tx.Commit()
	})
	if err != nil {
		return nil, err
	}
	task.Status = StatusDeadLettered
	task.LastError = reason
	return record, nil
}

// Replay re-enqueues a dead-lettered task as a fresh task with a zeroed retry
// counter. The dead-letter record is stamped, not removed.
func (s *Store) Replay(ctx context.Context, deadLetterID string) (*Task, error) {
	ctx = ensureContext(ctx)
	record, err := s.GetDeadLetter(ctx, deadLetterID)
	if err != nil {
		return nil, err
	}

	original, err := s.GetByID(ctx, record.TaskID)
	maxRetries := s.defaultMaxRetries
	if err == nil {
		maxRetries = original.MaxRetries
	} else if !errors.Is(err, ErrNotFound) {
		return nil, err
	}

	task, err := s.Enqueue(ctx, record.Name, record.ArgsJSON, record.QueueName, maxRetries)
	if err != nil {
		return nil, fmt.Errorf("replay dead letter: %w", err)
	}

	now := time.Now().UTC().Format(time.RFC3339Nano)
	if _, err := s.execWithRetry(ctx, `UPDATE dead_letters SET replayed_at = ? WHERE id = ?`,
		now, record.ID); err != nil {
		return task, fmt.Errorf("stamp dead letter replay: %w", err)
	}
	return task, nil
}

// GetDeadLetter fetches a single dead-letter record.
func (s *Store) GetDeadLetter(ctx context.Context, id string) (*DeadLetter, error) {
	ctx = ensureContext(ctx)
	row := s.db.QueryRowContext(ctx, `SELECT `+deadLetterColumns+` FROM dead_letters WHERE id = ?`, id)
	record, err := scanDeadLetter(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return record, nil
}

// DeadLetters lists dead-letter records, newest first. When unreplayedOnly is
// set, records already replayed are skipped.
func (s *Store) DeadLetters(ctx context.Context, unreplayedOnly bool) ([]*DeadLetter, error) {
	ctx = ensureContext(ctx)
	query := `SELECT ` + deadLetterColumns + ` FROM dead_letters`
	if unreplayedOnly {
		query += " WHERE replayed_at IS NULL"
	}
	query += " ORDER BY created_at DESC"

	rows, err := s.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("list dead letters: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var out []*DeadLetter
	for rows.Next() {
		record, scanErr := scanDeadLetter(rows)
		if scanErr != nil {
			return nil, fmt.Errorf("scan dead letter: %w", scanErr)
		}
		out = append(out, record)
	}
	return out, rows.Err()
}

func scanDeadLetter(row rowScanner) (*DeadLetter, error) {
	var (
		record     DeadLetter
		argsJSON   sql.NullString
		reason     sql.NullString
		createdAt  string
		replayedAt sql.NullString
	)
	err := row.Scan(
		&record.ID,
		&record.TaskID,
		&record.Name,
		&record.QueueName,
		&argsJSON,
		&record.Retries,
		&reason,
		&createdAt,
		&replayedAt,
	)
	if err != nil {
		return nil, err
	}
	record.ArgsJSON = argsJSON.String
	record.Reason = reason.String
	if t, parseErr := parseTimeString(createdAt); parseErr == nil {
		record.CreatedAt = t
	}
	if replayedAt.Valid {
		if t, parseErr := parseTimeString(replayedAt.String); parseErr == nil {
			record.ReplayedAt = &t
		}
	}
	return &record, nil
}
