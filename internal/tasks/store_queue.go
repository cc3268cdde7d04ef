package tasks

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

const taskColumns = "id, name, queue_name, args_json, status, retries, max_retries, last_error, next_retry_at, last_heartbeat, created_at, updated_at"

// Enqueue records a new task for at-least-once delivery on the named queue.
func (s *Store) Enqueue(ctx context.Context, name, argsJSON, queueName string, maxRetries int) (*Task, error) {
	ctx = ensureContext(ctx)
	if name == "" {
		return nil, errors.New("task name is required")
	}
	if queueName == "" {
		queueName = QueueProcessing
	}
	if maxRetries < 0 {
		maxRetries = 0
	}
	now := time.Now().UTC()
	task := &Task{
		ID:         uuid.New().String(),
		Name:       name,
		QueueName:  queueName,
		ArgsJSON:   argsJSON,
		Status:     StatusQueued,
		MaxRetries: maxRetries,
		CreatedAt:  now,
		UpdatedAt:  now,
	}
	query := `INSERT INTO tasks (` + taskColumns + `)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`
	_, err := s.execWithRetry(ctx, query,
		task.ID,
		task.Name,
		task.QueueName,
		nullableString(task.ArgsJSON),
		string(task.Status),
		task.Retries,
		task.MaxRetries,
		nullableString(task.LastError),
		nullableTime(task.NextRetryAt),
		nullableTime(task.LastHeartbeat),
		task.CreatedAt.Format(time.RFC3339Nano),
		task.UpdatedAt.Format(time.RFC3339Nano),
	)
	if err != nil {
		return nil, fmt.Errorf("enqueue task: %w", err)
	}
	return task, nil
}

// Claim atomically takes the oldest deliverable task from the named queue and
// marks it running. A nil task means the queue has nothing deliverable.
func (s *Store) Claim(ctx context.Context, queueName string) (*Task, error) {
	ctx = ensureContext(ctx)
	now := time.Now().UTC()
	nowStr := now.Format(time.RFC3339Nano)

	var task *Task
	err := retryOnBusy(ctx, func() error {
		tx, txErr := s.db.BeginTx(ctx, nil)
		if txErr != nil {
			return fmt.Errorf("begin claim tx: %w", txErr)
		}
		defer func() { _ = tx.Rollback() }()

		row := tx.QueryRowContext(ctx, `SELECT `+taskColumns+` FROM tasks
			WHERE queue_name = ? AND status = ?
			  AND (next_retry_at IS NULL OR next_retry_at <= ?)
			ORDER BY created_at ASC
			LIMIT 1`, queueName, string(StatusQueued), nowStr)
		claimed, scanErr := scanTask(row)
		if scanErr != nil {
			if errors.Is(scanErr, sql.ErrNoRows) {
				task = nil
				return nil
			}
			return scanErr
		}

		res, execErr := tx.ExecContext(ctx, `UPDATE tasks
			SET status = ?, last_heartbeat = ?, updated_at = ?
			WHERE id = ? AND status = ?`,
			string(StatusRunning), nowStr, nowStr, claimed.ID, string(StatusQueued))
		if execErr != nil {
			return fmt.Errorf("mark task running: %w", execErr)
		}
		affected, _ := res.RowsAffected()
		if affected == 0 {
			// Lost the race to another claimer.
			task = nil
			return tx.Commit()
		}
		if commitErr := tx.Commit(); commitErr != nil {
			return fmt.Errorf("commit claim: %w", commitErr)
		}
		claimed.Status = StatusRunning
		claimed.LastHeartbeat = &now
		claimed.UpdatedAt = now
		task = claimed
		return nil
	})
	if err != nil {
		return nil, err
	}
	return task, nil
}

// Ack marks a running task as succeeded.
func (s *Store) Ack(ctx context.Context, taskID string) error {
	return s.setStatus(ctx, taskID, StatusSucceeded, "")
}

// MarkFailed marks a task as permanently failed without dead-lettering it.
func (s *Store) MarkFailed(ctx context.Context, taskID, reason string) error {
	return s.setStatus(ctx, taskID, StatusFailed, reason)
}

func (s *Store) setStatus(ctx context.Context, taskID string, status Status, lastError string) error {
	ctx = ensureContext(ctx)
	now := time.Now().UTC().Format(time.RFC3339Nano)
	res, err := s.execWithRetry(ctx, `UPDATE tasks
		SET status = ?, last_error = ?, next_retry_at = NULL, updated_at = ?
		WHERE id = ?`,
		string(status), nullableString(lastError), now, taskID)
	if err != nil {
		return fmt.Errorf("update task status: %w", err)
	}
	affected, _ := res.RowsAffected()
	if affected == 0 {
		return ErrNotFound
	}
	return nil
}

// Retry returns a task to the queue with an incremented retry counter. The
// task becomes deliverable again once delay has elapsed.
func (s *Store) Retry(ctx context.Context, taskID string, delay time.Duration, lastError string) error {
	ctx = ensureContext(ctx)
	now := time.Now().UTC()
	nextRetry := now.Add(delay)
	res, err := s.execWithRetry(ctx, `UPDATE tasks
		SET status = ?, retries = retries + 1, last_error = ?, next_retry_at = ?, last_heartbeat = NULL, updated_at = ?
		WHERE id = ?`,
		string(StatusQueued),
		nullableString(lastError),
		nextRetry.Format(time.RFC3339Nano),
		now.Format(time.RFC3339Nano),
		taskID)
	if err != nil {
		return fmt.Errorf("requeue task: %w", err)
	}
	affected, _ := res.RowsAffected()
	if affected == 0 {
		return ErrNotFound
	}
	return nil
}

// UpdateHeartbeat stamps a running task so the stale reclaimer leaves it alone.
func (s *Store) UpdateHeartbeat(ctx context.Context, taskID string) error {
	ctx = ensureContext(ctx)
	now := time.Now().UTC().Format(time.RFC3339Nano)
	res, err := s.execWithRetry(ctx, `UPDATE tasks
		SET last_heartbeat = ?, updated_at = ?
		WHERE id = ? AND status = ?`,
		now, now, taskID, string(StatusRunning))
	if err != nil {
		return fmt.Errorf("update heartbeat: %w", err)
	}
	affected, _ := res.RowsAffected()
	if affected == 0 {
		return ErrNotFound
	}
	return nil
}

// ReclaimStale returns running tasks whose heartbeat is older than cutoff back
// to the queue for redelivery. It returns the reclaimed tasks.
func (s *Store) ReclaimStale(ctx context.Context, cutoff time.Time) ([]*Task, error) {
	ctx = ensureContext(ctx)
	cutoffStr := cutoff.UTC().Format(time.RFC3339Nano)

	rows, err := s.db.QueryContext(ctx, `SELECT `+taskColumns+` FROM tasks
		WHERE status = ? AND (last_heartbeat IS NULL OR last_heartbeat < ?)`,
		string(StatusRunning), cutoffStr)
	if err != nil {
		return nil, fmt.Errorf("find stale tasks: %w", err)
	}
	stale, err := collectTasks(rows)
	if err != nil {
		return nil, err
	}
	if len(stale) == 0 {
		return nil, nil
	}

	now := time.Now().UTC().Format(time.RFC3339Nano)
	reclaimed := make([]*Task, 0, len(stale))
	for _, task := range stale {
		res, execErr := s.execWithRetry(ctx, `UPDATE tasks
			SET status = ?, last_heartbeat = NULL, updated_at = ?
			WHERE id = ? AND status = ?`,
			string(StatusQueued), now, task.ID, string(StatusRunning))
		if execErr != nil {
			return reclaimed, fmt.Errorf("reclaim task %s: %w", task.ID, execErr)
		}
		if affected, _ := res.RowsAffected(); affected > 0 {
			task.Status = StatusQueued
			task.LastHeartbeat = nil
			reclaimed = append(reclaimed, task)
		}
	}
	return reclaimed, nil
}

// GetByID fetches a single task.
func (s *Store) GetByID(ctx context.Context, taskID string) (*Task, error) {
	ctx = ensureContext(ctx)
	row := s.db.QueryRowContext(ctx, `SELECT `+taskColumns+` FROM tasks WHERE id = ?`, taskID)
	task, err := scanTask(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return task, nil
}

// List returns tasks filtered by optional queue name and statuses, newest first.
func (s *Store) List(ctx context.Context, queueName string, statuses ...Status) ([]*Task, error) {
	ctx = ensureContext(ctx)
	query := `SELECT ` + taskColumns + ` FROM tasks`
	var (
		clauses []string
		args    []any
	)
	if queueName != "" {
		clauses = append(clauses, "queue_name = ?")
		args = append(args, queueName)
	}
	if len(statuses) > 0 {
		clauses = append(clauses, "status IN ("+makePlaceholders(len(statuses))+")")
		for _, status := range statuses {
			args = append(args, string(status))
		}
	}
	if len(clauses) > 0 {
		query += " WHERE " + joinClauses(clauses)
	}
	query += " ORDER BY created_at DESC"

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list tasks: %w", err)
	}
	return collectTasks(rows)
}

// Stats returns task counts by status across all queues.
func (s *Store) Stats(ctx context.Context) (map[Status]int, error) {
	ctx = ensureContext(ctx)
	rows, err := s.db.QueryContext(ctx, "SELECT status, COUNT(1) FROM tasks GROUP BY status")
	if err != nil {
		return nil, fmt.Errorf("task stats: %w", err)
	}
	defer func() { _ = rows.Close() }()

	stats := make(map[Status]int)
	for rows.Next() {
		var (
			raw   string
			count int
		)
		if err := rows.Scan(&raw, &count); err != nil {
			return nil, fmt.Errorf("scan task stats: %w", err)
		}
		if status, ok := ParseStatus(raw); ok {
			stats[status] = count
		}
	}
	return stats, rows.Err()
}

func joinClauses(clauses []string) string {
	out := ""
	for i, clause := range clauses {
		if i > 0 {
			out += " AND "
		}
		out += clause
	}
	return out
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanTask(row rowScanner) (*Task, error) {
	var (
		task          Task
		argsJSON      sql.NullString
		status        string
		lastError     sql.NullString
		nextRetryAt   sql.NullString
		lastHeartbeat sql.NullString
		createdAt     string
		updatedAt     string
	)
	err := row.Scan(
		&task.ID,
		&task.Name,
		&task.QueueName,
		&argsJSON,
		&status,
		&task.Retries,
		&task.MaxRetries,
		&lastError,
		&nextRetryAt,
		&lastHeartbeat,
		&createdAt,
		&updatedAt,
	)
	if err != nil {
		return nil, err
	}
	task.ArgsJSON = argsJSON.String
	task.LastError = lastError.String
	if parsed, ok := ParseStatus(status); ok {
		task.Status = parsed
	} else {
		task.Status = Status(status)
	}
	if nextRetryAt.Valid {
		if t, parseErr := parseTimeString(nextRetryAt.String); parseErr == nil {
			task.NextRetryAt = &t
		}
	}
	if lastHeartbeat.Valid {
		if t, parseErr := parseTimeString(lastHeartbeat.String); parseErr == nil {
			task.LastHeartbeat = &t
		}
	}
	if t, parseErr := parseTimeString(createdAt); parseErr == nil {
		task.CreatedAt = t
	}
	if t, parseErr := parseTimeString(updatedAt); parseErr == nil {
		task.UpdatedAt = t
	}
	return &task, nil
}

func collectTasks(rows *sql.Rows) ([]*Task, error) {
	defer func() { _ = rows.Close() }()
	var out []*Task
	for rows.Next() {
		task, err := scanTask(rows)
		if err != nil {
			return nil, fmt.Errorf("scan task: %w", err)
		}
		out = append(out, task)
	}
	return out, rows.Err()
}
