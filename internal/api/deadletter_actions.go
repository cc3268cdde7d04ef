package api

import (
	"context"
	"fmt"

	"docflow/internal/config"
	"docflow/internal/tasks"
)

// ListDeadLetters returns dead-letter records, optionally only those not yet
// replayed.
func ListDeadLetters(ctx context.Context, cfg *config.Config, unreplayedOnly bool) ([]*tasks.DeadLetter, error) {
	store, err := tasks.Open(cfg)
	if err != nil {
		return nil, fmt.Errorf("open task store: %w", err)
	}
	defer store.Close()
	return store.DeadLetters(ctx, unreplayedOnly)
}

// ReplayDeadLetter re-enqueues a dead-lettered task with a fresh retry budget.
// The dead-letter record stays behind as history.
func ReplayDeadLetter(ctx context.Context, cfg *config.Config, deadLetterID string) (*tasks.Task, error) {
	store, err := tasks.Open(cfg)
	if err != nil {
		return nil, fmt.Errorf("open task store: %w", err)
	}
	defer store.Close()

	task, err := store.Replay(ctx, deadLetterID)
	if err != nil {
		return nil, fmt.Errorf("replay dead letter: %w", err)
	}
	return task, nil
}
