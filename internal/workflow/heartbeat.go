package workflow

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"docflow/internal/logging"
	"docflow/internal/tasks"
)

// HeartbeatMonitor manages task heartbeats and stale task reclamation.
type HeartbeatMonitor struct {
	store             *tasks.Store
	logger            *slog.Logger
	heartbeatInterval time.Duration
	heartbeatTimeout  time.Duration
}

// NewHeartbeatMonitor creates a new monitor.
func NewHeartbeatMonitor(store *tasks.Store, logger *slog.Logger, interval, timeout time.Duration) *HeartbeatMonitor {
	return &HeartbeatMonitor{
		store:             store,
		logger:            logger,
		heartbeatInterval: interval,
		heartbeatTimeout:  timeout,
	}
}

// Interval returns the heartbeat update cadence.
func (h *HeartbeatMonitor) Interval() time.Duration {
	return h.heartbeatInterval
}

// ReclaimStaleTasks returns tasks whose workers stopped heartbeating to the
// queue so another worker can pick them up.
func (h *HeartbeatMonitor) ReclaimStaleTasks(ctx context.Context, logger *slog.Logger) error {
	if h.heartbeatTimeout <= 0 {
		return nil
	}
	cutoff := time.Now().Add(-h.heartbeatTimeout)
	reclaimed, err := h.store.ReclaimStale(ctx, cutoff)
	if err != nil {
		return err
	}
	if len(reclaimed) > 0 {
		logger.Info("reclaimed stale tasks", logging.Int("count", len(reclaimed)))
	}
	return nil
}

// StartLoop runs a heartbeat updater for a specific task until context
// cancellation.
func (h *HeartbeatMonitor) StartLoop(ctx context.Context, wg *sync.WaitGroup, taskID string) {
	defer wg.Done()
	if h.heartbeatInterval <= 0 {
		return
	}
	ticker := time.NewTicker(h.heartbeatInterval)
	defer ticker.Stop()

	logger := h.logger.With(logging.String(logging.FieldComponent, "workflow-heartbeat"))

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := h.store.UpdateHeartbeat(ctx, taskID); err != nil {
				if errors.Is(err, context.Canceled) {
					return
				}
				logger.Warn("heartbeat update failed", logging.Error(err))
			}
		}
	}
}
