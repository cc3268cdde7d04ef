package workflow

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"docflow/internal/config"
	"docflow/internal/logging"
	"docflow/internal/notifications"
	"docflow/internal/services"
	"docflow/internal/tasks"
)

// Manager coordinates task delivery across per-queue worker pools.
type Manager struct {
	cfg      *config.Config
	store    *tasks.Store
	logger   *slog.Logger
	notifier notifications.Service
	registry *Registry
	backoff  tasks.BackoffPolicy

	pollInterval       time.Duration
	errorRetryInterval time.Duration
	heartbeat          *HeartbeatMonitor

	pools []poolSpec

	mu      sync.Mutex
	running bool
	cancel  context.CancelFunc
	wg      sync.WaitGroup
}

type poolSpec struct {
	queueName string
	workers   int
}

// NewManager constructs a workflow manager with the standard worker pools.
func NewManager(cfg *config.Config, store *tasks.Store, registry *Registry, logger *slog.Logger, notifier notifications.Service) *Manager {
	if logger == nil {
		logger = logging.NewNop()
	}
	if notifier == nil {
		notifier = notifications.NewService(cfg)
	}
	return &Manager{
		cfg:      cfg,
		store:    store,
		logger:   logger,
		notifier: notifier,
		registry: registry,
		backoff: tasks.BackoffPolicy{
			BaseDelay: time.Duration(cfg.Queue.RetryBaseDelay) * time.Second,
			MaxDelay:  time.Duration(cfg.Queue.RetryMaxDelay) * time.Second,
		},
		pollInterval:       time.Duration(cfg.Workflow.PollInterval) * time.Second,
		errorRetryInterval: time.Duration(cfg.Workflow.ErrorRetryInterval) * time.Second,
		heartbeat: NewHeartbeatMonitor(
			store,
			logger,
			time.Duration(cfg.Workflow.HeartbeatInterval)*time.Second,
			time.Duration(cfg.Workflow.HeartbeatTimeout)*time.Second,
		),
		pools: []poolSpec{
			{queueName: tasks.QueueProcessing, workers: cfg.Queue.ProcessingWorkers},
			{queueName: tasks.QueuePlaybooks, workers: cfg.Queue.PlaybookWorkers},
		},
	}
}

// Start begins background processing.
func (m *Manager) Start(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.running {
		return errors.New("workflow already running")
	}
	if len(m.registry.Names()) == 0 {
		return errors.New("no task handlers registered")
	}

	runCtx, cancel := context.WithCancel(ctx)
	m.cancel = cancel
	m.running = true

	for _, pool := range m.pools {
		for n := 0; n < pool.workers; n++ {
			workerID := fmt.Sprintf("%s-worker-%d", pool.queueName, n+1)
			m.wg.Add(1)
			go m.runWorker(runCtx, pool.queueName, workerID)
		}
	}

	m.wg.Add(1)
	go m.runReclaimer(runCtx)

	return nil
}

// Stop terminates background processing and waits for workers to drain.
func (m *Manager) Stop() {
	m.mu.Lock()
	if !m.running {
		m.mu.Unlock()
		return
	}
	cancel := m.cancel
	m.running = false
	m.cancel = nil
	m.mu.Unlock()

	cancel()
	m.wg.Wait()
}

func (m *Manager) runWorker(ctx context.Context, queueName, workerID string) {
	defer m.wg.Done()

	logger := m.logger.With(
		logging.String(logging.FieldComponent, "workflow"),
		logging.String(logging.FieldQueue, queueName),
		logging.String(logging.FieldWorkerID, workerID),
	)

	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		task, err := m.store.Claim(ctx, queueName)
		if err != nil {
			if errors.Is(err, context.Canceled) {
				return
			}
			logger.Error("failed to claim next task",
				logging.Error(err),
				logging.String(logging.FieldEventType, "task_claim_failed"),
				logging.String(logging.FieldErrorHint, "check task database access"),
			)
			m.waitOrShutdown(ctx, m.errorRetryInterval)
			continue
		}
		if task == nil {
			m.waitOrShutdown(ctx, m.pollInterval)
			continue
		}

		m.processTask(ctx, logger, workerID, task)
	}
}

func (m *Manager) processTask(ctx context.Context, logger *slog.Logger, workerID string, task *tasks.Task) {
	taskCtx := services.WithTaskID(ctx, task.ID)
	taskCtx = services.WithWorkerID(taskCtx, workerID)
	taskLogger := logger.With(
		logging.String(logging.FieldTaskID, task.ID),
		logging.String("task_name", task.Name),
	)

	handler, ok := m.registry.Lookup(task.Name)
	if !ok {
		taskLogger.Error("no handler registered for task",
			logging.String(logging.FieldEventType, "task_handler_missing"),
		)
		if err := m.store.MarkFailed(taskCtx, task.ID, "no handler registered for "+task.Name); err != nil {
			taskLogger.Error("failed to mark unroutable task", logging.Error(err))
		}
		return
	}

	hbCtx, stopHeartbeat := context.WithCancel(taskCtx)
	var hbWG sync.WaitGroup
	hbWG.Add(1)
	go m.heartbeat.StartLoop(hbCtx, &hbWG, task.ID)

	taskLogger.Info("task started",
		logging.String(logging.FieldEventType, "task_started"),
		logging.Int("retries", task.Retries),
	)
	execErr := m.executeHandler(taskCtx, handler, task)
	stopHeartbeat()
	hbWG.Wait()

	if execErr == nil {
		if err := m.store.Ack(context.WithoutCancel(taskCtx), task.ID); err != nil {
			taskLogger.Error("failed to ack task", logging.Error(err))
		}
		taskLogger.Info("task succeeded", logging.String(logging.FieldEventType, "task_succeeded"))
		return
	}
	if errors.Is(execErr, context.Canceled) {
		// Shutdown mid-task: leave it running so the stale reclaimer returns
		// it to the queue.
		taskLogger.Info("task interrupted by shutdown",
			logging.String(logging.FieldEventType, "task_interrupted"),
		)
		return
	}

	m.handleFailure(context.WithoutCancel(taskCtx), taskLogger, handler, task, execErr)
}

// executeHandler runs the handler and converts a panic into an ordinary
// task failure so one bad handler cannot take down the worker pool.
func (m *Manager) executeHandler(ctx context.Context, handler Handler, task *tasks.Task) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("handler panic: %v", r)
		}
	}()
	return handler.Execute(ctx, task)
}

func (m *Manager) handleFailure(ctx context.Context, logger *slog.Logger, handler Handler, task *tasks.Task, execErr error) {
	reason := services.Message(execErr)

	if services.IsPermanent(execErr) {
		logger.Warn("task failed permanently",
			logging.Error(execErr),
			logging.String(logging.FieldEventType, "task_failed"),
		)
		if err := m.store.MarkFailed(ctx, task.ID, reason); err != nil {
			logger.Error("failed to record permanent failure", logging.Error(err))
		}
		return
	}

	if task.Retries < task.MaxRetries {
		delay := m.backoff.Delay(task.Retries)
		logger.Warn("task failed, scheduling retry",
			logging.Error(execErr),
			logging.String(logging.FieldEventType, "task_retry"),
			logging.Int("retries", task.Retries+1),
			logging.Int("max_retries", task.MaxRetries),
			logging.Duration("delay", delay),
		)
		if err := m.store.Retry(ctx, task.ID, delay, reason); err != nil {
			logger.Error("failed to requeue task", logging.Error(err))
		}
		return
	}

	logger.Error("task exhausted retries, routing to dead letters",
		logging.Error(execErr),
		logging.String(logging.FieldEventType, "task_dead_lettered"),
		logging.Int("retries", task.Retries),
	)
	if observer, ok := handler.(ExhaustionObserver); ok {
		observer.OnExhausted(ctx, task, reason)
	}
	if _, err := m.store.DeadLetter(ctx, task, reason); err != nil {
		logger.Error("failed to dead-letter task", logging.Error(err))
		return
	}
	if err := m.notifier.NotifyDeadLetter(ctx, task.Name, reason); err != nil {
		logger.Warn("dead letter notification failed", logging.Error(err))
	}
}

func (m *Manager) runReclaimer(ctx context.Context) {
	defer m.wg.Done()

	logger := m.logger.With(logging.String(logging.FieldComponent, "workflow-reclaimer"))
	interval := m.heartbeat.Interval()
	if interval <= 0 {
		return
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := m.heartbeat.ReclaimStaleTasks(ctx, logger); err != nil {
				logger.Warn("reclaim stale tasks failed; stuck tasks may remain",
					logging.Error(err),
					logging.String(logging.FieldEventType, "heartbeat_reclaim_failed"),
					logging.String(logging.FieldErrorHint, "check task database access"),
				)
			}
		}
	}
}

func (m *Manager) waitOrShutdown(ctx context.Context, wait time.Duration) {
	if wait <= 0 {
		wait = time.Second
	}
	select {
	case <-ctx.Done():
	case <-time.After(wait):
	}
}
