package workflow_test

import (
	"context"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"docflow/internal/logging"
	"docflow/internal/notifications"
	"docflow/internal/services"
	"docflow/internal/tasks"
	"docflow/internal/testsupport"
	"docflow/internal/workflow"
)

type stubHandler struct {
	execute   func(ctx context.Context, task *tasks.Task) error
	exhausted atomic.Int32
}

func (s *stubHandler) Execute(ctx context.Context, task *tasks.Task) error {
	return s.execute(ctx, task)
}

func (s *stubHandler) OnExhausted(ctx context.Context, task *tasks.Task, reason string) {
	s.exhausted.Add(1)
}

func waitForTaskStatus(t *testing.T, store *tasks.Store, taskID string, want tasks.Status) *tasks.Task {
	t.Helper()
	deadline := time.Now().Add(10 * time.Second)
	for time.Now().Before(deadline) {
		task, err := store.GetByID(context.Background(), taskID)
		if err != nil {
			t.Fatalf("GetByID: %v", err)
		}
		if task.Status == want {
			return task
		}
		time.Sleep(25 * time.Millisecond)
	}
	t.Fatalf("task %s never reached status %s", taskID, want)
	return nil
}

func newTestManager(t *testing.T, registry *workflow.Registry, opts ...testsupport.ConfigOption) (*workflow.Manager, *tasks.Store) {
	t.Helper()
	cfg := testsupport.NewConfig(t, opts...)
	cfg.Queue.RetryBaseDelay = 0
	cfg.Workflow.PollInterval = 1
	cfg.Workflow.ErrorRetryInterval = 1
	store := testsupport.MustOpenTaskStore(t, cfg)
	manager := workflow.NewManager(cfg, store, registry, logging.NewNop(), notifications.NewService(cfg))
	return manager, store
}

func TestManagerDeliversTask(t *testing.T) {
	registry := workflow.NewRegistry()
	var delivered atomic.Int32
	handler := &stubHandler{execute: func(ctx context.Context, task *tasks.Task) error {
		delivered.Add(1)
		return nil
	}}
	if err := registry.Register("process_document", handler); err != nil {
		t.Fatalf("Register: %v", err)
	}

	manager, store := newTestManager(t, registry)
	task, err := store.Enqueue(context.Background(), "process_document", "", tasks.QueueProcessing, 3)
	if err != nil {
		t.Fatalf("Enqueue: %v", err)
	}

	if err := manager.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer manager.Stop()

	waitForTaskStatus(t, store, task.ID, tasks.StatusSucceeded)
	if delivered.Load() != 1 {
		t.Fatalf("expected exactly one delivery, got %d", delivered.Load())
	}
}

func TestManagerRetriesThenDeadLetters(t *testing.T) {
	registry := workflow.NewRegistry()
	var attempts atomic.Int32
	handler := &stubHandler{execute: func(ctx context.Context, task *tasks.Task) error {
		attempts.Add(1)
		return services.Wrap(services.ErrTransient, "test", "execute", "flaky dependency", nil)
	}}
	if err := registry.Register("process_document", handler); err != nil {
		t.Fatalf("Register: %v", err)
	}

	manager, store := newTestManager(t, registry)
	task, err := store.Enqueue(context.Background(), "process_document", "", tasks.QueueProcessing, 2)
	if err != nil {
		t.Fatalf("Enqueue: %v", err)
	}

	if err := manager.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer manager.Stop()

	final := waitForTaskStatus(t, store, task.ID, tasks.StatusDeadLettered)
	if got := attempts.Load(); got != 3 {
		t.Fatalf("expected 1 initial + 2 retries = 3 attempts, got %d", got)
	}
	if final.Retries != 2 {
		t.Fatalf("expected retry counter at budget, got %d", final.Retries)
	}
	if handler.exhausted.Load() != 1 {
		t.Fatalf("expected exhaustion hook once, got %d", handler.exhausted.Load())
	}

	records, err := store.DeadLetters(context.Background(), true)
	if err != nil {
		t.Fatalf("DeadLetters: %v", err)
	}
	if len(records) != 1 {
		t.Fatalf("expected one dead letter, got %d", len(records))
	}
	if records[0].Retries != 2 {
		t.Fatalf("dead letter should capture the exhausted retry count, got %d", records[0].Retries)
	}
}

func TestManagerPermanentFailureSkipsRetries(t *testing.T) {
	registry := workflow.NewRegistry()
	var attempts atomic.Int32
	handler := &stubHandler{execute: func(ctx context.Context, task *tasks.Task) error {
		attempts.Add(1)
		return services.Wrap(services.ErrPermanent, "test", "execute", "unreadable document", nil)
	}}
	if err := registry.Register("process_document", handler); err != nil {
		t.Fatalf("Register: %v", err)
	}

	manager, store := newTestManager(t, registry)
	task, err := store.Enqueue(context.Background(), "process_document", "", tasks.QueueProcessing, 3)
	if err != nil {
		t.Fatalf("Enqueue: %v", err)
	}

	if err := manager.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer manager.Stop()

	final := waitForTaskStatus(t, store, task.ID, tasks.StatusFailed)
	if attempts.Load() != 1 {
		t.Fatalf("permanent failure must not be retried, got %d attempts", attempts.Load())
	}
	if final.Retries != 0 {
		t.Fatalf("expected zero retries, got %d", final.Retries)
	}
	if handler.exhausted.Load() != 0 {
		t.Fatal("exhaustion hook must not fire for permanent failures")
	}

	records, err := store.DeadLetters(context.Background(), false)
	if err != nil {
		t.Fatalf("DeadLetters: %v", err)
	}
	if len(records) != 0 {
		t.Fatalf("permanent failures must not dead-letter, got %d records", len(records))
	}
}

func TestManagerSurvivesPanickingHandler(t *testing.T) {
	registry := workflow.NewRegistry()
	panicking := &stubHandler{execute: func(ctx context.Context, task *tasks.Task) error {
		panic("handler bug")
	}}
	var delivered atomic.Int32
	healthy := &stubHandler{execute: func(ctx context.Context, task *tasks.Task) error {
		delivered.Add(1)
		return nil
	}}
	if err := registry.Register("process_document", panicking); err != nil {
		t.Fatalf("Register: %v", err)
	}
	if err := registry.Register("run_playbook", healthy); err != nil {
		t.Fatalf("Register: %v", err)
	}

	manager, store := newTestManager(t, registry)
	bad, err := store.Enqueue(context.Background(), "process_document", "", tasks.QueueProcessing, 0)
	if err != nil {
		t.Fatalf("Enqueue: %v", err)
	}

	if err := manager.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer manager.Stop()

	waitForTaskStatus(t, store, bad.ID, tasks.StatusDeadLettered)

	records, err := store.DeadLetters(context.Background(), true)
	if err != nil {
		t.Fatalf("DeadLetters: %v", err)
	}
	if len(records) != 1 {
		t.Fatalf("expected one dead letter, got %d", len(records))
	}
	if !strings.Contains(records[0].Reason, "panic") {
		t.Fatalf("dead letter reason should record the panic, got %q", records[0].Reason)
	}

	// The pool must keep serving after containing the panic.
	good, err := store.Enqueue(context.Background(), "run_playbook", "", tasks.QueueProcessing, 0)
	if err != nil {
		t.Fatalf("Enqueue: %v", err)
	}
	waitForTaskStatus(t, store, good.ID, tasks.StatusSucceeded)
	if delivered.Load() != 1 {
		t.Fatalf("expected the follow-up task to run once, got %d", delivered.Load())
	}
}

func TestManagerPanicRetriesLikeTransientFailure(t *testing.T) {
	registry := workflow.NewRegistry()
	var attempts atomic.Int32
	handler := &stubHandler{execute: func(ctx context.Context, task *tasks.Task) error {
		if attempts.Add(1) < 2 {
			panic("first attempt bug")
		}
		return nil
	}}
	if err := registry.Register("process_document", handler); err != nil {
		t.Fatalf("Register: %v", err)
	}

	manager, store := newTestManager(t, registry)
	task, err := store.Enqueue(context.Background(), "process_document", "", tasks.QueueProcessing, 3)
	if err != nil {
		t.Fatalf("Enqueue: %v", err)
	}

	if err := manager.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer manager.Stop()

	final := waitForTaskStatus(t, store, task.ID, tasks.StatusSucceeded)
	if attempts.Load() != 2 {
		t.Fatalf("expected a retry after the panic, got %d attempts", attempts.Load())
	}
	if final.Retries != 1 {
		t.Fatalf("expected one recorded retry, got %d", final.Retries)
	}
}

func TestManagerReplayedTaskGetsFullBudget(t *testing.T) {
	registry := workflow.NewRegistry()
	failing := atomic.Bool{}
	failing.Store(true)
	handler := &stubHandler{execute: func(ctx context.Context, task *tasks.Task) error {
		if failing.Load() {
			return services.Wrap(services.ErrTransient, "test", "execute", "still broken", nil)
		}
		return nil
	}}
	if err := registry.Register("process_document", handler); err != nil {
		t.Fatalf("Register: %v", err)
	}

	manager, store := newTestManager(t, registry)
	task, err := store.Enqueue(context.Background(), "process_document", `{"document_id":"d1"}`, tasks.QueueProcessing, 1)
	if err != nil {
		t.Fatalf("Enqueue: %v", err)
	}

	if err := manager.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer manager.Stop()

	waitForTaskStatus(t, store, task.ID, tasks.StatusDeadLettered)

	records, err := store.DeadLetters(context.Background(), true)
	if err != nil {
		t.Fatalf("DeadLetters: %v", err)
	}
	if len(records) != 1 {
		t.Fatalf("expected one dead letter, got %d", len(records))
	}

	failing.Store(false)
	replayed, err := store.Replay(context.Background(), records[0].ID)
	if err != nil {
		t.Fatalf("Replay: %v", err)
	}
	if replayed.Retries != 0 {
		t.Fatalf("replayed task must start with zero retries, got %d", replayed.Retries)
	}

	waitForTaskStatus(t, store, replayed.ID, tasks.StatusSucceeded)
}

func TestManagerRejectsEmptyRegistry(t *testing.T) {
	manager, _ := newTestManager(t, workflow.NewRegistry())
	if err := manager.Start(context.Background()); err == nil {
		manager.Stop()
		t.Fatal("expected error when no handlers registered")
	}
}

func TestManagerDoubleStart(t *testing.T) {
	registry := workflow.NewRegistry()
	if err := registry.Register("noop", workflow.HandlerFunc(func(ctx context.Context, task *tasks.Task) error {
		return nil
	})); err != nil {
		t.Fatalf("Register: %v", err)
	}
	manager, _ := newTestManager(t, registry)
	if err := manager.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer manager.Stop()
	err := manager.Start(context.Background())
	if err == nil || !strings.Contains(err.Error(), "already running") {
		t.Fatalf("expected already running error, got %v", err)
	}
}
