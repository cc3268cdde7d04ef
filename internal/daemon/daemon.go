package daemon

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"
	"sync/atomic"

	"github.com/gofrs/flock"

	"docflow/internal/blobstore"
	"docflow/internal/classify"
	"docflow/internal/config"
	"docflow/internal/documents"
	"docflow/internal/embed"
	"docflow/internal/extraction"
	"docflow/internal/logging"
	"docflow/internal/notifications"
	"docflow/internal/pipeline"
	"docflow/internal/playbook"
	"docflow/internal/tasks"
	"docflow/internal/workflow"
)

// Daemon owns the long-running processing services and enforces
// single-instance execution through a file lock.
type Daemon struct {
	cfg      *config.Config
	logger   *slog.Logger
	docs     *documents.Store
	taskStor *tasks.Store
	workflow *workflow.Manager

	lockPath string
	lock     *flock.Flock

	running atomic.Bool
	cancel  context.CancelFunc
}

// New opens the stores, registers the task handlers, and returns a daemon
// ready to Start. The caller owns the returned daemon and must Close it.
func New(cfg *config.Config, logger *slog.Logger) (*Daemon, error) {
	if cfg == nil {
		return nil, errors.New("daemon requires configuration")
	}
	if logger == nil {
		logger = logging.NewNop()
	}
	if err := cfg.EnsureDirectories(); err != nil {
		return nil, err
	}

	docs, err := documents.Open(cfg)
	if err != nil {
		return nil, fmt.Errorf("open documents store: %w", err)
	}
	taskStore, err := tasks.Open(cfg)
	if err != nil {
		docs.Close()
		return nil, fmt.Errorf("open task store: %w", err)
	}

	manager, err := buildWorkflow(cfg, docs, taskStore, logger)
	if err != nil {
		taskStore.Close()
		docs.Close()
		return nil, err
	}

	lockPath := filepath.Join(cfg.Paths.LogDir, "docflowd.lock")
	return &Daemon{
		cfg:      cfg,
		logger:   logger,
		docs:     docs,
		taskStor: taskStore,
		workflow: manager,
		lockPath: lockPath,
		lock:     flock.New(lockPath),
	}, nil
}

// buildWorkflow wires the pipeline executor and the playbook handler into a
// workflow manager sharing the daemon's stores.
func buildWorkflow(cfg *config.Config, docs *documents.Store, taskStore *tasks.Store, logger *slog.Logger) (*workflow.Manager, error) {
	notifier := notifications.NewService(cfg)

	handlers := playbook.BuiltinHandlers(cfg.Playbooks)
	catalog, err := playbook.LoadCatalog(cfg.Playbooks, playbook.TaskTypes(handlers))
	if err != nil {
		return nil, fmt.Errorf("load playbook catalog: %w", err)
	}

	blobs, err := blobstore.New(cfg)
	if err != nil {
		return nil, fmt.Errorf("open blob store: %w", err)
	}

	executor := pipeline.NewExecutor(
		docs,
		blobs,
		extraction.New(),
		classify.NewClient(cfg.Classifier),
		embed.NewClient(cfg.Embedder),
		taskStore,
		catalog,
		notifier,
		logger,
		cfg.Queue.MaxRetries,
	)
	runner := playbook.NewRunner(docs, catalog, handlers, logger)
	playbookHandler := playbook.NewTaskHandler(runner, docs, notifier, logger)

	registry := workflow.NewRegistry()
	if err := registry.Register(pipeline.TaskName, executor); err != nil {
		return nil, err
	}
	if err := registry.Register(pipeline.PlaybookTaskName, playbookHandler); err != nil {
		return nil, err
	}

	return workflow.NewManager(cfg, taskStore, registry, logger, notifier), nil
}

// Start acquires the instance lock and launches the workflow manager.
func (d *Daemon) Start(ctx context.Context) error {
	if d.running.Load() {
		return errors.New("daemon already running")
	}

	ok, err := d.lock.TryLock()
	if err != nil {
		return fmt.Errorf("acquire lock: %w", err)
	}
	if !ok {
		return errors.New("another docflow daemon instance is already running")
	}

	runCtx, cancel := context.WithCancel(ctx)
	if err := d.workflow.Start(runCtx); err != nil {
		cancel()
		_ = d.lock.Unlock()
		return fmt.Errorf("start workflow: %w", err)
	}
	d.cancel = cancel

	d.running.Store(true)
	d.logger.Info("docflow daemon started",
		logging.String("lock", d.lockPath),
		logging.String("data_dir", d.cfg.Paths.DataDir))
	return nil
}

// Stop halts background processing and releases the instance lock.
func (d *Daemon) Stop() {
	if !d.running.Load() {
		return
	}

	if d.cancel != nil {
		d.cancel()
		d.cancel = nil
	}
	d.workflow.Stop()
	if err := d.lock.Unlock(); err != nil {
		d.logger.Warn("failed to release daemon lock", logging.Error(err))
	}
	d.running.Store(false)
	d.logger.Info("docflow daemon stopped")
}

// Close stops the daemon and releases its stores.
func (d *Daemon) Close() error {
	d.Stop()
	var errs []error
	if d.taskStor != nil {
		errs = append(errs, d.taskStor.Close())
	}
	if d.docs != nil {
		errs = append(errs, d.docs.Close())
	}
	return errors.Join(errs...)
}

// Running reports whether Start has succeeded and Stop has not been called.
func (d *Daemon) Running() bool {
	return d.running.Load()
}

// LockPath returns the instance lock file location.
func (d *Daemon) LockPath() string {
	return d.lockPath
}

// Run starts the daemon and blocks until the context is cancelled.
func (d *Daemon) Run(ctx context.Context) error {
	if err := d.Start(ctx); err != nil {
		return err
	}
	<-ctx.Done()
	d.Stop()
	return nil
}
