package playbook

import (
	"context"
	"encoding/json"
	"log/slog"

	"docflow/internal/documents"
	"docflow/internal/logging"
	"docflow/internal/notifications"
	"docflow/internal/services"
	"docflow/internal/tasks"
)

// TaskHandler adapts the runner to the workflow's task contract for
// run_playbook deliveries.
type TaskHandler struct {
	runner   *Runner
	docs     *documents.Store
	notifier notifications.Service
	logger   *slog.Logger
}

// NewTaskHandler wires a runner into the task queue.
func NewTaskHandler(runner *Runner, docs *documents.Store, notifier notifications.Service, logger *slog.Logger) *TaskHandler {
	if logger == nil {
		logger = logging.NewNop()
	}
	return &TaskHandler{runner: runner, docs: docs, notifier: notifier, logger: logger}
}

type taskArgs struct {
	DocumentID string `json:"document_id"`
	Category   string `json:"category"`
}

// Execute implements workflow.Handler. Business-level run failures settle the
// task successfully; only infrastructure errors propagate into the retry
// path.
func (h *TaskHandler) Execute(ctx context.Context, task *tasks.Task) error {
	var args taskArgs
	if err := json.Unmarshal([]byte(task.ArgsJSON), &args); err != nil || args.DocumentID == "" {
		return services.Wrap(services.ErrPermanent, component, "execute", "task args missing document_id", err)
	}

	ctx = services.WithDocumentID(ctx, args.DocumentID)
	run, err := h.runner.Run(ctx, args.DocumentID, args.Category)
	if err != nil {
		return err
	}

	failed := run.Status == documents.RunFailed
	doc, docErr := h.docs.GetByID(ctx, args.DocumentID)
	filename := args.DocumentID
	if docErr == nil {
		filename = doc.Filename
	}
	if h.notifier != nil {
		pb, _ := h.runner.Catalog().Lookup(args.Category)
		name := args.Category
		if pb != nil {
			name = pb.Name
		}
		if notifyErr := h.notifier.NotifyPlaybookCompleted(ctx, filename, name, failed); notifyErr != nil {
			h.logger.Warn("playbook notification failed", logging.Error(notifyErr))
		}
	}
	return nil
}
