package playbook

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"docflow/internal/documents"
	"docflow/internal/logging"
	"docflow/internal/services"
)

const component = "playbook"

// Runner materializes and executes category playbooks against documents.
type Runner struct {
	docs     *documents.Store
	catalog  *Catalog
	handlers map[string]StepHandler
	logger   *slog.Logger
}

// NewRunner constructs a runner over the given catalog and handler registry.
func NewRunner(docs *documents.Store, catalog *Catalog, handlers map[string]StepHandler, logger *slog.Logger) *Runner {
	if logger == nil {
		logger = logging.NewNop()
	}
	return &Runner{
		docs:     docs,
		catalog:  catalog,
		handlers: handlers,
		logger:   logger,
	}
}

// Catalog exposes the runner's catalog for trigger checks.
func (r *Runner) Catalog() *Catalog {
	return r.catalog
}

// Run executes the playbook for category against the document. It always
// returns a complete run record when execution started: step-level business
// failures (including unknown task types) are recorded on the run, never
// returned as errors. Errors are reserved for infrastructure problems such as
// a missing document, a category without a playbook, or storage failures.
func (r *Runner) Run(ctx context.Context, documentID, category string) (*documents.PlaybookRun, error) {
	doc, err := r.docs.GetByID(ctx, documentID)
	if err != nil {
		return nil, services.Wrap(services.ErrNotFound, component, "run", "document lookup failed", err)
	}

	pb, ok := r.catalog.Lookup(category)
	if !ok {
		return nil, services.Wrap(services.ErrConfiguration, component, "run",
			"no playbook configured for category "+category, nil)
	}

	run, err := r.docs.CreateRun(ctx, doc.ID, pb.ID, pb.Category, pb.Steps)
	if err != nil {
		return nil, services.Wrap(services.ErrTransient, component, "run", "create run", err)
	}

	logger := r.logger.With(
		logging.String(logging.FieldComponent, component),
		logging.String(logging.FieldDocumentID, doc.ID),
		logging.String("run_id", run.ID),
		logging.String("playbook_id", pb.ID),
	)
	workerID, _ := services.WorkerIDFromContext(ctx)
	if workerID == "" {
		workerID = "docflow@local"
	}

	failed := false
	for _, step := range run.Steps {
		if failed {
			// Steps past the first failure stay pending.
			break
		}
		if err := r.docs.StartStep(ctx, step.ID, workerID); err != nil {
			return nil, services.Wrap(services.ErrTransient, component, "run", "start step "+step.Name, err)
		}

		result, stepErr := r.executeStep(ctx, doc, step)
		resultJSON := encodeResult(result, stepErr)
		if err := r.docs.CompleteStep(ctx, step.ID, resultJSON, stepErr != nil); err != nil {
			return nil, services.Wrap(services.ErrTransient, component, "run", "complete step "+step.Name, err)
		}

		stepStatus := documents.StepSucceeded
		if stepErr != nil {
			stepStatus = documents.StepFailed
			failed = true
			logger.Warn("playbook step failed",
				logging.String("step", step.Name),
				logging.String("task_type", step.TaskType),
				logging.Error(stepErr),
			)
		} else {
			logger.Info("playbook step succeeded",
				logging.String("step", step.Name),
				logging.String("task_type", step.TaskType),
			)
		}
		if err := r.docs.AppendAudit(ctx, doc.ID, "playbook_step", workerID, map[string]any{
			"run_id":    run.ID,
			"step":      step.Name,
			"task_type": step.TaskType,
			"status":    string(stepStatus),
		}); err != nil {
			logger.Warn("audit append failed", logging.Error(err))
		}
	}

	runStatus := documents.RunSucceeded
	if failed {
		runStatus = documents.RunFailed
	}
	if err := r.docs.CompleteRun(ctx, run.ID, runStatus); err != nil {
		return nil, services.Wrap(services.ErrTransient, component, "run", "complete run", err)
	}

	return r.docs.GetRun(ctx, run.ID)
}

func (r *Runner) executeStep(ctx context.Context, doc *documents.Document, step documents.PlaybookStep) (result map[string]any, err error) {
	handler, ok := r.handlers[step.TaskType]
	if !ok {
		return nil, &unknownTaskTypeError{taskType: step.TaskType}
	}
	// A panicking handler fails its step; the run record still completes.
	defer func() {
		if rec := recover(); rec != nil {
			result = nil
			err = fmt.Errorf("step handler panic: %v", rec)
		}
	}()
	return handler(ctx, doc)
}

type unknownTaskTypeError struct {
	taskType string
}

func (e *unknownTaskTypeError) Error() string {
	return "unknown task type " + e.taskType
}

func encodeResult(result map[string]any, stepErr error) string {
	payload := result
	if stepErr != nil {
		payload = map[string]any{"error": stepErr.Error()}
	}
	if len(payload) == 0 {
		return ""
	}
	encoded, err := json.Marshal(payload)
	if err != nil {
		return `{"error":"unencodable step result"}`
	}
	return string(encoded)
}
