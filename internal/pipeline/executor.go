package pipeline

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"docflow/internal/blobstore"
	"docflow/internal/classify"
	"docflow/internal/documents"
	"docflow/internal/logging"
	"docflow/internal/notifications"
	"docflow/internal/playbook"
	"docflow/internal/services"
	"docflow/internal/tasks"
)

const component = "pipeline"

// TaskName routes processing tasks to this executor.
const TaskName = "process_document"

// PlaybookTaskName routes playbook trigger tasks.
const PlaybookTaskName = "run_playbook"

// ProcessArgs is the payload carried by a processing task.
type ProcessArgs struct {
	DocumentID string `json:"document_id"`
}

// PlaybookArgs is the payload carried by a playbook trigger task.
type PlaybookArgs struct {
	DocumentID string `json:"document_id"`
	Category   string `json:"category"`
}

// BlobReader fetches stored document bytes.
type BlobReader interface {
	Get(blobID string) ([]byte, error)
}

// TextExtractor converts document bytes to plain text.
type TextExtractor interface {
	Extract(data []byte, contentType string) (string, error)
}

// Classifier assigns a category and extracts key-value pairs.
type Classifier interface {
	Classify(ctx context.Context, text string) (classify.Result, error)
}

// Embedder computes a fixed-length vector for document text.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float64, error)
}

// Executor drives one document through the stage state machine. Stage outputs
// persist before the next stage starts, so a redelivered task skips work that
// already completed.
type Executor struct {
	docs       *documents.Store
	blobs      BlobReader
	extractor  TextExtractor
	classifier Classifier
	embedder   Embedder
	taskStore  *tasks.Store
	catalog    *playbook.Catalog
	notifier   notifications.Service
	logger     *slog.Logger
	maxRetries int
}

// NewExecutor wires the pipeline's collaborators.
func NewExecutor(
	docs *documents.Store,
	blobs BlobReader,
	extractor TextExtractor,
	classifier Classifier,
	embedder Embedder,
	taskStore *tasks.Store,
	catalog *playbook.Catalog,
	notifier notifications.Service,
	logger *slog.Logger,
	maxRetries int,
) *Executor {
	if logger == nil {
		logger = logging.NewNop()
	}
	return &Executor{
		docs:       docs,
		blobs:      blobs,
		extractor:  extractor,
		classifier: classifier,
		embedder:   embedder,
		taskStore:  taskStore,
		catalog:    catalog,
		notifier:   notifier,
		logger:     logger,
		maxRetries: maxRetries,
	}
}

// Execute implements workflow.Handler for process_document tasks.
func (e *Executor) Execute(ctx context.Context, task *tasks.Task) error {
	var args ProcessArgs
	if err := json.Unmarshal([]byte(task.ArgsJSON), &args); err != nil || args.DocumentID == "" {
		return services.Wrap(services.ErrPermanent, component, "execute", "task args missing document_id", err)
	}

	ctx = services.WithDocumentID(ctx, args.DocumentID)
	logger := e.logger.With(
		logging.String(logging.FieldComponent, component),
		logging.String(logging.FieldDocumentID, args.DocumentID),
	)

	doc, err := e.docs.GetByID(ctx, args.DocumentID)
	if errors.Is(err, documents.ErrNotFound) {
		return services.Wrap(services.ErrPermanent, component, "execute", "document missing or deleted", err)
	}
	if err != nil {
		return services.Wrap(services.ErrTransient, component, "execute", "load document", err)
	}

	if documents.IsTerminalStatus(doc.Status) {
		// Redelivery of an already settled document is a no-op.
		logger.Info("document already settled, skipping",
			logging.String(logging.FieldEventType, "pipeline_noop"),
			logging.String("status", string(doc.Status)),
		)
		return nil
	}

	if err := e.runStages(ctx, logger, doc); err != nil {
		return err
	}

	logger.Info("document processed",
		logging.String(logging.FieldEventType, "pipeline_processed"),
		logging.String("category", doc.Category),
	)
	if err := e.notifier.NotifyDocumentProcessed(ctx, doc.Filename, doc.Category); err != nil {
		logger.Warn("processed notification failed", logging.Error(err))
	}
	e.triggerPlaybook(ctx, logger, doc)
	return nil
}

func (e *Executor) runStages(ctx context.Context, logger *slog.Logger, doc *documents.Document) error {
	if doc.Text == "" {
		if err := e.extractStage(ctx, logger, doc); err != nil {
			return err
		}
	}
	if doc.Category == "" {
		if err := e.classifyStage(ctx, logger, doc); err != nil {
			return err
		}
	}
	if len(doc.Embedding) == 0 {
		if err := e.embedStage(ctx, logger, doc); err != nil {
			return err
		}
	}
	return e.indexStage(ctx, logger, doc)
}

func (e *Executor) extractStage(ctx context.Context, logger *slog.Logger, doc *documents.Document) error {
	ctx = services.WithStage(ctx, string(documents.StatusExtracting))
	if err := e.transition(ctx, doc, documents.StatusExtracting); err != nil {
		return err
	}

	data, err := e.blobs.Get(doc.BlobID)
	if errors.Is(err, blobstore.ErrNotFound) {
		return e.failDocument(ctx, logger, doc, "extraction failed: document content missing",
			services.Wrap(services.ErrPermanent, component, "extract", "blob missing", err))
	}
	if err != nil {
		return services.Wrap(services.ErrTransient, component, "extract", "read blob", err)
	}

	text, err := e.extractor.Extract(data, doc.ContentType)
	if err != nil {
		if services.IsPermanent(err) {
			return e.failDocument(ctx, logger, doc, "extraction failed: "+services.Message(err), err)
		}
		return err
	}

	doc.Text = text
	if err := e.docs.Update(ctx, doc); err != nil {
		return services.Wrap(services.ErrTransient, component, "extract", "persist text", err)
	}
	logger.Info("stage completed",
		logging.String(logging.FieldStage, string(documents.StatusExtracting)),
		logging.Int("text_chars", len(text)),
	)
	return nil
}

func (e *Executor) classifyStage(ctx context.Context, logger *slog.Logger, doc *documents.Document) error {
	ctx = services.WithStage(ctx, string(documents.StatusClassifying))
	if err := e.transition(ctx, doc, documents.StatusClassifying); err != nil {
		return err
	}

	result, err := e.classifier.Classify(ctx, doc.Text)
	if err != nil {
		if services.IsPermanent(err) {
			return e.failDocument(ctx, logger, doc, "classification failed: "+services.Message(err), err)
		}
		return err
	}

	doc.Category = result.Category
	doc.CategoryExplanation = result.Explanation
	doc.KVPs = result.KVPs
	if err := e.docs.Update(ctx, doc); err != nil {
		return services.Wrap(services.ErrTransient, component, "classify", "persist category", err)
	}
	logger.Info("stage completed",
		logging.String(logging.FieldStage, string(documents.StatusClassifying)),
		logging.String("category", doc.Category),
		logging.Int("kvps", len(doc.KVPs)),
	)
	return nil
}

func (e *Executor) embedStage(ctx context.Context, logger *slog.Logger, doc *documents.Document) error {
	ctx = services.WithStage(ctx, string(documents.StatusEmbedding))
	if err := e.transition(ctx, doc, documents.StatusEmbedding); err != nil {
		return err
	}

	vector, err := e.embedder.Embed(ctx, doc.Text)
	if err != nil {
		if services.IsPermanent(err) {
			return e.failDocument(ctx, logger, doc, "embedding failed: "+services.Message(err), err)
		}
		return err
	}

	doc.Embedding = vector
	if err := e.docs.Update(ctx, doc); err != nil {
		return services.Wrap(services.ErrTransient, component, "embed", "persist embedding", err)
	}
	logger.Info("stage completed",
		logging.String(logging.FieldStage, string(documents.StatusEmbedding)),
		logging.Int("dimensions", len(vector)),
	)
	return nil
}

func (e *Executor) indexStage(ctx context.Context, logger *slog.Logger, doc *documents.Document) error {
	ctx = services.WithStage(ctx, string(documents.StatusIndexing))
	if err := e.transition(ctx, doc, documents.StatusIndexing); err != nil {
		return err
	}

	now := time.Now().UTC()
	doc.ProcessedAt = &now
	doc.ErrorMessage = ""
	if err := e.transition(ctx, doc, documents.StatusProcessed); err != nil {
		return err
	}
	if err := e.docs.AppendAudit(ctx, doc.ID, "processed", "pipeline", map[string]any{
		"category": doc.Category,
	}); err != nil {
		logger.Warn("audit append failed", logging.Error(err))
	}
	return nil
}

// transition moves the document along a state-machine edge and persists the
// whole record. Entering the stage the document is already in is a no-op so
// redelivered tasks resume cleanly.
func (e *Executor) transition(ctx context.Context, doc *documents.Document, to documents.Status) error {
	if doc.Status == to {
		return nil
	}
	if !documents.ValidTransition(doc.Status, to) {
		return services.Wrap(services.ErrPermanent, component, "transition",
			fmt.Sprintf("illegal transition %s -> %s", doc.Status, to), nil)
	}
	doc.Status = to
	if err := e.docs.Update(ctx, doc); err != nil {
		return services.Wrap(services.ErrTransient, component, "transition", "persist status", err)
	}
	return nil
}

// failDocument marks the document failed with an audit entry and returns the
// originating classified error for the worker runtime.
func (e *Executor) failDocument(ctx context.Context, logger *slog.Logger, doc *documents.Document, reason string, cause error) error {
	doc.SetFailed(reason)
	if err := e.docs.Update(ctx, doc); err != nil {
		logger.Error("failed to persist document failure", logging.Error(err))
	}
	if err := e.docs.AppendAudit(ctx, doc.ID, "stage_failure", "pipeline", map[string]any{
		"reason": reason,
	}); err != nil {
		logger.Warn("audit append failed", logging.Error(err))
	}
	if err := e.notifier.NotifyDocumentFailed(ctx, doc.Filename, reason); err != nil {
		logger.Warn("failure notification failed", logging.Error(err))
	}
	return cause
}

// OnExhausted implements workflow.ExhaustionObserver: when a processing task
// runs out of retries the document it carried moves to failed so its state
// stays queryable alongside the dead-letter record.
func (e *Executor) OnExhausted(ctx context.Context, task *tasks.Task, reason string) {
	var args ProcessArgs
	if err := json.Unmarshal([]byte(task.ArgsJSON), &args); err != nil || args.DocumentID == "" {
		return
	}
	logger := e.logger.With(
		logging.String(logging.FieldComponent, component),
		logging.String(logging.FieldDocumentID, args.DocumentID),
	)
	doc, err := e.docs.GetByID(ctx, args.DocumentID)
	if err != nil {
		logger.Warn("exhausted task references unknown document", logging.Error(err))
		return
	}
	if documents.IsTerminalStatus(doc.Status) {
		return
	}
	_ = e.failDocument(ctx, logger, doc, "retries exhausted: "+reason, nil)
}

func (e *Executor) triggerPlaybook(ctx context.Context, logger *slog.Logger, doc *documents.Document) {
	if e.taskStore == nil || e.catalog == nil {
		return
	}
	if _, ok := e.catalog.Lookup(doc.Category); !ok {
		return
	}
	args, err := json.Marshal(PlaybookArgs{DocumentID: doc.ID, Category: doc.Category})
	if err != nil {
		logger.Error("failed to encode playbook args", logging.Error(err))
		return
	}
	task, err := e.taskStore.Enqueue(ctx, PlaybookTaskName, string(args), tasks.QueuePlaybooks, e.maxRetries)
	if err != nil {
		logger.Error("failed to enqueue playbook run", logging.Error(err))
		return
	}
	logger.Info("playbook run enqueued",
		logging.String(logging.FieldEventType, "playbook_enqueued"),
		logging.String(logging.FieldTaskID, task.ID),
		logging.String("category", doc.Category),
	)
}
