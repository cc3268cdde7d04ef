package api

import (
	"context"
	"encoding/json"
	"fmt"
	"mime"
	"os"
	"path/filepath"
	"strings"

	"docflow/internal/blobstore"
	"docflow/internal/config"
	"docflow/internal/documents"
	"docflow/internal/extraction"
	"docflow/internal/pipeline"
	"docflow/internal/tasks"
)

// IngestRequest carries everything needed to admit a file into the pipeline.
type IngestRequest struct {
	Config *config.Config
	Path   string
	Actor  string
}

// IngestResult reports the created document and its processing task.
type IngestResult struct {
	Document *documents.Document
	TaskID   string
}

// Ingest stores the file's bytes, creates a queued document, and enqueues a
// processing task for it.
func Ingest(ctx context.Context, req IngestRequest) (*IngestResult, error) {
	cfg := req.Config
	if cfg == nil {
		return nil, fmt.Errorf("configuration is required")
	}
	data, err := os.ReadFile(req.Path)
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", req.Path, err)
	}
	filename := filepath.Base(req.Path)
	contentType := detectContentType(filename)

	pageCount, err := extraction.PageCount(data, contentType)
	if err != nil {
		return nil, fmt.Errorf("inspect %s: %w", filename, err)
	}
	var pages *int
	if pageCount > 0 {
		pages = &pageCount
	}

	blobs, err := blobstore.New(cfg)
	if err != nil {
		return nil, fmt.Errorf("open blob store: %w", err)
	}
	blobID, err := blobs.Put(filename, data)
	if err != nil {
		return nil, fmt.Errorf("store content: %w", err)
	}

	docs, err := documents.Open(cfg)
	if err != nil {
		return nil, fmt.Errorf("open documents store: %w", err)
	}
	defer docs.Close()

	doc, err := docs.Create(ctx, filename, contentType, blobID, pages)
	if err != nil {
		return nil, fmt.Errorf("create document: %w", err)
	}
	if err := docs.AppendAudit(ctx, doc.ID, "ingested", req.Actor, map[string]any{
		"filename": filename,
	}); err != nil {
		return nil, fmt.Errorf("record ingest: %w", err)
	}

	taskID, err := enqueueProcessing(ctx, cfg, docs, doc.ID)
	if err != nil {
		return nil, err
	}
	doc.TaskID = taskID
	return &IngestResult{Document: doc, TaskID: taskID}, nil
}

// EnqueueProcessing schedules pipeline processing for an existing document.
func EnqueueProcessing(ctx context.Context, cfg *config.Config, documentID string) (string, error) {
	docs, err := documents.Open(cfg)
	if err != nil {
		return "", fmt.Errorf("open documents store: %w", err)
	}
	defer docs.Close()

	if _, err := docs.GetByID(ctx, documentID); err != nil {
		return "", fmt.Errorf("fetch document: %w", err)
	}
	return enqueueProcessing(ctx, cfg, docs, documentID)
}

func enqueueProcessing(ctx context.Context, cfg *config.Config, docs *documents.Store, documentID string) (string, error) {
	taskStore, err := tasks.Open(cfg)
	if err != nil {
		return "", fmt.Errorf("open task store: %w", err)
	}
	defer taskStore.Close()

	args, err := json.Marshal(pipeline.ProcessArgs{DocumentID: documentID})
	if err != nil {
		return "", fmt.Errorf("encode task args: %w", err)
	}
	task, err := taskStore.Enqueue(ctx, pipeline.TaskName, string(args), tasks.QueueProcessing, cfg.Queue.MaxRetries)
	if err != nil {
		return "", fmt.Errorf("enqueue processing: %w", err)
	}
	if err := docs.SetTaskID(ctx, documentID, task.ID); err != nil {
		return "", fmt.Errorf("link task: %w", err)
	}
	return task.ID, nil
}

// Reprocess clears a document's stage outputs, resets it to queued, and
// enqueues a fresh processing task. It works from any state, including failed.
func Reprocess(ctx context.Context, cfg *config.Config, documentID string) (string, error) {
	docs, err := documents.Open(cfg)
	if err != nil {
		return "", fmt.Errorf("open documents store: %w", err)
	}
	defer docs.Close()

	if err := docs.ResetForReprocessing(ctx, documentID); err != nil {
		return "", fmt.Errorf("reset document: %w", err)
	}
	return enqueueProcessing(ctx, cfg, docs, documentID)
}

// SoftDelete hides a document from listings and search until restored.
func SoftDelete(ctx context.Context, cfg *config.Config, documentID string) error {
	docs, err := documents.Open(cfg)
	if err != nil {
		return fmt.Errorf("open documents store: %w", err)
	}
	defer docs.Close()

	deleted, err := docs.SoftDelete(ctx, documentID)
	if err != nil {
		return fmt.Errorf("delete document: %w", err)
	}
	if !deleted {
		return fmt.Errorf("document %s not found", documentID)
	}
	return nil
}

// Restore brings a soft-deleted document back.
func Restore(ctx context.Context, cfg *config.Config, documentID string) error {
	docs, err := documents.Open(cfg)
	if err != nil {
		return fmt.Errorf("open documents store: %w", err)
	}
	defer docs.Close()

	restored, err := docs.Restore(ctx, documentID)
	if err != nil {
		return fmt.Errorf("restore document: %w", err)
	}
	if !restored {
		return fmt.Errorf("document %s not found or not deleted", documentID)
	}
	return nil
}

// UpdateKVPs applies manual key-value corrections, marking the document
// validated.
func UpdateKVPs(ctx context.Context, cfg *config.Config, documentID string, values map[string]string, actor string) error {
	docs, err := documents.Open(cfg)
	if err != nil {
		return fmt.Errorf("open documents store: %w", err)
	}
	defer docs.Close()

	doc, err := docs.GetByID(ctx, documentID)
	if err != nil {
		return fmt.Errorf("fetch document: %w", err)
	}

	kvps := doc.KVPs
	if kvps == nil {
		kvps = make(map[string]documents.KVP, len(values))
	}
	for key, value := range values {
		key = strings.TrimSpace(key)
		if key == "" {
			continue
		}
		kvps[key] = documents.KVP{Value: strings.TrimSpace(value), Provenance: documents.ProvenanceManual}
	}
	if err := docs.UpdateKVPs(ctx, documentID, kvps, actor); err != nil {
		return fmt.Errorf("update kvps: %w", err)
	}
	return nil
}

// Recategorize applies a manual category correction.
func Recategorize(ctx context.Context, cfg *config.Config, documentID, category, explanation, actor string) error {
	docs, err := documents.Open(cfg)
	if err != nil {
		return fmt.Errorf("open documents store: %w", err)
	}
	defer docs.Close()

	if err := docs.Recategorize(ctx, documentID, category, explanation, actor); err != nil {
		return fmt.Errorf("recategorize document: %w", err)
	}
	return nil
}

func detectContentType(filename string) string {
	if contentType := mime.TypeByExtension(filepath.Ext(filename)); contentType != "" {
		return contentType
	}
	return "application/octet-stream"
}
