package api

import (
	"context"
	"fmt"

	"docflow/internal/config"
	"docflow/internal/documents"
	"docflow/internal/tasks"
)

// DocumentView bundles a document with its audit trail and playbook runs.
type DocumentView struct {
	Document *documents.Document
	Audit    []documents.AuditEntry
	Runs     []*documents.PlaybookRun
}

// PipelineStatus fetches a document's current status with its full history.
func PipelineStatus(ctx context.Context, cfg *config.Config, documentID string) (*DocumentView, error) {
	docs, err := documents.Open(cfg)
	if err != nil {
		return nil, fmt.Errorf("open documents store: %w", err)
	}
	defer docs.Close()

	doc, err := docs.GetIncludingDeleted(ctx, documentID)
	if err != nil {
		return nil, fmt.Errorf("fetch document: %w", err)
	}
	trail, err := docs.AuditTrail(ctx, documentID)
	if err != nil {
		return nil, fmt.Errorf("fetch audit trail: %w", err)
	}
	runs, err := docs.RunsForDocument(ctx, documentID)
	if err != nil {
		return nil, fmt.Errorf("fetch playbook runs: %w", err)
	}
	return &DocumentView{Document: doc, Audit: trail, Runs: runs}, nil
}

// ListDocuments returns documents filtered by the given options.
func ListDocuments(ctx context.Context, cfg *config.Config, opts documents.ListOptions) ([]*documents.Document, error) {
	docs, err := documents.Open(cfg)
	if err != nil {
		return nil, fmt.Errorf("open documents store: %w", err)
	}
	defer docs.Close()
	return docs.List(ctx, opts)
}

// SearchDocuments finds non-deleted documents matching the query.
func SearchDocuments(ctx context.Context, cfg *config.Config, query string) ([]*documents.Document, error) {
	docs, err := documents.Open(cfg)
	if err != nil {
		return nil, fmt.Errorf("open documents store: %w", err)
	}
	defer docs.Close()
	return docs.Search(ctx, query)
}

// StatusSummary aggregates document and task state for the status command.
type StatusSummary struct {
	Dashboard documents.DashboardStats
	Documents map[documents.Status]int
	Tasks     map[tasks.Status]int
}

// Status builds the combined dashboard view.
func Status(ctx context.Context, cfg *config.Config) (*StatusSummary, error) {
	docs, err := documents.Open(cfg)
	if err != nil {
		return nil, fmt.Errorf("open documents store: %w", err)
	}
	defer docs.Close()

	taskStore, err := tasks.Open(cfg)
	if err != nil {
		return nil, fmt.Errorf("open task store: %w", err)
	}
	defer taskStore.Close()

	dashboard, err := docs.Dashboard(ctx)
	if err != nil {
		return nil, fmt.Errorf("document dashboard: %w", err)
	}
	docStats, err := docs.Stats(ctx)
	if err != nil {
		return nil, fmt.Errorf("document stats: %w", err)
	}
	taskStats, err := taskStore.Stats(ctx)
	if err != nil {
		return nil, fmt.Errorf("task stats: %w", err)
	}
	return &StatusSummary{Dashboard: dashboard, Documents: docStats, Tasks: taskStats}, nil
}
