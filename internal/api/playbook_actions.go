package api

import (
	"context"
	"fmt"
	"log/slog"

	"docflow/internal/config"
	"docflow/internal/documents"
	"docflow/internal/playbook"
)

// RunPlaybook executes the category playbook against a document synchronously
// and returns the complete run record, failed steps included.
func RunPlaybook(ctx context.Context, cfg *config.Config, logger *slog.Logger, documentID, category string) (*documents.PlaybookRun, error) {
	docs, err := documents.Open(cfg)
	if err != nil {
		return nil, fmt.Errorf("open documents store: %w", err)
	}
	defer docs.Close()

	if category == "" {
		doc, getErr := docs.GetByID(ctx, documentID)
		if getErr != nil {
			return nil, fmt.Errorf("fetch document: %w", getErr)
		}
		category = doc.Category
	}

	handlers := playbook.BuiltinHandlers(cfg.Playbooks)
	catalog, err := playbook.LoadCatalog(cfg.Playbooks, playbook.TaskTypes(handlers))
	if err != nil {
		return nil, fmt.Errorf("load playbook catalog: %w", err)
	}
	runner := playbook.NewRunner(docs, catalog, handlers, logger)
	return runner.Run(ctx, documentID, category)
}
