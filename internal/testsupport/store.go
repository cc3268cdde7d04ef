package testsupport

import (
	"context"
	"testing"

	"docflow/internal/config"
	"docflow/internal/documents"
	"docflow/internal/tasks"
)

// MustOpenDocumentStore opens a documents.Store for tests and registers cleanup.
func MustOpenDocumentStore(t testing.TB, cfg *config.Config) *documents.Store {
	t.Helper()

	store, err := documents.Open(cfg)
	if err != nil {
		t.Fatalf("documents.Open: %v", err)
	}
	t.Cleanup(func() {
		store.Close()
	})
	return store
}

// MustOpenTaskStore opens a tasks.Store for tests and registers cleanup.
func MustOpenTaskStore(t testing.TB, cfg *config.Config) *tasks.Store {
	t.Helper()

	store, err := tasks.Open(cfg)
	if err != nil {
		t.Fatalf("tasks.Open: %v", err)
	}
	t.Cleanup(func() {
		store.Close()
	})
	return store
}

// NewDocument creates a queued document for tests using the provided store.
func NewDocument(t testing.TB, store *documents.Store, filename string) *documents.Document {
	t.Helper()

	doc, err := store.Create(context.Background(), filename, "text/plain", filename+"-blob", nil)
	if err != nil {
		t.Fatalf("store.Create: %v", err)
	}
	return doc
}
