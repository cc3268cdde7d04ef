package documents_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"docflow/internal/documents"
	"docflow/internal/testsupport"
)

func TestCreateAndGet(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	store := testsupport.MustOpenDocumentStore(t, cfg)
	ctx := context.Background()

	pages := 3
	doc, err := store.Create(ctx, "report.pdf", "application/pdf", "blob-1", &pages)
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	if doc.Status != documents.StatusQueued {
		t.Fatalf("new document must be queued, got %s", doc.Status)
	}
	if doc.PageCount == nil || *doc.PageCount != 3 {
		t.Fatalf("unexpected page count: %v", doc.PageCount)
	}

	fetched, err := store.GetByID(ctx, doc.ID)
	if err != nil {
		t.Fatalf("GetByID: %v", err)
	}
	if fetched.Filename != "report.pdf" || fetched.ContentType != "application/pdf" || fetched.BlobID != "blob-1" {
		t.Fatalf("unexpected document: %+v", fetched)
	}

	if _, err := store.GetByID(ctx, "missing"); !errors.Is(err, documents.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
	if _, err := store.Create(ctx, "   ", "", "", nil); err == nil {
		t.Fatal("blank filename must be rejected")
	}
}

func TestUpdatePersistsPipelineArtifacts(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	store := testsupport.MustOpenDocumentStore(t, cfg)
	ctx := context.Background()
	doc := testsupport.NewDocument(t, store, "invoice.txt")

	processedAt := time.Now().UTC().Truncate(time.Second)
	doc.Status = documents.StatusProcessed
	doc.Category = "invoice"
	doc.CategoryExplanation = "mentions an invoice number and a total"
	doc.Text = "Invoice #42\nTotal: $500"
	doc.KVPs = map[string]documents.KVP{
		"invoice_number": {Value: "42", Provenance: documents.ProvenanceExtracted},
	}
	doc.Embedding = []float64{0.25, -0.5, 0.75}
	doc.ProcessedAt = &processedAt
	if err := store.Update(ctx, doc); err != nil {
		t.Fatalf("Update: %v", err)
	}

	fetched, err := store.GetByID(ctx, doc.ID)
	if err != nil {
		t.Fatalf("GetByID: %v", err)
	}
	if fetched.Status != documents.StatusProcessed || fetched.Category != "invoice" {
		t.Fatalf("unexpected document: %+v", fetched)
	}
	if fetched.Text != doc.Text {
		t.Fatalf("text not persisted: %q", fetched.Text)
	}
	if kvp := fetched.KVPs["invoice_number"]; kvp.Value != "42" || kvp.Provenance != documents.ProvenanceExtracted {
		t.Fatalf("unexpected kvps: %+v", fetched.KVPs)
	}
	if len(fetched.Embedding) != 3 || fetched.Embedding[2] != 0.75 {
		t.Fatalf("unexpected embedding: %v", fetched.Embedding)
	}
	if fetched.ProcessedAt == nil || !fetched.ProcessedAt.Equal(processedAt) {
		t.Fatalf("unexpected processed_at: %v", fetched.ProcessedAt)
	}
}

func TestSoftDeleteHidesDocument(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	store := testsupport.MustOpenDocumentStore(t, cfg)
	ctx := context.Background()
	doc := testsupport.NewDocument(t, store, "secret.txt")

	deleted, err := store.SoftDelete(ctx, doc.ID)
	if err != nil {
		t.Fatalf("SoftDelete: %v", err)
	}
	if !deleted {
		t.Fatal("expected delete to report true")
	}

	if _, err := store.GetByID(ctx, doc.ID); !errors.Is(err, documents.ErrNotFound) {
		t.Fatalf("deleted document must be hidden, got %v", err)
	}
	kept, err := store.GetIncludingDeleted(ctx, doc.ID)
	if err != nil {
		t.Fatalf("GetIncludingDeleted: %v", err)
	}
	if kept.DeletedAt == nil {
		t.Fatal("expected deleted_at to be set")
	}

	listed, err := store.List(ctx, documents.ListOptions{})
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(listed) != 0 {
		t.Fatalf("deleted document must not list, got %d", len(listed))
	}
	all, err := store.List(ctx, documents.ListOptions{IncludeDeleted: true})
	if err != nil {
		t.Fatalf("List including deleted: %v", err)
	}
	if len(all) != 1 {
		t.Fatalf("expected 1 record including deleted, got %d", len(all))
	}

	// Deleting twice is a no-op.
	again, err := store.SoftDelete(ctx, doc.ID)
	if err != nil {
		t.Fatalf("second SoftDelete: %v", err)
	}
	if again {
		t.Fatal("second delete must report false")
	}

	restored, err := store.Restore(ctx, doc.ID)
	if err != nil {
		t.Fatalf("Restore: %v", err)
	}
	if !restored {
		t.Fatal("expected restore to report true")
	}
	back, err := store.GetByID(ctx, doc.ID)
	if err != nil {
		t.Fatalf("GetByID after restore: %v", err)
	}
	if back.DeletedAt != nil {
		t.Fatal("restore must clear deleted_at")
	}
}

func TestListFilters(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	store := testsupport.MustOpenDocumentStore(t, cfg)
	ctx := context.Background()

	invoice := testsupport.NewDocument(t, store, "a.txt")
	invoice.Category = "invoice"
	invoice.Status = documents.StatusProcessed
	if err := store.Update(ctx, invoice); err != nil {
		t.Fatalf("Update: %v", err)
	}
	contract := testsupport.NewDocument(t, store, "b.txt")
	contract.Category = "contract"
	contract.Status = documents.StatusFailed
	if err := store.Update(ctx, contract); err != nil {
		t.Fatalf("Update: %v", err)
	}

	byCategory, err := store.List(ctx, documents.ListOptions{Category: "invoice"})
	if err != nil {
		t.Fatalf("List by category: %v", err)
	}
	if len(byCategory) != 1 || byCategory[0].ID != invoice.ID {
		t.Fatalf("unexpected category filter result: %+v", byCategory)
	}

	byStatus, err := store.List(ctx, documents.ListOptions{Statuses: []documents.Status{documents.StatusFailed}})
	if err != nil {
		t.Fatalf("List by status: %v", err)
	}
	if len(byStatus) != 1 || byStatus[0].ID != contract.ID {
		t.Fatalf("unexpected status filter result: %+v", byStatus)
	}
}

func TestSearchMatchesFilenameAndText(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	store := testsupport.MustOpenDocumentStore(t, cfg)
	ctx := context.Background()

	named := testsupport.NewDocument(t, store, "quarterly-report.txt")
	body := testsupport.NewDocument(t, store, "scan001.txt")
	body.Text = "The quarterly figures improved."
	if err := store.Update(ctx, body); err != nil {
		t.Fatalf("Update: %v", err)
	}
	testsupport.NewDocument(t, store, "unrelated.txt")

	results, err := store.Search(ctx, "quarterly")
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	if len(results) != 2 {
		t.Fatalf("expected 2 matches, got %d", len(results))
	}
	found := map[string]bool{}
	for _, doc := range results {
		found[doc.ID] = true
	}
	if !found[named.ID] || !found[body.ID] {
		t.Fatalf("missing expected matches: %v", found)
	}
}

// markProcessed moves a freshly created document to the processed state so
// review actions become legal.
func markProcessed(t *testing.T, store *documents.Store, doc *documents.Document) {
	t.Helper()
	doc.Status = documents.StatusProcessed
	if err := store.Update(context.Background(), doc); err != nil {
		t.Fatalf("Update: %v", err)
	}
}

func TestUpdateKVPsMarksValidated(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	store := testsupport.MustOpenDocumentStore(t, cfg)
	ctx := context.Background()
	doc := testsupport.NewDocument(t, store, "invoice.txt")
	markProcessed(t, store, doc)

	kvps := map[string]documents.KVP{
		"total": {Value: "$900", Provenance: documents.ProvenanceManual},
	}
	if err := store.UpdateKVPs(ctx, doc.ID, kvps, "reviewer"); err != nil {
		t.Fatalf("UpdateKVPs: %v", err)
	}

	updated, err := store.GetByID(ctx, doc.ID)
	if err != nil {
		t.Fatalf("GetByID: %v", err)
	}
	if updated.Status != documents.StatusValidated {
		t.Fatalf("expected validated, got %s", updated.Status)
	}

	// Repeat corrections on an already reviewed document stay legal.
	if err := store.UpdateKVPs(ctx, doc.ID, kvps, "reviewer"); err != nil {
		t.Fatalf("repeat UpdateKVPs: %v", err)
	}
	if err := store.UpdateKVPs(ctx, "missing", kvps, "reviewer"); !errors.Is(err, documents.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestReviewActionsRequireProcessedDocument(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	store := testsupport.MustOpenDocumentStore(t, cfg)
	ctx := context.Background()
	doc := testsupport.NewDocument(t, store, "pending.txt")

	kvps := map[string]documents.KVP{
		"total": {Value: "$900", Provenance: documents.ProvenanceManual},
	}
	if err := store.UpdateKVPs(ctx, doc.ID, kvps, "reviewer"); !errors.Is(err, documents.ErrInvalidTransition) {
		t.Fatalf("expected ErrInvalidTransition for queued document, got %v", err)
	}
	if err := store.Recategorize(ctx, doc.ID, "invoice", "", "reviewer"); !errors.Is(err, documents.ErrInvalidTransition) {
		t.Fatalf("expected ErrInvalidTransition for queued document, got %v", err)
	}

	unchanged, err := store.GetByID(ctx, doc.ID)
	if err != nil {
		t.Fatalf("GetByID: %v", err)
	}
	if unchanged.Status != documents.StatusQueued {
		t.Fatalf("rejected review must not change status, got %s", unchanged.Status)
	}

	doc.Status = documents.StatusFailed
	if err := store.Update(ctx, doc); err != nil {
		t.Fatalf("Update: %v", err)
	}
	if err := store.Recategorize(ctx, doc.ID, "invoice", "", "reviewer"); !errors.Is(err, documents.ErrInvalidTransition) {
		t.Fatalf("expected ErrInvalidTransition for failed document, got %v", err)
	}
}

func TestRecategorize(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	store := testsupport.MustOpenDocumentStore(t, cfg)
	ctx := context.Background()
	doc := testsupport.NewDocument(t, store, "misc.txt")
	markProcessed(t, store, doc)

	if err := store.Recategorize(ctx, doc.ID, " Purchase Order ", "has a PO number", "reviewer"); err != nil {
		t.Fatalf("Recategorize: %v", err)
	}
	updated, err := store.GetByID(ctx, doc.ID)
	if err != nil {
		t.Fatalf("GetByID: %v", err)
	}
	if updated.Category != "purchase order" || updated.Status != documents.StatusRecategorized {
		t.Fatalf("unexpected document: %+v", updated)
	}
	if updated.CategoryExplanation != "has a PO number" {
		t.Fatalf("unexpected explanation: %q", updated.CategoryExplanation)
	}

	if err := store.Recategorize(ctx, doc.ID, "  ", "", ""); err == nil {
		t.Fatal("blank category must be rejected")
	}
	if err := store.Recategorize(ctx, "missing", "invoice", "", ""); !errors.Is(err, documents.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestResetForReprocessingClearsArtifacts(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	store := testsupport.MustOpenDocumentStore(t, cfg)
	ctx := context.Background()
	doc := testsupport.NewDocument(t, store, "invoice.txt")

	processedAt := time.Now().UTC()
	doc.Status = documents.StatusProcessed
	doc.Category = "invoice"
	doc.Text = "Invoice #42"
	doc.KVPs = map[string]documents.KVP{"invoice_number": {Value: "42", Provenance: documents.ProvenanceExtracted}}
	doc.Embedding = []float64{1, 2, 3}
	doc.ErrorMessage = "previous failure"
	doc.ProcessedAt = &processedAt
	if err := store.Update(ctx, doc); err != nil {
		t.Fatalf("Update: %v", err)
	}

	if err := store.ResetForReprocessing(ctx, doc.ID); err != nil {
		t.Fatalf("ResetForReprocessing: %v", err)
	}
	reset, err := store.GetByID(ctx, doc.ID)
	if err != nil {
		t.Fatalf("GetByID: %v", err)
	}
	if reset.Status != documents.StatusQueued {
		t.Fatalf("expected queued, got %s", reset.Status)
	}
	if reset.Category != "" || reset.Text != "" || len(reset.KVPs) != 0 || len(reset.Embedding) != 0 {
		t.Fatalf("artifacts not cleared: %+v", reset)
	}
	if reset.ErrorMessage != "" || reset.ProcessedAt != nil {
		t.Fatalf("failure state not cleared: %+v", reset)
	}
}

func TestAuditTrailIsAppendOnlyOrdered(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	store := testsupport.MustOpenDocumentStore(t, cfg)
	ctx := context.Background()
	doc := testsupport.NewDocument(t, store, "invoice.txt")

	actions := []string{"ingested", "processed", "kvp_update"}
	for _, action := range actions {
		if err := store.AppendAudit(ctx, doc.ID, action, "tester", map[string]any{"note": action}); err != nil {
			t.Fatalf("AppendAudit(%s): %v", action, err)
		}
	}

	trail, err := store.AuditTrail(ctx, doc.ID)
	if err != nil {
		t.Fatalf("AuditTrail: %v", err)
	}
	if len(trail) != len(actions) {
		t.Fatalf("expected %d entries, got %d", len(actions), len(trail))
	}
	for i, entry := range trail {
		if entry.Action != actions[i] {
			t.Fatalf("entry %d = %q, want %q", i, entry.Action, actions[i])
		}
		if entry.Actor != "tester" {
			t.Fatalf("entry %d actor = %q", i, entry.Actor)
		}
	}
}

func TestPlaybookRunLifecycle(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	store := testsupport.MustOpenDocumentStore(t, cfg)
	ctx := context.Background()
	doc := testsupport.NewDocument(t, store, "invoice.txt")

	steps := []documents.StepSpec{
		{Name: "Post to accounting API", TaskType: "api_call"},
		{Name: "Normalize extracted fields", TaskType: "data_processing"},
	}
	run, err := store.CreateRun(ctx, doc.ID, "pb_invoice", "invoice", steps)
	if err != nil {
		t.Fatalf("CreateRun: %v", err)
	}
	if run.Status != documents.RunRunning {
		t.Fatalf("new run must be running, got %s", run.Status)
	}
	if len(run.Steps) != 2 {
		t.Fatalf("expected 2 materialized steps, got %d", len(run.Steps))
	}
	for i, step := range run.Steps {
		if step.Status != documents.StepPending {
			t.Fatalf("step %d must start pending, got %s", i, step.Status)
		}
		if step.Order != i+1 {
			t.Fatalf("step %d order = %d", i, step.Order)
		}
	}

	first := run.Steps[0]
	if err := store.StartStep(ctx, first.ID, "worker-1"); err != nil {
		t.Fatalf("StartStep: %v", err)
	}
	if err := store.StartStep(ctx, first.ID, "worker-2"); err == nil {
		t.Fatal("starting a non-pending step must fail")
	}
	if err := store.CompleteStep(ctx, first.ID, `{"status_code":200}`, false); err != nil {
		t.Fatalf("CompleteStep: %v", err)
	}
	if err := store.CompleteRun(ctx, run.ID, documents.RunSucceeded); err != nil {
		t.Fatalf("CompleteRun: %v", err)
	}

	final, err := store.GetRun(ctx, run.ID)
	if err != nil {
		t.Fatalf("GetRun: %v", err)
	}
	if final.Status != documents.RunSucceeded || final.CompletedAt == nil {
		t.Fatalf("unexpected run: %+v", final)
	}
	done := final.Steps[0]
	if done.Status != documents.StepSucceeded || done.WorkerID != "worker-1" || done.ResultJSON == "" {
		t.Fatalf("unexpected step: %+v", done)
	}
	if final.Steps[1].Status != documents.StepPending {
		t.Fatalf("untouched step must remain pending, got %s", final.Steps[1].Status)
	}

	runs, err := store.RunsForDocument(ctx, doc.ID)
	if err != nil {
		t.Fatalf("RunsForDocument: %v", err)
	}
	if len(runs) != 1 || runs[0].ID != run.ID {
		t.Fatalf("unexpected runs: %+v", runs)
	}

	if _, err := store.CreateRun(ctx, doc.ID, "pb_empty", "invoice", nil); err == nil {
		t.Fatal("run without steps must be rejected")
	}
}

func TestStatsAndDashboard(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	store := testsupport.MustOpenDocumentStore(t, cfg)
	ctx := context.Background()

	processedAt := time.Now().UTC()
	processed := testsupport.NewDocument(t, store, "a.txt")
	processed.Status = documents.StatusProcessed
	processed.Category = "invoice"
	processed.ProcessedAt = &processedAt
	if err := store.Update(ctx, processed); err != nil {
		t.Fatalf("Update: %v", err)
	}

	failed := testsupport.NewDocument(t, store, "b.txt")
	failed.SetFailed("no text could be extracted")
	if err := store.Update(ctx, failed); err != nil {
		t.Fatalf("Update: %v", err)
	}

	testsupport.NewDocument(t, store, "c.txt")

	hidden := testsupport.NewDocument(t, store, "d.txt")
	if _, err := store.SoftDelete(ctx, hidden.ID); err != nil {
		t.Fatalf("SoftDelete: %v", err)
	}

	stats, err := store.Stats(ctx)
	if err != nil {
		t.Fatalf("Stats: %v", err)
	}
	if stats[documents.StatusQueued] != 1 || stats[documents.StatusProcessed] != 1 || stats[documents.StatusFailed] != 1 {
		t.Fatalf("unexpected stats: %+v", stats)
	}

	dash, err := store.Dashboard(ctx)
	if err != nil {
		t.Fatalf("Dashboard: %v", err)
	}
	if dash.Total != 3 {
		t.Fatalf("deleted documents must not count, got total %d", dash.Total)
	}
	if dash.Processed != 1 || dash.Failed != 1 || dash.InFlight != 1 {
		t.Fatalf("unexpected dashboard: %+v", dash)
	}
	if dash.Uncategorized != 2 {
		t.Fatalf("expected 2 uncategorized, got %d", dash.Uncategorized)
	}
	if len(dash.Pools) != 1 || dash.Pools[0].Category != "invoice" || dash.Pools[0].Count != 1 {
		t.Fatalf("unexpected pools: %+v", dash.Pools)
	}
}

func TestEmbeddingsSkipDeletedAndEmpty(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	store := testsupport.MustOpenDocumentStore(t, cfg)
	ctx := context.Background()

	with := testsupport.NewDocument(t, store, "a.txt")
	with.Embedding = []float64{0.1, 0.2}
	if err := store.Update(ctx, with); err != nil {
		t.Fatalf("Update: %v", err)
	}

	testsupport.NewDocument(t, store, "b.txt")

	gone := testsupport.NewDocument(t, store, "c.txt")
	gone.Embedding = []float64{0.3, 0.4}
	if err := store.Update(ctx, gone); err != nil {
		t.Fatalf("Update: %v", err)
	}
	if _, err := store.SoftDelete(ctx, gone.ID); err != nil {
		t.Fatalf("SoftDelete: %v", err)
	}

	vectors, err := store.Embeddings(ctx)
	if err != nil {
		t.Fatalf("Embeddings: %v", err)
	}
	if len(vectors) != 1 || vectors[0].DocumentID != with.ID {
		t.Fatalf("unexpected vectors: %+v", vectors)
	}
	if len(vectors[0].Vector) != 2 {
		t.Fatalf("unexpected vector: %v", vectors[0].Vector)
	}
}
