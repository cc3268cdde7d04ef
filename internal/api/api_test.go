package api_test

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"docflow/internal/api"
	"docflow/internal/documents"
	"docflow/internal/pipeline"
	"docflow/internal/tasks"
	"docflow/internal/testsupport"
)

func writeSampleFile(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write sample: %v", err)
	}
	return path
}

func TestIngestCreatesDocumentAndTask(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	ctx := context.Background()
	path := writeSampleFile(t, "invoice.txt", "Invoice #42\nTotal: $500")

	result, err := api.Ingest(ctx, api.IngestRequest{Config: cfg, Path: path, Actor: "tester"})
	if err != nil {
		t.Fatalf("Ingest: %v", err)
	}
	if result.Document.Filename != "invoice.txt" {
		t.Fatalf("unexpected filename %q", result.Document.Filename)
	}
	if result.Document.Status != documents.StatusQueued {
		t.Fatalf("expected queued, got %s", result.Document.Status)
	}
	if result.TaskID == "" {
		t.Fatal("expected a processing task id")
	}

	taskStore := testsupport.MustOpenTaskStore(t, cfg)
	task, err := taskStore.GetByID(ctx, result.TaskID)
	if err != nil {
		t.Fatalf("GetByID: %v", err)
	}
	if task.Name != pipeline.TaskName || task.QueueName != tasks.QueueProcessing {
		t.Fatalf("unexpected task: %+v", task)
	}
	if task.MaxRetries != cfg.Queue.MaxRetries {
		t.Fatalf("expected configured retry budget, got %d", task.MaxRetries)
	}

	view, err := api.PipelineStatus(ctx, cfg, result.Document.ID)
	if err != nil {
		t.Fatalf("PipelineStatus: %v", err)
	}
	if len(view.Audit) == 0 || view.Audit[0].Action != "ingested" {
		t.Fatalf("expected ingest audit entry, got %+v", view.Audit)
	}
}

func TestSoftDeleteAndRestore(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	ctx := context.Background()
	docs := testsupport.MustOpenDocumentStore(t, cfg)
	doc := testsupport.NewDocument(t, docs, "contract.txt")

	if err := api.SoftDelete(ctx, cfg, doc.ID); err != nil {
		t.Fatalf("SoftDelete: %v", err)
	}

	listed, err := api.ListDocuments(ctx, cfg, documents.ListOptions{})
	if err != nil {
		t.Fatalf("ListDocuments: %v", err)
	}
	if len(listed) != 0 {
		t.Fatalf("deleted document must not be listed, got %d", len(listed))
	}

	found, err := api.SearchDocuments(ctx, cfg, "contract")
	if err != nil {
		t.Fatalf("SearchDocuments: %v", err)
	}
	if len(found) != 0 {
		t.Fatalf("deleted document must not be searchable, got %d", len(found))
	}

	if err := api.Restore(ctx, cfg, doc.ID); err != nil {
		t.Fatalf("Restore: %v", err)
	}
	listed, err = api.ListDocuments(ctx, cfg, documents.ListOptions{})
	if err != nil {
		t.Fatalf("ListDocuments: %v", err)
	}
	if len(listed) != 1 {
		t.Fatalf("restored document must be listed, got %d", len(listed))
	}
}

func TestUpdateKVPsMarksValidated(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	ctx := context.Background()
	docs := testsupport.MustOpenDocumentStore(t, cfg)
	doc := testsupport.NewDocument(t, docs, "invoice.txt")
	doc.Status = documents.StatusProcessed
	if err := docs.Update(ctx, doc); err != nil {
		t.Fatalf("Update: %v", err)
	}

	if err := api.UpdateKVPs(ctx, cfg, doc.ID, map[string]string{"total": "$750"}, "reviewer"); err != nil {
		t.Fatalf("UpdateKVPs: %v", err)
	}

	updated, err := docs.GetByID(ctx, doc.ID)
	if err != nil {
		t.Fatalf("GetByID: %v", err)
	}
	if updated.Status != documents.StatusValidated {
		t.Fatalf("expected validated, got %s", updated.Status)
	}
	kvp, ok := updated.KVPs["total"]
	if !ok {
		t.Fatalf("missing corrected kvp: %v", updated.KVPs)
	}
	if kvp.Value != "$750" || kvp.Provenance != documents.ProvenanceManual {
		t.Fatalf("unexpected kvp: %+v", kvp)
	}
}

func TestRecategorize(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	ctx := context.Background()
	docs := testsupport.MustOpenDocumentStore(t, cfg)
	doc := testsupport.NewDocument(t, docs, "misc.txt")
	doc.Status = documents.StatusProcessed
	if err := docs.Update(ctx, doc); err != nil {
		t.Fatalf("Update: %v", err)
	}

	if err := api.Recategorize(ctx, cfg, doc.ID, "Contract", "manually reviewed", "reviewer"); err != nil {
		t.Fatalf("Recategorize: %v", err)
	}
	updated, err := docs.GetByID(ctx, doc.ID)
	if err != nil {
		t.Fatalf("GetByID: %v", err)
	}
	if updated.Status != documents.StatusRecategorized {
		t.Fatalf("expected recategorized, got %s", updated.Status)
	}
	if updated.Category != "contract" {
		t.Fatalf("expected normalized category, got %q", updated.Category)
	}
}

func TestReprocessResetsAndEnqueues(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	ctx := context.Background()
	docs := testsupport.MustOpenDocumentStore(t, cfg)
	doc := testsupport.NewDocument(t, docs, "invoice.txt")

	doc.Text = "extracted"
	doc.Category = "invoice"
	doc.Status = documents.StatusFailed
	doc.ErrorMessage = "embedder unreachable"
	if err := docs.Update(ctx, doc); err != nil {
		t.Fatalf("Update: %v", err)
	}

	taskID, err := api.Reprocess(ctx, cfg, doc.ID)
	if err != nil {
		t.Fatalf("Reprocess: %v", err)
	}
	if taskID == "" {
		t.Fatal("expected task id")
	}

	updated, err := docs.GetByID(ctx, doc.ID)
	if err != nil {
		t.Fatalf("GetByID: %v", err)
	}
	if updated.Status != documents.StatusQueued {
		t.Fatalf("expected queued, got %s", updated.Status)
	}
	if updated.Text != "" || updated.Category != "" || updated.ErrorMessage != "" {
		t.Fatalf("stage outputs must be cleared: %+v", updated)
	}
}

func TestReplayDeadLetterRoundTrip(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	ctx := context.Background()
	taskStore := testsupport.MustOpenTaskStore(t, cfg)

	task, err := taskStore.Enqueue(ctx, pipeline.TaskName, `{"document_id":"d1"}`, tasks.QueueProcessing, 3)
	if err != nil {
		t.Fatalf("Enqueue: %v", err)
	}
	task.Retries = 3
	record, err := taskStore.DeadLetter(ctx, task, "gave up")
	if err != nil {
		t.Fatalf("DeadLetter: %v", err)
	}

	records, err := api.ListDeadLetters(ctx, cfg, true)
	if err != nil {
		t.Fatalf("ListDeadLetters: %v", err)
	}
	if len(records) != 1 {
		t.Fatalf("expected one dead letter, got %d", len(records))
	}

	replayed, err := api.ReplayDeadLetter(ctx, cfg, record.ID)
	if err != nil {
		t.Fatalf("ReplayDeadLetter: %v", err)
	}
	if replayed.Retries != 0 {
		t.Fatalf("replay must reset retries, got %d", replayed.Retries)
	}
}

func TestSearchSimilarRanksByCosine(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	ctx := context.Background()
	docs := testsupport.MustOpenDocumentStore(t, cfg)

	seed := func(name string, vector []float64) *documents.Document {
		doc := testsupport.NewDocument(t, docs, name)
		doc.Embedding = vector
		if err := docs.Update(ctx, doc); err != nil {
			t.Fatalf("Update: %v", err)
		}
		return doc
	}
	source := seed("a.txt", []float64{1, 0, 0})
	near := seed("b.txt", []float64{0.9, 0.1, 0})
	far := seed("c.txt", []float64{0, 1, 0})

	similar, err := api.SearchSimilar(ctx, cfg, source.ID, 5)
	if err != nil {
		t.Fatalf("SearchSimilar: %v", err)
	}
	if len(similar) != 2 {
		t.Fatalf("expected 2 candidates, got %d", len(similar))
	}
	if similar[0].Document.ID != near.ID {
		t.Fatalf("expected %s ranked first, got %s", near.ID, similar[0].Document.ID)
	}
	if similar[1].Document.ID != far.ID {
		t.Fatalf("expected %s ranked last, got %s", far.ID, similar[1].Document.ID)
	}
	if similar[0].Similarity <= similar[1].Similarity {
		t.Fatal("similarity ordering is wrong")
	}
}

func TestStatusAggregates(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	ctx := context.Background()
	docs := testsupport.MustOpenDocumentStore(t, cfg)
	taskStore := testsupport.MustOpenTaskStore(t, cfg)

	testsupport.NewDocument(t, docs, "a.txt")
	testsupport.NewDocument(t, docs, "b.txt")
	if _, err := taskStore.Enqueue(ctx, pipeline.TaskName, "", tasks.QueueProcessing, 3); err != nil {
		t.Fatalf("Enqueue: %v", err)
	}

	summary, err := api.Status(ctx, cfg)
	if err != nil {
		t.Fatalf("Status: %v", err)
	}
	if summary.Dashboard.Total != 2 {
		t.Fatalf("expected 2 documents, got %d", summary.Dashboard.Total)
	}
	if summary.Documents[documents.StatusQueued] != 2 {
		t.Fatalf("unexpected document stats: %+v", summary.Documents)
	}
	if summary.Tasks[tasks.StatusQueued] != 1 {
		t.Fatalf("unexpected task stats: %+v", summary.Tasks)
	}
}

func TestRunPlaybookSynchronously(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	ctx := context.Background()
	docs := testsupport.MustOpenDocumentStore(t, cfg)
	doc := testsupport.NewDocument(t, docs, "invoice.txt")

	run, err := api.RunPlaybook(ctx, cfg, nil, doc.ID, "invoice")
	if err != nil {
		t.Fatalf("RunPlaybook: %v", err)
	}
	if len(run.Steps) == 0 {
		t.Fatal("expected catalog steps")
	}
}
