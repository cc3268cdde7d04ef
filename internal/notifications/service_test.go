package notifications_test

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"docflow/internal/config"
	"docflow/internal/notifications"
)

func TestNewServiceReturnsNoopWhenTopicMissing(t *testing.T) {
	cfg := config.Default()
	cfg.Notifications.NtfyTopic = ""
	svc := notifications.NewService(&cfg)
	if err := svc.NotifyDocumentProcessed(context.Background(), "invoice.pdf", "invoice"); err != nil {
		t.Fatalf("expected noop notifier to return nil, got %v", err)
	}
}

func TestNtfyServiceFormatsPayloads(t *testing.T) {
	tests := []struct {
		name           string
		notify         func(svc notifications.Service) error
		expectTitle    string
		expectMessage  string
		expectTags     string
		expectPriority string
	}{
		{
			name: "document processed",
			notify: func(svc notifications.Service) error {
				return svc.NotifyDocumentProcessed(context.Background(), "invoice.pdf", "invoice")
			},
			expectTitle:   "Docflow - Processed",
			expectMessage: "Processed: invoice.pdf (invoice)",
			expectTags:    "docflow,pipeline,completed",
		},
		{
			name: "document failed",
			notify: func(svc notifications.Service) error {
				return svc.NotifyDocumentFailed(context.Background(), "scan.pdf", "no text could be extracted")
			},
			expectTitle:    "Docflow - Failed",
			expectMessage:  "Processing failed: scan.pdf\nReason: no text could be extracted",
			expectTags:     "docflow,pipeline,failed",
			expectPriority: "high",
		},
		{
			name: "dead letter",
			notify: func(svc notifications.Service) error {
				return svc.NotifyDeadLetter(context.Background(), "process_document", "embedder unreachable")
			},
			expectTitle:    "Docflow - Dead Letter",
			expectMessage:  "Task exhausted retries: process_document\nReason: embedder unreachable",
			expectTags:     "docflow,queue,dead-letter",
			expectPriority: "high",
		},
		{
			name: "playbook completed",
			notify: func(svc notifications.Service) error {
				return svc.NotifyPlaybookCompleted(context.Background(), "invoice.pdf", "Invoice Intake", false)
			},
			expectTitle:   "Docflow - Playbook Complete",
			expectMessage: "Playbook Invoice Intake finished for invoice.pdf",
			expectTags:    "docflow,playbook,completed",
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			var captured struct {
				title    string
				tags     string
				priority string
				body     string
			}

			server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				if r.Method != http.MethodPost {
					t.Fatalf("unexpected method: %s", r.Method)
				}
				captured.title = r.Header.Get("Title")
				captured.tags = r.Header.Get("Tags")
				captured.priority = r.Header.Get("Priority")
				body, err := io.ReadAll(r.Body)
				if err != nil {
					t.Fatalf("read body: %v", err)
				}
				captured.body = string(body)
				_ = r.Body.Close()
				w.WriteHeader(http.StatusOK)
			}))
			defer server.Close()

			cfg := config.Default()
			cfg.Notifications.NtfyTopic = server.URL
			cfg.Notifications.RequestTimeout = 5
			cfg.Notifications.Processed = true
			cfg.Notifications.Failures = true
			cfg.Notifications.DeadLetters = true

			svc := notifications.NewService(&cfg)
			if err := tc.notify(svc); err != nil {
				t.Fatalf("notification returned error: %v", err)
			}

			if captured.title != tc.expectTitle {
				t.Fatalf("expected title %q, got %q", tc.expectTitle, captured.title)
			}
			if captured.body != tc.expectMessage {
				t.Fatalf("expected message %q, got %q", tc.expectMessage, captured.body)
			}
			if captured.tags != tc.expectTags {
				t.Fatalf("expected tags %q, got %q", tc.expectTags, captured.tags)
			}
			if captured.priority != tc.expectPriority {
				t.Fatalf("expected priority %q, got %q", tc.expectPriority, captured.priority)
			}
		})
	}
}

func TestNtfyServiceHonorsEventToggles(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Fatalf("unexpected call for disabled event: %s", r.URL.String())
	}))
	defer server.Close()

	cfg := config.Default()
	cfg.Notifications.NtfyTopic = server.URL
	cfg.Notifications.Processed = false
	cfg.Notifications.Failures = false
	cfg.Notifications.DeadLetters = false

	svc := notifications.NewService(&cfg)
	if err := svc.NotifyDocumentProcessed(context.Background(), "a.pdf", "invoice"); err != nil {
		t.Fatalf("disabled processed event: %v", err)
	}
	if err := svc.NotifyDocumentFailed(context.Background(), "a.pdf", "boom"); err != nil {
		t.Fatalf("disabled failure event: %v", err)
	}
	if err := svc.NotifyDeadLetter(context.Background(), "process_document", "boom"); err != nil {
		t.Fatalf("disabled dead letter event: %v", err)
	}
}
