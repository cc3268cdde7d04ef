package classify_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"unicode/utf8"

	"docflow/internal/classify"
	"docflow/internal/config"
	"docflow/internal/documents"
	"docflow/internal/services"
)

func newTestClient(t *testing.T, handler http.HandlerFunc) *classify.Client {
	t.Helper()
	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)
	return classify.NewClient(config.Classifier{
		APIKey:          "test-key",
		BaseURL:         server.URL,
		Model:           "test-model",
		KnownCategories: []string{"invoice", "contract", "resume", "purchase order"},
	})
}

func completionBody(content string) string {
	payload := map[string]any{
		"choices": []map[string]any{
			{"message": map[string]any{"content": content}},
		},
	}
	encoded, _ := json.Marshal(payload)
	return string(encoded)
}

func TestClassifySuccess(t *testing.T) {
	var gotAuth string
	var gotBody map[string]any
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
		_ = json.NewDecoder(r.Body).Decode(&gotBody)
		_, _ = w.Write([]byte(completionBody(`{"category":"Invoice","explanation":"Mentions an invoice number and a total.","kvps":{"total":"$500","invoice_number":"42"}}`)))
	})

	result, err := client.Classify(context.Background(), "Invoice #42. Total: $500")
	if err != nil {
		t.Fatalf("Classify: %v", err)
	}
	if gotAuth != "Bearer test-key" {
		t.Fatalf("missing auth header, got %q", gotAuth)
	}
	if gotBody["model"] != "test-model" {
		t.Fatalf("unexpected model: %v", gotBody["model"])
	}
	if result.Category != "invoice" {
		t.Fatalf("expected lowercased category, got %q", result.Category)
	}
	if result.Explanation == "" {
		t.Fatal("expected an explanation")
	}
	total, ok := result.KVPs["total"]
	if !ok {
		t.Fatalf("expected total kvp, got %v", result.KVPs)
	}
	if total.Value != "$500" || total.Provenance != documents.ProvenanceExtracted {
		t.Fatalf("unexpected kvp: %+v", total)
	}
}

func TestClassifyFencedJSON(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		content := "```json\n{\"category\":\"contract\",\"explanation\":\"x\",\"kvps\":{}}\n```"
		_, _ = w.Write([]byte(completionBody(content)))
	})

	result, err := client.Classify(context.Background(), "This agreement is made between...")
	if err != nil {
		t.Fatalf("Classify: %v", err)
	}
	if result.Category != "contract" {
		t.Fatalf("expected contract, got %q", result.Category)
	}
}

func TestClassifyServerErrorIsTransient(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "upstream overloaded", http.StatusServiceUnavailable)
	})

	_, err := client.Classify(context.Background(), "some text")
	if err == nil {
		t.Fatal("expected error")
	}
	if !services.IsTransient(err) {
		t.Fatalf("server errors must be transient, got %v", err)
	}
}

func TestClassifyUnauthorizedIsConfiguration(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "bad key", http.StatusUnauthorized)
	})

	_, err := client.Classify(context.Background(), "some text")
	if err == nil {
		t.Fatal("expected error")
	}
	if !services.IsPermanent(err) {
		t.Fatalf("auth failures must not be retried, got %v", err)
	}
}

func TestClassifyMissingAPIKey(t *testing.T) {
	client := classify.NewClient(config.Classifier{BaseURL: "http://localhost:1", Model: "m"})

	_, err := client.Classify(context.Background(), "some text")
	if err == nil {
		t.Fatal("expected error")
	}
	if !services.IsPermanent(err) {
		t.Fatalf("missing api key must be permanent, got %v", err)
	}
	if !strings.Contains(err.Error(), "api key") {
		t.Fatalf("error should mention the api key: %v", err)
	}
}

func TestClassifyEmptyCategoryIsTransient(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(completionBody(`{"category":"","explanation":"","kvps":{}}`)))
	})

	_, err := client.Classify(context.Background(), "some text")
	if err == nil {
		t.Fatal("expected error for empty category")
	}
	if !services.IsTransient(err) {
		t.Fatalf("empty category should be retried, got %v", err)
	}
}

func TestClassifyTruncatesPromptOnRuneBoundary(t *testing.T) {
	var gotPrompt string
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		var body struct {
			Messages []struct {
				Role    string `json:"role"`
				Content string `json:"content"`
			} `json:"messages"`
		}
		_ = json.NewDecoder(r.Body).Decode(&body)
		for _, msg := range body.Messages {
			if msg.Role == "user" {
				gotPrompt = msg.Content
			}
		}
		_, _ = w.Write([]byte(completionBody(`{"category":"invoice","explanation":"long input","kvps":{}}`)))
	})

	// One leading ASCII byte shifts every two-byte rune off the even
	// boundary, so a naive byte cut at the limit would split one in half.
	text := "x" + strings.Repeat("é", 8000)
	if _, err := client.Classify(context.Background(), text); err != nil {
		t.Fatalf("Classify: %v", err)
	}
	if gotPrompt == "" {
		t.Fatal("user prompt never reached the server")
	}
	if len(gotPrompt) >= len(text) {
		t.Fatalf("expected prompt to be truncated, got %d bytes", len(gotPrompt))
	}
	if !utf8.ValidString(gotPrompt) {
		t.Fatal("truncated prompt is not valid utf-8")
	}
	if !strings.HasPrefix(text, gotPrompt) {
		t.Fatal("truncated prompt must be a prefix of the input")
	}
}
