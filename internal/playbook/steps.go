package playbook

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"docflow/internal/config"
	"docflow/internal/documents"
)

// Step task types the runner dispatches on.
const (
	TaskTypeAPICall        = "api_call"
	TaskTypeDataProcessing = "data_processing"
)

// StepHandler executes one typed playbook step against a document. The
// returned payload is persisted as the step result; a non-nil error marks the
// step failed with the error recorded as structured detail.
type StepHandler func(ctx context.Context, doc *documents.Document) (map[string]any, error)

// BuiltinHandlers returns the closed registry of step handlers configured
// from playbook settings.
func BuiltinHandlers(cfg config.PlaybookSettings) map[string]StepHandler {
	timeout := time.Duration(cfg.StepTimeout) * time.Second
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return map[string]StepHandler{
		TaskTypeAPICall:        apiCallHandler(cfg.ExternalAPIURL, timeout),
		TaskTypeDataProcessing: dataProcessingHandler(),
	}
}

// TaskTypes returns the names of the registered handlers, for catalog
// validation.
func TaskTypes(handlers map[string]StepHandler) []string {
	out := make([]string, 0, len(handlers))
	for taskType := range handlers {
		out = append(out, taskType)
	}
	return out
}

func apiCallHandler(endpoint string, timeout time.Duration) StepHandler {
	client := &http.Client{Timeout: timeout}
	return func(ctx context.Context, doc *documents.Document) (map[string]any, error) {
		endpoint = strings.TrimSpace(endpoint)
		if endpoint == "" {
			return nil, fmt.Errorf("no external api endpoint configured")
		}
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
		if err != nil {
			return nil, fmt.Errorf("build request: %w", err)
		}
		req.Header.Set("X-Document-ID", doc.ID)

		resp, err := client.Do(req)
		if err != nil {
			return nil, fmt.Errorf("call external api: %w", err)
		}
		defer resp.Body.Close()
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))

		if resp.StatusCode >= http.StatusBadRequest {
			return nil, fmt.Errorf("external api returned %d", resp.StatusCode)
		}
		result := map[string]any{"status_code": resp.StatusCode}
		var decoded any
		if json.Unmarshal(body, &decoded) == nil {
			result["response"] = decoded
		}
		return result, nil
	}
}

func dataProcessingHandler() StepHandler {
	return func(ctx context.Context, doc *documents.Document) (map[string]any, error) {
		normalized := make(map[string]string, len(doc.KVPs))
		for key, kvp := range doc.KVPs {
			cleanKey := strings.ToLower(strings.TrimSpace(key))
			cleanKey = strings.ReplaceAll(cleanKey, " ", "_")
			if cleanKey == "" {
				continue
			}
			normalized[cleanKey] = strings.TrimSpace(kvp.Value)
		}
		return map[string]any{
			"normalized_fields": len(normalized),
			"fields":            normalized,
		}, nil
	}
}
