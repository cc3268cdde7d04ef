package classify

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
	"unicode/utf8"

	"docflow/internal/config"
	"docflow/internal/documents"
	"docflow/internal/services"
)

const (
	component          = "classify"
	jsonResponseType   = "json_object"
	defaultHTTPTimeout = 30 * time.Second
	maxPromptChars     = 12000
)

// Result carries everything the model produced for a document.
type Result struct {
	Category    string
	Explanation string
	KVPs        map[string]documents.KVP
	Raw         string
}

// Client wraps an OpenRouter-compatible chat completion API for document
// classification and key-value extraction.
type Client struct {
	apiKey     string
	baseURL    string
	model      string
	categories []string
	httpClient *http.Client
}

// Option customizes the client.
type Option func(*Client)

// WithHTTPClient overrides the default HTTP client.
func WithHTTPClient(client *http.Client) Option {
	return func(c *Client) {
		if client != nil {
			c.httpClient = client
		}
	}
}

// NewClient constructs a classification client from configuration.
func NewClient(cfg config.Classifier, opts ...Option) *Client {
	timeout := defaultHTTPTimeout
	if cfg.TimeoutSeconds > 0 {
		timeout = time.Duration(cfg.TimeoutSeconds) * time.Second
	}
	client := &Client{
		apiKey:     strings.TrimSpace(cfg.APIKey),
		baseURL:    strings.TrimSpace(cfg.BaseURL),
		model:      strings.TrimSpace(cfg.Model),
		categories: append([]string(nil), cfg.KnownCategories...),
		httpClient: &http.Client{Timeout: timeout},
	}
	for _, opt := range opts {
		opt(client)
	}
	return client
}

// Classify sends document text to the model and returns the chosen category,
// an explanation, and extracted key-value pairs. Transport and server errors
// are transient; a missing API key is a configuration error.
func (c *Client) Classify(ctx context.Context, text string) (Result, error) {
	var empty Result
	text = strings.TrimSpace(text)
	if text == "" {
		return empty, services.Wrap(services.ErrPermanent, component, "classify", "document text required", nil)
	}
	if c.apiKey == "" {
		return empty, services.Wrap(services.ErrConfiguration, component, "classify", "api key required", nil)
	}
	text = truncateAtRuneBoundary(text, maxPromptChars)

	payload := chatCompletionRequest{
		Model: c.model,
		Messages: []chatMessage{
			{Role: "system", Content: c.systemPrompt()},
			{Role: "user", Content: text},
		},
		Temperature:    0,
		ResponseFormat: map[string]string{"type": jsonResponseType},
	}
	content, err := c.sendChatRequest(ctx, payload)
	if err != nil {
		return empty, err
	}

	var parsed struct {
		Category    string            `json:"category"`
		Explanation string            `json:"explanation"`
		KVPs        map[string]string `json:"kvps"`
	}
	if err := decodeModelJSON(content, &parsed); err != nil {
		return empty, services.Wrap(services.ErrTransient, component, "parse payload", "", err)
	}

	result := Result{
		Category:    strings.ToLower(strings.TrimSpace(parsed.Category)),
		Explanation: strings.TrimSpace(parsed.Explanation),
		KVPs:        make(map[string]documents.KVP, len(parsed.KVPs)),
		Raw:         content,
	}
	for key, value := range parsed.KVPs {
		key = strings.TrimSpace(key)
		if key == "" {
			continue
		}
		result.KVPs[key] = documents.KVP{Value: strings.TrimSpace(value), Provenance: documents.ProvenanceExtracted}
	}
	if result.Category == "" {
		return empty, services.Wrap(services.ErrTransient, component, "classify", "model returned no category", nil)
	}
	return result, nil
}

func (c *Client) systemPrompt() string {
	var sb strings.Builder
	sb.WriteString("You classify business documents and extract their key facts. ")
	sb.WriteString("Respond with JSON only, shaped as ")
	sb.WriteString(`{"category": "...", "explanation": "...", "kvps": {"field": "value"}}. `)
	if len(c.categories) > 0 {
		sb.WriteString("Choose the category from: ")
		sb.WriteString(strings.Join(c.categories, ", "))
		sb.WriteString(". If none fit, pick the closest. ")
	}
	sb.WriteString("The explanation is one sentence. Extract concrete fields such as totals, dates, parties, and ids into kvps.")
	return sb.String()
}

type chatCompletionRequest struct {
	Model          string            `json:"model"`
	Messages       []chatMessage     `json:"messages"`
	Temperature    float64           `json:"temperature"`
	ResponseFormat map[string]string `json:"response_format"`
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatCompletionResponse struct {
	Choices []struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
	} `json:"choices"`
	Error *struct {
		Message string `json:"message"`
	} `json:"error"`
}

func (c *Client) sendChatRequest(ctx context.Context, payload chatCompletionRequest) (string, error) {
	encoded, err := json.Marshal(payload)
	if err != nil {
		return "", services.Wrap(services.ErrPermanent, component, "encode request", "", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL, bytes.NewReader(encoded))
	if err != nil {
		return "", services.Wrap(services.ErrPermanent, component, "build request", "", err)
	}
	req.Header.Set("Authorization", "Bearer "+c.apiKey)
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", services.Wrap(services.ErrTransient, component, "send request", "", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", services.Wrap(services.ErrTransient, component, "read response", "", err)
	}
	if resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden {
		return "", services.Wrap(services.ErrConfiguration, component, "send request",
			fmt.Sprintf("http %d", resp.StatusCode), nil)
	}
	if resp.StatusCode >= http.StatusMultipleChoices {
		return "", services.Wrap(services.ErrTransient, component, "send request",
			fmt.Sprintf("http %d: %s", resp.StatusCode, summarizeSnippet(string(body))), nil)
	}

	var completion chatCompletionResponse
	if err := json.Unmarshal(body, &completion); err != nil {
		return "", services.Wrap(services.ErrTransient, component, "decode response", "", err)
	}
	if completion.Error != nil {
		return "", services.Wrap(services.ErrTransient, component, "api error",
			strings.TrimSpace(completion.Error.Message), nil)
	}
	for _, choice := range completion.Choices {
		if content := strings.TrimSpace(choice.Message.Content); content != "" {
			return content, nil
		}
	}
	return "", services.Wrap(services.ErrTransient, component, "decode response", "empty completion", nil)
}

func decodeModelJSON(content string, target any) error {
	trimmed := strings.TrimSpace(content)
	if trimmed == "" {
		return errors.New("empty payload")
	}
	if err := json.Unmarshal([]byte(trimmed), target); err == nil {
		return nil
	}
	// Models sometimes fence or preface the JSON; extract the object.
	start := strings.Index(trimmed, "{")
	end := strings.LastIndex(trimmed, "}")
	if start < 0 || end <= start {
		return fmt.Errorf("no json object in payload (snippet: %s)", summarizeSnippet(trimmed))
	}
	if err := json.Unmarshal([]byte(trimmed[start:end+1]), target); err != nil {
		return fmt.Errorf("%w (snippet: %s)", err, summarizeSnippet(trimmed))
	}
	return nil
}

// truncateAtRuneBoundary caps text at limit bytes without splitting a
// multi-byte rune, so the prompt stays valid UTF-8.
func truncateAtRuneBoundary(text string, limit int) string {
	if len(text) <= limit {
		return text
	}
	cut := limit
	for cut > 0 && !utf8.RuneStart(text[cut]) {
		cut--
	}
	return text[:cut]
}

func summarizeSnippet(payload string) string {
	payload = strings.Join(strings.Fields(payload), " ")
	const limit = 160
	if len(payload) > limit {
		return payload[:limit] + "..."
	}
	return payload
}
