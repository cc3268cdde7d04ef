// Package embed computes fixed-length embedding vectors for document text
// through an OpenAI-compatible embeddings endpoint.
package embed

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
	"unicode/utf8"

	"docflow/internal/config"
	"docflow/internal/services"
)

const (
	component          = "embed"
	defaultHTTPTimeout = 30 * time.Second
	maxInputChars      = 24000
)

// Client wraps the embeddings endpoint.
type Client struct {
	baseURL    string
	apiKey     string
	model      string
	dimensions int
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

// NewClient constructs an embedding client from configuration.
func NewClient(cfg config.Embedder, opts ...Option) *Client {
	timeout := defaultHTTPTimeout
	if cfg.TimeoutSeconds > 0 {
		timeout = time.Duration(cfg.TimeoutSeconds) * time.Second
	}
	client := &Client{
		baseURL:    strings.TrimSpace(cfg.BaseURL),
		apiKey:     strings.TrimSpace(cfg.APIKey),
		model:      strings.TrimSpace(cfg.Model),
		dimensions: cfg.Dimensions,
		httpClient: &http.Client{Timeout: timeout},
	}
	for _, opt := range opts {
		opt(client)
	}
	return client
}

// Dimensions reports the expected vector length.
func (c *Client) Dimensions() int {
	return c.dimensions
}

type embeddingRequest struct {
	Model string `json:"model"`
	Input string `json:"input"`
}

type embeddingResponse struct {
	Data []struct {
		Embedding []float64 `json:"embedding"`
	} `json:"data"`
	Error *struct {
		Message string `json:"message"`
	} `json:"error"`
}

// Embed returns the embedding vector for text. A vector whose length does not
// match the configured dimensions is rejected so every stored embedding stays
// comparable.
func (c *Client) Embed(ctx context.Context, text string) ([]float64, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return nil, services.Wrap(services.ErrPermanent, component, "embed", "document text required", nil)
	}
	text = truncateAtRuneBoundary(text, maxInputChars)

	encoded, err := json.Marshal(embeddingRequest{Model: c.model, Input: text})
	if err != nil {
		return nil, services.Wrap(services.ErrPermanent, component, "encode request", "", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL, bytes.NewReader(encoded))
	if err != nil {
		return nil, services.Wrap(services.ErrPermanent, component, "build request", "", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, services.Wrap(services.ErrTransient, component, "send request", "", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, services.Wrap(services.ErrTransient, component, "read response", "", err)
	}
	if resp.StatusCode >= http.StatusMultipleChoices {
		return nil, services.Wrap(services.ErrTransient, component, "send request",
			fmt.Sprintf("http %d", resp.StatusCode), nil)
	}

	var decoded embeddingResponse
	if err := json.Unmarshal(body, &decoded); err != nil {
		return nil, services.Wrap(services.ErrTransient, component, "decode response", "", err)
	}
	if decoded.Error != nil {
		return nil, services.Wrap(services.ErrTransient, component, "api error",
			strings.TrimSpace(decoded.Error.Message), nil)
	}
	if len(decoded.Data) == 0 || len(decoded.Data[0].Embedding) == 0 {
		return nil, services.Wrap(services.ErrTransient, component, "decode response", "empty embedding", nil)
	}

	vector := decoded.Data[0].Embedding
	if c.dimensions > 0 && len(vector) != c.dimensions {
		return nil, services.Wrap(services.ErrConfiguration, component, "embed",
			fmt.Sprintf("model returned %d dimensions, expected %d", len(vector), c.dimensions), nil)
	}
	return vector, nil
}

// truncateAtRuneBoundary caps text at limit bytes without splitting a
// multi-byte rune, so the request body stays valid UTF-8.
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
