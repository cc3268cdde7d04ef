package notifications

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"docflow/internal/config"
)

const userAgent = "Docflow/0.1.0"

// Service defines the notification surface exposed to pipeline components.
type Service interface {
	NotifyDocumentProcessed(ctx context.Context, filename, category string) error
	NotifyDocumentFailed(ctx context.Context, filename, reason string) error
	NotifyDeadLetter(ctx context.Context, taskName, reason string) error
	NotifyPlaybookCompleted(ctx context.Context, filename, playbookName string, failed bool) error
	NotifyError(ctx context.Context, err error, context string) error
	TestNotification(ctx context.Context) error
}

// NewService builds a notification service backed by ntfy when configured.
// When no ntfy topic is configured, a noop implementation is returned.
func NewService(cfg *config.Config) Service {
	topic := strings.TrimSpace(cfg.Notifications.NtfyTopic)
	if topic == "" {
		return noopService{}
	}

	timeout := time.Duration(cfg.Notifications.RequestTimeout) * time.Second
	if timeout <= 0 {
		timeout = 10 * time.Second
	}

	return &ntfyService{
		endpoint:    topic,
		client:      &http.Client{Timeout: timeout},
		processed:   cfg.Notifications.Processed,
		failures:    cfg.Notifications.Failures,
		deadLetters: cfg.Notifications.DeadLetters,
	}
}

type payload struct {
	title    string
	message  string
	tags     []string
	priority string
}

type ntfyService struct {
	endpoint    string
	client      *http.Client
	processed   bool
	failures    bool
	deadLetters bool
}

func (n *ntfyService) NotifyDocumentProcessed(ctx context.Context, filename, category string) error {
	if !n.processed {
		return nil
	}
	filename = strings.TrimSpace(filename)
	category = strings.TrimSpace(category)
	if category == "" {
		category = "uncategorized"
	}
	data := payload{
		title:   "Docflow - Processed",
		message: fmt.Sprintf("Processed: %s (%s)", filename, category),
		tags:    []string{"docflow", "pipeline", "completed"},
	}
	return n.send(ctx, data)
}

func (n *ntfyService) NotifyDocumentFailed(ctx context.Context, filename, reason string) error {
	if !n.failures {
		return nil
	}
	filename = strings.TrimSpace(filename)
	reason = strings.TrimSpace(reason)
	if reason == "" {
		reason = "unknown"
	}
	data := payload{
		title:    "Docflow - Failed",
		message:  fmt.Sprintf("Processing failed: %s\nReason: %s", filename, reason),
		tags:     []string{"docflow", "pipeline", "failed"},
		priority: "high",
	}
	return n.send(ctx, data)
}

func (n *ntfyService) NotifyDeadLetter(ctx context.Context, taskName, reason string) error {
	if !n.deadLetters {
		return nil
	}
	taskName = strings.TrimSpace(taskName)
	reason = strings.TrimSpace(reason)
	data := payload{
		title:    "Docflow - Dead Letter",
		message:  fmt.Sprintf("Task exhausted retries: %s\nReason: %s", taskName, reason),
		tags:     []string{"docflow", "queue", "dead-letter"},
		priority: "high",
	}
	return n.send(ctx, data)
}

func (n *ntfyService) NotifyPlaybookCompleted(ctx context.Context, filename, playbookName string, failed bool) error {
	if !n.processed {
		return nil
	}
	filename = strings.TrimSpace(filename)
	playbookName = strings.TrimSpace(playbookName)
	title := "Docflow - Playbook Complete"
	message := fmt.Sprintf("Playbook %s finished for %s", playbookName, filename)
	if failed {
		title = "Docflow - Playbook Failed"
		message = fmt.Sprintf("Playbook %s halted for %s", playbookName, filename)
	}
	data := payload{
		title:   title,
		message: message,
		tags:    []string{"docflow", "playbook", "completed"},
	}
	return n.send(ctx, data)
}

func (n *ntfyService) NotifyError(ctx context.Context, err error, contextLabel string) error {
	if !n.failures {
		return nil
	}
	var builder strings.Builder
	builder.WriteString("Error")
	if contextLabel = strings.TrimSpace(contextLabel); contextLabel != "" {
		builder.WriteString(" with ")
		builder.WriteString(contextLabel)
	}
	builder.WriteString(": ")
	if err != nil {
		builder.WriteString(strings.TrimSpace(err.Error()))
	} else {
		builder.WriteString("unknown")
	}

	data := payload{
		title:    "Docflow - Error",
		message:  builder.String(),
		tags:     []string{"docflow", "error", "alert"},
		priority: "high",
	}
	return n.send(ctx, data)
}

func (n *ntfyService) TestNotification(ctx context.Context) error {
	data := payload{
		title:    "Docflow - Test",
		message:  "Notification system test",
		tags:     []string{"docflow", "test"},
		priority: "low",
	}
	return n.send(ctx, data)
}

func (n *ntfyService) send(ctx context.Context, data payload) error {
	if n == nil || n.client == nil {
		return nil
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, n.endpoint, strings.NewReader(data.message))
	if err != nil {
		return fmt.Errorf("build ntfy request: %w", err)
	}
	req.Header.Set("User-Agent", userAgent)
	req.Header.Set("Content-Type", "text/plain; charset=utf-8")
	if data.title != "" {
		req.Header.Set("Title", data.title)
	}
	if len(data.tags) > 0 {
		req.Header.Set("Tags", strings.Join(data.tags, ","))
	}
	if data.priority != "" && data.priority != "default" {
		req.Header.Set("Priority", data.priority)
	}

	resp, err := n.client.Do(req)
	if err != nil {
		return fmt.Errorf("send ntfy notification: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 2048))
		return fmt.Errorf("ntfy returned %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}
	_, _ = io.Copy(io.Discard, resp.Body)
	return nil
}

type noopService struct{}

func (noopService) NotifyDocumentProcessed(context.Context, string, string) error       { return nil }
func (noopService) NotifyDocumentFailed(context.Context, string, string) error          { return nil }
func (noopService) NotifyDeadLetter(context.Context, string, string) error              { return nil }
func (noopService) NotifyPlaybookCompleted(context.Context, string, string, bool) error { return nil }
func (noopService) NotifyError(context.Context, error, string) error                    { return nil }
func (noopService) TestNotification(context.Context) error                              { return nil }
