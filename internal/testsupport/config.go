package testsupport

import (
	"path/filepath"
	"testing"

	"docflow/internal/config"
)

// ConfigOption allows callers to customize the generated test configuration.
type ConfigOption func(*config.Config)

// NewConfig produces a config seeded with unique temp directories per test.
// It defaults common fields and applies any provided options.
func NewConfig(t testing.TB, opts ...ConfigOption) *config.Config {
	t.Helper()

	base := t.TempDir()
	cfg := config.Default()
	cfg.Paths.DataDir = filepath.Join(base, "data")
	cfg.Paths.LogDir = filepath.Join(base, "logs")
	cfg.Paths.BlobDir = filepath.Join(base, "blobs")
	cfg.Classifier.APIKey = "test"
	cfg.Notifications.NtfyTopic = ""

	for _, opt := range opts {
		opt(&cfg)
	}

	return &cfg
}

// WithMaxRetries overrides the queue retry budget on the test config.
func WithMaxRetries(n int) ConfigOption {
	return func(cfg *config.Config) {
		cfg.Queue.MaxRetries = n
	}
}

// WithCatalog replaces the playbook catalog on the test config.
func WithCatalog(playbooks ...config.Playbook) ConfigOption {
	return func(cfg *config.Config) {
		cfg.Playbooks.Catalog = playbooks
	}
}
