package config

import (
	_ "embed"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/pelletier/go-toml/v2"
)

//go:embed sample_config.toml
var sampleConfig string

// Paths contains directory configuration for daemon state.
type Paths struct {
	DataDir string `toml:"data_dir"`
	LogDir  string `toml:"log_dir"`
	BlobDir string `toml:"blob_dir"`
}

// Queue contains retry and routing configuration for the task queue.
type Queue struct {
	MaxRetries        int `toml:"max_retries"`
	RetryBaseDelay    int `toml:"retry_base_delay"`
	RetryMaxDelay     int `toml:"retry_max_delay"`
	ProcessingWorkers int `toml:"processing_workers"`
	PlaybookWorkers   int `toml:"playbook_workers"`
}

// Workflow contains daemon timing and heartbeat intervals.
type Workflow struct {
	PollInterval       int `toml:"poll_interval"`
	ErrorRetryInterval int `toml:"error_retry_interval"`
	HeartbeatInterval  int `toml:"heartbeat_interval"`
	HeartbeatTimeout   int `toml:"heartbeat_timeout"`
}

// Classifier contains connection settings for the classification model.
type Classifier struct {
	APIKey          string   `toml:"api_key"`
	BaseURL         string   `toml:"base_url"`
	Model           string   `toml:"model"`
	TimeoutSeconds  int      `toml:"timeout_seconds"`
	KnownCategories []string `toml:"known_categories"`
}

// Embedder contains connection settings for the embedding model.
type Embedder struct {
	BaseURL        string `toml:"base_url"`
	APIKey         string `toml:"api_key"`
	Model          string `toml:"model"`
	Dimensions     int    `toml:"dimensions"`
	TimeoutSeconds int    `toml:"timeout_seconds"`
}

// PlaybookStep declares one catalog step for a category playbook.
type PlaybookStep struct {
	Name     string `toml:"name"`
	TaskType string `toml:"task_type"`
}

// Playbook declares an ordered step catalog bound to a document category.
type Playbook struct {
	ID       string         `toml:"id"`
	Name     string         `toml:"name"`
	Category string         `toml:"category"`
	Steps    []PlaybookStep `toml:"steps"`
}

// PlaybookSettings contains the playbook catalog and step execution settings.
type PlaybookSettings struct {
	ExternalAPIURL string     `toml:"external_api_url"`
	StepTimeout    int        `toml:"step_timeout"`
	Catalog        []Playbook `toml:"catalog"`
}

// Notifications contains configuration for ntfy push notifications.
type Notifications struct {
	NtfyTopic      string `toml:"ntfy_topic"`
	RequestTimeout int    `toml:"request_timeout"`
	Processed      bool   `toml:"processed"`
	Failures       bool   `toml:"failures"`
	DeadLetters    bool   `toml:"dead_letters"`
}

// Logging contains configuration for log output.
type Logging struct {
	Format string `toml:"format"`
	Level  string `toml:"level"`
}

// Config is the top-level daemon configuration.
type Config struct {
	Paths         Paths            `toml:"paths"`
	Queue         Queue            `toml:"queue"`
	Workflow      Workflow         `toml:"workflow"`
	Classifier    Classifier       `toml:"classifier"`
	Embedder      Embedder         `toml:"embedder"`
	Playbooks     PlaybookSettings `toml:"playbooks"`
	Notifications Notifications    `toml:"notifications"`
	Logging       Logging          `toml:"logging"`
}

// DefaultConfigPath returns the location probed when no explicit path is given.
func DefaultConfigPath() string {
	return expandPath("~/.config/docflow/config.toml")
}

// Load reads configuration from path, falling back to defaults when the file
// does not exist. The returned bool reports whether a file was loaded.
func Load(path string) (*Config, bool, error) {
	resolved := strings.TrimSpace(path)
	if resolved == "" {
		resolved = DefaultConfigPath()
	} else {
		resolved = expandPath(resolved)
	}

	cfg := Default()

	data, err := os.ReadFile(resolved)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			cfg.normalize()
			if err := cfg.Validate(); err != nil {
				return nil, false, err
			}
			return &cfg, false, nil
		}
		return nil, false, fmt.Errorf("read config %s: %w", resolved, err)
	}

	if err := toml.Unmarshal(data, &cfg); err != nil {
		return nil, false, fmt.Errorf("parse config %s: %w", resolved, err)
	}
	cfg.normalize()
	if err := cfg.Validate(); err != nil {
		return nil, false, err
	}
	return &cfg, true, nil
}

// WriteSample writes the embedded sample configuration to path.
func WriteSample(path string) error {
	resolved := expandPath(path)
	if err := os.MkdirAll(filepath.Dir(resolved), 0o755); err != nil {
		return fmt.Errorf("ensure config directory: %w", err)
	}
	if _, err := os.Stat(resolved); err == nil {
		return fmt.Errorf("config file already exists at %s", resolved)
	}
	return os.WriteFile(resolved, []byte(sampleConfig), 0o644)
}

// EnsureDirectories creates the directories the daemon writes to.
func (c *Config) EnsureDirectories() error {
	for _, dir := range []string{c.Paths.DataDir, c.Paths.LogDir, c.Paths.BlobDir} {
		if dir == "" {
			continue
		}
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create directory %s: %w", dir, err)
		}
	}
	return nil
}

func (c *Config) normalize() {
	c.Paths.DataDir = expandPath(c.Paths.DataDir)
	c.Paths.LogDir = expandPath(c.Paths.LogDir)
	if strings.TrimSpace(c.Paths.BlobDir) == "" {
		c.Paths.BlobDir = filepath.Join(c.Paths.DataDir, "blobs")
	}
	c.Paths.BlobDir = expandPath(c.Paths.BlobDir)

	c.Logging.Format = strings.ToLower(strings.TrimSpace(c.Logging.Format))
	c.Logging.Level = strings.ToLower(strings.TrimSpace(c.Logging.Level))

	for i := range c.Playbooks.Catalog {
		c.Playbooks.Catalog[i].Category = strings.ToLower(strings.TrimSpace(c.Playbooks.Catalog[i].Category))
	}
}

func expandPath(path string) string {
	trimmed := strings.TrimSpace(path)
	if trimmed == "" {
		return ""
	}
	if trimmed == "~" {
		if home, err := os.UserHomeDir(); err == nil {
			return home
		}
		return trimmed
	}
	if strings.HasPrefix(trimmed, "~/") {
		if home, err := os.UserHomeDir(); err == nil {
			return filepath.Join(home, trimmed[2:])
		}
	}
	return trimmed
}
