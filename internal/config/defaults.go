package config

const (
	defaultDataDir            = "~/.local/share/docflow"
	defaultLogDir             = "~/.local/share/docflow/logs"
	defaultLogFormat          = "console"
	defaultLogLevel           = "info"
	defaultMaxRetries         = 3
	defaultRetryBaseDelay     = 60
	defaultRetryMaxDelay      = 900
	defaultProcessingWorkers  = 2
	defaultPlaybookWorkers    = 1
	defaultPollInterval       = 2
	defaultErrorRetryInterval = 5
	defaultHeartbeatInterval  = 15
	defaultHeartbeatTimeout   = 120
	defaultClassifierBaseURL  = "https://openrouter.ai/api/v1/chat/completions"
	defaultClassifierModel    = "google/gemini-3-flash-preview"
	defaultClassifierTimeout  = 60
	defaultEmbedderBaseURL    = "http://localhost:11434/v1/embeddings"
	defaultEmbedderModel      = "nomic-embed-text"
	defaultEmbedderDimensions = 384
	defaultEmbedderTimeout    = 60
	defaultStepTimeout        = 10
	defaultNotifyTimeout      = 10
)

func defaultCategories() []string {
	return []string{"invoice", "contract", "resume", "purchase order"}
}

func defaultCatalog() []Playbook {
	return []Playbook{
		{
			ID:       "pb_invoice",
			Name:     "Invoice Intake Playbook",
			Category: "invoice",
			Steps: []PlaybookStep{
				{Name: "Post to accounting API", TaskType: "api_call"},
				{Name: "Normalize extracted fields", TaskType: "data_processing"},
			},
		},
	}
}

// Default returns a Config populated with repository defaults.
func Default() Config {
	return Config{
		Paths: Paths{
			DataDir: defaultDataDir,
			LogDir:  defaultLogDir,
		},
		Queue: Queue{
			MaxRetries:        defaultMaxRetries,
			RetryBaseDelay:    defaultRetryBaseDelay,
			RetryMaxDelay:     defaultRetryMaxDelay,
			ProcessingWorkers: defaultProcessingWorkers,
			PlaybookWorkers:   defaultPlaybookWorkers,
		},
		Workflow: Workflow{
			PollInterval:       defaultPollInterval,
			ErrorRetryInterval: defaultErrorRetryInterval,
			HeartbeatInterval:  defaultHeartbeatInterval,
			HeartbeatTimeout:   defaultHeartbeatTimeout,
		},
		Classifier: Classifier{
			BaseURL:         defaultClassifierBaseURL,
			Model:           defaultClassifierModel,
			TimeoutSeconds:  defaultClassifierTimeout,
			KnownCategories: defaultCategories(),
		},
		Embedder: Embedder{
			BaseURL:        defaultEmbedderBaseURL,
			Model:          defaultEmbedderModel,
			Dimensions:     defaultEmbedderDimensions,
			TimeoutSeconds: defaultEmbedderTimeout,
		},
		Playbooks: PlaybookSettings{
			StepTimeout: defaultStepTimeout,
			Catalog:     defaultCatalog(),
		},
		Notifications: Notifications{
			RequestTimeout: defaultNotifyTimeout,
			Processed:      true,
			Failures:       true,
			DeadLetters:    true,
		},
		Logging: Logging{
			Format: defaultLogFormat,
			Level:  defaultLogLevel,
		},
	}
}
