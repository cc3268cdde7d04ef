package config

import (
	"errors"
	"fmt"
	"strings"
)

// Validate checks the configuration for values the daemon cannot run with.
func (c *Config) Validate() error {
	var problems []string

	if strings.TrimSpace(c.Paths.DataDir) == "" {
		problems = append(problems, "paths.data_dir must be set")
	}
	if strings.TrimSpace(c.Paths.LogDir) == "" {
		problems = append(problems, "paths.log_dir must be set")
	}
	if c.Queue.MaxRetries < 0 {
		problems = append(problems, "queue.max_retries must not be negative")
	}
	if c.Queue.RetryBaseDelay <= 0 {
		problems = append(problems, "queue.retry_base_delay must be positive")
	}
	if c.Queue.RetryMaxDelay < c.Queue.RetryBaseDelay {
		problems = append(problems, "queue.retry_max_delay must be >= queue.retry_base_delay")
	}
	if c.Queue.ProcessingWorkers < 1 {
		problems = append(problems, "queue.processing_workers must be at least 1")
	}
	if c.Queue.PlaybookWorkers < 1 {
		problems = append(problems, "queue.playbook_workers must be at least 1")
	}
	if c.Workflow.PollInterval <= 0 {
		problems = append(problems, "workflow.poll_interval must be positive")
	}
	if c.Workflow.HeartbeatInterval <= 0 {
		problems = append(problems, "workflow.heartbeat_interval must be positive")
	}
	if c.Workflow.HeartbeatTimeout <= c.Workflow.HeartbeatInterval {
		problems = append(problems, "workflow.heartbeat_timeout must exceed workflow.heartbeat_interval")
	}
	if c.Embedder.Dimensions <= 0 {
		problems = append(problems, "embedder.dimensions must be positive")
	}
	switch c.Logging.Format {
	case "", "console", "json":
	default:
		problems = append(problems, fmt.Sprintf("logging.format %q is not supported (console, json)", c.Logging.Format))
	}

	seen := make(map[string]struct{}, len(c.Playbooks.Catalog))
	for _, pb := range c.Playbooks.Catalog {
		if strings.TrimSpace(pb.Category) == "" {
			problems = append(problems, fmt.Sprintf("playbook %q must declare a category", pb.ID))
			continue
		}
		if _, dup := seen[pb.Category]; dup {
			problems = append(problems, fmt.Sprintf("duplicate playbook for category %q", pb.Category))
		}
		seen[pb.Category] = struct{}{}
		if len(pb.Steps) == 0 {
			problems = append(problems, fmt.Sprintf("playbook %q must declare at least one step", pb.ID))
		}
		for i, step := range pb.Steps {
			if strings.TrimSpace(step.TaskType) == "" {
				problems = append(problems, fmt.Sprintf("playbook %q step %d must declare a task_type", pb.ID, i+1))
			}
		}
	}

	if len(problems) > 0 {
		return errors.New("invalid configuration: " + strings.Join(problems, "; "))
	}
	return nil
}
