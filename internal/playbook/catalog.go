package playbook

import (
	"fmt"
	"strings"

	"docflow/internal/config"
	"docflow/internal/documents"
)

// Playbook is one resolved catalog entry.
type Playbook struct {
	ID       string
	Name     string
	Category string
	Steps    []documents.StepSpec
}

// Catalog resolves a document category to its ordered step list.
type Catalog struct {
	byCategory map[string]*Playbook
}

// LoadCatalog builds the catalog from configuration. Step task types are
// checked against the known handler set here so a misconfigured catalog fails
// at startup instead of mid-run.
func LoadCatalog(cfg config.PlaybookSettings, knownTypes []string) (*Catalog, error) {
	known := make(map[string]struct{}, len(knownTypes))
	for _, taskType := range knownTypes {
		known[taskType] = struct{}{}
	}

	catalog := &Catalog{byCategory: make(map[string]*Playbook, len(cfg.Catalog))}
	for _, entry := range cfg.Catalog {
		category := strings.ToLower(strings.TrimSpace(entry.Category))
		if category == "" {
			return nil, fmt.Errorf("playbook %q has no category", entry.ID)
		}
		if _, exists := catalog.byCategory[category]; exists {
			return nil, fmt.Errorf("duplicate playbook for category %q", category)
		}
		pb := &Playbook{
			ID:       entry.ID,
			Name:     entry.Name,
			Category: category,
			Steps:    make([]documents.StepSpec, 0, len(entry.Steps)),
		}
		for _, step := range entry.Steps {
			taskType := strings.TrimSpace(step.TaskType)
			if _, ok := known[taskType]; !ok && len(known) > 0 {
				return nil, fmt.Errorf("playbook %q step %q uses unknown task type %q", entry.ID, step.Name, taskType)
			}
			pb.Steps = append(pb.Steps, documents.StepSpec{Name: step.Name, TaskType: taskType})
		}
		if len(pb.Steps) == 0 {
			return nil, fmt.Errorf("playbook %q has no steps", entry.ID)
		}
		catalog.byCategory[category] = pb
	}
	return catalog, nil
}

// Lookup returns the playbook registered for a category.
func (c *Catalog) Lookup(category string) (*Playbook, bool) {
	pb, ok := c.byCategory[strings.ToLower(strings.TrimSpace(category))]
	return pb, ok
}

// Categories returns all categories with a configured playbook.
func (c *Catalog) Categories() []string {
	out := make([]string, 0, len(c.byCategory))
	for category := range c.byCategory {
		out = append(out, category)
	}
	return out
}
