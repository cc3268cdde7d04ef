package documents

import (
	"strings"
	"time"
)

// Status represents the lifecycle of a document moving through the pipeline.
type Status string

const (
	StatusQueued        Status = "queued"
	StatusExtracting    Status = "extracting"
	StatusClassifying   Status = "classifying"
	StatusEmbedding     Status = "embedding"
	StatusIndexing      Status = "indexing"
	StatusProcessed     Status = "processed"
	StatusFailed        Status = "failed"
	StatusValidated     Status = "validated"
	StatusRecategorized Status = "recategorized"
)

var allStatuses = []Status{
	StatusQueued,
	StatusExtracting,
	StatusClassifying,
	StatusEmbedding,
	StatusIndexing,
	StatusProcessed,
	StatusFailed,
	StatusValidated,
	StatusRecategorized,
}

var statusSet = func() map[Status]struct{} {
	set := make(map[Status]struct{}, len(allStatuses))
	for _, status := range allStatuses {
		set[status] = struct{}{}
	}
	return set
}()

var processingStatuses = map[Status]struct{}{
	StatusExtracting:  {},
	StatusClassifying: {},
	StatusEmbedding:   {},
	StatusIndexing:    {},
}

// validTransitions encodes the pipeline state machine. StatusFailed is
// reachable from every processing state; reprocessing resets any state back
// to StatusQueued.
var validTransitions = map[Status][]Status{
	StatusQueued:        {StatusExtracting, StatusFailed},
	StatusExtracting:    {StatusClassifying, StatusFailed},
	StatusClassifying:   {StatusEmbedding, StatusFailed},
	StatusEmbedding:     {StatusIndexing, StatusFailed},
	StatusIndexing:      {StatusProcessed, StatusFailed},
	StatusProcessed:     {StatusValidated, StatusRecategorized},
	StatusValidated:     {StatusRecategorized},
	StatusRecategorized: {StatusValidated},
}

// ValidTransition reports whether moving a document from one status to
// another follows a pipeline edge. A reset to StatusQueued is always legal
// because reprocessing is an explicit recovery path from any state.
func ValidTransition(from, to Status) bool {
	if to == StatusQueued {
		return true
	}
	for _, next := range validTransitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// AllStatuses returns the ordered list of known statuses.
func AllStatuses() []Status {
	cp := make([]Status, len(allStatuses))
	copy(cp, allStatuses)
	return cp
}

// ParseStatus converts a string into a known Status.
func ParseStatus(value string) (Status, bool) {
	normalized := Status(strings.ToLower(strings.TrimSpace(value)))
	if normalized == "" {
		return "", false
	}
	_, ok := statusSet[normalized]
	return normalized, ok
}

// IsProcessingStatus reports whether a status reflects an in-flight stage.
func IsProcessingStatus(status Status) bool {
	_, ok := processingStatuses[status]
	return ok
}

// IsTerminalStatus reports whether a status requires no further pipeline work.
func IsTerminalStatus(status Status) bool {
	switch status {
	case StatusProcessed, StatusFailed, StatusValidated, StatusRecategorized:
		return true
	default:
		return false
	}
}

// Provenance values recorded on key-value pairs.
const (
	ProvenanceExtracted = "extracted"
	ProvenanceManual    = "manual"
)

// KVP is one extracted key-value pair with its provenance.
type KVP struct {
	Value      string `json:"value"`
	Provenance string `json:"provenance"`
}

// Document is a persisted document record and its pipeline artifacts.
type Document struct {
	ID                  string
	Filename            string
	ContentType         string
	BlobID              string
	PageCount           *int
	Status              Status
	Category            string
	CategoryExplanation string
	Text                string
	KVPs                map[string]KVP
	Embedding           []float64
	ErrorMessage        string
	TaskID              string
	CreatedAt           time.Time
	UpdatedAt           time.Time
	ProcessedAt         *time.Time
	DeletedAt           *time.Time
}

// IsDeleted reports whether the document is soft-deleted.
func (d *Document) IsDeleted() bool {
	return d.DeletedAt != nil
}

// SetFailed marks the document as failed with the given error message.
func (d *Document) SetFailed(message string) {
	d.Status = StatusFailed
	d.ErrorMessage = message
}

// RunStatus represents the lifecycle of a playbook run.
type RunStatus string

const (
	RunRunning   RunStatus = "running"
	RunSucceeded RunStatus = "succeeded"
	RunFailed    RunStatus = "failed"
)

// StepStatus represents the lifecycle of an individual playbook step.
type StepStatus string

const (
	StepPending   StepStatus = "pending"
	StepRunning   StepStatus = "running"
	StepSucceeded StepStatus = "succeeded"
	StepFailed    StepStatus = "failed"
)

// PlaybookRun is one execution of a category playbook against a document.
type PlaybookRun struct {
	ID          string
	DocumentID  string
	PlaybookID  string
	Category    string
	Status      RunStatus
	Steps       []PlaybookStep
	CreatedAt   time.Time
	CompletedAt *time.Time
}

// PlaybookStep is one step record within a playbook run. Steps are
// pre-materialized as pending when the run is created and mutated in place
// as execution proceeds.
type PlaybookStep struct {
	ID          string
	RunID       string
	Order       int
	Name        string
	TaskType    string
	Status      StepStatus
	WorkerID    string
	ResultJSON  string
	StartedAt   *time.Time
	CompletedAt *time.Time
}

// AuditEntry is one append-only audit log record for a document.
type AuditEntry struct {
	ID         int64
	DocumentID string
	Action     string
	Actor      string
	Details    string
	CreatedAt  time.Time
}
