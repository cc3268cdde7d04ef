package tasks

import (
	"strings"
	"time"
)

// Status represents the lifecycle of a queued task.
type Status string

const (
	StatusQueued       Status = "queued"
	StatusRunning      Status = "running"
	StatusSucceeded    Status = "succeeded"
	StatusFailed       Status = "failed"
	StatusDeadLettered Status = "dead_lettered"
)

var allStatuses = []Status{
	StatusQueued,
	StatusRunning,
	StatusSucceeded,
	StatusFailed,
	StatusDeadLettered,
}

var statusSet = func() map[Status]struct{} {
	set := make(map[Status]struct{}, len(allStatuses))
	for _, status := range allStatuses {
		set[status] = struct{}{}
	}
	return set
}()

// ParseStatus converts a string into a known Status.
func ParseStatus(value string) (Status, bool) {
	normalized := Status(strings.ToLower(strings.TrimSpace(value)))
	if normalized == "" {
		return "", false
	}
	_, ok := statusSet[normalized]
	return normalized, ok
}

// Well-known queue names. Heavy pipeline work and lightweight playbook steps
// route to separate queues so worker pools can scale independently.
const (
	QueueProcessing = "processing"
	QueuePlaybooks  = "playbooks"
)

// Task is a durable queue item delivered at least once to a worker.
type Task struct {
	ID            string
	Name          string
	QueueName     string
	ArgsJSON      string
	Status        Status
	Retries       int
	MaxRetries    int
	LastError     string
	NextRetryAt   *time.Time
	LastHeartbeat *time.Time
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

// IsTerminal reports whether the task requires no further delivery.
func (t *Task) IsTerminal() bool {
	switch t.Status {
	case StatusSucceeded, StatusFailed, StatusDeadLettered:
		return true
	default:
		return false
	}
}

// DeadLetter is a record of a task that exhausted its retry budget. Records
// are retained as history even after replay.
type DeadLetter struct {
	ID         string
	TaskID     string
	Name       string
	QueueName  string
	ArgsJSON   string
	Retries    int
	Reason     string
	CreatedAt  time.Time
	ReplayedAt *time.Time
}
