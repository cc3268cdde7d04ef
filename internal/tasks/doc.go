// Package tasks provides the durable task queue backing document processing.
// Tasks are persisted in SQLite, delivered at least once to workers, retried
// with exponential backoff, and routed to a dead-letter sink once the retry
// budget is exhausted. Dead letters can be replayed as fresh tasks.
package tasks
