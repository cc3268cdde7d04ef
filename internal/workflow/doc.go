// Package workflow delivers queued tasks to registered handlers.
//
// The manager runs a worker pool per queue. Each worker claims the oldest
// deliverable task, heartbeats while the handler runs, and settles the task
// based on the handler's error classification: success acks, transient
// failures requeue with exponential backoff until the retry budget runs out,
// permanent failures terminate immediately, and exhausted tasks land in the
// dead-letter sink. A background reclaimer returns tasks whose workers died
// mid-flight to the queue.
package workflow
