// Package pipeline drives documents through the processing state machine:
// queued, extracting, classifying, embedding, indexing, processed. Each stage
// persists its output before the next begins so a redelivered task resumes
// instead of redoing work. Extraction failures are permanent; classifier,
// embedder, and storage failures ride the queue's retry policy.
package pipeline
