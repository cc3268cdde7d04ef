// Package services defines shared utilities consumed by the pipeline stages
// and external integrations.
//
// Key responsibilities:
//   - Context helpers that stamp document IDs, task IDs, stage names, and
//     worker identities for logging and tracing.
//   - Structured error markers plus the Wrap helper that classify failures as
//     permanent or transient so the worker runtime can decide between retry,
//     terminal failure, and dead-lettering without inspecting error strings.
//
// Use these helpers when wiring new stage logic so operational behaviour
// (error handling, observability, retries) stays uniform across the pipeline.
package services
