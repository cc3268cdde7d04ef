// Package main hosts the docflow CLI entrypoint and command graph.
//
// The Cobra-based command tree surfaces document ingestion, pipeline
// inspection, dead-letter maintenance, playbook execution, and configuration
// scaffolding. Commands stay thin: they resolve configuration once and call
// the one-shot workflows in internal/api, so the heavy lifting lives in
// reusable internal packages.
package main
