// Package logging centralizes slog construction and structured attribute
// conventions for the daemon.
//
// Loggers are built from config (console or JSON format, optional log file
// tee) and carry standardized field names so document, task, stage, and
// worker identifiers stay greppable across components. Context helpers stamp
// those identifiers automatically for code paths that thread a context.
package logging
