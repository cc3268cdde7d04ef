// Package api exposes the operations the CLI and other front ends drive:
// ingesting documents, enqueueing and reprocessing, querying pipeline status
// and dashboards, correcting documents, running playbooks, and inspecting or
// replaying dead letters. Each workflow opens the stores it needs from
// configuration so one-shot callers stay simple.
package api
