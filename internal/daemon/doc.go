// Package daemon wires the document stores, pipeline executor, playbook
// runner, and workflow manager into a single-instance background process
// guarded by a file lock.
package daemon
