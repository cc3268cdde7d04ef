// Package config loads and validates daemon configuration from TOML.
//
// Configuration is resolved from an explicit path or the default location
// under ~/.config/docflow, with embedded sample defaults filling any gaps.
// Validation rejects values the pipeline cannot operate with (zero worker
// pools, inverted retry delays, malformed playbook catalogs) before the
// daemon starts.
package config
