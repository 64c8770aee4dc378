// Package config loads, validates, and defaults vidmill's TOML configuration.
//
// Load resolves the config path (explicit argument, VIDMILL_CONFIG, then the
// default location), applies repository defaults for anything unset, expands
// ~ in paths, and validates cross-field constraints such as the heartbeat
// interval fitting inside the lease TTL. A missing file is not an error; the
// defaults are usable for local development.
package config
