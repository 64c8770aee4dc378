// Package daemon ties the subsystems together: it enforces single-instance
// execution with a lock file, runs the dispatcher and the artifact
// reclaimer, and serves the HTTP submit/status API.
package daemon
