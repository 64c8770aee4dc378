// Package logging configures structured slog output for the daemon and CLI.
//
// It provides a JSON handler for machine consumption and a console handler
// that renders key=value pairs, attr constructors shared across packages, and
// helpers that derive standard fields (job_id, stage, resource_class,
// correlation_id) from a context. Components obtain their own logger via
// NewComponentLogger so every record carries a component attribute.
package logging
