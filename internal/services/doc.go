// Package services defines shared utilities consumed by the dispatcher,
// stage handlers, and external interfaces.
//
// Key responsibilities:
//   - Context helpers that stamp job IDs, stage names, resource classes, and
//     correlation identifiers for logging and tracing.
//   - Structured error markers plus the Wrap helper that classify failures
//     as retryable or terminal so the dispatcher can apply retry policy
//     uniformly across the pipeline.
//
// Use these helpers when wiring new stage logic so operational behaviour
// (error handling, observability, retries) stays uniform.
package services
