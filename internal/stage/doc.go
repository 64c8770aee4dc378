// Package stage defines the pipeline's stage descriptors, the ordered
// registry shared by every job of a pipeline version, and the handler
// contract the dispatcher invokes.
//
// The registry is immutable once built: descriptors carry the stage's
// ordinal, resource class, retry budget, per-attempt timeout, and idempotency
// flag. Handlers are registered by name and bound to descriptors at startup,
// either from the built-in pipeline or from a YAML definition file.
package stage
