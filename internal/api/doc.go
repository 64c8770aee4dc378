// Package api provides read-only projections of job state for external
// consumers. It converts queue records into transport-friendly DTOs and
// never mutates the store.
package api
