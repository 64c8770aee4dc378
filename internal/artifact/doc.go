// Package artifact stores job media across four lifecycle zones on the local
// filesystem: incoming (accepted uploads), working (intermediate stage
// outputs), processing (artifacts of the stage currently executing), and
// completed (immutable final outputs, the only zone external consumers see).
//
// Artifacts are addressed by zone, job ID, and name. Ownership follows the
// job: a zone transition is a rename when source and destination share a
// filesystem. Deletion of non-terminal zones is deferred to the Reclaimer so
// storage I/O never blocks worker throughput.
package artifact
