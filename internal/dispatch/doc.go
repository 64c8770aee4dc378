// Package dispatch drives job execution. A dispatcher runs one lane per
// resource class, each with a fixed number of workers; the worker count is
// the admission limit for that class. Workers claim jobs from the queue
// store, renew their lease on a heartbeat while the stage handler runs, and
// record the outcome through lease-guarded writes. A background sweep
// returns jobs whose lease lapsed, so a crashed worker never strands work.
package dispatch
