// Package emitter forwards register snapshots from the poll loop to a sink
// through a bounded in-memory queue.
//
// Emit never blocks: when the queue is full the oldest snapshot is dropped
// and Dropped is incremented, so a slow sink costs completeness, not
// freshness. A single Run goroutine drains the queue; each sink write is
// bounded by the configured write timeout and failures are counted, logged
// and discarded. Nothing flows back to the poll scheduler.
package emitter
