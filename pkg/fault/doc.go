// Package fault defines the error taxonomy of the polling core.
//
// Every failed transport operation becomes a ConnectionFault carrying one of
// four kinds:
//
//   - timeout: a deadline expired (context or socket)
//   - refused: the peer refused the TCP connection
//   - protocol-error: the peer answered, but the reply was rejected
//   - unknown: anything else (resets, EOF, DNS failures)
//
// Connection faults are always recoverable: the reconnect supervisor retries
// them under backoff. Sink failures are reported as SinkFault and handled by
// the snapshot emitter's drop policy.
package fault
