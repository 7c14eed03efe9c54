// Package connection provides the reconnect supervisor for PLC devices.
//
// This package handles:
//   - Exponential backoff for reconnection attempts
//   - Jitter to spread reconnects of many devices
//   - Per-device connection state tracking
//
// # States
//
//	DISCONNECTED --Start--> BACKOFF --BeginConnect--> CONNECTING
//	     ^                    ^  ^                       |   |
//	     |                    |  +----ConnectFailed------+   |
//	     +--ConnectionLost----+                              |
//	CONNECTED <--------------ConnectSucceeded----------------+
//
// Any state can move to DISABLED; Enable returns to BACKOFF with the first
// attempt due immediately.
//
// # Reconnection Strategy
//
// The first connect after a fresh start is attempted at once. Every fault
// then advances the attempt counter a and schedules the next connect after
//
//	base_delay = min(max_delay, base_delay_0 * 2^a)
//
// with a saturating at the configured maximum exponent. Protocol errors
// advance a by 2, every other fault kind by 1. A successful connect resets
// a to 0.
//
// # Jitter
//
// To keep devices behind one switch from reconnecting in lockstep:
//
//	actual_delay = base_delay * (1 + random(-jitter, +jitter))
//
// The default jitter is 0.2.
package connection
