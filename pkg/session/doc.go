// Package session implements the device session: the single owner of one
// PLC's transport connection.
//
// A Session is DISCONNECTED, CONNECTING or CONNECTED. ReadRegisters is only
// valid when CONNECTED and issues one transport request per register block
// in map order. A fault on any block closes the transport and discards the
// whole snapshot, so a snapshot is either complete or not produced at all.
//
// Failed operations return a *fault.ConnectionFault classified by
// fault.Classify. The session never retries.
package session
