// Package persistence keeps poller runtime state across restarts.
//
// The state file is a small JSON document holding, per device, the last
// snapshot sequence number handed out and the time of the last successful
// read. Sequence numbers therefore continue where the previous run stopped,
// so gap detection in downstream consumers keeps working over a restart.
package persistence
