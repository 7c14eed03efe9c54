package main

import (
	"log/slog"

	"github.com/plc-monitor/plcpoll-go/pkg/persistence"
	"github.com/plc-monitor/plcpoll-go/pkg/scheduler"
)

// loadState reads the previous run's state. A missing or unreadable file
// starts every device from sequence 1.
func loadState(store *persistence.StateStore, logger *slog.Logger) *persistence.PollerState {
	if store == nil {
		return nil
	}
	state, err := store.Load()
	if err != nil {
		logger.Warn("ignoring state file", "path", store.Path(), "error", err)
		return nil
	}
	if state != nil {
		logger.Info("state restored", "path", store.Path(), "saved_at", state.SavedAt, "devices", len(state.Devices))
	}
	return state
}

// mergeState folds this run's device status into the previous state.
// Devices that did not read in this run keep their previous entry.
func mergeState(prev *persistence.PollerState, status []scheduler.DeviceStatus) *persistence.PollerState {
	next := &persistence.PollerState{Devices: make(map[string]persistence.DeviceState, len(status))}
	for _, st := range status {
		var ds persistence.DeviceState
		if prev != nil {
			ds = prev.Devices[st.Name]
		}
		if st.Sequence > ds.Sequence {
			ds.Sequence = st.Sequence
		}
		if st.LastSuccess.After(ds.LastSuccess) {
			ds.LastSuccess = st.LastSuccess
		}
		next.Devices[st.Name] = ds
	}
	return next
}
