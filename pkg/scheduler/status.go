package scheduler

import (
	"time"

	"github.com/plc-monitor/plcpoll-go/pkg/connection"
)

// DeviceStatus is a point-in-time report of one device.
type DeviceStatus struct {
	Name                string
	State               connection.State
	Attempt             int
	NextAttempt         time.Time
	LastFault           string
	LastSuccess         time.Time
	ConsecutiveFailures int
	InFlight            bool
	Reads               uint64
	Faults              uint64
	SkippedTicks        uint64

	// Sequence is the sequence number of the last snapshot read in this
	// run, or 0 if there was none.
	Sequence uint64

	// Healthy is true for an enabled device with a successful read within
	// its StaleAfter window.
	Healthy bool
}

// Enabled reports whether the device is not administratively disabled.
func (d DeviceStatus) Enabled() bool {
	return d.State != connection.StateDisabled
}

// Status reports every device in configuration order.
func (s *Scheduler) Status() []DeviceStatus {
	now := s.timeNow()
	out := make([]DeviceStatus, 0, len(s.workers))
	for _, w := range s.workers {
		out = append(out, s.status(w, now))
	}
	return out
}

// DeviceStatus reports one device.
func (s *Scheduler) DeviceStatus(name string) (DeviceStatus, bool) {
	w, ok := s.byName[name]
	if !ok {
		return DeviceStatus{}, false
	}
	return s.status(w, s.timeNow()), true
}

func (s *Scheduler) status(w *worker, now time.Time) DeviceStatus {
	st := DeviceStatus{
		Name:                w.cfg.Name,
		State:               w.sup.State(),
		Attempt:             w.sup.Attempts(),
		LastSuccess:         w.poller.LastSuccess(),
		ConsecutiveFailures: w.poller.ConsecutiveFailures(),
	}
	if st.State == connection.StateBackoff {
		st.NextAttempt = w.sup.NextAttempt()
	}
	if st.ConsecutiveFailures > 0 {
		st.LastFault = w.sup.LastFault().String()
	}

	w.mu.Lock()
	st.InFlight = w.inFlight
	st.Reads = w.reads
	st.Faults = w.faults
	st.SkippedTicks = w.skipped
	st.Sequence = w.sequence
	w.mu.Unlock()

	st.Healthy = st.Enabled() &&
		!st.LastSuccess.IsZero() &&
		now.Sub(st.LastSuccess) <= w.cfg.StaleAfter
	return st
}

// logStatus writes one line per device.
func (s *Scheduler) logStatus() {
	if s.logger == nil {
		return
	}
	for _, st := range s.Status() {
		args := []any{
			"device", st.Name,
			"state", st.State,
			"healthy", st.Healthy,
			"reads", st.Reads,
			"faults", st.Faults,
			"skipped_ticks", st.SkippedTicks,
		}
		if !st.LastSuccess.IsZero() {
			args = append(args, "last_success", st.LastSuccess)
		}
		if st.State == connection.StateBackoff {
			args = append(args, "attempt", st.Attempt, "next_attempt", st.NextAttempt)
		}
		if st.Healthy {
			s.logger.Info("device status", args...)
		} else {
			s.logger.Warn("device status", args...)
		}
	}
}
