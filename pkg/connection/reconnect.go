package connection

import (
	"errors"
	"sync"
	"time"

	"github.com/plc-monitor/plcpoll-go/pkg/config"
	"github.com/plc-monitor/plcpoll-go/pkg/fault"
)

// Supervisor errors.
var (
	ErrNotDue   = errors.New("reconnect not due")
	ErrDisabled = errors.New("device disabled")
)

// State represents the reconnect state of one device.
type State uint8

const (
	// StateDisconnected indicates no connection and no attempt scheduled.
	StateDisconnected State = iota

	// StateBackoff indicates a connect attempt is scheduled.
	StateBackoff

	// StateConnecting indicates a connection attempt is in progress.
	StateConnecting

	// StateConnected indicates an active connection.
	StateConnected

	// StateDisabled indicates the device was administratively disabled.
	StateDisabled
)

// String returns a human-readable state name.
func (s State) String() string {
	switch s {
	case StateDisconnected:
		return "DISCONNECTED"
	case StateBackoff:
		return "BACKOFF"
	case StateConnecting:
		return "CONNECTING"
	case StateConnected:
		return "CONNECTED"
	case StateDisabled:
		return "DISABLED"
	default:
		return "UNKNOWN"
	}
}

// Supervisor is the reconnect state machine of one device. It does no I/O
// and starts no goroutines: the poll scheduler asks it whether a connect is
// due and reports the outcome back.
type Supervisor struct {
	mu sync.RWMutex

	// Current state
	state State

	// Backoff calculator
	backoff *Backoff

	// Time of the next connect attempt while in StateBackoff
	nextAttempt time.Time

	// Kind of the fault that caused the current backoff
	lastFault fault.Kind

	// Callbacks
	onStateChange  func(oldState, newState State)
	onReconnecting func(attempt int, delay time.Duration)
}

// NewSupervisor creates a supervisor in StateDisconnected.
func NewSupervisor(p config.BackoffPolicy) *Supervisor {
	return &Supervisor{
		state:   StateDisconnected,
		backoff: NewBackoff(p),
	}
}

// Backoff returns the supervisor's backoff calculator.
func (s *Supervisor) Backoff() *Backoff {
	return s.backoff
}

// State returns the current state.
func (s *Supervisor) State() State {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.state
}

// IsConnected returns true if currently connected.
func (s *Supervisor) IsConnected() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.state == StateConnected
}

// NextAttempt returns when the next connect is due. Zero unless in
// StateBackoff.
func (s *Supervisor) NextAttempt() time.Time {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.state != StateBackoff {
		return time.Time{}
	}
	return s.nextAttempt
}

// LastFault returns the kind of the fault behind the current backoff.
func (s *Supervisor) LastFault() fault.Kind {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.lastFault
}

// Attempts returns the backoff attempt counter.
func (s *Supervisor) Attempts() int {
	return s.backoff.Attempts()
}

// Start schedules the first connect at now. A fresh start has no delay.
// It only acts in StateDisconnected.
func (s *Supervisor) Start(now time.Time) {
	s.mu.Lock()
	if s.state != StateDisconnected {
		s.mu.Unlock()
		return
	}
	s.backoff.Reset()
	s.nextAttempt = now
	s.state = StateBackoff
	s.mu.Unlock()

	s.notify(StateDisconnected, StateBackoff)
}

// Due reports whether a scheduled connect has expired at now.
func (s *Supervisor) Due(now time.Time) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.state == StateBackoff && !now.Before(s.nextAttempt)
}

// BeginConnect moves from an expired backoff to StateConnecting.
func (s *Supervisor) BeginConnect(now time.Time) error {
	s.mu.Lock()
	switch {
	case s.state == StateDisabled:
		s.mu.Unlock()
		return ErrDisabled
	case s.state != StateBackoff || now.Before(s.nextAttempt):
		s.mu.Unlock()
		return ErrNotDue
	}
	s.state = StateConnecting
	s.mu.Unlock()

	s.notify(StateBackoff, StateConnecting)
	return nil
}

// ConnectSucceeded records a successful connect and resets the attempt
// counter. It returns false if the device was disabled while connecting;
// the caller then owns closing the new connection.
func (s *Supervisor) ConnectSucceeded() bool {
	s.mu.Lock()
	if s.state != StateConnecting {
		s.mu.Unlock()
		return false
	}
	s.state = StateConnected
	s.backoff.Reset()
	s.lastFault = fault.KindUnknown
	s.mu.Unlock()

	s.notify(StateConnecting, StateConnected)
	return true
}

// ConnectFailed records a failed connect and schedules the next one. It
// returns the delay chosen, or zero if the device is no longer connecting.
func (s *Supervisor) ConnectFailed(now time.Time, kind fault.Kind) time.Duration {
	return s.fail(now, kind, StateConnecting)
}

// ConnectionLost records a fault on an established connection and
// schedules a reconnect. It returns the delay chosen, or zero if the device
// was not connected.
func (s *Supervisor) ConnectionLost(now time.Time, kind fault.Kind) time.Duration {
	return s.fail(now, kind, StateConnected)
}

func (s *Supervisor) fail(now time.Time, kind fault.Kind, from State) time.Duration {
	s.mu.Lock()
	if s.state != from {
		s.mu.Unlock()
		return 0
	}
	delay := s.backoff.Advance(Step(kind))
	attempt := s.backoff.Attempts()
	s.lastFault = kind
	s.nextAttempt = now.Add(delay)
	s.state = StateBackoff
	s.mu.Unlock()

	if from == StateConnected {
		s.notify(StateConnected, StateDisconnected)
		s.notify(StateDisconnected, StateBackoff)
	} else {
		s.notify(from, StateBackoff)
	}
	s.mu.RLock()
	fn := s.onReconnecting
	s.mu.RUnlock()
	if fn != nil {
		fn(attempt, delay)
	}
	return delay
}

// Disable stops all connect attempts. It returns the state it left.
func (s *Supervisor) Disable() State {
	s.mu.Lock()
	old := s.state
	if old == StateDisabled {
		s.mu.Unlock()
		return old
	}
	s.state = StateDisabled
	s.mu.Unlock()

	s.notify(old, StateDisabled)
	return old
}

// Enable re-enters the backoff cycle from a fresh start: the attempt
// counter is reset and the first connect is due at now.
func (s *Supervisor) Enable(now time.Time) {
	s.mu.Lock()
	if s.state != StateDisabled {
		s.mu.Unlock()
		return
	}
	s.backoff.Reset()
	s.lastFault = fault.KindUnknown
	s.nextAttempt = now
	s.state = StateBackoff
	s.mu.Unlock()

	s.notify(StateDisabled, StateBackoff)
}

func (s *Supervisor) notify(oldState, newState State) {
	s.mu.RLock()
	fn := s.onStateChange
	s.mu.RUnlock()
	if fn != nil {
		fn(oldState, newState)
	}
}

// OnStateChange sets a callback for state changes.
func (s *Supervisor) OnStateChange(fn func(oldState, newState State)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.onStateChange = fn
}

// OnReconnecting sets a callback for scheduled reconnects.
func (s *Supervisor) OnReconnecting(fn func(attempt int, delay time.Duration)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.onReconnecting = fn
}
