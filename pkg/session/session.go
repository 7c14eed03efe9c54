package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/plc-monitor/plcpoll-go/pkg/config"
	"github.com/plc-monitor/plcpoll-go/pkg/fault"
	"github.com/plc-monitor/plcpoll-go/pkg/snapshot"
	"github.com/plc-monitor/plcpoll-go/pkg/transport"
)

// Session errors.
var (
	ErrNotConnected = errors.New("session not connected")
	ErrBusy         = errors.New("session operation in progress")
)

// State is the connection state of a session.
type State uint8

const (
	StateDisconnected State = iota
	StateConnecting
	StateConnected
)

// String returns a human-readable state name.
func (s State) String() string {
	switch s {
	case StateDisconnected:
		return "DISCONNECTED"
	case StateConnecting:
		return "CONNECTING"
	case StateConnected:
		return "CONNECTED"
	default:
		return "UNKNOWN"
	}
}

// Config configures a Session.
type Config struct {
	// Device is the device to talk to.
	Device config.DeviceConfig

	// Client is the transport. If nil, NewClient(Device) is used.
	Client transport.Client

	// Logger is the optional logger for debug output.
	// If nil, logging is disabled.
	Logger *slog.Logger

	// ResumeSequence is the last sequence number issued by a previous run.
	// The first snapshot gets ResumeSequence+1.
	ResumeSequence uint64
}

// Session owns the transport of one device and reads its register map.
// It never retries; retry is the reconnect supervisor's job.
type Session struct {
	device config.DeviceConfig
	client transport.Client
	logger *slog.Logger

	mu          sync.Mutex
	state       State
	busy        bool
	lastSuccess time.Time
	failures    int
	sequence    uint64

	// timeNow returns the current time. Defaults to time.Now.
	// Replaced in tests for deterministic behavior.
	timeNow func() time.Time
}

// New creates a disconnected session.
func New(cfg Config) *Session {
	client := cfg.Client
	if client == nil {
		client = NewClient(cfg.Device)
	}
	return &Session{
		device:   cfg.Device,
		client:   client,
		logger:   cfg.Logger,
		sequence: cfg.ResumeSequence,
		timeNow:  time.Now,
	}
}

// NewClient returns the transport client for the device's protocol.
func NewClient(d config.DeviceConfig) transport.Client {
	if d.Protocol == config.ProtocolModbusTCP {
		return transport.NewModbusClient(transport.ModbusConfig{UnitID: d.UnitID})
	}
	return transport.NewSLMPClient(transport.SLMPConfig{})
}

// Name returns the device name.
func (s *Session) Name() string {
	return s.device.Name
}

// Device returns the device configuration.
func (s *Session) Device() config.DeviceConfig {
	return s.device
}

// State returns the current state.
func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// LastSuccess returns the timestamp of the last successful read.
func (s *Session) LastSuccess() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastSuccess
}

// ConsecutiveFailures returns the number of faults since the last success.
func (s *Session) ConsecutiveFailures() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.failures
}

// beginRead claims a connected session for one read.
func (s *Session) beginRead() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.busy {
		return fault.New(s.device.Name, fault.OpRead, ErrBusy)
	}
	if s.state != StateConnected {
		return fault.New(s.device.Name, fault.OpRead, ErrNotConnected)
	}
	s.busy = true
	return nil
}

// Connect opens the transport, bounded by the device's connect timeout.
// On failure the session stays disconnected and a *fault.ConnectionFault is
// returned.
func (s *Session) Connect(ctx context.Context) error {
	s.mu.Lock()
	if s.busy {
		s.mu.Unlock()
		return fault.New(s.device.Name, fault.OpConnect, ErrBusy)
	}
	if s.state == StateConnected {
		s.mu.Unlock()
		return nil
	}
	s.busy = true
	s.state = StateConnecting
	s.mu.Unlock()

	ctx, cancel := withTimeout(ctx, s.device.ConnectTimeout)
	err := s.client.Open(ctx, s.device.Host, s.device.Port)
	cancel()

	s.mu.Lock()
	defer s.mu.Unlock()
	s.busy = false

	if err != nil {
		_ = s.client.Close()
		s.state = StateDisconnected
		s.failures++
		return fault.New(s.device.Name, fault.OpConnect, err)
	}
	s.state = StateConnected
	s.debugLog("connected", "addr", s.device.Address())
	return nil
}

// ReadRegisters reads every configured block in map order. Each block is
// bounded by the device's read timeout. Any fault closes the transport,
// leaves the session disconnected and discards the blocks already read.
func (s *Session) ReadRegisters(ctx context.Context) (snapshot.RegisterSnapshot, error) {
	if err := s.beginRead(); err != nil {
		return snapshot.RegisterSnapshot{}, err
	}

	start := s.timeNow()
	values := make([]snapshot.Value, 0, len(s.device.Registers))
	var readErr error
	for _, block := range s.device.Registers {
		words, err := s.readBlock(ctx, block)
		if err != nil {
			readErr = fmt.Errorf("block %s: %w", block.Label, err)
			break
		}
		values = append(values, snapshot.NewValue(block, words))
	}
	end := s.timeNow()

	s.mu.Lock()
	defer s.mu.Unlock()
	s.busy = false

	if readErr != nil {
		if err := s.client.Close(); err != nil {
			s.debugLog("close after fault failed", "error", err)
		}
		s.state = StateDisconnected
		s.failures++
		return snapshot.RegisterSnapshot{}, fault.New(s.device.Name, fault.OpRead, readErr)
	}

	s.sequence++
	s.lastSuccess = start
	s.failures = 0
	return snapshot.RegisterSnapshot{
		ID:        snapshot.NewID(),
		Device:    s.device.Name,
		Sequence:  s.sequence,
		Timestamp: start,
		Latency:   end.Sub(start),
		Values:    values,
	}, nil
}

func (s *Session) readBlock(ctx context.Context, block config.RegisterBlock) ([]uint16, error) {
	ctx, cancel := withTimeout(ctx, s.device.ReadTimeout)
	defer cancel()

	words, err := s.client.ReadWords(ctx, block.Address, block.Words)
	if err != nil {
		return nil, err
	}
	if len(words) != block.Words {
		return nil, fmt.Errorf("%w: read %d words, want %d", fault.ErrProtocol, len(words), block.Words)
	}
	return words, nil
}

// Disconnect closes the transport if open. It is idempotent and always
// leaves the session disconnected; close errors are logged, not returned.
func (s *Session) Disconnect() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.client.Close(); err != nil {
		s.debugLog("close failed", "error", err)
	}
	if s.state != StateDisconnected {
		s.debugLog("disconnected")
	}
	s.state = StateDisconnected
}

// withTimeout bounds ctx by d. A non-positive d leaves only ctx's own
// deadline.
func withTimeout(ctx context.Context, d time.Duration) (context.Context, context.CancelFunc) {
	if d <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, d)
}

// debugLog logs a debug message if logging is enabled.
func (s *Session) debugLog(msg string, args ...any) {
	if s.logger != nil {
		s.logger.Debug(msg, append([]any{"device", s.device.Name}, args...)...)
	}
}
