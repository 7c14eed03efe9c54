package scheduler

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/plc-monitor/plcpoll-go/pkg/config"
	"github.com/plc-monitor/plcpoll-go/pkg/connection"
	"github.com/plc-monitor/plcpoll-go/pkg/fault"
	"github.com/plc-monitor/plcpoll-go/pkg/session"
	"github.com/plc-monitor/plcpoll-go/pkg/snapshot"
)

// Scheduler errors.
var (
	ErrShutdownTimeout = errors.New("shutdown grace period exceeded")
	ErrUnknownDevice   = errors.New("unknown device")
)

// Poller is the device side of a worker. *session.Session implements it.
type Poller interface {
	Connect(ctx context.Context) error
	ReadRegisters(ctx context.Context) (snapshot.RegisterSnapshot, error)
	Disconnect()
	LastSuccess() time.Time
	ConsecutiveFailures() int
}

// Publisher receives completed snapshots. *emitter.Emitter implements it.
type Publisher interface {
	Emit(s snapshot.RegisterSnapshot) error
}

// Config configures a Scheduler.
type Config struct {
	// Devices to poll, in report order.
	Devices []config.DeviceConfig

	// Publisher receives every successful read.
	Publisher Publisher

	// Tick is the driver loop period. Defaults to config.DefaultTick.
	Tick time.Duration

	// ShutdownGrace bounds the wait for in-flight operations.
	// Defaults to config.DefaultShutdownGrace.
	ShutdownGrace time.Duration

	// StatusInterval is the period of the status log. Zero disables it.
	StatusInterval time.Duration

	// NewPoller builds the poller for a device. Defaults to a session with
	// the protocol's transport client.
	NewPoller func(d config.DeviceConfig, logger *slog.Logger) Poller

	// Logger is the optional logger for operational output.
	// If nil, logging is disabled.
	Logger *slog.Logger
}

// Scheduler drives the polling of all devices from a single tick. Device
// I/O runs on per-operation goroutines; Tick never blocks on it.
type Scheduler struct {
	workers []*worker
	byName  map[string]*worker

	publisher      Publisher
	tick           time.Duration
	grace          time.Duration
	statusInterval time.Duration
	logger         *slog.Logger

	// ctx is cancelled on shutdown and parents every device operation.
	ctx    context.Context
	cancel context.CancelFunc
	ops    sync.WaitGroup

	shutdownOnce sync.Once
	shutdownErr  error

	// abandoned is set once Shutdown stopped waiting for operations.
	// Operations settling afterwards disconnect their own device.
	abandoned atomic.Bool

	// timeNow returns the current time. Defaults to time.Now.
	// Replaced in tests for deterministic behavior.
	timeNow func() time.Time
}

// New creates a scheduler. Devices configured as disabled start in
// connection.StateDisabled.
func New(cfg Config) *Scheduler {
	if cfg.Tick <= 0 {
		cfg.Tick = config.DefaultTick
	}
	if cfg.ShutdownGrace <= 0 {
		cfg.ShutdownGrace = config.DefaultShutdownGrace
	}
	if cfg.NewPoller == nil {
		cfg.NewPoller = newSession
	}

	ctx, cancel := context.WithCancel(context.Background())
	s := &Scheduler{
		byName:         make(map[string]*worker, len(cfg.Devices)),
		publisher:      cfg.Publisher,
		tick:           cfg.Tick,
		grace:          cfg.ShutdownGrace,
		statusInterval: cfg.StatusInterval,
		logger:         cfg.Logger,
		ctx:            ctx,
		cancel:         cancel,
		timeNow:        time.Now,
	}

	for _, d := range cfg.Devices {
		w := newWorker(d, cfg.NewPoller(d, cfg.Logger))
		s.watch(w)
		if !d.IsEnabled() {
			w.sup.Disable()
		}
		s.workers = append(s.workers, w)
		s.byName[d.Name] = w
	}
	return s
}

func newSession(d config.DeviceConfig, logger *slog.Logger) Poller {
	return session.New(session.Config{Device: d, Logger: logger})
}

// watch hooks the worker's supervisor into the operational log.
func (s *Scheduler) watch(w *worker) {
	name := w.cfg.Name
	w.sup.OnStateChange(func(oldState, newState connection.State) {
		s.debugLog("device state", "device", name, "from", oldState, "to", newState)
	})
	w.sup.OnReconnecting(func(attempt int, delay time.Duration) {
		s.infoLog("reconnect scheduled", "device", name, "attempt", attempt, "delay", delay)
	})
}

// Run ticks the scheduler until ctx is cancelled and then shuts down. It
// returns ErrShutdownTimeout if operations outlived the grace period.
func (s *Scheduler) Run(ctx context.Context) error {
	stop := context.AfterFunc(ctx, s.cancel)
	defer stop()

	ticker := time.NewTicker(s.tick)
	defer ticker.Stop()

	var status <-chan time.Time
	if s.statusInterval > 0 {
		st := time.NewTicker(s.statusInterval)
		defer st.Stop()
		status = st.C
	}

	s.Tick(s.timeNow())
	for {
		select {
		case <-s.ctx.Done():
			return s.Shutdown()
		case <-ticker.C:
			s.Tick(s.timeNow())
		case <-status:
			s.logStatus()
		}
	}
}

// Tick dispatches at most one operation per device: a read for connected
// devices whose poll interval elapsed, a connect for devices whose backoff
// expired. Devices with an operation outstanding are skipped.
func (s *Scheduler) Tick(now time.Time) {
	if s.ctx.Err() != nil {
		return
	}
	for _, w := range s.workers {
		s.tickWorker(w, now)
	}
}

func (s *Scheduler) tickWorker(w *worker, now time.Time) {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.inFlight {
		w.skipped++
		return
	}

	switch w.sup.State() {
	case connection.StateConnected:
		if !w.lastRead.IsZero() && now.Before(w.lastRead.Add(w.cfg.PollInterval)) {
			return
		}
		w.inFlight = true
		w.lastRead = now
		s.dispatch(w, s.read)

	case connection.StateDisconnected:
		w.sup.Start(now)
		fallthrough

	case connection.StateBackoff:
		if err := w.sup.BeginConnect(now); err != nil {
			return
		}
		w.inFlight = true
		s.dispatch(w, s.connect)
	}
}

// dispatch runs op for w on its own goroutine. w.inFlight must already be
// set.
func (s *Scheduler) dispatch(w *worker, op func(ctx context.Context, w *worker)) {
	s.ops.Add(1)
	go func() {
		defer s.ops.Done()
		defer s.settle(w)
		op(s.ctx, w)
	}()
}

func (s *Scheduler) connect(ctx context.Context, w *worker) {
	err := w.poller.Connect(ctx)
	if err != nil {
		kind := fault.Classify(err)
		w.countFault()
		delay := w.sup.ConnectFailed(s.timeNow(), kind)
		s.warnLog("connect failed", "device", w.cfg.Name, "kind", kind, "retry_in", delay, "error", err)
		return
	}

	if !w.sup.ConnectSucceeded() {
		// Disabled while connecting.
		w.poller.Disconnect()
		return
	}

	// A fresh connection reads on the next tick.
	w.mu.Lock()
	w.lastRead = time.Time{}
	w.mu.Unlock()
	s.infoLog("device connected", "device", w.cfg.Name, "address", w.cfg.Address())
}

func (s *Scheduler) read(ctx context.Context, w *worker) {
	snap, err := w.poller.ReadRegisters(ctx)
	if err != nil {
		kind := fault.Classify(err)
		w.countFault()
		delay := w.sup.ConnectionLost(s.timeNow(), kind)
		s.warnLog("read failed", "device", w.cfg.Name, "kind", kind, "retry_in", delay, "error", err)
		return
	}

	w.mu.Lock()
	w.reads++
	w.sequence = snap.Sequence
	w.mu.Unlock()

	if err := s.publisher.Emit(snap); err != nil {
		s.debugLog("snapshot not emitted", "device", w.cfg.Name, "sequence", snap.Sequence, "error", err)
	}
}

// settle clears the in-flight flag and disconnects a device that was
// disabled while the operation ran, or whose operation outlived the
// shutdown grace period.
func (s *Scheduler) settle(w *worker) {
	w.mu.Lock()
	w.inFlight = false
	w.mu.Unlock()

	if s.abandoned.Load() || w.sup.State() == connection.StateDisabled {
		w.poller.Disconnect()
	}
}

// Disable stops polling the named device. An outstanding operation is not
// waited for; the device is disconnected once it settles.
func (s *Scheduler) Disable(name string) error {
	w, ok := s.byName[name]
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownDevice, name)
	}

	w.sup.Disable()

	w.mu.Lock()
	busy := w.inFlight
	w.mu.Unlock()
	if !busy {
		w.poller.Disconnect()
	}
	s.infoLog("device disabled", "device", name)
	return nil
}

// Enable resumes polling of the named device with a fresh backoff; the
// first connect is attempted on the next tick.
func (s *Scheduler) Enable(name string) error {
	w, ok := s.byName[name]
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownDevice, name)
	}
	w.sup.Enable(s.timeNow())
	s.infoLog("device enabled", "device", name)
	return nil
}

// Shutdown cancels every outstanding operation, waits for them up to the
// grace period and disconnects all devices. Devices still busy after the
// grace period have their transport closed without waiting for the
// operation to return. Later calls return the first result.
func (s *Scheduler) Shutdown() error {
	s.shutdownOnce.Do(func() {
		s.cancel()

		done := make(chan struct{})
		go func() {
			s.ops.Wait()
			close(done)
		}()

		timer := time.NewTimer(s.grace)
		defer timer.Stop()

		select {
		case <-done:
		case <-timer.C:
			s.shutdownErr = ErrShutdownTimeout
			s.warnLog("shutdown grace exceeded", "grace", s.grace)
		}
		s.abandoned.Store(true)

		for _, w := range s.workers {
			w.mu.Lock()
			busy := w.inFlight
			w.mu.Unlock()
			if busy {
				go w.poller.Disconnect()
				continue
			}
			w.poller.Disconnect()
		}
	})
	return s.shutdownErr
}

// debugLog logs a debug message if logging is enabled.
func (s *Scheduler) debugLog(msg string, args ...any) {
	if s.logger != nil {
		s.logger.Debug(msg, args...)
	}
}

func (s *Scheduler) infoLog(msg string, args ...any) {
	if s.logger != nil {
		s.logger.Info(msg, args...)
	}
}

func (s *Scheduler) warnLog(msg string, args ...any) {
	if s.logger != nil {
		s.logger.Warn(msg, args...)
	}
}
