package emitter

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/plc-monitor/plcpoll-go/pkg/config"
	"github.com/plc-monitor/plcpoll-go/pkg/fault"
	"github.com/plc-monitor/plcpoll-go/pkg/sink"
	"github.com/plc-monitor/plcpoll-go/pkg/snapshot"
)

// ErrStopped is returned by Emit after Drain.
var ErrStopped = errors.New("emitter stopped")

// Config configures an Emitter.
type Config struct {
	// Sink receives the snapshots.
	Sink sink.Sink

	// QueueCapacity bounds the queue. Defaults to config.DefaultQueueCapacity.
	QueueCapacity int

	// WriteTimeout bounds each sink write. Defaults to
	// config.DefaultWriteTimeout.
	WriteTimeout time.Duration

	// Logger is the optional logger for sink faults.
	// If nil, logging is disabled.
	Logger *slog.Logger
}

// Emitter decouples the poll loop from the sink with a bounded queue.
// When the queue is full the oldest snapshot is dropped.
type Emitter struct {
	sink         sink.Sink
	sinkName     string
	writeTimeout time.Duration
	logger       *slog.Logger

	mu      sync.Mutex
	buf     []snapshot.RegisterSnapshot
	head    int
	n       int
	stopped bool
	notify  chan struct{}

	dropped    atomic.Uint64
	written    atomic.Uint64
	sinkFaults atomic.Uint64

	onFault func(*fault.SinkFault)
}

// New creates an emitter. Run must be started for queued snapshots to
// reach the sink.
func New(cfg Config) *Emitter {
	if cfg.QueueCapacity < 1 {
		cfg.QueueCapacity = config.DefaultQueueCapacity
	}
	if cfg.WriteTimeout <= 0 {
		cfg.WriteTimeout = config.DefaultWriteTimeout
	}
	return &Emitter{
		sink:         cfg.Sink,
		sinkName:     sink.Name(cfg.Sink),
		writeTimeout: cfg.WriteTimeout,
		logger:       cfg.Logger,
		buf:          make([]snapshot.RegisterSnapshot, cfg.QueueCapacity),
		notify:       make(chan struct{}, 1),
	}
}

// Emit enqueues s without blocking. A full queue drops its oldest
// snapshot. Sink faults are never reported here.
func (e *Emitter) Emit(s snapshot.RegisterSnapshot) error {
	e.mu.Lock()
	if e.stopped {
		e.mu.Unlock()
		return ErrStopped
	}
	if e.n == len(e.buf) {
		e.buf[e.head] = snapshot.RegisterSnapshot{}
		e.head = (e.head + 1) % len(e.buf)
		e.n--
		e.dropped.Add(1)
	}
	e.buf[(e.head+e.n)%len(e.buf)] = s
	e.n++
	e.mu.Unlock()

	select {
	case e.notify <- struct{}{}:
	default:
		// Already pending
	}
	return nil
}

// pop removes the oldest snapshot.
func (e *Emitter) pop() (snapshot.RegisterSnapshot, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.n == 0 {
		return snapshot.RegisterSnapshot{}, false
	}
	s := e.buf[e.head]
	e.buf[e.head] = snapshot.RegisterSnapshot{}
	e.head = (e.head + 1) % len(e.buf)
	e.n--
	return s, true
}

// Forward writes s to the sink synchronously, bypassing the queue.
// A failed write is returned as a *fault.SinkFault.
func (e *Emitter) Forward(ctx context.Context, s snapshot.RegisterSnapshot) error {
	ctx, cancel := context.WithTimeout(ctx, e.writeTimeout)
	defer cancel()

	if err := e.sink.Write(ctx, s); err != nil {
		if ctx.Err() != nil && !errors.Is(err, context.DeadlineExceeded) && !errors.Is(err, context.Canceled) {
			err = errors.Join(ctx.Err(), err)
		}
		return &fault.SinkFault{Sink: e.sinkName, Err: err}
	}
	e.written.Add(1)
	return nil
}

// Run drains the queue into the sink until ctx is cancelled. Sink faults
// are logged and counted; the snapshot is discarded. A write in progress
// at cancellation still completes within WriteTimeout.
func (e *Emitter) Run(ctx context.Context) {
	writeCtx := context.WithoutCancel(ctx)
	for {
		for {
			if ctx.Err() != nil {
				return
			}
			s, ok := e.pop()
			if !ok {
				break
			}
			e.write(writeCtx, s)
		}

		select {
		case <-ctx.Done():
			return
		case <-e.notify:
		}
	}
}

// Drain writes whatever is still queued, stopping when ctx expires, and
// then rejects further snapshots. It returns the number of snapshots left
// unwritten.
func (e *Emitter) Drain(ctx context.Context) int {
	for ctx.Err() == nil {
		s, ok := e.pop()
		if !ok {
			break
		}
		e.write(ctx, s)
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	e.stopped = true
	return e.n
}

func (e *Emitter) write(ctx context.Context, s snapshot.RegisterSnapshot) {
	err := e.Forward(ctx, s)
	if err == nil {
		return
	}
	e.sinkFaults.Add(1)

	var sf *fault.SinkFault
	if errors.As(err, &sf) {
		if e.logger != nil {
			e.logger.Warn("sink write failed",
				"sink", sf.Sink,
				"device", s.Device,
				"sequence", s.Sequence,
				"timeout", sf.Timeout(),
				"error", sf.Err)
		}
		if e.onFault != nil {
			e.onFault(sf)
		}
	}
}

// OnSinkFault sets a callback for failed sink writes. Must be called
// before Run.
func (e *Emitter) OnSinkFault(fn func(*fault.SinkFault)) {
	e.onFault = fn
}

// Len returns the number of queued snapshots.
func (e *Emitter) Len() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.n
}

// Capacity returns the queue capacity.
func (e *Emitter) Capacity() int {
	return len(e.buf)
}

// Dropped returns how many snapshots were dropped from a full queue.
func (e *Emitter) Dropped() uint64 {
	return e.dropped.Load()
}

// Written returns how many snapshots reached the sink.
func (e *Emitter) Written() uint64 {
	return e.written.Load()
}

// SinkFaults returns how many sink writes failed.
func (e *Emitter) SinkFaults() uint64 {
	return e.sinkFaults.Load()
}
