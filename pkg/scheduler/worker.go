package scheduler

import (
	"sync"
	"time"

	"github.com/plc-monitor/plcpoll-go/pkg/config"
	"github.com/plc-monitor/plcpoll-go/pkg/connection"
)

// worker is the per-device scheduling state. No lock spans workers.
type worker struct {
	cfg    config.DeviceConfig
	poller Poller
	sup    *connection.Supervisor

	mu sync.Mutex

	// inFlight covers both connects and reads.
	inFlight bool

	// lastRead is when the last read was dispatched.
	lastRead time.Time

	reads   uint64
	faults  uint64
	skipped uint64

	// sequence is the sequence number of the last snapshot read.
	sequence uint64
}

func newWorker(cfg config.DeviceConfig, poller Poller) *worker {
	return &worker{
		cfg:    cfg,
		poller: poller,
		sup:    connection.NewSupervisor(cfg.Backoff),
	}
}

func (w *worker) countFault() {
	w.mu.Lock()
	w.faults++
	w.mu.Unlock()
}
