// Command plcpoll polls register maps from Mitsubishi SLMP and Modbus TCP
// PLCs and forwards timestamped snapshots to the configured sinks.
//
// Every device is polled independently. A device that stops answering is
// reconnected with exponential backoff while the others keep their
// cadence. With state_file set, snapshot sequence numbers continue across
// restarts.
//
// Usage:
//
//	plcpoll [flags]
//
// Flags:
//
//	-config string      Configuration file path (default "plcpoll.yaml")
//	-log-level string   Log level: debug, info, warn, error (overrides the file)
//
// Examples:
//
//	# Poll the devices of a production line
//	plcpoll -config /etc/plcpoll/line1.yaml
//
//	# Watch state changes and reconnects
//	plcpoll -config line1.yaml -log-level debug
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/plc-monitor/plcpoll-go/pkg/config"
	"github.com/plc-monitor/plcpoll-go/pkg/emitter"
	"github.com/plc-monitor/plcpoll-go/pkg/persistence"
	"github.com/plc-monitor/plcpoll-go/pkg/scheduler"
	"github.com/plc-monitor/plcpoll-go/pkg/session"
	"github.com/plc-monitor/plcpoll-go/pkg/sink"
)

var (
	configFile = flag.String("config", "plcpoll.yaml", "Configuration file path")
	logLevel   = flag.String("log-level", "", "Log level: debug, info, warn, error (overrides the file)")
)

func main() {
	flag.Parse()
	os.Exit(run())
}

func run() int {
	cfg, err := config.Load(*configFile)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Invalid configuration: %v\n", err)
		return 1
	}

	level := cfg.SlogLevel()
	if *logLevel != "" {
		level = config.ParseLevel(*logLevel)
	}
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))

	out, err := sink.Open(cfg.Sinks, logger)
	if err != nil {
		logger.Error("failed to open sinks", "error", err)
		return 1
	}

	em := emitter.New(emitter.Config{
		Sink:          out,
		QueueCapacity: cfg.Emitter.QueueCapacity,
		WriteTimeout:  cfg.Emitter.WriteTimeout,
		Logger:        logger,
	})

	var store *persistence.StateStore
	if cfg.StateFile != "" {
		store = persistence.NewStateStore(cfg.StateFile)
	}
	prev := loadState(store, logger)

	sched := scheduler.New(scheduler.Config{
		Devices:        cfg.Devices,
		Publisher:      em,
		Tick:           cfg.Tick,
		ShutdownGrace:  cfg.ShutdownGrace,
		StatusInterval: cfg.StatusInterval,
		NewPoller: func(d config.DeviceConfig, l *slog.Logger) scheduler.Poller {
			return session.New(session.Config{
				Device:         d,
				Logger:         l,
				ResumeSequence: prev.Sequence(d.Name),
			})
		},
		Logger: logger,
	})

	logger.Info("plcpoll starting",
		"config", *configFile,
		"devices", len(cfg.Devices),
		"sink", sink.Name(out),
		"tick", cfg.Tick)

	// Cancel on SIGINT/SIGTERM
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	emitCtx, stopEmitter := context.WithCancel(context.Background())
	emitDone := make(chan struct{})
	go func() {
		em.Run(emitCtx)
		close(emitDone)
	}()

	runErr := sched.Run(ctx)
	logger.Info("shutting down")

	// Flush what is still queued within the remaining grace.
	stopEmitter()
	<-emitDone
	drainCtx, cancel := context.WithTimeout(context.Background(), remaining(cfg.ShutdownGrace, runErr))
	left := em.Drain(drainCtx)
	cancel()

	if err := out.Close(); err != nil {
		logger.Warn("failed to close sinks", "error", err)
	}

	if store != nil {
		if err := store.Save(mergeState(prev, sched.Status())); err != nil {
			logger.Warn("failed to save state", "path", store.Path(), "error", err)
		}
	}

	logger.Info("plcpoll stopped",
		"written", em.Written(),
		"dropped", em.Dropped(),
		"sink_faults", em.SinkFaults(),
		"unflushed", left)

	if errors.Is(runErr, scheduler.ErrShutdownTimeout) {
		logger.Warn("shutdown grace exceeded, exiting anyway")
	}
	return 0
}

// remaining returns how long the emitter may drain after the scheduler
// stopped. A scheduler that used up the grace leaves none.
func remaining(grace time.Duration, runErr error) time.Duration {
	if errors.Is(runErr, scheduler.ErrShutdownTimeout) {
		return 0
	}
	return grace
}
