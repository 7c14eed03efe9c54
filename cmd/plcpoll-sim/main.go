// Command plcpoll-sim runs simulated PLCs for trying out plcpoll without
// hardware.
//
// It starts an SLMP (MELSEC 3E binary) server and a Modbus TCP server over
// one shared memory whose values drift like live process data.
//
// Usage:
//
//	plcpoll-sim [flags]
//
// Flags:
//
//	-slmp string        SLMP listen address, empty to disable (default "127.0.0.1:5007")
//	-modbus string      Modbus TCP listen address, empty to disable (default "127.0.0.1:5020")
//	-update duration    Interval between value changes (default 500ms)
//	-delay duration     Artificial response delay
//	-drop duration      Interval for dropping all SLMP client connections, 0 to never drop
//	-seed int           Random seed (default: time based)
//	-log-level string   Log level: debug, info, warn, error (default "info")
//
// Examples:
//
//	# Serve both protocols on the default ports
//	plcpoll-sim
//
//	# Slow PLC that loses its clients every 30 seconds
//	plcpoll-sim -delay 800ms -drop 30s
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"math/rand"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/plc-monitor/plcpoll-go/internal/simplc"
	"github.com/plc-monitor/plcpoll-go/pkg/config"
)

var (
	slmpAddr   = flag.String("slmp", "127.0.0.1:5007", "SLMP listen address, empty to disable")
	modbusAddr = flag.String("modbus", "127.0.0.1:5020", "Modbus TCP listen address, empty to disable")
	update     = flag.Duration("update", 500*time.Millisecond, "Interval between value changes")
	delay      = flag.Duration("delay", 0, "Artificial response delay")
	drop       = flag.Duration("drop", 0, "Interval for dropping all SLMP client connections, 0 to never drop")
	seed       = flag.Int64("seed", 0, "Random seed (default: time based)")
	logLevel   = flag.String("log-level", "info", "Log level: debug, info, warn, error")
)

// simServer is a running simulated server.
type simServer interface {
	Close() error
	Served() int64
}

// dropper is a server that can drop its client connections.
type dropper interface {
	DropConnections()
	Accepted() int64
}

func main() {
	flag.Parse()

	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: config.ParseLevel(*logLevel)}))

	if *seed == 0 {
		*seed = time.Now().UnixNano()
	}
	rng := rand.New(rand.NewSource(*seed))

	mem := simplc.NewMemory()
	seedMemory(mem)

	var servers []simServer
	if *slmpAddr != "" {
		s := simplc.NewSLMPServer(mem)
		s.SetDelay(*delay)
		if err := s.Start(*slmpAddr); err != nil {
			fail(logger, "slmp", err)
		}
		logger.Info("SLMP server listening", "address", s.Addr().String())
		servers = append(servers, s)
	}
	if *modbusAddr != "" {
		s := simplc.NewModbusServer(mem)
		s.SetDelay(*delay)
		if err := s.Start(*modbusAddr); err != nil {
			fail(logger, "modbus", err)
		}
		logger.Info("Modbus TCP server listening", "address", s.Addr().String())
		servers = append(servers, s)
	}
	if len(servers) == 0 {
		fmt.Fprintln(os.Stderr, "Error: nothing to serve, set -slmp or -modbus")
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	runSimulation(ctx, logger, mem, rng, servers)

	logger.Info("shutting down")
	for _, s := range servers {
		if err := s.Close(); err != nil {
			logger.Warn("close failed", "error", err)
		}
	}
}

func fail(logger *slog.Logger, server string, err error) {
	logger.Error("failed to start server", "server", server, "error", err)
	os.Exit(1)
}

// seedMemory fills the areas the example configurations read.
func seedMemory(mem *simplc.Memory) {
	// D100..D109: temperatures in 0.1 degC, as int16.
	for i := uint32(0); i < 10; i++ {
		mem.Set("D", 100+i, uint16(200+10*i))
	}
	// D200/D201: production counter, uint32 low word first.
	mem.Set("D", 200, 0, 0)
	// W0..W3: status words.
	mem.Set("W", 0, 0x0001, 0x0000, 0x00FF, 0x0000)
	// HR0..HR9 and IR0..IR9 on the Modbus side.
	for i := uint32(0); i < 10; i++ {
		mem.Set("HR", i, uint16(1000+i))
		mem.Set("IR", i, uint16(500+i))
	}
}

// runSimulation drifts the memory until ctx is cancelled.
func runSimulation(ctx context.Context, logger *slog.Logger, mem *simplc.Memory, rng *rand.Rand, servers []simServer) {
	ticker := time.NewTicker(*update)
	defer ticker.Stop()

	var dropC <-chan time.Time
	if *drop > 0 {
		t := time.NewTicker(*drop)
		defer t.Stop()
		dropC = t.C
	}

	var counter uint32
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			mem.Jitter(rng, "D", 100, 10, 3)
			mem.Jitter(rng, "HR", 0, 10, 5)
			mem.Jitter(rng, "IR", 0, 10, 2)
			counter += uint32(rng.Intn(4))
			mem.Set("D", 200, uint16(counter), uint16(counter>>16))
		case <-dropC:
			for _, s := range servers {
				d, ok := s.(dropper)
				if !ok {
					continue
				}
				d.DropConnections()
				logger.Info("dropped connections", "accepted", d.Accepted(), "served", s.Served())
			}
		}
	}
}
