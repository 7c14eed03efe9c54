package commands

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/plc-monitor/plcpoll-go/pkg/config"
	"github.com/plc-monitor/plcpoll-go/pkg/sink"
	"github.com/plc-monitor/plcpoll-go/pkg/snapshot"
)

var ts = time.Date(2026, 1, 28, 10, 0, 0, 0, time.UTC)

// makeSnapshot builds a snapshot with a temperature and a counter block.
func makeSnapshot(device string, seq uint64, at time.Time) snapshot.RegisterSnapshot {
	temp := config.RegisterBlock{Address: "D100", Words: 1, Label: "temp", Type: config.TypeInt16}
	count := config.RegisterBlock{Address: "D200", Words: 2, Label: "count", Type: config.TypeUint32}
	return snapshot.RegisterSnapshot{
		ID:        "0123456789abcdef",
		Device:    device,
		Sequence:  seq,
		Timestamp: at,
		Latency:   1500 * time.Microsecond,
		Values: []snapshot.Value{
			snapshot.NewValue(temp, []uint16{0xFFF6}),
			snapshot.NewValue(count, []uint16{uint16(seq), 0}),
		},
	}
}

// createTestFile writes snapshots to a capture file and returns its path.
func createTestFile(t *testing.T, snaps []snapshot.RegisterSnapshot) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "test.cbor")

	fs, err := sink.NewFileSink(path)
	if err != nil {
		t.Fatalf("NewFileSink failed: %v", err)
	}
	for _, s := range snaps {
		if err := fs.Write(context.Background(), s); err != nil {
			t.Fatalf("Write failed: %v", err)
		}
	}
	if err := fs.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}
	return path
}
