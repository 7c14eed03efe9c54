package commands

import (
	"errors"
	"io"
	"path/filepath"
	"testing"
	"time"

	"github.com/plc-monitor/plcpoll-go/pkg/sink"
	"github.com/plc-monitor/plcpoll-go/pkg/snapshot"
)

func TestBuildFilter(t *testing.T) {
	f, err := BuildFilter(FilterOptions{
		Device:    "press-1",
		Label:     "temp",
		TimeStart: "2026-01-28T10:00:00Z",
		TimeEnd:   "2026-01-28T11:00:00Z",
	})
	if err != nil {
		t.Fatalf("BuildFilter failed: %v", err)
	}
	if f.Device != "press-1" || f.Label != "temp" {
		t.Errorf("unexpected filter: %+v", f)
	}
	if f.TimeStart == nil || !f.TimeStart.Equal(ts) {
		t.Errorf("TimeStart = %v, want %v", f.TimeStart, ts)
	}
	if f.TimeEnd == nil || !f.TimeEnd.Equal(ts.Add(time.Hour)) {
		t.Errorf("TimeEnd = %v, want %v", f.TimeEnd, ts.Add(time.Hour))
	}
}

func TestBuildFilterErrors(t *testing.T) {
	tests := []struct {
		name string
		opts FilterOptions
	}{
		{"bad start", FilterOptions{TimeStart: "yesterday"}},
		{"bad end", FilterOptions{TimeEnd: "10:00"}},
		{"inverted", FilterOptions{TimeStart: "2026-01-28T11:00:00Z", TimeEnd: "2026-01-28T10:00:00Z"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := BuildFilter(tt.opts); err == nil {
				t.Error("expected error")
			}
		})
	}
}

func TestRunFilterWritesMatching(t *testing.T) {
	var snaps []snapshot.RegisterSnapshot
	for i := 0; i < 6; i++ {
		snaps = append(snaps, makeSnapshot("press-1", uint64(i+1), ts.Add(time.Duration(i)*time.Minute)))
	}
	path := createTestFile(t, snaps)
	output := filepath.Join(t.TempDir(), "filtered.cbor")

	n, err := RunFilter(path, output, FilterOptions{
		TimeStart: "2026-01-28T10:02:00Z",
		TimeEnd:   "2026-01-28T10:04:00Z",
	})
	if err != nil {
		t.Fatalf("RunFilter failed: %v", err)
	}
	if n != 2 {
		t.Errorf("RunFilter wrote %d, want 2", n)
	}

	r, err := sink.NewReader(output)
	if err != nil {
		t.Fatalf("NewReader failed: %v", err)
	}
	defer r.Close()

	var seqs []uint64
	for {
		s, err := r.Next()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			t.Fatalf("Next failed: %v", err)
		}
		seqs = append(seqs, s.Sequence)
	}
	if len(seqs) != 2 || seqs[0] != 3 || seqs[1] != 4 {
		t.Errorf("sequences = %v, want [3 4]", seqs)
	}
}

func TestRunFilterRequiresOutput(t *testing.T) {
	if _, err := RunFilter("in.cbor", "", FilterOptions{}); err == nil {
		t.Error("expected error without output")
	}
}
