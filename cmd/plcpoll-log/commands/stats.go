package commands

import (
	"fmt"
	"io"
	"sort"
	"time"

	"github.com/plc-monitor/plcpoll-go/pkg/snapshot"
)

// Stats holds aggregate statistics about a capture file.
type Stats struct {
	TotalSnapshots int
	Devices        map[string]*DeviceStats
	TimeRange      struct {
		Start time.Time
		End   time.Time
	}
}

// DeviceStats holds statistics for a single device.
type DeviceStats struct {
	FirstSeen    time.Time
	LastSeen     time.Time
	Snapshots    int
	FirstSeq     uint64
	LastSeq      uint64
	Gaps         uint64
	TotalLatency time.Duration
	MaxLatency   time.Duration
}

// MeanLatency returns the average read latency.
func (d *DeviceStats) MeanLatency() time.Duration {
	if d.Snapshots == 0 {
		return 0
	}
	return d.TotalLatency / time.Duration(d.Snapshots)
}

// Collect reads the matching snapshots of path into Stats.
func Collect(path string, opts FilterOptions) (*Stats, error) {
	reader, err := open(path, opts)
	if err != nil {
		return nil, err
	}
	defer reader.Close()

	stats := &Stats{Devices: make(map[string]*DeviceStats)}

	err = each(reader, func(s snapshot.RegisterSnapshot) error {
		stats.TotalSnapshots++

		// Track time range
		if stats.TimeRange.Start.IsZero() || s.Timestamp.Before(stats.TimeRange.Start) {
			stats.TimeRange.Start = s.Timestamp
		}
		if s.Timestamp.After(stats.TimeRange.End) {
			stats.TimeRange.End = s.Timestamp
		}

		dev, ok := stats.Devices[s.Device]
		if !ok {
			dev = &DeviceStats{
				FirstSeen: s.Timestamp,
				LastSeen:  s.Timestamp,
				FirstSeq:  s.Sequence,
				LastSeq:   s.Sequence,
			}
			stats.Devices[s.Device] = dev
		} else if s.Sequence > dev.LastSeq+1 {
			// Sequence gaps are snapshots dropped before reaching the file.
			dev.Gaps += s.Sequence - dev.LastSeq - 1
		}
		dev.Snapshots++
		if s.Sequence > dev.LastSeq {
			dev.LastSeq = s.Sequence
		}
		if s.Timestamp.After(dev.LastSeen) {
			dev.LastSeen = s.Timestamp
		}
		dev.TotalLatency += s.Latency
		if s.Latency > dev.MaxLatency {
			dev.MaxLatency = s.Latency
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return stats, nil
}

// RunStats analyzes the capture file and prints statistics.
func RunStats(path string, opts FilterOptions, w io.Writer) error {
	stats, err := Collect(path, opts)
	if err != nil {
		return err
	}
	printStats(w, stats)
	return nil
}

func printStats(w io.Writer, stats *Stats) {
	fmt.Fprintln(w, "=== PLC Snapshot Statistics ===")
	fmt.Fprintln(w)

	// Time range
	if stats.TotalSnapshots > 0 {
		fmt.Fprintf(w, "Time Range: %s to %s\n",
			stats.TimeRange.Start.Format(time.RFC3339),
			stats.TimeRange.End.Format(time.RFC3339))
		fmt.Fprintf(w, "Duration:   %s\n", stats.TimeRange.End.Sub(stats.TimeRange.Start).Round(time.Second))
		fmt.Fprintln(w)
	}

	fmt.Fprintf(w, "Total Snapshots: %d\n", stats.TotalSnapshots)
	fmt.Fprintf(w, "Devices: %d\n", len(stats.Devices))
	if len(stats.Devices) == 0 {
		return
	}

	names := make([]string, 0, len(stats.Devices))
	for name := range stats.Devices {
		names = append(names, name)
	}
	sort.Strings(names)

	fmt.Fprintln(w)
	for _, name := range names {
		d := stats.Devices[name]
		fmt.Fprintf(w, "  %s: %d snapshots, seq %d-%d\n", name, d.Snapshots, d.FirstSeq, d.LastSeq)
		fmt.Fprintf(w, "           Latency: mean %s, max %s\n", formatDuration(d.MeanLatency()), formatDuration(d.MaxLatency))
		if d.Gaps > 0 {
			fmt.Fprintf(w, "           Missing: %d\n", d.Gaps)
		}
	}
}
