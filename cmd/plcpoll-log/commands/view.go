// Package commands implements the plcpoll-log CLI commands.
package commands

import (
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"

	"github.com/plc-monitor/plcpoll-go/pkg/snapshot"
)

// TimestampFormat is used for all timestamps printed by the commands.
const TimestampFormat = "2006-01-02T15:04:05.000000Z"

// RunView prints the matching snapshots in human-readable form.
func RunView(path string, opts FilterOptions, w io.Writer) error {
	reader, err := open(path, opts)
	if err != nil {
		return err
	}
	defer reader.Close()

	return each(reader, func(s snapshot.RegisterSnapshot) error {
		formatSnapshot(w, s)
		return nil
	})
}

// formatSnapshot writes a human-readable representation of s to w.
func formatSnapshot(w io.Writer, s snapshot.RegisterSnapshot) {
	ts := s.Timestamp.UTC().Format(TimestampFormat)
	fmt.Fprintf(w, "%s [%s] %s #%d (%s)\n", ts, shortenID(s.ID), s.Device, s.Sequence, formatDuration(s.Latency))

	for _, v := range s.Values {
		fmt.Fprintf(w, "  %-12s %-8s %-8s %s\n", v.Label, v.Address, v.Type, formatValues(v))
	}

	fmt.Fprintln(w) // Blank line between snapshots
}

// shortenID returns the first 8 characters of the snapshot ID.
func shortenID(id string) string {
	if len(id) >= 8 {
		return id[:8]
	}
	return id
}

// formatValues prints decoded values, or the raw words in hex when the
// block was not decoded.
func formatValues(v snapshot.Value) string {
	parts := make([]string, 0, len(v.Raw))
	if len(v.Decoded) > 0 {
		for _, f := range v.Decoded {
			parts = append(parts, strconv.FormatFloat(f, 'g', -1, 64))
		}
	} else {
		for _, r := range v.Raw {
			parts = append(parts, fmt.Sprintf("0x%04X", r))
		}
	}
	return strings.Join(parts, " ")
}

// formatDuration formats a duration in a human-readable way.
func formatDuration(d time.Duration) string {
	if d < time.Millisecond {
		return fmt.Sprintf("%dus", d.Microseconds())
	}
	if d < time.Second {
		return fmt.Sprintf("%.1fms", float64(d.Microseconds())/1000)
	}
	return fmt.Sprintf("%.2fs", d.Seconds())
}
