package commands

import (
	"context"
	"fmt"
	"time"

	"github.com/plc-monitor/plcpoll-go/pkg/sink"
	"github.com/plc-monitor/plcpoll-go/pkg/snapshot"
)

// FilterOptions specifies filtering criteria shared by all commands.
type FilterOptions struct {
	Device    string
	Label     string
	TimeStart string
	TimeEnd   string
}

// BuildFilter parses the options into a reader filter.
func BuildFilter(opts FilterOptions) (sink.Filter, error) {
	filter := sink.Filter{
		Device: opts.Device,
		Label:  opts.Label,
	}

	if opts.TimeStart != "" {
		t, err := time.Parse(time.RFC3339, opts.TimeStart)
		if err != nil {
			return filter, fmt.Errorf("invalid time-start format: %w", err)
		}
		filter.TimeStart = &t
	}

	if opts.TimeEnd != "" {
		t, err := time.Parse(time.RFC3339, opts.TimeEnd)
		if err != nil {
			return filter, fmt.Errorf("invalid time-end format: %w", err)
		}
		filter.TimeEnd = &t
	}

	if filter.TimeStart != nil && filter.TimeEnd != nil && !filter.TimeStart.Before(*filter.TimeEnd) {
		return filter, fmt.Errorf("time-start must be before time-end")
	}

	return filter, nil
}

// RunFilter copies the snapshots of path matching opts into output.
// It returns the number of snapshots written.
func RunFilter(path, output string, opts FilterOptions) (int, error) {
	if output == "" {
		return 0, fmt.Errorf("output file required")
	}

	filter, err := BuildFilter(opts)
	if err != nil {
		return 0, err
	}

	reader, err := sink.NewFilteredReader(path, filter)
	if err != nil {
		return 0, fmt.Errorf("failed to open capture file: %w", err)
	}
	defer reader.Close()

	out, err := sink.NewFileSink(output)
	if err != nil {
		return 0, fmt.Errorf("failed to create output file: %w", err)
	}
	defer out.Close()

	count := 0
	err = each(reader, func(s snapshot.RegisterSnapshot) error {
		if err := out.Write(context.Background(), s); err != nil {
			return fmt.Errorf("failed to write snapshot: %w", err)
		}
		count++
		return nil
	})
	if err != nil {
		return count, err
	}
	return count, out.Close()
}
