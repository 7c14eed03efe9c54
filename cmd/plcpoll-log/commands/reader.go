package commands

import (
	"errors"
	"fmt"
	"io"

	"github.com/plc-monitor/plcpoll-go/pkg/sink"
	"github.com/plc-monitor/plcpoll-go/pkg/snapshot"
)

// each calls fn for every snapshot until the reader is exhausted.
func each(r *sink.Reader, fn func(snapshot.RegisterSnapshot) error) error {
	for {
		s, err := r.Next()
		if errors.Is(err, io.EOF) {
			return nil
		}
		if err != nil {
			return fmt.Errorf("failed to read snapshot: %w", err)
		}
		if err := fn(s); err != nil {
			return err
		}
	}
}

// open opens path with the filter built from opts.
func open(path string, opts FilterOptions) (*sink.Reader, error) {
	filter, err := BuildFilter(opts)
	if err != nil {
		return nil, err
	}
	r, err := sink.NewFilteredReader(path, filter)
	if err != nil {
		return nil, fmt.Errorf("failed to open capture file: %w", err)
	}
	return r, nil
}
