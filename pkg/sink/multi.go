package sink

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/plc-monitor/plcpoll-go/pkg/snapshot"
)

// MultiSink sends snapshots to multiple sinks.
// A failing sink does not stop the others from receiving the snapshot.
type MultiSink struct {
	sinks []Sink
}

// NewMultiSink creates a MultiSink that sends snapshots to all provided sinks.
func NewMultiSink(sinks ...Sink) *MultiSink {
	return &MultiSink{sinks: sinks}
}

// Name lists the member sinks.
func (m *MultiSink) Name() string {
	names := make([]string, len(m.sinks))
	for i, s := range m.sinks {
		names[i] = Name(s)
	}
	return "multi[" + strings.Join(names, ",") + "]"
}

// Write sends the snapshot to every sink and joins their errors.
func (m *MultiSink) Write(ctx context.Context, snap snapshot.RegisterSnapshot) error {
	var errs []error
	for _, s := range m.sinks {
		if err := s.Write(ctx, snap); err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", Name(s), err))
		}
	}
	return errors.Join(errs...)
}

// Close closes every sink and joins their errors.
func (m *MultiSink) Close() error {
	var errs []error
	for _, s := range m.sinks {
		if err := s.Close(); err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", Name(s), err))
		}
	}
	return errors.Join(errs...)
}

// Compile-time interface satisfaction check.
var _ Sink = (*MultiSink)(nil)
