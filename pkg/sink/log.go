package sink

import (
	"context"
	"log/slog"

	"github.com/plc-monitor/plcpoll-go/pkg/snapshot"
)

// LogSink writes snapshots to an slog.Logger.
// Useful for development when you want to see register values in console.
type LogSink struct {
	logger *slog.Logger
	level  slog.Level
}

// NewLogSink creates a LogSink that writes to the given slog.Logger at
// Info level.
func NewLogSink(logger *slog.Logger) *LogSink {
	return &LogSink{logger: logger, level: slog.LevelInfo}
}

// Name returns "log".
func (s *LogSink) Name() string {
	return "log"
}

// Write logs the snapshot with one attribute group per value.
func (s *LogSink) Write(ctx context.Context, snap snapshot.RegisterSnapshot) error {
	attrs := []slog.Attr{
		slog.String("device", snap.Device),
		slog.Uint64("sequence", snap.Sequence),
		slog.Time("timestamp", snap.Timestamp),
		slog.Duration("latency", snap.Latency),
	}

	for _, v := range snap.Values {
		group := []any{
			slog.String("address", v.Address),
			slog.String("type", string(v.Type)),
		}
		if len(v.Decoded) > 0 {
			group = append(group, slog.Any("values", v.Decoded))
		} else {
			group = append(group, slog.Any("raw", v.Raw))
		}
		attrs = append(attrs, slog.Group(v.Label, group...))
	}

	s.logger.LogAttrs(ctx, s.level, "snapshot", attrs...)
	return nil
}

// Close is a no-op.
func (s *LogSink) Close() error {
	return nil
}

// Compile-time interface satisfaction check.
var _ Sink = (*LogSink)(nil)
