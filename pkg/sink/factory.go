package sink

import (
	"fmt"
	"log/slog"

	"github.com/plc-monitor/plcpoll-go/pkg/config"
)

// New builds the sink described by cfg. A nil logger falls back to
// slog.Default for log sinks.
func New(cfg config.SinkConfig, logger *slog.Logger) (Sink, error) {
	switch cfg.Type {
	case config.SinkLog:
		if logger == nil {
			logger = slog.Default()
		}
		return NewLogSink(logger), nil
	case config.SinkFile:
		return NewFileSink(cfg.Path)
	case config.SinkSQLite:
		return NewSQLiteSink(cfg.Path)
	case config.SinkHTTP:
		return NewHTTPSink(HTTPConfig{URL: cfg.URL, CAFile: cfg.CAFile})
	default:
		return nil, fmt.Errorf("unknown sink type %q", cfg.Type)
	}
}

// Open builds every configured sink. More than one sink is wrapped in a
// MultiSink. Sinks already opened are closed if a later one fails.
func Open(cfgs []config.SinkConfig, logger *slog.Logger) (Sink, error) {
	sinks := make([]Sink, 0, len(cfgs))
	for i, c := range cfgs {
		s, err := New(c, logger)
		if err != nil {
			for _, opened := range sinks {
				_ = opened.Close()
			}
			return nil, fmt.Errorf("sinks[%d]: %w", i, err)
		}
		sinks = append(sinks, s)
	}

	switch len(sinks) {
	case 0:
		return nil, fmt.Errorf("no sinks configured")
	case 1:
		return sinks[0], nil
	default:
		return NewMultiSink(sinks...), nil
	}
}
