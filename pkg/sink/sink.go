package sink

import (
	"context"
	"errors"
	"fmt"

	"github.com/plc-monitor/plcpoll-go/pkg/snapshot"
)

// ErrClosed is returned by writes to a closed sink.
var ErrClosed = errors.New("sink closed")

// Sink is the downstream consumer of register snapshots.
type Sink interface {
	// Write stores or forwards one snapshot. The context bounds the write.
	Write(ctx context.Context, s snapshot.RegisterSnapshot) error

	// Close releases the sink. It is safe to call Close multiple times.
	Close() error
}

// Namer is implemented by sinks that report a name for logs and faults.
type Namer interface {
	Name() string
}

// Name returns the sink's name, or its type if it has none.
func Name(s Sink) string {
	if n, ok := s.(Namer); ok {
		return n.Name()
	}
	return fmt.Sprintf("%T", s)
}
