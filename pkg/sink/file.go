package sink

import (
	"context"
	"os"
	"sync"

	"github.com/fxamacker/cbor/v2"

	"github.com/plc-monitor/plcpoll-go/pkg/snapshot"
)

// FileSink appends snapshots to a file as a CBOR stream.
// It is safe for concurrent use from multiple goroutines.
type FileSink struct {
	path    string
	file    *os.File
	encoder *cbor.Encoder
	mu      sync.Mutex
	closed  bool
}

// NewFileSink creates a FileSink that writes to the specified path.
// If the file exists, new snapshots are appended. The file is created with
// permissions 0644 if it doesn't exist.
func NewFileSink(path string) (*FileSink, error) {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0644)
	if err != nil {
		return nil, err
	}
	return &FileSink{
		path:    path,
		file:    f,
		encoder: snapshot.NewEncoder(f),
	}, nil
}

// Name returns "file:<path>".
func (s *FileSink) Name() string {
	return "file:" + s.path
}

// Write appends one snapshot.
func (s *FileSink) Write(ctx context.Context, snap snapshot.RegisterSnapshot) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return ErrClosed
	}
	return s.encoder.Encode(snap)
}

// Close closes the file.
// It is safe to call Close multiple times.
func (s *FileSink) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil
	}

	s.closed = true
	return s.file.Close()
}

// Compile-time interface satisfaction check.
var _ Sink = (*FileSink)(nil)
