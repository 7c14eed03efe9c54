package transport

import (
	"context"
	"errors"
)

// Transport errors.
var (
	ErrNotOpen       = errors.New("transport not open")
	ErrInvalidCount  = errors.New("invalid word count")
	ErrInvalidDevice = errors.New("invalid device address")
	ErrBusy          = errors.New("request in progress")
)

// Client is the boundary between a device session and the wire protocol.
// Implemented by SLMPClient and ModbusClient.
type Client interface {
	// Open connects to host:port. The context deadline bounds the dial.
	// Opening an already open client closes the old connection first.
	Open(ctx context.Context, host string, port int) error

	// ReadWords reads count 16-bit words starting at address.
	ReadWords(ctx context.Context, address string, count int) ([]uint16, error)

	// Close releases the connection. Closing a closed client is a no-op.
	Close() error
}

// Compile-time interface satisfaction checks.
var (
	_ Client = (*SLMPClient)(nil)
	_ Client = (*ModbusClient)(nil)
)
