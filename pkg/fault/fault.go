package fault

import (
	"context"
	"errors"
	"fmt"
	"net"
	"os"
	"syscall"
)

// ErrProtocol marks a response the peer sent but that could not be accepted:
// a non-zero SLMP end code, a Modbus exception, or a malformed frame.
// Transport implementations wrap their protocol errors with it.
var ErrProtocol = errors.New("protocol error")

// Kind classifies a connection fault. The reconnect supervisor uses it to
// select the backoff step.
type Kind uint8

const (
	// KindUnknown is any fault that matches no other class.
	KindUnknown Kind = iota

	// KindTimeout is a connect, read or write that exceeded its deadline.
	KindTimeout

	// KindRefused is a connection actively refused by the peer.
	KindRefused

	// KindProtocol is a reply the peer sent that was rejected.
	KindProtocol
)

// String returns the kind name used in logs.
func (k Kind) String() string {
	switch k {
	case KindTimeout:
		return "timeout"
	case KindRefused:
		return "refused"
	case KindProtocol:
		return "protocol-error"
	default:
		return "unknown"
	}
}

// Op names the transport operation that failed.
type Op string

const (
	OpConnect Op = "connect"
	OpRead    Op = "read"
)

// ConnectionFault is the error produced by a failed transport operation.
type ConnectionFault struct {
	Kind   Kind
	Op     Op
	Device string
	Err    error
}

func (f *ConnectionFault) Error() string {
	if f.Device == "" {
		return fmt.Sprintf("%s %s: %v", f.Op, f.Kind, f.Err)
	}
	return fmt.Sprintf("%s: %s %s: %v", f.Device, f.Op, f.Kind, f.Err)
}

func (f *ConnectionFault) Unwrap() error { return f.Err }

// New wraps err as a ConnectionFault for device and op. If err already is
// a ConnectionFault its classification is preserved.
func New(device string, op Op, err error) *ConnectionFault {
	var cf *ConnectionFault
	if errors.As(err, &cf) {
		return &ConnectionFault{Kind: cf.Kind, Op: op, Device: device, Err: cf.Err}
	}
	return &ConnectionFault{Kind: Classify(err), Op: op, Device: device, Err: err}
}

// Classify maps a transport error to a fault kind.
func Classify(err error) Kind {
	if err == nil {
		return KindUnknown
	}

	var cf *ConnectionFault
	if errors.As(err, &cf) {
		return cf.Kind
	}
	if errors.Is(err, ErrProtocol) {
		return KindProtocol
	}
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, os.ErrDeadlineExceeded) {
		return KindTimeout
	}
	if errors.Is(err, syscall.ECONNREFUSED) {
		return KindRefused
	}

	var ne net.Error
	if errors.As(err, &ne) && ne.Timeout() {
		return KindTimeout
	}
	return KindUnknown
}

// SinkFault is a failed write to the downstream sink.
type SinkFault struct {
	Sink string
	Err  error
}

func (f *SinkFault) Error() string {
	return fmt.Sprintf("sink %s: %v", f.Sink, f.Err)
}

func (f *SinkFault) Unwrap() error { return f.Err }

// Timeout reports whether the sink write ran out of time.
func (f *SinkFault) Timeout() bool {
	return errors.Is(f.Err, context.DeadlineExceeded)
}
