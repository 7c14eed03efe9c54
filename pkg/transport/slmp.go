package transport

import (
	"context"
	"fmt"
	"net"
	"strconv"
	"sync"
	"time"
)

// SLMPConfig configures an SLMPClient.
type SLMPConfig struct {
	// Route addresses the target station. Zero value means DefaultSLMPRoute.
	Route *SLMPRoute

	// MonitorTimeout is sent in each request as the PLC-side monitoring
	// timer. Zero derives it from the request's context deadline.
	MonitorTimeout time.Duration
}

// SLMPClient reads words from a MELSEC CPU over a 3E binary connection.
type SLMPClient struct {
	route          SLMPRoute
	monitorTimeout time.Duration

	mu   sync.Mutex
	conn net.Conn

	// dial is replaced in tests.
	dial func(ctx context.Context, network, addr string) (net.Conn, error)
}

// NewSLMPClient creates a client. It does not connect.
func NewSLMPClient(cfg SLMPConfig) *SLMPClient {
	route := DefaultSLMPRoute()
	if cfg.Route != nil {
		route = *cfg.Route
	}
	var d net.Dialer
	return &SLMPClient{
		route:          route,
		monitorTimeout: cfg.MonitorTimeout,
		dial:           d.DialContext,
	}
}

// Open connects to the PLC.
func (c *SLMPClient) Open(ctx context.Context, host string, port int) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.conn != nil {
		_ = c.conn.Close()
		c.conn = nil
	}

	conn, err := c.dial(ctx, "tcp", net.JoinHostPort(host, strconv.Itoa(port)))
	if err != nil {
		return err
	}
	c.conn = conn
	return nil
}

// ReadWords performs one batch read of count words starting at address.
func (c *SLMPClient) ReadWords(ctx context.Context, address string, count int) ([]uint16, error) {
	addr, err := ParseSLMPAddress(address)
	if err != nil {
		return nil, err
	}
	if count < 1 || count > slmpMaxWords {
		return nil, fmt.Errorf("%w: %d (must be 1-%d)", ErrInvalidCount, count, slmpMaxWords)
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if c.conn == nil {
		return nil, ErrNotOpen
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	timeout := c.monitorTimeout
	deadline, hasDeadline := ctx.Deadline()
	if timeout == 0 && hasDeadline {
		timeout = time.Until(deadline)
	}
	if hasDeadline {
		_ = c.conn.SetDeadline(deadline)
	} else {
		_ = c.conn.SetDeadline(time.Time{})
	}

	// Abort blocking I/O as soon as the context is cancelled.
	conn := c.conn
	stop := context.AfterFunc(ctx, func() {
		_ = conn.SetDeadline(time.Unix(1, 0))
	})
	defer stop()

	req := encodeBatchRead(c.route, monitoringTimer(timeout), addr, uint16(count))
	if _, err := conn.Write(req); err != nil {
		return nil, c.ctxErr(ctx, fmt.Errorf("write %s: %w", addr, err))
	}

	words, err := readBatchResponse(conn, count)
	if err != nil {
		return nil, c.ctxErr(ctx, fmt.Errorf("read %s: %w", addr, err))
	}
	return words, nil
}

// ctxErr prefers the context's error when the context caused the failure,
// so cancellation is not mistaken for a socket fault.
func (c *SLMPClient) ctxErr(ctx context.Context, err error) error {
	if cerr := ctx.Err(); cerr != nil {
		return fmt.Errorf("%w: %v", cerr, err)
	}
	return err
}

// Close closes the connection.
func (c *SLMPClient) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.conn == nil {
		return nil
	}
	err := c.conn.Close()
	c.conn = nil
	return err
}
