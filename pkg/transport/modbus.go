package transport

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/goburrow/modbus"

	"github.com/plc-monitor/plcpoll-go/pkg/fault"
)

// ModbusTable selects the register table of a Modbus address.
type ModbusTable uint8

const (
	// TableHolding is the holding register table (function code 3).
	TableHolding ModbusTable = iota

	// TableInput is the input register table (function code 4).
	TableInput
)

// String returns the address prefix for the table.
func (t ModbusTable) String() string {
	if t == TableInput {
		return "IR"
	}
	return "HR"
}

// modbusMaxRegisters is the per-request register limit of FC3/FC4.
const modbusMaxRegisters = 125

// defaultModbusTimeout bounds a request whose context has no deadline.
const defaultModbusTimeout = 5 * time.Second

// ModbusAddress is a parsed register address.
type ModbusAddress struct {
	Table  ModbusTable
	Offset uint16
}

// String formats the address with its table prefix.
func (a ModbusAddress) String() string {
	return fmt.Sprintf("%s%d", a.Table, a.Offset)
}

// ParseModbusAddress parses "HR<n>", "IR<n>" or a bare holding register
// offset.
func ParseModbusAddress(s string) (ModbusAddress, error) {
	in := strings.ToUpper(strings.TrimSpace(s))

	table := TableHolding
	switch {
	case strings.HasPrefix(in, "HR"):
		in = in[2:]
	case strings.HasPrefix(in, "IR"):
		table = TableInput
		in = in[2:]
	}

	n, err := strconv.ParseUint(in, 10, 16)
	if err != nil {
		return ModbusAddress{}, fmt.Errorf("%w: %q: bad register offset", ErrInvalidDevice, s)
	}
	return ModbusAddress{Table: table, Offset: uint16(n)}, nil
}

// ModbusConfig configures a ModbusClient.
type ModbusConfig struct {
	// UnitID is the Modbus unit (slave) identifier.
	UnitID byte
}

// ModbusClient reads registers from a Modbus TCP server.
//
// goburrow's handler takes no context and holds its own lock for a whole
// request, so requests run on a separate goroutine. A request whose context
// ends first is abandoned: the handler is detached and closed once the
// request returns, bounded by its timeout.
type ModbusClient struct {
	unitID byte

	mu      sync.Mutex
	handler *modbus.TCPClientHandler
	client  modbus.Client

	// inFlight is closed when the outstanding request returns.
	inFlight chan struct{}
}

// NewModbusClient creates a client. It does not connect.
func NewModbusClient(cfg ModbusConfig) *ModbusClient {
	return &ModbusClient{unitID: cfg.UnitID}
}

// Open connects to the server.
func (c *ModbusClient) Open(ctx context.Context, host string, port int) error {
	if old := c.release(); old != nil {
		_ = old.Close()
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	h := modbus.NewTCPClientHandler(net.JoinHostPort(host, strconv.Itoa(port)))
	h.SlaveId = c.unitID
	h.Timeout = timeoutFrom(ctx)
	// The session owns the connection lifetime; no idle auto-close.
	h.IdleTimeout = 0

	dialed := make(chan error, 1)
	go func() { dialed <- h.Connect() }()

	select {
	case err := <-dialed:
		if err != nil {
			return err
		}
	case <-ctx.Done():
		go func() {
			<-dialed
			_ = h.Close()
		}()
		return ctx.Err()
	}

	c.mu.Lock()
	c.handler = h
	c.client = modbus.NewClient(h)
	c.mu.Unlock()
	return nil
}

type modbusResult struct {
	raw []byte
	err error
}

// ReadWords reads count registers starting at address.
func (c *ModbusClient) ReadWords(ctx context.Context, address string, count int) ([]uint16, error) {
	addr, err := ParseModbusAddress(address)
	if err != nil {
		return nil, err
	}
	if count < 1 || count > modbusMaxRegisters {
		return nil, fmt.Errorf("%w: %d (must be 1-%d)", ErrInvalidCount, count, modbusMaxRegisters)
	}
	if int(addr.Offset)+count > 0x10000 {
		return nil, fmt.Errorf("%w: %s + %d overflows the register table", ErrInvalidDevice, addr, count)
	}

	c.mu.Lock()
	if c.handler == nil {
		c.mu.Unlock()
		return nil, ErrNotOpen
	}
	if c.inFlight != nil {
		c.mu.Unlock()
		return nil, ErrBusy
	}
	if err := ctx.Err(); err != nil {
		c.mu.Unlock()
		return nil, err
	}
	h, client := c.handler, c.client
	h.Timeout = timeoutFrom(ctx)
	done := make(chan struct{})
	c.inFlight = done
	c.mu.Unlock()

	res := make(chan modbusResult, 1)
	go func() {
		var r modbusResult
		switch addr.Table {
		case TableInput:
			r.raw, r.err = client.ReadInputRegisters(addr.Offset, uint16(count))
		default:
			r.raw, r.err = client.ReadHoldingRegisters(addr.Offset, uint16(count))
		}

		c.mu.Lock()
		if c.inFlight == done {
			c.inFlight = nil
		}
		c.mu.Unlock()
		close(done)
		res <- r
	}()

	var r modbusResult
	select {
	case r = <-res:
	case <-ctx.Done():
		c.abandon(h, done)
		return nil, fmt.Errorf("read %s: %w", addr, ctx.Err())
	}

	if r.err != nil {
		if cerr := ctx.Err(); cerr != nil {
			return nil, fmt.Errorf("%w: read %s: %v", cerr, addr, r.err)
		}
		return nil, fmt.Errorf("read %s: %w", addr, classifyModbusErr(r.err))
	}

	if len(r.raw) != count*2 {
		return nil, fmt.Errorf("%w: read %s: expected %d bytes, got %d", fault.ErrProtocol, addr, count*2, len(r.raw))
	}
	words := make([]uint16, count)
	for i := range words {
		words[i] = uint16(r.raw[2*i])<<8 | uint16(r.raw[2*i+1])
	}
	return words, nil
}

// abandon detaches h if it is still current and closes it once the request
// signalled on done returns.
func (c *ModbusClient) abandon(h *modbus.TCPClientHandler, done <-chan struct{}) {
	c.mu.Lock()
	if c.handler == h {
		c.handler, c.client, c.inFlight = nil, nil, nil
	}
	c.mu.Unlock()

	go func() {
		<-done
		_ = h.Close()
	}()
}

// release detaches the current handler. It returns the handler if it is
// idle and safe to close now; a busy handler is closed behind its request.
func (c *ModbusClient) release() *modbus.TCPClientHandler {
	c.mu.Lock()
	h, busy := c.handler, c.inFlight
	c.handler, c.client, c.inFlight = nil, nil, nil
	c.mu.Unlock()

	if h == nil {
		return nil
	}
	if busy != nil {
		go func() {
			<-busy
			_ = h.Close()
		}()
		return nil
	}
	return h
}

// Close closes the connection. It does not wait for an outstanding request.
func (c *ModbusClient) Close() error {
	h := c.release()
	if h == nil {
		return nil
	}
	return h.Close()
}

// timeoutFrom returns the time left until the context deadline.
func timeoutFrom(ctx context.Context) time.Duration {
	if dl, ok := ctx.Deadline(); ok {
		if d := time.Until(dl); d > 0 {
			return d
		}
		return time.Millisecond
	}
	return defaultModbusTimeout
}

// classifyModbusErr marks exception responses and frame validation errors
// as protocol errors. Socket errors pass through unchanged.
func classifyModbusErr(err error) error {
	var mbErr *modbus.ModbusError
	if errors.As(err, &mbErr) {
		return fmt.Errorf("%w: %v", fault.ErrProtocol, mbErr)
	}

	var netErr net.Error
	if errors.As(err, &netErr) || errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
		return err
	}

	// goburrow reports response validation failures as "modbus: ..." errors.
	if strings.HasPrefix(err.Error(), "modbus:") {
		return fmt.Errorf("%w: %v", fault.ErrProtocol, err)
	}
	return err
}
