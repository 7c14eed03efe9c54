package simplc

import (
	"encoding/binary"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/mokhae/mbserver"
)

const (
	fcReadCoils          = 0x01
	fcReadDiscreteInputs = 0x02
	fcReadHolding        = 0x03
	fcReadInput          = 0x04
	fcWriteSingleCoil    = 0x05
	fcWriteSingleReg     = 0x06
	fcWriteMultiCoils    = 0x0F
	fcWriteMultiRegs     = 0x10

	// ExceptionIllegalFunction is returned for unsupported function codes.
	ExceptionIllegalFunction byte = 0x01

	// ExceptionIllegalDataAddress is returned for reads past the table end.
	ExceptionIllegalDataAddress byte = 0x02

	// ExceptionIllegalDataValue is returned for a bad register count.
	ExceptionIllegalDataValue byte = 0x03
)

// ModbusServer is a simulated Modbus TCP server built on mbserver. Holding
// registers are served from the "HR" memory space, input registers from
// "IR". The simulator is read-only: bit tables and writes answer with an
// illegal function exception.
type ModbusServer struct {
	mem  *Memory
	srv  *mbserver.Server
	addr *net.TCPAddr

	exception atomic.Uint32
	served    atomic.Int64
	closed    atomic.Bool
	done      chan struct{}

	mu    sync.Mutex
	delay time.Duration
}

// NewModbusServer creates a server over mem. A nil mem starts empty.
func NewModbusServer(mem *Memory) *ModbusServer {
	if mem == nil {
		mem = NewMemory()
	}
	s := &ModbusServer{
		mem:  mem,
		srv:  mbserver.NewServer(true, 5*time.Second),
		done: make(chan struct{}),
	}
	s.srv.RegisterFunctionHandler(fcReadHolding, s.readRegisters("HR"))
	s.srv.RegisterFunctionHandler(fcReadInput, s.readRegisters("IR"))
	for _, fc := range []uint8{
		fcReadCoils, fcReadDiscreteInputs,
		fcWriteSingleCoil, fcWriteSingleReg, fcWriteMultiCoils, fcWriteMultiRegs,
	} {
		s.srv.RegisterFunctionHandler(fc, s.unsupported)
	}
	return s
}

// Start listens on addr ("127.0.0.1:0" picks a free port).
func (s *ModbusServer) Start(addr string) error {
	// mbserver does not report its listener, so resolve a free port first.
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return err
	}
	tcpAddr := ln.Addr().(*net.TCPAddr)
	if err := ln.Close(); err != nil {
		return err
	}

	if err := s.srv.ListenTCP(tcpAddr.String()); err != nil {
		return err
	}
	s.addr = tcpAddr
	return nil
}

// Addr returns the listen address.
func (s *ModbusServer) Addr() net.Addr {
	return s.addr
}

// HostPort returns the listen host and port.
func (s *ModbusServer) HostPort() (string, int) {
	return s.addr.IP.String(), s.addr.Port
}

// Memory returns the served memory.
func (s *ModbusServer) Memory() *Memory {
	return s.mem
}

// SetDelay delays every response by d.
func (s *ModbusServer) SetDelay(d time.Duration) {
	s.mu.Lock()
	s.delay = d
	s.mu.Unlock()
}

// SetException forces every response to be an exception with code. Zero
// restores normal operation.
func (s *ModbusServer) SetException(code byte) {
	s.exception.Store(uint32(code))
}

// Served returns the number of answered requests.
func (s *ModbusServer) Served() int64 {
	return s.served.Load()
}

// Close stops the listener.
func (s *ModbusServer) Close() error {
	if !s.closed.CompareAndSwap(false, true) {
		return nil
	}
	close(s.done)
	s.srv.Close()
	return nil
}

// wait sleeps for the configured delay or until the server closes.
func (s *ModbusServer) wait() {
	s.mu.Lock()
	d := s.delay
	s.mu.Unlock()
	if d <= 0 {
		return
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
	case <-s.done:
	}
}

func (s *ModbusServer) readRegisters(space string) func(*mbserver.Server, mbserver.Framer) ([]byte, *mbserver.Exception) {
	return func(_ *mbserver.Server, frame mbserver.Framer) ([]byte, *mbserver.Exception) {
		s.wait()
		defer s.served.Add(1)

		if code := byte(s.exception.Load()); code != 0 {
			return []byte{}, exception(code)
		}

		data := frame.GetData()
		if len(data) != 4 {
			return []byte{}, exception(ExceptionIllegalDataValue)
		}
		start := binary.BigEndian.Uint16(data)
		qty := int(binary.BigEndian.Uint16(data[2:]))
		if qty < 1 || qty > 125 {
			return []byte{}, exception(ExceptionIllegalDataValue)
		}
		if int(start)+qty > 0x10000 {
			return []byte{}, exception(ExceptionIllegalDataAddress)
		}

		words := s.mem.Get(space, uint32(start), qty)
		out := make([]byte, 1+2*qty)
		out[0] = byte(2 * qty)
		for i, w := range words {
			binary.BigEndian.PutUint16(out[1+2*i:], w)
		}
		return out, &mbserver.Success
	}
}

func (s *ModbusServer) unsupported(_ *mbserver.Server, _ mbserver.Framer) ([]byte, *mbserver.Exception) {
	defer s.served.Add(1)
	return []byte{}, exception(ExceptionIllegalFunction)
}

func exception(code byte) *mbserver.Exception {
	e := mbserver.Exception(code)
	return &e
}
