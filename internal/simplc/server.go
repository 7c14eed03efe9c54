package simplc

import (
	"errors"
	"net"
	"strconv"
	"sync"
	"sync/atomic"
	"time"
)

// connHandler serves one accepted connection until it returns.
type connHandler func(s *server, conn net.Conn)

// server is the TCP listener of the SLMP simulator: connection tracking
// and fault injection.
type server struct {
	mem     *Memory
	handle  connHandler
	ln      net.Listener
	done    chan struct{}
	wg      sync.WaitGroup
	closed  atomic.Bool
	served  atomic.Int64
	accepts atomic.Int64

	mu    sync.Mutex
	conns map[net.Conn]struct{}
	delay time.Duration
}

func newServer(mem *Memory, h connHandler) *server {
	if mem == nil {
		mem = NewMemory()
	}
	return &server{
		mem:    mem,
		handle: h,
		done:   make(chan struct{}),
		conns:  make(map[net.Conn]struct{}),
	}
}

// Start listens on addr ("127.0.0.1:0" picks a free port).
func (s *server) Start(addr string) error {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return err
	}
	s.ln = ln
	s.wg.Add(1)
	go s.acceptLoop()
	return nil
}

func (s *server) acceptLoop() {
	defer s.wg.Done()
	for {
		conn, err := s.ln.Accept()
		if err != nil {
			return
		}
		s.accepts.Add(1)

		s.mu.Lock()
		s.conns[conn] = struct{}{}
		s.mu.Unlock()

		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			defer s.forget(conn)
			s.handle(s, conn)
		}()
	}
}

func (s *server) forget(conn net.Conn) {
	_ = conn.Close()
	s.mu.Lock()
	delete(s.conns, conn)
	s.mu.Unlock()
}

// Addr returns the listen address.
func (s *server) Addr() net.Addr {
	return s.ln.Addr()
}

// HostPort returns the listen host and port.
func (s *server) HostPort() (string, int) {
	host, portStr, _ := net.SplitHostPort(s.ln.Addr().String())
	port, _ := strconv.Atoi(portStr)
	return host, port
}

// Memory returns the served memory.
func (s *server) Memory() *Memory {
	return s.mem
}

// SetDelay delays every response by d.
func (s *server) SetDelay(d time.Duration) {
	s.mu.Lock()
	s.delay = d
	s.mu.Unlock()
}

// wait sleeps for the configured delay. It returns false if the server
// closed meanwhile.
func (s *server) wait() bool {
	s.mu.Lock()
	d := s.delay
	s.mu.Unlock()
	if d <= 0 {
		return true
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return true
	case <-s.done:
		return false
	}
}

// DropConnections closes every open connection. The listener keeps
// accepting.
func (s *server) DropConnections() {
	s.mu.Lock()
	defer s.mu.Unlock()
	for c := range s.conns {
		_ = c.Close()
	}
}

// Served returns the number of answered requests.
func (s *server) Served() int64 {
	return s.served.Load()
}

// Accepted returns the number of accepted connections.
func (s *server) Accepted() int64 {
	return s.accepts.Load()
}

// Close stops the listener, drops every connection and waits for the
// handlers to exit.
func (s *server) Close() error {
	if !s.closed.CompareAndSwap(false, true) {
		return nil
	}
	close(s.done)
	err := s.ln.Close()
	s.DropConnections()
	s.wg.Wait()
	if errors.Is(err, net.ErrClosed) {
		return nil
	}
	return err
}
