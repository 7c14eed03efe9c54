package session

import (
	"context"
	"errors"
	"syscall"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/plc-monitor/plcpoll-go/internal/simplc"
	"github.com/plc-monitor/plcpoll-go/pkg/config"
	"github.com/plc-monitor/plcpoll-go/pkg/fault"
	"github.com/plc-monitor/plcpoll-go/pkg/transport"
)

// ---------------------------------------------------------------------------
// stubClient
// ---------------------------------------------------------------------------

type stubClient struct{ mock.Mock }

func (c *stubClient) Open(ctx context.Context, host string, port int) error {
	return c.Called(host, port).Error(0)
}

func (c *stubClient) ReadWords(ctx context.Context, address string, count int) ([]uint16, error) {
	ret := c.Called(address, count)
	var words []uint16
	if ret.Get(0) != nil {
		words = ret.Get(0).([]uint16)
	}
	return words, ret.Error(1)
}

func (c *stubClient) Close() error { return c.Called().Error(0) }

var _ transport.Client = (*stubClient)(nil)

func testDevice() config.DeviceConfig {
	return config.DeviceConfig{
		Name:           "press-1",
		Host:           "10.0.0.5",
		Port:           5007,
		Protocol:       config.ProtocolSLMP,
		ReadTimeout:    time.Second,
		ConnectTimeout: time.Second,
		Registers: []config.RegisterBlock{
			{Address: "D100", Words: 2, Label: "count", Type: config.TypeUint16},
			{Address: "D200", Words: 2, Label: "temp", Type: config.TypeInt32},
		},
	}
}

func newTestSession(c *stubClient) *Session {
	s := New(Config{Device: testDevice(), Client: c})
	clock := time.Date(2026, 4, 1, 6, 0, 0, 0, time.UTC)
	s.timeNow = func() time.Time {
		now := clock
		clock = clock.Add(5 * time.Millisecond)
		return now
	}
	return s
}

func TestConnect(t *testing.T) {
	c := &stubClient{}
	c.On("Open", "10.0.0.5", 5007).Return(nil).Once()
	s := newTestSession(c)

	assert.Equal(t, StateDisconnected, s.State())
	require.NoError(t, s.Connect(context.Background()))
	assert.Equal(t, StateConnected, s.State())

	// Already connected; no second Open.
	require.NoError(t, s.Connect(context.Background()))
	c.AssertExpectations(t)
}

func TestConnectFailure(t *testing.T) {
	c := &stubClient{}
	c.On("Open", "10.0.0.5", 5007).Return(syscall.ECONNREFUSED)
	c.On("Close").Return(nil)
	s := newTestSession(c)

	err := s.Connect(context.Background())
	var cf *fault.ConnectionFault
	require.True(t, errors.As(err, &cf))
	assert.Equal(t, fault.KindRefused, cf.Kind)
	assert.Equal(t, fault.OpConnect, cf.Op)
	assert.Equal(t, "press-1", cf.Device)
	assert.Equal(t, StateDisconnected, s.State())
	assert.Equal(t, 1, s.ConsecutiveFailures())
}

func TestReadRegisters(t *testing.T) {
	c := &stubClient{}
	c.On("Open", mock.Anything, mock.Anything).Return(nil)
	c.On("ReadWords", "D100", 2).Return([]uint16{1, 2}, nil)
	c.On("ReadWords", "D200", 2).Return([]uint16{0xFFFF, 0xFFFF}, nil)
	s := newTestSession(c)
	require.NoError(t, s.Connect(context.Background()))

	snap, err := s.ReadRegisters(context.Background())
	require.NoError(t, err)

	assert.Equal(t, "press-1", snap.Device)
	assert.Equal(t, uint64(1), snap.Sequence)
	assert.NotEmpty(t, snap.ID)
	assert.Equal(t, time.Date(2026, 4, 1, 6, 0, 0, 0, time.UTC), snap.Timestamp)
	assert.Equal(t, 5*time.Millisecond, snap.Latency)
	require.Len(t, snap.Values, 2)
	assert.Equal(t, "count", snap.Values[0].Label)
	assert.Equal(t, []uint16{1, 2}, snap.Values[0].Raw)
	assert.Equal(t, []float64{-1}, snap.Values[1].Decoded)
	assert.Equal(t, snap.Timestamp, s.LastSuccess())

	snap, err = s.ReadRegisters(context.Background())
	require.NoError(t, err)
	assert.Equal(t, uint64(2), snap.Sequence)
}

func TestReadRegistersResumesSequence(t *testing.T) {
	c := &stubClient{}
	c.On("Open", mock.Anything, mock.Anything).Return(nil)
	c.On("ReadWords", mock.Anything, 2).Return([]uint16{1, 2}, nil)
	s := New(Config{Device: testDevice(), Client: c, ResumeSequence: 41})
	require.NoError(t, s.Connect(context.Background()))

	snap, err := s.ReadRegisters(context.Background())
	require.NoError(t, err)
	assert.Equal(t, uint64(42), snap.Sequence)
}

// Property: a fault mid-read leaves the session disconnected and produces
// no partial snapshot.
func TestReadRegistersFaultMidRead(t *testing.T) {
	c := &stubClient{}
	c.On("Open", mock.Anything, mock.Anything).Return(nil)
	c.On("ReadWords", "D100", 2).Return([]uint16{1, 2}, nil).Once()
	c.On("ReadWords", "D200", 2).Return(nil, context.DeadlineExceeded).Once()
	c.On("Close").Return(nil).Once()
	s := newTestSession(c)
	require.NoError(t, s.Connect(context.Background()))

	snap, err := s.ReadRegisters(context.Background())
	require.Error(t, err)
	assert.Empty(t, snap.Values)
	assert.Empty(t, snap.ID)

	var cf *fault.ConnectionFault
	require.True(t, errors.As(err, &cf))
	assert.Equal(t, fault.KindTimeout, cf.Kind)
	assert.Equal(t, fault.OpRead, cf.Op)
	assert.Contains(t, err.Error(), "block temp")

	assert.Equal(t, StateDisconnected, s.State())
	assert.Equal(t, 1, s.ConsecutiveFailures())
	assert.True(t, s.LastSuccess().IsZero())
	c.AssertExpectations(t)
}

func TestReadRegistersShortResponse(t *testing.T) {
	c := &stubClient{}
	c.On("Open", mock.Anything, mock.Anything).Return(nil)
	c.On("ReadWords", "D100", 2).Return([]uint16{1}, nil)
	c.On("Close").Return(nil)
	s := newTestSession(c)
	require.NoError(t, s.Connect(context.Background()))

	_, err := s.ReadRegisters(context.Background())
	assert.Equal(t, fault.KindProtocol, fault.Classify(err))
	assert.Equal(t, StateDisconnected, s.State())
}

func TestReadRegistersNotConnected(t *testing.T) {
	c := &stubClient{}
	s := newTestSession(c)

	_, err := s.ReadRegisters(context.Background())
	assert.ErrorIs(t, err, ErrNotConnected)
	c.AssertNotCalled(t, "ReadWords", mock.Anything, mock.Anything)
}

func TestReadRegistersBusy(t *testing.T) {
	c := &stubClient{}
	c.On("Open", mock.Anything, mock.Anything).Return(nil)
	entered := make(chan struct{})
	release := make(chan struct{})
	c.On("ReadWords", "D100", 2).Run(func(mock.Arguments) {
		close(entered)
		<-release
	}).Return([]uint16{1, 2}, nil).Once()
	c.On("ReadWords", "D200", 2).Return([]uint16{3, 4}, nil).Once()
	s := newTestSession(c)
	require.NoError(t, s.Connect(context.Background()))

	done := make(chan error, 1)
	go func() {
		_, err := s.ReadRegisters(context.Background())
		done <- err
	}()
	<-entered

	_, err := s.ReadRegisters(context.Background())
	assert.ErrorIs(t, err, ErrBusy)
	assert.Equal(t, StateConnected, s.State())

	close(release)
	require.NoError(t, <-done)
}

func TestDisconnectIdempotent(t *testing.T) {
	c := &stubClient{}
	c.On("Open", mock.Anything, mock.Anything).Return(nil)
	c.On("Close").Return(errors.New("already closed"))
	s := newTestSession(c)
	require.NoError(t, s.Connect(context.Background()))

	s.Disconnect()
	s.Disconnect()
	assert.Equal(t, StateDisconnected, s.State())
}

func TestNewClient(t *testing.T) {
	d := testDevice()
	assert.IsType(t, &transport.SLMPClient{}, NewClient(d))

	d.Protocol = config.ProtocolModbusTCP
	assert.IsType(t, &transport.ModbusClient{}, NewClient(d))
}

func TestSessionAgainstSimulatedPLC(t *testing.T) {
	mem := simplc.NewMemory()
	mem.Set("D", 100, 11, 22)
	mem.Set("D", 200, 0x0001, 0x0002)
	srv := simplc.NewSLMPServer(mem)
	require.NoError(t, srv.Start("127.0.0.1:0"))
	t.Cleanup(func() { _ = srv.Close() })

	d := testDevice()
	d.Host, d.Port = srv.HostPort()
	d.Registers[1].Type = config.TypeUint32
	s := New(Config{Device: d})

	require.NoError(t, s.Connect(context.Background()))
	snap, err := s.ReadRegisters(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []float64{11, 22}, snap.Values[0].Decoded)
	assert.Equal(t, []float64{0x00020001}, snap.Values[1].Decoded)

	srv.SetEndCode(0xC05B)
	_, err = s.ReadRegisters(context.Background())
	assert.Equal(t, fault.KindProtocol, fault.Classify(err))
	assert.Equal(t, StateDisconnected, s.State())

	s.Disconnect()
}
