package transport

import (
	"bytes"
	"errors"
	"io"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/plc-monitor/plcpoll-go/pkg/fault"
)

func TestEncodeBatchRead(t *testing.T) {
	addr, err := ParseSLMPAddress("D100")
	require.NoError(t, err)

	got := encodeBatchRead(DefaultSLMPRoute(), 0x0010, addr, 3)
	want := []byte{
		0x50, 0x00, // subheader
		0x00,       // network
		0xFF,       // station
		0xFF, 0x03, // module I/O
		0x00,       // multidrop
		0x0C, 0x00, // data length
		0x10, 0x00, // monitoring timer
		0x01, 0x04, // command
		0x00, 0x00, // subcommand
		0x64, 0x00, 0x00, // device number
		0xA8,       // device code
		0x03, 0x00, // points
	}
	assert.Equal(t, want, got)
}

func TestMonitoringTimer(t *testing.T) {
	assert.Equal(t, uint16(0), monitoringTimer(0))
	assert.Equal(t, uint16(1), monitoringTimer(time.Millisecond))
	assert.Equal(t, uint16(4), monitoringTimer(time.Second))
	assert.Equal(t, uint16(5), monitoringTimer(1001*time.Millisecond))
	assert.Equal(t, uint16(0xFFFF), monitoringTimer(24*time.Hour))
}

func response(endCode uint16, data ...byte) []byte {
	length := 2 + len(data)
	b := []byte{0xD0, 0x00, 0x00, 0xFF, 0xFF, 0x03, 0x00, byte(length), byte(length >> 8), byte(endCode), byte(endCode >> 8)}
	return append(b, data...)
}

func TestReadBatchResponse(t *testing.T) {
	words, err := readBatchResponse(bytes.NewReader(response(0, 0x34, 0x12, 0xEF, 0xBE)), 2)
	require.NoError(t, err)
	assert.Equal(t, []uint16{0x1234, 0xBEEF}, words)
}

func TestReadBatchResponseErrors(t *testing.T) {
	t.Run("end code", func(t *testing.T) {
		_, err := readBatchResponse(bytes.NewReader(response(0xC056)), 1)
		var ec *SLMPEndCodeError
		require.True(t, errors.As(err, &ec))
		assert.Equal(t, uint16(0xC056), ec.Code)
		assert.Contains(t, err.Error(), "maximum device address")
		assert.Equal(t, fault.KindProtocol, fault.Classify(err))
	})

	t.Run("short data", func(t *testing.T) {
		_, err := readBatchResponse(bytes.NewReader(response(0, 0x01, 0x00)), 2)
		assert.ErrorIs(t, err, fault.ErrProtocol)
	})

	t.Run("bad subheader", func(t *testing.T) {
		frame := response(0, 0x01, 0x00)
		frame[0] = 0x50
		_, err := readBatchResponse(bytes.NewReader(frame), 1)
		assert.ErrorIs(t, err, fault.ErrProtocol)
	})

	t.Run("truncated", func(t *testing.T) {
		frame := response(0, 0x01, 0x00)
		_, err := readBatchResponse(bytes.NewReader(frame[:len(frame)-1]), 1)
		assert.ErrorIs(t, err, io.ErrUnexpectedEOF)
	})
}
