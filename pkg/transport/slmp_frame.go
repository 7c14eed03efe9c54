package transport

import (
	"encoding/binary"
	"fmt"
	"io"
	"time"

	"github.com/plc-monitor/plcpoll-go/pkg/fault"
)

// 3E binary frame constants.
const (
	slmpRequestSubheader  = 0x0050
	slmpResponseSubheader = 0x00D0

	// slmpHeaderSize covers subheader through the data length field.
	slmpHeaderSize = 9

	// slmpCmdBatchRead is "Device Read" (batch, word units).
	slmpCmdBatchRead    = 0x0401
	slmpSubcmdWordUnits = 0x0000

	// slmpMaxWords is the 3E batch read limit in word units.
	slmpMaxWords = 960

	// slmpTimerUnit is the resolution of the monitoring timer.
	slmpTimerUnit = 250 * time.Millisecond
)

// SLMPRoute addresses the target station of a 3E frame. The zero value is
// not valid; use DefaultSLMPRoute for a directly connected CPU.
type SLMPRoute struct {
	Network   byte
	Station   byte
	ModuleIO  uint16
	Multidrop byte
}

// DefaultSLMPRoute addresses the CPU the Ethernet port belongs to.
func DefaultSLMPRoute() SLMPRoute {
	return SLMPRoute{Network: 0x00, Station: 0xFF, ModuleIO: 0x03FF, Multidrop: 0x00}
}

// slmpEndCodes describes the end codes most often returned by iQ-F CPUs.
var slmpEndCodes = map[uint16]string{
	0xC050: "ASCII data could not be converted to binary",
	0xC051: "number of read/write points out of range",
	0xC052: "number of read/write points out of range",
	0xC053: "number of read/write points out of range",
	0xC054: "number of read/write points out of range",
	0xC056: "request exceeds the maximum device address",
	0xC058: "request data length mismatch after conversion",
	0xC059: "command or subcommand not supported",
	0xC05B: "CPU cannot read or write the specified device",
	0xC05C: "request content error",
	0xC05F: "request cannot be executed on the target station",
	0xC060: "request content error in bit data",
	0xC061: "request data length mismatch",
	0xCEE1: "request message size out of range",
}

// SLMPEndCodeError is a non-zero end code returned by the PLC.
type SLMPEndCodeError struct {
	Code uint16
}

func (e *SLMPEndCodeError) Error() string {
	if desc, ok := slmpEndCodes[e.Code]; ok {
		return fmt.Sprintf("slmp end code 0x%04X: %s", e.Code, desc)
	}
	return fmt.Sprintf("slmp end code 0x%04X", e.Code)
}

// Unwrap lets fault.Classify recognize end codes as protocol errors.
func (e *SLMPEndCodeError) Unwrap() error { return fault.ErrProtocol }

// monitoringTimer converts a timeout to the frame's 250 ms units.
// Zero means the PLC waits indefinitely.
func monitoringTimer(timeout time.Duration) uint16 {
	if timeout <= 0 {
		return 0
	}
	units := (timeout + slmpTimerUnit - 1) / slmpTimerUnit
	if units > 0xFFFF {
		return 0xFFFF
	}
	return uint16(units)
}

// encodeBatchRead builds a 3E batch word read request.
func encodeBatchRead(route SLMPRoute, timer uint16, addr SLMPAddress, count uint16) []byte {
	frame := make([]byte, 21)
	binary.LittleEndian.PutUint16(frame[0:], slmpRequestSubheader)
	frame[2] = route.Network
	frame[3] = route.Station
	binary.LittleEndian.PutUint16(frame[4:], route.ModuleIO)
	frame[6] = route.Multidrop
	// Data length counts from the monitoring timer to the end of the frame.
	binary.LittleEndian.PutUint16(frame[7:], uint16(len(frame)-slmpHeaderSize))
	binary.LittleEndian.PutUint16(frame[9:], timer)
	binary.LittleEndian.PutUint16(frame[11:], slmpCmdBatchRead)
	binary.LittleEndian.PutUint16(frame[13:], slmpSubcmdWordUnits)
	frame[15] = byte(addr.Number)
	frame[16] = byte(addr.Number >> 8)
	frame[17] = byte(addr.Number >> 16)
	frame[18] = addr.Device.Code
	binary.LittleEndian.PutUint16(frame[19:], count)
	return frame
}

// readBatchResponse reads one 3E response and returns count words.
func readBatchResponse(r io.Reader, count int) ([]uint16, error) {
	var header [slmpHeaderSize]byte
	if _, err := io.ReadFull(r, header[:]); err != nil {
		return nil, err
	}
	if sub := binary.LittleEndian.Uint16(header[0:]); sub != slmpResponseSubheader {
		return nil, fmt.Errorf("%w: bad response subheader 0x%04X", fault.ErrProtocol, sub)
	}

	length := int(binary.LittleEndian.Uint16(header[7:]))
	if length < 2 {
		return nil, fmt.Errorf("%w: response data length %d", fault.ErrProtocol, length)
	}

	body := make([]byte, length)
	if _, err := io.ReadFull(r, body); err != nil {
		return nil, err
	}

	if code := binary.LittleEndian.Uint16(body[0:]); code != 0 {
		return nil, &SLMPEndCodeError{Code: code}
	}

	data := body[2:]
	if len(data) != count*2 {
		return nil, fmt.Errorf("%w: expected %d data bytes, got %d", fault.ErrProtocol, count*2, len(data))
	}

	words := make([]uint16, count)
	for i := range words {
		words[i] = binary.LittleEndian.Uint16(data[i*2:])
	}
	return words, nil
}
