package simplc

import (
	"encoding/binary"
	"io"
	"net"
	"sync/atomic"
)

const (
	slmpReqSubheader  = 0x0050
	slmpRespSubheader = 0x00D0
	slmpHeaderSize    = 9
	slmpCmdBatchRead  = 0x0401

	// EndCodeUnsupported is returned for commands other than batch word read.
	EndCodeUnsupported uint16 = 0xC059

	// EndCodeUnknownDevice is returned for an unsupported device code.
	EndCodeUnknownDevice uint16 = 0xC05B
)

// slmpSpaces maps binary device codes to Memory space names.
var slmpSpaces = map[byte]string{
	0xA8: "D",
	0xB4: "W",
	0xAF: "R",
	0xB0: "ZR",
	0xA9: "SD",
	0xB5: "SW",
	0xC2: "TN",
	0xC5: "CN",
	0xCC: "Z",
	0x90: "M",
	0x91: "SM",
	0x92: "L",
	0xA0: "B",
}

// SLMPServer is a simulated MELSEC CPU answering 3E binary frames.
type SLMPServer struct {
	*server
	endCode atomic.Uint32
}

// NewSLMPServer creates a server over mem. A nil mem starts empty.
func NewSLMPServer(mem *Memory) *SLMPServer {
	s := &SLMPServer{}
	s.server = newServer(mem, s.serve)
	return s
}

// SetEndCode forces every response to carry code. Zero restores normal
// operation.
func (s *SLMPServer) SetEndCode(code uint16) {
	s.endCode.Store(uint32(code))
}

func (s *SLMPServer) serve(srv *server, conn net.Conn) {
	var header [slmpHeaderSize]byte
	for {
		if _, err := io.ReadFull(conn, header[:]); err != nil {
			return
		}
		if binary.LittleEndian.Uint16(header[0:]) != slmpReqSubheader {
			return
		}
		body := make([]byte, binary.LittleEndian.Uint16(header[7:]))
		if _, err := io.ReadFull(conn, body); err != nil {
			return
		}

		code, data := s.execute(body)
		if !srv.wait() {
			return
		}

		resp := make([]byte, slmpHeaderSize+2+len(data))
		binary.LittleEndian.PutUint16(resp[0:], slmpRespSubheader)
		// Route fields are echoed from the request.
		copy(resp[2:7], header[2:7])
		binary.LittleEndian.PutUint16(resp[7:], uint16(2+len(data)))
		binary.LittleEndian.PutUint16(resp[9:], code)
		copy(resp[11:], data)

		if _, err := conn.Write(resp); err != nil {
			return
		}
		srv.served.Add(1)
	}
}

// execute runs one request body and returns the end code and response data.
func (s *SLMPServer) execute(body []byte) (uint16, []byte) {
	if forced := uint16(s.endCode.Load()); forced != 0 {
		return forced, nil
	}
	// timer(2) cmd(2) sub(2) number(3) code(1) count(2)
	if len(body) != 12 || binary.LittleEndian.Uint16(body[2:]) != slmpCmdBatchRead ||
		binary.LittleEndian.Uint16(body[4:]) != 0 {
		return EndCodeUnsupported, nil
	}
	number := uint32(body[6]) | uint32(body[7])<<8 | uint32(body[8])<<16
	space, ok := slmpSpaces[body[9]]
	if !ok {
		return EndCodeUnknownDevice, nil
	}
	count := int(binary.LittleEndian.Uint16(body[10:]))

	words := s.mem.Get(space, number, count)
	data := make([]byte, 2*count)
	for i, w := range words {
		binary.LittleEndian.PutUint16(data[2*i:], w)
	}
	return 0, data
}
