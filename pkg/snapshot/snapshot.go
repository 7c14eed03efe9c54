package snapshot

import (
	"math"
	"time"

	"github.com/google/uuid"

	"github.com/plc-monitor/plcpoll-go/pkg/config"
)

// RegisterSnapshot is the result of one complete read of a device's
// register map. CBOR encoding uses integer keys for compactness.
type RegisterSnapshot struct {
	// ID uniquely identifies the snapshot (UUID).
	ID string `cbor:"1,keyasint"`

	// Device is the configured device name.
	Device string `cbor:"2,keyasint"`

	// Sequence counts snapshots per device, starting at 1.
	Sequence uint64 `cbor:"3,keyasint"`

	// Timestamp is the wall-clock time the read started.
	Timestamp time.Time `cbor:"4,keyasint"`

	// Latency is the time the whole register map took to read.
	Latency time.Duration `cbor:"5,keyasint"`

	// Values holds one entry per register block in map order.
	Values []Value `cbor:"6,keyasint"`
}

// Value is the content of one register block.
type Value struct {
	Label   string          `cbor:"1,keyasint"`
	Address string          `cbor:"2,keyasint"`
	Type    config.DataType `cbor:"3,keyasint"`
	Raw     []uint16        `cbor:"4,keyasint"`
	Decoded []float64       `cbor:"5,keyasint,omitempty"`
}

// NewID returns a fresh snapshot identifier.
func NewID() string {
	return uuid.NewString()
}

// NewValue builds the Value for block from the words read.
func NewValue(block config.RegisterBlock, words []uint16) Value {
	return Value{
		Label:   block.Label,
		Address: block.Address,
		Type:    block.Type,
		Raw:     words,
		Decoded: Decode(block.Type, words),
	}
}

// Lookup returns the block with the given label.
func (s RegisterSnapshot) Lookup(label string) (Value, bool) {
	for _, v := range s.Values {
		if v.Label == label {
			return v, true
		}
	}
	return Value{}, false
}

// Decode converts raw words into numbers of type t. 32-bit types take two
// words, low word first. A trailing odd word of a 32-bit block is ignored.
func Decode(t config.DataType, words []uint16) []float64 {
	switch t {
	case config.TypeInt16:
		out := make([]float64, len(words))
		for i, w := range words {
			out[i] = float64(int16(w))
		}
		return out

	case config.TypeUint32, config.TypeInt32, config.TypeFloat32:
		out := make([]float64, len(words)/2)
		for i := range out {
			v := uint32(words[2*i]) | uint32(words[2*i+1])<<16
			switch t {
			case config.TypeInt32:
				out[i] = float64(int32(v))
			case config.TypeFloat32:
				out[i] = float64(math.Float32frombits(v))
			default:
				out[i] = float64(v)
			}
		}
		return out

	default:
		out := make([]float64, len(words))
		for i, w := range words {
			out[i] = float64(w)
		}
		return out
	}
}
