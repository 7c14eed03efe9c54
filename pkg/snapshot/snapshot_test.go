package snapshot

import (
	"bytes"
	"io"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/plc-monitor/plcpoll-go/pkg/config"
)

func TestDecode(t *testing.T) {
	tests := []struct {
		name  string
		typ   config.DataType
		words []uint16
		want  []float64
	}{
		{"uint16", config.TypeUint16, []uint16{0, 1, 0xFFFF}, []float64{0, 1, 65535}},
		{"default is uint16", "", []uint16{7}, []float64{7}},
		{"int16", config.TypeInt16, []uint16{0xFFFF, 0x8000, 5}, []float64{-1, -32768, 5}},
		{"uint32 low word first", config.TypeUint32, []uint16{0x0002, 0x0001}, []float64{65538}},
		{"int32", config.TypeInt32, []uint16{0xFFFE, 0xFFFF}, []float64{-2}},
		{"float32", config.TypeFloat32, []uint16{0x0000, 0x3FC0, 0x0000, 0xC020}, []float64{1.5, -2.5}},
		{"odd trailing word", config.TypeUint32, []uint16{1, 0, 9}, []float64{1}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Decode(tt.typ, tt.words))
		})
	}
}

func TestNewValue(t *testing.T) {
	block := config.RegisterBlock{Address: "D200", Words: 2, Label: "temp", Type: config.TypeInt32}
	v := NewValue(block, []uint16{0xFFF6, 0xFFFF})

	assert.Equal(t, "temp", v.Label)
	assert.Equal(t, "D200", v.Address)
	assert.Equal(t, config.TypeInt32, v.Type)
	assert.Equal(t, []uint16{0xFFF6, 0xFFFF}, v.Raw)
	assert.Equal(t, []float64{-10}, v.Decoded)
}

func TestNewID(t *testing.T) {
	a, b := NewID(), NewID()
	assert.NotEqual(t, a, b)
	_, err := uuid.Parse(a)
	assert.NoError(t, err)
}

func sample() RegisterSnapshot {
	return RegisterSnapshot{
		ID:        "5f0c1f7e-8a0f-4a57-9d5e-3c1b0e2f9a10",
		Device:    "press-1",
		Sequence:  42,
		Timestamp: time.Date(2026, 3, 2, 8, 30, 0, 123456789, time.UTC),
		Latency:   12 * time.Millisecond,
		Values: []Value{
			{Label: "count", Address: "D100", Type: config.TypeUint16, Raw: []uint16{3, 4}, Decoded: []float64{3, 4}},
			{Label: "speed", Address: "D200", Type: config.TypeFloat32, Raw: []uint16{0, 0x3FC0}, Decoded: []float64{1.5}},
		},
	}
}

func TestSnapshotCBORRoundTrip(t *testing.T) {
	original := sample()

	data, err := Encode(original)
	if err != nil {
		t.Fatalf("Encode failed: %v", err)
	}
	decoded, err := DecodeCBOR(data)
	if err != nil {
		t.Fatalf("DecodeCBOR failed: %v", err)
	}

	if !decoded.Timestamp.Equal(original.Timestamp) {
		t.Errorf("Timestamp: got %v, want %v", decoded.Timestamp, original.Timestamp)
	}
	decoded.Timestamp = original.Timestamp
	assert.Equal(t, original, decoded)

	v, ok := decoded.Lookup("speed")
	require.True(t, ok)
	assert.Equal(t, []float64{1.5}, v.Decoded)
	_, ok = decoded.Lookup("missing")
	assert.False(t, ok)
}

func TestStreamEncoding(t *testing.T) {
	var buf bytes.Buffer
	enc := NewEncoder(&buf)
	for i := uint64(1); i <= 3; i++ {
		s := sample()
		s.Sequence = i
		require.NoError(t, enc.Encode(s))
	}

	dec := NewDecoder(&buf)
	var seqs []uint64
	for {
		var s RegisterSnapshot
		err := dec.Decode(&s)
		if err == io.EOF {
			break
		}
		require.NoError(t, err)
		seqs = append(seqs, s.Sequence)
	}
	assert.Equal(t, []uint64{1, 2, 3}, seqs)
}
