package sink

import (
	"errors"
	"io"
	"os"
	"time"

	"github.com/fxamacker/cbor/v2"

	"github.com/plc-monitor/plcpoll-go/pkg/snapshot"
)

// Filter specifies criteria for filtering snapshots.
// Empty/nil fields match all snapshots for that criterion.
type Filter struct {
	// Device filters by exact device name.
	Device string

	// Label keeps only the value with this label in each snapshot.
	// Snapshots without it are skipped.
	Label string

	// TimeStart filters snapshots at or after this time.
	TimeStart *time.Time

	// TimeEnd filters snapshots before this time.
	TimeEnd *time.Time
}

// apply returns the snapshot reduced by the filter, or false if it does
// not match.
func (f *Filter) apply(s snapshot.RegisterSnapshot) (snapshot.RegisterSnapshot, bool) {
	if f.Device != "" && s.Device != f.Device {
		return s, false
	}
	if f.TimeStart != nil && s.Timestamp.Before(*f.TimeStart) {
		return s, false
	}
	if f.TimeEnd != nil && !s.Timestamp.Before(*f.TimeEnd) {
		return s, false
	}
	if f.Label != "" {
		v, ok := s.Lookup(f.Label)
		if !ok {
			return s, false
		}
		s.Values = []snapshot.Value{v}
	}
	return s, true
}

// Reader reads snapshots from a file written by FileSink.
// It provides an iterator interface for streaming large files.
type Reader struct {
	file    *os.File
	decoder *cbor.Decoder
	filter  Filter
}

// NewReader creates a Reader that reads all snapshots from the file.
func NewReader(path string) (*Reader, error) {
	return NewFilteredReader(path, Filter{})
}

// NewFilteredReader creates a Reader that reads snapshots matching the filter.
func NewFilteredReader(path string, filter Filter) (*Reader, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	return &Reader{
		file:    f,
		decoder: snapshot.NewDecoder(f),
		filter:  filter,
	}, nil
}

// Next returns the next snapshot that matches the filter.
// Returns io.EOF when no more snapshots are available.
func (r *Reader) Next() (snapshot.RegisterSnapshot, error) {
	for {
		var s snapshot.RegisterSnapshot
		if err := r.decoder.Decode(&s); err != nil {
			if errors.Is(err, io.EOF) {
				return snapshot.RegisterSnapshot{}, io.EOF
			}
			return snapshot.RegisterSnapshot{}, err
		}

		if out, ok := r.filter.apply(s); ok {
			return out, nil
		}
	}
}

// Close closes the underlying file.
func (r *Reader) Close() error {
	return r.file.Close()
}
