package persistence

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"
)

// StateVersion is the current version of the state file format.
const StateVersion = 1

// ErrUnsupportedVersion is returned for state files written by a newer
// format version.
var ErrUnsupportedVersion = errors.New("unsupported state file version")

// PollerState is the persisted runtime state of one poller process.
type PollerState struct {
	// Version is the state file format version.
	Version int `json:"version"`

	// SavedAt is when the state was last saved.
	SavedAt time.Time `json:"saved_at"`

	// Devices is keyed by device name.
	Devices map[string]DeviceState `json:"devices,omitempty"`
}

// DeviceState is the persisted state of one device.
type DeviceState struct {
	// Sequence is the last snapshot sequence number issued.
	Sequence uint64 `json:"sequence"`

	// LastSuccess is when the last read succeeded.
	LastSuccess time.Time `json:"last_success,omitempty"`
}

// Sequence returns the last sequence of the named device, or 0 when the
// state is nil or the device unknown.
func (p *PollerState) Sequence(device string) uint64 {
	if p == nil {
		return 0
	}
	return p.Devices[device].Sequence
}

// StateStore manages persistence of poller state to a JSON file.
type StateStore struct {
	mu   sync.Mutex
	path string

	// timeNow returns the current time. Defaults to time.Now.
	timeNow func() time.Time
}

// NewStateStore creates a new state store.
func NewStateStore(path string) *StateStore {
	return &StateStore{path: path, timeNow: time.Now}
}

// Path returns the state file path.
func (s *StateStore) Path() string {
	return s.path
}

// Save persists the state to disk. The file is replaced atomically so a
// crash mid-write leaves the previous state intact.
func (s *StateStore) Save(state *PollerState) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	// Ensure parent directory exists
	dir := filepath.Dir(s.path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return err
	}

	state.Version = StateVersion
	state.SavedAt = s.timeNow()

	data, err := json.MarshalIndent(state, "", "  ")
	if err != nil {
		return err
	}

	tmp, err := os.CreateTemp(dir, filepath.Base(s.path)+".*.tmp")
	if err != nil {
		return err
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	return os.Rename(tmp.Name(), s.path)
}

// Load reads the state from disk.
// Returns nil, nil if the file doesn't exist (empty state).
func (s *StateStore) Load() (*PollerState, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	data, err := os.ReadFile(s.path)
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	state := &PollerState{}
	if err := json.Unmarshal(data, state); err != nil {
		return nil, err
	}
	if state.Version > StateVersion {
		return nil, fmt.Errorf("%w: %d", ErrUnsupportedVersion, state.Version)
	}

	return state, nil
}

// Clear removes the state file.
func (s *StateStore) Clear() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	err := os.Remove(s.path)
	if os.IsNotExist(err) {
		return nil
	}
	return err
}
