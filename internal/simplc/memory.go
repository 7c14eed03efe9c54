package simplc

import (
	"math/rand"
	"sync"
)

// Memory is a sparse word memory shared by the simulated servers. Space
// names the device family ("D", "W", "HR", "IR", ...); unset words read as
// zero.
type Memory struct {
	mu    sync.RWMutex
	words map[string]map[uint32]uint16
}

// NewMemory creates an empty memory.
func NewMemory() *Memory {
	return &Memory{words: make(map[string]map[uint32]uint16)}
}

// Set writes consecutive words starting at start.
func (m *Memory) Set(space string, start uint32, values ...uint16) {
	m.mu.Lock()
	defer m.mu.Unlock()

	sp, ok := m.words[space]
	if !ok {
		sp = make(map[uint32]uint16)
		m.words[space] = sp
	}
	for i, v := range values {
		sp[start+uint32(i)] = v
	}
}

// Get reads count consecutive words starting at start.
func (m *Memory) Get(space string, start uint32, count int) []uint16 {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make([]uint16, count)
	sp := m.words[space]
	for i := range out {
		out[i] = sp[start+uint32(i)]
	}
	return out
}

// Jitter applies a bounded random walk to count words starting at start,
// imitating live process values.
func (m *Memory) Jitter(rng *rand.Rand, space string, start uint32, count int, step int) {
	m.mu.Lock()
	defer m.mu.Unlock()

	sp, ok := m.words[space]
	if !ok {
		sp = make(map[uint32]uint16)
		m.words[space] = sp
	}
	for i := 0; i < count; i++ {
		addr := start + uint32(i)
		delta := rng.Intn(2*step+1) - step
		sp[addr] = uint16(int(sp[addr]) + delta)
	}
}
