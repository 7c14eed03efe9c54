package connection

import (
	"math/rand"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/plc-monitor/plcpoll-go/pkg/config"
	"github.com/plc-monitor/plcpoll-go/pkg/fault"
)

func noJitter(base, max time.Duration) config.BackoffPolicy {
	return config.BackoffPolicy{BaseDelay: base, MaxDelay: max, MaxExponent: 16, Jitter: -1}
}

func TestBackoff(t *testing.T) {
	t.Run("DefaultSequence", func(t *testing.T) {
		b := NewBackoff(noJitter(0, 0))

		// 2s, 4s, ... until the 60s default maximum.
		expected := []time.Duration{
			2 * time.Second,
			4 * time.Second,
			8 * time.Second,
			16 * time.Second,
			32 * time.Second,
			60 * time.Second,
			60 * time.Second, // Should stay at max
		}

		if b.Current() != config.DefaultBaseDelay {
			t.Errorf("initial Current() = %v, want %v", b.Current(), config.DefaultBaseDelay)
		}
		for i, exp := range expected {
			if got := b.Advance(1); got != exp {
				t.Errorf("Advance %d = %v, want %v", i+1, got, exp)
			}
		}
	})

	t.Run("NonDecreasingUntilCapped", func(t *testing.T) {
		b := NewBackoff(noJitter(300*time.Millisecond, 45*time.Second))

		prev := b.Current()
		capped := false
		for i := 0; i < 40; i++ {
			d := b.Advance(1)
			if d < prev {
				t.Fatalf("delay decreased at attempt %d: %v < %v", i+1, d, prev)
			}
			if d > 45*time.Second {
				t.Fatalf("delay %v exceeds max", d)
			}
			if capped && d != 45*time.Second {
				t.Fatalf("delay left the cap at attempt %d: %v", i+1, d)
			}
			capped = d == 45*time.Second
			prev = d
		}
		assert.True(t, capped)
	})

	t.Run("ResetReturnsToBase", func(t *testing.T) {
		b := NewBackoff(noJitter(time.Second, 30*time.Second))
		for i := 0; i < 5; i++ {
			b.Advance(1)
		}
		require.Greater(t, b.Current(), time.Second)

		b.Reset()
		assert.Equal(t, time.Second, b.Current())
		assert.Equal(t, 0, b.Attempts())
	})

	t.Run("SixFailuresCapAtMax", func(t *testing.T) {
		b := NewBackoff(noJitter(time.Second, 30*time.Second))
		var d time.Duration
		for i := 0; i < 6; i++ {
			d = b.Advance(1)
		}
		assert.Equal(t, 30*time.Second, d)
		assert.Equal(t, 30*time.Second, BaseDelay(noJitter(time.Second, 30*time.Second), 6))
	})

	t.Run("ExponentSaturates", func(t *testing.T) {
		p := config.BackoffPolicy{BaseDelay: time.Nanosecond, MaxDelay: time.Hour, MaxExponent: 3, Jitter: -1}
		b := NewBackoff(p)
		for i := 0; i < 100; i++ {
			b.Advance(2)
		}
		assert.Equal(t, 3, b.Attempts())
		assert.Equal(t, 8*time.Nanosecond, b.Current())
	})

	t.Run("NoOverflow", func(t *testing.T) {
		p := config.BackoffPolicy{BaseDelay: time.Hour, MaxDelay: 1000 * time.Hour, MaxExponent: 62, Jitter: -1}
		for _, a := range []int{10, 30, 61, 62, 1000} {
			assert.Equal(t, 1000*time.Hour, BaseDelay(p, a), "attempt %d", a)
		}
	})

	t.Run("JitterBounds", func(t *testing.T) {
		p := config.BackoffPolicy{BaseDelay: time.Second, MaxDelay: time.Minute, MaxExponent: 16, Jitter: 0.2}
		b := NewBackoff(p)
		b.SetRand(rand.New(rand.NewSource(7)))

		seen := make(map[time.Duration]bool)
		for i := 0; i < 50; i++ {
			b.Reset()
			d := b.Advance(1)
			if d < 1600*time.Millisecond || d > 2400*time.Millisecond {
				t.Fatalf("jittered delay %v outside [1.6s, 2.4s]", d)
			}
			seen[d] = true
		}
		assert.Greater(t, len(seen), 1, "jitter should vary")
		assert.InDelta(t, float64(2400*time.Millisecond), float64(b.JitterBound(2*time.Second)), 1)
	})
}

func TestStep(t *testing.T) {
	assert.Equal(t, 2, Step(fault.KindProtocol))
	assert.Equal(t, 1, Step(fault.KindTimeout))
	assert.Equal(t, 1, Step(fault.KindRefused))
	assert.Equal(t, 1, Step(fault.KindUnknown))
}

func TestSupervisorStates(t *testing.T) {
	now := time.Date(2026, 5, 1, 12, 0, 0, 0, time.UTC)
	s := NewSupervisor(noJitter(time.Second, 30*time.Second))

	var mu sync.Mutex
	var transitions []string
	s.OnStateChange(func(oldState, newState State) {
		mu.Lock()
		transitions = append(transitions, oldState.String()+">"+newState.String())
		mu.Unlock()
	})

	assert.Equal(t, StateDisconnected, s.State())
	assert.False(t, s.Due(now))

	s.Start(now)
	assert.Equal(t, StateBackoff, s.State())
	assert.True(t, s.Due(now), "fresh start connects immediately")

	require.NoError(t, s.BeginConnect(now))
	assert.Equal(t, StateConnecting, s.State())
	assert.ErrorIs(t, s.BeginConnect(now), ErrNotDue)

	require.True(t, s.ConnectSucceeded())
	assert.True(t, s.IsConnected())
	assert.Equal(t, 0, s.Attempts())

	d := s.ConnectionLost(now, fault.KindTimeout)
	assert.Equal(t, 2*time.Second, d)
	assert.Equal(t, StateBackoff, s.State())
	assert.Equal(t, now.Add(2*time.Second), s.NextAttempt())
	assert.Equal(t, fault.KindTimeout, s.LastFault())
	assert.False(t, s.Due(now.Add(time.Second)))
	assert.True(t, s.Due(now.Add(2*time.Second)))

	// Not connected; ignored.
	assert.Zero(t, s.ConnectionLost(now, fault.KindTimeout))

	assert.Equal(t, []string{
		"DISCONNECTED>BACKOFF",
		"BACKOFF>CONNECTING",
		"CONNECTING>CONNECTED",
		"CONNECTED>DISCONNECTED",
		"DISCONNECTED>BACKOFF",
	}, transitions)
}

func TestSupervisorProtocolErrorsBackOffFaster(t *testing.T) {
	now := time.Unix(0, 0)
	s := NewSupervisor(noJitter(time.Second, time.Hour))
	s.Start(now)

	require.NoError(t, s.BeginConnect(now))
	assert.Equal(t, 4*time.Second, s.ConnectFailed(now, fault.KindProtocol))
	assert.Equal(t, 2, s.Attempts())

	now = s.NextAttempt()
	require.NoError(t, s.BeginConnect(now))
	assert.Equal(t, 8*time.Second, s.ConnectFailed(now, fault.KindRefused))
}

// Property: failing the first N connects then succeeding reaches Connected
// within the sum of the first N delays, and the counter is 0 afterwards.
func TestSupervisorRecoversWithinBackoffSum(t *testing.T) {
	const failures = 5
	p := config.BackoffPolicy{BaseDelay: time.Second, MaxDelay: 20 * time.Second, MaxExponent: 16, Jitter: 0.2}

	start := time.Date(2026, 5, 1, 0, 0, 0, 0, time.UTC)
	now := start
	s := NewSupervisor(p)
	s.Backoff().SetRand(rand.New(rand.NewSource(42)))

	var reconnects []time.Duration
	s.OnReconnecting(func(attempt int, delay time.Duration) {
		reconnects = append(reconnects, delay)
	})

	s.Start(now)
	connects := 0
	for !s.IsConnected() {
		require.Less(t, connects, failures+1, "too many connect attempts")
		if !s.Due(now) {
			now = s.NextAttempt()
			continue
		}
		require.NoError(t, s.BeginConnect(now))
		connects++
		if connects <= failures {
			s.ConnectFailed(now, fault.KindRefused)
		} else {
			require.True(t, s.ConnectSucceeded())
		}
	}

	var bound time.Duration
	for a := 1; a <= failures; a++ {
		bound += s.Backoff().JitterBound(BaseDelay(p, a))
	}

	assert.Equal(t, failures+1, connects)
	assert.Len(t, reconnects, failures)
	assert.LessOrEqual(t, now.Sub(start), bound)
	assert.Equal(t, 0, s.Attempts())
	assert.Equal(t, time.Second, s.Backoff().Current())
}

func TestSupervisorDisableEnable(t *testing.T) {
	now := time.Unix(100, 0)
	s := NewSupervisor(noJitter(time.Second, time.Minute))
	s.Start(now)
	require.NoError(t, s.BeginConnect(now))

	assert.Equal(t, StateConnecting, s.Disable())
	assert.Equal(t, StateDisabled, s.State())
	assert.False(t, s.ConnectSucceeded(), "connect finishing after disable is rejected")
	assert.Zero(t, s.ConnectFailed(now, fault.KindTimeout))
	assert.ErrorIs(t, s.BeginConnect(now), ErrDisabled)
	assert.False(t, s.Due(now.Add(time.Hour)))

	later := now.Add(time.Minute)
	s.Enable(later)
	assert.Equal(t, StateBackoff, s.State())
	assert.True(t, s.Due(later))
	assert.Equal(t, 0, s.Attempts())
}

func TestStateString(t *testing.T) {
	tests := []struct {
		state State
		want  string
	}{
		{StateDisconnected, "DISCONNECTED"},
		{StateBackoff, "BACKOFF"},
		{StateConnecting, "CONNECTING"},
		{StateConnected, "CONNECTED"},
		{StateDisabled, "DISABLED"},
		{State(99), "UNKNOWN"},
	}
	for _, tt := range tests {
		if got := tt.state.String(); got != tt.want {
			t.Errorf("State(%d).String() = %q, want %q", tt.state, got, tt.want)
		}
	}
}
