package connection

import (
	"math/rand"
	"sync"
	"time"

	"github.com/plc-monitor/plcpoll-go/pkg/config"
	"github.com/plc-monitor/plcpoll-go/pkg/fault"
)

// Backoff calculates exponential backoff delays with jitter.
type Backoff struct {
	mu sync.Mutex

	// Configuration
	base        time.Duration
	max         time.Duration
	maxExponent int
	jitter      float64

	// Attempt counter, the exponent of the current delay
	attempt int

	// Random source for jitter
	rng *rand.Rand
}

// NewBackoff creates a backoff calculator for the policy. Zero fields take
// the config package defaults; a negative jitter disables jitter.
func NewBackoff(p config.BackoffPolicy) *Backoff {
	p = normalize(p)
	return &Backoff{
		base:        p.BaseDelay,
		max:         p.MaxDelay,
		maxExponent: p.MaxExponent,
		jitter:      p.Jitter,
		rng:         rand.New(rand.NewSource(time.Now().UnixNano())),
	}
}

func normalize(p config.BackoffPolicy) config.BackoffPolicy {
	if p.BaseDelay <= 0 {
		p.BaseDelay = config.DefaultBaseDelay
	}
	if p.MaxDelay <= 0 {
		p.MaxDelay = config.DefaultMaxDelay
	}
	if p.MaxDelay < p.BaseDelay {
		p.MaxDelay = p.BaseDelay
	}
	if p.MaxExponent <= 0 {
		p.MaxExponent = config.DefaultMaxExponent
	}
	if p.Jitter == 0 {
		p.Jitter = config.DefaultJitter
	}
	if p.Jitter < 0 {
		p.Jitter = 0
	}
	return p
}

// BaseDelay returns min(MaxDelay, BaseDelay * 2^attempt) for the policy.
// It never overflows.
func BaseDelay(p config.BackoffPolicy, attempt int) time.Duration {
	p = normalize(p)
	if attempt <= 0 {
		return p.BaseDelay
	}
	if attempt > p.MaxExponent {
		attempt = p.MaxExponent
	}
	if attempt >= 62 || p.BaseDelay > p.MaxDelay>>uint(attempt) {
		return p.MaxDelay
	}
	d := p.BaseDelay << uint(attempt)
	if d > p.MaxDelay {
		return p.MaxDelay
	}
	return d
}

// Step returns how far a fault of kind k advances the exponent. A peer that
// answers but rejects requests backs off twice as fast.
func Step(k fault.Kind) int {
	if k == fault.KindProtocol {
		return 2
	}
	return 1
}

// Advance increments the attempt counter by step, saturating at the
// maximum exponent, and returns the new jittered delay.
func (b *Backoff) Advance(step int) time.Duration {
	b.mu.Lock()
	defer b.mu.Unlock()

	if step < 1 {
		step = 1
	}
	b.attempt += step
	if b.attempt > b.maxExponent {
		b.attempt = b.maxExponent
	}
	return b.addJitter(b.current())
}

// Reset resets the attempt counter.
// Call this after a successful connection.
func (b *Backoff) Reset() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.attempt = 0
}

// Attempts returns the attempt counter.
func (b *Backoff) Attempts() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.attempt
}

// Current returns the base delay (without jitter) for the current attempt.
func (b *Backoff) Current() time.Duration {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.current()
}

// JitterBound returns the largest delay jitter can produce from d.
func (b *Backoff) JitterBound(d time.Duration) time.Duration {
	return time.Duration(float64(d) * (1 + b.jitter))
}

// SetRand replaces the jitter source. Tests use it for determinism.
func (b *Backoff) SetRand(rng *rand.Rand) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.rng = rng
}

func (b *Backoff) current() time.Duration {
	return BaseDelay(config.BackoffPolicy{
		BaseDelay:   b.base,
		MaxDelay:    b.max,
		MaxExponent: b.maxExponent,
		Jitter:      -1,
	}, b.attempt)
}

// addJitter spreads d uniformly over [d*(1-j), d*(1+j)].
func (b *Backoff) addJitter(d time.Duration) time.Duration {
	if b.jitter <= 0 {
		return d
	}
	f := 1 + b.jitter*(2*b.rng.Float64()-1)
	return time.Duration(float64(d) * f)
}
