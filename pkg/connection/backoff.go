package connection

import (
	"math/rand/v2"
	"sync"
	"time"
)

// Default retry timing.
const (
	// InitialBackoff is the delay before the first redial.
	InitialBackoff = 1 * time.Second

	// MaxBackoff caps the redial delay.
	MaxBackoff = 60 * time.Second

	// BackoffMultiplier is the growth per failed dial.
	BackoffMultiplier = 2.0

	// JitterFactor is the maximum extra delay as a fraction of the base delay.
	JitterFactor = 0.25
)

// BackoffConfig is the redial timing of a Manager.
// Zero durations and multipliers take the package defaults.
type BackoffConfig struct {
	Initial    time.Duration `yaml:"initial"`
	Max        time.Duration `yaml:"max"`
	Multiplier float64       `yaml:"multiplier"`
	Jitter     float64       `yaml:"jitter"`
}

// DefaultBackoffConfig returns the default redial timing.
func DefaultBackoffConfig() BackoffConfig {
	return BackoffConfig{
		Initial:    InitialBackoff,
		Max:        MaxBackoff,
		Multiplier: BackoffMultiplier,
		Jitter:     JitterFactor,
	}
}

func (c BackoffConfig) normalized() BackoffConfig {
	if c.Initial <= 0 {
		c.Initial = InitialBackoff
	}
	if c.Max <= 0 {
		c.Max = MaxBackoff
	}
	if c.Max < c.Initial {
		c.Max = c.Initial
	}
	if c.Multiplier <= 1 {
		c.Multiplier = BackoffMultiplier
	}
	if c.Jitter < 0 {
		c.Jitter = 0
	}
	return c
}

// Delay returns the base delay, without jitter, before redial number
// attempt (counting from zero).
func (c BackoffConfig) Delay(attempt int) time.Duration {
	c = c.normalized()
	d := float64(c.Initial)
	for range attempt {
		d *= c.Multiplier
		if d >= float64(c.Max) {
			return c.Max
		}
	}
	return time.Duration(d)
}

// Sequence returns the base delays produced by cfg, ending with the first
// one that reaches the maximum.
func Sequence(cfg BackoffConfig) []time.Duration {
	cfg = cfg.normalized()
	var seq []time.Duration
	for attempt := 0; ; attempt++ {
		d := cfg.Delay(attempt)
		seq = append(seq, d)
		if d >= cfg.Max {
			return seq
		}
	}
}

// Backoff counts consecutive failed dials and yields the delay before the
// next one. It is safe for concurrent use.
type Backoff struct {
	config BackoffConfig

	mu       sync.Mutex
	attempts int
}

// NewBackoff creates a backoff for cfg.
func NewBackoff(cfg BackoffConfig) *Backoff {
	return &Backoff{config: cfg.normalized()}
}

// Next returns the delay before the next dial, jitter included, and counts
// the attempt.
func (b *Backoff) Next() time.Duration {
	b.mu.Lock()
	defer b.mu.Unlock()

	d := b.config.Delay(b.attempts)
	b.attempts++
	if b.config.Jitter > 0 {
		d += time.Duration(float64(d) * b.config.Jitter * rand.Float64())
	}
	return d
}

// Reset starts over after a successful dial.
func (b *Backoff) Reset() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.attempts = 0
}

// Attempts returns the failed dials since the last Reset.
func (b *Backoff) Attempts() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.attempts
}

// Current returns the base delay the next call to Next starts from.
func (b *Backoff) Current() time.Duration {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.config.Delay(b.attempts)
}
