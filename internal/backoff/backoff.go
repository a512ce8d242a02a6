// Package backoff computes retry delays for queued mutations.
package backoff

import (
	"math/rand/v2"
	"time"
)

const (
	// DefaultBase is the delay before the first retry, before jitter.
	DefaultBase = 500 * time.Millisecond
	// DefaultMax caps every computed delay, jitter included.
	DefaultMax = 10 * time.Second
	// DefaultJitter is the exclusive upper bound of the uniform jitter added to each delay.
	DefaultJitter = 300 * time.Millisecond
)

// Policy describes exponential growth with additive jitter.
type Policy struct {
	Base   time.Duration
	Max    time.Duration
	Jitter time.Duration
	// Rand returns a value in [0, n). Defaults to math/rand/v2.
	Rand func(n int64) int64
}

// DefaultPolicy returns the 500ms/10s/300ms policy used by the offline queue.
func DefaultPolicy() Policy {
	return Policy{Base: DefaultBase, Max: DefaultMax, Jitter: DefaultJitter}
}

// Seeded returns a policy whose jitter is drawn from a deterministic PCG source.
func Seeded(seed uint64) Policy {
	source := rand.New(rand.NewPCG(seed, seed^0x9e3779b97f4a7c15))
	policy := DefaultPolicy()
	policy.Rand = source.Int64N
	return policy
}

// NextDelay returns min(Max, Base*2^attempt) plus jitter, clamped to Max.
func (p Policy) NextDelay(attempt int) time.Duration {
	base := p.Base
	if base <= 0 {
		base = DefaultBase
	}
	ceiling := p.Max
	if ceiling <= 0 {
		ceiling = DefaultMax
	}
	if attempt < 0 {
		attempt = 0
	}

	exp := ceiling
	// base<<attempt overflows long before 62 doublings; anything that large is past the cap anyway.
	if attempt < 62 && base <= ceiling>>uint(attempt) {
		exp = base << uint(attempt)
	}

	delay := exp + p.jitter()
	if delay > ceiling {
		return ceiling
	}
	return delay
}

func (p Policy) jitter() time.Duration {
	if p.Jitter <= 0 {
		return 0
	}
	draw := p.Rand
	if draw == nil {
		draw = rand.Int64N
	}
	return time.Duration(draw(int64(p.Jitter)))
}

// NextDelayMs is the millisecond form used by clients that configure base and max directly.
func NextDelayMs(attempt int, baseMs, maxMs int64) int64 {
	policy := Policy{
		Base:   time.Duration(baseMs) * time.Millisecond,
		Max:    time.Duration(maxMs) * time.Millisecond,
		Jitter: DefaultJitter,
	}
	return policy.NextDelay(attempt).Milliseconds()
}
