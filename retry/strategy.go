// Package retry provides reusable backoff strategies for operations that may
// transiently fail, like dialing or calling an RPC endpoint.
package retry

import (
	"math"
	"math/rand"
	"time"
)

// Strategy is used to calculate how long a particular Operation
// should wait between attempts.
type Strategy interface {
	// Duration returns how long to wait for a given retry attempt.
	Duration(attempt int) time.Duration
}

// ExponentialStrategy performs exponential backoff. The exponential backoff is
// bounded by 10 minutes, and jittered by up to 250ms.
type ExponentialStrategy struct {
	Min       time.Duration
	Max       time.Duration
	MaxJitter time.Duration
}

// Duration returns the backoff duration for the given attempt.
func (e *ExponentialStrategy) Duration(attempt int) time.Duration {
	var jitter time.Duration
	if e.MaxJitter > 0 {
		jitter = time.Duration(rand.Int63n(e.MaxJitter.Nanoseconds()))
	}
	if attempt < 0 {
		return e.Min + jitter
	}
	durFloat := float64(e.Min)
	durFloat *= math.Pow(2, float64(attempt))
	dur := time.Duration(durFloat)
	if durFloat > float64(e.Max) {
		dur = e.Max
	}
	dur += jitter

	return dur
}

// Exponential returns the default ExponentialStrategy.
func Exponential() Strategy {
	return &ExponentialStrategy{
		Min:       time.Second,
		Max:       time.Minute * 10,
		MaxJitter: time.Millisecond * 250,
	}
}

// FixedStrategy waits a fixed duration between attempts.
type FixedStrategy struct {
	Dur time.Duration
}

func (f *FixedStrategy) Duration(attempt int) time.Duration {
	return f.Dur
}

// Fixed returns a strategy with the given fixed wait duration.
func Fixed(dur time.Duration) Strategy {
	return &FixedStrategy{Dur: dur}
}
