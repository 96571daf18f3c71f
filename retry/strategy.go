// Package retry classifies failures into backoff strategies and runs work under them.
package retry

import (
	"math"
	"time"
)

// Strategy decides whether another attempt is allowed and how long to wait first.
// Attempts are counted from 1 and include the attempt that just failed.
type Strategy interface {
	CanTryAgain(tries int) bool
	NextInterval(tries int) time.Duration
	RemainingInterval(tries int, elapsed time.Duration) time.Duration
}

// Uniform waits the same interval before every retry.
type Uniform struct {
	MaxAttempts int
	Interval    time.Duration
}

func NewUniform(maxAttempts int, interval time.Duration) Uniform {
	return Uniform{MaxAttempts: maxAttempts, Interval: interval}
}

func (s Uniform) CanTryAgain(tries int) bool {
	return tries <= s.MaxAttempts
}

func (s Uniform) NextInterval(int) time.Duration {
	return s.Interval
}

func (s Uniform) RemainingInterval(tries int, elapsed time.Duration) time.Duration {
	return s.NextInterval(tries) - elapsed
}

// ExponentialBackoff waits Initial * Multiplier^(tries-1).
type ExponentialBackoff struct {
	MaxAttempts int
	Initial     time.Duration
	Multiplier  float64
}

func NewExponentialBackoff(maxAttempts int, initial time.Duration, multiplier float64) ExponentialBackoff {
	if multiplier < 1 {
		multiplier = 1
	}
	return ExponentialBackoff{MaxAttempts: maxAttempts, Initial: initial, Multiplier: multiplier}
}

func (s ExponentialBackoff) CanTryAgain(tries int) bool {
	return tries <= s.MaxAttempts
}

func (s ExponentialBackoff) NextInterval(tries int) time.Duration {
	if tries < 1 {
		tries = 1
	}
	multiplier := s.Multiplier
	if multiplier < 1 {
		multiplier = 1
	}
	interval := float64(s.Initial) * math.Pow(multiplier, float64(tries-1))
	if interval >= math.MaxInt64 {
		return time.Duration(math.MaxInt64)
	}
	return time.Duration(interval)
}

func (s ExponentialBackoff) RemainingInterval(tries int, elapsed time.Duration) time.Duration {
	return s.NextInterval(tries) - elapsed
}

// NoRetry fails on the first error.
type NoRetry struct{}

func (NoRetry) CanTryAgain(int) bool {
	return false
}

func (NoRetry) NextInterval(int) time.Duration {
	return -1
}

func (s NoRetry) RemainingInterval(tries int, _ time.Duration) time.Duration {
	return s.NextInterval(tries)
}

var (
	_ Strategy = Uniform{}
	_ Strategy = ExponentialBackoff{}
	_ Strategy = NoRetry{}
)
