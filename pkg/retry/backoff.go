// Package retry provides the delay strategies used between job attempts.
// Strategies are deterministic and stateless so retry timing is reproducible.
package retry

import (
	"math"
	"time"
)

// Strategy computes the delay before the next attempt.
type Strategy interface {
	// NextDelay returns the wait after the given failed attempt (1-indexed).
	// err is the failure that triggered the retry and may be nil.
	NextDelay(attempt int, err error) time.Duration
}

// StrategyFunc adapts a function to Strategy.
type StrategyFunc func(attempt int, err error) time.Duration

// NextDelay calls f.
func (f StrategyFunc) NextDelay(attempt int, err error) time.Duration {
	return f(attempt, err)
}

// Exponential computes min(max, round(base * factor^(attempt-1))) seconds.
type Exponential struct {
	baseSeconds int
	factor      float64
	maxSeconds  int
}

// NewExponential creates an exponential strategy. base and max are clamped
// to >= 0 and factor to >= 1.
func NewExponential(baseSeconds int, factor float64, maxSeconds int) *Exponential {
	return &Exponential{
		baseSeconds: max(0, baseSeconds),
		factor:      math.Max(1.0, factor),
		maxSeconds:  max(0, maxSeconds),
	}
}

// NextDelay implements Strategy. Attempts <= 0 behave as attempt 1.
func (e *Exponential) NextDelay(attempt int, _ error) time.Duration {
	return time.Duration(e.Seconds(attempt)) * time.Second
}

// Seconds returns the delay for attempt in whole seconds.
func (e *Exponential) Seconds(attempt int) int {
	if attempt <= 0 {
		attempt = 1
	}
	if e.baseSeconds == 0 {
		return 0
	}
	delay := math.Round(float64(e.baseSeconds) * math.Pow(e.factor, float64(attempt-1)))
	if delay >= float64(e.maxSeconds) {
		return e.maxSeconds
	}
	return int(delay)
}

// Constant always waits the same number of seconds.
type Constant struct {
	Seconds int
}

// NextDelay implements Strategy.
func (c Constant) NextDelay(int, error) time.Duration {
	return time.Duration(max(0, c.Seconds)) * time.Second
}

// Immediate retries without delay.
func Immediate() Strategy {
	return Constant{}
}

// Default returns the strategy used when a job does not supply its own:
// 1s base, factor 2, capped at 60s.
func Default() Strategy {
	return NewExponential(1, 2.0, 60)
}
