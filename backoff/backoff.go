// Package backoff provides the delay strategies activity retries wait on.
// All strategies are stateless and safe for concurrent use.
package backoff

import (
	"fmt"
	"math"
	"math/rand/v2"
	"time"
)

// Strategy computes the delay before a retry attempt.
type Strategy interface {
	// Delay returns how long to wait after failed attempt n (1-indexed)
	// before attempt n+1 starts.
	Delay(attempt int) time.Duration
}

// Func adapts a plain function to Strategy.
type Func func(attempt int) time.Duration

// Delay calls f.
func (f Func) Delay(attempt int) time.Duration { return f(attempt) }

// None retries immediately.
var None Strategy = Func(func(int) time.Duration { return 0 })

// ── Constant ────────────────────────────────────────

// Constant waits Interval between every pair of attempts.
type Constant struct {
	Interval time.Duration
}

// Delay returns the fixed interval.
func (c Constant) Delay(int) time.Duration { return c.Interval }

// ── Linear ──────────────────────────────────────────

// Linear waits Initial * attempt, capped at Max when Max > 0.
type Linear struct {
	Initial time.Duration
	Max     time.Duration
}

// Delay implements Strategy.
func (l Linear) Delay(attempt int) time.Duration {
	return capAt(l.Initial*time.Duration(max(attempt, 1)), l.Max)
}

// ── Exponential ─────────────────────────────────────

// Exponential waits Initial * Coefficient^(attempt-1), capped at Max when
// Max > 0. A Coefficient below 1 is treated as 2.
type Exponential struct {
	Initial     time.Duration
	Coefficient float64
	Max         time.Duration
}

// Delay implements Strategy.
func (e Exponential) Delay(attempt int) time.Duration {
	coeff := e.Coefficient
	if coeff < 1 {
		coeff = 2
	}
	d := float64(e.Initial) * math.Pow(coeff, float64(max(attempt, 1)-1))
	if d >= math.MaxInt64 {
		return capAt(time.Duration(math.MaxInt64), e.Max)
	}
	return capAt(time.Duration(d), e.Max)
}

// ── Jitter ──────────────────────────────────────────

// Jitter draws a uniform delay in [0, Base.Delay(attempt)] (full jitter).
type Jitter struct {
	Base Strategy
}

// Delay implements Strategy.
func (j Jitter) Delay(attempt int) time.Duration {
	return time.Duration(rand.Float64() * float64(j.Base.Delay(attempt))) //nolint:gosec // jitter does not need crypto rand
}

func capAt(d, limit time.Duration) time.Duration {
	if limit > 0 && d > limit {
		return limit
	}
	return d
}

// ── Construction ────────────────────────────────────

// New builds a strategy by name: none, constant, linear, exponential or
// jitter (exponential with full jitter).
func New(kind string, initial, maxDelay time.Duration) (Strategy, error) {
	switch kind {
	case "none":
		return None, nil
	case "constant":
		return Constant{Interval: initial}, nil
	case "linear":
		return Linear{Initial: initial, Max: maxDelay}, nil
	case "exponential":
		return Exponential{Initial: initial, Coefficient: 2, Max: maxDelay}, nil
	case "", "jitter":
		return Jitter{Base: Exponential{Initial: initial, Coefficient: 2, Max: maxDelay}}, nil
	default:
		return nil, fmt.Errorf("backoff: unknown strategy %q", kind)
	}
}

// DefaultStrategy is exponential with full jitter, 1s initial, 30s max.
func DefaultStrategy() Strategy {
	return Jitter{Base: Exponential{Initial: time.Second, Coefficient: 2, Max: 30 * time.Second}}
}
