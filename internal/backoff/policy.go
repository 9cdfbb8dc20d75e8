// Package backoff provides exponential backoff with jitter for reconnect
// and retry loops.
package backoff

import (
	"math"
	"math/rand"
	"time"
)

// Policy defines the parameters for exponential backoff calculation.
type Policy struct {
	// InitialMs is the backoff for the first attempt, in milliseconds.
	InitialMs float64
	// MaxMs caps the backoff duration in milliseconds.
	MaxMs float64
	// Factor is the exponential growth factor per attempt.
	Factor float64
	// Jitter is the randomization fraction (0.0 to 1.0) added on top.
	Jitter float64
}

// Delay computes the backoff for a 1-indexed attempt:
// min(MaxMs, InitialMs * Factor^(attempt-1) * (1 + Jitter*random)).
func Delay(policy Policy, attempt int) time.Duration {
	return DelayWithRand(policy, attempt, rand.Float64()) // #nosec G404 -- jitter does not need crypto randomness
}

// DelayWithRand computes the backoff with a caller-supplied random value in
// [0.0, 1.0), for deterministic tests.
func DelayWithRand(policy Policy, attempt int, randomValue float64) time.Duration {
	exp := math.Max(float64(attempt-1), 0)
	base := policy.InitialMs * math.Pow(policy.Factor, exp)
	total := math.Min(policy.MaxMs, base+base*policy.Jitter*randomValue)
	return time.Duration(math.Round(total)) * time.Millisecond
}

// ReconnectPolicy is the engine-to-broker reconnect schedule:
// 100ms initial, doubling, capped at 30s, 10% jitter.
func ReconnectPolicy() Policy {
	return Policy{
		InitialMs: 100,
		MaxMs:     30000,
		Factor:    2,
		Jitter:    0.1,
	}
}

// ToolRetryPolicy is the schedule between tool execution retries:
// min(2^attempt, 30) seconds, no jitter, so the first two retries wait
// ~2s and ~4s.
func ToolRetryPolicy() Policy {
	return Policy{
		InitialMs: 2000,
		MaxMs:     30000,
		Factor:    2,
		Jitter:    0,
	}
}
