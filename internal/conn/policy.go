package conn

import "time"

// Reconnect policy defaults.
const (
	DefaultMaxAttempts  = 5
	DefaultInitialDelay = 1000 * time.Millisecond
	DefaultMaxDelay     = 30000 * time.Millisecond
)

// Policy bounds automatic reconnection after an unexpected session close.
type Policy struct {
	// MaxAttempts is the reconnect attempt cap; once exceeded the connection
	// becomes failed.
	MaxAttempts int

	// InitialDelay is the delay before the first reconnect attempt.
	InitialDelay time.Duration

	// MaxDelay caps the exponentially growing delay.
	MaxDelay time.Duration
}

// DefaultPolicy returns the standard reconnect policy.
func DefaultPolicy() Policy {
	return Policy{
		MaxAttempts:  DefaultMaxAttempts,
		InitialDelay: DefaultInitialDelay,
		MaxDelay:     DefaultMaxDelay,
	}
}

// Delay returns the backoff before the given 1-based attempt:
// initial doubled per prior attempt, capped at MaxDelay.
func (p Policy) Delay(attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	delay := p.InitialDelay
	for i := 1; i < attempt; i++ {
		if delay >= p.MaxDelay {
			break
		}
		delay *= 2
	}
	if delay > p.MaxDelay {
		delay = p.MaxDelay
	}
	return delay
}
