package backoff

import (
	"math"
	"time"
)

// Policy configures exponential reconnect delays.
type Policy struct {
	Base        time.Duration `toml:"base"`         // delay before the first retry (default: 1s)
	Factor      float64       `toml:"factor"`       // growth per attempt (default: 1.5)
	Cap         time.Duration `toml:"cap"`          // upper bound on any single delay (default: 30s)
	MaxAttempts int           `toml:"max_attempts"` // retries before giving up (default: 10)
}

// Default returns the reconnect policy used when nothing is configured.
func Default() Policy {
	return Policy{
		Base:        time.Second,
		Factor:      1.5,
		Cap:         30 * time.Second,
		MaxAttempts: 10,
	}
}

// Delay returns min(Base * Factor^attempt, Cap). attempt counts from zero.
func (p Policy) Delay(attempt int) time.Duration {
	if attempt < 0 {
		attempt = 0
	}
	d := float64(p.Base) * math.Pow(p.Factor, float64(attempt))
	if d >= float64(p.Cap) || math.IsInf(d, 0) || math.IsNaN(d) {
		return p.Cap
	}
	return time.Duration(d)
}

// Exhausted reports whether attempt has reached the retry limit.
func (p Policy) Exhausted(attempt int) bool {
	return attempt >= p.MaxAttempts
}
