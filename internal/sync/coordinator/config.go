package coordinator

import (
	"math/rand/v2"
	"time"
)

const (
	// DefaultPollInterval is the interval between passes when no publish wakes the worker
	DefaultPollInterval = time.Minute

	// minPollInterval keeps a misconfigured interval from hammering origin
	minPollInterval = time.Second
)

// calculatePollingInterval returns base with a random jitter of up to ±25%
// applied, so that replicas started together do not fetch in lockstep.
func calculatePollingInterval(base time.Duration) time.Duration {
	if base <= 0 {
		base = DefaultPollInterval
	}
	if base < minPollInterval {
		base = minPollInterval
	}
	jitter := base / 4
	if jitter <= 0 {
		return base
	}
	//nolint:gosec // G404: Non-cryptographic randomness is sufficient for polling jitter
	offset := time.Duration(rand.Int64N(int64(2*jitter))) - jitter
	return base + offset
}
