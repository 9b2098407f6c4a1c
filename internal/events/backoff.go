package events

import (
	"math/rand/v2"
	"time"
)

// maxBackoff caps the retry delay so a long-failing event still gets
// re-examined within the hour.
const maxBackoff = time.Hour

// backoff returns the delay before the next retry after attempt failures,
// growing as base * 2^attempt: 2*base after the first failure, then 4*base,
// 8*base, and so on.
func backoff(base time.Duration, attempt int) time.Duration {
	if base <= 0 {
		base = time.Second
	}
	if attempt < 1 {
		attempt = 1
	}

	delay := base
	for i := 0; i < attempt; i++ {
		delay *= 2
		if delay >= maxBackoff {
			return maxBackoff
		}
	}
	return delay
}

// withJitter spreads retries out by up to 10% so redelivered bursts do not
// wake in lockstep. maxBackoff stays a hard ceiling even after jitter.
func withJitter(delay time.Duration) time.Duration {
	if delay <= 0 {
		return delay
	}
	span := int64(delay / 10)
	if span <= 0 {
		return delay
	}
	jittered := delay + time.Duration(rand.Int64N(span+1))
	if jittered > maxBackoff {
		return maxBackoff
	}
	return jittered
}
