package orchestrator

import (
	"math/rand"
	"time"
)

// backoffDelay computes the wait before the next attempt: exponential in the
// number of failed attempts, capped, with up to 25% jitter so a batch of
// jobs failing against the same dependency does not retry in lockstep.
func backoffDelay(attempts int, base, cap time.Duration) time.Duration {
	if base <= 0 {
		base = 500 * time.Millisecond
	}
	if attempts < 1 {
		attempts = 1
	}

	delay := base
	for i := 1; i < attempts; i++ {
		delay *= 2
		if delay >= cap {
			delay = cap
			break
		}
	}
	if cap > 0 && delay > cap {
		delay = cap
	}

	jitter := time.Duration(rand.Int63n(int64(delay)/4 + 1))
	return delay + jitter
}
