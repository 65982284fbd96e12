package classify

import (
	"math/rand"
	"time"

	"github.com/roach88/awexport/internal/config"
)

// RetryPolicy bounds how long a sub-event lookup waits for a watcher that
// has not delivered yet. Only segments that ended within Recent of now are
// retried; older data will not arrive by waiting.
type RetryPolicy struct {
	MaxAttempts int
	BaseDelay   time.Duration
	MaxDelay    time.Duration
	// Jitter adds up to this much random delay to each attempt.
	Jitter time.Duration
	Recent time.Duration
}

// NoRetry never waits. Batch, report and dry-run evaluation use it.
func NoRetry() RetryPolicy {
	return RetryPolicy{}
}

// LivePolicy derives the live-mode policy from the tuning section. The
// whole schedule spans roughly three poll intervals.
func LivePolicy(t config.Tuning) RetryPolicy {
	if t.RetryAttempts <= 0 {
		return NoRetry()
	}
	window := 3 * t.PollInterval
	return RetryPolicy{
		MaxAttempts: t.RetryAttempts,
		BaseDelay:   window/time.Duration(t.RetryAttempts) + 200*time.Millisecond,
		MaxDelay:    window,
		Recent:      window,
	}
}

// Enabled reports whether the policy ever retries.
func (p RetryPolicy) Enabled() bool {
	return p.MaxAttempts > 0
}

// Delay returns the wait before retry number attempt (0-based): BaseDelay
// doubled per attempt, capped at MaxDelay, plus jitter.
func (p RetryPolicy) Delay(attempt int) time.Duration {
	d := p.BaseDelay
	for i := 0; i < attempt && d < p.MaxDelay; i++ {
		d *= 2
	}
	if p.MaxDelay > 0 && d > p.MaxDelay {
		d = p.MaxDelay
	}
	if p.Jitter > 0 {
		d += time.Duration(rand.Int63n(int64(p.Jitter)))
	}
	return d
}
