package commissioning

import "time"

// DefaultRetryDelay is the pause between a failed steering attempt and the
// next one.
const DefaultRetryDelay = time.Second

// RetryPolicy decides whether and when to retry after the n-th steering
// failure (n starts at 1).
type RetryPolicy interface {
	Next(failures int) (time.Duration, bool)
}

// FixedRetry retries after the same delay every time. MaxAttempts 0 means
// retry forever.
type FixedRetry struct {
	Delay       time.Duration
	MaxAttempts int
}

// DefaultRetry retries every second, forever.
func DefaultRetry() FixedRetry {
	return FixedRetry{Delay: DefaultRetryDelay}
}

func (p FixedRetry) Next(failures int) (time.Duration, bool) {
	if p.MaxAttempts > 0 && failures > p.MaxAttempts {
		return 0, false
	}
	return p.Delay, true
}

// ExponentialRetry doubles the delay after each failure up to Max.
type ExponentialRetry struct {
	Initial     time.Duration
	Max         time.Duration
	MaxAttempts int
}

func (p ExponentialRetry) Next(failures int) (time.Duration, bool) {
	if p.MaxAttempts > 0 && failures > p.MaxAttempts {
		return 0, false
	}
	d := p.Initial
	for i := 1; i < failures; i++ {
		d *= 2
		if p.Max > 0 && d >= p.Max {
			return p.Max, true
		}
	}
	if p.Max > 0 && d > p.Max {
		d = p.Max
	}
	return d, true
}
