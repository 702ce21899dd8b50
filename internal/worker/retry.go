package worker

import "time"

// RetryPolicy bounds how long a failing transition is retried.
type RetryPolicy struct {
	MaxRetries int
	Base       time.Duration
	Max        time.Duration
	Suspend    time.Duration
}

// Backoff returns the wait before the given attempt, doubling from Base up to Max.
func (p RetryPolicy) Backoff(attempt int) time.Duration {
	if attempt <= 1 {
		return p.Base
	}
	d := p.Base
	for i := 1; i < attempt; i++ {
		d *= 2
		if p.Max > 0 && d >= p.Max {
			return p.Max
		}
	}
	return d
}

// Retry is the persisted failure counter of a worker.
type Retry struct {
	Attempts int       `json:"attempts"`
	NextAt   time.Time `json:"nextAt"`
	LastErr  string    `json:"lastErr"`
}

// Ready reports whether the backoff window has passed.
func (r Retry) Ready(now time.Time) bool {
	return r.NextAt.IsZero() || !now.Before(r.NextAt)
}

// Fail records a failure. It returns true when the budget is exhausted and resets the counter.
func (r *Retry) Fail(p RetryPolicy, err error, now time.Time) bool {
	r.Attempts++
	r.LastErr = err.Error()
	if r.Attempts > p.MaxRetries {
		r.Attempts = 0
		r.NextAt = time.Time{}
		return true
	}
	r.NextAt = now.Add(p.Backoff(r.Attempts))
	return false
}

// Reset clears the failure counter after a successful tick.
func (r *Retry) Reset() {
	r.Attempts = 0
	r.NextAt = time.Time{}
	r.LastErr = ""
}
