package reliability

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/sirosfoundation/go-customs/pkg/transport"
)

// DefaultIntervals is the wait before each successive retry
var DefaultIntervals = []time.Duration{30 * time.Second, 2 * time.Minute, 5 * time.Minute}

// DefaultMaxRetries bounds the number of retries after the first attempt
const DefaultMaxRetries = 3

// Schedule is a backoff.BackOff that walks a fixed list of intervals. Once
// the list is exhausted the last interval repeats until MaxRetries is reached.
type Schedule struct {
	Intervals  []time.Duration
	MaxRetries int

	attempt int
}

// NewSchedule creates a Schedule, falling back to the defaults for empty
// arguments. A negative maxRetries disables retries.
func NewSchedule(intervals []time.Duration, maxRetries int) *Schedule {
	if len(intervals) == 0 {
		intervals = DefaultIntervals
	}
	if maxRetries == 0 {
		maxRetries = DefaultMaxRetries
	}
	return &Schedule{Intervals: intervals, MaxRetries: maxRetries}
}

// NextBackOff returns the next wait or backoff.Stop
func (s *Schedule) NextBackOff() time.Duration {
	if s.attempt >= s.MaxRetries || len(s.Intervals) == 0 {
		return backoff.Stop
	}
	i := s.attempt
	if i >= len(s.Intervals) {
		i = len(s.Intervals) - 1
	}
	s.attempt++
	return s.Intervals[i]
}

// Reset restarts the schedule
func (s *Schedule) Reset() {
	s.attempt = 0
}

// Policy configures Retry
type Policy struct {
	Intervals  []time.Duration
	MaxRetries int

	// Retryable decides whether an error is transient. Defaults to
	// transport.Retryable.
	Retryable func(error) bool

	// Timer replaces the wall clock wait. Tests use it to observe the
	// schedule without sleeping.
	Timer backoff.Timer
}

// Notify is called before each wait with the 1-based retry number
type Notify func(attempt int, err error, wait time.Duration)

// Retry runs op until it succeeds, fails permanently, the schedule is
// exhausted or ctx is done. The last error from op is returned.
func Retry(ctx context.Context, p Policy, op func(ctx context.Context) error, notify Notify) error {
	retryable := p.Retryable
	if retryable == nil {
		retryable = transport.Retryable
	}

	attempt := 0
	b := backoff.WithContext(NewSchedule(p.Intervals, p.MaxRetries), ctx)
	return backoff.RetryNotifyWithTimer(func() error {
		err := op(ctx)
		if err == nil {
			return nil
		}
		if !retryable(err) || errors.Is(err, context.Canceled) {
			return backoff.Permanent(err)
		}
		return err
	}, b, func(err error, wait time.Duration) {
		attempt++
		if notify != nil {
			notify(attempt, err, wait)
		}
	}, p.Timer)
}

// InstantTimer is a backoff.Timer that fires immediately and records every
// requested wait.
type InstantTimer struct {
	mu    sync.Mutex
	waits []time.Duration
	c     chan time.Time
}

// NewInstantTimer creates an InstantTimer
func NewInstantTimer() *InstantTimer {
	return &InstantTimer{c: make(chan time.Time, 1)}
}

// Start records d and fires
func (t *InstantTimer) Start(d time.Duration) {
	t.mu.Lock()
	t.waits = append(t.waits, d)
	t.mu.Unlock()
	t.c <- time.Now()
}

// Stop is a no-op
func (t *InstantTimer) Stop() {}

// C returns the fire channel
func (t *InstantTimer) C() <-chan time.Time {
	return t.c
}

// Waits returns the recorded waits
func (t *InstantTimer) Waits() []time.Duration {
	t.mu.Lock()
	defer t.mu.Unlock()
	return append([]time.Duration(nil), t.waits...)
}
