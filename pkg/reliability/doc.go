// Copyright (c) 2024 SIROS Foundation
// SPDX-License-Identifier: BSD-2-Clause

/*
Package reliability provides the retry schedule and in-flight tracking used
by the submission pipeline.

# Retry Schedule

Transient transport failures are retried on a fixed schedule rather than an
exponential one, because the customs services throttle per company:

	policy := reliability.Policy{
	    Intervals:  reliability.DefaultIntervals, // 30s, 2m, 5m
	    MaxRetries: 3,
	}

	err := reliability.Retry(ctx, policy, func(ctx context.Context) error {
	    _, err := caller.Call(ctx, req)
	    return err
	}, func(attempt int, err error, wait time.Duration) {
	    logger.Warn("retrying", "attempt", attempt, "wait", wait)
	})

Only errors accepted by Policy.Retryable (transport.Retryable by default)
are retried. Any other error stops immediately and is returned unchanged.
Schedule implements backoff.BackOff, so it composes with the rest of the
github.com/cenkalti/backoff/v4 package.

# In-flight Tracking

Tracker records which transactions currently have a run in progress so a
second run for the same transaction can be refused:

	tracker := reliability.NewTracker()
	if err := tracker.Acquire(txID); err != nil {
	    return err // ErrInFlight
	}
	defer tracker.Release(txID)
*/
package reliability
