// Package retry runs an idempotent operation under a bounded retry policy.
// The fetcher and the archive installer both go through Do, so there is a
// single place that decides when to wait, when to give up and how the caller
// hears about a transient failure.
package retry

import (
	"context"
	"errors"
	"time"

	"github.com/cenkalti/backoff/v5"
)

// Policy configures Do.
type Policy struct {
	// MaxAttempts caps the total number of calls to the operation. Zero means
	// one attempt per Schedule entry plus the initial call, or unlimited when
	// Schedule is empty and Delay is set.
	MaxAttempts int

	// Delay is a constant wait between attempts. Ignored when Schedule is set.
	Delay time.Duration

	// Schedule lists the waits between consecutive attempts. Retrying stops
	// once it is exhausted.
	Schedule []time.Duration

	// Retryable reports whether err is worth another attempt. Nil retries
	// everything.
	Retryable func(err error) bool

	// OnRetry is called before each wait with the attempt that just failed.
	OnRetry func(attempt int, err error, wait time.Duration)
}

// Constant returns a policy with a fixed delay and attempt cap.
func Constant(attempts int, delay time.Duration) Policy {
	return Policy{MaxAttempts: attempts, Delay: delay}
}

// Exponential returns a policy that waits initial, 2*initial, 4*initial...
// for steps waits, giving steps+1 attempts in total.
func Exponential(initial time.Duration, steps int) Policy {
	schedule := make([]time.Duration, 0, steps)
	d := initial
	for i := 0; i < steps; i++ {
		schedule = append(schedule, d)
		d *= 2
	}
	return Policy{Schedule: schedule}
}

// Do calls op until it succeeds, the policy is exhausted, the predicate
// rejects the error or ctx is done. The error of the last attempt is returned
// unwrapped from any backoff bookkeeping.
func Do(ctx context.Context, p Policy, op func(ctx context.Context, attempt int) error) error {
	attempt := 0
	operation := func() (struct{}, error) {
		attempt++
		err := op(ctx, attempt)
		if err == nil {
			return struct{}{}, nil
		}
		if p.Retryable != nil && !p.Retryable(err) {
			return struct{}{}, backoff.Permanent(err)
		}
		return struct{}{}, err
	}

	opts := []backoff.RetryOption{
		backoff.WithBackOff(p.backOff()),
		backoff.WithMaxElapsedTime(0),
	}
	if max := p.maxAttempts(); max > 0 {
		opts = append(opts, backoff.WithMaxTries(uint(max)))
	}
	if p.OnRetry != nil {
		opts = append(opts, backoff.WithNotify(func(err error, wait time.Duration) {
			p.OnRetry(attempt, err, wait)
		}))
	}

	_, err := backoff.Retry(ctx, operation, opts...)
	var permanent *backoff.PermanentError
	if errors.As(err, &permanent) {
		return permanent.Err
	}
	return err
}

func (p Policy) maxAttempts() int {
	if p.MaxAttempts > 0 {
		return p.MaxAttempts
	}
	if len(p.Schedule) > 0 {
		return len(p.Schedule) + 1
	}
	return 0
}

func (p Policy) backOff() backoff.BackOff {
	if len(p.Schedule) > 0 {
		return &scheduleBackOff{delays: p.Schedule}
	}
	return backoff.NewConstantBackOff(p.Delay)
}

// scheduleBackOff walks a fixed list of waits, then stops.
type scheduleBackOff struct {
	delays []time.Duration
	next   int
}

func (s *scheduleBackOff) NextBackOff() time.Duration {
	if s.next >= len(s.delays) {
		return backoff.Stop
	}
	d := s.delays[s.next]
	s.next++
	return d
}

func (s *scheduleBackOff) Reset() {
	s.next = 0
}
