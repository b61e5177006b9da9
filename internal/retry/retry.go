// Package retry runs an operation a bounded number of times with a linear
// delay between attempts: base*1 after the first failure, base*2 after the
// second, and so on.
package retry

import (
	"context"
	"time"

	"github.com/cenkalti/backoff/v4"
)

// Policy bounds an operation to Attempts tries spaced by Base*n.
type Policy struct {
	Attempts int
	Base     time.Duration
}

// Linear is a backoff.BackOff whose n-th delay is Base*n.
type Linear struct {
	Base    time.Duration
	attempt int
}

func (l *Linear) NextBackOff() time.Duration {
	l.attempt++
	return l.Base * time.Duration(l.attempt)
}

func (l *Linear) Reset() {
	l.attempt = 0
}

// Notify is called after a failed attempt that will be retried, with the
// 1-based attempt number that failed and the delay before the next one.
type Notify func(err error, attempt int, delay time.Duration)

// Do runs op until it succeeds, returns a permanent error, ctx is done, or
// the policy's attempts are exhausted. The last error is returned.
func Do(ctx context.Context, p Policy, op func() error, notify Notify) error {
	attempts := p.Attempts
	if attempts < 1 {
		attempts = 1
	}
	b := backoff.WithContext(
		backoff.WithMaxRetries(&Linear{Base: p.Base}, uint64(attempts-1)),
		ctx,
	)

	attempt := 0
	return backoff.RetryNotify(func() error {
		attempt++
		return op()
	}, b, func(err error, d time.Duration) {
		if notify != nil {
			notify(err, attempt, d)
		}
	})
}

// Permanent marks err so that Do stops retrying and returns it unwrapped.
func Permanent(err error) error {
	return backoff.Permanent(err)
}
