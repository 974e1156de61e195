// Package retry runs an operation a bounded number of times with linearly growing pauses.
package retry

import (
	"context"
	"time"

	"github.com/cenkalti/backoff/v4"
)

const (
	DefaultAttempts = 3
	DefaultBase     = 500 * time.Millisecond
)

// Policy retries up to Attempts times. After the n-th failed attempt it waits Base*n.
type Policy struct {
	Attempts int
	Base     time.Duration
}

// Notify is called before every pause with the failed attempt number and the wait.
type Notify func(err error, attempt int, wait time.Duration)

// linear implements backoff.BackOff with delay = base * attempt.
type linear struct {
	base    time.Duration
	attempt int
}

func (l *linear) NextBackOff() time.Duration {
	l.attempt++
	return l.base * time.Duration(l.attempt)
}

func (l *linear) Reset() { l.attempt = 0 }

// Permanent marks err as not worth retrying.
func Permanent(err error) error {
	return backoff.Permanent(err)
}

// Do runs op until it succeeds, returns a permanent error, the context ends, or the
// attempts are used up. The last error is returned on exhaustion.
func (p Policy) Do(ctx context.Context, op func(ctx context.Context) error, notify Notify) error {
	attempts := p.Attempts
	if attempts < 1 {
		attempts = DefaultAttempts
	}

	b := &linear{base: p.Base}
	bo := backoff.WithContext(backoff.WithMaxRetries(b, uint64(attempts-1)), ctx)

	return backoff.RetryNotify(func() error {
		if err := ctx.Err(); err != nil {
			return backoff.Permanent(err)
		}
		return op(ctx)
	}, bo, func(err error, wait time.Duration) {
		if notify != nil {
			notify(err, b.attempt, wait)
		}
	})
}
