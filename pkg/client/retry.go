package client

import (
	"context"
	"time"

	"github.com/jpillora/backoff"

	"github.com/getmockd/polyd/pkg/protocol"
)

// RetryPolicy controls Retry. The runtime itself never retries; callers
// opt in per call site.
type RetryPolicy struct {
	Attempts  int
	Min       time.Duration
	Max       time.Duration
	Factor    float64
	Jitter    bool
	Retryable func(error) bool
}

// DefaultRetryPolicy retries transient connection failures three times.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		Attempts:  3,
		Min:       100 * time.Millisecond,
		Max:       2 * time.Second,
		Factor:    2,
		Jitter:    true,
		Retryable: Transient,
	}
}

// Transient reports whether err is a connection-level failure worth
// retrying.
func Transient(err error) bool {
	switch protocol.KindOf(err) {
	case protocol.KindConnRefused, protocol.KindTimeout, protocol.KindClosed,
		protocol.KindPoolExhausted, protocol.KindIo:
		return true
	default:
		return false
	}
}

// Retry calls fn until it succeeds, returns a non-retryable error, the
// attempts are used up, or ctx is done. It returns the last error.
func Retry(ctx context.Context, policy RetryPolicy, fn func(ctx context.Context) error) error {
	attempts := policy.Attempts
	if attempts < 1 {
		attempts = 1
	}
	retryable := policy.Retryable
	if retryable == nil {
		retryable = Transient
	}
	b := &backoff.Backoff{
		Min:    policy.Min,
		Max:    policy.Max,
		Factor: policy.Factor,
		Jitter: policy.Jitter,
	}

	var err error
	for i := 0; i < attempts; i++ {
		if err = fn(ctx); err == nil || !retryable(err) {
			return err
		}
		if i == attempts-1 {
			break
		}

		timer := time.NewTimer(b.Duration())
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}
	}
	return err
}
