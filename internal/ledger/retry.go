package ledger

import (
	"context"
	"errors"
	"time"
)

// RetryPolicy bounds how long a single ledger call may take and how often it
// is retried. Every fetch and submit in the core runs under one.
type RetryPolicy struct {
	// Attempts is the total number of tries (values below 1 mean 1).
	Attempts int

	// BaseDelay is the wait after the first failure; it doubles per retry.
	BaseDelay time.Duration

	// MaxDelay caps the backoff (0 = uncapped).
	MaxDelay time.Duration

	// Timeout bounds each individual call (0 = no per-call timeout).
	Timeout time.Duration
}

// DefaultRetryPolicy is used when callers do not configure one.
var DefaultRetryPolicy = RetryPolicy{
	Attempts:  5,
	BaseDelay: 200 * time.Millisecond,
	MaxDelay:  5 * time.Second,
	Timeout:   10 * time.Second,
}

// permanentError marks an error that must not be retried.
type permanentError struct{ err error }

func (e *permanentError) Error() string { return e.err.Error() }
func (e *permanentError) Unwrap() error { return e.err }

// Permanent wraps err so that RetryPolicy.Do gives up immediately.
// Clients use it for failures no retry can fix (e.g. a namespace mismatch).
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return &permanentError{err: err}
}

// IsPermanent returns true if err was marked with Permanent.
func IsPermanent(err error) bool {
	var pe *permanentError
	return errors.As(err, &pe)
}

// Backoff returns the wait after the given failed attempt (1-based).
func (p RetryPolicy) Backoff(attempt int) time.Duration {
	if attempt < 1 || p.BaseDelay <= 0 {
		return 0
	}
	d := p.BaseDelay
	for i := 1; i < attempt; i++ {
		d *= 2
		if p.MaxDelay > 0 && d >= p.MaxDelay {
			return p.MaxDelay
		}
	}
	if p.MaxDelay > 0 && d > p.MaxDelay {
		return p.MaxDelay
	}
	return d
}

// Do runs op until it succeeds, the attempt budget is spent, the error is
// permanent, or ctx is done. It returns the number of attempts made and the
// last error. A done parent context always wins: its error is returned as is.
func (p RetryPolicy) Do(ctx context.Context, op func(ctx context.Context) error) (int, error) {
	attempts := p.Attempts
	if attempts < 1 {
		attempts = 1
	}

	for attempt := 1; ; attempt++ {
		err := p.call(ctx, op)
		if err == nil {
			return attempt, nil
		}
		if ctxErr := ctx.Err(); ctxErr != nil {
			return attempt, ctxErr
		}
		if IsPermanent(err) || attempt >= attempts {
			return attempt, err
		}

		timer := time.NewTimer(p.Backoff(attempt))
		select {
		case <-ctx.Done():
			timer.Stop()
			return attempt, ctx.Err()
		case <-timer.C:
		}
	}
}

func (p RetryPolicy) call(ctx context.Context, op func(ctx context.Context) error) error {
	if p.Timeout <= 0 {
		return op(ctx)
	}
	callCtx, cancel := context.WithTimeout(ctx, p.Timeout)
	defer cancel()
	return op(callCtx)
}

// SubmitWithRetry submits data under p. On exhaustion it returns a
// *SubmitError carrying the attempt count; cancellation returns the context
// error.
func SubmitWithRetry(ctx context.Context, c Client, p RetryPolicy, appID AppID, data []byte) (uint64, error) {
	var height uint64
	attempts, err := p.Do(ctx, func(ctx context.Context) error {
		h, err := c.Submit(ctx, appID, data)
		if err != nil {
			return err
		}
		height = h
		return nil
	})
	if err == nil {
		return height, nil
	}
	if ctx.Err() != nil {
		return 0, err
	}

	var se *SubmitError
	if errors.As(err, &se) {
		err = se.Err
	}
	return 0, &SubmitError{AppID: appID, Attempts: attempts, Err: err}
}
