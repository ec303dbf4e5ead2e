package verify

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// StatusError is a non-success HTTP status from a collaborator endpoint.
type StatusError struct {
	Code int
	Body string
}

func (e *StatusError) Error() string {
	if e.Body == "" {
		return fmt.Sprintf("unexpected status %d", e.Code)
	}
	return fmt.Sprintf("unexpected status %d: %s", e.Code, e.Body)
}

func (e *StatusError) Unwrap() error {
	if e.Code == 429 {
		return ErrRateLimited
	}
	return ErrTransport
}

// IsRetryable reports whether another attempt may succeed: quota rejections
// and server-side errors.
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, ErrRateLimited) {
		return true
	}
	var se *StatusError
	if errors.As(err, &se) {
		return se.Code >= 500
	}
	return false
}

// WithRetry calls fn up to attempts times while it fails with a retryable
// error, sleeping delay*attempt between tries.
func WithRetry[T any](ctx context.Context, attempts int, delay time.Duration, fn func(context.Context) (T, error)) (T, error) {
	if attempts < 1 {
		attempts = 1
	}
	var (
		zero    T
		lastErr error
	)
	for attempt := 1; attempt <= attempts; attempt++ {
		res, err := fn(ctx)
		if err == nil {
			return res, nil
		}
		lastErr = err
		if !IsRetryable(err) || attempt == attempts {
			break
		}

		timer := time.NewTimer(time.Duration(attempt) * delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return zero, fmt.Errorf("%w: %w", ErrTransport, ctx.Err())
		case <-timer.C:
		}
	}
	return zero, lastErr
}
