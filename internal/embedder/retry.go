package embedder

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/openai/openai-go"
)

// RetryPolicy bounds how a provider call is retried
type RetryPolicy struct {
	MaxAttempts int           // total attempts including the first
	Initial     time.Duration // first backoff interval
	Max         time.Duration // backoff interval cap
	Timeout     time.Duration // per-attempt timeout, 0 = none
}

// DefaultRetryPolicy returns the policy used when none is configured
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		MaxAttempts: 3,
		Initial:     100 * time.Millisecond,
		Max:         5 * time.Second,
		Timeout:     30 * time.Second,
	}
}

// StatusError is a non-2xx reply from an HTTP embedding service
type StatusError struct {
	Provider   string
	StatusCode int
	Body       string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("%s api error %d: %s", e.Provider, e.StatusCode, e.Body)
}

// retryable reports whether a failed call may succeed when repeated.
// Rate limits, server errors and transport failures are retried; invalid
// input and other client errors are not.
func retryable(err error) bool {
	var status *StatusError
	if errors.As(err, &status) {
		return status.StatusCode == http.StatusTooManyRequests || status.StatusCode >= 500
	}
	var apiErr *openai.Error
	if errors.As(err, &apiErr) {
		return apiErr.StatusCode == http.StatusTooManyRequests || apiErr.StatusCode >= 500
	}
	switch {
	case errors.Is(err, context.Canceled),
		errors.Is(err, ErrEmptyText),
		errors.Is(err, ErrInvalidInput),
		errors.Is(err, ErrBatchTooLarge),
		errors.Is(err, ErrDimensionMismatch):
		return false
	}
	return true
}

// withRetry runs op under policy p with exponential backoff. Each attempt
// gets its own timeout derived from ctx.
func withRetry[T any](ctx context.Context, p RetryPolicy, op func(ctx context.Context) (T, error)) (T, error) {
	b := backoff.NewExponentialBackOff()
	if p.Initial > 0 {
		b.InitialInterval = p.Initial
	}
	if p.Max > 0 {
		b.MaxInterval = p.Max
	}
	b.MaxElapsedTime = 0

	var policy backoff.BackOff = b
	if p.MaxAttempts > 0 {
		policy = backoff.WithMaxRetries(b, uint64(p.MaxAttempts-1))
	}

	return backoff.RetryWithData(func() (T, error) {
		attemptCtx := ctx
		if p.Timeout > 0 {
			var cancel context.CancelFunc
			attemptCtx, cancel = context.WithTimeout(ctx, p.Timeout)
			defer cancel()
		}
		v, err := op(attemptCtx)
		if err != nil && !retryable(err) {
			return v, backoff.Permanent(err)
		}
		return v, err
	}, backoff.WithContext(policy, ctx))
}
