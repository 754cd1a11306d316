package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
)

const (
	baseBackoff = 50 * time.Millisecond
	maxBackoff  = 2 * time.Second
)

// retryable reports whether an error is a transient DynamoDB failure worth
// retrying. Conditional check failures are business outcomes, never retried.
func retryable(err error) bool {
	var (
		throttled    *types.ProvisionedThroughputExceededException
		requestLimit *types.RequestLimitExceeded
		internal     *types.InternalServerError
	)
	return errors.As(err, &throttled) ||
		errors.As(err, &requestLimit) ||
		errors.As(err, &internal)
}

// withRetry runs fn up to maxAttempts times with exponential backoff on
// transient failures. Exhaustion and timeouts surface as ErrUnavailable;
// any other error is returned to the caller for per-operation mapping.
func (s *Store) withRetry(ctx context.Context, op string, fn func(context.Context) error) error {
	backoff := baseBackoff

	var err error
	for attempt := 1; attempt <= s.config.MaxAttempts; attempt++ {
		err = fn(ctx)
		if err == nil {
			return nil
		}
		if !retryable(err) {
			break
		}
		if attempt == s.config.MaxAttempts {
			break
		}

		s.opts.logger.Warn("retrying storage operation",
			"op", op,
			"attempt", attempt,
			"error", err,
		)

		select {
		case <-ctx.Done():
			return fmt.Errorf("%w: %v", ErrUnavailable, ctx.Err())
		case <-time.After(backoff):
		}
		backoff = min(backoff*2, maxBackoff)
	}

	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) || retryable(err) {
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	return err
}

// unavailable wraps an unexpected I/O failure so SDK error types never leak
// past the engine boundary.
func unavailable(err error) error {
	return fmt.Errorf("%w: %v", ErrUnavailable, err)
}
