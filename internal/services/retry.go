package services

import (
	"context"
	"errors"
	"time"

	"caixa/internal/log"
	"caixa/internal/storage"

	"github.com/cenkalti/backoff/v5"
)

// withRetry runs op up to attempts times with exponential backoff.
// Duplicate and invalid-instance errors are final and returned immediately.
func withRetry[T any](ctx context.Context, attempts int, baseDelay time.Duration, op func() (T, error)) (T, error) {
	if attempts < 1 {
		attempts = 1
	}

	b := backoff.NewExponentialBackOff()
	b.InitialInterval = baseDelay
	b.MaxInterval = 10 * baseDelay

	attempt := 0
	notify := func(err error, next time.Duration) {
		log.FromContext(ctx).WarnContext(ctx, "Store call failed, retrying",
			log.FieldAttempt, attempt,
			"retry_in", next.String(),
			log.FieldError, err)
	}

	return backoff.Retry(ctx, func() (T, error) {
		attempt++
		v, err := op()
		if err != nil && isPermanent(err) {
			return v, backoff.Permanent(err)
		}
		return v, err
	}, backoff.WithBackOff(b), backoff.WithMaxTries(uint(attempts)), backoff.WithNotify(notify))
}

func isPermanent(err error) bool {
	return errors.Is(err, storage.ErrDuplicateInstance) ||
		errors.Is(err, storage.ErrInvalidInstance) ||
		errors.Is(err, context.Canceled) ||
		errors.Is(err, context.DeadlineExceeded)
}
