package sync

import (
	"context"
	"errors"
	"time"

	"github.com/sethvargo/go-retry"

	"codetrail/internal/common"
)

// retryPolicy wraps every remote call of the engines in the same
// exponential-backoff loop, so the CLI, the orchestrator and the background
// queue all get identical retry behavior.
type retryPolicy struct {
	maxAttempts int
	baseDelay   time.Duration
}

func newRetryPolicy(maxAttempts int, baseDelay time.Duration) retryPolicy {
	if maxAttempts < 1 {
		maxAttempts = 1
	}
	if baseDelay <= 0 {
		baseDelay = 250 * time.Millisecond
	}
	return retryPolicy{maxAttempts: maxAttempts, baseDelay: baseDelay}
}

// do runs fn, retrying transient failures. Authentication, quota and version
// conflicts are verdicts from the service, not transient noise: they come
// back immediately.
func (p retryPolicy) do(ctx context.Context, fn func(ctx context.Context) error) error {
	b := retry.WithMaxRetries(uint64(p.maxAttempts-1), retry.NewExponential(p.baseDelay))
	return retry.Do(ctx, b, func(ctx context.Context) error {
		err := fn(ctx)
		if err == nil {
			return nil
		}
		if isPermanent(err) {
			return err
		}
		return retry.RetryableError(err)
	})
}

func isPermanent(err error) bool {
	return errors.Is(err, common.ErrNotAuthenticated) ||
		errors.Is(err, common.ErrQuotaExceeded) ||
		errors.Is(err, common.ErrNotFound) ||
		errors.Is(err, common.ErrVersionConflict)
}
