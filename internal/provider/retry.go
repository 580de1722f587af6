package provider

import (
	"context"
	"time"

	"github.com/cenkalti/backoff/v5"
)

// withRetry is the common HTTP retry path both vendor clients share (spec
// §9's "one client per vendor sharing a common HTTP path"), built on
// cenkalti/backoff/v5 the way the teacher's dependency graph already
// carries it.
func withRetry[T any](ctx context.Context, maxRetries int, op func() (T, error)) (T, error) {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = 200 * time.Millisecond
	b.MaxInterval = 5 * time.Second

	return backoff.Retry(ctx, op, backoff.WithBackOff(b), backoff.WithMaxTries(uint(maxRetries)))
}
