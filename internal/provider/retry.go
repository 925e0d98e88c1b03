package provider

import (
	"context"
	"fmt"
	"math/rand/v2"
	"time"
)

const maxBackoff = 30 * time.Second

// RetryProvider re-issues requests that fail with a temporary error. Only
// opening the stream is retried; an error midway through a stream reaches
// the caller as its final chunk.
type RetryProvider struct {
	inner      Provider
	maxRetries int
	baseDelay  time.Duration
}

func WithRetry(p Provider, maxRetries int) *RetryProvider {
	if maxRetries <= 0 {
		maxRetries = 3
	}
	return &RetryProvider{inner: p, maxRetries: maxRetries, baseDelay: 500 * time.Millisecond}
}

func (r *RetryProvider) Name() string      { return r.inner.Name() }
func (r *RetryProvider) ModelName() string { return r.inner.ModelName() }

func (r *RetryProvider) Models(ctx context.Context) ([]string, error) {
	return retry(ctx, r, func() ([]string, error) { return r.inner.Models(ctx) })
}

func (r *RetryProvider) Chat(ctx context.Context, msgs []Message) (<-chan StreamChunk, error) {
	return retry(ctx, r, func() (<-chan StreamChunk, error) { return r.inner.Chat(ctx, msgs) })
}

func retry[T any](ctx context.Context, r *RetryProvider, call func() (T, error)) (T, error) {
	var zero T
	for attempt := 0; ; attempt++ {
		v, err := call()
		if err == nil {
			return v, nil
		}
		if !temporary(err) {
			return zero, err
		}
		if attempt == r.maxRetries {
			return zero, fmt.Errorf("after %d retries: %w", r.maxRetries, err)
		}
		if werr := sleep(ctx, r.delay(attempt)); werr != nil {
			return zero, err
		}
	}
}

// delay doubles per attempt with up to 20% jitter, capped at maxBackoff.
func (r *RetryProvider) delay(attempt int) time.Duration {
	d := r.baseDelay << attempt
	if d <= 0 || d > maxBackoff {
		d = maxBackoff
	}
	return d + time.Duration(rand.Int64N(int64(d)/5+1))
}

func sleep(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
