package agent

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"golang.org/x/sync/semaphore"

	"github.com/ShayCichocki/cascade/internal/observability"
)

// ErrExhausted is returned when every attempt of a capability failed.
var ErrExhausted = errors.New("retries exhausted")

const (
	// DefaultMaxAttempts is the number of tries per capability call.
	DefaultMaxAttempts = 3
	// DefaultCallTimeout bounds a single backend call.
	DefaultCallTimeout = 5 * time.Minute
)

// Retrier runs backend calls with a bounded number of attempts. It also owns
// the ceiling on concurrent backend calls, which is shared by every level of
// the task tree.
type Retrier struct {
	completer   Completer
	maxAttempts int
	callTimeout time.Duration
	backoff     time.Duration
	ceiling     *semaphore.Weighted
	metrics     *observability.Metrics
}

// RetryOption configures a Retrier.
type RetryOption func(*Retrier)

// WithMaxAttempts sets the attempts per call. Values below 1 are treated as 1.
func WithMaxAttempts(n int) RetryOption {
	return func(r *Retrier) {
		if n < 1 {
			n = 1
		}
		r.maxAttempts = n
	}
}

// WithCallTimeout bounds each backend call. Zero disables the bound.
func WithCallTimeout(d time.Duration) RetryOption {
	return func(r *Retrier) { r.callTimeout = d }
}

// WithBackoff sets the pause between failed attempts.
func WithBackoff(d time.Duration) RetryOption {
	return func(r *Retrier) { r.backoff = d }
}

// WithCeiling limits concurrent backend calls across the whole run.
// Zero or negative removes the limit.
func WithCeiling(n int64) RetryOption {
	return func(r *Retrier) {
		if n <= 0 {
			r.ceiling = nil
			return
		}
		r.ceiling = semaphore.NewWeighted(n)
	}
}

// WithMetrics records backend calls and failed attempts.
func WithMetrics(m *observability.Metrics) RetryOption {
	return func(r *Retrier) { r.metrics = m }
}

// NewRetrier wraps a completer.
func NewRetrier(c Completer, opts ...RetryOption) *Retrier {
	r := &Retrier{
		completer:   c,
		maxAttempts: DefaultMaxAttempts,
		callTimeout: DefaultCallTimeout,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// MaxAttempts returns the configured attempts per call.
func (r *Retrier) MaxAttempts() int {
	return r.maxAttempts
}

// Complete sends req until it succeeds or the attempts run out.
func (r *Retrier) Complete(ctx context.Context, req CompletionRequest) (string, error) {
	return r.CompleteWith(ctx, req, nil)
}

// CompleteWith is Complete with a check on the response. A non-nil error from
// accept counts as a failed attempt, so malformed output is retried like a
// transport error.
//
// After the last attempt the error wraps ErrExhausted and the last failure.
// Context cancellation stops immediately and returns the context error.
func (r *Retrier) CompleteWith(ctx context.Context, req CompletionRequest, accept func(string) error) (string, error) {
	var lastErr error
	for attempt := 1; attempt <= r.maxAttempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return "", err
		}

		text, err := r.call(ctx, req)
		if err == nil && accept != nil {
			err = accept(text)
		}
		if err == nil {
			return text, nil
		}
		if ctxErr := ctx.Err(); ctxErr != nil {
			return "", ctxErr
		}

		lastErr = err
		r.metrics.FailedAttempt(req.Capability)
		log.Printf("[retry] %s: attempt %d/%d failed: %v", req.Capability, attempt, r.maxAttempts, err)

		if attempt < r.maxAttempts && r.backoff > 0 {
			select {
			case <-ctx.Done():
				return "", ctx.Err()
			case <-time.After(r.backoff):
			}
		}
	}

	log.Printf("[retry] %s: all %d attempts failed", req.Capability, r.maxAttempts)
	return "", fmt.Errorf("%s: %w after %d attempts: %w", req.Capability, ErrExhausted, r.maxAttempts, lastErr)
}

// call makes one backend call inside the global ceiling.
func (r *Retrier) call(ctx context.Context, req CompletionRequest) (string, error) {
	if r.completer == nil {
		return "", errors.New("no completer configured")
	}

	if r.ceiling != nil {
		if err := r.ceiling.Acquire(ctx, 1); err != nil {
			return "", err
		}
		defer r.ceiling.Release(1)
	}

	callCtx := ctx
	if r.callTimeout > 0 {
		var cancel context.CancelFunc
		callCtx, cancel = context.WithTimeout(ctx, r.callTimeout)
		defer cancel()
	}

	callCtx, span := observability.StartSpan(callCtx, "backend."+req.Capability,
		attribute.String("capability", req.Capability),
		attribute.Int("prompt.bytes", len(req.System)+len(req.User)),
	)
	start := time.Now()
	text, err := r.completer.Complete(callCtx, req)
	r.metrics.ObserveBackendCall(req.Capability, time.Since(start), err)
	observability.EndSpan(span, err)

	return text, err
}
