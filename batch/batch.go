// Package batch runs independent tasks in fixed-size windows. Every item of
// a window starts together and the next window starts only after the whole
// window has resolved, which caps the number of simultaneous outbound calls.
package batch

import (
	"context"
	"errors"
	"fmt"

	"golang.org/x/sync/errgroup"
)

// DefaultConcurrency is the window size used when none is configured.
const DefaultConcurrency = 20

var (
	// ErrCancelled is returned when the context is done before a window
	// starts. It wraps the context's cause.
	ErrCancelled = errors.New("batch: cancelled")

	// ErrPanic marks an Outcome whose worker panicked.
	ErrPanic = errors.New("batch: worker panicked")
)

// Worker processes one item. Workers must not fail the batch: they report
// failure inside R, usually through Safe and Outcome.
type Worker[T, R any] func(ctx context.Context, item T) R

// Outcome is the tagged result of a worker wrapped by Safe.
type Outcome[R any] struct {
	Value R
	Err   error
}

// OK reports whether the worker succeeded.
func (o Outcome[R]) OK() bool { return o.Err == nil }

type options struct {
	concurrency int
	progress    func(done, total int)
}

// Option configures Run.
type Option func(*options)

// WithConcurrency sets the window size. Values below 1 select
// DefaultConcurrency.
func WithConcurrency(n int) Option {
	return func(o *options) {
		if n > 0 {
			o.concurrency = n
		}
	}
}

// WithProgress registers a callback invoked after every window with the
// number of items done so far.
func WithProgress(fn func(done, total int)) Option {
	return func(o *options) { o.progress = fn }
}

// Run applies worker to every item and returns the results in input order.
// Cancellation is checked before each window; work already started in the
// current window is allowed to finish. On cancellation Run returns the
// results of the completed windows and an error matching ErrCancelled.
func Run[T, R any](ctx context.Context, items []T, worker Worker[T, R], opts ...Option) ([]R, error) {
	o := options{concurrency: DefaultConcurrency}
	for _, opt := range opts {
		opt(&o)
	}

	results := make([]R, len(items))
	for start := 0; start < len(items); start += o.concurrency {
		if ctx.Err() != nil {
			return results[:start], fmt.Errorf("%w: %w", ErrCancelled, context.Cause(ctx))
		}
		end := min(start+o.concurrency, len(items))

		// A plain group: one worker's outcome never cancels its siblings.
		var g errgroup.Group
		for i := start; i < end; i++ {
			g.Go(func() error {
				results[i] = worker(ctx, items[i])
				return nil
			})
		}
		_ = g.Wait()

		if o.progress != nil {
			o.progress(end, len(items))
		}
	}
	return results, nil
}

// Safe adapts a fallible function into a Worker that always resolves. Errors
// and panics become a failed Outcome.
func Safe[T, R any](fn func(ctx context.Context, item T) (R, error)) Worker[T, Outcome[R]] {
	return func(ctx context.Context, item T) (out Outcome[R]) {
		defer func() {
			if r := recover(); r != nil {
				out = Outcome[R]{Err: fmt.Errorf("%w: %v", ErrPanic, r)}
			}
		}()
		v, err := fn(ctx, item)
		return Outcome[R]{Value: v, Err: err}
	}
}

// Tally counts successful and failed outcomes.
func Tally[R any](outs []Outcome[R]) (ok, failed int) {
	for _, o := range outs {
		if o.OK() {
			ok++
		} else {
			failed++
		}
	}
	return ok, failed
}
