package retry

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	glog "github.com/goliatone/go-logger/glog"
	"github.com/goliatone/go-transfer/core"
)

// Error is returned once the strategy refuses another attempt or the wait before
// the next attempt is interrupted.
type Error struct {
	Operation   string
	Attempts    int
	Cause       error
	Interrupted bool
	contextErr  error
}

func (e *Error) Error() string {
	if e == nil {
		return ""
	}
	prefix := "retry"
	if strings.TrimSpace(e.Operation) != "" {
		prefix = "retry " + e.Operation
	}
	if e.Interrupted {
		return fmt.Sprintf("%s: interrupted after %d attempts: %v", prefix, e.Attempts, e.Cause)
	}
	return fmt.Sprintf("%s: gave up after %d attempts: %v", prefix, e.Attempts, e.Cause)
}

func (e *Error) Unwrap() []error {
	if e == nil {
		return nil
	}
	out := make([]error, 0, 2)
	if e.Cause != nil {
		out = append(out, e.Cause)
	}
	if e.contextErr != nil {
		out = append(out, e.contextErr)
	}
	return out
}

// SleepFunc blocks for d or until ctx is done.
type SleepFunc func(ctx context.Context, d time.Duration) error

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// Event describes one scheduled retry.
type Event struct {
	Operation string
	Attempt   int
	Delay     time.Duration
	Err       error
}

type Retrier struct {
	library *Library
	logger  core.Logger
	metrics core.MetricsRecorder
	sleep   SleepFunc
	now     func() time.Time
	onRetry func(Event)
}

type Option func(*Retrier)

func WithLogger(logger core.Logger) Option {
	return func(r *Retrier) {
		r.logger = logger
	}
}

func WithMetricsRecorder(recorder core.MetricsRecorder) Option {
	return func(r *Retrier) {
		r.metrics = recorder
	}
}

func WithSleeper(sleep SleepFunc) Option {
	return func(r *Retrier) {
		r.sleep = sleep
	}
}

func WithClock(now func() time.Time) Option {
	return func(r *Retrier) {
		r.now = now
	}
}

func WithRetryHook(hook func(Event)) Option {
	return func(r *Retrier) {
		r.onRetry = hook
	}
}

func NewRetrier(library *Library, opts ...Option) *Retrier {
	_, logger := glog.Resolve("transfer.retry", nil, nil)
	retrier := &Retrier{
		library: library,
		logger:  logger,
		metrics: core.NopMetricsRecorder{},
		sleep:   sleepContext,
		now:     time.Now,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(retrier)
		}
	}
	if retrier.library == nil {
		retrier.library = DefaultLibrary()
	}
	retrier.logger = glog.Ensure(retrier.logger)
	if retrier.metrics == nil {
		retrier.metrics = core.NopMetricsRecorder{}
	}
	if retrier.sleep == nil {
		retrier.sleep = sleepContext
	}
	if retrier.now == nil {
		retrier.now = time.Now
	}
	return retrier
}

func (r *Retrier) Library() *Library {
	if r == nil {
		return nil
	}
	return r.library
}

// Do runs fn until it succeeds or the strategy chosen for its latest error gives
// up. Protocol errors and context errors from fn are never retried.
func Do[T any](ctx context.Context, r *Retrier, operation string, fn func(ctx context.Context) (T, error)) (T, error) {
	var zero T
	if r == nil {
		r = NewRetrier(nil)
	}
	if ctx == nil {
		ctx = context.Background()
	}
	attempts := 0
	for {
		attempts++
		startedAt := r.now()
		result, err := fn(ctx)
		if err == nil {
			return result, nil
		}
		elapsed := r.now().Sub(startedAt)

		if core.IsProtocolError(err) || errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			return zero, &Error{Operation: operation, Attempts: attempts, Cause: err}
		}

		strategy := r.library.CheckoutStrategy(err)
		if !strategy.CanTryAgain(attempts) {
			r.metrics.IncCounter(ctx, "transfer.retry.exhausted", 1, map[string]string{"operation": operation})
			r.logger.WithContext(ctx).Warn("retry attempts exhausted",
				"operation", operation,
				"attempts", attempts,
				"error", err.Error(),
			)
			return zero, &Error{Operation: operation, Attempts: attempts, Cause: err}
		}

		delay := strategy.RemainingInterval(attempts, elapsed)
		if delay < 0 {
			delay = 0
		}
		r.metrics.IncCounter(ctx, "transfer.retry.scheduled", 1, map[string]string{"operation": operation})
		r.logger.WithContext(ctx).Debug("retrying after failure",
			"operation", operation,
			"attempt", attempts,
			"delay", delay.String(),
			"error", err.Error(),
		)
		if r.onRetry != nil {
			r.onRetry(Event{Operation: operation, Attempt: attempts, Delay: delay, Err: err})
		}
		if sleepErr := r.sleep(ctx, delay); sleepErr != nil {
			return zero, &Error{
				Operation:   operation,
				Attempts:    attempts,
				Cause:       err,
				Interrupted: true,
				contextErr:  sleepErr,
			}
		}
	}
}

// Run is Do for work without a result.
func Run(ctx context.Context, r *Retrier, operation string, fn func(ctx context.Context) error) error {
	_, err := Do(ctx, r, operation, func(ctx context.Context) (struct{}, error) {
		return struct{}{}, fn(ctx)
	})
	return err
}
