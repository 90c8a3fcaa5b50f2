package batch

import (
	"context"
	"encoding/json"
	"fmt"
	"math"
	"time"

	"github.com/cenkalti/backoff/v4"
)

// DispatchWithRetry issues req up to maxAttempts times, waiting with
// exponential backoff between failed attempts. It returns the first
// successful payload. When every attempt fails the returned error wraps both
// ErrRetryExhausted and the last failure.
//
// Unlike a plain retry loop, client errors (4xx other than 408 and 429),
// invalid requests and gate-blocked requests are returned after the first
// attempt instead of being retried. Set Config.RetryClientErrors to retry
// every failure.
func (d *Dispatcher) DispatchWithRetry(ctx context.Context, req Request, maxAttempts int) (json.RawMessage, error) {
	if maxAttempts < 1 {
		return nil, fmt.Errorf("%w (got %d)", ErrInvalidAttempts, maxAttempts)
	}

	var (
		data      json.RawMessage
		lastErr   *Error
		attempt   int
		permanent bool
	)

	operation := func() error {
		attempt++
		var err error
		data, err = d.Dispatch(ctx, req)
		if err == nil {
			if attempt > 1 {
				d.logger.Info().
					Str("id", req.ID).
					Int("attempt", attempt).
					Msg("Request succeeded after retry")
			}
			return nil
		}

		lastErr = asError(err)
		if !shouldRetry(lastErr, d.config.RetryClientErrors) {
			permanent = true
			return backoff.Permanent(lastErr)
		}
		return lastErr
	}

	notify := func(err error, next time.Duration) {
		class := string(lastErr.ErrorClass)
		dispatchRetriesTotal.WithLabelValues(class).Inc()
		dispatchRetryBackoffSeconds.WithLabelValues(class).Observe(next.Seconds())

		d.logger.Warn().
			Str("id", req.ID).
			Str("error_class", class).
			Int("attempt", attempt).
			Dur("backoff", next).
			Msg("Retrying request after backoff")
	}

	policy := backoff.WithContext(
		backoff.WithMaxRetries(d.newBackOff(), uint64(maxAttempts-1)),
		ctx,
	)

	var timer backoff.Timer
	if d.newTimer != nil {
		timer = d.newTimer()
	}

	err := backoff.RetryNotifyWithTimer(operation, policy, notify, timer)
	if err == nil {
		return data, nil
	}

	if ctxErr := ctx.Err(); ctxErr != nil {
		d.logger.Warn().
			Str("id", req.ID).
			Int("attempt", attempt).
			Msg("Context cancelled during retry backoff")
		return nil, fmt.Errorf("%w: %w", ErrContextCancelled, ctxErr)
	}

	if permanent {
		return nil, lastErr
	}

	dispatchRetryExhaustedTotal.WithLabelValues(string(lastErr.ErrorClass)).Inc()
	d.logger.Error().
		Str("id", req.ID).
		Str("error_class", string(lastErr.ErrorClass)).
		Int("max_attempts", maxAttempts).
		Msg("Retry attempts exhausted")

	return nil, fmt.Errorf("%w after %d attempts: %w", ErrRetryExhausted, attempt, lastErr)
}

// newBackOff builds the exponential schedule from the dispatcher config.
func (d *Dispatcher) newBackOff() *backoff.ExponentialBackOff {
	maxInterval := d.config.MaxBackoff
	if maxInterval <= 0 {
		maxInterval = math.MaxInt64
	}

	b := &backoff.ExponentialBackOff{
		InitialInterval:     d.config.InitialBackoff,
		RandomizationFactor: d.config.BackoffJitter,
		Multiplier:          d.config.BackoffMultiplier,
		MaxInterval:         maxInterval,
		MaxElapsedTime:      0,
		Stop:                backoff.Stop,
		Clock:               backoff.SystemClock,
	}
	b.Reset()
	return b
}
