package retry

import (
	"context"
	"time"

	"github.com/finwatch/wealthtracker/internal/apierr"
	"github.com/finwatch/wealthtracker/internal/observ"
)

const (
	// Exponential backoff for server errors starts at 1s and never exceeds 10s.
	serverBackoffBase = 1 * time.Second
	serverBackoffCap  = 10 * time.Second
)

// Controller executes operations under the recovery strategy table,
// re-classifying each new failure to pick the retry bound and delay shape.
type Controller struct {
	sleep func(ctx context.Context, d time.Duration) error
}

func NewController() *Controller {
	return &Controller{sleep: sleepCtx}
}

// NewControllerWithSleep injects the wait primitive; tests use it to observe
// delays without real time passing.
func NewControllerWithSleep(sleep func(ctx context.Context, d time.Duration) error) *Controller {
	return &Controller{sleep: sleep}
}

// Do runs op until it succeeds, the current strategy disallows retry, or the
// attempt bound is exhausted. The bound comes from the strategy of the most
// recent failure, so an operation that flips from Network to RateLimit is
// governed by the RateLimit row from that point on.
func (c *Controller) Do(ctx context.Context, name string, op func(ctx context.Context) error) error {
	var lastErr error

	for attempt := 1; ; attempt++ {
		if err := ctx.Err(); err != nil {
			if lastErr != nil {
				return lastErr
			}
			return err
		}

		err := op(ctx)
		if err == nil {
			if attempt > 1 {
				observ.Log("retry_recovered", map[string]any{"operation": name, "attempt": attempt})
			}
			return nil
		}
		lastErr = err

		class := apierr.Classify(err)
		strategy := apierr.StrategyFor(class)
		observ.IncCounter("retry_attempt_failures_total", map[string]string{
			"operation": name, "class": class.String(),
		})

		if !strategy.ShouldRetry || attempt > strategy.MaxRetries {
			observ.Warn("retry_exhausted", map[string]any{
				"operation": name, "class": class.String(), "attempts": attempt,
			})
			return lastErr
		}

		delay := backoffDelay(class, strategy, attempt)
		observ.Log("retry_waiting", map[string]any{
			"operation": name, "class": class.String(), "attempt": attempt, "delay_ms": delay.Milliseconds(),
		})
		if err := c.sleep(ctx, delay); err != nil {
			return lastErr
		}
	}
}

// DoWithFallback is Do, but on final failure of the primary operation it runs
// fallback (typically a read of the last persisted value) and reports its
// outcome instead.
func (c *Controller) DoWithFallback(ctx context.Context, name string, op, fallback func(ctx context.Context) error) error {
	err := c.Do(ctx, name, op)
	if err == nil {
		return nil
	}
	observ.Log("retry_fallback", map[string]any{"operation": name, "cause": err.Error()})
	return fallback(ctx)
}

// backoffDelay picks the wait before the next attempt: rate limits use the
// fixed strategy delay, network errors back off linearly, server errors
// exponentially with a cap, everything else uses the fixed delay.
func backoffDelay(class apierr.Class, strategy apierr.Strategy, attempt int) time.Duration {
	switch class {
	case apierr.RateLimit:
		return strategy.RetryDelay
	case apierr.Network:
		return strategy.RetryDelay * time.Duration(attempt)
	case apierr.ServerError:
		d := serverBackoffBase << (attempt - 1)
		if d > serverBackoffCap {
			d = serverBackoffCap
		}
		return d
	default:
		return strategy.RetryDelay
	}
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
