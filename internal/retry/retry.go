package retry

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/quizbowl-topic-catalog/internal/catalog"
	"github.com/JakeFAU/quizbowl-topic-catalog/internal/metrics"
)

// ErrExhausted wraps the last failure once every attempt has been spent.
var ErrExhausted = errors.New("retry budget exhausted")

// Controller runs operations under a Policy, pausing between attempts.
type Controller struct {
	policy Policy
	pauser catalog.Pauser
	logger *zap.Logger
}

// NewController wires a policy to a pauser.
func NewController(policy Policy, pauser catalog.Pauser, logger *zap.Logger) *Controller {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Controller{policy: policy, pauser: pauser, logger: logger}
}

// Do runs op until it succeeds or the policy stops it. On failure it returns
// the zero T and an error wrapping ErrExhausted; callers are expected to treat
// that as an empty result rather than abort their own work. A canceled ctx
// ends the loop early.
func Do[T any](ctx context.Context, c *Controller, target string, op func(context.Context) (T, error)) (T, error) {
	var (
		zero     T
		lastErr  error
		attempt  int
		waited   time.Duration
		attempts int
	)
	for attempt = 0; ; attempt++ {
		delay := c.policy.Delay(attempt)
		waited += delay
		c.pauser.Pause(ctx, delay)
		if err := ctx.Err(); err != nil {
			if lastErr == nil {
				lastErr = err
			}
			break
		}

		attempts++
		result, err := op(ctx)
		if err == nil {
			metrics.ObserveFetchAttempt(metrics.OutcomeSuccess)
			return result, nil
		}
		lastErr = err
		metrics.ObserveFetchAttempt(metrics.OutcomeFailure)

		if !c.policy.ShouldRetry(err, attempt) {
			break
		}
		c.logger.Warn("attempt failed; retrying",
			zap.String("target", target),
			zap.Int("attempt", attempt+1),
			zap.Error(err),
		)
	}

	c.logger.Error("giving up after retries",
		zap.String("target", target),
		zap.Int("attempts", attempts),
		zap.Duration("waited", waited),
		zap.Error(lastErr),
	)
	return zero, fmt.Errorf("%w after %d attempts: %w", ErrExhausted, attempts, lastErr)
}
