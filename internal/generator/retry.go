package generator

import (
	"context"
	"log/slog"
	"time"

	"github.com/m-mizutani/goerr/v2"

	"edurag/internal/domain"
	"edurag/internal/logging"
)

// RetryPolicy bounds the attempts made against the generation service.
type RetryPolicy struct {
	MaxAttempts int
	BaseDelay   time.Duration
	MaxDelay    time.Duration
}

// DefaultRetryPolicy makes 3 attempts, waiting 2s then 4s, capped at 10s.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{MaxAttempts: 3, BaseDelay: 2 * time.Second, MaxDelay: 10 * time.Second}
}

// Delay returns the wait before retry number attempt (0-based).
func (p RetryPolicy) Delay(attempt int) time.Duration {
	if attempt < 0 {
		attempt = 0
	}
	d := p.BaseDelay << attempt
	if d > p.MaxDelay || d <= 0 {
		d = p.MaxDelay
	}
	return d
}

// Retrying retries a Generator with exponential backoff.
type Retrying struct {
	next   Generator
	policy RetryPolicy
}

var _ Generator = (*Retrying)(nil)

// NewRetrying wraps next.
func NewRetrying(next Generator, policy RetryPolicy) *Retrying {
	if policy.MaxAttempts <= 0 {
		policy.MaxAttempts = 1
	}
	return &Retrying{next: next, policy: policy}
}

// Generate calls the wrapped generator until it succeeds, the attempts run out
// or ctx is done. The last failure is returned wrapped, so errors.Is still
// sees the typed cause.
func (r *Retrying) Generate(ctx context.Context, req Request) (*domain.Plan, error) {
	logger := logging.From(ctx)
	var lastErr error
	for attempt := 0; attempt < r.policy.MaxAttempts; attempt++ {
		plan, err := r.next.Generate(ctx, req)
		if err == nil {
			return plan, nil
		}
		if ctx.Err() != nil {
			return nil, goerr.Wrap(err, "generation cancelled", goerr.V("attempt", attempt+1))
		}
		lastErr = err
		if attempt == r.policy.MaxAttempts-1 {
			break
		}

		delay := r.policy.Delay(attempt)
		logger.Warn("plan generation failed, retrying",
			logging.ErrAttr(err),
			slog.Int("attempt", attempt+1),
			slog.Duration("delay", delay))
		select {
		case <-ctx.Done():
			return nil, goerr.Wrap(ctx.Err(), "generation cancelled", goerr.V("attempt", attempt+1))
		case <-time.After(delay):
		}
	}
	return nil, goerr.Wrap(lastErr, "generation failed after retries", goerr.V("attempts", r.policy.MaxAttempts))
}
