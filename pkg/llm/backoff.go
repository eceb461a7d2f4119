package llm

import (
	"context"

	"github.com/cenkalti/backoff/v4"

	"github.com/forgeline/forgeline/pkg/config"
)

// BackoffPolicy centralizes retry timing for all LLM retry sites.
// Delays follow base·2^attempt capped at MaxDelay, with optional jitter.
type BackoffPolicy struct {
	cfg *config.BackoffConfig
}

// NewBackoffPolicy builds the policy from configuration.
func NewBackoffPolicy(cfg *config.BackoffConfig) BackoffPolicy {
	return BackoffPolicy{cfg: cfg}
}

// MaxAttempts returns the total attempt budget (first try included).
func (p BackoffPolicy) MaxAttempts() int { return p.cfg.MaxAttempts }

// Retry runs op with exponential backoff until it succeeds, the attempt
// budget is exhausted, ctx is cancelled, or op returns a permanent error.
func (p BackoffPolicy) Retry(ctx context.Context, op func() error) error {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = p.cfg.BaseDelay
	b.MaxInterval = p.cfg.MaxDelay
	b.Multiplier = 2
	b.MaxElapsedTime = 0 // attempt count bounds the loop, not elapsed time
	if p.cfg.Jitter {
		b.RandomizationFactor = 0.5
	} else {
		b.RandomizationFactor = 0
	}

	retries := uint64(0)
	if p.cfg.MaxAttempts > 1 {
		retries = uint64(p.cfg.MaxAttempts - 1)
	}
	return backoff.Retry(op, backoff.WithContext(backoff.WithMaxRetries(b, retries), ctx))
}

// Permanent marks err as non-retryable for Retry.
func Permanent(err error) error { return backoff.Permanent(err) }
