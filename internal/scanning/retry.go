package scanning

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/time/rate"
)

// RetryOptions configures the Retrying scanner
type RetryOptions struct {
	// Attempts is the total number of calls made for one image; values below 1 mean 1
	Attempts int
	// Backoff is the wait before the second attempt, doubled for each later one
	Backoff time.Duration
	// RatePerSecond paces provider calls across all submissions; 0 disables pacing
	RatePerSecond float64
	Logger        *slog.Logger
}

// Retrying wraps a Scanner with a bounded retry budget and optional call pacing.
// Only transport failures, throttling and server errors are retried.
type Retrying struct {
	scanner  Scanner
	attempts int
	backoff  time.Duration
	limiter  *rate.Limiter
	logger   *slog.Logger
}

// NewRetrying creates a new Retrying scanner around s
func NewRetrying(s Scanner, opts RetryOptions) *Retrying {
	if opts.Attempts < 1 {
		opts.Attempts = 1
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}

	r := &Retrying{
		scanner:  s,
		attempts: opts.Attempts,
		backoff:  opts.Backoff,
		logger:   opts.Logger,
	}
	if opts.RatePerSecond > 0 {
		r.limiter = rate.NewLimiter(rate.Limit(opts.RatePerSecond), 1)
	}
	return r
}

// Extract calls the wrapped scanner until it succeeds, fails permanently or the budget is spent
func (r *Retrying) Extract(ctx context.Context, img Image) (string, error) {
	delay := r.backoff
	var lastErr error

	for attempt := 1; attempt <= r.attempts; attempt++ {
		if r.limiter != nil {
			if err := r.limiter.Wait(ctx); err != nil {
				return "", fmt.Errorf("waiting for provider rate limit: %w", err)
			}
		}

		text, err := r.scanner.Extract(ctx, img)
		if err == nil {
			return text, nil
		}
		lastErr = err

		if attempt == r.attempts || !isRetryable(err) {
			break
		}

		r.logger.Warn("Extraction attempt failed, retrying",
			"attempt", attempt,
			"max_attempts", r.attempts,
			"backoff", delay,
			"error", err,
		)

		timer := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return "", lastErr
		case <-timer.C:
		}
		delay *= 2
	}

	return "", lastErr
}

// Close closes the wrapped scanner
func (r *Retrying) Close() error {
	return r.scanner.Close()
}

func isRetryable(err error) bool {
	var providerErr *ProviderError
	if errors.As(err, &providerErr) {
		return providerErr.Retryable()
	}
	return false
}
