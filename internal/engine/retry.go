package engine

import (
	"context"
	"crypto/rand"
	"errors"
	"math"
	"math/big"
	"time"

	"github.com/jobrover/jobrover/internal/policy"
)

// retryPolicy implements jittered exponential backoff for step
// attempts. Cancellation and deadline errors are never retried.
type retryPolicy struct {
	baseDelay time.Duration
	maxDelay  time.Duration
}

func newRetryPolicy() *retryPolicy {
	return &retryPolicy{
		baseDelay: 250 * time.Millisecond,
		maxDelay:  5 * time.Second,
	}
}

// shouldRetry decides whether a failed attempt may run again.
// maxRetries is the step's declared budget of attempts after the first.
func (p *retryPolicy) shouldRetry(err error, attempt, maxRetries int) bool {
	if err == nil {
		return false
	}
	if attempt >= maxRetries {
		return false
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}
	// An exhausted budget never recovers within the run.
	var budgetErr *policy.BudgetError
	if errors.As(err, &budgetErr) {
		return false
	}
	return true
}

// backoff returns the wait duration before the next attempt.
func (p *retryPolicy) backoff(attempt int) time.Duration {
	delay := float64(p.baseDelay) * math.Pow(2, float64(attempt))
	if delay > float64(p.maxDelay) {
		delay = float64(p.maxDelay)
	}
	jitter := p.randomJitter(time.Duration(delay) / 2)
	return time.Duration(delay/2) + jitter
}

func (p *retryPolicy) randomJitter(limit time.Duration) time.Duration {
	if limit <= 0 {
		return 0
	}
	bound := big.NewInt(int64(limit))
	n, err := rand.Int(rand.Reader, bound)
	if err != nil {
		return limit / 2
	}
	return time.Duration(n.Int64())
}
