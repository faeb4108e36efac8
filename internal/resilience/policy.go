package resilience

import (
	"context"

	"go.uber.org/zap"
)

// Policy combines retries with a circuit breaker. Each attempt passes through
// the breaker, so an opened circuit ends the retry loop early.
type Policy struct {
	Retry   RetryConfig
	Breaker *Breaker
}

// NewPolicy builds a Policy for the named upstream that logs retries and
// breaker transitions.
func NewPolicy(service string, retry RetryConfig, breaker BreakerConfig) *Policy {
	log := zap.L().With(zap.String("component", "resilience"), zap.String("service", service))
	if retry.OnRetry == nil {
		retry.OnRetry = func(attempt int, err error) {
			log.Warn("retrying call", zap.Int("attempt", attempt), zap.Error(err))
		}
	}
	if breaker.OnStateChange == nil {
		breaker.OnStateChange = func(from, to State) {
			log.Warn("circuit breaker state change",
				zap.Stringer("from", from), zap.Stringer("to", to))
		}
	}
	if breaker.ShouldTrip == nil {
		breaker.ShouldTrip = IsTransient
	}
	return &Policy{Retry: retry, Breaker: NewBreaker(breaker)}
}

// Call runs fn under p.
func Call[T any](ctx context.Context, p *Policy, fn func(ctx context.Context) (T, error)) (T, error) {
	return DoVal(ctx, p.Retry, func(ctx context.Context) (T, error) {
		return Execute(ctx, p.Breaker, fn)
	})
}
