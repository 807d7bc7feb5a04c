package service

import (
	"context"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/rs/zerolog"

	"github.com/dimzachar/ScholarsXP/review-service/internal/metrics"
	"github.com/dimzachar/ScholarsXP/review-service/internal/repository"
)

type RetryPolicy struct {
	MaxAttempts     int
	InitialInterval time.Duration
	MaxInterval     time.Duration
	Multiplier      float64
}

func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		MaxAttempts:     3,
		InitialInterval: 500 * time.Millisecond,
		MaxInterval:     5 * time.Second,
		Multiplier:      2,
	}
}

// retrier повторяет вызовы хранилища только при исчерпании соединений.
// Любая другая ошибка возвращается сразу.
type retrier struct {
	policy  RetryPolicy
	metrics *metrics.Metrics
	logger  zerolog.Logger
}

func newRetrier(policy RetryPolicy, m *metrics.Metrics, logger zerolog.Logger) *retrier {
	if policy.MaxAttempts <= 0 {
		policy = DefaultRetryPolicy()
	}

	return &retrier{
		policy:  policy,
		metrics: m,
		logger:  logger,
	}
}

func (r *retrier) do(ctx context.Context, operation string, fn func() error) error {
	exp := backoff.NewExponentialBackOff()
	exp.InitialInterval = r.policy.InitialInterval
	exp.MaxInterval = r.policy.MaxInterval
	exp.Multiplier = r.policy.Multiplier
	exp.RandomizationFactor = 0
	exp.MaxElapsedTime = 0

	policy := backoff.WithContext(backoff.WithMaxRetries(exp, uint64(r.policy.MaxAttempts-1)), ctx)

	attempt := 0
	return backoff.RetryNotify(func() error {
		attempt++
		err := fn()
		if err == nil {
			return nil
		}
		if !repository.IsTransient(err) {
			return backoff.Permanent(err)
		}
		return err
	}, policy, func(err error, wait time.Duration) {
		if r.metrics != nil {
			r.metrics.StoreRetries.Inc()
		}
		r.logger.Warn().
			Err(err).
			Str("operation", operation).
			Int("attempt", attempt).
			Dur("retry_in", wait).
			Msg("Transient store error, retrying")
	})
}
