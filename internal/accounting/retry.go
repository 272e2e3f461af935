package accounting

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/odyssey-erp/odyssey-gl/internal/accounting/shared"
	"github.com/odyssey-erp/odyssey-gl/internal/platform/db"
)

// RetryPolicy bounds how often a unit of work is replayed after a
// concurrency conflict.
type RetryPolicy struct {
	MaxRetries      int
	InitialInterval time.Duration
	MaxInterval     time.Duration
}

// DefaultRetryPolicy retries three times starting at 25ms.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{MaxRetries: 3, InitialInterval: 25 * time.Millisecond, MaxInterval: 500 * time.Millisecond}
}

func (p RetryPolicy) backOff(ctx context.Context) backoff.BackOff {
	b := backoff.NewExponentialBackOff()
	if p.InitialInterval > 0 {
		b.InitialInterval = p.InitialInterval
	}
	if p.MaxInterval > 0 {
		b.MaxInterval = p.MaxInterval
	}
	b.MaxElapsedTime = 0
	retries := p.MaxRetries
	if retries < 0 {
		retries = 0
	}
	return backoff.WithContext(backoff.WithMaxRetries(b, uint64(retries)), ctx)
}

// unit runs fn in one transaction and replays the whole transaction when it
// fails with a retryable conflict. Once retries are exhausted the conflict is
// returned to the caller.
func (s *Service) unit(ctx context.Context, op string, fn func(context.Context, TxRepository) error) error {
	start := time.Now()
	attempt := 0
	err := backoff.Retry(func() error {
		attempt++
		err := classify(s.repo.WithTx(ctx, fn))
		if err == nil {
			return nil
		}
		if shared.IsRetryable(err) {
			s.metrics.conflict(op)
			s.logger.DebugContext(ctx, "ledger conflict, retrying",
				slog.String("operation", op),
				slog.Int("attempt", attempt),
				slog.Any("error", err))
			return err
		}
		return backoff.Permanent(err)
	}, s.retry.backOff(ctx))
	s.metrics.observe(op, start, err)
	return err
}

// read runs fn in one transaction without retries.
func (s *Service) read(ctx context.Context, fn func(context.Context, TxRepository) error) error {
	return classify(s.repo.WithTx(ctx, fn))
}

func classify(err error) error {
	if err == nil || errors.Is(err, shared.ErrConcurrencyConflict) {
		return err
	}
	if db.IsSerializationFailure(err) {
		return fmt.Errorf("%w: %w", shared.ErrConcurrencyConflict, err)
	}
	return err
}

func outcome(err error) string {
	switch {
	case err == nil:
		return "success"
	case errors.Is(err, shared.ErrConcurrencyConflict):
		return "conflict"
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return "cancelled"
	default:
		return "rejected"
	}
}
