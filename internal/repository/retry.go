package repository

import (
	"context"
	"time"

	"github.com/sethvargo/go-retry"

	"github.com/opsdeck/foreman/internal/bus"
	"github.com/opsdeck/foreman/internal/model"
)

// RetryPolicy answers the spec's open question on exact retry counts and
// backoff for persistence failures: 5 attempts, exponential from 100ms,
// capped at 5s, with jitter to avoid thundering-herd retries.
var RetryPolicy = struct {
	MaxAttempts uint64
	Base        time.Duration
	Cap         time.Duration
}{MaxAttempts: 5, Base: 100 * time.Millisecond, Cap: 5 * time.Second}

// WithRetry runs op, retrying PersistenceTransient failures with bounded
// exponential backoff. On exhaustion it emits a persistence_degraded event
// and returns the last error wrapped as PersistenceTerminal — the in-memory
// state remains authoritative per spec §5.
func WithRetry(ctx context.Context, b *bus.Bus, workflowID string, op func(ctx context.Context) error) error {
	backoff := retry.NewExponential(RetryPolicy.Base)
	backoff = retry.WithMaxRetries(RetryPolicy.MaxAttempts-1, backoff)
	backoff = retry.WithCappedDuration(RetryPolicy.Cap, backoff)
	backoff = retry.WithJitter(RetryPolicy.Base/2, backoff)

	var lastErr error
	err := retry.Do(ctx, backoff, func(ctx context.Context) error {
		lastErr = op(ctx)
		if lastErr == nil {
			return nil
		}
		if model.Is(lastErr, model.PersistenceTransient) {
			if b != nil {
				b.Publish(bus.Event{
					Type:       bus.PersistenceRetried,
					WorkflowID: workflowID,
					Payload:    map[string]interface{}{"error": lastErr.Error()},
				})
			}
			return retry.RetryableError(lastErr)
		}
		return lastErr
	})
	if err == nil {
		return nil
	}
	if model.Is(lastErr, model.PersistenceTransient) {
		if b != nil {
			b.Publish(bus.Event{
				Type:       bus.PersistenceDegraded,
				WorkflowID: workflowID,
				Payload:    map[string]interface{}{"error": lastErr.Error()},
			})
		}
		return model.NewError(model.PersistenceTerminal, "persistence retries exhausted", lastErr)
	}
	return err
}
