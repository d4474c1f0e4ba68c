package payments

import (
	"context"
	"errors"
	"time"

	"github.com/iandrade/storefront-backend/pkg/redis"
)

const webhookConsumer = "evt:processed:payment-webhook"

// IdempotencyGuard tracks processed webhook event IDs via Redis SETNX with a
// TTL, so provider redeliveries collapse into a single transition.
type IdempotencyGuard struct {
	store redis.IdempotencyStore
	ttl   time.Duration
}

// NewIdempotencyGuard builds a webhook dedup guard.
func NewIdempotencyGuard(store redis.IdempotencyStore, ttl time.Duration) (*IdempotencyGuard, error) {
	if store == nil {
		return nil, errors.New("idempotency store is required")
	}
	if ttl <= 0 {
		return nil, errors.New("ttl must be positive")
	}
	return &IdempotencyGuard{store: store, ttl: ttl}, nil
}

// CheckAndMarkProcessed returns true when the event was already handled and
// otherwise marks it as processed for the configured TTL.
func (g *IdempotencyGuard) CheckAndMarkProcessed(ctx context.Context, eventID string) (bool, error) {
	if eventID == "" {
		return false, errors.New("event id is required")
	}
	set, err := g.store.SetNX(ctx, g.store.IdempotencyKey(webhookConsumer, eventID), "1", g.ttl)
	if err != nil {
		return false, err
	}
	return !set, nil
}

// Clear removes the processed mark so a redelivery can retry after a failure.
func (g *IdempotencyGuard) Clear(ctx context.Context, eventID string) error {
	if eventID == "" {
		return errors.New("event id is required")
	}
	return g.store.Del(ctx, g.store.IdempotencyKey(webhookConsumer, eventID))
}
