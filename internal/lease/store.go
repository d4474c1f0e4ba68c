package lease

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	pkgerrors "github.com/iandrade/storefront-backend/pkg/errors"
	"github.com/iandrade/storefront-backend/pkg/redis"
	"github.com/google/uuid"
)

// Line is one reserved (variant, qty) pair inside a lease payload.
type Line struct {
	VariantID uuid.UUID `json:"variant_id"`
	Qty       int       `json:"qty"`
}

// Lease is the TTL-backed record of a live reservation. It exists only in the
// key-value store; the store's own expiry is the sole authority on when the
// reservation dies.
type Lease struct {
	ReservationID string    `json:"reservation_id"`
	UserID        uuid.UUID `json:"user_id"`
	Lines         []Line    `json:"lines"`
	CreatedAt     time.Time `json:"created_at"`
	ExpiresAt     time.Time `json:"expires_at"`
}

// Store persists reservation leases.
type Store interface {
	Put(ctx context.Context, lease Lease, ttl time.Duration) error
	// Get returns (nil, false, nil) when the lease is absent; absence is a
	// valid state (expired or already consumed), not an error.
	Get(ctx context.Context, reservationID string) (*Lease, bool, error)
	Delete(ctx context.Context, reservationID string) error
	// ListActive returns every lease that has not expired yet.
	ListActive(ctx context.Context) ([]Lease, error)
}

type redisStore interface {
	Set(ctx context.Context, key string, value any, ttl time.Duration) error
	Get(ctx context.Context, key string) (string, error)
	Del(ctx context.Context, keys ...string) error
	ScanKeys(ctx context.Context, pattern string) ([]string, error)
	LeaseKey(reservationID string) string
	LeaseKeyPattern() string
}

type store struct {
	client redisStore
}

// NewStore builds a Redis-backed lease store.
func NewStore(client redisStore) (Store, error) {
	if client == nil {
		return nil, fmt.Errorf("redis client required")
	}
	return &store{client: client}, nil
}

func (s *store) Put(ctx context.Context, l Lease, ttl time.Duration) error {
	if l.ReservationID == "" {
		return pkgerrors.New(pkgerrors.CodeValidation, "reservation id required")
	}
	if len(l.Lines) == 0 {
		return pkgerrors.New(pkgerrors.CodeValidation, "lease requires at least one line")
	}
	if ttl <= 0 {
		return pkgerrors.New(pkgerrors.CodeValidation, "lease ttl must be positive")
	}
	payload, err := json.Marshal(l)
	if err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeInternal, err, "marshal lease")
	}
	if err := s.client.Set(ctx, s.client.LeaseKey(l.ReservationID), payload, ttl); err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "store lease")
	}
	return nil
}

func (s *store) Get(ctx context.Context, reservationID string) (*Lease, bool, error) {
	if reservationID == "" {
		return nil, false, pkgerrors.New(pkgerrors.CodeValidation, "reservation id required")
	}
	raw, err := s.client.Get(ctx, s.client.LeaseKey(reservationID))
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, false, nil
		}
		return nil, false, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load lease")
	}
	var l Lease
	if err := json.Unmarshal([]byte(raw), &l); err != nil {
		return nil, false, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "decode lease payload")
	}
	return &l, true, nil
}

func (s *store) Delete(ctx context.Context, reservationID string) error {
	if reservationID == "" {
		return pkgerrors.New(pkgerrors.CodeValidation, "reservation id required")
	}
	if err := s.client.Del(ctx, s.client.LeaseKey(reservationID)); err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "delete lease")
	}
	return nil
}

func (s *store) ListActive(ctx context.Context) ([]Lease, error) {
	keys, err := s.client.ScanKeys(ctx, s.client.LeaseKeyPattern())
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "scan leases")
	}
	leases := make([]Lease, 0, len(keys))
	for _, key := range keys {
		raw, err := s.client.Get(ctx, key)
		if err != nil {
			// Key can expire between SCAN and GET.
			if errors.Is(err, redis.Nil) {
				continue
			}
			return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load lease")
		}
		var l Lease
		if err := json.Unmarshal([]byte(raw), &l); err != nil {
			return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "decode lease payload")
		}
		leases = append(leases, l)
	}
	return leases, nil
}
