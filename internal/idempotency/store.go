package idempotency

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

const (
	keyPrefix  = "idempotency:reserve:"
	pending    = "pending"
	DefaultTTL = 24 * time.Hour
)

// Store remembers Idempotency-Key values of reserve requests so a retried request cannot
// debit seats twice.
type Store struct {
	client redis.Cmdable
	ttl    time.Duration
}

func NewStore(client redis.Cmdable, ttl time.Duration) *Store {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &Store{client: client, ttl: ttl}
}

// Claim records key if it is new. false means another request already holds it.
func (s *Store) Claim(ctx context.Context, key string) (bool, error) {
	ok, err := s.client.SetNX(ctx, keyPrefix+key, pending, s.ttl).Result()
	if err != nil {
		return false, fmt.Errorf("claim idempotency key: %w", err)
	}
	return ok, nil
}

// Complete stores the reservation id created under key, keeping the original expiry.
func (s *Store) Complete(ctx context.Context, key, reservationID string) error {
	if err := s.client.Set(ctx, keyPrefix+key, reservationID, redis.KeepTTL).Err(); err != nil {
		return fmt.Errorf("complete idempotency key: %w", err)
	}
	return nil
}

// Lookup returns the reservation id recorded for key. It is empty while the first request
// is still in flight or when the key is unknown.
func (s *Store) Lookup(ctx context.Context, key string) (string, error) {
	v, err := s.client.Get(ctx, keyPrefix+key).Result()
	if errors.Is(err, redis.Nil) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("lookup idempotency key: %w", err)
	}
	if v == pending {
		return "", nil
	}
	return v, nil
}

// Release forgets key so the client may retry a request that failed.
func (s *Store) Release(ctx context.Context, key string) error {
	if err := s.client.Del(ctx, keyPrefix+key).Err(); err != nil {
		return fmt.Errorf("release idempotency key: %w", err)
	}
	return nil
}
