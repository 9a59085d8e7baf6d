package cache

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/storefront/integration/internal/domain/shared"
)

// RedisDedupStore implements shared.DedupStore on Redis. It is the
// store to use when several ingest instances share webhook traffic.
type RedisDedupStore struct {
	client    *redis.Client
	keyPrefix string
}

// NewRedisDedupStore creates a dedup store on an existing Redis client.
// The client lifecycle stays with the caller; Close here is a no-op.
func NewRedisDedupStore(client *redis.Client, keyPrefix string) *RedisDedupStore {
	if keyPrefix == "" {
		keyPrefix = "webhook:dedup:"
	}
	return &RedisDedupStore{
		client:    client,
		keyPrefix: keyPrefix,
	}
}

// MarkProcessed records a delivery key with a TTL using SETNX, so the
// check and the write are a single atomic operation.
func (s *RedisDedupStore) MarkProcessed(ctx context.Context, key string, ttl time.Duration) (bool, error) {
	set, err := s.client.SetNX(ctx, s.keyPrefix+key, "1", ttl).Result()
	if err != nil {
		return false, fmt.Errorf("failed to mark delivery as processed: %w", err)
	}
	return set, nil
}

// IsProcessed reports whether a delivery key is already recorded.
func (s *RedisDedupStore) IsProcessed(ctx context.Context, key string) (bool, error) {
	exists, err := s.client.Exists(ctx, s.keyPrefix+key).Result()
	if err != nil {
		return false, fmt.Errorf("failed to check delivery key: %w", err)
	}
	return exists > 0, nil
}

// Close implements shared.DedupStore. The Redis client is shared with
// other components and is closed by its owner.
func (s *RedisDedupStore) Close() error {
	return nil
}

var _ shared.DedupStore = (*RedisDedupStore)(nil)
