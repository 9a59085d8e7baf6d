package cache

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/storefront/integration/internal/domain/webhook"
)

// EventMarker keeps the most recent delivery seen per source. It is an
// operational signal: a stale or missing marker means a source has gone
// quiet, which usually points at a misconfigured provider callback.
type EventMarker interface {
	// Mark records eventID as the latest delivery for source.
	Mark(ctx context.Context, source webhook.Source, eventID string) error

	// Last returns the latest recorded delivery for source, or an empty
	// string when no delivery was seen within the marker TTL.
	Last(ctx context.Context, source webhook.Source) (string, error)
}

// RedisEventMarker stores markers as plain keys with a TTL.
type RedisEventMarker struct {
	client    *redis.Client
	keyPrefix string
	ttl       time.Duration
}

// NewRedisEventMarker creates a marker on an existing Redis client.
func NewRedisEventMarker(client *redis.Client, ttl time.Duration) *RedisEventMarker {
	return &RedisEventMarker{
		client:    client,
		keyPrefix: "webhook:last:",
		ttl:       ttl,
	}
}

func (m *RedisEventMarker) Mark(ctx context.Context, source webhook.Source, eventID string) error {
	if err := m.client.Set(ctx, m.keyPrefix+string(source), eventID, m.ttl).Err(); err != nil {
		return fmt.Errorf("failed to record event marker: %w", err)
	}
	return nil
}

func (m *RedisEventMarker) Last(ctx context.Context, source webhook.Source) (string, error) {
	val, err := m.client.Get(ctx, m.keyPrefix+string(source)).Result()
	if errors.Is(err, redis.Nil) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("failed to read event marker: %w", err)
	}
	return val, nil
}

type markerEntry struct {
	eventID   string
	expiresAt time.Time
}

// InMemoryEventMarker is the single-instance counterpart of
// RedisEventMarker.
type InMemoryEventMarker struct {
	mu      sync.RWMutex
	ttl     time.Duration
	entries map[webhook.Source]markerEntry
}

func NewInMemoryEventMarker(ttl time.Duration) *InMemoryEventMarker {
	return &InMemoryEventMarker{
		ttl:     ttl,
		entries: make(map[webhook.Source]markerEntry),
	}
}

func (m *InMemoryEventMarker) Mark(ctx context.Context, source webhook.Source, eventID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.entries[source] = markerEntry{eventID: eventID, expiresAt: time.Now().Add(m.ttl)}
	return nil
}

func (m *InMemoryEventMarker) Last(ctx context.Context, source webhook.Source) (string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	e, exists := m.entries[source]
	if !exists || time.Now().After(e.expiresAt) {
		return "", nil
	}
	return e.eventID, nil
}

var (
	_ EventMarker = (*RedisEventMarker)(nil)
	_ EventMarker = (*InMemoryEventMarker)(nil)
)
