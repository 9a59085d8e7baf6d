package shared

import (
	"context"
	"time"
)

// DedupStore remembers webhook delivery keys that were already processed
// so that provider retries of the same delivery become no-ops. Keys are
// composed by the caller as "<source>:<eventID>".
type DedupStore interface {
	// MarkProcessed records a delivery key with a TTL. It returns true if
	// the key was newly recorded and false if it was already present.
	MarkProcessed(ctx context.Context, key string, ttl time.Duration) (bool, error)

	// IsProcessed reports whether a delivery key is already recorded.
	IsProcessed(ctx context.Context, key string) (bool, error)

	// Close releases store resources.
	Close() error
}
