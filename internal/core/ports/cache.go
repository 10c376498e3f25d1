package ports

import "context"

// CacheInvalidator drops derived occurrence list caches.
type CacheInvalidator interface {
	Invalidate(ctx context.Context) error
}
