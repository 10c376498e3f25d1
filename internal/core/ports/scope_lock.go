package ports

import (
	"context"
	"errors"
	"time"
)

var ErrLockNotObtained = errors.New("scope lock not obtained")

type ScopeLocker interface {
	// Obtain returns a release func, or ErrLockNotObtained when another
	// holder owns key.
	Obtain(ctx context.Context, key string, ttl time.Duration) (func(context.Context) error, error)
}
