package cache

import (
	"context"
	"errors"

	"github.com/atvirokodosprendimai/incidentd/internal/core/ports"
)

// Multi invalidates every backend and joins their errors. One failing
// backend does not stop the others.
type Multi []ports.CacheInvalidator

func (m Multi) Invalidate(ctx context.Context) error {
	var errs []error
	for _, inv := range m {
		if err := inv.Invalidate(ctx); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
