package ports

import (
	"context"

	"github.com/atvirokodosprendimai/incidentd/internal/core/domain"
)

type DispatchStore interface {
	Save(ctx context.Context, d domain.Dispatch) (domain.Dispatch, error)
	FindByID(ctx context.Context, id string) (domain.Dispatch, error)
	FindByIDForUpdate(ctx context.Context, id string) (domain.Dispatch, error)
	FindByOccurrenceIDAndResourceCode(ctx context.Context, occurrenceID, resourceCode string) (domain.Dispatch, error)
	// FindByResourceCode returns every dispatch of the resource, newest first,
	// locking the rows when called inside a transaction.
	FindByResourceCode(ctx context.Context, resourceCode string) ([]domain.Dispatch, error)
	ListByOccurrence(ctx context.Context, occurrenceID string) ([]domain.Dispatch, error)
}
