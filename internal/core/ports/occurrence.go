package ports

import (
	"context"

	"github.com/atvirokodosprendimai/incidentd/internal/core/domain"
)

type OccurrenceStore interface {
	Save(ctx context.Context, occ domain.Occurrence) (domain.Occurrence, error)
	FindByID(ctx context.Context, id string) (domain.Occurrence, error)
	FindByIDForUpdate(ctx context.Context, id string) (domain.Occurrence, error)
	FindByExternalID(ctx context.Context, externalID string) (domain.Occurrence, error)
	List(ctx context.Context, filter domain.OccurrenceFilter) ([]domain.Occurrence, error)
}
