package ports

import (
	"context"

	"github.com/atvirokodosprendimai/incidentd/internal/core/domain"
)

type AuditLogStore interface {
	Append(ctx context.Context, entry domain.AuditEntry) error
	List(ctx context.Context, filter domain.AuditFilter) ([]domain.AuditEntry, error)
}
