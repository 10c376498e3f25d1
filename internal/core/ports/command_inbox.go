package ports

import (
	"context"
	"time"

	"github.com/atvirokodosprendimai/incidentd/internal/core/domain"
)

type CommandInbox interface {
	FindByIDForUpdate(ctx context.Context, commandID string) (domain.CommandRecord, error)
	FindByIdentityForUpdate(ctx context.Context, idempotencyKey, commandType, scopeKey string) (domain.CommandRecord, error)
	// Insert returns domain.ErrDuplicateCommand when the identity already exists.
	Insert(ctx context.Context, rec domain.CommandRecord) (domain.CommandRecord, error)
	// Claim moves the row to PROCESSING with a single conditional update and
	// reports whether a row was affected.
	Claim(ctx context.Context, commandID string, from []domain.CommandStatus) (bool, error)
	Complete(ctx context.Context, commandID string, result domain.CommandResult, at time.Time) error
	Fail(ctx context.Context, commandID string, message string, at time.Time) error
	Get(ctx context.Context, commandID string) (domain.CommandRecord, error)
	PurgeExpired(ctx context.Context, before time.Time, statuses []domain.CommandStatus) (int64, error)
}
