package usecase

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/atvirokodosprendimai/incidentd/internal/core/domain"
	"github.com/atvirokodosprendimai/incidentd/internal/core/ports"
)

// AuditTrail records entity changes. Writes are best-effort: a failed append
// is logged and never fails the caller.
type AuditTrail struct {
	store ports.AuditLogStore
	log   zerolog.Logger
	now   func() time.Time
}

func NewAuditTrail(store ports.AuditLogStore, log zerolog.Logger) *AuditTrail {
	return &AuditTrail{
		store: store,
		log:   log.With().Str("component", "audit").Logger(),
		now:   func() time.Time { return time.Now().UTC() },
	}
}

// Log records action on an entity with optional before/after snapshots and
// metadata.
func (a *AuditTrail) Log(ctx context.Context, entityType, entityID, action string, before, after, meta map[string]any) {
	a.append(ctx, entityType, entityID, domain.AuditEventData{
		Action: action,
		Before: before,
		After:  after,
		Meta:   meta,
	})
}

func (a *AuditTrail) LogStatusChange(ctx context.Context, entityType, entityID, action, from, to string) {
	change := domain.StatusChange(action, from, to)
	a.Log(ctx, entityType, entityID, change.Action, change.Before, change.After, change.Meta)
}

func (a *AuditTrail) append(ctx context.Context, entityType, entityID string, data domain.AuditEventData) {
	raw, err := json.Marshal(data)
	if err != nil {
		a.warn(entityType, entityID, data.Action, err)
		return
	}
	entry := domain.AuditEntry{
		ID:            uuid.NewString(),
		AggregateType: entityType,
		AggregateID:   entityID,
		EventType:     domain.EventStatusChanged,
		EventData:     raw,
		OccurredAt:    a.now(),
	}
	if err := a.store.Append(ctx, entry); err != nil {
		a.warn(entityType, entityID, data.Action, err)
	}
}

func (a *AuditTrail) warn(entityType, entityID, action string, err error) {
	a.log.Warn().Err(err).
		Str("entity_type", entityType).
		Str("entity_id", entityID).
		Str("action", action).
		Msg("audit write failed")
}

func (a *AuditTrail) List(ctx context.Context, filter domain.AuditFilter) ([]domain.AuditEntry, error) {
	switch filter.AggregateType {
	case "", domain.AggregateOccurrence, domain.AggregateDispatch:
	default:
		return nil, fmt.Errorf("%w: unknown aggregate type %q", domain.ErrInvalidArgument, filter.AggregateType)
	}
	if filter.Limit <= 0 {
		filter.Limit = 100
	}
	if filter.Limit > 1000 {
		filter.Limit = 1000
	}
	return a.store.List(ctx, filter)
}
