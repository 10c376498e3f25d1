package sqlite

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/atvirokodosprendimai/incidentd/internal/adapters/sqlite/gormsqlite"
	"github.com/atvirokodosprendimai/incidentd/internal/core/domain"
	"github.com/google/uuid"
)

type AuditLogRepository struct {
	db *gormsqlite.DB
}

func NewAuditLogRepository(db *gormsqlite.DB) *AuditLogRepository {
	return &AuditLogRepository{db: db}
}

func (r *AuditLogRepository) Append(ctx context.Context, entry domain.AuditEntry) error {
	now := time.Now().UTC()
	if entry.ID == "" {
		entry.ID = uuid.NewString()
	}
	if entry.OccurredAt.IsZero() {
		entry.OccurredAt = now
	}
	data := entry.EventData
	if len(data) == 0 {
		data = json.RawMessage(`{}`)
	}

	row := auditLogModel{
		ID:            entry.ID,
		AggregateType: entry.AggregateType,
		AggregateID:   entry.AggregateID,
		EventType:     entry.EventType,
		EventData:     string(data),
		OccurredAt:    entry.OccurredAt.UTC(),
		CreatedAt:     now,
	}
	err := r.db.WriteTX(ctx, func(tx *gormsqlite.Tx) error {
		return tx.Create(&row).Error
	})
	if err != nil {
		return fmt.Errorf("append audit log: %w", err)
	}
	return nil
}

func (r *AuditLogRepository) List(ctx context.Context, filter domain.AuditFilter) ([]domain.AuditEntry, error) {
	var rows []auditLogModel
	err := r.db.ReadTX(ctx, func(tx *gormsqlite.Tx) error {
		query := tx.Model(&auditLogModel{})
		if filter.AggregateType != "" {
			query = query.Where("aggregate_type = ?", filter.AggregateType)
		}
		if filter.AggregateID != "" {
			query = query.Where("aggregate_id = ?", filter.AggregateID)
		}
		if filter.EventType != "" {
			query = query.Where("event_type = ?", filter.EventType)
		}
		limit := filter.Limit
		if limit <= 0 {
			limit = 100
		}
		return query.Order("occurred_at ASC").Order("created_at ASC").Limit(limit).Find(&rows).Error
	})
	if err != nil {
		return nil, fmt.Errorf("list audit logs: %w", err)
	}

	result := make([]domain.AuditEntry, 0, len(rows))
	for _, row := range rows {
		result = append(result, domain.AuditEntry{
			ID:            row.ID,
			AggregateType: row.AggregateType,
			AggregateID:   row.AggregateID,
			EventType:     row.EventType,
			EventData:     json.RawMessage(row.EventData),
			OccurredAt:    row.OccurredAt.UTC(),
		})
	}
	return result, nil
}
