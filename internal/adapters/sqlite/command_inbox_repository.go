package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/atvirokodosprendimai/incidentd/internal/adapters/sqlite/gormsqlite"
	"github.com/atvirokodosprendimai/incidentd/internal/core/domain"
	"github.com/google/uuid"
	"gorm.io/gorm"
)

type CommandInboxRepository struct {
	db *gormsqlite.DB
}

func NewCommandInboxRepository(db *gormsqlite.DB) *CommandInboxRepository {
	return &CommandInboxRepository{db: db}
}

func (r *CommandInboxRepository) FindByIDForUpdate(ctx context.Context, commandID string) (domain.CommandRecord, error) {
	var row commandInboxModel
	err := r.db.WriteTX(ctx, func(tx *gormsqlite.Tx) error {
		return forUpdate(tx, "command_inbox").Where("command_id = ?", commandID).Take(&row).Error
	})
	return row.result(err, "id "+commandID)
}

func (r *CommandInboxRepository) FindByIdentityForUpdate(ctx context.Context, idempotencyKey, commandType, scopeKey string) (domain.CommandRecord, error) {
	var row commandInboxModel
	err := r.db.WriteTX(ctx, func(tx *gormsqlite.Tx) error {
		return forUpdate(tx, "command_inbox").
			Where("idempotency_key = ? AND command_type = ? AND scope_key = ?", idempotencyKey, commandType, scopeKey).
			Take(&row).Error
	})
	return row.result(err, fmt.Sprintf("key %q type %s scope %q", idempotencyKey, commandType, scopeKey))
}

func (r *CommandInboxRepository) Insert(ctx context.Context, rec domain.CommandRecord) (domain.CommandRecord, error) {
	now := time.Now().UTC()
	if rec.CommandID == "" {
		rec.CommandID = uuid.NewString()
	}
	if rec.Status == "" {
		rec.Status = domain.CommandReceived
	}
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = now
	}
	rec.UpdatedAt = rec.CreatedAt
	payload := rec.Payload
	if len(payload) == 0 {
		payload = json.RawMessage(`{}`)
	}

	row := commandInboxModel{
		CommandID:      rec.CommandID,
		IdempotencyKey: rec.IdempotencyKey,
		Source:         rec.Source,
		CommandType:    rec.CommandType,
		ScopeKey:       rec.ScopeKey,
		PayloadHash:    rec.PayloadHash,
		Payload:        string(payload),
		Status:         string(rec.Status),
		ExpiresAt:      rec.ExpiresAt.UTC(),
		CreatedAt:      rec.CreatedAt.UTC(),
		UpdatedAt:      rec.UpdatedAt.UTC(),
	}

	err := r.db.WriteTX(ctx, func(tx *gormsqlite.Tx) error {
		return tx.Create(&row).Error
	})
	if err != nil {
		if isUniqueViolation(err) {
			return domain.CommandRecord{}, domain.ErrDuplicateCommand
		}
		return domain.CommandRecord{}, fmt.Errorf("insert command: %w", err)
	}
	return row.toDomain()
}

func (r *CommandInboxRepository) Claim(ctx context.Context, commandID string, from []domain.CommandStatus) (bool, error) {
	statuses := make([]string, 0, len(from))
	for _, s := range from {
		statuses = append(statuses, string(s))
	}

	var affected int64
	err := r.db.WriteTX(ctx, func(tx *gormsqlite.Tx) error {
		res := tx.Model(&commandInboxModel{}).
			Where("command_id = ? AND status IN ?", commandID, statuses).
			Updates(map[string]any{
				"status":     string(domain.CommandProcessing),
				"updated_at": time.Now().UTC(),
			})
		affected = res.RowsAffected
		return res.Error
	})
	if err != nil {
		return false, fmt.Errorf("claim command: %w", err)
	}
	return affected > 0, nil
}

func (r *CommandInboxRepository) Complete(ctx context.Context, commandID string, result domain.CommandResult, at time.Time) error {
	encoded, err := json.Marshal(result)
	if err != nil {
		return fmt.Errorf("encode command result: %w", err)
	}
	at = at.UTC()
	return r.update(ctx, commandID, "complete command", map[string]any{
		"status":        string(domain.CommandSucceeded),
		"result":        sql.NullString{String: string(encoded), Valid: !result.IsZero()},
		"error_message": sql.NullString{},
		"processed_at":  &at,
		"updated_at":    at,
	})
}

func (r *CommandInboxRepository) Fail(ctx context.Context, commandID string, message string, at time.Time) error {
	at = at.UTC()
	return r.update(ctx, commandID, "fail command", map[string]any{
		"status":        string(domain.CommandFailed),
		"error_message": sql.NullString{String: message, Valid: true},
		"processed_at":  &at,
		"updated_at":    at,
	})
}

func (r *CommandInboxRepository) update(ctx context.Context, commandID, op string, values map[string]any) error {
	var affected int64
	err := r.db.WriteTX(ctx, func(tx *gormsqlite.Tx) error {
		res := tx.Model(&commandInboxModel{}).Where("command_id = ?", commandID).Updates(values)
		affected = res.RowsAffected
		return res.Error
	})
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	if affected == 0 {
		return fmt.Errorf("%s: %w: command %s", op, domain.ErrNotFound, commandID)
	}
	return nil
}

func (r *CommandInboxRepository) Get(ctx context.Context, commandID string) (domain.CommandRecord, error) {
	var row commandInboxModel
	err := r.db.ReadTX(ctx, func(tx *gormsqlite.Tx) error {
		return tx.Where("command_id = ?", commandID).Take(&row).Error
	})
	return row.result(err, "id "+commandID)
}

func (r *CommandInboxRepository) PurgeExpired(ctx context.Context, before time.Time, statuses []domain.CommandStatus) (int64, error) {
	values := make([]string, 0, len(statuses))
	for _, s := range statuses {
		values = append(values, string(s))
	}

	var deleted int64
	err := r.db.WriteTX(ctx, func(tx *gormsqlite.Tx) error {
		res := tx.Where("expires_at < ? AND status IN ?", before.UTC(), values).Delete(&commandInboxModel{})
		deleted = res.RowsAffected
		return res.Error
	})
	if err != nil {
		return 0, fmt.Errorf("purge expired commands: %w", err)
	}
	return deleted, nil
}

func (m commandInboxModel) result(err error, what string) (domain.CommandRecord, error) {
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return domain.CommandRecord{}, fmt.Errorf("%w: command with %s", domain.ErrNotFound, what)
	}
	if err != nil {
		return domain.CommandRecord{}, fmt.Errorf("load command: %w", err)
	}
	return m.toDomain()
}

func (m commandInboxModel) toDomain() (domain.CommandRecord, error) {
	status, err := domain.ParseCommandStatus(m.Status)
	if err != nil {
		return domain.CommandRecord{}, fmt.Errorf("command %s: %w", m.CommandID, err)
	}

	rec := domain.CommandRecord{
		CommandID:      m.CommandID,
		IdempotencyKey: m.IdempotencyKey,
		Source:         m.Source,
		CommandType:    m.CommandType,
		ScopeKey:       m.ScopeKey,
		PayloadHash:    m.PayloadHash,
		Payload:        json.RawMessage(m.Payload),
		Status:         status,
		ErrorMessage:   m.ErrorMessage.String,
		ExpiresAt:      m.ExpiresAt.UTC(),
		CreatedAt:      m.CreatedAt.UTC(),
		UpdatedAt:      m.UpdatedAt.UTC(),
	}
	if m.ProcessedAt != nil {
		at := m.ProcessedAt.UTC()
		rec.ProcessedAt = &at
	}
	if m.Result.Valid && m.Result.String != "" {
		if err := json.Unmarshal([]byte(m.Result.String), &rec.Result); err != nil {
			return domain.CommandRecord{}, fmt.Errorf("command %s: %w", m.CommandID, err)
		}
	}
	return rec, nil
}
