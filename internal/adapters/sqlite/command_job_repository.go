package sqlite

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/atvirokodosprendimai/incidentd/internal/adapters/sqlite/gormsqlite"
	"github.com/atvirokodosprendimai/incidentd/internal/core/domain"
)

// CommandJobRepository is the durable delivery queue feeding the worker.
type CommandJobRepository struct {
	db *gormsqlite.DB
}

func NewCommandJobRepository(db *gormsqlite.DB) *CommandJobRepository {
	return &CommandJobRepository{db: db}
}

func (r *CommandJobRepository) Enqueue(ctx context.Context, cmd domain.InboundCommand) (domain.CommandJob, error) {
	payload, err := json.Marshal(cmd)
	if err != nil {
		return domain.CommandJob{}, fmt.Errorf("encode command job: %w", err)
	}
	now := time.Now().UTC()
	row := commandJobModel{
		CommandID:     cmd.CommandID,
		PayloadJSON:   string(payload),
		Status:        string(domain.JobPending),
		NextAttemptAt: now,
		CreatedAt:     now,
	}
	err = r.db.WriteTX(ctx, func(tx *gormsqlite.Tx) error {
		return tx.Create(&row).Error
	})
	if err != nil {
		return domain.CommandJob{}, fmt.Errorf("enqueue command job: %w", err)
	}
	return row.toDomain(), nil
}

func (r *CommandJobRepository) FetchDue(ctx context.Context, now time.Time, limit int) ([]domain.CommandJob, error) {
	if limit <= 0 {
		limit = 50
	}
	var rows []commandJobModel
	err := r.db.ReadTX(ctx, func(tx *gormsqlite.Tx) error {
		return tx.Where("status = ? AND next_attempt_at <= ?", string(domain.JobPending), now.UTC()).
			Order("id ASC").
			Limit(limit).
			Find(&rows).Error
	})
	if err != nil {
		return nil, fmt.Errorf("fetch due command jobs: %w", err)
	}

	result := make([]domain.CommandJob, 0, len(rows))
	for _, row := range rows {
		result = append(result, row.toDomain())
	}
	return result, nil
}

func (r *CommandJobRepository) MarkDone(ctx context.Context, id int64) error {
	now := time.Now().UTC()
	return r.update(ctx, id, "mark command job done", map[string]any{
		"status":      string(domain.JobDone),
		"finished_at": &now,
		"last_error":  "",
	})
}

func (r *CommandJobRepository) MarkRetry(ctx context.Context, id int64, attempts int, nextAttemptAt time.Time, errMsg string) error {
	return r.update(ctx, id, "mark command job retry", map[string]any{
		"attempts":        attempts,
		"next_attempt_at": nextAttemptAt.UTC(),
		"last_error":      errMsg,
	})
}

func (r *CommandJobRepository) MarkDead(ctx context.Context, id int64, attempts int, errMsg string) error {
	now := time.Now().UTC()
	return r.update(ctx, id, "mark command job dead", map[string]any{
		"status":      string(domain.JobDead),
		"attempts":    attempts,
		"last_error":  errMsg,
		"finished_at": &now,
	})
}

func (r *CommandJobRepository) update(ctx context.Context, id int64, op string, values map[string]any) error {
	err := r.db.WriteTX(ctx, func(tx *gormsqlite.Tx) error {
		return tx.Model(&commandJobModel{}).Where("id = ?", id).Updates(values).Error
	})
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	return nil
}

func (m commandJobModel) toDomain() domain.CommandJob {
	job := domain.CommandJob{
		ID:            m.ID,
		CommandID:     m.CommandID,
		PayloadJSON:   json.RawMessage(m.PayloadJSON),
		Status:        domain.JobStatus(m.Status),
		Attempts:      m.Attempts,
		NextAttemptAt: m.NextAttemptAt.UTC(),
		LastError:     m.LastError,
		CreatedAt:     m.CreatedAt.UTC(),
	}
	if m.FinishedAt != nil {
		at := m.FinishedAt.UTC()
		job.FinishedAt = &at
	}
	return job
}
