package sqlite

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/atvirokodosprendimai/incidentd/internal/adapters/sqlite/gormsqlite"
	"github.com/atvirokodosprendimai/incidentd/internal/core/domain"
	"github.com/google/uuid"
	"gorm.io/gorm"
)

const dispatchSelect = `d.id, d.occurrence_id, d.resource_code, d.status_code, d.created_at, d.updated_at,
	ds.name AS status_name, ds.is_active AS is_active`

type DispatchRepository struct {
	db *gormsqlite.DB
}

func NewDispatchRepository(db *gormsqlite.DB) *DispatchRepository {
	return &DispatchRepository{db: db}
}

func dispatchQuery(tx *gorm.DB) *gorm.DB {
	return tx.Table("dispatches AS d").
		Select(dispatchSelect).
		Joins("LEFT JOIN dispatch_status ds ON ds.code = d.status_code")
}

func (r *DispatchRepository) Save(ctx context.Context, d domain.Dispatch) (domain.Dispatch, error) {
	now := time.Now().UTC()
	if d.ID == "" {
		d.ID = uuid.NewString()
	}
	if d.CreatedAt.IsZero() {
		d.CreatedAt = now
	}
	d.UpdatedAt = now

	row := dispatchModel{
		ID:           d.ID,
		OccurrenceID: d.OccurrenceID,
		ResourceCode: d.ResourceCode,
		StatusCode:   string(d.StatusCode),
		CreatedAt:    d.CreatedAt.UTC(),
		UpdatedAt:    d.UpdatedAt,
	}

	var saved domain.Dispatch
	err := r.db.WriteTX(ctx, func(tx *gormsqlite.Tx) error {
		res := tx.Model(&dispatchModel{}).Where("id = ?", row.ID).Updates(map[string]any{
			"status_code": row.StatusCode,
			"updated_at":  row.UpdatedAt,
		})
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			if err := tx.Create(&row).Error; err != nil {
				if isUniqueViolation(err) {
					return fmt.Errorf("%w: resource %s on occurrence %s", domain.ErrDuplicateDispatch, d.ResourceCode, d.OccurrenceID)
				}
				return err
			}
		}

		var view dispatchView
		if err := dispatchQuery(tx.DB).Where("d.id = ?", d.ID).Take(&view).Error; err != nil {
			return fmt.Errorf("reload dispatch: %w", err)
		}
		saved = view.toDomain()
		return nil
	})
	if err != nil {
		return domain.Dispatch{}, fmt.Errorf("save dispatch: %w", err)
	}
	return saved, nil
}

func (r *DispatchRepository) FindByID(ctx context.Context, id string) (domain.Dispatch, error) {
	var view dispatchView
	err := r.db.ReadTX(ctx, func(tx *gormsqlite.Tx) error {
		return dispatchQuery(tx.DB).Where("d.id = ?", id).Take(&view).Error
	})
	return view.result(err, "id "+id)
}

func (r *DispatchRepository) FindByIDForUpdate(ctx context.Context, id string) (domain.Dispatch, error) {
	var view dispatchView
	err := r.db.WriteTX(ctx, func(tx *gormsqlite.Tx) error {
		return dispatchQuery(forUpdate(tx, "d")).Where("d.id = ?", id).Take(&view).Error
	})
	return view.result(err, "id "+id)
}

func (r *DispatchRepository) FindByOccurrenceIDAndResourceCode(ctx context.Context, occurrenceID, resourceCode string) (domain.Dispatch, error) {
	var view dispatchView
	err := r.db.ReadTX(ctx, func(tx *gormsqlite.Tx) error {
		return dispatchQuery(tx.DB).
			Where("d.occurrence_id = ? AND d.resource_code = ?", occurrenceID, resourceCode).
			Take(&view).Error
	})
	return view.result(err, "resource "+resourceCode+" on occurrence "+occurrenceID)
}

func (r *DispatchRepository) FindByResourceCode(ctx context.Context, resourceCode string) ([]domain.Dispatch, error) {
	var rows []dispatchView
	load := func(tx *gorm.DB) error {
		return dispatchQuery(tx).
			Where("d.resource_code = ?", resourceCode).
			Order("d.created_at DESC").
			Order("d.id DESC").
			Find(&rows).Error
	}

	var err error
	if _, inTx := gormsqlite.TxFromContext(ctx); inTx {
		err = r.db.WriteTX(ctx, func(tx *gormsqlite.Tx) error { return load(forUpdate(tx, "d")) })
	} else {
		err = r.db.ReadTX(ctx, func(tx *gormsqlite.Tx) error { return load(tx.DB) })
	}
	if err != nil {
		return nil, fmt.Errorf("find dispatches by resource: %w", err)
	}
	return toDispatches(rows), nil
}

func (r *DispatchRepository) ListByOccurrence(ctx context.Context, occurrenceID string) ([]domain.Dispatch, error) {
	var rows []dispatchView
	err := r.db.ReadTX(ctx, func(tx *gormsqlite.Tx) error {
		return dispatchQuery(tx.DB).
			Where("d.occurrence_id = ?", occurrenceID).
			Order("d.created_at ASC").
			Order("d.id ASC").
			Find(&rows).Error
	})
	if err != nil {
		return nil, fmt.Errorf("list dispatches: %w", err)
	}
	return toDispatches(rows), nil
}

func toDispatches(rows []dispatchView) []domain.Dispatch {
	result := make([]domain.Dispatch, 0, len(rows))
	for _, row := range rows {
		result = append(result, row.toDomain())
	}
	return result
}

func (v dispatchView) result(err error, what string) (domain.Dispatch, error) {
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return domain.Dispatch{}, fmt.Errorf("%w: dispatch with %s", domain.ErrNotFound, what)
	}
	if err != nil {
		return domain.Dispatch{}, fmt.Errorf("load dispatch: %w", err)
	}
	return v.toDomain(), nil
}

func (v dispatchView) toDomain() domain.Dispatch {
	return domain.Dispatch{
		ID:           v.ID,
		OccurrenceID: v.OccurrenceID,
		ResourceCode: v.ResourceCode,
		StatusCode:   domain.DispatchStatus(v.StatusCode),
		CreatedAt:    v.CreatedAt.UTC(),
		UpdatedAt:    v.UpdatedAt.UTC(),
		StatusName:   v.StatusName.String,
		IsActive:     v.IsActive.Bool,
	}
}
