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

const occurrenceSelect = `o.id, o.external_id, o.type_code, o.status_code, o.description, o.reported_at, o.created_at, o.updated_at,
	ot.name AS type_name, ot.category AS type_category, os.name AS status_name, os.is_final AS is_final`

type OccurrenceRepository struct {
	db *gormsqlite.DB
}

func NewOccurrenceRepository(db *gormsqlite.DB) *OccurrenceRepository {
	return &OccurrenceRepository{db: db}
}

func occurrenceQuery(tx *gorm.DB) *gorm.DB {
	return tx.Table("occurrences AS o").
		Select(occurrenceSelect).
		Joins("LEFT JOIN occurrence_types ot ON ot.code = o.type_code").
		Joins("LEFT JOIN occurrence_status os ON os.code = o.status_code")
}

// Save inserts a new occurrence or updates the mutable columns of an
// existing one. external_id is never rewritten.
func (r *OccurrenceRepository) Save(ctx context.Context, occ domain.Occurrence) (domain.Occurrence, error) {
	now := time.Now().UTC()
	if occ.ID == "" {
		occ.ID = uuid.NewString()
	}
	if occ.CreatedAt.IsZero() {
		occ.CreatedAt = now
	}
	occ.UpdatedAt = now

	row := occurrenceModel{
		ID:          occ.ID,
		ExternalID:  occ.ExternalID,
		TypeCode:    occ.TypeCode,
		StatusCode:  string(occ.StatusCode),
		Description: occ.Description,
		ReportedAt:  occ.ReportedAt.UTC(),
		CreatedAt:   occ.CreatedAt.UTC(),
		UpdatedAt:   occ.UpdatedAt,
	}

	var saved domain.Occurrence
	err := r.db.WriteTX(ctx, func(tx *gormsqlite.Tx) error {
		res := tx.Model(&occurrenceModel{}).Where("id = ?", row.ID).Updates(map[string]any{
			"status_code": row.StatusCode,
			"description": row.Description,
			"updated_at":  row.UpdatedAt,
		})
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			if err := tx.Create(&row).Error; err != nil {
				if isUniqueViolation(err) {
					return fmt.Errorf("%w: %s", domain.ErrDuplicateExternalID, occ.ExternalID)
				}
				if isForeignKeyViolation(err) {
					return fmt.Errorf("%w: unknown occurrence type %q", domain.ErrInvalidArgument, occ.TypeCode)
				}
				return err
			}
		}

		var view occurrenceView
		if err := occurrenceQuery(tx.DB).Where("o.id = ?", occ.ID).Take(&view).Error; err != nil {
			return fmt.Errorf("reload occurrence: %w", err)
		}
		saved = view.toDomain()
		return nil
	})
	if err != nil {
		return domain.Occurrence{}, fmt.Errorf("save occurrence: %w", err)
	}
	return saved, nil
}

func (r *OccurrenceRepository) FindByID(ctx context.Context, id string) (domain.Occurrence, error) {
	var view occurrenceView
	err := r.db.ReadTX(ctx, func(tx *gormsqlite.Tx) error {
		return occurrenceQuery(tx.DB).Where("o.id = ?", id).Take(&view).Error
	})
	return view.result(err, "id", id)
}

// FindByIDForUpdate locks the occurrence row for the rest of the caller's
// transaction.
func (r *OccurrenceRepository) FindByIDForUpdate(ctx context.Context, id string) (domain.Occurrence, error) {
	var view occurrenceView
	err := r.db.WriteTX(ctx, func(tx *gormsqlite.Tx) error {
		return occurrenceQuery(forUpdate(tx, "o")).Where("o.id = ?", id).Take(&view).Error
	})
	return view.result(err, "id", id)
}

func (r *OccurrenceRepository) FindByExternalID(ctx context.Context, externalID string) (domain.Occurrence, error) {
	var view occurrenceView
	err := r.db.ReadTX(ctx, func(tx *gormsqlite.Tx) error {
		return occurrenceQuery(tx.DB).Where("o.external_id = ?", externalID).Take(&view).Error
	})
	return view.result(err, "external id", externalID)
}

func (r *OccurrenceRepository) List(ctx context.Context, filter domain.OccurrenceFilter) ([]domain.Occurrence, error) {
	var rows []occurrenceView
	err := r.db.ReadTX(ctx, func(tx *gormsqlite.Tx) error {
		query := occurrenceQuery(tx.DB)
		if filter.Status != "" {
			query = query.Where("o.status_code = ?", string(filter.Status))
		}
		if filter.AfterID != "" {
			query = query.Where("o.id > ?", filter.AfterID)
		}
		limit := filter.Limit
		if limit <= 0 {
			limit = 100
		}
		return query.Order("o.id ASC").Limit(limit).Find(&rows).Error
	})
	if err != nil {
		return nil, fmt.Errorf("list occurrences: %w", err)
	}

	result := make([]domain.Occurrence, 0, len(rows))
	for _, row := range rows {
		result = append(result, row.toDomain())
	}
	return result, nil
}

func (v occurrenceView) result(err error, field, value string) (domain.Occurrence, error) {
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return domain.Occurrence{}, fmt.Errorf("%w: occurrence with %s %s", domain.ErrNotFound, field, value)
	}
	if err != nil {
		return domain.Occurrence{}, fmt.Errorf("load occurrence: %w", err)
	}
	return v.toDomain(), nil
}

func (v occurrenceView) toDomain() domain.Occurrence {
	return domain.Occurrence{
		ID:           v.ID,
		ExternalID:   v.ExternalID,
		TypeCode:     v.TypeCode,
		StatusCode:   domain.OccurrenceStatus(v.StatusCode),
		Description:  v.Description,
		ReportedAt:   v.ReportedAt.UTC(),
		CreatedAt:    v.CreatedAt.UTC(),
		UpdatedAt:    v.UpdatedAt.UTC(),
		TypeName:     v.TypeName.String,
		TypeCategory: v.TypeCategory.String,
		StatusName:   v.StatusName.String,
		IsFinal:      v.IsFinal.Bool,
	}
}
