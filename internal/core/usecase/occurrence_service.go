package usecase

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/atvirokodosprendimai/incidentd/internal/core/domain"
	"github.com/atvirokodosprendimai/incidentd/internal/core/ports"
)

// StatusAuditor records a status transition inside the caller's unit of work.
type StatusAuditor interface {
	LogStatusChange(ctx context.Context, entityType, entityID, action, from, to string)
}

type OccurrenceService struct {
	tx          ports.Transactor
	occurrences ports.OccurrenceStore
	audit       StatusAuditor
}

func NewOccurrenceService(tx ports.Transactor, occurrences ports.OccurrenceStore, audit StatusAuditor) *OccurrenceService {
	return &OccurrenceService{tx: tx, occurrences: occurrences, audit: audit}
}

func (s *OccurrenceService) Create(ctx context.Context, in domain.NewOccurrence) (domain.Occurrence, error) {
	in.ExternalID = strings.TrimSpace(in.ExternalID)
	in.TypeCode = strings.TrimSpace(in.TypeCode)
	if err := in.Validate(); err != nil {
		return domain.Occurrence{}, err
	}

	var created domain.Occurrence
	err := s.tx.WithinTx(ctx, func(ctx context.Context) error {
		_, err := s.occurrences.FindByExternalID(ctx, in.ExternalID)
		if err == nil {
			return fmt.Errorf("%w: %s", domain.ErrDuplicateExternalID, in.ExternalID)
		}
		if !errors.Is(err, domain.ErrNotFound) {
			return err
		}
		created, err = s.occurrences.Save(ctx, domain.Occurrence{
			ExternalID:  in.ExternalID,
			TypeCode:    in.TypeCode,
			StatusCode:  domain.OccurrenceReported,
			Description: in.Description,
			ReportedAt:  in.ReportedAt.UTC(),
		})
		return err
	})
	if err != nil {
		return domain.Occurrence{}, err
	}
	return created, nil
}

func (s *OccurrenceService) Start(ctx context.Context, id string) (domain.Occurrence, error) {
	return s.transition(ctx, id, "start", domain.OccurrenceInProgress)
}

func (s *OccurrenceService) Resolve(ctx context.Context, id string) (domain.Occurrence, error) {
	return s.transition(ctx, id, "resolve", domain.OccurrenceResolved)
}

func (s *OccurrenceService) Cancel(ctx context.Context, id string) (domain.Occurrence, error) {
	return s.transition(ctx, id, "cancel", domain.OccurrenceCancelled)
}

func (s *OccurrenceService) transition(ctx context.Context, id, action string, next domain.OccurrenceStatus) (domain.Occurrence, error) {
	if strings.TrimSpace(id) == "" {
		return domain.Occurrence{}, fmt.Errorf("%w: occurrenceId is required", domain.ErrInvalidArgument)
	}

	var saved domain.Occurrence
	err := s.tx.WithinTx(ctx, func(ctx context.Context) error {
		occ, err := s.occurrences.FindByIDForUpdate(ctx, id)
		if err != nil {
			return err
		}
		from := occ.StatusCode
		if err := from.ValidateTransition(next); err != nil {
			return err
		}
		occ.StatusCode = next
		saved, err = s.occurrences.Save(ctx, occ)
		if err != nil {
			return err
		}
		s.audit.LogStatusChange(ctx, domain.AggregateOccurrence, occ.ID, action, string(from), string(next))
		return nil
	})
	if err != nil {
		return domain.Occurrence{}, err
	}
	return saved, nil
}

func (s *OccurrenceService) Get(ctx context.Context, id string) (domain.Occurrence, error) {
	if strings.TrimSpace(id) == "" {
		return domain.Occurrence{}, fmt.Errorf("%w: occurrence id is required", domain.ErrInvalidArgument)
	}
	return s.occurrences.FindByID(ctx, id)
}

func (s *OccurrenceService) List(ctx context.Context, filter domain.OccurrenceFilter) ([]domain.Occurrence, error) {
	if filter.Status != "" {
		status, err := domain.ParseOccurrenceStatus(string(filter.Status))
		if err != nil {
			return nil, err
		}
		filter.Status = status
	}
	if filter.Limit <= 0 {
		filter.Limit = 100
	}
	if filter.Limit > 1000 {
		filter.Limit = 1000
	}
	return s.occurrences.List(ctx, filter)
}
