package usecase

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/atvirokodosprendimai/incidentd/internal/core/domain"
	"github.com/atvirokodosprendimai/incidentd/internal/core/ports"
)

type DispatchService struct {
	tx          ports.Transactor
	occurrences ports.OccurrenceStore
	dispatches  ports.DispatchStore
	audit       StatusAuditor
}

func NewDispatchService(tx ports.Transactor, occurrences ports.OccurrenceStore, dispatches ports.DispatchStore, audit StatusAuditor) *DispatchService {
	return &DispatchService{tx: tx, occurrences: occurrences, dispatches: dispatches, audit: audit}
}

// Create assigns resourceCode to the occurrence. A resource may appear once
// per occurrence and may be active on at most one occurrence at a time.
func (s *DispatchService) Create(ctx context.Context, occurrenceID, resourceCode string) (domain.Dispatch, error) {
	if strings.TrimSpace(occurrenceID) == "" {
		return domain.Dispatch{}, fmt.Errorf("%w: occurrenceId is required", domain.ErrInvalidArgument)
	}
	resourceCode, err := domain.ValidateResourceCode(resourceCode)
	if err != nil {
		return domain.Dispatch{}, err
	}

	var created domain.Dispatch
	err = s.tx.WithinTx(ctx, func(ctx context.Context) error {
		if _, err := s.occurrences.FindByIDForUpdate(ctx, occurrenceID); err != nil {
			return err
		}

		_, err := s.dispatches.FindByOccurrenceIDAndResourceCode(ctx, occurrenceID, resourceCode)
		if err == nil {
			return fmt.Errorf("%w: resource %s on occurrence %s", domain.ErrDuplicateDispatch, resourceCode, occurrenceID)
		}
		if !errors.Is(err, domain.ErrNotFound) {
			return err
		}

		existing, err := s.dispatches.FindByResourceCode(ctx, resourceCode)
		if err != nil {
			return err
		}
		if err := domain.CheckAssignable(occurrenceID, resourceCode, existing); err != nil {
			return err
		}

		created, err = s.dispatches.Save(ctx, domain.Dispatch{
			OccurrenceID: occurrenceID,
			ResourceCode: resourceCode,
			StatusCode:   domain.DispatchAssigned,
		})
		return err
	})
	if err != nil {
		return domain.Dispatch{}, err
	}
	return created, nil
}

// UpdateStatus moves the dispatch to statusCode. An unknown code is an
// invalid argument, a known code on a forbidden edge is an invalid transition.
func (s *DispatchService) UpdateStatus(ctx context.Context, id, statusCode string) (domain.Dispatch, error) {
	next, err := domain.ParseDispatchStatus(statusCode)
	if err != nil {
		return domain.Dispatch{}, err
	}
	return s.transition(ctx, id, "update_status", next)
}

func (s *DispatchService) Close(ctx context.Context, id string) (domain.Dispatch, error) {
	return s.transition(ctx, id, "close", domain.DispatchClosed)
}

func (s *DispatchService) transition(ctx context.Context, id, action string, next domain.DispatchStatus) (domain.Dispatch, error) {
	if strings.TrimSpace(id) == "" {
		return domain.Dispatch{}, fmt.Errorf("%w: dispatchId is required", domain.ErrInvalidArgument)
	}

	var saved domain.Dispatch
	err := s.tx.WithinTx(ctx, func(ctx context.Context) error {
		d, err := s.dispatches.FindByIDForUpdate(ctx, id)
		if err != nil {
			return err
		}
		from := d.StatusCode
		if err := from.ValidateTransition(next); err != nil {
			return err
		}
		d.StatusCode = next
		saved, err = s.dispatches.Save(ctx, d)
		if err != nil {
			return err
		}
		s.audit.LogStatusChange(ctx, domain.AggregateDispatch, d.ID, action, string(from), string(next))
		return nil
	})
	if err != nil {
		return domain.Dispatch{}, err
	}
	return saved, nil
}

func (s *DispatchService) Get(ctx context.Context, id string) (domain.Dispatch, error) {
	if strings.TrimSpace(id) == "" {
		return domain.Dispatch{}, fmt.Errorf("%w: dispatch id is required", domain.ErrInvalidArgument)
	}
	return s.dispatches.FindByID(ctx, id)
}

func (s *DispatchService) ListByOccurrence(ctx context.Context, occurrenceID string) ([]domain.Dispatch, error) {
	if strings.TrimSpace(occurrenceID) == "" {
		return nil, fmt.Errorf("%w: occurrence id is required", domain.ErrInvalidArgument)
	}
	return s.dispatches.ListByOccurrence(ctx, occurrenceID)
}
