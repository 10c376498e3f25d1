package domain

import (
	"fmt"
	"strings"
	"time"
)

type DispatchStatus string

const (
	DispatchAssigned DispatchStatus = "assigned"
	DispatchEnRoute  DispatchStatus = "en_route"
	DispatchOnSite   DispatchStatus = "on_site"
	DispatchClosed   DispatchStatus = "closed"
)

var dispatchTransitions = map[DispatchStatus][]DispatchStatus{
	DispatchAssigned: {DispatchEnRoute, DispatchClosed},
	DispatchEnRoute:  {DispatchOnSite, DispatchClosed},
	DispatchOnSite:   {DispatchClosed},
	DispatchClosed:   nil,
}

func ParseDispatchStatus(raw string) (DispatchStatus, error) {
	s := DispatchStatus(strings.ToLower(strings.TrimSpace(raw)))
	if _, ok := dispatchTransitions[s]; !ok {
		return "", invalidArgument("unknown dispatch status %q", raw)
	}
	return s, nil
}

// IsActive reports whether a resource in this status is committed to its
// occurrence.
func (s DispatchStatus) IsActive() bool {
	switch s {
	case DispatchAssigned, DispatchEnRoute, DispatchOnSite:
		return true
	default:
		return false
	}
}

func (s DispatchStatus) CanTransitionTo(next DispatchStatus) bool {
	for _, allowed := range dispatchTransitions[s] {
		if allowed == next {
			return true
		}
	}
	return false
}

func (s DispatchStatus) ValidateTransition(next DispatchStatus) error {
	if !s.CanTransitionTo(next) {
		return fmt.Errorf("%w: dispatch %s -> %s", ErrInvalidTransition, s, next)
	}
	return nil
}

type Dispatch struct {
	ID           string
	OccurrenceID string
	ResourceCode string
	StatusCode   DispatchStatus
	CreatedAt    time.Time
	UpdatedAt    time.Time

	StatusName string
	IsActive   bool
}

func ValidateResourceCode(code string) (string, error) {
	code = strings.TrimSpace(code)
	if code == "" {
		return "", invalidArgument("resourceCode is required")
	}
	return code, nil
}

// CheckAssignable enforces per-occurrence uniqueness and cross-occurrence
// exclusivity of resourceCode against the resource's existing dispatches.
func CheckAssignable(occurrenceID, resourceCode string, existing []Dispatch) error {
	for _, d := range existing {
		if d.ResourceCode != resourceCode {
			continue
		}
		if d.OccurrenceID == occurrenceID {
			return fmt.Errorf("%w: resource %s on occurrence %s", ErrDuplicateDispatch, resourceCode, occurrenceID)
		}
	}
	for _, d := range existing {
		if d.ResourceCode == resourceCode && d.OccurrenceID != occurrenceID && d.StatusCode.IsActive() {
			return fmt.Errorf("%w: resource %s is %s on occurrence %s", ErrResourceAlreadyAssigned, resourceCode, d.StatusCode, d.OccurrenceID)
		}
	}
	return nil
}
