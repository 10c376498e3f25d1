package domain

import (
	"fmt"
	"strings"
	"time"
)

type OccurrenceStatus string

const (
	OccurrenceReported   OccurrenceStatus = "reported"
	OccurrenceInProgress OccurrenceStatus = "in_progress"
	OccurrenceResolved   OccurrenceStatus = "resolved"
	OccurrenceCancelled  OccurrenceStatus = "cancelled"
)

const maxExternalIDLength = 100

var occurrenceTransitions = map[OccurrenceStatus][]OccurrenceStatus{
	OccurrenceReported:   {OccurrenceInProgress, OccurrenceCancelled},
	OccurrenceInProgress: {OccurrenceResolved, OccurrenceCancelled},
	OccurrenceResolved:   nil,
	OccurrenceCancelled:  nil,
}

func ParseOccurrenceStatus(raw string) (OccurrenceStatus, error) {
	s := OccurrenceStatus(strings.ToLower(strings.TrimSpace(raw)))
	if _, ok := occurrenceTransitions[s]; !ok {
		return "", invalidArgument("unknown occurrence status %q", raw)
	}
	return s, nil
}

func (s OccurrenceStatus) IsFinal() bool {
	return len(occurrenceTransitions[s]) == 0
}

func (s OccurrenceStatus) CanTransitionTo(next OccurrenceStatus) bool {
	for _, allowed := range occurrenceTransitions[s] {
		if allowed == next {
			return true
		}
	}
	return false
}

// ValidateTransition returns ErrInvalidTransition unless s -> next is an edge.
func (s OccurrenceStatus) ValidateTransition(next OccurrenceStatus) error {
	if !s.CanTransitionTo(next) {
		return fmt.Errorf("%w: occurrence %s -> %s", ErrInvalidTransition, s, next)
	}
	return nil
}

type Occurrence struct {
	ID          string
	ExternalID  string
	TypeCode    string
	StatusCode  OccurrenceStatus
	Description string
	ReportedAt  time.Time
	CreatedAt   time.Time
	UpdatedAt   time.Time

	// Read-only, joined from reference tables.
	TypeName     string
	TypeCategory string
	StatusName   string
	IsFinal      bool
}

type NewOccurrence struct {
	ExternalID  string
	TypeCode    string
	Description string
	ReportedAt  time.Time
}

func (n NewOccurrence) Validate() error {
	if strings.TrimSpace(n.ExternalID) == "" {
		return invalidArgument("externalId is required")
	}
	if len(n.ExternalID) > maxExternalIDLength {
		return invalidArgument("externalId exceeds %d characters", maxExternalIDLength)
	}
	if strings.TrimSpace(n.TypeCode) == "" {
		return invalidArgument("type is required")
	}
	if n.ReportedAt.IsZero() {
		return invalidArgument("reportedAt is required")
	}
	return nil
}

type OccurrenceFilter struct {
	Status  OccurrenceStatus
	AfterID string
	Limit   int
}
