package domain

import (
	"errors"
	"fmt"
	"strings"
)

var (
	ErrInvalidArgument     = errors.New("invalid argument")
	ErrNotFound            = errors.New("not found")
	ErrDomainConflict      = errors.New("domain conflict")
	ErrIdempotencyConflict = errors.New("idempotency conflict")
	ErrUnsupportedCommand  = errors.New("unsupported command")
)

// Conflicts below all satisfy errors.Is(err, ErrDomainConflict).
var (
	ErrInvalidTransition       = fmt.Errorf("%w: invalid transition", ErrDomainConflict)
	ErrDuplicateDispatch       = fmt.Errorf("%w: duplicate dispatch", ErrDomainConflict)
	ErrResourceAlreadyAssigned = fmt.Errorf("%w: resource already assigned", ErrDomainConflict)
	ErrDuplicateExternalID     = fmt.Errorf("%w: duplicate external id", ErrDomainConflict)
)

// ErrDuplicateCommand is reported by ledger stores when an insert loses the
// unique (idempotency_key, command_type, scope_key) race.
var ErrDuplicateCommand = errors.New("duplicate command registration")

func invalidArgument(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrInvalidArgument, fmt.Sprintf(format, args...))
}

// IsPermanent reports whether retrying err can never succeed.
func IsPermanent(err error) bool {
	return errors.Is(err, ErrInvalidArgument) ||
		errors.Is(err, ErrUnsupportedCommand) ||
		errors.Is(err, ErrIdempotencyConflict)
}

// ErrSchemaViolation is returned when a command payload does not conform to
// the JSON schema registered for its type. Errors holds one message per
// failing keyword.
type ErrSchemaViolation struct {
	CommandType string
	Errors      []string
}

func (e *ErrSchemaViolation) Error() string {
	return fmt.Sprintf("payload for %s failed validation: %s", e.CommandType, strings.Join(e.Errors, "; "))
}

func (e *ErrSchemaViolation) Unwrap() error { return ErrInvalidArgument }
