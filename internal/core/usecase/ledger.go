package usecase

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/atvirokodosprendimai/incidentd/internal/core/domain"
	"github.com/atvirokodosprendimai/incidentd/internal/core/ports"
)

// DefaultIdempotencyTTL is how long a ledger row is kept before it may be purged.
const DefaultIdempotencyTTL = 24 * time.Hour

// CommandLedger is the durable idempotency record for inbound commands.
type CommandLedger struct {
	tx    ports.Transactor
	inbox ports.CommandInbox
	ttl   time.Duration
	log   zerolog.Logger
	now   func() time.Time
}

func NewCommandLedger(tx ports.Transactor, inbox ports.CommandInbox, ttl time.Duration, log zerolog.Logger) *CommandLedger {
	if ttl <= 0 {
		ttl = DefaultIdempotencyTTL
	}
	return &CommandLedger{
		tx:    tx,
		inbox: inbox,
		ttl:   ttl,
		log:   log.With().Str("component", "command_ledger").Logger(),
		now:   func() time.Time { return time.Now().UTC() },
	}
}

// CheckOrRegister returns the decision for cmd, inserting a RECEIVED row when
// its identity has not been seen. A known commandId short-circuits the
// identity lookup. A known identity with a different payload hash fails with
// domain.ErrIdempotencyConflict.
func (l *CommandLedger) CheckOrRegister(ctx context.Context, cmd domain.InboundCommand) (domain.CommandDecision, error) {
	key, err := domain.NormalizeIdempotencyKey(cmd.IdempotencyKey)
	if err != nil {
		return domain.CommandDecision{}, err
	}
	commandType := strings.TrimSpace(cmd.Type)
	if commandType == "" {
		return domain.CommandDecision{}, fmt.Errorf("%w: command type is required", domain.ErrInvalidArgument)
	}
	hash, err := domain.PayloadHash(cmd.Payload)
	if err != nil {
		return domain.CommandDecision{}, fmt.Errorf("%w: %v", domain.ErrInvalidArgument, err)
	}
	payload, err := domain.CanonicalJSON(orEmpty(cmd.Payload))
	if err != nil {
		return domain.CommandDecision{}, fmt.Errorf("%w: %v", domain.ErrInvalidArgument, err)
	}

	var decision domain.CommandDecision
	err = l.tx.WithinTx(ctx, func(ctx context.Context) error {
		if cmd.CommandID != "" {
			rec, err := l.inbox.FindByIDForUpdate(ctx, cmd.CommandID)
			if err == nil {
				decision = rec.Decision(false)
				return nil
			}
			if !errors.Is(err, domain.ErrNotFound) {
				return err
			}
		}

		rec, err := l.inbox.FindByIdentityForUpdate(ctx, key, commandType, cmd.ScopeKey)
		if err == nil {
			decision, err = matchExisting(rec, hash)
			return err
		}
		if !errors.Is(err, domain.ErrNotFound) {
			return err
		}

		now := l.now()
		rec, err = l.inbox.Insert(ctx, domain.CommandRecord{
			CommandID:      cmd.CommandID,
			IdempotencyKey: key,
			Source:         cmd.Source,
			CommandType:    commandType,
			ScopeKey:       cmd.ScopeKey,
			PayloadHash:    hash,
			Payload:        payload,
			Status:         domain.CommandReceived,
			ExpiresAt:      now.Add(l.ttl),
			CreatedAt:      now,
		})
		if errors.Is(err, domain.ErrDuplicateCommand) {
			// A concurrent caller registered the same identity first.
			rec, err = l.inbox.FindByIdentityForUpdate(ctx, key, commandType, cmd.ScopeKey)
			if err != nil {
				return err
			}
			decision, err = matchExisting(rec, hash)
			return err
		}
		if err != nil {
			return err
		}
		decision = rec.Decision(true)
		return nil
	})
	if err != nil {
		return domain.CommandDecision{}, err
	}

	l.log.Debug().
		Str("command_id", decision.CommandID).
		Str("status", string(decision.Status)).
		Bool("registered", decision.Registered).
		Msg("command checked")
	return decision, nil
}

func matchExisting(rec domain.CommandRecord, hash string) (domain.CommandDecision, error) {
	if rec.PayloadHash != hash {
		return domain.CommandDecision{}, fmt.Errorf("%w: key %q was used for %s with a different payload",
			domain.ErrIdempotencyConflict, rec.IdempotencyKey, rec.CommandType)
	}
	return rec.Decision(false), nil
}

// MarkAsProcessing claims the command. It reports false when another worker
// already holds or finished it.
func (l *CommandLedger) MarkAsProcessing(ctx context.Context, commandID string) (bool, error) {
	return l.inbox.Claim(ctx, commandID, domain.ClaimableStatuses())
}

func (l *CommandLedger) MarkAsProcessed(ctx context.Context, commandID string, result domain.CommandResult) error {
	return l.inbox.Complete(ctx, commandID, result, l.now())
}

func (l *CommandLedger) MarkAsFailed(ctx context.Context, commandID, message string) error {
	return l.inbox.Fail(ctx, commandID, message, l.now())
}

func (l *CommandLedger) Get(ctx context.Context, commandID string) (domain.CommandRecord, error) {
	if strings.TrimSpace(commandID) == "" {
		return domain.CommandRecord{}, fmt.Errorf("%w: commandId is required", domain.ErrInvalidArgument)
	}
	return l.inbox.Get(ctx, commandID)
}

func orEmpty(m map[string]any) map[string]any {
	if m == nil {
		return map[string]any{}
	}
	return m
}
