package usecase

import (
	"context"

	"github.com/rs/zerolog"

	"github.com/atvirokodosprendimai/incidentd/internal/core/domain"
	"github.com/atvirokodosprendimai/incidentd/internal/core/ports"
)

// Submission is the synchronous answer to an accepted command.
type Submission struct {
	Decision domain.CommandDecision
	Record   domain.CommandRecord
	JobID    int64
	Queued   bool
}

// CommandIntake validates commands, registers them in the ledger and queues
// them for the worker.
type CommandIntake struct {
	tx        ports.Transactor
	ledger    *CommandLedger
	jobs      ports.JobQueue
	validator *PayloadValidator
	log       zerolog.Logger
}

func NewCommandIntake(tx ports.Transactor, ledger *CommandLedger, jobs ports.JobQueue, validator *PayloadValidator, log zerolog.Logger) *CommandIntake {
	return &CommandIntake{
		tx:        tx,
		ledger:    ledger,
		jobs:      jobs,
		validator: validator,
		log:       log.With().Str("component", "command_intake").Logger(),
	}
}

// Submit registers cmd and enqueues a job in the same transaction, so a
// RECEIVED row never exists without its job. A resubmitted FAILED or legacy
// ENQUEUED command is queued again; the claim keeps extra jobs harmless.
func (i *CommandIntake) Submit(ctx context.Context, cmd domain.InboundCommand) (Submission, error) {
	if err := i.validator.Validate(cmd); err != nil {
		return Submission{}, err
	}

	var sub Submission
	err := i.tx.WithinTx(ctx, func(ctx context.Context) error {
		decision, err := i.ledger.CheckOrRegister(ctx, cmd)
		if err != nil {
			return err
		}
		sub.Decision = decision

		if !decision.ShouldProcess {
			return nil
		}
		if !decision.Registered && decision.Status == domain.CommandReceived {
			return nil
		}
		queued := cmd
		queued.CommandID = decision.CommandID
		job, err := i.jobs.Enqueue(ctx, queued)
		if err != nil {
			return err
		}
		sub.JobID = job.ID
		sub.Queued = true
		return nil
	})
	if err != nil {
		return Submission{}, err
	}

	rec, err := i.ledger.Get(ctx, sub.Decision.CommandID)
	if err != nil {
		return Submission{}, err
	}
	sub.Record = rec

	i.log.Info().
		Str("command_id", sub.Decision.CommandID).
		Str("command_type", cmd.Type).
		Str("idempotency_key", cmd.IdempotencyKey).
		Bool("queued", sub.Queued).
		Str("status", string(rec.Status)).
		Msg("command accepted")
	return sub, nil
}
