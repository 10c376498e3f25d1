package usecase

import (
	"context"
	"errors"
	"time"

	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/atvirokodosprendimai/incidentd/internal/core/domain"
)

// CommandProcessor applies one command to the domain.
type CommandProcessor interface {
	Process(ctx context.Context, commandType string, data map[string]any) (domain.CommandResult, error)
}

// Execution describes what happened to one delivery of a command.
type Execution struct {
	CommandID string
	Outcome   string
	Status    domain.CommandStatus
	Result    domain.CommandResult
	Error     string
}

// CommandExecutor applies each command at most once: register, claim, route,
// then record success or failure in the ledger.
type CommandExecutor struct {
	ledger    *CommandLedger
	processor CommandProcessor
	metrics   *Metrics
	log       zerolog.Logger
	tracer    trace.Tracer
}

func NewCommandExecutor(ledger *CommandLedger, processor CommandProcessor, metrics *Metrics, log zerolog.Logger) *CommandExecutor {
	return &CommandExecutor{
		ledger:    ledger,
		processor: processor,
		metrics:   metrics,
		log:       log.With().Str("component", "command_executor").Logger(),
		tracer:    otel.Tracer("incidentd/usecase/CommandExecutor"),
	}
}

// Execute runs cmd. A duplicate or already-claimed command is skipped without
// error. Any error raised after a successful claim is recorded with
// MarkAsFailed and then returned.
func (e *CommandExecutor) Execute(ctx context.Context, cmd domain.InboundCommand) (Execution, error) {
	started := time.Now()
	label := metricType(cmd.Type)

	ctx, span := e.tracer.Start(ctx, "command.execute",
		trace.WithAttributes(
			attribute.String("command.type", cmd.Type),
			attribute.String("command.scope_key", cmd.ScopeKey),
			attribute.String("command.source", cmd.Source),
		),
	)
	defer span.End()

	log := e.log.With().
		Str("idempotency_key", cmd.IdempotencyKey).
		Str("command_type", cmd.Type).
		Str("scope_key", cmd.ScopeKey).
		Logger()
	log.Info().Msg("processing command")

	decision, err := e.ledger.CheckOrRegister(ctx, cmd)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "register")
		e.metrics.observeCommand(label, OutcomeRejected, time.Since(started))
		log.Warn().Err(err).Msg("command rejected")
		return Execution{Outcome: OutcomeRejected, Error: err.Error()}, err
	}
	span.SetAttributes(attribute.String("command.id", decision.CommandID))
	log = log.With().Str("command_id", decision.CommandID).Logger()

	if !decision.ShouldProcess {
		log.Info().Str("status", string(decision.Status)).Msg("command already handled, skipping")
		e.metrics.observeCommand(label, OutcomeSkipped, time.Since(started))
		return e.skipped(ctx, decision.CommandID, decision.Status), nil
	}

	claimed, err := e.ledger.MarkAsProcessing(ctx, decision.CommandID)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "claim")
		e.metrics.observeCommand(label, OutcomeFailed, time.Since(started))
		return Execution{CommandID: decision.CommandID, Outcome: OutcomeFailed, Status: decision.Status, Error: err.Error()}, err
	}
	if !claimed {
		log.Info().Msg("command claimed by another worker, skipping")
		e.metrics.observeCommand(label, OutcomeSkipped, time.Since(started))
		return e.skipped(ctx, decision.CommandID, domain.CommandProcessing), nil
	}

	data := make(map[string]any, len(cmd.Payload)+1)
	for k, v := range cmd.Payload {
		data[k] = v
	}
	data["commandId"] = decision.CommandID

	result, err := e.processor.Process(ctx, cmd.Type, data)
	if err == nil {
		err = e.ledger.MarkAsProcessed(ctx, decision.CommandID, result)
		if err != nil {
			// The domain change is committed; marking FAILED would allow a re-run.
			span.RecordError(err)
			span.SetStatus(codes.Error, "complete")
			log.Error().Err(err).Msg("command applied but ledger completion failed")
			e.metrics.observeCommand(label, OutcomeFailed, time.Since(started))
			return Execution{CommandID: decision.CommandID, Outcome: OutcomeFailed, Status: domain.CommandProcessing, Error: err.Error()}, err
		}
		log.Info().Msg("command processed")
		e.metrics.observeCommand(label, OutcomeProcessed, time.Since(started))
		return Execution{
			CommandID: decision.CommandID,
			Outcome:   OutcomeProcessed,
			Status:    domain.CommandSucceeded,
			Result:    result,
		}, nil
	}

	span.RecordError(err)
	span.SetStatus(codes.Error, "process")
	if markErr := e.ledger.MarkAsFailed(context.WithoutCancel(ctx), decision.CommandID, err.Error()); markErr != nil {
		log.Error().Err(markErr).Msg("failed to record command failure")
	}
	log.Error().Err(err).Msg("command failed")
	e.metrics.observeCommand(label, OutcomeFailed, time.Since(started))
	return Execution{
		CommandID: decision.CommandID,
		Outcome:   OutcomeFailed,
		Status:    domain.CommandFailed,
		Error:     err.Error(),
	}, err
}

// skipped reports the stored outcome of a command this call did not run.
func (e *CommandExecutor) skipped(ctx context.Context, commandID string, status domain.CommandStatus) Execution {
	out := Execution{CommandID: commandID, Outcome: OutcomeSkipped, Status: status}
	rec, err := e.ledger.Get(ctx, commandID)
	if err != nil {
		if !errors.Is(err, context.Canceled) {
			e.log.Warn().Err(err).Str("command_id", commandID).Msg("load skipped command")
		}
		return out
	}
	out.Status = rec.Status
	out.Result = rec.Result
	out.Error = rec.ErrorMessage
	return out
}

func metricType(commandType string) string {
	for _, known := range SupportedCommands() {
		if known == commandType {
			return commandType
		}
	}
	return "unknown"
}
