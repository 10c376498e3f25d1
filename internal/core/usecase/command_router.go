package usecase

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/atvirokodosprendimai/incidentd/internal/core/domain"
	"github.com/atvirokodosprendimai/incidentd/internal/core/ports"
)

const (
	CommandCreateOccurrence     = "create_occurrence"
	CommandStartOccurrence      = "start_occurrence"
	CommandResolveOccurrence    = "resolve_occurrence"
	CommandCancelOccurrence     = "cancel_occurrence"
	CommandCreateDispatch       = "create_dispatch"
	CommandCloseDispatch        = "close_dispatch"
	CommandUpdateDispatchStatus = "update_dispatch_status"
)

// reportedAtLayouts are tried in order. RFC3339Nano also accepts plain RFC 3339.
var reportedAtLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05",
	"2006-01-02 15:04:05",
}

type commandHandler struct {
	run func(ctx context.Context, data map[string]any) (map[string]any, error)
	// invalidates is set for commands that change occurrence list contents.
	invalidates bool
}

// CommandRouter maps a command type to exactly one domain operation.
type CommandRouter struct {
	occurrences *OccurrenceService
	dispatches  *DispatchService
	cache       ports.CacheInvalidator
	log         zerolog.Logger
	handlers    map[string]commandHandler
}

func NewCommandRouter(occurrences *OccurrenceService, dispatches *DispatchService, cache ports.CacheInvalidator, log zerolog.Logger) *CommandRouter {
	r := &CommandRouter{
		occurrences: occurrences,
		dispatches:  dispatches,
		cache:       cache,
		log:         log.With().Str("component", "command_router").Logger(),
	}
	r.handlers = map[string]commandHandler{
		CommandCreateOccurrence:     {run: r.createOccurrence, invalidates: true},
		CommandStartOccurrence:      {run: r.occurrenceTransition(occurrences.Start), invalidates: true},
		CommandResolveOccurrence:    {run: r.occurrenceTransition(occurrences.Resolve), invalidates: true},
		CommandCancelOccurrence:     {run: r.occurrenceTransition(occurrences.Cancel), invalidates: true},
		CommandCreateDispatch:       {run: r.createDispatch},
		CommandCloseDispatch:        {run: r.closeDispatch},
		CommandUpdateDispatchStatus: {run: r.updateDispatchStatus},
	}
	return r
}

// SupportedCommands lists the routable command types in sorted order.
func SupportedCommands() []string {
	out := []string{
		CommandCreateOccurrence,
		CommandStartOccurrence,
		CommandResolveOccurrence,
		CommandCancelOccurrence,
		CommandCreateDispatch,
		CommandCloseDispatch,
		CommandUpdateDispatchStatus,
	}
	sort.Strings(out)
	return out
}

func (r *CommandRouter) Process(ctx context.Context, commandType string, data map[string]any) (domain.CommandResult, error) {
	h, ok := r.handlers[commandType]
	if !ok {
		return domain.CommandResult{}, fmt.Errorf("%w: %q", domain.ErrUnsupportedCommand, commandType)
	}
	if data == nil {
		data = map[string]any{}
	}

	fields, err := h.run(ctx, data)
	if err != nil {
		return domain.CommandResult{}, err
	}
	fields["commandId"] = optionalString(data, "commandId")

	if h.invalidates && r.cache != nil {
		if err := r.cache.Invalidate(ctx); err != nil {
			r.log.Warn().Err(err).Str("command_type", commandType).Msg("cache invalidation failed")
		}
	}
	return domain.StructuredResult(fields), nil
}

func (r *CommandRouter) createOccurrence(ctx context.Context, data map[string]any) (map[string]any, error) {
	externalID, err := requireString(data, "externalId")
	if err != nil {
		return nil, err
	}
	typeCode, err := requireString(data, "type")
	if err != nil {
		return nil, err
	}
	description, err := requireString(data, "description")
	if err != nil {
		return nil, err
	}
	rawReportedAt, err := requireString(data, "reportedAt")
	if err != nil {
		return nil, err
	}
	reportedAt, err := parseReportedAt(rawReportedAt)
	if err != nil {
		return nil, err
	}

	occ, err := r.occurrences.Create(ctx, domain.NewOccurrence{
		ExternalID:  externalID,
		TypeCode:    typeCode,
		Description: description,
		ReportedAt:  reportedAt,
	})
	if err != nil {
		return nil, err
	}
	return occurrenceResult(occ), nil
}

func (r *CommandRouter) occurrenceTransition(op func(context.Context, string) (domain.Occurrence, error)) func(context.Context, map[string]any) (map[string]any, error) {
	return func(ctx context.Context, data map[string]any) (map[string]any, error) {
		id, err := requireString(data, "occurrenceId")
		if err != nil {
			return nil, err
		}
		occ, err := op(ctx, id)
		if err != nil {
			return nil, err
		}
		return occurrenceResult(occ), nil
	}
}

func (r *CommandRouter) createDispatch(ctx context.Context, data map[string]any) (map[string]any, error) {
	occurrenceID, err := requireString(data, "occurrenceId")
	if err != nil {
		return nil, err
	}
	resourceCode, err := requireString(data, "resourceCode")
	if err != nil {
		return nil, err
	}
	d, err := r.dispatches.Create(ctx, occurrenceID, resourceCode)
	if err != nil {
		return nil, err
	}
	return dispatchResult(d), nil
}

func (r *CommandRouter) closeDispatch(ctx context.Context, data map[string]any) (map[string]any, error) {
	id, err := requireString(data, "dispatchId")
	if err != nil {
		return nil, err
	}
	d, err := r.dispatches.Close(ctx, id)
	if err != nil {
		return nil, err
	}
	return dispatchResult(d), nil
}

func (r *CommandRouter) updateDispatchStatus(ctx context.Context, data map[string]any) (map[string]any, error) {
	id, err := requireString(data, "dispatchId")
	if err != nil {
		return nil, err
	}
	statusCode, err := requireString(data, "statusCode")
	if err != nil {
		return nil, err
	}
	d, err := r.dispatches.UpdateStatus(ctx, id, statusCode)
	if err != nil {
		return nil, err
	}
	return dispatchResult(d), nil
}

func occurrenceResult(occ domain.Occurrence) map[string]any {
	return map[string]any{
		"occurrenceId": occ.ID,
		"externalId":   occ.ExternalID,
		"status":       string(occ.StatusCode),
	}
}

func dispatchResult(d domain.Dispatch) map[string]any {
	return map[string]any{
		"dispatchId":   d.ID,
		"occurrenceId": d.OccurrenceID,
		"resourceCode": d.ResourceCode,
		"status":       string(d.StatusCode),
	}
}

func requireString(data map[string]any, field string) (string, error) {
	raw, ok := data[field]
	if !ok || raw == nil {
		return "", fmt.Errorf("%w: %s is required", domain.ErrInvalidArgument, field)
	}
	s, ok := raw.(string)
	if !ok {
		return "", fmt.Errorf("%w: %s must be a string", domain.ErrInvalidArgument, field)
	}
	s = strings.TrimSpace(s)
	if s == "" {
		return "", fmt.Errorf("%w: %s is required", domain.ErrInvalidArgument, field)
	}
	return s, nil
}

func optionalString(data map[string]any, field string) string {
	s, _ := data[field].(string)
	return s
}

func parseReportedAt(raw string) (time.Time, error) {
	for _, layout := range reportedAtLayouts {
		if t, err := time.Parse(layout, raw); err == nil {
			return t.UTC(), nil
		}
	}
	return time.Time{}, fmt.Errorf("%w: reportedAt %q is not a valid timestamp", domain.ErrInvalidArgument, raw)
}
