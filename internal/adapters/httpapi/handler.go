package httpapi

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"github.com/atvirokodosprendimai/incidentd/internal/core/domain"
	"github.com/atvirokodosprendimai/incidentd/internal/core/usecase"
)

const (
	timeFormat      = "2006-01-02T15:04:05.999999999Z07:00"
	maxJSONBodySize = 1 << 20
)

// Deps are the usecases served over HTTP.
type Deps struct {
	Intake      *usecase.CommandIntake
	Executor    *usecase.CommandExecutor
	Validator   *usecase.PayloadValidator
	Ledger      *usecase.CommandLedger
	Occurrences *usecase.OccurrenceService
	Dispatches  *usecase.DispatchService
	Audit       *usecase.AuditTrail

	// Registerer receives the HTTP collectors; Gatherer backs /metrics.
	Registerer prometheus.Registerer
	Gatherer   prometheus.Gatherer
	Log        zerolog.Logger
}

type Handler struct {
	deps    Deps
	log     zerolog.Logger
	metrics *httpMetrics
}

func NewHandler(deps Deps) *Handler {
	return &Handler{
		deps:    deps,
		log:     deps.Log.With().Str("component", "http").Logger(),
		metrics: newHTTPMetrics(deps.Registerer),
	}
}

func (h *Handler) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(h.requestLogger)
	r.Use(middleware.Recoverer)
	r.Use(h.metrics.middleware)

	r.Get("/healthz", h.healthz)
	r.Get("/openapi.json", h.openapi)
	if h.deps.Gatherer != nil {
		r.Method(http.MethodGet, "/metrics", promhttp.HandlerFor(h.deps.Gatherer, promhttp.HandlerOpts{}))
	}

	r.Post("/v1/commands", h.submitCommand)
	r.Post("/v1/commands:execute", h.executeCommand)
	r.Get("/v1/commands/{id}", h.getCommand)

	r.Get("/v1/occurrences", h.listOccurrences)
	r.Get("/v1/occurrences/{id}", h.getOccurrence)
	r.Get("/v1/dispatches/{id}", h.getDispatch)
	r.Get("/v1/audit", h.listAudit)

	return r
}

type commandRequest struct {
	CommandID      string          `json:"commandId"`
	IdempotencyKey string          `json:"idempotencyKey"`
	Source         string          `json:"source"`
	Type           string          `json:"type"`
	ScopeKey       string          `json:"scopeKey"`
	Payload        map[string]any  `json:"payload"`
	Meta           json.RawMessage `json:"meta,omitempty"`
}

type commandResponse struct {
	CommandID      string  `json:"commandId"`
	IdempotencyKey string  `json:"idempotencyKey,omitempty"`
	Type           string  `json:"type,omitempty"`
	ScopeKey       string  `json:"scopeKey,omitempty"`
	Source         string  `json:"source,omitempty"`
	Status         string  `json:"status"`
	Outcome        string  `json:"outcome,omitempty"`
	Queued         *bool   `json:"queued,omitempty"`
	Result         any     `json:"result"`
	Error          string  `json:"error,omitempty"`
	CreatedAt      string  `json:"createdAt,omitempty"`
	UpdatedAt      string  `json:"updatedAt,omitempty"`
	ProcessedAt    *string `json:"processedAt,omitempty"`
	ExpiresAt      string  `json:"expiresAt,omitempty"`
}

type occurrenceResponse struct {
	ID           string             `json:"id"`
	ExternalID   string             `json:"externalId"`
	Type         string             `json:"type"`
	TypeName     string             `json:"typeName,omitempty"`
	TypeCategory string             `json:"typeCategory,omitempty"`
	Status       string             `json:"status"`
	StatusName   string             `json:"statusName,omitempty"`
	IsFinal      bool               `json:"isFinal"`
	Description  string             `json:"description"`
	ReportedAt   string             `json:"reportedAt"`
	CreatedAt    string             `json:"createdAt"`
	UpdatedAt    string             `json:"updatedAt"`
	Dispatches   []dispatchResponse `json:"dispatches,omitempty"`
}

type dispatchResponse struct {
	ID           string `json:"id"`
	OccurrenceID string `json:"occurrenceId"`
	ResourceCode string `json:"resourceCode"`
	Status       string `json:"status"`
	StatusName   string `json:"statusName,omitempty"`
	IsActive     bool   `json:"isActive"`
	CreatedAt    string `json:"createdAt"`
	UpdatedAt    string `json:"updatedAt"`
}

type auditResponse struct {
	ID            string          `json:"id"`
	AggregateType string          `json:"aggregateType"`
	AggregateID   string          `json:"aggregateId"`
	EventType     string          `json:"eventType"`
	EventData     json.RawMessage `json:"eventData"`
	OccurredAt    string          `json:"occurredAt"`
}

// submitCommand queues a command for the worker. A new or re-queued command
// answers 202; a duplicate answers 200 with its stored state.
func (h *Handler) submitCommand(w http.ResponseWriter, r *http.Request) {
	cmd, ok := h.decodeCommand(w, r)
	if !ok {
		return
	}

	sub, err := h.deps.Intake.Submit(r.Context(), cmd)
	if err != nil {
		h.handleDomainError(w, err)
		return
	}

	resp := toCommandResponse(sub.Record)
	queued := sub.Queued
	resp.Queued = &queued
	status := http.StatusOK
	if sub.Queued {
		status = http.StatusAccepted
	}
	h.writeJSON(w, status, resp)
}

// executeCommand runs a command inline and reports its outcome.
func (h *Handler) executeCommand(w http.ResponseWriter, r *http.Request) {
	cmd, ok := h.decodeCommand(w, r)
	if !ok {
		return
	}
	if err := h.deps.Validator.Validate(cmd); err != nil {
		h.handleDomainError(w, err)
		return
	}

	exec, err := h.deps.Executor.Execute(r.Context(), cmd)
	if err != nil {
		h.handleDomainError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, commandResponse{
		CommandID: exec.CommandID,
		Type:      cmd.Type,
		ScopeKey:  cmd.ScopeKey,
		Status:    string(exec.Status),
		Outcome:   exec.Outcome,
		Result:    exec.Result.Value(),
		Error:     exec.Error,
	})
}

func (h *Handler) getCommand(w http.ResponseWriter, r *http.Request) {
	rec, err := h.deps.Ledger.Get(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		h.handleDomainError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, toCommandResponse(rec))
}

func (h *Handler) listOccurrences(w http.ResponseWriter, r *http.Request) {
	limit, ok := h.parseLimit(w, r)
	if !ok {
		return
	}

	occs, err := h.deps.Occurrences.List(r.Context(), domain.OccurrenceFilter{
		Status:  domain.OccurrenceStatus(r.URL.Query().Get("status")),
		AfterID: r.URL.Query().Get("after"),
		Limit:   limit,
	})
	if err != nil {
		h.handleDomainError(w, err)
		return
	}

	result := make([]occurrenceResponse, 0, len(occs))
	for _, occ := range occs {
		result = append(result, toOccurrenceResponse(occ))
	}
	h.writeJSON(w, http.StatusOK, map[string]any{"items": result})
}

func (h *Handler) getOccurrence(w http.ResponseWriter, r *http.Request) {
	occ, err := h.deps.Occurrences.Get(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		h.handleDomainError(w, err)
		return
	}
	dispatches, err := h.deps.Dispatches.ListByOccurrence(r.Context(), occ.ID)
	if err != nil {
		h.handleDomainError(w, err)
		return
	}

	resp := toOccurrenceResponse(occ)
	resp.Dispatches = make([]dispatchResponse, 0, len(dispatches))
	for _, d := range dispatches {
		resp.Dispatches = append(resp.Dispatches, toDispatchResponse(d))
	}
	h.writeJSON(w, http.StatusOK, resp)
}

func (h *Handler) getDispatch(w http.ResponseWriter, r *http.Request) {
	d, err := h.deps.Dispatches.Get(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		h.handleDomainError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, toDispatchResponse(d))
}

func (h *Handler) listAudit(w http.ResponseWriter, r *http.Request) {
	limit, ok := h.parseLimit(w, r)
	if !ok {
		return
	}
	q := r.URL.Query()
	entries, err := h.deps.Audit.List(r.Context(), domain.AuditFilter{
		AggregateType: q.Get("aggregate_type"),
		AggregateID:   q.Get("aggregate_id"),
		EventType:     q.Get("event_type"),
		Limit:         limit,
	})
	if err != nil {
		h.handleDomainError(w, err)
		return
	}

	result := make([]auditResponse, 0, len(entries))
	for _, e := range entries {
		result = append(result, auditResponse{
			ID:            e.ID,
			AggregateType: e.AggregateType,
			AggregateID:   e.AggregateID,
			EventType:     e.EventType,
			EventData:     e.EventData,
			OccurredAt:    e.OccurredAt.UTC().Format(timeFormat),
		})
	}
	h.writeJSON(w, http.StatusOK, map[string]any{"items": result})
}

func (h *Handler) healthz(w http.ResponseWriter, _ *http.Request) {
	h.writeJSON(w, http.StatusOK, map[string]bool{"ok": true})
}

func (h *Handler) openapi(w http.ResponseWriter, _ *http.Request) {
	h.writeJSON(w, http.StatusOK, openapiSpec())
}

// decodeCommand reads the command envelope. The Idempotency-Key header fills
// in a missing idempotencyKey.
func (h *Handler) decodeCommand(w http.ResponseWriter, r *http.Request) (domain.InboundCommand, bool) {
	r.Body = http.MaxBytesReader(w, r.Body, maxJSONBodySize)

	var req commandRequest
	decoder := json.NewDecoder(r.Body)
	decoder.DisallowUnknownFields()
	decoder.UseNumber()
	if err := decoder.Decode(&req); err != nil {
		h.writeError(w, http.StatusBadRequest, "invalid json body")
		return domain.InboundCommand{}, false
	}
	if err := ensureEOF(decoder); err != nil {
		h.writeError(w, http.StatusBadRequest, "invalid json body")
		return domain.InboundCommand{}, false
	}

	key := req.IdempotencyKey
	if strings.TrimSpace(key) == "" {
		key = r.Header.Get("Idempotency-Key")
	}
	source := req.Source
	if source == "" {
		source = "http"
	}
	return domain.InboundCommand{
		CommandID:      req.CommandID,
		IdempotencyKey: key,
		Source:         source,
		Type:           req.Type,
		ScopeKey:       req.ScopeKey,
		Payload:        req.Payload,
	}, true
}

func toCommandResponse(rec domain.CommandRecord) commandResponse {
	resp := commandResponse{
		CommandID:      rec.CommandID,
		IdempotencyKey: rec.IdempotencyKey,
		Type:           rec.CommandType,
		ScopeKey:       rec.ScopeKey,
		Source:         rec.Source,
		Status:         string(rec.Status),
		Result:         rec.Result.Value(),
		Error:          rec.ErrorMessage,
		CreatedAt:      formatTime(rec.CreatedAt),
		UpdatedAt:      formatTime(rec.UpdatedAt),
		ExpiresAt:      formatTime(rec.ExpiresAt),
	}
	if rec.ProcessedAt != nil {
		processed := formatTime(*rec.ProcessedAt)
		resp.ProcessedAt = &processed
	}
	return resp
}

func toOccurrenceResponse(occ domain.Occurrence) occurrenceResponse {
	return occurrenceResponse{
		ID:           occ.ID,
		ExternalID:   occ.ExternalID,
		Type:         occ.TypeCode,
		TypeName:     occ.TypeName,
		TypeCategory: occ.TypeCategory,
		Status:       string(occ.StatusCode),
		StatusName:   occ.StatusName,
		IsFinal:      occ.IsFinal,
		Description:  occ.Description,
		ReportedAt:   formatTime(occ.ReportedAt),
		CreatedAt:    formatTime(occ.CreatedAt),
		UpdatedAt:    formatTime(occ.UpdatedAt),
	}
}

func toDispatchResponse(d domain.Dispatch) dispatchResponse {
	return dispatchResponse{
		ID:           d.ID,
		OccurrenceID: d.OccurrenceID,
		ResourceCode: d.ResourceCode,
		Status:       string(d.StatusCode),
		StatusName:   d.StatusName,
		IsActive:     d.IsActive,
		CreatedAt:    formatTime(d.CreatedAt),
		UpdatedAt:    formatTime(d.UpdatedAt),
	}
}

func formatTime(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.UTC().Format(timeFormat)
}

func (h *Handler) parseLimit(w http.ResponseWriter, r *http.Request) (int, bool) {
	limit := 100
	if raw := r.URL.Query().Get("limit"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil {
			h.writeError(w, http.StatusBadRequest, "limit must be integer")
			return 0, false
		}
		limit = parsed
	}
	return limit, true
}

func (h *Handler) writeJSON(w http.ResponseWriter, status int, body any) {
	data, err := json.Marshal(body)
	if err != nil {
		h.log.Error().Err(err).Msg("encode json response")
		http.Error(w, "internal server error", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if _, err := w.Write(append(data, '\n')); err != nil {
		h.log.Debug().Err(err).Msg("write response")
	}
}

func (h *Handler) writeError(w http.ResponseWriter, status int, message string) {
	h.writeJSON(w, status, map[string]any{"error": message})
}

func (h *Handler) handleDomainError(w http.ResponseWriter, err error) {
	var violation *domain.ErrSchemaViolation
	switch {
	case errors.As(err, &violation):
		h.writeJSON(w, http.StatusBadRequest, map[string]any{"error": "payload failed validation", "details": violation.Errors})
	case errors.Is(err, domain.ErrInvalidArgument):
		h.writeError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, domain.ErrUnsupportedCommand):
		h.writeError(w, http.StatusUnprocessableEntity, err.Error())
	case errors.Is(err, domain.ErrNotFound):
		h.writeError(w, http.StatusNotFound, err.Error())
	case errors.Is(err, domain.ErrIdempotencyConflict), errors.Is(err, domain.ErrDomainConflict):
		h.writeError(w, http.StatusConflict, err.Error())
	default:
		h.log.Error().Err(err).Msg("request failed")
		h.writeError(w, http.StatusInternalServerError, "internal server error")
	}
}

func ensureEOF(decoder *json.Decoder) error {
	var extra json.RawMessage
	if err := decoder.Decode(&extra); err != nil {
		if err == io.EOF {
			return nil
		}
		return err
	}
	return errors.New("extra json tokens")
}

func openapiSpec() map[string]any {
	return map[string]any{
		"openapi": "3.0.3",
		"info": map[string]any{
			"title":   "incidentd",
			"version": "1.0.0",
		},
		"paths": map[string]any{
			"/v1/commands": map[string]any{
				"post": map[string]any{"summary": "Queue a command"},
			},
			"/v1/commands:execute": map[string]any{
				"post": map[string]any{"summary": "Execute a command synchronously"},
			},
			"/v1/commands/{id}": map[string]any{
				"get": map[string]any{"summary": "Get command status and result"},
			},
			"/v1/occurrences": map[string]any{
				"get": map[string]any{"summary": "List occurrences"},
			},
			"/v1/occurrences/{id}": map[string]any{
				"get": map[string]any{"summary": "Get occurrence with its dispatches"},
			},
			"/v1/dispatches/{id}": map[string]any{
				"get": map[string]any{"summary": "Get dispatch"},
			},
			"/v1/audit": map[string]any{
				"get": map[string]any{"summary": "List audit entries"},
			},
		},
	}
}
