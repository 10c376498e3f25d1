package domain

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

type CommandStatus string

const (
	CommandReceived   CommandStatus = "RECEIVED"
	CommandEnqueued   CommandStatus = "ENQUEUED" // legacy alias of RECEIVED
	CommandProcessing CommandStatus = "PROCESSING"
	CommandSucceeded  CommandStatus = "SUCCEEDED"
	CommandFailed     CommandStatus = "FAILED"
)

var commandTransitions = map[CommandStatus][]CommandStatus{
	CommandReceived:   {CommandProcessing},
	CommandEnqueued:   {CommandProcessing},
	CommandProcessing: {CommandSucceeded, CommandFailed},
	CommandFailed:     {CommandProcessing},
	CommandSucceeded:  nil,
}

func ParseCommandStatus(raw string) (CommandStatus, error) {
	s := CommandStatus(strings.ToUpper(strings.TrimSpace(raw)))
	if _, ok := commandTransitions[s]; !ok {
		return "", invalidArgument("unknown command status %q", raw)
	}
	return s, nil
}

// ShouldProcess reports whether a command in this status still needs work.
func (s CommandStatus) ShouldProcess() bool {
	switch s {
	case CommandReceived, CommandEnqueued, CommandFailed:
		return true
	default:
		return false
	}
}

func (s CommandStatus) CanTransitionTo(next CommandStatus) bool {
	for _, allowed := range commandTransitions[s] {
		if allowed == next {
			return true
		}
	}
	return false
}

// ClaimableStatuses lists the statuses a claim may move to PROCESSING.
func ClaimableStatuses() []CommandStatus {
	return []CommandStatus{CommandReceived, CommandEnqueued, CommandFailed}
}

// InboundCommand is the envelope accepted from HTTP, CLI and queued jobs.
type InboundCommand struct {
	CommandID      string         `json:"commandId,omitempty"`
	IdempotencyKey string         `json:"idempotencyKey"`
	Source         string         `json:"source"`
	Type           string         `json:"type"`
	ScopeKey       string         `json:"scopeKey"`
	Payload        map[string]any `json:"payload"`
}

// NormalizeIdempotencyKey trims key and rejects an empty result.
func NormalizeIdempotencyKey(key string) (string, error) {
	key = strings.TrimSpace(key)
	if key == "" {
		return "", invalidArgument("idempotency key is required")
	}
	return key, nil
}

type CommandRecord struct {
	CommandID      string
	IdempotencyKey string
	Source         string
	CommandType    string
	ScopeKey       string
	PayloadHash    string
	Payload        json.RawMessage
	Status         CommandStatus
	Result         CommandResult
	ErrorMessage   string
	ProcessedAt    *time.Time
	ExpiresAt      time.Time
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

func (r CommandRecord) Decision(registered bool) CommandDecision {
	return CommandDecision{
		CommandID:     r.CommandID,
		ShouldProcess: r.Status.ShouldProcess(),
		Status:        r.Status,
		Registered:    registered,
	}
}

type CommandDecision struct {
	CommandID     string
	ShouldProcess bool
	Status        CommandStatus
	// Registered is true when this call created the ledger row.
	Registered bool
}

type ResultKind string

const (
	ResultStructured ResultKind = "structured"
	ResultOpaque     ResultKind = "opaque"
)

// CommandResult is either a flat structured map or an opaque JSON value.
// The zero value means no result has been recorded.
type CommandResult struct {
	kind   ResultKind
	fields map[string]any
	opaque json.RawMessage
}

func StructuredResult(fields map[string]any) CommandResult {
	if fields == nil {
		fields = map[string]any{}
	}
	return CommandResult{kind: ResultStructured, fields: fields}
}

func OpaqueResult(v any) (CommandResult, error) {
	raw, err := json.Marshal(v)
	if err != nil {
		return CommandResult{}, fmt.Errorf("marshal opaque result: %w", err)
	}
	return CommandResult{kind: ResultOpaque, opaque: raw}, nil
}

func (r CommandResult) Kind() ResultKind { return r.kind }

func (r CommandResult) IsZero() bool { return r.kind == "" }

// Fields returns the structured map, or nil for opaque and empty results.
func (r CommandResult) Fields() map[string]any {
	if r.kind != ResultStructured {
		return nil
	}
	return r.fields
}

// Value returns the result as a plain JSON-marshalable value.
func (r CommandResult) Value() any {
	switch r.kind {
	case ResultStructured:
		return r.fields
	case ResultOpaque:
		return r.opaque
	default:
		return nil
	}
}

type resultEnvelope struct {
	Kind ResultKind      `json:"kind"`
	Data json.RawMessage `json:"data"`
}

func (r CommandResult) MarshalJSON() ([]byte, error) {
	if r.IsZero() {
		return []byte("null"), nil
	}
	var data json.RawMessage
	switch r.kind {
	case ResultStructured:
		raw, err := json.Marshal(r.fields)
		if err != nil {
			return nil, err
		}
		data = raw
	case ResultOpaque:
		data = r.opaque
	}
	return json.Marshal(resultEnvelope{Kind: r.kind, Data: data})
}

func (r *CommandResult) UnmarshalJSON(raw []byte) error {
	if len(bytes.TrimSpace(raw)) == 0 || bytes.Equal(bytes.TrimSpace(raw), []byte("null")) {
		*r = CommandResult{}
		return nil
	}
	var env resultEnvelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return fmt.Errorf("decode result envelope: %w", err)
	}
	switch env.Kind {
	case ResultStructured:
		fields := map[string]any{}
		if err := json.Unmarshal(env.Data, &fields); err != nil {
			return fmt.Errorf("decode structured result: %w", err)
		}
		*r = CommandResult{kind: ResultStructured, fields: fields}
	case ResultOpaque:
		*r = CommandResult{kind: ResultOpaque, opaque: append(json.RawMessage(nil), env.Data...)}
	default:
		return fmt.Errorf("unknown result kind %q", env.Kind)
	}
	return nil
}
