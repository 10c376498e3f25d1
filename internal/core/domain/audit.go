package domain

import (
	"encoding/json"
	"fmt"
	"time"
)

const (
	AggregateOccurrence = "occurrence"
	AggregateDispatch   = "dispatch"

	EventStatusChanged = "status_changed"
)

type AuditEntry struct {
	ID            string
	AggregateType string
	AggregateID   string
	EventType     string
	EventData     json.RawMessage
	OccurredAt    time.Time
}

// AuditEventData is the event_data document stored with each entry.
type AuditEventData struct {
	Action string         `json:"action"`
	Before map[string]any `json:"before,omitempty"`
	After  map[string]any `json:"after,omitempty"`
	Meta   map[string]any `json:"meta,omitempty"`
}

// StatusChange builds the event data for a status transition.
func StatusChange(action, from, to string) AuditEventData {
	return AuditEventData{
		Action: action,
		Before: map[string]any{"status_code": from},
		After:  map[string]any{"status_code": to},
		Meta:   map[string]any{"transition": fmt.Sprintf("%s -> %s", from, to)},
	}
}

type AuditFilter struct {
	AggregateType string
	AggregateID   string
	EventType     string
	Limit         int
}
