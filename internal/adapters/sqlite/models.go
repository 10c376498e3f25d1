package sqlite

import (
	"database/sql"
	"time"
)

type occurrenceModel struct {
	ID          string    `gorm:"column:id;primaryKey"`
	ExternalID  string    `gorm:"column:external_id;not null"`
	TypeCode    string    `gorm:"column:type_code;not null"`
	StatusCode  string    `gorm:"column:status_code;not null"`
	Description string    `gorm:"column:description;not null"`
	ReportedAt  time.Time `gorm:"column:reported_at;not null"`
	CreatedAt   time.Time `gorm:"column:created_at;not null"`
	UpdatedAt   time.Time `gorm:"column:updated_at;not null"`
}

func (occurrenceModel) TableName() string {
	return "occurrences"
}

// occurrenceView is an occurrence row joined with its reference tables.
// Columns are listed flat: gorm does not scan into unexported embedded structs.
type occurrenceView struct {
	ID           string         `gorm:"column:id"`
	ExternalID   string         `gorm:"column:external_id"`
	TypeCode     string         `gorm:"column:type_code"`
	StatusCode   string         `gorm:"column:status_code"`
	Description  string         `gorm:"column:description"`
	ReportedAt   time.Time      `gorm:"column:reported_at"`
	CreatedAt    time.Time      `gorm:"column:created_at"`
	UpdatedAt    time.Time      `gorm:"column:updated_at"`
	TypeName     sql.NullString `gorm:"column:type_name"`
	TypeCategory sql.NullString `gorm:"column:type_category"`
	StatusName   sql.NullString `gorm:"column:status_name"`
	IsFinal      sql.NullBool   `gorm:"column:is_final"`
}

type dispatchModel struct {
	ID           string    `gorm:"column:id;primaryKey"`
	OccurrenceID string    `gorm:"column:occurrence_id;not null"`
	ResourceCode string    `gorm:"column:resource_code;not null"`
	StatusCode   string    `gorm:"column:status_code;not null"`
	CreatedAt    time.Time `gorm:"column:created_at;not null"`
	UpdatedAt    time.Time `gorm:"column:updated_at;not null"`
}

func (dispatchModel) TableName() string {
	return "dispatches"
}

type dispatchView struct {
	ID           string         `gorm:"column:id"`
	OccurrenceID string         `gorm:"column:occurrence_id"`
	ResourceCode string         `gorm:"column:resource_code"`
	StatusCode   string         `gorm:"column:status_code"`
	CreatedAt    time.Time      `gorm:"column:created_at"`
	UpdatedAt    time.Time      `gorm:"column:updated_at"`
	StatusName   sql.NullString `gorm:"column:status_name"`
	IsActive     sql.NullBool   `gorm:"column:is_active"`
}

type auditLogModel struct {
	ID            string    `gorm:"column:id;primaryKey"`
	AggregateType string    `gorm:"column:aggregate_type;not null"`
	AggregateID   string    `gorm:"column:aggregate_id;not null"`
	EventType     string    `gorm:"column:event_type;not null"`
	EventData     string    `gorm:"column:event_data;not null"`
	OccurredAt    time.Time `gorm:"column:occurred_at;not null"`
	CreatedAt     time.Time `gorm:"column:created_at;not null"`
}

func (auditLogModel) TableName() string {
	return "audit_logs"
}

type commandInboxModel struct {
	CommandID      string         `gorm:"column:command_id;primaryKey"`
	IdempotencyKey string         `gorm:"column:idempotency_key;not null"`
	Source         string         `gorm:"column:source;not null"`
	CommandType    string         `gorm:"column:command_type;not null"`
	ScopeKey       string         `gorm:"column:scope_key;not null"`
	PayloadHash    string         `gorm:"column:payload_hash;not null"`
	Payload        string         `gorm:"column:payload;not null"`
	Status         string         `gorm:"column:status;not null"`
	Result         sql.NullString `gorm:"column:result"`
	ErrorMessage   sql.NullString `gorm:"column:error_message"`
	ProcessedAt    *time.Time     `gorm:"column:processed_at"`
	ExpiresAt      time.Time      `gorm:"column:expires_at;not null"`
	CreatedAt      time.Time      `gorm:"column:created_at;not null"`
	UpdatedAt      time.Time      `gorm:"column:updated_at;not null"`
}

func (commandInboxModel) TableName() string {
	return "command_inbox"
}

type commandJobModel struct {
	ID            int64      `gorm:"column:id;primaryKey;autoIncrement"`
	CommandID     string     `gorm:"column:command_id;not null"`
	PayloadJSON   string     `gorm:"column:payload_json;not null"`
	Status        string     `gorm:"column:status;not null"`
	Attempts      int        `gorm:"column:attempts;not null"`
	NextAttemptAt time.Time  `gorm:"column:next_attempt_at;not null"`
	LastError     string     `gorm:"column:last_error;not null"`
	CreatedAt     time.Time  `gorm:"column:created_at;not null"`
	FinishedAt    *time.Time `gorm:"column:finished_at"`
}

func (commandJobModel) TableName() string {
	return "command_jobs"
}
