package model

import (
	"encoding/json"
	"time"
)

// ExecutionStatus represents the lifecycle state of an investigation execution.
type ExecutionStatus string

const (
	ExecutionStatusRunning   ExecutionStatus = "running"
	ExecutionStatusCompleted ExecutionStatus = "completed"
	ExecutionStatusFailed    ExecutionStatus = "failed"
)

// IsTerminal reports whether the status is Completed or Failed.
func (s ExecutionStatus) IsTerminal() bool {
	return s == ExecutionStatusCompleted || s == ExecutionStatusFailed
}

// InstanceStatusIdle is reported for instances that have never run.
const InstanceStatusIdle = "idle"

// InvestigatorType is a catalog entry: one category of anomaly check.
type InvestigatorType struct {
	ID                   int64           `json:"id"`
	Code                 string          `json:"code"`
	DisplayName          string          `json:"display_name"`
	Description          string          `json:"description"`
	DefaultConfiguration json.RawMessage `json:"default_configuration,omitempty"`
	IsActive             bool            `json:"is_active"`
}

// Instance is a named, configurable, runnable investigator bound to one type.
type Instance struct {
	ID                  string          `json:"id"`
	TypeID              int64           `json:"type_id"`
	TypeCode            string          `json:"type_code"`
	CustomName          string          `json:"custom_name"`
	CustomConfiguration json.RawMessage `json:"custom_configuration,omitempty"`
	IsActive            bool            `json:"is_active"`
	CreatedAt           time.Time       `json:"created_at"`
	LastExecutedAt      *time.Time      `json:"last_executed_at,omitempty"`
}

// InstanceView is the list projection of an instance with its latest execution.
type InstanceView struct {
	Instance
	Status      string `json:"status"`
	ResultCount int    `json:"result_count"`
}

// Execution is one run of an instance.
type Execution struct {
	ID             int64           `json:"id"`
	InvestigatorID string          `json:"investigator_id"`
	StartedAt      time.Time       `json:"started_at"`
	CompletedAt    *time.Time      `json:"completed_at,omitempty"`
	Status         ExecutionStatus `json:"status"`
	ResultCount    int             `json:"result_count"`
	ErrorMessage   *string         `json:"error_message,omitempty"`
}

// ExecutionOutcome carries the terminal state written when a run finishes.
type ExecutionOutcome struct {
	Status       ExecutionStatus
	CompletedAt  time.Time
	ResultCount  int
	ErrorMessage string
}

// Result is one persisted finding in the append-only ledger.
type Result struct {
	ID          int64           `json:"id"`
	ExecutionID int64           `json:"execution_id"`
	Seq         int             `json:"seq,omitempty"`
	Timestamp   time.Time       `json:"timestamp"`
	Severity    Severity        `json:"severity"`
	Message     string          `json:"message"`
	EntityType  EntityKind      `json:"entity_type"`
	EntityID    string          `json:"entity_id"`
	Payload     json.RawMessage `json:"payload,omitempty"`
}

// Summary is the read-only aggregate projection over the registry and ledger.
type Summary struct {
	TotalInstances   int `json:"total_instances"`
	ActiveInstances  int `json:"active_instances"`
	RunningInstances int `json:"running_instances"`
	TotalExecutions  int `json:"total_executions"`
	TotalResults     int `json:"total_results"`
}

// CountCheck compares an execution's declared result count with its ledger rows.
type CountCheck struct {
	ExecutionID   int64 `json:"execution_id"`
	DeclaredCount int   `json:"declared_count"`
	ActualCount   int   `json:"actual_count"`
	IsAccurate    bool  `json:"is_accurate"`
}
