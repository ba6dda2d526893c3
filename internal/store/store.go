package store

import (
	"context"
	"time"

	"github.com/sells-group/investigator/internal/model"
)

// InstanceFilter specifies criteria for listing investigator instances.
type InstanceFilter struct {
	TypeCode   string `json:"type_code,omitempty"`
	ActiveOnly bool   `json:"active_only,omitempty"`
	Limit      int    `json:"limit,omitempty"`
	Offset     int    `json:"offset,omitempty"`
}

// ExecutionFilter specifies criteria for listing executions. Results are
// newest first unless Ascending is set; AfterID with Ascending pages forward.
type ExecutionFilter struct {
	InstanceID   string                `json:"instance_id,omitempty"`
	Status       model.ExecutionStatus `json:"status,omitempty"`
	TerminalOnly bool                  `json:"terminal_only,omitempty"`
	AfterID      int64                 `json:"after_id,omitempty"`
	Ascending    bool                  `json:"ascending,omitempty"`
	Limit        int                   `json:"limit,omitempty"`
}

// Store defines the persistence interface for the investigation ledger.
type Store interface {
	// Catalog
	UpsertType(ctx context.Context, t model.InvestigatorType) (*model.InvestigatorType, error)
	ListTypes(ctx context.Context) ([]model.InvestigatorType, error)

	// Instances
	CreateInstance(ctx context.Context, inst model.Instance) (*model.Instance, error)
	GetInstance(ctx context.Context, id string) (*model.Instance, error)
	ListInstances(ctx context.Context, filter InstanceFilter) ([]model.InstanceView, error)
	SetInstanceActive(ctx context.Context, id string, active bool) error
	TouchInstance(ctx context.Context, id string, at time.Time) error
	// DeleteInstance hard-deletes an instance and, by cascade, its executions
	// and results. It fails with model.ErrInUse while a run is in flight.
	DeleteInstance(ctx context.Context, id string) error

	// Executions
	// OpenExecution atomically checks that the instance exists, is active and
	// has no running execution, then inserts a running execution.
	OpenExecution(ctx context.Context, instanceID string, startedAt time.Time) (*model.Execution, error)
	FinishExecution(ctx context.Context, id int64, outcome model.ExecutionOutcome) error
	GetExecution(ctx context.Context, id int64) (*model.Execution, error)
	ListExecutions(ctx context.Context, filter ExecutionFilter) ([]model.Execution, error)
	HasRunningExecution(ctx context.Context, instanceID string) (bool, error)

	// FailOrphanedExecutions marks every running execution failed with its
	// actual row count. Only safe while no run is in flight.
	FailOrphanedExecutions(ctx context.Context, at time.Time, reason string) (int, error)

	// Results
	// AppendResult writes one result. A non-zero Seq makes the write
	// idempotent per execution: repeating it returns the stored row.
	AppendResult(ctx context.Context, r model.Result) (*model.Result, error)
	ListResults(ctx context.Context, instanceID string, limit int) ([]model.Result, error)
	CountResults(ctx context.Context, executionID int64) (int, error)
	// RecountExecution sets result_count to the actual row count of a
	// terminal execution and reports whether the stored value changed.
	RecountExecution(ctx context.Context, executionID int64) (bool, error)

	Summary(ctx context.Context) (*model.Summary, error)

	// Dataset
	LoadDataset(ctx context.Context, kind model.EntityKind) (*model.Dataset, error)
	ReplaceInvoices(ctx context.Context, invoices []model.Invoice) (int, error)
	ReplaceWaybills(ctx context.Context, waybills []model.Waybill) (int, error)

	// Lifecycle
	Migrate(ctx context.Context) error
	Close() error
}

const defaultListLimit = 100

func listLimit(n int) int {
	if n <= 0 {
		return defaultListLimit
	}
	return n
}

func nullableJSON(raw []byte) []byte {
	if len(raw) == 0 {
		return nil
	}
	return raw
}

func nullableSeq(seq int) *int {
	if seq <= 0 {
		return nil
	}
	return &seq
}

func nullableString(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
