package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rotisserie/eris"

	"github.com/sells-group/investigator/internal/db"
	"github.com/sells-group/investigator/internal/model"
)

// PostgresStore implements Store using pgxpool.
type PostgresStore struct {
	pool    db.Pool
	closeFn func()
}

// PoolConfig holds optional connection pool tuning parameters.
type PoolConfig struct {
	MaxConns int32 `yaml:"max_conns" mapstructure:"max_conns"`
	MinConns int32 `yaml:"min_conns" mapstructure:"min_conns"`
}

// preparedStatements lists the run-loop queries prepared on each new
// connection.
var preparedStatements = map[string]string{
	"append_result":    `INSERT INTO investigation_results (execution_id, seq, ts, severity, message, entity_type, entity_id, payload) VALUES ($1, $2, $3, $4, $5, $6, $7, $8) ON CONFLICT (execution_id, seq) DO UPDATE SET seq = EXCLUDED.seq RETURNING id`,
	"finish_execution": `UPDATE investigation_executions SET status = $1, completed_at = $2, result_count = $3, error_message = $4 WHERE id = $5 AND status = 'running'`,
	"count_results":    `SELECT COUNT(*) FROM investigation_results WHERE execution_id = $1`,
	"touch_instance":   `UPDATE investigator_instances SET last_executed_at = $1 WHERE id = $2`,
}

// Unique constraints mapped to domain errors.
const (
	constraintInstanceName     = "uq_instances_type_name"
	constraintRunningExecution = "ux_executions_running"
)

// NewPostgres creates a PostgresStore with a connection pool.
func NewPostgres(ctx context.Context, connString string, poolCfg *PoolConfig) (*PostgresStore, error) {
	pgxCfg, err := pgxpool.ParseConfig(connString)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: parse config")
	}

	maxConns := int32(10)
	minConns := int32(2)
	if poolCfg != nil {
		if poolCfg.MaxConns > 0 {
			maxConns = poolCfg.MaxConns
		}
		if poolCfg.MinConns > 0 {
			minConns = poolCfg.MinConns
		}
	}
	pgxCfg.MaxConns = maxConns
	pgxCfg.MinConns = minConns
	pgxCfg.MaxConnLifetime = 30 * time.Minute
	pgxCfg.MaxConnIdleTime = 5 * time.Minute

	pgxCfg.AfterConnect = func(ctx context.Context, conn *pgx.Conn) error {
		for name, sql := range preparedStatements {
			if _, err := conn.Prepare(ctx, name, sql); err != nil {
				return eris.Wrapf(err, "postgres: prepare %s", name)
			}
		}
		return nil
	}

	pool, err := pgxpool.NewWithConfig(ctx, pgxCfg)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: create pool")
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, eris.Wrap(err, "postgres: ping")
	}
	return &PostgresStore{pool: pool, closeFn: pool.Close}, nil
}

// Pool returns the underlying database pool.
func (s *PostgresStore) Pool() db.Pool {
	return s.pool
}

const postgresMigration = `
CREATE TABLE IF NOT EXISTS investigator_types (
	id                    BIGSERIAL PRIMARY KEY,
	code                  TEXT NOT NULL UNIQUE,
	display_name          TEXT NOT NULL,
	description           TEXT NOT NULL DEFAULT '',
	default_configuration JSONB,
	is_active             BOOLEAN NOT NULL DEFAULT TRUE
);

CREATE TABLE IF NOT EXISTS investigator_instances (
	id                   TEXT PRIMARY KEY DEFAULT gen_random_uuid()::text,
	type_id              BIGINT NOT NULL REFERENCES investigator_types(id) ON DELETE RESTRICT,
	custom_name          TEXT NOT NULL,
	custom_configuration JSONB,
	is_active            BOOLEAN NOT NULL DEFAULT TRUE,
	created_at           TIMESTAMPTZ NOT NULL DEFAULT now(),
	last_executed_at     TIMESTAMPTZ,
	CONSTRAINT uq_instances_type_name UNIQUE (type_id, custom_name)
);

CREATE TABLE IF NOT EXISTS investigation_executions (
	id              BIGSERIAL PRIMARY KEY,
	investigator_id TEXT NOT NULL REFERENCES investigator_instances(id) ON DELETE CASCADE,
	started_at      TIMESTAMPTZ NOT NULL,
	completed_at    TIMESTAMPTZ,
	status          TEXT NOT NULL CHECK (status IN ('running', 'completed', 'failed')),
	result_count    INTEGER NOT NULL DEFAULT 0,
	error_message   TEXT
);

CREATE UNIQUE INDEX IF NOT EXISTS ux_executions_running ON investigation_executions(investigator_id) WHERE status = 'running';
CREATE INDEX IF NOT EXISTS idx_executions_investigator ON investigation_executions(investigator_id, id DESC);

CREATE TABLE IF NOT EXISTS investigation_results (
	id           BIGSERIAL PRIMARY KEY,
	execution_id BIGINT NOT NULL REFERENCES investigation_executions(id) ON DELETE CASCADE,
	seq          INTEGER,
	ts           TIMESTAMPTZ NOT NULL,
	severity     TEXT NOT NULL CHECK (severity IN ('info', 'anomaly', 'critical')),
	message      TEXT NOT NULL,
	entity_type  TEXT NOT NULL,
	entity_id    TEXT NOT NULL,
	payload      JSONB,
	CONSTRAINT uq_results_execution_seq UNIQUE (execution_id, seq)
);

CREATE TABLE IF NOT EXISTS invoices (
	id           TEXT PRIMARY KEY,
	number       TEXT NOT NULL,
	total_amount DOUBLE PRECISION NOT NULL,
	total_tax    DOUBLE PRECISION NOT NULL,
	issue_date   TIMESTAMPTZ NOT NULL
);

CREATE TABLE IF NOT EXISTS waybills (
	id               TEXT PRIMARY KEY,
	number           TEXT NOT NULL,
	goods_issue_date TIMESTAMPTZ NOT NULL,
	due_date         TIMESTAMPTZ
);
`

// Ping checks database connectivity.
func (s *PostgresStore) Ping(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, "SELECT 1")
	return eris.Wrap(err, "postgres: ping")
}

func (s *PostgresStore) Migrate(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, postgresMigration)
	return eris.Wrap(err, "postgres: migrate")
}

func (s *PostgresStore) Close() error {
	if s.closeFn != nil {
		s.closeFn()
	}
	return nil
}

// --- catalog ---

func (s *PostgresStore) UpsertType(ctx context.Context, t model.InvestigatorType) (*model.InvestigatorType, error) {
	err := s.pool.QueryRow(ctx,
		`INSERT INTO investigator_types (code, display_name, description, default_configuration, is_active)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (code) DO UPDATE SET
			display_name = EXCLUDED.display_name,
			description = EXCLUDED.description,
			default_configuration = EXCLUDED.default_configuration,
			is_active = EXCLUDED.is_active
		RETURNING id`,
		t.Code, t.DisplayName, t.Description, nullableJSON(t.DefaultConfiguration), t.IsActive,
	).Scan(&t.ID)
	if err != nil {
		return nil, eris.Wrapf(err, "postgres: upsert type %s", t.Code)
	}
	return &t, nil
}

func (s *PostgresStore) ListTypes(ctx context.Context) ([]model.InvestigatorType, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT id, code, display_name, description, default_configuration, is_active
		FROM investigator_types ORDER BY id`)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list types")
	}
	defer rows.Close()

	var types []model.InvestigatorType
	for rows.Next() {
		var t model.InvestigatorType
		var cfg []byte
		if err := rows.Scan(&t.ID, &t.Code, &t.DisplayName, &t.Description, &cfg, &t.IsActive); err != nil {
			return nil, eris.Wrap(err, "postgres: scan type")
		}
		t.DefaultConfiguration = nullableJSON(cfg)
		types = append(types, t)
	}
	return types, eris.Wrap(rows.Err(), "postgres: list types iterate")
}

// --- instances ---

func (s *PostgresStore) CreateInstance(ctx context.Context, inst model.Instance) (*model.Instance, error) {
	if inst.ID == "" {
		inst.ID = uuid.New().String()
	}
	if inst.CreatedAt.IsZero() {
		inst.CreatedAt = time.Now().UTC()
	}

	_, err := s.pool.Exec(ctx,
		`INSERT INTO investigator_instances (id, type_id, custom_name, custom_configuration, is_active, created_at)
		VALUES ($1, $2, $3, $4, $5, $6)`,
		inst.ID, inst.TypeID, inst.CustomName, nullableJSON(inst.CustomConfiguration), inst.IsActive, inst.CreatedAt,
	)
	if err != nil {
		if c, ok := db.UniqueViolation(err); ok && c == constraintInstanceName {
			return nil, eris.Wrapf(model.ErrDuplicateName, "postgres: create instance %q", inst.CustomName)
		}
		return nil, eris.Wrap(err, "postgres: insert instance")
	}
	return &inst, nil
}

const instanceColumns = `i.id, i.type_id, t.code, i.custom_name, i.custom_configuration, i.is_active, i.created_at, i.last_executed_at`

func (s *PostgresStore) GetInstance(ctx context.Context, id string) (*model.Instance, error) {
	var inst model.Instance
	var cfg []byte
	err := s.pool.QueryRow(ctx,
		`SELECT `+instanceColumns+`
		FROM investigator_instances i JOIN investigator_types t ON t.id = i.type_id
		WHERE i.id = $1`, id,
	).Scan(&inst.ID, &inst.TypeID, &inst.TypeCode, &inst.CustomName, &cfg, &inst.IsActive, &inst.CreatedAt, &inst.LastExecutedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, eris.Wrapf(model.ErrNotFound, "postgres: instance %s", id)
	}
	if err != nil {
		return nil, eris.Wrapf(err, "postgres: get instance %s", id)
	}
	inst.CustomConfiguration = nullableJSON(cfg)
	return &inst, nil
}

func (s *PostgresStore) ListInstances(ctx context.Context, filter InstanceFilter) ([]model.InstanceView, error) {
	query := `SELECT ` + instanceColumns + `,
		COALESCE(le.status, 'idle'), COALESCE(le.result_count, 0)
	FROM investigator_instances i
	JOIN investigator_types t ON t.id = i.type_id
	LEFT JOIN LATERAL (
		SELECT e.status, e.result_count FROM investigation_executions e
		WHERE e.investigator_id = i.id ORDER BY e.id DESC LIMIT 1
	) le ON true
	WHERE true`
	args := []any{}
	argIdx := 1

	if filter.TypeCode != "" {
		query += fmt.Sprintf(` AND t.code = $%d`, argIdx)
		args = append(args, filter.TypeCode)
		argIdx++
	}
	if filter.ActiveOnly {
		query += ` AND i.is_active`
	}
	query += ` ORDER BY i.created_at, i.custom_name`

	query += fmt.Sprintf(` LIMIT $%d`, argIdx)
	args = append(args, listLimit(filter.Limit))
	argIdx++

	if filter.Offset > 0 {
		query += fmt.Sprintf(` OFFSET $%d`, argIdx)
		args = append(args, filter.Offset)
	}

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list instances")
	}
	defer rows.Close()

	var views []model.InstanceView
	for rows.Next() {
		var v model.InstanceView
		var cfg []byte
		if err := rows.Scan(&v.ID, &v.TypeID, &v.TypeCode, &v.CustomName, &cfg, &v.IsActive,
			&v.CreatedAt, &v.LastExecutedAt, &v.Status, &v.ResultCount); err != nil {
			return nil, eris.Wrap(err, "postgres: scan instance")
		}
		v.CustomConfiguration = nullableJSON(cfg)
		views = append(views, v)
	}
	return views, eris.Wrap(rows.Err(), "postgres: list instances iterate")
}

func (s *PostgresStore) SetInstanceActive(ctx context.Context, id string, active bool) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE investigator_instances SET is_active = $1 WHERE id = $2`, active, id)
	if err != nil {
		return eris.Wrapf(err, "postgres: set instance active %s", id)
	}
	if tag.RowsAffected() == 0 {
		return eris.Wrapf(model.ErrNotFound, "postgres: instance %s", id)
	}
	return nil
}

func (s *PostgresStore) TouchInstance(ctx context.Context, id string, at time.Time) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE investigator_instances SET last_executed_at = $1 WHERE id = $2`, at, id)
	if err != nil {
		return eris.Wrapf(err, "postgres: touch instance %s", id)
	}
	if tag.RowsAffected() == 0 {
		return eris.Wrapf(model.ErrNotFound, "postgres: instance %s", id)
	}
	return nil
}

// lockInstance takes a row lock on the instance for the rest of tx.
func lockInstance(ctx context.Context, tx pgx.Tx, id string) (active bool, err error) {
	err = tx.QueryRow(ctx,
		`SELECT is_active FROM investigator_instances WHERE id = $1 FOR UPDATE`, id,
	).Scan(&active)
	if errors.Is(err, pgx.ErrNoRows) {
		return false, eris.Wrapf(model.ErrNotFound, "postgres: instance %s", id)
	}
	if err != nil {
		return false, eris.Wrapf(err, "postgres: lock instance %s", id)
	}
	return active, nil
}

func hasRunning(ctx context.Context, q interface {
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}, id string) (bool, error) {
	var running bool
	err := q.QueryRow(ctx,
		`SELECT EXISTS (SELECT 1 FROM investigation_executions WHERE investigator_id = $1 AND status = 'running')`, id,
	).Scan(&running)
	if err != nil {
		return false, eris.Wrapf(err, "postgres: check running %s", id)
	}
	return running, nil
}

func (s *PostgresStore) DeleteInstance(ctx context.Context, id string) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return eris.Wrap(err, "postgres: delete instance: begin tx")
	}
	defer tx.Rollback(ctx) //nolint:errcheck

	if _, err := lockInstance(ctx, tx, id); err != nil {
		return err
	}
	running, err := hasRunning(ctx, tx, id)
	if err != nil {
		return err
	}
	if running {
		return eris.Wrapf(model.ErrInUse, "postgres: delete instance %s", id)
	}
	if _, err := tx.Exec(ctx, `DELETE FROM investigator_instances WHERE id = $1`, id); err != nil {
		return eris.Wrapf(err, "postgres: delete instance %s", id)
	}
	return eris.Wrap(tx.Commit(ctx), "postgres: delete instance: commit")
}

// --- executions ---

func (s *PostgresStore) OpenExecution(ctx context.Context, instanceID string, startedAt time.Time) (*model.Execution, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: open execution: begin tx")
	}
	defer tx.Rollback(ctx) //nolint:errcheck

	active, err := lockInstance(ctx, tx, instanceID)
	if err != nil {
		return nil, err
	}
	if !active {
		return nil, eris.Wrapf(model.ErrInactive, "postgres: instance %s", instanceID)
	}
	running, err := hasRunning(ctx, tx, instanceID)
	if err != nil {
		return nil, err
	}
	if running {
		return nil, eris.Wrapf(model.ErrAlreadyRunning, "postgres: instance %s", instanceID)
	}

	e := model.Execution{
		InvestigatorID: instanceID,
		StartedAt:      startedAt,
		Status:         model.ExecutionStatusRunning,
	}
	err = tx.QueryRow(ctx,
		`INSERT INTO investigation_executions (investigator_id, started_at, status, result_count)
		VALUES ($1, $2, $3, 0) RETURNING id`,
		instanceID, startedAt, string(model.ExecutionStatusRunning),
	).Scan(&e.ID)
	if err != nil {
		if c, ok := db.UniqueViolation(err); ok && c == constraintRunningExecution {
			return nil, eris.Wrapf(model.ErrAlreadyRunning, "postgres: instance %s", instanceID)
		}
		return nil, eris.Wrap(err, "postgres: insert execution")
	}
	if err := tx.Commit(ctx); err != nil {
		return nil, eris.Wrap(err, "postgres: open execution: commit")
	}
	return &e, nil
}

func (s *PostgresStore) FinishExecution(ctx context.Context, id int64, outcome model.ExecutionOutcome) error {
	if !outcome.Status.IsTerminal() {
		return eris.Errorf("postgres: finish execution %d: status %q is not terminal", id, outcome.Status)
	}
	tag, err := s.pool.Exec(ctx,
		`UPDATE investigation_executions SET status = $1, completed_at = $2, result_count = $3, error_message = $4
		WHERE id = $5 AND status = 'running'`,
		string(outcome.Status), outcome.CompletedAt, outcome.ResultCount, nullableString(outcome.ErrorMessage), id,
	)
	if err != nil {
		return eris.Wrapf(err, "postgres: finish execution %d", id)
	}
	if tag.RowsAffected() == 0 {
		return eris.Wrapf(model.ErrNotFound, "postgres: running execution %d", id)
	}
	return nil
}

func (s *PostgresStore) FailOrphanedExecutions(ctx context.Context, at time.Time, reason string) (int, error) {
	tag, err := s.pool.Exec(ctx,
		`UPDATE investigation_executions e
		SET status = 'failed', completed_at = $1, error_message = $2,
			result_count = (SELECT COUNT(*) FROM investigation_results r WHERE r.execution_id = e.id)
		WHERE e.status = 'running'`,
		at, reason,
	)
	if err != nil {
		return 0, eris.Wrap(err, "postgres: fail orphaned executions")
	}
	return int(tag.RowsAffected()), nil
}

const executionColumns = `id, investigator_id, started_at, completed_at, status, result_count, error_message`

func (s *PostgresStore) GetExecution(ctx context.Context, id int64) (*model.Execution, error) {
	var e model.Execution
	err := s.pool.QueryRow(ctx,
		`SELECT `+executionColumns+` FROM investigation_executions WHERE id = $1`, id,
	).Scan(&e.ID, &e.InvestigatorID, &e.StartedAt, &e.CompletedAt, &e.Status, &e.ResultCount, &e.ErrorMessage)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, eris.Wrapf(model.ErrNotFound, "postgres: execution %d", id)
	}
	if err != nil {
		return nil, eris.Wrapf(err, "postgres: get execution %d", id)
	}
	return &e, nil
}

func (s *PostgresStore) ListExecutions(ctx context.Context, filter ExecutionFilter) ([]model.Execution, error) {
	query := `SELECT ` + executionColumns + ` FROM investigation_executions WHERE true`
	args := []any{}
	argIdx := 1

	if filter.InstanceID != "" {
		query += fmt.Sprintf(` AND investigator_id = $%d`, argIdx)
		args = append(args, filter.InstanceID)
		argIdx++
	}
	if filter.Status != "" {
		query += fmt.Sprintf(` AND status = $%d`, argIdx)
		args = append(args, string(filter.Status))
		argIdx++
	}
	if filter.TerminalOnly {
		query += ` AND status <> 'running'`
	}
	if filter.AfterID > 0 {
		query += fmt.Sprintf(` AND id > $%d`, argIdx)
		args = append(args, filter.AfterID)
		argIdx++
	}
	if filter.Ascending {
		query += ` ORDER BY id`
	} else {
		query += ` ORDER BY id DESC`
	}
	query += fmt.Sprintf(` LIMIT $%d`, argIdx)
	args = append(args, listLimit(filter.Limit))

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list executions")
	}
	defer rows.Close()

	var execs []model.Execution
	for rows.Next() {
		var e model.Execution
		if err := rows.Scan(&e.ID, &e.InvestigatorID, &e.StartedAt, &e.CompletedAt, &e.Status, &e.ResultCount, &e.ErrorMessage); err != nil {
			return nil, eris.Wrap(err, "postgres: scan execution")
		}
		execs = append(execs, e)
	}
	return execs, eris.Wrap(rows.Err(), "postgres: list executions iterate")
}

func (s *PostgresStore) HasRunningExecution(ctx context.Context, instanceID string) (bool, error) {
	return hasRunning(ctx, s.pool, instanceID)
}

// --- results ---

func (s *PostgresStore) AppendResult(ctx context.Context, r model.Result) (*model.Result, error) {
	err := s.pool.QueryRow(ctx,
		`INSERT INTO investigation_results (execution_id, seq, ts, severity, message, entity_type, entity_id, payload)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		ON CONFLICT (execution_id, seq) DO UPDATE SET seq = EXCLUDED.seq
		RETURNING id`,
		r.ExecutionID, nullableSeq(r.Seq), r.Timestamp, string(r.Severity), r.Message, string(r.EntityType), r.EntityID, nullableJSON(r.Payload),
	).Scan(&r.ID)
	if err != nil {
		return nil, eris.Wrapf(err, "postgres: append result to execution %d", r.ExecutionID)
	}
	return &r, nil
}

func (s *PostgresStore) ListResults(ctx context.Context, instanceID string, limit int) ([]model.Result, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT r.id, r.execution_id, r.seq, r.ts, r.severity, r.message, r.entity_type, r.entity_id, r.payload
		FROM investigation_results r
		JOIN investigation_executions e ON e.id = r.execution_id
		WHERE e.investigator_id = $1
		ORDER BY r.ts DESC, r.id DESC
		LIMIT $2`, instanceID, listLimit(limit))
	if err != nil {
		return nil, eris.Wrapf(err, "postgres: list results %s", instanceID)
	}
	defer rows.Close()

	var results []model.Result
	for rows.Next() {
		var r model.Result
		var seq *int
		var payload []byte
		if err := rows.Scan(&r.ID, &r.ExecutionID, &seq, &r.Timestamp, &r.Severity, &r.Message, &r.EntityType, &r.EntityID, &payload); err != nil {
			return nil, eris.Wrap(err, "postgres: scan result")
		}
		if seq != nil {
			r.Seq = *seq
		}
		r.Payload = nullableJSON(payload)
		results = append(results, r)
	}
	return results, eris.Wrap(rows.Err(), "postgres: list results iterate")
}

func (s *PostgresStore) CountResults(ctx context.Context, executionID int64) (int, error) {
	var n int
	err := s.pool.QueryRow(ctx,
		`SELECT COUNT(*) FROM investigation_results WHERE execution_id = $1`, executionID,
	).Scan(&n)
	return n, eris.Wrapf(err, "postgres: count results %d", executionID)
}

func (s *PostgresStore) RecountExecution(ctx context.Context, executionID int64) (bool, error) {
	tag, err := s.pool.Exec(ctx,
		`UPDATE investigation_executions
		SET result_count = (SELECT COUNT(*) FROM investigation_results WHERE execution_id = $1)
		WHERE id = $1 AND status <> 'running'
		AND result_count <> (SELECT COUNT(*) FROM investigation_results WHERE execution_id = $1)`,
		executionID,
	)
	if err != nil {
		return false, eris.Wrapf(err, "postgres: recount execution %d", executionID)
	}
	return tag.RowsAffected() > 0, nil
}

func (s *PostgresStore) Summary(ctx context.Context) (*model.Summary, error) {
	var sum model.Summary
	err := s.pool.QueryRow(ctx,
		`SELECT
			(SELECT COUNT(*) FROM investigator_instances),
			(SELECT COUNT(*) FROM investigator_instances WHERE is_active),
			(SELECT COUNT(DISTINCT investigator_id) FROM investigation_executions WHERE status = 'running'),
			(SELECT COUNT(*) FROM investigation_executions),
			(SELECT COUNT(*) FROM investigation_results)`,
	).Scan(&sum.TotalInstances, &sum.ActiveInstances, &sum.RunningInstances, &sum.TotalExecutions, &sum.TotalResults)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: summary")
	}
	return &sum, nil
}

// --- dataset ---

func (s *PostgresStore) LoadDataset(ctx context.Context, kind model.EntityKind) (*model.Dataset, error) {
	ds := &model.Dataset{}
	switch kind {
	case model.EntityInvoice:
		rows, err := s.pool.Query(ctx,
			`SELECT id, number, total_amount, total_tax, issue_date FROM invoices ORDER BY id`)
		if err != nil {
			return nil, eris.Wrap(err, "postgres: load invoices")
		}
		defer rows.Close()
		for rows.Next() {
			var inv model.Invoice
			if err := rows.Scan(&inv.ID, &inv.Number, &inv.TotalAmount, &inv.TotalTax, &inv.IssueDate); err != nil {
				return nil, eris.Wrap(err, "postgres: scan invoice")
			}
			ds.Invoices = append(ds.Invoices, inv)
		}
		return ds, eris.Wrap(rows.Err(), "postgres: load invoices iterate")
	case model.EntityWaybill:
		rows, err := s.pool.Query(ctx,
			`SELECT id, number, goods_issue_date, due_date FROM waybills ORDER BY id`)
		if err != nil {
			return nil, eris.Wrap(err, "postgres: load waybills")
		}
		defer rows.Close()
		for rows.Next() {
			var w model.Waybill
			if err := rows.Scan(&w.ID, &w.Number, &w.GoodsIssueDate, &w.DueDate); err != nil {
				return nil, eris.Wrap(err, "postgres: scan waybill")
			}
			ds.Waybills = append(ds.Waybills, w)
		}
		return ds, eris.Wrap(rows.Err(), "postgres: load waybills iterate")
	default:
		return nil, eris.Errorf("postgres: unknown entity kind %q", kind)
	}
}

var (
	invoiceColumns = []string{"id", "number", "total_amount", "total_tax", "issue_date"}
	waybillColumns = []string{"id", "number", "goods_issue_date", "due_date"}
)

func (s *PostgresStore) ReplaceInvoices(ctx context.Context, invoices []model.Invoice) (int, error) {
	rows := make([][]any, len(invoices))
	for i, inv := range invoices {
		rows[i] = []any{inv.ID, inv.Number, inv.TotalAmount, inv.TotalTax, inv.IssueDate}
	}
	n, err := db.ReplaceAll(ctx, s.pool, "invoices", invoiceColumns, rows)
	return int(n), eris.Wrap(err, "postgres: replace invoices")
}

func (s *PostgresStore) ReplaceWaybills(ctx context.Context, waybills []model.Waybill) (int, error) {
	rows := make([][]any, len(waybills))
	for i, w := range waybills {
		rows[i] = []any{w.ID, w.Number, w.GoodsIssueDate, w.DueDate}
	}
	n, err := db.ReplaceAll(ctx, s.pool, "waybills", waybillColumns, rows)
	return int(n), eris.Wrap(err, "postgres: replace waybills")
}
