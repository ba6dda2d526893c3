package store

import (
	"context"
	"database/sql"
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"
	_ "modernc.org/sqlite"

	"github.com/sells-group/investigator/internal/model"
)

// SQLiteStore implements Store using modernc.org/sqlite.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLite opens a SQLite database at the given path and configures WAL
// mode. Writes are serialized through a single connection.
func NewSQLite(dsn string) (*SQLiteStore, error) {
	sep := "?"
	if strings.Contains(dsn, "?") {
		sep = "&"
	}
	db, err := sql.Open("sqlite", dsn+sep+"_pragma=foreign_keys(1)&_pragma=busy_timeout(5000)")
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: open")
	}
	db.SetMaxOpenConns(1)
	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA synchronous=NORMAL",
		"PRAGMA foreign_keys=ON",
	} {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, eris.Wrapf(err, "sqlite: exec %s", pragma)
		}
	}
	return &SQLiteStore{db: db}, nil
}

const sqliteMigration = `
CREATE TABLE IF NOT EXISTS investigator_types (
	id                    INTEGER PRIMARY KEY AUTOINCREMENT,
	code                  TEXT NOT NULL UNIQUE,
	display_name          TEXT NOT NULL,
	description           TEXT NOT NULL DEFAULT '',
	default_configuration TEXT,
	is_active             INTEGER NOT NULL DEFAULT 1
);

CREATE TABLE IF NOT EXISTS investigator_instances (
	id                   TEXT PRIMARY KEY,
	type_id              INTEGER NOT NULL REFERENCES investigator_types(id) ON DELETE RESTRICT,
	custom_name          TEXT NOT NULL,
	custom_configuration TEXT,
	is_active            INTEGER NOT NULL DEFAULT 1,
	created_at           DATETIME NOT NULL,
	last_executed_at     DATETIME,
	UNIQUE (type_id, custom_name)
);

CREATE TABLE IF NOT EXISTS investigation_executions (
	id              INTEGER PRIMARY KEY AUTOINCREMENT,
	investigator_id TEXT NOT NULL REFERENCES investigator_instances(id) ON DELETE CASCADE,
	started_at      DATETIME NOT NULL,
	completed_at    DATETIME,
	status          TEXT NOT NULL CHECK (status IN ('running', 'completed', 'failed')),
	result_count    INTEGER NOT NULL DEFAULT 0,
	error_message   TEXT
);

CREATE UNIQUE INDEX IF NOT EXISTS ux_executions_running ON investigation_executions(investigator_id) WHERE status = 'running';
CREATE INDEX IF NOT EXISTS idx_executions_investigator ON investigation_executions(investigator_id, id);

CREATE TABLE IF NOT EXISTS investigation_results (
	id           INTEGER PRIMARY KEY AUTOINCREMENT,
	execution_id INTEGER NOT NULL REFERENCES investigation_executions(id) ON DELETE CASCADE,
	seq          INTEGER,
	ts           DATETIME NOT NULL,
	severity     TEXT NOT NULL CHECK (severity IN ('info', 'anomaly', 'critical')),
	message      TEXT NOT NULL,
	entity_type  TEXT NOT NULL,
	entity_id    TEXT NOT NULL,
	payload      TEXT,
	UNIQUE (execution_id, seq)
);

CREATE TABLE IF NOT EXISTS invoices (
	id           TEXT PRIMARY KEY,
	number       TEXT NOT NULL,
	total_amount REAL NOT NULL,
	total_tax    REAL NOT NULL,
	issue_date   DATETIME NOT NULL
);

CREATE TABLE IF NOT EXISTS waybills (
	id               TEXT PRIMARY KEY,
	number           TEXT NOT NULL,
	goods_issue_date DATETIME NOT NULL,
	due_date         DATETIME
);
`

func (s *SQLiteStore) Migrate(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, sqliteMigration)
	return eris.Wrap(err, "sqlite: migrate")
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// --- catalog ---

func (s *SQLiteStore) UpsertType(ctx context.Context, t model.InvestigatorType) (*model.InvestigatorType, error) {
	err := s.db.QueryRowContext(ctx,
		`INSERT INTO investigator_types (code, display_name, description, default_configuration, is_active)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT (code) DO UPDATE SET
			display_name = excluded.display_name,
			description = excluded.description,
			default_configuration = excluded.default_configuration,
			is_active = excluded.is_active
		RETURNING id`,
		t.Code, t.DisplayName, t.Description, jsonText(t.DefaultConfiguration), t.IsActive,
	).Scan(&t.ID)
	if err != nil {
		return nil, eris.Wrapf(err, "sqlite: upsert type %s", t.Code)
	}
	return &t, nil
}

func (s *SQLiteStore) ListTypes(ctx context.Context) ([]model.InvestigatorType, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, code, display_name, description, default_configuration, is_active
		FROM investigator_types ORDER BY id`)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list types")
	}
	defer rows.Close()

	var types []model.InvestigatorType
	for rows.Next() {
		var t model.InvestigatorType
		var cfg sql.NullString
		if err := rows.Scan(&t.ID, &t.Code, &t.DisplayName, &t.Description, &cfg, &t.IsActive); err != nil {
			return nil, eris.Wrap(err, "sqlite: scan type")
		}
		t.DefaultConfiguration = rawJSON(cfg)
		types = append(types, t)
	}
	return types, eris.Wrap(rows.Err(), "sqlite: list types iterate")
}

// --- instances ---

func (s *SQLiteStore) CreateInstance(ctx context.Context, inst model.Instance) (*model.Instance, error) {
	if inst.ID == "" {
		inst.ID = uuid.New().String()
	}
	if inst.CreatedAt.IsZero() {
		inst.CreatedAt = time.Now().UTC()
	}

	_, err := s.db.ExecContext(ctx,
		`INSERT INTO investigator_instances (id, type_id, custom_name, custom_configuration, is_active, created_at)
		VALUES (?, ?, ?, ?, ?, ?)`,
		inst.ID, inst.TypeID, inst.CustomName, jsonText(inst.CustomConfiguration), inst.IsActive, inst.CreatedAt,
	)
	if err != nil {
		if isUniqueViolation(err, "investigator_instances.custom_name") {
			return nil, eris.Wrapf(model.ErrDuplicateName, "sqlite: create instance %q", inst.CustomName)
		}
		return nil, eris.Wrap(err, "sqlite: insert instance")
	}
	return &inst, nil
}

func (s *SQLiteStore) GetInstance(ctx context.Context, id string) (*model.Instance, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+instanceColumns+`
		FROM investigator_instances i JOIN investigator_types t ON t.id = i.type_id
		WHERE i.id = ?`, id)

	var inst model.Instance
	var cfg sql.NullString
	err := row.Scan(&inst.ID, &inst.TypeID, &inst.TypeCode, &inst.CustomName, &cfg, &inst.IsActive, &inst.CreatedAt, &inst.LastExecutedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, eris.Wrapf(model.ErrNotFound, "sqlite: instance %s", id)
	}
	if err != nil {
		return nil, eris.Wrapf(err, "sqlite: get instance %s", id)
	}
	inst.CustomConfiguration = rawJSON(cfg)
	return &inst, nil
}

func (s *SQLiteStore) ListInstances(ctx context.Context, filter InstanceFilter) ([]model.InstanceView, error) {
	query := `SELECT ` + instanceColumns + `,
		COALESCE((SELECT e.status FROM investigation_executions e
			WHERE e.investigator_id = i.id ORDER BY e.id DESC LIMIT 1), 'idle'),
		COALESCE((SELECT e.result_count FROM investigation_executions e
			WHERE e.investigator_id = i.id ORDER BY e.id DESC LIMIT 1), 0)
	FROM investigator_instances i
	JOIN investigator_types t ON t.id = i.type_id
	WHERE 1=1`
	args := []any{}

	if filter.TypeCode != "" {
		query += ` AND t.code = ?`
		args = append(args, filter.TypeCode)
	}
	if filter.ActiveOnly {
		query += ` AND i.is_active = 1`
	}
	query += ` ORDER BY i.created_at, i.custom_name LIMIT ? OFFSET ?`
	args = append(args, listLimit(filter.Limit), max(filter.Offset, 0))

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list instances")
	}
	defer rows.Close()

	var views []model.InstanceView
	for rows.Next() {
		var v model.InstanceView
		var cfg sql.NullString
		if err := rows.Scan(&v.ID, &v.TypeID, &v.TypeCode, &v.CustomName, &cfg, &v.IsActive,
			&v.CreatedAt, &v.LastExecutedAt, &v.Status, &v.ResultCount); err != nil {
			return nil, eris.Wrap(err, "sqlite: scan instance")
		}
		v.CustomConfiguration = rawJSON(cfg)
		views = append(views, v)
	}
	return views, eris.Wrap(rows.Err(), "sqlite: list instances iterate")
}

func (s *SQLiteStore) SetInstanceActive(ctx context.Context, id string, active bool) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE investigator_instances SET is_active = ? WHERE id = ?`, active, id)
	if err != nil {
		return eris.Wrapf(err, "sqlite: set instance active %s", id)
	}
	return checkRowsAffected(res, "instance", id)
}

func (s *SQLiteStore) TouchInstance(ctx context.Context, id string, at time.Time) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE investigator_instances SET last_executed_at = ? WHERE id = ?`, at, id)
	if err != nil {
		return eris.Wrapf(err, "sqlite: touch instance %s", id)
	}
	return checkRowsAffected(res, "instance", id)
}

type sqlQuerier interface {
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

func instanceActive(ctx context.Context, q sqlQuerier, id string) (bool, error) {
	var active bool
	err := q.QueryRowContext(ctx, `SELECT is_active FROM investigator_instances WHERE id = ?`, id).Scan(&active)
	if errors.Is(err, sql.ErrNoRows) {
		return false, eris.Wrapf(model.ErrNotFound, "sqlite: instance %s", id)
	}
	if err != nil {
		return false, eris.Wrapf(err, "sqlite: get instance %s", id)
	}
	return active, nil
}

func sqliteHasRunning(ctx context.Context, q sqlQuerier, id string) (bool, error) {
	var running bool
	err := q.QueryRowContext(ctx,
		`SELECT EXISTS (SELECT 1 FROM investigation_executions WHERE investigator_id = ? AND status = 'running')`, id,
	).Scan(&running)
	if err != nil {
		return false, eris.Wrapf(err, "sqlite: check running %s", id)
	}
	return running, nil
}

func (s *SQLiteStore) DeleteInstance(ctx context.Context, id string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return eris.Wrap(err, "sqlite: delete instance: begin tx")
	}
	defer tx.Rollback() //nolint:errcheck

	if _, err := instanceActive(ctx, tx, id); err != nil {
		return err
	}
	running, err := sqliteHasRunning(ctx, tx, id)
	if err != nil {
		return err
	}
	if running {
		return eris.Wrapf(model.ErrInUse, "sqlite: delete instance %s", id)
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM investigator_instances WHERE id = ?`, id); err != nil {
		return eris.Wrapf(err, "sqlite: delete instance %s", id)
	}
	return eris.Wrap(tx.Commit(), "sqlite: delete instance: commit")
}

// --- executions ---

func (s *SQLiteStore) OpenExecution(ctx context.Context, instanceID string, startedAt time.Time) (*model.Execution, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: open execution: begin tx")
	}
	defer tx.Rollback() //nolint:errcheck

	active, err := instanceActive(ctx, tx, instanceID)
	if err != nil {
		return nil, err
	}
	if !active {
		return nil, eris.Wrapf(model.ErrInactive, "sqlite: instance %s", instanceID)
	}
	running, err := sqliteHasRunning(ctx, tx, instanceID)
	if err != nil {
		return nil, err
	}
	if running {
		return nil, eris.Wrapf(model.ErrAlreadyRunning, "sqlite: instance %s", instanceID)
	}

	res, err := tx.ExecContext(ctx,
		`INSERT INTO investigation_executions (investigator_id, started_at, status, result_count) VALUES (?, ?, ?, 0)`,
		instanceID, startedAt, string(model.ExecutionStatusRunning),
	)
	if err != nil {
		if isUniqueViolation(err, "investigation_executions.investigator_id") {
			return nil, eris.Wrapf(model.ErrAlreadyRunning, "sqlite: instance %s", instanceID)
		}
		return nil, eris.Wrap(err, "sqlite: insert execution")
	}
	id, err := res.LastInsertId()
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: execution id")
	}
	if err := tx.Commit(); err != nil {
		return nil, eris.Wrap(err, "sqlite: open execution: commit")
	}
	return &model.Execution{
		ID:             id,
		InvestigatorID: instanceID,
		StartedAt:      startedAt,
		Status:         model.ExecutionStatusRunning,
	}, nil
}

func (s *SQLiteStore) FinishExecution(ctx context.Context, id int64, outcome model.ExecutionOutcome) error {
	if !outcome.Status.IsTerminal() {
		return eris.Errorf("sqlite: finish execution %d: status %q is not terminal", id, outcome.Status)
	}
	res, err := s.db.ExecContext(ctx,
		`UPDATE investigation_executions SET status = ?, completed_at = ?, result_count = ?, error_message = ?
		WHERE id = ? AND status = 'running'`,
		string(outcome.Status), outcome.CompletedAt, outcome.ResultCount, nullableString(outcome.ErrorMessage), id,
	)
	if err != nil {
		return eris.Wrapf(err, "sqlite: finish execution %d", id)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return eris.Wrap(err, "sqlite: rows affected")
	}
	if n == 0 {
		return eris.Wrapf(model.ErrNotFound, "sqlite: running execution %d", id)
	}
	return nil
}

func (s *SQLiteStore) FailOrphanedExecutions(ctx context.Context, at time.Time, reason string) (int, error) {
	res, err := s.db.ExecContext(ctx,
		`UPDATE investigation_executions
		SET status = 'failed', completed_at = ?, error_message = ?,
			result_count = (SELECT COUNT(*) FROM investigation_results r WHERE r.execution_id = investigation_executions.id)
		WHERE status = 'running'`,
		at, reason,
	)
	if err != nil {
		return 0, eris.Wrap(err, "sqlite: fail orphaned executions")
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, eris.Wrap(err, "sqlite: rows affected")
	}
	return int(n), nil
}

func (s *SQLiteStore) GetExecution(ctx context.Context, id int64) (*model.Execution, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+executionColumns+` FROM investigation_executions WHERE id = ?`, id)
	e, err := scanExecution(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, eris.Wrapf(model.ErrNotFound, "sqlite: execution %d", id)
	}
	if err != nil {
		return nil, eris.Wrapf(err, "sqlite: get execution %d", id)
	}
	return e, nil
}

func (s *SQLiteStore) ListExecutions(ctx context.Context, filter ExecutionFilter) ([]model.Execution, error) {
	query := `SELECT ` + executionColumns + ` FROM investigation_executions WHERE 1=1`
	args := []any{}

	if filter.InstanceID != "" {
		query += ` AND investigator_id = ?`
		args = append(args, filter.InstanceID)
	}
	if filter.Status != "" {
		query += ` AND status = ?`
		args = append(args, string(filter.Status))
	}
	if filter.TerminalOnly {
		query += ` AND status <> 'running'`
	}
	if filter.AfterID > 0 {
		query += ` AND id > ?`
		args = append(args, filter.AfterID)
	}
	if filter.Ascending {
		query += ` ORDER BY id`
	} else {
		query += ` ORDER BY id DESC`
	}
	query += ` LIMIT ?`
	args = append(args, listLimit(filter.Limit))

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list executions")
	}
	defer rows.Close()

	var execs []model.Execution
	for rows.Next() {
		e, err := scanExecution(rows)
		if err != nil {
			return nil, eris.Wrap(err, "sqlite: scan execution")
		}
		execs = append(execs, *e)
	}
	return execs, eris.Wrap(rows.Err(), "sqlite: list executions iterate")
}

func (s *SQLiteStore) HasRunningExecution(ctx context.Context, instanceID string) (bool, error) {
	return sqliteHasRunning(ctx, s.db, instanceID)
}

// --- results ---

func (s *SQLiteStore) AppendResult(ctx context.Context, r model.Result) (*model.Result, error) {
	err := s.db.QueryRowContext(ctx,
		`INSERT INTO investigation_results (execution_id, seq, ts, severity, message, entity_type, entity_id, payload)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (execution_id, seq) DO UPDATE SET seq = excluded.seq
		RETURNING id`,
		r.ExecutionID, nullableSeq(r.Seq), r.Timestamp, string(r.Severity), r.Message, string(r.EntityType), r.EntityID, jsonText(r.Payload),
	).Scan(&r.ID)
	if err != nil {
		return nil, eris.Wrapf(err, "sqlite: append result to execution %d", r.ExecutionID)
	}
	return &r, nil
}

func (s *SQLiteStore) ListResults(ctx context.Context, instanceID string, limit int) ([]model.Result, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT r.id, r.execution_id, r.seq, r.ts, r.severity, r.message, r.entity_type, r.entity_id, r.payload
		FROM investigation_results r
		JOIN investigation_executions e ON e.id = r.execution_id
		WHERE e.investigator_id = ?
		ORDER BY r.ts DESC, r.id DESC
		LIMIT ?`, instanceID, listLimit(limit))
	if err != nil {
		return nil, eris.Wrapf(err, "sqlite: list results %s", instanceID)
	}
	defer rows.Close()

	var results []model.Result
	for rows.Next() {
		var r model.Result
		var seq sql.NullInt64
		var payload sql.NullString
		if err := rows.Scan(&r.ID, &r.ExecutionID, &seq, &r.Timestamp, &r.Severity, &r.Message, &r.EntityType, &r.EntityID, &payload); err != nil {
			return nil, eris.Wrap(err, "sqlite: scan result")
		}
		r.Seq = int(seq.Int64)
		r.Payload = rawJSON(payload)
		results = append(results, r)
	}
	return results, eris.Wrap(rows.Err(), "sqlite: list results iterate")
}

func (s *SQLiteStore) CountResults(ctx context.Context, executionID int64) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM investigation_results WHERE execution_id = ?`, executionID,
	).Scan(&n)
	return n, eris.Wrapf(err, "sqlite: count results %d", executionID)
}

func (s *SQLiteStore) RecountExecution(ctx context.Context, executionID int64) (bool, error) {
	res, err := s.db.ExecContext(ctx,
		`UPDATE investigation_executions
		SET result_count = (SELECT COUNT(*) FROM investigation_results WHERE execution_id = ?1)
		WHERE id = ?1 AND status <> 'running'
		AND result_count <> (SELECT COUNT(*) FROM investigation_results WHERE execution_id = ?1)`,
		executionID,
	)
	if err != nil {
		return false, eris.Wrapf(err, "sqlite: recount execution %d", executionID)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, eris.Wrap(err, "sqlite: rows affected")
	}
	return n > 0, nil
}

func (s *SQLiteStore) Summary(ctx context.Context) (*model.Summary, error) {
	var sum model.Summary
	err := s.db.QueryRowContext(ctx,
		`SELECT
			(SELECT COUNT(*) FROM investigator_instances),
			(SELECT COUNT(*) FROM investigator_instances WHERE is_active = 1),
			(SELECT COUNT(DISTINCT investigator_id) FROM investigation_executions WHERE status = 'running'),
			(SELECT COUNT(*) FROM investigation_executions),
			(SELECT COUNT(*) FROM investigation_results)`,
	).Scan(&sum.TotalInstances, &sum.ActiveInstances, &sum.RunningInstances, &sum.TotalExecutions, &sum.TotalResults)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: summary")
	}
	return &sum, nil
}

// --- dataset ---

func (s *SQLiteStore) LoadDataset(ctx context.Context, kind model.EntityKind) (*model.Dataset, error) {
	ds := &model.Dataset{}
	switch kind {
	case model.EntityInvoice:
		rows, err := s.db.QueryContext(ctx,
			`SELECT id, number, total_amount, total_tax, issue_date FROM invoices ORDER BY id`)
		if err != nil {
			return nil, eris.Wrap(err, "sqlite: load invoices")
		}
		defer rows.Close()
		for rows.Next() {
			var inv model.Invoice
			if err := rows.Scan(&inv.ID, &inv.Number, &inv.TotalAmount, &inv.TotalTax, &inv.IssueDate); err != nil {
				return nil, eris.Wrap(err, "sqlite: scan invoice")
			}
			ds.Invoices = append(ds.Invoices, inv)
		}
		return ds, eris.Wrap(rows.Err(), "sqlite: load invoices iterate")
	case model.EntityWaybill:
		rows, err := s.db.QueryContext(ctx,
			`SELECT id, number, goods_issue_date, due_date FROM waybills ORDER BY id`)
		if err != nil {
			return nil, eris.Wrap(err, "sqlite: load waybills")
		}
		defer rows.Close()
		for rows.Next() {
			var w model.Waybill
			if err := rows.Scan(&w.ID, &w.Number, &w.GoodsIssueDate, &w.DueDate); err != nil {
				return nil, eris.Wrap(err, "sqlite: scan waybill")
			}
			ds.Waybills = append(ds.Waybills, w)
		}
		return ds, eris.Wrap(rows.Err(), "sqlite: load waybills iterate")
	default:
		return nil, eris.Errorf("sqlite: unknown entity kind %q", kind)
	}
}

func (s *SQLiteStore) ReplaceInvoices(ctx context.Context, invoices []model.Invoice) (int, error) {
	rows := make([][]any, len(invoices))
	for i, inv := range invoices {
		rows[i] = []any{inv.ID, inv.Number, inv.TotalAmount, inv.TotalTax, inv.IssueDate}
	}
	return s.replaceAll(ctx, "invoices",
		`INSERT INTO invoices (id, number, total_amount, total_tax, issue_date) VALUES (?, ?, ?, ?, ?)`, rows)
}

func (s *SQLiteStore) ReplaceWaybills(ctx context.Context, waybills []model.Waybill) (int, error) {
	rows := make([][]any, len(waybills))
	for i, w := range waybills {
		rows[i] = []any{w.ID, w.Number, w.GoodsIssueDate, w.DueDate}
	}
	return s.replaceAll(ctx, "waybills",
		`INSERT INTO waybills (id, number, goods_issue_date, due_date) VALUES (?, ?, ?, ?)`, rows)
}

func (s *SQLiteStore) replaceAll(ctx context.Context, table, insert string, rows [][]any) (int, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, eris.Wrapf(err, "sqlite: replace %s: begin tx", table)
	}
	defer tx.Rollback() //nolint:errcheck

	if _, err := tx.ExecContext(ctx, `DELETE FROM `+table); err != nil {
		return 0, eris.Wrapf(err, "sqlite: replace %s: clear", table)
	}
	stmt, err := tx.PrepareContext(ctx, insert)
	if err != nil {
		return 0, eris.Wrapf(err, "sqlite: replace %s: prepare", table)
	}
	defer stmt.Close() //nolint:errcheck

	for _, row := range rows {
		if _, err := stmt.ExecContext(ctx, row...); err != nil {
			return 0, eris.Wrapf(err, "sqlite: replace %s: insert %v", table, row[0])
		}
	}
	if err := tx.Commit(); err != nil {
		return 0, eris.Wrapf(err, "sqlite: replace %s: commit", table)
	}
	return len(rows), nil
}

// helpers

func checkRowsAffected(res sql.Result, entity, id string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return eris.Wrap(err, "rows affected")
	}
	if n == 0 {
		return eris.Wrapf(model.ErrNotFound, "%s %s", entity, id)
	}
	return nil
}

// isUniqueViolation matches SQLite's "UNIQUE constraint failed: table.col"
// message for the given qualified column.
func isUniqueViolation(err error, column string) bool {
	msg := err.Error()
	return strings.Contains(msg, "UNIQUE constraint failed") && strings.Contains(msg, column)
}

type scannable interface {
	Scan(dest ...any) error
}

func scanExecution(row scannable) (*model.Execution, error) {
	var e model.Execution
	var completed sql.NullTime
	var errMsg sql.NullString
	if err := row.Scan(&e.ID, &e.InvestigatorID, &e.StartedAt, &completed, &e.Status, &e.ResultCount, &errMsg); err != nil {
		return nil, err
	}
	if completed.Valid {
		t := completed.Time
		e.CompletedAt = &t
	}
	if errMsg.Valid {
		e.ErrorMessage = &errMsg.String
	}
	return &e, nil
}

func jsonText(raw []byte) any {
	if len(raw) == 0 {
		return nil
	}
	return string(raw)
}

func rawJSON(s sql.NullString) []byte {
	if !s.Valid || s.String == "" {
		return nil
	}
	return []byte(s.String)
}
