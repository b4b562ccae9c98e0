package persistence

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/monopilot/monopilot/internal/sqlitedb"
	"github.com/monopilot/monopilot/modules/production/domain/ports"
	"github.com/monopilot/monopilot/modules/production/domain/types"
	"github.com/shopspring/decimal"
)

// SQLiteStore is the single-node production store; tenancy is a tenant_id
// predicate on every statement.
type SQLiteStore struct {
	db *sql.DB
}

func NewSQLiteStore(db *sql.DB) *SQLiteStore {
	return &SQLiteStore{db: db}
}

var _ ports.Store = (*SQLiteStore)(nil)

const sqliteWOSelect = `
SELECT id, wo_number, product_id, planned_quantity, uom, status, version,
  created_at, created_by, updated_at, updated_by
FROM pr_work_orders
`

const sqliteOpSelect = `
SELECT id, wo_id, sequence, name, status, started_at, started_by, completed_at, completed_by,
  expected_duration_minutes, actual_duration_minutes, expected_yield_percent, actual_yield_percent,
  notes, version
FROM pr_operations
`

func scanSQLiteWorkOrder(r rowScanner) (types.WorkOrder, error) {
	var wo types.WorkOrder
	var qty, status, createdAt, updatedAt string
	if err := r.Scan(
		&wo.ID, &wo.WONumber, &wo.ProductID, &qty, &wo.UoM, &status, &wo.Version,
		&createdAt, &wo.CreatedBy, &updatedAt, &wo.UpdatedBy,
	); err != nil {
		return types.WorkOrder{}, err
	}
	q, err := decimal.NewFromString(qty)
	if err != nil {
		return types.WorkOrder{}, fmt.Errorf("production: planned quantity %q: %w", qty, err)
	}
	if wo.CreatedAt, err = sqlitedb.ParseTime(createdAt); err != nil {
		return types.WorkOrder{}, err
	}
	if wo.UpdatedAt, err = sqlitedb.ParseTime(updatedAt); err != nil {
		return types.WorkOrder{}, err
	}
	wo.PlannedQuantity = q
	wo.Status = types.WorkOrderStatus(status)
	return wo, nil
}

func optionalTime(s string) (*time.Time, error) {
	if s == "" {
		return nil, nil
	}
	t, err := sqlitedb.ParseTime(s)
	if err != nil {
		return nil, err
	}
	return &t, nil
}

func optionalTimeText(t *time.Time) string {
	if t == nil {
		return ""
	}
	return sqlitedb.FormatTime(*t)
}

func optionalInt(n sql.NullInt64) *int {
	if !n.Valid {
		return nil
	}
	v := int(n.Int64)
	return &v
}

func nullInt(p *int) sql.NullInt64 {
	if p == nil {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: int64(*p), Valid: true}
}

func scanSQLiteOperation(r rowScanner) (types.Operation, error) {
	var op types.Operation
	var status, startedAt, completedAt, expectedYield, actualYield string
	var expectedDur, actualDur sql.NullInt64
	if err := r.Scan(
		&op.ID, &op.WorkOrderID, &op.Sequence, &op.Name, &status,
		&startedAt, &op.StartedBy, &completedAt, &op.CompletedBy,
		&expectedDur, &actualDur, &expectedYield, &actualYield, &op.Notes, &op.Version,
	); err != nil {
		return types.Operation{}, err
	}
	var err error
	if op.StartedAt, err = optionalTime(startedAt); err != nil {
		return types.Operation{}, err
	}
	if op.CompletedAt, err = optionalTime(completedAt); err != nil {
		return types.Operation{}, err
	}
	if op.ExpectedYieldPercent, err = parseOptionalDecimal(expectedYield); err != nil {
		return types.Operation{}, err
	}
	if op.ActualYieldPercent, err = parseOptionalDecimal(actualYield); err != nil {
		return types.Operation{}, err
	}
	op.ExpectedDurationMinutes = optionalInt(expectedDur)
	op.ActualDurationMinutes = optionalInt(actualDur)
	op.Status = types.OperationStatus(status)
	return op, nil
}

func sqliteGetWorkOrder(ctx context.Context, tx *sql.Tx, tenantID string, id string) (types.WorkOrder, error) {
	wo, err := scanSQLiteWorkOrder(tx.QueryRowContext(ctx, sqliteWOSelect+`WHERE tenant_id = ? AND id = ?`, tenantID, id))
	if errors.Is(err, sql.ErrNoRows) {
		return types.WorkOrder{}, ports.ErrNotFound
	}
	return wo, err
}

func sqliteGetOperation(ctx context.Context, tx *sql.Tx, tenantID string, woID string, opID string) (types.Operation, error) {
	op, err := scanSQLiteOperation(tx.QueryRowContext(ctx, sqliteOpSelect+`WHERE tenant_id = ? AND wo_id = ? AND id = ?`, tenantID, woID, opID))
	if errors.Is(err, sql.ErrNoRows) {
		return types.Operation{}, ports.ErrNotFound
	}
	return op, err
}

func sqliteMissingOrConflict(ctx context.Context, tx *sql.Tx, table string, tenantID string, id string) error {
	var exists bool
	if err := tx.QueryRowContext(ctx, `SELECT EXISTS (SELECT 1 FROM `+table+` WHERE tenant_id = ? AND id = ?)`, tenantID, id).Scan(&exists); err != nil {
		return err
	}
	if !exists {
		return ports.ErrNotFound
	}
	return ports.ErrConflict
}

func (s *SQLiteStore) CreateWorkOrder(ctx context.Context, tenantID string, wo types.WorkOrder, ops []types.Operation) (types.WorkOrder, error) {
	var out types.WorkOrder
	err := sqlitedb.InTx(ctx, s.db, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, `
INSERT INTO pr_work_orders (
  tenant_id, id, wo_number, product_id, planned_quantity, uom, status,
  version, created_at, created_by, updated_at, updated_by
) VALUES (?, ?, ?, ?, ?, ?, ?, 1, ?, ?, ?, ?)
`, tenantID, wo.ID, wo.WONumber, wo.ProductID, wo.PlannedQuantity.String(), wo.UoM, string(wo.Status),
			sqlitedb.FormatTime(wo.CreatedAt), wo.CreatedBy, sqlitedb.FormatTime(wo.UpdatedAt), wo.UpdatedBy); err != nil {
			if sqlitedb.IsUniqueViolation(err) {
				return ports.ErrDuplicate
			}
			return err
		}
		for _, op := range ops {
			if _, err := tx.ExecContext(ctx, `
INSERT INTO pr_operations (
  tenant_id, id, wo_id, sequence, name, status,
  expected_duration_minutes, expected_yield_percent, notes, version
) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, 1)
`, tenantID, op.ID, wo.ID, op.Sequence, op.Name, string(op.Status),
				nullInt(op.ExpectedDurationMinutes), optionalDecimalText(op.ExpectedYieldPercent), op.Notes); err != nil {
				if sqlitedb.IsUniqueViolation(err) {
					return ports.ErrDuplicate
				}
				return err
			}
		}
		created, err := sqliteGetWorkOrder(ctx, tx, tenantID, wo.ID)
		if err != nil {
			return err
		}
		created.Operations, err = sqliteListOperations(ctx, tx, tenantID, wo.ID)
		out = created
		return err
	})
	return out, err
}

func (s *SQLiteStore) GetWorkOrder(ctx context.Context, tenantID string, id string) (types.WorkOrder, error) {
	var out types.WorkOrder
	err := sqlitedb.InTx(ctx, s.db, func(tx *sql.Tx) error {
		wo, err := sqliteGetWorkOrder(ctx, tx, tenantID, id)
		out = wo
		return err
	})
	return out, err
}

func (s *SQLiteStore) UpdateWorkOrderStatus(ctx context.Context, tenantID string, wo types.WorkOrder, expectedStatus types.WorkOrderStatus, expectedVersion int64) (types.WorkOrder, error) {
	var out types.WorkOrder
	err := sqlitedb.InTx(ctx, s.db, func(tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx, `
UPDATE pr_work_orders
SET status = ?, updated_at = ?, updated_by = ?, version = version + 1
WHERE tenant_id = ? AND id = ? AND status = ? AND version = ?
`, string(wo.Status), sqlitedb.FormatTime(wo.UpdatedAt), wo.UpdatedBy, tenantID, wo.ID, string(expectedStatus), expectedVersion)
		if err != nil {
			return err
		}
		if n, err := res.RowsAffected(); err != nil {
			return err
		} else if n == 0 {
			return sqliteMissingOrConflict(ctx, tx, "pr_work_orders", tenantID, wo.ID)
		}
		updated, err := sqliteGetWorkOrder(ctx, tx, tenantID, wo.ID)
		out = updated
		return err
	})
	return out, err
}

func sqliteListOperations(ctx context.Context, tx *sql.Tx, tenantID string, woID string) ([]types.Operation, error) {
	rows, err := tx.QueryContext(ctx, sqliteOpSelect+`WHERE tenant_id = ? AND wo_id = ? ORDER BY sequence`, tenantID, woID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := []types.Operation{}
	for rows.Next() {
		op, err := scanSQLiteOperation(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, op)
	}
	return out, rows.Err()
}

func (s *SQLiteStore) ListOperations(ctx context.Context, tenantID string, woID string) ([]types.Operation, error) {
	var out []types.Operation
	err := sqlitedb.InTx(ctx, s.db, func(tx *sql.Tx) error {
		ops, err := sqliteListOperations(ctx, tx, tenantID, woID)
		out = ops
		return err
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

func (s *SQLiteStore) GetOperation(ctx context.Context, tenantID string, woID string, opID string) (types.Operation, error) {
	var out types.Operation
	err := sqlitedb.InTx(ctx, s.db, func(tx *sql.Tx) error {
		op, err := sqliteGetOperation(ctx, tx, tenantID, woID, opID)
		out = op
		return err
	})
	return out, err
}

func (s *SQLiteStore) TransitionOperation(ctx context.Context, tenantID string, t types.OperationTransition) (types.Operation, error) {
	next := t.Next
	metadata, err := json.Marshal(t.Log.Metadata)
	if err != nil {
		return types.Operation{}, fmt.Errorf("production: log metadata: %w", err)
	}
	var out types.Operation
	err = sqlitedb.InTx(ctx, s.db, func(tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx, `
UPDATE pr_operations
SET status = ?, started_at = ?, started_by = ?, completed_at = ?, completed_by = ?,
    actual_duration_minutes = ?, actual_yield_percent = ?, notes = ?, version = version + 1
WHERE tenant_id = ? AND wo_id = ? AND id = ? AND status = ? AND version = ?
`, string(next.Status), optionalTimeText(next.StartedAt), next.StartedBy,
			optionalTimeText(next.CompletedAt), next.CompletedBy,
			nullInt(next.ActualDurationMinutes), optionalDecimalText(next.ActualYieldPercent), next.Notes,
			tenantID, next.WorkOrderID, next.ID, string(t.ExpectedStatus), t.ExpectedVersion)
		if err != nil {
			return err
		}
		if n, err := res.RowsAffected(); err != nil {
			return err
		} else if n == 0 {
			// The operation may exist under another work order of the tenant.
			if _, err := sqliteGetOperation(ctx, tx, tenantID, next.WorkOrderID, next.ID); err != nil {
				return err
			}
			return ports.ErrConflict
		}

		l := t.Log
		if _, err := tx.ExecContext(ctx, `
INSERT INTO pr_operation_logs (
  tenant_id, id, operation_id, wo_id, event_type, from_status, to_status, actor_id, created_at, metadata
) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
`, tenantID, l.ID, next.ID, next.WorkOrderID, string(l.EventType), string(l.FromStatus), string(l.ToStatus),
			l.ActorID, sqlitedb.FormatTime(l.CreatedAt), string(metadata)); err != nil {
			if sqlitedb.IsUniqueViolation(err) {
				return ports.ErrDuplicate
			}
			return err
		}

		op, err := sqliteGetOperation(ctx, tx, tenantID, next.WorkOrderID, next.ID)
		out = op
		return err
	})
	return out, err
}

func (s *SQLiteStore) ListOperationLogs(ctx context.Context, tenantID string, woID string, opID string) ([]types.OperationLog, error) {
	out := []types.OperationLog{}
	err := sqlitedb.InTx(ctx, s.db, func(tx *sql.Tx) error {
		rows, err := tx.QueryContext(ctx, `
SELECT id, operation_id, wo_id, event_type, from_status, to_status, actor_id, created_at, metadata
FROM pr_operation_logs
WHERE tenant_id = ? AND wo_id = ? AND operation_id = ?
ORDER BY created_at DESC, id DESC
`, tenantID, woID, opID)
		if err != nil {
			return err
		}
		defer rows.Close()
		for rows.Next() {
			var l types.OperationLog
			var event, from, to, createdAt, metadata string
			if err := rows.Scan(&l.ID, &l.OperationID, &l.WorkOrderID, &event, &from, &to, &l.ActorID, &createdAt, &metadata); err != nil {
				return err
			}
			if l.CreatedAt, err = sqlitedb.ParseTime(createdAt); err != nil {
				return err
			}
			if err := json.Unmarshal([]byte(metadata), &l.Metadata); err != nil {
				return fmt.Errorf("production: log %s metadata: %w", l.ID, err)
			}
			l.EventType = types.OperationEvent(event)
			l.FromStatus = types.OperationStatus(from)
			l.ToStatus = types.OperationStatus(to)
			out = append(out, l)
		}
		return rows.Err()
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

func (s *SQLiteStore) GetSettings(ctx context.Context, tenantID string) (types.ProductionSettings, bool, error) {
	var out types.ProductionSettings
	var updatedAt string
	err := s.db.QueryRowContext(ctx, `
SELECT require_operation_sequence, updated_at, updated_by FROM pr_settings WHERE tenant_id = ?
`, tenantID).Scan(&out.RequireOperationSequence, &updatedAt, &out.UpdatedBy)
	if errors.Is(err, sql.ErrNoRows) {
		return types.ProductionSettings{}, false, nil
	}
	if err != nil {
		return types.ProductionSettings{}, false, err
	}
	if out.UpdatedAt, err = sqlitedb.ParseTime(updatedAt); err != nil {
		return types.ProductionSettings{}, false, err
	}
	return out, true, nil
}

func (s *SQLiteStore) PutSettings(ctx context.Context, tenantID string, settings types.ProductionSettings) (types.ProductionSettings, error) {
	if settings.UpdatedAt.IsZero() {
		settings.UpdatedAt = time.Now().UTC()
	}
	_, err := s.db.ExecContext(ctx, `
INSERT INTO pr_settings (tenant_id, require_operation_sequence, updated_at, updated_by)
VALUES (?, ?, ?, ?)
ON CONFLICT (tenant_id) DO UPDATE
SET require_operation_sequence = excluded.require_operation_sequence,
    updated_at = excluded.updated_at,
    updated_by = excluded.updated_by
`, tenantID, settings.RequireOperationSequence, sqlitedb.FormatTime(settings.UpdatedAt), settings.UpdatedBy)
	if err != nil {
		return types.ProductionSettings{}, err
	}
	return settings, nil
}
