package persistence

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/monopilot/monopilot/modules/production/domain/ports"
	"github.com/monopilot/monopilot/modules/production/domain/types"
	"github.com/shopspring/decimal"
)

type pgBeginner interface {
	Begin(ctx context.Context) (pgx.Tx, error)
}

// PGStore keeps work orders in the production schema under row level
// security; each call sets app.current_tenant inside its own transaction.
type PGStore struct {
	pool pgBeginner
}

func NewPGStore(pool pgBeginner) *PGStore {
	return &PGStore{pool: pool}
}

var _ ports.Store = (*PGStore)(nil)

type rowScanner interface {
	Scan(dest ...any) error
}

const woSelect = `
SELECT
  id::text,
  wo_number,
  product_id,
  planned_quantity::text,
  uom,
  status,
  version,
  created_at,
  created_by,
  updated_at,
  updated_by
FROM production.work_orders
`

const opSelect = `
SELECT
  id::text,
  wo_id::text,
  sequence,
  name,
  status,
  started_at,
  COALESCE(started_by, ''),
  completed_at,
  COALESCE(completed_by, ''),
  expected_duration_minutes,
  actual_duration_minutes,
  COALESCE(expected_yield_percent::text, ''),
  COALESCE(actual_yield_percent::text, ''),
  notes,
  version
FROM production.operations
`

func scanWorkOrder(r rowScanner) (types.WorkOrder, error) {
	var wo types.WorkOrder
	var qty, status string
	if err := r.Scan(
		&wo.ID, &wo.WONumber, &wo.ProductID, &qty, &wo.UoM, &status, &wo.Version,
		&wo.CreatedAt, &wo.CreatedBy, &wo.UpdatedAt, &wo.UpdatedBy,
	); err != nil {
		return types.WorkOrder{}, err
	}
	q, err := decimal.NewFromString(qty)
	if err != nil {
		return types.WorkOrder{}, fmt.Errorf("production: planned quantity %q: %w", qty, err)
	}
	wo.PlannedQuantity = q
	wo.Status = types.WorkOrderStatus(status)
	return wo, nil
}

func scanOperation(r rowScanner) (types.Operation, error) {
	var op types.Operation
	var status, expectedYield, actualYield string
	if err := r.Scan(
		&op.ID, &op.WorkOrderID, &op.Sequence, &op.Name, &status,
		&op.StartedAt, &op.StartedBy, &op.CompletedAt, &op.CompletedBy,
		&op.ExpectedDurationMinutes, &op.ActualDurationMinutes,
		&expectedYield, &actualYield, &op.Notes, &op.Version,
	); err != nil {
		return types.Operation{}, err
	}
	var err error
	if op.ExpectedYieldPercent, err = parseOptionalDecimal(expectedYield); err != nil {
		return types.Operation{}, err
	}
	if op.ActualYieldPercent, err = parseOptionalDecimal(actualYield); err != nil {
		return types.Operation{}, err
	}
	op.Status = types.OperationStatus(status)
	return op, nil
}

func parseOptionalDecimal(s string) (*decimal.Decimal, error) {
	if s == "" {
		return nil, nil
	}
	d, err := decimal.NewFromString(s)
	if err != nil {
		return nil, fmt.Errorf("production: decimal %q: %w", s, err)
	}
	return &d, nil
}

func optionalDecimalText(d *decimal.Decimal) string {
	if d == nil {
		return ""
	}
	return d.String()
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23505"
}

func validUUID(ids ...string) bool {
	for _, id := range ids {
		if _, err := uuid.Parse(id); err != nil {
			return false
		}
	}
	return true
}

func (s *PGStore) inTx(ctx context.Context, tenantID string, fn func(tx pgx.Tx) error) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback(context.Background()) }()

	if _, err := tx.Exec(ctx, `SELECT set_config('app.current_tenant', $1, true);`, tenantID); err != nil {
		return err
	}
	if err := fn(tx); err != nil {
		return err
	}
	return tx.Commit(ctx)
}

func (s *PGStore) CreateWorkOrder(ctx context.Context, tenantID string, wo types.WorkOrder, ops []types.Operation) (types.WorkOrder, error) {
	var out types.WorkOrder
	err := s.inTx(ctx, tenantID, func(tx pgx.Tx) error {
		created, err := scanWorkOrder(tx.QueryRow(ctx, `
INSERT INTO production.work_orders (
  tenant_id, id, wo_number, product_id, planned_quantity, uom, status,
  version, created_at, created_by, updated_at, updated_by
) VALUES ($1::uuid, $2::uuid, $3, $4, $5::numeric, $6, $7, 1, $8, $9, $10, $11)
RETURNING id::text, wo_number, product_id, planned_quantity::text, uom, status, version,
  created_at, created_by, updated_at, updated_by
`, tenantID, wo.ID, wo.WONumber, wo.ProductID, wo.PlannedQuantity.String(), wo.UoM, string(wo.Status),
			wo.CreatedAt, wo.CreatedBy, wo.UpdatedAt, wo.UpdatedBy))
		if err != nil {
			if isUniqueViolation(err) {
				return ports.ErrDuplicate
			}
			return err
		}
		created.Operations = make([]types.Operation, 0, len(ops))
		for _, op := range ops {
			inserted, err := scanOperation(tx.QueryRow(ctx, `
INSERT INTO production.operations (
  tenant_id, id, wo_id, sequence, name, status,
  expected_duration_minutes, expected_yield_percent, notes, version
) VALUES ($1::uuid, $2::uuid, $3::uuid, $4, $5, $6, $7, NULLIF($8, '')::numeric, $9, 1)
RETURNING id::text, wo_id::text, sequence, name, status, started_at, COALESCE(started_by, ''),
  completed_at, COALESCE(completed_by, ''), expected_duration_minutes, actual_duration_minutes,
  COALESCE(expected_yield_percent::text, ''), COALESCE(actual_yield_percent::text, ''), notes, version
`, tenantID, op.ID, created.ID, op.Sequence, op.Name, string(op.Status),
				op.ExpectedDurationMinutes, optionalDecimalText(op.ExpectedYieldPercent), op.Notes))
			if err != nil {
				if isUniqueViolation(err) {
					return ports.ErrDuplicate
				}
				return err
			}
			created.Operations = append(created.Operations, inserted)
		}
		out = created
		return nil
	})
	return out, err
}

func getWorkOrder(ctx context.Context, tx pgx.Tx, tenantID string, id string) (types.WorkOrder, error) {
	if !validUUID(id) {
		return types.WorkOrder{}, ports.ErrNotFound
	}
	wo, err := scanWorkOrder(tx.QueryRow(ctx, woSelect+`WHERE tenant_id = $1::uuid AND id = $2::uuid`, tenantID, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return types.WorkOrder{}, ports.ErrNotFound
	}
	return wo, err
}

func (s *PGStore) GetWorkOrder(ctx context.Context, tenantID string, id string) (types.WorkOrder, error) {
	if !validUUID(id) {
		return types.WorkOrder{}, ports.ErrNotFound
	}
	var out types.WorkOrder
	err := s.inTx(ctx, tenantID, func(tx pgx.Tx) error {
		wo, err := getWorkOrder(ctx, tx, tenantID, id)
		out = wo
		return err
	})
	return out, err
}

// missingOrConflict explains a compare-and-swap that touched no row.
func missingOrConflict(ctx context.Context, tx pgx.Tx, table string, tenantID string, id string) error {
	var exists bool
	if err := tx.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM `+table+` WHERE tenant_id = $1::uuid AND id = $2::uuid)`, tenantID, id).Scan(&exists); err != nil {
		return err
	}
	if !exists {
		return ports.ErrNotFound
	}
	return ports.ErrConflict
}

func (s *PGStore) UpdateWorkOrderStatus(ctx context.Context, tenantID string, wo types.WorkOrder, expectedStatus types.WorkOrderStatus, expectedVersion int64) (types.WorkOrder, error) {
	if !validUUID(wo.ID) {
		return types.WorkOrder{}, ports.ErrNotFound
	}
	var out types.WorkOrder
	err := s.inTx(ctx, tenantID, func(tx pgx.Tx) error {
		tag, err := tx.Exec(ctx, `
UPDATE production.work_orders
SET status = $3, updated_at = $4, updated_by = $5, version = version + 1
WHERE tenant_id = $1::uuid AND id = $2::uuid AND status = $6 AND version = $7
`, tenantID, wo.ID, string(wo.Status), wo.UpdatedAt, wo.UpdatedBy, string(expectedStatus), expectedVersion)
		if err != nil {
			return err
		}
		if tag.RowsAffected() == 0 {
			return missingOrConflict(ctx, tx, "production.work_orders", tenantID, wo.ID)
		}
		updated, err := getWorkOrder(ctx, tx, tenantID, wo.ID)
		out = updated
		return err
	})
	return out, err
}

func (s *PGStore) ListOperations(ctx context.Context, tenantID string, woID string) ([]types.Operation, error) {
	out := []types.Operation{}
	if !validUUID(woID) {
		return out, nil
	}
	err := s.inTx(ctx, tenantID, func(tx pgx.Tx) error {
		rows, err := tx.Query(ctx, opSelect+`WHERE tenant_id = $1::uuid AND wo_id = $2::uuid ORDER BY sequence`, tenantID, woID)
		if err != nil {
			return err
		}
		defer rows.Close()
		for rows.Next() {
			op, err := scanOperation(rows)
			if err != nil {
				return err
			}
			out = append(out, op)
		}
		return rows.Err()
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

func getOperation(ctx context.Context, tx pgx.Tx, tenantID string, woID string, opID string) (types.Operation, error) {
	op, err := scanOperation(tx.QueryRow(ctx, opSelect+`WHERE tenant_id = $1::uuid AND wo_id = $2::uuid AND id = $3::uuid`, tenantID, woID, opID))
	if errors.Is(err, pgx.ErrNoRows) {
		return types.Operation{}, ports.ErrNotFound
	}
	return op, err
}

func (s *PGStore) GetOperation(ctx context.Context, tenantID string, woID string, opID string) (types.Operation, error) {
	if !validUUID(woID, opID) {
		return types.Operation{}, ports.ErrNotFound
	}
	var out types.Operation
	err := s.inTx(ctx, tenantID, func(tx pgx.Tx) error {
		op, err := getOperation(ctx, tx, tenantID, woID, opID)
		out = op
		return err
	})
	return out, err
}

func (s *PGStore) TransitionOperation(ctx context.Context, tenantID string, t types.OperationTransition) (types.Operation, error) {
	next := t.Next
	if !validUUID(next.WorkOrderID, next.ID) {
		return types.Operation{}, ports.ErrNotFound
	}
	metadata, err := json.Marshal(t.Log.Metadata)
	if err != nil {
		return types.Operation{}, fmt.Errorf("production: log metadata: %w", err)
	}
	var out types.Operation
	err = s.inTx(ctx, tenantID, func(tx pgx.Tx) error {
		tag, err := tx.Exec(ctx, `
UPDATE production.operations
SET status = $4,
    started_at = $5,
    started_by = NULLIF($6, ''),
    completed_at = $7,
    completed_by = NULLIF($8, ''),
    actual_duration_minutes = $9,
    actual_yield_percent = NULLIF($10, '')::numeric,
    notes = $11,
    version = version + 1
WHERE tenant_id = $1::uuid AND wo_id = $2::uuid AND id = $3::uuid
  AND status = $12 AND version = $13
`, tenantID, next.WorkOrderID, next.ID, string(next.Status),
			next.StartedAt, next.StartedBy, next.CompletedAt, next.CompletedBy,
			next.ActualDurationMinutes, optionalDecimalText(next.ActualYieldPercent), next.Notes,
			string(t.ExpectedStatus), t.ExpectedVersion)
		if err != nil {
			return err
		}
		if tag.RowsAffected() == 0 {
			if _, err := getOperation(ctx, tx, tenantID, next.WorkOrderID, next.ID); err != nil {
				return err
			}
			return ports.ErrConflict
		}

		l := t.Log
		if _, err := tx.Exec(ctx, `
INSERT INTO production.operation_logs (
  tenant_id, id, operation_id, wo_id, event_type, from_status, to_status, actor_id, created_at, metadata
) VALUES ($1::uuid, $2::uuid, $3::uuid, $4::uuid, $5, $6, $7, $8, $9, $10::jsonb)
`, tenantID, l.ID, next.ID, next.WorkOrderID, string(l.EventType), string(l.FromStatus), string(l.ToStatus),
			l.ActorID, l.CreatedAt, string(metadata)); err != nil {
			if isUniqueViolation(err) {
				return ports.ErrDuplicate
			}
			return err
		}

		op, err := getOperation(ctx, tx, tenantID, next.WorkOrderID, next.ID)
		out = op
		return err
	})
	return out, err
}

func (s *PGStore) ListOperationLogs(ctx context.Context, tenantID string, woID string, opID string) ([]types.OperationLog, error) {
	out := []types.OperationLog{}
	if !validUUID(woID, opID) {
		return out, nil
	}
	err := s.inTx(ctx, tenantID, func(tx pgx.Tx) error {
		rows, err := tx.Query(ctx, `
SELECT id::text, operation_id::text, wo_id::text, event_type, from_status, to_status, actor_id, created_at, metadata::text
FROM production.operation_logs
WHERE tenant_id = $1::uuid AND wo_id = $2::uuid AND operation_id = $3::uuid
ORDER BY created_at DESC, id DESC
`, tenantID, woID, opID)
		if err != nil {
			return err
		}
		defer rows.Close()
		for rows.Next() {
			var l types.OperationLog
			var event, from, to, metadata string
			if err := rows.Scan(&l.ID, &l.OperationID, &l.WorkOrderID, &event, &from, &to, &l.ActorID, &l.CreatedAt, &metadata); err != nil {
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

func (s *PGStore) GetSettings(ctx context.Context, tenantID string) (types.ProductionSettings, bool, error) {
	var out types.ProductionSettings
	found := false
	err := s.inTx(ctx, tenantID, func(tx pgx.Tx) error {
		err := tx.QueryRow(ctx, `
SELECT require_operation_sequence, updated_at, updated_by
FROM production.settings
WHERE tenant_id = $1::uuid
`, tenantID).Scan(&out.RequireOperationSequence, &out.UpdatedAt, &out.UpdatedBy)
		if errors.Is(err, pgx.ErrNoRows) {
			return nil
		}
		if err != nil {
			return err
		}
		found = true
		return nil
	})
	if err != nil {
		return types.ProductionSettings{}, false, err
	}
	return out, found, nil
}

func (s *PGStore) PutSettings(ctx context.Context, tenantID string, settings types.ProductionSettings) (types.ProductionSettings, error) {
	if settings.UpdatedAt.IsZero() {
		settings.UpdatedAt = time.Now().UTC()
	}
	err := s.inTx(ctx, tenantID, func(tx pgx.Tx) error {
		_, err := tx.Exec(ctx, `
INSERT INTO production.settings (tenant_id, require_operation_sequence, updated_at, updated_by)
VALUES ($1::uuid, $2, $3, $4)
ON CONFLICT (tenant_id) DO UPDATE
SET require_operation_sequence = EXCLUDED.require_operation_sequence,
    updated_at = EXCLUDED.updated_at,
    updated_by = EXCLUDED.updated_by
`, tenantID, settings.RequireOperationSequence, settings.UpdatedAt, settings.UpdatedBy)
		return err
	})
	if err != nil {
		return types.ProductionSettings{}, err
	}
	return settings, nil
}
