package persistence

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/monopilot/monopilot/internal/sqlitedb"
	"github.com/monopilot/monopilot/modules/warehouse/domain/ports"
	"github.com/monopilot/monopilot/modules/warehouse/domain/types"
	"github.com/shopspring/decimal"
)

// SQLiteStore is the single-node ledger. Tenancy is a tenant_id predicate on
// every statement since SQLite has no row level security.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLiteStore expects a handle from sqlitedb.Open so the schema exists.
func NewSQLiteStore(db *sql.DB) *SQLiteStore {
	return &SQLiteStore{db: db}
}

var _ ports.Store = (*SQLiteStore)(nil)

const sqliteLPSelect = `
SELECT
  lp.id, lp.lp_number, lp.product_id, COALESCE(p.code, ''), COALESCE(p.name, ''),
  lp.quantity, lp.uom, lp.batch_number, lp.expiry_date, lp.qa_status,
  lp.location_id, lp.warehouse_id, lp.status, lp.consumed, lp.parent_lp_id,
  lp.source, lp.wo_id, lp.version, lp.created_at, lp.created_by,
  lp.updated_at, lp.updated_by
FROM wh_license_plates lp
LEFT JOIN wh_products p ON p.tenant_id = lp.tenant_id AND p.id = lp.product_id
`

const sqliteEdgeSelect = `
SELECT
  id, parent_lp_id, child_lp_id, operation_type, quantity, uom, wo_id,
  operation_sequence, note, is_reversed, reversed_at, reversed_by, created_at, created_by
FROM wh_genealogy_edges
`

func scanSQLiteLP(r rowScanner) (types.LicensePlate, error) {
	var lp types.LicensePlate
	var qty, qa, status, source, createdAt, updatedAt string
	if err := r.Scan(
		&lp.ID, &lp.LPNumber, &lp.ProductID, &lp.ProductCode, &lp.ProductName,
		&qty, &lp.UoM, &lp.BatchNumber, &lp.ExpiryDate, &qa,
		&lp.LocationID, &lp.WarehouseID, &status, &lp.Consumed, &lp.ParentLPID,
		&source, &lp.WorkOrderID, &lp.Version, &createdAt, &lp.CreatedBy,
		&updatedAt, &lp.UpdatedBy,
	); err != nil {
		return types.LicensePlate{}, err
	}
	q, err := decimal.NewFromString(qty)
	if err != nil {
		return types.LicensePlate{}, fmt.Errorf("warehouse: quantity %q: %w", qty, err)
	}
	if lp.CreatedAt, err = sqlitedb.ParseTime(createdAt); err != nil {
		return types.LicensePlate{}, err
	}
	if lp.UpdatedAt, err = sqlitedb.ParseTime(updatedAt); err != nil {
		return types.LicensePlate{}, err
	}
	lp.Quantity = q
	lp.QAStatus = types.QAStatus(qa)
	lp.Status = types.LPStatus(status)
	lp.Source = types.LPSource(source)
	return lp, nil
}

func scanSQLiteEdge(r rowScanner) (types.GenealogyEdge, error) {
	var e types.GenealogyEdge
	var op, qty, reversedAt, createdAt string
	if err := r.Scan(
		&e.ID, &e.ParentLPID, &e.ChildLPID, &op, &qty, &e.UoM, &e.WorkOrderID,
		&e.OperationSequence, &e.Note, &e.IsReversed, &reversedAt, &e.ReversedBy,
		&createdAt, &e.CreatedBy,
	); err != nil {
		return types.GenealogyEdge{}, err
	}
	q, err := decimal.NewFromString(qty)
	if err != nil {
		return types.GenealogyEdge{}, fmt.Errorf("warehouse: edge quantity %q: %w", qty, err)
	}
	e.Quantity = q
	e.OperationType = types.OperationType(op)
	if e.CreatedAt, err = sqlitedb.ParseTime(createdAt); err != nil {
		return types.GenealogyEdge{}, err
	}
	if reversedAt != "" {
		at, err := sqlitedb.ParseTime(reversedAt)
		if err != nil {
			return types.GenealogyEdge{}, err
		}
		e.ReversedAt = &at
	}
	return e, nil
}

func sqliteGetLP(ctx context.Context, tx *sql.Tx, tenantID string, id string) (types.LicensePlate, error) {
	lp, err := scanSQLiteLP(tx.QueryRowContext(ctx, sqliteLPSelect+`WHERE lp.tenant_id = ? AND lp.id = ?`, tenantID, id))
	if errors.Is(err, sql.ErrNoRows) {
		return types.LicensePlate{}, ports.ErrNotFound
	}
	return lp, err
}

func (s *SQLiteStore) GetLicensePlate(ctx context.Context, tenantID string, id string) (types.LicensePlate, error) {
	var out types.LicensePlate
	err := sqlitedb.InTx(ctx, s.db, func(tx *sql.Tx) error {
		lp, err := sqliteGetLP(ctx, tx, tenantID, id)
		out = lp
		return err
	})
	return out, err
}

func placeholders(n int) string {
	return strings.TrimSuffix(strings.Repeat("?,", n), ",")
}

func stringArgs(prefix []any, values []string) []any {
	args := append([]any{}, prefix...)
	for _, v := range values {
		args = append(args, v)
	}
	return args
}

func (s *SQLiteStore) GetLicensePlates(ctx context.Context, tenantID string, ids []string) ([]types.LicensePlate, error) {
	out := make([]types.LicensePlate, 0, len(ids))
	if len(ids) == 0 {
		return out, nil
	}
	err := sqlitedb.InTx(ctx, s.db, func(tx *sql.Tx) error {
		rows, err := tx.QueryContext(ctx,
			sqliteLPSelect+`WHERE lp.tenant_id = ? AND lp.id IN (`+placeholders(len(ids))+`) ORDER BY lp.lp_number`,
			stringArgs([]any{tenantID}, ids)...)
		if err != nil {
			return err
		}
		defer func() { _ = rows.Close() }()
		for rows.Next() {
			lp, err := scanSQLiteLP(rows)
			if err != nil {
				return err
			}
			out = append(out, lp)
		}
		return rows.Err()
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

func sqliteFilter(tenantID string, f types.LicensePlateFilter) (string, []any) {
	where := []string{"lp.tenant_id = ?"}
	args := []any{tenantID}
	if f.Search != "" {
		where = append(where, "upper(lp.lp_number) LIKE upper(?) || '%'")
		args = append(args, f.Search)
	}
	eq := func(col, v string) {
		if v != "" {
			where = append(where, col+" = ?")
			args = append(args, v)
		}
	}
	eq("lp.warehouse_id", f.WarehouseID)
	eq("lp.location_id", f.LocationID)
	eq("lp.product_id", f.ProductID)
	eq("lp.batch_number", f.BatchNumber)
	eq("lp.wo_id", f.WorkOrderID)
	if len(f.Statuses) > 0 {
		where = append(where, "lp.status IN ("+placeholders(len(f.Statuses))+")")
		for _, st := range f.Statuses {
			args = append(args, string(st))
		}
	}
	if len(f.QAStatuses) > 0 {
		where = append(where, "lp.qa_status IN ("+placeholders(len(f.QAStatuses))+")")
		for _, q := range f.QAStatuses {
			args = append(args, string(q))
		}
	}
	if f.ExpiryFrom != "" {
		where = append(where, "lp.expiry_date <> '' AND lp.expiry_date >= ?")
		args = append(args, f.ExpiryFrom)
	}
	if f.ExpiryTo != "" {
		where = append(where, "lp.expiry_date <> '' AND lp.expiry_date <= ?")
		args = append(args, f.ExpiryTo)
	}
	return "WHERE " + strings.Join(where, " AND ") + "\n", args
}

func (s *SQLiteStore) ListLicensePlates(ctx context.Context, tenantID string, f types.LicensePlateFilter) (types.LicensePlatePage, error) {
	page := types.LicensePlatePage{Items: []types.LicensePlate{}}
	where, args := sqliteFilter(tenantID, f)
	err := sqlitedb.InTx(ctx, s.db, func(tx *sql.Tx) error {
		if err := tx.QueryRowContext(ctx, `SELECT count(*) FROM wh_license_plates lp `+where, args...).Scan(&page.Total); err != nil {
			return err
		}
		q := sqliteLPSelect + where + `ORDER BY lp.created_at DESC, lp.lp_number DESC`
		if f.Limit > 0 {
			q += fmt.Sprintf(" LIMIT %d", f.Limit)
		} else if f.Offset > 0 {
			q += " LIMIT -1"
		}
		if f.Offset > 0 {
			q += fmt.Sprintf(" OFFSET %d", f.Offset)
		}
		rows, err := tx.QueryContext(ctx, q, args...)
		if err != nil {
			return err
		}
		defer func() { _ = rows.Close() }()
		for rows.Next() {
			lp, err := scanSQLiteLP(rows)
			if err != nil {
				return err
			}
			page.Items = append(page.Items, lp)
		}
		return rows.Err()
	})
	if err != nil {
		return types.LicensePlatePage{}, err
	}
	return page, nil
}

func sqliteAllocateLPNumbers(ctx context.Context, tx *sql.Tx, tenantID string, n int) ([]string, error) {
	if n <= 0 {
		return nil, nil
	}
	var last int
	if err := tx.QueryRowContext(ctx, `
INSERT INTO wh_lp_counters (tenant_id, last_value) VALUES (?, ?)
ON CONFLICT (tenant_id) DO UPDATE SET last_value = last_value + excluded.last_value
RETURNING last_value
`, tenantID, n).Scan(&last); err != nil {
		return nil, err
	}
	out := make([]string, 0, n)
	for seq := last - n + 1; seq <= last; seq++ {
		out = append(out, formatLPNumber(seq))
	}
	return out, nil
}

func sqliteInsertLP(ctx context.Context, tx *sql.Tx, tenantID string, lp types.LicensePlate) error {
	_, err := tx.ExecContext(ctx, `
INSERT INTO wh_license_plates (
  tenant_id, id, lp_number, product_id, quantity, uom, batch_number, expiry_date,
  qa_status, location_id, warehouse_id, status, consumed, parent_lp_id, source, wo_id,
  version, created_at, created_by, updated_at, updated_by
) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, 1, ?, ?, ?, ?)
`, tenantID, lp.ID, lp.LPNumber, lp.ProductID, lp.Quantity.String(), lp.UoM, lp.BatchNumber, lp.ExpiryDate,
		string(lp.QAStatus), lp.LocationID, lp.WarehouseID, string(lp.Status), lp.Status == types.LPStatusConsumed,
		lp.ParentLPID, string(lp.Source), lp.WorkOrderID,
		sqlitedb.FormatTime(lp.CreatedAt), lp.CreatedBy, sqlitedb.FormatTime(lp.UpdatedAt), lp.UpdatedBy)
	if sqlitedb.IsUniqueViolation(err) {
		return ports.ErrDuplicate
	}
	return err
}

func (s *SQLiteStore) CreateLicensePlate(ctx context.Context, tenantID string, lp types.LicensePlate) (types.LicensePlate, error) {
	var out types.LicensePlate
	err := sqlitedb.InTx(ctx, s.db, func(tx *sql.Tx) error {
		if lp.LPNumber == "" {
			numbers, err := sqliteAllocateLPNumbers(ctx, tx, tenantID, 1)
			if err != nil {
				return err
			}
			lp.LPNumber = numbers[0]
		}
		if err := sqliteInsertLP(ctx, tx, tenantID, lp); err != nil {
			return err
		}
		created, err := sqliteGetLP(ctx, tx, tenantID, lp.ID)
		out = created
		return err
	})
	return out, err
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

func (s *SQLiteStore) UpdateLicensePlate(ctx context.Context, tenantID string, lp types.LicensePlate, expectedVersion int64) (types.LicensePlate, error) {
	var out types.LicensePlate
	err := sqlitedb.InTx(ctx, s.db, func(tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx, `
UPDATE wh_license_plates
SET quantity = ?, location_id = ?, warehouse_id = ?, status = ?, qa_status = ?,
    consumed = ?, updated_at = ?, updated_by = ?, version = version + 1
WHERE tenant_id = ? AND id = ? AND version = ? AND consumed = 0
`, lp.Quantity.String(), lp.LocationID, lp.WarehouseID, string(lp.Status), string(lp.QAStatus),
			lp.Status == types.LPStatusConsumed, sqlitedb.FormatTime(lp.UpdatedAt), lp.UpdatedBy,
			tenantID, lp.ID, expectedVersion)
		if err != nil {
			return err
		}
		if n, err := res.RowsAffected(); err != nil {
			return err
		} else if n == 0 {
			return sqliteMissingOrConflict(ctx, tx, "wh_license_plates", tenantID, lp.ID)
		}
		updated, err := sqliteGetLP(ctx, tx, tenantID, lp.ID)
		out = updated
		return err
	})
	return out, err
}

func (s *SQLiteStore) PeekLPNumbers(ctx context.Context, tenantID string, n int) ([]string, error) {
	var last int
	err := s.db.QueryRowContext(ctx, `SELECT COALESCE((SELECT last_value FROM wh_lp_counters WHERE tenant_id = ?), 0)`, tenantID).Scan(&last)
	if err != nil {
		return nil, err
	}
	out := make([]string, 0, n)
	for i := 1; i <= n; i++ {
		out = append(out, formatLPNumber(last+i))
	}
	return out, nil
}

func sqliteConsumeLP(ctx context.Context, tx *sql.Tx, tenantID string, lp types.LicensePlate, actor string, at time.Time) error {
	res, err := tx.ExecContext(ctx, `
UPDATE wh_license_plates
SET status = 'consumed', consumed = 1, version = version + 1, updated_at = ?, updated_by = ?
WHERE tenant_id = ? AND id = ? AND version = ? AND status = 'available' AND consumed = 0
`, sqlitedb.FormatTime(at), actor, tenantID, lp.ID, lp.Version)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ports.ErrConflict
	}
	return nil
}

func sqliteInsertEdge(ctx context.Context, tx *sql.Tx, tenantID string, e types.GenealogyEdge) error {
	_, err := tx.ExecContext(ctx, `
INSERT INTO wh_genealogy_edges (
  tenant_id, id, parent_lp_id, child_lp_id, operation_type, quantity, uom, wo_id,
  operation_sequence, note, created_at, created_by
) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
`, tenantID, e.ID, e.ParentLPID, e.ChildLPID, string(e.OperationType), e.Quantity.String(), e.UoM, e.WorkOrderID,
		e.OperationSequence, e.Note, sqlitedb.FormatTime(e.CreatedAt), e.CreatedBy)
	if sqlitedb.IsUniqueViolation(err) {
		return ports.ErrDuplicate
	}
	return err
}

func (s *SQLiteStore) CommitSplit(ctx context.Context, tenantID string, plan types.SplitPlan) ([]types.LicensePlate, error) {
	out := make([]types.LicensePlate, 0, len(plan.Children))
	err := sqlitedb.InTx(ctx, s.db, func(tx *sql.Tx) error {
		if err := sqliteConsumeLP(ctx, tx, tenantID, plan.Source, plan.Actor, plan.At); err != nil {
			if errors.Is(err, ports.ErrConflict) {
				return sqliteMissingOrConflict(ctx, tx, "wh_license_plates", tenantID, plan.Source.ID)
			}
			return err
		}
		numbers, err := sqliteAllocateLPNumbers(ctx, tx, tenantID, len(plan.Children))
		if err != nil {
			return err
		}
		for i, child := range plan.Children {
			if child.LPNumber == "" {
				child.LPNumber = numbers[i]
			}
			if err := sqliteInsertLP(ctx, tx, tenantID, child); err != nil {
				return err
			}
		}
		for _, e := range plan.Edges {
			if err := sqliteInsertEdge(ctx, tx, tenantID, e); err != nil {
				return err
			}
		}
		for _, child := range plan.Children {
			created, err := sqliteGetLP(ctx, tx, tenantID, child.ID)
			if err != nil {
				return err
			}
			out = append(out, created)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

func (s *SQLiteStore) CommitMerge(ctx context.Context, tenantID string, plan types.MergePlan) (types.LicensePlate, error) {
	var out types.LicensePlate
	err := sqlitedb.InTx(ctx, s.db, func(tx *sql.Tx) error {
		for _, src := range plan.Sources {
			if err := sqliteConsumeLP(ctx, tx, tenantID, src, plan.Actor, plan.At); err != nil {
				return err
			}
		}
		result := plan.Result
		if result.LPNumber == "" {
			numbers, err := sqliteAllocateLPNumbers(ctx, tx, tenantID, 1)
			if err != nil {
				return err
			}
			result.LPNumber = numbers[0]
		}
		if err := sqliteInsertLP(ctx, tx, tenantID, result); err != nil {
			return err
		}
		for _, e := range plan.Edges {
			if err := sqliteInsertEdge(ctx, tx, tenantID, e); err != nil {
				return err
			}
		}
		created, err := sqliteGetLP(ctx, tx, tenantID, result.ID)
		out = created
		return err
	})
	return out, err
}

func (s *SQLiteStore) InsertEdge(ctx context.Context, tenantID string, edge types.GenealogyEdge) (types.GenealogyEdge, error) {
	err := sqlitedb.InTx(ctx, s.db, func(tx *sql.Tx) error {
		var n int
		if err := tx.QueryRowContext(ctx, `
SELECT count(*) FROM wh_license_plates WHERE tenant_id = ? AND id IN (?, ?)
`, tenantID, edge.ParentLPID, edge.ChildLPID).Scan(&n); err != nil {
			return err
		}
		if n != 2 {
			return ports.ErrNotFound
		}
		return sqliteInsertEdge(ctx, tx, tenantID, edge)
	})
	if err != nil {
		return types.GenealogyEdge{}, err
	}
	return edge, nil
}

func (s *SQLiteStore) ReverseEdge(ctx context.Context, tenantID string, edgeID string, actor string, at time.Time) (types.GenealogyEdge, error) {
	var out types.GenealogyEdge
	err := sqlitedb.InTx(ctx, s.db, func(tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx, `
UPDATE wh_genealogy_edges
SET is_reversed = 1, reversed_at = ?, reversed_by = ?
WHERE tenant_id = ? AND id = ? AND is_reversed = 0
`, sqlitedb.FormatTime(at), actor, tenantID, edgeID)
		if err != nil {
			return err
		}
		if n, err := res.RowsAffected(); err != nil {
			return err
		} else if n == 0 {
			return sqliteMissingOrConflict(ctx, tx, "wh_genealogy_edges", tenantID, edgeID)
		}
		e, err := scanSQLiteEdge(tx.QueryRowContext(ctx, sqliteEdgeSelect+`WHERE tenant_id = ? AND id = ?`, tenantID, edgeID))
		out = e
		return err
	})
	return out, err
}

func (s *SQLiteStore) queryEdges(ctx context.Context, where string, args ...any) ([]types.GenealogyEdge, error) {
	out := make([]types.GenealogyEdge, 0)
	rows, err := s.db.QueryContext(ctx, sqliteEdgeSelect+where+` ORDER BY created_at, id`, args...)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()
	for rows.Next() {
		e, err := scanSQLiteEdge(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return out, nil
}

func (s *SQLiteStore) edgesByColumn(ctx context.Context, tenantID string, column string, ids []string, includeReversed bool) ([]types.GenealogyEdge, error) {
	if len(ids) == 0 {
		return []types.GenealogyEdge{}, nil
	}
	where := `WHERE tenant_id = ? AND ` + column + ` IN (` + placeholders(len(ids)) + `)`
	if !includeReversed {
		where += ` AND is_reversed = 0`
	}
	return s.queryEdges(ctx, where, stringArgs([]any{tenantID}, ids)...)
}

func (s *SQLiteStore) EdgesByChild(ctx context.Context, tenantID string, childIDs []string, includeReversed bool) ([]types.GenealogyEdge, error) {
	return s.edgesByColumn(ctx, tenantID, "child_lp_id", childIDs, includeReversed)
}

func (s *SQLiteStore) EdgesByParent(ctx context.Context, tenantID string, parentIDs []string, includeReversed bool) ([]types.GenealogyEdge, error) {
	return s.edgesByColumn(ctx, tenantID, "parent_lp_id", parentIDs, includeReversed)
}

func (s *SQLiteStore) EdgesByWorkOrder(ctx context.Context, tenantID string, workOrderID string) ([]types.GenealogyEdge, error) {
	return s.queryEdges(ctx, `WHERE tenant_id = ? AND wo_id = ?`, tenantID, workOrderID)
}

func (s *SQLiteStore) GetSettings(ctx context.Context, tenantID string) (types.WarehouseSettings, bool, error) {
	var out types.WarehouseSettings
	var updatedAt string
	err := s.db.QueryRowContext(ctx, `
SELECT enable_split_merge, qa_warning_rule, updated_at, updated_by FROM wh_settings WHERE tenant_id = ?
`, tenantID).Scan(&out.EnableSplitMerge, &out.QAWarningRule, &updatedAt, &out.UpdatedBy)
	if errors.Is(err, sql.ErrNoRows) {
		return types.WarehouseSettings{}, false, nil
	}
	if err != nil {
		return types.WarehouseSettings{}, false, err
	}
	if out.UpdatedAt, err = sqlitedb.ParseTime(updatedAt); err != nil {
		return types.WarehouseSettings{}, false, err
	}
	return out, true, nil
}

func (s *SQLiteStore) PutSettings(ctx context.Context, tenantID string, settings types.WarehouseSettings) (types.WarehouseSettings, error) {
	_, err := s.db.ExecContext(ctx, `
INSERT INTO wh_settings (tenant_id, enable_split_merge, qa_warning_rule, updated_at, updated_by)
VALUES (?, ?, ?, ?, ?)
ON CONFLICT (tenant_id) DO UPDATE
SET enable_split_merge = excluded.enable_split_merge,
    qa_warning_rule = excluded.qa_warning_rule,
    updated_at = excluded.updated_at,
    updated_by = excluded.updated_by
`, tenantID, settings.EnableSplitMerge, settings.QAWarningRule, sqlitedb.FormatTime(settings.UpdatedAt), settings.UpdatedBy)
	if err != nil {
		return types.WarehouseSettings{}, err
	}
	return settings, nil
}

// InventorySummary sums quantities in Go since SQLite has no decimal type.
func (s *SQLiteStore) InventorySummary(ctx context.Context, tenantID string, expiringBefore string) (types.InventorySummary, error) {
	sum := types.InventorySummary{
		ByStatus:               map[types.LPStatus]int{},
		ByQAStatus:             map[types.QAStatus]int{},
		AvailableQuantityByUoM: map[string]decimal.Decimal{},
		ExpiringBefore:         expiringBefore,
	}
	rows, err := s.db.QueryContext(ctx, `
SELECT status, qa_status, consumed, quantity, uom, expiry_date
FROM wh_license_plates
WHERE tenant_id = ?
`, tenantID)
	if err != nil {
		return types.InventorySummary{}, err
	}
	defer func() { _ = rows.Close() }()
	for rows.Next() {
		var status, qa, qty, uom, expiry string
		var consumed bool
		if err := rows.Scan(&status, &qa, &consumed, &qty, &uom, &expiry); err != nil {
			return types.InventorySummary{}, err
		}
		sum.TotalLPs++
		sum.ByStatus[types.LPStatus(status)]++
		sum.ByQAStatus[types.QAStatus(qa)]++
		if consumed || types.LPStatus(status) != types.LPStatusAvailable {
			continue
		}
		q, err := decimal.NewFromString(qty)
		if err != nil {
			return types.InventorySummary{}, err
		}
		sum.AvailableQuantityByUoM[uom] = sum.AvailableQuantityByUoM[uom].Add(q)
		if expiry != "" && expiry <= expiringBefore {
			sum.ExpiringSoon++
		}
	}
	if err := rows.Err(); err != nil {
		return types.InventorySummary{}, err
	}
	return sum, nil
}

func (s *SQLiteStore) GetProduct(ctx context.Context, tenantID string, id string) (types.Product, error) {
	var p types.Product
	var createdAt string
	err := s.db.QueryRowContext(ctx, `
SELECT id, code, name, default_uom, created_at FROM wh_products WHERE tenant_id = ? AND id = ?
`, tenantID, id).Scan(&p.ID, &p.Code, &p.Name, &p.DefaultUoM, &createdAt)
	if errors.Is(err, sql.ErrNoRows) {
		return types.Product{}, ports.ErrNotFound
	}
	if err != nil {
		return types.Product{}, err
	}
	p.CreatedAt, err = sqlitedb.ParseTime(createdAt)
	return p, err
}

func (s *SQLiteStore) ListProducts(ctx context.Context, tenantID string) ([]types.Product, error) {
	rows, err := s.db.QueryContext(ctx, `
SELECT id, code, name, default_uom, created_at FROM wh_products WHERE tenant_id = ? ORDER BY code
`, tenantID)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()
	out := make([]types.Product, 0)
	for rows.Next() {
		var p types.Product
		var createdAt string
		if err := rows.Scan(&p.ID, &p.Code, &p.Name, &p.DefaultUoM, &createdAt); err != nil {
			return nil, err
		}
		if p.CreatedAt, err = sqlitedb.ParseTime(createdAt); err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

func (s *SQLiteStore) CreateProduct(ctx context.Context, tenantID string, p types.Product) (types.Product, error) {
	_, err := s.db.ExecContext(ctx, `
INSERT INTO wh_products (tenant_id, id, code, name, default_uom, created_at) VALUES (?, ?, ?, ?, ?, ?)
`, tenantID, p.ID, p.Code, p.Name, p.DefaultUoM, sqlitedb.FormatTime(p.CreatedAt))
	if sqlitedb.IsUniqueViolation(err) {
		return types.Product{}, ports.ErrDuplicate
	}
	if err != nil {
		return types.Product{}, err
	}
	return p, nil
}

func (s *SQLiteStore) GetLocation(ctx context.Context, tenantID string, id string) (types.Location, error) {
	var l types.Location
	var createdAt string
	err := s.db.QueryRowContext(ctx, `
SELECT id, warehouse_id, code, name, created_at FROM wh_locations WHERE tenant_id = ? AND id = ?
`, tenantID, id).Scan(&l.ID, &l.WarehouseID, &l.Code, &l.Name, &createdAt)
	if errors.Is(err, sql.ErrNoRows) {
		return types.Location{}, ports.ErrNotFound
	}
	if err != nil {
		return types.Location{}, err
	}
	l.CreatedAt, err = sqlitedb.ParseTime(createdAt)
	return l, err
}

func (s *SQLiteStore) ListLocations(ctx context.Context, tenantID string, warehouseID string) ([]types.Location, error) {
	rows, err := s.db.QueryContext(ctx, `
SELECT id, warehouse_id, code, name, created_at FROM wh_locations
WHERE tenant_id = ? AND (? = '' OR warehouse_id = ?)
ORDER BY code
`, tenantID, warehouseID, warehouseID)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()
	out := make([]types.Location, 0)
	for rows.Next() {
		var l types.Location
		var createdAt string
		if err := rows.Scan(&l.ID, &l.WarehouseID, &l.Code, &l.Name, &createdAt); err != nil {
			return nil, err
		}
		if l.CreatedAt, err = sqlitedb.ParseTime(createdAt); err != nil {
			return nil, err
		}
		out = append(out, l)
	}
	return out, rows.Err()
}

func (s *SQLiteStore) CreateLocation(ctx context.Context, tenantID string, l types.Location) (types.Location, error) {
	_, err := s.db.ExecContext(ctx, `
INSERT INTO wh_locations (tenant_id, id, warehouse_id, code, name, created_at) VALUES (?, ?, ?, ?, ?, ?)
`, tenantID, l.ID, l.WarehouseID, l.Code, l.Name, sqlitedb.FormatTime(l.CreatedAt))
	if sqlitedb.IsUniqueViolation(err) {
		return types.Location{}, ports.ErrDuplicate
	}
	if err != nil {
		return types.Location{}, err
	}
	return l, nil
}
