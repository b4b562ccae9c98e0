package persistence

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/monopilot/monopilot/modules/warehouse/domain/ports"
	"github.com/monopilot/monopilot/modules/warehouse/domain/types"
	"github.com/shopspring/decimal"
)

type pgBeginner interface {
	Begin(ctx context.Context) (pgx.Tx, error)
}

// PGStore is the Postgres ledger. Every call runs in its own transaction with
// app.current_tenant set so row level security scopes it to one tenant.
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

const lpSelect = `
SELECT
  lp.id::text,
  lp.lp_number,
  lp.product_id::text,
  COALESCE(p.code, ''),
  COALESCE(p.name, ''),
  lp.quantity::text,
  lp.uom,
  lp.batch_number,
  COALESCE(lp.expiry_date::text, ''),
  lp.qa_status,
  lp.location_id::text,
  lp.warehouse_id,
  lp.status,
  lp.consumed,
  COALESCE(lp.parent_lp_id::text, ''),
  lp.source,
  COALESCE(lp.wo_id, ''),
  lp.version,
  lp.created_at,
  lp.created_by,
  lp.updated_at,
  lp.updated_by
FROM warehouse.license_plates lp
LEFT JOIN warehouse.products p ON p.tenant_id = lp.tenant_id AND p.id = lp.product_id
`

const edgeSelect = `
SELECT
  id::text,
  parent_lp_id::text,
  child_lp_id::text,
  operation_type,
  quantity::text,
  uom,
  COALESCE(wo_id, ''),
  COALESCE(operation_sequence, 0),
  note,
  is_reversed,
  reversed_at,
  COALESCE(reversed_by, ''),
  created_at,
  created_by
FROM warehouse.genealogy_edges
`

func scanLP(r rowScanner) (types.LicensePlate, error) {
	var lp types.LicensePlate
	var qty, qa, status, source string
	if err := r.Scan(
		&lp.ID, &lp.LPNumber, &lp.ProductID, &lp.ProductCode, &lp.ProductName,
		&qty, &lp.UoM, &lp.BatchNumber, &lp.ExpiryDate, &qa,
		&lp.LocationID, &lp.WarehouseID, &status, &lp.Consumed, &lp.ParentLPID,
		&source, &lp.WorkOrderID, &lp.Version, &lp.CreatedAt, &lp.CreatedBy,
		&lp.UpdatedAt, &lp.UpdatedBy,
	); err != nil {
		return types.LicensePlate{}, err
	}
	q, err := decimal.NewFromString(qty)
	if err != nil {
		return types.LicensePlate{}, fmt.Errorf("warehouse: quantity %q: %w", qty, err)
	}
	lp.Quantity = q
	lp.QAStatus = types.QAStatus(qa)
	lp.Status = types.LPStatus(status)
	lp.Source = types.LPSource(source)
	return lp, nil
}

func scanEdge(r rowScanner) (types.GenealogyEdge, error) {
	var e types.GenealogyEdge
	var op, qty string
	if err := r.Scan(
		&e.ID, &e.ParentLPID, &e.ChildLPID, &op, &qty, &e.UoM, &e.WorkOrderID,
		&e.OperationSequence, &e.Note, &e.IsReversed, &e.ReversedAt, &e.ReversedBy,
		&e.CreatedAt, &e.CreatedBy,
	); err != nil {
		return types.GenealogyEdge{}, err
	}
	q, err := decimal.NewFromString(qty)
	if err != nil {
		return types.GenealogyEdge{}, fmt.Errorf("warehouse: edge quantity %q: %w", qty, err)
	}
	e.Quantity = q
	e.OperationType = types.OperationType(op)
	return e, nil
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23505"
}

// validUUIDs drops ids that cannot exist in a uuid column.
func validUUIDs(ids []string) []string {
	out := make([]string, 0, len(ids))
	for _, id := range ids {
		if _, err := uuid.Parse(id); err == nil {
			out = append(out, id)
		}
	}
	return out
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

func getLP(ctx context.Context, tx pgx.Tx, tenantID string, id string) (types.LicensePlate, error) {
	if _, err := uuid.Parse(id); err != nil {
		return types.LicensePlate{}, ports.ErrNotFound
	}
	lp, err := scanLP(tx.QueryRow(ctx, lpSelect+`WHERE lp.tenant_id = $1::uuid AND lp.id = $2::uuid`, tenantID, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return types.LicensePlate{}, ports.ErrNotFound
	}
	return lp, err
}

func (s *PGStore) GetLicensePlate(ctx context.Context, tenantID string, id string) (types.LicensePlate, error) {
	var out types.LicensePlate
	err := s.inTx(ctx, tenantID, func(tx pgx.Tx) error {
		lp, err := getLP(ctx, tx, tenantID, id)
		out = lp
		return err
	})
	return out, err
}

func (s *PGStore) GetLicensePlates(ctx context.Context, tenantID string, ids []string) ([]types.LicensePlate, error) {
	ids = validUUIDs(ids)
	out := make([]types.LicensePlate, 0, len(ids))
	if len(ids) == 0 {
		return out, nil
	}
	err := s.inTx(ctx, tenantID, func(tx pgx.Tx) error {
		rows, err := tx.Query(ctx, lpSelect+`WHERE lp.tenant_id = $1::uuid AND lp.id = ANY($2::uuid[]) ORDER BY lp.lp_number`, tenantID, ids)
		if err != nil {
			return err
		}
		defer rows.Close()
		for rows.Next() {
			lp, err := scanLP(rows)
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

func lpFilterSQL(tenantID string, f types.LicensePlateFilter) (string, []any) {
	where := []string{"lp.tenant_id = $1::uuid"}
	args := []any{tenantID}
	add := func(cond string, v any) {
		args = append(args, v)
		where = append(where, fmt.Sprintf(cond, len(args)))
	}
	if f.Search != "" {
		add("lp.lp_number ILIKE $%d || '%%'", f.Search)
	}
	if f.WarehouseID != "" {
		add("lp.warehouse_id = $%d", f.WarehouseID)
	}
	if f.LocationID != "" {
		add("lp.location_id::text = $%d", f.LocationID)
	}
	if f.ProductID != "" {
		add("lp.product_id::text = $%d", f.ProductID)
	}
	if len(f.Statuses) > 0 {
		ss := make([]string, 0, len(f.Statuses))
		for _, st := range f.Statuses {
			ss = append(ss, string(st))
		}
		add("lp.status = ANY($%d::text[])", ss)
	}
	if len(f.QAStatuses) > 0 {
		qs := make([]string, 0, len(f.QAStatuses))
		for _, q := range f.QAStatuses {
			qs = append(qs, string(q))
		}
		add("lp.qa_status = ANY($%d::text[])", qs)
	}
	if f.BatchNumber != "" {
		add("lp.batch_number = $%d", f.BatchNumber)
	}
	if f.WorkOrderID != "" {
		add("lp.wo_id = $%d", f.WorkOrderID)
	}
	if f.ExpiryFrom != "" {
		add("lp.expiry_date >= $%d::date", f.ExpiryFrom)
	}
	if f.ExpiryTo != "" {
		add("lp.expiry_date <= $%d::date", f.ExpiryTo)
	}
	return "WHERE " + strings.Join(where, " AND ") + "\n", args
}

func (s *PGStore) ListLicensePlates(ctx context.Context, tenantID string, f types.LicensePlateFilter) (types.LicensePlatePage, error) {
	page := types.LicensePlatePage{Items: []types.LicensePlate{}}
	where, args := lpFilterSQL(tenantID, f)
	err := s.inTx(ctx, tenantID, func(tx pgx.Tx) error {
		if err := tx.QueryRow(ctx, `SELECT count(*) FROM warehouse.license_plates lp `+where, args...).Scan(&page.Total); err != nil {
			return err
		}
		q := lpSelect + where + `ORDER BY lp.created_at DESC, lp.lp_number DESC`
		if f.Limit > 0 {
			q += fmt.Sprintf(" LIMIT %d", f.Limit)
		}
		if f.Offset > 0 {
			q += fmt.Sprintf(" OFFSET %d", f.Offset)
		}
		rows, err := tx.Query(ctx, q, args...)
		if err != nil {
			return err
		}
		defer rows.Close()
		for rows.Next() {
			lp, err := scanLP(rows)
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

// allocateLPNumbers reserves n consecutive numbers from the tenant counter.
func allocateLPNumbers(ctx context.Context, tx pgx.Tx, tenantID string, n int) ([]string, error) {
	if n <= 0 {
		return nil, nil
	}
	var last int
	if err := tx.QueryRow(ctx, `
INSERT INTO warehouse.lp_counters (tenant_id, last_value)
VALUES ($1::uuid, $2)
ON CONFLICT (tenant_id) DO UPDATE SET last_value = warehouse.lp_counters.last_value + EXCLUDED.last_value
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

func insertLP(ctx context.Context, tx pgx.Tx, tenantID string, lp types.LicensePlate) error {
	_, err := tx.Exec(ctx, `
INSERT INTO warehouse.license_plates (
  tenant_id, id, lp_number, product_id, quantity, uom, batch_number, expiry_date,
  qa_status, location_id, warehouse_id, status, consumed, parent_lp_id, source, wo_id,
  version, created_at, created_by, updated_at, updated_by
) VALUES (
  $1::uuid, $2::uuid, $3, $4::uuid, $5::numeric, $6, $7, NULLIF($8, '')::date,
  $9, $10::uuid, $11, $12, $13, NULLIF($14, '')::uuid, $15, NULLIF($16, ''),
  1, $17, $18, $19, $20
)
`, tenantID, lp.ID, lp.LPNumber, lp.ProductID, lp.Quantity.String(), lp.UoM, lp.BatchNumber, lp.ExpiryDate,
		string(lp.QAStatus), lp.LocationID, lp.WarehouseID, string(lp.Status), lp.Status == types.LPStatusConsumed, lp.ParentLPID, string(lp.Source), lp.WorkOrderID,
		lp.CreatedAt, lp.CreatedBy, lp.UpdatedAt, lp.UpdatedBy)
	if isUniqueViolation(err) {
		return ports.ErrDuplicate
	}
	return err
}

func (s *PGStore) CreateLicensePlate(ctx context.Context, tenantID string, lp types.LicensePlate) (types.LicensePlate, error) {
	var out types.LicensePlate
	err := s.inTx(ctx, tenantID, func(tx pgx.Tx) error {
		if lp.LPNumber == "" {
			numbers, err := allocateLPNumbers(ctx, tx, tenantID, 1)
			if err != nil {
				return err
			}
			lp.LPNumber = numbers[0]
		}
		if err := insertLP(ctx, tx, tenantID, lp); err != nil {
			return err
		}
		created, err := getLP(ctx, tx, tenantID, lp.ID)
		out = created
		return err
	})
	return out, err
}

// missingOrConflict explains an UPDATE that matched no row.
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

func (s *PGStore) UpdateLicensePlate(ctx context.Context, tenantID string, lp types.LicensePlate, expectedVersion int64) (types.LicensePlate, error) {
	if _, err := uuid.Parse(lp.ID); err != nil {
		return types.LicensePlate{}, ports.ErrNotFound
	}
	var out types.LicensePlate
	err := s.inTx(ctx, tenantID, func(tx pgx.Tx) error {
		tag, err := tx.Exec(ctx, `
UPDATE warehouse.license_plates
SET quantity = $3::numeric,
    location_id = $4::uuid,
    warehouse_id = $5,
    status = $6,
    qa_status = $7,
    consumed = ($6 = 'consumed'),
    updated_at = $8,
    updated_by = $9,
    version = version + 1
WHERE tenant_id = $1::uuid AND id = $2::uuid AND version = $10 AND NOT consumed
`, tenantID, lp.ID, lp.Quantity.String(), lp.LocationID, lp.WarehouseID, string(lp.Status), string(lp.QAStatus), lp.UpdatedAt, lp.UpdatedBy, expectedVersion)
		if err != nil {
			return err
		}
		if tag.RowsAffected() == 0 {
			return missingOrConflict(ctx, tx, "warehouse.license_plates", tenantID, lp.ID)
		}
		updated, err := getLP(ctx, tx, tenantID, lp.ID)
		out = updated
		return err
	})
	return out, err
}

func (s *PGStore) PeekLPNumbers(ctx context.Context, tenantID string, n int) ([]string, error) {
	out := make([]string, 0, n)
	err := s.inTx(ctx, tenantID, func(tx pgx.Tx) error {
		var last int
		if err := tx.QueryRow(ctx, `SELECT COALESCE((SELECT last_value FROM warehouse.lp_counters WHERE tenant_id = $1::uuid), 0)`, tenantID).Scan(&last); err != nil {
			return err
		}
		for i := 1; i <= n; i++ {
			out = append(out, formatLPNumber(last+i))
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// consumeLP is the compare-and-swap at the heart of split and merge.
func consumeLP(ctx context.Context, tx pgx.Tx, tenantID string, lp types.LicensePlate, actor string, at time.Time) error {
	tag, err := tx.Exec(ctx, `
UPDATE warehouse.license_plates
SET status = 'consumed', consumed = true, version = version + 1, updated_at = $4, updated_by = $5
WHERE tenant_id = $1::uuid AND id = $2::uuid AND version = $3 AND status = 'available' AND NOT consumed
`, tenantID, lp.ID, lp.Version, at, actor)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ports.ErrConflict
	}
	return nil
}

func insertEdge(ctx context.Context, tx pgx.Tx, tenantID string, e types.GenealogyEdge) error {
	var seq any
	if e.OperationSequence > 0 {
		seq = e.OperationSequence
	}
	_, err := tx.Exec(ctx, `
INSERT INTO warehouse.genealogy_edges (
  tenant_id, id, parent_lp_id, child_lp_id, operation_type, quantity, uom, wo_id,
  operation_sequence, note, created_at, created_by
) VALUES ($1::uuid, $2::uuid, $3::uuid, $4::uuid, $5, $6::numeric, $7, NULLIF($8, ''), $9, $10, $11, $12)
`, tenantID, e.ID, e.ParentLPID, e.ChildLPID, string(e.OperationType), e.Quantity.String(), e.UoM, e.WorkOrderID, seq, e.Note, e.CreatedAt, e.CreatedBy)
	if isUniqueViolation(err) {
		return ports.ErrDuplicate
	}
	return err
}

func (s *PGStore) CommitSplit(ctx context.Context, tenantID string, plan types.SplitPlan) ([]types.LicensePlate, error) {
	out := make([]types.LicensePlate, 0, len(plan.Children))
	err := s.inTx(ctx, tenantID, func(tx pgx.Tx) error {
		if err := consumeLP(ctx, tx, tenantID, plan.Source, plan.Actor, plan.At); err != nil {
			return err
		}
		numbers, err := allocateLPNumbers(ctx, tx, tenantID, len(plan.Children))
		if err != nil {
			return err
		}
		for i, child := range plan.Children {
			if child.LPNumber == "" {
				child.LPNumber = numbers[i]
			}
			if err := insertLP(ctx, tx, tenantID, child); err != nil {
				return err
			}
		}
		for _, e := range plan.Edges {
			if err := insertEdge(ctx, tx, tenantID, e); err != nil {
				return err
			}
		}
		for _, child := range plan.Children {
			created, err := getLP(ctx, tx, tenantID, child.ID)
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

func (s *PGStore) CommitMerge(ctx context.Context, tenantID string, plan types.MergePlan) (types.LicensePlate, error) {
	var out types.LicensePlate
	err := s.inTx(ctx, tenantID, func(tx pgx.Tx) error {
		for _, src := range plan.Sources {
			if err := consumeLP(ctx, tx, tenantID, src, plan.Actor, plan.At); err != nil {
				return err
			}
		}
		result := plan.Result
		if result.LPNumber == "" {
			numbers, err := allocateLPNumbers(ctx, tx, tenantID, 1)
			if err != nil {
				return err
			}
			result.LPNumber = numbers[0]
		}
		if err := insertLP(ctx, tx, tenantID, result); err != nil {
			return err
		}
		for _, e := range plan.Edges {
			if err := insertEdge(ctx, tx, tenantID, e); err != nil {
				return err
			}
		}
		created, err := getLP(ctx, tx, tenantID, result.ID)
		out = created
		return err
	})
	return out, err
}

func (s *PGStore) InsertEdge(ctx context.Context, tenantID string, edge types.GenealogyEdge) (types.GenealogyEdge, error) {
	if len(validUUIDs([]string{edge.ParentLPID, edge.ChildLPID})) != 2 {
		return types.GenealogyEdge{}, ports.ErrNotFound
	}
	err := s.inTx(ctx, tenantID, func(tx pgx.Tx) error {
		var n int
		if err := tx.QueryRow(ctx, `
SELECT count(*) FROM warehouse.license_plates
WHERE tenant_id = $1::uuid AND id IN ($2::uuid, $3::uuid)
`, tenantID, edge.ParentLPID, edge.ChildLPID).Scan(&n); err != nil {
			return err
		}
		if n != 2 {
			return ports.ErrNotFound
		}
		return insertEdge(ctx, tx, tenantID, edge)
	})
	if err != nil {
		return types.GenealogyEdge{}, err
	}
	return edge, nil
}

func (s *PGStore) ReverseEdge(ctx context.Context, tenantID string, edgeID string, actor string, at time.Time) (types.GenealogyEdge, error) {
	if _, err := uuid.Parse(edgeID); err != nil {
		return types.GenealogyEdge{}, ports.ErrNotFound
	}
	var out types.GenealogyEdge
	err := s.inTx(ctx, tenantID, func(tx pgx.Tx) error {
		tag, err := tx.Exec(ctx, `
UPDATE warehouse.genealogy_edges
SET is_reversed = true, reversed_at = $3, reversed_by = $4
WHERE tenant_id = $1::uuid AND id = $2::uuid AND NOT is_reversed
`, tenantID, edgeID, at, actor)
		if err != nil {
			return err
		}
		if tag.RowsAffected() == 0 {
			return missingOrConflict(ctx, tx, "warehouse.genealogy_edges", tenantID, edgeID)
		}
		e, err := scanEdge(tx.QueryRow(ctx, edgeSelect+`WHERE tenant_id = $1::uuid AND id = $2::uuid`, tenantID, edgeID))
		out = e
		return err
	})
	return out, err
}

func (s *PGStore) queryEdges(ctx context.Context, tenantID string, where string, args ...any) ([]types.GenealogyEdge, error) {
	out := make([]types.GenealogyEdge, 0)
	err := s.inTx(ctx, tenantID, func(tx pgx.Tx) error {
		rows, err := tx.Query(ctx, edgeSelect+where+` ORDER BY created_at, id`, append([]any{tenantID}, args...)...)
		if err != nil {
			return err
		}
		defer rows.Close()
		for rows.Next() {
			e, err := scanEdge(rows)
			if err != nil {
				return err
			}
			out = append(out, e)
		}
		return rows.Err()
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

func (s *PGStore) EdgesByChild(ctx context.Context, tenantID string, childIDs []string, includeReversed bool) ([]types.GenealogyEdge, error) {
	return s.queryEdges(ctx, tenantID, `WHERE tenant_id = $1::uuid AND child_lp_id = ANY($2::uuid[]) AND ($3 OR NOT is_reversed)`, validUUIDs(childIDs), includeReversed)
}

func (s *PGStore) EdgesByParent(ctx context.Context, tenantID string, parentIDs []string, includeReversed bool) ([]types.GenealogyEdge, error) {
	return s.queryEdges(ctx, tenantID, `WHERE tenant_id = $1::uuid AND parent_lp_id = ANY($2::uuid[]) AND ($3 OR NOT is_reversed)`, validUUIDs(parentIDs), includeReversed)
}

func (s *PGStore) EdgesByWorkOrder(ctx context.Context, tenantID string, workOrderID string) ([]types.GenealogyEdge, error) {
	return s.queryEdges(ctx, tenantID, `WHERE tenant_id = $1::uuid AND wo_id = $2`, workOrderID)
}

func (s *PGStore) GetSettings(ctx context.Context, tenantID string) (types.WarehouseSettings, bool, error) {
	var out types.WarehouseSettings
	found := false
	err := s.inTx(ctx, tenantID, func(tx pgx.Tx) error {
		err := tx.QueryRow(ctx, `
SELECT enable_split_merge, qa_warning_rule, updated_at, updated_by
FROM warehouse.settings
WHERE tenant_id = $1::uuid
`, tenantID).Scan(&out.EnableSplitMerge, &out.QAWarningRule, &out.UpdatedAt, &out.UpdatedBy)
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
		return types.WarehouseSettings{}, false, err
	}
	return out, found, nil
}

func (s *PGStore) PutSettings(ctx context.Context, tenantID string, settings types.WarehouseSettings) (types.WarehouseSettings, error) {
	err := s.inTx(ctx, tenantID, func(tx pgx.Tx) error {
		_, err := tx.Exec(ctx, `
INSERT INTO warehouse.settings (tenant_id, enable_split_merge, qa_warning_rule, updated_at, updated_by)
VALUES ($1::uuid, $2, $3, $4, $5)
ON CONFLICT (tenant_id) DO UPDATE
SET enable_split_merge = EXCLUDED.enable_split_merge,
    qa_warning_rule = EXCLUDED.qa_warning_rule,
    updated_at = EXCLUDED.updated_at,
    updated_by = EXCLUDED.updated_by
`, tenantID, settings.EnableSplitMerge, settings.QAWarningRule, settings.UpdatedAt, settings.UpdatedBy)
		return err
	})
	if err != nil {
		return types.WarehouseSettings{}, err
	}
	return settings, nil
}

func (s *PGStore) InventorySummary(ctx context.Context, tenantID string, expiringBefore string) (types.InventorySummary, error) {
	sum := types.InventorySummary{
		ByStatus:               map[types.LPStatus]int{},
		ByQAStatus:             map[types.QAStatus]int{},
		AvailableQuantityByUoM: map[string]decimal.Decimal{},
		ExpiringBefore:         expiringBefore,
	}
	err := s.inTx(ctx, tenantID, func(tx pgx.Tx) error {
		rows, err := tx.Query(ctx, `
SELECT status, qa_status, count(*)
FROM warehouse.license_plates
WHERE tenant_id = $1::uuid
GROUP BY status, qa_status
`, tenantID)
		if err != nil {
			return err
		}
		for rows.Next() {
			var status, qa string
			var n int
			if err := rows.Scan(&status, &qa, &n); err != nil {
				rows.Close()
				return err
			}
			sum.TotalLPs += n
			sum.ByStatus[types.LPStatus(status)] += n
			sum.ByQAStatus[types.QAStatus(qa)] += n
		}
		rows.Close()
		if err := rows.Err(); err != nil {
			return err
		}

		rows, err = tx.Query(ctx, `
SELECT uom, sum(quantity)::text
FROM warehouse.license_plates
WHERE tenant_id = $1::uuid AND status = 'available' AND NOT consumed
GROUP BY uom
`, tenantID)
		if err != nil {
			return err
		}
		for rows.Next() {
			var uom, total string
			if err := rows.Scan(&uom, &total); err != nil {
				rows.Close()
				return err
			}
			q, err := decimal.NewFromString(total)
			if err != nil {
				rows.Close()
				return err
			}
			sum.AvailableQuantityByUoM[uom] = q
		}
		rows.Close()
		if err := rows.Err(); err != nil {
			return err
		}

		return tx.QueryRow(ctx, `
SELECT count(*)
FROM warehouse.license_plates
WHERE tenant_id = $1::uuid AND status = 'available' AND NOT consumed
  AND expiry_date IS NOT NULL AND expiry_date <= $2::date
`, tenantID, expiringBefore).Scan(&sum.ExpiringSoon)
	})
	if err != nil {
		return types.InventorySummary{}, err
	}
	return sum, nil
}

func (s *PGStore) GetProduct(ctx context.Context, tenantID string, id string) (types.Product, error) {
	if _, err := uuid.Parse(id); err != nil {
		return types.Product{}, ports.ErrNotFound
	}
	var p types.Product
	err := s.inTx(ctx, tenantID, func(tx pgx.Tx) error {
		err := tx.QueryRow(ctx, `
SELECT id::text, code, name, default_uom, created_at
FROM warehouse.products
WHERE tenant_id = $1::uuid AND id = $2::uuid
`, tenantID, id).Scan(&p.ID, &p.Code, &p.Name, &p.DefaultUoM, &p.CreatedAt)
		if errors.Is(err, pgx.ErrNoRows) {
			return ports.ErrNotFound
		}
		return err
	})
	return p, err
}

func (s *PGStore) ListProducts(ctx context.Context, tenantID string) ([]types.Product, error) {
	out := make([]types.Product, 0)
	err := s.inTx(ctx, tenantID, func(tx pgx.Tx) error {
		rows, err := tx.Query(ctx, `
SELECT id::text, code, name, default_uom, created_at
FROM warehouse.products
WHERE tenant_id = $1::uuid
ORDER BY code
`, tenantID)
		if err != nil {
			return err
		}
		defer rows.Close()
		for rows.Next() {
			var p types.Product
			if err := rows.Scan(&p.ID, &p.Code, &p.Name, &p.DefaultUoM, &p.CreatedAt); err != nil {
				return err
			}
			out = append(out, p)
		}
		return rows.Err()
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

func (s *PGStore) CreateProduct(ctx context.Context, tenantID string, p types.Product) (types.Product, error) {
	err := s.inTx(ctx, tenantID, func(tx pgx.Tx) error {
		_, err := tx.Exec(ctx, `
INSERT INTO warehouse.products (tenant_id, id, code, name, default_uom, created_at)
VALUES ($1::uuid, $2::uuid, $3, $4, $5, $6)
`, tenantID, p.ID, p.Code, p.Name, p.DefaultUoM, p.CreatedAt)
		if isUniqueViolation(err) {
			return ports.ErrDuplicate
		}
		return err
	})
	if err != nil {
		return types.Product{}, err
	}
	return p, nil
}

func (s *PGStore) GetLocation(ctx context.Context, tenantID string, id string) (types.Location, error) {
	if _, err := uuid.Parse(id); err != nil {
		return types.Location{}, ports.ErrNotFound
	}
	var l types.Location
	err := s.inTx(ctx, tenantID, func(tx pgx.Tx) error {
		err := tx.QueryRow(ctx, `
SELECT id::text, warehouse_id, code, name, created_at
FROM warehouse.locations
WHERE tenant_id = $1::uuid AND id = $2::uuid
`, tenantID, id).Scan(&l.ID, &l.WarehouseID, &l.Code, &l.Name, &l.CreatedAt)
		if errors.Is(err, pgx.ErrNoRows) {
			return ports.ErrNotFound
		}
		return err
	})
	return l, err
}

func (s *PGStore) ListLocations(ctx context.Context, tenantID string, warehouseID string) ([]types.Location, error) {
	out := make([]types.Location, 0)
	err := s.inTx(ctx, tenantID, func(tx pgx.Tx) error {
		rows, err := tx.Query(ctx, `
SELECT id::text, warehouse_id, code, name, created_at
FROM warehouse.locations
WHERE tenant_id = $1::uuid AND ($2 = '' OR warehouse_id = $2)
ORDER BY code
`, tenantID, warehouseID)
		if err != nil {
			return err
		}
		defer rows.Close()
		for rows.Next() {
			var l types.Location
			if err := rows.Scan(&l.ID, &l.WarehouseID, &l.Code, &l.Name, &l.CreatedAt); err != nil {
				return err
			}
			out = append(out, l)
		}
		return rows.Err()
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

func (s *PGStore) CreateLocation(ctx context.Context, tenantID string, l types.Location) (types.Location, error) {
	err := s.inTx(ctx, tenantID, func(tx pgx.Tx) error {
		_, err := tx.Exec(ctx, `
INSERT INTO warehouse.locations (tenant_id, id, warehouse_id, code, name, created_at)
VALUES ($1::uuid, $2::uuid, $3, $4, $5, $6)
`, tenantID, l.ID, l.WarehouseID, l.Code, l.Name, l.CreatedAt)
		if isUniqueViolation(err) {
			return ports.ErrDuplicate
		}
		return err
	})
	if err != nil {
		return types.Location{}, err
	}
	return l, nil
}
