package persistence

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/monopilot/monopilot/modules/warehouse/domain/ports"
	"github.com/monopilot/monopilot/modules/warehouse/domain/types"
	"github.com/shopspring/decimal"
)

const (
	pgTenant = "00000000-0000-0000-0000-000000000001"
	lpID1    = "0190a000-0000-7000-8000-000000000001"
	lpID2    = "0190a000-0000-7000-8000-000000000002"
	lpID3    = "0190a000-0000-7000-8000-000000000003"
)

type beginFunc func(ctx context.Context) (pgx.Tx, error)

func (f beginFunc) Begin(ctx context.Context) (pgx.Tx, error) { return f(ctx) }

func txBeginner(tx *scriptTx) beginFunc {
	return func(context.Context) (pgx.Tx, error) { return tx, nil }
}

type execResult struct {
	tag string
	err error
}

// scriptTx replays canned results in call order. set_config is answered
// separately so scripts only list the statements under test.
type scriptTx struct {
	setConfigErr error
	execs        []execResult
	rows         []pgx.Row
	queries      []pgx.Rows
	commitErr    error

	execSQL   []string
	execArgs  [][]any
	committed bool
}

func (t *scriptTx) Begin(context.Context) (pgx.Tx, error) { return t, nil }
func (t *scriptTx) Commit(context.Context) error {
	if t.commitErr != nil {
		return t.commitErr
	}
	t.committed = true
	return nil
}
func (t *scriptTx) Rollback(context.Context) error { return nil }
func (t *scriptTx) CopyFrom(context.Context, pgx.Identifier, []string, pgx.CopyFromSource) (int64, error) {
	return 0, nil
}
func (t *scriptTx) SendBatch(context.Context, *pgx.Batch) pgx.BatchResults { return nil }
func (t *scriptTx) LargeObjects() pgx.LargeObjects                         { return pgx.LargeObjects{} }
func (t *scriptTx) Prepare(context.Context, string, string) (*pgconn.StatementDescription, error) {
	return nil, nil
}
func (t *scriptTx) Conn() *pgx.Conn { return nil }

func (t *scriptTx) Exec(_ context.Context, sql string, args ...any) (pgconn.CommandTag, error) {
	if strings.Contains(sql, "set_config") {
		return pgconn.NewCommandTag("SELECT 1"), t.setConfigErr
	}
	t.execSQL = append(t.execSQL, sql)
	t.execArgs = append(t.execArgs, args)
	if len(t.execs) == 0 {
		return pgconn.NewCommandTag("INSERT 0 1"), nil
	}
	r := t.execs[0]
	t.execs = t.execs[1:]
	return pgconn.NewCommandTag(r.tag), r.err
}

func (t *scriptTx) Query(context.Context, string, ...any) (pgx.Rows, error) {
	if len(t.queries) == 0 {
		return &fakeRows{}, nil
	}
	r := t.queries[0]
	t.queries = t.queries[1:]
	return r, nil
}

func (t *scriptTx) QueryRow(context.Context, string, ...any) pgx.Row {
	if len(t.rows) == 0 {
		return fakeRow{err: errors.New("row not mocked")}
	}
	r := t.rows[0]
	t.rows = t.rows[1:]
	return r
}

type fakeRow struct {
	vals []any
	err  error
}

func (r fakeRow) Scan(dest ...any) error {
	if r.err != nil {
		return r.err
	}
	for i := range dest {
		if i >= len(r.vals) || r.vals[i] == nil {
			continue
		}
		switch d := dest[i].(type) {
		case *string:
			*d = r.vals[i].(string)
		case *bool:
			*d = r.vals[i].(bool)
		case *int:
			*d = r.vals[i].(int)
		case *int64:
			*d = r.vals[i].(int64)
		case *time.Time:
			*d = r.vals[i].(time.Time)
		case **time.Time:
			v := r.vals[i].(time.Time)
			*d = &v
		}
	}
	return nil
}

type fakeRows struct {
	rows [][]any
	idx  int
	err  error
}

func (r *fakeRows) Close()                                       {}
func (r *fakeRows) Err() error                                   { return r.err }
func (r *fakeRows) CommandTag() pgconn.CommandTag                { return pgconn.CommandTag{} }
func (r *fakeRows) FieldDescriptions() []pgconn.FieldDescription { return nil }
func (r *fakeRows) Next() bool {
	if r.idx >= len(r.rows) {
		return false
	}
	r.idx++
	return true
}
func (r *fakeRows) Scan(dest ...any) error { return fakeRow{vals: r.rows[r.idx-1]}.Scan(dest...) }
func (r *fakeRows) Values() ([]any, error) { return nil, nil }
func (r *fakeRows) RawValues() [][]byte    { return nil }
func (r *fakeRows) Conn() *pgx.Conn        { return nil }

var pgNow = time.Date(2026, 3, 1, 8, 0, 0, 0, time.UTC)

func lpRow(id, number, qty string, status string) []any {
	return []any{
		id, number, "0190a000-0000-7000-8000-0000000000aa", "FLOUR", "Flour T55",
		qty, "kg", "B-100", "2026-12-31", "passed",
		"0190a000-0000-7000-8000-0000000000bb", "wh-1", status, status == "consumed", "",
		"receipt", "", int64(1), pgNow, "tester", pgNow, "tester",
	}
}

func TestPGStoreGetLicensePlate(t *testing.T) {
	ctx := context.Background()

	never := NewPGStore(beginFunc(func(context.Context) (pgx.Tx, error) {
		t.Fatal("begin must not be called for malformed ids")
		return nil, nil
	}))
	if _, err := never.GetLicensePlate(ctx, pgTenant, "LP00000001"); !errors.Is(err, ports.ErrNotFound) {
		t.Fatalf("err=%v", err)
	}

	failing := NewPGStore(beginFunc(func(context.Context) (pgx.Tx, error) { return nil, errors.New("begin") }))
	if _, err := failing.GetLicensePlate(ctx, pgTenant, lpID1); err == nil || err.Error() != "begin" {
		t.Fatalf("err=%v", err)
	}

	tx := &scriptTx{setConfigErr: errors.New("set_config")}
	if _, err := NewPGStore(txBeginner(tx)).GetLicensePlate(ctx, pgTenant, lpID1); err == nil || err.Error() != "set_config" {
		t.Fatalf("err=%v", err)
	}

	tx = &scriptTx{rows: []pgx.Row{fakeRow{err: pgx.ErrNoRows}}}
	if _, err := NewPGStore(txBeginner(tx)).GetLicensePlate(ctx, pgTenant, lpID1); !errors.Is(err, ports.ErrNotFound) {
		t.Fatalf("err=%v", err)
	}

	tx = &scriptTx{rows: []pgx.Row{fakeRow{vals: lpRow(lpID1, "LP00000001", "12.500000", "available")}}}
	lp, err := NewPGStore(txBeginner(tx)).GetLicensePlate(ctx, pgTenant, lpID1)
	if err != nil {
		t.Fatal(err)
	}
	if !lp.Quantity.Equal(decimal.RequireFromString("12.5")) || lp.ProductName != "Flour T55" || lp.Status != types.LPStatusAvailable || !tx.committed {
		t.Fatalf("lp=%+v committed=%v", lp, tx.committed)
	}

	tx = &scriptTx{rows: []pgx.Row{fakeRow{vals: lpRow(lpID1, "LP00000001", "abc", "available")}}}
	if _, err := NewPGStore(txBeginner(tx)).GetLicensePlate(ctx, pgTenant, lpID1); err == nil {
		t.Fatal("expected quantity parse error")
	}
}

func TestPGStoreUpdateLicensePlate(t *testing.T) {
	ctx := context.Background()
	lp := types.LicensePlate{ID: lpID1, Quantity: decimal.RequireFromString("3"), Status: types.LPStatusAvailable, QAStatus: types.QAStatusPassed}

	tx := &scriptTx{
		execs: []execResult{{tag: "UPDATE 0"}},
		rows:  []pgx.Row{fakeRow{vals: []any{true}}},
	}
	if _, err := NewPGStore(txBeginner(tx)).UpdateLicensePlate(ctx, pgTenant, lp, 4); !errors.Is(err, ports.ErrConflict) {
		t.Fatalf("err=%v", err)
	}
	if tx.committed {
		t.Fatal("conflict must not commit")
	}

	tx = &scriptTx{
		execs: []execResult{{tag: "UPDATE 0"}},
		rows:  []pgx.Row{fakeRow{vals: []any{false}}},
	}
	if _, err := NewPGStore(txBeginner(tx)).UpdateLicensePlate(ctx, pgTenant, lp, 4); !errors.Is(err, ports.ErrNotFound) {
		t.Fatalf("err=%v", err)
	}

	tx = &scriptTx{
		execs: []execResult{{tag: "UPDATE 1"}},
		rows:  []pgx.Row{fakeRow{vals: lpRow(lpID1, "LP00000001", "3", "available")}},
	}
	if _, err := NewPGStore(txBeginner(tx)).UpdateLicensePlate(ctx, pgTenant, lp, 4); err != nil {
		t.Fatal(err)
	}
	if got := tx.execArgs[0][9]; got != int64(4) {
		t.Fatalf("expected version arg=%v", got)
	}
}

func TestPGStoreCommitSplit(t *testing.T) {
	ctx := context.Background()
	plan := types.SplitPlan{
		Source: types.LicensePlate{ID: lpID1, Version: 2},
		Children: []types.LicensePlate{
			{ID: lpID2, Quantity: decimal.RequireFromString("4"), Status: types.LPStatusAvailable},
			{ID: lpID3, Quantity: decimal.RequireFromString("6"), Status: types.LPStatusAvailable},
		},
		Edges: []types.GenealogyEdge{
			{ID: "0190a000-0000-7000-8000-0000000000e1", ParentLPID: lpID1, ChildLPID: lpID2, OperationType: types.OperationSplit, Quantity: decimal.RequireFromString("4")},
			{ID: "0190a000-0000-7000-8000-0000000000e2", ParentLPID: lpID1, ChildLPID: lpID3, OperationType: types.OperationSplit, Quantity: decimal.RequireFromString("6")},
		},
		Actor: "op-1",
		At:    pgNow,
	}

	tx := &scriptTx{execs: []execResult{{tag: "UPDATE 0"}}}
	if _, err := NewPGStore(txBeginner(tx)).CommitSplit(ctx, pgTenant, plan); !errors.Is(err, ports.ErrConflict) {
		t.Fatalf("err=%v", err)
	}
	if tx.committed || len(tx.execSQL) != 1 {
		t.Fatalf("committed=%v execs=%d", tx.committed, len(tx.execSQL))
	}

	tx = &scriptTx{
		execs: []execResult{{tag: "UPDATE 1"}},
		rows: []pgx.Row{
			fakeRow{vals: []any{3}},
			fakeRow{vals: lpRow(lpID2, "LP00000002", "4", "available")},
			fakeRow{vals: lpRow(lpID3, "LP00000003", "6", "available")},
		},
	}
	children, err := NewPGStore(txBeginner(tx)).CommitSplit(ctx, pgTenant, plan)
	if err != nil {
		t.Fatal(err)
	}
	if len(children) != 2 || !tx.committed {
		t.Fatalf("children=%d committed=%v", len(children), tx.committed)
	}
	// consume, two LP inserts, two edge inserts
	if len(tx.execSQL) != 5 {
		t.Fatalf("execs=%d", len(tx.execSQL))
	}
	if tx.execArgs[1][2] != "LP00000002" || tx.execArgs[2][2] != "LP00000003" {
		t.Fatalf("numbers=%v,%v", tx.execArgs[1][2], tx.execArgs[2][2])
	}
	if tx.execArgs[0][2] != int64(2) {
		t.Fatalf("cas version=%v", tx.execArgs[0][2])
	}
}

func TestPGStoreInsertEdge(t *testing.T) {
	ctx := context.Background()
	edge := types.GenealogyEdge{ID: "0190a000-0000-7000-8000-0000000000e1", ParentLPID: lpID1, ChildLPID: lpID2, OperationType: types.OperationConsume, Quantity: decimal.RequireFromString("1")}

	tx := &scriptTx{rows: []pgx.Row{fakeRow{vals: []any{1}}}}
	if _, err := NewPGStore(txBeginner(tx)).InsertEdge(ctx, pgTenant, edge); !errors.Is(err, ports.ErrNotFound) {
		t.Fatalf("err=%v", err)
	}

	tx = &scriptTx{
		rows:  []pgx.Row{fakeRow{vals: []any{2}}},
		execs: []execResult{{err: &pgconn.PgError{Code: "23505"}}},
	}
	if _, err := NewPGStore(txBeginner(tx)).InsertEdge(ctx, pgTenant, edge); !errors.Is(err, ports.ErrDuplicate) {
		t.Fatalf("err=%v", err)
	}

	bad := edge
	bad.ChildLPID = "not-a-uuid"
	if _, err := NewPGStore(txBeginner(&scriptTx{})).InsertEdge(ctx, pgTenant, bad); !errors.Is(err, ports.ErrNotFound) {
		t.Fatalf("err=%v", err)
	}
}

func TestPGStoreReverseEdge(t *testing.T) {
	ctx := context.Background()
	edgeID := "0190a000-0000-7000-8000-0000000000e1"

	tx := &scriptTx{execs: []execResult{{tag: "UPDATE 0"}}, rows: []pgx.Row{fakeRow{vals: []any{true}}}}
	if _, err := NewPGStore(txBeginner(tx)).ReverseEdge(ctx, pgTenant, edgeID, "sup", pgNow); !errors.Is(err, ports.ErrConflict) {
		t.Fatalf("err=%v", err)
	}

	tx = &scriptTx{
		execs: []execResult{{tag: "UPDATE 1"}},
		rows: []pgx.Row{fakeRow{vals: []any{
			edgeID, lpID1, lpID2, "consume", "1.000000", "kg", "wo-1", 10, "", true, pgNow, "sup", pgNow, "op-1",
		}}},
	}
	e, err := NewPGStore(txBeginner(tx)).ReverseEdge(ctx, pgTenant, edgeID, "sup", pgNow)
	if err != nil {
		t.Fatal(err)
	}
	if !e.IsReversed || e.ReversedAt == nil || !e.ReversedAt.Equal(pgNow) || e.OperationSequence != 10 || e.OperationType != types.OperationConsume {
		t.Fatalf("edge=%+v", e)
	}
}

func TestPGStoreSettingsAndSummary(t *testing.T) {
	ctx := context.Background()

	tx := &scriptTx{rows: []pgx.Row{fakeRow{err: pgx.ErrNoRows}}}
	_, found, err := NewPGStore(txBeginner(tx)).GetSettings(ctx, pgTenant)
	if err != nil || found {
		t.Fatalf("found=%v err=%v", found, err)
	}

	tx = &scriptTx{
		queries: []pgx.Rows{
			&fakeRows{rows: [][]any{{"available", "passed", 3}, {"consumed", "passed", 2}, {"available", "pending", 1}}},
			&fakeRows{rows: [][]any{{"kg", "14.250000"}}},
		},
		rows: []pgx.Row{fakeRow{vals: []any{1}}},
	}
	sum, err := NewPGStore(txBeginner(tx)).InventorySummary(ctx, pgTenant, "2026-03-31")
	if err != nil {
		t.Fatal(err)
	}
	if sum.TotalLPs != 6 || sum.ByStatus[types.LPStatusAvailable] != 4 || sum.ByQAStatus[types.QAStatusPassed] != 5 || sum.ExpiringSoon != 1 {
		t.Fatalf("sum=%+v", sum)
	}
	if !sum.AvailableQuantityByUoM["kg"].Equal(decimal.RequireFromString("14.25")) {
		t.Fatalf("available=%v", sum.AvailableQuantityByUoM)
	}
}

func TestLPFilterSQL(t *testing.T) {
	where, args := lpFilterSQL(pgTenant, types.LicensePlateFilter{
		Search:   "LP0001",
		Statuses: []types.LPStatus{types.LPStatusAvailable, types.LPStatusReserved},
		ExpiryTo: "2026-06-30",
	})
	for _, want := range []string{
		"lp.tenant_id = $1::uuid",
		"lp.lp_number ILIKE $2 || '%'",
		"lp.status = ANY($3::text[])",
		"lp.expiry_date <= $4::date",
	} {
		if !strings.Contains(where, want) {
			t.Errorf("missing %q in %s", want, where)
		}
	}
	if len(args) != 4 {
		t.Fatalf("args=%v", args)
	}
}
