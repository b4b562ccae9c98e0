package persistence

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/monopilot/monopilot/internal/sqlitedb"
	"github.com/monopilot/monopilot/modules/production/domain/ports"
	"github.com/monopilot/monopilot/modules/production/domain/types"
	"github.com/shopspring/decimal"
)

const (
	tenantA = "00000000-0000-0000-0000-00000000000a"
	tenantB = "00000000-0000-0000-0000-00000000000b"
)

func newSQLiteStore(t *testing.T) ports.Store {
	t.Helper()
	db, err := sqlitedb.Open(context.Background(), filepath.Join(t.TempDir(), "production.db"))
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { _ = db.Close() })
	return NewSQLiteStore(db)
}

func forEachStore(t *testing.T, fn func(t *testing.T, s ports.Store)) {
	for name, open := range map[string]func(*testing.T) ports.Store{
		"memory": func(*testing.T) ports.Store { return NewMemoryStore() },
		"sqlite": newSQLiteStore,
	} {
		t.Run(name, func(t *testing.T) { fn(t, open(t)) })
	}
}

func seedWorkOrder(t *testing.T, s ports.Store, tenantID string) types.WorkOrder {
	t.Helper()
	sixty := 60
	yield := decimal.RequireFromString("95.5")
	wo := types.WorkOrder{
		ID: "wo-1", WONumber: "WO-001", ProductID: "prod-bread",
		PlannedQuantity: decimal.RequireFromString("250.5"), UoM: "kg",
		Status: types.WOStatusInProgress, CreatedAt: pgNow, CreatedBy: "planner", UpdatedAt: pgNow, UpdatedBy: "planner",
	}
	created, err := s.CreateWorkOrder(context.Background(), tenantID, wo, []types.Operation{
		{ID: "op-20", Sequence: 20, Name: "Baking", Status: types.OpStatusPending},
		{ID: "op-10", Sequence: 10, Name: "Mixing", Status: types.OpStatusPending, ExpectedDurationMinutes: &sixty, ExpectedYieldPercent: &yield},
	})
	if err != nil {
		t.Fatal(err)
	}
	return created
}

func TestStoreWorkOrders(t *testing.T) {
	forEachStore(t, func(t *testing.T, s ports.Store) {
		ctx := context.Background()
		created := seedWorkOrder(t, s, tenantA)
		if created.Version != 1 || len(created.Operations) != 2 || created.Operations[0].ID != "op-10" {
			t.Fatalf("created=%+v", created)
		}

		got, err := s.GetWorkOrder(ctx, tenantA, "wo-1")
		if err != nil {
			t.Fatal(err)
		}
		if !got.PlannedQuantity.Equal(decimal.RequireFromString("250.5")) || !got.CreatedAt.Equal(pgNow) || got.Operations != nil {
			t.Fatalf("got=%+v", got)
		}
		if _, err := s.GetWorkOrder(ctx, tenantB, "wo-1"); !errors.Is(err, ports.ErrNotFound) {
			t.Fatalf("cross tenant err=%v", err)
		}

		dup := created
		dup.ID = "wo-2"
		if _, err := s.CreateWorkOrder(ctx, tenantA, dup, nil); !errors.Is(err, ports.ErrDuplicate) {
			t.Fatalf("duplicate number err=%v", err)
		}
		if _, err := s.CreateWorkOrder(ctx, tenantA, types.WorkOrder{
			ID: "wo-3", WONumber: "WO-003", ProductID: "p", PlannedQuantity: decimal.NewFromInt(1), UoM: "ea", Status: types.WOStatusDraft,
		}, []types.Operation{
			{ID: "op-a", Sequence: 1, Name: "A", Status: types.OpStatusPending},
			{ID: "op-b", Sequence: 1, Name: "B", Status: types.OpStatusPending},
		}); !errors.Is(err, ports.ErrDuplicate) {
			t.Fatalf("duplicate sequence err=%v", err)
		}
		if _, err := s.GetWorkOrder(ctx, tenantA, "wo-3"); !errors.Is(err, ports.ErrNotFound) {
			t.Fatalf("partial create left a row: %v", err)
		}

		next := got
		next.Status = types.WOStatusPaused
		next.UpdatedAt = pgNow.Add(time.Minute)
		next.UpdatedBy = "lead"
		paused, err := s.UpdateWorkOrderStatus(ctx, tenantA, next, types.WOStatusInProgress, 1)
		if err != nil {
			t.Fatal(err)
		}
		if paused.Status != types.WOStatusPaused || paused.Version != 2 || paused.UpdatedBy != "lead" {
			t.Fatalf("paused=%+v", paused)
		}
		if _, err := s.UpdateWorkOrderStatus(ctx, tenantA, next, types.WOStatusInProgress, 1); !errors.Is(err, ports.ErrConflict) {
			t.Fatalf("stale err=%v", err)
		}
		if _, err := s.UpdateWorkOrderStatus(ctx, tenantB, next, types.WOStatusPaused, 2); !errors.Is(err, ports.ErrNotFound) {
			t.Fatalf("cross tenant err=%v", err)
		}
	})
}

func TestStoreOperationTransitions(t *testing.T) {
	forEachStore(t, func(t *testing.T, s ports.Store) {
		ctx := context.Background()
		seedWorkOrder(t, s, tenantA)

		op, err := s.GetOperation(ctx, tenantA, "wo-1", "op-10")
		if err != nil {
			t.Fatal(err)
		}
		if *op.ExpectedDurationMinutes != 60 || op.ExpectedYieldPercent.String() != "95.5" || op.StartedAt != nil {
			t.Fatalf("op=%+v", op)
		}
		if _, err := s.GetOperation(ctx, tenantA, "wo-other", "op-10"); !errors.Is(err, ports.ErrNotFound) {
			t.Fatalf("wrong work order err=%v", err)
		}

		startedAt := pgNow
		start := op
		start.Status = types.OpStatusInProgress
		start.StartedAt = &startedAt
		start.StartedBy = "user-1"
		started, err := s.TransitionOperation(ctx, tenantA, types.OperationTransition{
			Next: start, ExpectedStatus: types.OpStatusPending, ExpectedVersion: 1,
			Log: types.OperationLog{
				ID: "log-1", OperationID: "op-10", WorkOrderID: "wo-1", EventType: types.OpEventStarted,
				FromStatus: types.OpStatusPending, ToStatus: types.OpStatusInProgress, ActorID: "user-1",
				CreatedAt: pgNow, Metadata: map[string]any{"started_at": "2026-03-01T08:00:00Z"},
			},
		})
		if err != nil {
			t.Fatal(err)
		}
		if started.Version != 2 || started.Status != types.OpStatusInProgress || !started.StartedAt.Equal(pgNow) {
			t.Fatalf("started=%+v", started)
		}

		// Same expected state again loses.
		if _, err := s.TransitionOperation(ctx, tenantA, types.OperationTransition{
			Next: start, ExpectedStatus: types.OpStatusPending, ExpectedVersion: 1,
			Log: types.OperationLog{ID: "log-x", OperationID: "op-10", WorkOrderID: "wo-1", CreatedAt: pgNow},
		}); !errors.Is(err, ports.ErrConflict) {
			t.Fatalf("stale err=%v", err)
		}
		wrongWO := start
		wrongWO.WorkOrderID = "wo-other"
		if _, err := s.TransitionOperation(ctx, tenantA, types.OperationTransition{
			Next: wrongWO, ExpectedStatus: types.OpStatusInProgress, ExpectedVersion: 2,
			Log: types.OperationLog{ID: "log-y", OperationID: "op-10", WorkOrderID: "wo-other", CreatedAt: pgNow},
		}); !errors.Is(err, ports.ErrNotFound) {
			t.Fatalf("wrong work order err=%v", err)
		}

		completedAt := pgNow.Add(61 * time.Minute)
		minutes := 61
		yield := decimal.RequireFromString("93.25")
		done := started
		done.Status = types.OpStatusCompleted
		done.CompletedAt = &completedAt
		done.CompletedBy = "user-2"
		done.ActualDurationMinutes = &minutes
		done.ActualYieldPercent = &yield
		done.Notes = "ok"
		completed, err := s.TransitionOperation(ctx, tenantA, types.OperationTransition{
			Next: done, ExpectedStatus: types.OpStatusInProgress, ExpectedVersion: 2,
			Log: types.OperationLog{
				ID: "log-2", OperationID: "op-10", WorkOrderID: "wo-1", EventType: types.OpEventCompleted,
				FromStatus: types.OpStatusInProgress, ToStatus: types.OpStatusCompleted, ActorID: "user-2",
				CreatedAt: completedAt, Metadata: map[string]any{"actual_yield_percent": "93.25"},
			},
		})
		if err != nil {
			t.Fatal(err)
		}
		if *completed.ActualDurationMinutes != 61 || completed.ActualYieldPercent.String() != "93.25" || completed.Notes != "ok" {
			t.Fatalf("completed=%+v", completed)
		}
		if completed.Name != "Mixing" || *completed.ExpectedDurationMinutes != 60 || !completed.StartedAt.Equal(pgNow) {
			t.Fatalf("completed lost columns: %+v", completed)
		}

		logs, err := s.ListOperationLogs(ctx, tenantA, "wo-1", "op-10")
		if err != nil {
			t.Fatal(err)
		}
		var events []types.OperationEvent
		for _, l := range logs {
			events = append(events, l.EventType)
		}
		if diff := cmp.Diff([]types.OperationEvent{types.OpEventCompleted, types.OpEventStarted}, events); diff != "" {
			t.Fatalf("events (-want +got):\n%s", diff)
		}
		if logs[0].Metadata["actual_yield_percent"] != "93.25" || !logs[1].CreatedAt.Equal(pgNow) {
			t.Fatalf("logs=%+v", logs)
		}
		if other, err := s.ListOperationLogs(ctx, tenantB, "wo-1", "op-10"); err != nil || len(other) != 0 {
			t.Fatalf("cross tenant logs=%v err=%v", other, err)
		}

		ops, err := s.ListOperations(ctx, tenantA, "wo-1")
		if err != nil {
			t.Fatal(err)
		}
		if len(ops) != 2 || ops[0].Status != types.OpStatusCompleted || ops[1].Status != types.OpStatusPending {
			t.Fatalf("ops=%+v", ops)
		}
		if none, err := s.ListOperations(ctx, tenantA, "wo-missing"); err != nil || len(none) != 0 {
			t.Fatalf("none=%v err=%v", none, err)
		}
	})
}

func TestStoreSettings(t *testing.T) {
	forEachStore(t, func(t *testing.T, s ports.Store) {
		ctx := context.Background()
		if _, found, err := s.GetSettings(ctx, tenantA); err != nil || found {
			t.Fatalf("found=%v err=%v", found, err)
		}
		for _, require := range []bool{true, false} {
			if _, err := s.PutSettings(ctx, tenantA, types.ProductionSettings{RequireOperationSequence: require, UpdatedAt: pgNow, UpdatedBy: "admin"}); err != nil {
				t.Fatal(err)
			}
			got, found, err := s.GetSettings(ctx, tenantA)
			if err != nil || !found || got.RequireOperationSequence != require || !got.UpdatedAt.Equal(pgNow) {
				t.Fatalf("got=%+v found=%v err=%v", got, found, err)
			}
		}
		if _, found, _ := s.GetSettings(ctx, tenantB); found {
			t.Fatal("settings leaked across tenants")
		}
	})
}
