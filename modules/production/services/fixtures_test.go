package services

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/monopilot/monopilot/modules/production/domain/types"
	"github.com/monopilot/monopilot/modules/production/infrastructure/persistence"
	"github.com/monopilot/monopilot/pkg/httperr"
	"github.com/shopspring/decimal"
)

const (
	testTenant  = "00000000-0000-0000-0000-000000000001"
	otherTenant = "00000000-0000-0000-0000-000000000002"
)

var operator = types.Actor{ID: "user-1", Role: "production_operator"}

type fixture struct {
	t        *testing.T
	store    *persistence.MemoryStore
	now      time.Time
	opts     []Option
	perms    *stubPermitter
	orders   WorkOrders
	seq      Sequencer
	settings Settings
}

type stubPermitter struct {
	deny  map[string]bool
	calls []string
}

func (p *stubPermitter) Permits(_ context.Context, _ string, role string, object string, action string) (bool, error) {
	key := role + ":" + object + ":" + action
	p.calls = append(p.calls, key)
	return !p.deny[key], nil
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	f := &fixture{
		t:     t,
		store: persistence.NewMemoryStore(),
		now:   time.Date(2026, 3, 1, 8, 0, 0, 0, time.UTC),
		perms: &stubPermitter{deny: map[string]bool{}},
	}
	var mu sync.Mutex
	n := 0
	f.opts = []Option{
		WithClock(func() time.Time { return f.now }),
		WithIDGenerator(func() (string, error) {
			mu.Lock()
			defer mu.Unlock()
			n++
			return fmt.Sprintf("id-%03d", n), nil
		}),
	}
	f.orders = NewWorkOrders(f.store, f.opts...)
	f.seq = NewSequencer(f.store, f.perms, f.opts...)
	f.settings = NewSettings(f.store, f.opts...)
	return f
}

func intPtr(n int) *int { return &n }

func decPtr(s string) *decimal.Decimal {
	d := decimal.RequireFromString(s)
	return &d
}

// runningOrder creates WO-001 with Mixing(10), Baking(20), Cooling(30) and
// moves it to in_progress.
func (f *fixture) runningOrder(requireSequence bool) types.WorkOrder {
	f.t.Helper()
	ctx := context.Background()
	if _, err := f.settings.Put(ctx, testTenant, "admin", requireSequence); err != nil {
		f.t.Fatal(err)
	}
	wo, err := f.orders.Create(ctx, testTenant, "planner", types.CreateWorkOrderRequest{
		WONumber:        "WO-001",
		ProductID:       "prod-bread",
		PlannedQuantity: decimal.RequireFromString("100"),
		UoM:             "kg",
		Operations: []types.OperationSpec{
			{Sequence: 20, Name: "Baking", ExpectedDurationMinutes: intPtr(30)},
			{Sequence: 10, Name: "Mixing", ExpectedDurationMinutes: intPtr(60), ExpectedYieldPercent: decPtr("95")},
			{Sequence: 30, Name: "Cooling"},
		},
	})
	if err != nil {
		f.t.Fatal(err)
	}
	for _, a := range []types.WorkOrderAction{types.WOActionRelease, types.WOActionStart} {
		if _, err := f.orders.ChangeStatus(ctx, testTenant, "planner", wo.ID, a); err != nil {
			f.t.Fatalf("%s: %v", a, err)
		}
	}
	wo, err = f.orders.Get(ctx, testTenant, wo.ID)
	if err != nil {
		f.t.Fatal(err)
	}
	return wo
}

func opBySeq(t *testing.T, wo types.WorkOrder, seq int) types.Operation {
	t.Helper()
	for _, op := range wo.Operations {
		if op.Sequence == seq {
			return op
		}
	}
	t.Fatalf("no operation %d", seq)
	return types.Operation{}
}

func wantCode(t *testing.T, err error, status int, code string) *httperr.Error {
	t.Helper()
	e, ok := httperr.As(err)
	if !ok {
		t.Fatalf("err=%v, want %s", err, code)
	}
	if e.Status != status || e.Code != code {
		t.Fatalf("got %d %s (%s), want %d %s", e.Status, e.Code, e.Message, status, code)
	}
	return e
}
