package services

import (
	"context"
	"testing"

	"github.com/monopilot/monopilot/modules/warehouse/domain/types"
)

func TestInventorySummaryIsCached(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.receive(t, "10", func(r *types.ReceiveRequest) { r.ExpiryDate = "2026-03-15" })
	f.receive(t, "2.5", func(r *types.ReceiveRequest) { r.QAStatus = types.QAStatusPending })

	d := NewDashboard(f.store, nil, f.opts...)
	sum, err := d.InventorySummary(ctx, testTenant)
	if err != nil {
		t.Fatal(err)
	}
	if sum.TotalLPs != 2 || sum.ByStatus[types.LPStatusAvailable] != 2 || sum.ByQAStatus[types.QAStatusPending] != 1 {
		t.Fatalf("sum=%+v", sum)
	}
	if !sum.AvailableQuantityByUoM["kg"].Equal(dec("12.5")) {
		t.Fatalf("available=%v", sum.AvailableQuantityByUoM)
	}
	if sum.ExpiringSoon != 1 || sum.ExpiringBefore != "2026-03-31" {
		t.Fatalf("expiring=%d before=%s", sum.ExpiringSoon, sum.ExpiringBefore)
	}

	f.receive(t, "1")
	again, err := d.InventorySummary(ctx, testTenant)
	if err != nil {
		t.Fatal(err)
	}
	if again.TotalLPs != 2 {
		t.Fatalf("cache was bypassed: total=%d", again.TotalLPs)
	}

	other, err := d.InventorySummary(ctx, "other-tenant")
	if err != nil {
		t.Fatal(err)
	}
	if other.TotalLPs != 0 {
		t.Fatalf("tenant leak: %+v", other)
	}
}
