package services

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/monopilot/monopilot/modules/warehouse/domain/types"
	"github.com/monopilot/monopilot/modules/warehouse/infrastructure/persistence"
	"github.com/shopspring/decimal"
)

const testTenant = "00000000-0000-0000-0000-000000000001"

var testNow = time.Date(2026, 3, 1, 8, 0, 0, 0, time.UTC)

type fixture struct {
	store *persistence.MemoryStore
	opts  []Option
	lps   LicensePlates
	split SplitOperator
	merge MergeOperator
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	var mu sync.Mutex
	n := 0
	opts := []Option{
		WithClock(func() time.Time { return testNow }),
		WithIDGenerator(func() (string, error) {
			mu.Lock()
			defer mu.Unlock()
			n++
			return fmt.Sprintf("id-%03d", n), nil
		}),
	}
	store := persistence.NewMemoryStore()
	ctx := context.Background()
	if _, err := store.CreateProduct(ctx, testTenant, types.Product{ID: "prod-1", Code: "FLOUR", Name: "Flour T55", DefaultUoM: "kg"}); err != nil {
		t.Fatal(err)
	}
	if _, err := store.CreateProduct(ctx, testTenant, types.Product{ID: "prod-2", Code: "SUGAR", Name: "Sugar", DefaultUoM: "kg"}); err != nil {
		t.Fatal(err)
	}
	for _, l := range []types.Location{
		{ID: "loc-a", WarehouseID: "wh-1", Code: "A-01"},
		{ID: "loc-b", WarehouseID: "wh-1", Code: "B-01"},
		{ID: "loc-x", WarehouseID: "wh-2", Code: "X-01"},
	} {
		if _, err := store.CreateLocation(ctx, testTenant, l); err != nil {
			t.Fatal(err)
		}
	}
	rules := MustNewQAWarningRules()
	checker := NewChecker(rules)
	return &fixture{
		store: store,
		opts:  opts,
		lps:   NewLicensePlates(store, rules, opts...),
		split: NewSplitOperator(store, checker, opts...),
		merge: NewMergeOperator(store, checker, opts...),
	}
}

func (f *fixture) receive(t *testing.T, qty string, mods ...func(*types.ReceiveRequest)) types.LicensePlate {
	t.Helper()
	req := types.ReceiveRequest{
		ProductID:   "prod-1",
		Quantity:    decimal.RequireFromString(qty),
		LocationID:  "loc-a",
		BatchNumber: "B-100",
		ExpiryDate:  "2026-12-31",
		QAStatus:    types.QAStatusPassed,
	}
	for _, m := range mods {
		m(&req)
	}
	lp, err := f.lps.Receive(context.Background(), testTenant, "tester", req)
	if err != nil {
		t.Fatalf("receive: %v", err)
	}
	return lp
}

func dec(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

func decs(in ...string) []decimal.Decimal {
	out := make([]decimal.Decimal, 0, len(in))
	for _, s := range in {
		out = append(out, dec(s))
	}
	return out
}
