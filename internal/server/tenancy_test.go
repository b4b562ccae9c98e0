package server

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/jackc/pgx/v5"
)

type fakeRow struct {
	vals []string
	err  error
}

func (r fakeRow) Scan(dest ...any) error {
	if r.err != nil {
		return r.err
	}
	for i := range dest {
		*(dest[i].(*string)) = r.vals[i]
	}
	return nil
}

type fakeQueryRower struct {
	row  fakeRow
	args []any
}

func (q *fakeQueryRower) QueryRow(_ context.Context, _ string, args ...any) pgx.Row {
	q.args = args
	return q.row
}

func TestTenancyDBResolver(t *testing.T) {
	ctx := context.Background()

	q := &fakeQueryRower{row: fakeRow{vals: []string{acmeTenant, "Acme Bakery"}}}
	got, ok, err := newTenancyDBResolver(q).ResolveTenant(ctx, " ACME.localhost ")
	if err != nil || !ok {
		t.Fatalf("ok=%v err=%v", ok, err)
	}
	if got.ID != acmeTenant || got.Name != "Acme Bakery" || got.Domain != acmeHost || q.args[0] != acmeHost {
		t.Fatalf("tenant=%+v args=%v", got, q.args)
	}

	q = &fakeQueryRower{row: fakeRow{err: pgx.ErrNoRows}}
	if _, ok, err := newTenancyDBResolver(q).ResolveTenant(ctx, acmeHost); ok || err != nil {
		t.Fatalf("no rows ok=%v err=%v", ok, err)
	}

	boom := errors.New("boom")
	q = &fakeQueryRower{row: fakeRow{err: boom}}
	if _, _, err := newTenancyDBResolver(q).ResolveTenant(ctx, acmeHost); !errors.Is(err, boom) {
		t.Fatalf("err=%v", err)
	}

	if _, ok, _ := newTenancyDBResolver(q).ResolveTenant(ctx, "  "); ok {
		t.Fatal("empty host resolved")
	}
}

func TestStaticTenancyResolver(t *testing.T) {
	r := newStaticTenancyResolver(map[string]string{" Acme.Localhost ": acmeTenant})
	got, ok, err := r.ResolveTenant(context.Background(), "acme.localhost")
	if err != nil || !ok || got.ID != acmeTenant {
		t.Fatalf("got=%+v ok=%v err=%v", got, ok, err)
	}
	if _, ok, _ := r.ResolveTenant(context.Background(), "beta.localhost"); ok {
		t.Fatal("unexpected tenant")
	}
}

func TestEffectiveHost(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Host = "App.Example:443"
	req.Header.Set("X-Forwarded-Host", "tenant.example, edge")

	if got := effectiveHost(req, false); got != "app.example" {
		t.Fatalf("got=%q", got)
	}
	if got := effectiveHost(req, true); got != "tenant.example" {
		t.Fatalf("got=%q", got)
	}
}
