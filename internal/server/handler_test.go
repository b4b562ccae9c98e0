package server

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/monopilot/monopilot/internal/config"
	"github.com/monopilot/monopilot/internal/metrics"
	"github.com/monopilot/monopilot/internal/routing"
	productiontypes "github.com/monopilot/monopilot/modules/production/domain/types"
	warehousetypes "github.com/monopilot/monopilot/modules/warehouse/domain/types"
	"go.uber.org/zap"
)

const (
	acmeHost   = "acme.localhost"
	acmeTenant = "00000000-0000-0000-0000-000000000001"
	betaHost   = "beta.localhost"
	betaTenant = "00000000-0000-0000-0000-000000000002"
)

type testServer struct {
	h       http.Handler
	stores  *Stores
	metrics *metrics.Metrics
}

func newTestServer(t *testing.T) testServer {
	t.Helper()
	stores := NewMemoryStores()
	m := metrics.New()
	h, err := NewHandlerWithOptions(HandlerOptions{
		Config: config.Config{
			TenantDomains:     map[string]string{acmeHost: acmeTenant, betaHost: betaTenant},
			AuthzMode:         "enforce",
			DashboardCacheTTL: time.Minute,
			LineageDepthCap:   32,
		},
		Logger:  zap.NewNop(),
		Metrics: m,
		Stores:  stores,
	})
	if err != nil {
		t.Fatal(err)
	}
	return testServer{h: h, stores: stores, metrics: m}
}

func (s testServer) do(t *testing.T, host string, role string, method string, path string, body string) *httptest.ResponseRecorder {
	t.Helper()
	var r io.Reader
	if body != "" {
		r = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, path, r)
	req.Host = host
	if role != "" {
		req.Header.Set(headerPrincipalID, "user-"+role)
		req.Header.Set(headerPrincipalRole, role)
	}
	rec := httptest.NewRecorder()
	s.h.ServeHTTP(rec, req)
	return rec
}

func errorCode(t *testing.T, rec *httptest.ResponseRecorder) string {
	t.Helper()
	var env routing.ErrorEnvelope
	if err := json.Unmarshal(rec.Body.Bytes(), &env); err != nil {
		t.Fatalf("decode envelope: %v body=%s", err, rec.Body.String())
	}
	return env.Code
}

func TestHandler_OpsRoutesSkipTenancy(t *testing.T) {
	s := newTestServer(t)
	for _, path := range []string{"/health", "/healthz"} {
		rec := s.do(t, "unknown.example", "", http.MethodGet, path, "")
		if rec.Code != http.StatusOK || rec.Body.String() != "ok\n" {
			t.Fatalf("%s status=%d body=%q", path, rec.Code, rec.Body.String())
		}
	}
	rec := s.do(t, "unknown.example", "", http.MethodPost, "/health", "")
	if rec.Code != http.StatusMethodNotAllowed {
		t.Fatalf("post health status=%d", rec.Code)
	}
}

func TestHandler_TenancyAndAuthz(t *testing.T) {
	s := newTestServer(t)

	rec := s.do(t, "unknown.example", "viewer", http.MethodGet, "/production/api/settings", "")
	if rec.Code != http.StatusNotFound || errorCode(t, rec) != "tenant_not_found" {
		t.Fatalf("unknown host status=%d body=%s", rec.Code, rec.Body.String())
	}

	rec = s.do(t, acmeHost+":8080", "", http.MethodGet, "/production/api/settings", "")
	if rec.Code != http.StatusForbidden || errorCode(t, rec) != "forbidden" {
		t.Fatalf("anonymous status=%d body=%s", rec.Code, rec.Body.String())
	}

	rec = s.do(t, acmeHost, "viewer", http.MethodGet, "/production/api/settings", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("viewer read status=%d body=%s", rec.Code, rec.Body.String())
	}
	rec = s.do(t, acmeHost, "viewer", http.MethodPost, "/production/api/settings", `{"require_operation_sequence":true}`)
	if rec.Code != http.StatusForbidden {
		t.Fatalf("viewer write status=%d", rec.Code)
	}
	rec = s.do(t, acmeHost, "production_manager", http.MethodPost, "/production/api/settings", `{"require_operation_sequence":true}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("manager write status=%d body=%s", rec.Code, rec.Body.String())
	}

	rec = s.do(t, acmeHost, "viewer", http.MethodGet, "/production/api/unknown", "")
	if rec.Code != http.StatusNotFound || errorCode(t, rec) != "not_found" {
		t.Fatalf("unknown route status=%d body=%s", rec.Code, rec.Body.String())
	}
}

func TestHandler_TrustProxyHost(t *testing.T) {
	stores := NewMemoryStores()
	h, err := NewHandlerWithOptions(HandlerOptions{
		Config: config.Config{TenantDomains: map[string]string{acmeHost: acmeTenant}, TrustProxy: true},
		Stores: stores,
	})
	if err != nil {
		t.Fatal(err)
	}
	req := httptest.NewRequest(http.MethodGet, "/production/api/settings", nil)
	req.Host = "internal:8080"
	req.Header.Set("X-Forwarded-Host", "ACME.localhost, proxy.local")
	req.Header.Set(headerPrincipalID, "u1")
	req.Header.Set(headerPrincipalRole, "viewer")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("status=%d body=%s", rec.Code, rec.Body.String())
	}
}

func TestHandler_ProductionFlowIsTenantScoped(t *testing.T) {
	s := newTestServer(t)

	body := `{"wo_number":"WO-001","product_id":"prod-bread","planned_quantity":"10","uom":"kg",
"operations":[{"sequence":10,"name":"Mixing"},{"sequence":20,"name":"Baking"}]}`
	rec := s.do(t, acmeHost, "production_manager", http.MethodPost, "/production/api/work-orders", body)
	if rec.Code != http.StatusCreated {
		t.Fatalf("create status=%d body=%s", rec.Code, rec.Body.String())
	}
	var wo productiontypes.WorkOrder
	if err := json.Unmarshal(rec.Body.Bytes(), &wo); err != nil {
		t.Fatal(err)
	}
	base := "/production/api/work-orders/" + wo.ID
	for _, action := range []string{"release", "start"} {
		rec = s.do(t, acmeHost, "production_manager", http.MethodPost, base+"/status", `{"action":"`+action+`"}`)
		if rec.Code != http.StatusOK {
			t.Fatalf("%s status=%d body=%s", action, rec.Code, rec.Body.String())
		}
	}

	rec = s.do(t, acmeHost, "production_operator", http.MethodPost, base+"/operations/"+wo.Operations[1].ID+"/skip", `{"reason":"x"}`)
	if rec.Code != http.StatusForbidden {
		t.Fatalf("operator skip status=%d", rec.Code)
	}
	rec = s.do(t, acmeHost, "production_operator", http.MethodPost, base+"/operations/"+wo.Operations[0].ID+"/start", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("start status=%d body=%s", rec.Code, rec.Body.String())
	}
	var started productiontypes.StartResult
	if err := json.Unmarshal(rec.Body.Bytes(), &started); err != nil {
		t.Fatal(err)
	}
	if started.Operation.StartedBy != "user-production_operator" {
		t.Fatalf("started=%+v", started.Operation)
	}

	rec = s.do(t, betaHost, "viewer", http.MethodGet, base, "")
	if rec.Code != http.StatusNotFound {
		t.Fatalf("cross tenant status=%d", rec.Code)
	}

	rec = s.do(t, "", "", http.MethodGet, "/metrics", "")
	if rec.Code != http.StatusOK || !strings.Contains(rec.Body.String(), `monopilot_ledger_operations_total{operation="start",outcome="ok"} 1`) {
		t.Fatalf("metrics status=%d", rec.Code)
	}
}

func TestHandler_WarehouseReceiveAndSummary(t *testing.T) {
	s := newTestServer(t)
	ctx := context.Background()
	if _, err := s.stores.Warehouse.CreateProduct(ctx, acmeTenant, warehousetypes.Product{ID: "prod-1", Code: "FLOUR", Name: "Flour", DefaultUoM: "kg"}); err != nil {
		t.Fatal(err)
	}
	if _, err := s.stores.Warehouse.CreateLocation(ctx, acmeTenant, warehousetypes.Location{ID: "loc-a", WarehouseID: "wh-1", Code: "A-01"}); err != nil {
		t.Fatal(err)
	}

	receive := `{"product_id":"prod-1","location_id":"loc-a","quantity":"12.5","batch_number":"B-1","qa_status":"passed"}`
	rec := s.do(t, acmeHost, "viewer", http.MethodPost, "/warehouse/api/license-plates", receive)
	if rec.Code != http.StatusForbidden {
		t.Fatalf("viewer receive status=%d", rec.Code)
	}
	rec = s.do(t, acmeHost, "warehouse_operator", http.MethodPost, "/warehouse/api/license-plates", receive)
	if rec.Code != http.StatusCreated {
		t.Fatalf("receive status=%d body=%s", rec.Code, rec.Body.String())
	}
	var lp warehousetypes.LicensePlate
	if err := json.Unmarshal(rec.Body.Bytes(), &lp); err != nil {
		t.Fatal(err)
	}
	if lp.CreatedBy != "user-warehouse_operator" {
		t.Fatalf("lp=%+v", lp)
	}

	rec = s.do(t, acmeHost, "viewer", http.MethodGet, "/warehouse/api/license-plates/"+lp.ID, "")
	if rec.Code != http.StatusOK {
		t.Fatalf("get status=%d body=%s", rec.Code, rec.Body.String())
	}
	rec = s.do(t, acmeHost, "warehouse_operator", http.MethodPost, "/warehouse/api/license-plates/"+lp.ID+"/qa-status", `{"qa_status":"failed","expected_version":1}`)
	if rec.Code != http.StatusForbidden {
		t.Fatalf("operator qa status=%d", rec.Code)
	}

	for range 2 {
		rec = s.do(t, acmeHost, "viewer", http.MethodGet, "/warehouse/api/dashboard/inventory-summary", "")
		if rec.Code != http.StatusOK {
			t.Fatalf("summary status=%d body=%s", rec.Code, rec.Body.String())
		}
	}
	rec = s.do(t, "", "", http.MethodGet, "/metrics", "")
	if !strings.Contains(rec.Body.String(), `monopilot_cache_lookups_total{cache="inventory_summary",result="hit"} 1`) {
		t.Fatal("expected one cache hit in metrics")
	}
}

func TestNewHandlerRequiresTenancy(t *testing.T) {
	_, err := NewHandlerWithOptions(HandlerOptions{Stores: NewMemoryStores()})
	if err == nil || !strings.Contains(err.Error(), "tenancy") {
		t.Fatalf("err=%v", err)
	}
	if _, err := NewHandlerWithOptions(HandlerOptions{}); err == nil {
		t.Fatal("expected missing stores error")
	}
}
