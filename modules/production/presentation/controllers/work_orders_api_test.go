package controllers

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"slices"
	"strings"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/monopilot/monopilot/internal/routing"
	"github.com/monopilot/monopilot/modules/production/domain/types"
	"github.com/monopilot/monopilot/modules/production/infrastructure/persistence"
	"github.com/monopilot/monopilot/modules/production/services"
	"go.uber.org/zap"
)

const apiTenant = "00000000-0000-0000-0000-000000000001"

type outcomeLog []string

func (o *outcomeLog) RecordOutcome(operation string, outcome string) {
	*o = append(*o, operation+":"+outcome)
}

type permitFunc func(role, object, action string) bool

func (f permitFunc) Permits(_ context.Context, _ string, role string, object string, action string) (bool, error) {
	return f(role, object, action), nil
}

type apiHarness struct {
	c        Controller
	now      *time.Time
	outcomes *outcomeLog
}

func newAPIHarness(t *testing.T, permits permitFunc) apiHarness {
	t.Helper()
	store := persistence.NewMemoryStore()
	now := time.Date(2026, 3, 1, 8, 0, 0, 0, time.UTC)
	seq := 0
	opts := []services.Option{
		services.WithClock(func() time.Time { return now }),
		services.WithIDGenerator(func() (string, error) {
			seq++
			return fmt.Sprintf("id-%03d", seq), nil
		}),
	}
	var permitter services.Permitter
	if permits != nil {
		permitter = permits
	}
	outcomes := &outcomeLog{}
	return apiHarness{
		now:      &now,
		outcomes: outcomes,
		c: Controller{
			TenantID: func(context.Context) (string, bool) { return apiTenant, true },
			Principal: func(context.Context) (types.Actor, bool) {
				return types.Actor{ID: "user-1", Role: "production_operator"}, true
			},
			Logger:     zap.NewNop(),
			Outcomes:   outcomes,
			WorkOrders: services.NewWorkOrders(store, opts...),
			Sequencer:  services.NewSequencer(store, permitter, opts...),
			Settings:   services.NewSettings(store, opts...),
		},
	}
}

func do(h http.HandlerFunc, method string, target string, body string, pathValues map[string]string) *httptest.ResponseRecorder {
	var req *http.Request
	if body == "" {
		req = httptest.NewRequest(method, target, nil)
	} else {
		req = httptest.NewRequest(method, target, strings.NewReader(body))
	}
	for k, v := range pathValues {
		req.SetPathValue(k, v)
	}
	rec := httptest.NewRecorder()
	h(rec, req)
	return rec
}

func decodeEnvelope(t *testing.T, rec *httptest.ResponseRecorder) routing.ErrorEnvelope {
	t.Helper()
	var env routing.ErrorEnvelope
	if err := json.Unmarshal(rec.Body.Bytes(), &env); err != nil {
		t.Fatalf("decode envelope: %v body=%s", err, rec.Body.String())
	}
	return env
}

func decodeBody[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	if err := json.Unmarshal(rec.Body.Bytes(), &v); err != nil {
		t.Fatalf("decode: %v body=%s", err, rec.Body.String())
	}
	return v
}

const createBody = `{"wo_number":"WO-001","product_id":"prod-bread","planned_quantity":"100","uom":"kg",
"operations":[{"sequence":20,"name":"Baking"},{"sequence":10,"name":"Mixing","expected_duration_minutes":60,"expected_yield_percent":"95"}]}`

// createRunning leaves WO id-001 in progress with Baking id-002 (20) and Mixing id-003 (10).
func (h apiHarness) createRunning(t *testing.T) {
	t.Helper()
	rec := do(h.c.HandleWorkOrdersAPI, http.MethodPost, "/production/api/work-orders", createBody, nil)
	if rec.Code != http.StatusCreated {
		t.Fatalf("create status=%d body=%s", rec.Code, rec.Body.String())
	}
	for _, action := range []string{"release", " Start "} {
		rec = do(h.c.HandleWorkOrderStatusAPI, http.MethodPost, "/production/api/work-orders/id-001/status",
			`{"action":"`+action+`"}`, map[string]string{"wo_id": "id-001"})
		if rec.Code != http.StatusOK {
			t.Fatalf("%s status=%d body=%s", action, rec.Code, rec.Body.String())
		}
	}
}

func opPath(op string) map[string]string {
	return map[string]string{"wo_id": "id-001", "op_id": op}
}

func TestWorkOrdersAPI_Create(t *testing.T) {
	h := newAPIHarness(t, nil)
	rec := do(h.c.HandleWorkOrdersAPI, http.MethodPost, "/production/api/work-orders", createBody, nil)
	if rec.Code != http.StatusCreated {
		t.Fatalf("status=%d body=%s", rec.Code, rec.Body.String())
	}
	wo := decodeBody[types.WorkOrder](t, rec)
	if wo.Status != types.WOStatusDraft || wo.CreatedBy != "user-1" || len(wo.Operations) != 2 {
		t.Fatalf("wo=%+v", wo)
	}
	if wo.Operations[0].Name != "Mixing" || wo.Operations[0].Status != types.OpStatusPending {
		t.Fatalf("ops=%+v", wo.Operations)
	}

	rec = do(h.c.HandleWorkOrdersAPI, http.MethodPost, "/production/api/work-orders", createBody, nil)
	if env := decodeEnvelope(t, rec); rec.Code != http.StatusConflict || env.Code != "CONFLICT" {
		t.Fatalf("dup status=%d env=%+v", rec.Code, env)
	}

	rec = do(h.c.HandleWorkOrdersAPI, http.MethodPost, "/production/api/work-orders", `{"wo_number":"","planned_quantity":"0"}`, nil)
	env := decodeEnvelope(t, rec)
	if rec.Code != http.StatusBadRequest || env.Code != "VALIDATION_ERROR" || len(env.Details) < 2 {
		t.Fatalf("invalid status=%d env=%+v", rec.Code, env)
	}

	rec = do(h.c.HandleWorkOrdersAPI, http.MethodPost, "/production/api/work-orders", `{`, nil)
	if env := decodeEnvelope(t, rec); rec.Code != http.StatusBadRequest || env.Code != "bad_json" {
		t.Fatalf("bad json status=%d env=%+v", rec.Code, env)
	}
	rec = do(h.c.HandleWorkOrdersAPI, http.MethodGet, "/production/api/work-orders", "", nil)
	if rec.Code != http.StatusMethodNotAllowed {
		t.Fatalf("get status=%d", rec.Code)
	}

	if diff := cmp.Diff([]string{"wo_create:ok", "wo_create:conflict", "wo_create:validation_error"}, []string(*h.outcomes)); diff != "" {
		t.Fatalf("outcomes (-want +got):\n%s", diff)
	}
}

func TestWorkOrdersAPI_GetAndStatus(t *testing.T) {
	h := newAPIHarness(t, nil)
	h.createRunning(t)

	rec := do(h.c.HandleWorkOrderAPI, http.MethodGet, "/production/api/work-orders/id-001", "", map[string]string{"wo_id": "id-001"})
	wo := decodeBody[types.WorkOrder](t, rec)
	if rec.Code != http.StatusOK || wo.Status != types.WOStatusInProgress || wo.Version != 3 {
		t.Fatalf("status=%d wo=%+v", rec.Code, wo)
	}

	rec = do(h.c.HandleWorkOrderAPI, http.MethodGet, "/production/api/work-orders/nope", "", map[string]string{"wo_id": "nope"})
	if env := decodeEnvelope(t, rec); rec.Code != http.StatusNotFound || env.Code != "NOT_FOUND" {
		t.Fatalf("missing status=%d env=%+v", rec.Code, env)
	}

	rec = do(h.c.HandleWorkOrderStatusAPI, http.MethodPost, "/production/api/work-orders/id-001/status", `{"action":"release"}`, map[string]string{"wo_id": "id-001"})
	if env := decodeEnvelope(t, rec); rec.Code != http.StatusBadRequest || env.Code != "INVALID_TRANSITION" {
		t.Fatalf("release again status=%d env=%+v", rec.Code, env)
	}
	rec = do(h.c.HandleWorkOrderStatusAPI, http.MethodPost, "/production/api/work-orders/id-001/status", `{"action":"explode"}`, map[string]string{"wo_id": "id-001"})
	if env := decodeEnvelope(t, rec); rec.Code != http.StatusBadRequest || env.Code != "VALIDATION_ERROR" {
		t.Fatalf("unknown action status=%d env=%+v", rec.Code, env)
	}
}

func TestOperationsAPI_Lifecycle(t *testing.T) {
	h := newAPIHarness(t, nil)
	h.createRunning(t)

	rec := do(h.c.HandleSettingsAPI, http.MethodPost, "/production/api/settings", `{"require_operation_sequence":true}`, nil)
	if s := decodeBody[types.ProductionSettings](t, rec); rec.Code != http.StatusOK || !s.RequireOperationSequence || s.UpdatedBy != "user-1" {
		t.Fatalf("settings status=%d body=%s", rec.Code, rec.Body.String())
	}

	rec = do(h.c.HandleStartOperationAPI, http.MethodPost, "/start", "", opPath("id-002"))
	env := decodeEnvelope(t, rec)
	if rec.Code != http.StatusConflict || env.Code != "SEQUENCE_VIOLATION" || env.Message != "Operation 10 (Mixing) must be completed first" {
		t.Fatalf("out of order status=%d env=%+v", rec.Code, env)
	}

	rec = do(h.c.HandleStartOperationAPI, http.MethodPost, "/start", "", opPath("id-003"))
	started := decodeBody[types.StartResult](t, rec)
	if rec.Code != http.StatusOK || started.Operation.Status != types.OpStatusInProgress || started.Operation.StartedBy != "user-1" {
		t.Fatalf("start status=%d body=%s", rec.Code, rec.Body.String())
	}

	*h.now = h.now.Add(62 * time.Minute)
	rec = do(h.c.HandleCompleteOperationAPI, http.MethodPost, "/complete", `{"notes":"dough ok"}`, opPath("id-003"))
	if env := decodeEnvelope(t, rec); rec.Code != http.StatusBadRequest || env.Code != "MISSING_YIELD" {
		t.Fatalf("missing yield status=%d env=%+v", rec.Code, env)
	}
	rec = do(h.c.HandleCompleteOperationAPI, http.MethodPost, "/complete", `{"actual_yield_percent":"93","notes":"dough ok"}`, opPath("id-003"))
	done := decodeBody[types.CompleteResult](t, rec)
	if rec.Code != http.StatusOK || done.ActualDurationMinutes != 62 || done.DurationVariance == nil || *done.DurationVariance != 2 {
		t.Fatalf("complete status=%d body=%s", rec.Code, rec.Body.String())
	}
	if done.YieldVariance == nil || done.YieldVariance.String() != "-2" {
		t.Fatalf("yield variance=%v", done.YieldVariance)
	}
	if done.NextOperation == nil || done.NextOperation.ID != "id-002" {
		t.Fatalf("next=%+v", done.NextOperation)
	}

	rec = do(h.c.HandleWorkOrderCompleteAPI, http.MethodPost, "/complete", "", map[string]string{"wo_id": "id-001"})
	env = decodeEnvelope(t, rec)
	if rec.Code != http.StatusBadRequest || env.Code != "WO_OPERATIONS_INCOMPLETE" {
		t.Fatalf("incomplete status=%d env=%+v", rec.Code, env)
	}
	if diff := cmp.Diff([]string{"Operation 20 (Baking) is pending"}, env.Details); diff != "" {
		t.Fatalf("details (-want +got):\n%s", diff)
	}

	rec = do(h.c.HandleSkipOperationAPI, http.MethodPost, "/skip", `{"reason":"oven down"}`, opPath("id-002"))
	skipped := decodeBody[types.Operation](t, rec)
	if rec.Code != http.StatusOK || skipped.Status != types.OpStatusSkipped || skipped.Notes != "oven down" {
		t.Fatalf("skip status=%d body=%s", rec.Code, rec.Body.String())
	}

	rec = do(h.c.HandleWorkOrderCompleteAPI, http.MethodGet, "/complete", "", map[string]string{"wo_id": "id-001"})
	ready := decodeBody[types.CompletionReadiness](t, rec)
	if !ready.Ready || ready.Completed != 1 || ready.Skipped != 1 || len(ready.Blocking) != 0 {
		t.Fatalf("readiness=%+v", ready)
	}
	rec = do(h.c.HandleWorkOrderCompleteAPI, http.MethodPost, "/complete", "", map[string]string{"wo_id": "id-001"})
	if wo := decodeBody[types.WorkOrder](t, rec); rec.Code != http.StatusOK || wo.Status != types.WOStatusCompleted {
		t.Fatalf("complete wo status=%d body=%s", rec.Code, rec.Body.String())
	}

	rec = do(h.c.HandleOperationLogsAPI, http.MethodGet, "/logs", "", opPath("id-003"))
	logs := decodeBody[struct {
		Logs []types.OperationLog `json:"logs"`
	}](t, rec)
	if len(logs.Logs) != 2 || logs.Logs[0].EventType != types.OpEventCompleted {
		t.Fatalf("logs=%+v", logs.Logs)
	}

	rec = do(h.c.HandleOperationsAPI, http.MethodGet, "/operations", "", map[string]string{"wo_id": "id-001"})
	list := decodeBody[struct {
		WorkOrderID string            `json:"wo_id"`
		Operations  []types.Operation `json:"operations"`
	}](t, rec)
	if list.WorkOrderID != "id-001" || len(list.Operations) != 2 || list.Operations[0].Sequence != 10 {
		t.Fatalf("operations=%+v", list)
	}

	for _, want := range []string{"start:sequence_violation", "start:ok", "complete:missing_yield", "complete:ok", "skip:ok", "wo_complete:wo_operations_incomplete", "wo_complete:ok"} {
		if !slices.Contains(*h.outcomes, want) {
			t.Fatalf("outcome %q missing from %v", want, *h.outcomes)
		}
	}
}

func TestOperationsAPI_Forbidden(t *testing.T) {
	h := newAPIHarness(t, func(role, object, action string) bool { return action != "start" })
	h.createRunning(t)

	rec := do(h.c.HandleStartOperationAPI, http.MethodPost, "/start", "", opPath("id-003"))
	if env := decodeEnvelope(t, rec); rec.Code != http.StatusForbidden || env.Code != "FORBIDDEN" {
		t.Fatalf("status=%d env=%+v", rec.Code, env)
	}
}

func TestSettingsAPI(t *testing.T) {
	h := newAPIHarness(t, nil)
	rec := do(h.c.HandleSettingsAPI, http.MethodGet, "/production/api/settings", "", nil)
	if s := decodeBody[types.ProductionSettings](t, rec); rec.Code != http.StatusOK || s.RequireOperationSequence {
		t.Fatalf("default status=%d body=%s", rec.Code, rec.Body.String())
	}
	rec = do(h.c.HandleSettingsAPI, http.MethodPost, "/production/api/settings", `{}`, nil)
	if env := decodeEnvelope(t, rec); rec.Code != http.StatusBadRequest || env.Code != "BAD_REQUEST" {
		t.Fatalf("missing flag status=%d env=%+v", rec.Code, env)
	}
	rec = do(h.c.HandleSettingsAPI, http.MethodDelete, "/production/api/settings", "", nil)
	if rec.Code != http.StatusMethodNotAllowed {
		t.Fatalf("delete status=%d", rec.Code)
	}
}

func TestControllerTenantMissing(t *testing.T) {
	h := newAPIHarness(t, nil)
	h.c.TenantID = func(context.Context) (string, bool) { return "", false }
	rec := do(h.c.HandleOperationsAPI, http.MethodGet, "/operations", "", map[string]string{"wo_id": "id-001"})
	if env := decodeEnvelope(t, rec); rec.Code != http.StatusInternalServerError || env.Code != "tenant_missing" {
		t.Fatalf("status=%d env=%+v", rec.Code, env)
	}
}
