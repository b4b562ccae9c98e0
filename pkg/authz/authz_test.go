package authz

import (
	"context"
	"os"
	"path/filepath"
	"testing"
)

const flatModel = `
[request_definition]
r = sub, dom, obj, act

[policy_definition]
p = sub, dom, obj, act

[policy_effect]
e = some(where (p.eft == allow))

[matchers]
m = r.sub == p.sub && r.dom == p.dom && r.obj == p.obj && r.act == p.act
`

func TestParseMode(t *testing.T) {
	cases := []struct {
		raw     string
		allow   bool
		want    Mode
		wantErr bool
	}{
		{raw: "", want: ModeEnforce},
		{raw: " Shadow ", want: ModeShadow},
		{raw: "enforce", want: ModeEnforce},
		{raw: "disabled", wantErr: true},
		{raw: "disabled", allow: true, want: ModeDisabled},
		{raw: "nope", wantErr: true},
	}
	for _, tc := range cases {
		got, err := ParseMode(tc.raw, tc.allow)
		if tc.wantErr {
			if err == nil {
				t.Fatalf("raw=%q expected error", tc.raw)
			}
			continue
		}
		if err != nil || got != tc.want {
			t.Fatalf("raw=%q got=%q err=%v", tc.raw, got, err)
		}
	}
}

func TestNewAuthorizer_AndAuthorize(t *testing.T) {
	dir := t.TempDir()
	model := filepath.Join(dir, "model.conf")
	policy := filepath.Join(dir, "policy.csv")

	if err := os.WriteFile(model, []byte(flatModel), 0o644); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(policy, []byte("p, role:viewer, t1, warehouse.license-plates, read\n"), 0o644); err != nil {
		t.Fatal(err)
	}

	a, err := NewAuthorizer(model, policy, ModeEnforce)
	if err != nil {
		t.Fatalf("err=%v", err)
	}

	allowed, enforced, err := a.Authorize("role:viewer", "t1", ObjectWarehouseLicensePlates, ActionRead)
	if err != nil {
		t.Fatalf("err=%v", err)
	}
	if !enforced || !allowed {
		t.Fatalf("allowed=%v enforced=%v", allowed, enforced)
	}

	allowed, enforced, err = a.Authorize("role:viewer", "t1", ObjectWarehouseLicensePlates, ActionWrite)
	if err != nil {
		t.Fatalf("err=%v", err)
	}
	if !enforced || allowed {
		t.Fatalf("allowed=%v enforced=%v", allowed, enforced)
	}

	aShadow, err := NewAuthorizer(model, policy, ModeShadow)
	if err != nil {
		t.Fatalf("err=%v", err)
	}
	allowed, enforced, err = aShadow.Authorize("role:viewer", "t1", ObjectWarehouseLicensePlates, ActionWrite)
	if err != nil {
		t.Fatalf("err=%v", err)
	}
	if enforced || allowed {
		t.Fatalf("allowed=%v enforced=%v", allowed, enforced)
	}

	aDisabled, err := NewAuthorizer(model, policy, ModeDisabled)
	if err != nil {
		t.Fatalf("err=%v", err)
	}
	allowed, enforced, err = aDisabled.Authorize("role:viewer", "t1", ObjectWarehouseLicensePlates, ActionWrite)
	if err != nil {
		t.Fatalf("err=%v", err)
	}
	if enforced || !allowed {
		t.Fatalf("allowed=%v enforced=%v", allowed, enforced)
	}
}

func TestRepoPolicy_OperationRoles(t *testing.T) {
	a, err := NewAuthorizer("../../config/access/model.conf", "../../config/access/policy.csv", ModeEnforce)
	if err != nil {
		t.Fatalf("err=%v", err)
	}
	ctx := context.Background()
	cases := []struct {
		role   string
		action string
		want   bool
	}{
		{role: RoleProductionOperator, action: ActionStart, want: true},
		{role: RoleProductionManager, action: ActionStart, want: true},
		{role: RoleAdmin, action: ActionComplete, want: true},
		{role: RoleViewer, action: ActionStart, want: false},
		{role: RoleWarehouseOperator, action: ActionStart, want: false},
		{role: "", action: ActionStart, want: false},
	}
	for _, tc := range cases {
		got, err := a.Permits(ctx, "00000000-0000-0000-0000-000000000001", tc.role, ObjectProductionOperations, tc.action)
		if err != nil {
			t.Fatalf("err=%v", err)
		}
		if got != tc.want {
			t.Fatalf("role=%q action=%q got=%v", tc.role, tc.action, got)
		}
	}

	ok, _ := a.Permits(ctx, "t1", RoleViewer, ObjectWarehouseLicensePlates, ActionRead)
	if !ok {
		t.Fatal("viewer should read license plates")
	}
	ok, _ = a.Permits(ctx, "t1", RoleAdmin, ObjectWarehouseSettings, ActionAdmin)
	if !ok {
		t.Fatal("admin should inherit warehouse settings admin")
	}
}

func TestPermits_ShadowNeverDenies(t *testing.T) {
	a, err := NewAuthorizer("../../config/access/model.conf", "../../config/access/policy.csv", ModeShadow)
	if err != nil {
		t.Fatalf("err=%v", err)
	}
	ok, err := a.Permits(context.Background(), "t1", RoleViewer, ObjectProductionOperations, ActionStart)
	if err != nil || !ok {
		t.Fatalf("ok=%v err=%v", ok, err)
	}
	if a.Mode() != ModeShadow {
		t.Fatalf("mode=%q", a.Mode())
	}
}

func TestNewAuthorizer_Error(t *testing.T) {
	dir := t.TempDir()
	invalidModel := filepath.Join(dir, "invalid.conf")
	if err := os.WriteFile(invalidModel, []byte("nope"), 0o644); err != nil {
		t.Fatal(err)
	}
	if _, err := NewAuthorizer(invalidModel, "nope-policy.csv", ModeEnforce); err == nil {
		t.Fatal("expected error")
	}

	model := filepath.Join(dir, "model.conf")
	if err := os.WriteFile(model, []byte(flatModel), 0o644); err != nil {
		t.Fatal(err)
	}
	if _, err := NewAuthorizer(model, filepath.Join(dir, "missing-policy.csv"), ModeEnforce); err == nil {
		t.Fatal("expected error")
	}
}

func TestSubjectFromRoleSlug(t *testing.T) {
	if got := SubjectFromRoleSlug(""); got != "role:anonymous" {
		t.Fatalf("got=%q", got)
	}
	if got := SubjectFromRoleSlug("Production_Operator"); got != "role:production_operator" {
		t.Fatalf("got=%q", got)
	}
}

func TestDomainFromTenantID(t *testing.T) {
	if got := DomainFromTenantID(" ABC "); got != "abc" {
		t.Fatalf("got=%q", got)
	}
}

func TestAuthorize_UnknownMode(t *testing.T) {
	a := &Authorizer{mode: Mode("nope")}
	if _, _, err := a.Authorize("role:x", "d", "o", "a"); err == nil {
		t.Fatal("expected error")
	}
	if _, err := a.Permits(context.Background(), "d", "x", "o", "a"); err == nil {
		t.Fatal("expected error")
	}
}
