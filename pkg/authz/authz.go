package authz

import (
	"context"
	"errors"
	"strings"

	"github.com/casbin/casbin/v2"
	fileadapter "github.com/casbin/casbin/v2/persist/file-adapter"
)

type Mode string

const (
	ModeEnforce  Mode = "enforce"
	ModeShadow   Mode = "shadow"
	ModeDisabled Mode = "disabled"
)

// ParseMode validates an AUTHZ_MODE value. Disabling authz needs an explicit
// second switch so a typo in one variable cannot open every route.
func ParseMode(raw string, allowDisabled bool) (Mode, error) {
	raw = strings.TrimSpace(strings.ToLower(raw))
	if raw == "" {
		return ModeEnforce, nil
	}
	switch Mode(raw) {
	case ModeEnforce, ModeShadow:
		return Mode(raw), nil
	case ModeDisabled:
		if !allowDisabled {
			return "", errors.New("authz: AUTHZ_MODE=disabled requires AUTHZ_UNSAFE_ALLOW_DISABLED=1")
		}
		return ModeDisabled, nil
	default:
		return "", errors.New("authz: invalid AUTHZ_MODE (expected enforce|shadow|disabled)")
	}
}

type Authorizer struct {
	enforcer *casbin.Enforcer
	mode     Mode
}

func NewAuthorizer(modelPath string, policyPath string, mode Mode) (*Authorizer, error) {
	adapter := fileadapter.NewAdapter(policyPath)
	enforcer, err := casbin.NewEnforcer(modelPath)
	if err != nil {
		return nil, err
	}
	enforcer.SetAdapter(adapter)
	if err := enforcer.LoadPolicy(); err != nil {
		return nil, err
	}
	return &Authorizer{enforcer: enforcer, mode: mode}, nil
}

func (a *Authorizer) Mode() Mode { return a.mode }

func SubjectFromRoleSlug(roleSlug string) string {
	roleSlug = strings.TrimSpace(strings.ToLower(roleSlug))
	if roleSlug == "" {
		roleSlug = RoleAnonymous
	}
	return "role:" + roleSlug
}

func DomainFromTenantID(tenantID string) string {
	return strings.ToLower(strings.TrimSpace(tenantID))
}

func (a *Authorizer) Authorize(subject string, domain string, object string, action string) (allowed bool, enforced bool, err error) {
	switch a.mode {
	case ModeDisabled:
		return true, false, nil
	case ModeShadow:
		ok, err := a.enforcer.Enforce(subject, domain, object, action)
		if err != nil {
			return false, false, err
		}
		return ok, false, nil
	case ModeEnforce:
		ok, err := a.enforcer.Enforce(subject, domain, object, action)
		if err != nil {
			return false, true, err
		}
		return ok, true, nil
	default:
		return false, false, errors.New("authz: unknown mode")
	}
}

// Permits answers "may this role perform action on object in tenant" for
// service-level checks. Shadow and disabled modes never deny.
func (a *Authorizer) Permits(_ context.Context, tenantID string, roleSlug string, object string, action string) (bool, error) {
	allowed, enforced, err := a.Authorize(SubjectFromRoleSlug(roleSlug), DomainFromTenantID(tenantID), object, action)
	if err != nil {
		return false, err
	}
	return allowed || !enforced, nil
}
