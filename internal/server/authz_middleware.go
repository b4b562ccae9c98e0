package server

import (
	"net/http"

	"github.com/monopilot/monopilot/internal/config"
	"github.com/monopilot/monopilot/internal/routing"
	"github.com/monopilot/monopilot/pkg/authz"
)

func loadAuthorizer(cfg config.Config) (*authz.Authorizer, error) {
	modelPath := cfg.AuthzModelPath
	if modelPath == "" {
		p, err := findConfigFile("config/access/model.conf")
		if err != nil {
			return nil, err
		}
		modelPath = p
	}
	policyPath := cfg.AuthzPolicyPath
	if policyPath == "" {
		p, err := findConfigFile("config/access/policy.csv")
		if err != nil {
			return nil, err
		}
		policyPath = p
	}
	mode, err := authz.ParseMode(cfg.AuthzMode, cfg.AuthzAllowOff)
	if err != nil {
		return nil, err
	}
	return authz.NewAuthorizer(modelPath, policyPath, mode)
}

type authorizer interface {
	Authorize(subject string, domain string, object string, action string) (allowed bool, enforced bool, err error)
}

// withAuthz guards one route with a casbin object/action pair.
func withAuthz(a authorizer, object string, action string, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		rc := routing.RouteClassInternalAPI
		tenant, ok := currentTenant(r.Context())
		if !ok {
			routing.WriteError(w, r, rc, http.StatusInternalServerError, "tenant_missing", "tenant missing")
			return
		}

		roleSlug := authz.RoleAnonymous
		if p, ok := currentPrincipal(r.Context()); ok {
			roleSlug = p.RoleSlug
		}

		allowed, enforced, err := a.Authorize(authz.SubjectFromRoleSlug(roleSlug), authz.DomainFromTenantID(tenant.ID), object, action)
		if err != nil {
			routing.WriteError(w, r, rc, http.StatusInternalServerError, "authz_error", "authz error")
			return
		}
		if enforced && !allowed {
			routing.WriteError(w, r, rc, http.StatusForbidden, "forbidden", "forbidden")
			return
		}
		next.ServeHTTP(w, r)
	})
}
