package server

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/monopilot/monopilot/internal/routing"
)

type Tenant struct {
	ID     string
	Domain string
	Name   string
}

type TenancyResolver interface {
	ResolveTenant(ctx context.Context, hostname string) (Tenant, bool, error)
}

type staticTenancyResolver struct {
	tenants map[string]Tenant
}

// newStaticTenancyResolver serves TENANT_DOMAINS (hostname -> tenant id).
func newStaticTenancyResolver(domains map[string]string) TenancyResolver {
	m := make(map[string]Tenant, len(domains))
	for host, id := range domains {
		host = strings.ToLower(strings.TrimSpace(host))
		m[host] = Tenant{ID: strings.TrimSpace(id), Domain: host, Name: host}
	}
	return &staticTenancyResolver{tenants: m}
}

func (r *staticTenancyResolver) ResolveTenant(_ context.Context, hostname string) (Tenant, bool, error) {
	hostname = strings.ToLower(strings.TrimSpace(hostname))
	if hostname == "" {
		return Tenant{}, false, nil
	}
	t, ok := r.tenants[hostname]
	return t, ok, nil
}

type queryRower interface {
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

type tenancyDBResolver struct {
	q queryRower
}

func newTenancyDBResolver(q queryRower) TenancyResolver {
	return &tenancyDBResolver{q: q}
}

func (r *tenancyDBResolver) ResolveTenant(ctx context.Context, hostname string) (Tenant, bool, error) {
	hostname = strings.ToLower(strings.TrimSpace(hostname))
	if hostname == "" {
		return Tenant{}, false, nil
	}

	var t Tenant
	err := r.q.QueryRow(ctx, `
SELECT t.id::text, t.name
FROM public.tenant_domains d
JOIN public.tenants t ON t.id = d.tenant_id
WHERE d.hostname = $1
  AND t.is_active = true
LIMIT 1
`, hostname).Scan(&t.ID, &t.Name)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Tenant{}, false, nil
		}
		return Tenant{}, false, err
	}
	t.Domain = hostname
	return t, true, nil
}

type tenantCtxKey struct{}

func withTenant(ctx context.Context, tenant Tenant) context.Context {
	return context.WithValue(ctx, tenantCtxKey{}, tenant)
}

func currentTenant(ctx context.Context) (Tenant, bool) {
	t, ok := ctx.Value(tenantCtxKey{}).(Tenant)
	return t, ok
}

func currentTenantID(ctx context.Context) (string, bool) {
	t, ok := currentTenant(ctx)
	if !ok || t.ID == "" {
		return "", false
	}
	return t.ID, true
}

// withTenancy resolves the tenant from the request host for every route
// except ops endpoints.
func withTenancy(classifier *routing.Classifier, tenants TenancyResolver, trustProxy bool, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		rc := classifier.Classify(r.URL.Path)
		if rc == routing.RouteClassOps {
			next.ServeHTTP(w, r)
			return
		}

		t, ok, err := tenants.ResolveTenant(r.Context(), effectiveHost(r, trustProxy))
		if err != nil {
			routing.WriteError(w, r, rc, http.StatusInternalServerError, "tenant_resolve_error", "tenant resolve error")
			return
		}
		if !ok {
			routing.WriteError(w, r, rc, http.StatusNotFound, "tenant_not_found", "tenant not found")
			return
		}
		if meta := requestMetaFrom(r.Context()); meta != nil {
			meta.tenantID = t.ID
		}
		next.ServeHTTP(w, r.WithContext(withTenant(r.Context(), t)))
	})
}
