package server

import (
	"context"
	"net/http"
	"strings"

	"github.com/monopilot/monopilot/pkg/authz"
)

const (
	headerPrincipalID   = "X-Principal-ID"
	headerPrincipalRole = "X-Principal-Role"
)

// Principal is the caller asserted by the trusted gateway in front of the
// service.
type Principal struct {
	ID       string
	TenantID string
	RoleSlug string
}

type principalContextKey struct{}

func withPrincipal(ctx context.Context, p Principal) context.Context {
	return context.WithValue(ctx, principalContextKey{}, p)
}

func currentPrincipal(ctx context.Context) (Principal, bool) {
	p, ok := ctx.Value(principalContextKey{}).(Principal)
	return p, ok
}

func currentPrincipalID(ctx context.Context) (string, bool) {
	p, ok := currentPrincipal(ctx)
	if !ok {
		return "", false
	}
	return p.ID, true
}

// withPrincipalHeaders reads the gateway headers. Requests without a
// principal id proceed as the anonymous role.
func withPrincipalHeaders(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := strings.TrimSpace(r.Header.Get(headerPrincipalID))
		if id == "" {
			next.ServeHTTP(w, r)
			return
		}
		role := strings.ToLower(strings.TrimSpace(r.Header.Get(headerPrincipalRole)))
		if role == "" {
			role = authz.RoleViewer
		}
		p := Principal{ID: id, RoleSlug: role}
		if t, ok := currentTenant(r.Context()); ok {
			p.TenantID = t.ID
		}
		next.ServeHTTP(w, r.WithContext(withPrincipal(r.Context(), p)))
	})
}
