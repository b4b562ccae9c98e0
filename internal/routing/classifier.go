package routing

import (
	"errors"
	"slices"
	"strings"
)

type RouteClass string

const (
	RouteClassUI          RouteClass = "ui"
	RouteClassInternalAPI RouteClass = "internal_api"
	RouteClassPublicAPI   RouteClass = "public_api"
	RouteClassWebhook     RouteClass = "webhook"
	RouteClassOps         RouteClass = "ops"
	RouteClassDevOnly     RouteClass = "dev_only"
	RouteClassTestOnly    RouteClass = "test_only"
)

type Classifier struct {
	entrypoint        string
	allowExact        map[string]allowedRoute
	allowPathPatterns []pathPatternRoute
}

type allowedRoute struct {
	rc      RouteClass
	methods []string
}

func NewClassifier(a Allowlist, entrypoint string) (*Classifier, error) {
	ep, ok := a.Entrypoints[entrypoint]
	if !ok {
		return nil, errors.New("allowlist: missing entrypoint")
	}
	if len(ep.Routes) == 0 {
		return nil, errors.New("allowlist: entrypoint routes empty")
	}

	exact := make(map[string]allowedRoute, len(ep.Routes))
	var patterns []pathPatternRoute
	for _, r := range ep.Routes {
		if r.Path == "" || r.RouteClass == "" {
			return nil, errors.New("allowlist: invalid route")
		}
		allowed := allowedRoute{rc: RouteClass(r.RouteClass), methods: normalizeMethods(r.Methods)}
		if p, ok := parsePathPattern(r.Path); ok {
			patterns = append(patterns, pathPatternRoute{pattern: p, allowed: allowed})
			continue
		}
		if strings.Contains(r.Path, "{") {
			return nil, errors.New("allowlist: invalid path pattern: " + r.Path)
		}
		exact[r.Path] = allowed
	}
	return &Classifier{entrypoint: entrypoint, allowExact: exact, allowPathPatterns: patterns}, nil
}

func (c *Classifier) Classify(path string) RouteClass {
	if r, ok := c.allowExact[path]; ok {
		return r.rc
	}
	for _, p := range c.allowPathPatterns {
		if p.pattern.Match(path) {
			return p.allowed.rc
		}
	}

	switch {
	case hasPrefixSegment(path, "/api/v1"):
		return RouteClassPublicAPI
	case isModuleInternalAPI(path):
		return RouteClassInternalAPI
	case hasPrefixSegment(path, "/webhooks"):
		return RouteClassWebhook
	case hasPrefixSegment(path, "/_dev"):
		return RouteClassDevOnly
	case hasPrefixSegment(path, "/__test__"):
		return RouteClassTestOnly
	default:
		return RouteClassUI
	}
}

// Allows reports whether the allowlist declares method on the route template
// (exact path or {param} pattern, compared literally).
func (c *Classifier) Allows(method string, template string) bool {
	method = strings.ToUpper(strings.TrimSpace(method))
	if r, ok := c.allowExact[template]; ok {
		return slices.Contains(r.methods, method)
	}
	for _, p := range c.allowPathPatterns {
		if p.pattern.raw == template {
			return slices.Contains(p.allowed.methods, method)
		}
	}
	return false
}

func normalizeMethods(in []string) []string {
	out := make([]string, 0, len(in))
	for _, m := range in {
		m = strings.ToUpper(strings.TrimSpace(m))
		if m != "" {
			out = append(out, m)
		}
	}
	return out
}

func hasPrefixSegment(path, prefix string) bool {
	if path == prefix {
		return true
	}
	return strings.HasPrefix(path, prefix+"/")
}

func isModuleInternalAPI(path string) bool {
	// /{module}/api/*, module is a single segment
	if !strings.HasPrefix(path, "/") {
		return false
	}
	rest := strings.TrimPrefix(path, "/")
	module, after, ok := strings.Cut(rest, "/")
	if !ok || module == "" {
		return false
	}
	return hasPrefixSegment("/"+after, "/api")
}

type pathPatternRoute struct {
	pattern PathPattern
	allowed allowedRoute
}
