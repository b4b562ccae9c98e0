package routing

import (
	"net/http"
	"runtime/debug"
)

// PanicReporter receives recovered handler panics; the response is already a 500.
type PanicReporter func(r *http.Request, recovered any, stack []byte)

type Router struct {
	classifier *Classifier
	routes     map[string]map[string]routeEntry
	patterns   []patternRoutes
	onPanic    PanicReporter
}

type routeEntry struct {
	rc      RouteClass
	handler http.Handler
}

type patternRoutes struct {
	pattern PathPattern
	methods map[string]routeEntry
}

func NewRouter(classifier *Classifier) *Router {
	return &Router{
		classifier: classifier,
		routes:     make(map[string]map[string]routeEntry),
	}
}

func (r *Router) OnPanic(fn PanicReporter) { r.onPanic = fn }

// Handle registers h for method+path. Paths containing {name} segments are
// matched after exact paths; captured values are available via Request.PathValue.
func (r *Router) Handle(rc RouteClass, method string, path string, h http.Handler) {
	entry := routeEntry{
		rc: rc,
		handler: http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
			defer func() {
				if rec := recover(); rec != nil {
					stack := debug.Stack()
					if r.onPanic != nil {
						r.onPanic(req, rec, stack)
					}
					WriteError(w, req, rc, http.StatusInternalServerError, "internal_error", "internal error")
				}
			}()
			h.ServeHTTP(w, req)
		}),
	}

	if p, ok := parsePathPattern(path); ok {
		for i := range r.patterns {
			if r.patterns[i].pattern.raw == path {
				r.patterns[i].methods[method] = entry
				return
			}
		}
		r.patterns = append(r.patterns, patternRoutes{pattern: p, methods: map[string]routeEntry{method: entry}})
		return
	}

	if r.routes[path] == nil {
		r.routes[path] = make(map[string]routeEntry)
	}
	r.routes[path][method] = entry
}

func (r *Router) ServeHTTP(w http.ResponseWriter, req *http.Request) {
	methods, ok := r.routes[req.URL.Path]
	if !ok {
		methods, ok = r.matchPattern(req)
	}
	if !ok {
		WriteError(w, req, r.classifier.Classify(req.URL.Path), http.StatusNotFound, "not_found", "not found")
		return
	}
	entry, ok := methods[req.Method]
	if !ok {
		WriteError(w, req, entrypointClass(methods, r.classifier.Classify(req.URL.Path)), http.StatusMethodNotAllowed, "method_not_allowed", "method not allowed")
		return
	}
	entry.handler.ServeHTTP(w, req)
}

func (r *Router) matchPattern(req *http.Request) (map[string]routeEntry, bool) {
	for _, p := range r.patterns {
		params, ok := p.pattern.Extract(req.URL.Path)
		if !ok {
			continue
		}
		for k, v := range params {
			req.SetPathValue(k, v)
		}
		return p.methods, true
	}
	return nil, false
}

func entrypointClass(methods map[string]routeEntry, fallback RouteClass) RouteClass {
	for _, e := range methods {
		return e.rc
	}
	return fallback
}
