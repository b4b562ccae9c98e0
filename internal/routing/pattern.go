package routing

import "strings"

type PathPattern struct {
	raw      string
	segments []string
}

func parsePathPattern(raw string) (PathPattern, bool) {
	if !strings.Contains(raw, "{") {
		return PathPattern{}, false
	}
	if raw == "" || raw[0] != '/' {
		return PathPattern{}, false
	}

	parts := splitPathSegments(raw)
	seen := make(map[string]bool, len(parts))
	for _, s := range parts {
		if s == "" {
			return PathPattern{}, false
		}
		if strings.Contains(s, "{") || strings.Contains(s, "}") {
			if !isParamSegment(s) {
				return PathPattern{}, false
			}
			name := paramName(s)
			if seen[name] {
				return PathPattern{}, false
			}
			seen[name] = true
		}
	}
	return PathPattern{raw: raw, segments: parts}, true
}

func (p PathPattern) Match(path string) bool {
	_, ok := p.Extract(path)
	return ok
}

// Extract matches path against the pattern and returns the {param} values.
func (p PathPattern) Extract(path string) (map[string]string, bool) {
	if p.raw == "" {
		return nil, false
	}
	in := splitPathSegments(path)
	if len(in) != len(p.segments) {
		return nil, false
	}
	var params map[string]string
	for i := range p.segments {
		want := p.segments[i]
		got := in[i]
		if got == "" {
			return nil, false
		}
		if isParamSegment(want) {
			if params == nil {
				params = make(map[string]string, 2)
			}
			params[paramName(want)] = got
			continue
		}
		if got != want {
			return nil, false
		}
	}
	return params, true
}

func (p PathPattern) String() string { return p.raw }

func splitPathSegments(path string) []string {
	path = strings.TrimSpace(path)
	path = strings.TrimPrefix(path, "/")
	if path == "" {
		return nil
	}
	return strings.Split(path, "/")
}

func isParamSegment(s string) bool {
	return strings.HasPrefix(s, "{") && strings.HasSuffix(s, "}") && len(s) > 2
}

func paramName(s string) string {
	return s[1 : len(s)-1]
}
