package routing

import "testing"

func TestClassifier_SegmentBoundary(t *testing.T) {
	t.Parallel()

	a := Allowlist{
		Version: 1,
		Entrypoints: map[string]Entrypoint{
			"server": {Routes: []Route{{Path: "/health", Methods: []string{"GET"}, RouteClass: "ops"}}},
		},
	}
	c, err := NewClassifier(a, "server")
	if err != nil {
		t.Fatal(err)
	}

	if got := c.Classify("/api/v1"); got != RouteClassPublicAPI {
		t.Fatalf("got=%q", got)
	}
	if got := c.Classify("/api/v1x"); got == RouteClassPublicAPI {
		t.Fatalf("unexpected public api: %q", got)
	}
	if got := c.Classify("/warehouse/api"); got != RouteClassInternalAPI {
		t.Fatalf("got=%q", got)
	}
	if got := c.Classify("/warehouse/apix"); got == RouteClassInternalAPI {
		t.Fatalf("unexpected internal api: %q", got)
	}
	if got := c.Classify("warehouse/api"); got != RouteClassUI {
		t.Fatalf("got=%q", got)
	}
	if got := c.Classify("/"); got != RouteClassUI {
		t.Fatalf("got=%q", got)
	}
}

func TestNewClassifier_Errors(t *testing.T) {
	t.Parallel()

	_, err := NewClassifier(Allowlist{Version: 1, Entrypoints: map[string]Entrypoint{"server": {Routes: nil}}}, "server")
	if err == nil {
		t.Fatal("expected empty routes error")
	}

	_, err = NewClassifier(Allowlist{Version: 1, Entrypoints: map[string]Entrypoint{"server": {Routes: []Route{{}}}}}, "server")
	if err == nil {
		t.Fatal("expected invalid route error")
	}

	_, err = NewClassifier(Allowlist{Version: 1, Entrypoints: map[string]Entrypoint{"server": {Routes: []Route{
		{Path: "/a/{id", Methods: []string{"GET"}, RouteClass: "ops"},
	}}}}, "server")
	if err == nil {
		t.Fatal("expected bad pattern error")
	}

	_, err = NewClassifier(Allowlist{Version: 1, Entrypoints: map[string]Entrypoint{}}, "server")
	if err == nil {
		t.Fatal("expected missing entrypoint error")
	}
}

func TestClassifier_AllClasses(t *testing.T) {
	t.Parallel()

	a := Allowlist{
		Version: 1,
		Entrypoints: map[string]Entrypoint{
			"server": {Routes: []Route{
				{Path: "/health", Methods: []string{"GET"}, RouteClass: "ops"},
				{Path: "/metrics", Methods: []string{"GET"}, RouteClass: "ops"},
			}},
		},
	}
	c, err := NewClassifier(a, "server")
	if err != nil {
		t.Fatal(err)
	}

	cases := map[string]RouteClass{
		"/metrics":                   RouteClassOps,
		"/webhooks/foo/x":            RouteClassWebhook,
		"/_dev/x":                    RouteClassDevOnly,
		"/__test__/x":                RouteClassTestOnly,
		"/production/api/work-order": RouteClassInternalAPI,
		"/anything-else":             RouteClassUI,
	}
	for path, want := range cases {
		if got := c.Classify(path); got != want {
			t.Fatalf("path=%s got=%q want=%q", path, got, want)
		}
	}
}

func TestClassifier_PathPatternAndAllows(t *testing.T) {
	t.Parallel()

	a := Allowlist{
		Version: 1,
		Entrypoints: map[string]Entrypoint{
			"server": {Routes: []Route{
				{Path: "/health", Methods: []string{"GET"}, RouteClass: "ops"},
				{Path: "/warehouse/api/license-plates/{lp_id}/split", Methods: []string{"post"}, RouteClass: "internal_api"},
			}},
		},
	}
	c, err := NewClassifier(a, "server")
	if err != nil {
		t.Fatal(err)
	}

	if got := c.Classify("/warehouse/api/license-plates/abc/split"); got != RouteClassInternalAPI {
		t.Fatalf("got=%q", got)
	}
	if !c.Allows("POST", "/warehouse/api/license-plates/{lp_id}/split") {
		t.Fatal("expected pattern allowed")
	}
	if c.Allows("GET", "/warehouse/api/license-plates/{lp_id}/split") {
		t.Fatal("GET not declared")
	}
	if !c.Allows("get", "/health") {
		t.Fatal("expected exact allowed")
	}
	if c.Allows("GET", "/nope") {
		t.Fatal("unexpected allow")
	}
}
