package metrics

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/monopilot/monopilot/pkg/httperr"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestOutcome(t *testing.T) {
	cases := []struct {
		err  error
		want string
	}{
		{nil, "ok"},
		{httperr.NewConflict(httperr.CodeLPConflict, "gone"), "lp_conflict"},
		{httperr.NewValidation([]string{"x"}), "validation_error"},
		{errors.New("db down"), "error"},
	}
	for _, tc := range cases {
		if got := Outcome(tc.err); got != tc.want {
			t.Fatalf("Outcome(%v)=%q want %q", tc.err, got, tc.want)
		}
	}
}

func TestCounters(t *testing.T) {
	m := New()
	m.RecordOutcome("split", "ok")
	m.RecordOutcome("split", "ok")
	m.RecordOutcome("split", "lp_conflict")
	if got := testutil.ToFloat64(m.operations.WithLabelValues("split", "ok")); got != 2 {
		t.Fatalf("split ok=%v", got)
	}

	observe := m.CacheObserver("inventory_summary")
	observe(true)
	observe(false)
	observe(false)
	if got := testutil.ToFloat64(m.cacheLookups.WithLabelValues("inventory_summary", "miss")); got != 2 {
		t.Fatalf("miss=%v", got)
	}

	m.ObserveHTTP("internal_api", http.MethodGet, http.StatusOK, 15*time.Millisecond)
	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	if rec.Code != http.StatusOK || !strings.Contains(rec.Body.String(), "monopilot_http_request_duration_seconds") {
		t.Fatalf("status=%d body=%s", rec.Code, rec.Body.String())
	}
}

func TestNilMetricsIsNoop(t *testing.T) {
	var m *Metrics
	m.RecordOutcome("split", "ok")
	m.ObserveHTTP("internal_api", http.MethodGet, http.StatusOK, time.Millisecond)
	m.CacheObserver("x")(true)
	if m.Registry() != nil {
		t.Fatal("nil registry expected")
	}
	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	if rec.Code != http.StatusNotFound {
		t.Fatalf("status=%d", rec.Code)
	}
}
