package metrics

import (
	"io"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestNewIsolatedRegistries(t *testing.T) {
	// two instances must not collide on registration
	a, b := New(), New()
	a.SignalsTotal.Add(3)
	if got := testutil.ToFloat64(b.SignalsTotal); got != 0 {
		t.Fatalf("registries share state: %v", got)
	}
	if got := testutil.ToFloat64(a.SignalsTotal); got != 3 {
		t.Fatalf("signals = %v", got)
	}
}

func TestHandlerExposesPipelineMetrics(t *testing.T) {
	m := New()
	m.JobRuns.WithLabelValues("collect", "ok").Inc()
	m.BookVersion.Set(7)

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))
	body, _ := io.ReadAll(rec.Body)
	for _, want := range []string{
		`csgoquant_job_runs_total{job="collect",status="ok"} 1`,
		"csgoquant_price_book_version 7",
	} {
		if !strings.Contains(string(body), want) {
			t.Errorf("metrics output missing %q", want)
		}
	}
}
