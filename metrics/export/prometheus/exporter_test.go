package prometheus

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/authforge/identity/internal/metrics"
)

type fakeSource struct {
	snap    metrics.Snapshot
	dropped uint64
}

func (f *fakeSource) MetricsSnapshot() metrics.Snapshot { return f.snap }
func (f *fakeSource) AuditDropped() uint64              { return f.dropped }

func TestRenderCounters(t *testing.T) {
	source := &fakeSource{
		snap: metrics.Snapshot{
			Counters: map[metrics.MetricID]uint64{
				metrics.MetricLoginSuccess:     12,
				metrics.MetricLockoutTriggered: 3,
			},
		},
		dropped: 7,
	}
	out := NewExporter(source).Render()

	for _, want := range []string{
		"# HELP identity_login_success_total Successful logins.\n",
		"# TYPE identity_login_success_total counter\n",
		"identity_login_success_total 12\n",
		"identity_lockout_triggered_total 3\n",
		"identity_audit_dropped_total 7\n",
	} {
		if !strings.Contains(out, want) {
			t.Errorf("output missing %q", want)
		}
	}

	// Counters with no recorded value still appear, at zero.
	if !strings.Contains(out, "identity_refresh_reuse_detected_total 0\n") {
		t.Error("zero-valued counter not rendered")
	}
	// No histogram section without observations.
	if strings.Contains(out, "identity_validate_latency_us") {
		t.Error("latency histogram rendered without observations")
	}
}

func TestRenderHistogram(t *testing.T) {
	source := &fakeSource{
		snap: metrics.Snapshot{
			Counters:             map[metrics.MetricID]uint64{},
			ValidateLatency:      [8]uint64{5, 2, 0, 1, 0, 0, 0, 1},
			ValidateLatencyCount: 9,
		},
	}
	out := NewExporter(source).Render()

	// Bucket values are cumulative in exposition format.
	for _, want := range []string{
		"# TYPE identity_validate_latency_us histogram\n",
		`identity_validate_latency_us_bucket{le="100"} 5` + "\n",
		`identity_validate_latency_us_bucket{le="250"} 7` + "\n",
		`identity_validate_latency_us_bucket{le="500"} 7` + "\n",
		`identity_validate_latency_us_bucket{le="1000"} 8` + "\n",
		`identity_validate_latency_us_bucket{le="+Inf"} 9` + "\n",
		"identity_validate_latency_us_count 9\n",
	} {
		if !strings.Contains(out, want) {
			t.Errorf("output missing %q", want)
		}
	}
}

func TestRenderNilSafe(t *testing.T) {
	var e *Exporter
	if got := e.Render(); got != "" {
		t.Fatalf("nil exporter rendered %q", got)
	}
	if got := NewExporter(nil).Render(); got != "" {
		t.Fatalf("nil source rendered %q", got)
	}
}

func TestHandlerServesTextFormat(t *testing.T) {
	source := &fakeSource{snap: metrics.Snapshot{Counters: map[metrics.MetricID]uint64{
		metrics.MetricRegisterSuccess: 1,
	}}}

	rec := httptest.NewRecorder()
	NewExporter(source).Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))

	if ct := rec.Header().Get("Content-Type"); !strings.HasPrefix(ct, "text/plain; version=0.0.4") {
		t.Fatalf("content type = %q", ct)
	}
	if !strings.Contains(rec.Body.String(), "identity_register_success_total 1\n") {
		t.Fatalf("body = %q", rec.Body.String())
	}
}
