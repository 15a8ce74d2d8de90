package metrics

import (
	"strings"
	"testing"
)

func TestRegistry_Render_IncludesEveryCounter(t *testing.T) {
	r := NewRegistry()
	r.RequestsTotal.Inc()
	r.RequestsTotal.Add(4)
	r.ErrorsTotal.Inc()

	out := r.Render()
	if !strings.Contains(out, "zap_requests_total 5") {
		t.Fatalf("missing requests counter in:\n%s", out)
	}
	if !strings.Contains(out, "zap_errors_total 1") {
		t.Fatalf("missing errors counter in:\n%s", out)
	}
	if !strings.Contains(out, "zap_ipc_timeouts_total 0") {
		t.Fatalf("missing zeroed timeouts counter in:\n%s", out)
	}
	if !strings.Contains(out, "# TYPE zap_requests_total counter") {
		t.Fatalf("missing TYPE line in:\n%s", out)
	}
}
