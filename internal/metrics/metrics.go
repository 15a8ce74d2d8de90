// Package metrics exposes a handful of process counters in Prometheus
// text exposition format at the optional metrics_path (spec §6). No
// Prometheus client library appears anywhere in the retrieval pack, so
// this is a deliberately small hand-rolled counter set rather than a
// wrapped third-party registry (see DESIGN.md for the full justification).
package metrics

import (
	"fmt"
	"net/http"
	"strings"
	"sync/atomic"
)

// Counter is a monotonically increasing named metric.
type Counter struct {
	name string
	help string
	v    atomic.Uint64
}

// Inc increments the counter by one.
func (c *Counter) Inc() { c.v.Add(1) }

// Add increments the counter by delta.
func (c *Counter) Add(delta uint64) { c.v.Add(delta) }

// Registry collects counters and renders them as Prometheus text format.
type Registry struct {
	RequestsTotal    *Counter
	ErrorsTotal      *Counter
	TimeoutsTotal    *Counter
	IpcRestartsTotal *Counter
}

// NewRegistry returns a Registry with the fixed counter set this process
// reports; spec §6 does not enumerate metric names, so these track the
// failure modes §7/§8 actually name (errors, timeouts, IPC restarts).
func NewRegistry() *Registry {
	return &Registry{
		RequestsTotal:    &Counter{name: "zap_requests_total", help: "Total HTTP requests handled."},
		ErrorsTotal:      &Counter{name: "zap_errors_total", help: "Total requests whose handler chain returned an error."},
		TimeoutsTotal:    &Counter{name: "zap_ipc_timeouts_total", help: "Total invocations that timed out waiting on the script runtime."},
		IpcRestartsTotal: &Counter{name: "zap_ipc_restarts_total", help: "Total times the IPC connection was reestablished after closing."},
	}
}

func (r *Registry) counters() []*Counter {
	return []*Counter{r.RequestsTotal, r.ErrorsTotal, r.TimeoutsTotal, r.IpcRestartsTotal}
}

// Render writes every counter in Prometheus text exposition format.
func (r *Registry) Render() string {
	var b strings.Builder
	for _, c := range r.counters() {
		fmt.Fprintf(&b, "# HELP %s %s\n", c.name, c.help)
		fmt.Fprintf(&b, "# TYPE %s counter\n", c.name)
		fmt.Fprintf(&b, "%s %d\n", c.name, c.v.Load())
	}
	return b.String()
}

// Handler serves Render's output at the configured metrics path.
func (r *Registry) Handler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "text/plain; version=0.0.4; charset=utf-8")
		_, _ = w.Write([]byte(r.Render()))
	})
}
