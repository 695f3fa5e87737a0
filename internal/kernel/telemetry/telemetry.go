// Package telemetry implements spec.md §4.10/§6's text and JSON export
// surfaces. Every counter is backed by a prometheus.Registry (the pack-wide
// convention for exposing numeric state, seen in 99souls-ariadne's metrics
// provider and the ocx backend's request counters) even though the wire
// format here is the kernel's own "METRIC key=value" line grammar rather
// than the Prometheus exposition format; the registry just gives each key a
// single place to live and be read back for export.
package telemetry

import (
	"encoding/json"
	"fmt"
	"io"
	"sort"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
)

// readGauge extracts the current value of a gauge via its Write hook, the
// same mechanism prometheus/client_golang/prometheus/testutil uses to read
// collectors back out in tests.
func readGauge(g prometheus.Gauge) float64 {
	var m dto.Metric
	if err := g.Write(&m); err != nil {
		return 0
	}
	return m.GetGauge().GetValue()
}

// Registry is the kernel's METRIC-line counter/gauge store.
type Registry struct {
	mu     sync.Mutex
	reg    *prometheus.Registry
	gauges map[string]prometheus.Gauge
}

// NewRegistry constructs an empty telemetry registry.
func NewRegistry() *Registry {
	return &Registry{reg: prometheus.NewRegistry(), gauges: make(map[string]prometheus.Gauge)}
}

func (r *Registry) gauge(key string) prometheus.Gauge {
	g, ok := r.gauges[key]
	if !ok {
		g = prometheus.NewGauge(prometheus.GaugeOpts{Name: "sis_" + key, Help: key})
		r.reg.MustRegister(g)
		r.gauges[key] = g
	}
	return g
}

// Set records an unsigned value for key, matching §4.10's "values are
// unsigned integers" rule.
func (r *Registry) Set(key string, value uint64) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.gauge(key).Set(float64(value))
}

// Add increments key by delta; delta may be negative to correct a prior Add.
func (r *Registry) Add(key string, delta int64) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.gauge(key).Add(float64(delta))
}

// Get returns the current value stored under key.
func (r *Registry) Get(key string) uint64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	g, ok := r.gauges[key]
	if !ok {
		return 0
	}
	return uint64(readGauge(g))
}

// WriteMetricLines writes one `METRIC <key>=<value>\n` line per registered
// key, in stable sorted order, to w.
func (r *Registry) WriteMetricLines(w io.Writer) error {
	r.mu.Lock()
	keys := make([]string, 0, len(r.gauges))
	values := make(map[string]uint64, len(r.gauges))
	for raw, g := range r.gauges {
		keys = append(keys, raw)
		values[raw] = uint64(readGauge(g))
	}
	r.mu.Unlock()

	sort.Strings(keys)
	for _, k := range keys {
		if _, err := fmt.Fprintf(w, "METRIC %s=%d\n", k, values[k]); err != nil {
			return err
		}
	}
	return nil
}

// OperatorExport mirrors graph_json's per-operator shape from spec.md §6.
type OperatorExport struct {
	ID      uint32 `json:"id"`
	Stage   uint8  `json:"stage"`
	Prio    uint8  `json:"prio"`
	In      *uint32 `json:"in,omitempty"`
	Out     *uint32 `json:"out,omitempty"`
	Runs    uint64 `json:"runs"`
	TotalNs uint64 `json:"total_ns"`
	P50Ns   uint64 `json:"p50_ns"`
	P95Ns   uint64 `json:"p95_ns"`
	P99Ns   uint64 `json:"p99_ns"`
}

// ChannelExport mirrors graph_json's per-channel shape from spec.md §6.
type ChannelExport struct {
	ID       uint32 `json:"id"`
	Cap      uint32 `json:"cap"`
	DepthMax uint64 `json:"depth_max"`
	Stalls   uint64 `json:"stalls"`
	Drops    uint64 `json:"drops"`
}

// GraphExport is the top-level graph_json document shape.
type GraphExport struct {
	Ops      []OperatorExport         `json:"ops"`
	Channels []ChannelExport          `json:"channels"`
	Stats    map[string]uint64        `json:"stats"`
}

// AuditEntry mirrors a single audit_json record.
type AuditEntry struct {
	TsNs   int64  `json:"ts"`
	Op     string `json:"op"`
	Status string `json:"status"`
	Detail string `json:"detail"`
}

// WriteGraphJSON marshals a graph export followed by the "done" terminator
// line required by spec.md §6.
func WriteGraphJSON(w io.Writer, g GraphExport) error {
	enc := json.NewEncoder(w)
	if err := enc.Encode(g); err != nil {
		return err
	}
	_, err := fmt.Fprintln(w, "done")
	return err
}

// WriteAuditJSON marshals an audit export followed by the "done" terminator
// line required by spec.md §6.
func WriteAuditJSON(w io.Writer, entries []AuditEntry) error {
	enc := json.NewEncoder(w)
	if err := enc.Encode(entries); err != nil {
		return err
	}
	_, err := fmt.Fprintln(w, "done")
	return err
}
