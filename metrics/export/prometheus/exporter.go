// Package prometheus renders engine metrics in Prometheus text exposition
// format. The format is written directly; no client library is required.
package prometheus

import (
	"net/http"
	"strconv"
	"strings"

	"github.com/authforge/identity/internal/metrics"
	"github.com/authforge/identity/metrics/export/internaldefs"
)

// MetricsSource is the read side an exporter needs.
type MetricsSource interface {
	MetricsSnapshot() metrics.Snapshot
	AuditDropped() uint64
}

// Exporter renders metrics from a [MetricsSource].
type Exporter struct {
	source MetricsSource
}

// NewExporter creates a Prometheus exporter reading from the given source,
// typically an Engine.
func NewExporter(source MetricsSource) *Exporter {
	return &Exporter{source: source}
}

// Handler returns an http.Handler serving the current metrics.
func (e *Exporter) Handler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "text/plain; version=0.0.4; charset=utf-8")
		_, _ = w.Write([]byte(e.Render()))
	})
}

// Render writes the current metrics in text exposition format.
func (e *Exporter) Render() string {
	if e == nil || e.source == nil {
		return ""
	}

	snapshot := e.source.MetricsSnapshot()
	dropped := e.source.AuditDropped()

	var b strings.Builder
	b.Grow(8192)

	for _, def := range internaldefs.CounterDefs {
		writeCounter(&b, def.Name, def.Help, snapshot.Counters[def.ID])
	}

	if snapshot.ValidateLatencyCount > 0 {
		writeHistogram(&b, snapshot)
	}

	writeCounter(&b, "identity_audit_dropped_total", "Audit events dropped under backpressure.", dropped)

	return b.String()
}

func writeCounter(b *strings.Builder, name, help string, value uint64) {
	b.WriteString("# HELP ")
	b.WriteString(name)
	b.WriteByte(' ')
	b.WriteString(help)
	b.WriteByte('\n')
	b.WriteString("# TYPE ")
	b.WriteString(name)
	b.WriteString(" counter\n")
	b.WriteString(name)
	b.WriteByte(' ')
	b.WriteString(strconv.FormatUint(value, 10))
	b.WriteByte('\n')
}

func writeHistogram(b *strings.Builder, snap metrics.Snapshot) {
	name := internaldefs.ValidateLatencyName

	b.WriteString("# HELP ")
	b.WriteString(name)
	b.WriteByte(' ')
	b.WriteString(internaldefs.ValidateLatencyHelp)
	b.WriteByte('\n')
	b.WriteString("# TYPE ")
	b.WriteString(name)
	b.WriteString(" histogram\n")

	var cumulative uint64
	for i, bound := range metrics.ValidateLatencyBuckets {
		cumulative += snap.ValidateLatency[i]
		b.WriteString(name)
		b.WriteString(`_bucket{le="`)
		if bound == ^uint64(0) {
			b.WriteString("+Inf")
		} else {
			b.WriteString(strconv.FormatUint(bound, 10))
		}
		b.WriteString(`"} `)
		b.WriteString(strconv.FormatUint(cumulative, 10))
		b.WriteByte('\n')
	}

	b.WriteString(name)
	b.WriteString("_count ")
	b.WriteString(strconv.FormatUint(snap.ValidateLatencyCount, 10))
	b.WriteByte('\n')
}
